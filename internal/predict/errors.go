package predict

import (
	"errors"

	"github.com/SyedDaiam9101/inpaint-predict/internal/refine"
)

var (
	// ErrUnknownOutKey is returned when the model has no output named out_key.
	ErrUnknownOutKey = errors.New("unknown output key")

	// ErrMissingUnpadSize is returned when the refinement path gets a sample
	// without its original size.
	ErrMissingUnpadSize = refine.ErrMissingUnpadSize
)
