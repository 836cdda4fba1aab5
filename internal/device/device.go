// Package device resolves the compute target for a prediction run.
package device

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// Kind is the class of compute target.
type Kind int

const (
	CPU Kind = iota
	Accelerator
)

func (k Kind) String() string {
	if k == Accelerator {
		return "cuda"
	}
	return "cpu"
}

// ParseKind accepts "cpu", "cuda" or "gpu".
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cpu":
		return CPU, nil
	case "cuda", "gpu":
		return Accelerator, nil
	}
	return CPU, fmt.Errorf("unknown device kind %q", s)
}

// Device identifies the compute target. The zero value is the CPU.
type Device struct {
	Kind  Kind
	Index int
}

// CPUDevice is the general-purpose processor.
var CPUDevice = Device{Kind: CPU}

func (d Device) IsAccelerator() bool { return d.Kind == Accelerator }

func (d Device) String() string {
	if d.IsAccelerator() {
		return fmt.Sprintf("cuda:%d", d.Index)
	}
	return "cpu"
}

// Prober reports how many accelerators are physically present.
type Prober interface {
	Count() (int, error)
	Name() string
}

// Resolver picks a Device, falling back to the CPU when no accelerator exists.
type Resolver struct {
	prober Prober
	log    zerolog.Logger
}

// NewResolver creates a Resolver. A nil prober behaves as if no accelerator
// is installed.
func NewResolver(p Prober, log zerolog.Logger) *Resolver {
	return &Resolver{prober: p, log: log}
}

// Resolve returns the device to run on. It never fails: a missing
// accelerator or a probe error is logged and the CPU is returned.
func (r *Resolver) Resolve(want Kind) Device {
	if want != Accelerator {
		return CPUDevice
	}

	count, probe := 0, "none"
	if r.prober != nil {
		probe = r.prober.Name()
		n, err := r.prober.Count()
		if err != nil {
			r.log.Warn().Err(err).Str("probe", probe).Msg("accelerator probe failed")
		} else {
			count = n
		}
	}
	r.log.Info().Int("gpus", count).Str("probe", probe).Msgf("Found %d GPU(s)", count)

	if count == 0 {
		r.log.Warn().Str("requested", want.String()).Msg("no accelerator available, falling back to cpu")
		return CPUDevice
	}
	return Device{Kind: Accelerator, Index: 0}
}

// RefinerDeviceIDs rewrites configured refiner device ids to match the
// resolved device: [0] on an accelerator, nil on the CPU. Unset ids stay unset.
func RefinerDeviceIDs(d Device, configured bool) []int {
	if !configured || !d.IsAccelerator() {
		return nil
	}
	return []int{0}
}
