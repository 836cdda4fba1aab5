package predict

import (
	"fmt"
	"path/filepath"
	"strings"
)

// OutputPath maps a mask path under indir to its prediction path under
// outdir. The mask's relative path keeps its directories and loses its
// extension in favour of outExt:
//
//	indir=/a/b/ outdir=/out mask=/a/b/x/y/mask001.png ext=.png -> /out/x/y/mask001.png
//
// Both paths are compared cleaned, so ./in/ and in/a/x_mask.png match.
func OutputPath(indir, outdir, maskPath, outExt string) (string, error) {
	rel, err := filepath.Rel(filepath.Clean(indir), filepath.Clean(maskPath))
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("mask %s is not under input directory %s", maskPath, indir)
	}
	rel = strings.TrimSuffix(rel, filepath.Ext(rel))
	return filepath.Join(outdir, rel+outExt), nil
}
