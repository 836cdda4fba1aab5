// Package dataset enumerates image/mask pairs under an input directory and
// turns them into padded CHW tensors.
//
// Masks are files whose name contains "mask" and ends in .png. The image for
// a mask is found by cutting the name at its last "_mask" and appending the
// image suffix: photos/cat_mask001.png pairs with photos/cat.png.
package dataset

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/SyedDaiam9101/inpaint-predict/internal/tensor"
)

const maskExt = ".png"

// Options mirrors the dataset.* configuration block.
type Options struct {
	Kind           string
	ImgSuffix      string
	PadOutToModulo int
}

// Sample is one decoded dataset entry.
type Sample struct {
	Image       *tensor.Tensor // [3,H,W], RGB in [0,1]
	Mask        *tensor.Tensor // [1,H,W], in [0,1]
	MaskPath    string
	UnpadToSize *[2]int // set when the sample was padded
}

// Dataset is the default validation dataset.
type Dataset struct {
	opts  Options
	masks []string
	imgs  []string
}

// Open discovers every mask under indir in lexicographic order.
func Open(indir string, opts Options) (*Dataset, error) {
	if opts.Kind != "" && opts.Kind != "default" {
		return nil, fmt.Errorf("unsupported dataset kind %q", opts.Kind)
	}
	if opts.ImgSuffix == "" {
		opts.ImgSuffix = ".png"
	}

	masks, err := discoverMasks(indir)
	if err != nil {
		return nil, fmt.Errorf("discover masks in %s: %w", indir, err)
	}
	imgs := make([]string, len(masks))
	for i, m := range masks {
		imgs[i] = ImageFor(m, opts.ImgSuffix)
	}
	return &Dataset{opts: opts, masks: masks, imgs: imgs}, nil
}

// ImageFor derives the image path that belongs to maskPath.
func ImageFor(maskPath, imgSuffix string) string {
	base := maskPath
	if i := strings.LastIndex(maskPath, "_mask"); i >= 0 {
		base = maskPath[:i]
	}
	return base + imgSuffix
}

func discoverMasks(indir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(indir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		if !strings.Contains(name, "mask") || !strings.HasSuffix(name, maskExt) {
			return nil
		}
		rel, err := filepath.Rel(indir, path)
		if err != nil {
			return err
		}
		files = append(files, underDir(indir, rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// underDir joins rel to dir without cleaning dir, so mask paths keep the
// input directory exactly as given (./in/a/x_mask.png, not in/a/x_mask.png).
func underDir(dir, rel string) string {
	sep := string(filepath.Separator)
	return strings.TrimSuffix(dir, sep) + sep + rel
}

// Len returns the number of samples.
func (d *Dataset) Len() int { return len(d.masks) }

// MaskFilename returns the mask path of sample i.
func (d *Dataset) MaskFilename(i int) string { return d.masks[i] }

// Get decodes sample i, padding it when PadOutToModulo > 1.
func (d *Dataset) Get(i int) (*Sample, error) {
	if i < 0 || i >= len(d.masks) {
		return nil, fmt.Errorf("sample index %d out of range [0,%d)", i, len(d.masks))
	}

	img, err := LoadImage(d.imgs[i])
	if err != nil {
		return nil, err
	}
	mask, err := LoadMask(d.masks[i])
	if err != nil {
		return nil, err
	}
	if img.Dim(1) != mask.Dim(1) || img.Dim(2) != mask.Dim(2) {
		return nil, fmt.Errorf("image %s is %dx%d but mask %s is %dx%d",
			d.imgs[i], img.Dim(1), img.Dim(2), d.masks[i], mask.Dim(1), mask.Dim(2))
	}

	s := &Sample{Image: img, Mask: mask, MaskPath: d.masks[i]}
	if d.opts.PadOutToModulo > 1 {
		padded, orig, err := tensor.PadToModulo(img, d.opts.PadOutToModulo)
		if err != nil {
			return nil, err
		}
		paddedMask, _, err := tensor.PadToModulo(mask, d.opts.PadOutToModulo)
		if err != nil {
			return nil, err
		}
		s.Image, s.Mask, s.UnpadToSize = padded, paddedMask, &orig
	}
	return s, nil
}
