package refine

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/SyedDaiam9101/inpaint-predict/internal/device"
	"github.com/SyedDaiam9101/inpaint-predict/internal/inference"
	"github.com/SyedDaiam9101/inpaint-predict/internal/tensor"
)

// paddedBatch builds a 4x4 batch whose original size was 3x2. The top-left
// pixel is masked and (2,1) carries a faint mask value that still counts as a
// hole once binarized.
func paddedBatch(t *testing.T) *inference.Batch {
	t.Helper()
	img := tensor.New(3, 4, 4)
	for i := range img.Data() {
		img.Data()[i] = 0.1
	}
	mask := tensor.New(1, 4, 4)
	mask.Set(0.8, 0, 0, 0)
	mask.Set(0.01, 0, 2, 1)
	b, err := inference.Collate(img, mask, &[2]int{3, 2})
	if err != nil {
		t.Fatalf("Collate failed: %v", err)
	}
	return b
}

func TestIterative_CropsAndComposites(t *testing.T) {
	model := inference.NewMock()
	r := &Iterative{Log: zerolog.Nop()}

	res, err := r.Refine(context.Background(), paddedBatch(t), model, Options{NIters: 3, Blend: 0.5, OutKey: "inpainted"})
	if err != nil {
		t.Fatalf("Refine failed: %v", err)
	}
	if len(res) != 1 {
		t.Fatalf("Expected 1 result, got %d", len(res))
	}
	out := res[0]
	if got := out.Shape(); got[0] != 3 || got[1] != 3 || got[2] != 2 {
		t.Fatalf("result shape = %v, expected [3 3 2]", got)
	}
	if model.CallCount != 3 {
		t.Errorf("Expected 3 forward passes, got %d", model.CallCount)
	}

	// Any positive mask value is a hole; zero is known.
	for _, px := range [][2]int{{0, 0}, {2, 1}} {
		if v := out.At(0, px[0], px[1]); v != 0.5 {
			t.Errorf("hole pixel %v = %f, expected 0.5", px, v)
		}
	}
	if v := out.At(0, 1, 1); v != 0.1 {
		t.Errorf("known pixel = %f, expected 0.1", v)
	}
	for _, b := range model.Batches {
		if b.Mask.At(0, 0, 0, 0) != 1 || b.Mask.At(0, 0, 2, 1) != 1 || b.Mask.At(0, 0, 1, 1) != 0 {
			t.Fatal("Expected the model to receive a binarized mask")
		}
	}
}

func TestIterative_PadsToModulo(t *testing.T) {
	model := inference.NewMock()
	r := &Iterative{Log: zerolog.Nop()}

	res, err := r.Refine(context.Background(), paddedBatch(t), model, Options{NIters: 2, Modulo: 8})
	if err != nil {
		t.Fatalf("Refine failed: %v", err)
	}
	for _, b := range model.Batches {
		if h, w := b.Size(); h != 8 || w != 8 {
			t.Errorf("model saw %dx%d, expected 8x8", h, w)
		}
		if b.Mask.Dim(2) != 8 || b.Mask.Dim(3) != 8 {
			t.Errorf("mask shape = %v, expected 8x8", b.Mask.Shape())
		}
	}
	if got := res[0].Shape(); got[1] != 3 || got[2] != 2 {
		t.Errorf("result shape = %v, expected [3 3 2]", got)
	}
	if v := res[0].At(0, 2, 1); v != 0.5 {
		t.Errorf("hole pixel = %f, expected 0.5", v)
	}
}

func TestIterative_UsesFirstDeviceID(t *testing.T) {
	for _, tc := range []struct {
		ids  []int
		want device.Device
	}{
		{nil, device.CPUDevice},
		{[]int{0, 1}, device.Device{Kind: device.Accelerator, Index: 0}},
	} {
		model := inference.NewMock()
		r := &Iterative{Log: zerolog.Nop()}
		b := paddedBatch(t)

		if _, err := r.Refine(context.Background(), b, model, Options{NIters: 1, DeviceIDs: tc.ids}); err != nil {
			t.Fatalf("Refine failed: %v", err)
		}
		if got := model.Batches[0].Device; got != tc.want {
			t.Errorf("DeviceIDs %v: model ran on %v, expected %v", tc.ids, got, tc.want)
		}
	}
}

func TestIterative_RequiresUnpadSize(t *testing.T) {
	b := paddedBatch(t)
	b.UnpadToSize = nil
	r := &Iterative{Log: zerolog.Nop()}

	_, err := r.Refine(context.Background(), b, inference.NewMock(), Options{NIters: 1})
	if !errors.Is(err, ErrMissingUnpadSize) {
		t.Fatalf("Expected ErrMissingUnpadSize, got %v", err)
	}
}

func TestIterative_Errors(t *testing.T) {
	r := &Iterative{Log: zerolog.Nop()}

	if _, err := r.Refine(context.Background(), paddedBatch(t), inference.NewMock(), Options{NIters: 0}); err == nil {
		t.Error("Expected error for zero iterations")
	}

	model := inference.NewMock()
	model.SetError("boom")
	if _, err := r.Refine(context.Background(), paddedBatch(t), model, Options{NIters: 2}); err == nil {
		t.Error("Expected forward error to propagate")
	}

	if _, err := r.Refine(context.Background(), paddedBatch(t), inference.NewMock(), Options{NIters: 1, OutKey: "nope"}); err == nil {
		t.Error("Expected error for unknown output key")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.Refine(ctx, paddedBatch(t), inference.NewMock(), Options{NIters: 1}); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}
