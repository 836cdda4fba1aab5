package predict

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/SyedDaiam9101/inpaint-predict/internal/config"
	"github.com/SyedDaiam9101/inpaint-predict/internal/dataset"
	"github.com/SyedDaiam9101/inpaint-predict/internal/device"
	"github.com/SyedDaiam9101/inpaint-predict/internal/inference"
	"github.com/SyedDaiam9101/inpaint-predict/internal/refine"
	"github.com/SyedDaiam9101/inpaint-predict/internal/tensor"
)

type zeroProber struct{}

func (zeroProber) Name() string        { return "zero" }
func (zeroProber) Count() (int, error) { return 0, nil }

type oneProber struct{}

func (oneProber) Name() string        { return "one" }
func (oneProber) Count() (int, error) { return 1, nil }

func writePNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode %s: %v", path, err)
	}
}

// writeSample writes a w×h red image and a mask with its left column set.
func writeSample(t *testing.T, dir, name string, w, h int) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	mask := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 255, A: 255})
		}
		mask.SetGray(0, y, color.Gray{Y: 200})
	}
	writePNG(t, filepath.Join(dir, name+".png"), img)
	writePNG(t, filepath.Join(dir, name+"_mask001.png"), mask)
}

type fixture struct {
	cfg    *config.Config
	logBuf *bytes.Buffer
	log    zerolog.Logger
}

func newFixture(t *testing.T, overrides ...string) *fixture {
	t.Helper()
	root := t.TempDir()
	indir := filepath.Join(root, "in")
	writeSample(t, filepath.Join(indir, "a"), "cat", 5, 3)
	writeSample(t, filepath.Join(indir, "b"), "dog", 4, 4)

	cfg, err := config.Load(config.Options{Overrides: append([]string{
		"model.path=" + filepath.Join(root, "ckpt"),
		"indir=" + indir,
		"outdir=" + filepath.Join(root, "out"),
		"use_mock_inference=true",
		"device=cuda",
	}, overrides...)})
	if err != nil {
		t.Fatalf("config.Load failed: %v", err)
	}

	var buf bytes.Buffer
	return &fixture{cfg: cfg, logBuf: &buf, log: zerolog.New(&buf)}
}

func (f *fixture) runner() *Runner {
	return &Runner{
		Config: f.cfg,
		Provisioner: &inference.Provisioner{
			Resolver: device.NewResolver(zeroProber{}, f.log),
			Loader:   inference.MockLoader{},
			Log:      f.log,
		},
		Log: f.log,
	}
}

func imageSize(t *testing.T, path string) (int, int) {
	t.Helper()
	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer file.Close()
	cfg, err := png.DecodeConfig(file)
	if err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
	return cfg.Width, cfg.Height
}

func TestOutputPath(t *testing.T) {
	got, err := OutputPath("/a/b/", "/out", "/a/b/x/y/mask001.png", ".png")
	if err != nil {
		t.Fatalf("OutputPath failed: %v", err)
	}
	if got != filepath.Join("/out", "x", "y", "mask001.png") {
		t.Errorf("OutputPath() = %q", got)
	}

	got, err = OutputPath("/a/b/", "/out", "/a/b/cat_mask.png", ".jpg")
	if err != nil || got != filepath.Join("/out", "cat_mask.jpg") {
		t.Errorf("OutputPath() = %q, %v", got, err)
	}

	for _, c := range []struct{ indir, mask string }{
		{"./in/", "in/a/cat_mask001.png"},
		{"in//", "in/a/cat_mask001.png"},
		{"x/../in/", "./in/a/cat_mask001.png"},
	} {
		got, err := OutputPath(c.indir, "/out", c.mask, ".png")
		if err != nil || got != filepath.Join("/out", "a", "cat_mask001.png") {
			t.Errorf("OutputPath(%q, %q) = %q, %v", c.indir, c.mask, got, err)
		}
	}

	for _, mask := range []string{"/c/mask.png", "/a/b/../mask.png", "/a/b/"} {
		if _, err := OutputPath("/a/b/", "/out", mask, ".png"); err == nil {
			t.Errorf("Expected error for %s outside indir", mask)
		}
	}
}

func TestRun_RelativeIndir(t *testing.T) {
	root := t.TempDir()
	writeSample(t, filepath.Join(root, "in", "a"), "cat", 5, 3)

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(root); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { os.Chdir(wd) })

	cfg, err := config.Load(config.Options{Overrides: []string{
		"indir=./in",
		"outdir=./out",
		"use_mock_inference=true",
		"device=cpu",
	}})
	if err != nil {
		t.Fatalf("config.Load failed: %v", err)
	}
	f := &fixture{cfg: cfg, logBuf: &bytes.Buffer{}}
	f.log = zerolog.New(f.logBuf)

	if err := f.runner().Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	w, h := imageSize(t, filepath.Join(root, "out", "a", "cat_mask001.png"))
	if w != 5 || h != 3 {
		t.Errorf("output is %dx%d, expected 5x3", w, h)
	}
}

func TestRun_TwoSamplesKeepOriginalSize(t *testing.T) {
	f := newFixture(t)

	if err := f.runner().Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	expected := map[string][2]int{
		filepath.Join(f.cfg.OutDir, "a", "cat_mask001.png"): {5, 3},
		filepath.Join(f.cfg.OutDir, "b", "dog_mask001.png"): {4, 4},
	}
	for path, size := range expected {
		w, h := imageSize(t, path)
		if w != size[0] || h != size[1] {
			t.Errorf("%s is %dx%d, expected %dx%d", path, w, h, size[0], size[1])
		}
	}

	if !strings.Contains(f.logBuf.String(), "falling back to cpu") {
		t.Error("Expected cpu fallback to be logged")
	}
}

func TestRun_WritesBGRCompositedPixels(t *testing.T) {
	f := newFixture(t)
	if err := f.runner().Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	file, err := os.Open(filepath.Join(f.cfg.OutDir, "a", "cat_mask001.png"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer file.Close()
	img, err := png.Decode(file)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	r, g, b, _ := img.At(1, 0).RGBA()
	if r>>8 != 255 || g>>8 != 0 || b>>8 != 0 {
		t.Errorf("known pixel = (%d,%d,%d), expected (255,0,0)", r>>8, g>>8, b>>8)
	}
	r, g, b, _ = img.At(0, 0).RGBA()
	if r>>8 != 128 || g>>8 != 128 || b>>8 != 128 {
		t.Errorf("hole pixel = (%d,%d,%d), expected mock fill", r>>8, g>>8, b>>8)
	}
}

func TestRun_NoPaddingKeepsRawOutputSize(t *testing.T) {
	f := newFixture(t, "dataset.pad_out_to_modulo=1")
	if err := f.runner().Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	w, h := imageSize(t, filepath.Join(f.cfg.OutDir, "a", "cat_mask001.png"))
	if w != 5 || h != 3 {
		t.Errorf("output is %dx%d, expected 5x3", w, h)
	}
}

func TestRun_UnknownOutKey(t *testing.T) {
	f := newFixture(t, "out_key=not_a_head")

	err := f.runner().Run(context.Background())
	if !errors.Is(err, ErrUnknownOutKey) {
		t.Fatalf("Expected ErrUnknownOutKey, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(f.cfg.OutDir, "a", "cat_mask001.png")); !os.IsNotExist(err) {
		t.Error("Expected no output for the failed sample")
	}
}

func TestRun_RefinePath(t *testing.T) {
	f := newFixture(t, "refine=true", "refiner.n_iters=2", "refiner.device_ids=[0,1]")
	if err := f.runner().Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	w, h := imageSize(t, filepath.Join(f.cfg.OutDir, "a", "cat_mask001.png"))
	if w != 5 || h != 3 {
		t.Errorf("refined output is %dx%d, expected 5x3", w, h)
	}
}

// recordingRefiner captures the options it is called with and delegates to
// refine.Iterative.
type recordingRefiner struct {
	opts []refine.Options
}

func (r *recordingRefiner) Refine(ctx context.Context, b *inference.Batch, m inference.Model, opts refine.Options) ([]*tensor.Tensor, error) {
	r.opts = append(r.opts, opts)
	return (&refine.Iterative{Log: zerolog.Nop()}).Refine(ctx, b, m, opts)
}

func TestRun_RefinerDeviceIDsFollowDevice(t *testing.T) {
	for _, tc := range []struct {
		name   string
		prober device.Prober
		want   []int
	}{
		{"accelerator", oneProber{}, []int{0}},
		{"cpu", zeroProber{}, nil},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, "refine=true", "refiner.device_ids=[0,1]")
			rec := &recordingRefiner{}
			r := f.runner()
			r.Provisioner.Resolver = device.NewResolver(tc.prober, f.log)
			r.Refiner = rec

			if err := r.Run(context.Background()); err != nil {
				t.Fatalf("Run failed: %v", err)
			}
			if len(rec.opts) != 2 {
				t.Fatalf("Expected 2 refinements, got %d", len(rec.opts))
			}
			for _, o := range rec.opts {
				if len(o.DeviceIDs) != len(tc.want) || (len(tc.want) > 0 && o.DeviceIDs[0] != tc.want[0]) {
					t.Errorf("refiner saw device ids %v, expected %v", o.DeviceIDs, tc.want)
				}
			}
		})
	}
}

func TestRun_RefineRequiresUnpadSize(t *testing.T) {
	f := newFixture(t, "refine=true", "dataset.pad_out_to_modulo=1")

	err := f.runner().Run(context.Background())
	if !errors.Is(err, ErrMissingUnpadSize) {
		t.Fatalf("Expected ErrMissingUnpadSize, got %v", err)
	}
}

func TestRun_PreloadedModel(t *testing.T) {
	f := newFixture(t, "device=cpu")
	model := inference.NewMock()
	r := f.runner()
	r.Source = inference.Preloaded{Model: model, Device: device.CPUDevice}

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if model.CallCount != 2 {
		t.Errorf("Expected 2 forward passes, got %d", model.CallCount)
	}
	for _, b := range model.Batches {
		if b.Mask.At(0, 0, 0, 0) != 1 {
			t.Error("Expected a binarized mask")
		}
	}
}

func TestExecute_ExitCodes(t *testing.T) {
	f := newFixture(t)
	if code := Execute(context.Background(), f.runner()); code != 0 {
		t.Errorf("successful run: exit code %d", code)
	}

	f = newFixture(t, "out_key=missing")
	if code := Execute(context.Background(), f.runner()); code != 1 {
		t.Errorf("failed run: exit code %d", code)
	}
	logs := f.logBuf.String()
	if !strings.Contains(logs, `"level":"fatal"`) || !strings.Contains(logs, `"boundary_stack":`) {
		t.Errorf("Expected critical log with boundary stack, got %s", logs)
	}
	if strings.Contains(logs, `"stack":`) {
		t.Errorf("Error run should not claim a panic stack, got %s", logs)
	}
}

func TestExecute_Interrupted(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if code := Execute(ctx, f.runner()); code != 0 {
		t.Errorf("interrupted run: exit code %d", code)
	}
	if !strings.Contains(f.logBuf.String(), "interrupted by user") {
		t.Errorf("Expected interruption warning, got %s", f.logBuf.String())
	}
}

type panickingDataset struct {
	mask string
}

func (d panickingDataset) Len() int                         { return 1 }
func (d panickingDataset) MaskFilename(int) string          { return d.mask }
func (d panickingDataset) Get(int) (*dataset.Sample, error) { panic("corrupt sample") }

func TestExecute_RecoversPanic(t *testing.T) {
	f := newFixture(t)
	r := f.runner()
	r.Open = func(indir string, _ dataset.Options) (Dataset, error) {
		return panickingDataset{mask: filepath.Join(indir, "x_mask.png")}, nil
	}

	if code := Execute(context.Background(), r); code != 1 {
		t.Errorf("panicking run: exit code %d", code)
	}
	logs := f.logBuf.String()
	if !strings.Contains(logs, "corrupt sample") {
		t.Errorf("Expected panic value in log, got %s", logs)
	}
	// The recovered stack still includes the frame that panicked.
	if !strings.Contains(logs, `"stack":`) || !strings.Contains(logs, "panickingDataset.Get") {
		t.Errorf("Expected panic stack naming the panicking frame, got %s", logs)
	}
}
