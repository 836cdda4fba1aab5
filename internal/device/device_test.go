package device

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

type fakeProber struct {
	count int
	err   error
	calls int
}

func (f *fakeProber) Name() string { return "fake" }

func (f *fakeProber) Count() (int, error) {
	f.calls++
	return f.count, f.err
}

func TestResolve_FallsBackToCPU(t *testing.T) {
	var buf bytes.Buffer
	r := NewResolver(&fakeProber{count: 0}, zerolog.New(&buf))

	d := r.Resolve(Accelerator)
	if d != CPUDevice {
		t.Fatalf("Expected cpu fallback, got %s", d)
	}

	logs := buf.String()
	if !strings.Contains(logs, "Found 0 GPU(s)") {
		t.Errorf("Expected GPU count log, got: %s", logs)
	}
	if !strings.Contains(logs, "falling back to cpu") {
		t.Errorf("Expected fallback log, got: %s", logs)
	}
}

func TestResolve_UsesAccelerator(t *testing.T) {
	r := NewResolver(&fakeProber{count: 2}, zerolog.Nop())

	d := r.Resolve(Accelerator)
	if !d.IsAccelerator() || d.Index != 0 {
		t.Fatalf("Expected cuda:0, got %s", d)
	}
	if d.String() != "cuda:0" {
		t.Errorf("String() = %q, expected cuda:0", d.String())
	}
}

func TestResolve_ProbeErrorIsNotFatal(t *testing.T) {
	r := NewResolver(&fakeProber{count: 4, err: errors.New("no driver")}, zerolog.Nop())
	if d := r.Resolve(Accelerator); d != CPUDevice {
		t.Fatalf("Expected cpu on probe error, got %s", d)
	}
}

func TestResolve_CPURequestSkipsProbe(t *testing.T) {
	p := &fakeProber{count: 1}
	r := NewResolver(p, zerolog.Nop())
	if d := r.Resolve(CPU); d != CPUDevice {
		t.Fatalf("Expected cpu, got %s", d)
	}
	if p.calls != 0 {
		t.Errorf("Expected no probe calls for cpu request, got %d", p.calls)
	}
}

func TestParseKind(t *testing.T) {
	for in, want := range map[string]Kind{"cpu": CPU, "CUDA": Accelerator, "gpu": Accelerator} {
		got, err := ParseKind(in)
		if err != nil || got != want {
			t.Errorf("ParseKind(%q) = %v, %v; expected %v", in, got, err, want)
		}
	}
	if _, err := ParseKind("tpu"); err == nil {
		t.Error("Expected error for tpu")
	}
}

func TestRefinerDeviceIDs(t *testing.T) {
	if ids := RefinerDeviceIDs(Device{Kind: Accelerator}, true); len(ids) != 1 || ids[0] != 0 {
		t.Errorf("Expected [0] on accelerator, got %v", ids)
	}
	if ids := RefinerDeviceIDs(CPUDevice, true); ids != nil {
		t.Errorf("Expected nil on cpu, got %v", ids)
	}
	if ids := RefinerDeviceIDs(Device{Kind: Accelerator}, false); ids != nil {
		t.Errorf("Expected nil when unset, got %v", ids)
	}
}

func TestDevfsProber(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"nvidia0", "nvidia1", "nvidiactl", "nvidia-uvm", "null"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	env := map[string]string{}
	p := &DevfsProber{Dir: dir, Lookup: func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}}

	n, err := p.Count()
	if err != nil || n != 2 {
		t.Fatalf("Count() = %d, %v; expected 2", n, err)
	}

	env["CUDA_VISIBLE_DEVICES"] = "1"
	if n, _ := p.Count(); n != 1 {
		t.Errorf("Expected 1 visible device, got %d", n)
	}

	env["CUDA_VISIBLE_DEVICES"] = ""
	if n, _ := p.Count(); n != 0 {
		t.Errorf("Expected 0 visible devices, got %d", n)
	}
}

func TestVisibleDevices(t *testing.T) {
	for _, tc := range []struct {
		name    string
		env     map[string]string
		found   int
		want    int
		limited bool
	}{
		{"unset", map[string]string{}, 3, 3, false},
		{"subset", map[string]string{"CUDA_VISIBLE_DEVICES": "0, 2"}, 3, 2, true},
		{"more than present", map[string]string{"CUDA_VISIBLE_DEVICES": "0,1,2,3"}, 2, 2, true},
		{"hidden", map[string]string{"CUDA_VISIBLE_DEVICES": "-1"}, 3, 0, true},
		{"empty", map[string]string{"CUDA_VISIBLE_DEVICES": " "}, 3, 0, true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			visible, limited := visibleDevices(func(k string) (string, bool) {
				v, ok := tc.env[k]
				return v, ok
			})
			if limited != tc.limited {
				t.Errorf("limited = %v, expected %v", limited, tc.limited)
			}
			if got := capVisible(tc.found, visible, limited); got != tc.want {
				t.Errorf("capVisible(%d) = %d, expected %d", tc.found, got, tc.want)
			}
		})
	}

	if _, limited := visibleDevices(nil); limited {
		t.Error("Expected nil lookup to leave the count unlimited")
	}
}
