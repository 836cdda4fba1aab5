package device

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

var nvidiaNode = regexp.MustCompile(`^nvidia[0-9]+$`)

// DevfsProber counts NVIDIA device nodes and honours CUDA_VISIBLE_DEVICES.
type DevfsProber struct {
	Dir    string
	Lookup func(key string) (string, bool)
}

// NewDevfsProber probes /dev with the process environment.
func NewDevfsProber() *DevfsProber {
	return &DevfsProber{Dir: "/dev", Lookup: os.LookupEnv}
}

func (p *DevfsProber) Name() string { return "devfs" }

func (p *DevfsProber) Count() (int, error) {
	visible, limited := visibleDevices(p.Lookup)
	if limited && visible == 0 {
		return 0, nil
	}

	entries, err := os.ReadDir(p.Dir)
	if err != nil {
		return 0, fmt.Errorf("read dir %s: %w", p.Dir, err)
	}
	n := 0
	for _, e := range entries {
		if nvidiaNode.MatchString(e.Name()) {
			n++
		}
	}
	return capVisible(n, visible, limited), nil
}

// visibleDevices reads CUDA_VISIBLE_DEVICES. limited is false when the
// variable is unset; an empty value or "-1" hides every device.
func visibleDevices(lookup func(string) (string, bool)) (n int, limited bool) {
	if lookup == nil {
		return 0, false
	}
	v, ok := lookup("CUDA_VISIBLE_DEVICES")
	if !ok {
		return 0, false
	}
	v = strings.TrimSpace(v)
	if v == "" || v == "-1" {
		return 0, true
	}
	return len(strings.Split(v, ",")), true
}

func capVisible(found, visible int, limited bool) int {
	if limited && visible < found {
		return visible
	}
	return found
}
