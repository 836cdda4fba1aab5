//go:build !nvml

package device

// DefaultProber returns the device-node prober (default build).
// For NVML-backed detection, build with: go build -tags nvml
func DefaultProber() Prober {
	return NewDevfsProber()
}
