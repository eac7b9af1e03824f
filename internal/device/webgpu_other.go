//go:build !windows

package device

// WebGPUAvailable reports whether a WebGPU adapter can be created. Born's
// WebGPU backend is only built for Windows.
func WebGPUAvailable() bool {
	return false
}
