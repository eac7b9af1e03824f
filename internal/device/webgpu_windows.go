package device

import "github.com/born-ml/born/backend/webgpu"

// WebGPUAvailable reports whether a WebGPU adapter can be created.
func WebGPUAvailable() bool {
	return webgpu.IsAvailable()
}
