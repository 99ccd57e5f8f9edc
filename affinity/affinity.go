// File: affinity/affinity.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral API for CPU affinity. engine.Init calls this once,
// when EngineOptions.PinCPU >= 0, to pin the OS thread Init is running
// on to a single core; it does not lock the calling goroutine to that
// thread. Platform-
// specific implementations are located in separate files
// (affinity_linux.go, affinity_windows.go, etc.) guarded by build tags.

package affinity

// SetAffinity pins current OS thread to a given logical CPU/core on supported platforms.
// On unsupported platforms returns an error.
func SetAffinity(cpuID int) error {
	return setAffinityPlatform(cpuID)
}
