// File: affinity/affinity.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral API for CPU affinity. Platform-specific implementations are located
// in separate files (affinity_linux.go, affinity_stub.go) guarded by build tags.

package affinity

import "runtime"

// Pin locks the calling goroutine to its OS thread and binds that thread to
// cpuID. release restores the previous CPU mask and unlocks the thread.
func Pin(cpuID int) (release func(), err error) {
	runtime.LockOSThread()
	restore, err := setAffinityPlatform(cpuID)
	if err != nil {
		runtime.UnlockOSThread()
		return func() {}, err
	}
	return func() {
		restore()
		runtime.UnlockOSThread()
	}, nil
}

// CPUs reports the number of logical CPUs usable by the process.
func CPUs() int {
	return runtime.NumCPU()
}
