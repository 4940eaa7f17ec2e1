//go:build linux
// +build linux

// File: affinity/affinity_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux-specific implementation for setting thread CPU affinity.

package affinity

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-echo/api"
)

// setAffinityPlatform binds the calling thread to one CPU and returns a
// function restoring the mask it had before.
func setAffinityPlatform(cpuID int) (func(), error) {
	if cpuID < 0 {
		return nil, api.NewError(api.ErrCodeInvalidArgument, "affinity: cpu out of range").WithContext("cpu", cpuID)
	}
	// pid 0 targets the calling thread
	var prev unix.CPUSet
	if err := unix.SchedGetaffinity(0, &prev); err != nil {
		return nil, errors.Wrap(err, "affinity: sched_getaffinity")
	}
	// ids are sparse under restricted cpusets, so check the mask not NumCPU
	if !prev.IsSet(cpuID) {
		return nil, api.NewError(api.ErrCodeInvalidArgument, "affinity: cpu not in allowed mask").WithContext("cpu", cpuID)
	}
	var set unix.CPUSet
	set.Zero()
	set.Set(cpuID)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return nil, errors.Wrapf(err, "affinity: sched_setaffinity cpu %d", cpuID)
	}
	return func() { _ = unix.SchedSetaffinity(0, &prev) }, nil
}
