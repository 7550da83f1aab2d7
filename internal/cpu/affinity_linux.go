//go:build linux

package cpu

import (
	"golang.org/x/sys/unix"
)

// pinToCore pins the current OS thread to a specific CPU core.
// Must be called after runtime.LockOSThread().
func pinToCore(cpuID int) (restore func(), err error) {
	var prev unix.CPUSet
	if err := unix.SchedGetaffinity(0, &prev); err != nil {
		return noop, err
	}

	var mask unix.CPUSet
	mask.Zero()
	mask.Set(cpuID)

	if err := unix.SchedSetaffinity(0, &mask); err != nil { // 0 = current thread
		return noop, err
	}
	return func() { _ = unix.SchedSetaffinity(0, &prev) }, nil
}

// Affinity returns the cores the current OS thread may run on.
func Affinity() ([]int, error) {
	var mask unix.CPUSet
	if err := unix.SchedGetaffinity(0, &mask); err != nil {
		return nil, err
	}

	var cores []int
	for i := range NumCPU() {
		if mask.IsSet(i) {
			cores = append(cores, i)
		}
	}
	return cores, nil
}
