// Package cpu pins worker goroutines to OS threads and CPU cores.
//
// Pinned workers back the "process" backend: each worker owns an OS thread for
// its whole lifetime, scheduled on its own core where the platform allows it.
package cpu

import "runtime"

// NumCPU returns the number of logical CPUs available.
func NumCPU() int {
	return runtime.NumCPU()
}

// CoreFor maps a worker to a core, wrapping around when workers outnumber cores.
func CoreFor(workerID int) int {
	n := NumCPU()
	if workerID < 0 {
		workerID = -workerID
	}
	return workerID % n
}

// Pin locks the calling goroutine to its OS thread and pins that thread to the
// core assigned to workerID. The returned release func restores the thread's
// previous affinity and unlocks it; it must be called from the same goroutine.
// The thread stays locked even when pinning fails, in which case the error is
// returned alongside a valid release func.
func Pin(workerID int) (release func(), err error) {
	runtime.LockOSThread()
	restore, err := pinToCore(CoreFor(workerID))
	return func() {
		restore()
		runtime.UnlockOSThread()
	}, err
}

func noop() {}
