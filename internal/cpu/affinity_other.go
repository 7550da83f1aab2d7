//go:build !linux && !windows

package cpu

// pinToCore is a no-op: thread affinity is not available on this platform
// (macOS included), so pinned workers only own their OS thread.
func pinToCore(int) (func(), error) {
	return noop, nil
}
