//go:build windows

package ptychild

// flushPendingInput has no windows console equivalent wired up; the raw-mode
// switch itself discards most of what this guards against on that platform.
func flushPendingInput(stdinFD int) {}
