//go:build !windows

package ptychild

import (
	"time"

	"golang.org/x/sys/unix"
)

// flushPendingInput discards any bytes already queued for stdinFD before the
// relay loop starts reading it. Terminal integrations (OSC/DSR replies, a
// pasted prompt leftover from a previous program) can otherwise be consumed
// as the first "typed" bytes of the new session. Best effort: never returns
// an error.
func flushPendingInput(stdinFD int) {
	const tcflsh = 0x540B // TCFLSH ioctl number on Linux and Darwin
	_, _, _ = unix.Syscall(unix.SYS_IOCTL, uintptr(stdinFD), uintptr(tcflsh), uintptr(unix.TCIFLUSH))

	_ = unix.SetNonblock(stdinFD, true)
	defer func() { _ = unix.SetNonblock(stdinFD, false) }()

	deadline := time.Now().Add(200 * time.Millisecond)
	buf := make([]byte, 512)
	for time.Now().Before(deadline) {
		n, err := unix.Read(stdinFD, buf)
		if n > 0 {
			deadline = time.Now().Add(75 * time.Millisecond)
			continue
		}
		if err == nil || err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			break
		}
		break
	}
}
