//go:build !windows

package ptychild

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/creack/pty"
	"golang.org/x/term"
)

// startResizeWatcher installs a SIGWINCH handler that propagates the
// controlling terminal's size to the PTY master whenever it changes, firing
// once immediately to establish the initial size. It returns a function that
// stops the watcher and restores the previous handler.
func startResizeWatcher(c *Child) func() {
	if !c.haveRawFD {
		return func() {}
	}

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGWINCH)
	done := make(chan struct{})

	go func() {
		ch <- syscall.SIGWINCH // prime the initial size
		for {
			select {
			case <-ch:
				if cols, rows, err := term.GetSize(c.rawFD); err == nil {
					_ = pty.Setsize(c.ptmx, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
				}
			case <-done:
				return
			}
		}
	}()

	return func() {
		signal.Stop(ch)
		close(done)
	}
}
