//go:build windows

package ptychild

import "time"

// relay is a best-effort fallback relay loop for Windows: two concurrent
// readers rather than a select(2)-bounded single loop, since windows has no
// equivalent of unix.Select over arbitrary file descriptors. Pause is
// honoured on a best-effort basis only; this path is not exercised by the
// test suite and exists so the package still builds cross-platform.
func (c *Child) relay() {
	defer c.relayWG.Done()

	masterDone := make(chan struct{})
	go func() {
		defer close(masterDone)
		buf := make([]byte, 1024)
		for {
			if c.paused.Load() {
				time.Sleep(50 * time.Millisecond)
				continue
			}
			n, err := c.ptmx.Read(buf)
			if n > 0 {
				if werr := c.writeParent(append([]byte(nil), buf[:n]...)); werr != nil {
					c.setMasterErr(werr)
					return
				}
			}
			if err != nil {
				c.setMasterErr(err)
				return
			}
		}
	}()

	if c.stdin != nil {
		go func() {
			buf := make([]byte, 1024)
			for {
				if c.paused.Load() || (c.stdinAllowed != nil && !c.stdinAllowed()) {
					time.Sleep(50 * time.Millisecond)
					continue
				}
				n, err := c.stdin.Read(buf)
				if n > 0 {
					_ = c.WriteMaster(buf[:n])
				}
				if err != nil {
					return
				}
			}
		}()
	}

	select {
	case <-c.stopCh:
	case <-masterDone:
	}
}
