//go:build !windows

package ptychild

import (
	"io"
	"time"

	"golang.org/x/sys/unix"
)

// relay is the bidirectional copy loop: master -> parentWriter and
// stdin -> master, in 1 KiB chunks, bounded by a select(2) so Pause can
// suspend it without racing a blocked Read against ReadMaster/WriteMaster.
// EINTR is retried rather than surfaced; EIO on the master means the
// proxied child's transport has closed.
func (c *Child) relay() {
	defer c.relayWG.Done()

	masterFD := int(c.ptmx.Fd())
	var stdinFD int
	haveStdin := c.stdin != nil
	if haveStdin {
		stdinFD = int(c.stdin.Fd())
	}

	buf := make([]byte, 1024)
	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		if c.paused.Load() {
			time.Sleep(50 * time.Millisecond)
			continue
		}

		rfds := &unix.FdSet{}
		setFD(rfds, masterFD)
		maxFD := masterFD
		if haveStdin {
			setFD(rfds, stdinFD)
			if stdinFD > maxFD {
				maxFD = stdinFD
			}
		}
		tv := unix.Timeval{Sec: 0, Usec: 200000}

		n, err := unix.Select(maxFD+1, rfds, nil, nil, &tv)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			c.setMasterErr(err)
			return
		}
		if n == 0 {
			continue
		}

		if fdIsSet(rfds, masterFD) {
			nr, rerr := c.ptmx.Read(buf)
			if nr > 0 {
				chunk := append([]byte(nil), buf[:nr]...)
				if werr := c.writeParent(chunk); werr != nil {
					c.setMasterErr(werr)
					return
				}
			}
			if rerr != nil {
				c.setMasterErr(rerr)
				return
			}
		}

		if haveStdin && fdIsSet(rfds, stdinFD) {
			if c.stdinAllowed == nil || c.stdinAllowed() {
				nr, rerr := c.stdin.Read(buf)
				if nr > 0 {
					_ = c.WriteMaster(buf[:nr])
				}
				if rerr != nil {
					if rerr == io.EOF {
						haveStdin = false
					} else {
						haveStdin = false
					}
				}
			} else {
				// Draining the fd would lose bytes, so leave them queued
				// and back off briefly before the next select.
				time.Sleep(10 * time.Millisecond)
			}
		}
	}
}

func setFD(set *unix.FdSet, fd int) {
	set.Bits[fd/64] |= 1 << uint(fd%64)
}

func fdIsSet(set *unix.FdSet, fd int) bool {
	return set.Bits[fd/64]&(1<<uint(fd%64)) != 0
}
