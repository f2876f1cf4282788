// Package ptychild forks a command under a pseudo-terminal and relays bytes
// between it and a parent-supplied stdin/stdout pair, propagating window
// size. When stdin is a terminal, Spawn puts it in raw mode and Close
// restores it.
package ptychild

import (
	"fmt"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/creack/pty"
	"golang.org/x/term"

	"hopmux/internal/errs"
)

// ParentWriter receives every chunk of data the child writes before it
// reaches the real terminal (or a capture sink). Implementations may inspect
// or rewrite data; see the passwordinjector package for the login-prompt
// scanner that decorates this.
type ParentWriter interface {
	WriteParent(data []byte) error
}

// ParentWriterFunc adapts a function to ParentWriter.
type ParentWriterFunc func([]byte) error

func (f ParentWriterFunc) WriteParent(data []byte) error { return f(data) }

// ExitStatus is the decoded wait(2) status of the child process.
type ExitStatus struct {
	Code       int
	Signaled   bool
	Signal     string
	CoreDumped bool
}

// Option configures a Child at Spawn time.
type Option func(*Child)

// WithAddCR rewrites bare LF to CR-LF in data delivered to the ParentWriter,
// for raw-mode terminals that need it.
func WithAddCR(b bool) Option {
	return func(c *Child) { c.addCR = b }
}

// WithParentWriter overrides the default "write straight to stdout" sink.
func WithParentWriter(w ParentWriter) Option {
	return func(c *Child) { c.parentWriter = w }
}

// WithStdinGate installs a predicate consulted before every chunk of stdin
// is forwarded to the child; while it returns false, stdin is not relayed.
func WithStdinGate(fn func() bool) Option {
	return func(c *Child) { c.stdinAllowed = fn }
}

// WithEnv appends extra "KEY=VALUE" entries to the child's environment,
// inherited from the current process plus these additions. Must be applied
// before the child execs, so it only has an effect when passed to Spawn.
func WithEnv(extra ...string) Option {
	return func(c *Child) {
		if c.cmd.Env == nil {
			c.cmd.Env = os.Environ()
		}
		c.cmd.Env = append(c.cmd.Env, extra...)
	}
}

// Child is a PTY-backed subprocess plus its relay loop.
type Child struct {
	cmd   *exec.Cmd
	ptmx  *os.File
	stdin *os.File

	parentWriter ParentWriter
	stdinAllowed func() bool
	addCR        bool

	paused   atomic.Bool
	stopping atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once
	relayWG  sync.WaitGroup

	rawFD      int
	haveRawFD  bool
	oldState   *term.State
	resizeStop func()

	mu         sync.Mutex
	masterErr  error
}

// Spawn forks argv[0] under a new PTY, execs the full argv, and starts the
// relay loop. stdin/stdout are the parent-side endpoints: usually os.Stdin
// and os.Stdout, but any *os.File works (e.g. a script file as stdin for a
// scripted login).
func Spawn(argv []string, stdin, stdout *os.File, opts ...Option) (*Child, error) {
	if len(argv) == 0 {
		return nil, errs.New(errs.CommandLine, "spawn: empty argv")
	}

	cmd := exec.Command(argv[0], argv[1:]...)

	c := &Child{
		cmd:          cmd,
		stdin:        stdin,
		parentWriter: ParentWriterFunc(func(data []byte) error { _, err := stdout.Write(data); return err }),
		stdinAllowed: func() bool { return true },
		stopCh:       make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}

	ptmx, err := pty.Start(cmd)
	if err != nil {
		return nil, errs.Wrap(errs.ConnectionClosed, fmt.Errorf("pty start %s: %w", argv[0], err))
	}
	c.ptmx = ptmx

	if stdin != nil && term.IsTerminal(int(stdin.Fd())) {
		c.rawFD = int(stdin.Fd())
		c.haveRawFD = true
		if cols, rows, sizeErr := term.GetSize(c.rawFD); sizeErr == nil && rows > 0 && cols > 0 {
			_ = pty.Setsize(ptmx, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
		}
		if st, rawErr := term.MakeRaw(c.rawFD); rawErr == nil {
			c.oldState = st
		}
		flushPendingInput(c.rawFD)
	}

	c.resizeStop = startResizeWatcher(c)

	c.relayWG.Add(1)
	go c.relay()

	return c, nil
}

// Pause suspends the automatic relay loop so a caller can drive the master
// fd directly via WriteMaster/ReadMaster (programmed I/O mode). The caller
// is solely responsible for the fd while paused.
func (c *Child) Pause() { c.paused.Store(true) }

// Resume re-enables the automatic bidirectional relay loop.
func (c *Child) Resume() { c.paused.Store(false) }

// SetParentWriter swaps the sink that receives bytes read from the master.
func (c *Child) SetParentWriter(w ParentWriter) { c.parentWriter = w }

// SetStdinGate swaps the predicate gating stdin forwarding.
func (c *Child) SetStdinGate(fn func() bool) { c.stdinAllowed = fn }

// WriteMaster writes data to the PTY master (the child's stdin). Safe to
// call whether or not the relay loop is paused, since it never reads.
func (c *Child) WriteMaster(data []byte) error {
	total := 0
	for total < len(data) {
		n, err := c.ptmx.Write(data[total:])
		if err != nil {
			return errs.Wrap(errs.ConnectionClosed, err)
		}
		total += n
	}
	return nil
}

// ReadMaster reads up to len(buf) bytes from the PTY master. Only safe to
// call while the relay loop is Paused: otherwise both this call and the
// relay goroutine would race over the same fd. A non-zero timeout bounds
// the read (the "non-blocking-ish" pong() semantics); zero blocks.
func (c *Child) ReadMaster(buf []byte, timeout time.Duration) (int, error) {
	if timeout > 0 {
		_ = c.ptmx.SetReadDeadline(time.Now().Add(timeout))
		defer func() { _ = c.ptmx.SetReadDeadline(time.Time{}) }()
	}
	n, err := c.ptmx.Read(buf)
	if err != nil && !os.IsTimeout(err) {
		return n, errs.Wrap(errs.ConnectionClosed, err)
	}
	return n, err
}

// MasterErr returns the error (if any) that caused the relay loop to stop
// reading the master (typically EIO: "proxied child transport closed").
func (c *Child) MasterErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.masterErr
}

func (c *Child) setMasterErr(err error) {
	c.mu.Lock()
	c.masterErr = err
	c.mu.Unlock()
}

// Close stops the relay loop, restores the terminal and the SIGWINCH
// handler, closes the PTY master, and reaps the child, returning its
// decoded exit status.
func (c *Child) Close() (ExitStatus, error) {
	c.stopOnce.Do(func() {
		c.stopping.Store(true)
		close(c.stopCh)
	})
	c.relayWG.Wait()

	if c.resizeStop != nil {
		c.resizeStop()
	}
	if c.haveRawFD && c.oldState != nil {
		_ = term.Restore(c.rawFD, c.oldState)
	}
	_ = c.ptmx.Close()

	waitErr := c.cmd.Wait()
	status := decodeExitStatus(c.cmd, waitErr)
	return status, nil
}

func decodeExitStatus(cmd *exec.Cmd, waitErr error) ExitStatus {
	if cmd.ProcessState == nil {
		return ExitStatus{Code: -1}
	}
	ws, ok := cmd.ProcessState.Sys().(syscall.WaitStatus)
	if !ok {
		return ExitStatus{Code: cmd.ProcessState.ExitCode()}
	}
	st := ExitStatus{Code: ws.ExitStatus()}
	if ws.Signaled() {
		st.Signaled = true
		st.Signal = ws.Signal().String()
		st.CoreDumped = ws.CoreDump()
	}
	return st
}

// writeParent forwards data through the add-cr rewrite and the configured
// ParentWriter.
func (c *Child) writeParent(data []byte) error {
	if c.addCR {
		data = rewriteLFtoCRLF(data)
	}
	return c.parentWriter.WriteParent(data)
}

func rewriteLFtoCRLF(data []byte) []byte {
	out := make([]byte, 0, len(data)+len(data)/4)
	for _, b := range data {
		if b == '\n' {
			out = append(out, '\r', '\n')
		} else {
			out = append(out, b)
		}
	}
	return out
}
