// Package executor runs commands either locally or over an already
// authenticated remote PTY, using a sentinel-delimited shell read loop to
// recover a command's stdout and exit status from the remote side.
package executor

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"hopmux/internal/errs"
	"hopmux/internal/passwordinjector"
	"hopmux/internal/ptychild"
)

// localEnv is shared by the Local executor and the Remote command-line
// prefix so both see the same fixed locale, keeping timestamps and
// collation comparable between local and remote command output.
var localEnv = []string{"TZ=UTC", "LANG=en_GB.UTF-8"}

// Result is the outcome of a single command run by Local or Remote.
type Result struct {
	Output   string
	ExitCode int
}

// Local runs commands on this host, forcing the same TZ/LANG the remote
// shell loop uses so captured output is directly comparable.
type Local struct{}

// Exec runs command via /bin/sh -c attached to this process's own
// stdin/stdout, relaying interactively until it exits — the 4.C "exec"
// entry point, used by TerminalDriver's NewSession/Attach to hand the
// terminal to tmux/screen (or a login shell) until the operator detaches.
func (Local) Exec(command string) (int, error) {
	child, err := ptychild.Spawn([]string{"/bin/sh", "-c", command}, os.Stdin, os.Stdout, ptychild.WithEnv(localEnv...))
	if err != nil {
		return 0, err
	}
	for child.MasterErr() == nil {
		time.Sleep(20 * time.Millisecond)
	}
	status, err := child.Close()
	if err != nil {
		return 0, err
	}
	return status.Code, nil
}

// CheckOutput runs command via /bin/sh -c locally and captures combined
// stdout. Used for local comparisons against a remote CheckOutput result.
func (Local) CheckOutput(command string) (Result, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return Result{}, errs.Wrap(errs.InternalInvariant, err)
	}
	devNull, err := os.Open(os.DevNull)
	if err != nil {
		return Result{}, errs.Wrap(errs.InternalInvariant, err)
	}
	defer devNull.Close()

	child, err := ptychild.Spawn([]string{"/bin/sh", "-c", command}, devNull, w, ptychild.WithEnv(localEnv...))
	if err != nil {
		return Result{}, err
	}

	buf := make([]byte, 0, 4096)
	done := make(chan struct{})
	go func() {
		defer close(done)
		chunk := make([]byte, 4096)
		for {
			n, rerr := r.Read(chunk)
			if n > 0 {
				buf = append(buf, chunk[:n]...)
			}
			if rerr != nil {
				return
			}
		}
	}()

	for child.MasterErr() == nil {
		time.Sleep(20 * time.Millisecond)
	}
	status, err := child.Close()
	w.Close()
	<-done
	r.Close()
	if err != nil {
		return Result{}, err
	}
	return Result{Output: string(buf), ExitCode: status.Code}, nil
}

// sentinel delimits each command's output from the next in the remote shell
// read loop below. It is randomised per Remote instance so a command that
// happens to print a fixed literal sentinel can never be confused with the
// loop's own delimiter.
func newSentinel() string {
	return "__hopmux_" + uuid.NewString() + "__"
}

// shellLoop is the remote-side read-eval-print loop this package drives:
// each line read from stdin is eval'd, then the loop prints the exit status
// and the sentinel so the local side can tell where one command's output
// ends and the next begins.
func shellLoop(sentinel string) string {
	return fmt.Sprintf(`while IFS= read -r l; do eval "$l"; echo -e "\n$?\n%s"; done`, sentinel)
}

// Remote drives commands over an already-logged-in PTY child by starting the
// sentinel shell loop once and writing one line per CheckOutput call while
// the injector is parked in ProgrammedIO mode.
type Remote struct {
	child     *ptychild.Child
	injector  *passwordinjector.Injector
	sentinel  string
	started   bool
	pongBuf   []byte
	pongLimit int
}

// NewRemote wraps an already-authenticated child/injector pair. The pair
// must have zero remaining passwords: Remote assumes the login phase is
// over.
func NewRemote(child *ptychild.Child, injector *passwordinjector.Injector) *Remote {
	return &Remote{
		child:     child,
		injector:  injector,
		sentinel:  newSentinel(),
		pongLimit: 64 * 1024,
	}
}

func (r *Remote) ensureStarted() error {
	if r.started {
		return nil
	}
	if err := r.injector.SetMode(passwordinjector.ProgrammedIO); err != nil {
		return err
	}
	r.child.Pause()
	if err := r.child.WriteMaster([]byte(shellLoop(r.sentinel) + "\n")); err != nil {
		return err
	}
	r.started = true
	return nil
}

// CheckOutput writes one command line into the remote shell loop and reads
// until the sentinel reappears, returning the command's stdout and decoded
// exit status. The line is prefixed with a fixed TZ/LANG assignment so that
// locale-dependent output (screen's "DD/MM/YY" session timestamps, date
// collation) is deterministic regardless of the remote shell's ambient
// locale, matching svty.py's Executor.check_output.
func (r *Remote) CheckOutput(command string) (Result, error) {
	if err := r.ensureStarted(); err != nil {
		return Result{}, err
	}
	line := strings.Join(localEnv, " ") + " " + command
	if err := r.child.WriteMaster([]byte(line + "\n")); err != nil {
		return Result{}, err
	}

	raw, err := r.readUntilSentinel()
	if err != nil {
		return Result{}, err
	}

	output, exitCode, err := parseShellLoopOutput(raw, line, r.sentinel)
	if err != nil {
		return Result{}, err
	}
	return Result{Output: output, ExitCode: exitCode}, nil
}

func (r *Remote) readUntilSentinel() (string, error) {
	deadline := time.Now().Add(30 * time.Second)
	var acc []byte
	buf := make([]byte, 4096)
	needle := []byte(r.sentinel)
	for {
		if time.Now().After(deadline) {
			return "", errs.New(errs.ConnectionClosed, "timed out waiting for remote sentinel")
		}
		n, err := r.child.ReadMaster(buf, 500*time.Millisecond)
		if n > 0 {
			acc = append(acc, buf[:n]...)
			if idx := indexOf(acc, needle); idx >= 0 {
				return string(acc[:idx+len(needle)]), nil
			}
		}
		if err != nil && !os.IsTimeout(err) {
			return "", errs.Wrap(errs.ConnectionClosed, err)
		}
	}
}

func indexOf(haystack, needle []byte) int {
	return strings.Index(string(haystack), string(needle))
}

// parseShellLoopOutput strips the command-echo the remote PTY's line
// discipline produces, the trailing "\n<exit>\n<sentinel>" footer the shell
// loop appends together with the command output's own final newline, and
// normalises CRLF line endings back to LF.
func parseShellLoopOutput(raw, command, sentinel string) (string, int, error) {
	raw = strings.ReplaceAll(raw, "\r\n", "\n")

	for strings.HasPrefix(raw, command+"\n") {
		raw = raw[len(command)+1:]
	}

	raw = strings.TrimSuffix(raw, sentinel)
	raw = strings.TrimRight(raw, "\n")

	lastNL := strings.LastIndexByte(raw, '\n')
	if lastNL < 0 {
		return "", 0, errs.New(errs.CaptureFailed, "remote shell loop output missing exit status line")
	}
	statusLine := raw[lastNL+1:]
	output := raw[:lastNL]
	output = strings.TrimLeft(output, "\n")
	output = strings.TrimSuffix(output, "\n")

	exitCode, err := strconv.Atoi(strings.TrimSpace(statusLine))
	if err != nil {
		return "", 0, errs.Wrap(errs.CaptureFailed, fmt.Errorf("parsing exit status %q: %w", statusLine, err))
	}
	return output, exitCode, nil
}

// Interactive switches the connection into HumanComputerInteraction mode
// and resumes the automatic relay, handing the terminal to the user until
// the remote process exits.
func (r *Remote) Interactive() error {
	if err := r.injector.SetMode(passwordinjector.HumanComputerInteraction); err != nil {
		return err
	}
	r.child.Resume()
	return nil
}

// Exec hands the terminal over to command for the remainder of the
// connection's life: it writes the locale-prefixed line directly to the
// master (rather than through CheckOutput's sentinel loop, whose
// echo/exit-status bookkeeping would otherwise scribble over a full-screen
// program's display), switches into HumanComputerInteraction, and blocks
// until the underlying PTY child exits. This is the 4.C "exec" entry
// point, used by TerminalDriver's NewSession/Attach.
func (r *Remote) Exec(command string) (int, error) {
	line := strings.Join(localEnv, " ") + " " + command
	if err := r.child.WriteMaster([]byte(line + "\n")); err != nil {
		return 0, err
	}
	if err := r.Interactive(); err != nil {
		return 0, err
	}
	for r.child.MasterErr() == nil {
		time.Sleep(20 * time.Millisecond)
	}
	status, err := r.child.Close()
	if err != nil {
		return 0, err
	}
	return status.Code, nil
}

// Close tears down the underlying PTY child and reports its exit status.
func (r *Remote) Close() (ptychild.ExitStatus, error) {
	return r.child.Close()
}
