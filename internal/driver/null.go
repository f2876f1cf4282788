package driver

import "hopmux/internal/errs"

// Null is a no-op driver for hosts with neither tmux nor screen available:
// it reports no sessions and fails any capture/attach, rather than the
// Browser having to special-case a missing multiplexer everywhere.
// NewSession still works, running an interactive login shell in place of a
// multiplexer session.
type Null struct {
	run CommandRunner
}

// NewNull builds a Null driver over the given command runner, used only by
// NewSession.
func NewNull(run CommandRunner) *Null {
	return &Null{run: run}
}

func (n *Null) Name() string { return "none" }

func (n *Null) Close() error { return nil }

func (n *Null) ListSessions() ([]Session, error) { return nil, nil }

func (n *Null) Capture(sessionName string, windowIndex int) (string, error) {
	return "", errs.New(errs.ProgramMissing, "no terminal multiplexer available")
}

// NewSession runs an interactive login shell on the far end, since there is
// no multiplexer to create a session in.
func (n *Null) NewSession() (int, error) {
	return n.run.Exec("$SHELL -i -l")
}

func (n *Null) Attach(sessionName string) (int, error) {
	return 0, errs.New(errs.ProgramMissing, "no terminal multiplexer available")
}
