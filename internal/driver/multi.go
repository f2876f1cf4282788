package driver

import "hopmux/internal/errs"

// Multi fans ListSessions out across several backend Drivers and merges the
// results, so a host running both tmux and screen (or neither) is fully
// represented instead of the Browser being bound to whichever one driver
// probing happened to find first. Per 4.D, ProgramMissing from any one
// driver is swallowed and the iteration continues to the next; only if
// every driver raises it does Multi propagate ProgramMissing to its
// caller. Any other error is returned immediately.
type Multi struct {
	drivers []Driver
	byName  map[string]Driver
}

// NewMulti builds a Multi driver over the given backends, tried and
// accumulated in the given order.
func NewMulti(drivers ...Driver) *Multi {
	return &Multi{drivers: drivers, byName: make(map[string]Driver)}
}

func (m *Multi) Name() string { return "multi" }

func (m *Multi) ListSessions() ([]Session, error) {
	byName := make(map[string]Driver)
	var sessions []Session
	missing := 0
	for _, d := range m.drivers {
		ss, err := d.ListSessions()
		if err != nil {
			if errs.Is(err, errs.ProgramMissing) {
				missing++
				continue
			}
			return nil, err
		}
		for i := range ss {
			ss[i].Program = d.Name()
			byName[ss[i].Name] = d
		}
		sessions = append(sessions, ss...)
	}
	m.byName = byName
	if missing == len(m.drivers) {
		return nil, errs.New(errs.ProgramMissing, "no terminal multiplexer available on any backend")
	}
	return sessions, nil
}

// Capture routes to the backend that produced sessionName in the most
// recent ListSessions call.
func (m *Multi) Capture(sessionName string, windowIndex int) (string, error) {
	d, ok := m.byName[sessionName]
	if !ok {
		return "", errs.New(errs.CaptureFailed, "unknown session "+sessionName)
	}
	return d.Capture(sessionName, windowIndex)
}

// NewSession opens a session on the first backend that doesn't raise
// ProgramMissing, preferring earlier entries in the driver list (so a tmux
// host gets a tmux session rather than falling through to screen or a bare
// shell).
func (m *Multi) NewSession() (int, error) {
	for _, d := range m.drivers {
		code, err := d.NewSession()
		if err != nil && errs.Is(err, errs.ProgramMissing) {
			continue
		}
		return code, err
	}
	return 0, errs.New(errs.ProgramMissing, "no terminal multiplexer available on any backend")
}

// Attach routes to the backend that produced sessionName in the most
// recent ListSessions call.
func (m *Multi) Attach(sessionName string) (int, error) {
	d, ok := m.byName[sessionName]
	if !ok {
		return 0, errs.New(errs.CaptureFailed, "unknown session "+sessionName)
	}
	return d.Attach(sessionName)
}

func (m *Multi) Close() error {
	var first error
	for _, d := range m.drivers {
		if err := d.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
