package browser

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"hopmux/internal/driver"
)

type fakeDriver struct {
	sessions []driver.Session
}

func (f *fakeDriver) Name() string                            { return "fake" }
func (f *fakeDriver) Close() error                            { return nil }
func (f *fakeDriver) ListSessions() ([]driver.Session, error) { return f.sessions, nil }
func (f *fakeDriver) Capture(session string, window int) (string, error) {
	return "capture:" + session, nil
}
func (f *fakeDriver) NewSession() (int, error) { return 0, nil }
func (f *fakeDriver) Attach(session string) (int, error) { return 0, nil }

func threeSessions() []driver.Session {
	return []driver.Session{
		{Name: "a", Windows: []driver.Window{{Index: 0, Name: "w0"}}},
		{Name: "b", Windows: []driver.Window{{Index: 0, Name: "w0"}, {Index: 1, Name: "w1"}}},
		{Name: "c", Windows: []driver.Window{{Index: 0, Name: "w0"}}},
	}
}

// currentSessionIndex is 1-based over sessions (0 is the home page), so
// wrapping happens modulo len(sessions)+1.

func TestHandleKey_RightWrapsAroundSessionIndex(t *testing.T) {
	m := New(&fakeDriver{sessions: threeSessions()}, "host", nil)
	m.sessions = threeSessions()
	m.currentSessionIndex = 3 // session "c"

	next, _ := m.handleKey(tea.KeyMsg{Type: tea.KeyRight})
	nm := next.(Model)
	if nm.currentSessionIndex != 0 {
		t.Fatalf("expected session index to wrap to home (0), got %d", nm.currentSessionIndex)
	}
}

func TestHandleKey_LeftWrapsAroundSessionIndex(t *testing.T) {
	m := New(&fakeDriver{sessions: threeSessions()}, "host", nil)
	m.sessions = threeSessions()
	m.currentSessionIndex = 0 // home

	next, _ := m.handleKey(tea.KeyMsg{Type: tea.KeyLeft})
	nm := next.(Model)
	if nm.currentSessionIndex != 3 {
		t.Fatalf("expected session index to wrap to 3 (session c), got %d", nm.currentSessionIndex)
	}
}

func TestHandleKey_DownWrapsAroundWindowIndex(t *testing.T) {
	m := New(&fakeDriver{sessions: threeSessions()}, "host", nil)
	m.sessions = threeSessions()
	m.currentSessionIndex = 2 // session "b" has 2 windows
	m.windowIndex = 1

	next, _ := m.handleKey(tea.KeyMsg{Type: tea.KeyDown})
	nm := next.(Model)
	if nm.windowIndex != 0 {
		t.Fatalf("expected window index to wrap to 0, got %d", nm.windowIndex)
	}
}

func TestHandleKey_PageDownIncrementsPageNumber(t *testing.T) {
	m := New(&fakeDriver{}, "host", nil)
	next, _ := m.handleKey(tea.KeyMsg{Type: tea.KeyPgDown})
	nm := next.(Model)
	if nm.pageNumber != 1 {
		t.Fatalf("expected page number 1, got %d", nm.pageNumber)
	}
	next2, _ := nm.handleKey(tea.KeyMsg{Type: tea.KeyPgDown})
	nm2 := next2.(Model)
	if nm2.pageNumber != 2 {
		t.Fatalf("expected page number 2, got %d", nm2.pageNumber)
	}
}

func TestHandleKey_PageUpClampsAtZero(t *testing.T) {
	m := New(&fakeDriver{}, "host", nil)
	next, _ := m.handleKey(tea.KeyMsg{Type: tea.KeyPgUp})
	nm := next.(Model)
	if nm.pageNumber != 0 {
		t.Fatalf("expected page number clamped to 0, got %d", nm.pageNumber)
	}
}

func TestHandleKey_QuitSetsQuitting(t *testing.T) {
	m := New(&fakeDriver{}, "host", nil)
	next, cmd := m.handleKey(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	nm := next.(Model)
	if !nm.quitting {
		t.Fatalf("expected quitting to be set")
	}
	if !nm.selection.Quit {
		t.Fatalf("expected selection.Quit to be set")
	}
	if cmd == nil {
		t.Fatalf("expected a quit command")
	}
}

func TestHandleKey_EnterOnHomeSelectsNewSession(t *testing.T) {
	m := New(&fakeDriver{sessions: threeSessions()}, "host", nil)
	m.sessions = threeSessions()
	m.currentSessionIndex = 0

	next, cmd := m.handleKey(tea.KeyMsg{Type: tea.KeyEnter})
	nm := next.(Model)
	if !nm.selection.NewSession {
		t.Fatalf("expected selection.NewSession to be set")
	}
	if cmd == nil {
		t.Fatalf("expected a quit command")
	}
}

func TestHandleKey_EnterOnSessionSelectsIt(t *testing.T) {
	m := New(&fakeDriver{sessions: threeSessions()}, "host", nil)
	m.sessions = threeSessions()
	m.currentSessionIndex = 2 // session "b"

	next, _ := m.handleKey(tea.KeyMsg{Type: tea.KeyEnter})
	nm := next.(Model)
	if nm.selection.SessionName != "b" {
		t.Fatalf("expected selection.SessionName %q, got %q", "b", nm.selection.SessionName)
	}
}

func TestHandleKey_SlashEntersFilterMode(t *testing.T) {
	m := New(&fakeDriver{sessions: threeSessions()}, "host", nil)
	m.sessions = threeSessions()

	next, cmd := m.handleKey(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("/")})
	nm := next.(Model)
	if !nm.filtering {
		t.Fatalf("expected filtering to be true")
	}
	if cmd == nil {
		t.Fatalf("expected a blink command on entering filter mode")
	}
}

func TestHandleKey_FilterNarrowsVisibleSessions(t *testing.T) {
	m := New(&fakeDriver{sessions: threeSessions()}, "host", nil)
	m.sessions = threeSessions()

	next, _ := m.handleKey(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("/")})
	nm := next.(Model)

	next, _ = nm.handleKey(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("b")})
	nm = next.(Model)

	visible := nm.visibleSessions()
	if len(visible) != 1 || visible[0].Name != "b" {
		t.Fatalf("expected filter %q to narrow to session b, got %v", nm.filter.Value(), visible)
	}
}

func TestHandleKey_EscExitsFilterModeWithoutClearingText(t *testing.T) {
	m := New(&fakeDriver{sessions: threeSessions()}, "host", nil)
	m.sessions = threeSessions()

	next, _ := m.handleKey(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("/")})
	nm := next.(Model)
	next, _ = nm.handleKey(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("b")})
	nm = next.(Model)

	next, _ = nm.handleKey(tea.KeyMsg{Type: tea.KeyEsc})
	nm = next.(Model)
	if nm.filtering {
		t.Fatalf("expected filtering to be false after esc")
	}
	if nm.filter.Value() != "b" {
		t.Fatalf("expected filter text %q to survive esc, got %q", "b", nm.filter.Value())
	}
}

func TestStatusLine_TruncatesToWidth(t *testing.T) {
	m := New(&fakeDriver{}, "a-very-long-hostname-that-forces-truncation", nil)
	m.width = 20
	line := m.statusLine()
	// lipgloss may add ANSI codes, so measure the visible width.
	if w := lipgloss.Width(line); w > 20 {
		t.Fatalf("expected status line truncated to width 20, got visible width %d: %q", w, line)
	}
	if line == "" {
		t.Fatalf("expected a non-empty status line")
	}
}

func TestRenderHomeTable_ListsProgramCreatedAttachedSession(t *testing.T) {
	m := New(&fakeDriver{}, "host", nil)
	m.sessions = threeSessions()
	out := m.renderHomeTable()
	for _, want := range []string{"PROGRAM", "CREATED", "ATTACHED", "SESSION", "a", "b", "c"} {
		if !contains(out, want) {
			t.Fatalf("expected home table to contain %q, got %q", want, out)
		}
	}
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && (substr == "" || indexOf(s, substr) >= 0)
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
