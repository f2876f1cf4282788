// Package browser implements the curses-like session browser: a Bubble Tea
// model that lists a target's multiplexer sessions, lets the operator page
// through them and their windows, and renders the selected window's live
// capture.
package browser

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"hopmux/internal/applog"
	"hopmux/internal/driver"
)

const refreshInterval = 2 * time.Second

const debugRecordCount = 50

var (
	statusStyle = lipgloss.NewStyle().Reverse(true)
	headerStyle = lipgloss.NewStyle().Bold(true)
)

// Selection is what Run returns once the operator exits the browser:
// either nothing (Quit), the home page's "new session" entry, or an
// existing session to attach to.
type Selection struct {
	Quit        bool
	NewSession  bool
	SessionName string
}

// Model is the Bubble Tea model driving the browser screen. Browser state
// centres on three variables: currentSessionIndex (0 = home; i =
// sessions[i-1]), pageNumber (0 = normal view, >=1 = debug page, also
// selecting which page of it), and the cached sessions snapshot.
// windowIndex and the filter fields add window selection and name
// filtering on top of these.
type Model struct {
	drv  driver.Driver
	log  *applog.Ring
	host string

	width, height int

	sessions             []driver.Session
	currentSessionIndex  int
	pageNumber           int
	windowIndex          int

	capture    string
	captureErr error

	filtering bool
	filter    textinput.Model

	quitting  bool
	selection Selection
}

// New builds a Model for the given driver/host label. log may be nil.
func New(drv driver.Driver, host string, log *applog.Ring) Model {
	if log == nil {
		log = applog.NewRing(false)
	}
	ti := textinput.New()
	ti.Placeholder = "filter sessions by name"
	ti.Prompt = "/"
	return Model{drv: drv, host: host, log: log, width: 80, height: 24, filter: ti}
}

// Run starts the Bubble Tea program in the alternate screen buffer and
// returns the operator's final selection: quit, "new session", or an
// existing session name.
func Run(m Model) (Selection, error) {
	p := tea.NewProgram(m, tea.WithAltScreen())
	final, err := p.Run()
	if err != nil {
		return Selection{}, err
	}
	fm, ok := final.(Model)
	if !ok {
		return Selection{Quit: true}, nil
	}
	return fm.selection, nil
}

type refreshMsg struct {
	sessions []driver.Session
	capture  string
	err      error
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.refreshCmd(), tick())
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(time.Time) tea.Msg { return tickMsg{} })
}

type tickMsg struct{}

// refreshCmd implements 4.E's per-frame behaviour: on the home page it
// rebuilds the sessions list (the driver itself iterates [Tmux, Screen,
// Null] and accumulates); on a session page it also captures the current
// window.
func (m Model) refreshCmd() tea.Cmd {
	drv := m.drv
	currentIdx := m.currentSessionIndex
	windowIndex := m.windowIndex
	filter := strings.ToLower(strings.TrimSpace(m.filter.Value()))
	return func() tea.Msg {
		sessions, err := drv.ListSessions()
		if err != nil {
			return refreshMsg{err: err}
		}
		visible := sessions
		if filter != "" {
			visible = nil
			for _, s := range sessions {
				if strings.Contains(strings.ToLower(s.Name), filter) {
					visible = append(visible, s)
				}
			}
		}
		if currentIdx == 0 || len(visible) == 0 {
			return refreshMsg{sessions: sessions}
		}
		si := (currentIdx - 1) % len(visible)
		if si < 0 {
			si += len(visible)
		}
		sess := visible[si]
		if len(sess.Windows) == 0 {
			return refreshMsg{sessions: sessions}
		}
		wi := windowIndex % len(sess.Windows)
		if wi < 0 {
			wi += len(sess.Windows)
		}
		capture, err := drv.Capture(sess.Name, sess.Windows[wi].Index)
		return refreshMsg{sessions: sessions, capture: capture, err: err}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil

	case tickMsg:
		return m, tea.Batch(m.refreshCmd(), tick())

	case refreshMsg:
		if msg.err != nil {
			m.captureErr = msg.err
			m.log.Errorf("refresh: %v", msg.err)
		} else {
			m.captureErr = nil
			m.capture = msg.capture
		}
		m.sessions = msg.sessions
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.filtering {
		return m.handleFilterKey(msg)
	}

	switch msg.String() {
	case "q", "Q", "ctrl+c":
		m.quitting = true
		m.selection = Selection{Quit: true}
		return m, tea.Quit

	case "/":
		m.filtering = true
		m.filter.SetValue("")
		m.filter.Focus()
		return m, textinput.Blink

	case "enter":
		return m.handleEnter()

	case "left":
		n := len(m.visibleSessions()) + 1
		m.currentSessionIndex = ((m.currentSessionIndex-1)%n + n) % n
		m.windowIndex = 0
		return m, m.refreshCmd()

	case "right":
		n := len(m.visibleSessions()) + 1
		m.currentSessionIndex = (m.currentSessionIndex + 1) % n
		m.windowIndex = 0
		return m, m.refreshCmd()

	case "up":
		if wins := m.currentWindows(); len(wins) > 0 {
			n := len(wins)
			m.windowIndex = ((m.windowIndex-1)%n + n) % n
		}
		return m, m.refreshCmd()

	case "down":
		if wins := m.currentWindows(); len(wins) > 0 {
			m.windowIndex = (m.windowIndex + 1) % len(wins)
		}
		return m, m.refreshCmd()

	case "pgdown":
		m.pageNumber++
		return m, nil

	case "pgup":
		if m.pageNumber > 0 {
			m.pageNumber--
		}
		return m, nil
	}
	return m, nil
}

// handleEnter implements 4.E's Enter transition: on the home page it
// selects "new session"; on a session page it selects that session. Either
// way the browser exits, handing the result to the caller.
func (m Model) handleEnter() (tea.Model, tea.Cmd) {
	if m.currentSessionIndex == 0 {
		m.quitting = true
		m.selection = Selection{NewSession: true}
		return m, tea.Quit
	}
	sessions := m.visibleSessions()
	if len(sessions) == 0 {
		return m, nil
	}
	si := (m.currentSessionIndex - 1) % len(sessions)
	if si < 0 {
		si += len(sessions)
	}
	m.quitting = true
	m.selection = Selection{SessionName: sessions[si].Name}
	return m, tea.Quit
}

func (m Model) handleFilterKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.filtering = false
		m.filter.Blur()
		m.currentSessionIndex = 0
		return m, nil
	case tea.KeyEnter:
		m.filtering = false
		m.filter.Blur()
		m.currentSessionIndex = 0
		return m, m.refreshCmd()
	}
	var cmd tea.Cmd
	m.filter, cmd = m.filter.Update(msg)
	return m, cmd
}

// visibleSessions returns m.sessions narrowed to those matching the active
// filter text, or all of them when no filter is set.
func (m Model) visibleSessions() []driver.Session {
	query := strings.TrimSpace(m.filter.Value())
	if query == "" {
		return m.sessions
	}
	var out []driver.Session
	for _, s := range m.sessions {
		if strings.Contains(strings.ToLower(s.Name), strings.ToLower(query)) {
			out = append(out, s)
		}
	}
	return out
}

func (m Model) currentWindows() []driver.Window {
	if m.currentSessionIndex == 0 {
		return nil
	}
	sessions := m.visibleSessions()
	if len(sessions) == 0 {
		return nil
	}
	si := (m.currentSessionIndex - 1) % len(sessions)
	if si < 0 {
		si += len(sessions)
	}
	return sessions[si].Windows
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.pageNumber > 0 {
		return m.renderDebugPage()
	}
	return m.renderMainPage()
}

func (m Model) renderMainPage() string {
	var content string
	if m.currentSessionIndex == 0 {
		content = m.renderHomeTable()
	} else {
		content = m.renderSessionPage()
	}
	if m.filtering {
		content += "\n" + m.filter.View()
	}
	return content + "\n" + m.statusLine()
}

// renderHomeTable is 4.E.2's PROGRAM/CREATED/ATTACHED/SESSION table.
func (m Model) renderHomeTable() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("%s: sessions", m.host)))
	b.WriteString("\n\n")

	sessions := m.visibleSessions()
	if len(sessions) == 0 {
		if len(m.sessions) == 0 {
			b.WriteString("no sessions (waiting for one to appear)")
		} else {
			b.WriteString(fmt.Sprintf("no sessions match %q", m.filter.Value()))
		}
		return b.String()
	}

	fmt.Fprintf(&b, "%-8s  %-20s  %-8s  %s\n", "PROGRAM", "CREATED", "ATTACHED", "SESSION")
	for _, s := range sessions {
		attached := "no"
		if s.Attached {
			attached = "yes"
		}
		created := "-"
		if !s.Created.IsZero() {
			created = s.Created.Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(&b, "%-8s  %-20s  %-8s  %s\n", s.Program, created, attached, s.Name)
	}
	return b.String()
}

func (m Model) renderSessionPage() string {
	sessions := m.visibleSessions()
	if len(sessions) == 0 {
		return headerStyle.Render(fmt.Sprintf("%s: no sessions match %q", m.host, m.filter.Value()))
	}
	si := (m.currentSessionIndex - 1) % len(sessions)
	if si < 0 {
		si += len(sessions)
	}
	sess := sessions[si]

	var b strings.Builder
	var winLabel string
	if len(sess.Windows) > 0 {
		wi := m.windowIndex % len(sess.Windows)
		if wi < 0 {
			wi += len(sess.Windows)
		}
		winLabel = fmt.Sprintf("window %d/%d: %s", wi+1, len(sess.Windows), sess.Windows[wi].Name)
	}
	b.WriteString(headerStyle.Render(fmt.Sprintf("%s: session %d/%d (%s) — %s", m.host, si+1, len(sessions), sess.Name, winLabel)))
	b.WriteString("\n\n")
	if m.captureErr != nil {
		b.WriteString(fmt.Sprintf("capture error: %v", m.captureErr))
	} else {
		b.WriteString(m.capture)
	}
	return b.String()
}

// renderDebugPage is 4.E.4's page_number>0 view: the log ring on the home
// page, or a JSON dump of the selected session's metadata (including
// fetched windows and panes) on a session page. Both paginate into
// ceil(len(lines)/page_lines) pages and clamp.
func (m Model) renderDebugPage() string {
	if m.currentSessionIndex == 0 {
		return m.renderLogPage()
	}
	sessions := m.visibleSessions()
	if len(sessions) == 0 {
		return m.renderLogPage()
	}
	si := (m.currentSessionIndex - 1) % len(sessions)
	if si < 0 {
		si += len(sessions)
	}
	return m.renderSessionDebugPage(sessions[si])
}

func (m Model) renderLogPage() string {
	records := m.log.Last(debugRecordCount)
	lines := make([]string, len(records))
	for i, rec := range records {
		lines[i] = rec.String()
	}
	return m.renderPaginated(fmt.Sprintf("debug log (last %d)", debugRecordCount), lines)
}

func (m Model) renderSessionDebugPage(sess driver.Session) string {
	var lines []string
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		lines = []string{fmt.Sprintf("json encode error: %v", err)}
	} else {
		lines = strings.Split(string(data), "\n")
	}
	return m.renderPaginated(sess.Name, lines)
}

func (m Model) renderPaginated(title string, lines []string) string {
	pageSize := m.height - 4
	if pageSize < 1 {
		pageSize = 20
	}
	total := (len(lines) + pageSize - 1) / pageSize
	if total == 0 {
		total = 1
	}
	page := m.pageNumber - 1
	if page >= total {
		page = total - 1
	}
	if page < 0 {
		page = 0
	}
	start := page * pageSize
	end := start + pageSize
	if end > len(lines) {
		end = len(lines)
	}
	if start > end {
		start = end
	}

	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("%s — page %d/%d", title, page+1, total)))
	b.WriteString("\n\n")
	for _, l := range lines[start:end] {
		b.WriteString(l)
		b.WriteString("\n")
	}
	return b.String() + m.statusLine()
}

func (m Model) statusLine() string {
	text := fmt.Sprintf(" q:quit  enter:select  /:filter  ←/→:session  ↑/↓:window  pgup/pgdn:debug — %s ", m.host)
	if len(text) > m.width && m.width > 1 {
		text = text[:m.width-1] + "…"
	}
	if m.width > 0 {
		text = text + strings.Repeat(" ", max(0, m.width-lipgloss.Width(text)))
	}
	return statusStyle.Render(text)
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
