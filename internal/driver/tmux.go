package driver

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"hopmux/internal/errs"
	"hopmux/internal/executor"
)

// CommandRunner is the minimal executor surface a driver needs: one
// request/response command against either a local shell (executor.Local) or
// an already-authenticated remote PTY (executor.Remote). Using this instead
// of tmux's native control-mode protocol means a driver works identically
// whether the multiplexer lives on this host or several SSH hops away, at
// the cost of one round trip per listing/capture call instead of a
// persistent push-notification connection; the Browser already re-polls on
// every frame, so that push channel would go unused.
type CommandRunner interface {
	CheckOutput(command string) (executor.Result, error)
	// Exec hands the live foreground terminal to command and blocks until
	// it exits, returning its exit code. Used for operations that "take
	// over" the terminal (new-session, attach) rather than round-trip a
	// captured result.
	Exec(command string) (int, error)
}

// Tmux drives a tmux server (local or remote) by shelling out formatted
// list-* and capture-pane commands through a CommandRunner.
type Tmux struct {
	run CommandRunner
}

// NewTmux builds a Tmux driver over the given command runner.
func NewTmux(run CommandRunner) *Tmux {
	return &Tmux{run: run}
}

func (t *Tmux) Name() string { return "tmux" }

func (t *Tmux) Close() error { return nil }

func (t *Tmux) exec(command string) ([]string, error) {
	result, err := t.run.CheckOutput(command)
	if err != nil {
		return nil, err
	}
	if result.ExitCode == 127 || strings.Contains(result.Output, "command not found") {
		return nil, errs.New(errs.ProgramMissing, "tmux: command not found")
	}
	if result.ExitCode != 0 {
		return nil, errs.CommandFailedErr(result.ExitCode, result.Output)
	}
	if strings.TrimSpace(result.Output) == "" {
		return nil, nil
	}
	return strings.Split(strings.TrimRight(result.Output, "\n"), "\n"), nil
}

// The -F format strings below make tmux emit one JSON object per entity
// instead of an ad hoc delimited row, so each line can be decoded directly
// with encoding/json and numeric/timestamp fields coerced to their proper
// Go types. pane_left/pane_top are quoted as strings because tmux 1.8 can
// report them as the empty token, which would otherwise produce invalid
// JSON (a bare comma with nothing between two separators).
const (
	tmuxSessionFormat = `{"session_name":"#{session_name}","session_attached":#{session_attached},"session_created":#{session_created}}`
	tmuxWindowFormat  = `{"window_index":#{window_index},"window_name":"#{window_name}","window_active":#{window_active},"window_width":#{window_width},"window_height":#{window_height}}`
	tmuxPaneFormat    = `{"pane_id":"#{pane_id}","pane_left":"#{pane_left}","pane_top":"#{pane_top}","pane_width":#{pane_width},"pane_height":#{pane_height},"pane_active":#{pane_active}}`
)

type tmuxSessionJSON struct {
	Name     string `json:"session_name"`
	Attached int    `json:"session_attached"`
	Created  int64  `json:"session_created"`
}

type tmuxWindowJSON struct {
	Index  int    `json:"window_index"`
	Name   string `json:"window_name"`
	Active int    `json:"window_active"`
	Width  int    `json:"window_width"`
	Height int    `json:"window_height"`
}

type tmuxPaneJSON struct {
	ID     string `json:"pane_id"`
	Left   string `json:"pane_left"`
	Top    string `json:"pane_top"`
	Width  int    `json:"pane_width"`
	Height int    `json:"pane_height"`
	Active int    `json:"pane_active"`
}

// atoiOrZero parses s as an integer, substituting 0 for the tmux 1.8 empty
// string quirk rather than failing the whole listing over one field.
func atoiOrZero(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

// ListSessions enumerates sessions, then each session's windows, then each
// window's panes, assembling the full Session/Window/Pane tree.
func (t *Tmux) ListSessions() ([]Session, error) {
	lines, err := t.exec(`tmux list-sessions -F '` + tmuxSessionFormat + `'`)
	if err != nil {
		// Exit 1 with one of these messages means no server is running,
		// which is reported as an empty session list rather than a failure.
		if e, ok := err.(*errs.Error); ok && e.Kind == errs.CommandFailed && e.ExitCode == 1 {
			for _, prefix := range []string{"error connecting to ", "no server running on", "failed to connect to server"} {
				if strings.HasPrefix(e.Output, prefix) {
					return nil, nil
				}
			}
		}
		return nil, err
	}

	sessions := make([]Session, 0, len(lines))
	for _, line := range lines {
		var raw tmuxSessionJSON
		if jsonErr := json.Unmarshal([]byte(line), &raw); jsonErr != nil {
			continue
		}
		sess := Session{
			Name:     raw.Name,
			Attached: raw.Attached == 1,
			Created:  time.Unix(raw.Created, 0).UTC(),
			Program:  t.Name(),
		}
		windows, err := t.listWindows(sess.Name)
		if err != nil {
			return nil, err
		}
		sess.Windows = windows
		sessions = append(sessions, sess)
	}
	return sessions, nil
}

func (t *Tmux) listWindows(session string) ([]Window, error) {
	cmd := fmt.Sprintf(`tmux list-windows -t %s -F '%s'`, shellQuote(session), tmuxWindowFormat)
	lines, err := t.exec(cmd)
	if err != nil {
		return nil, err
	}

	windows := make([]Window, 0, len(lines))
	for _, line := range lines {
		var raw tmuxWindowJSON
		if jsonErr := json.Unmarshal([]byte(line), &raw); jsonErr != nil {
			continue
		}
		win := Window{
			Index:  raw.Index,
			Name:   raw.Name,
			Active: raw.Active == 1,
			Width:  raw.Width,
			Height: raw.Height,
		}
		panes, err := t.listPanes(session, win.Index)
		if err != nil {
			return nil, err
		}
		win.Panes = panes
		windows = append(windows, win)
	}
	return windows, nil
}

func (t *Tmux) listPanes(session string, windowIndex int) ([]Pane, error) {
	target := fmt.Sprintf("%s:%d", session, windowIndex)
	cmd := fmt.Sprintf(`tmux list-panes -t %s -F '%s'`, shellQuote(target), tmuxPaneFormat)
	lines, err := t.exec(cmd)
	if err != nil {
		return nil, err
	}

	panes := make([]Pane, 0, len(lines))
	for _, line := range lines {
		var raw tmuxPaneJSON
		if jsonErr := json.Unmarshal([]byte(line), &raw); jsonErr != nil {
			continue
		}
		panes = append(panes, Pane{
			ID:     raw.ID,
			Left:   atoiOrZero(raw.Left),
			Top:    atoiOrZero(raw.Top),
			Width:  raw.Width,
			Height: raw.Height,
			Active: raw.Active == 1,
		})
	}
	return panes, nil
}

// Capture renders a window's current contents, stitching together one
// capture-pane call per pane and drawing separators in the gaps.
func (t *Tmux) Capture(sessionName string, windowIndex int) (string, error) {
	windows, err := t.listWindows(sessionName)
	if err != nil {
		return "", err
	}
	var win *Window
	for i := range windows {
		if windows[i].Index == windowIndex {
			win = &windows[i]
			break
		}
	}
	if win == nil {
		return "", errs.New(errs.CaptureFailed, fmt.Sprintf("window %d not found in session %s", windowIndex, sessionName))
	}

	captures := make(map[string][]string, len(win.Panes))
	for _, p := range win.Panes {
		lines, err := t.capturePane(p.ID)
		if err != nil {
			return "", err
		}
		captures[p.ID] = lines
	}

	return renderGrid(win.Width, win.Height, win.Panes, captures), nil
}

// capturePane runs capture-pane for id, retrying with the unqualified pane
// id (the part after the last ":" or ".") on a "can't find pane" error, the
// tmux 1.8 workaround tmux_terminal.py also applies.
func (t *Tmux) capturePane(id string) ([]string, error) {
	lines, err := t.exec(fmt.Sprintf(`tmux capture-pane -p -t %s`, shellQuote(id)))
	if err == nil {
		return lines, nil
	}
	cmdErr, ok := err.(*errs.Error)
	if !ok || !strings.Contains(cmdErr.Output, "can't find pane") {
		return nil, err
	}
	idx := strings.LastIndexAny(id, ":.")
	if idx < 0 {
		return nil, err
	}
	return t.exec(fmt.Sprintf(`tmux capture-pane -p -t %s`, shellQuote(id[idx+1:])))
}

// NewSession hands the terminal to a freshly created tmux session.
func (t *Tmux) NewSession() (int, error) {
	return t.run.Exec("tmux new-session")
}

// Attach hands the terminal to an existing tmux session.
func (t *Tmux) Attach(sessionName string) (int, error) {
	return t.run.Exec(fmt.Sprintf("tmux attach-session -t %s", shellQuote(sessionName)))
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
