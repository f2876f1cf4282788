package driver

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"hopmux/internal/errs"
)

// Screen drives GNU screen via its -list/-Q query interface and a
// hardcopy-to-tempfile capture workflow.
type Screen struct {
	run CommandRunner
}

// NewScreen builds a Screen driver over the given command runner.
func NewScreen(run CommandRunner) *Screen {
	return &Screen{run: run}
}

func (s *Screen) Name() string { return "screen" }

func (s *Screen) Close() error { return nil }

// screenWindowFlags matches the attach/detach/multi-user flag characters
// screen's "-Q windows" reply can append to a window's index token; "*"
// (the active marker) is handled separately so it can still gate Active.
var screenWindowFlags = regexp.MustCompile(`[-$!@L&Z]`)

func (s *Screen) exec(command string) (string, error) {
	result, err := s.run.CheckOutput(command)
	if err != nil {
		return "", err
	}
	if result.ExitCode == 127 || strings.Contains(result.Output, "command not found") {
		return "", errs.New(errs.ProgramMissing, "screen: command not found")
	}
	return result.Output, nil
}

// screenTimestampLayout matches screen -list's locale-dependent
// "DD/MM/YY HH:MM:SS" format, stabilised by the executor's forced
// LANG=en_GB.UTF-8.
const screenTimestampLayout = "02/01/06 15:04:05"

// ListSessions parses "screen -list" output, then queries each session's
// window list. Each real session line is tab-separated: name, a
// parenthesised creation timestamp, and a parenthesised Attached/Detached
// marker; the banner/footer lines screen prints around the list don't
// contain tabs and are skipped by the field-count check below.
func (s *Screen) ListSessions() ([]Session, error) {
	out, err := s.exec("screen -list")
	if err != nil {
		return nil, err
	}

	var sessions []Session
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Split(strings.TrimSpace(line), "\t")
		if len(fields) != 3 {
			continue
		}
		name := strings.TrimSpace(fields[0])
		created := parseScreenParenField(fields[1])
		attached := strings.EqualFold(trimParens(strings.TrimSpace(fields[2])), "attached")

		sess := Session{Name: name, Attached: attached, Program: s.Name()}
		if !created.IsZero() {
			sess.Created = created
		}
		windows, err := s.listWindows(name)
		if err == nil {
			sess.Windows = windows
		}
		sessions = append(sessions, sess)
	}
	return sessions, nil
}

func trimParens(s string) string {
	s = strings.TrimPrefix(s, "(")
	s = strings.TrimSuffix(s, ")")
	return s
}

func parseScreenParenField(s string) time.Time {
	t, err := time.Parse(screenTimestampLayout, trimParens(strings.TrimSpace(s)))
	if err != nil {
		return time.Time{}
	}
	return t
}

// listWindows asks the session to report its window list via a -Q query.
// screen's reply is whitespace-separated (flagged_index, name) pairs, e.g.
// "0$ bash  1$ bash  2-$ bash  3*$ bash": flags in [-$!@L&Z] are stripped
// from the index token, and a trailing "*" marks the active window. If
// exactly one window exists, it is marked active unconditionally, since
// screen omits the "*" entirely in that case.
func (s *Screen) listWindows(session string) ([]Window, error) {
	cmd := fmt.Sprintf("screen -S %s -Q windows", shellQuote(session))
	out, err := s.exec(cmd)
	if err != nil {
		return nil, err
	}

	tokens := strings.Fields(out)
	var windows []Window
	for i := 0; i+1 < len(tokens); i += 2 {
		flagStripped := screenWindowFlags.ReplaceAllString(tokens[i], "")
		active := strings.HasSuffix(flagStripped, "*")
		idxStr := strings.TrimSuffix(flagStripped, "*")
		idx, err := strconv.Atoi(idxStr)
		if err != nil {
			continue
		}
		windows = append(windows, Window{Index: idx, Name: tokens[i+1], Active: active})
	}
	if len(windows) == 1 {
		windows[0].Active = true
	}
	return windows, nil
}

// parseScreenInfoGeometry extracts the window's (width,height) pair from
// "screen -Q info" output, e.g. "(37,45)/(143,45)+10000 +flow UTF-8
// 0(srhaque)": the session geometry is the first parenthesised pair, the
// window geometry (what capture needs) is the second. Height is bumped by
// one to include screen's own status row.
func parseScreenInfoGeometry(info string) (width, height int, err error) {
	parts := strings.SplitN(info, "(", 3)
	if len(parts) < 3 {
		return 0, 0, errs.New(errs.CaptureFailed, "unexpected screen -Q info output: "+info)
	}
	dims := strings.SplitN(parts[2], ")", 2)[0]
	wh := strings.Split(dims, ",")
	if len(wh) != 2 {
		return 0, 0, errs.New(errs.CaptureFailed, "unexpected screen -Q info dimensions: "+dims)
	}
	w, errW := strconv.Atoi(strings.TrimSpace(wh[0]))
	h, errH := strconv.Atoi(strings.TrimSpace(wh[1]))
	if errW != nil || errH != nil {
		return 0, 0, errs.New(errs.CaptureFailed, "unexpected screen -Q info dimensions: "+dims)
	}
	return w, h + 1, nil
}

// Capture reads the target window's geometry via "-Q info", dumps it to a
// fresh temp file with "hardcopy", cats it back, and pads/right-borders
// each line to window_width per the spec's screen capture convention.
func (s *Screen) Capture(sessionName string, windowIndex int) (string, error) {
	info, err := s.exec(fmt.Sprintf("screen -S %s -p %d -Q info", shellQuote(sessionName), windowIndex))
	if err != nil {
		return "", err
	}
	width, height, err := parseScreenInfoGeometry(strings.TrimSpace(info))
	if err != nil {
		return "", err
	}

	mktemp, err := s.exec("mktemp")
	if err != nil {
		return "", err
	}
	path := strings.TrimSpace(mktemp)
	if path == "" {
		return "", errs.New(errs.CaptureFailed, "mktemp returned an empty path")
	}
	// Defeat append mode a stray .screenrc might have left in effect.
	if _, err := s.exec(fmt.Sprintf("rm -f %s", shellQuote(path))); err != nil {
		return "", err
	}
	defer func() { _, _ = s.exec(fmt.Sprintf("rm -f %s", shellQuote(path))) }()

	hardcopyCmd := fmt.Sprintf("screen -S %s -p %d -X hardcopy %s", shellQuote(sessionName), windowIndex, shellQuote(path))
	if _, err := s.exec(hardcopyCmd); err != nil {
		return "", err
	}

	contents, err := s.exec(fmt.Sprintf("cat %s", shellQuote(path)))
	if err != nil {
		return "", err
	}

	lines := strings.Split(strings.TrimRight(contents, "\n"), "\n")
	if len(lines) == 1 && lines[0] == "" {
		lines = nil
	}
	if len(lines)+1 != height {
		return "", errs.New(errs.CaptureFailed, fmt.Sprintf("screen capture had %d lines, want %d", len(lines), height-1))
	}
	for i, l := range lines {
		lines[i] = padRight(l, width) + "│"
	}
	return strings.Join(lines, "\n"), nil
}

func padRight(s string, width int) string {
	n := len([]rune(s))
	if n >= width {
		return s
	}
	return s + strings.Repeat(" ", width-n)
}

// NewSession hands the terminal to a freshly started screen session.
func (s *Screen) NewSession() (int, error) {
	return s.run.Exec("screen")
}

// Attach hands the terminal to an existing screen session via "-x", which
// allows attaching even when another terminal already holds the session
// open (matching ScreenSession.attach in the original).
func (s *Screen) Attach(sessionName string) (int, error) {
	return s.run.Exec(fmt.Sprintf("screen -x %s", shellQuote(sessionName)))
}
