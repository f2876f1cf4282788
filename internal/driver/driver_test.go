package driver

import (
	"strings"
	"testing"

	"hopmux/internal/errs"
	"hopmux/internal/executor"
)

// fakeRunner canned-answers CheckOutput/Exec by matching a command prefix,
// letting tests drive Tmux/Screen without a real multiplexer installed.
type fakeRunner struct {
	answers map[string]executor.Result
	execLog []string
	execErr error
}

func (f *fakeRunner) CheckOutput(command string) (executor.Result, error) {
	for prefix, result := range f.answers {
		if strings.HasPrefix(command, prefix) {
			return result, nil
		}
	}
	return executor.Result{ExitCode: 127, Output: "sh: command not found"}, nil
}

func (f *fakeRunner) Exec(command string) (int, error) {
	f.execLog = append(f.execLog, command)
	if f.execErr != nil {
		return 0, f.execErr
	}
	return 0, nil
}

func TestTmux_ListSessionsAndCapture(t *testing.T) {
	fr := &fakeRunner{answers: map[string]executor.Result{
		`tmux list-sessions`: {Output: `{"session_name":"main","session_attached":1,"session_created":1600000000}` + "\n", ExitCode: 0},
		`tmux list-windows -t 'main'`: {Output: `{"window_index":0,"window_name":"bash","window_active":1,"window_width":9,"window_height":3}` + "\n", ExitCode: 0},
		`tmux list-panes -t 'main:0'`: {Output: `{"pane_id":"%0","pane_left":"0","pane_top":"0","pane_width":4,"pane_height":3,"pane_active":1}` + "\n" +
			`{"pane_id":"%1","pane_left":"5","pane_top":"0","pane_width":4,"pane_height":3,"pane_active":0}` + "\n", ExitCode: 0},
		`tmux capture-pane -p -t '%0'`: {Output: "aaaa\naaaa\naaaa\n", ExitCode: 0},
		`tmux capture-pane -p -t '%1'`: {Output: "bbbb\nbbbb\nbbbb\n", ExitCode: 0},
	}}

	drv := NewTmux(fr)
	sessions, err := drv.ListSessions()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sessions) != 1 || sessions[0].Name != "main" || !sessions[0].Attached {
		t.Fatalf("unexpected sessions: %+v", sessions)
	}
	if sessions[0].Created.Unix() != 1600000000 {
		t.Fatalf("expected coerced session_created timestamp, got %v", sessions[0].Created)
	}
	if sessions[0].Program != "tmux" {
		t.Fatalf("expected Program %q, got %q", "tmux", sessions[0].Program)
	}
	if len(sessions[0].Windows) != 1 || len(sessions[0].Windows[0].Panes) != 2 {
		t.Fatalf("unexpected windows/panes: %+v", sessions[0].Windows)
	}

	capture, err := drv.Capture("main", 0)
	if err != nil {
		t.Fatalf("unexpected capture error: %v", err)
	}
	if !strings.Contains(capture, "aaaa│bbbb") {
		t.Fatalf("expected merged capture with vertical separator, got %q", capture)
	}
}

func TestTmux_ProgramMissing(t *testing.T) {
	fr := &fakeRunner{answers: map[string]executor.Result{}}
	drv := NewTmux(fr)
	_, err := drv.ListSessions()
	if err == nil {
		t.Fatalf("expected an error when tmux is missing")
	}
}

func TestTmux_NewSessionAndAttach(t *testing.T) {
	fr := &fakeRunner{}
	drv := NewTmux(fr)
	if _, err := drv.NewSession(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := drv.Attach("main"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fr.execLog) != 2 || fr.execLog[0] != "tmux new-session" || fr.execLog[1] != "tmux attach-session -t 'main'" {
		t.Fatalf("unexpected exec log: %v", fr.execLog)
	}
}

func TestScreen_ListSessions(t *testing.T) {
	fr := &fakeRunner{answers: map[string]executor.Result{
		"screen -list": {Output: "There are screens on:\n" +
			"\t12345.main\t(16/09/16 08:35:16)\t(Detached)\n" +
			"\t12346.work\t(16/09/16 08:35:58)\t(Attached)\n" +
			"2 Sockets in /run/screen/S-user.\n", ExitCode: 0},
		"screen -S '12345.main' -Q windows": {Output: "0$ bash  1$ bash\n", ExitCode: 0},
		"screen -S '12346.work' -Q windows": {Output: "0*$ top\n", ExitCode: 0},
	}}

	drv := NewScreen(fr)
	sessions, err := drv.ListSessions()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d: %+v", len(sessions), sessions)
	}
	if sessions[0].Name != "12345.main" || sessions[0].Attached {
		t.Fatalf("unexpected first session: %+v", sessions[0])
	}
	if sessions[0].Created.IsZero() {
		t.Fatalf("expected a parsed session_created timestamp")
	}
	if len(sessions[0].Windows) != 2 || sessions[0].Windows[0].Active {
		t.Fatalf("unexpected windows: %+v", sessions[0].Windows)
	}
	// A single-window session must be marked active even though screen
	// never emits the "*" flag for it.
	if len(sessions[1].Windows) != 1 || !sessions[1].Windows[0].Active {
		t.Fatalf("expected sole window marked active: %+v", sessions[1].Windows)
	}
}

func TestScreen_Capture(t *testing.T) {
	fr := &fakeRunner{answers: map[string]executor.Result{
		"screen -S 'main' -p 0 -Q info": {Output: "(37,45)/(10,2)+10000 +flow UTF-8 0(user)\n", ExitCode: 0},
		"mktemp":                        {Output: "/tmp/hopmux123\n", ExitCode: 0},
		"rm -f '/tmp/hopmux123'":        {Output: "", ExitCode: 0},
		"screen -S 'main' -p 0 -X hardcopy '/tmp/hopmux123'": {Output: "", ExitCode: 0},
		"cat '/tmp/hopmux123'":                               {Output: "captured  \nhardcopy  \n", ExitCode: 0},
	}}

	drv := NewScreen(fr)
	out, err := drv.Capture("main", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "captured  │\nhardcopy  │"
	if out != want {
		t.Fatalf("expected %q, got %q", want, out)
	}
}

func TestScreen_NewSessionAndAttach(t *testing.T) {
	fr := &fakeRunner{}
	drv := NewScreen(fr)
	if _, err := drv.NewSession(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := drv.Attach("main"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fr.execLog) != 2 || fr.execLog[0] != "screen" || fr.execLog[1] != "screen -x 'main'" {
		t.Fatalf("unexpected exec log: %v", fr.execLog)
	}
}

func TestNull_NewSessionRunsLoginShell(t *testing.T) {
	fr := &fakeRunner{}
	drv := NewNull(fr)
	if _, err := drv.NewSession(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fr.execLog) != 1 || fr.execLog[0] != "$SHELL -i -l" {
		t.Fatalf("unexpected exec log: %v", fr.execLog)
	}
}

func TestMulti_AccumulatesAcrossDrivers(t *testing.T) {
	tmuxFr := &fakeRunner{answers: map[string]executor.Result{
		`tmux list-sessions`: {Output: `{"session_name":"tsess","session_attached":1,"session_created":1600000000}` + "\n", ExitCode: 0},
		`tmux list-windows`:  {Output: "", ExitCode: 0},
	}}
	screenFr := &fakeRunner{answers: map[string]executor.Result{
		"screen -list": {Output: "There is a screen on:\n\t1.ssess\t(16/09/16 08:35:16)\t(Attached)\n1 Socket in /run.\n", ExitCode: 0},
		"screen -S '1.ssess' -Q windows": {Output: "0*$ bash\n", ExitCode: 0},
	}}

	m := NewMulti(NewTmux(tmuxFr), NewScreen(screenFr), NewNull(&fakeRunner{}))
	sessions, err := m.ListSessions()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected sessions from both backends, got %+v", sessions)
	}
	byProgram := map[string]bool{}
	for _, s := range sessions {
		byProgram[s.Program] = true
	}
	if !byProgram["tmux"] || !byProgram["screen"] {
		t.Fatalf("expected one session tagged per backend, got %+v", sessions)
	}
}

func TestMulti_PropagatesProgramMissingOnlyWhenAllFail(t *testing.T) {
	missing := &fakeRunner{answers: map[string]executor.Result{}}
	m := NewMulti(NewTmux(missing), NewScreen(missing))
	_, err := m.ListSessions()
	if !errs.Is(err, errs.ProgramMissing) {
		t.Fatalf("expected ProgramMissing when every driver lacks its binary, got %v", err)
	}
	// Null lists no sessions without ever raising ProgramMissing, so with it
	// in the list not every driver has failed.
	withNull := NewMulti(NewTmux(missing), NewScreen(missing), NewNull(missing))
	if _, err := withNull.ListSessions(); err != nil {
		t.Fatalf("expected no error once Null is among the drivers, got %v", err)
	}
}

func TestMulti_CaptureRoutesToOwningDriver(t *testing.T) {
	tmuxFr := &fakeRunner{answers: map[string]executor.Result{
		`tmux list-sessions`:          {Output: `{"session_name":"main","session_attached":1,"session_created":1600000000}` + "\n", ExitCode: 0},
		`tmux list-windows -t 'main'`: {Output: `{"window_index":0,"window_name":"bash","window_active":1,"window_width":4,"window_height":1}` + "\n", ExitCode: 0},
		`tmux list-panes`:             {Output: `{"pane_id":"%0","pane_left":"0","pane_top":"0","pane_width":4,"pane_height":1,"pane_active":1}` + "\n", ExitCode: 0},
		`tmux capture-pane -p -t '%0'`: {Output: "abcd\n", ExitCode: 0},
	}}
	screenFr := &fakeRunner{answers: map[string]executor.Result{}}

	m := NewMulti(NewTmux(tmuxFr), NewScreen(screenFr), NewNull(&fakeRunner{}))
	if _, err := m.ListSessions(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out, err := m.Capture("main", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "abcd" {
		t.Fatalf("expected %q, got %q", "abcd", out)
	}
}
