// Package passwordinjector scans a PTY child's output for SSH's literal
// "'s password: " prompt, attributes it to a user@host, and replies with the
// matching password from a pre-built map, without ever forwarding a
// password byte to the real terminal or a capture sink.
package passwordinjector

import (
	"bytes"
	"strings"
	"sync"

	"hopmux/internal/errs"
	"hopmux/internal/ptychild"
)

// Prompt is the exact, case-sensitive literal OpenSSH writes before reading
// a password from the terminal. Nothing shorter or longer is recognised.
const Prompt = "'s password: "

// Mode is the post-login interaction mode a connection is in. It is tracked
// here, beside the password state, so the executor can switch it on the
// same object it reads RemainingPasswords from. The mode does not gate the
// password scanner: WriteParent scans only while passwords remain, and
// remaining reaches zero during login and never rises again.
type Mode int

const (
	// Transcript relays continuously while capturing output for later
	// inspection (used by exec/output-style one-shot commands).
	Transcript Mode = iota
	// ProgrammedIO suspends the automatic relay so a caller can drive the
	// master fd directly with a request/response protocol.
	ProgrammedIO
	// HumanComputerInteraction hands the connection to an interactive
	// foreground session. Terminal: no further mode transitions.
	HumanComputerInteraction
)

func (m Mode) String() string {
	switch m {
	case ProgrammedIO:
		return "ProgrammedIO"
	case HumanComputerInteraction:
		return "HumanComputerInteraction"
	default:
		return "Transcript"
	}
}

var legalTransitions = map[Mode]map[Mode]bool{
	Transcript:   {ProgrammedIO: true, HumanComputerInteraction: true},
	ProgrammedIO: {Transcript: true, HumanComputerInteraction: true},
}

// MasterWriter is the subset of ptychild.Child the injector needs to reply
// to a password prompt.
type MasterWriter interface {
	WriteMaster(data []byte) error
}

// Injector decorates a ptychild.ParentWriter: every chunk of child output
// passes through it before reaching the real sink.
type Injector struct {
	mu sync.Mutex

	next  ptychild.ParentWriter
	child MasterWriter

	passwords map[string]string
	consumed  map[string]bool
	remaining int

	scan []byte
	mode Mode
}

// New builds an Injector over the given password map (user@host -> cleartext
// password). next receives every byte this injector does not swallow; child
// is used to write the password reply back to the PTY master.
func New(passwords map[string]string, next ptychild.ParentWriter, child MasterWriter) *Injector {
	cp := make(map[string]string, len(passwords))
	for k, v := range passwords {
		cp[k] = v
	}
	return &Injector{
		next:      next,
		child:     child,
		passwords: cp,
		consumed:  make(map[string]bool),
		remaining: len(cp),
		mode:      Transcript,
	}
}

// Mode returns the current interaction mode.
func (p *Injector) Mode() Mode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mode
}

// SetMode transitions to m, rejecting transitions that are not legal from
// the current mode.
func (p *Injector) SetMode(m Mode) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if m == p.mode {
		return nil
	}
	if !legalTransitions[p.mode][m] {
		return errs.New(errs.InternalInvariant, "illegal mode transition "+p.mode.String()+" -> "+m.String())
	}
	p.mode = m
	return nil
}

// RemainingPasswords reports how many password-map entries have not yet
// been consumed by a matching prompt.
func (p *Injector) RemainingPasswords() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remaining
}

// StdinAllowed reports whether user keystrokes may be forwarded to the
// child: only once every password in the map has been consumed, so a
// password byte can never leak in through a race with a real keystroke.
func (p *Injector) StdinAllowed() bool {
	return p.RemainingPasswords() == 0
}

// WriteParent implements ptychild.ParentWriter. It always forwards data
// onward (the prompt text itself is legitimate terminal output), but first
// scans for every password-prompt occurrence in the accumulated buffer and
// replies to each in turn: a single chunk can contain more than one prompt
// (e.g. two hops authenticating back to back), so this finds the first
// occurrence, handles it, trims the buffer past it, and loops rather than
// only checking whether the buffer ends in a prompt.
func (p *Injector) WriteParent(data []byte) error {
	if err := p.next.WriteParent(data); err != nil {
		return err
	}

	p.mu.Lock()
	if p.remaining == 0 {
		p.mu.Unlock()
		return nil
	}
	p.scan = append(p.scan, data...)
	const maxScan = 4096
	if len(p.scan) > maxScan {
		p.scan = p.scan[len(p.scan)-maxScan:]
	}

	var userHosts []string
	for {
		idx := bytes.Index(p.scan, []byte(Prompt))
		if idx == -1 {
			break
		}
		lastNL := bytes.LastIndexByte(p.scan[:idx], '\n')
		userHosts = append(userHosts, strings.TrimSpace(string(p.scan[lastNL+1:idx])))
		p.scan = p.scan[idx+len(Prompt):]
	}
	p.mu.Unlock()

	for _, userHost := range userHosts {
		if err := p.handlePrompt(userHost); err != nil {
			return err
		}
	}
	return nil
}

func (p *Injector) handlePrompt(userHost string) error {
	p.mu.Lock()
	if p.consumed[userHost] {
		p.mu.Unlock()
		return errs.New(errs.DuplicatePrompt, "duplicate password prompt for "+userHost)
	}
	password, ok := p.passwords[userHost]
	if !ok {
		p.mu.Unlock()
		return errs.New(errs.MissingPassword, "no password supplied for "+userHost)
	}
	p.consumed[userHost] = true
	p.remaining--
	p.mu.Unlock()

	return p.child.WriteMaster([]byte(password + "\n"))
}
