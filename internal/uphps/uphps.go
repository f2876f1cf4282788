// Package uphps implements the "user[:pass|=keyfile]@host[:port]+..." hop
// chain grammar and the nested ProxyCommand synthesis used to reach a
// destination host through zero or more SSH jump hosts.
package uphps

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"hopmux/internal/errs"
)

// DefaultPort is used when an entry omits ":port".
const DefaultPort = 22

// Hop is one proxy step in a chain. Host is always a canonical numeric
// address once a chain has been through Parse: attribution of passwords to
// hops depends on using an unambiguous key, and DNS names are not stable
// enough to be used as that key.
type Hop struct {
	User string
	// Password is empty when the hop should use key-based login, or should
	// prompt interactively. Non-empty values are consumed exactly once by
	// the password injector.
	Password string
	// KeyFile holds the identity file path when the entry used the
	// "user=keyfile@host" form. Mutually exclusive with Password.
	KeyFile string
	Host    string
	Port    int
}

// UserHost returns the "user@host" key used to index the password map.
func (h Hop) UserHost() string {
	return h.User + "@" + h.Host
}

// Parse decodes a "+"-joined uphps chain. A literal "+" inside a password is
// written "++"; this is the only place the escape is meaningful, but it is
// honoured everywhere in an entry since hostnames/ports never legitimately
// contain "+".
func Parse(encoded string) ([]Hop, error) {
	entries := splitEntries(encoded)
	if len(entries) == 0 {
		return nil, errs.New(errs.CommandLine, "empty uphps chain")
	}

	hops := make([]Hop, 0, len(entries))
	for _, entry := range entries {
		hop, err := parseEntry(entry)
		if err != nil {
			return nil, errs.Wrap(errs.CommandLine, fmt.Errorf("%q is not a valid uphps entry: %w", entry, err))
		}
		resolved, err := CanonicalHost(hop.Host)
		if err != nil {
			return nil, errs.Wrap(errs.MissingHostResolution, fmt.Errorf("cannot resolve host in %q: %w", entry, err))
		}
		hop.Host = resolved
		hops = append(hops, hop)
	}
	return hops, nil
}

// splitEntries splits on unescaped "+", treating "++" as a literal "+"
// rather than a separator.
func splitEntries(s string) []string {
	var entries []string
	var buf strings.Builder
	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		if runes[i] == '+' {
			if i+1 < len(runes) && runes[i+1] == '+' {
				buf.WriteRune('+')
				i++
				continue
			}
			entries = append(entries, buf.String())
			buf.Reset()
			continue
		}
		buf.WriteRune(runes[i])
	}
	entries = append(entries, buf.String())
	return entries
}

func parseEntry(entry string) (Hop, error) {
	var up, hp string
	if at := strings.LastIndexByte(entry, '@'); at >= 0 {
		up = entry[:at]
		hp = entry[at+1:]
	} else {
		up = os.Getenv("USER")
		hp = entry
	}

	var hop Hop
	if colon := strings.IndexByte(up, ':'); colon >= 0 {
		hop.User = up[:colon]
		hop.Password = up[colon+1:]
	} else if eq := strings.IndexByte(up, '='); eq >= 0 {
		hop.User = up[:eq]
		hop.KeyFile = up[eq+1:]
	} else {
		hop.User = up
	}
	if hop.User == "" {
		hop.User = os.Getenv("USER")
	}

	host := hp
	port := DefaultPort
	if colon := strings.IndexByte(hp, ':'); colon >= 0 {
		host = hp[:colon]
		p, err := strconv.Atoi(hp[colon+1:])
		if err != nil {
			return Hop{}, fmt.Errorf("expected numeric port in %q", hp)
		}
		port = p
	}
	if host == "" {
		return Hop{}, fmt.Errorf("empty host")
	}

	hop.Host = host
	hop.Port = port
	return hop, nil
}

// CanonicalHost resolves name to a numeric address. If name is already
// numeric, it is returned unchanged.
func CanonicalHost(name string) (string, error) {
	if ip := net.ParseIP(name); ip != nil {
		return ip.String(), nil
	}
	addrs, err := net.LookupHost(name)
	if err != nil || len(addrs) == 0 {
		return "", fmt.Errorf("cannot find host address for %q", name)
	}
	for _, a := range addrs {
		if ip := net.ParseIP(a); ip != nil && ip.To4() != nil {
			return a, nil
		}
	}
	return addrs[0], nil
}

// Format renders a hop chain back into uphps grammar, escaping literal "+"
// in passwords as "++". Hosts are emitted as already-canonical (the form
// Parse produced them in), satisfying the parse(format(C)) == C round-trip.
func Format(hops []Hop) string {
	parts := make([]string, 0, len(hops))
	for _, h := range hops {
		var up strings.Builder
		up.WriteString(h.User)
		switch {
		case h.Password != "":
			up.WriteByte(':')
			up.WriteString(strings.ReplaceAll(h.Password, "+", "++"))
		case h.KeyFile != "":
			up.WriteByte('=')
			up.WriteString(h.KeyFile)
		}
		entry := fmt.Sprintf("%s@%s:%d", up.String(), h.Host, h.Port)
		parts = append(parts, entry)
	}
	return strings.Join(parts, "+")
}

// PasswordMap builds the "user@host" -> password lookup the password
// injector consumes, for every hop with a non-empty password.
func PasswordMap(hops []Hop) map[string]string {
	m := make(map[string]string)
	for _, h := range hops {
		if h.Password != "" {
			m[h.UserHost()] = h.Password
		}
	}
	return m
}

// Proxies builds the nested "-oProxyCommand=..." argument that carries a
// chain through hops[0:len-1] to reach hops[len-1], plus the password map
// for the whole chain. An empty proxy string means no intermediate hops are
// needed (a direct connection to the single remaining hop).
func Proxies(hops []Hop, options string) (proxy string, passwords map[string]string) {
	proxy = ""
	for i := 0; i < len(hops)-1; i++ {
		via := hops[i]
		to := hops[i+1]
		if proxy != "" {
			proxy = strings.ReplaceAll(proxy, `\`, `\\`)
			proxy = strings.ReplaceAll(proxy, `"`, `\"`)
		}
		proxy = fmt.Sprintf(`-oProxyCommand="ssh %s %s -W %s:%d -p %d %s@%s"`,
			options, proxy, to.Host, to.Port, via.Port, via.User, via.Host)
	}
	return proxy, PasswordMap(hops)
}

// SSHCommand synthesises the final "ssh ..." command line to reach the last
// hop of the chain, jumping through any earlier hops via ProxyCommand.
func SSHCommand(hops []Hop, options, extraOptions string) (wrapper string, passwords map[string]string, err error) {
	if len(hops) == 0 {
		return "", nil, errs.New(errs.CommandLine, "empty hop chain")
	}
	proxy, passwords := Proxies(hops, options)
	last := hops[len(hops)-1]
	wrapper = fmt.Sprintf("ssh %s %s %s -p %d %s@%s", options, extraOptions, proxy, last.Port, last.User, last.Host)
	return wrapper, passwords, nil
}

// SCPCommand synthesises "scp ..." plus the "user@host:" remote-path prefix.
func SCPCommand(hops []Hop, options string) (wrapper, remote string, passwords map[string]string, err error) {
	if len(hops) == 0 {
		return "", "", nil, errs.New(errs.CommandLine, "empty hop chain")
	}
	proxy, passwords := Proxies(hops, options)
	last := hops[len(hops)-1]
	wrapper = fmt.Sprintf("scp %s %s -P %d", options, proxy, last.Port)
	remote = fmt.Sprintf("%s@%s:", last.User, last.Host)
	return wrapper, remote, passwords, nil
}

// SFTPCommand synthesises "sftp ..." plus the "user@host:" remote-path prefix.
func SFTPCommand(hops []Hop, options string) (wrapper, remote string, passwords map[string]string, err error) {
	if len(hops) == 0 {
		return "", "", nil, errs.New(errs.CommandLine, "empty hop chain")
	}
	proxy, passwords := Proxies(hops, options)
	last := hops[len(hops)-1]
	wrapper = fmt.Sprintf("sftp %s %s -P %d", options, proxy, last.Port)
	remote = fmt.Sprintf("%s@%s:", last.User, last.Host)
	return wrapper, remote, passwords, nil
}
