// Package config loads the optional YAML file of named hosts and groups
// that lets a user write "prod-db" on the command line instead of a full
// uphps chain.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"hopmux/internal/errs"
	"hopmux/internal/uphps"
)

// Config is the full YAML configuration.
//
// Example:
//
//	groups:
//	  - name: dc1
//	    default_user: netops
//	    default_port: 22
//	    jump_host: bastion
//
//	hosts:
//	  - name: bastion
//	    user: netops
//	  - name: prod-db
//	    group: dc1
//	    jump_host: bastion
type Config struct {
	Groups []Group `yaml:"groups"`
	Hosts  []Host  `yaml:"hosts"`
}

// Group holds defaults shared by every host referencing it.
type Group struct {
	Name        string `yaml:"name"`
	DefaultUser string `yaml:"default_user,omitempty"`
	DefaultPort int    `yaml:"default_port,omitempty"`
	JumpHost    string `yaml:"jump_host,omitempty"`
}

// Host is one named, connectable endpoint.
type Host struct {
	Name     string `yaml:"name"`
	Group    string `yaml:"group,omitempty"`
	User     string `yaml:"user,omitempty"`
	Password string `yaml:"password,omitempty"`
	KeyFile  string `yaml:"key_file,omitempty"`
	Port     int    `yaml:"port,omitempty"`
	// JumpHost names another Host in this file to chain through before
	// reaching this one. Must not form a cycle.
	JumpHost string   `yaml:"jump_host,omitempty"`
	Tags     []string `yaml:"tags,omitempty"`
}

// ErrConfigNotFound is returned when no configuration file can be located.
var ErrConfigNotFound = errors.New("config not found")

// Load discovers and parses the YAML configuration. If explicitPath is
// empty, candidate locations are tried in priority order (see
// PathCandidates). Returns the parsed Config and the path used.
func Load(explicitPath string) (*Config, string, error) {
	var lastErr error
	for _, p := range PathCandidates(explicitPath) {
		p = expandPath(p)
		if p == "" {
			continue
		}
		data, err := os.ReadFile(p)
		if err != nil {
			lastErr = err
			continue
		}
		var cfg Config
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, p, errs.Wrap(errs.CommandLine, fmt.Errorf("parse yaml %s: %w", p, err))
		}
		if err := cfg.Validate(); err != nil {
			return nil, p, errs.Wrap(errs.CommandLine, fmt.Errorf("invalid config %s: %w", p, err))
		}
		return &cfg, p, nil
	}
	if lastErr == nil {
		lastErr = ErrConfigNotFound
	}
	return nil, "", lastErr
}

// PathCandidates returns possible configuration file paths, in priority
// order: an explicit path, then $HOPMUX_CONFIG, then
// $XDG_CONFIG_HOME/hopmux/hosts.yaml, then ~/.config/hopmux/hosts.yaml.
func PathCandidates(explicitPath string) []string {
	var out []string
	if explicitPath != "" {
		out = append(out, explicitPath)
	}
	if env := os.Getenv("HOPMUX_CONFIG"); env != "" {
		out = append(out, env)
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		out = append(out, filepath.Join(xdg, "hopmux", "hosts.yaml"))
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		out = append(out, filepath.Join(home, ".config", "hopmux", "hosts.yaml"))
	}
	return out
}

func expandPath(p string) string {
	if strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, p[2:])
		}
	}
	return p
}

// Validate checks that group references resolve and jump-host chains are
// acyclic.
func (c *Config) Validate() error {
	seenGroups := map[string]struct{}{}
	for i, g := range c.Groups {
		if strings.TrimSpace(g.Name) == "" {
			return fmt.Errorf("groups[%d]: name is required", i)
		}
		if _, dup := seenGroups[g.Name]; dup {
			return fmt.Errorf("groups[%d]: duplicate group name %q", i, g.Name)
		}
		seenGroups[g.Name] = struct{}{}
	}

	seenHosts := map[string]struct{}{}
	for i, h := range c.Hosts {
		if strings.TrimSpace(h.Name) == "" {
			return fmt.Errorf("hosts[%d]: name is required", i)
		}
		if _, dup := seenHosts[h.Name]; dup {
			return fmt.Errorf("hosts[%d]: duplicate host name %q", i, h.Name)
		}
		seenHosts[h.Name] = struct{}{}
		if strings.TrimSpace(h.Group) != "" {
			if _, ok := seenGroups[h.Group]; !ok {
				return fmt.Errorf("hosts[%d](%s): group %q not found", i, h.Name, h.Group)
			}
		}
	}

	for _, h := range c.Hosts {
		if _, err := c.chainNames(h.Name, nil); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) findHost(name string) (Host, bool) {
	for _, h := range c.Hosts {
		if h.Name == name {
			return h, true
		}
	}
	return Host{}, false
}

func (c *Config) findGroup(name string) (Group, bool) {
	for _, g := range c.Groups {
		if g.Name == name {
			return g, true
		}
	}
	return Group{}, false
}

// chainNames walks jump_host references from name back to the outermost
// hop, detecting cycles, and returns the chain ordered outermost-first.
func (c *Config) chainNames(name string, visited []string) ([]string, error) {
	for _, v := range visited {
		if v == name {
			return nil, fmt.Errorf("jump_host cycle detected involving %q", name)
		}
	}
	host, ok := c.findHost(name)
	if !ok {
		return nil, fmt.Errorf("host %q not found", name)
	}
	visited = append(visited, name)

	jump := host.JumpHost
	if jump == "" {
		if g, ok := c.findGroup(host.Group); ok {
			jump = g.JumpHost
		}
	}
	if jump == "" {
		return []string{name}, nil
	}
	prefix, err := c.chainNames(jump, visited)
	if err != nil {
		return nil, err
	}
	return append(prefix, name), nil
}

// Chain resolves a named host into an ordered uphps.Hop chain: every
// jump_host ancestor first, the named host last, exactly the order
// uphps.SSHCommand expects.
func (c *Config) Chain(name string) ([]uphps.Hop, error) {
	names, err := c.chainNames(name, nil)
	if err != nil {
		return nil, errs.Wrap(errs.CommandLine, err)
	}

	hops := make([]uphps.Hop, 0, len(names))
	for _, n := range names {
		host, _ := c.findHost(n)
		group, hasGroup := c.findGroup(host.Group)

		user := host.User
		port := host.Port
		if user == "" && hasGroup {
			user = group.DefaultUser
		}
		if port == 0 && hasGroup {
			port = group.DefaultPort
		}
		if port == 0 {
			port = uphps.DefaultPort
		}

		hop := uphps.Hop{
			User:     user,
			Password: host.Password,
			KeyFile:  host.KeyFile,
			Port:     port,
		}
		resolved, err := uphps.CanonicalHost(host.Name)
		if err != nil {
			return nil, errs.Wrap(errs.MissingHostResolution, fmt.Errorf("cannot resolve host %q: %w", host.Name, err))
		}
		hop.Host = resolved
		hops = append(hops, hop)
	}
	return hops, nil
}
