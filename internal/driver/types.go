// Package driver abstracts over the terminal multiplexer (tmux, screen, or
// none) used to list and capture a remote's sessions/windows/panes.
package driver

import "time"

// Pane is one rectangular region of a Window, with its offset and size
// within the window's character grid.
type Pane struct {
	ID     string `json:"pane_id"`
	Left   int    `json:"pane_left"`
	Top    int    `json:"pane_top"`
	Width  int    `json:"pane_width"`
	Height int    `json:"pane_height"`
	Active bool   `json:"pane_active"`
}

// Window is one tab within a Session, made of one or more Panes tiled
// across its character grid.
type Window struct {
	Index  int    `json:"window_index"`
	Name   string `json:"window_name"`
	Active bool   `json:"window_active"`
	Width  int    `json:"window_width,omitempty"`
	Height int    `json:"window_height,omitempty"`
	Panes  []Pane `json:"panes,omitempty"`
}

// Session is a named group of Windows.
type Session struct {
	Name     string    `json:"session_name"`
	Attached bool      `json:"session_attached"`
	Created  time.Time `json:"session_created"`
	// Program records which backend (tmux/screen/none) produced this
	// session, so the home page's PROGRAM column and Multi's routing of
	// Capture/Attach calls know where to send follow-up requests.
	Program string   `json:"program"`
	Windows []Window `json:"windows,omitempty"`
}

// Driver lists, captures, and opens sessions for one multiplexer backend.
type Driver interface {
	// Name identifies the backend for display ("tmux", "screen", "none").
	Name() string
	// ListSessions enumerates every session the backend currently knows
	// about, each populated with its windows and panes.
	ListSessions() ([]Session, error)
	// Capture renders the given window's current on-screen contents as a
	// single multi-line string, with pane borders drawn where more than one
	// pane tiles the window.
	Capture(sessionName string, windowIndex int) (string, error)
	// NewSession opens a fresh session and hands the live terminal to it
	// until the operator detaches (or, for the Null driver, until the
	// spawned login shell exits). It does not return control to the
	// caller on success until that happens.
	NewSession() (int, error)
	// Attach hands the live terminal to the named existing session until
	// the operator detaches.
	Attach(sessionName string) (int, error)
	// Close releases any resources (e.g. a long-lived control connection).
	Close() error
}
