//go:build windows

package ptychild

// Windows has no SIGWINCH; ConPTY sizing would need a console resize-event
// watcher this project does not implement, since every target of this tool
// is reached through OpenSSH, which is not shipped for interactive use on
// Windows consoles here.
func startResizeWatcher(c *Child) func() {
	return func() {}
}
