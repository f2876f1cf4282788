// Command session-manager logs into a host (named in a config file or given
// as a raw uphps chain) and opens the curses-like browser over its tmux or
// screen sessions.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"hopmux/internal/applog"
	"hopmux/internal/browser"
	"hopmux/internal/config"
	"hopmux/internal/driver"
	"hopmux/internal/errs"
	"hopmux/internal/executor"
	"hopmux/internal/passwordinjector"
	"hopmux/internal/ptychild"
	"hopmux/internal/uphps"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("session-manager", flag.ContinueOnError)
	verbose := fs.Bool("v", false, "log verbosely")
	fs.BoolVar(verbose, "verbose", false, "log verbosely (alias of -v)")
	debugPort := fs.Int("d", 0, "remote debugger port (accepted for CLI compatibility, unused)")
	fs.IntVar(debugPort, "debug", 0, "alias of -d")
	proxyOptions := fs.String("proxy-options", "-q -oStrictHostKeyChecking=no -oUserKnownHostsFile=/dev/null", "ssh options applied to every intermediate hop")
	outerOptions := fs.String("outer-options", "-tt", "ssh options applied to the outer (final) ssh invocation")
	sshOptions := fs.String("s", "-X", "additional ssh options for the final hop")
	fs.StringVar(sshOptions, "ssh-options", "-X", "alias of -s")
	configPath := fs.String("config", "", "path to the hosts.yaml config file")

	if err := fs.Parse(args); err != nil {
		return 1
	}
	rest := fs.Args()
	if len(rest) != 1 {
		fmt.Fprintln(os.Stderr, "usage: session-manager [options] host")
		return 1
	}
	target := rest[0]
	log := applog.NewRing(*verbose)

	hops, err := resolveHops(*configPath, target, log)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	extraOptions := *outerOptions + " " + *sshOptions
	wrapper, passwords, err := uphps.SSHCommand(hops, *proxyOptions, extraOptions)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	log.Infof("connecting via: %s", wrapper)

	devNull, err := os.Open(os.DevNull)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer devNull.Close()

	child, err := ptychild.Spawn([]string{"/bin/sh", "-c", wrapper}, devNull, os.Stdout)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	injector := passwordinjector.New(passwords, ptychild.ParentWriterFunc(func(data []byte) error {
		_, werr := os.Stdout.Write(data)
		return werr
	}), child)
	child.SetParentWriter(injector)
	child.SetStdinGate(injector.StdinAllowed)

	if err := waitForLogin(injector); err != nil {
		reportErr(log, err)
		_, _ = child.Close()
		return 1
	}

	remote := executor.NewRemote(child, injector)
	drv := driver.NewMulti(driver.NewTmux(remote), driver.NewScreen(remote), driver.NewNull(remote))

	m := browser.New(drv, target, log)
	sel, err := browser.Run(m)
	if err != nil {
		reportErr(log, err)
		_, _ = child.Close()
		return 1
	}

	switch {
	case sel.NewSession:
		code, err := drv.NewSession()
		if err != nil {
			reportErr(log, err)
			return 1
		}
		return code
	case sel.SessionName != "":
		code, err := drv.Attach(sel.SessionName)
		if err != nil {
			reportErr(log, err)
			return 1
		}
		return code
	default:
		status, err := child.Close()
		if err != nil {
			reportErr(log, err)
			return 1
		}
		return status.Code
	}
}

// waitForLogin polls until every password in the map has been consumed (or
// there were none to begin with), so the driver isn't handed a connection
// still mid-authentication.
func waitForLogin(injector *passwordinjector.Injector) error {
	deadline := time.Now().Add(30 * time.Second)
	for injector.RemainingPasswords() > 0 {
		if time.Now().After(deadline) {
			return errs.New(errs.ConnectionClosed, "timed out waiting for login to complete")
		}
		time.Sleep(100 * time.Millisecond)
	}
	return nil
}

// resolveHops looks target up in the optional config file first, falling
// back to parsing it directly as a uphps chain.
func resolveHops(configPath, target string, log *applog.Ring) ([]uphps.Hop, error) {
	cfg, path, err := config.Load(configPath)
	if err == nil {
		if hops, chainErr := cfg.Chain(target); chainErr == nil {
			log.Infof("resolved %q from config %s", target, path)
			return hops, nil
		}
	}
	return uphps.Parse(target)
}

func reportErr(log *applog.Ring, err error) {
	log.Errorf("%v", err)
	if e, ok := err.(*errs.Error); ok {
		fmt.Fprintf(os.Stderr, "session-manager: %s: %s\n", e.Kind, e.Error())
		return
	}
	fmt.Fprintf(os.Stderr, "session-manager: %v\n", err)
}
