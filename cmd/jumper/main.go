// Command jumper connects through a uphps chain of SSH hops, injecting
// passwords at the login prompt, and either hands the session to the
// operator interactively or runs one remote command and prints its output.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"hopmux/internal/applog"
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
	fs := flag.NewFlagSet("jumper", flag.ContinueOnError)
	verbose := fs.Bool("v", false, "log verbosely")
	fs.BoolVar(verbose, "verbose", false, "log verbosely (alias of -v)")
	debugPort := fs.Int("d", 0, "remote debugger port (accepted for CLI compatibility, unused)")
	fs.IntVar(debugPort, "debug", 0, "alias of -d")
	proxyOptions := fs.String("proxy-options", "-q -oStrictHostKeyChecking=no -oUserKnownHostsFile=/dev/null", "ssh options applied to every intermediate hop")
	outerOptions := fs.String("outer-options", "-tt", "ssh options applied to the outer (final) ssh invocation")
	sshOptions := fs.String("s", "-X", "additional ssh options for the final hop")
	fs.StringVar(sshOptions, "ssh-options", "-X", "alias of -s")

	if err := fs.Parse(args); err != nil {
		return 1
	}

	rest := fs.Args()
	if len(rest) == 0 {
		fmt.Fprintln(os.Stderr, "usage: jumper [options] uphps-chain [command...]")
		return 1
	}
	chainArg := rest[0]
	command := rest[1:]

	log := applog.NewRing(*verbose)

	hops, err := uphps.Parse(chainArg)
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

	child, err := ptychild.Spawn([]string{"/bin/sh", "-c", wrapper}, os.Stdin, os.Stdout)
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

	var exitCode int
	if len(command) > 0 {
		exitCode = runRemoteCommand(child, injector, log, command)
	} else {
		exitCode = runInteractive(child, injector, log)
	}
	return exitCode
}

func runRemoteCommand(child *ptychild.Child, injector *passwordinjector.Injector, log *applog.Ring, command []string) int {
	// NewRemote pauses the relay that injects passwords, so login must be
	// complete before it is used.
	for injector.RemainingPasswords() > 0 {
		if masterErr := child.MasterErr(); masterErr != nil {
			_, _ = child.Close()
			reportErr(log, masterErr)
			return 1
		}
		time.Sleep(100 * time.Millisecond)
	}
	remote := executor.NewRemote(child, injector)
	cmdLine := joinArgs(command)
	result, err := remote.CheckOutput(cmdLine)

	status, closeErr := child.Close()
	if err != nil {
		reportErr(log, err)
		return 1
	}
	fmt.Fprint(os.Stdout, result.Output)
	if closeErr != nil {
		reportErr(log, closeErr)
		return 1
	}
	if status.Code != 0 {
		return status.Code
	}
	return result.ExitCode
}

func runInteractive(child *ptychild.Child, injector *passwordinjector.Injector, log *applog.Ring) int {
	remote := executor.NewRemote(child, injector)
	if err := remote.Interactive(); err != nil {
		reportErr(log, err)
	}

	status, err := child.Close()
	if masterErr := child.MasterErr(); masterErr != nil {
		reportErr(log, masterErr)
		return 1
	}
	if err != nil {
		reportErr(log, err)
		return 1
	}
	if status.Signaled {
		return 128
	}
	return status.Code
}

func joinArgs(args []string) string {
	out := ""
	for i, a := range args {
		if i > 0 {
			out += " "
		}
		out += a
	}
	return out
}

func reportErr(log *applog.Ring, err error) {
	log.Errorf("%v", err)
	if e, ok := err.(*errs.Error); ok {
		fmt.Fprintf(os.Stderr, "jumper: %s: %s\n", e.Kind, e.Error())
		return
	}
	fmt.Fprintf(os.Stderr, "jumper: %v\n", err)
}
