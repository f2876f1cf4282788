package ptychild

import (
	"bytes"
	"io"
	"os"
	"sync"
	"testing"
	"time"
)

func TestRewriteLFtoCRLF(t *testing.T) {
	got := rewriteLFtoCRLF([]byte("one\ntwo\nthree"))
	want := "one\r\ntwo\r\nthree"
	if string(got) != want {
		t.Fatalf("expected %q, got %q", want, string(got))
	}
}

func TestSpawnAndClose_CapturesOutputAndExitCode(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}

	devNull, err := os.Open(os.DevNull)
	if err != nil {
		t.Fatalf("open devnull: %v", err)
	}
	defer devNull.Close()

	pr, pw, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}

	var captured bytes.Buffer
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = io.Copy(&captured, pr)
	}()

	child, err := Spawn([]string{"/bin/sh", "-c", "echo hello; exit 7"}, devNull, pw)
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}

	// Give the relay loop a moment to drain the child's output before
	// tearing everything down.
	time.Sleep(300 * time.Millisecond)

	status, err := child.Close()
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	pw.Close()
	wg.Wait()
	pr.Close()

	if status.Code != 7 {
		t.Fatalf("expected exit code 7, got %d (signaled=%v)", status.Code, status.Signaled)
	}
	if !bytes.Contains(captured.Bytes(), []byte("hello")) {
		t.Fatalf("expected captured output to contain %q, got %q", "hello", captured.String())
	}
}

func TestSpawnAndClose_SignalDecoded(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}

	devNull, err := os.Open(os.DevNull)
	if err != nil {
		t.Fatalf("open devnull: %v", err)
	}
	defer devNull.Close()

	pr, pw, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	go io.Copy(io.Discard, pr)

	child, err := Spawn([]string{"/bin/sh", "-c", "kill -TERM $$"}, devNull, pw)
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}

	time.Sleep(300 * time.Millisecond)

	status, err := child.Close()
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	pw.Close()
	pr.Close()

	if !status.Signaled {
		t.Fatalf("expected a signaled exit, got %+v", status)
	}
}
