package browser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"testing"
	"time"
)

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLaunchReusesRunningBrowser(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	l := NewLauncher(Config{
		CDPAddress: "127.0.0.1",
		CDPPort:    port,
		BinaryPath: filepath.Join(t.TempDir(), "missing"),
		ProfileDir: t.TempDir(),
		Logger:     quiet(),
	})
	if err := l.Launch(context.Background()); err != nil {
		t.Fatalf("Launch() error = %v", err)
	}
	if l.Running() {
		t.Fatal("Running() = true; want false when the port was already served")
	}
	l.Stop()
}

func TestFindBinaryOverride(t *testing.T) {
	bin := filepath.Join(t.TempDir(), "chromium")
	if err := os.WriteFile(bin, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	got, err := findBinary(bin)
	if err != nil || got != bin {
		t.Fatalf("findBinary(%q) = %q, %v; want %q, nil", bin, got, err, bin)
	}

	missing := filepath.Join(t.TempDir(), "nope")
	if _, err := findBinary(missing); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("findBinary(missing) error = %v; want fs.ErrNotExist", err)
	}
}

func TestFindBinarySearchesPath(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "google-chrome")
	if err := os.WriteFile(bin, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PATH", dir)
	got, err := findBinary("")
	if err != nil || got != bin {
		t.Fatalf("findBinary(\"\") = %q, %v; want %q, nil", got, err, bin)
	}
}

func TestArgs(t *testing.T) {
	l := NewLauncher(Config{
		CDPAddress: "127.0.0.1",
		CDPPort:    9220,
		ProfileDir: "/tmp/profile",
		StartURL:   "https://digital.fidelity.com/ftgw/digital/portfolio/summary",
	})
	args := l.args()
	for _, want := range []string{
		"--remote-debugging-port=9220",
		"--remote-debugging-address=127.0.0.1",
		"--user-data-dir=/tmp/profile",
		"--window-size=1440,900",
	} {
		if !slices.Contains(args, want) {
			t.Fatalf("args() = %v; missing %q", args, want)
		}
	}
	if last := args[len(args)-1]; !strings.HasPrefix(last, "https://") {
		t.Fatalf("last arg = %q; want the start URL", last)
	}
}

func TestAwaitDevTools(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/json/version" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `{"Browser":"Chrome/126.0.0.0"}`)
	}))
	defer srv.Close()
	host, port, _ := net.SplitHostPort(srv.Listener.Addr().String())
	p, _ := strconv.Atoi(port)

	l := NewLauncher(Config{CDPAddress: host, CDPPort: p, ReadyTimeout: 2 * time.Second, Logger: quiet()})
	got, err := l.awaitDevTools(context.Background())
	if err != nil {
		t.Fatalf("awaitDevTools() error = %v", err)
	}
	if got != "Chrome/126.0.0.0" {
		t.Fatalf("awaitDevTools() = %q; want %q", got, "Chrome/126.0.0.0")
	}
}

func TestAwaitDevToolsTimesOut(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	l := NewLauncher(Config{CDPAddress: "127.0.0.1", CDPPort: port, ReadyTimeout: 600 * time.Millisecond, Logger: quiet()})
	if _, err := l.awaitDevTools(context.Background()); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("awaitDevTools() error = %v; want context.DeadlineExceeded", err)
	}
}

func TestHostPort(t *testing.T) {
	l := NewLauncher(Config{CDPAddress: "::1", CDPPort: 9220})
	if got, want := l.hostPort(), "[::1]:9220"; got != want {
		t.Fatalf("hostPort() = %q; want %q", got, want)
	}
}
