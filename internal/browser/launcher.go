// Package browser starts a local Chromium with remote debugging enabled for
// maskd to attach to.
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"syscall"
	"time"
)

const (
	defaultReadyTimeout = 15 * time.Second
	pollInterval        = 250 * time.Millisecond
	stopGrace           = 5 * time.Second
)

// ErrNoBinary is returned when no Chromium build can be found.
var ErrNoBinary = errors.New("browser: no chromium binary found")

// binaryNames are looked up on PATH in order.
var binaryNames = []string{"chromium", "chromium-browser", "google-chrome", "google-chrome-stable"}

// bundlePaths are absolute fallbacks per GOOS.
var bundlePaths = map[string][]string{
	"darwin": {
		"/Applications/Chromium.app/Contents/MacOS/Chromium",
		"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
	},
}

// Config holds browser launch configuration.
type Config struct {
	CDPAddress string
	CDPPort    int
	// BinaryPath skips the PATH search when set.
	BinaryPath string
	// StartURL is opened in the first tab, typically the brokerage login.
	StartURL string
	// ProfileDir keeps the brokerage session between runs.
	ProfileDir   string
	WindowSize   string
	ReadyTimeout time.Duration
	Logger       *slog.Logger
}

// Launcher owns at most one browser process. A browser found already
// listening on the CDP port is used but never stopped.
type Launcher struct {
	cfg  Config
	proc *exec.Cmd
}

func NewLauncher(cfg Config) *Launcher {
	if cfg.WindowSize == "" {
		cfg.WindowSize = "1440,900"
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = defaultReadyTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Launcher{cfg: cfg}
}

func (l *Launcher) hostPort() string {
	return net.JoinHostPort(l.cfg.CDPAddress, strconv.Itoa(l.cfg.CDPPort))
}

// findBinary resolves override first, then PATH, then bundle paths.
func findBinary(override string) (string, error) {
	if override != "" {
		if _, err := os.Stat(override); err != nil {
			return "", fmt.Errorf("browser: %s: %w", override, err)
		}
		return override, nil
	}
	for _, name := range binaryNames {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	for _, path := range bundlePaths[runtime.GOOS] {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", ErrNoBinary
}

func (l *Launcher) args() []string {
	args := []string{
		"--remote-debugging-address=" + l.cfg.CDPAddress,
		"--remote-debugging-port=" + strconv.Itoa(l.cfg.CDPPort),
		"--user-data-dir=" + l.cfg.ProfileDir,
		"--window-size=" + l.cfg.WindowSize,
		"--no-first-run",
		"--no-default-browser-check",
		"--disable-dev-shm-usage",
	}
	if l.cfg.StartURL != "" {
		args = append(args, l.cfg.StartURL)
	}
	return args
}

// Launch starts Chromium unless the CDP port already answers, then blocks
// until /json/version responds or ReadyTimeout passes.
func (l *Launcher) Launch(ctx context.Context) error {
	if conn, err := net.DialTimeout("tcp", l.hostPort(), time.Second); err == nil {
		conn.Close()
		l.cfg.Logger.Info("reusing browser on CDP port", "addr", l.hostPort())
		return nil
	}

	bin, err := findBinary(l.cfg.BinaryPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(l.cfg.ProfileDir, 0o755); err != nil {
		return fmt.Errorf("browser: profile dir: %w", err)
	}

	cmd := exec.Command(bin, l.args()...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("browser: start %s: %w", bin, err)
	}
	l.proc = cmd
	l.cfg.Logger.Info("browser started", "binary", bin, "pid", cmd.Process.Pid, "profile", l.cfg.ProfileDir)

	version, err := l.awaitDevTools(ctx)
	if err != nil {
		l.Stop()
		return err
	}
	l.cfg.Logger.Info("devtools ready", "addr", l.hostPort(), "browser", version)
	return nil
}

// awaitDevTools polls /json/version and returns the reported browser
// version.
func (l *Launcher) awaitDevTools(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.ReadyTimeout)
	defer cancel()
	url := "http://" + l.hostPort() + "/json/version"
	client := &http.Client{Timeout: time.Second}

	tick := time.NewTicker(pollInterval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("browser: devtools at %s: %w", l.hostPort(), ctx.Err())
		case <-tick.C:
		}
		version, ok := probeVersion(ctx, client, url)
		if ok {
			return version, nil
		}
	}
}

func probeVersion(ctx context.Context, client *http.Client, url string) (string, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", false
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", false
	}
	var body struct {
		Browser string `json:"Browser"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", true
	}
	return body.Browser, true
}

// Running reports whether this launcher started the browser.
func (l *Launcher) Running() bool {
	return l.proc != nil
}

// Stop sends SIGTERM to a browser this launcher started and kills it after
// a grace period.
func (l *Launcher) Stop() {
	cmd := l.proc
	if cmd == nil || cmd.Process == nil {
		return
	}
	l.proc = nil
	pid := cmd.Process.Pid
	_ = cmd.Process.Signal(syscall.SIGTERM)

	exited := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(exited)
	}()
	select {
	case <-exited:
		l.cfg.Logger.Info("browser exited", "pid", pid)
	case <-time.After(stopGrace):
		l.cfg.Logger.Warn("browser ignored SIGTERM, killing", "pid", pid)
		_ = cmd.Process.Kill()
		<-exited
	}
}
