// Package browser starts a local Chromium with the DevTools endpoint
// ipvwatch attaches to.
package browser

import (
	"context"
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

// Options describe the browser to start.
type Options struct {
	CDPAddress string
	CDPPort    int
	ProfileDir string
	// Binary overrides browser detection.
	Binary   string
	StartURL string
}

// Launcher owns a browser process it started, if any.
type Launcher struct {
	opts    Options
	cmd     *exec.Cmd
	spawned bool
	ready   time.Duration
}

func NewLauncher(opts Options) *Launcher {
	if opts.StartURL == "" {
		opts.StartURL = "about:blank"
	}
	return &Launcher{opts: opts, ready: 15 * time.Second}
}

func detectBrowser() (string, error) {
	candidates := []string{"chromium-browser", "chromium", "google-chrome", "google-chrome-stable"}
	for _, name := range candidates {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	if runtime.GOOS == "darwin" {
		macPath := "/Applications/Google Chrome.app/Contents/MacOS/Google Chrome"
		if _, err := os.Stat(macPath); err == nil {
			return macPath, nil
		}
	}
	return "", fmt.Errorf("no supported browser found (tried %v)", candidates)
}

func (l *Launcher) hostPort() string {
	return net.JoinHostPort(l.opts.CDPAddress, strconv.Itoa(l.opts.CDPPort))
}

func (l *Launcher) endpointUp() bool {
	conn, err := net.DialTimeout("tcp", l.hostPort(), time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func (l *Launcher) args() []string {
	return []string{
		"--remote-debugging-port=" + strconv.Itoa(l.opts.CDPPort),
		"--remote-debugging-address=" + l.opts.CDPAddress,
		"--user-data-dir=" + l.opts.ProfileDir,
		"--no-first-run",
		"--no-default-browser-check",
		"--disable-breakpad",
		l.opts.StartURL,
	}
}

// Start launches the browser unless something already listens on the CDP
// endpoint, then waits for the endpoint to answer.
func (l *Launcher) Start(ctx context.Context) error {
	if l.endpointUp() {
		slog.Info("Browser already running, skipping launch", "cdp", l.hostPort())
		return nil
	}

	path := l.opts.Binary
	if path == "" {
		var err error
		if path, err = detectBrowser(); err != nil {
			return err
		}
	}
	if err := os.MkdirAll(l.opts.ProfileDir, 0o755); err != nil {
		return fmt.Errorf("create profile dir: %w", err)
	}

	l.cmd = exec.Command(path, l.args()...)
	l.cmd.Stdout = os.Stdout
	l.cmd.Stderr = os.Stderr
	if err := l.cmd.Start(); err != nil {
		return fmt.Errorf("start browser: %w", err)
	}
	l.spawned = true
	slog.Info("Browser process started", "path", path, "pid", l.cmd.Process.Pid)

	if err := l.waitForCDP(ctx); err != nil {
		l.Stop()
		return fmt.Errorf("waiting for CDP: %w", err)
	}
	slog.Info("CDP endpoint ready", "cdp", l.hostPort())
	return nil
}

// waitForCDP polls /json/version until it answers 200.
func (l *Launcher) waitForCDP(ctx context.Context) error {
	url := "http://" + l.hostPort() + "/json/version"
	deadline := time.After(l.ready)
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	client := &http.Client{Timeout: time.Second}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return fmt.Errorf("CDP did not become ready within %s at %s", l.ready, url)
		case <-ticker.C:
			resp, err := client.Get(url)
			if err != nil {
				continue
			}
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
	}
}

// Spawned reports whether Start launched a process.
func (l *Launcher) Spawned() bool { return l.spawned }

// Stop terminates a browser this launcher started, with SIGTERM then SIGKILL.
func (l *Launcher) Stop() {
	if !l.spawned || l.cmd == nil || l.cmd.Process == nil {
		return
	}
	slog.Info("Stopping browser", "pid", l.cmd.Process.Pid)
	_ = l.cmd.Process.Signal(syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		_ = l.cmd.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("Browser stopped")
	case <-time.After(5 * time.Second):
		slog.Warn("Browser did not exit, sending SIGKILL")
		_ = l.cmd.Process.Kill()
		<-done
	}
	l.spawned = false
}
