package launcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

type Options struct {
	Logger *slog.Logger
	// StateDir receives the server's stdout/stderr logs under logs/.
	StateDir string
	// Executable pins the server path and skips discovery.
	Executable string
	// Search overrides the discovery inputs (defaults to DefaultSearchDirs).
	Search *SearchDirs
}

// Launcher owns at most one spawned bridge server. Launching again replaces
// and terminates the previous instance.
type Launcher struct {
	log        *slog.Logger
	stateDir   string
	executable string
	search     *SearchDirs

	mu      sync.Mutex
	current *Instance
}

type Instance struct {
	Executable string    `json:"executable"`
	Port       int       `json:"port"`
	PID        int       `json:"pid"`
	BaseURL    string    `json:"base_url"`
	StartedAt  time.Time `json:"started_at"`

	cmd  *exec.Cmd
	done chan struct{}
}

// Exited is closed once the process has been reaped.
func (i *Instance) Exited() <-chan struct{} {
	if i == nil || i.done == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return i.done
}

// Listening reports whether something accepts connections on the port.
func (i *Instance) Listening() bool {
	return i != nil && isPortListening(i.Port)
}

func New(opts Options) *Launcher {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &Launcher{
		log:        logger,
		stateDir:   strings.TrimSpace(opts.StateDir),
		executable: strings.TrimSpace(opts.Executable),
		search:     opts.Search,
	}
}

// Locate resolves the server executable.
func (l *Launcher) Locate() (string, error) {
	if l == nil {
		return "", errors.New("nil launcher")
	}
	d := DefaultSearchDirs()
	if l.search != nil {
		d = *l.search
	}
	if l.executable != "" {
		d.Override = l.executable
	}
	return Locate(d)
}

// Launch locates the executable and starts it on a free loopback port. It does
// not wait for the server to become healthy.
func (l *Launcher) Launch(ctx context.Context) (*Instance, error) {
	if l == nil {
		return nil, errors.New("nil launcher")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := l.Locate()
	if err != nil {
		return nil, err
	}
	return l.LaunchPath(path)
}

// LaunchPath starts the server at path.
func (l *Launcher) LaunchPath(path string) (*Instance, error) {
	if l == nil {
		return nil, errors.New("nil launcher")
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("missing executable path")
	}
	port, err := pickFreePort()
	if err != nil {
		return nil, err
	}
	urls := fmt.Sprintf("http://127.0.0.1:%d", port)

	cmd := exec.Command(path, "--urls", urls, "--Bridge:Security:RemoteEnabled=false")
	cmd.Dir = filepath.Dir(path)
	cmd.Env = append(os.Environ(), "ASPNETCORE_ENVIRONMENT=Production")

	stdout, stderr := l.openLogs()
	if stdout != nil {
		cmd.Stdout = stdout
	}
	if stderr != nil {
		cmd.Stderr = stderr
	}

	setCmdProcessGroup(cmd)
	l.log.Info("starting bridge server", "executable", path, "port", port)
	startErr := cmd.Start()
	// The child has its own descriptors.
	if stdout != nil {
		_ = stdout.Close()
	}
	if stderr != nil {
		_ = stderr.Close()
	}
	if startErr != nil {
		return nil, fmt.Errorf("launch bridge server %s: %w", path, startErr)
	}

	ins := &Instance{
		Executable: path,
		Port:       port,
		PID:        cmd.Process.Pid,
		BaseURL:    urls,
		StartedAt:  time.Now(),
		cmd:        cmd,
		done:       make(chan struct{}),
	}
	go func() {
		err := cmd.Wait()
		if err != nil {
			l.log.Debug("bridge server exited", "pid", ins.PID, "error", err)
		} else {
			l.log.Debug("bridge server exited", "pid", ins.PID)
		}
		close(ins.done)
	}()

	l.mu.Lock()
	prev := l.current
	l.current = ins
	l.mu.Unlock()

	if prev != nil {
		l.log.Info("replacing previously launched bridge server", "pid", prev.PID)
		l.terminate(prev)
	}
	return ins, nil
}

// Current returns the spawned instance if it is still running.
func (l *Launcher) Current() (*Instance, bool) {
	if l == nil {
		return nil, false
	}
	l.mu.Lock()
	ins := l.current
	l.mu.Unlock()
	if ins == nil {
		return nil, false
	}
	select {
	case <-ins.Exited():
		return nil, false
	default:
	}
	return ins, true
}

// Stop terminates the spawned instance, if any.
func (l *Launcher) Stop() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	ins := l.current
	l.current = nil
	l.mu.Unlock()
	if ins == nil {
		return nil
	}
	l.terminate(ins)
	return nil
}

// Kill terminates pid. When pid belongs to the spawned instance it is also
// forgotten.
func (l *Launcher) Kill(pid int) error {
	if l == nil {
		return Kill(pid)
	}
	l.mu.Lock()
	ins := l.current
	if ins != nil && ins.PID == pid {
		l.current = nil
	} else {
		ins = nil
	}
	l.mu.Unlock()
	if ins != nil {
		l.terminate(ins)
		return nil
	}
	return Kill(pid)
}

func (l *Launcher) terminate(ins *Instance) {
	if ins == nil {
		return
	}
	if err := Kill(ins.PID); err != nil {
		l.log.Warn("failed to kill bridge server tree", "pid", ins.PID, "error", err)
		if ins.cmd != nil && ins.cmd.Process != nil {
			_ = ins.cmd.Process.Kill()
		}
	}
	select {
	case <-ins.Exited():
	case <-time.After(5 * time.Second):
		l.log.Warn("bridge server did not exit after kill", "pid", ins.PID)
	}
}

func (l *Launcher) openLogs() (*os.File, *os.File) {
	if l.stateDir == "" {
		return nil, nil
	}
	dir := filepath.Join(l.stateDir, "logs")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		l.log.Warn("failed to create bridge server log dir", "dir", dir, "error", err)
		return nil, nil
	}
	stdout, _ := os.OpenFile(filepath.Join(dir, "bridge-server.stdout.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	stderr, _ := os.OpenFile(filepath.Join(dir, "bridge-server.stderr.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	return stdout, stderr
}
