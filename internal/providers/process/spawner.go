package process

import (
	"context"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/creack/pty"
	"go.uber.org/zap"
)

const (
	// DefaultGracePeriod is the SIGTERM to SIGKILL window.
	DefaultGracePeriod = 2 * time.Second
	// drainTimeout bounds how long output copies may run after the child
	// exits, in case something outside the group still holds the pipes.
	drainTimeout = 2 * time.Second
)

// Request describes a process to start. WorkingDir is a ref resolved with
// ResolveWorkingDir, so an absolute path inside the root works as well.
type Request struct {
	Command    string
	Args       []string
	WorkingDir string
	Env        map[string]string
}

func (r Request) commandLine() string {
	if len(r.Args) == 0 {
		return r.Command
	}
	return r.Command + " " + strings.Join(r.Args, " ")
}

// Spawner starts children confined to a project root.
type Spawner struct {
	root     string
	envAllow []string
	grace    time.Duration
	logger   *zap.Logger
}

// Option configures a Spawner.
type Option func(*Spawner)

// WithEnvAllowList replaces the inherited variable names.
func WithEnvAllowList(names ...string) Option {
	return func(s *Spawner) {
		s.envAllow = append([]string(nil), names...)
	}
}

// WithGracePeriod sets the default SIGTERM to SIGKILL window.
func WithGracePeriod(d time.Duration) Option {
	return func(s *Spawner) {
		if d > 0 {
			s.grace = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Spawner) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewSpawner canonicalizes root and returns a spawner bound to it.
func NewSpawner(root string, opts ...Option) (*Spawner, error) {
	canonical, err := canonicalRoot(root)
	if err != nil {
		return nil, err
	}
	s := &Spawner{
		root:     canonical,
		envAllow: append([]string(nil), DefaultEnvAllowList...),
		grace:    DefaultGracePeriod,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Root returns the canonical project root.
func (s *Spawner) Root() string { return s.root }

// GracePeriod returns the default termination window.
func (s *Spawner) GracePeriod() time.Duration { return s.grace }

// Spawn starts req with stdout and stderr copied into the given writers
// (nil discards). Stdin is /dev/null. If ctx is cancelled before the child
// exits, the group is terminated with the default grace period.
func (s *Spawner) Spawn(ctx context.Context, req Request, stdout, stderr io.Writer) (*Handle, error) {
	line := req.commandLine()
	if err := ctx.Err(); err != nil {
		return nil, &SpawnError{Command: line, Err: err}
	}
	dir, err := s.ResolveWorkingDir(req.WorkingDir)
	if err != nil {
		return nil, err
	}
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}

	outR, outW, err := os.Pipe()
	if err != nil {
		return nil, &SpawnError{Command: line, Err: err}
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		outR.Close()
		outW.Close()
		return nil, &SpawnError{Command: line, Err: err}
	}

	cmd := exec.Command(req.Command, req.Args...)
	cmd.Dir = dir
	cmd.Env = buildEnv(s.envAllow, req.Env, false)
	cmd.Stdout = outW
	cmd.Stderr = errW
	cmd.SysProcAttr = groupAttr()

	if err := cmd.Start(); err != nil {
		outR.Close()
		outW.Close()
		errR.Close()
		errW.Close()
		s.logger.Warn("Failed to spawn process",
			zap.String("command", line),
			zap.String("dir", dir),
			zap.Error(err))
		return nil, &SpawnError{Command: line, Err: err}
	}
	// The child holds its own copies now.
	outW.Close()
	errW.Close()

	h := &Handle{child: newChild(line, cmd)}
	s.logger.Debug("Process spawned",
		zap.String("command", line),
		zap.Int("pid", h.pid),
		zap.String("dir", dir))

	var drains sync.WaitGroup
	drains.Add(2)
	go func() {
		defer drains.Done()
		_, _ = io.Copy(stdout, outR)
	}()
	go func() {
		defer drains.Done()
		_, _ = io.Copy(stderr, errR)
	}()
	drained := make(chan struct{})
	go func() {
		drains.Wait()
		close(drained)
	}()

	go func() {
		waitErr := cmd.Wait()
		h.finish(waitErr)

		timer := time.NewTimer(drainTimeout)
		select {
		case <-drained:
		case <-timer.C:
			s.logger.Warn("Output still open after exit, closing pipes",
				zap.String("command", line),
				zap.Int("pid", h.pid))
			outR.Close()
			errR.Close()
			<-drained
		}
		timer.Stop()
		outR.Close()
		errR.Close()
		close(h.done)
	}()

	if ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				_ = h.Terminate(s.grace)
			case <-h.done:
			}
		}()
	}

	return h, nil
}

// SpawnPTY starts req on a new pseudo-terminal of the given size. The child
// becomes a session leader with the terminal as its controlling tty.
func (s *Spawner) SpawnPTY(req Request, cols, rows uint16) (*PtyHandle, error) {
	line := req.commandLine()
	dir, err := s.ResolveWorkingDir(req.WorkingDir)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(req.Command, req.Args...)
	cmd.Dir = dir
	cmd.Env = buildEnv(s.envAllow, req.Env, true)
	cmd.SysProcAttr = ttyAttr()

	master, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: cols, Rows: rows})
	if err != nil {
		s.logger.Warn("Failed to spawn terminal process",
			zap.String("command", line),
			zap.String("dir", dir),
			zap.Error(err))
		return nil, &SpawnError{Command: line, Err: err}
	}

	h := &PtyHandle{child: newChild(line, cmd), master: master}
	s.logger.Debug("Terminal process spawned",
		zap.String("command", line),
		zap.Int("pid", h.pid),
		zap.Uint16("cols", cols),
		zap.Uint16("rows", rows))

	go func() {
		waitErr := cmd.Wait()
		h.finish(waitErr)
		close(h.done)
	}()

	return h, nil
}
