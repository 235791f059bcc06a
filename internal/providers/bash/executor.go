package bash

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nocodo/nocodo/backend/internal/domain/permission"
	"github.com/nocodo/nocodo/backend/internal/infrastructure/events"
	"github.com/nocodo/nocodo/backend/internal/infrastructure/monitoring"
	"github.com/nocodo/nocodo/backend/internal/providers/process"
	"go.uber.org/zap"
)

// TimeoutExitCode is reported for commands killed by their deadline.
const TimeoutExitCode = 124

// Config bounds a bash call.
type Config struct {
	Shell          string
	DefaultTimeout time.Duration
	MaxTimeout     time.Duration
	MaxOutputBytes int
	KillGrace      time.Duration
}

// DefaultConfig returns the stock limits.
func DefaultConfig() Config {
	return Config{
		Shell:          "bash",
		DefaultTimeout: 120 * time.Second,
		MaxTimeout:     10 * time.Minute,
		MaxOutputBytes: 10 * 1024 * 1024,
		KillGrace:      process.DefaultGracePeriod,
	}
}

// ExecutionRequest is one bash call. Args become the script's positional
// parameters. A zero Timeout uses the configured default.
type ExecutionRequest struct {
	Command    string
	Args       []string
	WorkingDir string
	Timeout    time.Duration
	Env        map[string]string
}

// CommandResult reports everything about a finished call. Failures that
// prevented the command from running set Err and leave ExitCode at -1.
type CommandResult struct {
	Command         string        `json:"command"`
	WorkingDir      string        `json:"working_dir"`
	Stdout          string        `json:"stdout"`
	Stderr          string        `json:"stderr"`
	ExitCode        int           `json:"exit_code"`
	Duration        time.Duration `json:"-"`
	DurationSecs    float64       `json:"execution_time_secs"`
	TimedOut        bool          `json:"timed_out"`
	StdoutTruncated bool          `json:"stdout_truncated"`
	StderrTruncated bool          `json:"stderr_truncated"`
	Err             error         `json:"-"`
	Error           string        `json:"error,omitempty"`
}

func (r *CommandResult) fail(err error) {
	r.Err = err
	r.Error = err.Error()
	r.ExitCode = -1
}

// Success reports a clean zero exit.
func (r CommandResult) Success() bool {
	return r.Err == nil && !r.TimedOut && r.ExitCode == 0
}

func (r CommandResult) outcome() string {
	switch {
	case r.Err != nil && errors.Is(r.Err, permission.ErrDenied):
		return "denied"
	case r.Err != nil:
		return "error"
	case r.TimedOut:
		return "timeout"
	case r.ExitCode != 0:
		return "failed"
	default:
		return "ok"
	}
}

// Executor runs one-shot bash commands under the permission policy.
type Executor struct {
	spawner   *process.Spawner
	policy    *permission.Policy
	cfg       Config
	logger    *zap.Logger
	metrics   *monitoring.Metrics
	publisher events.Publisher
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMetrics enables instrumentation.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

// WithPublisher sets where command events go.
func WithPublisher(p events.Publisher) Option {
	return func(e *Executor) {
		if p != nil {
			e.publisher = p
		}
	}
}

// New creates an executor. Zero fields in cfg take their defaults.
func New(spawner *process.Spawner, policy *permission.Policy, cfg Config, opts ...Option) *Executor {
	def := DefaultConfig()
	if cfg.Shell == "" {
		cfg.Shell = def.Shell
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = def.DefaultTimeout
	}
	if cfg.MaxTimeout <= 0 {
		cfg.MaxTimeout = def.MaxTimeout
	}
	if cfg.MaxTimeout < cfg.DefaultTimeout {
		cfg.MaxTimeout = cfg.DefaultTimeout
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = def.MaxOutputBytes
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = spawner.GracePeriod()
	}

	e := &Executor{
		spawner:   spawner,
		policy:    policy,
		cfg:       cfg,
		logger:    zap.NewNop(),
		publisher: events.Nop{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the effective limits.
func (e *Executor) Config() Config { return e.cfg }

// Execute runs command in the project root.
func (e *Executor) Execute(ctx context.Context, command string, timeout time.Duration) CommandResult {
	return e.Run(ctx, ExecutionRequest{Command: command, Timeout: timeout})
}

// Run executes req with `bash -c`. It never panics; every failure is
// reported in the result. A cancelled ctx counts as a timeout.
func (e *Executor) Run(ctx context.Context, req ExecutionRequest) (res CommandResult) {
	start := time.Now()
	res = CommandResult{Command: req.Command, ExitCode: -1}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Bash executor panic",
				zap.String("command", req.Command),
				zap.Any("panic", r))
			res.fail(fmt.Errorf("bash executor panic: %v", r))
		}
		res.Duration = time.Since(start)
		res.DurationSecs = res.Duration.Seconds()
		e.report(ctx, res)
	}()

	decision := e.policy.Decide(req.Command)
	if !decision.Allowed() {
		res.fail(decision.Err())
		return res
	}

	dir, err := e.spawner.ResolveWorkingDir(req.WorkingDir)
	if err != nil {
		res.fail(err)
		return res
	}
	res.WorkingDir = dir
	if err := e.policy.CheckWorkingDir(dir); err != nil {
		res.fail(err)
		return res
	}

	timeout := e.clampTimeout(req.Timeout)
	if ctx.Err() != nil {
		res.TimedOut = true
		res.ExitCode = TimeoutExitCode
		res.Stderr = timeoutNote(0)
		return res
	}

	stdout := newCappedBuffer(e.cfg.MaxOutputBytes)
	stderr := newCappedBuffer(e.cfg.MaxOutputBytes)

	args := []string{"-c", req.Command}
	if len(req.Args) > 0 {
		args = append(args, e.cfg.Shell)
		args = append(args, req.Args...)
	}

	// The executor owns the deadline, so the spawn is not tied to ctx.
	h, err := e.spawner.Spawn(context.Background(), process.Request{
		Command:    e.cfg.Shell,
		Args:       args,
		WorkingDir: dir,
		Env:        req.Env,
	}, stdout, stderr)
	if err != nil {
		res.fail(err)
		return res
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	timedOut := false
	select {
	case <-h.Done():
	case <-timer.C:
		timedOut = true
	case <-ctx.Done():
		timedOut = true
	}

	if timedOut {
		if err := h.Terminate(e.cfg.KillGrace); err != nil {
			e.logger.Warn("Failed to terminate timed out command",
				zap.String("command", req.Command),
				zap.Int("pid", h.Pid()),
				zap.Error(err))
		}
	}

	code, err := h.Wait()
	if err != nil {
		res.fail(err)
		return res
	}

	res.ExitCode = code
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()
	res.StdoutTruncated = stdout.Truncated()
	res.StderrTruncated = stderr.Truncated()

	if timedOut {
		res.TimedOut = true
		res.ExitCode = TimeoutExitCode
		if res.Stderr != "" && !strings.HasSuffix(res.Stderr, "\n") {
			res.Stderr += "\n"
		}
		res.Stderr += timeoutNote(timeout)
	}
	return res
}

func timeoutNote(d time.Duration) string {
	return fmt.Sprintf("Command timed out after %s", d)
}

func (e *Executor) clampTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return e.cfg.DefaultTimeout
	}
	if d > e.cfg.MaxTimeout {
		return e.cfg.MaxTimeout
	}
	return d
}

func (e *Executor) report(ctx context.Context, res CommandResult) {
	outcome := res.outcome()
	e.metrics.RecordCommand(outcome, res.Duration)
	if res.StdoutTruncated {
		e.metrics.RecordTruncation("stdout")
	}
	if res.StderrTruncated {
		e.metrics.RecordTruncation("stderr")
	}

	pubCtx := context.WithoutCancel(ctx)
	if outcome == "denied" {
		e.metrics.RecordDenial("exec")
		e.logger.Warn("Command denied",
			zap.String("command", res.Command),
			zap.String("reason", res.Error))
		_ = e.publisher.Publish(pubCtx, events.New(events.PermissionDenied, "bash", map[string]any{
			"surface": "exec",
			"command": res.Command,
			"reason":  res.Error,
		}))
		return
	}

	fields := []zap.Field{
		zap.String("command", res.Command),
		zap.String("dir", res.WorkingDir),
		zap.Int("exit_code", res.ExitCode),
		zap.Duration("duration", res.Duration),
		zap.Bool("timed_out", res.TimedOut),
	}
	if res.Err != nil {
		e.logger.Warn("Command failed to run", append(fields, zap.Error(res.Err))...)
	} else {
		e.logger.Info("Command executed", fields...)
	}

	_ = e.publisher.Publish(pubCtx, events.New(events.CommandExecuted, "bash", map[string]any{
		"command":     res.Command,
		"working_dir": res.WorkingDir,
		"exit_code":   res.ExitCode,
		"timed_out":   res.TimedOut,
		"duration_ms": res.Duration.Milliseconds(),
		"result":      outcome,
	}))
}
