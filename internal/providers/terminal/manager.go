package terminal

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nocodo/nocodo/backend/internal/domain/permission"
	"github.com/nocodo/nocodo/backend/internal/domain/session"
	"github.com/nocodo/nocodo/backend/internal/domain/tools"
	"github.com/nocodo/nocodo/backend/internal/infrastructure/events"
	"github.com/nocodo/nocodo/backend/internal/infrastructure/monitoring"
	"github.com/nocodo/nocodo/backend/internal/infrastructure/store"
	"github.com/nocodo/nocodo/backend/internal/providers/process"
	"github.com/nocodo/nocodo/backend/internal/shared/id"
	"go.uber.org/zap"
)

const (
	readChunk = 32 * 1024
	// drainWindow is how long output may keep arriving after the child
	// exits before the master is closed.
	drainWindow  = 500 * time.Millisecond
	pumpTimeout  = 2 * time.Second
	storeTimeout = 5 * time.Second
	// persistQueue is the number of transcript batches waiting for the store.
	persistQueue = 16
	// persistWait bounds how long finalize waits for queued batches.
	persistWait = 10 * time.Second
)

// Config tunes the manager. Zero fields take their defaults.
type Config struct {
	TranscriptCap  int
	IdleTimeout    time.Duration
	Retention      time.Duration
	SinkQueue      int
	KillGrace      time.Duration
	DefaultCols    uint16
	DefaultRows    uint16
	FlushThreshold int
}

// DefaultConfig returns the stock settings.
func DefaultConfig() Config {
	return Config{
		TranscriptCap:  20 * 1024 * 1024,
		IdleTimeout:    10 * time.Minute,
		Retention:      30 * time.Minute,
		SinkQueue:      256,
		KillGrace:      process.DefaultGracePeriod,
		DefaultCols:    80,
		DefaultRows:    24,
		FlushThreshold: 256 * 1024,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.TranscriptCap <= 0 {
		c.TranscriptCap = def.TranscriptCap
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = def.IdleTimeout
	}
	if c.Retention <= 0 {
		c.Retention = def.Retention
	}
	if c.SinkQueue <= 0 {
		c.SinkQueue = def.SinkQueue
	}
	if c.KillGrace <= 0 {
		c.KillGrace = def.KillGrace
	}
	if c.DefaultCols == 0 {
		c.DefaultCols = def.DefaultCols
	}
	if c.DefaultRows == 0 {
		c.DefaultRows = def.DefaultRows
	}
	if c.FlushThreshold <= 0 {
		c.FlushThreshold = def.FlushThreshold
	}
	return c
}

// CreateRequest starts a session for a registered tool. WorkingDir is a ref
// resolved inside the project root.
type CreateRequest struct {
	ToolName   string
	Cols       uint16
	Rows       uint16
	WorkingDir string
	Env        map[string]string
}

// Manager owns every PTY session of the process.
type Manager struct {
	spawner   *process.Spawner
	tools     *tools.Registry
	policy    *permission.Policy
	cfg       Config
	logger    *zap.Logger
	metrics   *monitoring.Metrics
	store     store.Store
	publisher events.Publisher

	mu       sync.RWMutex
	sessions map[string]*liveSession
	closed   bool
	wg       sync.WaitGroup
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithMetrics enables instrumentation.
func WithMetrics(metrics *monitoring.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// WithStore persists records and transcripts.
func WithStore(s store.Store) Option {
	return func(m *Manager) { m.store = s }
}

// WithPublisher sets where lifecycle events go.
func WithPublisher(p events.Publisher) Option {
	return func(m *Manager) {
		if p != nil {
			m.publisher = p
		}
	}
}

// NewManager creates a manager. The registry and policy are read-only from
// here on.
func NewManager(spawner *process.Spawner, registry *tools.Registry, policy *permission.Policy, cfg Config, opts ...Option) *Manager {
	m := &Manager{
		spawner:   spawner,
		tools:     registry,
		policy:    policy,
		cfg:       cfg.withDefaults(),
		logger:    zap.NewNop(),
		publisher: events.Nop{},
		sessions:  make(map[string]*liveSession),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Config returns the effective settings.
func (m *Manager) Config() Config { return m.cfg }

// Create validates req, spawns the tool on a new terminal and starts
// streaming its output. Nothing is registered unless the spawn succeeds.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (session.Session, error) {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return session.Session{}, ErrManagerClosed
	}

	tool, err := m.tools.Lookup(req.ToolName)
	if err != nil {
		return session.Session{}, m.deny(ctx, req.ToolName, fmt.Errorf("%w: %w", permission.ErrDenied, err))
	}
	if !tool.RequiresPTY {
		return session.Session{}, m.deny(ctx, tool.Name,
			fmt.Errorf("%w: tool %q does not run in a terminal", permission.ErrDenied, tool.Name))
	}
	if d := m.policy.Decide(tool.CommandLine()); !d.Allowed() {
		return session.Session{}, m.deny(ctx, tool.Name, d.Err())
	}

	dir, err := m.resolveDir(tool, req.WorkingDir)
	if err != nil {
		return session.Session{}, err
	}
	if err := m.policy.CheckWorkingDir(dir); err != nil {
		return session.Session{}, m.deny(ctx, tool.Name, err)
	}

	cols, rows := req.Cols, req.Rows
	if cols == 0 {
		cols = m.cfg.DefaultCols
	}
	if rows == 0 {
		rows = m.cfg.DefaultRows
	}

	now := time.Now().UTC()
	info := session.Session{
		ID:         id.NewSessionID().String(),
		ToolName:   tool.Name,
		Status:     session.StatusCreated,
		Cols:       cols,
		Rows:       rows,
		WorkingDir: dir,
		StartedAt:  now,
	}

	h, err := m.spawner.SpawnPTY(process.Request{
		Command:    tool.Command,
		Args:       tool.Args,
		WorkingDir: dir,
		Env:        req.Env,
	}, cols, rows)
	if err != nil {
		m.logger.Error("Failed to start session",
			zap.String("tool", tool.Name),
			zap.String("dir", dir),
			zap.Error(err))
		return session.Session{}, err
	}
	info.Transition(session.StatusRunning, now)

	s := newLiveSession(info, tool, h, m.cfg.TranscriptCap)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = h.Terminate(m.cfg.KillGrace)
		_ = h.Close()
		return session.Session{}, ErrManagerClosed
	}
	m.sessions[info.ID] = s
	m.wg.Add(1)
	m.mu.Unlock()

	m.save(info)
	m.metrics.SessionStarted(tool.Name)
	m.publish(events.SessionStarted, info, map[string]any{
		"tool":        tool.Name,
		"working_dir": dir,
		"cols":        cols,
		"rows":        rows,
		"pid":         h.Pid(),
	})
	m.logger.Info("Session started",
		zap.String("session_id", info.ID),
		zap.String("tool", tool.Name),
		zap.String("dir", dir),
		zap.Int("pid", h.Pid()),
		zap.Uint16("cols", cols),
		zap.Uint16("rows", rows))

	go m.persistTranscript(s)
	go m.pump(s)
	go m.supervise(s)

	return info.Clone(), nil
}

// resolveDir applies the tool's working directory policy.
func (m *Manager) resolveDir(tool tools.Descriptor, ref string) (string, error) {
	dir, err := m.spawner.ResolveWorkingDir(ref)
	if err != nil {
		return "", err
	}
	if tool.WorkingDirPolicy == tools.WorkingDirRoot && dir != m.spawner.Root() {
		return "", fmt.Errorf("%w: tool %q is pinned to the project root", process.ErrPathEscape, tool.Name)
	}
	return dir, nil
}

func (m *Manager) deny(ctx context.Context, toolName string, err error) error {
	m.metrics.RecordDenial("session")
	m.logger.Warn("Session denied",
		zap.String("tool", toolName),
		zap.Error(err))
	_ = m.publisher.Publish(context.WithoutCancel(ctx), events.New(events.PermissionDenied, "terminal", map[string]any{
		"surface": "session",
		"tool":    toolName,
		"reason":  err.Error(),
	}))
	return err
}

func (m *Manager) lookup(sessionID string) (*liveSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return s, nil
}

// Input writes data to the session's terminal.
func (m *Manager) Input(sessionID string, data []byte) error {
	s, err := m.lookup(sessionID)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if !s.running() {
		return fmt.Errorf("%w: %s", ErrInvalidState, sessionID)
	}
	if len(data) == 0 {
		return nil
	}
	if _, err := s.handle.Write(data); err != nil {
		if !s.running() {
			return fmt.Errorf("%w: %s", ErrInvalidState, sessionID)
		}
		return fmt.Errorf("failed to write to session %s: %w", sessionID, err)
	}
	s.touch()
	return nil
}

// Resize changes the terminal dimensions and notifies subscribers.
func (m *Manager) Resize(sessionID string, cols, rows uint16) error {
	if cols == 0 || rows == 0 {
		return ErrInvalidSize
	}
	s, err := m.lookup(sessionID)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if !s.running() {
		return fmt.Errorf("%w: %s", ErrInvalidState, sessionID)
	}
	if err := s.handle.Resize(cols, rows); err != nil {
		if !s.running() {
			return fmt.Errorf("%w: %s", ErrInvalidState, sessionID)
		}
		return fmt.Errorf("failed to resize session %s: %w", sessionID, err)
	}

	s.mu.Lock()
	s.info.Cols, s.info.Rows = cols, rows
	info := s.info.Clone()
	s.mu.Unlock()

	if dropped := s.broadcast(Event{Kind: EventResize, Cols: cols, Rows: rows}); dropped > 0 {
		m.sinksDropped(s, dropped)
	}
	s.touch()
	m.publish(events.SessionResized, info, map[string]any{"cols": cols, "rows": rows})
	m.logger.Debug("Session resized",
		zap.String("session_id", sessionID),
		zap.Uint16("cols", cols),
		zap.Uint16("rows", rows))
	return nil
}

// Terminate asks the session to stop: SIGTERM, then SIGKILL after the grace
// period. It returns immediately; Done reports when the session finished.
func (m *Manager) Terminate(sessionID string) error {
	s, err := m.lookup(sessionID)
	if err != nil {
		return err
	}
	if !s.running() {
		return fmt.Errorf("%w: %s", ErrInvalidState, sessionID)
	}
	m.stop(s, "requested")
	return nil
}

func (m *Manager) stop(s *liveSession, reason string) {
	s.stopOnce.Do(func() {
		s.terminateRequested.Store(true)
		m.logger.Info("Terminating session",
			zap.String("session_id", s.id),
			zap.String("reason", reason))
		go func() {
			if err := s.handle.Terminate(m.cfg.KillGrace); err != nil {
				m.logger.Warn("Failed to terminate session",
					zap.String("session_id", s.id),
					zap.Int("pid", s.handle.Pid()),
					zap.Error(err))
			}
		}()
	})
}

// Done returns a channel closed once the session has finished and its final
// state is recorded.
func (m *Manager) Done(sessionID string) (<-chan struct{}, error) {
	s, err := m.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	return s.finished, nil
}

// Get returns the session record. Reaped sessions are read back from the
// store when one is configured.
func (m *Manager) Get(ctx context.Context, sessionID string) (session.Session, error) {
	s, err := m.lookup(sessionID)
	if err == nil {
		return s.snapshot(), nil
	}
	rec, lerr := m.load(ctx, sessionID)
	if lerr != nil {
		return session.Session{}, err
	}
	return rec.Session, nil
}

// Transcript returns a copy of the retained output and whether older bytes
// were dropped.
func (m *Manager) Transcript(ctx context.Context, sessionID string) ([]byte, bool, error) {
	s, err := m.lookup(sessionID)
	if err == nil {
		data, truncated := s.transcript.Snapshot()
		return data, truncated, nil
	}
	rec, lerr := m.load(ctx, sessionID)
	if lerr != nil {
		return nil, false, err
	}
	data, truncated := tail(rec.Transcript, m.cfg.TranscriptCap)
	return data, truncated || rec.Truncated, nil
}

func (m *Manager) load(ctx context.Context, sessionID string) (*store.Record, error) {
	if m.store == nil {
		return nil, store.ErrNotFound
	}
	rec, err := m.store.Load(ctx, sessionID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		m.metrics.RecordStoreError("load")
		m.logger.Warn("Failed to load session from store",
			zap.String("session_id", sessionID),
			zap.Error(err))
	}
	return rec, err
}

// List returns the sessions currently held in memory, oldest first.
func (m *Manager) List() []session.Session {
	m.mu.RLock()
	live := make([]*liveSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		live = append(live, s)
	}
	m.mu.RUnlock()

	out := make([]session.Session, 0, len(live))
	for _, s := range live {
		out = append(out, s.snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// Subscribe attaches a live feed. The snapshot and the feed are taken
// atomically with respect to the pump, so snapshot followed by the output
// events is exactly the session's output. A finished session yields its
// final status event and a closed feed.
func (m *Manager) Subscribe(sessionID string) (*Subscription, error) {
	s, err := m.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	k := &sink{id: uuid.NewString(), ch: make(chan Event, m.cfg.SinkQueue)}
	snapshot, truncated := s.subscribe(k)
	return &Subscription{
		ID:        k.id,
		SessionID: sessionID,
		Snapshot:  snapshot,
		Truncated: truncated,
		sink:      k,
	}, nil
}

// Unsubscribe detaches a feed and closes its channel.
func (m *Manager) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	s, err := m.lookup(sub.SessionID)
	if err != nil {
		return
	}
	s.unsubscribe(sub.ID)
}

// Close terminates every running session and waits for them to finish or
// for ctx to expire. Create fails afterwards.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	live := make([]*liveSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		live = append(live, s)
	}
	m.mu.Unlock()

	for _, s := range live {
		if s.running() {
			m.stop(s, "shutdown")
		}
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("sessions still running at shutdown: %w", ctx.Err())
	}

	for _, s := range live {
		s.mu.Lock()
		if s.reapTimer != nil {
			s.reapTimer.Stop()
		}
		s.mu.Unlock()
	}
	return err
}

// pump is the only reader of the master and the only transcript writer. It
// never waits on the store: batches go to persistTranscript through a
// bounded queue.
func (m *Manager) pump(s *liveSession) {
	defer close(s.pumpDone)
	defer close(s.persist)

	buf := make([]byte, readChunk)
	var pending []byte
	for {
		n, err := s.handle.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])

			firstTrunc, dropped := s.record(chunk)
			if firstTrunc {
				m.metrics.RecordTruncation("transcript")
				m.logger.Info("Session transcript truncated",
					zap.String("session_id", s.id),
					zap.Int("cap", m.cfg.TranscriptCap))
			}
			if dropped > 0 {
				m.sinksDropped(s, dropped)
			}
			s.touch()

			if m.store != nil {
				pending = append(pending, chunk...)
				if len(pending) >= m.cfg.FlushThreshold {
					pending = m.offer(s, pending)
				}
			}
		}
		if err != nil {
			break
		}
	}
	if len(pending) > 0 {
		// The writer drains with per-call timeouts, so this send is bounded.
		s.persist <- pending
	}
}

// offer queues pending for the store writer. When the queue is full the
// batch is kept for the next attempt, trimmed to the transcript cap so a
// stalled store cannot grow it without bound.
func (m *Manager) offer(s *liveSession, pending []byte) []byte {
	select {
	case s.persist <- pending:
		return nil
	default:
	}
	if over := len(pending) - m.cfg.TranscriptCap; over > 0 {
		m.metrics.RecordStoreError("backlog")
		m.logger.Warn("Store is behind, dropping unpersisted transcript bytes",
			zap.String("session_id", s.id),
			zap.Int("bytes", over))
		pending = append([]byte(nil), pending[over:]...)
	}
	return pending
}

// persistTranscript writes queued batches in order.
func (m *Manager) persistTranscript(s *liveSession) {
	defer close(s.persistDone)
	for batch := range s.persist {
		m.appendTranscript(s.id, batch)
	}
}

// supervise waits for exit, enforces the idle timeout and finalizes.
func (m *Manager) supervise(s *liveSession) {
	defer m.wg.Done()

	idle := time.NewTimer(m.cfg.IdleTimeout)
	defer idle.Stop()
	idleC := idle.C

loop:
	for {
		select {
		case <-s.handle.Done():
			break loop
		case <-s.activity:
			if idleC != nil {
				idle.Reset(m.cfg.IdleTimeout)
			}
		case <-idleC:
			idleC = nil
			m.logger.Info("Session idle timeout",
				zap.String("session_id", s.id),
				zap.Duration("idle_timeout", m.cfg.IdleTimeout))
			m.stop(s, "idle")
		}
	}

	drain := time.NewTimer(drainWindow)
	select {
	case <-s.pumpDone:
	case <-drain.C:
	}
	drain.Stop()
	_ = s.handle.Close()

	wait := time.NewTimer(pumpTimeout)
	select {
	case <-s.pumpDone:
	case <-wait.C:
		m.logger.Warn("Terminal reader still busy after close",
			zap.String("session_id", s.id))
	}
	wait.Stop()

	select {
	case <-s.pumpDone:
		persisted := time.NewTimer(persistWait)
		select {
		case <-s.persistDone:
		case <-persisted.C:
			m.logger.Warn("Transcript still persisting at session end",
				zap.String("session_id", s.id))
		}
		persisted.Stop()
	default:
	}

	m.finalize(s)
}

func (m *Manager) finalize(s *liveSession) {
	code, _ := s.handle.Exited()

	s.mu.Lock()
	s.info.Finish(code, s.terminateRequested.Load(), time.Now().UTC())
	info := s.info.Clone()
	s.mu.Unlock()

	m.save(info)
	if dropped := s.closeSinks(statusEvent(info)); dropped > 0 {
		m.sinksDropped(s, dropped)
	}

	m.metrics.SessionEnded(string(info.Status))
	m.publish(events.SessionEnded, info, map[string]any{
		"status":    string(info.Status),
		"exit_code": code,
	})
	m.logger.Info("Session ended",
		zap.String("session_id", info.ID),
		zap.String("tool", info.ToolName),
		zap.String("status", string(info.Status)),
		zap.Int("exit_code", code))

	close(s.finished)

	s.mu.Lock()
	s.reapTimer = time.AfterFunc(m.cfg.Retention, func() { m.reap(s.id) })
	s.mu.Unlock()
}

func (m *Manager) reap(sessionID string) {
	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()
	m.logger.Debug("Session reaped", zap.String("session_id", sessionID))
}

func (m *Manager) sinksDropped(s *liveSession, n int) {
	for range n {
		m.metrics.IncSinksDropped()
	}
	m.logger.Warn("Dropped slow subscribers",
		zap.String("session_id", s.id),
		zap.Int("count", n))
}

func (m *Manager) save(info session.Session) {
	if m.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := m.store.Save(ctx, info); err != nil {
		m.metrics.RecordStoreError("save")
		m.logger.Warn("Failed to persist session",
			zap.String("session_id", info.ID),
			zap.String("status", string(info.Status)),
			zap.Error(err))
	}
}

func (m *Manager) appendTranscript(sessionID string, chunk []byte) {
	if m.store == nil || len(chunk) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := m.store.AppendTranscript(ctx, sessionID, chunk); err != nil {
		m.metrics.RecordStoreError("append")
		m.logger.Warn("Failed to persist transcript chunk",
			zap.String("session_id", sessionID),
			zap.Int("bytes", len(chunk)),
			zap.Error(err))
	}
}

func (m *Manager) publish(typ events.Type, info session.Session, data map[string]any) {
	data["session_id"] = info.ID
	if err := m.publisher.Publish(context.Background(), events.New(typ, "terminal", data)); err != nil {
		m.logger.Debug("Failed to publish session event",
			zap.String("session_id", info.ID),
			zap.String("type", string(typ)),
			zap.Error(err))
	}
}
