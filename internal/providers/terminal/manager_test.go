package terminal

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nocodo/nocodo/backend/internal/domain/permission"
	"github.com/nocodo/nocodo/backend/internal/domain/session"
	"github.com/nocodo/nocodo/backend/internal/domain/tools"
	"github.com/nocodo/nocodo/backend/internal/infrastructure/events"
	"github.com/nocodo/nocodo/backend/internal/infrastructure/events/eventstest"
	"github.com/nocodo/nocodo/backend/internal/infrastructure/store"
	"github.com/nocodo/nocodo/backend/internal/providers/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireBash(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("bash"); err != nil {
		t.Skip("bash not available")
	}
}

func script(name, body string) tools.Descriptor {
	return tools.Descriptor{Name: name, Command: "bash", Args: []string{"-c", body}, RequiresPTY: true}
}

var testTools = []tools.Descriptor{
	{Name: "shell", Command: "bash", Args: []string{"--norc", "--noprofile"}, RequiresPTY: true},
	{Name: "pinned", Command: "bash", Args: []string{"--norc", "--noprofile"}, RequiresPTY: true,
		WorkingDirPolicy: tools.WorkingDirRoot},
	{Name: "lister", Command: "ls", RequiresPTY: false},
	script("exit3", "exit 3"),
	script("hello", "echo persisted"),
	script("stubborn", "trap '' TERM; echo ready; sleep 30"),
	script("chatty", "for i in $(seq 1 2000); do echo line-$i; done"),
}

type fixture struct {
	m        *Manager
	root     string
	recorder *eventstest.Recorder
}

func newFixture(t *testing.T, policy *permission.Policy, cfg Config, opts ...Option) fixture {
	t.Helper()
	requireBash(t)

	spawner, err := process.NewSpawner(t.TempDir())
	require.NoError(t, err)
	registry, err := tools.NewRegistry(testTools)
	require.NoError(t, err)
	if policy == nil {
		policy, err = permission.OnlyAllow([]string{"*"})
		require.NoError(t, err)
	}
	if cfg.KillGrace == 0 {
		cfg.KillGrace = 200 * time.Millisecond
	}

	rec := eventstest.NewRecorder()
	m := NewManager(spawner, registry, policy, cfg, append(opts, WithPublisher(rec))...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Close(ctx)
	})
	return fixture{m: m, root: spawner.Root(), recorder: rec}
}

func (f fixture) create(t *testing.T, req CreateRequest) session.Session {
	t.Helper()
	info, err := f.m.Create(context.Background(), req)
	require.NoError(t, err)
	return info
}

func (f fixture) waitDone(t *testing.T, sessionID string, within time.Duration) session.Session {
	t.Helper()
	done, err := f.m.Done(sessionID)
	require.NoError(t, err)
	select {
	case <-done:
	case <-time.After(within):
		t.Fatalf("session %s did not finish within %s", sessionID, within)
	}
	info, err := f.m.Get(context.Background(), sessionID)
	require.NoError(t, err)
	return info
}

// waitOutput reads sub until its output contains want.
func waitOutput(t *testing.T, sub *Subscription, want string) {
	t.Helper()
	var out bytes.Buffer
	out.Write(sub.Snapshot)
	deadline := time.After(5 * time.Second)
	for !strings.Contains(out.String(), want) {
		select {
		case ev, ok := <-sub.Events():
			require.True(t, ok, "feed closed before %q appeared: %q", want, out.String())
			if ev.Kind == EventOutput {
				out.Write(ev.Data)
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q in %q", want, out.String())
		}
	}
}

func TestCreateDefaultsAndResize(t *testing.T) {
	f := newFixture(t, nil, Config{})

	info := f.create(t, CreateRequest{ToolName: "shell"})
	assert.Equal(t, session.StatusRunning, info.Status)
	assert.Equal(t, uint16(80), info.Cols)
	assert.Equal(t, uint16(24), info.Rows)
	assert.Equal(t, f.root, info.WorkingDir)
	assert.True(t, strings.HasPrefix(info.ID, "sess_"))

	sub, err := f.m.Subscribe(info.ID)
	require.NoError(t, err)
	defer f.m.Unsubscribe(sub)

	require.NoError(t, f.m.Resize(info.ID, 100, 40))
	got, err := f.m.Get(context.Background(), info.ID)
	require.NoError(t, err)
	assert.Equal(t, uint16(100), got.Cols)
	assert.Equal(t, uint16(40), got.Rows)

	require.NoError(t, f.m.Input(info.ID, []byte("stty size\n")))
	waitOutput(t, sub, "40 100")

	assert.ErrorIs(t, f.m.Resize(info.ID, 0, 40), ErrInvalidSize)
	assert.Len(t, f.recorder.OfType(events.SessionResized), 1)
}

func TestResizeEventReachesSubscribers(t *testing.T) {
	f := newFixture(t, nil, Config{})
	info := f.create(t, CreateRequest{ToolName: "shell", Cols: 90, Rows: 30})

	sub, err := f.m.Subscribe(info.ID)
	require.NoError(t, err)
	defer f.m.Unsubscribe(sub)

	require.NoError(t, f.m.Resize(info.ID, 120, 50))
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-sub.Events():
			if ev.Kind == EventResize {
				assert.Equal(t, uint16(120), ev.Cols)
				assert.Equal(t, uint16(50), ev.Rows)
				return
			}
		case <-deadline:
			t.Fatal("no resize event")
		}
	}
}

func TestFinishedSessionRejectsOperations(t *testing.T) {
	f := newFixture(t, nil, Config{})
	info := f.create(t, CreateRequest{ToolName: "exit3"})

	final := f.waitDone(t, info.ID, 5*time.Second)
	assert.Equal(t, session.StatusFailed, final.Status)
	require.NotNil(t, final.ExitCode)
	assert.Equal(t, 3, *final.ExitCode)
	assert.NotNil(t, final.EndedAt)

	assert.ErrorIs(t, f.m.Input(info.ID, []byte("x")), ErrInvalidState)
	assert.ErrorIs(t, f.m.Resize(info.ID, 100, 40), ErrInvalidState)
	assert.ErrorIs(t, f.m.Terminate(info.ID), ErrInvalidState)

	after, err := f.m.Get(context.Background(), info.ID)
	require.NoError(t, err)
	assert.Equal(t, uint16(80), after.Cols)
	assert.Equal(t, uint16(24), after.Rows)

	ended := f.recorder.OfType(events.SessionEnded)
	require.Len(t, ended, 1)
	assert.Equal(t, "failed", ended[0].Data["status"])
}

func TestCompletedSession(t *testing.T) {
	f := newFixture(t, nil, Config{})
	info := f.create(t, CreateRequest{ToolName: "hello"})

	final := f.waitDone(t, info.ID, 5*time.Second)
	assert.Equal(t, session.StatusCompleted, final.Status)
	require.NotNil(t, final.ExitCode)
	assert.Equal(t, 0, *final.ExitCode)

	data, truncated, err := f.m.Transcript(context.Background(), info.ID)
	require.NoError(t, err)
	assert.False(t, truncated)
	assert.Contains(t, string(data), "persisted")
}

func TestTerminateStubbornChild(t *testing.T) {
	grace := 200 * time.Millisecond
	f := newFixture(t, nil, Config{KillGrace: grace})
	info := f.create(t, CreateRequest{ToolName: "stubborn"})

	sub, err := f.m.Subscribe(info.ID)
	require.NoError(t, err)
	waitOutput(t, sub, "ready")

	start := time.Now()
	require.NoError(t, f.m.Terminate(info.ID))
	require.NoError(t, f.m.Terminate(info.ID), "repeat requests while stopping are accepted")

	final := f.waitDone(t, info.ID, 5*time.Second)
	elapsed := time.Since(start)

	assert.Equal(t, session.StatusTerminated, final.Status)
	require.NotNil(t, final.ExitCode)
	assert.Equal(t, 137, *final.ExitCode)
	assert.GreaterOrEqual(t, elapsed, grace)
	assert.Less(t, elapsed, grace+3*time.Second)
}

func TestPathEscapeSpawnsNothing(t *testing.T) {
	f := newFixture(t, nil, Config{})

	_, err := f.m.Create(context.Background(), CreateRequest{ToolName: "shell", WorkingDir: "../../etc"})
	assert.ErrorIs(t, err, process.ErrPathEscape)
	assert.Empty(t, f.m.List())
	assert.Empty(t, f.recorder.OfType(events.SessionStarted))
}

func TestWorkingDirPolicies(t *testing.T) {
	f := newFixture(t, nil, Config{})
	require.NoError(t, os.Mkdir(filepath.Join(f.root, "sub"), 0o755))

	info := f.create(t, CreateRequest{ToolName: "shell", WorkingDir: "sub"})
	assert.Equal(t, filepath.Join(f.root, "sub"), info.WorkingDir)

	_, err := f.m.Create(context.Background(), CreateRequest{ToolName: "pinned", WorkingDir: "sub"})
	assert.ErrorIs(t, err, process.ErrPathEscape)

	pinned := f.create(t, CreateRequest{ToolName: "pinned"})
	assert.Equal(t, f.root, pinned.WorkingDir)
}

func TestCreateDenied(t *testing.T) {
	policy, err := permission.OnlyAllow([]string{"bash -c *"})
	require.NoError(t, err)
	f := newFixture(t, policy, Config{})

	tests := []struct {
		name string
		tool string
	}{
		{name: "unknown tool", tool: "nope"},
		{name: "non terminal tool", tool: "lister"},
		{name: "command denied", tool: "shell"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.m.Create(context.Background(), CreateRequest{ToolName: tt.tool})
			assert.ErrorIs(t, err, permission.ErrDenied)
		})
	}

	assert.Empty(t, f.m.List())
	denied := f.recorder.OfType(events.PermissionDenied)
	require.Len(t, denied, 3)
	assert.Equal(t, "session", denied[0].Data["surface"])
}

func TestUnknownSession(t *testing.T) {
	f := newFixture(t, nil, Config{})

	assert.ErrorIs(t, f.m.Input("sess_missing", []byte("x")), ErrSessionNotFound)
	assert.ErrorIs(t, f.m.Resize("sess_missing", 10, 10), ErrSessionNotFound)
	assert.ErrorIs(t, f.m.Terminate("sess_missing"), ErrSessionNotFound)
	_, err := f.m.Get(context.Background(), "sess_missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, _, err = f.m.Transcript(context.Background(), "sess_missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = f.m.Subscribe("sess_missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestIdleTimeoutTerminates(t *testing.T) {
	f := newFixture(t, nil, Config{IdleTimeout: 300 * time.Millisecond})
	info := f.create(t, CreateRequest{ToolName: "shell"})

	final := f.waitDone(t, info.ID, 5*time.Second)
	assert.Equal(t, session.StatusTerminated, final.Status)
}

func TestSubscribeSeesEveryByteOnce(t *testing.T) {
	f := newFixture(t, nil, Config{})
	info := f.create(t, CreateRequest{ToolName: "chatty"})

	time.Sleep(5 * time.Millisecond)
	sub, err := f.m.Subscribe(info.ID)
	require.NoError(t, err)

	var got bytes.Buffer
	got.Write(sub.Snapshot)
	var last Event
	for ev := range sub.Events() {
		if ev.Kind == EventOutput {
			got.Write(ev.Data)
		}
		last = ev
	}
	require.False(t, sub.Dropped())
	assert.Equal(t, EventStatus, last.Kind)
	assert.Equal(t, session.StatusCompleted, last.Status)

	final, truncated, err := f.m.Transcript(context.Background(), info.ID)
	require.NoError(t, err)
	assert.False(t, truncated)
	assert.Equal(t, string(final), got.String())
	assert.Contains(t, got.String(), "line-2000")
}

func TestTranscriptCap(t *testing.T) {
	f := newFixture(t, nil, Config{TranscriptCap: 1024})
	info := f.create(t, CreateRequest{ToolName: "chatty"})
	f.waitDone(t, info.ID, 5*time.Second)

	data, truncated, err := f.m.Transcript(context.Background(), info.ID)
	require.NoError(t, err)
	assert.True(t, truncated)
	assert.Len(t, data, 1024)
	assert.Contains(t, string(data), "line-2000")
}

func TestSlowSubscriberIsDropped(t *testing.T) {
	f := newFixture(t, nil, Config{SinkQueue: 1})
	info := f.create(t, CreateRequest{ToolName: "chatty"})

	slow, err := f.m.Subscribe(info.ID)
	require.NoError(t, err)
	f.waitDone(t, info.ID, 5*time.Second)

	assert.True(t, slow.Dropped())
	for range slow.Events() {
	}
}

func TestSubscribeAfterFinish(t *testing.T) {
	f := newFixture(t, nil, Config{})
	info := f.create(t, CreateRequest{ToolName: "exit3"})
	f.waitDone(t, info.ID, 5*time.Second)

	sub, err := f.m.Subscribe(info.ID)
	require.NoError(t, err)

	ev, ok := <-sub.Events()
	require.True(t, ok)
	assert.Equal(t, EventStatus, ev.Kind)
	assert.Equal(t, session.StatusFailed, ev.Status)
	_, ok = <-sub.Events()
	assert.False(t, ok)
}

func TestUnsubscribeClosesFeed(t *testing.T) {
	f := newFixture(t, nil, Config{})
	info := f.create(t, CreateRequest{ToolName: "shell"})

	sub, err := f.m.Subscribe(info.ID)
	require.NoError(t, err)
	f.m.Unsubscribe(sub)

	assert.Eventually(t, func() bool {
		select {
		case _, ok := <-sub.Events():
			return !ok
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
	assert.False(t, sub.Dropped())
}

func TestReapedSessionFallsBackToStore(t *testing.T) {
	mem := store.NewMemory(store.MemoryConfig{})
	f := newFixture(t, nil, Config{Retention: 50 * time.Millisecond}, WithStore(mem))
	info := f.create(t, CreateRequest{ToolName: "hello"})
	f.waitDone(t, info.ID, 5*time.Second)

	require.Eventually(t, func() bool {
		_, err := f.m.lookup(info.ID)
		return err != nil
	}, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, f.m.List())

	got, err := f.m.Get(context.Background(), info.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusCompleted, got.Status)

	data, _, err := f.m.Transcript(context.Background(), info.ID)
	require.NoError(t, err)
	assert.Contains(t, string(data), "persisted")
}

func TestReapedTranscriptStaysCapped(t *testing.T) {
	mem := store.NewMemory(store.MemoryConfig{TranscriptCap: 1024})
	f := newFixture(t, nil, Config{TranscriptCap: 1024, Retention: 50 * time.Millisecond}, WithStore(mem))
	info := f.create(t, CreateRequest{ToolName: "chatty"})
	f.waitDone(t, info.ID, 10*time.Second)

	require.Eventually(t, func() bool {
		_, err := f.m.lookup(info.ID)
		return err != nil
	}, 2*time.Second, 10*time.Millisecond)

	rec, err := mem.Load(context.Background(), info.ID)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(rec.Transcript), 1024)
	assert.True(t, rec.Truncated)

	data, truncated, err := f.m.Transcript(context.Background(), info.ID)
	require.NoError(t, err)
	assert.Len(t, data, 1024)
	assert.True(t, truncated)
}

// stalledStore holds every transcript append until release is closed.
type stalledStore struct {
	*store.Memory
	release chan struct{}
}

func (s *stalledStore) AppendTranscript(ctx context.Context, sessionID string, chunk []byte) error {
	select {
	case <-s.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.Memory.AppendTranscript(ctx, sessionID, chunk)
}

func TestStalledStoreDoesNotBlockOutput(t *testing.T) {
	mem := store.NewMemory(store.MemoryConfig{})
	slow := &stalledStore{Memory: mem, release: make(chan struct{})}
	f := newFixture(t, nil, Config{FlushThreshold: 64}, WithStore(slow))
	info := f.create(t, CreateRequest{ToolName: "chatty"})

	sub, err := f.m.Subscribe(info.ID)
	require.NoError(t, err)
	defer f.m.Unsubscribe(sub)
	waitOutput(t, sub, "line-2000")

	close(slow.release)
	f.waitDone(t, info.ID, 10*time.Second)

	live, truncated, err := f.m.Transcript(context.Background(), info.ID)
	require.NoError(t, err)
	assert.False(t, truncated)

	rec, err := mem.Load(context.Background(), info.ID)
	require.NoError(t, err)
	assert.Equal(t, string(live), string(rec.Transcript))
	assert.False(t, rec.Truncated)
}

func TestOfferKeepsTailWhenQueueIsFull(t *testing.T) {
	m := NewManager(nil, nil, nil, Config{TranscriptCap: 8})
	s := &liveSession{id: "sess_full", persist: make(chan []byte)}

	pending := m.offer(s, []byte("0123456789abcdef"))
	assert.Equal(t, "89abcdef", string(pending))

	pending = m.offer(s, []byte("short"))
	assert.Equal(t, "short", string(pending))

	got := make(chan []byte, 1)
	go func() { got <- <-s.persist }()
	assert.Eventually(t, func() bool {
		return m.offer(s, []byte("queued")) == nil
	}, time.Second, time.Millisecond)
	assert.Equal(t, "queued", string(<-got))
}

func TestReapedSessionWithoutStore(t *testing.T) {
	f := newFixture(t, nil, Config{Retention: 50 * time.Millisecond})
	info := f.create(t, CreateRequest{ToolName: "hello"})
	f.waitDone(t, info.ID, 5*time.Second)

	require.Eventually(t, func() bool {
		_, err := f.m.Get(context.Background(), info.ID)
		return err != nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestLifecycleEvents(t *testing.T) {
	f := newFixture(t, nil, Config{})
	info := f.create(t, CreateRequest{ToolName: "hello"})
	f.waitDone(t, info.ID, 5*time.Second)

	started := f.recorder.OfType(events.SessionStarted)
	require.Len(t, started, 1)
	assert.Equal(t, info.ID, started[0].Data["session_id"])
	assert.Equal(t, "hello", started[0].Data["tool"])

	ended := f.recorder.OfType(events.SessionEnded)
	require.Len(t, ended, 1)
	assert.Equal(t, "completed", ended[0].Data["status"])
}

func TestListOrdersByStart(t *testing.T) {
	f := newFixture(t, nil, Config{})
	first := f.create(t, CreateRequest{ToolName: "shell"})
	second := f.create(t, CreateRequest{ToolName: "shell"})

	list := f.m.List()
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID)
	assert.Equal(t, second.ID, list[1].ID)
}

func TestCloseTerminatesSessions(t *testing.T) {
	f := newFixture(t, nil, Config{})
	info := f.create(t, CreateRequest{ToolName: "shell"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.m.Close(ctx))

	got, err := f.m.Get(context.Background(), info.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusTerminated, got.Status)

	_, err = f.m.Create(context.Background(), CreateRequest{ToolName: "shell"})
	assert.ErrorIs(t, err, ErrManagerClosed)
}
