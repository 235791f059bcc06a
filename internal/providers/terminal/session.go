package terminal

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/nocodo/nocodo/backend/internal/domain/session"
	"github.com/nocodo/nocodo/backend/internal/domain/tools"
	"github.com/nocodo/nocodo/backend/internal/providers/process"
)

// liveSession is the in-memory side of one PTY session.
type liveSession struct {
	id         string
	tool       tools.Descriptor
	handle     *process.PtyHandle
	transcript *Transcript

	mu        sync.Mutex
	info      session.Session
	reapTimer *time.Timer

	// sinkMu orders transcript writes against subscriber registration.
	sinkMu      sync.Mutex
	sinks       map[string]*sink
	sinksClosed bool
	truncNoted  bool

	writeMu            sync.Mutex
	activity           chan struct{}
	stopOnce           sync.Once
	terminateRequested atomic.Bool
	pumpDone           chan struct{}
	finished           chan struct{}

	// persist carries transcript batches from the pump to the store writer.
	persist     chan []byte
	persistDone chan struct{}
}

func newLiveSession(info session.Session, tool tools.Descriptor, h *process.PtyHandle, transcriptCap int) *liveSession {
	return &liveSession{
		id:         info.ID,
		tool:       tool,
		handle:     h,
		transcript: NewTranscript(transcriptCap),
		info:       info,
		sinks:      make(map[string]*sink),
		activity:   make(chan struct{}, 1),
		pumpDone:   make(chan struct{}),
		finished:   make(chan struct{}),

		persist:     make(chan []byte, persistQueue),
		persistDone: make(chan struct{}),
	}
}

func (s *liveSession) snapshot() session.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info.Clone()
}

func (s *liveSession) running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info.Status == session.StatusRunning
}

func (s *liveSession) touch() {
	select {
	case s.activity <- struct{}{}:
	default:
	}
}

// record appends output to the transcript and fans it out. It returns
// whether the transcript dropped bytes for the first time and the number of
// sinks cut off.
func (s *liveSession) record(chunk []byte) (firstTruncation bool, dropped int) {
	s.sinkMu.Lock()
	defer s.sinkMu.Unlock()

	_, _ = s.transcript.Write(chunk)
	if !s.truncNoted && s.transcript.Truncated() {
		s.truncNoted = true
		firstTruncation = true
	}
	return firstTruncation, s.broadcastLocked(Event{Kind: EventOutput, Data: chunk})
}

func (s *liveSession) broadcast(ev Event) int {
	s.sinkMu.Lock()
	defer s.sinkMu.Unlock()
	return s.broadcastLocked(ev)
}

// broadcastLocked never blocks. A sink whose queue is full is closed and
// removed.
func (s *liveSession) broadcastLocked(ev Event) int {
	if s.sinksClosed {
		return 0
	}
	dropped := 0
	for id, k := range s.sinks {
		select {
		case k.ch <- ev:
		default:
			k.dropped.Store(true)
			close(k.ch)
			delete(s.sinks, id)
			dropped++
		}
	}
	return dropped
}

// closeSinks delivers the final event and closes every feed. Later
// subscribers get the final event directly.
func (s *liveSession) closeSinks(final Event) int {
	s.sinkMu.Lock()
	defer s.sinkMu.Unlock()
	dropped := s.broadcastLocked(final)
	for id, k := range s.sinks {
		close(k.ch)
		delete(s.sinks, id)
	}
	s.sinksClosed = true
	return dropped
}

func (s *liveSession) subscribe(k *sink) (snapshot []byte, truncated bool) {
	s.sinkMu.Lock()
	defer s.sinkMu.Unlock()

	snapshot, truncated = s.transcript.Snapshot()
	if s.sinksClosed {
		k.ch <- statusEvent(s.snapshot())
		close(k.ch)
		return snapshot, truncated
	}
	s.sinks[k.id] = k
	return snapshot, truncated
}

func (s *liveSession) unsubscribe(sinkID string) {
	s.sinkMu.Lock()
	defer s.sinkMu.Unlock()
	if k, ok := s.sinks[sinkID]; ok {
		close(k.ch)
		delete(s.sinks, sinkID)
	}
}

func statusEvent(info session.Session) Event {
	return Event{
		Kind:     EventStatus,
		Status:   info.Status,
		ExitCode: info.ExitCode,
		Cols:     info.Cols,
		Rows:     info.Rows,
	}
}
