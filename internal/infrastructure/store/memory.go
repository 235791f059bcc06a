package store

import (
	"container/list"
	"context"
	"sync"

	"github.com/nocodo/nocodo/backend/internal/domain/session"
)

// MemoryConfig bounds the in-process store.
type MemoryConfig struct {
	// TranscriptCap is the number of most recent bytes kept per session.
	TranscriptCap int
	// MaxSessions is the number of records kept. Past it the least recently
	// saved finished session is evicted first.
	MaxSessions int
}

// DefaultMemoryConfig matches the terminal manager's defaults.
func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{
		TranscriptCap: 20 * 1024 * 1024,
		MaxSessions:   256,
	}
}

type memoryRecord struct {
	session    session.Session
	transcript []byte
	truncated  bool
	elem       *list.Element
}

// Memory keeps a bounded set of records in process. It is the default
// backend.
type Memory struct {
	cfg MemoryConfig

	mu      sync.RWMutex
	records map[string]*memoryRecord
	// order holds session ids, most recently saved at the front.
	order *list.List
}

// NewMemory creates an empty store. Zero fields in cfg take their defaults.
func NewMemory(cfg MemoryConfig) *Memory {
	def := DefaultMemoryConfig()
	if cfg.TranscriptCap <= 0 {
		cfg.TranscriptCap = def.TranscriptCap
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = def.MaxSessions
	}
	return &Memory{
		cfg:     cfg,
		records: make(map[string]*memoryRecord),
		order:   list.New(),
	}
}

func (m *Memory) Save(_ context.Context, s session.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r, ok := m.records[s.ID]; ok {
		r.session = s.Clone()
		m.order.MoveToFront(r.elem)
		return nil
	}
	r := &memoryRecord{session: s.Clone()}
	r.elem = m.order.PushFront(s.ID)
	m.records[s.ID] = r
	m.evictLocked()
	return nil
}

// AppendTranscript keeps only the newest TranscriptCap bytes. Chunks for
// sessions the store does not hold are discarded.
func (m *Memory) AppendTranscript(_ context.Context, sessionID string, chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.records[sessionID]
	if !ok {
		return nil
	}
	limit := m.cfg.TranscriptCap
	if len(chunk) >= limit {
		r.transcript = append(r.transcript[:0], chunk[len(chunk)-limit:]...)
		r.truncated = true
		return nil
	}
	r.transcript = append(r.transcript, chunk...)
	if over := len(r.transcript) - limit; over > 0 {
		n := copy(r.transcript, r.transcript[over:])
		r.transcript = r.transcript[:n]
		r.truncated = true
	}
	return nil
}

func (m *Memory) Load(_ context.Context, sessionID string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.records[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return &Record{
		Session:    r.session.Clone(),
		Transcript: append([]byte(nil), r.transcript...),
		Truncated:  r.truncated,
	}, nil
}

// Len reports how many records are held.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

func (m *Memory) Close() error { return nil }

func (m *Memory) evictLocked() {
	for len(m.records) > m.cfg.MaxSessions {
		victim := m.order.Back()
		for e := m.order.Back(); e != nil; e = e.Prev() {
			if m.records[e.Value.(string)].session.Status.Finished() {
				victim = e
				break
			}
		}
		id := m.order.Remove(victim).(string)
		delete(m.records, id)
	}
}
