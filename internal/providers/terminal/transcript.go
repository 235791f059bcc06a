package terminal

import "sync"

// Transcript is a bounded record of a session's output. Once full, the
// oldest bytes are overwritten and the truncated flag is set.
type Transcript struct {
	mu        sync.RWMutex
	data      []byte
	size      int
	head      int // oldest byte once full
	full      bool
	truncated bool
}

// NewTranscript creates a transcript holding at most size bytes. Storage
// grows on demand up to size.
func NewTranscript(size int) *Transcript {
	if size <= 0 {
		size = 1
	}
	return &Transcript{size: size}
}

// Write appends p, dropping the oldest bytes beyond the cap.
func (t *Transcript) Write(p []byte) (int, error) {
	n := len(p)
	if n == 0 {
		return 0, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if n >= t.size {
		if n > t.size || len(t.data) > 0 {
			t.truncated = true
		}
		if cap(t.data) < t.size {
			t.data = make([]byte, t.size)
		}
		t.data = t.data[:t.size]
		copy(t.data, p[n-t.size:])
		t.head = 0
		t.full = true
		return n, nil
	}

	if !t.full {
		room := t.size - len(t.data)
		if n <= room {
			t.data = append(t.data, p...)
			t.full = len(t.data) == t.size
			return n, nil
		}
		t.data = append(t.data, p[:room]...)
		p = p[room:]
		t.full = true
		t.head = 0
	}

	// Overwrite the oldest bytes in place.
	t.truncated = true
	k := copy(t.data[t.head:], p)
	if k < len(p) {
		copy(t.data, p[k:])
	}
	t.head = (t.head + len(p)) % t.size
	return n, nil
}

// Snapshot returns a copy of the retained bytes, oldest first, and whether
// anything was dropped.
func (t *Transcript) Snapshot() ([]byte, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]byte, 0, len(t.data))
	if t.full {
		out = append(out, t.data[t.head:]...)
		out = append(out, t.data[:t.head]...)
	} else {
		out = append(out, t.data...)
	}
	return out, t.truncated
}

// Len returns the number of retained bytes.
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.data)
}

// Truncated reports whether output has been dropped.
func (t *Transcript) Truncated() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.truncated
}

// tail returns the last size bytes of b, used when replaying a persisted
// transcript under the same cap.
func tail(b []byte, size int) ([]byte, bool) {
	if len(b) <= size {
		return b, false
	}
	return b[len(b)-size:], true
}
