package session

import (
	"fmt"
	"time"
)

// Status is a lifecycle state.
type Status string

const (
	StatusCreated    Status = "created"
	StatusRunning    Status = "running"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusTerminated Status = "terminated"
)

func (s Status) rank() int {
	switch s {
	case StatusCreated:
		return 0
	case StatusRunning:
		return 1
	case StatusCompleted, StatusFailed, StatusTerminated:
		return 2
	default:
		return -1
	}
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s.rank() >= 0
}

// Finished reports whether s is terminal.
func (s Status) Finished() bool {
	return s.rank() == 2
}

// CanTransition reports whether from -> to moves the machine forward.
// Terminal states never change again.
func CanTransition(from, to Status) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	return to.rank() == from.rank()+1
}

// ParseStatus converts a stored string back into a Status.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown session status %q", s)
	}
	return st, nil
}

// Session is the externally visible state of one PTY session.
type Session struct {
	ID         string     `json:"id"`
	ToolName   string     `json:"tool_name"`
	Status     Status     `json:"status"`
	Cols       uint16     `json:"cols"`
	Rows       uint16     `json:"rows"`
	WorkingDir string     `json:"working_dir"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at"`
	ExitCode   *int       `json:"exit_code"`
}

// Transition moves the session to a new status, stamping EndedAt when the
// session finishes. It returns false and leaves s untouched otherwise.
func (s *Session) Transition(to Status, at time.Time) bool {
	if !CanTransition(s.Status, to) {
		return false
	}
	s.Status = to
	if to.Finished() {
		ended := at
		s.EndedAt = &ended
	}
	return true
}

// Finish records the exit and the terminal status derived from it.
// A requested termination wins over whatever code the child died with.
func (s *Session) Finish(exitCode int, terminated bool, at time.Time) bool {
	to := StatusCompleted
	switch {
	case terminated:
		to = StatusTerminated
	case exitCode != 0:
		to = StatusFailed
	}
	if !s.Transition(to, at) {
		return false
	}
	code := exitCode
	s.ExitCode = &code
	return true
}

// Clone returns a deep copy safe to hand to other goroutines.
func (s Session) Clone() Session {
	if s.EndedAt != nil {
		t := *s.EndedAt
		s.EndedAt = &t
	}
	if s.ExitCode != nil {
		c := *s.ExitCode
		s.ExitCode = &c
	}
	return s
}
