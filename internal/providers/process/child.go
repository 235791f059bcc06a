package process

import (
	"errors"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"
)

// child is the lifecycle core shared by both handle kinds.
type child struct {
	command string
	cmd     *exec.Cmd
	pid     int
	started time.Time

	done     chan struct{}
	exitCode int
	waitErr  error
}

func newChild(command string, cmd *exec.Cmd) child {
	return child{
		command: command,
		cmd:     cmd,
		pid:     cmd.Process.Pid,
		started: time.Now(),
		done:    make(chan struct{}),
	}
}

// Pid returns the child pid, which is also its process group id.
func (c *child) Pid() int { return c.pid }

// Command returns the command line that was started.
func (c *child) Command() string { return c.command }

// StartedAt returns the spawn time.
func (c *child) StartedAt() time.Time { return c.started }

// Done is closed once the child has exited and its group has been reaped.
func (c *child) Done() <-chan struct{} { return c.done }

// Wait blocks until the child exits and returns its exit code. A child
// killed by a signal reports 128 plus the signal number.
func (c *child) Wait() (int, error) {
	<-c.done
	return c.exitCode, c.waitErr
}

// Exited reports the exit code without blocking.
func (c *child) Exited() (int, bool) {
	select {
	case <-c.done:
		return c.exitCode, true
	default:
		return 0, false
	}
}

// Signal delivers sig to the whole process group. Signalling a group that
// is already gone is not an error.
func (c *child) Signal(sig syscall.Signal) error {
	select {
	case <-c.done:
		return nil
	default:
	}
	return killGroup(c.pid, sig)
}

// Terminate sends SIGTERM to the group, waits up to grace for the child to
// exit and then sends SIGKILL. It returns once the child is gone.
func (c *child) Terminate(grace time.Duration) error {
	if err := c.Signal(unix.SIGTERM); err != nil {
		return err
	}
	if grace > 0 {
		timer := time.NewTimer(grace)
		defer timer.Stop()
		select {
		case <-c.done:
			return nil
		case <-timer.C:
		}
	}
	if err := c.Signal(unix.SIGKILL); err != nil {
		return err
	}
	<-c.done
	return nil
}

// finish records the exit status and kills whatever is left of the group.
func (c *child) finish(err error) {
	c.exitCode = exitCode(c.cmd.ProcessState)
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		c.waitErr = err
	}
	_ = killGroup(c.pid, unix.SIGKILL)
}

func killGroup(pgid int, sig syscall.Signal) error {
	if pgid <= 0 {
		return nil
	}
	err := unix.Kill(-pgid, sig)
	if err == nil || errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}

func exitCode(state *os.ProcessState) int {
	if state == nil {
		return -1
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return state.ExitCode()
}

// Handle is a pipe-mode child. Its output is copied into the writers given
// to Spawn; Done closes only after both copies have finished.
type Handle struct {
	child
}

// PtyHandle is a child attached to a pseudo-terminal. Reads and writes go to
// the master side.
type PtyHandle struct {
	child
	master    *os.File
	closeOnce sync.Once
	closeErr  error
}

func (h *PtyHandle) Read(p []byte) (int, error) {
	return h.master.Read(p)
}

func (h *PtyHandle) Write(p []byte) (int, error) {
	return h.master.Write(p)
}

// Resize changes the terminal window size, which also delivers SIGWINCH to
// the foreground group.
func (h *PtyHandle) Resize(cols, rows uint16) error {
	if cols == 0 || rows == 0 {
		return errors.New("terminal size must be non-zero")
	}
	return pty.Setsize(h.master, &pty.Winsize{Cols: cols, Rows: rows})
}

// Size reports the current window size.
func (h *PtyHandle) Size() (cols, rows uint16, err error) {
	ws, err := pty.GetsizeFull(h.master)
	if err != nil {
		return 0, 0, err
	}
	return ws.Cols, ws.Rows, nil
}

// Close releases the master. Pending reads return an error.
func (h *PtyHandle) Close() error {
	h.closeOnce.Do(func() {
		h.closeErr = h.master.Close()
	})
	return h.closeErr
}
