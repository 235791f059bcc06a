//go:build linux

package process

import "syscall"

// groupAttr puts a pipe-mode child in a fresh process group. The child is
// killed if the server dies first.
func groupAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGKILL,
	}
}

// ttyAttr is completed by pty.StartWithSize, which adds Setsid and Setctty.
func ttyAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Pdeathsig: syscall.SIGKILL,
	}
}
