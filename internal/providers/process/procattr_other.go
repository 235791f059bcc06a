//go:build !linux

package process

import "syscall"

func groupAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

func ttyAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{}
}
