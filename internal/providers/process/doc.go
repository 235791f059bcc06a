// Package process spawns OS processes for the bash executor and the terminal
// manager.
//
// Every child runs in its own process group so the whole subtree can be
// signalled with kill(-pgid, sig). Pipe mode uses Setpgid; PTY mode starts the
// child as a session leader on the new terminal, which gives it a group id
// equal to its pid.
//
// Working directories are resolved against a canonical project root and must
// stay inside it after symlinks are evaluated. The child environment is built
// from a fixed allow-list rather than inherited wholesale.
package process
