// Package terminal manages interactive PTY sessions for registered tools.
//
// A session is created from a tool registry entry, checked against the
// permission policy and spawned on a fresh pseudo-terminal. One pump
// goroutine per session reads the master, appends to a bounded transcript
// and fans output out to subscribers; a supervisor goroutine watches for
// exit and idleness.
//
// Lifecycle:
//
//	created -> running -> completed | failed | terminated
//
// Subscribers get the transcript snapshot and their live feed atomically,
// so a viewer that attaches mid-session sees every byte exactly once. Each
// subscriber has a bounded queue; one that falls behind is dropped rather
// than slowing the pump.
//
// Finished sessions stay queryable for a retention period and are then
// reaped. With a store configured, the record and transcript remain
// available afterwards.
package terminal
