// Package bash runs one-shot shell commands for the agent tool loop.
//
// A call is checked against the permission policy before anything is
// spawned, runs under `bash -c` in its own process group and is raced
// against a deadline. On expiry the group gets SIGTERM, then SIGKILL after
// the grace period; output captured up to that point is still returned.
// Each stream keeps at most MaxOutputBytes and flags the rest as truncated.
package bash
