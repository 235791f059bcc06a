// Package permission decides whether a command string may run.
//
// A Policy is an ordered list of glob rules. The first rule whose pattern
// matches the whole command wins; when nothing matches the answer is Deny.
// Patterns use doublestar syntax except that '*' also crosses '/', so
// "cat *" covers "cat src/main.go". Every pattern is validated when the
// policy is built, so a policy that exists is a policy that evaluates.
//
//	policy, err := permission.OnlyAllow([]string{"git status", "go test*"})
//	if policy.Evaluate("go test ./...") == permission.Allow {
//		// run it
//	}
package permission
