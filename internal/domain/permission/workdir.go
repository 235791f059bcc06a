package permission

import (
	"fmt"
	"path/filepath"
	"strings"
)

// SensitiveDirs are never valid working directories while protection is on.
var SensitiveDirs = []string{
	"/etc",
	"/boot",
	"/sys",
	"/proc",
	"/dev",
	"/root",
	"/var/run",
	"/var/log",
}

// CheckWorkingDir rejects sensitive system directories and, when an allow
// list was configured, anything outside it. dir should already be absolute
// and canonical; containment inside the project root is the spawner's job.
func (p *Policy) CheckWorkingDir(dir string) error {
	if p == nil {
		return fmt.Errorf("%w: no policy installed", ErrDenied)
	}
	if dir == "" {
		return nil
	}
	clean := filepath.Clean(dir)

	if len(p.allowedDirs) > 0 {
		allowed := false
		for _, a := range p.allowedDirs {
			if within(clean, a) {
				allowed = true
				break
			}
		}
		if !allowed {
			return fmt.Errorf("%w: working directory %q not in allowed list", ErrDenied, clean)
		}
	}

	if p.protectSensitive {
		for _, s := range SensitiveDirs {
			if within(clean, s) {
				return fmt.Errorf("%w: access to sensitive directory %q", ErrDenied, s)
			}
		}
	}
	return nil
}

// AllowedDirs returns the configured allow list.
func (p *Policy) AllowedDirs() []string {
	out := make([]string, len(p.allowedDirs))
	copy(out, p.allowedDirs)
	return out
}

// within compares by path component so /etcetera is not inside /etc.
func within(dir, root string) bool {
	if dir == root {
		return true
	}
	if root == string(filepath.Separator) {
		return strings.HasPrefix(dir, root)
	}
	return strings.HasPrefix(dir, root+string(filepath.Separator))
}
