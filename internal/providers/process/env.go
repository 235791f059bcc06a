package process

import (
	"os"
	"sort"
)

// DefaultEnvAllowList names the parent variables a child may inherit.
var DefaultEnvAllowList = []string{
	"PATH", "HOME", "USER", "LOGNAME", "SHELL",
	"LANG", "LC_ALL", "TERM", "TMPDIR", "TZ",
}

const (
	fallbackPath = "/usr/local/bin:/usr/bin:/bin"
	ptyTerm      = "xterm-256color"
)

// buildEnv copies allow-listed variables from the parent, applies overrides
// and returns a sorted KEY=VALUE list.
func buildEnv(allow []string, overrides map[string]string, tty bool) []string {
	vars := make(map[string]string, len(allow)+len(overrides)+1)
	for _, key := range allow {
		if v, ok := os.LookupEnv(key); ok {
			vars[key] = v
		}
	}
	if _, ok := vars["PATH"]; !ok {
		vars["PATH"] = fallbackPath
	}
	if tty {
		vars["TERM"] = ptyTerm
	}
	for k, v := range overrides {
		if k == "" {
			continue
		}
		vars[k] = v
	}

	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+vars[k])
	}
	return env
}
