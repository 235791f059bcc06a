package permission

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"
)

// policyFile is the on-disk shape of a policy:
//
//	protect_sensitive_dirs: true
//	allowed_dirs: [/srv/project]
//	rules:
//	  - pattern: "git status"
//	    effect: allow
//	  - pattern: "*"
//	    effect: deny
type policyFile struct {
	ProtectSensitiveDirs *bool      `json:"protect_sensitive_dirs" yaml:"protect_sensitive_dirs" toml:"protect_sensitive_dirs"`
	AllowedDirs          []string   `json:"allowed_dirs" yaml:"allowed_dirs" toml:"allowed_dirs"`
	Rules                []ruleFile `json:"rules" yaml:"rules" toml:"rules"`
}

type ruleFile struct {
	Pattern     string `json:"pattern" yaml:"pattern" toml:"pattern"`
	Effect      string `json:"effect" yaml:"effect" toml:"effect"`
	Description string `json:"description" yaml:"description" toml:"description"`
}

// LoadFile reads a YAML, TOML or JSON policy. Options are applied after the
// file's own settings, so callers can tighten what the file says.
func LoadFile(path string, opts ...Option) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	return Parse(data, formatOf(path), opts...)
}

// Parse decodes a policy document in the given format ("yaml", "toml" or
// "json").
func Parse(data []byte, format string, opts ...Option) (*Policy, error) {
	var doc policyFile
	switch format {
	case "yaml":
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse YAML policy: %w", err)
		}
	case "toml":
		if err := toml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse TOML policy: %w", err)
		}
	case "json":
		if err := sonic.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse JSON policy: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported policy format %q", format)
	}

	if len(doc.Rules) == 0 {
		return nil, fmt.Errorf("%w: policy has no rules", ErrInvalidPattern)
	}

	rules := make([]Rule, 0, len(doc.Rules))
	for i, rf := range doc.Rules {
		var effect Effect
		if err := effect.UnmarshalText([]byte(rf.Effect)); err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		rules = append(rules, Rule{Pattern: rf.Pattern, Effect: effect, Description: rf.Description})
	}

	fileOpts := []Option{WithAllowedDirs(doc.AllowedDirs...)}
	if doc.ProtectSensitiveDirs != nil {
		fileOpts = append(fileOpts, WithSensitiveDirProtection(*doc.ProtectSensitiveDirs))
	}
	return New(rules, append(fileOpts, opts...)...)
}

func formatOf(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	case ".toml":
		return "toml"
	case ".json":
		return "json"
	default:
		return strings.TrimPrefix(filepath.Ext(path), ".")
	}
}
