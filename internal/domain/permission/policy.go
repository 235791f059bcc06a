package permission

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

var (
	// ErrDenied is returned when a command or directory is not allow-listed.
	ErrDenied = errors.New("permission denied")
	// ErrInvalidPattern is returned when a policy is built from a malformed glob.
	ErrInvalidPattern = errors.New("invalid permission pattern")
)

// Effect is the outcome of evaluating a command.
type Effect int

const (
	Deny Effect = iota
	Allow
)

// String returns the lowercase name of the effect
func (e Effect) String() string {
	if e == Allow {
		return "allow"
	}
	return "deny"
}

// MarshalText lets policy files spell effects as "allow" / "deny".
func (e Effect) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

// UnmarshalText parses "allow" or "deny".
func (e *Effect) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "allow":
		*e = Allow
	case "deny":
		*e = Deny
	default:
		return fmt.Errorf("unknown effect %q", text)
	}
	return nil
}

// Rule is one ordered glob rule.
type Rule struct {
	Pattern     string `json:"pattern" yaml:"pattern" toml:"pattern"`
	Effect      Effect `json:"effect" yaml:"effect" toml:"effect"`
	Description string `json:"description,omitempty" yaml:"description,omitempty" toml:"description,omitempty"`
}

// AllowRule builds an allow rule.
func AllowRule(pattern, description string) Rule {
	return Rule{Pattern: pattern, Effect: Allow, Description: description}
}

// DenyRule builds a deny rule.
func DenyRule(pattern, description string) Rule {
	return Rule{Pattern: pattern, Effect: Deny, Description: description}
}

// Decision explains an evaluation for logs and error messages.
type Decision struct {
	Effect Effect
	Rule   *Rule
	Reason string
}

// Allowed reports whether the decision permits execution.
func (d Decision) Allowed() bool {
	return d.Effect == Allow
}

// Err converts a deny decision into an error wrapping ErrDenied.
func (d Decision) Err() error {
	if d.Allowed() {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrDenied, d.Reason)
}

// Policy is an immutable, validated rule list plus working-directory limits.
// The zero value denies everything.
type Policy struct {
	rules            []Rule
	compiled         []string
	allowedDirs      []string
	protectSensitive bool
}

// Option customises a policy at construction time.
type Option func(*Policy)

// WithAllowedDirs restricts working directories to the given trees.
// An empty list leaves directories unrestricted apart from sensitive ones.
func WithAllowedDirs(dirs ...string) Option {
	return func(p *Policy) {
		for _, d := range dirs {
			if d = strings.TrimSpace(d); d != "" {
				p.allowedDirs = append(p.allowedDirs, filepath.Clean(d))
			}
		}
	}
}

// WithSensitiveDirProtection toggles denial of system directories such as /etc.
func WithSensitiveDirProtection(enabled bool) Option {
	return func(p *Policy) {
		p.protectSensitive = enabled
	}
}

// New validates every pattern and builds a policy. Sensitive directory
// protection is on unless an option turns it off.
func New(rules []Rule, opts ...Option) (*Policy, error) {
	p := &Policy{
		rules:            make([]Rule, len(rules)),
		compiled:         make([]string, len(rules)),
		protectSensitive: true,
	}
	copy(p.rules, rules)

	for i, r := range p.rules {
		compiled, err := compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		p.compiled[i] = compiled
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// MustNew is New for built-in rule sets that are known to be valid.
func MustNew(rules []Rule, opts ...Option) *Policy {
	p, err := New(rules, opts...)
	if err != nil {
		panic(err)
	}
	return p
}

// Rules returns a copy of the ordered rules.
func (p *Policy) Rules() []Rule {
	out := make([]Rule, len(p.rules))
	copy(out, p.rules)
	return out
}

// Evaluate returns the effect of the first rule matching the whole command,
// or Deny when nothing matches.
func (p *Policy) Evaluate(command string) Effect {
	return p.Decide(command).Effect
}

// Decide is Evaluate with the matching rule attached.
func (p *Policy) Decide(command string) Decision {
	if p == nil {
		return Decision{Effect: Deny, Reason: "no policy installed"}
	}
	subject, ok := normalize(command)
	if !ok {
		return Decision{Effect: Deny, Reason: "empty or malformed command"}
	}
	for i, pattern := range p.compiled {
		if matched, _ := doublestar.Match(pattern, subject); matched {
			rule := p.rules[i]
			return Decision{
				Effect: rule.Effect,
				Rule:   &rule,
				Reason: describe(rule),
			}
		}
	}
	return Decision{Effect: Deny, Reason: "no rule matched; default deny"}
}

// Check evaluates the command and then the working directory.
func (p *Policy) Check(command, workingDir string) Decision {
	d := p.Decide(command)
	if !d.Allowed() {
		return d
	}
	if err := p.CheckWorkingDir(workingDir); err != nil {
		return Decision{Effect: Deny, Reason: err.Error()}
	}
	return d
}

// Evaluate checks a command against an ad-hoc rule list. A list holding any
// pattern that does not compile denies everything, as New would refuse it.
func Evaluate(command string, rules []Rule) Effect {
	subject, ok := normalize(command)
	if !ok {
		return Deny
	}
	compiled := make([]string, len(rules))
	for i, r := range rules {
		c, err := compile(r.Pattern)
		if err != nil {
			return Deny
		}
		compiled[i] = c
	}
	for i, pattern := range compiled {
		if matched, _ := doublestar.Match(pattern, subject); matched {
			return rules[i].Effect
		}
	}
	return Deny
}

func describe(r Rule) string {
	if r.Description != "" {
		return fmt.Sprintf("rule %q (%s)", r.Pattern, r.Description)
	}
	return fmt.Sprintf("rule %q", r.Pattern)
}
