package tools

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"
)

var (
	// ErrUnknownTool is returned for names missing from the registry.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrInvalidDescriptor is returned when a registry entry cannot be used.
	ErrInvalidDescriptor = errors.New("invalid tool descriptor")
)

// WorkingDirPolicy controls which directory a tool session starts in.
type WorkingDirPolicy string

const (
	// WorkingDirProject resolves the caller's ref inside the project root;
	// an empty ref means the root itself.
	WorkingDirProject WorkingDirPolicy = "project"
	// WorkingDirRoot pins the tool to the project root.
	WorkingDirRoot WorkingDirPolicy = "root"
)

// Descriptor is a validated registry entry.
type Descriptor struct {
	Name             string           `json:"name" yaml:"name" toml:"name"`
	Command          string           `json:"command" yaml:"command" toml:"command"`
	Args             []string         `json:"args" yaml:"args" toml:"args"`
	RequiresPTY      bool             `json:"requires_pty" yaml:"requires_pty" toml:"requires_pty"`
	WorkingDirPolicy WorkingDirPolicy `json:"working_dir_policy" yaml:"working_dir_policy" toml:"working_dir_policy"`
	Description      string           `json:"description" yaml:"description" toml:"description"`
}

// CommandLine is the string the permission engine evaluates.
func (d Descriptor) CommandLine() string {
	if len(d.Args) == 0 {
		return d.Command
	}
	return d.Command + " " + strings.Join(d.Args, " ")
}

var namePattern = regexp.MustCompile(`^[a-z][a-z0-9_-]{0,63}$`)

func (d *Descriptor) validate() error {
	if !namePattern.MatchString(d.Name) {
		return fmt.Errorf("%w: name %q must be lowercase alphanumeric", ErrInvalidDescriptor, d.Name)
	}
	if strings.TrimSpace(d.Command) == "" {
		return fmt.Errorf("%w: tool %q has no command", ErrInvalidDescriptor, d.Name)
	}
	switch d.WorkingDirPolicy {
	case "":
		d.WorkingDirPolicy = WorkingDirProject
	case WorkingDirProject, WorkingDirRoot:
	default:
		return fmt.Errorf("%w: tool %q has unknown working_dir_policy %q", ErrInvalidDescriptor, d.Name, d.WorkingDirPolicy)
	}
	return nil
}

// Registry is the immutable set of tools that may be launched by name.
type Registry struct {
	tools map[string]Descriptor
	names []string
}

// NewRegistry validates descriptors and rejects duplicates.
func NewRegistry(descriptors []Descriptor) (*Registry, error) {
	r := &Registry{tools: make(map[string]Descriptor, len(descriptors))}
	for _, d := range descriptors {
		d.Args = append([]string(nil), d.Args...)
		if err := d.validate(); err != nil {
			return nil, err
		}
		if _, exists := r.tools[d.Name]; exists {
			return nil, fmt.Errorf("%w: duplicate tool %q", ErrInvalidDescriptor, d.Name)
		}
		r.tools[d.Name] = d
		r.names = append(r.names, d.Name)
	}
	sort.Strings(r.names)
	return r, nil
}

// Default returns the built-in interactive coding agents.
func Default() *Registry {
	r, err := NewRegistry([]Descriptor{
		{
			Name:             "claude",
			Command:          "claude",
			Args:             []string{"--print"},
			RequiresPTY:      true,
			WorkingDirPolicy: WorkingDirProject,
			Description:      "Claude coding agent",
		},
		{
			Name:             "gemini",
			Command:          "gemini",
			Args:             []string{"--interactive"},
			RequiresPTY:      true,
			WorkingDirPolicy: WorkingDirProject,
			Description:      "Gemini coding agent",
		},
		{
			Name:             "qwen",
			Command:          "qwen-code",
			Args:             []string{"--interactive"},
			RequiresPTY:      true,
			WorkingDirPolicy: WorkingDirProject,
			Description:      "Qwen coding agent",
		},
	})
	if err != nil {
		panic(err)
	}
	return r
}

// Lookup returns the descriptor registered under name.
func (r *Registry) Lookup(name string) (Descriptor, error) {
	d, ok := r.tools[name]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}
	d.Args = append([]string(nil), d.Args...)
	return d, nil
}

// Names lists registered tool names in sorted order. Commands and
// arguments are deliberately not exposed.
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

// Interactive lists tools that can back a terminal session.
func (r *Registry) Interactive() []string {
	var out []string
	for _, n := range r.names {
		if r.tools[n].RequiresPTY {
			out = append(out, n)
		}
	}
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	return len(r.names)
}

type registryFile struct {
	Tools []Descriptor `json:"tools" yaml:"tools" toml:"tools"`
}

// LoadFile reads a YAML, TOML or JSON registry:
//
//	tools:
//	  - name: claude
//	    command: claude
//	    args: ["--print"]
//	    requires_pty: true
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tool registry: %w", err)
	}

	var doc registryFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &doc)
	case ".toml":
		err = toml.Unmarshal(data, &doc)
	case ".json":
		err = sonic.Unmarshal(data, &doc)
	default:
		return nil, fmt.Errorf("unsupported tool registry format %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse tool registry %s: %w", path, err)
	}
	if len(doc.Tools) == 0 {
		return nil, fmt.Errorf("%w: %s defines no tools", ErrInvalidDescriptor, path)
	}
	return NewRegistry(doc.Tools)
}
