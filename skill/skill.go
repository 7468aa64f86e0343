// Package skill defines the skill collaborator boundary: the records
// describing host-exposed capabilities, visibility filtering, and the
// loaders that supply them before an execution starts. Skill content is
// opaque here; the package never parses or validates it.
package skill

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Errors for skill operations.
var (
	// ErrSkillExists is returned when adding a duplicate skill name.
	ErrSkillExists = errors.New("skill already registered")

	// ErrSkillInvalid is returned for skills missing required fields.
	ErrSkillInvalid = errors.New("invalid skill")

	// ErrSkillNotFound is returned when looking up an unknown skill.
	ErrSkillNotFound = errors.New("skill not found")
)

// Skill describes one host-exposed capability a script may invoke as a
// tool. Read-only during an execution.
type Skill struct {
	// Name is the tool identifier scripts use to invoke the skill.
	Name string `yaml:"name"`

	// Description summarizes what the skill does.
	Description string `yaml:"description"`

	// Content is the skill body, opaque to this package.
	Content string `yaml:"content"`

	// Source records where the skill was loaded from.
	Source string `yaml:"-"`

	// Labels control who may invoke the skill. A skill with no labels
	// is visible to everyone.
	Labels []string `yaml:"labels"`
}

// HasLabel reports whether the skill carries the visibility label.
func (s Skill) HasLabel(label string) bool {
	for _, l := range s.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// Loader supplies skill records. Implementations run before the script
// engine starts; the engine never loads skills mid-execution.
type Loader interface {
	Load(ctx context.Context) ([]Skill, error)
}

// StaticLoader is a fixed list of skills, mostly for tests and wiring.
type StaticLoader []Skill

// Load returns a copy of the list.
func (l StaticLoader) Load(_ context.Context) ([]Skill, error) {
	return append([]Skill(nil), l...), nil
}

// Library indexes loaded skills and answers the universe of callable
// tool names.
type Library struct {
	mu     sync.RWMutex
	skills map[string]Skill
}

// NewLibrary creates an empty skill library.
func NewLibrary() *Library {
	return &Library{skills: make(map[string]Skill)}
}

// Add registers one skill.
func (l *Library) Add(s Skill) error {
	if s.Name == "" {
		return fmt.Errorf("%w: name is required", ErrSkillInvalid)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.skills[s.Name]; exists {
		return fmt.Errorf("%w: %s", ErrSkillExists, s.Name)
	}
	l.skills[s.Name] = s
	return nil
}

// LoadFrom adds every skill the loader supplies.
func (l *Library) LoadFrom(ctx context.Context, loader Loader) error {
	skills, err := loader.Load(ctx)
	if err != nil {
		return err
	}
	for _, s := range skills {
		if err := l.Add(s); err != nil {
			return err
		}
	}
	return nil
}

// Get retrieves a skill by name.
func (l *Library) Get(name string) (Skill, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.skills[name]
	if !ok {
		return Skill{}, fmt.Errorf("%w: %s", ErrSkillNotFound, name)
	}
	return s, nil
}

// Names returns all skill names sorted for deterministic output.
func (l *Library) Names() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.skills))
	for name := range l.skills {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Visible returns the skills a caller with the given label may invoke:
// unlabeled skills plus skills carrying the label. Results are sorted
// by name.
func (l *Library) Visible(label string) []Skill {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Skill, 0, len(l.skills))
	for _, s := range l.skills {
		if len(s.Labels) == 0 || s.HasLabel(label) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
