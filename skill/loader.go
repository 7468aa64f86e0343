package skill

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DirLoader loads skill manifests from a directory. Every *.yaml or
// *.yml file is one skill; the file name (without extension) is the
// default skill name when the manifest omits one.
type DirLoader struct {
	// Dir is the manifest directory.
	Dir string
}

// Load reads all manifests in the directory.
func (l DirLoader) Load(ctx context.Context) ([]Skill, error) {
	entries, err := os.ReadDir(l.Dir)
	if err != nil {
		return nil, fmt.Errorf("reading skill directory: %w", err)
	}

	var skills []Skill
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		path := filepath.Join(l.Dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading skill manifest %s: %w", path, err)
		}

		var s Skill
		if err := yaml.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrSkillInvalid, path, err)
		}
		if s.Name == "" {
			s.Name = strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		}
		s.Source = path
		skills = append(skills, s)
	}
	return skills, nil
}

var _ Loader = DirLoader{}
