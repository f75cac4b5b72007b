package services

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/louisjham/hexstrike-ai/internal/core/domain"
)

// SkillRegistry loads skill definitions from a directory of YAML files and
// serves them by name or by keyword relevance. Definitions are immutable
// once loaded; Reload swaps the whole index.
type SkillRegistry struct {
	logger *slog.Logger
	dir    string

	mu     sync.RWMutex
	byName map[string]domain.Skill
	index  []domain.Skill
}

func NewSkillRegistry(logger *slog.Logger, dir string) *SkillRegistry {
	return &SkillRegistry{
		logger: logger,
		dir:    dir,
		byName: make(map[string]domain.Skill),
	}
}

// Load reads every *.yaml file in the skills directory. Files that fail to
// parse or validate are skipped with a warning so one bad definition does
// not take down the registry.
func (r *SkillRegistry) Load() error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return fmt.Errorf("read skills dir %s: %w", r.dir, err)
	}

	byName := make(map[string]domain.Skill)
	var index []domain.Skill

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		path := filepath.Join(r.dir, e.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			r.logger.Warn("skipping unreadable skill file", "path", path, "error", err)
			continue
		}

		var skill domain.Skill
		if err := yaml.Unmarshal(raw, &skill); err != nil {
			r.logger.Warn("skipping malformed skill file", "path", path, "error", err)
			continue
		}
		if skill.Name == "" {
			skill.Name = strings.TrimSuffix(e.Name(), ".yaml")
		}
		skill.Normalize()
		if err := skill.Validate(); err != nil {
			r.logger.Warn("skipping invalid skill", "path", path, "error", err)
			continue
		}

		byName[strings.ToLower(skill.Name)] = skill
		index = append(index, skill)
	}

	r.mu.Lock()
	r.byName = byName
	r.index = index
	r.mu.Unlock()

	r.logger.Info("skills loaded", "count", len(index), "dir", r.dir)
	return nil
}

// Get fetches a skill by name, ignoring case.
func (r *SkillRegistry) Get(name string) (domain.Skill, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	skill, ok := r.byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return domain.Skill{}, fmt.Errorf("%w: %s", domain.ErrSkillNotFound, name)
	}
	return skill, nil
}

// List returns all loaded skills.
func (r *SkillRegistry) List() []domain.Skill {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Skill, len(r.index))
	copy(out, r.index)
	return out
}

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "how": {}, "to": {}, "do": {}, "i": {},
	"can": {}, "you": {}, "for": {}, "with": {}, "on": {}, "in": {},
	"and": {}, "or": {}, "test": {}, "write": {}, "build": {},
}

// FindRelevant scores every skill against the goal's keywords: a name match
// weighs three, a description match one. Returns false below minScore.
func (r *SkillRegistry) FindRelevant(goal string, minScore int) (domain.Skill, int, bool) {
	keywords := goalKeywords(goal)
	if len(keywords) == 0 {
		return domain.Skill{}, 0, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var best domain.Skill
	bestScore := 0
	for _, skill := range r.index {
		name := strings.ToLower(skill.Name)
		desc := strings.ToLower(skill.Description)
		score := 0
		for kw := range keywords {
			if strings.Contains(name, kw) {
				score += 3
			}
			if strings.Contains(desc, kw) {
				score++
			}
		}
		if score > bestScore {
			bestScore = score
			best = skill
		}
	}

	if bestScore < minScore {
		return domain.Skill{}, bestScore, false
	}
	return best, bestScore, true
}

func goalKeywords(goal string) map[string]struct{} {
	cleaned := strings.NewReplacer("-", " ", "_", " ").Replace(strings.ToLower(goal))
	keywords := make(map[string]struct{})
	for _, w := range strings.Fields(cleaned) {
		if _, skip := stopWords[w]; skip {
			continue
		}
		keywords[w] = struct{}{}
	}
	return keywords
}
