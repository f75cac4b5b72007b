package services

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

var (
	atSkillRe = regexp.MustCompile(`@([a-zA-Z0-9_-]+)`)
	domainRe  = regexp.MustCompile(`([a-z0-9]+(-[a-z0-9]+)*\.)+[a-z]{2,}`)
)

// Planner translates a free-text goal into a skill plus parameters using
// rules only: an explicit @skill-name mention wins, then keyword buckets,
// then relevance search over the skill index. No inference is spent on
// planning.
type Planner struct {
	logger *slog.Logger
	skills *SkillRegistry
}

func NewPlanner(logger *slog.Logger, skills *SkillRegistry) *Planner {
	return &Planner{logger: logger, skills: skills}
}

// Plan returns the chosen skill name, the job parameters, and the extracted
// target.
func (p *Planner) Plan(goal string) (string, map[string]any, string, error) {
	goal = strings.TrimSpace(goal)
	if goal == "" {
		return "", nil, "", fmt.Errorf("empty goal")
	}

	target := extractTarget(goal)
	params := map[string]any{"goal": goal, "target": target}

	// Explicit @skill-name invocation.
	if m := atSkillRe.FindStringSubmatch(goal); m != nil {
		if skill, err := p.skills.Get(m[1]); err == nil {
			p.logger.Info("explicit skill requested", "skill", skill.Name)
			return skill.Name, params, target, nil
		}
		p.logger.Warn("requested skill not found, falling back to rules", "skill", m[1])
	}

	lower := strings.ToLower(goal)
	for _, rule := range planRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				p.logger.Info("rule matched goal", "skill", rule.skill, "keyword", kw)
				if _, err := p.skills.Get(rule.skill); err == nil {
					return rule.skill, params, target, nil
				}
				// Rule points at a skill that is not installed; keep trying.
				break
			}
		}
	}

	if skill, score, ok := p.skills.FindRelevant(goal, 2); ok {
		p.logger.Info("relevance match", "skill", skill.Name, "score", score)
		return skill.Name, params, target, nil
	}

	return "", nil, "", fmt.Errorf("no skill matches goal %q", goal)
}

type planRule struct {
	skill    string
	keywords []string
}

// planRules routes common goal phrasings to the built-in skill chains.
var planRules = []planRule{
	{skill: "recon_osint", keywords: []string{"scan", "recon", "domain", "vuln", "nuclei"}},
	{skill: "dev_ops", keywords: []string{"git", "clone", "deploy", "lint"}},
	{skill: "autonomous_coder", keywords: []string{"code", "script", "app", "python"}},
	{skill: "osint_mapping", keywords: []string{"breach", "social", "darkweb", "email"}},
}

func extractTarget(goal string) string {
	if m := domainRe.FindString(strings.ToLower(goal)); m != "" {
		return m
	}
	return "unknown"
}
