package domain

import (
	"fmt"
	"strings"
)

// FailurePolicy decides what happens to the rest of a skill when a step fails.
type FailurePolicy string

const (
	FailContinue FailurePolicy = "continue"
	FailAbort    FailurePolicy = "abort"
)

// NotifyPolicy decides when a step emits an operator notification.
type NotifyPolicy string

const (
	NotifyAlways  NotifyPolicy = "always"
	NotifyOnError NotifyPolicy = "on_error"
	NotifyNever   NotifyPolicy = "never"
)

// GatePolicy decides whether a step blocks on a human decision first.
type GatePolicy string

const (
	GateNone    GatePolicy = "none"
	GateApprove GatePolicy = "approve"
)

// Step is a single unit of work in a skill. Exactly one of Tool or Prompt
// is set: Tool names a remote operation, Prompt routes through the cache
// gate and inference router at the given tier.
type Step struct {
	Name   string         `yaml:"name" json:"name"`
	Tool   string         `yaml:"tool,omitempty" json:"tool,omitempty"`
	Prompt string         `yaml:"prompt,omitempty" json:"prompt,omitempty"`
	Tier   Tier           `yaml:"tier,omitempty" json:"tier,omitempty"`
	Input  string         `yaml:"input,omitempty" json:"input,omitempty"`
	Output string         `yaml:"output" json:"output"`
	Params map[string]any `yaml:"params,omitempty" json:"params,omitempty"`
	OnFail FailurePolicy  `yaml:"on_fail,omitempty" json:"on_fail,omitempty"`
	Notify NotifyPolicy   `yaml:"notify,omitempty" json:"notify,omitempty"`
	Gate   GatePolicy     `yaml:"gate,omitempty" json:"gate,omitempty"`
}

// Skill is a declarative, ordered list of steps. Immutable once loaded
// for a run.
type Skill struct {
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Category    string   `yaml:"category,omitempty" json:"category,omitempty"`
	Steps       []Step   `yaml:"steps" json:"steps"`
	ResultKeys  []string `yaml:"result_keys,omitempty" json:"result_keys,omitempty"`
}

// Normalize fills in step defaults and derived names in place.
func (s *Skill) Normalize() {
	for i := range s.Steps {
		st := &s.Steps[i]
		if st.OnFail == "" {
			st.OnFail = FailContinue
		}
		if st.Notify == "" {
			st.Notify = NotifyAlways
		}
		if st.Gate == "" {
			st.Gate = GateNone
		}
		if st.Tier == "" {
			st.Tier = TierLow
		}
		if st.Name == "" {
			if st.Tool != "" {
				st.Name = st.Tool
			} else {
				st.Name = fmt.Sprintf("step-%d", i+1)
			}
		}
	}
}

// Validate checks a loaded skill for structural problems.
func (s *Skill) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("skill has no name")
	}
	for i, st := range s.Steps {
		if st.Tool == "" && st.Prompt == "" {
			return fmt.Errorf("skill %s step %d: neither tool nor prompt set", s.Name, i+1)
		}
		if st.Tool != "" && st.Prompt != "" {
			return fmt.Errorf("skill %s step %d: tool and prompt are mutually exclusive", s.Name, i+1)
		}
		if st.Output == "" {
			return fmt.Errorf("skill %s step %d: output key is required", s.Name, i+1)
		}
		switch st.OnFail {
		case FailContinue, FailAbort:
		default:
			return fmt.Errorf("skill %s step %d: unknown on_fail %q", s.Name, i+1, st.OnFail)
		}
		switch st.Notify {
		case NotifyAlways, NotifyOnError, NotifyNever:
		default:
			return fmt.Errorf("skill %s step %d: unknown notify %q", s.Name, i+1, st.Notify)
		}
		switch st.Gate {
		case GateNone, GateApprove:
		default:
			return fmt.Errorf("skill %s step %d: unknown gate %q", s.Name, i+1, st.Gate)
		}
	}
	return nil
}

// StepError records the failure of a single step without aborting the run.
type StepError struct {
	Step string `json:"step"`
	Err  string `json:"error"`
}

func (e StepError) String() string {
	return fmt.Sprintf("%s: %s", e.Step, e.Err)
}
