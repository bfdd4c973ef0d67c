package executor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/v0xg/screenplay/internal/errs"
	"gopkg.in/yaml.v3"
)

// ActionKind is the input primitive a step performs
type ActionKind string

const (
	LeftClick     ActionKind = "left_click"
	RightClick    ActionKind = "right_click"
	DoubleClick   ActionKind = "double_click"
	Hover         ActionKind = "hover"
	KeyboardInput ActionKind = "keyboard_input"
)

// ActionKinds lists every supported kind, in schema order
var ActionKinds = []ActionKind{LeftClick, RightClick, DoubleClick, Hover, KeyboardInput}

// ParseActionKind returns the kind named s or an ACTION_KIND_UNKNOWN error
func ParseActionKind(s string) (ActionKind, error) {
	k := ActionKind(strings.TrimSpace(s))
	if !k.Valid() {
		return "", errs.New(errs.ActionKindUnknown, "unknown action kind %q", s)
	}
	return k, nil
}

// Valid reports whether k is one of ActionKinds
func (k ActionKind) Valid() bool {
	switch k {
	case LeftClick, RightClick, DoubleClick, Hover, KeyboardInput:
		return true
	}
	return false
}

func (k ActionKind) String() string { return string(k) }

// Step is one planned user action. Plans come in two shapes: the short one
// carries state_description/action/outcome, the long one adds step_number,
// app, purpose and context.
type Step struct {
	Number           int        `json:"step_number,omitempty" yaml:"step_number,omitempty"`
	App              string     `json:"app,omitempty" yaml:"app,omitempty"`
	Action           ActionKind `json:"action" yaml:"action"`
	Purpose          string     `json:"purpose,omitempty" yaml:"purpose,omitempty"`
	Context          string     `json:"context,omitempty" yaml:"context,omitempty"`
	StateDescription string     `json:"state_description,omitempty" yaml:"state_description,omitempty"`
	Outcome          string     `json:"outcome,omitempty" yaml:"outcome,omitempty"`
}

// Target is the element description handed to the locator
func (s Step) Target() string {
	if s.Purpose != "" {
		return s.Purpose
	}
	return s.Outcome
}

// ContextText is the free-text screen context handed to the locator
func (s Step) ContextText() string {
	if s.Context != "" {
		return s.Context
	}
	return s.StateDescription
}

// Expected is the outcome a verifier should look for
func (s Step) Expected() string {
	if s.Outcome != "" {
		return s.Outcome
	}
	return s.Purpose
}

// Plan is the step list produced by synthesis and consumed by replay
type Plan struct {
	OS    string `json:"os,omitempty" yaml:"os,omitempty"`
	Steps []Step `json:"steps" yaml:"steps"`
}

// Validate rejects plans carrying an action kind outside ActionKinds
func (p *Plan) Validate() error {
	for i, s := range p.Steps {
		if _, err := ParseActionKind(string(s.Action)); err != nil {
			return fmt.Errorf("step %d: %w", stepLabel(i, s), err)
		}
	}
	return nil
}

// Numbered fills in missing step numbers with their 1-based position
func (p *Plan) Numbered() *Plan {
	out := &Plan{OS: p.OS, Steps: make([]Step, len(p.Steps))}
	for i, s := range p.Steps {
		if s.Number == 0 {
			s.Number = i + 1
		}
		out.Steps[i] = s
	}
	return out
}

func stepLabel(i int, s Step) int {
	if s.Number > 0 {
		return s.Number
	}
	return i + 1
}

// LoadPlan reads a plan from a .json, .yaml or .yml file. Both an object with
// a steps key and a bare step array are accepted.
func LoadPlan(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(errs.IO, err, "read plan %s", path)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return decodePlan(data, yaml.Unmarshal)
	default:
		return decodePlan(data, json.Unmarshal)
	}
}

// ParsePlan decodes a JSON plan
func ParsePlan(data []byte) (*Plan, error) {
	return decodePlan(data, json.Unmarshal)
}

func decodePlan(data []byte, unmarshal func([]byte, any) error) (*Plan, error) {
	var plan Plan
	objErr := unmarshal(data, &plan)
	if objErr == nil && plan.Steps != nil {
		return &plan, nil
	}

	var steps []Step
	if err := unmarshal(data, &steps); err == nil {
		return &Plan{Steps: steps}, nil
	}

	if objErr != nil {
		return nil, errs.Wrap(errs.Decode, objErr, "decode plan")
	}
	return nil, errs.New(errs.Decode, "plan has no steps")
}
