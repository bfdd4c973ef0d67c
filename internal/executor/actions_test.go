package executor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/v0xg/screenplay/internal/errs"
)

func TestParseActionKind(t *testing.T) {
	for _, k := range ActionKinds {
		got, err := ParseActionKind(" " + string(k) + " ")
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}

	_, err := ParseActionKind("drag")
	assert.True(t, errs.Is(err, errs.ActionKindUnknown))
	_, err = ParseActionKind("")
	assert.True(t, errs.Is(err, errs.ActionKindUnknown))
}

func TestStepFieldFallbacks(t *testing.T) {
	basic := Step{StateDescription: "login form", Action: LeftClick, Outcome: "password field focused"}
	assert.Equal(t, "password field focused", basic.Target())
	assert.Equal(t, "login form", basic.ContextText())
	assert.Equal(t, "password field focused", basic.Expected())

	rich := Step{Purpose: "focus password", Context: "login page", StateDescription: "ignored", Outcome: "caret blinks"}
	assert.Equal(t, "focus password", rich.Target())
	assert.Equal(t, "login page", rich.ContextText())
	assert.Equal(t, "caret blinks", rich.Expected())

	assert.Equal(t, "focus", Step{Purpose: "focus"}.Expected())
}

func TestParsePlanShapes(t *testing.T) {
	obj := `{"os": "windows", "steps": [
		{"step_number": 1, "app": "Explorer", "action": "double_click", "purpose": "open folder X", "context": "desktop"},
		{"state_description": "folder open", "action": "keyboard_input", "outcome": "file renamed"}
	]}`
	plan, err := ParsePlan([]byte(obj))
	require.NoError(t, err)
	assert.Equal(t, "windows", plan.OS)
	require.Len(t, plan.Steps, 2)
	assert.Equal(t, Step{Number: 1, App: "Explorer", Action: DoubleClick, Purpose: "open folder X", Context: "desktop"}, plan.Steps[0])
	assert.Equal(t, KeyboardInput, plan.Steps[1].Action)
	require.NoError(t, plan.Validate())

	arr := `[{"action": "hover", "outcome": "tooltip"}]`
	plan, err = ParsePlan([]byte(arr))
	require.NoError(t, err)
	require.Len(t, plan.Steps, 1)
	assert.Equal(t, Hover, plan.Steps[0].Action)

	empty, err := ParsePlan([]byte(`{"steps": []}`))
	require.NoError(t, err)
	assert.Empty(t, empty.Steps)
}

func TestParsePlanErrors(t *testing.T) {
	_, err := ParsePlan([]byte(`{"os": "linux"}`))
	assert.True(t, errs.Is(err, errs.Decode), err)

	_, err = ParsePlan([]byte(`not json`))
	assert.True(t, errs.Is(err, errs.Decode), err)
}

func TestPlanValidate(t *testing.T) {
	plan := &Plan{Steps: []Step{{Action: LeftClick}, {Number: 7, Action: "swipe"}}}
	err := plan.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step 7")
	assert.True(t, errs.Is(err, errs.ActionKindUnknown))
}

func TestPlanNumbered(t *testing.T) {
	plan := &Plan{Steps: []Step{{Action: LeftClick}, {Number: 9, Action: Hover}, {Action: RightClick}}}
	got := plan.Numbered()
	assert.Equal(t, []int{1, 9, 3}, []int{got.Steps[0].Number, got.Steps[1].Number, got.Steps[2].Number})
	assert.Zero(t, plan.Steps[0].Number, "original untouched")
}

func TestLoadPlan(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "plan.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(`
os: windows
steps:
  - step_number: 1
    action: left_click
    purpose: Start menu
  - action: keyboard_input
    purpose: search box
    outcome: results listed
`), 0o644))
	plan, err := LoadPlan(yamlPath)
	require.NoError(t, err)
	require.Len(t, plan.Steps, 2)
	assert.Equal(t, "Start menu", plan.Steps[0].Purpose)
	assert.Equal(t, KeyboardInput, plan.Steps[1].Action)

	ymlPath := filepath.Join(dir, "bare.yml")
	require.NoError(t, os.WriteFile(ymlPath, []byte("- action: hover\n  outcome: tooltip\n"), 0o644))
	plan, err = LoadPlan(ymlPath)
	require.NoError(t, err)
	require.Len(t, plan.Steps, 1)

	jsonPath := filepath.Join(dir, "plan.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"steps": [{"action": "right_click"}]}`), 0o644))
	plan, err = LoadPlan(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, RightClick, plan.Steps[0].Action)

	_, err = LoadPlan(filepath.Join(dir, "missing.json"))
	assert.True(t, errs.Is(err, errs.IO))
}
