package synth

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/v0xg/screenplay/internal/ai"
	"github.com/v0xg/screenplay/internal/errs"
	"github.com/v0xg/screenplay/internal/executor"
	"github.com/v0xg/screenplay/internal/frames"
	"go.uber.org/zap/zaptest"
)

type fakeProvider struct {
	reply string
	err   error
	calls []ai.Request
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Complete(_ context.Context, req ai.Request) (string, error) {
	f.calls = append(f.calls, req)
	return f.reply, f.err
}

func selected(n int) []frames.SelectedFrame {
	out := make([]frames.SelectedFrame, n)
	for i := range out {
		out[i] = frames.SelectedFrame{Index: i * 15, PNG: []byte{0x89, byte(i)}}
	}
	return out
}

func TestSynthesize(t *testing.T) {
	p := &fakeProvider{reply: `{"steps": [
		{"state_description": "desktop", "action": "double_click", "outcome": "folder X opens"},
		{"state_description": "folder X", "action": "keyboard_input", "outcome": "file renamed"}
	]}`}

	plan, err := New(p, zaptest.NewLogger(t), WithOS("windows")).Synthesize(context.Background(), selected(3))
	require.NoError(t, err)

	assert.Equal(t, "windows", plan.OS)
	require.Len(t, plan.Steps, 2)
	assert.Equal(t, executor.Step{Number: 1, Action: executor.DoubleClick, StateDescription: "desktop", Outcome: "folder X opens"}, plan.Steps[0])
	assert.Equal(t, executor.KeyboardInput, plan.Steps[1].Action)
	assert.Equal(t, 2, plan.Steps[1].Number)

	require.Len(t, p.calls, 1)
	req := p.calls[0]
	assert.Equal(t, "synthesize", req.Operation)
	assert.Equal(t, "video_explanation", req.Schema.Name)
	assert.Equal(t, defaultMaxTokens, req.MaxTokens)
	assert.Contains(t, req.Prompt, "windows")
	require.Len(t, req.Images, 3)
	for i, img := range req.Images {
		assert.Equal(t, []byte{0x89, byte(i)}, img.Data, "frame order")
	}
}

func TestSynthesizeNoFrames(t *testing.T) {
	p := &fakeProvider{}
	plan, err := New(p, nil).Synthesize(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, plan.Steps)
	assert.NotNil(t, plan.Steps)
	assert.Empty(t, p.calls)
}

func TestSynthesizeUnknownAction(t *testing.T) {
	p := &fakeProvider{reply: `{"steps": [{"state_description": "", "action": "scroll", "outcome": ""}]}`}
	_, err := New(p, nil).Synthesize(context.Background(), selected(1))
	require.Error(t, err)
	assert.Equal(t, errs.Decode, errs.CodeOf(err))
	assert.Contains(t, err.Error(), "step 1")
}

func TestSynthesizeBadReply(t *testing.T) {
	p := &fakeProvider{reply: "sorry, I can't help with that"}
	_, err := New(p, nil).Synthesize(context.Background(), selected(1))
	assert.True(t, errs.Is(err, errs.Decode))
}

func TestSynthesizeProviderError(t *testing.T) {
	p := &fakeProvider{err: errors.New("quota exceeded")}
	_, err := New(p, nil, WithMaxTokens(512)).Synthesize(context.Background(), selected(2))
	assert.ErrorContains(t, err, "quota exceeded")
	assert.Equal(t, 512, p.calls[0].MaxTokens)
}

func TestSchemaEnumeratesActionKinds(t *testing.T) {
	def := videoExplanationSchema().Definition
	raw, err := json.Marshal(&def)
	require.NoError(t, err)

	var doc struct {
		Properties struct {
			Steps struct {
				Items struct {
					Properties struct {
						Action struct {
							Enum []string `json:"enum"`
						} `json:"action"`
					} `json:"properties"`
					Required []string `json:"required"`
				} `json:"items"`
			} `json:"steps"`
		} `json:"properties"`
	}
	require.NoError(t, json.Unmarshal(raw, &doc))

	items := doc.Properties.Steps.Items
	assert.Equal(t, []string{"left_click", "right_click", "double_click", "hover", "keyboard_input"}, items.Properties.Action.Enum)
	assert.ElementsMatch(t, []string{"state_description", "action", "outcome"}, items.Required)
}
