// Package synth turns selected key frames into a replayable Plan
package synth

import (
	"context"
	"fmt"

	"github.com/v0xg/screenplay/internal/ai"
	"github.com/v0xg/screenplay/internal/errs"
	"github.com/v0xg/screenplay/internal/executor"
	"github.com/v0xg/screenplay/internal/frames"
	"go.uber.org/zap"
)

const defaultMaxTokens = 2048

// Synthesizer asks a multimodal provider to describe the steps a recording
// shows
type Synthesizer struct {
	provider  ai.Provider
	os        string
	maxTokens int
	logger    *zap.Logger
}

// Option configures a Synthesizer
type Option func(*Synthesizer)

// WithOS records the operating system the video was captured on. It is
// passed to the model and stamped on the resulting plan.
func WithOS(os string) Option {
	return func(s *Synthesizer) { s.os = os }
}

// WithMaxTokens overrides the reply budget
func WithMaxTokens(n int) Option {
	return func(s *Synthesizer) {
		if n > 0 {
			s.maxTokens = n
		}
	}
}

// New returns a Synthesizer backed by p
func New(p ai.Provider, logger *zap.Logger, opts ...Option) *Synthesizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Synthesizer{provider: p, maxTokens: defaultMaxTokens, logger: logger.Named("synth")}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type explanation struct {
	Steps []struct {
		StateDescription string `json:"state_description"`
		Action           string `json:"action"`
		Outcome          string `json:"outcome"`
	} `json:"steps"`
}

// Synthesize sends the frames in order and decodes the reply into a Plan. No
// frames means nothing happened, so the plan is empty and no request is made.
func (s *Synthesizer) Synthesize(ctx context.Context, selected []frames.SelectedFrame) (*executor.Plan, error) {
	plan := &executor.Plan{OS: s.os, Steps: []executor.Step{}}
	if len(selected) == 0 {
		return plan, nil
	}

	images := make([]ai.Image, len(selected))
	for i, f := range selected {
		images[i] = ai.PNGImage(f.PNG)
	}

	reply, err := s.provider.Complete(ctx, ai.Request{
		Operation: "synthesize",
		System:    synthesizeSystemPrompt,
		Prompt:    buildSynthesizePrompt(len(selected), s.os),
		Images:    images,
		Schema:    videoExplanationSchema(),
		MaxTokens: s.maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("synthesize plan: %w", err)
	}

	out, err := ai.ParseJSON[explanation](reply)
	if err != nil {
		return nil, errs.Wrap(errs.Decode, err, "decode video explanation")
	}

	for i, st := range out.Steps {
		kind, err := executor.ParseActionKind(st.Action)
		if err != nil {
			return nil, errs.Wrap(errs.Decode, err, "step %d", i+1)
		}
		plan.Steps = append(plan.Steps, executor.Step{
			Number:           i + 1,
			Action:           kind,
			StateDescription: st.StateDescription,
			Outcome:          st.Outcome,
		})
	}

	s.logger.Info("Plan synthesized",
		zap.Int("frames", len(selected)),
		zap.Int("steps", len(plan.Steps)),
		zap.String("provider", s.provider.Name()))
	return plan, nil
}
