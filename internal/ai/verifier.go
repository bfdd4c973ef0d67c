package ai

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"strings"
)

// Verifier asks a provider whether a screenshot shows an expected outcome
type Verifier struct {
	provider Provider
}

// NewVerifier returns a Verifier backed by p. A small, cheap model is enough.
func NewVerifier(p Provider) *Verifier {
	return &Verifier{provider: p}
}

// Verify returns the provider's true/false verdict. Any other answer is an
// error.
func (v *Verifier) Verify(ctx context.Context, screenshot image.Image, expected string) (bool, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, screenshot); err != nil {
		return false, fmt.Errorf("encode screenshot: %w", err)
	}

	reply, err := v.provider.Complete(ctx, Request{
		Operation: "verify",
		System:    verifySystemPrompt,
		Prompt:    buildVerifyPrompt(expected),
		Images:    []Image{PNGImage(buf.Bytes())},
		MaxTokens: 16,
	})
	if err != nil {
		return false, err
	}

	return parseVerdict(reply)
}

func parseVerdict(reply string) (bool, error) {
	answer := strings.ToLower(strings.Trim(strings.TrimSpace(reply), ".'\"`"))
	switch answer {
	case "true", "yes":
		return true, nil
	case "false", "no":
		return false, nil
	}
	return false, fmt.Errorf("unexpected verifier answer %q", truncate(reply, 80))
}
