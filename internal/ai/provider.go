// Package ai wraps the multimodal inference vendors behind one Provider
// interface.
package ai

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/sashabaranov/go-openai/jsonschema"
	"github.com/v0xg/screenplay/internal/config"
	"github.com/v0xg/screenplay/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Image is a picture attached to a request
type Image struct {
	MediaType string
	Data      []byte
}

// PNGImage wraps encoded PNG bytes
func PNGImage(data []byte) Image {
	return Image{MediaType: "image/png", Data: data}
}

// Base64 returns the image bytes in standard base64
func (i Image) Base64() string {
	return base64.StdEncoding.EncodeToString(i.Data)
}

// DataURL returns the image as a data: URL
func (i Image) DataURL() string {
	return "data:" + i.MediaType + ";base64," + i.Base64()
}

// Schema names a JSON schema the reply must satisfy
type Schema struct {
	Name       string
	Definition jsonschema.Definition
}

// Request is one multimodal completion
type Request struct {
	Operation string // metrics label: synthesize, locate, verify
	System    string
	Prompt    string
	Images    []Image
	Schema    *Schema
	MaxTokens int
}

// Provider defines the interface for multimodal completions
type Provider interface {
	Name() string
	Complete(ctx context.Context, req Request) (string, error)
}

// Settings configures a provider instance
type Settings struct {
	Model             string
	APIKey            string
	BaseURL           string
	MaxTokens         int
	Temperature       float32
	Timeout           time.Duration
	RequestsPerMinute int
}

// SettingsFor picks the credentials of the named provider out of cfg. An empty
// model falls back to the provider's default.
func SettingsFor(cfg config.InferenceConfig, name, model string) Settings {
	creds := cfg.OpenAI
	if name == config.ProviderClaude || name == "anthropic" {
		creds = cfg.Anthropic
	}
	return Settings{
		Model:             model,
		APIKey:            creds.APIKey,
		BaseURL:           creds.BaseURL,
		MaxTokens:         cfg.MaxTokens,
		Temperature:       cfg.Temperature,
		Timeout:           cfg.Timeout,
		RequestsPerMinute: cfg.RequestsPerMinute,
	}
}

// NewProvider creates a new AI provider based on the provider name. The
// returned provider is throttled and instrumented; logger and m may be nil.
func NewProvider(name string, s Settings, logger *zap.Logger, m *metrics.Collector) (Provider, error) {
	var (
		p   Provider
		err error
	)
	switch name {
	case config.ProviderClaude, "anthropic":
		p, err = NewClaudeProvider(s)
	case config.ProviderOpenAI, "gpt":
		p, err = NewOpenAIProvider(s)
	default:
		return nil, fmt.Errorf("unknown provider: %s (supported: claude, openai)", name)
	}
	if err != nil {
		return nil, err
	}
	return Instrument(p, s.RequestsPerMinute, logger, m), nil
}

// instrumented throttles and measures calls to the wrapped provider
type instrumented struct {
	Provider
	limiter *rate.Limiter
	logger  *zap.Logger
	metrics *metrics.Collector
}

// Instrument wraps p with a requests-per-minute limiter (0 disables it),
// debug logging and inference metrics
func Instrument(p Provider, rpm int, logger *zap.Logger, m *metrics.Collector) Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	in := &instrumented{
		Provider: p,
		logger:   logger.Named("ai").With(zap.String("provider", p.Name())),
		metrics:  m,
	}
	if rpm > 0 {
		in.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1)
	}
	return in
}

func (p *instrumented) Complete(ctx context.Context, req Request) (string, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limiter: %w", err)
		}
	}

	start := time.Now()
	out, err := p.Provider.Complete(ctx, req)
	elapsed := time.Since(start)
	p.metrics.ObserveInference(p.Name(), req.Operation, elapsed, err)

	if err != nil {
		p.logger.Warn("Inference request failed",
			zap.String("operation", req.Operation), zap.Duration("elapsed", elapsed), zap.Error(err))
		return "", err
	}
	p.logger.Debug("Inference request completed",
		zap.String("operation", req.Operation), zap.Int("images", len(req.Images)),
		zap.Duration("elapsed", elapsed), zap.Int("reply_bytes", len(out)))
	return out, nil
}
