package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/v0xg/screenplay/internal/ai"
	"github.com/v0xg/screenplay/internal/browser"
	"github.com/v0xg/screenplay/internal/config"
	"github.com/v0xg/screenplay/internal/desktop"
	"github.com/v0xg/screenplay/internal/executor"
	"github.com/v0xg/screenplay/internal/locator"
	"go.uber.org/zap"
)

// backend is a screen that can also be driven
type backend interface {
	executor.Screen
	executor.Driver
}

func newReplayCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay <plan>",
		Short: "Replay a step plan against the desktop or a browser",
		Long: `replay locates each step's target on a fresh screenshot, performs the
action and optionally verifies the outcome, retrying a step before giving up.

Example:
  screenplay replay plan.yaml --backend browser --url https://myapp.com --verify`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.ErrOrStderr()

			plan, err := executor.LoadPlan(args[0])
			if err != nil {
				return err
			}
			if err := plan.Validate(); err != nil {
				return fmt.Errorf("invalid plan: %w", err)
			}
			plan = plan.Numbered()
			if len(plan.Steps) == 0 {
				fmt.Fprintln(out, "⚠ Plan has no steps, nothing to replay")
				return nil
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			exec, closeBackend, err := a.newExecutor(ctx, out)
			if err != nil {
				return err
			}
			defer closeBackend()

			fmt.Fprintf(out, "→ Replaying %d steps (run %s)\n", len(plan.Steps), exec.RunID())
			report, err := exec.Execute(ctx, plan.Steps)
			printReport(out, report)
			if err != nil {
				return fmt.Errorf("replay failed at %w", err)
			}
			fmt.Fprintf(out, "✓ Replayed %d steps\n", len(report.Steps))
			return nil
		},
	}

	cmd.Flags().String("backend", "", "Replay backend: desktop, browser (default: backend.kind)")
	cmd.Flags().String("url", "", "Page to open with the browser backend")
	cmd.Flags().Bool("headless", false, "Run the browser backend without a window")
	cmd.Flags().String("profile", "", "Chrome/Chromium profile directory for authenticated sessions (close browser first)")
	cmd.Flags().Bool("verify", false, "Check each step's outcome with the verifier model")
	cmd.Flags().Int("max-attempts", 0, "Attempts per step before giving up")
	cmd.Flags().String("debug-dir", "", "Save annotated screenshots of every attempt here")
	cmd.Flags().String("annotator", "", "Element annotation service endpoint")
	cmd.Flags().String("model", "", "Locator model override")

	bindFlag(cmd, "backend", "backend.kind")
	bindFlag(cmd, "url", "backend.browser.url")
	bindFlag(cmd, "headless", "backend.browser.headless")
	bindFlag(cmd, "profile", "backend.browser.profile_dir")
	bindFlag(cmd, "verify", "executor.verify")
	bindFlag(cmd, "max-attempts", "executor.max_attempts")
	bindFlag(cmd, "debug-dir", "executor.debug_dir")
	bindFlag(cmd, "annotator", "annotator.endpoint")
	bindFlag(cmd, "model", "inference.locator_model")
	return cmd
}

// newExecutor wires the configured backend, locator and verifier. The
// returned func releases the backend.
func (a *app) newExecutor(ctx context.Context, out io.Writer) (*executor.Executor, func(), error) {
	cfg := a.cfg

	locProvider, err := a.provider(cfg.Inference.Provider, cfg.Inference.LocatorModel)
	if err != nil {
		return nil, nil, fmt.Errorf("AI provider init failed: %w", err)
	}
	var annotator locator.Annotator
	if cfg.Annotator.Endpoint != "" {
		annotator = locator.NewHTTPAnnotator(cfg.Annotator.Endpoint, cfg.Annotator.Timeout)
	}
	loc := locator.New(locProvider, annotator, locator.OptionsFromConfig(cfg.Annotator), a.logger)

	deps := executor.Deps{Locator: loc, Logger: a.logger, Metrics: a.metrics}
	if cfg.Executor.Verify {
		name, model := verifierSettings(cfg.Inference)
		vp, err := a.provider(name, model)
		if err != nil {
			return nil, nil, fmt.Errorf("verifier provider init failed: %w", err)
		}
		deps.Verifier = ai.NewVerifier(vp)
	}

	step(out, "Starting %s backend", cfg.Backend.Kind)
	be, closeBackend, err := a.openBackend(ctx)
	if err != nil {
		failed(out)
		return nil, nil, err
	}
	done(out, "")
	deps.Screen, deps.Driver = be, be

	exec, err := executor.New(deps, executor.OptionsFromConfig(cfg.Executor))
	if err != nil {
		closeBackend()
		return nil, nil, err
	}
	return exec, closeBackend, nil
}

// verifierSettings falls back to the locator's provider and model when no
// verifier-specific ones are configured
func verifierSettings(cfg config.InferenceConfig) (string, string) {
	name, model := cfg.VerifierProvider, cfg.VerifierModel
	if name == "" {
		name = cfg.Provider
	}
	if model == "" && name == cfg.Provider {
		model = cfg.LocatorModel
	}
	return name, model
}

func (a *app) openBackend(ctx context.Context) (backend, func(), error) {
	switch a.cfg.Backend.Kind {
	case config.BackendBrowser:
		b, err := browser.Launch(ctx, browser.OptionsFromConfig(a.cfg.Backend.Browser), a.logger)
		if err != nil {
			return nil, nil, fmt.Errorf("launch browser: %w", err)
		}
		return b, func() {
			if err := b.Close(); err != nil {
				a.logger.Warn("Failed to close browser", zap.Error(err))
			}
		}, nil
	default:
		d, err := desktop.New(desktop.DefaultOptions(), a.logger)
		if err != nil {
			if errors.Is(err, desktop.ErrUnsupported) {
				return nil, nil, fmt.Errorf("%w; use --backend browser", err)
			}
			return nil, nil, fmt.Errorf("desktop backend: %w", err)
		}
		return d, func() {}, nil
	}
}

func printReport(w io.Writer, report *executor.Report) {
	if report == nil {
		return
	}
	for _, res := range report.Steps {
		mark := "✓"
		if res.State != executor.StateSucceeded {
			mark = "✗"
		}
		fmt.Fprintf(w, "  %s step %d: %s %q (%s, %d attempts)\n",
			mark, res.Step.Number, res.Step.Action, res.Step.Target(), res.State, len(res.Attempts))
	}
}
