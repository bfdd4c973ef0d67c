package executor

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/v0xg/screenplay/internal/config"
	"github.com/v0xg/screenplay/internal/errs"
	"github.com/v0xg/screenplay/internal/locator"
	"github.com/v0xg/screenplay/internal/metrics"
	"go.uber.org/zap"
)

// Screen captures the current state of the display
type Screen interface {
	Capture(ctx context.Context) (image.Image, error)
}

// Driver injects input at screenshot coordinates
type Driver interface {
	MoveTo(ctx context.Context, p image.Point) error
	Click(ctx context.Context, p image.Point) error
	DoubleClick(ctx context.Context, p image.Point) error
	RightClick(ctx context.Context, p image.Point) error
	Type(ctx context.Context, text string) error
	Press(ctx context.Context, key string) error
}

// Locator resolves a step target on a screenshot
type Locator interface {
	Locate(ctx context.Context, req locator.Request) (*locator.LocatedElement, error)
}

// Verifier checks a post-action screenshot against the expected outcome
type Verifier interface {
	Verify(ctx context.Context, screenshot image.Image, expected string) (bool, error)
}

// State is a node of the per-step state machine
type State int

const (
	StatePending State = iota
	StateLocating
	StateActing
	StateVerifying
	StateRetry
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "PENDING"
	case StateLocating:
		return "LOCATING"
	case StateActing:
		return "ACTING"
	case StateVerifying:
		return "VERIFYING"
	case StateRetry:
		return "RETRY"
	case StateSucceeded:
		return "SUCCEEDED"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether the machine stops in s
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// Outcome is how a single attempt ended
type Outcome string

const (
	OutcomeSucceeded          Outcome = "succeeded"
	OutcomeResolutionFailure  Outcome = "resolution_failure"
	OutcomeLowConfidence      Outcome = "low_confidence"
	OutcomeVerificationFailed Outcome = "verification_failed"
	OutcomeAborted            Outcome = "aborted"
)

// Attempt records one pass through LOCATING and what followed
type Attempt struct {
	Number     int
	Screenshot image.Image
	Element    *locator.LocatedElement
	Outcome    Outcome
	Err        error
}

// StepResult is the final state of one step
type StepResult struct {
	Step     Step
	State    State
	Attempts []Attempt
	Err      error
}

// Report summarizes a sequence run
type Report struct {
	RunID      string
	Steps      []StepResult
	Succeeded  bool
	FailedStep int // index into Steps, -1 when every step succeeded
}

// Options tunes the replay loop
type Options struct {
	MaxAttempts         int
	AcceptanceThreshold float64
	SettleDelay         time.Duration
	RetryInitialDelay   time.Duration // 0 retries immediately
	RetryMaxDelay       time.Duration
	SubmitKey           string
	DebugDir            string
}

// DefaultOptions returns the standard replay settings
func DefaultOptions() Options {
	return Options{
		MaxAttempts:         3,
		AcceptanceThreshold: 0.8,
		SettleDelay:         500 * time.Millisecond,
		RetryInitialDelay:   500 * time.Millisecond,
		RetryMaxDelay:       4 * time.Second,
		SubmitKey:           "enter",
	}
}

// OptionsFromConfig maps the executor config section onto Options
func OptionsFromConfig(cfg config.ExecutorConfig) Options {
	return Options{
		MaxAttempts:         cfg.MaxAttempts,
		AcceptanceThreshold: cfg.AcceptanceThreshold,
		SettleDelay:         cfg.SettleDelay,
		RetryInitialDelay:   cfg.RetryInitialDelay,
		RetryMaxDelay:       cfg.RetryMaxDelay,
		SubmitKey:           cfg.SubmitKey,
		DebugDir:            cfg.DebugDir,
	}
}

// Deps are the collaborators of an Executor. Verifier, Logger and Metrics are
// optional.
type Deps struct {
	Screen   Screen
	Driver   Driver
	Locator  Locator
	Verifier Verifier
	Logger   *zap.Logger
	Metrics  *metrics.Collector
}

// Executor replays steps against a live screen
type Executor struct {
	screen   Screen
	driver   Driver
	locator  Locator
	verifier Verifier
	opts     Options
	logger   *zap.Logger
	metrics  *metrics.Collector
	runID    string
}

// New returns an Executor for deps
func New(deps Deps, opts Options) (*Executor, error) {
	if deps.Screen == nil || deps.Driver == nil || deps.Locator == nil {
		return nil, errors.New("executor needs a screen, a driver and a locator")
	}
	if opts.MaxAttempts <= 0 {
		return nil, fmt.Errorf("max attempts must be positive, got %d", opts.MaxAttempts)
	}
	if opts.AcceptanceThreshold < 0 || opts.AcceptanceThreshold > 1 {
		return nil, fmt.Errorf("acceptance threshold must be within [0, 1], got %v", opts.AcceptanceThreshold)
	}
	if opts.SubmitKey == "" {
		opts.SubmitKey = "enter"
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	runID := uuid.NewString()

	return &Executor{
		screen:   deps.Screen,
		driver:   deps.Driver,
		locator:  deps.Locator,
		verifier: deps.Verifier,
		opts:     opts,
		logger:   logger.Named("executor").With(zap.String("run_id", runID)),
		metrics:  deps.Metrics,
		runID:    runID,
	}, nil
}

// RunID identifies this executor's runs in logs and debug artifacts
func (e *Executor) RunID() string { return e.runID }

// Execute runs steps strictly in order and stops at the first failure. The
// returned error is the failing step's error.
func (e *Executor) Execute(ctx context.Context, steps []Step) (*Report, error) {
	report := &Report{RunID: e.runID, FailedStep: -1}

	e.logger.Info("Replay started", zap.Int("steps", len(steps)))
	for i, step := range steps {
		if step.Number == 0 {
			step.Number = i + 1
		}
		res := e.RunStep(ctx, step)
		report.Steps = append(report.Steps, res)

		if res.State != StateSucceeded {
			report.FailedStep = i
			e.logger.Warn("Replay halted",
				zap.Int("step", step.Number),
				zap.Int("completed", i),
				zap.Error(res.Err))
			return report, fmt.Errorf("step %d: %w", step.Number, res.Err)
		}
	}

	report.Succeeded = true
	e.logger.Info("Replay finished", zap.Int("steps", len(steps)))
	return report, nil
}

// run is the mutable state of one step while the machine is running
type run struct {
	step     Step
	attempts []Attempt
	current  *Attempt
	backoff  backoff.BackOff
	err      error
	logger   *zap.Logger
}

// RunStep drives one step from PENDING to SUCCEEDED or FAILED
func (e *Executor) RunStep(ctx context.Context, step Step) StepResult {
	r := &run{
		step:    step,
		backoff: e.newBackOff(),
		logger:  e.logger.With(zap.Int("step", step.Number), zap.String("action", string(step.Action))),
	}

	state := StatePending
	for !state.Terminal() {
		next := e.transition(ctx, r, state)
		r.logger.Debug("Step transition", zap.Stringer("from", state), zap.Stringer("to", next))
		state = next
	}

	e.metrics.ObserveStep(state.String())
	if state == StateSucceeded {
		r.logger.Info("Step succeeded", zap.Int("attempts", len(r.attempts)))
	} else {
		r.logger.Warn("Step failed", zap.Int("attempts", len(r.attempts)), zap.Error(r.err))
	}

	return StepResult{Step: step, State: state, Attempts: r.attempts, Err: r.err}
}

func (e *Executor) transition(ctx context.Context, r *run, state State) State {
	switch state {
	case StatePending:
		return e.pending(r)
	case StateLocating:
		return e.locating(ctx, r)
	case StateActing:
		return e.acting(ctx, r)
	case StateVerifying:
		return e.verifying(ctx, r)
	case StateRetry:
		return e.retry(ctx, r)
	default:
		r.err = fmt.Errorf("no transition from %s", state)
		return StateFailed
	}
}

func (e *Executor) pending(r *run) State {
	if _, err := ParseActionKind(string(r.step.Action)); err != nil {
		r.err = err
		return StateFailed
	}
	return StateLocating
}

func (e *Executor) locating(ctx context.Context, r *run) State {
	r.current = &Attempt{Number: len(r.attempts) + 1}

	shot, err := e.screen.Capture(ctx)
	if err != nil {
		return e.abort(r, errs.Wrap(errs.IO, err, "capture screen"))
	}
	r.current.Screenshot = shot

	el, err := e.locator.Locate(ctx, locator.Request{
		Screenshot: shot,
		Target:     r.step.Target(),
		Context:    r.step.ContextText(),
	})
	if err != nil {
		if ctx.Err() != nil {
			return e.abort(r, ctx.Err())
		}
		if errs.CodeOf(err) == "" {
			err = errs.Wrap(errs.ResolutionFailure, err, "locate %q", r.step.Target())
		}
		return e.fail(r, OutcomeResolutionFailure, err)
	}
	r.current.Element = el
	e.metrics.ObserveConfidence(el.Confidence)

	if el.Confidence < e.opts.AcceptanceThreshold {
		return e.fail(r, OutcomeLowConfidence,
			errs.New(errs.LowConfidence, "confidence %.2f below %.2f", el.Confidence, e.opts.AcceptanceThreshold))
	}
	return StateActing
}

func (e *Executor) acting(ctx context.Context, r *run) State {
	el := r.current.Element
	r.logger.Debug("Performing action",
		zap.Int("attempt", r.current.Number),
		zap.Int("x", el.Point.X), zap.Int("y", el.Point.Y),
		zap.Float64("confidence", el.Confidence))

	if err := e.perform(ctx, r.step.Action, el); err != nil {
		return e.abort(r, fmt.Errorf("perform %s: %w", r.step.Action, err))
	}
	return StateVerifying
}

// perform issues exactly the primitives for kind
func (e *Executor) perform(ctx context.Context, kind ActionKind, el *locator.LocatedElement) error {
	p := el.Point
	switch kind {
	case LeftClick:
		return e.driver.Click(ctx, p)
	case DoubleClick:
		return e.driver.DoubleClick(ctx, p)
	case RightClick:
		return e.driver.RightClick(ctx, p)
	case Hover:
		return e.driver.MoveTo(ctx, p)
	case KeyboardInput:
		if err := e.driver.Click(ctx, p); err != nil {
			return err
		}
		if err := e.driver.Type(ctx, el.TextInput); err != nil {
			return err
		}
		return e.driver.Press(ctx, e.opts.SubmitKey)
	default:
		return errs.New(errs.ActionKindUnknown, "unknown action kind %q", kind)
	}
}

func (e *Executor) verifying(ctx context.Context, r *run) State {
	if err := sleep(ctx, e.opts.SettleDelay); err != nil {
		return e.abort(r, err)
	}

	expected := r.step.Expected()
	if expected == "" {
		expected = r.current.Element.HoverFeedback
	}
	if e.verifier == nil || expected == "" {
		return e.succeed(r)
	}

	after, err := e.screen.Capture(ctx)
	if err != nil {
		return e.abort(r, errs.Wrap(errs.IO, err, "capture screen after action"))
	}

	ok, err := e.verifier.Verify(ctx, after, expected)
	switch {
	case err != nil && ctx.Err() != nil:
		return e.abort(r, ctx.Err())
	case err != nil:
		return e.fail(r, OutcomeVerificationFailed, errs.Wrap(errs.VerificationFailed, err, "verify %q", expected))
	case !ok:
		return e.fail(r, OutcomeVerificationFailed, errs.New(errs.VerificationFailed, "screen does not show %q", expected))
	}
	return e.succeed(r)
}

func (e *Executor) retry(ctx context.Context, r *run) State {
	last := r.attempts[len(r.attempts)-1]
	if len(r.attempts) >= e.opts.MaxAttempts {
		r.err = errs.Wrap(errs.RetryExhausted, last.Err, "gave up after %d attempts", len(r.attempts))
		return StateFailed
	}

	wait := r.backoff.NextBackOff()
	if wait == backoff.Stop {
		r.err = errs.Wrap(errs.RetryExhausted, last.Err, "backoff stopped after %d attempts", len(r.attempts))
		return StateFailed
	}
	r.logger.Info("Retrying step",
		zap.Int("attempt", len(r.attempts)+1),
		zap.Duration("wait", wait),
		zap.String("reason", string(last.Outcome)))

	if err := sleep(ctx, wait); err != nil {
		r.err = err
		return StateFailed
	}
	return StateLocating
}

func (e *Executor) succeed(r *run) State {
	e.finish(r, OutcomeSucceeded, nil)
	return StateSucceeded
}

// fail closes the attempt with a retryable outcome
func (e *Executor) fail(r *run, outcome Outcome, err error) State {
	r.logger.Info("Attempt failed", zap.Int("attempt", r.current.Number), zap.String("outcome", string(outcome)), zap.Error(err))
	e.finish(r, outcome, err)
	return StateRetry
}

// abort closes the attempt and fails the step without retrying
func (e *Executor) abort(r *run, err error) State {
	e.finish(r, OutcomeAborted, err)
	r.err = err
	return StateFailed
}

func (e *Executor) finish(r *run, outcome Outcome, err error) {
	r.current.Outcome = outcome
	r.current.Err = err
	e.metrics.ObserveAttempt(string(outcome))
	e.saveAttempt(r.step, r.current)
	r.attempts = append(r.attempts, *r.current)
	r.current = nil
}

func (e *Executor) newBackOff() backoff.BackOff {
	if e.opts.RetryInitialDelay <= 0 {
		return &backoff.ZeroBackOff{}
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.opts.RetryInitialDelay
	b.MaxInterval = max(e.opts.RetryMaxDelay, e.opts.RetryInitialDelay)
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
