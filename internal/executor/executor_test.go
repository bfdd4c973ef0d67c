package executor

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/v0xg/screenplay/internal/errs"
	"github.com/v0xg/screenplay/internal/locator"
	"github.com/v0xg/screenplay/internal/metrics"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
	"pgregory.net/rapid"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// -- Fakes --

type fakeScreen struct {
	err   error
	shots int
}

func (s *fakeScreen) Capture(context.Context) (image.Image, error) {
	s.shots++
	if s.err != nil {
		return nil, s.err
	}
	return image.NewRGBA(image.Rect(0, 0, 200, 100)), nil
}

type fakeDriver struct {
	calls []string
	err   error
}

func (d *fakeDriver) record(format string, args ...any) error {
	d.calls = append(d.calls, fmt.Sprintf(format, args...))
	return d.err
}

func (d *fakeDriver) MoveTo(_ context.Context, p image.Point) error {
	return d.record("move %d,%d", p.X, p.Y)
}

func (d *fakeDriver) Click(_ context.Context, p image.Point) error {
	return d.record("click %d,%d", p.X, p.Y)
}

func (d *fakeDriver) DoubleClick(_ context.Context, p image.Point) error {
	return d.record("double_click %d,%d", p.X, p.Y)
}

func (d *fakeDriver) RightClick(_ context.Context, p image.Point) error {
	return d.record("right_click %d,%d", p.X, p.Y)
}

func (d *fakeDriver) Type(_ context.Context, text string) error {
	return d.record("type %s", text)
}

func (d *fakeDriver) Press(_ context.Context, key string) error {
	return d.record("press %s", key)
}

type locateResult struct {
	el  *locator.LocatedElement
	err error
}

// scriptedLocator replays results in order, repeating the last one
type scriptedLocator struct {
	results  []locateResult
	byTarget map[string][]locateResult
	reqs     []locator.Request
}

func (l *scriptedLocator) Locate(_ context.Context, req locator.Request) (*locator.LocatedElement, error) {
	l.reqs = append(l.reqs, req)
	results := l.results
	if r, ok := l.byTarget[req.Target]; ok {
		results = r
	}
	n := 0
	for _, prev := range l.reqs[:len(l.reqs)-1] {
		if prev.Target == req.Target {
			n++
		}
	}
	r := results[min(n, len(results)-1)]
	return r.el, r.err
}

func element(x, y int, conf float64) locateResult {
	return locateResult{el: &locator.LocatedElement{Point: image.Pt(x, y), Confidence: conf}}
}

type fakeVerifier struct {
	answers  []bool
	err      error
	expected []string
}

func (v *fakeVerifier) Verify(_ context.Context, _ image.Image, expected string) (bool, error) {
	v.expected = append(v.expected, expected)
	if v.err != nil {
		return false, v.err
	}
	return v.answers[min(len(v.expected)-1, len(v.answers)-1)], nil
}

type harness struct {
	screen   *fakeScreen
	driver   *fakeDriver
	locator  *scriptedLocator
	verifier *fakeVerifier
	opts     Options
}

func newHarness(results ...locateResult) *harness {
	opts := DefaultOptions()
	opts.SettleDelay = 0
	opts.RetryInitialDelay = 0
	return &harness{
		screen:  &fakeScreen{},
		driver:  &fakeDriver{},
		locator: &scriptedLocator{results: results},
		opts:    opts,
	}
}

func (h *harness) executor(t *testing.T) *Executor {
	t.Helper()
	deps := Deps{
		Screen:  h.screen,
		Driver:  h.driver,
		Locator: h.locator,
		Logger:  zaptest.NewLogger(t),
	}
	if h.verifier != nil {
		deps.Verifier = h.verifier
	}
	e, err := New(deps, h.opts)
	require.NoError(t, err)
	return e
}

// -- Tests --

func TestDoubleClickSucceedsFirstAttempt(t *testing.T) {
	h := newHarness(element(110, 45, 0.95))
	step := Step{Action: DoubleClick, Purpose: "open folder X", Context: "desktop with icons"}

	res := h.executor(t).RunStep(context.Background(), step)

	assert.Equal(t, StateSucceeded, res.State)
	require.NoError(t, res.Err)
	assert.Equal(t, []string{"double_click 110,45"}, h.driver.calls)
	require.Len(t, res.Attempts, 1)
	assert.Equal(t, OutcomeSucceeded, res.Attempts[0].Outcome)

	require.Len(t, h.locator.reqs, 1)
	assert.Equal(t, "open folder X", h.locator.reqs[0].Target)
	assert.Equal(t, "desktop with icons", h.locator.reqs[0].Context)
}

func TestPrimitivePerActionKind(t *testing.T) {
	cases := map[ActionKind][]string{
		LeftClick:     {"click 5,6"},
		RightClick:    {"right_click 5,6"},
		DoubleClick:   {"double_click 5,6"},
		Hover:         {"move 5,6"},
		KeyboardInput: {"click 5,6", "type hello", "press enter"},
	}
	for kind, want := range cases {
		t.Run(string(kind), func(t *testing.T) {
			r := element(5, 6, 0.9)
			r.el.TextInput = "hello"
			h := newHarness(r)

			res := h.executor(t).RunStep(context.Background(), Step{Action: kind, Purpose: "x"})
			assert.Equal(t, StateSucceeded, res.State)
			assert.Equal(t, want, h.driver.calls)
		})
	}
}

func TestCustomSubmitKey(t *testing.T) {
	r := element(1, 1, 0.9)
	r.el.TextInput = "query"
	h := newHarness(r)
	h.opts.SubmitKey = "tab"

	h.executor(t).RunStep(context.Background(), Step{Action: KeyboardInput, Purpose: "search"})
	assert.Equal(t, []string{"click 1,1", "type query", "press tab"}, h.driver.calls)
}

func TestLowConfidenceExhaustsRetries(t *testing.T) {
	h := newHarness(element(10, 10, 0.5))

	res := h.executor(t).RunStep(context.Background(), Step{Action: LeftClick, Purpose: "OK button"})

	assert.Equal(t, StateFailed, res.State)
	assert.True(t, errs.Is(res.Err, errs.RetryExhausted), res.Err)
	assert.Len(t, h.locator.reqs, 3)
	assert.Equal(t, 3, h.screen.shots, "fresh screenshot per attempt")
	assert.Empty(t, h.driver.calls)
	require.Len(t, res.Attempts, 3)
	for i, a := range res.Attempts {
		assert.Equal(t, i+1, a.Number)
		assert.Equal(t, OutcomeLowConfidence, a.Outcome)
		assert.True(t, errs.Is(a.Err, errs.LowConfidence))
	}
}

func TestConfidenceAtThresholdIsAccepted(t *testing.T) {
	h := newHarness(element(3, 3, 0.8))
	res := h.executor(t).RunStep(context.Background(), Step{Action: LeftClick, Purpose: "x"})
	assert.Equal(t, StateSucceeded, res.State)
}

func TestRecoversAfterLowConfidence(t *testing.T) {
	h := newHarness(element(1, 1, 0.3), locateResult{err: errs.New(errs.ResolutionFailure, "no such id")}, element(7, 8, 0.9))

	res := h.executor(t).RunStep(context.Background(), Step{Action: LeftClick, Purpose: "x"})

	assert.Equal(t, StateSucceeded, res.State)
	require.Len(t, res.Attempts, 3)
	assert.Equal(t, OutcomeLowConfidence, res.Attempts[0].Outcome)
	assert.Equal(t, OutcomeResolutionFailure, res.Attempts[1].Outcome)
	assert.Equal(t, OutcomeSucceeded, res.Attempts[2].Outcome)
	assert.Equal(t, []string{"click 7,8"}, h.driver.calls)
}

func TestPlainLocatorErrorIsResolutionFailure(t *testing.T) {
	h := newHarness(locateResult{err: errors.New("boom")})
	res := h.executor(t).RunStep(context.Background(), Step{Action: LeftClick, Purpose: "x"})

	require.Len(t, res.Attempts, 3)
	assert.True(t, errs.Is(res.Attempts[0].Err, errs.ResolutionFailure))
	assert.True(t, errs.Is(res.Err, errs.RetryExhausted))
}

func TestUnknownActionKindPerformsNothing(t *testing.T) {
	h := newHarness(element(1, 1, 1))

	res := h.executor(t).RunStep(context.Background(), Step{Action: "scroll", Purpose: "x"})

	assert.Equal(t, StateFailed, res.State)
	assert.True(t, errs.Is(res.Err, errs.ActionKindUnknown))
	assert.Empty(t, res.Attempts)
	assert.Zero(t, h.screen.shots)
	assert.Empty(t, h.locator.reqs)
	assert.Empty(t, h.driver.calls)
}

func TestCaptureFailureIsFatal(t *testing.T) {
	h := newHarness(element(1, 1, 1))
	h.screen.err = errors.New("display gone")

	res := h.executor(t).RunStep(context.Background(), Step{Action: LeftClick, Purpose: "x"})

	assert.Equal(t, StateFailed, res.State)
	assert.True(t, errs.Is(res.Err, errs.IO))
	assert.Empty(t, h.locator.reqs)
	require.Len(t, res.Attempts, 1)
	assert.Equal(t, OutcomeAborted, res.Attempts[0].Outcome)
}

func TestDriverFailureIsFatal(t *testing.T) {
	h := newHarness(element(1, 1, 1))
	h.driver.err = errors.New("input blocked")

	res := h.executor(t).RunStep(context.Background(), Step{Action: RightClick, Purpose: "x"})

	assert.Equal(t, StateFailed, res.State)
	assert.ErrorContains(t, res.Err, "input blocked")
	assert.Len(t, h.locator.reqs, 1)
	assert.Len(t, h.driver.calls, 1)
}

func TestVerificationRetries(t *testing.T) {
	h := newHarness(element(4, 4, 0.9))
	h.verifier = &fakeVerifier{answers: []bool{false, true}}

	res := h.executor(t).RunStep(context.Background(), Step{Action: LeftClick, Purpose: "Save", Outcome: "file saved"})

	assert.Equal(t, StateSucceeded, res.State)
	require.Len(t, res.Attempts, 2)
	assert.Equal(t, OutcomeVerificationFailed, res.Attempts[0].Outcome)
	assert.Equal(t, []string{"click 4,4", "click 4,4"}, h.driver.calls)
	assert.Equal(t, []string{"file saved", "file saved"}, h.verifier.expected)
	assert.Equal(t, 4, h.screen.shots, "one capture to locate and one to verify per attempt")
}

func TestVerifierErrorIsVerificationFailure(t *testing.T) {
	h := newHarness(element(4, 4, 0.9))
	h.verifier = &fakeVerifier{err: errors.New("model unavailable")}

	res := h.executor(t).RunStep(context.Background(), Step{Action: Hover, Purpose: "menu", Outcome: "menu opens"})

	assert.Equal(t, StateFailed, res.State)
	assert.True(t, errs.Is(res.Err, errs.RetryExhausted))
	require.Len(t, res.Attempts, 3)
	assert.True(t, errs.Is(res.Attempts[2].Err, errs.VerificationFailed))
}

func TestVerifierFallsBackToHoverFeedback(t *testing.T) {
	r := element(4, 4, 0.9)
	r.el.HoverFeedback = "tooltip shows Settings"
	h := newHarness(r)
	h.verifier = &fakeVerifier{answers: []bool{true}}

	res := h.executor(t).RunStep(context.Background(), Step{Action: Hover})

	assert.Equal(t, StateSucceeded, res.State)
	assert.Equal(t, []string{"tooltip shows Settings"}, h.verifier.expected)
}

func TestNothingToVerifySucceeds(t *testing.T) {
	h := newHarness(element(4, 4, 0.9))
	h.verifier = &fakeVerifier{answers: []bool{false}}

	res := h.executor(t).RunStep(context.Background(), Step{Action: LeftClick})

	assert.Equal(t, StateSucceeded, res.State)
	assert.Empty(t, h.verifier.expected)
}

func TestExecuteHaltsAtFirstFailure(t *testing.T) {
	h := newHarness(element(1, 1, 0.9))
	h.locator.byTarget = map[string][]locateResult{"broken": {element(1, 1, 0.1)}}

	steps := []Step{
		{Action: LeftClick, Purpose: "first"},
		{Action: LeftClick, Purpose: "broken"},
		{Action: LeftClick, Purpose: "third"},
	}
	report, err := h.executor(t).Execute(context.Background(), steps)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "step 2")
	assert.True(t, errs.Is(err, errs.RetryExhausted))
	assert.False(t, report.Succeeded)
	assert.Equal(t, 1, report.FailedStep)
	require.Len(t, report.Steps, 2)
	assert.Equal(t, StateSucceeded, report.Steps[0].State)
	assert.Equal(t, StateFailed, report.Steps[1].State)

	for _, req := range h.locator.reqs {
		assert.NotEqual(t, "third", req.Target)
	}
	assert.Equal(t, []string{"click 1,1"}, h.driver.calls)
}

func TestExecuteRunsEveryStep(t *testing.T) {
	h := newHarness(element(2, 3, 0.9))
	steps := []Step{
		{Action: LeftClick, Purpose: "a"},
		{Action: DoubleClick, Purpose: "b"},
	}

	report, err := h.executor(t).Execute(context.Background(), steps)

	require.NoError(t, err)
	assert.True(t, report.Succeeded)
	assert.Equal(t, -1, report.FailedStep)
	assert.NotEmpty(t, report.RunID)
	require.Len(t, report.Steps, 2)
	assert.Equal(t, 2, report.Steps[1].Step.Number)
	assert.Equal(t, []string{"click 2,3", "double_click 2,3"}, h.driver.calls)
}

func TestEmptySequenceSucceeds(t *testing.T) {
	report, err := newHarness(element(0, 0, 1)).executor(t).Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, report.Succeeded)
}

func TestCancellationStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := newHarness(element(1, 1, 0.1))
	h.opts.RetryInitialDelay = time.Hour
	h.opts.RetryMaxDelay = time.Hour

	e := h.executor(t)

	done := make(chan StepResult, 1)
	go func() {
		done <- e.RunStep(ctx, Step{Action: LeftClick, Purpose: "x"})
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case res := <-done:
		assert.Equal(t, StateFailed, res.State)
		assert.ErrorIs(t, res.Err, context.Canceled)
		assert.Len(t, res.Attempts, 1)
	case <-time.After(5 * time.Second):
		t.Fatal("step did not stop after cancellation")
	}
}

func TestCancelledLocateIsFatal(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h := newHarness(locateResult{err: context.Canceled})

	res := h.executor(t).RunStep(ctx, Step{Action: LeftClick, Purpose: "x"})

	assert.Equal(t, StateFailed, res.State)
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Len(t, h.locator.reqs, 1)
}

func TestDebugArtifacts(t *testing.T) {
	h := newHarness(element(1, 1, 0.2), element(50, 50, 0.9))
	h.opts.DebugDir = t.TempDir()
	e := h.executor(t)

	res := e.RunStep(context.Background(), Step{Number: 4, Action: LeftClick, Purpose: "x"})
	require.Equal(t, StateSucceeded, res.State)

	dir := filepath.Join(h.opts.DebugDir, e.RunID())
	for _, name := range []string{"step_04_attempt_1_low_confidence.png", "step_04_attempt_2_succeeded.png"} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}
}

func TestMetricsObserved(t *testing.T) {
	h := newHarness(element(1, 1, 0.9))
	e, err := New(Deps{
		Screen:  h.screen,
		Driver:  h.driver,
		Locator: h.locator,
		Metrics: metrics.NewCollector(prometheus.NewRegistry()),
	}, h.opts)
	require.NoError(t, err)

	assert.Equal(t, StateSucceeded, e.RunStep(context.Background(), Step{Action: LeftClick, Purpose: "x"}).State)
}

func TestNewValidates(t *testing.T) {
	h := newHarness()
	deps := Deps{Screen: h.screen, Driver: h.driver, Locator: h.locator}

	_, err := New(Deps{Screen: h.screen}, DefaultOptions())
	assert.Error(t, err)

	bad := DefaultOptions()
	bad.MaxAttempts = 0
	_, err = New(deps, bad)
	assert.Error(t, err)

	bad = DefaultOptions()
	bad.AcceptanceThreshold = 1.2
	_, err = New(deps, bad)
	assert.Error(t, err)
}

func TestBackOffIntervals(t *testing.T) {
	e := &Executor{opts: Options{}}
	assert.IsType(t, &backoff.ZeroBackOff{}, e.newBackOff())

	e.opts = Options{RetryInitialDelay: 100 * time.Millisecond, RetryMaxDelay: 400 * time.Millisecond}
	b := e.newBackOff()
	for i := 0; i < 10; i++ {
		d := b.NextBackOff()
		assert.NotEqual(t, backoff.Stop, d)
		assert.LessOrEqual(t, d, 600*time.Millisecond)
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "PENDING", StatePending.String())
	assert.Equal(t, "VERIFYING", StateVerifying.String())
	assert.Equal(t, "State(42)", State(42).String())
	assert.True(t, StateFailed.Terminal())
	assert.False(t, StateRetry.Terminal())
}

func TestAttemptBoundProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		confs := rapid.SliceOfN(rapid.Float64Range(0, 1), 1, 6).Draw(t, "confidences")
		results := make([]locateResult, len(confs))
		for i, c := range confs {
			results[i] = element(1, 1, c)
		}
		h := newHarness(results...)
		e, err := New(Deps{Screen: h.screen, Driver: h.driver, Locator: h.locator}, h.opts)
		if err != nil {
			t.Fatal(err)
		}

		res := e.RunStep(context.Background(), Step{Action: LeftClick, Purpose: "x"})

		if len(res.Attempts) > 3 {
			t.Fatalf("%d attempts", len(res.Attempts))
		}
		for _, a := range res.Attempts {
			if a.Outcome == OutcomeSucceeded && a.Element.Confidence < 0.8 {
				t.Fatalf("acted on confidence %v", a.Element.Confidence)
			}
		}
		acted := len(h.driver.calls) == 1
		if acted != (res.State == StateSucceeded) {
			t.Fatalf("state %s with %d driver calls", res.State, len(h.driver.calls))
		}
	})
}
