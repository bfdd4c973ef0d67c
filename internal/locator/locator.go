// Package locator maps a natural-language element description and a live
// screenshot to a screen coordinate.
package locator

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"math"

	"github.com/nfnt/resize"
	"github.com/v0xg/screenplay/internal/ai"
	"github.com/v0xg/screenplay/internal/config"
	"github.com/v0xg/screenplay/internal/errs"
	"go.uber.org/zap"
)

// Request describes the element to find
type Request struct {
	Screenshot image.Image
	Target     string // what to act on
	Context    string // what the screen is showing
}

// LocatedElement is the locator's answer for one attempt
type LocatedElement struct {
	Point          image.Point // screenshot coordinates
	Confidence     float64
	Description    string
	TextInput      string
	HoverFeedback  string
	ElementID      int
	FromAnnotation bool
}

// Options bounds the screenshot size sent upstream
type Options struct {
	MaxWidth  int
	MaxHeight int
}

// DefaultOptions returns the bounds used for vision requests
func DefaultOptions() Options {
	return Options{MaxWidth: 1456, MaxHeight: 819}
}

// OptionsFromConfig maps the annotator config section onto Options
func OptionsFromConfig(cfg config.AnnotatorConfig) Options {
	return Options{MaxWidth: cfg.MaxWidth, MaxHeight: cfg.MaxHeight}
}

// Locator resolves targets with a vision provider, preferring annotated
// element ids over free-form coordinates
type Locator struct {
	provider  ai.Provider
	annotator Annotator
	opts      Options
	logger    *zap.Logger
}

// New returns a Locator. annotator may be nil, in which case every request
// uses coordinate mode.
func New(provider ai.Provider, annotator Annotator, opts Options, logger *zap.Logger) *Locator {
	if opts.MaxWidth <= 0 || opts.MaxHeight <= 0 {
		opts = DefaultOptions()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Locator{
		provider:  provider,
		annotator: annotator,
		opts:      opts,
		logger:    logger.Named("locator"),
	}
}

type replyFields struct {
	TextInput             string   `json:"text_input"`
	Confidence            *float64 `json:"confidence"`
	ElementDescription    string   `json:"element_description"`
	HoverFeedbackExpected string   `json:"hover_feedback_expected"`
}

type elementReply struct {
	ElementID *float64 `json:"element_id"`
	replyFields
}

type coordinateReply struct {
	Coordinates *struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	} `json:"coordinates"`
	replyFields
}

// Locate finds req.Target on req.Screenshot. Every failure to produce a usable
// coordinate is a RESOLUTION_FAILURE; there are no retries here.
func (l *Locator) Locate(ctx context.Context, req Request) (*LocatedElement, error) {
	if req.Screenshot == nil {
		return nil, errs.New(errs.ResolutionFailure, "no screenshot")
	}

	orig := req.Screenshot.Bounds()
	if orig.Empty() {
		return nil, errs.New(errs.ResolutionFailure, "empty screenshot %v", orig)
	}
	scaled := resize.Thumbnail(uint(l.opts.MaxWidth), uint(l.opts.MaxHeight), req.Screenshot, resize.Lanczos3)
	sb := scaled.Bounds()
	sx := float64(orig.Dx()) / float64(sb.Dx())
	sy := float64(orig.Dy()) / float64(sb.Dy())

	var buf bytes.Buffer
	if err := png.Encode(&buf, scaled); err != nil {
		return nil, errs.Wrap(errs.ResolutionFailure, err, "encode screenshot")
	}

	var (
		el  *LocatedElement
		err error
	)
	if ann := l.annotate(ctx, buf.Bytes()); ann != nil {
		el, err = l.locateByID(ctx, req, ann, buf.Bytes())
	} else {
		el, err = l.locateByCoordinates(ctx, req, buf.Bytes(), sb.Dx(), sb.Dy())
	}
	if err != nil {
		return nil, err
	}

	if el.Confidence < 0 || el.Confidence > 1 {
		return nil, errs.New(errs.ResolutionFailure, "confidence %v outside [0, 1]", el.Confidence)
	}

	// the encoded PNG is zero-origin; map back to screenshot space
	x := orig.Min.X + int(math.Round(float64(el.Point.X)*sx))
	y := orig.Min.Y + int(math.Round(float64(el.Point.Y)*sy))
	el.Point = clamp(image.Pt(x, y), orig)

	l.logger.Debug("Element located",
		zap.String("target", req.Target),
		zap.Int("x", el.Point.X), zap.Int("y", el.Point.Y),
		zap.Float64("confidence", el.Confidence),
		zap.Bool("annotated", el.FromAnnotation))
	return el, nil
}

// annotate returns nil when annotation is unavailable so the caller falls
// back to coordinate mode
func (l *Locator) annotate(ctx context.Context, shot []byte) *Annotation {
	if l.annotator == nil {
		return nil
	}
	ann, err := l.annotator.Annotate(ctx, shot)
	if err != nil {
		l.logger.Warn("Annotation failed, falling back to coordinates", zap.Error(err))
		return nil
	}
	if len(ann.Boxes) == 0 {
		l.logger.Debug("Annotation found no elements, falling back to coordinates")
		return nil
	}
	return ann
}

func (l *Locator) locateByID(ctx context.Context, req Request, ann *Annotation, screenshot []byte) (*LocatedElement, error) {
	img := screenshot
	if len(ann.Image) > 0 {
		img = ann.Image
	}

	reply, err := l.provider.Complete(ctx, ai.Request{
		Operation: "locate",
		System:    locateSystemPrompt,
		Prompt:    buildElementPrompt(req.Target, req.Context, ann),
		Images:    []ai.Image{ai.PNGImage(img)},
		Schema:    elementSchema(),
	})
	if err != nil {
		return nil, providerFailure(ctx, err, req.Target)
	}

	r, err := ai.ParseJSON[elementReply](reply)
	if err != nil {
		return nil, errs.Wrap(errs.ResolutionFailure, err, "parse locator reply")
	}
	if r.ElementID == nil || r.Confidence == nil {
		return nil, errs.New(errs.ResolutionFailure, "locator reply misses element_id or confidence")
	}
	id := int(*r.ElementID)
	if float64(id) != *r.ElementID {
		return nil, errs.New(errs.ResolutionFailure, "element id %v is not an integer", *r.ElementID)
	}

	box, ok := ann.Boxes[id]
	if !ok {
		return nil, errs.New(errs.ResolutionFailure, "element %d is not in the annotation", id)
	}
	cx, cy := box.Center()

	el := r.replyFields.element()
	el.Point = image.Pt(int(cx), int(cy))
	el.ElementID = id
	el.FromAnnotation = true
	return el, nil
}

func (l *Locator) locateByCoordinates(ctx context.Context, req Request, screenshot []byte, w, h int) (*LocatedElement, error) {
	reply, err := l.provider.Complete(ctx, ai.Request{
		Operation: "locate",
		System:    locateSystemPrompt,
		Prompt:    buildCoordinatePrompt(req.Target, req.Context, w, h),
		Images:    []ai.Image{ai.PNGImage(screenshot)},
		Schema:    coordinateSchema(),
	})
	if err != nil {
		return nil, providerFailure(ctx, err, req.Target)
	}

	r, err := ai.ParseJSON[coordinateReply](reply)
	if err != nil {
		return nil, errs.Wrap(errs.ResolutionFailure, err, "parse locator reply")
	}
	if r.Coordinates == nil || r.Confidence == nil {
		return nil, errs.New(errs.ResolutionFailure, "locator reply misses coordinates or confidence")
	}
	if r.Coordinates.X < 0 || r.Coordinates.Y < 0 || r.Coordinates.X >= float64(w) || r.Coordinates.Y >= float64(h) {
		return nil, errs.New(errs.ResolutionFailure, "coordinates (%v, %v) outside %dx%d screenshot", r.Coordinates.X, r.Coordinates.Y, w, h)
	}

	el := r.replyFields.element()
	el.Point = image.Pt(int(r.Coordinates.X), int(r.Coordinates.Y))
	el.ElementID = -1
	return el, nil
}

func (f replyFields) element() *LocatedElement {
	return &LocatedElement{
		Confidence:    *f.Confidence,
		Description:   f.ElementDescription,
		TextInput:     f.TextInput,
		HoverFeedback: f.HoverFeedbackExpected,
	}
}

// providerFailure keeps cancellation distinct so callers can stop instead of
// retrying
func providerFailure(ctx context.Context, err error, target string) error {
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return err
	}
	return errs.Wrap(errs.ResolutionFailure, err, "locate %q", target)
}

func clamp(p image.Point, r image.Rectangle) image.Point {
	if p.X < r.Min.X {
		p.X = r.Min.X
	}
	if p.X >= r.Max.X {
		p.X = r.Max.X - 1
	}
	if p.Y < r.Min.Y {
		p.Y = r.Min.Y
	}
	if p.Y >= r.Max.Y {
		p.Y = r.Max.Y - 1
	}
	return p
}
