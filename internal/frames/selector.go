// Package frames reduces a screen recording to the frames where the visible
// application state changed.
package frames

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/v0xg/screenplay/internal/config"
	"github.com/v0xg/screenplay/internal/errs"
	"github.com/v0xg/screenplay/internal/metrics"
	"go.uber.org/zap"
)

// Options tunes change detection. Suitable values depend on the recording's
// resolution and frame rate.
type Options struct {
	Stride        int     // analyse every Nth frame
	DiffThreshold int     // per-pixel intensity delta (0-255) counted as changed
	MinArea       int     // a region larger than this many pixels marks a change
	MSEDelta      float64 // required shift in normalized MSE between accepts
}

// DefaultOptions returns the thresholds tuned for 1080p screen recordings
func DefaultOptions() Options {
	return Options{Stride: 15, DiffThreshold: 70, MinArea: 500, MSEDelta: 0.05}
}

// OptionsFromConfig maps the frames config section onto Options
func OptionsFromConfig(cfg config.FramesConfig) Options {
	return Options{
		Stride:        cfg.Stride,
		DiffThreshold: cfg.DiffThreshold,
		MinArea:       cfg.MinArea,
		MSEDelta:      cfg.MSEDelta,
	}
}

// ChangeEvent is a sampled frame whose difference from the previous sampled
// frame crossed the area threshold
type ChangeEvent struct {
	Index  int     // frame index in the source
	Area   int     // largest connected changed region, in pixels
	Energy float64 // mean absolute intensity difference, normalized to [0,1]
	MSE    float64 // normalized MSE against the last accepted frame
	Kept   bool
}

// SelectedFrame is a frame promoted into the output sequence
type SelectedFrame struct {
	Index int
	Image image.Image
	PNG   []byte
}

// Base64 returns the PNG bytes in standard base64
func (f SelectedFrame) Base64() string {
	return base64.StdEncoding.EncodeToString(f.PNG)
}

// Result is the outcome of one selection pass
type Result struct {
	Frames  []SelectedFrame
	Events  []ChangeEvent
	Sampled int // frames analysed, baseline included
}

// Images returns the selected frames as images
func (r *Result) Images() []image.Image {
	out := make([]image.Image, len(r.Frames))
	for i, f := range r.Frames {
		out[i] = f.Image
	}
	return out
}

// Base64 returns the selected frames as base64 PNGs
func (r *Result) Base64() []string {
	out := make([]string, len(r.Frames))
	for i, f := range r.Frames {
		out[i] = f.Base64()
	}
	return out
}

// Selector runs change detection over a Source
type Selector struct {
	opts    Options
	logger  *zap.Logger
	metrics *metrics.Collector
}

// NewSelector validates opts and returns a Selector. logger and m may be nil.
func NewSelector(opts Options, logger *zap.Logger, m *metrics.Collector) (*Selector, error) {
	if opts.Stride <= 0 {
		return nil, fmt.Errorf("stride must be positive, got %d", opts.Stride)
	}
	if opts.DiffThreshold < 0 || opts.DiffThreshold > 255 {
		return nil, fmt.Errorf("diff threshold must be within 0-255, got %d", opts.DiffThreshold)
	}
	if opts.MinArea < 0 || opts.MSEDelta < 0 {
		return nil, fmt.Errorf("min area and mse delta must not be negative")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Selector{opts: opts, logger: logger.Named("frames"), metrics: m}, nil
}

// Select consumes src and returns the frames that begin a new visual state.
// The source is closed before returning. Frame 0 is the baseline and is never
// emitted itself.
func (s *Selector) Select(ctx context.Context, src Source) (*Result, error) {
	defer src.Close()

	first, err := src.Next()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errs.New(errs.IO, "video has no readable frames")
		}
		return nil, errs.Wrap(errs.IO, err, "read first frame")
	}

	prev := toGray(first)
	size := prev.Rect.Size()
	s.metrics.FrameSampled()

	var (
		lastAccepted *image.Gray
		lastMSE      float64
	)
	res := &Result{Sampled: 1}

	for index := 1; ; index++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		sampled := index%s.opts.Stride == 0
		var (
			img image.Image
			err error
		)
		if sampled {
			img, err = src.Next()
		} else {
			err = skip(src)
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			s.logger.Warn("Frame read failed, ending stream", zap.Int("index", index), zap.Error(err))
			break
		}
		if !sampled {
			continue
		}

		gray := toGray(img)
		if gray.Rect.Size() != size {
			return nil, errs.New(errs.IO, "frame %d is %v, stream started at %v", index, gray.Rect.Size(), size)
		}
		res.Sampled++
		s.metrics.FrameSampled()

		area, energy := s.changedArea(prev, gray)
		prev = gray
		if area <= s.opts.MinArea {
			continue
		}

		mse := 0.0
		if lastAccepted != nil {
			mse = meanSquaredError(lastAccepted, gray)
		}
		keep := lastAccepted == nil || math.Abs(mse-lastMSE) > s.opts.MSEDelta

		ev := ChangeEvent{Index: index, Area: area, Energy: energy, MSE: mse, Kept: keep}
		res.Events = append(res.Events, ev)
		s.metrics.ChangeDetected(keep)

		if !keep {
			s.logger.Debug("Near-duplicate change discarded",
				zap.Int("index", index), zap.Int("area", area), zap.Float64("mse", mse), zap.Float64("last_mse", lastMSE))
			continue
		}

		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("encode frame %d: %w", index, err)
		}
		res.Frames = append(res.Frames, SelectedFrame{Index: index, Image: img, PNG: buf.Bytes()})
		lastAccepted = gray
		lastMSE = mse

		s.logger.Info("Relevant change detected",
			zap.Int("index", index), zap.Int("area", area), zap.Float64("energy", energy), zap.Float64("mse", mse))
	}

	s.logger.Debug("Selection finished",
		zap.Int("sampled", res.Sampled), zap.Int("events", len(res.Events)), zap.Int("selected", len(res.Frames)))
	return res, nil
}

// changedArea thresholds |a-b| into a mask and returns the largest
// 8-connected region of it together with the mean difference
func (s *Selector) changedArea(a, b *image.Gray) (int, float64) {
	w, h := a.Rect.Dx(), a.Rect.Dy()
	mask := make([]bool, w*h)
	threshold := s.opts.DiffThreshold

	var sum int
	for y := 0; y < h; y++ {
		ra := a.Pix[y*a.Stride : y*a.Stride+w]
		rb := b.Pix[y*b.Stride : y*b.Stride+w]
		for x := 0; x < w; x++ {
			d := int(ra[x]) - int(rb[x])
			if d < 0 {
				d = -d
			}
			sum += d
			if d > threshold {
				mask[y*w+x] = true
			}
		}
	}

	energy := 0.0
	if w*h > 0 {
		energy = float64(sum) / float64(w*h) / 255
	}
	return largestRegion(mask, w, h), energy
}

// largestRegion flood-fills mask in place and returns the pixel count of its
// biggest 8-connected component
func largestRegion(mask []bool, w, h int) int {
	best := 0
	stack := make([]int, 0, 256)

	for start, on := range mask {
		if !on {
			continue
		}
		mask[start] = false
		stack = append(stack[:0], start)
		area := 0

		for len(stack) > 0 {
			p := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			area++

			x, y := p%w, p/w
			for dy := -1; dy <= 1; dy++ {
				ny := y + dy
				if ny < 0 || ny >= h {
					continue
				}
				for dx := -1; dx <= 1; dx++ {
					nx := x + dx
					if nx < 0 || nx >= w {
						continue
					}
					q := ny*w + nx
					if mask[q] {
						mask[q] = false
						stack = append(stack, q)
					}
				}
			}
		}

		if area > best {
			best = area
		}
	}
	return best
}

// meanSquaredError is the mean of ((a-b)/255)^2 over all pixels
func meanSquaredError(a, b *image.Gray) float64 {
	w, h := a.Rect.Dx(), a.Rect.Dy()
	if w*h == 0 {
		return 0
	}
	var sum float64
	for y := 0; y < h; y++ {
		ra := a.Pix[y*a.Stride : y*a.Stride+w]
		rb := b.Pix[y*b.Stride : y*b.Stride+w]
		for x := 0; x < w; x++ {
			d := (float64(ra[x]) - float64(rb[x])) / 255
			sum += d * d
		}
	}
	return sum / float64(w*h)
}

// toGray converts img to a zero-origin single channel image
func toGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok && g.Rect.Min == (image.Point{}) {
		return g
	}
	b := img.Bounds()
	g := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(g, g.Rect, img, b.Min, draw.Src)
	return g
}

// WriteFrames stores each selected frame as frame_<index>.png under dir and
// returns the written paths
func WriteFrames(dir string, frames []SelectedFrame) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(frames))
	for _, f := range frames {
		p := filepath.Join(dir, fmt.Sprintf("frame_%05d.png", f.Index))
		if err := os.WriteFile(p, f.PNG, 0o644); err != nil {
			return paths, err
		}
		paths = append(paths, p)
	}
	return paths, nil
}
