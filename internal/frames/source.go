package frames

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/gif"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/v0xg/screenplay/internal/errs"
)

// Source yields decoded frames in temporal order. Next returns io.EOF once
// the stream is exhausted.
type Source interface {
	Next() (image.Image, error)
	Close() error
}

// Open picks a decoder for path by extension. GIFs are decoded in process,
// everything else goes through ffmpeg.
func Open(ctx context.Context, path, ffmpegPath string) (Source, error) {
	if strings.EqualFold(filepath.Ext(path), ".gif") {
		return OpenGIF(path)
	}
	return OpenVideo(ctx, path, ffmpegPath)
}

// sliceSource serves frames already held in memory
type sliceSource struct {
	frames []image.Image
	pos    int
}

// NewSliceSource returns a Source over frames
func NewSliceSource(frames ...image.Image) Source {
	return &sliceSource{frames: frames}
}

func (s *sliceSource) Next() (image.Image, error) {
	if s.pos >= len(s.frames) {
		return nil, io.EOF
	}
	img := s.frames[s.pos]
	s.pos++
	return img, nil
}

func (s *sliceSource) Close() error { return nil }

// Skipper is implemented by sources that can pass over a frame more cheaply
// than decoding it. The selector uses it for frames outside the stride.
type Skipper interface {
	Skip() error
}

// skip advances src by one frame
func skip(src Source) error {
	if sk, ok := src.(Skipper); ok {
		return sk.Skip()
	}
	_, err := src.Next()
	return err
}

// gifSource composites the frames of a decoded GIF one at a time onto a single
// canvas. Only the frame handed out by Next is copied.
type gifSource struct {
	g      *gif.GIF
	canvas *image.RGBA
	prev   *image.RGBA // canvas before a DisposalPrevious frame
	pos    int

	// disposal of the frame last drawn, applied before the next one
	lastBounds   image.Rectangle
	lastDisposal byte
}

// OpenGIF decodes an animated GIF. Frames are composited onto the logical
// screen lazily so every yielded image is a full picture.
func OpenGIF(path string) (Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.Wrap(errs.IO, err, "open %s", path)
	}
	defer f.Close()

	g, err := gif.DecodeAll(f)
	if err != nil {
		return nil, errs.Wrap(errs.IO, err, "decode %s", path)
	}

	bounds := image.Rect(0, 0, g.Config.Width, g.Config.Height)
	if bounds.Empty() && len(g.Image) > 0 {
		bounds = g.Image[0].Bounds()
	}
	return &gifSource{g: g, canvas: image.NewRGBA(bounds)}, nil
}

func (s *gifSource) Next() (image.Image, error) {
	if err := s.render(); err != nil {
		return nil, err
	}
	return cloneRGBA(s.canvas), nil
}

// Skip composites the next frame without copying it out
func (s *gifSource) Skip() error {
	return s.render()
}

func (s *gifSource) render() error {
	if s.g == nil || s.pos >= len(s.g.Image) {
		return io.EOF
	}

	switch s.lastDisposal {
	case gif.DisposalBackground:
		draw.Draw(s.canvas, s.lastBounds, image.Transparent, image.Point{}, draw.Src)
	case gif.DisposalPrevious:
		copy(s.canvas.Pix, s.prev.Pix)
	}

	frame := s.g.Image[s.pos]
	disposal := byte(0)
	if s.pos < len(s.g.Disposal) {
		disposal = s.g.Disposal[s.pos]
	}
	if disposal == gif.DisposalPrevious {
		if s.prev == nil {
			s.prev = image.NewRGBA(s.canvas.Rect)
		}
		copy(s.prev.Pix, s.canvas.Pix)
	}

	draw.Draw(s.canvas, frame.Bounds(), frame, frame.Bounds().Min, draw.Over)
	s.lastBounds, s.lastDisposal = frame.Bounds(), disposal
	s.pos++
	return nil
}

func (s *gifSource) Close() error {
	s.g, s.canvas, s.prev = nil, nil, nil
	return nil
}

func cloneRGBA(src *image.RGBA) *image.RGBA {
	dst := image.NewRGBA(src.Rect)
	copy(dst.Pix, src.Pix)
	return dst
}

// videoSource reads the binary PPM stream written by an ffmpeg child
// process. PPM frames are uncompressed, so skipped frames are discarded
// without decoding.
type videoSource struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	r      *bufio.Reader
	stderr bytes.Buffer
	done   bool
	err    error
}

// OpenVideo starts ffmpeg on path and streams every frame back as rgb24 PPM
// over a pipe. The process is reaped by Close on every path.
func OpenVideo(ctx context.Context, path, ffmpegPath string) (Source, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, errs.Wrap(errs.IO, err, "open video %s", path)
	}
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}

	s := &videoSource{}
	s.cmd = exec.CommandContext(ctx, ffmpegPath,
		"-nostdin",
		"-loglevel", "error",
		"-i", path,
		"-f", "image2pipe",
		"-vcodec", "ppm",
		"-pix_fmt", "rgb24",
		"-",
	)
	s.cmd.Stderr = &s.stderr

	stdout, err := s.cmd.StdoutPipe()
	if err != nil {
		return nil, errs.Wrap(errs.IO, err, "open video %s", path)
	}
	if err := s.cmd.Start(); err != nil {
		return nil, errs.Wrap(errs.IO, err, "start %s", ffmpegPath)
	}
	s.stdout = stdout
	s.r = bufio.NewReaderSize(stdout, 1<<20)
	return s, nil
}

func (s *videoSource) Next() (image.Image, error) {
	w, h, err := s.header()
	if err != nil {
		return nil, err
	}
	return readPPMPixels(s.r, w, h)
}

// Skip discards the next frame's pixels
func (s *videoSource) Skip() error {
	w, h, err := s.header()
	if err != nil {
		return err
	}
	if _, err := s.r.Discard(w * h * 3); err != nil {
		return fmt.Errorf("skip frame from ffmpeg: %w", err)
	}
	return nil
}

// header reads the next frame header, or reports the end of the stream
func (s *videoSource) header() (int, int, error) {
	if s.done {
		if s.err != nil {
			return 0, 0, s.err
		}
		return 0, 0, io.EOF
	}

	if _, err := s.r.Peek(1); err != nil {
		s.finish()
		if s.err != nil {
			return 0, 0, s.err
		}
		return 0, 0, io.EOF
	}

	w, h, err := readPPMHeader(s.r)
	if err != nil {
		return 0, 0, fmt.Errorf("decode frame from ffmpeg: %w", err)
	}
	return w, h, nil
}

// finish waits for ffmpeg after its stdout hit EOF and keeps its exit status
func (s *videoSource) finish() {
	if s.done {
		return
	}
	s.done = true
	if err := s.cmd.Wait(); err != nil {
		msg := strings.TrimSpace(s.stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		s.err = errs.Wrap(errs.IO, err, "ffmpeg: %s", msg)
	}
}

func (s *videoSource) Close() error {
	if s.done {
		return nil
	}
	s.done = true
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	_ = s.stdout.Close()
	err := s.cmd.Wait()

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// killed on purpose
		return nil
	}
	return err
}
