// Package gifgen renders selected key frames as an animated storyboard GIF
package gifgen

import (
	"errors"
	"image"
	"image/color"
	"image/draw"
	"image/gif"
	"io"
	"os"
	"sort"
	"time"

	"github.com/nfnt/resize"
)

// Options configures GIF generation
type Options struct {
	FrameDelay time.Duration // how long each key frame stays on screen
	MaxWidth   uint
}

// DefaultOptions holds each frame for a second at 800px wide
func DefaultOptions() Options {
	return Options{FrameDelay: time.Second, MaxWidth: 800}
}

// Encode writes frames to w as a looping GIF. Every frame is scaled to the
// first frame's output size and shares one palette.
func Encode(w io.Writer, frames []image.Image, opts Options) error {
	if len(frames) == 0 {
		return errors.New("no frames to encode")
	}
	if opts.MaxWidth == 0 {
		opts.MaxWidth = DefaultOptions().MaxWidth
	}

	// delay is in 100ths of a second
	delay := int(opts.FrameDelay / (10 * time.Millisecond))
	if delay <= 0 {
		delay = 100
	}

	bounds := frames[0].Bounds()
	outputWidth := opts.MaxWidth
	if uint(bounds.Dx()) < outputWidth {
		outputWidth = uint(bounds.Dx())
	}
	aspectRatio := float64(bounds.Dy()) / float64(bounds.Dx())
	outputHeight := max(uint(float64(outputWidth)*aspectRatio), 1)

	resized := make([]image.Image, len(frames))
	for i, frame := range frames {
		resized[i] = resize.Resize(outputWidth, outputHeight, frame, resize.Lanczos3)
	}
	palette := generatePalette(resized)

	g := &gif.GIF{
		Image:     make([]*image.Paletted, len(frames)),
		Delay:     make([]int, len(frames)),
		LoopCount: 0, // forever
	}
	for i, frame := range resized {
		paletted := image.NewPaletted(frame.Bounds(), palette)
		draw.FloydSteinberg.Draw(paletted, frame.Bounds(), frame, frame.Bounds().Min)
		g.Image[i] = paletted
		g.Delay[i] = delay
	}

	return gif.EncodeAll(w, g)
}

// WriteFile encodes frames into outputPath and returns the file size
func WriteFile(outputPath string, frames []image.Image, opts Options) (int64, error) {
	f, err := os.Create(outputPath)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	if err := Encode(f, frames, opts); err != nil {
		return 0, err
	}

	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// generatePalette picks the 255 most frequent colors across all frames plus a
// transparent entry
func generatePalette(frames []image.Image) color.Palette {
	counts := make(map[color.RGBA]int)

	// every 4th pixel is enough for UI screenshots
	const step = 4
	for _, img := range frames {
		b := img.Bounds()
		for y := b.Min.Y; y < b.Max.Y; y += step {
			for x := b.Min.X; x < b.Max.X; x += step {
				r, g, bl, a := img.At(x, y).RGBA()
				counts[color.RGBA{R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(bl >> 8), A: uint8(a >> 8)}]++
			}
		}
	}

	type colorCount struct {
		c     color.RGBA
		count int
	}
	colors := make([]colorCount, 0, len(counts))
	for c, n := range counts {
		colors = append(colors, colorCount{c, n})
	}
	sort.Slice(colors, func(i, j int) bool {
		if colors[i].count != colors[j].count {
			return colors[i].count > colors[j].count
		}
		return rgbaKey(colors[i].c) < rgbaKey(colors[j].c)
	})

	palette := make(color.Palette, 0, 256)
	palette = append(palette, color.RGBA{0, 0, 0, 0})
	for i := 0; i < len(colors) && len(palette) < 256; i++ {
		palette = append(palette, colors[i].c)
	}

	// pad with grays
	for len(palette) < 256 {
		gray := uint8(len(palette))
		palette = append(palette, color.RGBA{gray, gray, gray, 255})
	}
	return palette
}

func rgbaKey(c color.RGBA) uint32 {
	return uint32(c.R)<<24 | uint32(c.G)<<16 | uint32(c.B)<<8 | uint32(c.A)
}
