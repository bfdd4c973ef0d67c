// Package desktop injects input into and captures the primary display of the
// local Windows session.
package desktop

import (
	"errors"
	"image"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrUnsupported is returned on platforms without a desktop backend
var ErrUnsupported = errors.New("desktop backend is only available on Windows")

// Options tunes pointer motion
type Options struct {
	MoveSteps int
	MoveDelay time.Duration
	// ClickGap separates the two clicks of a double click
	ClickGap time.Duration
}

// DefaultOptions returns a short eased glide
func DefaultOptions() Options {
	return Options{MoveSteps: 12, MoveDelay: 8 * time.Millisecond, ClickGap: 60 * time.Millisecond}
}

// Desktop is the screen and input driver of the local session
type Desktop struct {
	opts   Options
	cursor image.Point
	logger *zap.Logger
}

// virtual-key codes for the named keys a step may submit with
var virtualKeys = map[string]uint16{
	"enter":     0x0D,
	"return":    0x0D,
	"tab":       0x09,
	"escape":    0x1B,
	"esc":       0x1B,
	"backspace": 0x08,
	"delete":    0x2E,
	"space":     0x20,
	"left":      0x25,
	"up":        0x26,
	"right":     0x27,
	"down":      0x28,
}

func virtualKey(name string) (uint16, bool) {
	vk, ok := virtualKeys[strings.ToLower(strings.TrimSpace(name))]
	return vk, ok
}

// path returns the eased pointer positions from a to b, ending exactly at b
func path(a, b image.Point, steps int) []image.Point {
	if steps <= 0 {
		steps = 1
	}
	out := make([]image.Point, steps)
	for i := 1; i <= steps; i++ {
		t := easeInOutQuad(float64(i) / float64(steps))
		out[i-1] = image.Pt(
			a.X+int(t*float64(b.X-a.X)),
			a.Y+int(t*float64(b.Y-a.Y)),
		)
	}
	out[steps-1] = b
	return out
}

func easeInOutQuad(t float64) float64 {
	if t < 0.5 {
		return 2 * t * t
	}
	return 1 - (-2*t+2)*(-2*t+2)/2
}
