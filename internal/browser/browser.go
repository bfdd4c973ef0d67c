// Package browser drives a Chromium page through the DevTools protocol so
// replays can target web applications, headless if needed.
package browser

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/v0xg/screenplay/internal/config"
	"go.uber.org/zap"
)

// Options configures the browser session
type Options struct {
	URL        string
	Width      int
	Height     int
	Headless   bool
	ProfileDir string // Chrome/Chromium profile directory for authenticated sessions
	MoveSteps  int    // pointer positions per eased move
	MoveDelay  time.Duration
}

// DefaultOptions returns a 1280x720 headless session on a blank page
func DefaultOptions() Options {
	return Options{
		URL:       "about:blank",
		Width:     1280,
		Height:    720,
		Headless:  true,
		MoveSteps: 12,
		MoveDelay: 8 * time.Millisecond,
	}
}

// OptionsFromConfig maps the browser config section onto Options
func OptionsFromConfig(cfg config.BrowserConfig) Options {
	opts := DefaultOptions()
	opts.URL = cfg.URL
	opts.Width = cfg.Width
	opts.Height = cfg.Height
	opts.Headless = cfg.Headless
	opts.ProfileDir = cfg.ProfileDir
	return opts
}

// Browser wraps the Rod browser and page. It implements both the screen and
// the input driver of the executor.
type Browser struct {
	browser *rod.Browser
	page    *rod.Page
	opts    Options
	cursor  proto.Point
	logger  *zap.Logger
}

// Launch starts Chromium, opens opts.URL and waits for it to settle
func Launch(ctx context.Context, opts Options, logger *zap.Logger) (*Browser, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MoveSteps <= 0 {
		opts.MoveSteps = 1
	}
	if opts.URL == "" {
		opts.URL = "about:blank"
	}

	l := launcher.New().Context(ctx).Headless(opts.Headless)
	if path, ok := launcher.LookPath(); ok {
		l = l.Bin(path)
	}
	if opts.ProfileDir != "" {
		l = l.UserDataDir(opts.ProfileDir)
	}

	u, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	rb := rod.New().Context(ctx).ControlURL(u)
	if err := rb.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("connect to browser: %w", err)
	}
	b := &Browser{
		browser: rb,
		opts:    opts,
		cursor:  proto.Point{X: float64(opts.Width) / 2, Y: float64(opts.Height) / 2},
		logger:  logger.Named("browser"),
	}

	page, err := rb.Page(proto.TargetCreateTarget{URL: opts.URL})
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("open %s: %w", opts.URL, err)
	}
	b.page = page

	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             opts.Width,
		Height:            opts.Height,
		DeviceScaleFactor: 1,
	}); err != nil {
		b.Close()
		return nil, fmt.Errorf("set viewport: %w", err)
	}

	if err := b.settle(); err != nil {
		b.Close()
		return nil, err
	}

	b.logger.Info("Browser ready",
		zap.String("url", opts.URL),
		zap.Int("width", opts.Width), zap.Int("height", opts.Height),
		zap.Bool("headless", opts.Headless))
	return b, nil
}

// settle waits for the load event and then for the network to go quiet
func (b *Browser) settle() error {
	if err := b.page.WaitLoad(); err != nil {
		return fmt.Errorf("wait for page load: %w", err)
	}
	// don't hang on persistent connections (WebSockets, polling, etc.)
	b.page.Timeout(5*time.Second).WaitRequestIdle(500*time.Millisecond, nil, nil, nil)()
	return nil
}

// Close cleans up browser resources
func (b *Browser) Close() error {
	if b.page != nil {
		_ = b.page.Close()
	}
	if b.browser != nil {
		return b.browser.Close()
	}
	return nil
}

// Page returns the underlying Rod page
func (b *Browser) Page() *rod.Page {
	return b.page
}

// Navigate loads url in the current page
func (b *Browser) Navigate(url string) error {
	if err := b.page.Navigate(url); err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	return b.settle()
}

// Capture takes a viewport screenshot
func (b *Browser) Capture(ctx context.Context) (image.Image, error) {
	data, err := b.page.Context(ctx).Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, fmt.Errorf("capture page: %w", err)
	}
	return png.Decode(bytes.NewReader(data))
}

// MoveTo glides the pointer from its last position to p
func (b *Browser) MoveTo(ctx context.Context, p image.Point) error {
	from := b.cursor
	to := proto.Point{X: float64(p.X), Y: float64(p.Y)}

	for i := 1; i <= b.opts.MoveSteps; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		t := easeInOutQuad(float64(i) / float64(b.opts.MoveSteps))
		pt := proto.Point{
			X: from.X + t*(to.X-from.X),
			Y: from.Y + t*(to.Y-from.Y),
		}
		if err := b.page.Mouse.MoveTo(pt); err != nil {
			return fmt.Errorf("move pointer: %w", err)
		}
		b.cursor = pt
		if i < b.opts.MoveSteps && b.opts.MoveDelay > 0 {
			time.Sleep(b.opts.MoveDelay)
		}
	}
	return nil
}

// Click moves to p and presses the left button once
func (b *Browser) Click(ctx context.Context, p image.Point) error {
	return b.click(ctx, p, proto.InputMouseButtonLeft, 1)
}

// DoubleClick moves to p and double-clicks the left button
func (b *Browser) DoubleClick(ctx context.Context, p image.Point) error {
	return b.click(ctx, p, proto.InputMouseButtonLeft, 2)
}

// RightClick moves to p and clicks the right button
func (b *Browser) RightClick(ctx context.Context, p image.Point) error {
	return b.click(ctx, p, proto.InputMouseButtonRight, 1)
}

func (b *Browser) click(ctx context.Context, p image.Point, button proto.InputMouseButton, count int) error {
	if err := b.MoveTo(ctx, p); err != nil {
		return err
	}
	if err := b.page.Mouse.Click(button, count); err != nil {
		return fmt.Errorf("%s click: %w", button, err)
	}
	return nil
}

// Type inserts text into the focused element
func (b *Browser) Type(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if text == "" {
		return nil
	}
	if err := b.page.InsertText(text); err != nil {
		return fmt.Errorf("insert text: %w", err)
	}
	return nil
}

// Press sends a named key such as enter or tab
func (b *Browser) Press(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	k, err := keyFor(key)
	if err != nil {
		return err
	}
	if err := b.page.Keyboard.Type(k); err != nil {
		return fmt.Errorf("press %s: %w", key, err)
	}
	return nil
}

var namedKeys = map[string]input.Key{
	"enter":     input.Enter,
	"return":    input.Enter,
	"tab":       input.Tab,
	"escape":    input.Escape,
	"esc":       input.Escape,
	"backspace": input.Backspace,
	"delete":    input.Delete,
	"space":     input.Space,
	"up":        input.ArrowUp,
	"down":      input.ArrowDown,
	"left":      input.ArrowLeft,
	"right":     input.ArrowRight,
}

func keyFor(name string) (input.Key, error) {
	k, ok := namedKeys[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, fmt.Errorf("unsupported key %q", name)
	}
	return k, nil
}

// easeInOutQuad provides smooth acceleration/deceleration
func easeInOutQuad(t float64) float64 {
	if t < 0.5 {
		return 2 * t * t
	}
	return 1 - (-2*t+2)*(-2*t+2)/2
}
