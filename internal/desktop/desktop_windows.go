//go:build windows

package desktop

import (
	"context"
	"fmt"
	"image"
	"time"
	"unicode/utf16"
	"unsafe"

	"go.uber.org/zap"
	"golang.org/x/sys/windows"
)

const (
	inputMouse    = 0
	inputKeyboard = 1

	mouseeventfLeftDown  = 0x0002
	mouseeventfLeftUp    = 0x0004
	mouseeventfRightDown = 0x0008
	mouseeventfRightUp   = 0x0010

	keyeventfKeyUp   = 0x0002
	keyeventfUnicode = 0x0004

	smCXScreen   = 0
	smCYScreen   = 1
	srcCopy      = 0x00CC0020
	biRGB        = 0
	dibRGBColors = 0
)

var (
	user32 = windows.NewLazySystemDLL("user32.dll")
	gdi32  = windows.NewLazySystemDLL("gdi32.dll")

	procSendInput          = user32.NewProc("SendInput")
	procSetCursorPos       = user32.NewProc("SetCursorPos")
	procGetCursorPos       = user32.NewProc("GetCursorPos")
	procGetSystemMetrics   = user32.NewProc("GetSystemMetrics")
	procGetDC              = user32.NewProc("GetDC")
	procReleaseDC          = user32.NewProc("ReleaseDC")
	procSetProcessDPIAware = user32.NewProc("SetProcessDPIAware")

	procCreateCompatibleDC     = gdi32.NewProc("CreateCompatibleDC")
	procCreateCompatibleBitmap = gdi32.NewProc("CreateCompatibleBitmap")
	procSelectObject           = gdi32.NewProc("SelectObject")
	procBitBlt                 = gdi32.NewProc("BitBlt")
	procGetDIBits              = gdi32.NewProc("GetDIBits")
	procDeleteObject           = gdi32.NewProc("DeleteObject")
	procDeleteDC               = gdi32.NewProc("DeleteDC")
)

type mouseInput struct {
	dx          int32
	dy          int32
	mouseData   uint32
	dwFlags     uint32
	time        uint32
	dwExtraInfo uintptr
}

type keybdInput struct {
	wVk         uint16
	wScan       uint16
	dwFlags     uint32
	time        uint32
	dwExtraInfo uintptr
}

// mouseEvent and keyEvent share the size of the Win32 INPUT union
type mouseEvent struct {
	typ uint32
	mi  mouseInput
}

type keyEvent struct {
	typ     uint32
	ki      keybdInput
	padding [8]byte
}

type point struct {
	x, y int32
}

type bitmapInfoHeader struct {
	biSize          uint32
	biWidth         int32
	biHeight        int32
	biPlanes        uint16
	biBitCount      uint16
	biCompression   uint32
	biSizeImage     uint32
	biXPelsPerMeter int32
	biYPelsPerMeter int32
	biClrUsed       uint32
	biClrImportant  uint32
}

// New returns the driver for the local session. The process is made DPI
// aware so screenshot pixels and cursor coordinates agree.
func New(opts Options, logger *zap.Logger) (*Desktop, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := user32.Load(); err != nil {
		return nil, fmt.Errorf("load user32: %w", err)
	}
	if err := gdi32.Load(); err != nil {
		return nil, fmt.Errorf("load gdi32: %w", err)
	}
	procSetProcessDPIAware.Call()

	d := &Desktop{opts: opts, logger: logger.Named("desktop")}
	var p point
	if r, _, _ := procGetCursorPos.Call(uintptr(unsafe.Pointer(&p))); r != 0 {
		d.cursor = image.Pt(int(p.x), int(p.y))
	}
	return d, nil
}

// Capture grabs the primary display with BitBlt
func (d *Desktop) Capture(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	w, _, _ := procGetSystemMetrics.Call(smCXScreen)
	h, _, _ := procGetSystemMetrics.Call(smCYScreen)
	width, height := int(w), int(h)
	if width == 0 || height == 0 {
		return nil, fmt.Errorf("screen size unavailable")
	}

	screenDC, _, err := procGetDC.Call(0)
	if screenDC == 0 {
		return nil, fmt.Errorf("GetDC: %w", err)
	}
	defer procReleaseDC.Call(0, screenDC)

	memDC, _, err := procCreateCompatibleDC.Call(screenDC)
	if memDC == 0 {
		return nil, fmt.Errorf("CreateCompatibleDC: %w", err)
	}
	defer procDeleteDC.Call(memDC)

	bmp, _, err := procCreateCompatibleBitmap.Call(screenDC, w, h)
	if bmp == 0 {
		return nil, fmt.Errorf("CreateCompatibleBitmap: %w", err)
	}
	defer procDeleteObject.Call(bmp)

	old, _, _ := procSelectObject.Call(memDC, bmp)
	defer procSelectObject.Call(memDC, old)

	if r, _, err := procBitBlt.Call(memDC, 0, 0, w, h, screenDC, 0, 0, srcCopy); r == 0 {
		return nil, fmt.Errorf("BitBlt: %w", err)
	}

	hdr := bitmapInfoHeader{
		biWidth:       int32(width),
		biHeight:      -int32(height), // top-down rows
		biPlanes:      1,
		biBitCount:    32,
		biCompression: biRGB,
	}
	hdr.biSize = uint32(unsafe.Sizeof(hdr))

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	r, _, err := procGetDIBits.Call(memDC, bmp, 0, h,
		uintptr(unsafe.Pointer(&img.Pix[0])),
		uintptr(unsafe.Pointer(&hdr)),
		dibRGBColors)
	if r == 0 {
		return nil, fmt.Errorf("GetDIBits: %w", err)
	}

	// BGRA -> RGBA
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+2] = img.Pix[i+2], img.Pix[i]
		img.Pix[i+3] = 0xff
	}
	return img, nil
}

// MoveTo glides the cursor to p
func (d *Desktop) MoveTo(ctx context.Context, p image.Point) error {
	for i, pt := range path(d.cursor, p, d.opts.MoveSteps) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if r, _, err := procSetCursorPos.Call(uintptr(pt.X), uintptr(pt.Y)); r == 0 {
			return fmt.Errorf("SetCursorPos(%d, %d): %w", pt.X, pt.Y, err)
		}
		d.cursor = pt
		if i < d.opts.MoveSteps-1 && d.opts.MoveDelay > 0 {
			time.Sleep(d.opts.MoveDelay)
		}
	}
	return nil
}

// Click moves to p and clicks the left button
func (d *Desktop) Click(ctx context.Context, p image.Point) error {
	if err := d.MoveTo(ctx, p); err != nil {
		return err
	}
	return sendMouse(mouseeventfLeftDown, mouseeventfLeftUp)
}

// DoubleClick moves to p and clicks the left button twice
func (d *Desktop) DoubleClick(ctx context.Context, p image.Point) error {
	if err := d.Click(ctx, p); err != nil {
		return err
	}
	time.Sleep(d.opts.ClickGap)
	return sendMouse(mouseeventfLeftDown, mouseeventfLeftUp)
}

// RightClick moves to p and clicks the right button
func (d *Desktop) RightClick(ctx context.Context, p image.Point) error {
	if err := d.MoveTo(ctx, p); err != nil {
		return err
	}
	return sendMouse(mouseeventfRightDown, mouseeventfRightUp)
}

// Type sends text as unicode key events, independent of the keyboard layout
func (d *Desktop) Type(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	units := utf16.Encode([]rune(text))
	if len(units) == 0 {
		return nil
	}
	events := make([]keyEvent, 0, 2*len(units))
	for _, u := range units {
		events = append(events,
			keyEvent{typ: inputKeyboard, ki: keybdInput{wScan: u, dwFlags: keyeventfUnicode}},
			keyEvent{typ: inputKeyboard, ki: keybdInput{wScan: u, dwFlags: keyeventfUnicode | keyeventfKeyUp}},
		)
	}
	return sendInput(len(events), unsafe.Pointer(&events[0]))
}

// Press taps a named key such as enter or tab
func (d *Desktop) Press(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	vk, ok := virtualKey(key)
	if !ok {
		return fmt.Errorf("unsupported key %q", key)
	}
	events := []keyEvent{
		{typ: inputKeyboard, ki: keybdInput{wVk: vk}},
		{typ: inputKeyboard, ki: keybdInput{wVk: vk, dwFlags: keyeventfKeyUp}},
	}
	return sendInput(len(events), unsafe.Pointer(&events[0]))
}

func sendMouse(down, up uint32) error {
	events := []mouseEvent{
		{typ: inputMouse, mi: mouseInput{dwFlags: down}},
		{typ: inputMouse, mi: mouseInput{dwFlags: up}},
	}
	return sendInput(len(events), unsafe.Pointer(&events[0]))
}

func sendInput(n int, events unsafe.Pointer) error {
	sent, _, err := procSendInput.Call(uintptr(n), uintptr(events), unsafe.Sizeof(mouseEvent{}))
	if int(sent) != n {
		return fmt.Errorf("SendInput delivered %d of %d events: %w", sent, n, err)
	}
	return nil
}
