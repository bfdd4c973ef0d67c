// Package overlay draws pointer markers onto screenshots for debug output
package overlay

import (
	"image"
	"image/color"
	"image/draw"
	"math"
)

var (
	// accepted targets are green, rejected ones red
	hitColor  = color.RGBA{52, 168, 83, 255}
	missColor = color.RGBA{234, 67, 53, 255}

	outlineColor = color.RGBA{0, 0, 0, 255}
	fillColor    = color.RGBA{255, 255, 255, 255}
)

// MarkTarget returns a copy of img with a crosshair, a ring and an arrow
// pointer at p
func MarkTarget(img image.Image, p image.Point, hit bool) *image.RGBA {
	bounds := img.Bounds()
	result := image.NewRGBA(bounds)
	draw.Draw(result, bounds, img, bounds.Min, draw.Src)

	c := missColor
	if hit {
		c = hitColor
	}

	drawRing(result, p.X, p.Y, 15, c)
	drawRing(result, p.X, p.Y, 16, c)
	drawLine(result, p.X-24, p.Y, p.X-6, p.Y, c)
	drawLine(result, p.X+6, p.Y, p.X+24, p.Y, c)
	drawLine(result, p.X, p.Y-24, p.X, p.Y-6, c)
	drawLine(result, p.X, p.Y+6, p.X, p.Y+24, c)
	drawPointer(result, p.X, p.Y)

	return result
}

// drawPointer draws a simple arrow cursor with its tip at (x, y)
func drawPointer(img *image.RGBA, x, y int) {
	outline := []image.Point{
		{0, 0},
		{0, 16},
		{4, 12},
		{7, 18},
		{10, 17},
		{7, 11},
		{12, 11},
	}

	for dy := 0; dy < 18; dy++ {
		for dx := 0; dx < 13; dx++ {
			if insidePointer(dx, dy) {
				setPixelSafe(img, x+dx, y+dy, fillColor)
			}
		}
	}

	for i := range outline {
		p1 := outline[i]
		p2 := outline[(i+1)%len(outline)]
		drawLine(img, x+p1.X, y+p1.Y, x+p2.X, y+p2.Y, outlineColor)
	}
}

func insidePointer(dx, dy int) bool {
	if dy < 0 || dy > 16 || dx < 0 {
		return false
	}
	// head
	if dy <= 11 {
		return dx <= dy*12/16
	}
	// shaft
	return dx <= 4
}

// drawLine draws a line between two points using Bresenham's algorithm
func drawLine(img *image.RGBA, x1, y1, x2, y2 int, c color.RGBA) {
	dx := abs(x2 - x1)
	dy := abs(y2 - y1)
	sx := 1
	if x1 > x2 {
		sx = -1
	}
	sy := 1
	if y1 > y2 {
		sy = -1
	}
	err := dx - dy

	for {
		setPixelSafe(img, x1, y1, c)
		if x1 == x2 && y1 == y2 {
			break
		}
		e2 := 2 * err
		if e2 > -dy {
			err -= dy
			x1 += sx
		}
		if e2 < dx {
			err += dx
			y1 += sy
		}
	}
}

func drawRing(img *image.RGBA, x, y, radius int, c color.RGBA) {
	for angle := 0.0; angle < 360; angle++ {
		rad := angle * math.Pi / 180
		px := x + int(math.Round(float64(radius)*math.Cos(rad)))
		py := y + int(math.Round(float64(radius)*math.Sin(rad)))
		setPixelSafe(img, px, py, c)
	}
}

func setPixelSafe(img *image.RGBA, x, y int, c color.RGBA) {
	if (image.Point{x, y}).In(img.Bounds()) {
		img.SetRGBA(x, y, c)
	}
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
