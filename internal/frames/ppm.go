package frames

import (
	"bufio"
	"errors"
	"fmt"
	"image"
	"io"
	"strconv"
)

// maxPPMSide bounds the dimensions accepted from a PPM header
const maxPPMSide = 1 << 14

// readPPMHeader parses a binary (P6) PPM header with an 8-bit max value and
// returns the frame size. The single whitespace byte after maxval is consumed.
func readPPMHeader(r *bufio.Reader) (int, int, error) {
	magic := make([]byte, 2)
	if _, err := io.ReadFull(r, magic); err != nil {
		return 0, 0, err
	}
	if string(magic) != "P6" {
		return 0, 0, fmt.Errorf("ppm: bad magic %q", magic)
	}

	var fields [3]int
	for i := range fields {
		n, err := ppmInt(r)
		if err != nil {
			return 0, 0, err
		}
		fields[i] = n
	}
	w, h, maxval := fields[0], fields[1], fields[2]
	if w <= 0 || h <= 0 || w > maxPPMSide || h > maxPPMSide {
		return 0, 0, fmt.Errorf("ppm: invalid size %dx%d", w, h)
	}
	if maxval != 255 {
		return 0, 0, fmt.Errorf("ppm: unsupported maxval %d", maxval)
	}
	return w, h, nil
}

// ppmInt skips whitespace and comments, then reads a decimal number and the
// single delimiter after it
func ppmInt(r *bufio.Reader) (int, error) {
	var digits []byte
	for {
		c, err := r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return 0, err
		}
		switch {
		case c >= '0' && c <= '9':
			digits = append(digits, c)
			if len(digits) > 6 {
				return 0, errors.New("ppm: header number too long")
			}
		case c == '#' && len(digits) == 0:
			if _, err := r.ReadString('\n'); err != nil {
				return 0, io.ErrUnexpectedEOF
			}
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			if len(digits) > 0 {
				return strconv.Atoi(string(digits))
			}
		default:
			return 0, fmt.Errorf("ppm: unexpected byte %q in header", c)
		}
	}
}

// readPPMPixels reads w*h rgb24 pixels into an opaque RGBA image
func readPPMPixels(r io.Reader, w, h int) (*image.RGBA, error) {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	row := make([]byte, w*3)
	for y := 0; y < h; y++ {
		if _, err := io.ReadFull(r, row); err != nil {
			return nil, fmt.Errorf("ppm: read row %d: %w", y, err)
		}
		dst := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			dst[x*4] = row[x*3]
			dst[x*4+1] = row[x*3+1]
			dst[x*4+2] = row[x*3+2]
			dst[x*4+3] = 0xff
		}
	}
	return img, nil
}
