//go:build !windows

package desktop

import (
	"context"
	"image"

	"go.uber.org/zap"
)

// New reports ErrUnsupported outside Windows
func New(Options, *zap.Logger) (*Desktop, error) {
	return nil, ErrUnsupported
}

func (d *Desktop) Capture(context.Context) (image.Image, error) { return nil, ErrUnsupported }

func (d *Desktop) MoveTo(context.Context, image.Point) error { return ErrUnsupported }

func (d *Desktop) Click(context.Context, image.Point) error { return ErrUnsupported }

func (d *Desktop) DoubleClick(context.Context, image.Point) error { return ErrUnsupported }

func (d *Desktop) RightClick(context.Context, image.Point) error { return ErrUnsupported }

func (d *Desktop) Type(context.Context, string) error { return ErrUnsupported }

func (d *Desktop) Press(context.Context, string) error { return ErrUnsupported }
