package executor

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"

	"github.com/v0xg/screenplay/internal/overlay"
	"go.uber.org/zap"
)

// saveAttempt writes the attempt screenshot, with the located target marked,
// under DebugDir/<run id>/. Failures are logged and never affect the step.
func (e *Executor) saveAttempt(step Step, a *Attempt) {
	if e.opts.DebugDir == "" || a.Screenshot == nil {
		return
	}

	var img image.Image = a.Screenshot
	if a.Element != nil {
		img = overlay.MarkTarget(a.Screenshot, a.Element.Point, a.Outcome == OutcomeSucceeded)
	}

	dir := filepath.Join(e.opts.DebugDir, e.runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		e.logger.Warn("Failed to create debug directory", zap.String("dir", dir), zap.Error(err))
		return
	}

	name := fmt.Sprintf("step_%02d_attempt_%d_%s.png", step.Number, a.Number, a.Outcome)
	path := filepath.Join(dir, name)
	if err := writePNG(path, img); err != nil {
		e.logger.Warn("Failed to write debug screenshot", zap.String("path", path), zap.Error(err))
		return
	}
	e.logger.Debug("Debug screenshot written", zap.String("path", path))
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
