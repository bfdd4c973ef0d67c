package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/v0xg/screenplay/internal/frames"
	"github.com/v0xg/screenplay/internal/gifgen"
	"go.uber.org/zap"
)

func newFramesCmd(a *app) *cobra.Command {
	var (
		outDir  string
		gifPath string
	)

	cmd := &cobra.Command{
		Use:   "frames <video>",
		Short: "Select the key frames of a recording",
		Long: `frames samples a recording, keeps the frames where the screen visibly
changed, and writes them as PNG files and/or a preview GIF.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.ErrOrStderr()

			res, err := a.selectFrames(cmd.Context(), out, args[0])
			if err != nil {
				return err
			}

			if outDir != "" {
				step(out, "Writing frames to %s", outDir)
				paths, err := frames.WriteFrames(outDir, res.Frames)
				if err != nil {
					failed(out)
					return fmt.Errorf("write frames: %w", err)
				}
				done(out, "%d files", len(paths))
			}

			if gifPath != "" {
				step(out, "Encoding %s", gifPath)
				size, err := gifgen.WriteFile(gifPath, res.Images(), gifgen.DefaultOptions())
				if err != nil {
					failed(out)
					return fmt.Errorf("encode gif: %w", err)
				}
				done(out, "%.1f KB", float64(size)/1024)
			}

			if outDir == "" && gifPath == "" {
				for _, f := range res.Frames {
					fmt.Fprintln(cmd.OutOrStdout(), f.Index)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outDir, "out", "o", "", "Directory to write the selected frames to")
	cmd.Flags().StringVar(&gifPath, "gif", "", "Write the selected frames as a preview GIF")
	frameFlags(cmd)
	return cmd
}

// frameFlags registers the selection threshold overrides shared by frames and
// analyze
func frameFlags(cmd *cobra.Command) {
	cmd.Flags().Int("stride", 0, "Analyze every Nth frame")
	cmd.Flags().Int("diff-threshold", 0, "Grayscale delta (0-255) for a pixel to count as changed")
	cmd.Flags().Int("min-area", 0, "Minimum changed region, in pixels")
	cmd.Flags().Float64("mse-delta", 0, "Minimum normalized mean squared error")
	cmd.Flags().String("ffmpeg", "", "Path to the ffmpeg binary")

	bindFlag(cmd, "stride", "frames.stride")
	bindFlag(cmd, "diff-threshold", "frames.diff_threshold")
	bindFlag(cmd, "min-area", "frames.min_area")
	bindFlag(cmd, "mse-delta", "frames.mse_delta")
	bindFlag(cmd, "ffmpeg", "frames.ffmpeg_path")
}

func (a *app) selectFrames(ctx context.Context, out io.Writer, path string) (*frames.Result, error) {
	selector, err := frames.NewSelector(frames.OptionsFromConfig(a.cfg.Frames), a.logger, a.metrics)
	if err != nil {
		return nil, err
	}

	step(out, "Selecting key frames from %s", path)
	src, err := frames.Open(ctx, path, a.cfg.Frames.FFmpegPath)
	if err != nil {
		failed(out)
		return nil, fmt.Errorf("open recording: %w", err)
	}
	res, err := selector.Select(ctx, src)
	if err != nil {
		failed(out)
		return nil, fmt.Errorf("select frames: %w", err)
	}
	done(out, "kept %d of %d sampled frames", len(res.Frames), res.Sampled)

	a.logger.Info("Frames selected",
		zap.String("path", path),
		zap.Int("sampled", res.Sampled),
		zap.Int("kept", len(res.Frames)),
		zap.Int("events", len(res.Events)))
	return res, nil
}
