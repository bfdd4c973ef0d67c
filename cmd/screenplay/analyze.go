package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/v0xg/screenplay/internal/executor"
	"github.com/v0xg/screenplay/internal/synth"
	"gopkg.in/yaml.v3"
)

func newAnalyzeCmd(a *app) *cobra.Command {
	var (
		planPath string
		osName   string
		provider string
		model    string
	)

	cmd := &cobra.Command{
		Use:   "analyze <video>",
		Short: "Explain a recording as a replayable step plan",
		Long: `analyze selects the key frames of a recording and asks a vision model to
describe the user's actions as a plan of steps.

Example:
  screenplay analyze demo.mp4 --os windows --plan plan.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.ErrOrStderr()

			res, err := a.selectFrames(cmd.Context(), out, args[0])
			if err != nil {
				return err
			}

			name := provider
			if name == "" {
				name = a.cfg.Inference.Provider
			}
			if model == "" {
				model = a.cfg.Inference.SynthesisModel
			}
			p, err := a.provider(name, model)
			if err != nil {
				return fmt.Errorf("AI provider init failed: %w", err)
			}

			step(out, "Explaining %d frames via %s", len(res.Frames), name)
			s := synth.New(p, a.logger, synth.WithOS(osName), synth.WithMaxTokens(a.cfg.Inference.MaxTokens))
			plan, err := s.Synthesize(cmd.Context(), res.Frames)
			if err != nil {
				failed(out)
				return fmt.Errorf("synthesis failed: %w", err)
			}
			done(out, "%d steps", len(plan.Steps))

			if planPath == "" {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(plan)
			}
			if err := writePlan(planPath, plan); err != nil {
				return err
			}
			fmt.Fprintf(out, "✓ Saved to %s\n", planPath)
			return nil
		},
	}

	cmd.Flags().StringVarP(&planPath, "plan", "p", "", "Write the plan to this .json or .yaml file instead of stdout")
	cmd.Flags().StringVar(&osName, "os", "", "Operating system shown in the recording")
	cmd.Flags().StringVar(&provider, "provider", "", "AI provider: claude, openai (default: inference.provider)")
	cmd.Flags().StringVar(&model, "model", "", "Specific model override")
	frameFlags(cmd)
	return cmd
}

// writePlan saves plan as YAML or JSON depending on the extension
func writePlan(path string, plan *executor.Plan) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(plan)
	default:
		data, err = json.MarshalIndent(plan, "", "  ")
		if err == nil {
			data = append(data, '\n')
		}
	}
	if err != nil {
		return fmt.Errorf("encode plan: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write plan: %w", err)
	}
	return nil
}
