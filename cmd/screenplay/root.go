package main

import (
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/v0xg/screenplay/internal/ai"
	"github.com/v0xg/screenplay/internal/config"
	"github.com/v0xg/screenplay/internal/metrics"
	"github.com/v0xg/screenplay/internal/observability"
	"go.uber.org/zap"
)

// app carries what every subcommand needs once PersistentPreRunE has run
type app struct {
	cfgFile  string
	cfg      *config.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	metrics  *metrics.Collector
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "screenplay",
		Short: "Turn screen recordings into replayable UI step plans",
		Long: `screenplay selects the key frames of a screen recording, asks a vision
model to explain them as a list of UI steps, and replays such a plan against the
live desktop or a Chromium page.

Example:
  screenplay analyze demo.mp4 --plan plan.yaml
  screenplay replay plan.yaml --backend browser --url https://myapp.com`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			observability.Sync()
		},
	}

	root.PersistentFlags().StringVarP(&a.cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	root.AddCommand(
		newFramesCmd(a),
		newAnalyzeCmd(a),
		newReplayCmd(a),
		newServeCmd(a),
	)
	return root
}

// init loads the configuration, with the command's annotated flags taking
// precedence, then sets up logging and metrics
func (a *app) init(cmd *cobra.Command) error {
	v := viper.New()
	for name, key := range cmd.Annotations {
		if f := cmd.Flags().Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return fmt.Errorf("bind --%s: %w", name, err)
			}
		}
	}

	cfg, err := config.Load(v, a.cfgFile)
	if err != nil {
		// Initialize a basic logger so the failure is still reported.
		observability.InitializeLogger(config.NewDefaultConfig().Logger)
		observability.GetLogger().Error("Failed to load configuration", zap.Error(err))
		return err
	}

	observability.InitializeLogger(cfg.Logger)
	a.cfg = cfg
	a.logger = observability.GetLogger()
	a.registry = prometheus.NewRegistry()
	a.metrics = metrics.NewCollector(a.registry)

	a.logger.Debug("Configuration loaded",
		zap.String("command", cmd.Name()),
		zap.String("provider", cfg.Inference.Provider),
		zap.String("backend", cfg.Backend.Kind))
	return nil
}

// bindFlag maps a command flag onto a config key
func bindFlag(cmd *cobra.Command, flag, key string) {
	if cmd.Annotations == nil {
		cmd.Annotations = map[string]string{}
	}
	cmd.Annotations[flag] = key
}

// provider builds a throttled, instrumented provider. An empty name selects
// inference.provider.
func (a *app) provider(name, model string) (ai.Provider, error) {
	if name == "" {
		name = a.cfg.Inference.Provider
	}
	return ai.NewProvider(name, ai.SettingsFor(a.cfg.Inference, name, model), a.logger, a.metrics)
}

// step starts a progress line; the caller finishes it with done or failed
func step(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, "→ "+format+"... ", args...)
}

func done(w io.Writer, format string, args ...any) {
	if format == "" {
		fmt.Fprintln(w, "done")
		return
	}
	fmt.Fprintf(w, "done ("+format+")\n", args...)
}

func failed(w io.Writer) {
	fmt.Fprintln(w, "failed")
}
