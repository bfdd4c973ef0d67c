package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/v0xg/screenplay/internal/ai"
	"github.com/v0xg/screenplay/internal/server"
	"go.uber.org/zap"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve video analysis over HTTP",
		Long: `serve exposes POST /video-to-frames, which accepts a multipart recording
upload and answers with the selected frames and the synthesized plan.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			// Without configured credentials every request must bring its own api_key.
			var shared ai.Provider
			p, err := a.provider(a.cfg.Inference.Provider, a.cfg.Inference.SynthesisModel)
			if err != nil {
				a.logger.Warn("No shared inference provider; requests must send api_key", zap.Error(err))
			} else {
				shared = p
			}

			srv, err := server.New(server.Deps{
				Config:   a.cfg,
				Provider: shared,
				Gatherer: a.registry,
				Metrics:  a.metrics,
				Logger:   a.logger,
			})
			if err != nil {
				return err
			}
			return srv.Run(ctx)
		},
	}

	cmd.Flags().String("addr", "", "Listen address (default: server.addr)")
	bindFlag(cmd, "addr", "server.addr")
	return cmd
}
