package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hfi/secret-shepherd/internal/server"
	"github.com/hfi/secret-shepherd/internal/watch"
)

func newWatchCmd(state *appState) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Re-reconcile tracked files as they change on disk",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			w, err := watch.New(state.eng, state.logger)
			if err != nil {
				return err
			}
			if err := w.AddTracked(ctx); err != nil {
				return err
			}

			if state.cfg.Metrics.Enabled {
				srv := server.New(state.cfg.Metrics.Addr, Version)
				srv.RegisterChecker("store", func() (bool, string) {
					if _, err := state.eng.ListSecrets(ctx, "", false); err != nil {
						return false, err.Error()
					}
					return true, "reachable"
				})
				go func() {
					if err := srv.Start(); err != nil {
						state.logger.Error().Err(err).Msg("management server failed")
					}
				}()
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}()
				state.logger.Info().Str("addr", state.cfg.Metrics.Addr).Msg("management server listening")
			}

			state.logger.Info().Msg("watching tracked files")
			return w.Run(ctx)
		},
	}
}
