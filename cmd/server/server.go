package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github/chapool/go-staking/internal/api"
	"github/chapool/go-staking/internal/api/router"
	"github/chapool/go-staking/internal/config"
	"github/chapool/go-staking/internal/util/command"
)

func New() *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "Starts the server",
		Long: `Starts the HTTP server: the signing API under /api/v1,
the probes under /- and Prometheus metrics under /metrics.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return command.WithServer(cmd.Context(), config.DefaultServiceConfigFromEnv(), run)
		},
	}
}

func run(ctx context.Context, s *api.Server) error {
	router.Init(s)

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("address", s.Config.Echo.ListenAddress).Msg("Starting server")
		errc <- s.Start()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		log.Info().Msg("Received stop signal")
		return nil
	}
}
