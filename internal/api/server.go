package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github/chapool/go-staking/internal/config"
	"github/chapool/go-staking/internal/staking/broadcast"
	"github/chapool/go-staking/internal/staking/chain"
	"github/chapool/go-staking/internal/staking/pipeline"
	"github/chapool/go-staking/internal/staking/signer"
	"github/chapool/go-staking/internal/staking/signer/keystore"
	"github/chapool/go-staking/internal/staking/signer/seed"
	"github/chapool/go-staking/internal/staking/stakingapi"
)

type Router struct {
	Routes       []*echo.Route
	Root         *echo.Group
	Management   *echo.Group
	APIV1Tx      *echo.Group
	APIV1Staking *echo.Group
}

// Server is a central struct keeping all the dependencies.
// It is initialized with InitNewServer, which builds the components in the right order.
// Echo and Router are set by router.Init(s).
type Server struct {
	Echo   *echo.Echo
	Router *Router

	Config   config.Server
	Chains   *chain.Registry
	Seeds    seed.Manager
	Keystore keystore.Service
	Signers  map[string]signer.Signer
	// StakingAPI is nil when no API key is configured
	StakingAPI stakingapi.Service
	Broadcast  *broadcast.Router
	Pipeline   pipeline.Service
	Metrics    *prometheus.Registry

	closers []func()
}

func NewServer(config config.Server) *Server {
	s := &Server{
		Config: config,
	}

	return s
}

// Ready reports whether every component a pipeline run needs is initialized
func (s *Server) Ready() bool {
	switch {
	case s.Chains == nil:
		log.Debug().Msg("Server has no chain registry")
		return false
	case len(s.Signers) == 0:
		log.Debug().Msg("Server has no signer")
		return false
	case s.Pipeline == nil:
		log.Debug().Msg("Server has no pipeline")
		return false
	}

	return true
}

func (s *Server) Start() error {
	if !s.Ready() {
		return errors.New("server is not ready")
	}
	if s.Echo == nil {
		return errors.New("server has no router")
	}

	if err := s.Echo.Start(s.Config.Echo.ListenAddress); err != nil {
		return fmt.Errorf("failed to start echo server: %w", err)
	}

	return nil
}

func (s *Server) Shutdown(ctx context.Context) []error {
	log.Warn().Msg("Shutting down server")

	var errs []error

	if s.Echo != nil {
		log.Debug().Msg("Shutting down echo server")

		if err := s.Echo.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Failed to shutdown echo server")
			errs = append(errs, err)
		}
	}

	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil

	if s.Seeds != nil {
		log.Debug().Msg("Clearing unlocked seed")
		s.Seeds.Clear()
	}

	return errs
}

// OnShutdown registers fn to run on Shutdown, in reverse registration order
func (s *Server) OnShutdown(fn func()) {
	s.closers = append(s.closers, fn)
}
