package api

import (
	"context"
	"os"

	"github.com/gagliardetto/solana-go/rpc"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"github/chapool/go-staking/internal/config"
	"github/chapool/go-staking/internal/staking"
	"github/chapool/go-staking/internal/staking/broadcast"
	"github/chapool/go-staking/internal/staking/chain"
	"github/chapool/go-staking/internal/staking/chain/cardano"
	"github/chapool/go-staking/internal/staking/chain/ethereum"
	"github/chapool/go-staking/internal/staking/chain/solana"
	"github/chapool/go-staking/internal/staking/chain/sui"
	"github/chapool/go-staking/internal/staking/pipeline"
	"github/chapool/go-staking/internal/staking/signer"
	"github/chapool/go-staking/internal/staking/signer/custodian"
	"github/chapool/go-staking/internal/staking/signer/keystore"
	"github/chapool/go-staking/internal/staking/signer/local"
	"github/chapool/go-staking/internal/staking/signer/seed"
	"github/chapool/go-staking/internal/staking/stakingapi"
	"github/chapool/go-staking/internal/util"
)

// PasswordFunc supplies the keystore password when none is configured
type PasswordFunc func() (string, error)

// InitNewServer returns a new Server with every component built from the configuration.
// password is asked only when a local key derives from the keystore and KEYSTORE_PASSWORD is unset.
func InitNewServer(ctx context.Context, cfg config.Server, password PasswordFunc) (*Server, error) {
	s := NewServer(cfg)

	s.Chains = NewChainRegistry()
	s.Metrics = NewMetricsRegistry()

	var err error
	s.Keystore, err = keystore.NewService(keystore.DefaultScryptParams())
	if err != nil {
		return nil, errors.Wrap(err, "failed to create keystore service")
	}

	s.Signers = make(map[string]signer.Signer)
	if err := s.initLocalSigner(ctx, password); err != nil {
		s.Shutdown(ctx)
		return nil, err
	}
	if cfg.Custodian.Enabled {
		custodianSigner, err := NewCustodianSigner(cfg.Custodian)
		if err != nil {
			s.Shutdown(ctx)
			return nil, err
		}
		s.Signers[config.SignerCustodian] = custodianSigner
	}

	if cfg.StakingAPI.APIKey != "" {
		s.StakingAPI, err = stakingapi.NewService(stakingapi.Config{
			BaseURL:        cfg.StakingAPI.BaseURL,
			APIKey:         cfg.StakingAPI.APIKey,
			Networks:       cfg.StakingAPI.Networks,
			RequestTimeout: cfg.StakingAPI.RequestTimeout,
		})
		if err != nil {
			s.Shutdown(ctx)
			return nil, errors.Wrap(err, "failed to create staking API client")
		}
	} else {
		log.Warn().Msg("STAKING_API_KEY is not set, transaction building is disabled")
	}

	s.Broadcast, err = s.newBroadcastRouter()
	if err != nil {
		s.Shutdown(ctx)
		return nil, err
	}

	s.Pipeline, err = s.newPipeline()
	if err != nil {
		s.Shutdown(ctx)
		return nil, err
	}

	return s, nil
}

// NewChainRegistry registers the adapters of every supported chain
func NewChainRegistry() *chain.Registry {
	return chain.NewRegistry(
		ethereum.NewAdapter(),
		solana.NewAdapter(),
		cardano.NewAdapter(),
		sui.NewAdapter(),
	)
}

// NewMetricsRegistry returns a registry carrying the Go runtime and process collectors
func NewMetricsRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func (s *Server) initLocalSigner(ctx context.Context, password PasswordFunc) error {
	path := s.Config.Signer.KeysFile
	if _, err := os.Stat(path); err != nil {
		log.Debug().Str("path", path).Msg("No local key ring, local signer disabled")
		return nil
	}

	keys, err := config.LoadKeyRing(path)
	if err != nil {
		return errors.Wrap(err, "failed to load local key ring")
	}

	var seeds seed.Manager
	for _, spec := range keys {
		if spec.Source != local.SourceKeystore {
			continue
		}
		seeds, err = s.unlockSeed(ctx, password)
		if err != nil {
			return err
		}
		break
	}

	localSigner, err := local.NewService(keys, seeds)
	if err != nil {
		return errors.Wrap(err, "failed to create local signer")
	}
	s.Signers[config.SignerLocal] = localSigner

	log.Info().Int("keys", len(keys)).Bool("keystore", seeds != nil).Msg("Local signer ready")
	return nil
}

//nolint:ireturn // Returning interface is intentional
func (s *Server) unlockSeed(ctx context.Context, password PasswordFunc) (seed.Manager, error) {
	pw := s.Config.Signer.KeystorePassword
	if pw == "" {
		if password == nil {
			return nil, errors.New("keystore password is required but KEYSTORE_PASSWORD is not set")
		}
		var err error
		if pw, err = password(); err != nil {
			return nil, errors.Wrap(err, "failed to read keystore password")
		}
	}

	mnemonic, err := s.Keystore.Unlock(ctx, s.Config.Signer.KeystorePath, pw)
	if err != nil {
		return nil, errors.Wrap(err, "failed to unlock keystore")
	}

	seeds := seed.NewManager()
	if err := seeds.Initialize(mnemonic, ""); err != nil {
		return nil, errors.Wrap(err, "failed to initialize seed")
	}
	s.Seeds = seeds
	return seeds, nil
}

// NewCustodianSigner builds the remote custodian signer
//
//nolint:ireturn // Returning interface is intentional for dependency injection
func NewCustodianSigner(cfg config.Custodian) (signer.Signer, error) {
	pemBytes, err := os.ReadFile(cfg.PrivateKeyFile)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read custodian private key")
	}

	out, err := custodian.NewService(custodian.Config{
		BaseURL:        cfg.BaseURL,
		APIKey:         cfg.APIKey,
		PrivateKeyPEM:  pemBytes,
		VaultAccountID: cfg.VaultAccountID,
		Assets:         custodian.DefaultAssets(),
		PollInterval:   cfg.PollInterval,
		MaxAttempts:    cfg.MaxAttempts,
		RequestTimeout: cfg.RequestTimeout,
	})
	util.Zero(pemBytes)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create custodian signer")
	}
	return out, nil
}

func (s *Server) finalityPoll() util.PollConfig {
	poll := broadcast.DefaultFinalityPoll()
	if s.Config.Broadcast.FinalityInterval > 0 {
		poll.Interval = s.Config.Broadcast.FinalityInterval
	}
	if s.Config.Broadcast.FinalityAttempts > 0 {
		poll.MaxAttempts = s.Config.Broadcast.FinalityAttempts
	}
	return poll
}

// newBroadcastRouter routes each chain to the staking API or to a chain node, as configured.
// A chain routed to the API is left unrouted when no API key is set.
func (s *Server) newBroadcastRouter() (*broadcast.Router, error) {
	cfg := s.Config.Broadcast
	poll := s.finalityPoll()
	routes := make(map[staking.ChainKind]broadcast.Route, len(staking.AllChains))

	for _, ch := range staking.AllChains {
		route := cfg.Routes[ch]
		if route == "" {
			route = config.RouteAPI
		}

		var b broadcast.Broadcaster
		switch route {
		case config.RouteAPI:
			if s.StakingAPI == nil {
				log.Warn().Str("chain", string(ch)).Msg("Chain is routed to the staking API but no API key is set")
				continue
			}
			b = broadcast.NewAPI(s.StakingAPI, poll)
		case config.RouteRPC:
			var err error
			if b, err = s.newNodeBroadcaster(ch, poll); err != nil {
				return nil, errors.Wrapf(err, "failed to create %s broadcaster", ch)
			}
		default:
			return nil, errors.Errorf("unknown broadcast route %q for %s", route, ch)
		}
		routes[ch] = broadcast.NewRoute(b)
		log.Debug().Str("chain", string(ch)).Str("broadcaster", b.Name()).Msg("Broadcast route configured")
	}

	return broadcast.NewRouter(routes), nil
}

//nolint:ireturn // Broadcasters differ per chain
func (s *Server) newNodeBroadcaster(ch staking.ChainKind, poll util.PollConfig) (broadcast.Broadcaster, error) {
	cfg := s.Config.Broadcast
	switch ch {
	case staking.ChainEthereum:
		client, err := ethereum.NewRPCClient(cfg.EthereumRPCURLs)
		if err != nil {
			return nil, err
		}
		s.OnShutdown(client.Close)
		return broadcast.NewEthereum(client, poll), nil
	case staking.ChainSolana:
		client := rpc.New(cfg.SolanaRPCURL)
		s.OnShutdown(func() { _ = client.Close() })
		return broadcast.NewSolana(client, poll), nil
	case staking.ChainCardano:
		return broadcast.NewBlockfrost(cfg.BlockfrostURL, cfg.BlockfrostProjectID, poll)
	case staking.ChainSui:
		return broadcast.NewSui(cfg.SuiRPCURL, poll), nil
	default:
		return nil, errors.Errorf("no node broadcaster for %s", ch)
	}
}

func (s *Server) newPipeline() (pipeline.Service, error) {
	defaultSigner := s.Config.Signer.Default
	if _, ok := s.Signers[defaultSigner]; !ok && len(s.Signers) == 1 {
		log.Warn().Str("configured", defaultSigner).Msg("Default signer is not available, using the only configured one")
		defaultSigner = ""
	}

	svc, err := pipeline.NewService(pipeline.Config{
		Registry:      s.Chains,
		Signers:       s.Signers,
		DefaultSigner: defaultSigner,
		Broadcaster:   s.Broadcast,
		Waiter:        s.Broadcast,
		API:           s.StakingAPI,
		SignRetry: util.PollConfig{
			Interval:    s.Config.Signer.RetryInterval,
			MaxAttempts: s.Config.Signer.RetryAttempts,
			Multiplier:  2,
		},
		MaxParallel: s.Config.Pipeline.MaxParallel,
		Registerer:  s.Metrics,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create pipeline")
	}
	return svc, nil
}
