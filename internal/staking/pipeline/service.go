package pipeline

import (
	"bytes"
	"context"
	"encoding/hex"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github/chapool/go-staking/internal/staking"
	"github/chapool/go-staking/internal/staking/chain"
	"github/chapool/go-staking/internal/staking/verify"
	"github/chapool/go-staking/internal/util"
)

const (
	defaultSignAttempts = 3
	defaultSignInterval = time.Second
	defaultMaxParallel  = 4
)

type service struct {
	cfg     Config
	metrics *metrics
}

// NewService creates a pipeline over the configured collaborators
//
//nolint:ireturn // Returning interface is intentional for dependency injection
func NewService(cfg Config) (Service, error) {
	if cfg.Registry == nil {
		return nil, errors.New("chain registry is required")
	}
	if len(cfg.Signers) == 0 {
		return nil, errors.New("at least one signer is required")
	}
	if cfg.DefaultSigner == "" && len(cfg.Signers) == 1 {
		for name := range cfg.Signers {
			cfg.DefaultSigner = name
		}
	}
	if _, ok := cfg.Signers[cfg.DefaultSigner]; !ok {
		return nil, errors.Errorf("default signer %q is not configured", cfg.DefaultSigner)
	}
	if cfg.SignRetry.MaxAttempts <= 0 {
		cfg.SignRetry.MaxAttempts = defaultSignAttempts
	}
	if cfg.SignRetry.Interval <= 0 {
		cfg.SignRetry.Interval = defaultSignInterval
	}
	if cfg.SignRetry.Multiplier == 0 {
		cfg.SignRetry.Multiplier = 2
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = defaultMaxParallel
	}

	return &service{cfg: cfg, metrics: newMetrics(cfg.Registerer)}, nil
}

func (s *service) Run(ctx context.Context, req *Request) (*Result, error) {
	return s.execute(ctx, req, nil)
}

func (s *service) Fetch(ctx context.Context, req *FetchRequest) (*Result, error) {
	res := &Result{Chain: req.Chain}
	if s.cfg.API == nil {
		return s.fail(ctx, res, staking.WithStage(errors.New("no staking API configured"), staking.StageFetch, req.Chain, staking.KindUnknown))
	}

	started := time.Now()
	payload, err := s.cfg.API.Create(ctx, req.Chain, req.Operation, req.Params)
	s.metrics.observe(req.Chain, staking.StageFetch, started)
	if err != nil {
		return s.fail(ctx, res, staking.WithStage(err, staking.StageFetch, req.Chain, staking.KindUnknown))
	}

	run := req.Request
	run.Unsigned = payload.Unsigned
	run.SigningPayload = payload.SigningPayload
	return s.execute(ctx, &run, nil)
}

func (s *service) Resume(ctx context.Context, partial *staking.PartialTransaction, req *Request) (*Result, error) {
	run := Request{}
	if req != nil {
		run = *req
	}
	run.Chain = partial.Chain
	run.Unsigned = partial.Unsigned
	if len(run.Roles) == 0 {
		run.Roles = partial.Missing
	}
	return s.execute(ctx, &run, partial.Witnesses)
}

// execute drives one transaction through the state machine. carried are witnesses collected
// by an earlier run; they are verified like fresh signatures.
func (s *service) execute(ctx context.Context, req *Request, carried []staking.Witness) (*Result, error) {
	log := util.LogFromContext(ctx).With().Str("component", "pipeline").Str("chain", string(req.Chain)).Logger()
	ctx = util.WithLogger(ctx, log)
	res := &Result{Chain: req.Chain}

	adapter, err := s.cfg.Registry.Get(req.Chain)
	if err != nil {
		return s.fail(ctx, res, staking.WithStage(err, staking.StageParse, req.Chain, staking.KindMalformedTransaction))
	}

	tx, err := adapter.ParseUnsigned(req.Unsigned)
	if err != nil {
		return s.fail(ctx, res, staking.WithStage(err, staking.StageParse, req.Chain, staking.KindMalformedTransaction))
	}
	res.State = StateFetched

	digest, err := adapter.DeriveDigest(tx)
	if err != nil {
		return s.fail(ctx, res, staking.WithStage(err, staking.StageDigest, req.Chain, staking.KindMalformedTransaction))
	}
	if len(req.SigningPayload) > 0 && !bytes.Equal(req.SigningPayload, digest.Bytes()) {
		return s.fail(ctx, res, &staking.PipelineError{
			Kind:    staking.KindMalformedTransaction,
			Stage:   staking.StageDigest,
			Chain:   req.Chain,
			Message: "staking API signing payload " + hex.EncodeToString(req.SigningPayload) + " does not match derived digest " + digest.Hex(),
		})
	}
	res.State = StateDigestDerived
	res.Digest = digest.Hex()
	log.Info().Str("digest", digest.Hex()).Msg("Signing digest derived")

	required, err := adapter.RequiredRoles(tx)
	if err != nil {
		return s.fail(ctx, res, staking.WithStage(err, staking.StageDigest, req.Chain, staking.KindMalformedTransaction))
	}

	witnesses, err := s.collectExisting(ctx, digest, required, carried)
	if err != nil {
		return s.fail(ctx, res, err)
	}

	pending, err := pendingRoles(req, required, witnesses)
	if err != nil {
		return s.fail(ctx, res, err)
	}

	if len(pending) > 0 {
		started := time.Now()
		signed, err := s.sign(ctx, req, digest, required, pending)
		s.metrics.observe(req.Chain, staking.StageSign, started)
		if err != nil {
			return s.fail(ctx, res, err)
		}
		res.State = StateSigned

		for _, w := range signed {
			if err := verify.Witness(ctx, digest, w); err != nil {
				return s.fail(ctx, res, err)
			}
		}
		witnesses = append(witnesses, signed...)
	}
	res.State = StateVerified

	partial, err := adapter.AssemblePartial(tx, witnesses)
	if err != nil {
		return s.fail(ctx, res, staking.WithStage(err, staking.StageAssemble, req.Chain, staking.KindUnknown))
	}
	if len(partial.Missing) > 0 {
		res.State = StatePartial
		res.Partial = partial
		res.Err = staking.WithStage(chain.Incomplete(req.Chain, partial.Missing), staking.StageAssemble, req.Chain, staking.KindIncompleteWitnessSet)
		log.Info().Interface("missing", partial.Missing).Int("witnesses", len(partial.Witnesses)).Msg("Transaction needs more signers")
		s.metrics.finish(res)
		return res, nil
	}

	signedTx, err := adapter.AssembleSigned(tx, witnesses)
	if err != nil {
		return s.fail(ctx, res, staking.WithStage(err, staking.StageAssemble, req.Chain, staking.KindUnknown))
	}
	res.State = StateAssembled
	res.Signed = signedTx
	res.TransactionHash = signedTx.Hash
	log.Info().Str("tx_hash", signedTx.Hash).Int("witnesses", len(signedTx.Witnesses)).Msg("Transaction assembled")

	if !req.Broadcast {
		res.Success = true
		s.metrics.finish(res)
		return res, nil
	}
	return s.submit(ctx, req, res)
}

// collectExisting verifies carried witnesses and witnesses pre-filled in the unsigned blob
func (s *service) collectExisting(ctx context.Context, digest *staking.SigningDigest, required []staking.RoleRequirement, carried []staking.Witness) ([]staking.Witness, error) {
	out := make([]staking.Witness, 0, len(required))
	seen := make(map[staking.Role]struct{}, len(required))

	for _, w := range carried {
		if err := verify.Witness(ctx, digest, w); err != nil {
			return nil, err
		}
		out = append(out, w)
		seen[w.Role] = struct{}{}
	}
	for _, r := range required {
		if r.Prefilled == nil {
			continue
		}
		if _, ok := seen[r.Role]; ok {
			continue
		}
		if err := verify.Witness(ctx, digest, *r.Prefilled); err != nil {
			var pe *staking.PipelineError
			if asPipelineError(err, &pe) {
				pe.Message = "pre-filled " + pe.Message
			}
			return nil, err
		}
		out = append(out, *r.Prefilled)
		seen[r.Role] = struct{}{}
	}
	return out, nil
}

// pendingRoles lists the required roles still to sign in this run, in canonical order
func pendingRoles(req *Request, required []staking.RoleRequirement, have []staking.Witness) ([]staking.Role, error) {
	known := make(map[staking.Role]struct{}, len(required))
	for _, r := range required {
		known[r.Role] = struct{}{}
	}
	done := make(map[staking.Role]struct{}, len(have))
	for _, w := range have {
		done[w.Role] = struct{}{}
	}

	wanted := make(map[staking.Role]struct{}, len(req.Roles))
	for _, role := range req.Roles {
		if _, ok := known[role]; !ok {
			return nil, &staking.PipelineError{
				Kind:    staking.KindUnknownSignerRole,
				Stage:   staking.StageSign,
				Chain:   req.Chain,
				Role:    role,
				Message: "role is not required by the transaction",
			}
		}
		wanted[role] = struct{}{}
	}

	var pending []staking.Role
	for _, r := range required {
		if _, ok := done[r.Role]; ok {
			continue
		}
		if _, ok := wanted[r.Role]; len(wanted) > 0 && !ok {
			continue
		}
		pending = append(pending, r.Role)
	}
	return pending, nil
}

func (s *service) submit(ctx context.Context, req *Request, res *Result) (*Result, error) {
	log := util.LogFromContext(ctx)
	if s.cfg.Broadcaster == nil {
		return s.fail(ctx, res, staking.WithStage(errors.New("no broadcaster configured"), staking.StageBroadcast, req.Chain, staking.KindBroadcastRejected))
	}

	started := time.Now()
	hash, err := s.cfg.Broadcaster.Broadcast(ctx, res.Signed)
	s.metrics.observe(req.Chain, staking.StageBroadcast, started)
	if err != nil {
		return s.fail(ctx, res, staking.WithStage(err, staking.StageBroadcast, req.Chain, staking.KindBroadcastRejected))
	}
	res.State = StateBroadcast
	res.TransactionHash = hash
	log.Info().Str("tx_hash", hash).Str("broadcaster", s.cfg.Broadcaster.Name()).Msg("Transaction broadcast")

	if !req.WaitForFinality || s.cfg.Waiter == nil {
		res.Success = true
		s.metrics.finish(res)
		return res, nil
	}

	started = time.Now()
	final, err := s.cfg.Waiter.WaitForFinality(ctx, req.Chain, hash)
	s.metrics.observe(req.Chain, staking.StageFinality, started)
	res.Finality = final
	if err != nil {
		return s.fail(ctx, res, staking.WithStage(err, staking.StageFinality, req.Chain, staking.KindUnknown))
	}
	res.State = StateTerminal
	res.Success = final.Success
	s.metrics.finish(res)
	return res, nil
}

func (s *service) fail(ctx context.Context, res *Result, err error) (*Result, error) {
	res.Err = err
	res.Success = false
	s.metrics.fail(res.Chain, err)
	s.metrics.finish(res)

	l := util.LogFromContext(ctx)
	var ev *zerolog.Event
	if staking.KindOf(err) == staking.KindSignatureMismatch {
		ev = l.Error()
	} else {
		ev = l.Warn()
	}
	ev.Err(err).Str("state", string(res.State)).Str("kind", staking.KindOf(err).String()).Msg("Pipeline stopped")
	return res, err
}

func asPipelineError(err error, target **staking.PipelineError) bool {
	return errors.As(err, target)
}
