package pipeline

import (
	"context"
	"sort"

	"github.com/pkg/errors"
	"github/chapool/go-staking/internal/staking"
	"github/chapool/go-staking/internal/staking/signer"
	"github/chapool/go-staking/internal/util"
	"golang.org/x/sync/errgroup"
)

// signGroup is the set of roles one signer backend signs in a single request
type signGroup struct {
	backend string
	req     *signer.SignRequest
}

// sign issues one request per signer backend concurrently and returns the witnesses in
// canonical role order once every group has answered
func (s *service) sign(ctx context.Context, req *Request, digest *staking.SigningDigest, required []staking.RoleRequirement, pending []staking.Role) ([]staking.Witness, error) {
	groups, err := s.groups(req, digest, pending)
	if err != nil {
		return nil, err
	}

	results := make([]*signer.SignResponse, len(groups))
	g, gctx := errgroup.WithContext(ctx)
	for i, group := range groups {
		g.Go(func() error {
			resp, err := s.signWithRetry(gctx, group)
			if err != nil {
				return err
			}
			results[i] = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	byRole := make(map[staking.Role]staking.Witness, len(pending))
	for i, resp := range results {
		got := resp.ByRole()
		for _, m := range groups[i].req.Messages {
			sig, ok := got[m.Role]
			if !ok {
				pe := signer.Unavailable(req.Chain, errors.Wrap(signer.ErrRejected, "no signature returned"), "signer "+groups[i].backend+" skipped a role")
				pe.Role = m.Role
				return nil, pe
			}
			byRole[m.Role] = sig.Witness()
		}
	}

	out := make([]staking.Witness, 0, len(byRole))
	for _, r := range required {
		if w, ok := byRole[r.Role]; ok {
			out = append(out, w)
		}
	}
	return out, nil
}

// groups splits the pending roles by signer backend, keeping the canonical role order inside each group
func (s *service) groups(req *Request, digest *staking.SigningDigest, pending []staking.Role) ([]signGroup, error) {
	curve := staking.CurveFor(req.Chain)
	byBackend := make(map[string]*signer.SignRequest)
	for _, role := range pending {
		backend := s.cfg.DefaultSigner
		if name, ok := req.RoleSigners[role]; ok && name != "" {
			backend = name
		}
		if _, ok := s.cfg.Signers[backend]; !ok {
			pe := signer.Unavailable(req.Chain, errors.Wrap(signer.ErrRejected, backend), "signer backend is not configured")
			pe.Role = role
			return nil, pe
		}

		keyRef := req.KeyRef
		if ref, ok := req.RoleKeys[role]; ok {
			keyRef = ref
		}

		sr, ok := byBackend[backend]
		if !ok {
			sr = &signer.SignRequest{Chain: req.Chain, Note: req.Note}
			byBackend[backend] = sr
		}
		sr.Messages = append(sr.Messages, signer.Message{Role: role, Digest: digest, KeyRef: keyRef, Curve: curve})
	}

	names := make([]string, 0, len(byBackend))
	for name := range byBackend {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]signGroup, 0, len(names))
	for _, name := range names {
		out = append(out, signGroup{backend: name, req: byBackend[name]})
	}
	return out, nil
}

func (s *service) signWithRetry(ctx context.Context, group signGroup) (*signer.SignResponse, error) {
	backend := s.cfg.Signers[group.backend]
	log := util.LogFromContext(ctx).With().Str("signer", backend.Name()).Logger()

	var resp *signer.SignResponse
	attempt := 0
	err := util.Retry(ctx, s.cfg.SignRetry, signer.Retryable, func(ctx context.Context) error {
		attempt++
		r, err := backend.Sign(ctx, group.req)
		if err != nil {
			s.metrics.signAttempts.WithLabelValues(backend.Name(), string(group.req.Chain), staking.KindOf(err).String()).Inc()
			log.Warn().Err(err).Int("attempt", attempt).Bool("retryable", signer.Retryable(err)).Msg("Signing attempt failed")
			return err
		}
		s.metrics.signAttempts.WithLabelValues(backend.Name(), string(group.req.Chain), "ok").Inc()
		resp = r
		return nil
	})
	if err != nil {
		// a cancelled wait between attempts is a timeout of the signing stage
		if staking.KindOf(err) == staking.KindUnknown {
			return nil, &staking.PipelineError{Kind: staking.KindSignerTimeout, Stage: staking.StageSign, Chain: group.req.Chain, Err: err}
		}
		return nil, staking.WithStage(err, staking.StageSign, group.req.Chain, staking.KindSignerUnavailable)
	}
	return resp, nil
}
