package local

import (
	"context"
	"sort"

	"github.com/pkg/errors"
	"github/chapool/go-staking/internal/staking"
	"github/chapool/go-staking/internal/staking/signer"
	"github/chapool/go-staking/internal/staking/signer/seed"
	"github/chapool/go-staking/internal/util"
)

// ErrUnknownKey is returned for a key reference the ring does not hold
var ErrUnknownKey = errors.New("unknown key reference")

type service struct {
	keys  map[string]KeySpec
	seeds seed.Manager
}

// NewService creates a key ring signer. Key material is decoded for each signing call and
// zeroed afterwards; seeds holds the mnemonic seed for keystore keys and may be nil when
// no key uses the keystore source.
//
//nolint:ireturn // Returning interface is intentional for dependency injection
func NewService(keys map[string]KeySpec, seeds seed.Manager) (signer.Signer, error) {
	for ref, spec := range keys {
		if err := spec.Validate(); err != nil {
			return nil, errors.Wrapf(err, "invalid key %q", ref)
		}
		if spec.Source == SourceKeystore && seeds == nil {
			return nil, errors.Errorf("key %q uses the keystore but no seed manager was given", ref)
		}
	}

	copied := make(map[string]KeySpec, len(keys))
	for ref, spec := range keys {
		copied[ref] = spec
	}
	return &service{keys: copied, seeds: seeds}, nil
}

func (s *service) Name() string {
	return "local"
}

func (s *service) Sign(ctx context.Context, req *signer.SignRequest) (*signer.SignResponse, error) {
	log := util.LogFromContext(ctx).With().Str("component", "local_signer").Str("chain", string(req.Chain)).Logger()

	if err := req.Validate(); err != nil {
		return nil, signer.Unavailable(req.Chain, errors.Wrap(signer.ErrRejected, err.Error()), "invalid sign request")
	}

	out := &signer.SignResponse{Signatures: make([]signer.RoleSignature, 0, len(req.Messages))}
	for _, m := range req.Messages {
		// a cancelled call must not hand out signatures
		if err := ctx.Err(); err != nil {
			return nil, &staking.PipelineError{
				Kind:  staking.KindSignerTimeout,
				Stage: staking.StageSign,
				Chain: req.Chain,
				Role:  m.Role,
				Err:   err,
			}
		}

		sig, err := s.signOne(m)
		if err != nil {
			log.Error().Err(err).Str("role", string(m.Role)).Str("key_ref", m.KeyRef).Msg("Failed to sign digest")
			pe := signer.Unavailable(req.Chain, errors.Wrap(signer.ErrRejected, err.Error()), "local key could not sign")
			pe.Role = m.Role
			return nil, pe
		}
		out.Signatures = append(out.Signatures, *sig)

		log.Debug().
			Str("role", string(m.Role)).
			Str("key_ref", m.KeyRef).
			Str("public_key", sig.PublicKey.Hex()).
			Msg("Digest signed")
	}
	return out, nil
}

func (s *service) signOne(m signer.Message) (*signer.RoleSignature, error) {
	spec, ok := s.keys[m.KeyRef]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownKey, "%q", m.KeyRef)
	}
	if m.Curve != "" && spec.Curve != m.Curve {
		return nil, errors.Errorf("key %q is %s, message needs %s", m.KeyRef, spec.Curve, m.Curve)
	}

	key, err := resolve(spec, s.seed)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load key %q", m.KeyRef)
	}
	defer key.zero()

	sig, err := key.sign(m.Digest.Bytes())
	if err != nil {
		return nil, err
	}
	return &signer.RoleSignature{
		Role:      m.Role,
		Signature: sig,
		PublicKey: staking.PublicKey{Curve: key.curve(), Bytes: key.publicKey()},
	}, nil
}

func (s *service) seed() ([]byte, error) {
	if s.seeds == nil || !s.seeds.IsInitialized() {
		return nil, errors.New("keystore is locked")
	}
	return s.seeds.Seed(), nil
}

// PublicKeys resolves every key of the ring once and returns its public key, keyed by reference
func PublicKeys(keys map[string]KeySpec, seeds seed.Manager) (map[string]staking.PublicKey, error) {
	refs := make([]string, 0, len(keys))
	for ref := range keys {
		refs = append(refs, ref)
	}
	sort.Strings(refs)

	svc := &service{keys: keys, seeds: seeds}
	out := make(map[string]staking.PublicKey, len(keys))
	for _, ref := range refs {
		key, err := resolve(keys[ref], svc.seed)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to load key %q", ref)
		}
		out[ref] = staking.PublicKey{Curve: key.curve(), Bytes: key.publicKey()}
		key.zero()
	}
	return out, nil
}
