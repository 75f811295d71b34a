package signer

import (
	"context"

	"github.com/pkg/errors"
	"github/chapool/go-staking/internal/staking"
)

// ErrRejected marks a terminal refusal by the key backend (policy rejection, cancelled approval).
// It is wrapped in a SignerUnavailable pipeline error and must not be retried.
var ErrRejected = errors.New("signing request rejected")

// Signer signs digests with keys it holds or controls.
// Implementations return one signature per message and map each back to its role.
type Signer interface {
	// Name identifies the backend in logs and metrics
	Name() string

	// Sign signs every message of the request
	Sign(ctx context.Context, req *SignRequest) (*SignResponse, error)
}

// Message is one digest to sign for a role
type Message struct {
	Role   staking.Role
	Digest *staking.SigningDigest
	// KeyRef names the key to sign with; its meaning is backend specific
	KeyRef string
	Curve  staking.Curve
}

// SignRequest groups the messages of one transaction
type SignRequest struct {
	Chain    staking.ChainKind
	Messages []Message
	// Note is attached to custodian requests for operator review
	Note string
}

// RoleSignature is a signature produced for one role
type RoleSignature struct {
	Role      staking.Role
	Signature staking.Signature
	PublicKey staking.PublicKey
}

// Witness converts the signature into a witness
func (r RoleSignature) Witness() staking.Witness {
	return staking.Witness{Role: r.Role, PublicKey: r.PublicKey, Signature: r.Signature}
}

// SignResponse holds the signatures in request order
type SignResponse struct {
	Signatures []RoleSignature
}

// ByRole indexes the signatures by role
func (r *SignResponse) ByRole() map[staking.Role]RoleSignature {
	out := make(map[staking.Role]RoleSignature, len(r.Signatures))
	for _, s := range r.Signatures {
		out[s.Role] = s
	}
	return out
}

// Validate checks that a request is signable
func (r *SignRequest) Validate() error {
	if len(r.Messages) == 0 {
		return errors.New("sign request has no messages")
	}
	seen := make(map[staking.Role]struct{}, len(r.Messages))
	for _, m := range r.Messages {
		if m.Digest == nil || m.Digest.Len() == 0 {
			return errors.Errorf("message for role %s has no digest", m.Role)
		}
		if _, dup := seen[m.Role]; dup {
			return errors.Errorf("duplicate message for role %s", m.Role)
		}
		seen[m.Role] = struct{}{}
	}
	return nil
}

// Unavailable wraps a backend failure as a SignerUnavailable pipeline error
func Unavailable(chain staking.ChainKind, err error, msg string) *staking.PipelineError {
	return &staking.PipelineError{
		Kind:    staking.KindSignerUnavailable,
		Stage:   staking.StageSign,
		Chain:   chain,
		Message: msg,
		Err:     err,
	}
}

// Retryable reports whether a signing failure may succeed on another attempt.
// A timeout caused by the caller's own context is final.
func Retryable(err error) bool {
	switch staking.KindOf(err) {
	case staking.KindSignerUnavailable:
		return !errors.Is(err, ErrRejected)
	case staking.KindSignerTimeout:
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	default:
		return false
	}
}
