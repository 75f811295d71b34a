package staking

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ErrorKind classifies pipeline failures
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindMalformedTransaction
	KindSignerUnavailable
	KindSignerTimeout
	KindSignatureMismatch
	KindUnknownSignerRole
	KindIncompleteWitnessSet
	KindBroadcastRejected
)

func (k ErrorKind) String() string {
	switch k {
	case KindMalformedTransaction:
		return "MALFORMED_TRANSACTION"
	case KindSignerUnavailable:
		return "SIGNER_UNAVAILABLE"
	case KindSignerTimeout:
		return "SIGNER_TIMEOUT"
	case KindSignatureMismatch:
		return "SIGNATURE_MISMATCH"
	case KindUnknownSignerRole:
		return "UNKNOWN_SIGNER_ROLE"
	case KindIncompleteWitnessSet:
		return "INCOMPLETE_WITNESS_SET"
	case KindBroadcastRejected:
		return "BROADCAST_REJECTED"
	default:
		return "UNKNOWN"
	}
}

// Stage is the pipeline step an error was raised in
type Stage string

const (
	StageFetch     Stage = "fetch"
	StageParse     Stage = "parse"
	StageDigest    Stage = "digest"
	StageSign      Stage = "sign"
	StageVerify    Stage = "verify"
	StageAssemble  Stage = "assemble"
	StageBroadcast Stage = "broadcast"
	StageFinality  Stage = "finality"
)

// Sentinels for errors.Is checks against a kind
var (
	ErrMalformedTransaction = &PipelineError{Kind: KindMalformedTransaction}
	ErrSignerUnavailable    = &PipelineError{Kind: KindSignerUnavailable}
	ErrSignerTimeout        = &PipelineError{Kind: KindSignerTimeout}
	ErrSignatureMismatch    = &PipelineError{Kind: KindSignatureMismatch}
	ErrUnknownSignerRole    = &PipelineError{Kind: KindUnknownSignerRole}
	ErrIncompleteWitnessSet = &PipelineError{Kind: KindIncompleteWitnessSet}
	ErrBroadcastRejected    = &PipelineError{Kind: KindBroadcastRejected}
)

// PipelineError is the typed failure returned by every pipeline component
type PipelineError struct {
	Kind    ErrorKind
	Stage   Stage
	Chain   ChainKind
	Role    Role
	Message string
	Err     error
}

func (e *PipelineError) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s]", e.Kind.String()))
	if e.Chain != "" {
		sb.WriteString(fmt.Sprintf(" %s", e.Chain))
	}
	if e.Stage != "" {
		sb.WriteString(fmt.Sprintf(" (%s)", e.Stage))
	}
	if e.Role != "" {
		sb.WriteString(fmt.Sprintf(" role=%s", e.Role))
	}
	if e.Message != "" {
		sb.WriteString(" " + e.Message)
	}
	if e.Err != nil {
		sb.WriteString(fmt.Sprintf(": %v", e.Err))
	}
	return sb.String()
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// Is matches any PipelineError of the same kind, so the sentinels above work with errors.Is
func (e *PipelineError) Is(target error) bool {
	t, ok := target.(*PipelineError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// NewError creates a pipeline error of the given kind
func NewError(kind ErrorKind, chain ChainKind, msg string, err error) *PipelineError {
	return &PipelineError{
		Kind:    kind,
		Chain:   chain,
		Message: msg,
		Err:     err,
	}
}

// Malformed creates a MalformedTransaction error
func Malformed(chain ChainKind, err error, format string, args ...any) *PipelineError {
	return NewError(KindMalformedTransaction, chain, fmt.Sprintf(format, args...), err)
}

// KindOf returns the kind of the first PipelineError in the chain of err
func KindOf(err error) ErrorKind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnknown
}

// WithStage stamps the stage onto a pipeline error, or wraps a foreign error as kind fallback
func WithStage(err error, stage Stage, chain ChainKind, fallback ErrorKind) error {
	if err == nil {
		return nil
	}
	var pe *PipelineError
	if errors.As(err, &pe) {
		if pe.Stage == "" {
			pe.Stage = stage
		}
		if pe.Chain == "" {
			pe.Chain = chain
		}
		return err
	}
	return &PipelineError{Kind: fallback, Stage: stage, Chain: chain, Err: err}
}
