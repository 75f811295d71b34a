package pipeline

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github/chapool/go-staking/internal/staking"
	"github/chapool/go-staking/internal/staking/broadcast"
	"github/chapool/go-staking/internal/staking/chain"
	"github/chapool/go-staking/internal/staking/signer"
	"github/chapool/go-staking/internal/staking/stakingapi"
	"github/chapool/go-staking/internal/util"
)

// State is a step of the signing state machine
type State string

const (
	StateFetched       State = "fetched"
	StateDigestDerived State = "digest_derived"
	StatePartial       State = "signed_partial"
	StateSigned        State = "signed"
	StateVerified      State = "verified"
	StateAssembled     State = "assembled"
	StateBroadcast     State = "broadcast"
	StateTerminal      State = "terminal"
)

// Service runs unsigned transactions through digest, signing, verification, assembly and broadcast
type Service interface {
	// Run processes raw unsigned bytes
	Run(ctx context.Context, req *Request) (*Result, error)

	// Fetch builds the unsigned transaction through the staking API, then runs it
	Fetch(ctx context.Context, req *FetchRequest) (*Result, error)

	// Resume continues a partially signed transaction. Carried witnesses are verified again.
	Resume(ctx context.Context, partial *staking.PartialTransaction, req *Request) (*Result, error)

	// RunBatch processes independent jobs concurrently and returns their results in job order
	RunBatch(ctx context.Context, jobs []*Job) ([]*Result, error)
}

// Request selects how one transaction is signed and submitted
type Request struct {
	Chain    staking.ChainKind
	Unsigned []byte
	// SigningPayload is the digest the staking API reported; it must equal the derived digest
	SigningPayload []byte

	// KeyRef is the key used for every role without a RoleKeys entry
	KeyRef   string
	RoleKeys map[staking.Role]string
	// RoleSigners picks a signer backend per role; roles without an entry use the default signer
	RoleSigners map[staking.Role]string
	// Roles limits signing to these roles; the others are left for another signer
	Roles []staking.Role

	Broadcast       bool
	WaitForFinality bool
	Note            string
}

// FetchRequest asks the staking API for an operation's unsigned transaction
type FetchRequest struct {
	Request
	Operation string
	Params    map[string]any
}

// Job is one entry of a batch. Operation set means the transaction is fetched first.
type Job struct {
	Name string
	FetchRequest
}

// Result is the outcome of one pipeline run.
// A partial result carries no error: Err is the IncompleteWitnessSet naming the missing roles.
type Result struct {
	Name            string
	Chain           staking.ChainKind
	Success         bool
	State           State
	Digest          string
	TransactionHash string
	Signed          *staking.SignedTransaction
	Partial         *staking.PartialTransaction
	Finality        *broadcast.Finality
	Err             error
}

// NeedsSigners reports a partially signed result
func (r *Result) NeedsSigners() bool {
	return r.Partial != nil && len(r.Partial.Missing) > 0
}

// Config wires the pipeline collaborators
type Config struct {
	Registry *chain.Registry
	// Signers holds the signer backends by name; DefaultSigner names the one used by default
	Signers       map[string]signer.Signer
	DefaultSigner string
	Broadcaster   broadcast.Broadcaster
	// Waiter is optional; without it finality is never awaited
	Waiter broadcast.FinalityWaiter
	// API is optional; Fetch fails without it
	API stakingapi.Service

	// SignRetry bounds retries of retryable signer failures
	SignRetry util.PollConfig
	// MaxParallel bounds concurrent batch jobs
	MaxParallel int
	Registerer  prometheus.Registerer
}
