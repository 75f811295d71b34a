package stakingapi

import (
	"context"
	"encoding/json"
	"time"

	"github/chapool/go-staking/internal/staking"
)

// Operations offered by the staking API per chain
const (
	OperationStake      = "stake"
	OperationUndelegate = "undelegate"
	OperationWithdraw   = "withdraw"
	OperationDelegate   = "delegate"
	OperationValidators = "validators"
	OperationWithdrawal = "withdrawal"
	OperationCompound   = "compound"

	operationBroadcast = "broadcast"
	operationTx        = "tx"
	operationStakes    = "stakes"
)

// Transaction status values reported by GET /{chain}/tx
const (
	StatusConfirmed = "confirmed"
	StatusFinalized = "finalized"
	StatusSuccess   = "success"
	StatusFailed    = "failed"
	StatusError     = "error"
)

// Operations lists the transaction building operations of each chain
var Operations = map[staking.ChainKind][]string{
	staking.ChainEthereum: {OperationValidators, OperationWithdrawal, OperationCompound},
	staking.ChainSolana:   {OperationStake, OperationUndelegate, OperationWithdraw},
	staking.ChainCardano:  {OperationDelegate},
	staking.ChainSui:      {OperationStake},
}

// Service is the staking API client
type Service interface {
	// Create asks the API to build an unsigned transaction for operation
	Create(ctx context.Context, chain staking.ChainKind, operation string, params map[string]any) (*Payload, error)

	// Broadcast submits a signed transaction and returns the transaction hash
	Broadcast(ctx context.Context, signed *staking.SignedTransaction) (string, error)

	// TxStatus reads the status of a broadcast transaction
	TxStatus(ctx context.Context, chain staking.ChainKind, hash string) (*TxStatus, error)

	// Stakes lists the stake accounts of an owner (Solana)
	Stakes(ctx context.Context, chain staking.ChainKind, params map[string]string) (json.RawMessage, error)
}

// Config configures the staking API client
type Config struct {
	BaseURL        string
	APIKey         string
	Networks       map[staking.ChainKind]string
	RequestTimeout time.Duration
}

// DefaultBaseURL is the public staking API endpoint
const DefaultBaseURL = "https://api.figment.io"

// DefaultNetworks returns the test networks the staking flows run against
func DefaultNetworks() map[staking.ChainKind]string {
	return map[staking.ChainKind]string{
		staking.ChainEthereum: "hoodi",
		staking.ChainSolana:   "devnet",
		staking.ChainCardano:  "preprod",
		staking.ChainSui:      "testnet",
	}
}

// Payload is an unsigned transaction built by the API
type Payload struct {
	Chain     staking.ChainKind
	Operation string
	// Unsigned is the decoded unsigned_transaction_serialized
	Unsigned []byte
	// SigningPayload is the digest the API expects to be signed, when it returns one
	SigningPayload []byte
	// Response is the full response body for callers that need operation specific fields
	Response json.RawMessage
}

// TxStatus is the state of a broadcast transaction
type TxStatus struct {
	Hash   string
	Status string
	Raw    json.RawMessage
}

// Success reports a confirmed transaction
func (s *TxStatus) Success() bool {
	switch s.Status {
	case StatusConfirmed, StatusFinalized, StatusSuccess:
		return true
	default:
		return false
	}
}

// Failed reports a transaction the chain refused
func (s *TxStatus) Failed() bool {
	return s.Status == StatusFailed || s.Status == StatusError
}

type envelope struct {
	Data json.RawMessage `json:"data"`
	Meta *struct {
		StakingTransaction *transactionData `json:"staking_transaction"`
	} `json:"meta"`
	// some endpoints answer without the data wrapper
	TransactionHash string `json:"transaction_hash"`
}

type transactionData struct {
	UnsignedTransactionSerialized string `json:"unsigned_transaction_serialized"`
	UnsignedTransactionHashed     string `json:"unsigned_transaction_hashed"`
	SigningPayload                string `json:"signing_payload"`
	TransactionHash               string `json:"transaction_hash"`
	TxHash                        string `json:"tx_hash"`
	Status                        string `json:"status"`
}

type errorResponse struct {
	Code    any    `json:"code"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

func (e *errorResponse) text() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Error
}
