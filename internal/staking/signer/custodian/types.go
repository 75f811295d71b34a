package custodian

import (
	"time"

	"github/chapool/go-staking/internal/staking"
)

// Transaction statuses reported by the custodian
const (
	StatusSubmitted = "SUBMITTED"
	StatusCompleted = "COMPLETED"
	StatusConfirmed = "CONFIRMED"
	StatusCancelled = "CANCELLED"
	StatusRejected  = "REJECTED"
	StatusFailed    = "FAILED"
	StatusBlocked   = "BLOCKED"
)

// Signing algorithms of raw message requests
const (
	AlgorithmEd25519   = "MPC_EDDSA_ED25519"
	AlgorithmSecp256k1 = "MPC_ECDSA_SECP256K1"
)

const (
	operationRaw     = "RAW"
	peerVaultAccount = "VAULT_ACCOUNT"
	// Cardano vaults keep the stake key on change index 2
	cardanoStakeChange = 2
)

// Config configures the custodian signer
type Config struct {
	BaseURL string
	APIKey  string
	// PrivateKeyPEM is the RSA key that signs request JWTs
	PrivateKeyPEM  []byte
	VaultAccountID string
	// Assets maps a chain to the custodian asset id, e.g. ADA_TEST
	Assets       map[staking.ChainKind]string
	PollInterval time.Duration
	MaxAttempts  int
	// RequestTimeout bounds a single HTTP call
	RequestTimeout time.Duration
}

// DefaultAssets are the testnet asset ids
func DefaultAssets() map[staking.ChainKind]string {
	return map[staking.ChainKind]string{
		staking.ChainEthereum: "ETH_TEST_HOODI",
		staking.ChainSolana:   "SOL_TEST",
		staking.ChainCardano:  "ADA_TEST",
		staking.ChainSui:      "SUI_TEST",
	}
}

type peer struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type rawMessage struct {
	Content     string `json:"content"`
	Bip44Change *int   `json:"bip44change,omitempty"`
}

type rawMessageData struct {
	Messages  []rawMessage `json:"messages"`
	Algorithm string       `json:"algorithm,omitempty"`
}

type extraParameters struct {
	RawMessageData rawMessageData `json:"rawMessageData"`
}

type createTransactionRequest struct {
	AssetID         string          `json:"assetId"`
	Operation       string          `json:"operation"`
	Source          peer            `json:"source"`
	Note            string          `json:"note,omitempty"`
	ExtraParameters extraParameters `json:"extraParameters"`
}

type createTransactionResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type messageSignature struct {
	FullSig string `json:"fullSig"`
	R       string `json:"r"`
	S       string `json:"s"`
	V       *int   `json:"v"`
}

type signedMessage struct {
	Content        string           `json:"content"`
	Algorithm      string           `json:"algorithm"`
	DerivationPath []int            `json:"derivationPath"`
	PublicKey      string           `json:"publicKey"`
	Signature      messageSignature `json:"signature"`
}

type transactionResponse struct {
	ID             string          `json:"id"`
	Status         string          `json:"status"`
	SubStatus      string          `json:"subStatus"`
	SignedMessages []signedMessage `json:"signedMessages"`
}

type errorResponse struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}
