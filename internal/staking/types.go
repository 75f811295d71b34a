package staking

import (
	"encoding/hex"
	"strings"

	"github.com/pkg/errors"
)

// ChainKind identifies the chain an unsigned transaction belongs to
type ChainKind string

const (
	ChainEthereum ChainKind = "ethereum"
	ChainSolana   ChainKind = "solana"
	ChainCardano  ChainKind = "cardano"
	ChainSui      ChainKind = "sui"
)

// AllChains lists every supported chain kind
var AllChains = []ChainKind{ChainEthereum, ChainSolana, ChainCardano, ChainSui}

// ParseChainKind parses a chain name (case-insensitive)
func ParseChainKind(name string) (ChainKind, error) {
	kind := ChainKind(strings.ToLower(strings.TrimSpace(name)))
	for _, c := range AllChains {
		if c == kind {
			return kind, nil
		}
	}
	return "", errors.Errorf("unsupported chain: %q", name)
}

// Curve is the signature curve a chain verifies witnesses against
type Curve string

const (
	CurveEd25519   Curve = "ed25519"
	CurveSecp256k1 Curve = "secp256k1"
)

// CurveFor returns the curve used by the given chain
func CurveFor(chain ChainKind) Curve {
	if chain == ChainEthereum {
		return CurveSecp256k1
	}
	return CurveEd25519
}

// Role names a required signer slot of a transaction
type Role string

const (
	// RoleSender is the only role of single-signer transactions (Ethereum, unsponsored Sui)
	RoleSender Role = "sender"
	// RoleSponsor pays gas for a sponsored Sui transaction
	RoleSponsor Role = "sponsor"
	// RolePayment is the Cardano payment key
	RolePayment Role = "payment"
	// RoleStake is the Cardano staking key
	RoleStake Role = "stake"
)

// UnsignedTransaction is the chain-native unsigned blob as received from the staking API.
// Raw must not be modified after parsing.
type UnsignedTransaction struct {
	Chain ChainKind
	Raw   []byte
	// Decoded holds the adapter specific decoded form
	Decoded any
}

// SigningDigest is the exact byte sequence a signer has to sign
type SigningDigest struct {
	Chain ChainKind
	bytes []byte
}

// NewSigningDigest copies b into a new digest
func NewSigningDigest(chain ChainKind, b []byte) *SigningDigest {
	c := make([]byte, len(b))
	copy(c, b)
	return &SigningDigest{Chain: chain, bytes: c}
}

// Bytes returns a copy of the digest bytes
func (d *SigningDigest) Bytes() []byte {
	c := make([]byte, len(d.bytes))
	copy(c, d.bytes)
	return c
}

// Hex returns the digest hex encoded without prefix
func (d *SigningDigest) Hex() string {
	return hex.EncodeToString(d.bytes)
}

// Len returns the digest length in bytes
func (d *SigningDigest) Len() int {
	return len(d.bytes)
}

// Signature is a 64 byte (r||s or R||S) signature, with the recovery id for secp256k1
type Signature struct {
	Bytes      []byte `json:"bytes"`
	RecoveryID *byte  `json:"recoveryId,omitempty"`
}

// PublicKey is the raw public key of the signer that produced a signature
type PublicKey struct {
	Curve Curve  `json:"curve"`
	Bytes []byte `json:"bytes"`
}

// Hex returns the public key hex encoded without prefix
func (p PublicKey) Hex() string {
	return hex.EncodeToString(p.Bytes)
}

// Witness authorizes one required role
type Witness struct {
	Role      Role      `json:"role"`
	PublicKey PublicKey `json:"publicKey"`
	Signature Signature `json:"signature"`
}

// RoleRequirement describes one signer slot of a transaction.
// Key is the expected public key or key hash when the transaction pins it.
type RoleRequirement struct {
	Role Role
	Key  []byte
	// Prefilled is set when the unsigned blob already carries this role's signature
	Prefilled *Witness
}

// SignedTransaction is the broadcastable, chain-native signed transaction
type SignedTransaction struct {
	Chain ChainKind
	// Raw is the wire form (RLP envelope, Solana tx, Cardano CBOR, Sui BCS tx data)
	Raw []byte
	// Unsigned is the original unsigned blob the witnesses were attached to
	Unsigned []byte
	// Hash is the chain transaction id (Ethereum tx hash, Solana first signature,
	// Cardano body hash, Sui transaction digest)
	Hash string
	// Signatures holds chain specific serialized signatures (Sui: base64 flag||sig||pubkey)
	Signatures []string
	Witnesses  []Witness
}

// PartialTransaction is a transaction that still needs signatures from other signers.
// It is a valid hand-off artifact, not an error.
type PartialTransaction struct {
	Chain     ChainKind `json:"chain"`
	Unsigned  []byte    `json:"unsigned"`
	Witnesses []Witness `json:"witnesses"`
	Missing   []Role    `json:"missing"`
	// Serialized is the chain-native partially signed form when the chain has one (Solana)
	Serialized []byte `json:"serialized,omitempty"`
}
