package chain

import (
	"github/chapool/go-staking/internal/staking"
)

// Adapter converts between a chain's native unsigned form, its signing digest and its signed form.
// Adapters are stateless and safe for concurrent use.
type Adapter interface {
	// Chain returns the chain kind served by the adapter
	Chain() staking.ChainKind

	// ParseUnsigned decodes raw unsigned bytes, failing with MalformedTransaction
	ParseUnsigned(raw []byte) (*staking.UnsignedTransaction, error)

	// DeriveDigest computes the exact bytes a signer must sign. Deterministic and pure.
	DeriveDigest(tx *staking.UnsignedTransaction) (*staking.SigningDigest, error)

	// RequiredRoles lists all roles that must sign tx, in the chain's canonical order
	RequiredRoles(tx *staking.UnsignedTransaction) ([]staking.RoleRequirement, error)

	// AssembleSigned attaches verified witnesses, failing with UnknownSignerRole or IncompleteWitnessSet
	AssembleSigned(tx *staking.UnsignedTransaction, witnesses []staking.Witness) (*staking.SignedTransaction, error)

	// AssemblePartial attaches the witnesses collected so far and names the missing roles
	AssemblePartial(tx *staking.UnsignedTransaction, witnesses []staking.Witness) (*staking.PartialTransaction, error)

	// ExtractWitnesses recovers the witnesses embedded in a signed transaction
	ExtractWitnesses(signed []byte) ([]staking.Witness, error)
}
