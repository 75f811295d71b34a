package test

import (
	"crypto/ed25519"
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/stretchr/testify/require"
	"github/chapool/go-staking/internal/staking"
	"github/chapool/go-staking/internal/staking/chain/ethereum"
	"github/chapool/go-staking/internal/staking/signer/local"
)

// Key references of the test key ring
const (
	KeyEthereum      = "eth"
	KeySolanaFunding = "funding"
	KeySolanaStake   = "stake"
)

// EthereumKey is the secp256k1 test key
const EthereumKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

// Seed returns a 32 byte ed25519 seed filled with b
func Seed(b byte) []byte {
	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = b
	}
	return seed
}

// SolanaKey returns the Solana key derived from Seed(b)
func SolanaKey(b byte) solana.PrivateKey {
	return solana.PrivateKey(ed25519.NewKeyFromSeed(Seed(b)))
}

// KeyRing is the local key ring used by the test server
func KeyRing() map[string]local.KeySpec {
	return map[string]local.KeySpec{
		KeyEthereum:      {Source: local.SourceHex, Curve: staking.CurveSecp256k1, Value: EthereumKey},
		KeySolanaFunding: {Source: local.SourceHex, Curve: staking.CurveEd25519, Value: hex.EncodeToString(Seed(1))},
		KeySolanaStake:   {Source: local.SourceHex, Curve: staking.CurveEd25519, Value: hex.EncodeToString(Seed(2))},
	}
}

// HoodiDeposit returns an unsigned EIP-1559 deposit transaction on Hoodi
func HoodiDeposit(t *testing.T) []byte {
	t.Helper()
	to := ethereum.DepositContract
	raw, err := ethereum.EncodeUnsigned(&types.DynamicFeeTx{
		ChainID:   big.NewInt(560048),
		Nonce:     7,
		GasTipCap: big.NewInt(1_000_000_000),
		GasFeeCap: big.NewInt(30_000_000_000),
		Gas:       150_000,
		To:        &to,
		Value:     new(big.Int).Mul(big.NewInt(32), big.NewInt(1e18)),
		Data:      common.FromHex("0x22895118"),
	})
	require.NoError(t, err)
	return raw
}

// SolanaCreateStake returns an unsigned create-account transaction signed by the funding
// account (Seed(1)) and the new stake account (Seed(2))
func SolanaCreateStake(t *testing.T) []byte {
	t.Helper()
	funding, stakeAccount := SolanaKey(1), SolanaKey(2)
	tx, err := solana.NewTransaction(
		[]solana.Instruction{
			system.NewCreateAccountInstruction(10_000_000, 200, solana.StakeProgramID, funding.PublicKey(), stakeAccount.PublicKey()).Build(),
		},
		solana.Hash{9, 9, 9},
		solana.TransactionPayer(funding.PublicKey()),
	)
	require.NoError(t, err)

	tx.Signatures = make([]solana.Signature, tx.Message.Header.NumRequiredSignatures)
	raw, err := tx.MarshalBinary()
	require.NoError(t, err)
	return raw
}
