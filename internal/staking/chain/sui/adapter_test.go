package sui_test

import (
	"crypto/ed25519"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github/chapool/go-staking/internal/staking"
	"github/chapool/go-staking/internal/staking/chain/sui"
)

// request_add_stake of 1 SUI, as returned by the staking API on testnet
const addStakeTx = "000003000800ca9a3b0000000001010000000000000000000000000000000000000000000000000000000000000005010000000000000001002022b35a7481fb136e5585c43421cf8ab49d0e219e902dedc40c2778acdcc7bc9c020200010100000000000000000000000000000000000000000000000000000000000000000000030a7375695f73797374656d11726571756573745f6164645f7374616b6500030101000300000000010200b0e0bce616aacbd836122d89a0f20b68abdecf566a4fe0742fa9fe6c9563455c0298d3c1ed4065ad8d3caad4d022f1b8c20aa3b018de676c3bd4e9564c610c20075b8141290000000020dc59a6c694e3967c88d51e8236843c73bcfd1663169994d3b3c88a50a38809efb0d4bf02284906fb0c40d166b8491ee7816e9db3b6c4f2060d2a6a33eda4569b424e5028000000002002e7ec76b525847c0b5ee7f6ff1035c8749c91b678a7b7fa688dd39357613d42b0e0bce616aacbd836122d89a0f20b68abdecf566a4fe0742fa9fe6c9563455ce80300000000000000e1f5050000000000"

const (
	senderOffset   = 172
	gasOwnerOffset = 351
)

func vector(t *testing.T) []byte {
	t.Helper()
	raw, err := hex.DecodeString(addStakeTx)
	require.NoError(t, err)
	return raw
}

func testKey(b byte) ed25519.PrivateKey {
	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = b
	}
	return ed25519.NewKeyFromSeed(seed)
}

func pub(k ed25519.PrivateKey) []byte {
	return k.Public().(ed25519.PublicKey)
}

// withParties rewrites the sender and gas owner of the vector
func withParties(t *testing.T, sender, owner ed25519.PrivateKey) []byte {
	t.Helper()
	raw := vector(t)
	s := sui.PublicKeyAddress(pub(sender))
	o := sui.PublicKeyAddress(pub(owner))
	copy(raw[senderOffset:], s[:])
	copy(raw[gasOwnerOffset:], o[:])
	return raw
}

func witness(role staking.Role, k ed25519.PrivateKey, digest []byte) staking.Witness {
	return staking.Witness{
		Role:      role,
		PublicKey: staking.PublicKey{Curve: staking.CurveEd25519, Bytes: pub(k)},
		Signature: staking.Signature{Bytes: ed25519.Sign(k, digest)},
	}
}

func TestDecodeAddStake(t *testing.T) {
	data, err := sui.DecodeTransactionData(vector(t))
	require.NoError(t, err)

	assert.Equal(t, "0xb0e0bce616aacbd836122d89a0f20b68abdecf566a4fe0742fa9fe6c9563455c", data.Sender.String())
	assert.Equal(t, data.Sender, data.Gas.Owner)
	assert.Equal(t, uint64(1000), data.Gas.Price)
	assert.Equal(t, uint64(100_000_000), data.Gas.Budget)
	assert.Len(t, data.Gas.Payment, 2)
	assert.Nil(t, data.ExpiresAt())

	ptb := data.Programmable()
	require.NotNil(t, ptb)
	require.Len(t, ptb.Inputs, 3)
	require.NotNil(t, ptb.Inputs[0].Pure)
	assert.Equal(t, []byte{0x00, 0xca, 0x9a, 0x3b, 0, 0, 0, 0}, *ptb.Inputs[0].Pure)
	require.NotNil(t, ptb.Inputs[1].Object)
	shared := ptb.Inputs[1].Object.SharedObject
	require.NotNil(t, shared)
	assert.True(t, shared.Mutable)
	assert.Equal(t, uint64(1), shared.InitialSharedVersion)

	require.Len(t, ptb.Commands, 2)
	assert.NotNil(t, ptb.Commands[0].SplitCoins)
	call := ptb.Commands[1].MoveCall
	require.NotNil(t, call)
	assert.Equal(t, "sui_system", call.Module)
	assert.Equal(t, "request_add_stake", call.Function)
	require.Len(t, call.Arguments, 3)
	assert.NotNil(t, call.Arguments[1].NestedResult)
}

// system transaction kinds and unknown data versions are not signable
func TestDecodeRejectsNonProgrammable(t *testing.T) {
	raw := vector(t)

	changeEpoch := append([]byte{}, raw...)
	changeEpoch[1] = 0x01
	_, err := sui.DecodeTransactionData(changeEpoch)
	require.Error(t, err)

	v2 := append([]byte{}, raw...)
	v2[0] = 0x01
	_, err = sui.DecodeTransactionData(v2)
	require.Error(t, err)
}

func TestDigests(t *testing.T) {
	adapter := sui.NewAdapter()
	raw := vector(t)

	tx, err := adapter.ParseUnsigned(raw)
	require.NoError(t, err)

	digest, err := adapter.DeriveDigest(tx)
	require.NoError(t, err)
	assert.Equal(t, "600363e2e0b6d0bff9c49e28fbd8564aac6617f596f977a9dc3a53346eb55c27", digest.Hex())
	assert.Equal(t, "ARGwXJuCVtvGSDFvgaLinLjYc8DSpctDWTcAqeiwo8UQ", sui.TransactionDigest(raw))

	roles, err := adapter.RequiredRoles(tx)
	require.NoError(t, err)
	require.Len(t, roles, 1)
	assert.Equal(t, staking.RoleSender, roles[0].Role)
}

func TestSignedRoundTrip(t *testing.T) {
	adapter := sui.NewAdapter()
	sender := testKey(7)
	raw := withParties(t, sender, sender)

	tx, err := adapter.ParseUnsigned(raw)
	require.NoError(t, err)
	digest, err := adapter.DeriveDigest(tx)
	require.NoError(t, err)

	w := witness(staking.RoleSender, sender, digest.Bytes())
	signed, err := adapter.AssembleSigned(tx, []staking.Witness{w})
	require.NoError(t, err)
	assert.Equal(t, sui.TransactionDigest(raw), signed.Hash)
	require.Len(t, signed.Signatures, 1)

	sig, key, err := sui.ParseSerializedSignature(signed.Signatures[0])
	require.NoError(t, err)
	assert.Equal(t, w.Signature.Bytes, sig)
	assert.Equal(t, pub(sender), key)

	// one signed transaction, intent, the exact unsigned bytes, one 97 byte signature
	envelope := append([]byte{0x01, 0x00, 0x00, 0x00}, raw...)
	envelope = append(envelope, 0x01, 0x61)
	assert.Equal(t, envelope, signed.Raw[:len(envelope)])
	assert.Len(t, signed.Raw, len(envelope)+97)

	extracted, err := adapter.ExtractWitnesses(signed.Raw)
	require.NoError(t, err)
	require.Len(t, extracted, 1)
	assert.Equal(t, staking.RoleSender, extracted[0].Role)
	assert.True(t, ed25519.Verify(extracted[0].PublicKey.Bytes, digest.Bytes(), extracted[0].Signature.Bytes))

	// a signature over the bare transaction bytes is not a signature over the intent digest
	assert.False(t, ed25519.Verify(pub(sender), digest.Bytes(), ed25519.Sign(sender, raw)))
}

func TestSponsoredTransaction(t *testing.T) {
	adapter := sui.NewAdapter()
	sender, sponsor := testKey(7), testKey(8)
	raw := withParties(t, sender, sponsor)

	tx, err := adapter.ParseUnsigned(raw)
	require.NoError(t, err)

	roles, err := adapter.RequiredRoles(tx)
	require.NoError(t, err)
	require.Len(t, roles, 2)
	assert.Equal(t, staking.RoleSponsor, roles[1].Role)

	digest, err := adapter.DeriveDigest(tx)
	require.NoError(t, err)

	_, err = adapter.AssembleSigned(tx, []staking.Witness{witness(staking.RoleSender, sender, digest.Bytes())})
	assert.ErrorIs(t, err, staking.ErrIncompleteWitnessSet)

	signed, err := adapter.AssembleSigned(tx, []staking.Witness{
		witness(staking.RoleSponsor, sponsor, digest.Bytes()),
		witness(staking.RoleSender, sender, digest.Bytes()),
	})
	require.NoError(t, err)
	require.Len(t, signed.Signatures, 2)

	extracted, err := adapter.ExtractWitnesses(signed.Raw)
	require.NoError(t, err)
	require.Len(t, extracted, 2)
	assert.Equal(t, staking.RoleSender, extracted[0].Role)
	assert.Equal(t, staking.RoleSponsor, extracted[1].Role)
}

func TestSignerAddressMismatch(t *testing.T) {
	adapter := sui.NewAdapter()
	tx, err := adapter.ParseUnsigned(vector(t))
	require.NoError(t, err)
	digest, err := adapter.DeriveDigest(tx)
	require.NoError(t, err)

	_, err = adapter.AssembleSigned(tx, []staking.Witness{witness(staking.RoleSender, testKey(7), digest.Bytes())})
	require.ErrorIs(t, err, staking.ErrUnknownSignerRole)
	assert.NotErrorIs(t, err, staking.ErrSignatureMismatch)
}

func TestParseRejectsMalformed(t *testing.T) {
	adapter := sui.NewAdapter()
	raw := vector(t)

	for _, bad := range [][]byte{nil, {0x01}, raw[:200], append(append([]byte{}, raw...), 0x00)} {
		_, err := adapter.ParseUnsigned(bad)
		assert.ErrorIs(t, err, staking.ErrMalformedTransaction)
	}
}
