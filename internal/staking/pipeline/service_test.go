package pipeline_test

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github/chapool/go-staking/internal/staking"
	"github/chapool/go-staking/internal/staking/broadcast"
	"github/chapool/go-staking/internal/staking/chain"
	"github/chapool/go-staking/internal/staking/chain/cardano"
	"github/chapool/go-staking/internal/staking/chain/ethereum"
	stakesol "github/chapool/go-staking/internal/staking/chain/solana"
	"github/chapool/go-staking/internal/staking/chain/sui"
	"github/chapool/go-staking/internal/staking/pipeline"
	"github/chapool/go-staking/internal/staking/signer"
	"github/chapool/go-staking/internal/staking/signer/local"
	"github/chapool/go-staking/internal/staking/stakingapi"
	"github/chapool/go-staking/internal/util"
)

const ethKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func registry() *chain.Registry {
	return chain.NewRegistry(ethereum.NewAdapter(), stakesol.NewAdapter(), cardano.NewAdapter(), sui.NewAdapter())
}

func hoodiUnsigned(t *testing.T) []byte {
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

func seedOf(b byte) []byte {
	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = b
	}
	return seed
}

func solanaKey(b byte) solana.PrivateKey {
	return solana.PrivateKey(ed25519.NewKeyFromSeed(seedOf(b)))
}

// twoSignerSolana returns a create-account transaction needing the funding and the new stake account signatures
func twoSignerSolana(t *testing.T, prefillStake bool) []byte {
	t.Helper()
	funding, stakeAccount := solanaKey(1), solanaKey(2)
	tx, err := solana.NewTransaction(
		[]solana.Instruction{
			system.NewCreateAccountInstruction(10_000_000, 200, solana.StakeProgramID, funding.PublicKey(), stakeAccount.PublicKey()).Build(),
		},
		solana.Hash{9, 9, 9},
		solana.TransactionPayer(funding.PublicKey()),
	)
	require.NoError(t, err)

	tx.Signatures = make([]solana.Signature, tx.Message.Header.NumRequiredSignatures)
	if prefillStake {
		message, err := tx.Message.MarshalBinary()
		require.NoError(t, err)
		sig, err := stakeAccount.Sign(message)
		require.NoError(t, err)
		tx.Signatures[1] = sig
	}
	raw, err := tx.MarshalBinary()
	require.NoError(t, err)
	return raw
}

func keyRing(t *testing.T) signer.Signer {
	t.Helper()
	svc, err := local.NewService(map[string]local.KeySpec{
		"eth":     {Source: local.SourceHex, Curve: staking.CurveSecp256k1, Value: ethKey},
		"funding": {Source: local.SourceHex, Curve: staking.CurveEd25519, Value: hex.EncodeToString(seedOf(1))},
		"stake":   {Source: local.SourceHex, Curve: staking.CurveEd25519, Value: hex.EncodeToString(seedOf(2))},
	}, nil)
	require.NoError(t, err)
	return svc
}

type fakeBroadcaster struct {
	calls   atomic.Int32
	err     error
	success bool
}

func (f *fakeBroadcaster) Name() string { return "fake" }

func (f *fakeBroadcaster) Broadcast(_ context.Context, signed *staking.SignedTransaction) (string, error) {
	f.calls.Add(1)
	if f.err != nil {
		return "", f.err
	}
	return signed.Hash, nil
}

func (f *fakeBroadcaster) WaitForFinality(_ context.Context, _ staking.ChainKind, hash string) (*broadcast.Finality, error) {
	return &broadcast.Finality{Hash: hash, Status: broadcast.StatusSuccess, Success: f.success}, nil
}

// scriptedSigner fails with the queued errors before delegating to next
type scriptedSigner struct {
	next   signer.Signer
	errs   []error
	calls  atomic.Int32
	tamper bool
}

func (s *scriptedSigner) Name() string { return "scripted" }

func (s *scriptedSigner) Sign(ctx context.Context, req *signer.SignRequest) (*signer.SignResponse, error) {
	n := int(s.calls.Add(1)) - 1
	if n < len(s.errs) {
		return nil, s.errs[n]
	}
	resp, err := s.next.Sign(ctx, req)
	if err != nil || !s.tamper {
		return resp, err
	}
	resp.Signatures[0].Signature.Bytes[10] ^= 0xff
	return resp, nil
}

func newPipeline(t *testing.T, signers map[string]signer.Signer, b *fakeBroadcaster, reg prometheus.Registerer) pipeline.Service {
	t.Helper()
	cfg := pipeline.Config{
		Registry:      registry(),
		Signers:       signers,
		DefaultSigner: "local",
		SignRetry:     util.PollConfig{Interval: time.Millisecond, MaxAttempts: 3},
		Registerer:    reg,
	}
	if b != nil {
		cfg.Broadcaster = b
		cfg.Waiter = b
	}
	svc, err := pipeline.NewService(cfg)
	require.NoError(t, err)
	return svc
}

func TestEthereumRunToFinality(t *testing.T) {
	reg := prometheus.NewRegistry()
	b := &fakeBroadcaster{success: true}
	svc := newPipeline(t, map[string]signer.Signer{"local": keyRing(t)}, b, reg)

	res, err := svc.Run(context.Background(), &pipeline.Request{
		Chain:           staking.ChainEthereum,
		Unsigned:        hoodiUnsigned(t),
		KeyRef:          "eth",
		Broadcast:       true,
		WaitForFinality: true,
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, pipeline.StateTerminal, res.State)
	assert.Equal(t, int32(1), b.calls.Load())

	sender, err := ethereum.Sender(res.Signed.Raw)
	require.NoError(t, err)
	key, err := crypto.HexToECDSA(ethKey)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), sender)
	assert.Equal(t, res.Signed.Hash, res.TransactionHash)

	count, err := testutil.GatherAndCount(reg, "staking_pipeline_runs_total", "staking_pipeline_stage_duration_seconds")
	require.NoError(t, err)
	// one run series plus the sign, broadcast and finality stage series
	assert.Equal(t, 4, count)
}

func TestSigningPayloadMismatchStopsBeforeSigning(t *testing.T) {
	scripted := &scriptedSigner{next: keyRing(t)}
	svc := newPipeline(t, map[string]signer.Signer{"local": scripted}, nil, nil)

	res, err := svc.Run(context.Background(), &pipeline.Request{
		Chain:          staking.ChainEthereum,
		Unsigned:       hoodiUnsigned(t),
		SigningPayload: make([]byte, 32),
		KeyRef:         "eth",
	})
	require.ErrorIs(t, err, staking.ErrMalformedTransaction)
	assert.Equal(t, int32(0), scripted.calls.Load())
	assert.False(t, res.Success)

	var pe *staking.PipelineError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, staking.StageDigest, pe.Stage)
}

func TestMalformedInput(t *testing.T) {
	svc := newPipeline(t, map[string]signer.Signer{"local": keyRing(t)}, nil, nil)

	for _, c := range []staking.ChainKind{staking.ChainEthereum, staking.ChainSolana, staking.ChainCardano, staking.ChainSui} {
		res, err := svc.Run(context.Background(), &pipeline.Request{Chain: c, Unsigned: []byte{0xde, 0xad}})
		require.ErrorIs(t, err, staking.ErrMalformedTransaction, c)
		assert.Equal(t, res.Err, err)
	}
}

func TestSolanaPartialThenResume(t *testing.T) {
	svc := newPipeline(t, map[string]signer.Signer{"local": keyRing(t)}, nil, nil)
	fundingRole := stakesol.Role(solanaKey(1).PublicKey())
	stakeRole := stakesol.Role(solanaKey(2).PublicKey())

	res, err := svc.Run(context.Background(), &pipeline.Request{
		Chain:    staking.ChainSolana,
		Unsigned: twoSignerSolana(t, false),
		RoleKeys: map[staking.Role]string{fundingRole: "funding"},
		Roles:    []staking.Role{fundingRole},
	})
	require.NoError(t, err)
	require.True(t, res.NeedsSigners())
	assert.False(t, res.Success)
	assert.Equal(t, pipeline.StatePartial, res.State)
	assert.Equal(t, []staking.Role{stakeRole}, res.Partial.Missing)
	assert.ErrorIs(t, res.Err, staking.ErrIncompleteWitnessSet)
	assert.Nil(t, res.Signed)

	resumed, err := svc.Resume(context.Background(), res.Partial, &pipeline.Request{
		RoleKeys: map[staking.Role]string{stakeRole: "stake"},
	})
	require.NoError(t, err)
	assert.True(t, resumed.Success)
	require.NotNil(t, resumed.Signed)
	assert.Len(t, resumed.Signed.Witnesses, 2)
}

func TestResumeRejectsTamperedWitness(t *testing.T) {
	svc := newPipeline(t, map[string]signer.Signer{"local": keyRing(t)}, nil, nil)
	fundingRole := stakesol.Role(solanaKey(1).PublicKey())

	res, err := svc.Run(context.Background(), &pipeline.Request{
		Chain:    staking.ChainSolana,
		Unsigned: twoSignerSolana(t, false),
		KeyRef:   "funding",
		Roles:    []staking.Role{fundingRole},
	})
	require.NoError(t, err)
	require.Len(t, res.Partial.Witnesses, 1)
	res.Partial.Witnesses[0].Signature.Bytes[0] ^= 0x01

	_, err = svc.Resume(context.Background(), res.Partial, &pipeline.Request{KeyRef: "stake"})
	assert.ErrorIs(t, err, staking.ErrSignatureMismatch)
}

func TestPrefilledSignatureIsKept(t *testing.T) {
	svc := newPipeline(t, map[string]signer.Signer{"local": keyRing(t)}, nil, nil)

	res, err := svc.Run(context.Background(), &pipeline.Request{
		Chain:    staking.ChainSolana,
		Unsigned: twoSignerSolana(t, true),
		KeyRef:   "funding",
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Len(t, res.Signed.Witnesses, 2)
}

func TestRoleSignersRunConcurrently(t *testing.T) {
	ring := keyRing(t)
	custodianLike := &scriptedSigner{next: ring}
	svc := newPipeline(t, map[string]signer.Signer{"local": ring, "remote": custodianLike}, nil, nil)
	fundingRole := stakesol.Role(solanaKey(1).PublicKey())
	stakeRole := stakesol.Role(solanaKey(2).PublicKey())

	res, err := svc.Run(context.Background(), &pipeline.Request{
		Chain:       staking.ChainSolana,
		Unsigned:    twoSignerSolana(t, false),
		RoleKeys:    map[staking.Role]string{fundingRole: "funding", stakeRole: "stake"},
		RoleSigners: map[staking.Role]string{stakeRole: "remote"},
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, int32(1), custodianLike.calls.Load())
	assert.Equal(t, fundingRole, res.Signed.Witnesses[0].Role, "witnesses keep the canonical order")
}

func TestSignatureMismatchNeverBroadcasts(t *testing.T) {
	b := &fakeBroadcaster{success: true}
	svc := newPipeline(t, map[string]signer.Signer{"local": &scriptedSigner{next: keyRing(t), tamper: true}}, b, nil)

	res, err := svc.Run(context.Background(), &pipeline.Request{
		Chain:     staking.ChainEthereum,
		Unsigned:  hoodiUnsigned(t),
		KeyRef:    "eth",
		Broadcast: true,
	})
	require.ErrorIs(t, err, staking.ErrSignatureMismatch)
	assert.Nil(t, res.Signed)
	assert.Equal(t, int32(0), b.calls.Load())
}

func TestSignerRetry(t *testing.T) {
	unavailable := signer.Unavailable(staking.ChainEthereum, errors.New("connection refused"), "custodian down")
	scripted := &scriptedSigner{next: keyRing(t), errs: []error{unavailable, unavailable}}
	svc := newPipeline(t, map[string]signer.Signer{"local": scripted}, nil, nil)

	res, err := svc.Run(context.Background(), &pipeline.Request{Chain: staking.ChainEthereum, Unsigned: hoodiUnsigned(t), KeyRef: "eth"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, int32(3), scripted.calls.Load())

	rejected := signer.Unavailable(staking.ChainEthereum, errors.Wrap(signer.ErrRejected, "policy"), "rejected")
	scripted = &scriptedSigner{next: keyRing(t), errs: []error{rejected}}
	svc = newPipeline(t, map[string]signer.Signer{"local": scripted}, nil, nil)

	_, err = svc.Run(context.Background(), &pipeline.Request{Chain: staking.ChainEthereum, Unsigned: hoodiUnsigned(t), KeyRef: "eth"})
	require.ErrorIs(t, err, staking.ErrSignerUnavailable)
	assert.Equal(t, int32(1), scripted.calls.Load())

	scripted = &scriptedSigner{next: keyRing(t), errs: []error{unavailable, unavailable, unavailable, unavailable}}
	svc = newPipeline(t, map[string]signer.Signer{"local": scripted}, nil, nil)
	_, err = svc.Run(context.Background(), &pipeline.Request{Chain: staking.ChainEthereum, Unsigned: hoodiUnsigned(t), KeyRef: "eth"})
	require.ErrorIs(t, err, staking.ErrSignerUnavailable)
	assert.Equal(t, int32(3), scripted.calls.Load())
}

func TestBroadcastRejected(t *testing.T) {
	b := &fakeBroadcaster{err: broadcast.Rejected(staking.ChainEthereum, errors.New("replacement transaction underpriced"))}
	svc := newPipeline(t, map[string]signer.Signer{"local": keyRing(t)}, b, nil)

	res, err := svc.Run(context.Background(), &pipeline.Request{
		Chain:     staking.ChainEthereum,
		Unsigned:  hoodiUnsigned(t),
		KeyRef:    "eth",
		Broadcast: true,
	})
	require.ErrorIs(t, err, staking.ErrBroadcastRejected)
	assert.Contains(t, err.Error(), "replacement transaction underpriced")
	assert.Equal(t, pipeline.StateAssembled, res.State)
	assert.NotNil(t, res.Signed, "the signed transaction stays available for inspection")
	assert.Equal(t, int32(1), b.calls.Load())
}

func TestUnknownRole(t *testing.T) {
	svc := newPipeline(t, map[string]signer.Signer{"local": keyRing(t)}, nil, nil)
	_, err := svc.Run(context.Background(), &pipeline.Request{
		Chain:    staking.ChainEthereum,
		Unsigned: hoodiUnsigned(t),
		KeyRef:   "eth",
		Roles:    []staking.Role{staking.RoleSponsor},
	})
	assert.ErrorIs(t, err, staking.ErrUnknownSignerRole)
}

type fakeAPI struct {
	stakingapi.Service
	unsigned []byte
}

func (f *fakeAPI) Create(_ context.Context, _ staking.ChainKind, _ string, _ map[string]any) (*stakingapi.Payload, error) {
	digest := crypto.Keccak256(f.unsigned)
	return &stakingapi.Payload{Unsigned: f.unsigned, SigningPayload: digest}, nil
}

func TestFetchAndBatch(t *testing.T) {
	cfg := pipeline.Config{
		Registry:    registry(),
		Signers:     map[string]signer.Signer{"local": keyRing(t)},
		API:         &fakeAPI{unsigned: hoodiUnsigned(t)},
		MaxParallel: 2,
	}
	svc, err := pipeline.NewService(cfg)
	require.NoError(t, err)

	res, err := svc.Fetch(context.Background(), &pipeline.FetchRequest{
		Request:   pipeline.Request{Chain: staking.ChainEthereum, KeyRef: "eth"},
		Operation: stakingapi.OperationWithdrawal,
	})
	require.NoError(t, err)
	assert.True(t, res.Success)

	jobs := []*pipeline.Job{
		{Name: "fetched", FetchRequest: pipeline.FetchRequest{Request: pipeline.Request{Chain: staking.ChainEthereum, KeyRef: "eth"}, Operation: stakingapi.OperationCompound}},
		{Name: "broken", FetchRequest: pipeline.FetchRequest{Request: pipeline.Request{Chain: staking.ChainSui, Unsigned: []byte{1}}}},
		{Name: "partial", FetchRequest: pipeline.FetchRequest{Request: pipeline.Request{
			Chain:    staking.ChainSolana,
			Unsigned: twoSignerSolana(t, false),
			KeyRef:   "funding",
			Roles:    []staking.Role{stakesol.Role(solanaKey(1).PublicKey())},
		}}},
	}
	results, err := svc.RunBatch(context.Background(), jobs)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "fetched", results[0].Name)
	assert.True(t, results[0].Success)
	assert.ErrorIs(t, results[1].Err, staking.ErrMalformedTransaction)
	assert.True(t, results[2].NeedsSigners())
}

func TestNewServiceValidates(t *testing.T) {
	_, err := pipeline.NewService(pipeline.Config{})
	assert.Error(t, err)
	_, err = pipeline.NewService(pipeline.Config{Registry: registry(), Signers: map[string]signer.Signer{"a": keyRing(t), "b": keyRing(t)}})
	assert.Error(t, err, "two signers need an explicit default")
}
