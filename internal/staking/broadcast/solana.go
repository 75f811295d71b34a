package broadcast

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github/chapool/go-staking/internal/staking"
	"github/chapool/go-staking/internal/util"
)

// SolanaRPC is the part of the Solana JSON-RPC client used for submission
type SolanaRPC interface {
	SendRawTransactionWithOpts(ctx context.Context, rawTx []byte, opts rpc.TransactionOpts) (solana.Signature, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, transactionSignatures ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
}

// Solana submits wire transactions to a Solana RPC node
type Solana struct {
	client SolanaRPC
	poll   util.PollConfig
}

// NewSolana creates a Solana broadcaster. Use rpc.New(endpoint) for the client.
func NewSolana(client SolanaRPC, poll util.PollConfig) *Solana {
	return &Solana{client: client, poll: poll}
}

func (s *Solana) Name() string {
	return "solana_rpc"
}

func (s *Solana) Broadcast(ctx context.Context, signed *staking.SignedTransaction) (string, error) {
	sig, err := s.client.SendRawTransactionWithOpts(ctx, signed.Raw, rpc.TransactionOpts{
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return "", Rejected(staking.ChainSolana, err)
	}

	util.LogFromContext(ctx).Info().
		Str("component", "solana_broadcaster").
		Str("signature", sig.String()).
		Msg("Transaction sent")
	return sig.String(), nil
}

func (s *Solana) WaitForFinality(ctx context.Context, _ staking.ChainKind, hash string) (*Finality, error) {
	sig, err := solana.SignatureFromBase58(hash)
	if err != nil {
		return nil, staking.Malformed(staking.ChainSolana, err, "invalid transaction signature %q", hash)
	}

	return waitFor(ctx, s.poll, staking.ChainSolana, hash, func(ctx context.Context) (*Finality, error) {
		out, err := s.client.GetSignatureStatuses(ctx, true, sig)
		if err != nil {
			return nil, err
		}
		if out == nil || len(out.Value) == 0 || out.Value[0] == nil {
			return nil, nil
		}
		status := out.Value[0]
		if status.Err != nil {
			return &Finality{Hash: hash, Status: fmt.Sprintf("%s: %v", StatusFailed, status.Err)}, nil
		}
		switch status.ConfirmationStatus {
		case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
			return &Finality{Hash: hash, Status: string(status.ConfirmationStatus), Success: true}, nil
		default:
			return nil, nil
		}
	})
}
