package broadcast

import (
	"context"

	goethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"github/chapool/go-staking/internal/staking"
	"github/chapool/go-staking/internal/staking/chain/ethereum"
	"github/chapool/go-staking/internal/util"
)

// Ethereum submits signed envelopes through an execution node
type Ethereum struct {
	backend ethereum.Backend
	poll    util.PollConfig
}

// NewEthereum creates a node broadcaster; backend is usually the failover RPC client
func NewEthereum(backend ethereum.Backend, poll util.PollConfig) *Ethereum {
	return &Ethereum{backend: backend, poll: poll}
}

func (e *Ethereum) Name() string {
	return "ethereum_rpc"
}

func (e *Ethereum) Broadcast(ctx context.Context, signed *staking.SignedTransaction) (string, error) {
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(signed.Raw); err != nil {
		return "", staking.Malformed(staking.ChainEthereum, err, "failed to decode signed transaction")
	}

	if err := e.backend.SendTransaction(ctx, tx); err != nil {
		return "", Rejected(staking.ChainEthereum, err)
	}

	util.LogFromContext(ctx).Info().
		Str("component", "ethereum_broadcaster").
		Str("tx_hash", tx.Hash().Hex()).
		Uint64("nonce", tx.Nonce()).
		Msg("Transaction sent")
	return tx.Hash().Hex(), nil
}

func (e *Ethereum) WaitForFinality(ctx context.Context, _ staking.ChainKind, hash string) (*Finality, error) {
	txHash := common.HexToHash(hash)
	return waitFor(ctx, e.poll, staking.ChainEthereum, hash, func(ctx context.Context) (*Finality, error) {
		receipt, err := e.backend.TransactionReceipt(ctx, txHash)
		if errors.Is(err, goethereum.NotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		if receipt.Status == types.ReceiptStatusSuccessful {
			return &Finality{Hash: hash, Status: StatusSuccess, Success: true}, nil
		}
		return &Finality{Hash: hash, Status: "reverted"}, nil
	})
}
