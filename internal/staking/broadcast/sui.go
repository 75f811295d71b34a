package broadcast

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"sync/atomic"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github/chapool/go-staking/internal/staking"
	"github/chapool/go-staking/internal/util"
)

// DefaultSuiURL is the Sui testnet full node
const DefaultSuiURL = "https://fullnode.testnet.sui.io:443"

// Sui executes signed transaction blocks through a full node's JSON-RPC API
type Sui struct {
	client *resty.Client
	url    string
	poll   util.PollConfig
	id     atomic.Uint64
}

// NewSui creates a Sui RPC broadcaster
func NewSui(url string, poll util.PollConfig) *Sui {
	if url == "" {
		url = DefaultSuiURL
	}
	client := resty.New().
		SetTimeout(defaultRequestTimeout).
		SetHeader("Content-Type", "application/json")
	return &Sui{client: client, url: url, poll: poll}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type transactionBlock struct {
	Digest  string `json:"digest"`
	Effects *struct {
		Status struct {
			Status string `json:"status"`
			Error  string `json:"error"`
		} `json:"status"`
	} `json:"effects"`
}

func (s *Sui) Name() string {
	return "sui_rpc"
}

// Broadcast executes the transaction with every collected signature, sponsor included
func (s *Sui) Broadcast(ctx context.Context, signed *staking.SignedTransaction) (string, error) {
	if len(signed.Signatures) == 0 {
		return "", Rejected(staking.ChainSui, errors.New("transaction carries no signatures"))
	}

	var block transactionBlock
	err := s.call(ctx, "sui_executeTransactionBlock", []any{
		base64.StdEncoding.EncodeToString(signed.Unsigned),
		signed.Signatures,
		map[string]bool{"showEffects": true},
		"WaitForLocalExecution",
	}, &block)
	if err != nil {
		return "", Rejected(staking.ChainSui, err)
	}

	if block.Effects != nil && block.Effects.Status.Status == "failure" {
		return "", Rejected(staking.ChainSui, errors.Errorf("transaction %s failed: %s", block.Digest, block.Effects.Status.Error))
	}
	if block.Digest == "" {
		block.Digest = signed.Hash
	}

	util.LogFromContext(ctx).Info().
		Str("component", "sui_broadcaster").
		Str("tx_digest", block.Digest).
		Msg("Transaction executed")
	return block.Digest, nil
}

func (s *Sui) WaitForFinality(ctx context.Context, _ staking.ChainKind, hash string) (*Finality, error) {
	return waitFor(ctx, s.poll, staking.ChainSui, hash, func(ctx context.Context) (*Finality, error) {
		var block transactionBlock
		if err := s.call(ctx, "sui_getTransactionBlock", []any{hash, map[string]bool{"showEffects": true}}, &block); err != nil {
			return nil, err
		}
		if block.Effects == nil {
			return nil, nil
		}
		switch block.Effects.Status.Status {
		case "success":
			return &Finality{Hash: hash, Status: StatusSuccess, Success: true}, nil
		case "failure":
			return &Finality{Hash: hash, Status: StatusFailed + ": " + block.Effects.Status.Error}, nil
		default:
			return nil, nil
		}
	})
}

func (s *Sui) call(ctx context.Context, method string, params []any, out any) error {
	var resp rpcResponse
	r, err := s.client.R().
		SetContext(ctx).
		SetBody(rpcRequest{JSONRPC: "2.0", ID: s.id.Add(1), Method: method, Params: params}).
		SetResult(&resp).
		Post(s.url)
	if err != nil {
		return errors.Wrapf(err, "failed to call %s", method)
	}
	if r.IsError() {
		return errors.Errorf("%s returned %d: %s", method, r.StatusCode(), r.String())
	}
	if resp.Error != nil {
		return errors.Errorf("%s failed with %d: %s", method, resp.Error.Code, resp.Error.Message)
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return errors.Wrapf(err, "failed to decode %s result", method)
	}
	return nil
}
