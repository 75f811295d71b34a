package ethereum

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Backend is the subset of node access used to populate and submit transactions
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, address common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	BaseFee(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// RPCClient is a Backend over a list of execution nodes.
// Calls go to the last healthy node; a node failing its health check hands over to the next one.
type RPCClient struct {
	mu      sync.Mutex
	urls    []string
	nodes   []*ethclient.Client
	current int
}

var _ Backend = (*RPCClient)(nil)

// NewRPCClient dials every url. Nodes failing to dial are retried on use;
// at least one must connect.
func NewRPCClient(urls []string) (*RPCClient, error) {
	if len(urls) == 0 {
		return nil, errors.New("at least one RPC URL is required")
	}

	c := &RPCClient{urls: urls, nodes: make([]*ethclient.Client, len(urls))}
	connected := 0
	for i, url := range urls {
		node, err := ethclient.Dial(url)
		if err != nil {
			log.Warn().Str("url", url).Err(err).Msg("Failed to dial execution node, retrying on use")
			continue
		}
		c.nodes[i] = node
		connected++
	}
	if connected == 0 {
		return nil, errors.New("failed to connect to any execution node")
	}

	return c, nil
}

func (c *RPCClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, node := range c.nodes {
		if node != nil {
			node.Close()
			c.nodes[i] = nil
		}
	}
}

// call runs fn against a healthy node and wraps its error with what
func call[T any](ctx context.Context, c *RPCClient, what string, fn func(*ethclient.Client) (T, error)) (T, error) {
	var zero T
	node, err := c.node(ctx)
	if err != nil {
		return zero, err
	}

	out, err := fn(node)
	if err != nil {
		return zero, errors.Wrapf(err, "failed to %s", what)
	}
	return out, nil
}

func (c *RPCClient) ChainID(ctx context.Context) (*big.Int, error) {
	return call(ctx, c, "get chain ID", func(n *ethclient.Client) (*big.Int, error) {
		return n.ChainID(ctx)
	})
}

func (c *RPCClient) PendingNonceAt(ctx context.Context, address common.Address) (uint64, error) {
	return call(ctx, c, "get pending nonce", func(n *ethclient.Client) (uint64, error) {
		return n.PendingNonceAt(ctx, address)
	})
}

// SuggestGasTipCap returns the node's EIP-1559 priority fee suggestion
func (c *RPCClient) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return call(ctx, c, "suggest gas tip cap", func(n *ethclient.Client) (*big.Int, error) {
		return n.SuggestGasTipCap(ctx)
	})
}

// BaseFee returns the base fee of the latest header
func (c *RPCClient) BaseFee(ctx context.Context) (*big.Int, error) {
	header, err := call(ctx, c, "get latest header", func(n *ethclient.Client) (*types.Header, error) {
		return n.HeaderByNumber(ctx, nil)
	})
	if err != nil {
		return nil, err
	}
	if header.BaseFee == nil {
		return nil, errors.New("latest header has no base fee")
	}
	return header.BaseFee, nil
}

func (c *RPCClient) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return call(ctx, c, "estimate gas", func(n *ethclient.Client) (uint64, error) {
		return n.EstimateGas(ctx, msg)
	})
}

// CallContract executes a read-only call at the latest block
func (c *RPCClient) CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	return call(ctx, c, "call contract", func(n *ethclient.Client) ([]byte, error) {
		return n.CallContract(ctx, msg, nil)
	})
}

// SendTransaction passes node rejections through unwrapped so the message stays verbatim
func (c *RPCClient) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	node, err := c.node(ctx)
	if err != nil {
		return err
	}
	return node.SendTransaction(ctx, tx)
}

// TransactionReceipt returns ethereum.NotFound unwrapped while the transaction is pending
func (c *RPCClient) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	node, err := c.node(ctx)
	if err != nil {
		return nil, err
	}
	return node.TransactionReceipt(ctx, txHash) //nolint:wrapcheck // callers match ethereum.NotFound
}

// node returns the first healthy node starting from the current one, redialing dropped nodes
func (c *RPCClient) node(ctx context.Context) (*ethclient.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.nodes {
		idx := (c.current + i) % len(c.nodes)
		url := c.urls[idx]

		if c.nodes[idx] == nil {
			node, err := ethclient.DialContext(ctx, url)
			if err != nil {
				log.Warn().Str("url", url).Err(err).Msg("Execution node redial failed")
				continue
			}
			c.nodes[idx] = node
		}

		if _, err := c.nodes[idx].BlockNumber(ctx); err != nil {
			log.Warn().Str("url", url).Err(err).Msg("Execution node unhealthy, trying next")
			continue
		}

		if idx != c.current {
			log.Info().Str("url", url).Msg("Switched execution node")
			c.current = idx
		}
		return c.nodes[idx], nil
	}

	return nil, errors.New("no execution node is available")
}
