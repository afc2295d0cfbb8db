package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/rsksmart/rif-relay-txcore/internal/relaytx"
	"github.com/rsksmart/rif-relay-txcore/log"
)

const (
	defaultRetries = 2
	defaultTimeout = 3 * time.Second
)

// Endpoint is one RPC connection backing an Adapter.
type Endpoint struct {
	URI    string
	client *ethclient.Client
}

// DialEndpoint connects to a single JSON-RPC endpoint.
func DialEndpoint(ctx context.Context, uri string) (*Endpoint, error) {
	cli, err := ethclient.DialContext(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", uri, err)
	}
	return &Endpoint{URI: uri, client: cli}, nil
}

// Adapter implements Interactor against one or more ethclient endpoints
// for a single chain id, rotating to the next endpoint when the current
// one fails after retrying in place. This mirrors the retry-and-rotate
// shape of a typical multi-endpoint web3 pool, scoped down to the single
// chain id this relay instance serves (multi-chain routing is out of
// scope for this module).
type Adapter struct {
	endpoints []*Endpoint
	next      int
	chainID   *big.Int
}

// NewAdapter builds an Adapter over already-dialed endpoints.
func NewAdapter(chainID *big.Int, endpoints ...*Endpoint) (*Adapter, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("at least one rpc endpoint is required")
	}
	return &Adapter{endpoints: endpoints, chainID: chainID}, nil
}

var _ Interactor = (*Adapter)(nil)

func (a *Adapter) RawTxOptions() relaytx.RawTxOptions {
	return relaytx.RawTxOptions{ChainID: a.chainID}
}

func (a *Adapter) GasPrice(ctx context.Context) (*big.Int, error) {
	res, err := a.retry(ctx, func(c context.Context, ep *Endpoint) (any, error) {
		return ep.client.SuggestGasPrice(c)
	})
	if err != nil {
		return nil, err
	}
	return res.(*big.Int), nil
}

func (a *Adapter) TransactionCount(ctx context.Context, addr common.Address, tag NonceTag) (uint64, error) {
	res, err := a.retry(ctx, func(c context.Context, ep *Endpoint) (any, error) {
		if tag == Pending {
			return ep.client.PendingNonceAt(c, addr)
		}
		return ep.client.NonceAt(c, addr, nil)
	})
	if err != nil {
		return 0, err
	}
	return res.(uint64), nil
}

func (a *Adapter) BroadcastRawTransaction(ctx context.Context, signed []byte) (common.Hash, error) {
	tx := new(gtypes.Transaction)
	if err := tx.UnmarshalBinary(signed); err != nil {
		return common.Hash{}, fmt.Errorf("failed to decode signed transaction: %w", err)
	}
	_, err := a.retry(ctx, func(c context.Context, ep *Endpoint) (any, error) {
		return nil, ep.client.SendTransaction(c, tx)
	})
	if err != nil {
		return common.Hash{}, err
	}
	return tx.Hash(), nil
}

// Transaction fetches the receipt for txHash from the current endpoint
// only, without retrying or rotating. It returns (nil, nil) if that
// endpoint does not know about it yet — spec.md treats an absent receipt
// as "not mined", not as an error.
func (a *Adapter) Transaction(ctx context.Context, txHash common.Hash) (*Receipt, error) {
	ep := a.endpoints[a.next]
	callCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()
	receipt, err := ep.client.TransactionReceipt(callCtx, txHash)
	if errors.Is(err, ethereum.NotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch receipt: %w", err)
	}
	tx, _, err := ep.client.TransactionByHash(callCtx, txHash)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch transaction: %w", err)
	}
	from, err := gtypes.Sender(gtypes.NewEIP155Signer(a.chainID), tx)
	if err != nil {
		return nil, fmt.Errorf("failed to recover sender: %w", err)
	}
	var blockNumber *uint64
	if receipt.BlockNumber != nil {
		bn := receipt.BlockNumber.Uint64()
		blockNumber = &bn
	}
	return &Receipt{From: from, Nonce: tx.Nonce(), BlockNumber: blockNumber}, nil
}

func (a *Adapter) BlockNumber(ctx context.Context) (uint64, error) {
	res, err := a.retry(ctx, func(c context.Context, ep *Endpoint) (any, error) {
		return ep.client.BlockNumber(c)
	})
	if err != nil {
		return 0, err
	}
	return res.(uint64), nil
}

func (a *Adapter) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	res, err := a.retry(ctx, func(c context.Context, ep *Endpoint) (any, error) {
		return ep.client.EstimateGas(c, msg)
	})
	if err != nil {
		return 0, err
	}
	return res.(uint64), nil
}

// retry tries fn against the current endpoint once plus defaultRetries
// retries, then rotates to the next endpoint, until every endpoint has
// been tried.
func (a *Adapter) retry(ctx context.Context, fn func(context.Context, *Endpoint) (any, error)) (any, error) {
	var lastErr error
	for attempted := 0; attempted < len(a.endpoints); attempted++ {
		ep := a.endpoints[a.next]
		for retry := 0; retry <= defaultRetries; retry++ {
			callCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
			res, err := fn(callCtx, ep)
			cancel()
			if err == nil {
				return res, nil
			}
			lastErr = err
			log.Warnw("rpc call failed, retrying",
				"endpoint", ep.URI, "attempt", retry+1, "error", err)
		}
		a.next = (a.next + 1) % len(a.endpoints)
	}
	return nil, fmt.Errorf("all rpc endpoints exhausted: %w", lastErr)
}
