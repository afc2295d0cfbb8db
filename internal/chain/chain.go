// Package chain defines the narrow interface the transaction management
// core needs from an Ethereum-compatible node, and one concrete adapter
// backed by go-ethereum's ethclient.
//
// The core never talks to go-ethereum directly: it depends on Interactor,
// which keeps RPC transport, endpoint selection, and retry policy out of
// the nonce/gas/store logic entirely.
package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/rsksmart/rif-relay-txcore/internal/relaytx"
)

// NonceTag distinguishes the two nonce views a node exposes: Latest
// counts only mined transactions, Pending also counts the mempool.
type NonceTag int

const (
	Latest NonceTag = iota
	Pending
)

// Receipt is the subset of a transaction receipt the core reasons about.
type Receipt struct {
	From        common.Address
	Nonce       uint64
	BlockNumber *uint64
}

// Interactor is the chain-facing collaborator spec.md calls the "Chain
// Interactor": an opaque object whose construction, transport, and ABI
// encoding live outside the transaction management core.
type Interactor interface {
	GasPrice(ctx context.Context) (*big.Int, error)
	TransactionCount(ctx context.Context, addr common.Address, tag NonceTag) (uint64, error)
	BroadcastRawTransaction(ctx context.Context, signed []byte) (common.Hash, error)
	Transaction(ctx context.Context, txHash common.Hash) (*Receipt, error)
	RawTxOptions() relaytx.RawTxOptions
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	// BlockNumber reports the chain's current block height, the clock
	// the worker loop ticks boost and reap sweeps against.
	BlockNumber(ctx context.Context) (uint64, error)
}

// SignedTxBytes RLP-encodes a signed transaction for BroadcastRawTransaction.
func SignedTxBytes(tx *gtypes.Transaction) ([]byte, error) {
	return tx.MarshalBinary()
}
