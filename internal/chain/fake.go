package chain

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/rsksmart/rif-relay-txcore/internal/relaytx"
)

// Fake is an in-memory Interactor for exercising the transaction
// management core without a live node. It is safe for concurrent use.
type Fake struct {
	mu sync.Mutex

	ChainID      *big.Int
	GasPriceWei  *big.Int
	EstimatedGas uint64
	// EstimateGasErr, when set, is returned by EstimateGas instead of
	// EstimatedGas.
	EstimateGasErr error

	latestNonce  map[common.Address]uint64
	pendingNonce map[common.Address]uint64
	mined        map[common.Hash]*Receipt

	// Block is the value BlockNumber reports.
	Block uint64

	// BroadcastErr, when set, is returned by BroadcastRawTransaction
	// instead of recording the transaction.
	BroadcastErr error
	broadcasts   []*gtypes.Transaction
}

// NewFake builds a Fake with the given chain id and a default gas price.
func NewFake(chainID *big.Int) *Fake {
	return &Fake{
		ChainID:      chainID,
		GasPriceWei:  big.NewInt(60_000_000), // 0.06 gwei, typical RSK floor
		EstimatedGas: 21000,
		latestNonce:  make(map[common.Address]uint64),
		pendingNonce: make(map[common.Address]uint64),
		mined:        make(map[common.Hash]*Receipt),
	}
}

var _ Interactor = (*Fake)(nil)

func (f *Fake) RawTxOptions() relaytx.RawTxOptions {
	return relaytx.RawTxOptions{ChainID: f.ChainID}
}

func (f *Fake) GasPrice(ctx context.Context) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return new(big.Int).Set(f.GasPriceWei), nil
}

func (f *Fake) TransactionCount(ctx context.Context, addr common.Address, tag NonceTag) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if tag == Pending {
		return f.pendingNonce[addr], nil
	}
	return f.latestNonce[addr], nil
}

func (f *Fake) BroadcastRawTransaction(ctx context.Context, signed []byte) (common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.BroadcastErr != nil {
		return common.Hash{}, f.BroadcastErr
	}
	tx := new(gtypes.Transaction)
	if err := tx.UnmarshalBinary(signed); err != nil {
		return common.Hash{}, fmt.Errorf("failed to decode signed transaction: %w", err)
	}
	from, err := gtypes.Sender(gtypes.NewEIP155Signer(f.ChainID), tx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to recover sender: %w", err)
	}
	if tx.Nonce() >= f.pendingNonce[from] {
		f.pendingNonce[from] = tx.Nonce() + 1
	}
	f.broadcasts = append(f.broadcasts, tx)
	return tx.Hash(), nil
}

func (f *Fake) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.EstimateGasErr != nil {
		return 0, f.EstimateGasErr
	}
	return f.EstimatedGas, nil
}

func (f *Fake) BlockNumber(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Block, nil
}

func (f *Fake) Transaction(ctx context.Context, txHash common.Hash) (*Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mined[txHash], nil
}

// Mine marks txHash as included in blockNumber and advances the signer's
// latest (mined) nonce view, the same way a real node's "latest" count
// only advances once a block lands.
func (f *Fake) Mine(txHash common.Hash, from common.Address, nonce, blockNumber uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	bn := blockNumber
	f.mined[txHash] = &Receipt{From: from, Nonce: nonce, BlockNumber: &bn}
	if nonce+1 > f.latestNonce[from] {
		f.latestNonce[from] = nonce + 1
	}
}

// SetPendingNonce seeds the pending transaction count TransactionCount
// reports for addr.
func (f *Fake) SetPendingNonce(addr common.Address, nonce uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pendingNonce[addr] = nonce
}

// SetLatestNonce seeds the mined transaction count TransactionCount
// reports for addr.
func (f *Fake) SetLatestNonce(addr common.Address, nonce uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.latestNonce[addr] = nonce
}

// Broadcasts returns every transaction accepted by BroadcastRawTransaction,
// in submission order.
func (f *Fake) Broadcasts() []*gtypes.Transaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*gtypes.Transaction, len(f.broadcasts))
	copy(out, f.broadcasts)
	return out
}
