// Package noncealloc tracks the next nonce to assign per signer. It is
// a cache, not a source of truth: TxStore holds the durable record of
// outstanding nonces, and Poll reconciles against the chain's own
// pending count on every call.
package noncealloc

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/rsksmart/rif-relay-txcore/log"
)

// Allocator assigns strictly monotonic per-signer nonces. It never
// persists: on restart every counter starts at zero and is corrected
// by the first Poll for that signer.
type Allocator struct {
	mu       sync.Mutex
	counters map[common.Address]uint64
}

// New returns an empty Allocator.
func New() *Allocator {
	return &Allocator{counters: make(map[common.Address]uint64)}
}

// Poll returns the next nonce to use for signer, reconciling against
// pendingCount — the chain's pending transaction count for signer, as
// observed by the caller just before this call. If the chain knows of
// more pending transactions than this allocator has assigned, the
// local counter jumps forward ("nonce fix") and a warning is logged:
// something outside this process used the same key.
func (a *Allocator) Poll(signer common.Address, pendingCount uint64) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if pendingCount > a.counters[signer] {
		log.Warnw("nonce fix: chain pending count exceeds local counter",
			"signer", signer.Hex(), "local", a.counters[signer], "chain_pending", pendingCount)
		a.counters[signer] = pendingCount
	}
	return a.counters[signer]
}

// Commit records that the nonce most recently returned by Poll(signer)
// has been durably persisted, advancing the counter by one. It must
// only be called after a successful TxStore.Put.
func (a *Allocator) Commit(signer common.Address) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.counters[signer]++
}
