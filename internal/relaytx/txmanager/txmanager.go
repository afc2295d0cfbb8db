// Package txmanager orchestrates send, resend, and the periodic boost
// and reap sweeps. It owns the nonce allocator and the tx store, and
// holds shared handles to the chain interactor and every configured
// signer.
package txmanager

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/rsksmart/rif-relay-txcore/internal/chain"
	"github.com/rsksmart/rif-relay-txcore/internal/relaytx"
	"github.com/rsksmart/rif-relay-txcore/internal/relaytx/gaspolicy"
	"github.com/rsksmart/rif-relay-txcore/internal/relaytx/noncealloc"
	"github.com/rsksmart/rif-relay-txcore/internal/relaytx/txbuilder"
	"github.com/rsksmart/rif-relay-txcore/internal/relaytx/txstore"
	"github.com/rsksmart/rif-relay-txcore/log"
)

// Config holds the tunables an operator sets per deployment: repricing
// behavior, gas estimation fallback, and when a pending transaction is
// considered stale or deeply enough confirmed to forget about.
type Config struct {
	RetryGasPriceFactor             float64
	MaxGasPrice                     *big.Int
	EstimateGasFactor               float64
	DefaultGasLimit                 uint64
	ConfirmationsNeeded              uint64
	PendingTransactionTimeoutBlocks uint64
}

// Manager is the transaction management core: the only component that
// sends, reprices, and reaps chain transactions on the relay's behalf.
type Manager struct {
	chain   chain.Interactor
	store   *txstore.Store
	nonces  *noncealloc.Allocator
	gas     *gaspolicy.Policy
	signers []txbuilder.KeySigner
	cfg     Config
	chainID *big.Int

	signerLocksMu sync.Mutex
	signerLocks   map[common.Address]*sync.Mutex
}

// New builds a Manager. signers holds the KeySigners that own the
// configured identities (manager, worker); one KeySigner may own several
// of them. Send and Resend try them in order and use the first that
// claims the requested address.
func New(interactor chain.Interactor, store *txstore.Store, signers []txbuilder.KeySigner, cfg Config) *Manager {
	return &Manager{
		chain:       interactor,
		store:       store,
		nonces:      noncealloc.New(),
		gas:         gaspolicy.New(cfg.RetryGasPriceFactor, cfg.MaxGasPrice),
		signers:     signers,
		cfg:         cfg,
		chainID:     interactor.RawTxOptions().ChainID,
		signerLocks: make(map[common.Address]*sync.Mutex),
	}
}

// lockFor returns the nonce mutex shard for signer, creating it on
// first use. Sharding per signer lets unrelated signers send
// concurrently while still serializing poll→sign→put→commit for any
// one signer.
func (m *Manager) lockFor(signer common.Address) *sync.Mutex {
	m.signerLocksMu.Lock()
	defer m.signerLocksMu.Unlock()
	l, ok := m.signerLocks[signer]
	if !ok {
		l = &sync.Mutex{}
		m.signerLocks[signer] = l
	}
	return l
}

// Send builds, signs, persists, and broadcasts a new transaction for
// req.Signer, assigning it the next nonce for that signer. requestID
// correlates this call's log lines (received request, broadcast) across
// an otherwise concurrent log stream; it never touches durable state.
func (m *Manager) Send(ctx context.Context, req relaytx.SendRequest) (relaytx.SendResult, error) {
	requestID := uuid.NewString()
	log.Debugw("received send request", "request_id", requestID,
		"signer", req.Signer.Hex(), "destination", req.Destination.Hex(),
		"server_action", req.ServerAction)

	gasPrice := req.GasPrice
	if gasPrice == nil {
		var err error
		gasPrice, err = m.chain.GasPrice(ctx)
		if err != nil {
			return relaytx.SendResult{}, relaytx.NewChainRPCError("get_gas_price", err)
		}
	}

	lock := m.lockFor(req.Signer)
	lock.Lock()

	pendingCount, err := m.chain.TransactionCount(ctx, req.Signer, chain.Pending)
	if err != nil {
		lock.Unlock()
		return relaytx.SendResult{}, relaytx.NewChainRPCError("get_transaction_count", err)
	}
	nonce := m.nonces.Poll(req.Signer, pendingCount)

	tx := txbuilder.Build(req.Destination, req.Value, req.GasLimit, gasPrice, req.EncodedCallData, nonce)
	signed, err := txbuilder.Sign(m.signers, req.Signer, tx, m.chainID)
	if err != nil {
		lock.Unlock()
		return relaytx.SendResult{}, err
	}
	txID := txbuilder.TxID(signed)
	signedBytes, err := txbuilder.SignedBytes(signed)
	if err != nil {
		lock.Unlock()
		return relaytx.SendResult{}, err
	}

	stored := relaytx.StoredTransaction{
		TxID:                txID,
		From:                req.Signer,
		To:                  req.Destination,
		Nonce:               nonce,
		GasLimit:            req.GasLimit,
		GasPrice:            gasPrice,
		Value:               valueOrZero(req.Value),
		Data:                req.EncodedCallData,
		ServerAction:        req.ServerAction,
		CreationBlockNumber: req.CreationBlockNumber,
		Attempts:            1,
	}

	// The nonce counter only advances once the row is durably recorded:
	// a failed write must leave the next poll free to re-derive the
	// nonce from the chain's pending count.
	if err := m.store.Put(stored, false); err != nil {
		lock.Unlock()
		return relaytx.SendResult{}, err
	}
	m.nonces.Commit(req.Signer)
	lock.Unlock()

	return m.broadcast(ctx, requestID, stored, signedBytes)
}

// Resend rebuilds stored with newGasPrice, reusing its nonce, and
// broadcasts the replacement. It is lock-free: the nonce is already
// owned by the row it replaces. Callers must not call Resend
// concurrently for the same (from, nonce).
func (m *Manager) Resend(ctx context.Context, stored relaytx.StoredTransaction, currentBlock uint64, newGasPrice *big.Int, capped bool) (relaytx.SendResult, error) {
	// value is intentionally not carried over, matching the relay this
	// core is modeled on: a boosted transaction always resends as a
	// zero-value call.
	tx := txbuilder.Build(stored.To, big.NewInt(0), stored.GasLimit, newGasPrice, stored.Data, stored.Nonce)
	signed, err := txbuilder.Sign(m.signers, stored.From, tx, m.chainID)
	if err != nil {
		return relaytx.SendResult{}, err
	}
	txID := txbuilder.TxID(signed)
	signedBytes, err := txbuilder.SignedBytes(signed)
	if err != nil {
		return relaytx.SendResult{}, err
	}

	boostBlock := currentBlock
	next := relaytx.StoredTransaction{
		TxID:                txID,
		From:                stored.From,
		To:                  stored.To,
		Nonce:               stored.Nonce,
		GasLimit:            stored.GasLimit,
		GasPrice:            newGasPrice,
		Value:               big.NewInt(0),
		Data:                stored.Data,
		ServerAction:        stored.ServerAction,
		CreationBlockNumber: stored.CreationBlockNumber,
		BoostBlockNumber:    &boostBlock,
		MinedBlockNumber:    stored.MinedBlockNumber,
		Attempts:            stored.Attempts + 1,
	}
	if err := m.store.Put(next, true); err != nil {
		return relaytx.SendResult{}, err
	}

	log.Infow("boosting pending transaction",
		"old_tx_id", stored.TxID, "new_tx_id", txID, "from", stored.From.Hex(),
		"nonce", stored.Nonce, "gas_price", newGasPrice.String(), "capped", capped)

	return m.broadcast(ctx, uuid.NewString(), next, signedBytes)
}

// broadcast submits signedBytes, verifies the returned hash matches
// the locally computed tx id, and logs the attempt either way. The row
// is already durable by the time this runs, so a mismatch or transport
// error leaves a recoverable record behind.
func (m *Manager) broadcast(ctx context.Context, requestID string, stored relaytx.StoredTransaction, signedBytes []byte) (relaytx.SendResult, error) {
	returnedHash, err := m.chain.BroadcastRawTransaction(ctx, signedBytes)
	if err != nil {
		return relaytx.SendResult{}, relaytx.NewChainRPCError("broadcast_raw_transaction", err)
	}

	log.Infow("broadcast transaction",
		"request_id", requestID,
		"tx_id", stored.TxID, "from", stored.From.Hex(), "to", stored.To.Hex(),
		"value", stored.Value.String(), "nonce", stored.Nonce,
		"gas_price", stored.GasPrice.String(), "gas_limit", stored.GasLimit,
		"data_len", len(stored.Data))

	if !strings.EqualFold(returnedHash.Hex(), stored.TxID) {
		return relaytx.SendResult{}, fmt.Errorf("%w: tx_id=%s returned=%s", relaytx.ErrHashMismatch, stored.TxID, returnedHash.Hex())
	}
	return relaytx.SendResult{TxHash: returnedHash, SignedBytes: signedBytes}, nil
}

// ReapConfirmed walks every stored row in ascending (from, nonce) order
// and, for any row whose receipt is observed mined deeply enough, prunes
// that signer's rows up to and including the receipt's nonce. Chain observation
// failures are logged and skipped row by row rather than aborting the
// sweep.
func (m *Manager) ReapConfirmed(ctx context.Context, blockNumber uint64) error {
	rows, err := m.store.GetAll()
	if err != nil {
		return err
	}
	for _, row := range rows {
		shouldRecheck := row.MinedBlockNumber == nil ||
			blockNumber-*row.MinedBlockNumber >= m.cfg.ConfirmationsNeeded
		if !shouldRecheck {
			continue
		}

		txHash := common.HexToHash(row.TxID)
		receipt, err := m.chain.Transaction(ctx, txHash)
		if err != nil {
			log.Warnw("failed to fetch receipt during reap, skipping row",
				"tx_id", row.TxID, "from", row.From.Hex(), "error", err)
			continue
		}
		if receipt == nil || receipt.BlockNumber == nil {
			log.Debugw("no mined receipt yet during reap, skipping row",
				"tx_id", row.TxID, "from", row.From.Hex())
			continue
		}

		confirmations := blockNumber - *receipt.BlockNumber
		if !blockNumbersEqual(receipt.BlockNumber, row.MinedBlockNumber) {
			if row.MinedBlockNumber != nil {
				log.Warnw("observed block number changed for mined transaction, possible reorg",
					"tx_id", row.TxID, "from", row.From.Hex(),
					"previous_block", *row.MinedBlockNumber, "new_block", *receipt.BlockNumber)
			}
			if confirmations < m.cfg.ConfirmationsNeeded {
				updated := row
				updated.MinedBlockNumber = receipt.BlockNumber
				if err := m.store.Put(updated, true); err != nil {
					return err
				}
				continue
			}
		}

		if err := m.store.RemoveTxsUntilNonce(receipt.From, receipt.Nonce); err != nil {
			return err
		}
	}
	return nil
}

// BoostPending reprices signer's oldest pending transaction if it has
// sat unmined for too long, and along with it every other stored
// transaction for signer whose gas price has fallen under the new
// floor. It returns a mapping from each replaced transaction's old id
// to its resend result.
func (m *Manager) BoostPending(ctx context.Context, signer common.Address, currentBlock uint64) (map[string]relaytx.SendResult, error) {
	results := make(map[string]relaytx.SendResult)

	rows, err := m.store.GetAllBySigner(signer)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return results, nil
	}

	chainNonce, err := m.chain.TransactionCount(ctx, signer, chain.Latest)
	if err != nil {
		return nil, relaytx.NewChainRPCError("get_transaction_count", err)
	}

	oldest := rows[0]
	if oldest.Nonce < chainNonce {
		// already mined, just not yet confirmed: reap_confirmed's job
		return results, nil
	}

	referenceBlock := oldest.CreationBlockNumber
	if oldest.BoostBlockNumber != nil {
		referenceBlock = *oldest.BoostBlockNumber
	}
	if currentBlock-referenceBlock < m.cfg.PendingTransactionTimeoutBlocks {
		return results, nil
	}

	newGasPrice, capped := m.gas.NextGasPrice(oldest.GasPrice)

	for _, row := range rows {
		if row.GasPrice.Cmp(newGasPrice) >= 0 {
			continue
		}
		res, err := m.Resend(ctx, row, currentBlock, newGasPrice, capped)
		if err != nil {
			return results, fmt.Errorf("failed to resend nonce %d for %s: %w", row.Nonce, row.From.Hex(), err)
		}
		results[row.TxID] = res
	}
	return results, nil
}

// EstimateGas asks the chain interactor for a gas estimate and applies
// the configured safety margin. Estimation failures never propagate:
// they fall back to DefaultGasLimit.
func (m *Manager) EstimateGas(ctx context.Context, msg ethereum.CallMsg) uint64 {
	estimate, err := m.chain.EstimateGas(ctx, msg)
	if err != nil {
		log.Warnw("gas estimation failed, using default gas limit", "error", err, "default", m.cfg.DefaultGasLimit)
		return m.cfg.DefaultGasLimit
	}
	return uint64(math.Round(float64(estimate) * m.cfg.EstimateGasFactor))
}

func valueOrZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}

func blockNumbersEqual(a, b *uint64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
