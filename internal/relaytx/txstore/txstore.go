// Package txstore durably persists StoredTransaction rows in a pebble
// database, keyed so every signer's transactions sort by ascending
// nonce. It is the only place in the transaction management core that
// talks to disk.
package txstore

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"

	"github.com/rsksmart/rif-relay-txcore/internal/relaytx"
	"github.com/rsksmart/rif-relay-txcore/log"
)

const keyLen = common.AddressLength + 8 // 20-byte address + 8-byte big-endian nonce

// Store persists StoredTransaction rows keyed by (from, nonce), giving
// ascending-nonce iteration per signer for free via pebble's sorted
// key space.
type Store struct {
	db *pebble.DB
}

// Open opens (creating if needed) a pebble database at path. When
// devMode is true the store is wiped on open, matching the teacher
// convention of starting every dev run from an empty chain state.
func Open(path string, devMode bool) (*Store, error) {
	if devMode {
		if err := os.RemoveAll(path); err != nil {
			return nil, fmt.Errorf("failed to wipe tx store for dev mode: %w", err)
		}
	}
	if err := os.MkdirAll(path, os.ModePerm); err != nil {
		return nil, fmt.Errorf("failed to create tx store directory: %w", err)
	}
	opts := &pebble.Options{
		Levels: []pebble.LevelOptions{{Compression: pebble.SnappyCompression}},
	}
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open tx store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying pebble database.
func (s *Store) Close() error {
	return s.db.Close()
}

func encodeKey(from common.Address, nonce uint64) []byte {
	k := make([]byte, keyLen)
	copy(k, from.Bytes())
	binary.BigEndian.PutUint64(k[common.AddressLength:], nonce)
	return k
}

func decodeKey(k []byte) (common.Address, uint64) {
	return common.BytesToAddress(k[:common.AddressLength]),
		binary.BigEndian.Uint64(k[common.AddressLength:])
}

type storedRow struct {
	TxID                string
	From                common.Address
	To                  common.Address
	Nonce               uint64
	GasLimit            uint64
	GasPrice            string
	Value               string
	Data                []byte
	ServerAction        relaytx.ServerAction
	CreationBlockNumber uint64
	BoostBlockNumber    *uint64
	MinedBlockNumber    *uint64
	Attempts            int
}

func toRow(tx relaytx.StoredTransaction) storedRow {
	row := storedRow{
		TxID:                tx.TxID,
		From:                tx.From,
		To:                  tx.To,
		Nonce:               tx.Nonce,
		GasLimit:            tx.GasLimit,
		Data:                tx.Data,
		ServerAction:        tx.ServerAction,
		CreationBlockNumber: tx.CreationBlockNumber,
		BoostBlockNumber:    tx.BoostBlockNumber,
		MinedBlockNumber:    tx.MinedBlockNumber,
		Attempts:            tx.Attempts,
	}
	if tx.GasPrice != nil {
		row.GasPrice = tx.GasPrice.String()
	}
	if tx.Value != nil {
		row.Value = tx.Value.String()
	}
	return row
}

func (r storedRow) toStoredTransaction() (relaytx.StoredTransaction, error) {
	out := relaytx.StoredTransaction{
		TxID:                r.TxID,
		From:                r.From,
		To:                  r.To,
		Nonce:               r.Nonce,
		GasLimit:            r.GasLimit,
		Data:                r.Data,
		ServerAction:        r.ServerAction,
		CreationBlockNumber: r.CreationBlockNumber,
		BoostBlockNumber:    r.BoostBlockNumber,
		MinedBlockNumber:    r.MinedBlockNumber,
		Attempts:            r.Attempts,
	}
	gasPrice, ok := parseBigInt(r.GasPrice)
	if !ok {
		return out, fmt.Errorf("corrupt gas price %q for tx %s", r.GasPrice, r.TxID)
	}
	out.GasPrice = gasPrice
	value, ok := parseBigInt(r.Value)
	if !ok {
		return out, fmt.Errorf("corrupt value %q for tx %s", r.Value, r.TxID)
	}
	out.Value = value
	return out, nil
}

// parseBigInt decodes a decimal big.Int, treating an empty string as
// zero (a nil *big.Int round-trips to "" through toRow).
func parseBigInt(s string) (*big.Int, bool) {
	if s == "" {
		return big.NewInt(0), true
	}
	v, ok := new(big.Int).SetString(s, 10)
	return v, ok
}

// Put writes tx, keyed by (tx.From, tx.Nonce). If a row already exists
// for that key and replaceExisting is false, it returns
// relaytx.ErrDuplicateNonce without writing anything; replaceExisting
// is true on a resend, where the same nonce intentionally gets a new
// signed transaction.
func (s *Store) Put(tx relaytx.StoredTransaction, replaceExisting bool) error {
	key := encodeKey(tx.From, tx.Nonce)
	if !replaceExisting {
		_, closer, err := s.db.Get(key)
		if err == nil {
			_ = closer.Close()
			return relaytx.ErrDuplicateNonce
		}
		if !errors.Is(err, pebble.ErrNotFound) {
			return &relaytx.StoreIOError{Err: err}
		}
	}
	value, err := json.Marshal(toRow(tx))
	if err != nil {
		return &relaytx.StoreIOError{Err: err}
	}
	if err := s.db.Set(key, value, pebble.Sync); err != nil {
		return &relaytx.StoreIOError{Err: err}
	}
	return nil
}

// GetAll returns every stored row across all signers, ordered first by
// address then by ascending nonce.
func (s *Store) GetAll() ([]relaytx.StoredTransaction, error) {
	return s.iterate(nil)
}

// GetAllBySigner returns from's rows in ascending nonce order.
func (s *Store) GetAllBySigner(from common.Address) ([]relaytx.StoredTransaction, error) {
	return s.iterate(from.Bytes())
}

func (s *Store) iterate(prefix []byte) ([]relaytx.StoredTransaction, error) {
	iterOpts := &pebble.IterOptions{LowerBound: prefix}
	if prefix != nil {
		iterOpts.UpperBound = keyUpperBound(prefix)
	}
	iter, err := s.db.NewIter(iterOpts)
	if err != nil {
		return nil, &relaytx.StoreIOError{Err: err}
	}
	defer iter.Close()

	var out []relaytx.StoredTransaction
	for iter.First(); iter.Valid(); iter.Next() {
		var row storedRow
		if err := json.Unmarshal(iter.Value(), &row); err != nil {
			return nil, &relaytx.StoreIOError{Err: fmt.Errorf("failed to decode row: %w", err)}
		}
		tx, err := row.toStoredTransaction()
		if err != nil {
			return nil, &relaytx.StoreIOError{Err: err}
		}
		out = append(out, tx)
	}
	if err := iter.Error(); err != nil {
		return nil, &relaytx.StoreIOError{Err: err}
	}
	return out, nil
}

// RemoveTxsUntilNonce deletes every row for from with nonce <=
// inclusiveNonce. It is used once a row's receipt is confirmed deeply
// enough, pruning that nonce and every earlier one for the signer.
func (s *Store) RemoveTxsUntilNonce(from common.Address, inclusiveNonce uint64) error {
	lower := from.Bytes()
	upper := encodeKey(from, inclusiveNonce+1) // exclusive bound
	batch := s.db.NewBatch()
	defer batch.Close()
	if err := batch.DeleteRange(lower, upper, nil); err != nil {
		return &relaytx.StoreIOError{Err: err}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return &relaytx.StoreIOError{Err: err}
	}
	log.Debugw("pruned mined transactions", "signer", from.Hex(), "until_nonce", inclusiveNonce)
	return nil
}

func keyUpperBound(b []byte) []byte {
	end := bytes.Clone(b)
	for i := len(end) - 1; i >= 0; i-- {
		end[i] = end[i] + 1
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
