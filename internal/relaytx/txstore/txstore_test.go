package txstore_test

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	qt "github.com/frankban/quicktest"

	"github.com/rsksmart/rif-relay-txcore/internal/relaytx"
	"github.com/rsksmart/rif-relay-txcore/internal/relaytx/txstore"
)

func openStore(c *qt.C) *txstore.Store {
	s, err := txstore.Open(c.TempDir(), false)
	c.Assert(err, qt.IsNil)
	c.Cleanup(func() { _ = s.Close() })
	return s
}

func row(from common.Address, nonce uint64) relaytx.StoredTransaction {
	return relaytx.StoredTransaction{
		TxID:     "0xabc",
		From:     from,
		To:       common.Address{9},
		Nonce:    nonce,
		GasLimit: 21000,
		GasPrice: big.NewInt(60_000_000),
		Value:    big.NewInt(0),
		Attempts: 1,
	}
}

func TestPutAndGetAll(t *testing.T) {
	c := qt.New(t)
	s := openStore(c)

	from := common.Address{1}
	c.Assert(s.Put(row(from, 0), false), qt.IsNil)
	c.Assert(s.Put(row(from, 1), false), qt.IsNil)

	all, err := s.GetAll()
	c.Assert(err, qt.IsNil)
	c.Assert(all, qt.HasLen, 2)
	c.Assert(all[0].Nonce, qt.Equals, uint64(0))
	c.Assert(all[1].Nonce, qt.Equals, uint64(1))
}

func TestPutDuplicateNonceRejected(t *testing.T) {
	c := qt.New(t)
	s := openStore(c)
	from := common.Address{1}

	c.Assert(s.Put(row(from, 0), false), qt.IsNil)
	err := s.Put(row(from, 0), false)
	c.Assert(err, qt.ErrorIs, relaytx.ErrDuplicateNonce)
}

func TestPutReplaceExisting(t *testing.T) {
	c := qt.New(t)
	s := openStore(c)
	from := common.Address{1}

	c.Assert(s.Put(row(from, 0), false), qt.IsNil)
	replacement := row(from, 0)
	replacement.TxID = "0xdef"
	replacement.Attempts = 2
	c.Assert(s.Put(replacement, true), qt.IsNil)

	all, err := s.GetAllBySigner(from)
	c.Assert(err, qt.IsNil)
	c.Assert(all, qt.HasLen, 1)
	c.Assert(all[0].TxID, qt.Equals, "0xdef")
	c.Assert(all[0].Attempts, qt.Equals, 2)
}

func TestGetAllBySignerIsolatesSigners(t *testing.T) {
	c := qt.New(t)
	s := openStore(c)
	a, b := common.Address{1}, common.Address{2}

	c.Assert(s.Put(row(a, 0), false), qt.IsNil)
	c.Assert(s.Put(row(b, 0), false), qt.IsNil)
	c.Assert(s.Put(row(a, 1), false), qt.IsNil)

	aRows, err := s.GetAllBySigner(a)
	c.Assert(err, qt.IsNil)
	c.Assert(aRows, qt.HasLen, 2)

	bRows, err := s.GetAllBySigner(b)
	c.Assert(err, qt.IsNil)
	c.Assert(bRows, qt.HasLen, 1)
}

func TestRemoveTxsUntilNonce(t *testing.T) {
	c := qt.New(t)
	s := openStore(c)
	from := common.Address{1}

	for n := uint64(0); n < 4; n++ {
		c.Assert(s.Put(row(from, n), false), qt.IsNil)
	}
	c.Assert(s.RemoveTxsUntilNonce(from, 1), qt.IsNil)

	remaining, err := s.GetAllBySigner(from)
	c.Assert(err, qt.IsNil)
	c.Assert(remaining, qt.HasLen, 2)
	c.Assert(remaining[0].Nonce, qt.Equals, uint64(2))
	c.Assert(remaining[1].Nonce, qt.Equals, uint64(3))
}

func TestDevModeWipesExistingData(t *testing.T) {
	c := qt.New(t)
	dir := c.TempDir()

	s1, err := txstore.Open(dir, false)
	c.Assert(err, qt.IsNil)
	c.Assert(s1.Put(row(common.Address{1}, 0), false), qt.IsNil)
	c.Assert(s1.Close(), qt.IsNil)

	s2, err := txstore.Open(dir, true)
	c.Assert(err, qt.IsNil)
	defer s2.Close()

	all, err := s2.GetAll()
	c.Assert(err, qt.IsNil)
	c.Assert(all, qt.HasLen, 0)
}
