package txbuilder_test

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	gtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	qt "github.com/frankban/quicktest"

	"github.com/rsksmart/rif-relay-txcore/internal/relaytx"
	"github.com/rsksmart/rif-relay-txcore/internal/relaytx/txbuilder"
)

func TestBuildDefaultsNilValueToZero(t *testing.T) {
	c := qt.New(t)
	tx := txbuilder.Build(common.Address{1}, nil, 21000, big.NewInt(1), nil, 0)
	c.Assert(tx.Value().Sign(), qt.Equals, 0)
}

type stubSigner struct {
	owns common.Address
	key  []byte // unused, placeholder to keep struct non-empty
}

func (s stubSigner) IsSigner(addr common.Address) bool { return addr == s.owns }

func (s stubSigner) SignTransaction(addr common.Address, tx *gtypes.Transaction, chainID *big.Int) (*gtypes.Transaction, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	return gtypes.SignTx(tx, gtypes.NewEIP155Signer(chainID), key)
}

func TestSignPicksOwningSigner(t *testing.T) {
	c := qt.New(t)
	owner := common.Address{7}
	signers := []txbuilder.KeySigner{stubSigner{owns: owner}}

	tx := txbuilder.Build(common.Address{2}, big.NewInt(0), 21000, big.NewInt(1), nil, 0)
	signed, err := txbuilder.Sign(signers, owner, tx, big.NewInt(31))
	c.Assert(err, qt.IsNil)
	c.Assert(signed, qt.Not(qt.IsNil))
}

func TestSignUnknownSignerFails(t *testing.T) {
	c := qt.New(t)
	signers := []txbuilder.KeySigner{stubSigner{owns: common.Address{7}}}

	tx := txbuilder.Build(common.Address{2}, big.NewInt(0), 21000, big.NewInt(1), nil, 0)
	_, err := txbuilder.Sign(signers, common.Address{9}, tx, big.NewInt(31))
	c.Assert(err, qt.ErrorIs, relaytx.ErrUnknownSigner)
}

func TestTxIDMatchesHash(t *testing.T) {
	c := qt.New(t)
	key, err := crypto.GenerateKey()
	c.Assert(err, qt.IsNil)
	chainID := big.NewInt(31)

	tx := txbuilder.Build(common.Address{2}, big.NewInt(0), 21000, big.NewInt(1), nil, 0)
	signed, err := gtypes.SignTx(tx, gtypes.NewEIP155Signer(chainID), key)
	c.Assert(err, qt.IsNil)

	id := txbuilder.TxID(signed)
	c.Assert(id, qt.Equals, signed.Hash().Hex())
}

func TestSignedBytesRoundTrip(t *testing.T) {
	c := qt.New(t)
	key, err := crypto.GenerateKey()
	c.Assert(err, qt.IsNil)
	chainID := big.NewInt(31)

	tx := txbuilder.Build(common.Address{2}, big.NewInt(0), 21000, big.NewInt(1), nil, 0)
	signed, err := gtypes.SignTx(tx, gtypes.NewEIP155Signer(chainID), key)
	c.Assert(err, qt.IsNil)

	raw, err := txbuilder.SignedBytes(signed)
	c.Assert(err, qt.IsNil)

	decoded := new(gtypes.Transaction)
	c.Assert(decoded.UnmarshalBinary(raw), qt.IsNil)
	c.Assert(decoded.Hash(), qt.Equals, signed.Hash())
}
