package keymanager_test

import (
	"crypto/ecdsa"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	gtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	qt "github.com/frankban/quicktest"

	"github.com/rsksmart/rif-relay-txcore/internal/keymanager"
	"github.com/rsksmart/rif-relay-txcore/internal/relaytx"
)

func genKey(c *qt.C) (*ecdsa.PrivateKey, string) {
	key, err := crypto.GenerateKey()
	c.Assert(err, qt.IsNil)
	return key, crypto.PubkeyToAddress(key.PublicKey).Hex()
}

func TestImportAndIsSigner(t *testing.T) {
	c := qt.New(t)
	km := keymanager.New(c.TempDir())

	key, _ := genKey(c)
	want := crypto.PubkeyToAddress(key.PublicKey)
	privHex := common.Bytes2Hex(crypto.FromECDSA(key))

	addr, err := km.Import(privHex, "pw")
	c.Assert(err, qt.IsNil)
	c.Assert(addr, qt.Equals, want)
	c.Assert(km.IsSigner(want), qt.IsTrue)
	c.Assert(km.IsSigner(common.Address{}), qt.IsFalse)
}

func TestImportIsIdempotent(t *testing.T) {
	c := qt.New(t)
	km := keymanager.New(c.TempDir())

	key, _ := genKey(c)
	privHex := common.Bytes2Hex(crypto.FromECDSA(key))

	addr1, err := km.Import(privHex, "pw")
	c.Assert(err, qt.IsNil)
	addr2, err := km.Import(privHex, "pw2")
	c.Assert(err, qt.IsNil)
	c.Assert(addr1, qt.Equals, addr2)
	c.Assert(len(km.Signers()), qt.Equals, 1)
}

func TestSignTransactionUnknownSigner(t *testing.T) {
	c := qt.New(t)
	km := keymanager.New(c.TempDir())

	tx := gtypes.NewTransaction(0, common.Address{}, big.NewInt(0), 21000, big.NewInt(1), nil)
	_, err := km.SignTransaction(common.Address{1}, tx, big.NewInt(31))
	c.Assert(err, qt.ErrorIs, relaytx.ErrUnknownSigner)
}

func TestSignTransactionRecoversSender(t *testing.T) {
	c := qt.New(t)
	km := keymanager.New(c.TempDir())

	key, _ := genKey(c)
	from := crypto.PubkeyToAddress(key.PublicKey)
	privHex := common.Bytes2Hex(crypto.FromECDSA(key))
	_, err := km.Import(privHex, "pw")
	c.Assert(err, qt.IsNil)

	chainID := big.NewInt(31)
	to := common.Address{2}
	tx := gtypes.NewTransaction(0, to, big.NewInt(0), 21000, big.NewInt(1), nil)
	signed, err := km.SignTransaction(from, tx, chainID)
	c.Assert(err, qt.IsNil)

	recovered, err := gtypes.Sender(gtypes.NewEIP155Signer(chainID), signed)
	c.Assert(err, qt.IsNil)
	c.Assert(recovered, qt.Equals, from)
}
