// Package keymanager owns the relay's signing keys. It wraps a
// go-ethereum keystore so private key material never leaves encrypted
// storage: every signature is produced by unlocking the account for the
// duration of a single SignTx call.
package keymanager

import (
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	gtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/rsksmart/rif-relay-txcore/internal/relaytx"
)

// KeyManager signs transactions on behalf of one or more relay-controlled
// addresses: the manager key that owns relay configuration, and the
// worker keys that sign individual meta-transactions.
type KeyManager struct {
	ks *keystore.KeyStore

	mu        sync.RWMutex
	passwords map[common.Address]string
	accounts  map[common.Address]accounts.Account
}

// New opens (or creates) a keystore rooted at dir, using the same
// scrypt parameters as geth's default keystore.
func New(dir string) *KeyManager {
	ks := keystore.NewKeyStore(dir, keystore.StandardScryptN, keystore.StandardScryptP)
	km := &KeyManager{
		ks:        ks,
		passwords: make(map[common.Address]string),
		accounts:  make(map[common.Address]accounts.Account),
	}
	for _, a := range ks.Accounts() {
		km.accounts[a.Address] = a
	}
	return km
}

// Import adds a hex-encoded private key to the keystore under password
// and registers it as a signer. It is idempotent: importing an address
// already present only refreshes the password used to unlock it.
func (km *KeyManager) Import(hexKey, password string) (common.Address, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to parse private key: %w", err)
	}
	acc, err := km.ks.ImportECDSA(key, password)
	if err != nil && err != keystore.ErrAccountAlreadyExists {
		return common.Address{}, fmt.Errorf("failed to import key: %w", err)
	}
	if err == keystore.ErrAccountAlreadyExists {
		acc, err = km.findByAddress(crypto.PubkeyToAddress(key.PublicKey))
		if err != nil {
			return common.Address{}, err
		}
	}
	km.mu.Lock()
	km.accounts[acc.Address] = acc
	km.passwords[acc.Address] = password
	km.mu.Unlock()
	return acc.Address, nil
}

// IsSigner reports whether addr is a registered relay signer.
func (km *KeyManager) IsSigner(addr common.Address) bool {
	km.mu.RLock()
	defer km.mu.RUnlock()
	_, ok := km.accounts[addr]
	return ok
}

// Signers returns every registered signer address, in no particular
// order.
func (km *KeyManager) Signers() []common.Address {
	km.mu.RLock()
	defer km.mu.RUnlock()
	out := make([]common.Address, 0, len(km.accounts))
	for addr := range km.accounts {
		out = append(out, addr)
	}
	return out
}

// SignTransaction signs tx on behalf of addr using EIP-155 replay
// protection for chainID. RSK never adopted EIP-1559, so the core signs
// legacy-shaped transactions exclusively.
func (km *KeyManager) SignTransaction(addr common.Address, tx *gtypes.Transaction, chainID *big.Int) (*gtypes.Transaction, error) {
	km.mu.RLock()
	acc, ok := km.accounts[addr]
	password := km.passwords[addr]
	km.mu.RUnlock()
	if !ok {
		return nil, relaytx.ErrUnknownSigner
	}
	signed, err := km.ks.SignTxWithPassphrase(acc, password, tx, chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction for %s: %w", addr, err)
	}
	return signed, nil
}

func (km *KeyManager) findByAddress(addr common.Address) (accounts.Account, error) {
	return km.ks.Find(accounts.Account{Address: addr})
}
