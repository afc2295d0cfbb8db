// Package txbuilder assembles the unsigned canonical chain transaction
// for a send or resend, resolves which configured KeyManager owns the
// signer, and derives the transaction id from the signed result.
package txbuilder

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	gtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/rsksmart/rif-relay-txcore/internal/relaytx"
)

// KeySigner is the subset of keymanager.KeyManager the builder needs:
// ownership lookup and legacy signing. A TransactionManager holds one or
// more KeySigners, and one KeySigner may own both the manager and the
// worker identities; Sign uses the first that claims a given address.
type KeySigner interface {
	IsSigner(addr common.Address) bool
	SignTransaction(addr common.Address, tx *gtypes.Transaction, chainID *big.Int) (*gtypes.Transaction, error)
}

// Build assembles the unsigned legacy transaction for a send or resend:
// RSK never adopted EIP-1559, so every transaction this relay produces
// carries a single scalar gas price rather than a fee cap/tip pair.
func Build(to common.Address, value *big.Int, gasLimit uint64, gasPrice *big.Int, data []byte, nonce uint64) *gtypes.Transaction {
	if value == nil {
		value = big.NewInt(0)
	}
	return gtypes.NewTransaction(nonce, to, value, gasLimit, gasPrice, data)
}

// Sign picks the first signer in signers that owns from and signs tx
// with it, returning relaytx.ErrUnknownSigner if none do.
func Sign(signers []KeySigner, from common.Address, tx *gtypes.Transaction, chainID *big.Int) (*gtypes.Transaction, error) {
	for _, s := range signers {
		if s.IsSigner(from) {
			return s.SignTransaction(from, tx, chainID)
		}
	}
	return nil, relaytx.ErrUnknownSigner
}

// TxID derives the canonical, lowercase, 0x-prefixed transaction id
// from a signed transaction: its keccak256 hash.
func TxID(signed *gtypes.Transaction) string {
	return strings.ToLower(signed.Hash().Hex())
}

// SignedBytes RLP/binary-encodes signed for broadcast and durable
// storage alongside its StoredTransaction row.
func SignedBytes(signed *gtypes.Transaction) ([]byte, error) {
	b, err := signed.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to encode signed transaction: %w", err)
	}
	return b, nil
}
