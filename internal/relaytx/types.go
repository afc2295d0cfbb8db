// Package relaytx holds the data model shared by the transaction
// management core: the durable row persisted per in-flight chain
// transaction, and the request shape callers use to ask the relay to send
// one.
package relaytx

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ServerAction tags why the relay sent a transaction, for observability
// and for reconstructing intent during an incident.
type ServerAction string

const (
	ActionRelayCall       ServerAction = "RelayCall"
	ActionSetHashApproval ServerAction = "SetHashApproval"
	ActionDepositWithdraw ServerAction = "DepositWithdraw"
	ActionValueTransfer   ServerAction = "ValueTransfer"
)

// StoredTransaction is one row per in-flight chain transaction, the unit
// TxStore persists, indexes, and mutates.
type StoredTransaction struct {
	// TxID is the lowercase 0x-prefixed keccak256 hash of the signed
	// transaction. It changes on every resend.
	TxID string
	From common.Address
	To   common.Address
	// Nonce is unique per From.
	Nonce    uint64
	GasLimit uint64
	GasPrice *big.Int
	Value    *big.Int
	Data     []byte

	ServerAction ServerAction

	CreationBlockNumber uint64
	// BoostBlockNumber is set on the first resend and updated on every
	// subsequent one.
	BoostBlockNumber *uint64
	// MinedBlockNumber is set once a receipt naming this nonce is first
	// observed; it can move on reorg.
	MinedBlockNumber *uint64

	// Attempts counts broadcasts, including the original send. Never zero.
	Attempts int
}

// SendRequest describes a single on-chain call the relay should wrap,
// sign, broadcast, and track.
type SendRequest struct {
	Signer      common.Address
	Destination common.Address
	// Value defaults to 0 wei.
	Value *big.Int
	// GasLimit must be supplied by the caller; estimation is a separate
	// concern (TransactionManager.EstimateGas).
	GasLimit uint64
	// GasPrice, if nil, is resolved from the chain interactor.
	GasPrice            *big.Int
	CreationBlockNumber uint64
	ServerAction        ServerAction
	// EncodedCallData defaults to empty (a plain value transfer).
	EncodedCallData []byte
}

// RawTxOptions carries the chain-wide parameters a ChainInteractor knows
// about and every unsigned transaction needs. It holds only the chain id
// for EIP-155 replay protection; no hardfork settings are carried.
type RawTxOptions struct {
	ChainID *big.Int
}

// SendResult is what Send and Resend return to their caller.
type SendResult struct {
	TxHash      common.Hash
	SignedBytes []byte
}
