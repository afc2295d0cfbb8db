package relaytx

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors surfaced by TxStore and TransactionManager. Callers
// should match them with errors.Is; wrapped context is added with %w at
// each call site.
var (
	// ErrUnknownSigner is returned when no configured KeyManager owns the
	// requested signer address.
	ErrUnknownSigner = errors.New("unknown signer")
	// ErrDuplicateNonce is returned by TxStore.Put when a row already
	// exists for (from, nonce) and replaceExisting is false.
	ErrDuplicateNonce = errors.New("duplicate nonce")
	// ErrHashMismatch is returned when a broadcast returns a hash that
	// differs from the locally computed tx id.
	ErrHashMismatch = errors.New("broadcast hash does not match signed tx id")
)

// ChainRPCError wraps any failure returned by the chain interactor so
// callers can distinguish "the chain said no" from a local bug.
type ChainRPCError struct {
	Op  string
	Err error
}

func (e *ChainRPCError) Error() string {
	return fmt.Sprintf("chain rpc error during %s: %v", e.Op, e.Err)
}

func (e *ChainRPCError) Unwrap() error { return e.Err }

// NewChainRPCError wraps err as a ChainRPCError naming the failing
// operation, or returns nil if err is nil.
func NewChainRPCError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &ChainRPCError{Op: op, Err: err}
}

// StoreIOError wraps a storage failure from TxStore (a write, read, or
// prune). When it comes from Put during a send or resend, the caller
// must treat the enclosing send/resend as failed: the nonce counter was
// not committed (see NonceAllocator.Commit ordering).
type StoreIOError struct {
	Err error
}

func (e *StoreIOError) Error() string { return fmt.Sprintf("tx store io error: %v", e.Err) }
func (e *StoreIOError) Unwrap() error { return e.Err }

// IsNonceError matches the class of node errors that indicate the
// relay's in-memory nonce tracking has drifted from the chain's view
// (a broadcast rejected for "nonce too high/low" or already seen).
func IsNonceError(err error) bool {
	return containsErr(err, "nonce too high") ||
		containsErr(err, "nonce too low") ||
		containsErr(err, "already known")
}

func containsErr(err error, sub string) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), strings.ToLower(sub))
}
