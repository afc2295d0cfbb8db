package noncealloc_test

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	qt "github.com/frankban/quicktest"

	"github.com/rsksmart/rif-relay-txcore/internal/relaytx/noncealloc"
)

func TestPollStartsAtZero(t *testing.T) {
	c := qt.New(t)
	a := noncealloc.New()
	signer := common.Address{1}

	c.Assert(a.Poll(signer, 0), qt.Equals, uint64(0))
}

func TestCommitAdvancesCounter(t *testing.T) {
	c := qt.New(t)
	a := noncealloc.New()
	signer := common.Address{1}

	c.Assert(a.Poll(signer, 0), qt.Equals, uint64(0))
	a.Commit(signer)
	c.Assert(a.Poll(signer, 0), qt.Equals, uint64(1))
}

func TestPollFixesNonceWhenChainAhead(t *testing.T) {
	c := qt.New(t)
	a := noncealloc.New()
	signer := common.Address{1}

	c.Assert(a.Poll(signer, 0), qt.Equals, uint64(0))
	a.Commit(signer) // local counter = 1

	c.Assert(a.Poll(signer, 7), qt.Equals, uint64(7))
	a.Commit(signer)
	c.Assert(a.Poll(signer, 0), qt.Equals, uint64(8))
}

func TestPollDoesNotRewindWhenChainBehind(t *testing.T) {
	c := qt.New(t)
	a := noncealloc.New()
	signer := common.Address{1}

	a.Commit(signer)
	a.Commit(signer)
	c.Assert(a.Poll(signer, 1), qt.Equals, uint64(2))
}

func TestCountersAreIndependentPerSigner(t *testing.T) {
	c := qt.New(t)
	a := noncealloc.New()
	x, y := common.Address{1}, common.Address{2}

	a.Commit(x)
	c.Assert(a.Poll(x, 0), qt.Equals, uint64(1))
	c.Assert(a.Poll(y, 0), qt.Equals, uint64(0))
}
