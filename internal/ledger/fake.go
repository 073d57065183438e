package ledger

import (
	"context"
	"sync"
)

type fakeTransfer struct {
	address string
	amount  int64
	tag     string
	tr      Transfer
}

// Fake is an in-memory Client for tests and local runs.
type Fake struct {
	mu        sync.RWMutex
	transfers []fakeTransfer
	err       error
	calls     map[string]int
}

var _ Client = (*Fake)(nil)

func NewFake() *Fake {
	return &Fake{calls: make(map[string]int)}
}

// SimulateTransfer makes a confirmed transfer visible to later queries.
func (f *Fake) SimulateTransfer(address string, amount int64, tag string, tr Transfer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transfers = append(f.transfers, fakeTransfer{address: address, amount: amount, tag: tag, tr: tr})
}

// FailWith makes every query return err until called again with nil.
func (f *Fake) FailWith(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// Calls reports how many times tag was queried.
func (f *Fake) Calls(tag string) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.calls[tag]
}

func (f *Fake) FindConfirmedTransfer(ctx context.Context, address string, amount int64, tag string) (*Transfer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[tag]++
	if f.err != nil {
		return nil, f.err
	}
	for _, t := range f.transfers {
		if t.address == address && t.tag == tag && t.amount == amount {
			tr := t.tr
			return &tr, nil
		}
	}
	return nil, nil
}
