// Package tokens implements a fixed-supply token ledger.
//
// A Ledger owns the mapping from account to balance. The creator is credited
// with the whole supply at construction and transfers only ever move value
// between accounts, so the sum of all balances always equals TotalSupply.
// Every successful transfer appends one Transfer record to an append-only
// log that observers can read or subscribe to.
package tokens

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"example.com/tokenledger/pkg/wallet"
)

const (
	DefaultName        = "My Hardhat Token"
	DefaultSymbol      = "MHT"
	DefaultDecimals    = 0
	DefaultTotalSupply = uint64(1000000)
)

// Errors
var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidRecipient    = errors.New("invalid recipient")
)

// Transfer is the notification record of one committed transfer.
type Transfer struct {
	Seq    uint64         `json:"seq"`
	From   wallet.Address `json:"from"`
	To     wallet.Address `json:"to"`
	Amount uint64         `json:"amount"`
}

// Metadata is fixed at construction.
type Metadata struct {
	Name        string         `json:"name"`
	Symbol      string         `json:"symbol"`
	Decimals    int            `json:"decimals"`
	TotalSupply uint64         `json:"total_supply"`
	Owner       wallet.Address `json:"owner"`
}

// Option customises a ledger before the supply is credited.
type Option func(*Metadata)

// WithName sets the display name.
func WithName(name string) Option {
	return func(m *Metadata) { m.Name = name }
}

// WithSymbol sets the ticker symbol.
func WithSymbol(symbol string) Option {
	return func(m *Metadata) { m.Symbol = symbol }
}

// WithTotalSupply sets the fixed supply credited to the creator.
func WithTotalSupply(supply uint64) Option {
	return func(m *Metadata) { m.TotalSupply = supply }
}

// Ledger is safe for concurrent use. Transfers are serialized by a single
// mutex so each one is applied completely before any other operation
// observes the balances.
type Ledger struct {
	meta Metadata

	mu       sync.RWMutex
	balances map[wallet.Address]uint64
	log      []Transfer
	// closed and replaced on every append to wake subscribers
	notify chan struct{}
}

// NewLedger creates a ledger and credits the entire supply to creator.
func NewLedger(creator wallet.Address, opts ...Option) *Ledger {
	meta := Metadata{
		Name:        DefaultName,
		Symbol:      DefaultSymbol,
		Decimals:    DefaultDecimals,
		TotalSupply: DefaultTotalSupply,
		Owner:       creator,
	}
	for _, opt := range opts {
		opt(&meta)
	}

	return &Ledger{
		meta:     meta,
		balances: map[wallet.Address]uint64{creator: meta.TotalSupply},
		notify:   make(chan struct{}),
	}
}

// Transfer moves amount from caller to to. Sufficiency of the caller's
// balance is checked before the recipient, so a request violating both
// fails with ErrInsufficientBalance. A failed transfer changes nothing.
func (l *Ledger) Transfer(caller, to wallet.Address, amount uint64) (Transfer, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if have := l.balances[caller]; have < amount {
		return Transfer{}, fmt.Errorf("%w: %s has %d, needs %d", ErrInsufficientBalance, caller, have, amount)
	}
	if to.IsZero() {
		return Transfer{}, ErrInvalidRecipient
	}

	l.balances[caller] -= amount
	l.balances[to] += amount

	rec := Transfer{
		Seq:    uint64(len(l.log)) + 1,
		From:   caller,
		To:     to,
		Amount: amount,
	}
	l.log = append(l.log, rec)

	close(l.notify)
	l.notify = make(chan struct{})

	return rec, nil
}

// BalanceOf returns the balance of account, zero if it was never credited.
func (l *Ledger) BalanceOf(account wallet.Address) uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balances[account]
}

// TotalSupply never changes after construction.
func (l *Ledger) TotalSupply() uint64 { return l.meta.TotalSupply }

func (l *Ledger) Name() string { return l.meta.Name }

func (l *Ledger) Symbol() string { return l.meta.Symbol }

func (l *Ledger) Decimals() int { return l.meta.Decimals }

// Owner is informational; it grants no extra rights.
func (l *Ledger) Owner() wallet.Address { return l.meta.Owner }

func (l *Ledger) Metadata() Metadata { return l.meta }

// Len returns the number of committed transfers.
func (l *Ledger) Len() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return uint64(len(l.log))
}

// Transfers returns a copy of the records with Seq greater than since.
func (l *Ledger) Transfers(since uint64) []Transfer {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.transfersLocked(since)
}

func (l *Ledger) transfersLocked(since uint64) []Transfer {
	if since >= uint64(len(l.log)) {
		return nil
	}
	out := make([]Transfer, len(l.log)-int(since))
	copy(out, l.log[since:])
	return out
}

// Holders returns a snapshot of every account with a non-zero balance.
func (l *Ledger) Holders() map[wallet.Address]uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[wallet.Address]uint64, len(l.balances))
	for addr, bal := range l.balances {
		if bal > 0 {
			out[addr] = bal
		}
	}
	return out
}

// Subscribe streams every record with Seq greater than since, in commit
// order and without gaps. The channel is closed once ctx is done.
func (l *Ledger) Subscribe(ctx context.Context, since uint64) <-chan Transfer {
	out := make(chan Transfer)

	go func() {
		defer close(out)
		cursor := since
		for {
			l.mu.RLock()
			batch := l.transfersLocked(cursor)
			wake := l.notify
			l.mu.RUnlock()

			for _, rec := range batch {
				select {
				case out <- rec:
					cursor = rec.Seq
				case <-ctx.Done():
					return
				}
			}
			if len(batch) > 0 {
				continue
			}

			select {
			case <-wake:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}
