// Package watch holds the client-side pieces that follow a ledger from the
// outside: a periodic balance poller and a single-flight transfer tracker.
package watch

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"example.com/tokenledger/pkg/wallet"
)

// DefaultInterval is the refresh period of a Poller.
const DefaultInterval = time.Second

// BalanceSource answers read-only balance queries; *client.Client
// satisfies it.
type BalanceSource interface {
	BalanceOf(ctx context.Context, addr wallet.Address) (uint64, error)
}

// Update is delivered after every successful poll.
type Update struct {
	Address wallet.Address
	Balance uint64
	At      time.Time
}

// Poller refreshes the balance of one address at a fixed interval. Results
// are eventually consistent with the ledger and carry no ordering
// guarantee relative to transfers in flight.
type Poller struct {
	src      BalanceSource
	addr     wallet.Address
	interval time.Duration
	onUpdate func(Update)
	log      *zap.Logger

	mu     sync.Mutex
	latest *Update
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPoller returns a stopped poller. onUpdate may be nil.
func NewPoller(src BalanceSource, addr wallet.Address, interval time.Duration, onUpdate func(Update), log *zap.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Poller{src: src, addr: addr, interval: interval, onUpdate: onUpdate, log: log}
}

// Start launches the polling loop. It polls immediately, then once per
// interval, until Stop is called or ctx is done. Starting a running poller
// is a no-op.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.run(ctx, p.done)
}

// Stop cancels the loop and waits for it to exit.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Latest returns the most recent result, if any poll has succeeded.
func (p *Poller) Latest() (Update, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.latest == nil {
		return Update{}, false
	}
	return *p.latest, true
}

func (p *Poller) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		p.poll(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	bal, err := p.src.BalanceOf(ctx, p.addr)
	if err != nil {
		if ctx.Err() == nil {
			p.log.Warn("balance poll failed", zap.Stringer("address", p.addr), zap.Error(err))
		}
		return
	}

	u := Update{Address: p.addr, Balance: bal, At: time.Now()}
	p.mu.Lock()
	p.latest = &u
	p.mu.Unlock()

	if p.onUpdate != nil {
		p.onUpdate(u)
	}
}
