package watch

import (
	"context"
	"errors"
	"sync"

	"example.com/tokenledger/pkg/tokens"
)

var (
	// ErrTransferPending is returned by Submit while another transfer is
	// still awaiting confirmation.
	ErrTransferPending = errors.New("a transfer is already pending")
	// ErrUserRejected signals that the account holder declined to
	// authorize a transfer. Tracker treats it as a silent cancellation.
	ErrUserRejected = errors.New("rejected by user")
)

// SubmitFunc performs one transfer and blocks until it is confirmed or fails.
type SubmitFunc func(ctx context.Context) (tokens.Transfer, error)

// Tracker allows at most one transfer in flight.
type Tracker struct {
	mu      sync.Mutex
	pending bool
}

// Pending reports whether a transfer is awaiting confirmation.
func (t *Tracker) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending
}

// Submit runs fn unless a transfer is already pending. The pending state is
// cleared when fn returns. A user rejection yields a zero record and a nil
// error; committed is false in that case.
func (t *Tracker) Submit(ctx context.Context, fn SubmitFunc) (rec tokens.Transfer, committed bool, err error) {
	t.mu.Lock()
	if t.pending {
		t.mu.Unlock()
		return tokens.Transfer{}, false, ErrTransferPending
	}
	t.pending = true
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		t.pending = false
		t.mu.Unlock()
	}()

	rec, err = fn(ctx)
	switch {
	case errors.Is(err, ErrUserRejected):
		return tokens.Transfer{}, false, nil
	case err != nil:
		return tokens.Transfer{}, false, err
	}
	return rec, true, nil
}
