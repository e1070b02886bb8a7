package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"example.com/tokenledger/pkg/tokens"
	"example.com/tokenledger/pkg/wallet"
)

func addr(b byte) wallet.Address {
	var a wallet.Address
	a[0] = b
	return a
}

func openTemp(t *testing.T) (*Journal, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(path, zaptest.NewLogger(t))
	require.NoError(t, err)
	return j, path
}

func TestAppendAndRead(t *testing.T) {
	j, _ := openTemp(t)
	defer j.Close()

	recs := []tokens.Transfer{
		{Seq: 1, From: addr(1), To: addr(2), Amount: 10},
		{Seq: 2, From: addr(2), To: addr(3), Amount: 5},
	}
	for _, rec := range recs {
		require.NoError(t, j.Append(rec))
	}

	got, err := j.Transfers()
	require.NoError(t, err)
	assert.Equal(t, recs, got)

	last, err := j.Last()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), last)
}

func TestAppendOutOfOrder(t *testing.T) {
	j, _ := openTemp(t)
	defer j.Close()

	err := j.Append(tokens.Transfer{Seq: 2, From: addr(1), To: addr(2), Amount: 1})
	require.ErrorIs(t, err, ErrOutOfOrder)

	require.NoError(t, j.Append(tokens.Transfer{Seq: 1, From: addr(1), To: addr(2), Amount: 1}))
	err = j.Append(tokens.Transfer{Seq: 1, From: addr(1), To: addr(2), Amount: 1})
	require.ErrorIs(t, err, ErrOutOfOrder)
}

func TestMetadata(t *testing.T) {
	j, _ := openTemp(t)
	defer j.Close()

	_, found, err := j.Creator()
	require.NoError(t, err)
	require.False(t, found)

	meta := tokens.NewLedger(addr(1)).Metadata()
	require.NoError(t, j.SetMetadata(meta))
	require.NoError(t, j.SetMetadata(meta))

	got, found, err := j.Creator()
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, addr(1), got)

	require.ErrorIs(t, j.SetMetadata(tokens.NewLedger(addr(2)).Metadata()), ErrCreatorMismatch)

	inflated := tokens.NewLedger(addr(1), tokens.WithTotalSupply(5000000)).Metadata()
	require.ErrorIs(t, j.SetMetadata(inflated), ErrMetadataMismatch)

	renamed := tokens.NewLedger(addr(1), tokens.WithSymbol("XYZ")).Metadata()
	require.ErrorIs(t, j.SetMetadata(renamed), ErrMetadataMismatch)
}

func TestNonces(t *testing.T) {
	j, path := openTemp(t)

	_, found, err := j.LastNonce(addr(1))
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, j.SetNonce(addr(1), 42))
	require.NoError(t, j.Close())

	j, err = Open(path, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer j.Close()

	nonce, found, err := j.LastNonce(addr(1))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint64(42), nonce)

	_, found, err = j.LastNonce(addr(2))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRunAndReplay(t *testing.T) {
	j, path := openTemp(t)
	creator := addr(1)
	l := tokens.NewLedger(creator)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- j.Run(ctx, l) }()

	_, err := l.Transfer(creator, addr(2), 100)
	require.NoError(t, err)
	_, err = l.Transfer(addr(2), addr(3), 40)
	require.NoError(t, err)
	_, err = l.Transfer(creator, wallet.ZeroAddress, 1)
	require.Error(t, err)

	require.Eventually(t, func() bool {
		last, err := j.Last()
		return err == nil && last == 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	require.NoError(t, j.Close())

	// Rebuild from disk.
	j, err = Open(path, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer j.Close()

	rebuilt := tokens.NewLedger(creator)
	require.NoError(t, j.Replay(rebuilt))

	assert.Equal(t, l.Holders(), rebuilt.Holders())
	assert.Equal(t, l.Transfers(0), rebuilt.Transfers(0))
}

func TestRunFlushesOnCancel(t *testing.T) {
	const n = 50

	j, path := openTemp(t)
	creator := addr(1)
	l := tokens.NewLedger(creator)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- j.Run(ctx, l) }()

	for i := 0; i < n; i++ {
		_, err := l.Transfer(creator, addr(2), 1)
		require.NoError(t, err)
	}
	// Stop right away; records still queued in the subscription must be
	// written before Run returns.
	cancel()
	require.NoError(t, <-done)
	require.NoError(t, j.Close())

	j, err := Open(path, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer j.Close()

	rebuilt := tokens.NewLedger(creator)
	require.NoError(t, j.Replay(rebuilt))
	assert.Equal(t, uint64(n), rebuilt.Len())
	assert.Equal(t, uint64(n), rebuilt.BalanceOf(addr(2)))
}

func TestFlush(t *testing.T) {
	j, _ := openTemp(t)
	defer j.Close()

	creator := addr(1)
	l := tokens.NewLedger(creator)
	for i := 0; i < 3; i++ {
		_, err := l.Transfer(creator, addr(2), 5)
		require.NoError(t, err)
	}
	require.NoError(t, j.Append(l.Transfers(0)[0]))

	require.NoError(t, j.Flush(l))
	require.NoError(t, j.Flush(l))

	got, err := j.Transfers()
	require.NoError(t, err)
	assert.Equal(t, l.Transfers(0), got)
}

func TestReplayRejectsForeignLedger(t *testing.T) {
	j, _ := openTemp(t)
	defer j.Close()

	require.NoError(t, j.Append(tokens.Transfer{Seq: 1, From: addr(1), To: addr(2), Amount: 5}))

	// A ledger created for someone else cannot fund the recorded transfer.
	err := j.Replay(tokens.NewLedger(addr(9)))
	require.ErrorIs(t, err, tokens.ErrInsufficientBalance)
}
