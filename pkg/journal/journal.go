// Package journal persists the transfer log of a ledger in a BoltDB file so
// a host process can rebuild the in-memory balances after a restart.
package journal

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"time"

	"github.com/boltdb/bolt"
	pkgerrors "github.com/pkg/errors"
	"go.uber.org/zap"

	"example.com/tokenledger/pkg/tokens"
	"example.com/tokenledger/pkg/wallet"
)

const (
	transfersBucket = "transfers"
	metaBucket      = "meta"
	noncesBucket    = "nonces"
	creatorKey      = "creator"
	metadataKey     = "metadata"
)

// Errors
var (
	ErrOutOfOrder       = errors.New("transfer out of order")
	ErrCreatorMismatch  = errors.New("journal belongs to another creator")
	ErrMetadataMismatch = errors.New("journal was written for different token metadata")
)

// Journal is an append-only store of tokens.Transfer records.
type Journal struct {
	db  *bolt.DB
	log *zap.Logger
}

// Open opens or creates the journal file at path.
func Open(path string, log *zap.Logger) (*Journal, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "open journal %s", path)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{transfersBucket, metaBucket, noncesBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, pkgerrors.Wrap(err, "init journal buckets")
	}

	if log == nil {
		log = zap.NewNop()
	}
	return &Journal{db: db, log: log}, nil
}

// Close safely closes the journal database
func (j *Journal) Close() error {
	return j.db.Close()
}

// Creator returns the creator recorded in the journal, if any.
func (j *Journal) Creator() (wallet.Address, bool, error) {
	var (
		addr  wallet.Address
		found bool
	)
	err := j.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(metaBucket)).Get([]byte(creatorKey))
		if v == nil {
			return nil
		}
		if len(v) != wallet.AddressLen {
			return pkgerrors.Errorf("corrupt creator record of %d bytes", len(v))
		}
		copy(addr[:], v)
		found = true
		return nil
	})
	return addr, found, err
}

// SetMetadata records the ledger's metadata on first use and verifies it
// afterwards, so a journal can only be replayed into the ledger it was
// written for. A different owner fails with ErrCreatorMismatch, any other
// difference with ErrMetadataMismatch.
func (j *Journal) SetMetadata(meta tokens.Metadata) error {
	return j.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(metaBucket))
		creator := meta.Owner

		if v := b.Get([]byte(creatorKey)); v != nil && !bytes.Equal(v, creator[:]) {
			return ErrCreatorMismatch
		}
		if v := b.Get([]byte(metadataKey)); v != nil {
			var stored tokens.Metadata
			if err := gob.NewDecoder(bytes.NewReader(v)).Decode(&stored); err != nil {
				return pkgerrors.Wrap(err, "decode metadata")
			}
			if stored != meta {
				return pkgerrors.Wrapf(ErrMetadataMismatch, "have %s %q supply %d, got %s %q supply %d",
					stored.Symbol, stored.Name, stored.TotalSupply, meta.Symbol, meta.Name, meta.TotalSupply)
			}
			return nil
		}

		var buf bytes.Buffer
		if err := gob.NewEncoder(&buf).Encode(meta); err != nil {
			return err
		}
		if err := b.Put([]byte(creatorKey), creator[:]); err != nil {
			return err
		}
		return b.Put([]byte(metadataKey), buf.Bytes())
	})
}

// LastNonce returns the newest nonce stored for account.
func (j *Journal) LastNonce(account wallet.Address) (uint64, bool, error) {
	var (
		nonce uint64
		found bool
	)
	err := j.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(noncesBucket)).Get(account[:])
		if v == nil {
			return nil
		}
		if len(v) != 8 {
			return pkgerrors.Errorf("corrupt nonce record of %d bytes", len(v))
		}
		nonce, found = binary.BigEndian.Uint64(v), true
		return nil
	})
	return nonce, found, err
}

// SetNonce stores nonce as the newest one used by account.
func (j *Journal) SetNonce(account wallet.Address, nonce uint64) error {
	return j.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(noncesBucket)).Put(account[:], seqKey(nonce))
	})
}

// Append stores rec. Records must arrive with contiguous sequence numbers.
func (j *Journal) Append(rec tokens.Transfer) error {
	return j.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(transfersBucket))

		var last uint64
		if k, _ := b.Cursor().Last(); k != nil {
			last = binary.BigEndian.Uint64(k)
		}
		if rec.Seq != last+1 {
			return pkgerrors.Wrapf(ErrOutOfOrder, "have %d, got %d", last, rec.Seq)
		}

		var buf bytes.Buffer
		if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
			return err
		}
		return b.Put(seqKey(rec.Seq), buf.Bytes())
	})
}

// Transfers returns every stored record in sequence order.
func (j *Journal) Transfers() ([]tokens.Transfer, error) {
	var out []tokens.Transfer
	err := j.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(transfersBucket)).ForEach(func(k, v []byte) error {
			var rec tokens.Transfer
			if err := gob.NewDecoder(bytes.NewReader(v)).Decode(&rec); err != nil {
				return pkgerrors.Wrapf(err, "decode transfer %d", binary.BigEndian.Uint64(k))
			}
			out = append(out, rec)
			return nil
		})
	})
	return out, err
}

// Replay re-applies the journaled transfers to l, which must be freshly
// constructed for the journal's creator.
func (j *Journal) Replay(l *tokens.Ledger) error {
	recs, err := j.Transfers()
	if err != nil {
		return err
	}
	for _, rec := range recs {
		applied, err := l.Transfer(rec.From, rec.To, rec.Amount)
		if err != nil {
			return pkgerrors.Wrapf(err, "replay transfer %d", rec.Seq)
		}
		if applied.Seq != rec.Seq {
			return pkgerrors.Wrapf(ErrOutOfOrder, "replayed %d as %d", rec.Seq, applied.Seq)
		}
	}
	j.log.Info("journal replayed", zap.Int("transfers", len(recs)))
	return nil
}

// Last returns the sequence number of the newest stored record, zero when
// the journal is empty.
func (j *Journal) Last() (uint64, error) {
	var last uint64
	err := j.db.View(func(tx *bolt.Tx) error {
		if k, _ := tx.Bucket([]byte(transfersBucket)).Cursor().Last(); k != nil {
			last = binary.BigEndian.Uint64(k)
		}
		return nil
	})
	return last, err
}

// Run appends every transfer committed to l that the journal does not hold
// yet. Once ctx is done it flushes whatever the subscription had not
// delivered and returns, so it must only be cancelled after the last writer
// of l has stopped.
func (j *Journal) Run(ctx context.Context, l *tokens.Ledger) error {
	last, err := j.Last()
	if err != nil {
		return err
	}
	for rec := range l.Subscribe(ctx, last) {
		if err := j.append(rec); err != nil {
			return err
		}
	}
	return j.Flush(l)
}

// Flush appends the transfers of l newer than the last stored record.
func (j *Journal) Flush(l *tokens.Ledger) error {
	last, err := j.Last()
	if err != nil {
		return err
	}
	recs := l.Transfers(last)
	for _, rec := range recs {
		if err := j.append(rec); err != nil {
			return err
		}
	}
	if len(recs) > 0 {
		j.log.Info("journal flushed", zap.Int("transfers", len(recs)))
	}
	return nil
}

func (j *Journal) append(rec tokens.Transfer) error {
	if err := j.Append(rec); err != nil {
		j.log.Error("journal append failed", zap.Uint64("seq", rec.Seq), zap.Error(err))
		return err
	}
	j.log.Debug("transfer journaled",
		zap.Uint64("seq", rec.Seq),
		zap.Stringer("from", rec.From),
		zap.Stringer("to", rec.To),
		zap.Uint64("amount", rec.Amount))
	return nil
}

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}
