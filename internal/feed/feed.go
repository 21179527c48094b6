// Package feed connects the sync engine to the application's own storage.
//
// Local edits flow in through a cursor-based change feed and land in the
// snapshot store; reconciled winners flow back out through an idempotent
// applier. Both directions survive restarts: the feed cursor and the
// applied-hash ledger are persisted in bbolt.
package feed

import (
	"context"
	"encoding/binary"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/trosyn/lansync/internal/logging"
	"github.com/trosyn/lansync/internal/models"
	"github.com/trosyn/lansync/internal/snapshot"
)

var (
	bucketCheckpoints = []byte("feed_checkpoints")
	bucketApplied     = []byte("feed_applied")
)

// Source is implemented by the application storage layer. ChangesSince
// returns locally mutated items after the cursor, oldest first, together
// with the cursor covering everything returned.
type Source interface {
	ChangesSince(ctx context.Context, cursor uint64) ([]models.Item, uint64, error)
}

// Sink receives reconciled state for the application to display and edit.
type Sink interface {
	ApplyItem(ctx context.Context, item *models.Item) error
}

// Feed pumps local mutations into the snapshot store, resuming from a
// persisted checkpoint after restarts.
type Feed struct {
	db     *bolt.DB
	src    Source
	store  *snapshot.Store
	name   string
	logger logging.Logger
}

// NewFeed opens the checkpoint bucket. name keys this feed's cursor, so
// multiple feeds can share a database.
func NewFeed(db *bolt.DB, src Source, store *snapshot.Store, name string, l logging.Logger) (*Feed, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketCheckpoints); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketApplied)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("opening feed buckets: %w", err)
	}
	return &Feed{db: db, src: src, store: store, name: name, logger: l.With("module", "feed")}, nil
}

// Cursor returns the persisted checkpoint, zero when the feed has never run.
func (f *Feed) Cursor() (uint64, error) {
	var cur uint64
	err := f.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketCheckpoints).Get([]byte(f.name)); len(v) == 8 {
			cur = binary.BigEndian.Uint64(v)
		}
		return nil
	})
	return cur, err
}

// Pump drains pending local changes into the snapshot store and advances
// the checkpoint. The checkpoint moves only after every returned change is
// committed, so a crash mid-batch replays the batch; Append absorbs the
// duplicates.
func (f *Feed) Pump(ctx context.Context) (int, error) {
	cur, err := f.Cursor()
	if err != nil {
		return 0, err
	}

	items, next, err := f.src.ChangesSince(ctx, cur)
	if err != nil {
		return 0, fmt.Errorf("reading local changes: %w", err)
	}
	if len(items) == 0 {
		return 0, nil
	}

	appended := 0
	for i := range items {
		_, ok, err := f.store.Append(ctx, &items[i])
		if err != nil {
			return appended, fmt.Errorf("appending local change %s: %w", items[i].ID, err)
		}
		if ok {
			appended++
		}
	}

	err = f.db.Update(func(tx *bolt.Tx) error {
		var v [8]byte
		binary.BigEndian.PutUint64(v[:], next)
		return tx.Bucket(bucketCheckpoints).Put([]byte(f.name), v[:])
	})
	if err != nil {
		return appended, fmt.Errorf("advancing feed checkpoint: %w", err)
	}

	f.logger.Debug(ctx, "local changes pumped", "count", appended, "cursor", next)
	return appended, nil
}

// Applier pushes reconciled items back into the application storage. Each
// item's content hash is remembered; re-applying the same state is a no-op,
// so a retried sync cycle cannot double-apply.
type Applier struct {
	db     *bolt.DB
	sink   Sink
	logger logging.Logger
}

// NewApplier wraps sink with the idempotence ledger stored in db. The
// ledger bucket is shared with NewFeed; construct at least one Feed first
// or call NewApplier on a database where the buckets already exist.
func NewApplier(db *bolt.DB, sink Sink, l logging.Logger) (*Applier, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketApplied)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("opening applied ledger: %w", err)
	}
	return &Applier{db: db, sink: sink, logger: l.With("module", "feed")}, nil
}

// Apply hands item to the sink unless this exact content was already
// applied. Returns whether the sink was invoked.
func (a *Applier) Apply(ctx context.Context, item *models.Item) (bool, error) {
	hash := item.ContentHash()

	already := false
	err := a.db.View(func(tx *bolt.Tx) error {
		already = string(tx.Bucket(bucketApplied).Get([]byte(item.ID))) == hash
		return nil
	})
	if err != nil {
		return false, err
	}
	if already {
		return false, nil
	}

	if err := a.sink.ApplyItem(ctx, item); err != nil {
		return false, fmt.Errorf("applying %s to local storage: %w", item.ID, err)
	}

	// recorded after the sink succeeds: a failed apply stays retryable
	err = a.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketApplied).Put([]byte(item.ID), []byte(hash))
	})
	if err != nil {
		return true, err
	}
	return true, nil
}
