package feed

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"

	"github.com/trosyn/lansync/internal/logging"
	"github.com/trosyn/lansync/internal/models"
	"github.com/trosyn/lansync/internal/snapshot"
)

type fakeSource struct {
	changes []models.Item // cursor is the index into this slice
}

func (f *fakeSource) ChangesSince(_ context.Context, cursor uint64) ([]models.Item, uint64, error) {
	if cursor >= uint64(len(f.changes)) {
		return nil, cursor, nil
	}
	out := append([]models.Item(nil), f.changes[cursor:]...)
	return out, uint64(len(f.changes)), nil
}

type fakeSink struct {
	applied []models.Item
	fail    error
}

func (f *fakeSink) ApplyItem(_ context.Context, item *models.Item) error {
	if f.fail != nil {
		return f.fail
	}
	f.applied = append(f.applied, *item)
	return nil
}

func testLogger() logging.Logger {
	return logging.Nop()
}

func openFixtures(t *testing.T, src Source) (*bolt.DB, *snapshot.Store, *Feed) {
	t.Helper()
	db, err := bolt.Open(filepath.Join(t.TempDir(), "feed.db"), 0o600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store, err := snapshot.NewStore(db, testLogger())
	require.NoError(t, err)

	f, err := NewFeed(db, src, store, "local", testLogger())
	require.NoError(t, err)
	return db, store, f
}

func change(id string, version int64, payload string) models.Item {
	return models.Item{
		ID:         id,
		ItemType:   "document",
		Payload:    []byte(payload),
		Version:    version,
		UpdatedAt:  1000 + version,
		OriginNode: "node-a",
	}
}

func TestPump_AppendsAndAdvancesCheckpoint(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{changes: []models.Item{change("d1", 1, "draft"), change("d2", 1, "notes")}}
	_, store, f := openFixtures(t, src)

	n, err := f.Pump(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	cur, err := f.Cursor()
	require.NoError(t, err)
	require.Equal(t, uint64(2), cur)

	item, _, err := store.Head(ctx, "d1")
	require.NoError(t, err)
	require.Equal(t, []byte("draft"), item.Payload)

	// nothing new: the pump is quiescent
	n, err = f.Pump(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestPump_ResumesFromPersistedCursor(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{changes: []models.Item{change("d1", 1, "draft")}}
	db, store, f := openFixtures(t, src)

	_, err := f.Pump(ctx)
	require.NoError(t, err)

	src.changes = append(src.changes, change("d2", 1, "later"))

	// a fresh feed over the same database picks up where the old one left off
	f2, err := NewFeed(db, src, store, "local", testLogger())
	require.NoError(t, err)

	n, err := f2.Pump(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, _, err = store.Head(ctx, "d2")
	require.NoError(t, err)
}

func TestPump_ReplayedBatchIsAbsorbed(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{changes: []models.Item{change("d1", 1, "draft")}}
	db, store, f := openFixtures(t, src)

	_, err := f.Pump(ctx)
	require.NoError(t, err)

	// simulate a crash before the checkpoint moved: reset it to zero
	err = db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte("feed_checkpoints")).Delete([]byte("local"))
	})
	require.NoError(t, err)

	n, err := f.Pump(ctx)
	require.NoError(t, err)
	require.Zero(t, n, "replayed changes must not append duplicate versions")

	hist, err := store.History(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, hist, 1)
}

func TestApply_IdempotentPerContentHash(t *testing.T) {
	ctx := context.Background()
	db, _, _ := openFixtures(t, &fakeSource{})

	sink := &fakeSink{}
	a, err := NewApplier(db, sink, testLogger())
	require.NoError(t, err)

	item := change("d1", 2, "reconciled")

	applied, err := a.Apply(ctx, &item)
	require.NoError(t, err)
	require.True(t, applied)

	applied, err = a.Apply(ctx, &item)
	require.NoError(t, err)
	require.False(t, applied, "same content twice is a no-op")
	require.Len(t, sink.applied, 1)

	// new content for the same id goes through
	newer := change("d1", 3, "reconciled again")
	applied, err = a.Apply(ctx, &newer)
	require.NoError(t, err)
	require.True(t, applied)
	require.Len(t, sink.applied, 2)
}

func TestApply_FailedSinkStaysRetryable(t *testing.T) {
	ctx := context.Background()
	db, _, _ := openFixtures(t, &fakeSource{})

	sink := &fakeSink{fail: errors.New("disk full")}
	a, err := NewApplier(db, sink, testLogger())
	require.NoError(t, err)

	item := change("d1", 2, "reconciled")
	_, err = a.Apply(ctx, &item)
	require.Error(t, err)

	// once the sink recovers, the same item applies
	sink.fail = nil
	applied, err := a.Apply(ctx, &item)
	require.NoError(t, err)
	require.True(t, applied)
}
