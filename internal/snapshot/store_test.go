package snapshot

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"

	"github.com/trosyn/lansync/internal/common"
	"github.com/trosyn/lansync/internal/logging"
	"github.com/trosyn/lansync/internal/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := bolt.Open(filepath.Join(t.TempDir(), "snap.db"), 0o600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	s, err := NewStore(db, logging.Nop())
	require.NoError(t, err)
	return s
}

func doc(id string, version int64, payload string) *models.Item {
	return &models.Item{
		ID:         id,
		ItemType:   "document",
		Payload:    []byte(payload),
		Version:    version,
		UpdatedAt:  1000 + version,
		OriginNode: "node-a",
	}
}

func TestAppend_BuildsHashLinkedChain(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	r1, ok, err := s.Append(ctx, doc("d1", 1, "draft"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v1", r1.VersionLabel)
	require.Empty(t, r1.ParentVersionLabel)

	r2, ok, err := s.Append(ctx, doc("d1", 2, "edited"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v2", r2.VersionLabel)
	require.Equal(t, "v1", r2.ParentVersionLabel)

	item, rec, err := s.Head(ctx, "d1")
	require.NoError(t, err)
	require.Equal(t, "v2", rec.VersionLabel)
	require.Equal(t, []byte("edited"), item.Payload)

	hist, err := s.History(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, hist, 2)
	require.Equal(t, "v1", hist[0].VersionLabel)
	require.Equal(t, "v2", hist[1].VersionLabel)
}

func TestAppend_IdenticalContentIsNoOp(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, ok, err := s.Append(ctx, doc("d1", 1, "draft"))
	require.NoError(t, err)
	require.True(t, ok)

	// a retried transfer delivers the same bytes again
	rec, ok, err := s.Append(ctx, doc("d1", 1, "draft"))
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, "v1", rec.VersionLabel)

	hist, err := s.History(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, hist, 1)
}

func TestAppend_TombstoneIsARecord(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, _, err := s.Append(ctx, doc("d1", 1, "draft"))
	require.NoError(t, err)

	del := doc("d1", 2, "")
	del.Tombstone = true
	_, ok, err := s.Append(ctx, del)
	require.NoError(t, err)
	require.True(t, ok)

	item, _, err := s.Head(ctx, "d1")
	require.NoError(t, err)
	require.True(t, item.Tombstone)

	// deletion appends, it never shortens the chain
	hist, err := s.History(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, hist, 2)
}

func TestAppendResolved_LoserBeneathWinner(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, _, err := s.Append(ctx, doc("d1", 1, "draft"))
	require.NoError(t, err)

	loser := doc("d1", 2, "remote edit")
	loser.OriginNode = "node-b"
	winner := doc("d1", 3, "local edit")

	rec, err := s.AppendResolved(ctx, loser, winner)
	require.NoError(t, err)
	require.Equal(t, "v3", rec.VersionLabel)
	require.Equal(t, "v2", rec.ParentVersionLabel)

	item, _, err := s.Head(ctx, "d1")
	require.NoError(t, err)
	require.Equal(t, []byte("local edit"), item.Payload)

	// the loser is a reachable non-head record, linked under the winner
	kept, err := s.Get(ctx, "d1", "v2")
	require.NoError(t, err)
	require.Equal(t, []byte("remote edit"), kept.Payload)

	hist, err := s.History(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, hist, 3)
}

func TestAppendResolved_LoserAlreadyHeadAbsorbed(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	local := doc("d1", 1, "mine")
	_, _, err := s.Append(ctx, local)
	require.NoError(t, err)

	// resolution where the current head lost: it must not be re-recorded
	winner := doc("d1", 2, "theirs")
	winner.OriginNode = "node-b"
	rec, err := s.AppendResolved(ctx, local, winner)
	require.NoError(t, err)
	require.Equal(t, "v2", rec.VersionLabel)

	hist, err := s.History(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, hist, 2)
}

func TestAppendResolved_RejectsMismatchedIDs(t *testing.T) {
	s := openTestStore(t)

	_, err := s.AppendResolved(context.Background(), doc("d1", 1, "a"), doc("d2", 2, "b"))
	require.Error(t, err)
}

func TestHead_NotFound(t *testing.T) {
	s := openTestStore(t)

	_, _, err := s.Head(context.Background(), "missing")
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestGet_HistoricalVersionStaysReadable(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, _, err := s.Append(ctx, doc("d1", 1, "draft"))
	require.NoError(t, err)
	_, _, err = s.Append(ctx, doc("d1", 2, "edited"))
	require.NoError(t, err)

	old, err := s.Get(ctx, "d1", "v1")
	require.NoError(t, err)
	require.Equal(t, []byte("draft"), old.Payload)
}

func TestHead_CorruptContentQuarantined(t *testing.T) {
	ctx := context.Background()

	db, err := bolt.Open(filepath.Join(t.TempDir(), "snap.db"), 0o600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	s, err := NewStore(db, logging.Nop())
	require.NoError(t, err)

	_, _, err = s.Append(ctx, doc("d1", 1, "draft"))
	require.NoError(t, err)
	_, _, err = s.Append(ctx, doc("d2", 1, "fine"))
	require.NoError(t, err)

	// flip stored bytes behind the store's back
	err = db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte("snapshots")).Bucket([]byte("d1"))
		return b.Put([]byte("c:v1"), []byte(`{"id":"d1","item_type":"document","payload":"dGFtcGVyZWQ=","version":1,"updated_at":1001,"origin_node":"node-a"}`))
	})
	require.NoError(t, err)

	_, _, err = s.Head(ctx, "d1")
	require.ErrorIs(t, err, common.ErrIntegrity)

	// the corrupt item is withheld from the manifest, healthy ones remain
	m, err := s.Manifest(ctx)
	require.NoError(t, err)
	require.NotContains(t, m, "d1")
	require.Contains(t, m, "d2")
}

func TestManifest_SummarizesHeads(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, _, err := s.Append(ctx, doc("d1", 1, "draft"))
	require.NoError(t, err)
	_, _, err = s.Append(ctx, doc("d1", 2, "edited"))
	require.NoError(t, err)

	del := doc("d2", 3, "")
	del.Tombstone = true
	_, _, err = s.Append(ctx, del)
	require.NoError(t, err)

	m, err := s.Manifest(ctx)
	require.NoError(t, err)
	require.Len(t, m, 2)

	require.Equal(t, int64(2), m["d1"].Version)
	require.Equal(t, doc("d1", 2, "edited").ContentHash(), m["d1"].Hash)
	require.False(t, m["d1"].Tombstone)
	require.True(t, m["d2"].Tombstone)
}

func TestItems_SkipsUnknownIDs(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, _, err := s.Append(ctx, doc("d1", 1, "draft"))
	require.NoError(t, err)

	items, err := s.Items(ctx, []string{"d1", "missing"})
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "d1", items[0].ID)
}
