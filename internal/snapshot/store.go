// Package snapshot persists item state as append-only, hash-linked version
// chains in bbolt. Every accepted write appends a new version record that
// names its parent; nothing is ever rewritten in place, and deletions are
// tombstone records like any other version.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	bolt "go.etcd.io/bbolt"

	"github.com/trosyn/lansync/internal/common"
	"github.com/trosyn/lansync/internal/logging"
	"github.com/trosyn/lansync/internal/models"
)

var bucketSnapshots = []byte("snapshots")

// Per-item bucket layout:
//
//	head   -> current version label
//	r:v<N> -> version record JSON
//	c:v<N> -> full item JSON for that version
const (
	keyHead       = "head"
	prefixRecord  = "r:"
	prefixContent = "c:"
)

// Store is the append-only snapshot store. All writes go through bbolt
// transactions, which serialize them; readers see committed state only.
type Store struct {
	db     *bolt.DB
	logger logging.Logger
}

// NewStore opens the snapshot bucket.
func NewStore(db *bolt.DB, l logging.Logger) (*Store, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSnapshots)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("opening snapshot store: %w", err)
	}
	return &Store{db: db, logger: l.With("module", "snapshot")}, nil
}

// Append commits item as the new head of its chain, linking it to the
// previous head. Appending content identical to the current head is a
// no-op; the second return value reports whether a record was written.
func (s *Store) Append(ctx context.Context, item *models.Item) (*models.VersionRecord, bool, error) {
	if item.ID == "" {
		return nil, false, fmt.Errorf("append: empty item id")
	}

	var rec *models.VersionRecord
	appended := false

	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket(bucketSnapshots).CreateBucketIfNotExists([]byte(item.ID))
		if err != nil {
			return err
		}
		rec, appended, err = appendItem(b, item)
		return err
	})
	if err != nil {
		return nil, false, err
	}

	if appended {
		s.logger.Debug(ctx, "version appended", "item", item.ID, "version", rec.VersionLabel, "tombstone", item.Tombstone)
	}
	return rec, appended, nil
}

// AppendResolved commits a conflict outcome in one transaction: the loser
// goes into history first, the winner becomes head on top of it. A crash
// can never leave the loser as head with the winner missing; either both
// records land or neither does.
func (s *Store) AppendResolved(ctx context.Context, loser, winner *models.Item) (*models.VersionRecord, error) {
	if winner.ID == "" || loser.ID != winner.ID {
		return nil, fmt.Errorf("append resolved: mismatched item ids %q and %q", loser.ID, winner.ID)
	}

	var rec *models.VersionRecord

	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket(bucketSnapshots).CreateBucketIfNotExists([]byte(winner.ID))
		if err != nil {
			return err
		}
		if _, _, err := appendItem(b, loser); err != nil {
			return err
		}
		rec, _, err = appendItem(b, winner)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug(ctx, "resolution committed", "item", winner.ID, "version", rec.VersionLabel, "tombstone", winner.Tombstone)
	return rec, nil
}

// appendItem writes one version inside an open write transaction. Content
// identical to the current head is absorbed without a new record.
func appendItem(b *bolt.Bucket, item *models.Item) (*models.VersionRecord, bool, error) {
	hash := item.ContentHash()
	parent := string(b.Get([]byte(keyHead)))

	if parent != "" {
		prev := &models.VersionRecord{}
		if v := b.Get([]byte(prefixRecord + parent)); v != nil {
			if err := json.Unmarshal(v, prev); err != nil {
				return nil, false, fmt.Errorf("decoding head record for %s: %w", item.ID, err)
			}
			// same content arriving twice (retried push, re-sync) is
			// absorbed silently
			if prev.ContentHash == hash {
				return prev, false, nil
			}
		}
	}

	n := chainPosition(parent) + 1
	rec := &models.VersionRecord{
		ItemID:             item.ID,
		VersionLabel:       models.VersionLabelFor(n),
		ContentHash:        hash,
		AuthorNode:         item.OriginNode,
		Timestamp:          item.UpdatedAt,
		ParentVersionLabel: parent,
	}

	rv, err := json.Marshal(rec)
	if err != nil {
		return nil, false, err
	}
	cv, err := json.Marshal(item)
	if err != nil {
		return nil, false, err
	}

	if err := b.Put([]byte(prefixRecord+rec.VersionLabel), rv); err != nil {
		return nil, false, err
	}
	if err := b.Put([]byte(prefixContent+rec.VersionLabel), cv); err != nil {
		return nil, false, err
	}
	if err := b.Put([]byte(keyHead), []byte(rec.VersionLabel)); err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

// Head returns the current item state and its version record. The content
// is re-hashed on read; a mismatch against the record means the stored
// bytes were corrupted and returns common.ErrIntegrity.
func (s *Store) Head(ctx context.Context, id string) (*models.Item, *models.VersionRecord, error) {
	var item *models.Item
	var rec *models.VersionRecord

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSnapshots).Bucket([]byte(id))
		if b == nil {
			return common.ErrNotFound
		}
		label := string(b.Get([]byte(keyHead)))
		if label == "" {
			return common.ErrNotFound
		}

		var err error
		item, rec, err = readVersion(b, id, label)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return item, rec, nil
}

// Get returns the item content at a specific version label.
func (s *Store) Get(ctx context.Context, id, label string) (*models.Item, error) {
	var item *models.Item

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSnapshots).Bucket([]byte(id))
		if b == nil {
			return common.ErrNotFound
		}
		var err error
		item, _, err = readVersion(b, id, label)
		return err
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// History returns the item's version records from v1 to head.
func (s *Store) History(ctx context.Context, id string) ([]models.VersionRecord, error) {
	var out []models.VersionRecord

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSnapshots).Bucket([]byte(id))
		if b == nil {
			return common.ErrNotFound
		}

		head := string(b.Get([]byte(keyHead)))
		n := chainPosition(head)
		out = make([]models.VersionRecord, 0, n)
		for i := 1; i <= n; i++ {
			v := b.Get([]byte(prefixRecord + models.VersionLabelFor(i)))
			if v == nil {
				return fmt.Errorf("%w: %s missing record %s", common.ErrIntegrity, id, models.VersionLabelFor(i))
			}
			rec := models.VersionRecord{}
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("%w: %s record %s undecodable", common.ErrIntegrity, id, models.VersionLabelFor(i))
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Manifest summarizes the head of every chain. Items whose head fails the
// integrity check are quarantined: logged and left out of the manifest so
// corrupt state is never offered to peers.
func (s *Store) Manifest(ctx context.Context) (models.Manifest, error) {
	m := models.Manifest{}

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSnapshots).ForEachBucket(func(k []byte) error {
			id := string(k)
			b := tx.Bucket(bucketSnapshots).Bucket(k)

			label := string(b.Get([]byte(keyHead)))
			if label == "" {
				return nil
			}

			item, _, err := readVersion(b, id, label)
			if err != nil {
				s.logger.Warn(ctx, "quarantining corrupt item", "item", id, "version", label, "error", err.Error())
				return nil
			}

			m[id] = models.ManifestEntry{
				Version:   item.Version,
				Hash:      item.ContentHash(),
				Tombstone: item.Tombstone,
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Items returns the head content for each requested id. Unknown or corrupt
// ids are skipped rather than failing the batch.
func (s *Store) Items(ctx context.Context, ids []string) ([]models.Item, error) {
	out := make([]models.Item, 0, len(ids))
	for _, id := range ids {
		item, _, err := s.Head(ctx, id)
		if err != nil {
			s.logger.Warn(ctx, "skipping unreadable item", "item", id, "error", err.Error())
			continue
		}
		out = append(out, *item)
	}
	return out, nil
}

// readVersion loads and integrity-checks one version inside an open tx.
func readVersion(b *bolt.Bucket, id, label string) (*models.Item, *models.VersionRecord, error) {
	rv := b.Get([]byte(prefixRecord + label))
	cv := b.Get([]byte(prefixContent + label))
	if rv == nil || cv == nil {
		return nil, nil, common.ErrNotFound
	}

	rec := &models.VersionRecord{}
	if err := json.Unmarshal(rv, rec); err != nil {
		return nil, nil, fmt.Errorf("%w: %s record %s undecodable", common.ErrIntegrity, id, label)
	}
	item := &models.Item{}
	if err := json.Unmarshal(cv, item); err != nil {
		return nil, nil, fmt.Errorf("%w: %s content %s undecodable", common.ErrIntegrity, id, label)
	}

	if item.ContentHash() != rec.ContentHash {
		return nil, nil, fmt.Errorf("%w: %s at %s", common.ErrIntegrity, id, label)
	}
	return item, rec, nil
}

// chainPosition parses "v<N>" into N; an empty label is position 0.
func chainPosition(label string) int {
	if label == "" {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimPrefix(label, "v"))
	if err != nil {
		return 0
	}
	return n
}
