// Package models holds the data types shared between the snapshot store,
// the reconciler, and the wire protocol.
package models

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"time"
)

// Role of a node on the network.
type Role string

const (
	RoleHub  Role = "HUB"
	RolePeer Role = "PEER"
)

// Item is the unit of replication: an opaque payload plus the ordering
// metadata the engine needs to reconcile concurrent edits.
//
// Version strictly increases with every mutation on the originating node.
// Two items with the same ID are comparable only by the
// (Version, UpdatedAt, OriginNode) tuple; OriginNode is the final
// tie-break so the order is total even under clock equality.
type Item struct {
	ID         string `json:"id"`
	ItemType   string `json:"item_type"`
	Payload    []byte `json:"payload"`
	Version    int64  `json:"version"`
	UpdatedAt  int64  `json:"updated_at"` // microseconds since the Unix epoch
	OriginNode string `json:"origin_node"`
	Tombstone  bool   `json:"tombstone"`
}

// Compare orders two versions of the same item lexicographically by
// (Version, UpdatedAt, OriginNode). Returns -1, 0 or 1.
func Compare(a, b *Item) int {
	if a.Version != b.Version {
		if a.Version < b.Version {
			return -1
		}
		return 1
	}
	if a.UpdatedAt != b.UpdatedAt {
		if a.UpdatedAt < b.UpdatedAt {
			return -1
		}
		return 1
	}
	switch {
	case a.OriginNode < b.OriginNode:
		return -1
	case a.OriginNode > b.OriginNode:
		return 1
	}
	return 0
}

// ContentHash digests the item's replicated state: payload plus the
// metadata that participates in ordering. Two items with equal hashes are
// interchangeable for reconciliation purposes.
func (i *Item) ContentHash() string {
	h := sha256.New()
	h.Write([]byte(i.ID))
	h.Write([]byte{0})
	h.Write([]byte(i.ItemType))
	h.Write([]byte{0})
	h.Write(i.Payload)

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(i.Version))
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], uint64(i.UpdatedAt))
	h.Write(buf[:])

	h.Write([]byte(i.OriginNode))
	if i.Tombstone {
		h.Write([]byte{1})
	} else {
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Micros converts a time to the microsecond timestamps items carry.
func Micros(t time.Time) int64 {
	return t.UnixMicro()
}
