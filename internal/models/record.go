package models

import "fmt"

// VersionRecord is one link in an item's append-only, hash-linked history.
// Records are immutable once written; tombstones are themselves appended
// records, never removals.
type VersionRecord struct {
	ItemID             string `json:"item_id"`
	VersionLabel       string `json:"version_label"` // "v<N>"
	ContentHash        string `json:"content_hash"`
	AuthorNode         string `json:"author_node"`
	Timestamp          int64  `json:"timestamp"` // microseconds since the Unix epoch
	ParentVersionLabel string `json:"parent_version_label,omitempty"`
}

// VersionLabelFor renders the chain position N as a version label.
func VersionLabelFor(n int) string {
	return fmt.Sprintf("v%d", n)
}
