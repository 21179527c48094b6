package models

// ManifestEntry summarizes the head state of one item.
type ManifestEntry struct {
	Version   int64  `json:"version"`
	Hash      string `json:"hash"`
	Tombstone bool   `json:"tombstone"`
}

// Manifest is a node's declared state at a point in time: item id to head
// summary. It is recomputed from the snapshot store per sync cycle and
// never persisted independently.
type Manifest map[string]ManifestEntry
