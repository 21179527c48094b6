package models

// Payload types carried inside encrypted session frames. These are the only
// shapes that cross the wire after authentication; everything else is
// session-layer framing.

// ManifestPayload carries one side's full manifest.
type ManifestPayload struct {
	NodeID string   `json:"node_id"`
	Items  Manifest `json:"items"`
}

// FetchRequest asks the peer for the full content of the listed items.
type FetchRequest struct {
	IDs []string `json:"ids"`
}

// FetchResponse returns full items, metadata included.
type FetchResponse struct {
	Items []Item `json:"items"`
}

// PushRequest transfers full items for the peer to reconcile locally.
type PushRequest struct {
	Items []Item `json:"items"`
}

// PushResponse reports which pushed items the peer committed. Items the
// peer's own resolution rejected are listed so the caller can stop
// re-pushing them.
type PushResponse struct {
	Applied  []string `json:"applied"`
	Rejected []string `json:"rejected"`
}

// StatusPayload is the plaintext answer of the status endpoint.
type StatusPayload struct {
	Status            string `json:"status"` // "ok", "degraded" or "failed"
	NodeID            string `json:"node_id"`
	LastSyncTimestamp int64  `json:"last_sync_timestamp"` // unix seconds, 0 before the first sync
}
