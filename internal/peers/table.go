// Package peers maintains the table of nodes seen on the local network.
//
// The table is an explicitly owned handle passed to the discovery service
// and the orchestrator; there is no ambient global state, so tests can
// instantiate isolated instances. Entries are persisted to bbolt and
// survive restarts; staleness eviction only flips liveness, it never
// deletes history.
package peers

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/trosyn/lansync/internal/models"
)

var bucketPeers = []byte("peers")

// Node is one row of the peer table.
type Node struct {
	NodeID      string      `json:"node_id"`
	DisplayName string      `json:"display_name"`
	Address     string      `json:"address"`
	Port        int         `json:"port"`
	Role        models.Role `json:"role"`
	LastSeen    time.Time   `json:"last_seen"`
	Online      bool        `json:"online"`
}

// Table is a mutex-guarded, bbolt-backed peer table.
type Table struct {
	mu     sync.RWMutex
	db     *bolt.DB
	selfID string
	nodes  map[string]*Node
}

// NewTable opens (or creates) the peer bucket and loads persisted entries.
// Loaded peers start offline; they come back online on their next
// discovery packet.
func NewTable(db *bolt.DB, selfID string) (*Table, error) {
	t := &Table{db: db, selfID: selfID, nodes: make(map[string]*Node)}

	err := db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketPeers)
		if err != nil {
			return err
		}
		return b.ForEach(func(k, v []byte) error {
			n := &Node{}
			if err := json.Unmarshal(v, n); err != nil {
				// a corrupt row loses liveness, not the table
				return nil
			}
			n.Online = false
			t.nodes[n.NodeID] = n
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("loading peer table: %w", err)
	}
	return t, nil
}

// Upsert records a sighting of a peer. The entry is created on first
// contact and refreshed (address, port, role, last_seen) on every
// subsequent packet. Sightings of the local node are ignored.
func (t *Table) Upsert(n Node) error {
	if n.NodeID == "" || n.NodeID == t.selfID {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	n.LastSeen = time.Now()
	n.Online = true
	t.nodes[n.NodeID] = &n

	return t.persist(&n)
}

// Sweep marks peers offline whose last sighting is older than timeout.
// Returns the ids that transitioned to offline in this pass.
func (t *Table) Sweep(timeout time.Duration) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var evicted []string
	cutoff := time.Now().Add(-timeout)
	for id, n := range t.nodes {
		if n.Online && n.LastSeen.Before(cutoff) {
			n.Online = false
			evicted = append(evicted, id)
			_ = t.persist(n)
		}
	}
	sort.Strings(evicted)
	return evicted
}

// Get returns a copy of the entry for nodeID.
func (t *Table) Get(nodeID string) (Node, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n, ok := t.nodes[nodeID]
	if !ok {
		return Node{}, false
	}
	return *n, true
}

// OnlinePeers returns the peers eligible for sync targeting, ordered by id.
func (t *Table) OnlinePeers() []Node {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Node, 0, len(t.nodes))
	for _, n := range t.nodes {
		if n.Online {
			out = append(out, *n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out
}

// All returns every known peer, online or not, ordered by id.
func (t *Table) All() []Node {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Node, 0, len(t.nodes))
	for _, n := range t.nodes {
		out = append(out, *n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out
}

// persist writes one row; callers hold t.mu.
func (t *Table) persist(n *Node) error {
	return t.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPeers)
		v, err := json.Marshal(n)
		if err != nil {
			return err
		}
		return b.Put([]byte(n.NodeID), v)
	})
}
