// Package resolve decides which of two concurrent versions of an item
// survives as head. Resolution is a pure function of the two items: both
// nodes comparing the same pair reach the same verdict independently, with
// no coordination and no dependence on which side runs the comparison.
package resolve

import "github.com/trosyn/lansync/internal/models"

// Outcome of resolving one conflicting pair. The loser is not discarded by
// the caller; it is appended beneath the winner so the history keeps both.
type Outcome struct {
	Winner *models.Item
	Loser  *models.Item
	// Reason is a short audit tag for the conflict log.
	Reason string
}

// Resolver picks a winner between the local and remote head of one item.
//
// Implementations must be deterministic and symmetric: swapping the
// arguments must elect the same winner.
type Resolver interface {
	Resolve(local, remote *models.Item) Outcome
}

// LWW is the default last-write-wins policy over the total order
// (Version, UpdatedAt, OriginNode), with deletion precedence.
//
// A tombstone beats a live version unless AllowResurrect is set and the
// live side carries a strictly higher version counter; a later timestamp
// alone never resurrects, and deletion always wins ties. Two heads with an
// equal ordering tuple but different content fall back to the larger
// content hash, which keeps the verdict total.
type LWW struct {
	AllowResurrect bool
}

func (l *LWW) Resolve(local, remote *models.Item) Outcome {
	if local.Tombstone != remote.Tombstone {
		return l.resolveTombstone(local, remote)
	}

	switch c := models.Compare(local, remote); {
	case c > 0:
		return Outcome{Winner: local, Loser: remote, Reason: "newer"}
	case c < 0:
		return Outcome{Winner: remote, Loser: local, Reason: "newer"}
	}

	if local.ContentHash() == remote.ContentHash() {
		return Outcome{Winner: local, Loser: remote, Reason: "identical"}
	}
	if local.ContentHash() > remote.ContentHash() {
		return Outcome{Winner: local, Loser: remote, Reason: "content hash tiebreak"}
	}
	return Outcome{Winner: remote, Loser: local, Reason: "content hash tiebreak"}
}

func (l *LWW) resolveTombstone(local, remote *models.Item) Outcome {
	dead, live := local, remote
	if remote.Tombstone {
		dead, live = remote, local
	}

	if l.AllowResurrect && live.Version > dead.Version {
		return Outcome{Winner: live, Loser: dead, Reason: "resurrected"}
	}
	return Outcome{Winner: dead, Loser: live, Reason: "tombstone precedence"}
}

// Registry dispatches resolution by item type, falling back to a default
// policy for types with no dedicated resolver.
type Registry struct {
	fallback Resolver
	byType   map[string]Resolver
}

// NewRegistry builds a registry with the given fallback policy.
func NewRegistry(fallback Resolver) *Registry {
	return &Registry{fallback: fallback, byType: make(map[string]Resolver)}
}

// Register installs a resolver for one item type, replacing any previous one.
func (r *Registry) Register(itemType string, res Resolver) {
	r.byType[itemType] = res
}

// For returns the resolver handling itemType.
func (r *Registry) For(itemType string) Resolver {
	if res, ok := r.byType[itemType]; ok {
		return res
	}
	return r.fallback
}

// Resolve dispatches by the item type of the pair.
func (r *Registry) Resolve(local, remote *models.Item) Outcome {
	return r.For(local.ItemType).Resolve(local, remote)
}
