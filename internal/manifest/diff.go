// Package manifest compares two nodes' declared state and classifies every
// item id into a transfer plan. Classification is mechanical; winners are
// decided later by the resolver, with full item metadata in hand.
package manifest

import (
	"sort"

	"github.com/trosyn/lansync/internal/models"
)

// Plan is the outcome of comparing a local manifest against a remote one.
// Each id appears in exactly one bucket.
type Plan struct {
	// Pull: the remote has an item this node has never seen.
	Pull []string
	// Push: this node has an item the remote has never seen.
	Push []string
	// Conflicts: both sides hold the id with differing content hashes.
	// Either side may turn out to be the winner.
	Conflicts []string
	// InSync: hashes match, nothing to transfer.
	InSync []string
}

// Diff classifies every id present in either manifest. Output slices are
// sorted so a plan is reproducible for the same inputs.
func Diff(local, remote models.Manifest) Plan {
	p := Plan{}

	for id, l := range local {
		r, ok := remote[id]
		switch {
		case !ok:
			p.Push = append(p.Push, id)
		case l.Hash == r.Hash:
			p.InSync = append(p.InSync, id)
		default:
			p.Conflicts = append(p.Conflicts, id)
		}
	}
	for id := range remote {
		if _, ok := local[id]; !ok {
			p.Pull = append(p.Pull, id)
		}
	}

	sort.Strings(p.Pull)
	sort.Strings(p.Push)
	sort.Strings(p.Conflicts)
	sort.Strings(p.InSync)
	return p
}

// Total reports how many ids the plan covers.
func (p *Plan) Total() int {
	return len(p.Pull) + len(p.Push) + len(p.Conflicts) + len(p.InSync)
}

// NeedsTransfer reports whether the plan moves any data at all.
func (p *Plan) NeedsTransfer() bool {
	return len(p.Pull) > 0 || len(p.Push) > 0 || len(p.Conflicts) > 0
}
