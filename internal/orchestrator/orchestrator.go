// Package orchestrator drives the sync cycle: one worker per online peer,
// each running handshake, manifest exchange, transfer, and resolution
// against that peer's endpoint. It also serves the responder side of
// reconciliation for pushes arriving over the HTTP server.
//
// A failed cycle aborts that peer's session only. Items already committed
// stay committed, untouched items are retried on the next cycle; there is
// no cross-item transaction to roll back.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/trosyn/lansync/internal/client"
	"github.com/trosyn/lansync/internal/common"
	"github.com/trosyn/lansync/internal/config"
	"github.com/trosyn/lansync/internal/feed"
	"github.com/trosyn/lansync/internal/identity"
	"github.com/trosyn/lansync/internal/logging"
	"github.com/trosyn/lansync/internal/manifest"
	"github.com/trosyn/lansync/internal/models"
	"github.com/trosyn/lansync/internal/peers"
	"github.com/trosyn/lansync/internal/resolve"
	"github.com/trosyn/lansync/internal/session"
	"github.com/trosyn/lansync/internal/snapshot"
)

// maxWorkers caps concurrent per-peer sync sessions on the initiating side.
const maxWorkers = 4

// Auth failure backoff: doubles per consecutive failure, capped.
const (
	backoffBase = time.Minute
	backoffMax  = 10 * time.Minute
)

type peerState struct {
	failures int
	retryAt  time.Time
	lastOK   time.Time
	lastErr  string
}

type Orchestrator struct {
	id       *identity.Identity
	cfg      *config.Config
	table    *peers.Table
	store    *snapshot.Store
	feed     *feed.Feed
	applier  *feed.Applier
	manager  *session.Manager
	registry *resolve.Registry
	logger   logging.Logger

	mu       sync.Mutex
	lastSync time.Time
	state    map[string]*peerState
}

// NewOrchestrator wires the sync cycle. f and a may be nil when the node
// has no local storage collaborators attached (the snapshot store is then
// the only state).
func NewOrchestrator(id *identity.Identity, cfg *config.Config, table *peers.Table,
	store *snapshot.Store, f *feed.Feed, a *feed.Applier,
	m *session.Manager, reg *resolve.Registry, l logging.Logger) *Orchestrator {

	return &Orchestrator{
		id:       id,
		cfg:      cfg,
		table:    table,
		store:    store,
		feed:     f,
		applier:  a,
		manager:  m,
		registry: reg,
		logger:   l.With("module", "orchestrator"),
		state:    make(map[string]*peerState),
	}
}

// Run executes sync cycles on the discovery cadence until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	ticker := time.NewTicker(o.cfg.DiscoveryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			o.manager.Sweep()
			if err := o.RunCycle(ctx); err != nil {
				o.logger.Error(ctx, "sync cycle failed", "error", err.Error())
			}
		}
	}
}

// RunCycle pumps local changes and syncs every eligible online peer, one
// worker per peer up to the concurrency cap.
func (o *Orchestrator) RunCycle(ctx context.Context) error {
	if o.feed != nil {
		if _, err := o.feed.Pump(ctx); err != nil {
			return fmt.Errorf("pumping local changes: %w", err)
		}
	}

	targets := o.table.OnlinePeers()
	if len(targets) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxWorkers)

	for _, n := range targets {
		if o.inBackoff(n.NodeID) {
			o.logger.Debug(ctx, "peer in backoff, skipping", "node", n.NodeID)
			continue
		}

		n := n
		g.Go(func() error {
			if err := o.syncPeer(gctx, n); err != nil {
				o.recordFailure(gctx, n.NodeID, err)
				// one peer failing must not cancel the others
				return nil
			}
			o.recordSuccess(n.NodeID)
			return nil
		})
	}
	return g.Wait()
}

func (o *Orchestrator) syncPeer(ctx context.Context, n peers.Node) error {
	log := o.logger.With("peer", n.NodeID, "addr", n.Address)

	c := client.NewClient(fmt.Sprintf("http://%s:%d", n.Address, n.Port), o.manager, o.cfg.TransferTimeout, o.logger)

	hctx, cancel := context.WithTimeout(ctx, o.cfg.HandshakeTimeout)
	err := c.Connect(hctx)
	cancel()
	if err != nil {
		return fmt.Errorf("connecting: %w", err)
	}
	defer c.Close(ctx)

	local, err := o.store.Manifest(ctx)
	if err != nil {
		return fmt.Errorf("computing local manifest: %w", err)
	}

	remote, err := c.Manifest(ctx, local)
	if err != nil {
		return fmt.Errorf("exchanging manifests: %w", err)
	}

	plan := manifest.Diff(local, remote)
	log.Info(ctx, "cycle plan", "pull", len(plan.Pull), "push", len(plan.Push), "conflicts", len(plan.Conflicts), "in_sync", len(plan.InSync))
	if !plan.NeedsTransfer() {
		return nil
	}

	// fetch everything the remote side may win: new items plus conflicts
	pushIDs := append([]string{}, plan.Push...)
	if want := append(append([]string{}, plan.Pull...), plan.Conflicts...); len(want) > 0 {
		fetched, err := c.Fetch(ctx, want)
		if err != nil {
			return fmt.Errorf("fetching %d items: %w", len(want), err)
		}

		for i := range fetched {
			localWon, err := o.reconcileItem(ctx, &fetched[i])
			if err != nil {
				return fmt.Errorf("reconciling %s: %w", fetched[i].ID, err)
			}
			if localWon {
				pushIDs = append(pushIDs, fetched[i].ID)
			}
		}
	}

	if len(pushIDs) > 0 {
		items, err := o.store.Items(ctx, pushIDs)
		if err != nil {
			return err
		}
		resp, err := c.Push(ctx, items)
		if err != nil {
			return fmt.Errorf("pushing %d items: %w", len(items), err)
		}
		if len(resp.Rejected) > 0 {
			log.Info(ctx, "peer rejected pushed items", "rejected", len(resp.Rejected))
		}
	}
	return nil
}

// reconcileItem folds one remote head into the local store. Returns whether
// the resolved winner is something the peer does not have yet and should be
// pushed back.
//
// The resolver's verdict is committed as-is: a policy may elect either head
// or mint a merged item, and whatever it returns becomes the new head. Loser
// and winner land in one store transaction, loser beneath winner.
func (o *Orchestrator) reconcileItem(ctx context.Context, remote *models.Item) (bool, error) {
	local, _, err := o.store.Head(ctx, remote.ID)
	if err != nil {
		if !errors.Is(err, common.ErrNotFound) {
			return false, err
		}
		// never seen locally: take the remote version as-is
		if _, _, err := o.store.Append(ctx, remote); err != nil {
			return false, err
		}
		return false, o.applyLocal(ctx, remote)
	}

	if local.ContentHash() == remote.ContentHash() {
		return false, nil
	}

	out := o.registry.Resolve(local, remote)
	o.logger.Info(ctx, "conflict resolved",
		"item", remote.ID,
		"winner_origin", out.Winner.OriginNode,
		"winner_version", out.Winner.Version,
		"loser_origin", out.Loser.OriginNode,
		"reason", out.Reason)

	if _, err := o.store.AppendResolved(ctx, out.Loser, out.Winner); err != nil {
		return false, err
	}

	if out.Winner.ContentHash() != local.ContentHash() {
		if err := o.applyLocal(ctx, out.Winner); err != nil {
			return false, err
		}
	}
	return out.Winner.ContentHash() != remote.ContentHash(), nil
}

func (o *Orchestrator) applyLocal(ctx context.Context, item *models.Item) error {
	if o.applier == nil {
		return nil
	}
	_, err := o.applier.Apply(ctx, item)
	return err
}

// LocalManifest implements the server engine.
func (o *Orchestrator) LocalManifest(ctx context.Context) (models.Manifest, error) {
	return o.store.Manifest(ctx)
}

// FetchItems implements the server engine.
func (o *Orchestrator) FetchItems(ctx context.Context, ids []string) ([]models.Item, error) {
	return o.store.Items(ctx, ids)
}

// ApplyRemote reconciles items pushed by a peer. Ids whose local version
// wins resolution are reported back as rejected.
func (o *Orchestrator) ApplyRemote(ctx context.Context, peerID string, items []models.Item) ([]string, []string, error) {
	applied := []string{}
	rejected := []string{}

	for i := range items {
		localWon, err := o.reconcileItem(ctx, &items[i])
		if err != nil {
			return applied, rejected, err
		}
		if localWon {
			rejected = append(rejected, items[i].ID)
		} else {
			applied = append(applied, items[i].ID)
		}
	}

	o.markSynced(peerID)
	return applied, rejected, nil
}

// Status implements the status endpoint payload.
func (o *Orchestrator) Status() models.StatusPayload {
	o.mu.Lock()
	defer o.mu.Unlock()

	st := models.StatusPayload{Status: "ok", NodeID: o.id.NodeID}
	if !o.lastSync.IsZero() {
		st.LastSyncTimestamp = o.lastSync.Unix()
	}

	failing, total := 0, 0
	for _, ps := range o.state {
		total++
		if ps.failures > 0 {
			failing++
		}
	}
	switch {
	case total > 0 && failing == total:
		st.Status = "failed"
	case failing > 0:
		st.Status = "degraded"
	}
	return st
}

// LastError returns the most recent failure message for a peer, empty when
// the peer is healthy.
func (o *Orchestrator) LastError(peerID string) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if ps, ok := o.state[peerID]; ok {
		return ps.lastErr
	}
	return ""
}

func (o *Orchestrator) inBackoff(peerID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	ps, ok := o.state[peerID]
	return ok && time.Now().Before(ps.retryAt)
}

func (o *Orchestrator) recordFailure(ctx context.Context, peerID string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	ps, ok := o.state[peerID]
	if !ok {
		ps = &peerState{}
		o.state[peerID] = ps
	}
	ps.failures++
	ps.lastErr = err.Error()

	// repeated auth failures mean a misconfigured secret; back off instead
	// of hammering the peer every cycle
	if errors.Is(err, common.ErrUnauthorized) {
		d := backoffBase << (ps.failures - 1)
		if d > backoffMax || d <= 0 {
			d = backoffMax
		}
		ps.retryAt = time.Now().Add(d)
		o.logger.Warn(ctx, "auth failure, backing off", "peer", peerID, "failures", ps.failures, "retry_in", d.String())
		return
	}
	o.logger.Warn(ctx, "peer sync failed", "peer", peerID, "error", err.Error())
}

func (o *Orchestrator) recordSuccess(peerID string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	ps, ok := o.state[peerID]
	if !ok {
		ps = &peerState{}
		o.state[peerID] = ps
	}
	ps.failures = 0
	ps.retryAt = time.Time{}
	ps.lastErr = ""
	ps.lastOK = time.Now()
	o.lastSync = time.Now()
}

// markSynced notes responder-side activity so a node that only ever answers
// pushes still reports a sync timestamp and per-peer health.
func (o *Orchestrator) markSynced(peerID string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	ps, ok := o.state[peerID]
	if !ok {
		ps = &peerState{}
		o.state[peerID] = ps
	}
	ps.lastOK = time.Now()
	o.lastSync = ps.lastOK
}
