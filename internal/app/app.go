// Package app initializes and runs the sync engine: it wires the snapshot
// store, discovery, session manager, HTTP surface, and orchestrator over a
// shared bbolt database, and handles graceful shutdown.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	bolt "go.etcd.io/bbolt"

	"github.com/trosyn/lansync/internal/config"
	"github.com/trosyn/lansync/internal/discovery"
	"github.com/trosyn/lansync/internal/feed"
	"github.com/trosyn/lansync/internal/identity"
	"github.com/trosyn/lansync/internal/logging"
	"github.com/trosyn/lansync/internal/models"
	"github.com/trosyn/lansync/internal/orchestrator"
	"github.com/trosyn/lansync/internal/peers"
	"github.com/trosyn/lansync/internal/resolve"
	"github.com/trosyn/lansync/internal/server"
	"github.com/trosyn/lansync/internal/session"
	"github.com/trosyn/lansync/internal/snapshot"
)

type App struct {
	config   *config.Config
	logger   logging.Logger
	db       *bolt.DB
	id       *identity.Identity
	store    *snapshot.Store
	table    *peers.Table
	manager  *session.Manager
	registry *resolve.Registry
	orch     *orchestrator.Orchestrator
	disc     *discovery.Service
	srv      *server.Server
}

func NewApp(cfg *config.Config) (*App, error) {

	logger := logging.NewJSONLogger(slog.LevelInfo)

	id, err := identity.LoadOrGenerate(cfg.DataDir, cfg.NodeName, models.Role(cfg.NodeRole))
	if err != nil {
		return nil, fmt.Errorf("identity init error: %w", err)
	}
	id.Secret = []byte(cfg.SharedSecret)

	db, err := bolt.Open(filepath.Join(cfg.DataDir, "sync.db"), 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	store, err := snapshot.NewStore(db, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	table, err := peers.NewTable(db, id.NodeID)
	if err != nil {
		db.Close()
		return nil, err
	}

	manager := session.NewManager(id, cfg.SessionTTL, cfg.MaxSessions, logger)
	registry := resolve.NewRegistry(&resolve.LWW{AllowResurrect: cfg.AllowResurrect})

	orch := orchestrator.NewOrchestrator(id, cfg, table, store, nil, nil, manager, registry, logger)

	disc, err := discovery.NewService(id, table, cfg.MulticastGroup, cfg.DiscoveryPort, cfg.ListenPort,
		cfg.DiscoveryInterval, cfg.DeviceTimeout, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	srv := server.NewServer(fmt.Sprintf(":%d", cfg.ListenPort), manager, orch, logger)

	return &App{
		config:   cfg,
		logger:   logger,
		db:       db,
		id:       id,
		store:    store,
		table:    table,
		manager:  manager,
		registry: registry,
		orch:     orch,
		disc:     disc,
		srv:      srv,
	}, nil
}

// AttachStorage connects the application's document storage: src feeds
// local edits into the snapshot store, sink receives reconciled state.
// Must be called before Run.
func (app *App) AttachStorage(src feed.Source, sink feed.Sink) error {
	f, err := feed.NewFeed(app.db, src, app.store, "local", app.logger)
	if err != nil {
		return err
	}
	a, err := feed.NewApplier(app.db, sink, app.logger)
	if err != nil {
		return err
	}
	app.orch = orchestrator.NewOrchestrator(app.id, app.config, app.table, app.store, f, a,
		app.manager, app.registry, app.logger)
	app.srv = server.NewServer(fmt.Sprintf(":%d", app.config.ListenPort), app.manager, app.orch, app.logger)
	return nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	if !app.config.SyncEnabled {
		app.logger.Info(ctx, "sync disabled by configuration, exiting")
		return
	}

	app.logger.Info(ctx, "starting sync engine", "node", app.id.NodeID, "name", app.id.DisplayName, "role", app.id.Role)

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := app.disc.Run(ctx); err != nil {
			app.logger.Error(ctx, err.Error())
			cancelFunc()
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := app.srv.Run(ctx); err != nil {
			app.logger.Error(ctx, err.Error())
			cancelFunc()
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := app.orch.Run(ctx); err != nil {
			app.logger.Error(ctx, err.Error())
			cancelFunc()
		}
	}()

	wg.Wait()

	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, "closing database", "error", err.Error())
	}
	app.logger.Info(ctx, "sync engine stopped")
}
