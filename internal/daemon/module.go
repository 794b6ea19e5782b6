package daemon

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pvallone/chatdesk/internal/api"
	"github.com/pvallone/chatdesk/internal/bus"
	"github.com/pvallone/chatdesk/internal/config"
	"github.com/pvallone/chatdesk/internal/delivery"
	"github.com/pvallone/chatdesk/internal/guard"
	"github.com/pvallone/chatdesk/internal/lifecycle"
	"github.com/pvallone/chatdesk/internal/lock"
	"github.com/pvallone/chatdesk/internal/logging"
	"github.com/pvallone/chatdesk/internal/send"
	"github.com/pvallone/chatdesk/internal/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the startup options passed to the fx module.
type Params struct {
	ConfigPath string // optional override; empty = <data dir>/config.toml
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			provideGuard,
			provideLifecycle,
			provideTracker,
			provideProvider,
			provideDispatcher,
			provideHandlers,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	path := p.ConfigPath
	if path == "" {
		path = filepath.Join(config.Default().DataDir, "config.toml")
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config.Default(), nil
	}
	return config.Load(path)
}

func provideLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(cfg.LogPath())
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(cfg *config.Config, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring data dir lock", zap.String("dir", cfg.DataDir))
	l, err := lock.Acquire(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	logger.Info("data dir lock acquired")
	return l, nil
}

func provideStore(cfg *config.Config, logger *zap.Logger) (*store.DB, error) {
	dbPath := cfg.DBPath()
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideGuard(cfg *config.Config, b *bus.Bus, logger *zap.Logger) *guard.Guard {
	prober := guard.NewHTTPProber(cfg.Session.ProbeURL, cfg.Provider.Token, cfg.Session.ProbeTimeout.Std())
	return guard.New(prober, b, logger, cfg.Session.ProbeInterval.Std(), cfg.Session.ProbeTimeout.Std())
}

func provideLifecycle(db *store.DB, b *bus.Bus, logger *zap.Logger) *lifecycle.Manager {
	return lifecycle.NewManager(db, b, logger)
}

func provideTracker(db *store.DB, b *bus.Bus, logger *zap.Logger) *delivery.Tracker {
	return delivery.NewTracker(db, b, logger)
}

func provideProvider(cfg *config.Config) send.Provider {
	return send.NewHTTPProvider(cfg.Provider.BaseURL, cfg.Provider.Token, cfg.Send.Timeout.Std())
}

func provideDispatcher(db *store.DB, provider send.Provider, g *guard.Guard, lm *lifecycle.Manager, b *bus.Bus, logger *zap.Logger, cfg *config.Config) *send.Dispatcher {
	return send.NewDispatcher(db, provider, g, lm, b, logger, cfg.Send.Timeout.Std())
}

func provideHandlers(db *store.DB, d *send.Dispatcher, t *delivery.Tracker, g *guard.Guard, lm *lifecycle.Manager, b *bus.Bus, cfg *config.Config, logger *zap.Logger) *api.Handlers {
	return api.New(db, d, t, g, lm, b, cfg.Response.InProgressWindow.Std(), logger)
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, lk *lock.Lock, g *guard.Guard, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Start the periodic session probe.
			g.Start(context.Background())

			// Start HTTP server in background.
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("http server error", zap.Error(err))
				}
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			g.Stop()
			srv.Stop(ctx)
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
