package daemon

import (
	"context"
	"errors"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/matheus3301/rcschat/internal/api"
	"github.com/matheus3301/rcschat/internal/bus"
	"github.com/matheus3301/rcschat/internal/chat"
	"github.com/matheus3301/rcschat/internal/config"
	"github.com/matheus3301/rcschat/internal/contribution"
	"github.com/matheus3301/rcschat/internal/history"
	"github.com/matheus3301/rcschat/internal/lock"
	"github.com/matheus3301/rcschat/internal/logging"
	"github.com/matheus3301/rcschat/internal/metrics"
	"github.com/matheus3301/rcschat/internal/msrp"
	"github.com/matheus3301/rcschat/internal/outbox"
	"github.com/matheus3301/rcschat/internal/profile"
	"github.com/matheus3301/rcschat/internal/sip"
	"github.com/matheus3301/rcschat/internal/status"
	"github.com/matheus3301/rcschat/internal/store"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	ProfileName string
	ConfigPath  string // empty = profile.ConfigPath()
	SocketPath  string // optional override for testing; empty = use default
	// Network is the SIP network the daemon's user agent joins. Nil gives
	// the daemon a private loopback network.
	Network *sip.Network
	// Stderr mirrors the log to the console.
	Stderr bool
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideUserAgent,
			provideChatService,
			provideMetrics,
			provideJournal,
			provideSender,
			provideHandler,
			provideHTTPServer,
			provideServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	path := p.ConfigPath
	if path == "" {
		path = profile.ConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func provideLogger(p Params, cfg *config.Config) (*zap.Logger, error) {
	return logging.New(logging.Options{
		Path:       profile.LogPath(p.ProfileName),
		Profile:    p.ProfileName,
		Level:      cfg.Log.Level,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
		Stderr:     p.Stderr,
	})
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.ProfileName); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.ProfileName))
	l, err := lock.Acquire(profile.Dir(p.ProfileName))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

// provideStore depends on the lock so that two daemons never migrate the
// same database.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.DBPath(p.ProfileName)
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
		logger.Info("migrations applied", zap.Uint("from", result.From), zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideUserAgent(p Params, cfg *config.Config) (sip.UserAgent, error) {
	n := p.Network
	if n == nil {
		n = sip.NewNetwork()
	}
	ua, err := n.Agent(cfg.Identity.PublicURI, cfg.MSRP.LocalHost)
	if err != nil {
		return nil, err
	}
	return ua, nil
}

func provideChatService(cfg *config.Config, ua sip.UserAgent, db *store.DB, b *bus.Bus, logger *zap.Logger) (*chat.Service, error) {
	gen, err := contribution.NewGenerator(cfg.Identity.DeviceID)
	if err != nil {
		return nil, err
	}
	opts := msrp.Options{
		Host:           cfg.MSRP.LocalHost,
		Secured:        cfg.MSRP.Secured,
		ChunkSize:      cfg.MSRP.ChunkSize,
		OpenTimeout:    cfg.MSRP.OpenTimeout.Duration,
		MaxMessageSize: cfg.MSRP.MaxMessageSize,
	}
	deps := chat.Deps{
		UA:           ua,
		Store:        db,
		Bus:          b,
		Contribution: gen,
		NewTransport: func() msrp.Transport { return msrp.NewManager(opts, logger) },
		Settings:     cfg.Settings(),
		Logger:       logger,
	}
	return chat.NewService(deps, cfg.Chat.Workers), nil
}

func provideMetrics(svc *chat.Service, b *bus.Bus) *metrics.Metrics {
	return metrics.NewMetrics("rcs", svc.Len, b.Dropped)
}

func provideJournal(cfg *config.Config, db *store.DB, b *bus.Bus, logger *zap.Logger) *history.Journal {
	return history.NewJournal(db, b, cfg.History.Retention.Duration, logger)
}

func provideSender(cfg *config.Config, db *store.DB, svc *chat.Service, b *bus.Bus, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(db, svc, b, outbox.Options{
		PollInterval: cfg.Outbox.PollInterval.Duration,
		MaxAttempts:  cfg.Outbox.MaxAttempts,
	}, logger)
}

func provideHandler(p Params, svc *chat.Service, db *store.DB, j *history.Journal, b *bus.Bus, m *status.Machine, mt *metrics.Metrics, logger *zap.Logger) *api.Handler {
	return api.NewHandler(api.Deps{
		Chats:   api.ServiceChats{Service: svc},
		Archive: db,
		Replay:  j,
		Bus:     b,
		Machine: m,
		Metrics: mt.Handler(),
		Profile: p.ProfileName,
		Logger:  logger,
	})
}

func provideHTTPServer(cfg *config.Config, h *api.Handler, logger *zap.Logger) (*api.Server, error) {
	return api.NewServer(cfg.API.ListenAddr, h, logger)
}

// provideServer takes the lock so that the stale-socket cleanup in
// NewServer can never remove a live daemon's socket.
func provideServer(p Params, _ *lock.Lock, m *status.Machine, logger *zap.Logger) (*Server, error) {
	return NewServer(p, m, logger)
}

type lifecycleParams struct {
	fx.In

	Lock    *lock.Lock
	DB      *store.DB
	Chats   *chat.Service
	Metrics *metrics.Metrics
	Journal *history.Journal
	Sender  *outbox.Sender
	HTTP    *api.Server
	RPC     *Server
	Machine *status.Machine
	Bus     *bus.Bus
	Logger  *zap.Logger
}

func registerLifecycle(lc fx.Lifecycle, p lifecycleParams) {
	logger := p.Logger
	var (
		cancel  context.CancelFunc
		serving errgroup.Group
	)
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			if err := p.Machine.Transition(status.Starting); err != nil {
				return err
			}
			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())

			// The journal subscribes before anything can publish.
			p.Journal.Start(ctx)
			go p.Metrics.Run(ctx, p.Bus)
			p.Sender.Start(ctx)

			serving.Go(func() error {
				err := p.RPC.Start()
				if err != nil {
					logger.Error("gRPC server error", zap.Error(err))
					_ = p.Machine.Transition(status.Error)
				}
				return err
			})
			serving.Go(func() error {
				err := p.HTTP.Start()
				if err != nil {
					logger.Error("HTTP API error", zap.Error(err))
					_ = p.Machine.Transition(status.Degraded)
				}
				return err
			})

			return p.Machine.Transition(status.Ready)
		},
		OnStop: func(ctx context.Context) error {
			_ = p.Machine.Transition(status.Stopping)

			var errs []error
			if err := p.Chats.Close(ctx); err != nil {
				errs = append(errs, err)
			}
			p.Sender.Stop()
			// Stop drains what Close published before the last batch.
			p.Journal.Stop()
			cancel()

			if err := p.HTTP.Shutdown(ctx); err != nil {
				errs = append(errs, err)
			}
			p.RPC.Stop(ctx)
			_ = serving.Wait()

			if err := p.DB.Close(); err != nil {
				errs = append(errs, err)
			}
			if err := p.Lock.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			_ = p.Machine.Transition(status.Stopped)
			logger.Info("daemon stopped")
			return errors.Join(errs...)
		},
	})
}
