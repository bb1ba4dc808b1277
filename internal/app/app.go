// Package app wires configuration into a running replication network: site
// stores, the event bus, the engine, and the shared upload library.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"mlsync/internal/blob"
	blobcore "mlsync/internal/blob/core"
	"mlsync/internal/config"
	"mlsync/internal/core"
	"mlsync/internal/infra/persistence/memory"
	"mlsync/internal/infra/persistence/postgres"
	"mlsync/internal/infra/persistence/sqlite"
	"mlsync/internal/multisite"
	"mlsync/internal/uploads"
	"mlsync/pkg/domain"
)

// App is an assembled replication network.
type App struct {
	Config  config.Config
	Logger  core.Logger
	Bus     *core.Bus
	Network *multisite.Network
	Engine  *core.Engine
	Blobs   blobcore.Store
	Library *uploads.Library

	detach  func()
	closers []func() error
}

type options struct {
	logOutput  io.Writer
	registerer prometheus.Registerer
	tracer     core.Tracer
}

// Option customizes New.
type Option func(*options)

// WithLogOutput redirects log output, stderr by default.
func WithLogOutput(w io.Writer) Option {
	return func(o *options) { o.logOutput = w }
}

// WithRegisterer sets where Prometheus collectors are registered.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithTracer traces engine operations, taking precedence over the trace file.
func WithTracer(t core.Tracer) Option {
	return func(o *options) { o.tracer = t }
}

// New opens every configured site and attaches the engine to the bus.
func New(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{logOutput: os.Stderr}
	for _, opt := range opts {
		opt(&o)
	}
	logger, err := newLogger(cfg.Log, o.logOutput)
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, Logger: logger, Bus: core.NewBus()}
	a.Network = multisite.NewNetwork(a.Bus)

	if err := a.openSites(ctx); err != nil {
		return nil, errors.Join(err, a.Close())
	}

	metrics, err := newMetrics(cfg.Metrics, o.registerer)
	if err != nil {
		return nil, errors.Join(err, a.Close())
	}
	tracer := o.tracer
	if tracer == nil && cfg.Trace != "" {
		f, err := os.OpenFile(cfg.Trace, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("open trace: %w", err), a.Close())
		}
		a.closers = append(a.closers, f.Close)
		tracer = core.NewJSONTracer(f)
	}
	engineOpts := []core.Option{
		core.WithLogger(logger),
		core.WithMetrics(metrics),
		core.WithTracer(tracer),
		core.WithParallelism(cfg.Parallelism),
		core.WithReplicatedKind(cfg.Replication.Kind),
		core.WithAttachedFileKey(cfg.Replication.AttachedFileKey),
		core.WithExcludedKeys(cfg.Replication.ExcludedKeys...),
	}
	a.Engine = core.New(a.Network, engineOpts...)
	a.detach = a.Engine.Attach(a.Bus)

	a.Blobs, err = blob.Open(ctx, blob.Options{
		Driver:  blobcore.Driver(cfg.Blob.Driver),
		FSRoot:  cfg.Blob.FSRoot,
		BaseURL: cfg.Blob.BaseURL,
		S3:      cfg.Blob.S3,
	})
	if err != nil {
		return nil, errors.Join(fmt.Errorf("open blob store: %w", err), a.Close())
	}
	libOpts := []uploads.LibraryOption{uploads.WithLogger(logger)}
	if cfg.Blob.BaseURL != "" {
		libOpts = append(libOpts, uploads.WithBase(cfg.Blob.FSRoot, cfg.Blob.BaseURL))
	}
	a.Library = uploads.NewLibrary(a.Blobs, a.Network, libOpts...)

	logger.Info("network ready", "sites", len(cfg.Sites), "storage", cfg.Storage.Driver,
		"blob", cfg.Blob.Driver, "metrics", cfg.Metrics, "parallelism", cfg.Parallelism)
	return a, nil
}

func (a *App) openSites(ctx context.Context) error {
	var db *sql.DB
	if a.Config.Storage.Driver == config.StoragePostgres {
		var err error
		if db, err = postgres.Open(ctx, a.Config.Storage.PostgresDSN); err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		a.closers = append(a.closers, db.Close)
	}
	for _, raw := range a.Config.Sites {
		site := domain.SiteID(raw)
		var store domain.SiteStore
		switch a.Config.Storage.Driver {
		case config.StorageSQLite:
			s, err := sqlite.NewStore(sqlite.PathFor(a.Config.Storage.SQLiteDir, site), site)
			if err != nil {
				return fmt.Errorf("site %d: %w", site, err)
			}
			a.closers = append(a.closers, s.Close)
			store = s
		case config.StoragePostgres:
			s, err := postgres.NewStore(ctx, db, site)
			if err != nil {
				return fmt.Errorf("site %d: %w", site, err)
			}
			store = s
		default:
			store = memory.NewStore(site)
		}
		if err := a.Network.AddSite(site, store); err != nil {
			return err
		}
	}
	return nil
}

// Resync replays action for entityID of site to every other site. Updates are
// followed by the attached-file pass, which a create already includes.
func (a *App) Resync(ctx context.Context, site domain.SiteID, action domain.Action, entityID int64) (core.Report, error) {
	ctx = multisite.WithSite(ctx, site)
	report, err := a.Engine.ReplicateEntity(ctx, action, entityID)
	if err != nil || action != domain.ActionUpdate {
		return report, err
	}
	deferred, err := a.Engine.SyncAttachedFile(ctx, entityID)
	report.Deferred = &deferred
	return report, err
}

// Close detaches the engine and releases every store.
func (a *App) Close() error {
	if a.detach != nil {
		a.detach()
		a.detach = nil
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

func newLogger(cfg config.LogConfig, out io.Writer) (core.Logger, error) {
	l := logrus.New()
	l.SetOutput(out)
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	l.SetLevel(level)
	if cfg.Format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{})
	}
	return core.NewLogrusLogger(l), nil
}

func newMetrics(kind string, reg prometheus.Registerer) (core.MetricsRecorder, error) {
	switch kind {
	case config.MetricsExpvar:
		return core.NewExpvarMetricsRecorder(""), nil
	case config.MetricsPrometheus:
		rec, err := core.NewPrometheusMetricsRecorder(reg)
		if err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
		return rec, nil
	default:
		return nil, nil
	}
}
