// Package app builds the mirror's components from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/git-pkgs/mirror/all"
	"github.com/git-pkgs/mirror/client"
	"github.com/git-pkgs/mirror/fetch"
	"github.com/git-pkgs/mirror/internal/cache"
	"github.com/git-pkgs/mirror/internal/catalog"
	"github.com/git-pkgs/mirror/internal/config"
	"github.com/git-pkgs/mirror/internal/core"
	"github.com/git-pkgs/mirror/internal/jobs"
	"github.com/git-pkgs/mirror/internal/publish"
	"github.com/git-pkgs/mirror/internal/queue"
	"github.com/git-pkgs/mirror/internal/queue/sqlite"
	"github.com/git-pkgs/mirror/internal/registry"
	"github.com/git-pkgs/mirror/internal/server"
	"github.com/git-pkgs/mirror/internal/service"
	"github.com/git-pkgs/mirror/internal/store"
	"github.com/git-pkgs/mirror/internal/store/memory"
	"github.com/git-pkgs/mirror/internal/store/postgres"
)

type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	Breakers  *fetch.Breakers
	Registry  *registry.Registry
	Catalog   *catalog.Catalog
	Publisher *publish.Publisher
	Queue     *sqlite.Transport
	Service   *service.Service

	closers []func() error
}

func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	records, err := a.openStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	documents, err := a.openCache()
	if err != nil {
		return nil, fmt.Errorf("opening cache: %w", err)
	}

	a.Queue, err = sqlite.Open(sqlite.Config{
		Path:         cfg.Queue.Path,
		PollInterval: cfg.Queue.PollInterval,
		BatchSize:    cfg.Queue.BatchSize,
		Lease:        cfg.Queue.Lease,
		MaxAttempts:  cfg.Queue.MaxAttempts,
		Logger:       logger.With("component", "queue"),
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.Queue.Close)

	a.Breakers = fetch.NewBreakers(nil, cfg.HTTP.BreakerThreshold)
	httpClient := client.NewClient(
		client.WithTimeout(cfg.HTTP.Timeout),
		client.WithMaxRetries(cfg.HTTP.MaxRetries),
		client.WithTransport(a.Breakers),
	).WithUserAgent(cfg.HTTP.UserAgent)
	selector := core.NewSelector(cfg.HostConfig(), httpClient, all.Definitions()...)

	a.Registry = registry.New(store.NewPrefixed(records, registry.Kind), selector, logger.With("component", "registry"))
	a.Catalog = catalog.New(store.NewPrefixed(records, catalog.Kind), logger.With("component", "catalog"))
	a.Publisher = publish.New(a.Catalog, a.Registry, documents, logger.With("component", "publish"))
	a.Service = service.New(a.Registry, a.Catalog, a.Queue, logger.With("component", "service"))
	return a, nil
}

func (a *App) openStore(ctx context.Context) (store.Store, error) {
	cfg := a.Config.Store
	switch cfg.Driver {
	case "postgres":
		s, err := postgres.Open(ctx, cfg.DatabaseURL, cfg.Table, cfg.PageSize)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, s.Close)
		return s, nil
	case "memory", "":
		a.Logger.Warn("using in-memory store, state is lost on exit")
		return memory.New(cfg.PageSize), nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}

func (a *App) openCache() (cache.Store, error) {
	cfg := a.Config.Cache
	var documents cache.Store
	switch cfg.Driver {
	case "s3":
		s3, err := cache.NewS3Store(cache.S3Config{
			Endpoint:  cfg.S3.Endpoint,
			Region:    cfg.S3.Region,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			Bucket:    cfg.S3.Bucket,
			Prefix:    cfg.S3.Prefix,
			UseSSL:    cfg.S3.UseSSL,
		})
		if err != nil {
			return nil, err
		}
		documents = s3
	case "memory", "":
		documents = cache.NewMemory()
	default:
		return nil, fmt.Errorf("unknown cache driver %q", cfg.Driver)
	}
	if cfg.LRUSize <= 0 {
		return documents, nil
	}
	return cache.NewLRU(documents, cfg.LRUSize)
}

// Dispatcher returns a dispatcher running every job handler.
func (a *App) Dispatcher() *queue.Dispatcher {
	handlers := jobs.Handlers(jobs.Deps{
		Registry:  a.Registry,
		Catalog:   a.Catalog,
		Publisher: a.Publisher,
		Transport: a.Queue,
		Logger:    a.Logger.With("component", "jobs"),
		Config: jobs.Config{
			RetryIncrement: a.Config.Jobs.RetryIncrement,
			MaxDelay:       a.Config.Jobs.MaxDelay,
			BuildDelay:     a.Config.Jobs.BuildDelay,
		},
	})
	return queue.NewDispatcher(a.Logger.With("component", "dispatcher"), handlers...)
}

// Worker consumes the queue until ctx is cancelled.
func (a *App) Worker(ctx context.Context) error {
	return a.Queue.Run(ctx, a.Dispatcher())
}

// Handler returns the HTTP handler of the mirror.
func (a *App) Handler() http.Handler {
	h := server.NewHandler(a.Publisher, a.Service, a.Logger.With("component", "server"))
	h.Circuits = a.Breakers.State
	return server.NewMux(h)
}

func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
