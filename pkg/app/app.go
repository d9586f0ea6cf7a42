package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/wadjakorntonsri/fusly/pkg/adapters/cache"
	"github.com/wadjakorntonsri/fusly/pkg/adapters/events"
	"github.com/wadjakorntonsri/fusly/pkg/adapters/handler"
	"github.com/wadjakorntonsri/fusly/pkg/adapters/repository/sqlstore"
	"github.com/wadjakorntonsri/fusly/pkg/config"
	"github.com/wadjakorntonsri/fusly/pkg/core/services"
	"github.com/wadjakorntonsri/fusly/pkg/ports"
)

// App wires config, storage, cache, events, services and the HTTP router.
type App struct {
	Cfg    *config.Config
	Store  *sqlstore.Store
	Links  *services.LinkService
	Owners *services.OwnerService
	Router http.Handler

	logger  *zap.Logger
	closers []io.Closer
}

// New builds a fully wired application. Close releases what it opened.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	store, err := sqlstore.Open(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a := &App{Cfg: cfg, Store: store, logger: logger}

	anon, err := store.EnsureAnonymousOwner(ctx)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("anonymous owner: %w", err)
	}

	resolveCache, err := a.openCache(ctx)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	publisher, err := a.openEvents()
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	a.Links = services.NewLinkService(store, anon.ID, services.LinkOptions{
		BaseURL:       cfg.BaseURL,
		Prefix:        cfg.URLPrefix,
		CodeLength:    cfg.CodeLength,
		CodeMaxLength: cfg.CodeMaxLength,
		Cache:         resolveCache,
		Events:        publisher,
		Logger:        logger.Named("links"),
	})
	a.Owners = services.NewOwnerService(store, logger.Named("owners"))
	a.Router = handler.NewRouter(cfg, a.Links, a.Owners, logger.Named("http"))
	return a, nil
}

func (a *App) openCache(ctx context.Context) (ports.ResolveCache, error) {
	switch {
	case a.Cfg.RedisURL != "":
		r, err := cache.NewRedis(ctx, a.Cfg.RedisURL, a.Cfg.CacheTTL, a.logger.Named("cache"))
		if err != nil {
			return nil, fmt.Errorf("open redis cache: %w", err)
		}
		a.closers = append(a.closers, r)
		a.logger.Info("resolve cache: redis")
		return r, nil
	case a.Cfg.CacheTTL > 0:
		a.logger.Info("resolve cache: memory", zap.Duration("ttl", a.Cfg.CacheTTL))
		return cache.NewMemory(a.Cfg.CacheTTL), nil
	default:
		a.logger.Info("resolve cache: disabled")
		return cache.Nop{}, nil
	}
}

func (a *App) openEvents() (ports.EventPublisher, error) {
	if a.Cfg.NATSURL == "" {
		return events.Nop{}, nil
	}
	n, err := events.NewNATS(a.Cfg.NATSURL, a.logger.Named("events"))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	a.closers = append(a.closers, n)
	return n, nil
}

// Addr returns the HTTP listen address, e.g. ":8080".
func (a *App) Addr() string {
	return ":" + a.Cfg.Port
}

// Close releases adapters in reverse order of opening, then the store.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	errs = append(errs, a.Store.Close())
	return errors.Join(errs...)
}
