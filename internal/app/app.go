// Package app wires the driven adapters and core services from settings.
package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/custodia-labs/ledgersync/internal/adapters/driven/cache/redis"
	"github.com/custodia-labs/ledgersync/internal/adapters/driven/oauth"
	"github.com/custodia-labs/ledgersync/internal/adapters/driven/spreadsheet"
	"github.com/custodia-labs/ledgersync/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/ledgersync/internal/adapters/driven/storage/postgres"
	"github.com/custodia-labs/ledgersync/internal/adapters/driven/storage/sqlite"
	"github.com/custodia-labs/ledgersync/internal/connectors/quickbooks"
	"github.com/custodia-labs/ledgersync/internal/core/domain"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driven"
	"github.com/custodia-labs/ledgersync/internal/core/services"
	"github.com/custodia-labs/ledgersync/internal/logger"
)

// CallbackPath is where the HTTP API receives the OAuth redirect.
const CallbackPath = "/api/connection/callback"

// App holds the wired services.
type App struct {
	Settings domain.Settings

	Connections *services.ConnectionService
	Entities    *services.EntityService
	Transfer    *services.TransferService
	Audit       *services.AuditService
	Scheduler   *services.Scheduler

	closers []func() error
}

// Overrides replace adapters. Tests use them to avoid network and disk.
type Overrides struct {
	OAuth driven.OAuthClient
	API   driven.AccountingAPI
}

type stores struct {
	conns     driven.ConnectionStore
	logs      driven.OperationLogStore
	scheduler driven.SchedulerStore
}

// New builds the application. configDir locates the default SQLite data
// directory when settings do not name one.
func New(ctx context.Context, settings domain.Settings, configDir string, ov Overrides) (*App, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	a := &App{Settings: settings}

	st, err := a.openStores(ctx, configDir)
	if err != nil {
		return nil, errors.Join(err, a.Close())
	}
	grace, err := a.openGrace(ctx)
	if err != nil {
		return nil, errors.Join(err, a.Close())
	}

	oauthClient := ov.OAuth
	if oauthClient == nil {
		oauthClient = oauth.NewClient(oauth.Config{
			ClientID:     settings.OAuth.ClientID,
			ClientSecret: settings.OAuth.ClientSecret,
			AuthURL:      settings.OAuth.AuthURL,
			TokenURL:     settings.OAuth.TokenURL,
			RevokeURL:    settings.OAuth.RevokeURL,
			Scopes:       settings.OAuth.Scopes,
		})
	}
	api := ov.API
	if api == nil {
		api = quickbooks.NewClient(quickbooks.Config{
			BaseURL:       settings.API.BaseURL,
			MinorVersion:  settings.API.MinorVersion,
			Timeout:       settings.API.RequestTimeout,
			RatePerSecond: settings.API.RatePerSecond,
		})
	}

	status := services.NewStatusResolver(st.conns, grace, settings.Windows)
	audit := services.NewOperationLogger(st.logs)
	guard := services.NewTokenGuard(st.conns, oauthClient, status, audit, settings.Windows.RefreshThreshold)
	flow := services.NewAuthorizationFlow(oauthClient, api, st.conns, status, audit, RedirectURI(settings))
	engine := services.NewEntitySync(domain.DefaultCatalog(), api, guard, audit, settings.API)
	workbook := spreadsheet.New()

	a.Connections = services.NewConnectionService(flow, status, st.conns, oauthClient, audit)
	a.Entities = services.NewEntityService(engine, services.NewBulkDeleter(engine))
	a.Transfer = services.NewTransferService(engine, workbook, workbook, audit)
	a.Audit = services.NewAuditService(st.logs)
	a.Scheduler = services.NewScheduler(settings.Scheduler, st.scheduler, st.conns, guard, settings.Windows.RefreshThreshold)

	if !settings.HasOAuthApp() {
		logger.Warn("oauth client id/secret are not configured; connect will fail until they are set")
	}
	return a, nil
}

func (a *App) openStores(ctx context.Context, configDir string) (stores, error) {
	s := a.Settings.Storage
	switch s.Driver {
	case domain.StoragePostgres:
		pg, err := postgres.Open(ctx, s.DSN)
		if err != nil {
			return stores{}, fmt.Errorf("postgres storage: %w", err)
		}
		a.closers = append(a.closers, pg.Close)
		return stores{
			conns:     pg.ConnectionStore(),
			logs:      pg.OperationLogStore(),
			scheduler: pg.SchedulerStore(),
		}, nil

	case domain.StorageMemory:
		return stores{
			conns:     memory.NewConnectionStore(),
			logs:      memory.NewOperationLogStore(),
			scheduler: memory.NewSchedulerStore(),
		}, nil

	default:
		dataDir := s.DataDir
		if dataDir == "" && configDir != "" {
			dataDir = filepath.Join(configDir, "data")
		}
		db, err := sqlite.NewStore(dataDir)
		if err != nil {
			return stores{}, fmt.Errorf("sqlite storage: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		logger.Debug("storage: sqlite at %s", db.Path())
		return stores{
			conns:     db.ConnectionStore(),
			logs:      db.OperationLogStore(),
			scheduler: db.SchedulerStore(),
		}, nil
	}
}

func (a *App) openGrace(ctx context.Context) (driven.GraceStore, error) {
	g := a.Settings.Grace
	if g.Backend != domain.GraceRedis {
		return memory.NewGraceStore(nil), nil
	}
	rs, err := redis.NewGraceStore(ctx, redis.Options{Addr: g.RedisAddr, Password: g.RedisPassword, DB: g.RedisDB})
	if err != nil {
		return nil, fmt.Errorf("redis grace store: %w", err)
	}
	a.closers = append(a.closers, rs.Close)
	return rs, nil
}

// Close releases stores in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// RedirectURI is the configured redirect URI, or the API's own callback.
func RedirectURI(s domain.Settings) string {
	if s.OAuth.RedirectURI != "" {
		return s.OAuth.RedirectURI
	}
	return "http://" + s.Server.Addr + CallbackPath
}
