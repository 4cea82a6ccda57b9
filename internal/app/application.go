package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"chatwire/internal/config"
	"chatwire/internal/devserver"
)

// Application composes the reference backend: configuration, the
// SQLite store, and the HTTP/websocket server.
type Application struct {
	cfg    *config.Config
	store  *devserver.SQLStore
	server *devserver.Server
	log    zerolog.Logger
}

// NewApplication initializes components in dependency order:
// store first, then the server on top of it.
func NewApplication(cfg *config.Config, logger zerolog.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	store, err := devserver.NewSQLStore(cfg.Server.DatabasePath, logger)
	if err != nil {
		return nil, fmt.Errorf("initialize store: %w", err)
	}

	return &Application{
		cfg:    cfg,
		store:  store,
		server: devserver.NewServer(cfg.Server, store, logger),
		log:    logger.With().Str("component", "app").Logger(),
	}, nil
}

// Start launches the HTTP server and returns once it is accepting
// connections or has failed to bind.
func (app *Application) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := app.server.ListenAndServe(); err != nil {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		app.store.Close()
		return fmt.Errorf("start server: %w", err)
	case <-time.After(100 * time.Millisecond):
		app.log.Info().Msg("application started")
		return nil
	case <-ctx.Done():
		app.store.Close()
		return ctx.Err()
	}
}

// Stop shuts down in reverse order: HTTP first, then the store.
func (app *Application) Stop(ctx context.Context) error {
	if err := app.server.Shutdown(ctx); err != nil {
		app.log.Warn().Err(err).Msg("server shutdown")
	}
	if err := app.store.Close(); err != nil {
		app.log.Warn().Err(err).Msg("store close")
	}
	app.log.Info().Msg("application stopped")
	return nil
}

// Addr returns the listen address.
func (app *Application) Addr() string {
	return fmt.Sprintf("%s:%d", app.cfg.Server.Host, app.cfg.Server.Port)
}
