// Package server initializes and runs the debtkeeper application.
// It opens the database, applies migrations, selects the blob store and the
// key delivery channel, and serves the HTTP API until a shutdown signal.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrijs2005/debtkeeper/internal/blob"
	"github.com/dmitrijs2005/debtkeeper/internal/logging"
	"github.com/dmitrijs2005/debtkeeper/internal/server/config"
	"github.com/dmitrijs2005/debtkeeper/internal/server/httpapi"
	"github.com/dmitrijs2005/debtkeeper/internal/server/notify"
	"github.com/dmitrijs2005/debtkeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/debtkeeper/internal/server/services"
	"golang.org/x/sync/errgroup"
)

var (
	openDB = func(dsn string) (*sql.DB, error) {
		return sql.Open("pgx", dsn)
	}
	newRepositoryManager = repomanager.NewPostgresRepositoryManager
)

type App struct {
	config     *config.Config
	logger     logging.Logger
	db         *sql.DB
	httpServer *httpapi.Server
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.New(os.Stdout, c.Env)

	db, err := openDB(c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	rm := newRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations error: %w", err)
	}

	store, err := newBlobStore(ctx, c)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("blob store init error: %w", err)
	}

	notifier, err := newNotifier(c)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("notifier init error: %w", err)
	}

	ds := services.NewDebtService(db, rm, logger)
	es := services.NewEvidenceService(db, rm, store, notifier, c, logger)

	return &App{
		config:     c,
		logger:     logger,
		db:         db,
		httpServer: httpapi.NewServer(c, logger, ds, es),
	}, nil
}

func newBlobStore(ctx context.Context, c *config.Config) (blob.Store, error) {
	switch c.BlobBackend {
	case config.BlobBackendS3:
		s, err := blob.NewS3Store(ctx, blob.S3Config{
			User:         c.S3RootUser,
			Password:     c.S3RootPassword,
			Bucket:       c.S3Bucket,
			Region:       c.S3Region,
			BaseEndpoint: c.S3BaseEndpoint,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.BlobBackendLocal:
		s, err := blob.NewLocalStore(c.BlobRoot)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown blob backend %q", c.BlobBackend)
	}
}

// newNotifier prefers the signed webhook and falls back to the mailbox
// directory when no webhook is configured.
func newNotifier(c *config.Config) (notify.Notifier, error) {
	if c.WebhookURL != "" {
		return notify.NewWebhookNotifier(c.WebhookURL, c.WebhookSecret, c.WebhookTimeout), nil
	}
	m, err := notify.NewMailboxNotifier(c.MailboxDir)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (app *App) initSignalHandler(ctx context.Context, cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		defer signal.Stop(sigs)
		select {
		case s := <-sigs:
			app.logger.Info(ctx, "Shutdown signal received", "signal", s.String())
			cancelFunc()
		case <-ctx.Done():
		}
	}()
}

// Run serves until ctx is cancelled or a shutdown signal arrives, then
// closes the database.
func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...", "env", app.config.Env, "blob_backend", app.config.BlobBackend)

	app.initSignalHandler(ctx, cancelFunc)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return app.httpServer.Run(ctx)
	})

	err := g.Wait()
	if cerr := app.db.Close(); cerr != nil {
		app.logger.Error(ctx, "db close error", "error", cerr)
	}
	app.logger.Info(ctx, "App stopped")
	return err
}
