package server

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ras-rm/auth-service/config"
	"github.com/ras-rm/auth-service/internal/account"
	"github.com/ras-rm/auth-service/internal/db"
	"github.com/ras-rm/auth-service/internal/mq"
	"github.com/ras-rm/auth-service/internal/notify"
	"github.com/ras-rm/auth-service/internal/party"
	"github.com/ras-rm/auth-service/internal/password"
	"github.com/ras-rm/auth-service/internal/retention"
	"github.com/ras-rm/auth-service/internal/services"
	"github.com/ras-rm/auth-service/internal/storage"
	"github.com/ras-rm/auth-service/internal/store"
)

// App holds the wired services shared by the HTTP server and the batch
// commands.
type App struct {
	Config   config.Config
	Logger   *zap.Logger
	DB       *sql.DB
	Accounts *services.AccountService
	Batch    *services.BatchService

	closers []func() error
}

// NewApp connects every backing service described by cfg.
func NewApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	app := &App{Config: cfg, Logger: logger}
	if err := app.wire(ctx); err != nil {
		_ = app.Close()
		return nil, err
	}
	return app, nil
}

func (app *App) wire(ctx context.Context) error {
	cfg, logger := app.Config, app.Logger

	policy := RetentionPolicy(cfg.Retention)
	if err := policy.Validate(); err != nil {
		return fmt.Errorf("retention config: %w", err)
	}

	dbConn, err := db.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	app.DB = dbConn
	app.closers = append(app.closers, dbConn.Close)

	partyClient, err := party.NewClient(cfg.Party)
	if err != nil {
		return err
	}

	var publisher notify.Publisher
	if cfg.Notify.Enabled {
		queue, err := mq.Open(ctx, cfg.MQ)
		if err != nil {
			return fmt.Errorf("open message broker: %w", err)
		}
		app.closers = append(app.closers, queue.Close)
		publisher = queue
	}
	dispatcher := notify.NewDispatcher(notify.ConfigFrom(cfg.Notify), publisher, partyClient, logger.Named("notify"))

	var opts []services.BatchOption
	reportBackend, err := storage.Open(ctx, cfg.Reports)
	if err != nil {
		return fmt.Errorf("open report storage: %w", err)
	}
	if reportBackend != nil {
		app.closers = append(app.closers, reportBackend.Close)
		opts = append(opts, services.WithReportStore(storage.NewReportArchive(reportBackend)))
	}

	repo := store.NewAccountRepository(dbConn)
	tx := db.NewTxManager(dbConn, logger)
	machine := account.NewMachine(
		account.Policy{MaxFailedLogins: cfg.Lifecycle.MaxFailedLogins},
		password.NewVault(cfg.Lifecycle.BcryptCost),
		nil,
	)

	app.Accounts = services.NewAccountService(repo, tx, machine, logger.Named("account"))
	app.Batch = services.NewBatchService(repo, tx, policy, dispatcher, partyClient, logger.Named("batch"), opts...)
	return nil
}

// RetentionPolicy converts the configured day and hour counts into a policy.
func RetentionPolicy(cfg config.RetentionConfig) retention.Policy {
	const day = 24 * time.Hour
	return retention.Policy{
		FirstNotificationAfter:  time.Duration(cfg.FirstNotificationDays) * day,
		SecondNotificationAfter: time.Duration(cfg.SecondNotificationDays) * day,
		ThirdNotificationAfter:  time.Duration(cfg.ThirdNotificationDays) * day,
		DeletionAfter:           time.Duration(cfg.DeletionDays) * day,
		UnverifiedGrace:         time.Duration(cfg.UnverifiedHours) * time.Hour,
	}
}

// Close releases connections in reverse order of opening.
func (a *App) Close() error {
	var err error
	for i := len(a.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, a.closers[i]())
	}
	a.closers = nil
	return err
}
