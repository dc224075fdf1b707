package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/reportmail/internal/catalog"
	"github.com/reportmail/internal/config"
	"github.com/reportmail/internal/mailer"
	"github.com/reportmail/internal/report"
	"github.com/reportmail/internal/store"
)

type reportDB interface {
	report.Querier
	Driver() string
	Close() error
}

type App struct {
	settings  *config.Settings
	logger    *slog.Logger
	dbSection config.Section
	sender    report.Sender

	open func(ctx context.Context, sec config.Section) (reportDB, error)
	now  func() time.Time
}

// New reads both config sections and prepares the mailer. A missing section
// fails here, before any connection is made.
func New(settings *config.Settings, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dbSection, err := config.ReadDatabase(settings.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("loading database config: %w", err)
	}

	emailSection, err := config.ReadEmail(settings.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("loading email config: %w", err)
	}
	mcfg, err := mailer.NewConfigFromSection(emailSection)
	if err != nil {
		return nil, fmt.Errorf("loading email config: %w", err)
	}

	m := mailer.New(mcfg)
	if mcfg.PGPPublicKeyPath != "" {
		if err := m.CanEncrypt(); err != nil {
			return nil, fmt.Errorf("pgp: %w", err)
		}
	}

	return &App{
		settings:  settings,
		logger:    logger,
		dbSection: dbSection,
		sender:    m,
		open:      openStore,
		now:       time.Now,
	}, nil
}

func openStore(ctx context.Context, sec config.Section) (reportDB, error) {
	db, err := store.Open(ctx, sec)
	if err != nil {
		return nil, err
	}
	return db, nil
}

// Run performs one scheduling pass. A failed database connection is logged
// and ends the run without an error; a failing report aborts the rest of the
// batch and is returned.
func (app *App) Run(ctx context.Context) error {
	logger := app.logger.With("run_id", uuid.NewString())
	start := time.Now()

	logger.Info("connecting to database", "driver", app.dbSection.Get("driver", "mysql"))
	db, err := app.open(ctx, app.dbSection)
	if err != nil {
		logger.Error("database connection failed", "err", err)
		return nil
	}
	logger.Info("connection established", "driver", db.Driver())
	defer func() {
		if err := db.Close(); err != nil {
			logger.Warn("closing connection", "err", err)
		}
		logger.Info("connection closed")
	}()

	cat, err := catalog.Load(app.settings.CatalogPath)
	if err != nil {
		return err
	}
	logger.Info("catalog loaded",
		"reports", cat.Len(),
		"daily", len(cat.Bucket(catalog.Daily)),
		"weekly", len(cat.Bucket(catalog.Weekly)),
		"skipped", cat.Skipped,
	)

	runner := report.NewRunner(db, app.sender, app.settings.OutputDir, logger).WithClock(app.now)

	var total report.Summary
	today := app.now()
	if today.Weekday() == app.settings.WeeklyDay {
		sum, err := runner.RunAll(ctx, cat.Bucket(catalog.Weekly))
		total = add(total, sum)
		if err != nil {
			return err
		}
	} else {
		logger.Debug("weekly reports not due", "today", today.Weekday().String(), "weekly_day", app.settings.WeeklyDay.String())
	}

	sum, err := runner.RunAll(ctx, cat.Bucket(catalog.Daily))
	total = add(total, sum)
	if err != nil {
		return err
	}

	logger.Info("run completed",
		"sent", total.Sent,
		"skipped", total.Skipped,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func add(a, b report.Summary) report.Summary {
	return report.Summary{Sent: a.Sent + b.Sent, Skipped: a.Skipped + b.Skipped}
}
