// Package app wires the service's dependencies together.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"crewcall/internal/builder"
	"crewcall/internal/config"
	"crewcall/internal/db"
	"crewcall/internal/runner"
	"crewcall/internal/store"
	"crewcall/internal/store/postgres"
)

// Container holds every constructed dependency. All consumers receive their
// collaborators from here, there is no global state.
type Container struct {
	Config   *config.Config
	Logger   *zap.Logger
	Location *time.Location

	DB        *sql.DB
	Jobs      store.JobStore
	Snapshots *postgres.SnapshotStore
	Sender    store.Sender

	Builder *builder.Builder
	Runner  *runner.Runner
}

// NewContainer opens the database, applies migrations and builds the object
// graph. The caller owns Close.
func NewContainer(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (*Container, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	conn, err := db.Open(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx, conn, logger); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	c := &Container{
		Config:    cfg,
		Logger:    logger,
		Location:  loc,
		DB:        conn,
		Jobs:      postgres.NewJobStore(conn),
		Snapshots: postgres.NewSnapshotStore(conn),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.Sender == nil {
		c.Sender = NewDryRunSender(logger)
	}

	c.Builder = builder.New(c.Jobs, c.Snapshots, c.Snapshots, c.Snapshots, loc, cfg.MaxAttempts, logger)
	c.Runner = runner.New(c.Jobs, c.Snapshots, c.Snapshots, c.Snapshots, c.Snapshots, c.Sender,
		runner.Config{
			Location:    loc,
			Workers:     cfg.WorkerCount,
			BatchSize:   cfg.BatchSize,
			ClaimTTL:    cfg.ClaimTTL,
			RetryDelay:  cfg.RetryDelay,
			SendTimeout: cfg.SendTimeout,
		}, logger)
	return c, nil
}

func (c *Container) Close() {
	if c.DB != nil {
		if err := c.DB.Close(); err != nil {
			c.Logger.Error("close database", zap.Error(err))
		}
	}
}
