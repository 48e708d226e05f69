package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrate applies all pending schema migrations under an advisory lock so
// that concurrently starting instances do not race.
func Migrate(ctx context.Context, conn *sql.DB, logger *zap.Logger) error {
	lock := NewAdvisoryLock(conn)
	if err := lock.Acquire(migrationLockID); err != nil {
		return err
	}
	defer lock.Release(migrationLockID)

	goose.SetBaseFS(migrations)
	goose.SetLogger(&gooseZapAdapter{logger: logger})
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, conn, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// gooseZapAdapter routes goose output through the application logger.
type gooseZapAdapter struct {
	logger *zap.Logger
}

func (a *gooseZapAdapter) Fatalf(format string, v ...interface{}) {
	a.logger.Fatal(fmt.Sprintf(format, v...))
}

func (a *gooseZapAdapter) Printf(format string, v ...interface{}) {
	a.logger.Info(fmt.Sprintf(format, v...))
}
