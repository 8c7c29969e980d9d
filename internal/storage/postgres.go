package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
	"gorm.io/gorm/schema"

	"gitlab.com/timkado/api/daisi-wa-handoff/internal/apperrors"
	"gitlab.com/timkado/api/daisi-wa-handoff/internal/model"
	"gitlab.com/timkado/api/daisi-wa-handoff/internal/tenant"
	"gitlab.com/timkado/api/daisi-wa-handoff/pkg/logger"
)

// --- Retry Logic Configuration ---
const (
	defaultRetryInitialInterval = 50 * time.Millisecond
	defaultRetryMaxInterval     = 2 * time.Second
	readRetryMaxElapsedTime     = 5 * time.Second  // More aggressive for reads
	commitRetryMaxElapsedTime   = 15 * time.Second // More tolerant for commits
)

// newRetryPolicy creates a new exponential backoff policy with context awareness.
func newRetryPolicy(ctx context.Context, maxElapsedTime time.Duration) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = defaultRetryInitialInterval
	b.MaxInterval = defaultRetryMaxInterval
	b.MaxElapsedTime = maxElapsedTime
	b.Reset()
	return backoff.WithContext(b, ctx)
}

// retryableOperation wraps a database operation with retry logic.
// Conditional-write conflicts and domain errors are never retried.
func retryableOperation(ctx context.Context, policy backoff.BackOffContext, opName string, operation func() error) error {
	notify := func(err error, d time.Duration) {
		logger.FromContext(ctx).Warn("Retrying DB operation",
			zap.String("operation", opName),
			zap.Error(err),
			zap.Duration("after", d),
		)
	}

	return backoff.RetryNotify(func() error {
		err := operation()
		if err == nil {
			return nil
		}
		if errors.Is(err, gorm.ErrRecordNotFound) ||
			errors.Is(err, gorm.ErrInvalidTransaction) ||
			errors.Is(err, apperrors.ErrConflict) ||
			errors.Is(err, apperrors.ErrNotFound) ||
			errors.Is(err, apperrors.ErrDuplicate) ||
			errors.Is(err, apperrors.ErrInvalidTransition) {
			return backoff.Permanent(err)
		}
		if isTransientError(err) {
			return err
		}
		return backoff.Permanent(err)
	}, policy, notify)
}

// isTransientError checks if the error suggests a temporary issue like a network problem.
func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	// See https://www.postgresql.org/docs/current/errcodes-appendix.html
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08 connection, class 53 resources, deadlock, serialization failure
		if strings.HasPrefix(pgErr.Code, "08") ||
			strings.HasPrefix(pgErr.Code, "53") ||
			pgErr.Code == "40P01" ||
			pgErr.Code == "40001" {
			return true
		}
	}

	errStr := strings.ToLower(err.Error())
	transientIndicators := []string{
		"connection refused",
		"network is unreachable",
		"i/o timeout",
		"broken pipe",
		"connection reset by peer",
		"could not translate host name",
		"no route to host",
		"database system is starting up",
		"connection timed out",
		"connection reset",
	}
	for _, indicator := range transientIndicators {
		if strings.Contains(errStr, indicator) {
			return true
		}
	}

	return false
}

// PostgresRepo implements every repository on a single gorm connection bound to one tenant schema.
type PostgresRepo struct {
	db *gorm.DB
}

// tenantNamer implements gorm schema.Namer for per-tenant schemas.
// It embeds the default NamingStrategy and overrides TableName.
type tenantNamer struct {
	schema.NamingStrategy
	schemaName string
}

// TableName qualifies every table with the tenant schema.
func (tn tenantNamer) TableName(table string) string {
	return fmt.Sprintf("%q.%s", tn.schemaName, table)
}

// NewPostgresRepo connects to postgres, ensures the tenant schema exists and migrates it when asked.
func NewPostgresRepo(dsn string, autoMigrate bool, companyID string) (*PostgresRepo, error) {
	schemaName := tenant.SchemaName(companyID)

	connect := func(cfg *gorm.Config, what string) (*gorm.DB, error) {
		operation := func() (*gorm.DB, error) {
			db, err := gorm.Open(postgres.Open(dsn), cfg)
			if err != nil {
				if isTransientError(err) {
					return nil, err
				}
				return nil, backoff.Permanent(fmt.Errorf("failed to connect to %s: %w", what, err))
			}
			return db, nil
		}
		notify := func(err error, d time.Duration) {
			logger.Log.Warn("Retrying DB connection", zap.String("target", what), zap.Error(err), zap.Duration("after", d))
		}

		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 1 * time.Second
		b.MaxInterval = 15 * time.Second
		b.MaxElapsedTime = 1 * time.Minute

		return backoff.RetryNotifyWithData(operation, b, notify)
	}

	dbDefault, err := connect(&gorm.Config{Logger: gormLogger.Default.LogMode(gormLogger.Warn)}, "default postgres")
	if err != nil {
		return nil, fmt.Errorf("failed to connect to default postgres after retries: %w", err)
	}

	logger.Log.Info("Ensuring PostgreSQL schema exists", zap.String("schema", schemaName))
	if err := dbDefault.Exec(fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %q", schemaName)).Error; err != nil {
		closeGorm(dbDefault)
		return nil, fmt.Errorf("failed to create schema %s: %w", schemaName, err)
	}
	closeGorm(dbDefault)

	db, err := connect(&gorm.Config{
		NamingStrategy: tenantNamer{schemaName: schemaName},
		Logger:         gormLogger.Default.LogMode(gormLogger.Warn),
		TranslateError: false,
	}, "tenant schema "+schemaName)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres tenant db %s after retries: %w", schemaName, err)
	}

	repo := &PostgresRepo{db: db}

	if autoMigrate {
		if err := repo.migrate(); err != nil {
			closeGorm(db)
			return nil, err
		}
	}

	logger.Log.Info("PostgreSQL repository ready", zap.String("schema", schemaName), zap.Bool("auto_migrate", autoMigrate))
	return repo, nil
}

// migrate creates the handoff tables plus the partial indexes AutoMigrate cannot express.
func (r *PostgresRepo) migrate() error {
	logger.Log.Info("Running AutoMigrate for handoff tables")
	if err := r.db.AutoMigrate(
		&model.Lead{},
		&model.Conversation{},
		&model.Message{},
		&model.TransferLog{},
		&model.ScoreLog{},
		&model.Agent{},
	); err != nil {
		return fmt.Errorf("auto-migrate failed: %w", err)
	}

	conversations := r.table("conversations")
	indexes := map[string]string{
		// one open conversation per lead and channel
		"idx_conversations_open_lead_channel": fmt.Sprintf(
			"CREATE UNIQUE INDEX IF NOT EXISTS idx_conversations_open_lead_channel ON %s (lead_id, channel) WHERE status <> 'completed'", conversations),
		// claim-next scans only waiting rows
		"idx_conversations_queue": fmt.Sprintf(
			"CREATE INDEX IF NOT EXISTS idx_conversations_queue ON %s (company_id, priority, transferred_at) WHERE status = 'transferred' AND assigned_agent_id IS NULL", conversations),
	}
	for name, ddl := range indexes {
		if err := r.db.Exec(ddl).Error; err != nil {
			return fmt.Errorf("failed to create index %s: %w", name, err)
		}
	}
	return nil
}

// table returns the schema-qualified name of a base table.
func (r *PostgresRepo) table(base string) string {
	return r.db.NamingStrategy.TableName(base)
}

// Ping checks the database connection, used by readiness probes.
func (r *PostgresRepo) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrDatabase, err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: ping failed: %w", apperrors.ErrDatabase, err)
	}
	return nil
}

// Close closes the database connection
func (r *PostgresRepo) Close(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		logger.FromContext(ctx).Warn("Failed to get underlying SQL DB for closing", zap.Error(err))
		return nil
	}

	if closeErr := sqlDB.Close(); closeErr != nil {
		logger.FromContext(ctx).Error("Failed to close database connection", zap.Error(closeErr))
		return fmt.Errorf("failed to close SQL DB: %w", closeErr)
	}

	logger.FromContext(ctx).Info("Database connection closed successfully")
	return nil
}

func closeGorm(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		return
	}
	if err := sqlDB.Close(); err != nil {
		logger.Log.Warn("Failed to close DB connection", zap.Error(err))
	}
}

// withTx runs fn inside a transaction, rolling back on error or panic.
func (r *PostgresRepo) withTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	tx := r.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return fmt.Errorf("%w: failed to begin transaction: %w", apperrors.ErrDatabase, tx.Error)
	}
	var txErr error
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		} else if txErr != nil {
			if rbErr := tx.Rollback().Error; rbErr != nil {
				logger.FromContext(ctx).Error("Failed to rollback transaction after error", zap.Error(rbErr), zap.NamedError("originalTxError", txErr))
			}
		}
	}()

	if txErr = fn(tx); txErr != nil {
		return txErr
	}
	if commitErr := tx.Commit().Error; commitErr != nil {
		txErr = fmt.Errorf("%w: failed to commit transaction: %w", apperrors.ErrDatabase, commitErr)
		return txErr
	}
	return nil
}

// companyFromContext resolves the tenant or returns ErrUnauthorized.
func companyFromContext(ctx context.Context) (string, error) {
	companyID, err := tenant.FromContext(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: failed to get tenant ID from context: %w", apperrors.ErrUnauthorized, err)
	}
	return companyID, nil
}

// checkConstraintViolation inspects database errors and maps them to standard apperrors.
func checkConstraintViolation(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %w", apperrors.ErrNotFound, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		// Class 23 — Integrity Constraint Violation
		case "23505": // unique_violation
			return fmt.Errorf("%w: constraint %s: %w", apperrors.ErrDuplicate, pgErr.ConstraintName, err)
		case "23503": // foreign_key_violation
			return fmt.Errorf("%w: constraint %s: %w", apperrors.ErrBadRequest, pgErr.ConstraintName, err)
		case "23502": // not_null_violation
			return fmt.Errorf("%w: null value in column %s: %w", apperrors.ErrBadRequest, pgErr.ColumnName, err)
		case "23514": // check_violation
			return fmt.Errorf("%w: constraint %s: %w", apperrors.ErrBadRequest, pgErr.ConstraintName, err)

		// Class 22 — Data Exception
		case "22001": // string_data_right_truncation
			return fmt.Errorf("%w: value too long for column %s: %w", apperrors.ErrBadRequest, pgErr.ColumnName, err)
		case "22P02": // invalid_text_representation
			return fmt.Errorf("%w: invalid input syntax for type %s: %w", apperrors.ErrBadRequest, pgErr.DataTypeName, err)

		// Class 40 — Transaction Rollback
		case "40001", "40P01":
			return fmt.Errorf("%w: transaction rollback (%s): %w", apperrors.ErrDatabase, pgErr.Code, err)

		default:
			if strings.HasPrefix(pgErr.Code, "53") {
				return fmt.Errorf("%w: insufficient resources (%s): %w", apperrors.ErrDatabase, pgErr.Code, err)
			}
			if strings.HasPrefix(pgErr.Code, "08") {
				return fmt.Errorf("%w: connection error (%s): %w", apperrors.ErrDatabase, pgErr.Code, err)
			}
			return fmt.Errorf("%w: unhandled pgcode %s: %w", apperrors.ErrDatabase, pgErr.Code, err)
		}
	}

	return fmt.Errorf("%w: %w", apperrors.ErrDatabase, err)
}
