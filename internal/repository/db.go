package repository

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"thumbnail-bot/internal/model"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

var (
	// ErrNotFound is returned when a record is absent or its id is malformed.
	ErrNotFound = errors.New("record not found")
	// ErrStoreUnavailable wraps every driver failure after startup.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrConnect is returned when the startup connection retries are exhausted.
	ErrConnect = errors.New("store connect failed")
)

// RetryPolicy bounds the startup connection attempts.
type RetryPolicy struct {
	Attempts        int
	InitialInterval time.Duration
}

// DefaultRetryPolicy mirrors the five attempts with growing delay used at startup.
var DefaultRetryPolicy = RetryPolicy{Attempts: 5, InitialInterval: 2 * time.Second}

// Connect opens the database with bounded exponential retry, pings it and
// runs migrations. Exhausted retries yield an error wrapping ErrConnect.
func Connect(ctx context.Context, dsn, dbName string, policy RetryPolicy, log *zap.Logger) (*gorm.DB, error) {
	driver, resolved, err := ResolveDSN(dsn, dbName)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnect, err)
	}
	if policy.Attempts < 1 {
		policy.Attempts = 1
	}
	if policy.InitialInterval <= 0 {
		policy.InitialInterval = DefaultRetryPolicy.InitialInterval
	}

	var db *gorm.DB
	attempt := 0
	op := func() error {
		attempt++
		conn, err := open(driver, resolved, log)
		if err != nil {
			return err
		}
		sqlDB, err := conn.DB()
		if err != nil {
			return fmt.Errorf("get sql db: %w", err)
		}
		if err := sqlDB.PingContext(ctx); err != nil {
			_ = sqlDB.Close()
			return fmt.Errorf("ping db: %w", err)
		}
		db = conn
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = policy.InitialInterval
	b.Multiplier = 2
	b.MaxElapsedTime = 0
	retry := backoff.WithContext(backoff.WithMaxRetries(b, uint64(policy.Attempts-1)), ctx)

	notify := func(err error, wait time.Duration) {
		log.Warn("database connect attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", policy.Attempts),
			zap.Duration("retry_in", wait),
			zap.Error(err))
	}

	if err := backoff.RetryNotify(op, retry, notify); err != nil {
		log.Error("database connect failed", zap.Int("attempts", attempt), zap.Error(err))
		return nil, fmt.Errorf("%w after %d attempts: %w", ErrConnect, attempt, err)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	log.Info("connected to database", zap.String("driver", driver))
	return db, nil
}

// Migrate creates or updates the users and templates tables.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&model.User{}, &model.Template{}); err != nil {
		return fmt.Errorf("migrate db: %w", err)
	}
	return nil
}

// ResolveDSN picks the driver for dsn and applies the optional database name
// override. postgres:// and mysql:// URLs select those drivers; anything else
// is treated as a SQLite path.
func ResolveDSN(dsn, dbName string) (driver, resolved string, err error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return "", "", fmt.Errorf("empty database url")
	}

	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		if dbName == "" {
			return DriverPostgres, dsn, nil
		}
		u, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse postgres url: %w", err)
		}
		u.Path = "/" + dbName
		return DriverPostgres, u.String(), nil
	case strings.HasPrefix(dsn, "mysql://"):
		return DriverMySQL, mysqlDSN(strings.TrimPrefix(dsn, "mysql://"), dbName), nil
	default:
		return DriverSQLite, sqliteDSN(strings.TrimPrefix(dsn, "sqlite://"), dbName), nil
	}
}

func mysqlDSN(raw, dbName string) string {
	base, query, _ := strings.Cut(raw, "?")
	if dbName != "" {
		if i := strings.LastIndex(base, "/"); i >= 0 {
			base = base[:i+1] + dbName
		} else {
			base += "/" + dbName
		}
	}
	if !strings.Contains(query, "parseTime=") {
		if query != "" {
			query += "&"
		}
		query += "parseTime=true"
	}
	return base + "?" + query
}

func sqliteDSN(raw, dbName string) string {
	if dbName == "" || isMemorySQLite(raw) {
		return raw
	}
	path, query, hasQuery := strings.Cut(raw, "?")
	prefix := ""
	if strings.HasPrefix(path, "file:") {
		prefix = "file:"
		path = strings.TrimPrefix(path, "file:")
	}
	path = prefix + filepath.Join(filepath.Dir(path), dbName+".db")
	if hasQuery {
		path += "?" + query
	}
	return path
}

func open(driver, dsn string, log *zap.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	case DriverMySQL:
		dialector = mysql.Open(dsn)
	default:
		if err := ensureDirForSQLite(dsn); err != nil {
			return nil, err
		}
		dialector = sqlite.Open(dsn)
	}

	dbLogger := logger.New(
		zap.NewStdLog(log.Named("gorm")),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: dbLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if driver == DriverSQLite {
		// SQLite works best with a single writer.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("get sql db: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
	}

	return db, nil
}

func isMemorySQLite(dsn string) bool {
	return strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
}

// ensureDirForSQLite creates parent dir for SQLite file if needed.
func ensureDirForSQLite(dsn string) error {
	if isMemorySQLite(dsn) {
		return nil
	}
	clean := strings.TrimPrefix(dsn, "file:")
	clean = strings.Split(clean, "?")[0]
	dir := filepath.Dir(clean)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create db dir %q: %w", dir, err)
	}
	return nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}
