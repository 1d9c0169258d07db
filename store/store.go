package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/isdmx/agentbox/config"
	"github.com/isdmx/agentbox/execution"
	"github.com/isdmx/agentbox/pipeline"
)

// Drivers accepted by Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

const memoryDSN = ":memory:"

// Store persists log entries, artifact records and execution snapshots.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
	driver string
}

var (
	_ pipeline.Store     = (*Store)(nil)
	_ execution.Recorder = (*Store)(nil)
)

// Open connects to the configured database and migrates the schema.
func Open(cfg config.StorageConfig, logger *zap.Logger) (*Store, error) {
	logger = logger.Named("store")

	var (
		dialector gorm.Dialector
		pooled    bool
	)
	switch cfg.Driver {
	case DriverSQLite:
		dsn, err := sqliteDSN(cfg.DSN)
		if err != nil {
			return nil, err
		}
		dialector = sqlite.Open(dsn)
	case DriverPostgres:
		dialector = postgres.Open(cfg.DSN)
		pooled = true
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         newGormLogger(logger),
		NowFunc:        func() time.Time { return time.Now().UTC() },
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening %s database: %w", cfg.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting underlying sql.DB: %w", err)
	}
	if pooled {
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
		sqlDB.SetConnMaxIdleTime(10 * time.Minute)
	} else {
		// SQLite serializes writers anyway, and an in-memory database only
		// lives as long as its single connection.
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
		sqlDB.SetConnMaxLifetime(0)
		sqlDB.SetConnMaxIdleTime(0)
	}

	s := &Store{db: db, logger: logger, driver: cfg.Driver}
	if err := s.migrate(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("auto-migrating: %w", err)
	}

	logger.Info("store opened", zap.String("driver", cfg.Driver))
	return s, nil
}

// sqliteDSN adds the connection pragmas to a database path, creating the
// parent directory of a file database.
func sqliteDSN(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("sqlite path is required")
	}
	if path == memoryDSN {
		return memoryDSN, nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("creating database directory %s: %w", dir, err)
	}
	return fmt.Sprintf("%s?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)", path), nil
}

func (s *Store) migrate() error {
	return s.db.AutoMigrate(
		&ExecutionModel{},
		&LogEntryModel{},
		&ArtifactModel{},
	)
}

// Driver returns the name of the database driver in use.
func (s *Store) Driver() string {
	return s.driver
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the database connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func newGormLogger(l *zap.Logger) logger.Interface {
	return logger.New(
		zapAdapter{l.WithOptions(zap.AddCallerSkip(3))},
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)
}

// zapAdapter wraps *zap.Logger for GORM's logger.Writer interface.
type zapAdapter struct {
	logger *zap.Logger
}

func (z zapAdapter) Printf(format string, args ...any) {
	z.logger.Warn(fmt.Sprintf(format, args...))
}
