// Package metadata persists the backup state of every known media file:
// the files workflow table, the dictionaries normalizing its string
// domains, the append-only file_history table and the backups ledger.
package metadata

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/glebarez/sqlite"
	"github.com/go-sql-driver/mysql"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"gitlab.wikimedia.org/repos/sre/mediabackups/internal/logger"
	"gitlab.wikimedia.org/repos/sre/mediabackups/pkg/config"
)

const (
	defaultHost      = "localhost"
	defaultPort      = 3306
	defaultDatabase  = "mediabackups"
	defaultBatchsize = 1000
)

var (
	// ErrConnection reports a failure to open or reach the metadata
	// database.
	ErrConnection = errors.New("metadata database connection failed")

	// ErrQuery reports a query that kept failing after reconnecting.
	ErrQuery = errors.New("metadata database query failed")

	// ErrSchema reports a write that affected a different number of rows
	// than the workflow requires.
	ErrSchema = errors.New("unexpected affected row count")

	// ErrDictionary reports a normalization table that could not be
	// loaded, was empty, or lacks a required entry.
	ErrDictionary = errors.New("could not read dictionary")
)

// Store gives structured access to the mediabackups metadata database.
// It supports MySQL (production), PostgreSQL and SQLite backends via the
// same codebase.
type Store struct {
	cfg       config.MetadataConfig
	batchsize int
	db        *gorm.DB
}

// New returns a store over the metadata database described by the given
// configuration. No connection is opened until Connect.
func New(cfg config.MetadataConfig) *Store {
	batchsize := cfg.Batchsize
	if batchsize <= 0 {
		batchsize = defaultBatchsize
	}
	return &Store{cfg: cfg, batchsize: batchsize}
}

// Connect opens the database connection, closing any previous one first.
func (s *Store) Connect(ctx context.Context) error {
	if err := s.Close(); err != nil {
		return err
	}

	var dialector gorm.Dialector
	switch s.cfg.DBType {
	case "mysql", "":
		dialector = gormmysql.Open(mysqlConfig(s.cfg).FormatDSN())

	case "postgres":
		dialector = postgres.Open(postgresDSN(s.cfg))

	case "sqlite":
		// SQLite pragmas for better concurrent access:
		// - journal_mode(WAL): Write-Ahead Logging for concurrent readers/single writer
		// - busy_timeout(5000): Wait up to 5 seconds when database is locked
		dialector = sqlite.Open(s.cfg.Database + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")

	default:
		return fmt.Errorf("%w: unsupported database type: %s", ErrConnection, s.cfg.DBType)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent), // Suppress GORM logs by default
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	if s.cfg.DBType == "sqlite" {
		// a second pooled connection would get its own database when the
		// path is :memory:, and sqlite allows a single writer anyway
		sqlDB.SetMaxOpenConns(1)
	}

	s.db = db
	return nil
}

func mysqlConfig(cfg config.MetadataConfig) *mysql.Config {
	dsn := mysql.NewConfig()
	dsn.User = cfg.User
	dsn.Passwd = cfg.Password
	dsn.DBName = cfg.Database
	if dsn.DBName == "" {
		dsn.DBName = defaultDatabase
	}
	dsn.ParseTime = true
	if cfg.Socket != "" {
		dsn.Net = "unix"
		dsn.Addr = cfg.Socket
	} else {
		host := cfg.Host
		if host == "" {
			host = defaultHost
		}
		port := cfg.Port
		if port == 0 {
			port = defaultPort
		}
		dsn.Net = "tcp"
		dsn.Addr = net.JoinHostPort(host, strconv.Itoa(port))
	}
	return dsn
}

func postgresDSN(cfg config.MetadataConfig) string {
	port := cfg.Port
	if port == 0 {
		port = 5432
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cfg.Host, port, cfg.User, cfg.Password, cfg.Database)
}

// Close releases the database connection. Safe to call when not connected.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	s.db = nil
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// DB returns the underlying GORM database connection.
// This is useful for advanced queries or testing.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Batchsize returns how many pending files are claimed per round.
func (s *Store) Batchsize() int {
	return s.batchsize
}

// run executes one statement, reconnecting and retrying once when it
// fails, the same resilience the rest of the store is built on. Unique
// key collisions are returned right away so callers can tell duplicates
// apart from lost connections.
func (s *Store) run(ctx context.Context, stmt func(db *gorm.DB) *gorm.DB) (int64, error) {
	tx := stmt(s.db.WithContext(ctx))
	if tx.Error == nil {
		return tx.RowsAffected, nil
	}
	if isUniqueConstraintError(tx.Error) {
		return tx.RowsAffected, tx.Error
	}
	logger.Warn("a query error occurred, trying to reconnect", logger.Err(tx.Error))
	if err := s.Connect(ctx); err != nil {
		return 0, err
	}
	tx = stmt(s.db.WithContext(ctx))
	if tx.Error != nil {
		logger.Error("query failed again after trying to reconnect", logger.Err(tx.Error))
		return 0, fmt.Errorf("%w: %v", ErrQuery, tx.Error)
	}
	return tx.RowsAffected, nil
}

// isUniqueConstraintError checks if the error is a unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	// SQLite, MySQL or PostgreSQL unique constraint errors
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "Duplicate entry") ||
		strings.Contains(errStr, "duplicate key value violates unique constraint")
}
