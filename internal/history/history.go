// Package history persists a record of executed commands to SQLite via
// GORM (pure-Go driver, no CGO). It stores what ran, the approval
// decision, and the exit status — never the command output, which is
// transient by design.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Execution is one recorded command.
type Execution struct {
	ID         string    `gorm:"primaryKey;size:36"`
	SessionID  string    `gorm:"index;size:36"`
	Backend    string    `gorm:"size:16"`
	Isolation  string    `gorm:"size:8"`
	Command    string    `gorm:"type:text"`
	Decision   string    `gorm:"size:16"`
	ExitCode   int
	TimedOut   bool
	DurationMs int64
	CreatedAt  time.Time `gorm:"index"`
}

// Store is a SQLite-backed execution history.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

// Open creates (or opens) the history database at path, ensuring the
// parent directory exists, and runs migrations. WAL mode for concurrent
// reads while a record is being written.
func Open(path string, slogger *slog.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("history database path is required")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("creating history directory %s: %w", dir, err)
	}

	dsn := fmt.Sprintf("%s?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)", path)
	gormLogger := logger.New(
		slogAdapter{slogger},
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  gormLogger,
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("opening history database: %w", err)
	}
	if err := db.AutoMigrate(&Execution{}); err != nil {
		return nil, fmt.Errorf("migrating history schema: %w", err)
	}

	slogger.Debug("history store opened", slog.String("path", path))
	return &Store{db: db, logger: slogger}, nil
}

// Record persists one execution. A missing ID is generated.
func (s *Store) Record(ctx context.Context, e Execution) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if err := s.db.WithContext(ctx).Create(&e).Error; err != nil {
		return fmt.Errorf("recording execution: %w", err)
	}
	return nil
}

// Recent returns the most recent executions, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Execution, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []Execution
	err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("listing executions: %w", err)
	}
	return out, nil
}

// BySession returns all executions for one session, oldest first.
func (s *Store) BySession(ctx context.Context, sessionID string) ([]Execution, error) {
	var out []Execution
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("listing session executions: %w", err)
	}
	return out, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// slogAdapter wraps *slog.Logger for GORM's logger.Writer interface.
type slogAdapter struct {
	logger *slog.Logger
}

func (s slogAdapter) Printf(format string, args ...any) {
	s.logger.Info(fmt.Sprintf(format, args...))
}
