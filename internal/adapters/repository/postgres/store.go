package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/wire"
	_ "github.com/lib/pq"

	"github.com/chainproof-org/chainproof/internal/domain/config"
	"github.com/chainproof-org/chainproof/internal/usecase"
)

//go:embed schema.sql
var schemaDDL string

// Store is the postgres-backed persistence layer. All verification writes
// are content-addressed upserts inside a single transaction.
type Store struct {
	db  *sql.DB
	log *slog.Logger
}

// NewStore opens the connection pool. The schema is applied separately via
// Migrate so read-only deployments never need DDL privileges.
func NewStore(cfg *config.RuntimeConfig, log *slog.Logger) (*Store, error) {
	db, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.Database.MaxConns)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return &Store{
		db:  db,
		log: log.With("component", "PostgresStore"),
	}, nil
}

// Migrate applies the embedded schema DDL.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	s.log.Info("schema applied")
	return nil
}

// Ping verifies connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

// withTx runs fn inside a transaction, rolling back on error.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.log.Error("rollback failed", "error", rbErr)
		}
		return err
	}
	return tx.Commit()
}

// StoreSet provides the store to wire.
var StoreSet = wire.NewSet(
	NewStore,
	wire.Bind(new(usecase.VerificationStore), new(*Store)),
	wire.Bind(new(usecase.JobStore), new(*Store)),
	wire.Bind(new(usecase.SignatureStore), new(*Store)),
)
