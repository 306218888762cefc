// Package walletindex keeps the local wallet -> plan-id index. The index is a
// hint for re-locating a wallet's plans across sessions, never authoritative:
// the ledger is the source of truth and Resolve reconciles the two.
package walletindex

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // register sqlite driver
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// legacyKey is the pre-per-wallet single-plan key, read once for migration.
const legacyKey = "savingPlanId"

type Config struct {
	Logger *slog.Logger

	// Path is the SQLite database file. The parent directory is created if
	// missing.
	Path string
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Path == "" {
		return errors.New("path is required")
	}
	return nil
}

// Store is the SQLite-backed index.
type Store struct {
	log *slog.Logger
	db  *sql.DB
}

// Open opens or creates the index database and applies migrations.
func Open(cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create index dir: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.Path+"?_pragma=journal_mode(wal)&_pragma=synchronous(normal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open index db: %w", err)
	}

	goose.SetBaseFS(embedMigrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set migration dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run index migrations: %w", err)
	}

	return &Store{log: cfg.Logger, db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Plans returns the wallet's cached plan ids, most recent first.
func (s *Store) Plans(ctx context.Context, wallet string) ([]uint64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT plan_id FROM wallet_plans WHERE wallet = ? ORDER BY added_at DESC, rowid DESC`,
		normalizeWallet(wallet))
	if err != nil {
		return nil, fmt.Errorf("failed to query wallet plans: %w", err)
	}
	defer rows.Close()

	var ids []uint64
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan plan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// AddPlan records a plan id for the wallet, moving it to the front of the
// list if already present.
func (s *Store) AddPlan(ctx context.Context, wallet string, planID uint64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO wallet_plans (wallet, plan_id, added_at) VALUES (?, ?, ?)
		 ON CONFLICT (wallet, plan_id) DO UPDATE SET added_at = excluded.added_at`,
		normalizeWallet(wallet), planID, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to add plan to index: %w", err)
	}
	return nil
}

// RemovePlan evicts a plan id from the wallet's list. Removing an id that is
// not present is not an error.
func (s *Store) RemovePlan(ctx context.Context, wallet string, planID uint64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM wallet_plans WHERE wallet = ? AND plan_id = ?`,
		normalizeWallet(wallet), planID)
	if err != nil {
		return fmt.Errorf("failed to remove plan from index: %w", err)
	}
	return nil
}

// LegacyPlanID reads the single-plan key left behind by old installs.
func (s *Store) LegacyPlanID(ctx context.Context) (uint64, bool, error) {
	var id uint64
	err := s.db.QueryRowContext(ctx,
		`SELECT plan_id FROM legacy_plan WHERE key = ?`, legacyKey).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read legacy plan id: %w", err)
	}
	return id, true, nil
}

// SetLegacyPlanID writes the legacy key. Exists for migration tooling and
// tests; new code always writes per-wallet lists.
func (s *Store) SetLegacyPlanID(ctx context.Context, planID uint64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO legacy_plan (key, plan_id) VALUES (?, ?)
		 ON CONFLICT (key) DO UPDATE SET plan_id = excluded.plan_id`,
		legacyKey, planID)
	if err != nil {
		return fmt.Errorf("failed to write legacy plan id: %w", err)
	}
	return nil
}

// ClearLegacyPlanID deletes the legacy key once migrated.
func (s *Store) ClearLegacyPlanID(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM legacy_plan WHERE key = ?`, legacyKey)
	if err != nil {
		return fmt.Errorf("failed to clear legacy plan id: %w", err)
	}
	return nil
}

func normalizeWallet(wallet string) string {
	return strings.ToLower(strings.TrimSpace(wallet))
}
