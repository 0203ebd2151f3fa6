// Package sqlite implements store.Repository on an embedded SQLite file.
package sqlite

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/dvloznov/txingest/internal/store"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store is a SQLite-backed transaction repository.
// Writes go through a single connection, so identifier snapshots and inserts
// from concurrent jobs are serialized by SQLite itself.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// Open creates or opens the database at path and applies pending migrations.
func Open(ctx context.Context, path string, log zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("Open: opening %s: %w", path, err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("Open: connecting to %s: %w", path, err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("Open: %w", err)
	}

	s := &Store{db: db, log: log.With().Str("component", "sqlite_store").Logger()}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("Open: %w", err)
	}

	return s, nil
}

func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("executing %q: %w", pragma, err)
		}
	}
	return nil
}

// migrate applies every embedded migration not yet recorded in
// schema_migrations. An applied migration whose file changed since is
// reported, not re-run.
func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT PRIMARY KEY,
			checksum   TEXT NOT NULL,
			applied_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`); err != nil {
		return fmt.Errorf("migrate: creating schema_migrations: %w", err)
	}

	names, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return fmt.Errorf("migrate: listing migrations: %w", err)
	}
	sort.Strings(names)

	for _, name := range names {
		version := strings.TrimSuffix(strings.TrimPrefix(name, "migrations/"), ".sql")

		body, err := migrations.ReadFile(name)
		if err != nil {
			return fmt.Errorf("migrate: reading %s: %w", name, err)
		}
		sum := sha256.Sum256(body)
		checksum := hex.EncodeToString(sum[:])

		var applied string
		err = s.db.QueryRowContext(ctx, "SELECT checksum FROM schema_migrations WHERE version = ?", version).Scan(&applied)
		if err == nil {
			if applied != checksum {
				s.log.Warn().Str("version", version).Msg("applied migration differs from embedded file")
			}
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("migrate: checking %s: %w", version, err)
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("migrate: %s: %w", version, err)
		}
		if _, err := tx.ExecContext(ctx, string(body)); err != nil {
			tx.Rollback()
			return fmt.Errorf("migrate: applying %s: %w", version, err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version, checksum) VALUES (?, ?)", version, checksum); err != nil {
			tx.Rollback()
			return fmt.Errorf("migrate: recording %s: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migrate: committing %s: %w", version, err)
		}

		s.log.Info().Str("version", version).Msg("applied migration")
	}

	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ExistingIdentifiers implements store.Repository.
func (s *Store) ExistingIdentifiers(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT transaction_uti FROM transactions")
	if err != nil {
		return nil, &store.PersistenceError{Op: "snapshot identifiers", Err: err}
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, &store.PersistenceError{Op: "snapshot identifiers", Err: err}
		}
		ids[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, &store.PersistenceError{Op: "snapshot identifiers", Err: err}
	}
	return ids, nil
}

const insertSQL = `
	INSERT INTO transactions (
		transaction_uti, isin, notional, notional_currency, transaction_type,
		transaction_datetime, exchange_rate, legal_entity_identifier, notional_eur,
		source_file, upload_time
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (transaction_uti) DO NOTHING`

// InsertNew implements store.Repository. Each row commits on its own.
func (s *Store) InsertNew(ctx context.Context, rows []*store.Transaction) (store.InsertResult, error) {
	var result store.InsertResult

	stmt, err := s.db.PrepareContext(ctx, insertSQL)
	if err != nil {
		return result, &store.PersistenceError{Op: "insert", Err: err}
	}
	defer stmt.Close()

	for _, row := range rows {
		res, err := stmt.ExecContext(ctx,
			row.TransactionUTI,
			row.ISIN,
			row.Notional,
			row.NotionalCurrency,
			row.TransactionType,
			row.TransactionDatetime,
			row.ExchangeRate,
			row.LegalEntityIdentifier,
			row.NotionalEUR,
			row.SourceFile,
			row.UploadTime,
		)
		if err != nil {
			return result, &store.PersistenceError{Op: "insert", Identifier: row.TransactionUTI, Err: err}
		}

		n, err := res.RowsAffected()
		if err != nil {
			return result, &store.PersistenceError{Op: "insert", Identifier: row.TransactionUTI, Err: err}
		}
		if n == 0 {
			result.Conflicts = append(result.Conflicts, row)
			continue
		}
		result.Inserted = append(result.Inserted, row)
	}

	return result, nil
}

const selectColumns = `
	SELECT transaction_uti, isin, notional, notional_currency, transaction_type,
		transaction_datetime, exchange_rate, legal_entity_identifier, notional_eur,
		source_file, upload_time
	FROM transactions`

// List implements store.Repository.
func (s *Store) List(ctx context.Context, limit int) ([]*store.Transaction, error) {
	return s.query(ctx, "list",
		selectColumns+" ORDER BY upload_time DESC, rowid DESC LIMIT ?",
		store.Limit(limit))
}

// Search implements store.Repository.
func (s *Store) Search(ctx context.Context, term string, limit int) ([]*store.Transaction, error) {
	pattern := "%" + escapeLike(term) + "%"
	return s.query(ctx, "search",
		selectColumns+` WHERE transaction_uti LIKE ? ESCAPE '\' OR isin LIKE ? ESCAPE '\'
			ORDER BY upload_time DESC, rowid DESC LIMIT ?`,
		pattern, pattern, store.Limit(limit))
}

func (s *Store) query(ctx context.Context, op, query string, args ...any) ([]*store.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &store.PersistenceError{Op: op, Err: err}
	}
	defer rows.Close()

	var out []*store.Transaction
	for rows.Next() {
		var t store.Transaction
		if err := rows.Scan(
			&t.TransactionUTI,
			&t.ISIN,
			&t.Notional,
			&t.NotionalCurrency,
			&t.TransactionType,
			&t.TransactionDatetime,
			&t.ExchangeRate,
			&t.LegalEntityIdentifier,
			&t.NotionalEUR,
			&t.SourceFile,
			&t.UploadTime,
		); err != nil {
			return nil, &store.PersistenceError{Op: op, Err: err}
		}
		out = append(out, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, &store.PersistenceError{Op: op, Err: err}
	}
	return out, nil
}

// Count implements store.Repository.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM transactions").Scan(&n); err != nil {
		return 0, &store.PersistenceError{Op: "count", Err: err}
	}
	return n, nil
}

// Reset implements store.Repository.
func (s *Store) Reset(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM transactions")
	if err != nil {
		return 0, &store.PersistenceError{Op: "reset", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, &store.PersistenceError{Op: "reset", Err: err}
	}
	s.log.Warn().Int64("deleted", n).Msg("transactions table reset")
	return n, nil
}

func escapeLike(term string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(term)
}

var _ store.Repository = (*Store)(nil)
