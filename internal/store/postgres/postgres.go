// Package postgres implements store.Repository on PostgreSQL through gorm.
package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/dvloznov/txingest/internal/store"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

const connectTries = 6

// Store is a Postgres-backed transaction repository.
type Store struct {
	db  *gorm.DB
	log zerolog.Logger
}

// Open connects to dsn, retrying while the server is unavailable, and
// migrates the transactions table.
func Open(ctx context.Context, dsn string, log zerolog.Logger) (*Store, error) {
	log = log.With().Str("component", "postgres_store").Logger()

	connect := func() (*gorm.DB, error) {
		db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		})
		if err != nil {
			return nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		if err := sqlDB.PingContext(ctx); err != nil {
			sqlDB.Close()
			return nil, err
		}
		return db, nil
	}

	notify := func(err error, wait time.Duration) {
		log.Warn().Err(err).Dur("retry_in", wait).Msg("postgres not reachable, retrying")
	}

	db, err := backoff.Retry(ctx, connect,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(connectTries),
		backoff.WithNotify(notify))
	if err != nil {
		return nil, fmt.Errorf("Open: connecting to postgres: %w", err)
	}

	if err := db.WithContext(ctx).AutoMigrate(&store.Transaction{}); err != nil {
		return nil, fmt.Errorf("Open: migrating %s: %w", store.TableName, err)
	}

	return &Store{db: db, log: log}, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ExistingIdentifiers implements store.Repository.
func (s *Store) ExistingIdentifiers(ctx context.Context) (map[string]struct{}, error) {
	var ids []string
	if err := s.db.WithContext(ctx).Model(&store.Transaction{}).Pluck("transaction_uti", &ids).Error; err != nil {
		return nil, &store.PersistenceError{Op: "snapshot identifiers", Err: err}
	}

	out := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out, nil
}

// InsertNew implements store.Repository. Each row commits on its own.
func (s *Store) InsertNew(ctx context.Context, rows []*store.Transaction) (store.InsertResult, error) {
	var result store.InsertResult

	db := s.db.WithContext(ctx)
	for _, row := range rows {
		res := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "transaction_uti"}},
			DoNothing: true,
		}).Create(row)
		if res.Error != nil {
			return result, &store.PersistenceError{Op: "insert", Identifier: row.TransactionUTI, Err: res.Error}
		}
		if res.RowsAffected == 0 {
			result.Conflicts = append(result.Conflicts, row)
			continue
		}
		result.Inserted = append(result.Inserted, row)
	}

	return result, nil
}

// List implements store.Repository.
func (s *Store) List(ctx context.Context, limit int) ([]*store.Transaction, error) {
	var out []*store.Transaction
	err := s.db.WithContext(ctx).
		Order("upload_time DESC NULLS LAST").
		Limit(store.Limit(limit)).
		Find(&out).Error
	if err != nil {
		return nil, &store.PersistenceError{Op: "list", Err: err}
	}
	return out, nil
}

// Search implements store.Repository.
func (s *Store) Search(ctx context.Context, term string, limit int) ([]*store.Transaction, error) {
	pattern := "%" + escapeLike(term) + "%"

	var out []*store.Transaction
	err := s.db.WithContext(ctx).
		Where("transaction_uti ILIKE ? OR isin ILIKE ?", pattern, pattern).
		Order("upload_time DESC NULLS LAST").
		Limit(store.Limit(limit)).
		Find(&out).Error
	if err != nil {
		return nil, &store.PersistenceError{Op: "search", Err: err}
	}
	return out, nil
}

// Count implements store.Repository.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&store.Transaction{}).Count(&n).Error; err != nil {
		return 0, &store.PersistenceError{Op: "count", Err: err}
	}
	return n, nil
}

// Reset implements store.Repository.
func (s *Store) Reset(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).
		Session(&gorm.Session{AllowGlobalUpdate: true}).
		Delete(&store.Transaction{})
	if res.Error != nil {
		return 0, &store.PersistenceError{Op: "reset", Err: res.Error}
	}
	s.log.Warn().Int64("deleted", res.RowsAffected).Msg("transactions table reset")
	return res.RowsAffected, nil
}

// escapeLike escapes LIKE wildcards; backslash is Postgres' default escape.
func escapeLike(term string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(term)
}

var _ store.Repository = (*Store)(nil)
