// Package store defines the persistent transaction table and the repository
// contract the SQLite and Postgres backends implement.
package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dvloznov/txingest/internal/record"
	"github.com/shopspring/decimal"
)

// TableName is the name of the transactions table in every backend.
const TableName = "transactions"

// DefaultListLimit caps List and Search when the caller passes no limit.
const DefaultListLimit = 100

// Transaction is one persisted row, keyed by TransactionUTI.
type Transaction struct {
	TransactionUTI        string              `gorm:"column:transaction_uti;primaryKey"`
	ISIN                  sql.NullString      `gorm:"column:isin;index"`
	Notional              decimal.NullDecimal `gorm:"column:notional;type:numeric"`
	NotionalCurrency      sql.NullString      `gorm:"column:notional_currency"`
	TransactionType       sql.NullString      `gorm:"column:transaction_type"`
	TransactionDatetime   sql.NullString      `gorm:"column:transaction_datetime"`
	ExchangeRate          decimal.NullDecimal `gorm:"column:exchange_rate;type:numeric"`
	LegalEntityIdentifier sql.NullString      `gorm:"column:legal_entity_identifier"`
	NotionalEUR           decimal.NullDecimal `gorm:"column:notional_eur;type:numeric"`
	SourceFile            sql.NullString      `gorm:"column:source_file"`
	UploadTime            sql.NullString      `gorm:"column:upload_time;index"`
}

// TableName implements gorm's tabler interface.
func (Transaction) TableName() string { return TableName }

// FromRecord maps a canonical record onto a row. Decimal columns that do not
// hold a number are stored as NULL.
func FromRecord(r record.Record) *Transaction {
	return &Transaction{
		TransactionUTI:        r.Identifier(),
		ISIN:                  nullString(r.Get(record.FieldISIN)),
		Notional:              nullDecimal(r.Get(record.FieldNotional)),
		NotionalCurrency:      nullString(r.Get(record.FieldNotionalCurrency)),
		TransactionType:       nullString(r.Get(record.FieldTransactionType)),
		TransactionDatetime:   nullString(r.Get(record.FieldTransactionDatetime)),
		ExchangeRate:          nullDecimal(r.Get(record.FieldExchangeRate)),
		LegalEntityIdentifier: nullString(r.Get(record.FieldLegalEntityIdentifier)),
		NotionalEUR:           nullDecimal(r.Get(record.FieldNotionalEUR)),
		SourceFile:            nullString(r.Get(record.FieldSourceFile)),
		UploadTime:            nullString(r.Get(record.FieldUploadTime)),
	}
}

// Record converts the row back to a canonical record.
func (t *Transaction) Record() record.Record {
	return record.FromPairs(
		record.FieldTransactionUTI, record.String(t.TransactionUTI),
		record.FieldISIN, stringValue(t.ISIN),
		record.FieldNotional, decimalValue(t.Notional),
		record.FieldNotionalCurrency, stringValue(t.NotionalCurrency),
		record.FieldTransactionType, stringValue(t.TransactionType),
		record.FieldTransactionDatetime, stringValue(t.TransactionDatetime),
		record.FieldExchangeRate, decimalValue(t.ExchangeRate),
		record.FieldLegalEntityIdentifier, stringValue(t.LegalEntityIdentifier),
		record.FieldNotionalEUR, decimalValue(t.NotionalEUR),
		record.FieldSourceFile, stringValue(t.SourceFile),
		record.FieldUploadTime, stringValue(t.UploadTime),
	)
}

// MarshalJSON renders the row with plain column values in canonical order.
func (t *Transaction) MarshalJSON() ([]byte, error) {
	return t.Record().MarshalJSON()
}

func nullString(v record.Value) sql.NullString {
	if v.IsNull() {
		return sql.NullString{}
	}
	return sql.NullString{String: v.Text(), Valid: true}
}

func nullDecimal(v record.Value) decimal.NullDecimal {
	d, err := v.Decimal()
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}

func stringValue(s sql.NullString) record.Value {
	if !s.Valid {
		return record.Null()
	}
	return record.String(s.String)
}

func decimalValue(d decimal.NullDecimal) record.Value {
	if !d.Valid {
		return record.Null()
	}
	return record.Number(d.Decimal)
}

// InsertResult reports the outcome of InsertNew.
type InsertResult struct {
	// Inserted holds the rows committed by this call.
	Inserted []*Transaction
	// Conflicts holds rows skipped because their identifier already existed.
	Conflicts []*Transaction
}

// Repository is the transaction store.
type Repository interface {
	// ExistingIdentifiers returns every persisted transaction_uti.
	ExistingIdentifiers(ctx context.Context) (map[string]struct{}, error)

	// InsertNew inserts rows one by one. It is not atomic: a failure returns a
	// *PersistenceError and leaves rows inserted before it committed.
	InsertNew(ctx context.Context, rows []*Transaction) (InsertResult, error)

	// List returns up to limit rows, newest upload_time first.
	List(ctx context.Context, limit int) ([]*Transaction, error)

	// Search matches term as a substring of transaction_uti or isin.
	Search(ctx context.Context, term string, limit int) ([]*Transaction, error)

	Count(ctx context.Context) (int64, error)

	// Reset deletes every row and returns how many were removed.
	Reset(ctx context.Context) (int64, error)

	Close() error
}

// PersistenceError wraps a store failure.
type PersistenceError struct {
	Op         string
	Identifier string
	Err        error
}

func (e *PersistenceError) Error() string {
	if e.Identifier != "" {
		return fmt.Sprintf("store %s (transaction_uti=%s): %v", e.Op, e.Identifier, e.Err)
	}
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Columns lists the persisted columns in display order.
func Columns() []string {
	out := make([]string, len(record.Canonical))
	copy(out, record.Canonical)
	return out
}

// Limit normalizes a caller supplied limit.
func Limit(n int) int {
	if n <= 0 {
		return DefaultListLimit
	}
	return n
}
