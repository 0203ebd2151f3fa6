package bigquery

import (
	"database/sql"
	"math/big"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/txingest/internal/store"
	"github.com/shopspring/decimal"
)

// TransactionRow mirrors store.Transaction in the warehouse table.
type TransactionRow struct {
	TransactionUTI string `bigquery:"transaction_uti"` // REQUIRED

	ISIN                  bigquery.NullString `bigquery:"isin"`
	Notional              *big.Rat            `bigquery:"notional"` // NULLABLE NUMERIC
	NotionalCurrency      bigquery.NullString `bigquery:"notional_currency"`
	TransactionType       bigquery.NullString `bigquery:"transaction_type"`
	TransactionDatetime   bigquery.NullString `bigquery:"transaction_datetime"`
	ExchangeRate          *big.Rat            `bigquery:"exchange_rate"` // NULLABLE NUMERIC
	LegalEntityIdentifier bigquery.NullString `bigquery:"legal_entity_identifier"`
	NotionalEUR           *big.Rat            `bigquery:"notional_eur"` // NULLABLE NUMERIC

	SourceFile bigquery.NullString `bigquery:"source_file"`
	UploadTime bigquery.NullString `bigquery:"upload_time"`
}

// Schema is the warehouse table schema for TransactionRow.
var Schema = bigquery.Schema{
	{Name: "transaction_uti", Type: bigquery.StringFieldType, Required: true},
	{Name: "isin", Type: bigquery.StringFieldType},
	{Name: "notional", Type: bigquery.NumericFieldType},
	{Name: "notional_currency", Type: bigquery.StringFieldType},
	{Name: "transaction_type", Type: bigquery.StringFieldType},
	{Name: "transaction_datetime", Type: bigquery.StringFieldType},
	{Name: "exchange_rate", Type: bigquery.NumericFieldType},
	{Name: "legal_entity_identifier", Type: bigquery.StringFieldType},
	{Name: "notional_eur", Type: bigquery.NumericFieldType},
	{Name: "source_file", Type: bigquery.StringFieldType},
	{Name: "upload_time", Type: bigquery.StringFieldType},
}

// RowFromTransaction converts a persisted row for streaming.
func RowFromTransaction(t *store.Transaction) *TransactionRow {
	return &TransactionRow{
		TransactionUTI:        t.TransactionUTI,
		ISIN:                  nullString(t.ISIN),
		Notional:              rat(t.Notional),
		NotionalCurrency:      nullString(t.NotionalCurrency),
		TransactionType:       nullString(t.TransactionType),
		TransactionDatetime:   nullString(t.TransactionDatetime),
		ExchangeRate:          rat(t.ExchangeRate),
		LegalEntityIdentifier: nullString(t.LegalEntityIdentifier),
		NotionalEUR:           rat(t.NotionalEUR),
		SourceFile:            nullString(t.SourceFile),
		UploadTime:            nullString(t.UploadTime),
	}
}

func nullString(s sql.NullString) bigquery.NullString {
	return bigquery.NullString{StringVal: s.String, Valid: s.Valid}
}

func rat(d decimal.NullDecimal) *big.Rat {
	if !d.Valid {
		return nil
	}
	return d.Decimal.Rat()
}
