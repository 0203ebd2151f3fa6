package bigquery

import (
	"database/sql"
	"fmt"
	"math/big"
	"testing"

	"github.com/dvloznov/txingest/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRowFromTransaction(t *testing.T) {
	tx := &store.Transaction{
		TransactionUTI: "T1",
		ISIN:           sql.NullString{String: "US1", Valid: true},
		Notional:       decimal.NewNullDecimal(decimal.RequireFromString("100")),
		ExchangeRate:   decimal.NewNullDecimal(decimal.RequireFromString("1.1")),
		NotionalEUR:    decimal.NewNullDecimal(decimal.RequireFromString("110.0")),
		SourceFile:     sql.NullString{String: "trades.csv", Valid: true},
	}

	row := RowFromTransaction(tx)

	assert.Equal(t, "T1", row.TransactionUTI)
	assert.True(t, row.ISIN.Valid)
	assert.Equal(t, "US1", row.ISIN.StringVal)
	assert.False(t, row.NotionalCurrency.Valid)
	assert.False(t, row.UploadTime.Valid)

	require.NotNil(t, row.ExchangeRate)
	assert.Zero(t, row.ExchangeRate.Cmp(big.NewRat(11, 10)), "exchange rate stays exact")
	assert.Zero(t, row.NotionalEUR.Cmp(big.NewRat(110, 1)))
	assert.Zero(t, row.Notional.Cmp(big.NewRat(100, 1)))
}

func TestRowFromTransaction_NullNumbers(t *testing.T) {
	row := RowFromTransaction(&store.Transaction{TransactionUTI: "T1"})
	assert.Nil(t, row.Notional)
	assert.Nil(t, row.ExchangeRate)
	assert.Nil(t, row.NotionalEUR)
}

func TestSchemaMatchesStoreColumns(t *testing.T) {
	names := make([]string, len(Schema))
	for i, f := range Schema {
		names[i] = f.Name
	}
	assert.Equal(t, store.Columns(), names)
}

func TestBatches(t *testing.T) {
	rows := make([]*store.Transaction, 7)
	for i := range rows {
		rows[i] = &store.Transaction{TransactionUTI: fmt.Sprint(i)}
	}

	batches := Batches(rows, 3)
	require.Len(t, batches, 3)
	assert.Len(t, batches[0], 3)
	assert.Len(t, batches[2], 1)
	assert.Equal(t, "6", batches[2][0].TransactionUTI)

	assert.Empty(t, Batches(nil, 3))
	assert.Len(t, Batches(rows, 0), 1)
}

func TestConfigQualified(t *testing.T) {
	c := Config{Project: "p", Dataset: "d", Table: "t"}
	assert.Equal(t, "p.d.t", c.qualified())
}
