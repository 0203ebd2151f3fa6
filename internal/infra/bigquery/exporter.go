// Package bigquery mirrors persisted transactions into a BigQuery table.
package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/txingest/internal/store"
	"github.com/rs/zerolog"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
)

// batchSize bounds a single streaming insert request.
const batchSize = 500

// Config identifies the warehouse table.
type Config struct {
	Project string
	Dataset string
	Table   string
}

// Exporter streams transactions into BigQuery.
type Exporter struct {
	client *bigquery.Client
	cfg    Config
	log    zerolog.Logger
}

// NewExporter creates an exporter with its own client.
func NewExporter(ctx context.Context, cfg Config, log zerolog.Logger) (*Exporter, error) {
	if cfg.Project == "" || cfg.Dataset == "" || cfg.Table == "" {
		return nil, fmt.Errorf("NewExporter: project, dataset and table are required")
	}
	client, err := bigquery.NewClient(ctx, cfg.Project)
	if err != nil {
		return nil, fmt.Errorf("NewExporter: creating client: %w", err)
	}
	return &Exporter{
		client: client,
		cfg:    cfg,
		log:    log.With().Str("component", "bigquery").Str("table", cfg.qualified()).Logger(),
	}, nil
}

// Close closes the BigQuery client connection.
func (e *Exporter) Close() error {
	if e.client != nil {
		return e.client.Close()
	}
	return nil
}

func (c Config) qualified() string {
	return fmt.Sprintf("%s.%s.%s", c.Project, c.Dataset, c.Table)
}

func (e *Exporter) table() *bigquery.Table {
	return e.client.DatasetInProject(e.cfg.Project, e.cfg.Dataset).Table(e.cfg.Table)
}

// EnsureTable creates the table when it does not exist yet.
func (e *Exporter) EnsureTable(ctx context.Context) error {
	_, err := e.table().Metadata(ctx)
	if err == nil {
		return nil
	}
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) || apiErr.Code != http.StatusNotFound {
		return fmt.Errorf("EnsureTable: reading metadata: %w", err)
	}

	if err := e.table().Create(ctx, &bigquery.TableMetadata{Schema: Schema}); err != nil {
		return fmt.Errorf("EnsureTable: creating table: %w", err)
	}
	e.log.Info().Msg("warehouse table created")
	return nil
}

// ExportTransactions streams rows into the table in batches.
func (e *Exporter) ExportTransactions(ctx context.Context, rows []*store.Transaction) error {
	if len(rows) == 0 {
		return nil
	}

	inserter := e.table().Inserter()
	for _, batch := range Batches(rows, batchSize) {
		out := make([]*TransactionRow, len(batch))
		for i, t := range batch {
			out[i] = RowFromTransaction(t)
		}
		if err := inserter.Put(ctx, out); err != nil {
			return fmt.Errorf("ExportTransactions: inserting rows: %w", err)
		}
	}

	e.log.Debug().Int("rows", len(rows)).Msg("rows exported")
	return nil
}

// ExportedIdentifiers returns the identifiers already in the table.
func (e *Exporter) ExportedIdentifiers(ctx context.Context) (map[string]struct{}, error) {
	q := e.client.Query(fmt.Sprintf("SELECT transaction_uti FROM `%s`", e.cfg.qualified()))

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ExportedIdentifiers: query read: %w", err)
	}

	ids := make(map[string]struct{})
	for {
		var r struct {
			TransactionUTI string `bigquery:"transaction_uti"`
		}
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ExportedIdentifiers: iter next: %w", err)
		}
		ids[r.TransactionUTI] = struct{}{}
	}
	return ids, nil
}

// Batches splits rows into consecutive slices of at most size elements.
func Batches(rows []*store.Transaction, size int) [][]*store.Transaction {
	if size <= 0 {
		size = len(rows)
	}
	var out [][]*store.Transaction
	for len(rows) > 0 {
		n := min(size, len(rows))
		out = append(out, rows[:n])
		rows = rows[n:]
	}
	return out
}
