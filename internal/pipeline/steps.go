package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/txingest/internal/jobs"
	"github.com/dvloznov/txingest/internal/logger"
	"github.com/dvloznov/txingest/internal/parser"
	"github.com/dvloznov/txingest/internal/record"
	"github.com/dvloznov/txingest/internal/store"
	"github.com/google/uuid"
)

// UploadTimeLayout is the format of the upload_time column.
const UploadTimeLayout = "2006-01-02 15:04"

// PipelineStep represents a single step in the ingestion pipeline.
type PipelineStep interface {
	Name() string
	Execute(ctx context.Context, state *PipelineState) error
}

// PipelineState holds the shared state across all pipeline steps.
type PipelineState struct {
	JobID       string
	ArtifactRef string
	SourceName  string

	Format  parser.Format
	Raw     []byte
	Records []record.Record

	Existing   map[string]struct{}
	Fresh      []record.Record
	Duplicates []record.Record

	Inserted  []*store.Transaction
	Conflicts []*store.Transaction

	Result *jobs.Result
}

// ArtifactReader reads a stored artifact.
type ArtifactReader interface {
	Read(ctx context.Context, ref string) ([]byte, error)
}

// Exporter mirrors persisted rows to a secondary sink.
type Exporter interface {
	ExportTransactions(ctx context.Context, rows []*store.Transaction) error
}

// Step 1: ReadArtifactStep resolves the format from the submitted name and
// loads the artifact bytes.
type ReadArtifactStep struct {
	Artifacts ArtifactReader
}

func (s *ReadArtifactStep) Name() string { return "read_artifact" }

func (s *ReadArtifactStep) Execute(ctx context.Context, state *PipelineState) error {
	format, err := parser.FormatFromName(state.SourceName)
	if err != nil {
		return err
	}
	raw, err := s.Artifacts.Read(ctx, state.ArtifactRef)
	if err != nil {
		return fmt.Errorf("reading artifact: %w", err)
	}
	state.Format = format
	state.Raw = raw
	return nil
}

// Step 2: ParseStep turns the bytes into records.
type ParseStep struct{}

func (s *ParseStep) Name() string { return "parse" }

func (s *ParseStep) Execute(ctx context.Context, state *PipelineState) error {
	records, err := parser.Parse(state.Raw, state.Format)
	if err != nil {
		return err
	}
	state.Records = records
	state.Raw = nil
	return nil
}

// Step 3: NormalizeStep maps records onto the canonical fields.
type NormalizeStep struct{}

func (s *NormalizeStep) Name() string { return "normalize" }

func (s *NormalizeStep) Execute(ctx context.Context, state *PipelineState) error {
	state.Records = Normalize(state.Records)
	return nil
}

// Step 4: ConvertStep computes notional_eur.
type ConvertStep struct{}

func (s *ConvertStep) Name() string { return "convert" }

func (s *ConvertStep) Execute(ctx context.Context, state *PipelineState) error {
	converted, issues := Convert(state.Records)
	log := logger.FromContext(ctx)
	for _, issue := range issues {
		log.Debug().Err(issue).Msg("notional_eur left empty")
	}
	state.Records = converted
	return nil
}

// Step 5: IdentifierPolicyStep applies the missing identifier policy before
// the store is touched.
type IdentifierPolicyStep struct {
	Policy MissingIdentifierPolicy
	NewID  func() string
}

func (s *IdentifierPolicyStep) Name() string { return "identifier_policy" }

func (s *IdentifierPolicyStep) Execute(ctx context.Context, state *PipelineState) error {
	missing := CountMissingIdentifiers(state.Records)
	if missing == 0 {
		return nil
	}
	if s.Policy == PolicyReject {
		return &MissingIdentifierError{Count: missing}
	}

	newID := s.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	assigned := AssignIdentifiers(state.Records, newID)
	log := logger.FromContext(ctx)
	log.Info().Int("assigned", assigned).Msg("assigned identifiers to records without transaction_uti")
	return nil
}

// Step 6: SnapshotIdentifiersStep loads the identifiers already persisted.
type SnapshotIdentifiersStep struct {
	Repo store.Repository
}

func (s *SnapshotIdentifiersStep) Name() string { return "snapshot_identifiers" }

func (s *SnapshotIdentifiersStep) Execute(ctx context.Context, state *PipelineState) error {
	existing, err := s.Repo.ExistingIdentifiers(ctx)
	if err != nil {
		return err
	}
	state.Existing = existing
	return nil
}

// Step 7: PartitionStep splits records into fresh and duplicate.
type PartitionStep struct{}

func (s *PartitionStep) Name() string { return "partition" }

func (s *PartitionStep) Execute(ctx context.Context, state *PipelineState) error {
	state.Fresh, state.Duplicates = Partition(state.Records, state.Existing)
	return nil
}

// Step 8: StampStep records provenance on the fresh records.
type StampStep struct {
	Now      func() time.Time
	Location *time.Location
}

func (s *StampStep) Name() string { return "stamp" }

func (s *StampStep) Execute(ctx context.Context, state *PipelineState) error {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	loc := s.Location
	if loc == nil {
		loc = time.UTC
	}

	uploaded := record.String(now().In(loc).Format(UploadTimeLayout))
	source := record.String(state.SourceName)
	for i := range state.Fresh {
		state.Fresh[i].Set(record.FieldSourceFile, source)
		state.Fresh[i].Set(record.FieldUploadTime, uploaded)
	}
	return nil
}

// Step 9: PersistStep inserts the fresh records. Identifiers that reach the
// store first through another job, or twice within this file, come back as
// conflicts and are counted as duplicates.
type PersistStep struct {
	Repo store.Repository
}

func (s *PersistStep) Name() string { return "persist" }

func (s *PersistStep) Execute(ctx context.Context, state *PipelineState) error {
	if len(state.Fresh) == 0 {
		return nil
	}

	rows := make([]*store.Transaction, len(state.Fresh))
	for i, r := range state.Fresh {
		rows[i] = store.FromRecord(r)
	}

	res, err := s.Repo.InsertNew(ctx, rows)
	state.Inserted = res.Inserted
	state.Conflicts = res.Conflicts
	if err != nil {
		return err
	}

	if len(res.Conflicts) > 0 {
		log := logger.FromContext(ctx)
		log.Info().Int("conflicts", len(res.Conflicts)).Msg("identifiers already stored, counted as duplicates")
	}
	return nil
}

// Step 10: ExportStep mirrors newly inserted rows. Failures are logged and
// never fail the job.
type ExportStep struct {
	Exporter Exporter
}

func (s *ExportStep) Name() string { return "export" }

func (s *ExportStep) Execute(ctx context.Context, state *PipelineState) error {
	if s.Exporter == nil || len(state.Inserted) == 0 {
		return nil
	}
	if err := s.Exporter.ExportTransactions(ctx, state.Inserted); err != nil {
		log := logger.FromContext(ctx)
		log.Error().Err(err).Int("rows", len(state.Inserted)).Msg("warehouse export failed")
	}
	return nil
}

// Step 11: SummarizeStep computes the job result.
type SummarizeStep struct{}

func (s *SummarizeStep) Name() string { return "summarize" }

func (s *SummarizeStep) Execute(ctx context.Context, state *PipelineState) error {
	result := &jobs.Result{
		TotalRecords:   len(state.Records),
		NewCount:       len(state.Inserted),
		DuplicateCount: len(state.Duplicates) + len(state.Conflicts),
	}
	if !result.Consistent() {
		return fmt.Errorf("inconsistent counts: total=%d new=%d duplicate=%d",
			result.TotalRecords, result.NewCount, result.DuplicateCount)
	}
	state.Result = result
	return nil
}
