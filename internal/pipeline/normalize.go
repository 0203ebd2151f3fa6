package pipeline

import (
	"github.com/dvloznov/txingest/internal/record"
)

// Normalize maps every record onto the canonical field set. The lei synonym is
// folded into legal_entity_identifier unless that field already carries a
// value, missing canonical fields are added as null, and fields outside the
// canonical set follow in their source order.
func Normalize(records []record.Record) []record.Record {
	out := make([]record.Record, len(records))
	for i, r := range records {
		out[i] = normalizeRecord(r)
	}
	return out
}

func normalizeRecord(r record.Record) record.Record {
	src := r.Clone()
	if src.Has(record.SynonymLEI) {
		if record.IsBlank(src.Get(record.FieldLegalEntityIdentifier)) {
			src.Set(record.FieldLegalEntityIdentifier, src.Get(record.SynonymLEI))
		}
		src.Delete(record.SynonymLEI)
	}

	out := record.New()
	for _, f := range record.Canonical {
		out.Set(f, src.Get(f))
	}
	for _, f := range src.Fields() {
		if !record.IsCanonical(f) {
			out.Set(f, src.Get(f))
		}
	}
	return out
}
