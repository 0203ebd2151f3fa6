package pipeline

import (
	"fmt"

	"github.com/dvloznov/txingest/internal/record"
)

// Partition splits records into those whose identifier is not in existing
// and those whose identifier is. Records without an identifier are always
// fresh. Input order is kept within each partition.
func Partition(records []record.Record, existing map[string]struct{}) (fresh, duplicates []record.Record) {
	for _, r := range records {
		if isDuplicate(r, existing) {
			duplicates = append(duplicates, r)
			continue
		}
		fresh = append(fresh, r)
	}
	return fresh, duplicates
}

func isDuplicate(r record.Record, existing map[string]struct{}) bool {
	id := r.Get(record.FieldTransactionUTI)
	if record.IsBlank(id) {
		return false
	}
	_, ok := existing[id.Text()]
	return ok
}

// MissingIdentifierPolicy decides what happens to records without a
// transaction_uti.
type MissingIdentifierPolicy string

const (
	// PolicyAssign gives such records a generated identifier so they are stored.
	PolicyAssign MissingIdentifierPolicy = "assign"
	// PolicyReject fails the whole job before the store is touched.
	PolicyReject MissingIdentifierPolicy = "reject"
)

// ParsePolicy validates a configured policy name.
func ParsePolicy(s string) (MissingIdentifierPolicy, error) {
	switch p := MissingIdentifierPolicy(s); p {
	case PolicyAssign, PolicyReject:
		return p, nil
	case "":
		return PolicyAssign, nil
	default:
		return "", fmt.Errorf("unknown missing identifier policy %q (want assign or reject)", s)
	}
}

// MissingIdentifierError is returned under PolicyReject.
type MissingIdentifierError struct {
	Count int
}

func (e *MissingIdentifierError) Error() string {
	return fmt.Sprintf("%d record(s) without transaction_uti", e.Count)
}

// CountMissingIdentifiers returns how many records have a blank identifier.
func CountMissingIdentifiers(records []record.Record) int {
	n := 0
	for _, r := range records {
		if record.IsBlank(r.Get(record.FieldTransactionUTI)) {
			n++
		}
	}
	return n
}

// AssignIdentifiers sets a generated identifier on every record lacking one
// and returns how many were assigned. Records are updated in place.
func AssignIdentifiers(records []record.Record, newID func() string) int {
	n := 0
	for i := range records {
		if record.IsBlank(records[i].Get(record.FieldTransactionUTI)) {
			records[i].Set(record.FieldTransactionUTI, record.String(newID()))
			n++
		}
	}
	return n
}
