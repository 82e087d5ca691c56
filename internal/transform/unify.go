package transform

import (
	"time"

	"github.com/peteski22/crmsync/internal/identity"
	"github.com/peteski22/crmsync/internal/links"
	"github.com/peteski22/crmsync/internal/salesforce"
	"github.com/peteski22/crmsync/internal/storage"
)

// FamilyBatch is the set of records fetched from one external family.
type FamilyBatch struct {
	// Records are the fetched records, in fetch order.
	Records []salesforce.Record

	// Transform converts one record of this family.
	Transform Func
}

// Unified is the combined output of several families targeting the same table.
type Unified struct {
	// Errors are per-record transform failures. Index is the position in the concatenated input.
	Errors []storage.RecordError

	// Outputs are the transformed records in family order, then record order.
	Outputs []Output
}

// Unify transforms every batch and concatenates the results.
// An external id seen twice keeps the later output, at the position of the first.
func Unify(maps identity.Maps, now time.Time, batches ...FamilyBatch) Unified {
	var (
		u     Unified
		index = map[string]int{}
		n     int
	)

	for _, batch := range batches {
		for _, rec := range batch.Records {
			pos := n
			n++

			out, err := batch.Transform(rec, maps, now)
			if err != nil {
				u.Errors = append(u.Errors, storage.RecordError{
					Err:        err,
					ExternalID: rec.ID(),
					Index:      pos,
					Stage:      storage.StageTransform,
				})
				continue
			}

			if i, ok := index[out.ExternalID]; ok {
				u.Outputs[i] = out
				continue
			}
			index[out.ExternalID] = len(u.Outputs)
			u.Outputs = append(u.Outputs, out)
		}
	}

	return u
}

// Rows returns the storable rows, without transform-only data.
func (u Unified) Rows() []storage.Row {
	rows := make([]storage.Row, len(u.Outputs))
	for i, out := range u.Outputs {
		rows[i] = out.Row
	}
	return rows
}

// LinkRefs returns the link references carried by the outputs, in order.
func (u Unified) LinkRefs() []links.Ref {
	var refs []links.Ref
	for _, out := range u.Outputs {
		refs = append(refs, out.LinkRefs...)
	}
	return refs
}
