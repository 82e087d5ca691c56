// Package transform converts external records into internal rows.
//
// Every transformer is a pure function of the record, the run's identity maps and the run clock.
// Missing or malformed fields never fail a transform; they fall back to the field's documented
// default. Only a record without an identifier is rejected.
package transform

import (
	"errors"
	"time"

	"github.com/peteski22/crmsync/internal/identity"
	"github.com/peteski22/crmsync/internal/links"
	"github.com/peteski22/crmsync/internal/salesforce"
	"github.com/peteski22/crmsync/internal/storage"
)

// ErrMissingID is returned for records that carry no identifier.
var ErrMissingID = errors.New("record has no Id")

// SourceType identifies which external family produced a document.
type SourceType string

const (
	// SourceAttachment is a legacy attachment.
	SourceAttachment SourceType = "ATTACHMENT"

	// SourceContentDocument is a modern file.
	SourceContentDocument SourceType = "CONTENT_DOCUMENT"

	// SourceESignature is an e-signature agreement.
	SourceESignature SourceType = "E_SIGNATURE"
)

// Output is a transformed record. LinkRefs are consumed by link reconstruction and never stored.
type Output struct {
	storage.Row

	// LinkRefs are raw references from this record to the records it is attached to.
	LinkRefs []links.Ref

	// SourceType is the producing family, for multi-family entities.
	SourceType SourceType
}

// Func transforms a single external record.
type Func func(rec salesforce.Record, maps identity.Maps, now time.Time) (Output, error)

// newOutput starts an Output with the record's identifier and audit timestamps.
// Timestamps fall back to now when the record does not carry them.
func newOutput(rec salesforce.Record, externalID string, now time.Time, fields map[string]any) (Output, error) {
	if rec.ID() == "" || externalID == "" {
		return Output{}, ErrMissingID
	}

	createdAt, ok := rec.CreatedDate()
	if !ok {
		createdAt = now
	}
	updatedAt, ok := rec.LastModifiedDate()
	if !ok {
		updatedAt = now
	}

	return Output{
		Row: storage.Row{
			CreatedAt:  createdAt.UTC(),
			ExternalID: externalID,
			Fields:     fields,
			UpdatedAt:  updatedAt.UTC(),
		},
	}, nil
}
