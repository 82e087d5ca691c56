package links

import "github.com/peteski22/crmsync/internal/identity"

// Column names in the document links table.
const (
	ColumnAccountID              = "account_id"
	ColumnContactID              = "contact_id"
	ColumnDocumentID             = "document_id"
	ColumnLinkedEntityExternalID = "linked_entity_external_id"
	ColumnLinkedEntityType       = "linked_entity_type"
	ColumnOpportunityID          = "opportunity_id"
)

// Ref is a raw link reference from a document to some target record.
type Ref struct {
	// DocumentExternalID is the external identifier of the document.
	DocumentExternalID string

	// ExternalID is the link's own external identifier, when it has one.
	// An empty value is replaced by "<document>:<target>".
	ExternalID string

	// TargetExternalID is the external identifier of the linked record.
	TargetExternalID string
}

// key returns the identifier used to deduplicate references.
func (r Ref) key() string {
	if r.ExternalID != "" {
		return r.ExternalID
	}
	return r.DocumentExternalID + ":" + r.TargetExternalID
}

// Link is a reconstructed link record.
type Link struct {
	AccountID              *string
	ContactID              *string
	DocumentExternalID     string
	DocumentID             *string
	ExternalID             string
	LinkedEntityExternalID string
	LinkedEntityType       EntityType
	OpportunityID          *string
}

// Fields returns the link's column values.
func (l Link) Fields() map[string]any {
	return map[string]any{
		ColumnAccountID:              l.AccountID,
		ColumnContactID:              l.ContactID,
		ColumnDocumentID:             l.DocumentID,
		ColumnLinkedEntityExternalID: l.LinkedEntityExternalID,
		ColumnLinkedEntityType:       string(l.LinkedEntityType),
		ColumnOpportunityID:          l.OpportunityID,
	}
}

// Result holds the output of Reconstruct.
type Result struct {
	// Duplicates is the number of references dropped because their link id was already seen.
	Duplicates int

	// Links are the reconstructed links in reference order.
	Links []Link

	// Skipped is the number of references with no document or target identifier.
	Skipped int

	// Unresolved is the number of links whose target could not be resolved to an internal id.
	Unresolved int
}

// Reconstruct builds link records from raw references.
// References are deduplicated by link id, keeping the first occurrence. Links with an
// unknown target type or an unsynced target are kept with null foreign keys.
func Reconstruct(refs []Ref, maps identity.Maps) Result {
	var res Result
	seen := make(map[string]struct{}, len(refs))

	for _, ref := range refs {
		if ref.DocumentExternalID == "" || ref.TargetExternalID == "" {
			res.Skipped++
			continue
		}

		key := ref.key()
		if _, ok := seen[key]; ok {
			res.Duplicates++
			continue
		}
		seen[key] = struct{}{}

		link := Link{
			DocumentExternalID:     ref.DocumentExternalID,
			DocumentID:             maps.Resolve(identity.Document, ref.DocumentExternalID),
			ExternalID:             key,
			LinkedEntityExternalID: ref.TargetExternalID,
			LinkedEntityType:       Classify(ref.TargetExternalID),
		}

		var target *string
		if t, ok := identityTypes[link.LinkedEntityType]; ok {
			target = maps.Resolve(t, ref.TargetExternalID)
		}

		switch link.LinkedEntityType {
		case Account:
			link.AccountID = target
		case Contact:
			link.ContactID = target
		case Opportunity:
			link.OpportunityID = target
		}

		if target == nil {
			res.Unresolved++
		}

		res.Links = append(res.Links, link)
	}

	return res
}
