// Package links reconstructs document link records from loosely typed external references.
package links

import "github.com/peteski22/crmsync/internal/identity"

const prefixLength = 3

// EntityType is the inferred type of a link target.
type EntityType string

const (
	// Account targets an account.
	Account EntityType = "ACCOUNT"

	// Case targets a support case. Cases are not synced, so their links never resolve.
	Case EntityType = "CASE"

	// Contact targets a contact.
	Contact EntityType = "CONTACT"

	// Opportunity targets an opportunity.
	Opportunity EntityType = "OPPORTUNITY"

	// Unresolved is used when the target type cannot be inferred.
	Unresolved EntityType = "UNRESOLVED"

	// WorkOrder targets a work order. Work orders are not synced, so their links never resolve.
	WorkOrder EntityType = "WORK_ORDER"
)

// DispatchTable maps an identifier's key prefix to its entity type.
var DispatchTable = map[string]EntityType{
	"001": Account,
	"003": Contact,
	"006": Opportunity,
	"500": Case,
	"0WO": WorkOrder,
}

// identityTypes maps link target types to the identity map that resolves them.
var identityTypes = map[EntityType]identity.EntityType{
	Account:     identity.Account,
	Contact:     identity.Contact,
	Opportunity: identity.Opportunity,
}

// Classify infers the entity type of an external identifier from its key prefix.
// Identifiers that are not 15 or 18 characters long are Unresolved.
func Classify(externalID string) EntityType {
	if len(externalID) != 15 && len(externalID) != 18 {
		return Unresolved
	}

	t, ok := DispatchTable[externalID[:prefixLength]]
	if !ok {
		return Unresolved
	}
	return t
}
