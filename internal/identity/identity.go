// Package identity builds the external-to-internal identifier maps used to resolve
// foreign keys during a sync run.
package identity

import "maps"

// EntityType names an internal entity that carries an external identifier.
type EntityType string

const (
	// Account is a customer account.
	Account EntityType = "account"

	// Contact is a person attached to an account.
	Contact EntityType = "contact"

	// Contract is a signed or pending contract.
	Contract EntityType = "contract"

	// Document is a file or e-signature document.
	Document EntityType = "document"

	// Opportunity is a sales opportunity.
	Opportunity EntityType = "opportunity"

	// User is a CRM user who can own records.
	User EntityType = "user"
)

// EntityTypes returns every entity type in dependency order.
func EntityTypes() []EntityType {
	return []EntityType{User, Account, Contact, Opportunity, Contract, Document}
}

// Pair is one stored record's identifiers.
type Pair struct {
	// ExternalID is the identifier assigned by the external system.
	ExternalID string

	// InternalID is the identifier assigned by the internal store.
	InternalID string
}

// Map is a bidirectional identifier map for a single entity type.
// It is read-only once built.
type Map struct {
	byExternal map[string]string
	byInternal map[string]string
}

// Maps holds one Map per entity type.
type Maps map[EntityType]*Map

// NewMap builds a Map from stored pairs. Pairs without an external identifier are skipped.
func NewMap(pairs []Pair) *Map {
	m := &Map{
		byExternal: make(map[string]string, len(pairs)),
		byInternal: make(map[string]string, len(pairs)),
	}

	for _, p := range pairs {
		if p.ExternalID == "" || p.InternalID == "" {
			continue
		}
		m.byExternal[p.ExternalID] = p.InternalID
		m.byInternal[p.InternalID] = p.ExternalID
	}

	return m
}

// External returns the external identifier for an internal one.
func (m *Map) External(internalID string) (string, bool) {
	if m == nil {
		return "", false
	}
	id, ok := m.byInternal[internalID]
	return id, ok
}

// Internal returns the internal identifier for an external one.
func (m *Map) Internal(externalID string) (string, bool) {
	if m == nil || externalID == "" {
		return "", false
	}
	id, ok := m.byExternal[externalID]
	return id, ok
}

// Len returns the number of mapped records.
func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return len(m.byExternal)
}

// Resolve returns the internal identifier for an external identifier of the given type,
// or nil when the reference is empty or not yet stored.
func (ms Maps) Resolve(t EntityType, externalID string) *string {
	id, ok := ms[t].Internal(externalID)
	if !ok {
		return nil
	}
	return &id
}

// With returns a copy of the maps with the map for t replaced.
func (ms Maps) With(t EntityType, m *Map) Maps {
	out := make(Maps, len(ms)+1)
	maps.Copy(out, ms)
	out[t] = m
	return out
}
