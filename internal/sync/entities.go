package sync

import (
	"fmt"

	"github.com/peteski22/crmsync/internal/identity"
	"github.com/peteski22/crmsync/internal/salesforce"
	"github.com/peteski22/crmsync/internal/storage"
	"github.com/peteski22/crmsync/internal/transform"
)

// Family is one external object feeding an entity.
type Family struct {
	// Fields is the query projection.
	Fields []string

	// Object is the external object name.
	Object string

	// Transform converts one record.
	Transform transform.Func

	// Where holds extra query conditions.
	Where []salesforce.Condition
}

// PushSpec describes how local edits to an entity are written back.
type PushSpec struct {
	// Columns are the local columns read for each edited row.
	Columns []string

	// Map converts a local row to external fields.
	Map transform.PushFunc

	// Object is the external object name.
	Object string
}

// Entity describes how one internal entity type is synced.
type Entity struct {
	// ContentLinks fetches file links for content documents after upserting.
	ContentLinks bool

	// Dependencies are the entity types whose identity maps the transformers read.
	Dependencies []identity.EntityType

	// Families are the external objects feeding the entity, in unification order.
	Families []Family

	// Name is the entity type.
	Name identity.EntityType

	// Push enables the push direction. Nil means pull only.
	Push *PushSpec

	// Table is the internal table.
	Table string
}

// Tables maps every entity type to its internal table.
var Tables = map[identity.EntityType]string{
	identity.Account:     storage.TableAccounts,
	identity.Contact:     storage.TableContacts,
	identity.Contract:    storage.TableContracts,
	identity.Document:    storage.TableDocuments,
	identity.Opportunity: storage.TableOpportunities,
	identity.User:        storage.TableUsers,
}

// DefaultEntities returns the registered entities in dependency order.
func DefaultEntities() []Entity {
	return []Entity{
		{
			Name:  identity.User,
			Table: storage.TableUsers,
			Families: []Family{
				{Object: "User", Fields: transform.UserFields, Transform: transform.User},
			},
		},
		{
			Name:         identity.Account,
			Table:        storage.TableAccounts,
			Dependencies: []identity.EntityType{identity.User},
			Families: []Family{
				{Object: "Account", Fields: transform.AccountFields, Transform: transform.Account},
			},
			Push: &PushSpec{Object: "Account", Columns: transform.AccountPushColumns, Map: transform.PushAccount},
		},
		{
			Name:         identity.Contact,
			Table:        storage.TableContacts,
			Dependencies: []identity.EntityType{identity.User, identity.Account},
			Families: []Family{
				{Object: "Contact", Fields: transform.ContactFields, Transform: transform.Contact},
			},
			Push: &PushSpec{Object: "Contact", Columns: transform.ContactPushColumns, Map: transform.PushContact},
		},
		{
			Name:         identity.Opportunity,
			Table:        storage.TableOpportunities,
			Dependencies: []identity.EntityType{identity.User, identity.Account, identity.Contact},
			Families: []Family{
				{Object: "Opportunity", Fields: transform.OpportunityFields, Transform: transform.Opportunity},
			},
			Push: &PushSpec{
				Object:  "Opportunity",
				Columns: transform.OpportunityPushColumns,
				Map:     transform.PushOpportunity,
			},
		},
		{
			Name:         identity.Contract,
			Table:        storage.TableContracts,
			Dependencies: []identity.EntityType{identity.User, identity.Account, identity.Opportunity},
			Families: []Family{
				{Object: "Contract", Fields: transform.ContractFields, Transform: transform.Contract},
			},
		},
		{
			Name:  identity.Document,
			Table: storage.TableDocuments,
			Dependencies: []identity.EntityType{
				identity.User, identity.Account, identity.Contact, identity.Opportunity,
			},
			ContentLinks: true,
			Families: []Family{
				{
					Object:    transform.ObjectContentVersion,
					Fields:    transform.ContentVersionFields,
					Transform: transform.ContentVersion,
					Where:     []salesforce.Condition{salesforce.EqLiteral("IsLatest", "true")},
				},
				{Object: transform.ObjectAgreement, Fields: transform.AgreementFields, Transform: transform.Agreement},
				{Object: transform.ObjectAttachment, Fields: transform.AttachmentFields, Transform: transform.Attachment},
			},
		},
	}
}

// registry indexes entities by name, preserving order.
type registry struct {
	byName map[identity.EntityType]Entity
	order  []identity.EntityType
}

// newRegistry indexes entities. Duplicate names and unknown tables are rejected.
func newRegistry(entities []Entity) (*registry, error) {
	r := &registry{byName: make(map[identity.EntityType]Entity, len(entities))}

	for _, e := range entities {
		if _, ok := r.byName[e.Name]; ok {
			return nil, fmt.Errorf("duplicate entity %q", e.Name)
		}
		if e.Table == "" {
			return nil, fmt.Errorf("entity %q has no table", e.Name)
		}
		if len(e.Families) == 0 {
			return nil, fmt.Errorf("entity %q has no families", e.Name)
		}
		r.byName[e.Name] = e
		r.order = append(r.order, e.Name)
	}

	return r, nil
}

// lookup returns the entity with the given name.
func (r *registry) lookup(name identity.EntityType) (Entity, error) {
	e, ok := r.byName[name]
	if !ok {
		return Entity{}, fmt.Errorf("%w %q", ErrUnknownEntity, name)
	}
	return e, nil
}
