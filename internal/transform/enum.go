package transform

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// enumTable maps external picklist values to internal enum values.
type enumTable struct {
	def     string
	display map[string]string
	values  map[string]string
}

// newEnumTable builds a table from external labels. display gives the external label
// written back when pushing each internal value.
func newEnumTable(def string, values map[string]string, display map[string]string) enumTable {
	normalized := make(map[string]string, len(values))
	for k, v := range values {
		normalized[enumKey(k)] = v
	}
	return enumTable{def: def, display: display, values: normalized}
}

// Normalize returns the internal value for an external label, or the table default.
func (e enumTable) Normalize(label string) string {
	if v, ok := e.values[enumKey(label)]; ok {
		return v
	}
	return e.def
}

// Label returns the external label for an internal value.
func (e enumTable) Label(value string) (string, bool) {
	l, ok := e.display[value]
	return l, ok
}

// enumKey normalizes a label for lookup: NFC, case-folded, with runs of whitespace collapsed.
func enumKey(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	return cases.Fold().String(norm.NFC.String(s))
}

// Account types.
const (
	AccountCommercial         = "COMMERCIAL"
	AccountInsurance          = "INSURANCE"
	AccountPartner            = "PARTNER"
	AccountPropertyManagement = "PROPERTY_MANAGEMENT"
	AccountResidential        = "RESIDENTIAL"
)

// AccountType normalizes the account Type picklist.
var AccountType = newEnumTable(AccountResidential, map[string]string{
	"Residential":         AccountResidential,
	"Homeowner":           AccountResidential,
	"Commercial":          AccountCommercial,
	"Insurance":           AccountInsurance,
	"Insurance Carrier":   AccountInsurance,
	"Property Management": AccountPropertyManagement,
	"Property Manager":    AccountPropertyManagement,
	"Partner":             AccountPartner,
}, map[string]string{
	AccountResidential:        "Residential",
	AccountCommercial:         "Commercial",
	AccountInsurance:          "Insurance",
	AccountPropertyManagement: "Property Management",
	AccountPartner:            "Partner",
})

// Opportunity stages.
const (
	StageInspection = "INSPECTION"
	StageLead       = "LEAD"
	StageLost       = "LOST"
	StageProposal   = "PROPOSAL"
	StageQualified  = "QUALIFIED"
	StageWon        = "WON"
)

// OpportunityStage normalizes the opportunity StageName picklist.
var OpportunityStage = newEnumTable(StageLead, map[string]string{
	"Lead":                 StageLead,
	"Prospecting":          StageLead,
	"New":                  StageLead,
	"Qualification":        StageQualified,
	"Qualified":            StageQualified,
	"Needs Analysis":       StageQualified,
	"Inspection":           StageInspection,
	"Inspection Scheduled": StageInspection,
	"Inspection Complete":  StageInspection,
	"Proposal":             StageProposal,
	"Proposal/Price Quote": StageProposal,
	"Negotiation/Review":   StageProposal,
	"Closed Won":           StageWon,
	"Won":                  StageWon,
	"Closed Lost":          StageLost,
	"Lost":                 StageLost,
}, map[string]string{
	StageLead:       "Prospecting",
	StageQualified:  "Qualification",
	StageInspection: "Inspection Scheduled",
	StageProposal:   "Proposal/Price Quote",
	StageWon:        "Closed Won",
	StageLost:       "Closed Lost",
})

// Contract statuses.
const (
	ContractActive     = "ACTIVE"
	ContractDraft      = "DRAFT"
	ContractExpired    = "EXPIRED"
	ContractPending    = "PENDING"
	ContractTerminated = "TERMINATED"
)

// ContractStatus normalizes the contract Status picklist.
var ContractStatus = newEnumTable(ContractDraft, map[string]string{
	"Draft":               ContractDraft,
	"In Approval Process": ContractPending,
	"Pending":             ContractPending,
	"Activated":           ContractActive,
	"Active":              ContractActive,
	"Expired":             ContractExpired,
	"Terminated":          ContractTerminated,
	"Cancelled":           ContractTerminated,
}, map[string]string{
	ContractDraft:      "Draft",
	ContractPending:    "In Approval Process",
	ContractActive:     "Activated",
	ContractExpired:    "Expired",
	ContractTerminated: "Terminated",
})

// Document statuses.
const (
	DocumentAvailable       = "AVAILABLE"
	DocumentCancelled       = "CANCELLED"
	DocumentDraft           = "DRAFT"
	DocumentExpired         = "EXPIRED"
	DocumentOutForSignature = "OUT_FOR_SIGNATURE"
	DocumentSigned          = "SIGNED"
)

// AgreementStatus normalizes the e-signature agreement status picklist.
var AgreementStatus = newEnumTable(DocumentDraft, map[string]string{
	"Draft":                         DocumentDraft,
	"Pre-Send":                      DocumentDraft,
	"Out for Signature":             DocumentOutForSignature,
	"Out for Approval":              DocumentOutForSignature,
	"Waiting for Counter-Signature": DocumentOutForSignature,
	"Signed":                        DocumentSigned,
	"Approved":                      DocumentSigned,
	"Cancelled / Declined":          DocumentCancelled,
	"Cancelled":                     DocumentCancelled,
	"Declined":                      DocumentCancelled,
	"Expired":                       DocumentExpired,
}, map[string]string{
	DocumentDraft:           "Draft",
	DocumentOutForSignature: "Out for Signature",
	DocumentSigned:          "Signed",
	DocumentCancelled:       "Cancelled / Declined",
	DocumentExpired:         "Expired",
})
