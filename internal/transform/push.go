package transform

import (
	"time"

	"github.com/peteski22/crmsync/internal/storage"
)

// PushFunc maps a locally edited row to the external fields to update.
type PushFunc func(rec storage.LocalRecord) map[string]any

// AccountPushColumns are the account columns written back to the external system.
var AccountPushColumns = []string{
	ColumnName, ColumnAccountType, ColumnPhone, ColumnWebsite,
	ColumnBillingStreet, ColumnBillingCity, ColumnBillingState, ColumnBillingPostalCode,
}

// PushAccount maps a local account to external fields.
func PushAccount(rec storage.LocalRecord) map[string]any {
	fields := map[string]any{
		"Name":              rec.Fields[ColumnName],
		"Phone":             rec.Fields[ColumnPhone],
		"Website":           rec.Fields[ColumnWebsite],
		"BillingStreet":     rec.Fields[ColumnBillingStreet],
		"BillingCity":       rec.Fields[ColumnBillingCity],
		"BillingState":      rec.Fields[ColumnBillingState],
		"BillingPostalCode": rec.Fields[ColumnBillingPostalCode],
	}
	if label, ok := AccountType.Label(localString(rec.Fields[ColumnAccountType])); ok {
		fields["Type"] = label
	}
	return fields
}

// ContactPushColumns are the contact columns written back to the external system.
var ContactPushColumns = []string{ColumnFirstName, ColumnLastName, ColumnEmail, ColumnPhone, ColumnTitle}

// PushContact maps a local contact to external fields.
func PushContact(rec storage.LocalRecord) map[string]any {
	return map[string]any{
		"FirstName": rec.Fields[ColumnFirstName],
		"LastName":  rec.Fields[ColumnLastName],
		"Email":     rec.Fields[ColumnEmail],
		"Phone":     rec.Fields[ColumnPhone],
		"Title":     rec.Fields[ColumnTitle],
	}
}

// OpportunityPushColumns are the opportunity columns written back to the external system.
var OpportunityPushColumns = []string{ColumnName, ColumnStage, ColumnAmount, ColumnProbability, ColumnCloseDate}

// PushOpportunity maps a local opportunity to external fields.
func PushOpportunity(rec storage.LocalRecord) map[string]any {
	fields := map[string]any{
		"Name":        rec.Fields[ColumnName],
		"Amount":      rec.Fields[ColumnAmount],
		"Probability": rec.Fields[ColumnProbability],
		"CloseDate":   nil,
	}
	if t, ok := rec.Fields[ColumnCloseDate].(time.Time); ok {
		fields["CloseDate"] = t.UTC().Format(time.DateOnly)
	}
	if label, ok := OpportunityStage.Label(localString(rec.Fields[ColumnStage])); ok {
		fields["StageName"] = label
	}
	return fields
}

func localString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return ""
	}
}
