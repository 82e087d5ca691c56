package transform

import (
	"time"

	"github.com/peteski22/crmsync/internal/identity"
	"github.com/peteski22/crmsync/internal/salesforce"
)

// Column names shared by several internal tables.
const (
	ColumnAccountID     = "account_id"
	ColumnContactID     = "contact_id"
	ColumnEmail         = "email"
	ColumnName          = "name"
	ColumnOpportunityID = "opportunity_id"
	ColumnOwnerID       = "owner_id"
	ColumnPhone         = "phone"
	ColumnStatus        = "status"
	ColumnTitle         = "title"
)

// User columns.
const (
	ColumnDepartment = "department"
	ColumnIsActive   = "is_active"
)

// Account columns.
const (
	ColumnAccountType       = "account_type"
	ColumnAnnualRevenue     = "annual_revenue"
	ColumnBillingCity       = "billing_city"
	ColumnBillingPostalCode = "billing_postal_code"
	ColumnBillingState      = "billing_state"
	ColumnBillingStreet     = "billing_street"
	ColumnTotalSales        = "total_sales"
	ColumnWebsite           = "website"
)

// Contact columns.
const (
	ColumnFirstName = "first_name"
	ColumnLastName  = "last_name"
)

// Opportunity columns.
const (
	ColumnAmount      = "amount"
	ColumnCloseDate   = "close_date"
	ColumnProbability = "probability"
	ColumnStage       = "stage"
)

// Contract columns.
const (
	ColumnContractNumber = "contract_number"
	ColumnEndDate        = "end_date"
	ColumnSignedDate     = "signed_date"
	ColumnStartDate      = "start_date"
	ColumnTotal          = "total"
)

// UserFields are the external fields read for users.
var UserFields = []string{
	"Id", "Name", "FirstName", "LastName", "Email", "IsActive", "Department", "Title",
	"CreatedDate", "LastModifiedDate",
}

// User transforms an external user.
func User(rec salesforce.Record, _ identity.Maps, now time.Time) (Output, error) {
	name := rec.String("Name")
	if name == "" {
		name = joinNonEmpty(rec.String("FirstName"), rec.String("LastName"))
	}

	return newOutput(rec, rec.ID(), now, map[string]any{
		ColumnName:       name,
		ColumnEmail:      nullableString(rec, "Email"),
		ColumnIsActive:   boolOr(rec, "IsActive", true),
		ColumnDepartment: nullableString(rec, "Department"),
		ColumnTitle:      nullableString(rec, "Title"),
	})
}

// AccountFields are the external fields read for accounts.
var AccountFields = []string{
	"Id", "Name", "Type", "Phone", "Website",
	"BillingStreet", "BillingCity", "BillingState", "BillingPostalCode",
	"AnnualRevenue", "Total_Sales__c", "Lifetime_Value__c", "OwnerId",
	"CreatedDate", "LastModifiedDate",
}

// Account transforms an external account.
func Account(rec salesforce.Record, maps identity.Maps, now time.Time) (Output, error) {
	return newOutput(rec, rec.ID(), now, map[string]any{
		ColumnName:              rec.String("Name"),
		ColumnAccountType:       AccountType.Normalize(rec.String("Type")),
		ColumnPhone:             nullableString(rec, "Phone"),
		ColumnWebsite:           nullableString(rec, "Website"),
		ColumnBillingStreet:     nullableString(rec, "BillingStreet"),
		ColumnBillingCity:       nullableString(rec, "BillingCity"),
		ColumnBillingState:      nullableString(rec, "BillingState"),
		ColumnBillingPostalCode: nullableString(rec, "BillingPostalCode"),
		ColumnAnnualRevenue:     nullableFloat(rec, "AnnualRevenue"),
		ColumnTotalSales:        total(rec, "Total_Sales__c", "Lifetime_Value__c"),
		ColumnOwnerID:           reference(rec, maps, identity.User, "OwnerId"),
	})
}

// ContactFields are the external fields read for contacts.
var ContactFields = []string{
	"Id", "FirstName", "LastName", "Email", "Phone", "MobilePhone", "Title",
	"AccountId", "OwnerId", "CreatedDate", "LastModifiedDate",
}

// Contact transforms an external contact.
func Contact(rec salesforce.Record, maps identity.Maps, now time.Time) (Output, error) {
	return newOutput(rec, rec.ID(), now, map[string]any{
		ColumnFirstName: nullableString(rec, "FirstName"),
		ColumnLastName:  rec.String("LastName"),
		ColumnEmail:     nullableString(rec, "Email"),
		ColumnPhone:     nullableString(rec, "Phone", "MobilePhone"),
		ColumnTitle:     nullableString(rec, "Title"),
		ColumnAccountID: reference(rec, maps, identity.Account, "AccountId"),
		ColumnOwnerID:   reference(rec, maps, identity.User, "OwnerId"),
	})
}

// OpportunityFields are the external fields read for opportunities.
var OpportunityFields = []string{
	"Id", "Name", "StageName", "Amount", "Probability", "CloseDate",
	"AccountId", "ContactId", "OwnerId", "CreatedDate", "LastModifiedDate",
}

// Opportunity transforms an external opportunity.
func Opportunity(rec salesforce.Record, maps identity.Maps, now time.Time) (Output, error) {
	return newOutput(rec, rec.ID(), now, map[string]any{
		ColumnName:        rec.String("Name"),
		ColumnStage:       OpportunityStage.Normalize(rec.String("StageName")),
		ColumnAmount:      nullableFloat(rec, "Amount"),
		ColumnProbability: nullableFloat(rec, "Probability"),
		ColumnCloseDate:   nullableDate(rec, "CloseDate"),
		ColumnAccountID:   reference(rec, maps, identity.Account, "AccountId"),
		ColumnContactID:   reference(rec, maps, identity.Contact, "ContactId"),
		ColumnOwnerID:     reference(rec, maps, identity.User, "OwnerId"),
	})
}

// ContractFields are the external fields read for contracts.
var ContractFields = []string{
	"Id", "ContractNumber", "Status", "Contract_Total__c", "Total_Amount__c",
	"StartDate", "EndDate", "CustomerSignedDate", "CompanySignedDate",
	"AccountId", "Opportunity__c", "OwnerId", "CreatedDate", "LastModifiedDate",
}

// Contract transforms an external contract.
func Contract(rec salesforce.Record, maps identity.Maps, now time.Time) (Output, error) {
	signed := nullableDate(rec, "CustomerSignedDate")
	if signed == nil {
		signed = nullableDate(rec, "CompanySignedDate")
	}

	return newOutput(rec, rec.ID(), now, map[string]any{
		ColumnContractNumber: nullableString(rec, "ContractNumber"),
		ColumnStatus:         ContractStatus.Normalize(rec.String("Status")),
		ColumnTotal:          total(rec, "Contract_Total__c", "Total_Amount__c"),
		ColumnStartDate:      nullableDate(rec, "StartDate"),
		ColumnEndDate:        nullableDate(rec, "EndDate"),
		ColumnSignedDate:     signed,
		ColumnAccountID:      reference(rec, maps, identity.Account, "AccountId"),
		ColumnOpportunityID:  reference(rec, maps, identity.Opportunity, "Opportunity__c"),
		ColumnOwnerID:        reference(rec, maps, identity.User, "OwnerId"),
	})
}

func joinNonEmpty(parts ...string) string {
	out := ""
	for _, p := range parts {
		if p == "" {
			continue
		}
		if out != "" {
			out += " "
		}
		out += p
	}
	return out
}
