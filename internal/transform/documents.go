package transform

import (
	"net/url"
	"strings"
	"time"

	"github.com/peteski22/crmsync/internal/identity"
	"github.com/peteski22/crmsync/internal/links"
	"github.com/peteski22/crmsync/internal/salesforce"
)

// Document columns.
const (
	ColumnFileSize   = "file_size"
	ColumnFileType   = "file_type"
	ColumnFileURL    = "file_url"
	ColumnSignedAt   = "signed_at"
	ColumnSourceType = "source_type"
)

// External objects feeding the documents table.
const (
	ObjectAgreement           = "echosign_dev1__SIGN_Agreement__c"
	ObjectAttachment          = "Attachment"
	ObjectContentDocumentLink = "ContentDocumentLink"
	ObjectContentVersion      = "ContentVersion"
)

// ContentVersionFields are the external fields read for files.
var ContentVersionFields = []string{
	"Id", "ContentDocumentId", "Title", "FileType", "FileExtension", "ContentSize",
	"OwnerId", "CreatedDate", "LastModifiedDate",
}

// ContentVersion transforms the latest version of a file. The document is keyed by its
// content document id so that new versions update the same row.
func ContentVersion(rec salesforce.Record, maps identity.Maps, now time.Time) (Output, error) {
	out, err := newOutput(rec, rec.String("ContentDocumentId"), now, map[string]any{
		ColumnTitle:      rec.String("Title"),
		ColumnSourceType: string(SourceContentDocument),
		ColumnFileType:   fileType(firstString(rec, "FileType", "FileExtension")),
		ColumnFileSize:   nullableInt(rec, "ContentSize"),
		ColumnStatus:     DocumentAvailable,
		ColumnFileURL:    "/sfc/servlet.shepherd/version/download/" + url.PathEscape(rec.ID()),
		ColumnSignedAt:   nil,
		ColumnOwnerID:    reference(rec, maps, identity.User, "OwnerId"),
	})
	if err != nil {
		return Output{}, err
	}

	out.SourceType = SourceContentDocument
	return out, nil
}

// ContentDocumentLinkFields are the external fields read for file links.
var ContentDocumentLinkFields = []string{"Id", "ContentDocumentId", "LinkedEntityId"}

// ContentDocumentLinkRef converts an external file link into a link reference.
func ContentDocumentLinkRef(rec salesforce.Record) links.Ref {
	return links.Ref{
		DocumentExternalID: rec.String("ContentDocumentId"),
		ExternalID:         rec.ID(),
		TargetExternalID:   rec.String("LinkedEntityId"),
	}
}

// AgreementFields are the external fields read for e-signature agreements.
var AgreementFields = []string{
	"Id", "Name", "echosign_dev1__Status__c", "echosign_dev1__DateSigned__c",
	"echosign_dev1__Opportunity__c", "echosign_dev1__Account__c", "echosign_dev1__Recipient__c",
	"OwnerId", "CreatedDate", "LastModifiedDate",
}

// agreementParents are the agreement fields referencing the records it is attached to.
var agreementParents = []string{
	"echosign_dev1__Opportunity__c",
	"echosign_dev1__Account__c",
	"echosign_dev1__Recipient__c",
}

// Agreement transforms an e-signature agreement.
func Agreement(rec salesforce.Record, maps identity.Maps, now time.Time) (Output, error) {
	out, err := newOutput(rec, rec.ID(), now, map[string]any{
		ColumnTitle:      rec.String("Name"),
		ColumnSourceType: string(SourceESignature),
		ColumnFileType:   "pdf",
		ColumnFileSize:   nil,
		ColumnStatus:     AgreementStatus.Normalize(rec.String("echosign_dev1__Status__c")),
		ColumnFileURL:    nil,
		ColumnSignedAt:   nullableTime(rec, "echosign_dev1__DateSigned__c"),
		ColumnOwnerID:    reference(rec, maps, identity.User, "OwnerId"),
	})
	if err != nil {
		return Output{}, err
	}

	out.SourceType = SourceESignature
	for _, field := range agreementParents {
		if target := rec.String(field); target != "" {
			out.LinkRefs = append(out.LinkRefs, links.Ref{
				DocumentExternalID: out.ExternalID,
				TargetExternalID:   target,
			})
		}
	}

	return out, nil
}

// AttachmentFields are the external fields read for legacy attachments.
var AttachmentFields = []string{
	"Id", "Name", "ContentType", "BodyLength", "ParentId", "OwnerId", "CreatedDate", "LastModifiedDate",
}

// Attachment transforms a legacy attachment.
func Attachment(rec salesforce.Record, maps identity.Maps, now time.Time) (Output, error) {
	name := rec.String("Name")

	out, err := newOutput(rec, rec.ID(), now, map[string]any{
		ColumnTitle:      name,
		ColumnSourceType: string(SourceAttachment),
		ColumnFileType:   fileType(firstString(rec, "ContentType", "Name")),
		ColumnFileSize:   nullableInt(rec, "BodyLength"),
		ColumnStatus:     DocumentAvailable,
		ColumnFileURL:    "/servlet/servlet.FileDownload?file=" + url.QueryEscape(rec.ID()),
		ColumnSignedAt:   nil,
		ColumnOwnerID:    reference(rec, maps, identity.User, "OwnerId"),
	})
	if err != nil {
		return Output{}, err
	}

	out.SourceType = SourceAttachment
	if parent := rec.String("ParentId"); parent != "" {
		out.LinkRefs = []links.Ref{{DocumentExternalID: out.ExternalID, TargetExternalID: parent}}
	}

	return out, nil
}

// fileType reduces a MIME type, file name or extension to a lower-case extension-like token.
func fileType(s string) any {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return nil
	}
	if i := strings.LastIndexAny(s, "/."); i >= 0 && i < len(s)-1 {
		s = s[i+1:]
	}
	return s
}
