// Package salesforce provides a client for the Salesforce REST API.
package salesforce

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

const (
	// FieldCreatedDate is the conventional creation timestamp field.
	FieldCreatedDate = "CreatedDate"

	// FieldID is the conventional external identifier field.
	FieldID = "Id"

	// FieldLastModifiedDate is the conventional modification timestamp field.
	FieldLastModifiedDate = "LastModifiedDate"
)

var (
	// ErrCursorConsumed is returned when a query sequence is ranged over more than once.
	ErrCursorConsumed = errors.New("query cursor already consumed")

	// ErrUnauthorized is wrapped by errors caused by rejected credentials.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrUnavailable is wrapped by errors caused by an unreachable or failing API: transport
	// errors, rate limiting and 5xx responses.
	ErrUnavailable = errors.New("salesforce unavailable")
)

// APIError is returned for any non-2xx response from the API.
type APIError struct {
	// Code is the Salesforce error code (e.g. INVALID_SESSION_ID), if present.
	Code string

	// Message is the error message or raw body.
	Message string

	// Status is the HTTP status code.
	Status int
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("unexpected status %d: %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Status, e.Message)
}

// Unwrap lets callers match authentication failures with errors.Is(err, ErrUnauthorized)
// and server-side failures with errors.Is(err, ErrUnavailable).
func (e *APIError) Unwrap() error {
	switch {
	case e.Status == http.StatusUnauthorized, e.Status == http.StatusForbidden, e.Code == "INVALID_SESSION_ID":
		return ErrUnauthorized
	case e.Status == http.StatusTooManyRequests, e.Status >= http.StatusInternalServerError:
		return ErrUnavailable
	default:
		return nil
	}
}

// apiErrorBody is a single entry of the error array returned by the REST API.
//
//nolint:tagliatelle // External API uses camelCase.
type apiErrorBody struct {
	ErrorCode string `json:"errorCode"`
	Message   string `json:"message"`
}

// queryResponse represents one page of a SOQL query result.
//
//nolint:tagliatelle // External API uses camelCase.
type queryResponse struct {
	// Done indicates there are no further pages.
	Done bool `json:"done"`

	// NextRecordsURL is the relative URL of the next page.
	NextRecordsURL string `json:"nextRecordsUrl"`

	// Records contains the page of records.
	Records []Record `json:"records"`

	// TotalSize is the total number of matching records.
	TotalSize int `json:"totalSize"`
}

// newAPIError builds an APIError from a response status and body.
func newAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{Status: status, Message: strings.TrimSpace(string(body))}

	var entries []apiErrorBody
	if err := decodeJSON(body, &entries); err == nil && len(entries) > 0 {
		apiErr.Code = entries[0].ErrorCode
		apiErr.Message = entries[0].Message
	}

	return apiErr
}
