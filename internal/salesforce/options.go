package salesforce

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Option configures optional Client settings.
type Option func(*options) error

// options holds optional configuration for creating a Client.
type options struct {
	// apiVersion is the REST API version (e.g. v59.0).
	apiVersion string

	// httpClient is a custom HTTP client.
	httpClient *http.Client

	// inChunkSize is the maximum number of values per IN clause.
	inChunkSize int

	// pageSize is the requested number of records per page.
	pageSize int

	// timeout is the HTTP client timeout.
	timeout time.Duration

	// tokenURL is the OAuth token endpoint.
	tokenURL string
}

// WithAPIVersion sets the REST API version, with or without the leading "v".
func WithAPIVersion(version string) Option {
	return func(o *options) error {
		version = strings.TrimSpace(version)
		if version == "" {
			return fmt.Errorf("API version cannot be empty")
		}
		if !strings.HasPrefix(version, "v") {
			version = "v" + version
		}
		o.apiVersion = version
		return nil
	}
}

// WithHTTPClient sets a custom HTTP client. Overrides WithTimeout.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(o *options) error {
		if httpClient == nil {
			return fmt.Errorf("HTTP client cannot be nil")
		}
		o.httpClient = httpClient
		return nil
	}
}

// WithInChunkSize sets the maximum number of values sent in one IN clause.
func WithInChunkSize(size int) Option {
	return func(o *options) error {
		if size <= 0 {
			return fmt.Errorf("IN chunk size must be positive, got %d", size)
		}
		o.inChunkSize = size
		return nil
	}
}

// WithPageSize sets the requested query batch size (200-2000 per the API).
func WithPageSize(size int) Option {
	return func(o *options) error {
		if size < 200 || size > 2000 {
			return fmt.Errorf("page size must be between 200 and 2000, got %d", size)
		}
		o.pageSize = size
		return nil
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(o *options) error {
		if timeout <= 0 {
			return fmt.Errorf("timeout must be positive, got %v", timeout)
		}
		o.timeout = timeout
		return nil
	}
}

// WithTokenURL sets a custom OAuth token endpoint (e.g. a sandbox login host).
func WithTokenURL(tokenURL string) Option {
	return func(o *options) error {
		tokenURL = strings.TrimSpace(tokenURL)
		if tokenURL == "" {
			return fmt.Errorf("token URL cannot be empty")
		}
		o.tokenURL = tokenURL
		return nil
	}
}

// defaultOptions returns options with sensible defaults.
func defaultOptions() *options {
	return &options{
		apiVersion:  "v59.0",
		inChunkSize: DefaultInChunkSize,
		pageSize:    2000,
		timeout:     60 * time.Second,
		tokenURL:    DefaultTokenURL,
	}
}
