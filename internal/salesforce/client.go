package salesforce

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
)

// Client is a Salesforce REST API client.
type Client struct {
	// apiVersion is the REST API version path segment.
	apiVersion string

	// baseURL is the instance URL for API requests.
	baseURL string

	// httpClient is the HTTP client for making requests.
	httpClient *http.Client

	// inChunkSize is the maximum number of values per IN clause.
	inChunkSize int

	// pageSize is the requested number of records per page.
	pageSize int

	// tokenManager handles OAuth token refresh.
	tokenManager *tokenManager
}

// Config holds the required configuration for creating a Client.
type Config struct {
	// ClientID is the connected app consumer key.
	ClientID string

	// ClientSecret is the connected app consumer secret.
	ClientSecret string

	// InstanceURL is the org instance URL (e.g. https://example.my.salesforce.com).
	InstanceURL string

	// TokenStore provides access to OAuth refresh tokens.
	TokenStore TokenStore
}

// validate checks that all required Config fields are set.
func (c *Config) validate() error {
	var errs []error
	if c.ClientID == "" {
		errs = append(errs, errors.New("client ID is required"))
	}
	if c.ClientSecret == "" {
		errs = append(errs, errors.New("client secret is required"))
	}
	if c.InstanceURL == "" {
		errs = append(errs, errors.New("instance URL is required"))
	}
	if c.TokenStore == nil {
		errs = append(errs, errors.New("token store is required"))
	}
	return errors.Join(errs...)
}

// Query runs a SOQL query and yields its records in API order, following pagination transparently.
// The sequence is lazy and may only be ranged over once; a second pass yields ErrCursorConsumed.
// Transport and API errors are yielded once and end the sequence.
func (c *Client) Query(ctx context.Context, req QueryRequest) iter.Seq2[Record, error] {
	consumed := false

	return func(yield func(Record, error) bool) {
		if consumed {
			yield(nil, ErrCursorConsumed)
			return
		}
		consumed = true

		c.query(ctx, req, 0, yield)
	}
}

// QueryIn runs req once per chunk of values, adding a "field IN (...)" condition to each.
// Chunks are sized to the API's list limit and queried in order. Limit applies across chunks.
func (c *Client) QueryIn(ctx context.Context, req QueryRequest, field string, values []string) iter.Seq2[Record, error] {
	consumed := false

	return func(yield func(Record, error) bool) {
		if consumed {
			yield(nil, ErrCursorConsumed)
			return
		}
		consumed = true

		emitted := 0
		for _, chunk := range ChunkIn(values, c.inChunkSize) {
			sub := req
			sub.Where = append(slices.Clone(req.Where), In(field, chunk))

			n, ok := c.query(ctx, sub, emitted, yield)
			emitted = n
			if !ok || (req.Limit > 0 && emitted >= req.Limit) {
				return
			}
		}
	}
}

// Update patches fields on an existing record.
func (c *Client) Update(ctx context.Context, object string, id string, fields map[string]any) error {
	if object == "" || id == "" {
		return errors.New("object and id are required")
	}

	reqURL := fmt.Sprintf("%s/services/data/%s/sobjects/%s/%s",
		c.baseURL, c.apiVersion, url.PathEscape(object), url.PathEscape(id))

	if err := c.doRequest(ctx, http.MethodPatch, reqURL, fields, nil); err != nil {
		return fmt.Errorf("updating %s %s: %w", object, id, err)
	}

	return nil
}

// Collect drains a query sequence into a slice.
func Collect(seq iter.Seq2[Record, error]) ([]Record, error) {
	var records []Record
	for rec, err := range seq {
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// query pages through a single SOQL query. emitted is the number of records already yielded
// against req.Limit. It returns the updated count and false if iteration must stop.
func (c *Client) query(
	ctx context.Context,
	req QueryRequest,
	emitted int,
	yield func(Record, error) bool,
) (int, bool) {
	if req.Limit > 0 {
		req.Limit -= emitted
	}

	soql, err := req.SOQL()
	if err != nil {
		yield(nil, fmt.Errorf("building query: %w", err))
		return emitted, false
	}

	params := url.Values{}
	params.Set("q", soql)
	next := fmt.Sprintf("%s/services/data/%s/query?%s", c.baseURL, c.apiVersion, params.Encode())

	total := emitted + req.Limit
	for next != "" {
		var page queryResponse
		if err := c.doRequest(ctx, http.MethodGet, next, nil, &page); err != nil {
			yield(nil, fmt.Errorf("querying %s: %w", req.Object, err))
			return emitted, false
		}

		for _, rec := range page.Records {
			if !yield(rec, nil) {
				return emitted, false
			}
			emitted++
			if req.Limit > 0 && emitted >= total {
				return emitted, true
			}
		}

		if page.Done || page.NextRecordsURL == "" {
			break
		}
		next = c.baseURL + page.NextRecordsURL
	}

	return emitted, true
}

// doRequest executes an HTTP request with authentication and JSON encoding.
func (c *Client) doRequest(ctx context.Context, method string, reqURL string, body any, result any) error {
	accessToken, err := c.tokenManager.AccessToken(ctx)
	if err != nil {
		return fmt.Errorf("getting access token: %w", err)
	}

	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		reqBody = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Sforce-Query-Options", "batchSize="+strconv.Itoa(c.pageSize))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: executing request: %w", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		if resp.StatusCode == http.StatusUnauthorized {
			c.tokenManager.Invalidate()
		}
		return newAPIError(resp.StatusCode, respBody)
	}

	if result != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}

	return nil
}

// NewClient creates a new Salesforce REST API client.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	o := defaultOptions()
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, fmt.Errorf("applying option: %w", err)
		}
	}

	httpClient := o.httpClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: o.timeout}
	}

	tm := newTokenManager(cfg.ClientID, cfg.ClientSecret, cfg.TokenStore, httpClient, o.tokenURL)

	return &Client{
		apiVersion:   o.apiVersion,
		baseURL:      strings.TrimRight(cfg.InstanceURL, "/"),
		httpClient:   httpClient,
		inChunkSize:  o.inChunkSize,
		pageSize:     o.pageSize,
		tokenManager: tm,
	}, nil
}
