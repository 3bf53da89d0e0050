package quickbooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driven"
	"github.com/custodia-labs/ledgersync/internal/logger"
)

const (
	// DefaultTimeout is the default HTTP request timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultMinorVersion pins the response schema.
	DefaultMinorVersion = 75

	// maxErrorBody bounds how much of a failed response is read.
	maxErrorBody = 64 << 10

	headerIntuitTID = "intuit_tid"
)

// Config configures a Client.
type Config struct {
	BaseURL       string
	MinorVersion  int
	Timeout       time.Duration
	RatePerSecond float64
	// HTTPClient is the base transport. Bearer auth is layered on top per session.
	HTTPClient *http.Client
}

// Client talks to the accounting API. Requests for each company are
// throttled independently.
type Client struct {
	baseURL      string
	minorVersion int
	timeout      time.Duration
	rate         float64
	httpClient   *http.Client

	mu       sync.Mutex
	limiters map[string]*RateLimiter
}

var _ driven.AccountingAPI = (*Client)(nil)

// NewClient creates a new API client.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = domain.DefaultAPIBaseURL
	}
	if cfg.MinorVersion == 0 {
		cfg.MinorVersion = DefaultMinorVersion
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		minorVersion: cfg.MinorVersion,
		timeout:      cfg.Timeout,
		rate:         cfg.RatePerSecond,
		httpClient:   cfg.HTTPClient,
		limiters:     make(map[string]*RateLimiter),
	}
}

// Query runs q and returns the records grouped by upstream type.
func (c *Client) Query(ctx context.Context, s driven.Session, q domain.Query) (domain.QueryResponse, error) {
	stmt, err := BuildQuery(q)
	if err != nil {
		return nil, err
	}

	var body struct {
		QueryResponse map[string]json.RawMessage `json:"QueryResponse"`
	}
	params := url.Values{"query": {stmt}}
	if err := c.do(ctx, s, http.MethodGet, "query", params, nil, &body); err != nil {
		return nil, err
	}

	resp := make(domain.QueryResponse)
	for key, raw := range body.QueryResponse {
		// startPosition, maxResults and totalCount are scalars.
		if len(raw) == 0 || raw[0] != '[' {
			continue
		}
		var records []domain.Record
		if err := json.Unmarshal(raw, &records); err != nil {
			return nil, fmt.Errorf("decode %s records: %w", key, err)
		}
		resp[key] = records
	}
	logger.Debug("quickbooks: %s returned %d record(s)", stmt, len(resp[q.Entity]))
	return resp, nil
}

// Read fetches a single record by ID.
func (c *Client) Read(ctx context.Context, s driven.Session, entity, id string) (domain.Record, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: record id is required", domain.ErrInvalidInput)
	}
	path := strings.ToLower(entity) + "/" + url.PathEscape(id)
	return c.entityCall(ctx, s, http.MethodGet, entity, path, nil)
}

// Create adds a new record.
func (c *Client) Create(ctx context.Context, s driven.Session, entity string, payload domain.Record) (domain.Record, error) {
	return c.entityCall(ctx, s, http.MethodPost, entity, strings.ToLower(entity), payload)
}

// Update applies a sparse update. The payload must carry Id and SyncToken.
func (c *Client) Update(ctx context.Context, s driven.Session, entity string, payload domain.Record) (domain.Record, error) {
	if payload.ID() == "" || payload.SyncToken() == "" {
		return nil, fmt.Errorf("%w: update requires Id and SyncToken", domain.ErrInvalidInput)
	}
	body := payload.Clone()
	body["sparse"] = true
	return c.entityCall(ctx, s, http.MethodPost, entity, strings.ToLower(entity), body)
}

// CompanyName returns the display name of the connected company.
func (c *Client) CompanyName(ctx context.Context, s driven.Session) (string, error) {
	rec, err := c.entityCall(ctx, s, http.MethodGet, "CompanyInfo", "companyinfo/"+url.PathEscape(s.TenantID), nil)
	if err != nil {
		return "", err
	}
	return rec.String("CompanyName"), nil
}

// entityCall performs a single-entity request and unwraps {"<Entity>": {...}}.
func (c *Client) entityCall(
	ctx context.Context, s driven.Session, method, entity, path string, payload domain.Record,
) (domain.Record, error) {
	var body map[string]json.RawMessage
	if err := c.do(ctx, s, method, path, nil, payload, &body); err != nil {
		return nil, err
	}
	raw, ok := body[entity]
	if !ok {
		return nil, fmt.Errorf("quickbooks: response has no %s object", entity)
	}
	var rec domain.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode %s: %w", entity, err)
	}
	return rec, nil
}

func (c *Client) do(
	ctx context.Context, s driven.Session, method, path string, params url.Values, payload any, out any,
) error {
	if s.TenantID == "" || s.AccessToken == "" {
		return domain.ErrNotAuthenticated
	}

	limiter := c.limiter(s.TenantID)
	if until := limiter.BlockedUntil(); time.Until(until) > 0 {
		logger.Debug("quickbooks: company %s is backing off until %s", s.TenantID, until.Format(time.RFC3339))
	}
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	if params == nil {
		params = url.Values{}
	}
	params.Set("minorversion", strconv.Itoa(c.minorVersion))
	endpoint := fmt.Sprintf("%s/v3/company/%s/%s?%s", c.baseURL, url.PathEscape(s.TenantID), path, params.Encode())

	var reader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.authorized(ctx, s).Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if err := limiter.CheckRateLimit(resp); err != nil {
		return domain.NewSyncError(domain.ErrRateLimited, "", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		apiErr := parseFault(resp.StatusCode, req.URL.Path, data)
		logger.Debug("quickbooks: %s %s failed (%s=%s): %s",
			method, path, headerIntuitTID, resp.Header.Get(headerIntuitTID), apiErr.Error())
		return translate(apiErr)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// authorized layers bearer auth over the base client.
func (c *Client) authorized(ctx context.Context, s driven.Session) *http.Client {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: s.AccessToken, TokenType: "Bearer"})
	return oauth2.NewClient(ctx, ts)
}

func (c *Client) limiter(tenantID string) *RateLimiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.limiters[tenantID]
	if !ok {
		l = NewRateLimiter(c.rate)
		c.limiters[tenantID] = l
	}
	return l
}
