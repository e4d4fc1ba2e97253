// Package dupapi provides a client for the entity duplicates REST API: pair
// details and metadata, merge and ignore submissions, and duplicate
// analysis jobs.
package dupapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/dedupe-cli/internal/filter"
	"github.com/sells-group/dedupe-cli/internal/model"
	"github.com/sells-group/dedupe-cli/internal/reqcache"
	"github.com/sells-group/dedupe-cli/internal/resilience"
)

const (
	pathDuplicates = "/api/entityduplicates/"
	pathDetails    = "/api/entityduplicates/details/"
	pathSubmit     = "/api/entityduplicates"
	pathAnalyses   = "/api/entityduplicates_analyzes/"
)

// Client defines the duplicates backend operations.
type Client interface {
	// Details fetches the field-by-field comparison of a pair.
	Details(ctx context.Context, pair model.Pair) (*model.DetailResponse, error)
	// Metadata fetches the summary entries of a pair.
	Metadata(ctx context.Context, pair model.Pair) ([]model.DuplicatePairMetadata, error)
	// List searches duplicate pairs.
	List(ctx context.Context, f filter.Duplicates) (*ListResponse, error)
	// Merge submits the winning entity id per field.
	Merge(ctx context.Context, pair model.Pair, query model.MergeQuery) (json.RawMessage, error)
	// Ignore marks the pair as not a duplicate.
	Ignore(ctx context.Context, pair model.Pair) (json.RawMessage, error)
	// ListAnalyses lists duplicate detection jobs.
	ListAnalyses(ctx context.Context, page, limit int) (*AnalysisList, error)
	// Forget drops any cached details and metadata of pair so the next read
	// goes to the backend.
	Forget(pair model.Pair)
	// GetAnalysis fetches one job. It is never served from cache.
	GetAnalysis(ctx context.Context, id int64) (*model.AnalysisJob, error)
	// LaunchAnalysis starts a new job.
	LaunchAnalysis(ctx context.Context, params model.AnalysisParameters) (*model.AnalysisJob, error)
}

// ListResponse is one page of duplicate pairs.
type ListResponse struct {
	Count       int                           `json:"count"`
	Page        int                           `json:"page"`
	Pages       int                           `json:"pages"`
	Limit       int                           `json:"limit"`
	HasNext     bool                          `json:"has_next"`
	HasPrevious bool                          `json:"has_previous"`
	Results     []model.DuplicatePairMetadata `json:"results"`
}

// AnalysisList is one page of analysis jobs.
type AnalysisList struct {
	Count   int                 `json:"count"`
	Page    int                 `json:"page"`
	Pages   int                 `json:"pages"`
	HasNext bool                `json:"has_next"`
	Results []model.AnalysisJob `json:"results"`
}

// APIError is a non-2xx backend response. Body keeps the raw payload so it
// can be shown to the operator as-is.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("dupapi: %s %s: status %d: %s", e.Method, e.Path, e.StatusCode, strings.TrimSpace(string(e.Body)))
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL sets the backend root URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

// WithToken sends a bearer token with every request.
func WithToken(token string) Option {
	return func(c *httpClient) { c.token = token }
}

// WithRetry enables retries of read requests. Writes are never retried.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) { c.retry = cfg }
}

// WithBreaker routes every request through b.
func WithBreaker(b *resilience.Breaker) Option {
	return func(c *httpClient) { c.breaker = b }
}

// WithRateLimit caps the request rate against the backend.
func WithRateLimit(perSec float64, burst int) Option {
	return func(c *httpClient) {
		if perSec > 0 {
			if burst <= 0 {
				burst = 1
			}
			c.limiter = rate.NewLimiter(rate.Limit(perSec), burst)
		}
	}
}

// WithCache serves pair details, metadata, and list reads from cache.
func WithCache(cache *reqcache.Cache) Option {
	return func(c *httpClient) { c.cache = cache }
}

type httpClient struct {
	baseURL string
	token   string
	http    *http.Client
	retry   resilience.RetryConfig
	breaker *resilience.Breaker
	limiter *rate.Limiter
	cache   *reqcache.Cache
}

// NewClient creates a duplicates API client.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL: "http://localhost:8081",
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		retry: resilience.NoRetry(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func pairParams(pair model.Pair) url.Values {
	return url.Values{"entities": {pair.String()}}
}

func (c *httpClient) Details(ctx context.Context, pair model.Pair) (*model.DetailResponse, error) {
	q := pairParams(pair)
	return reqcache.Get(ctx, c.cache, reqcache.Key("details", q), func(ctx context.Context) (*model.DetailResponse, error) {
		body, err := c.read(ctx, "details", pathDetails, q)
		if err != nil {
			return nil, err
		}
		var out model.DetailResponse
		if err := json.Unmarshal(body, &out); err != nil {
			return nil, eris.Wrap(err, "dupapi: unmarshal details")
		}
		return &out, nil
	})
}

func (c *httpClient) Metadata(ctx context.Context, pair model.Pair) ([]model.DuplicatePairMetadata, error) {
	q := pairParams(pair)
	return reqcache.Get(ctx, c.cache, reqcache.Key("metadata", q), func(ctx context.Context) ([]model.DuplicatePairMetadata, error) {
		body, err := c.read(ctx, "metadata", pathDuplicates, q)
		if err != nil {
			return nil, err
		}
		return decodeMetadata(body)
	})
}

// decodeMetadata accepts either a bare array or a paginated envelope.
func decodeMetadata(body []byte) ([]model.DuplicatePairMetadata, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var out []model.DuplicatePairMetadata
		if err := json.Unmarshal(trimmed, &out); err != nil {
			return nil, eris.Wrap(err, "dupapi: unmarshal metadata")
		}
		return out, nil
	}
	var page ListResponse
	if err := json.Unmarshal(trimmed, &page); err != nil {
		return nil, eris.Wrap(err, "dupapi: unmarshal metadata")
	}
	return page.Results, nil
}

func (c *httpClient) List(ctx context.Context, f filter.Duplicates) (*ListResponse, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	q := f.Encode()
	return reqcache.Get(ctx, c.cache, reqcache.Key("list", q), func(ctx context.Context) (*ListResponse, error) {
		body, err := c.read(ctx, "list", pathDuplicates, q)
		if err != nil {
			return nil, err
		}
		var out ListResponse
		if err := json.Unmarshal(body, &out); err != nil {
			return nil, eris.Wrap(err, "dupapi: unmarshal list")
		}
		return &out, nil
	})
}

func (c *httpClient) Merge(ctx context.Context, pair model.Pair, query model.MergeQuery) (json.RawMessage, error) {
	payload := map[string]any{
		"entity1_id": pair.Entity1ID,
		"entity2_id": pair.Entity2ID,
	}
	for field, id := range query {
		if field == "entity1_id" || field == "entity2_id" || field == "ignore" {
			return nil, eris.Errorf("dupapi: merge field %q collides with a reserved key", field)
		}
		payload[field] = id
	}
	return c.submit(ctx, pair, payload)
}

func (c *httpClient) Ignore(ctx context.Context, pair model.Pair) (json.RawMessage, error) {
	return c.submit(ctx, pair, map[string]any{
		"entity1_id": pair.Entity1ID,
		"entity2_id": pair.Entity2ID,
		"ignore":     true,
	})
}

func (c *httpClient) submit(ctx context.Context, pair model.Pair, payload map[string]any) (json.RawMessage, error) {
	body, err := c.send(ctx, http.MethodPatch, pathSubmit, nil, payload)
	if err != nil {
		return nil, err
	}
	c.Forget(pair)
	c.cache.Invalidate("list")
	return json.RawMessage(body), nil
}

func (c *httpClient) Forget(pair model.Pair) {
	q := pairParams(pair)
	c.cache.Invalidate(reqcache.Key("details", q))
	c.cache.Invalidate(reqcache.Key("metadata", q))
}

func (c *httpClient) ListAnalyses(ctx context.Context, page, limit int) (*AnalysisList, error) {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = 20
	}
	q := url.Values{"page": {strconv.Itoa(page)}, "limit": {strconv.Itoa(limit)}, "order": {"-created_at"}}
	body, err := c.read(ctx, "list analyses", pathAnalyses, q)
	if err != nil {
		return nil, err
	}
	var out AnalysisList
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, eris.Wrap(err, "dupapi: unmarshal analyses")
	}
	return &out, nil
}

func (c *httpClient) GetAnalysis(ctx context.Context, id int64) (*model.AnalysisJob, error) {
	body, err := c.read(ctx, "get analysis", pathAnalyses+strconv.FormatInt(id, 10)+"/", nil)
	if err != nil {
		return nil, err
	}
	var out model.AnalysisJob
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, eris.Wrap(err, "dupapi: unmarshal analysis")
	}
	return &out, nil
}

func (c *httpClient) LaunchAnalysis(ctx context.Context, params model.AnalysisParameters) (*model.AnalysisJob, error) {
	if params.Algorithm == "" || params.EntityTypeID == 0 || len(params.Fields) == 0 {
		return nil, eris.New("dupapi: launch analysis needs an algorithm, an entity type, and fields")
	}
	body, err := c.send(ctx, http.MethodPost, pathAnalyses, nil, params)
	if err != nil {
		return nil, err
	}
	var out model.AnalysisJob
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, eris.Wrap(err, "dupapi: unmarshal launched analysis")
	}
	return &out, nil
}

// read performs a GET with the configured retry policy.
func (c *httpClient) read(ctx context.Context, op, path string, query url.Values) ([]byte, error) {
	cfg := c.retry
	if cfg.OnRetry == nil {
		cfg.OnRetry = resilience.LogRetry(op)
	}
	return resilience.Do(ctx, cfg, func(ctx context.Context) ([]byte, error) {
		return c.send(ctx, http.MethodGet, path, query, nil)
	})
}

func (c *httpClient) send(ctx context.Context, method, path string, query url.Values, payload any) ([]byte, error) {
	return resilience.Execute(ctx, c.breaker, func(ctx context.Context) ([]byte, error) {
		return c.roundTrip(ctx, method, path, query, payload)
	})
}

func (c *httpClient) roundTrip(ctx context.Context, method, path string, query url.Values, payload any) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "dupapi: rate limit wait")
		}
	}

	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, eris.Wrap(err, "dupapi: marshal request")
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return nil, eris.Wrap(err, "dupapi: create request")
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrapf(err, "dupapi: %s %s", method, path), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "dupapi: read response body")
	}

	zap.L().Debug("dupapi: request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: data}
		if resilience.IsTransientStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(apiErr, resp.StatusCode)
		}
		return nil, apiErr
	}
	return data, nil
}

// AsAPIError extracts an APIError from err's chain.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
