// Package assistant is the HTTP client for the remote hardware
// recommendation service.
package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/zulandar/labdesk/internal/logging"
	"github.com/zulandar/labdesk/internal/models"
	"go.uber.org/zap"
)

// Chat role types understood by the backend.
const (
	RoleGeneral         = "general"
	RoleProductSpecific = "product_specific"
)

// Client is the set of remote operations the dispatcher relies on.
type Client interface {
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
	Search(ctx context.Context, query string) (SearchResponse, error)
	Recommend(ctx context.Context, req RecommendRequest) (RecommendResponse, error)
	Health(ctx context.Context) (HealthStatus, error)
}

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Message  string              `json:"message"`
	RoleType string              `json:"role_type"`
	Context  *ChatContext        `json:"context"`
	History  []map[string]string `json:"history,omitempty"`
}

// ChatContext carries the selected product for product-specific chat.
type ChatContext struct {
	Product *models.Product `json:"product,omitempty"`
}

// ChatResponse is the reply of POST /api/chat.
type ChatResponse struct {
	Response string `json:"response"`
	Error    string `json:"error,omitempty"`
}

// SearchResponse is the reply of POST /api/search.
type SearchResponse struct {
	Products []models.Product `json:"products"`
	Count    int              `json:"count"`
	Message  string           `json:"message"`
}

// RecommendRequest is the body of POST /api/recommendation.
type RecommendRequest struct {
	Query         string `json:"query"`
	SingleProduct bool   `json:"single_product"`
}

// RecommendResponse is the reply of POST /api/recommendation.
type RecommendResponse struct {
	RecommendedProducts []models.Product `json:"recommended_products"`
	LLMResponse         string           `json:"llm_response"`
}

// recommendWire accepts both the documented recommendation shape and the
// search-result shape the backend also emits for this route.
type recommendWire struct {
	RecommendedProducts []models.Product `json:"recommended_products"`
	LLMResponse         string           `json:"llm_response"`
	Products            []models.Product `json:"products"`
	Message             string           `json:"message"`
}

// HealthStatus is the reply of GET /api/health.
type HealthStatus struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	Environment string `json:"environment"`
}

// RemoteError is returned for non-success responses. StatusCode is 0 when
// the request never got a response; Err then holds the transport error.
type RemoteError struct {
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *RemoteError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s failed: %s", e.Op, e.Message)
	}
	if e.Message == "" {
		return fmt.Sprintf("%s failed with status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s failed with status %d: %s", e.Op, e.StatusCode, e.Message)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// HTTPClient talks to the backend over HTTP.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	log     *zap.Logger
	search  *cache.Cache // nil when caching is disabled
}

// HTTPClientOpts holds parameters for creating an HTTPClient.
type HTTPClientOpts struct {
	BaseURL        string
	Timeout        time.Duration // 0 means no client-side timeout
	SearchCacheTTL time.Duration // 0 disables the search cache
	HTTPClient     *http.Client  // optional; overrides Timeout
	Logger         *zap.Logger
}

// NewHTTPClient creates an HTTPClient.
func NewHTTPClient(opts HTTPClientOpts) (*HTTPClient, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("assistant: base url is required")
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	c := &HTTPClient{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		http:    hc,
		log:     logging.OrNop(opts.Logger),
	}
	if opts.SearchCacheTTL > 0 {
		c.search = cache.New(opts.SearchCacheTTL, 2*opts.SearchCacheTTL)
	}
	return c, nil
}

// Chat sends a general or product-specific chat message. An empty role
// defaults to RoleGeneral.
func (c *HTTPClient) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	if req.RoleType == "" {
		req.RoleType = RoleGeneral
	}
	var resp ChatResponse
	if err := c.post(ctx, "chat", "/api/chat", req, &resp); err != nil {
		return ChatResponse{}, err
	}
	// The backend reports model failures as 200 with an error field.
	if resp.Error != "" {
		return ChatResponse{}, &RemoteError{Op: "chat", StatusCode: http.StatusOK, Message: resp.Error}
	}
	return resp, nil
}

// Search runs a plain product search. Results are cached per query when a
// cache TTL is configured.
func (c *HTTPClient) Search(ctx context.Context, query string) (SearchResponse, error) {
	key := strings.ToLower(strings.TrimSpace(query))
	if c.search != nil {
		if hit, ok := c.search.Get(key); ok {
			return hit.(SearchResponse), nil
		}
	}
	var resp SearchResponse
	if err := c.post(ctx, "search", "/api/search", map[string]string{"query": query}, &resp); err != nil {
		return SearchResponse{}, err
	}
	if c.search != nil {
		c.search.SetDefault(key, resp)
	}
	return resp, nil
}

// Recommend asks for a recommendation with a narrative answer.
func (c *HTTPClient) Recommend(ctx context.Context, req RecommendRequest) (RecommendResponse, error) {
	var wire recommendWire
	if err := c.post(ctx, "recommendation", "/api/recommendation", req, &wire); err != nil {
		return RecommendResponse{}, err
	}
	resp := RecommendResponse{
		RecommendedProducts: wire.RecommendedProducts,
		LLMResponse:         wire.LLMResponse,
	}
	if resp.RecommendedProducts == nil {
		resp.RecommendedProducts = wire.Products
	}
	if resp.LLMResponse == "" {
		resp.LLMResponse = wire.Message
	}
	return resp, nil
}

// Health queries the backend health endpoint.
func (c *HTTPClient) Health(ctx context.Context) (HealthStatus, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/health", nil)
	if err != nil {
		return HealthStatus{}, fmt.Errorf("assistant: health: %w", err)
	}
	var status HealthStatus
	if err := c.do("health", httpReq, &status); err != nil {
		return HealthStatus{}, err
	}
	return status, nil
}

func (c *HTTPClient) post(ctx context.Context, op, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("assistant: %s: encode request: %w", op, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("assistant: %s: %w", op, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	return c.do(op, httpReq, out)
}

func (c *HTTPClient) do(op string, httpReq *http.Request, out any) error {
	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.log.Warn("assistant request failed", zap.String("op", op), zap.Error(err))
		return &RemoteError{Op: op, Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return &RemoteError{Op: op, StatusCode: resp.StatusCode, Message: "read response: " + err.Error()}
	}
	c.log.Debug("assistant request",
		zap.String("op", op),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &RemoteError{Op: op, StatusCode: resp.StatusCode, Message: errorDetail(body)}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &RemoteError{Op: op, StatusCode: resp.StatusCode, Message: "decode response: " + err.Error()}
	}
	return nil
}

// errorDetail extracts a readable reason from an error body. FastAPI puts it
// under "detail", which may be a string or a list of validation errors.
func errorDetail(body []byte) string {
	var payload struct {
		Detail json.RawMessage `json:"detail"`
		Error  string          `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return strings.TrimSpace(string(body))
	}
	if payload.Error != "" {
		return payload.Error
	}
	var s string
	if err := json.Unmarshal(payload.Detail, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(payload.Detail))
}
