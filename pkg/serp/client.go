// Package serp wraps the external local-search ranking provider. The
// client owns request shaping and response normalization only; retries
// and persistence belong to the caller.
package serp

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/rank-tracker/internal/resilience"
)

const (
	defaultBaseURL = "https://api.localserp.io"
	defaultDepth   = 20
)

// Client checks the local ranking of a business at a geographic point.
type Client interface {
	CheckRank(ctx context.Context, req CheckRequest) (*CheckResponse, error)
}

// CheckRequest identifies one observation: a point, a search term, and
// the business to look for in the results.
type CheckRequest struct {
	Lat        float64
	Lng        float64
	Term       string
	BusinessID string // provider-specific place identifier
	Device     string // "desktop" or "mobile"
}

// Entry is one ranked business visible at the check point.
type Entry struct {
	Position int    `json:"position"`
	Name     string `json:"name"`
	PlaceID  string `json:"place_id"`
}

// CheckResponse is the normalized provider result. MyPosition is nil when
// the target business is absent from the top results — a normal outcome,
// not an error.
type CheckResponse struct {
	RankedEntries []Entry
	MyPosition    *int
	RawRef        string // provider request id, for payload traceability
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit sets the requests-per-second limit for provider calls.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), int(rps))
	}
}

// WithDepth sets how many ranked entries to request (top N).
func WithDepth(depth int) Option {
	return func(c *httpClient) {
		c.depth = depth
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	depth   int
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a ranking provider client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		depth:   defaultDepth,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(5, 5),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type searchRequest struct {
	Lat    float64 `json:"lat"`
	Lng    float64 `json:"lng"`
	Query  string  `json:"query"`
	Device string  `json:"device,omitempty"`
	Depth  int     `json:"depth"`
}

type searchResponse struct {
	RequestID string  `json:"request_id"`
	Results   []Entry `json:"results"`
}

func (c *httpClient) CheckRank(ctx context.Context, req CheckRequest) (*CheckResponse, error) {
	if req.Term == "" {
		return nil, eris.New("serp: empty search term")
	}
	if req.BusinessID == "" {
		return nil, eris.New("serp: missing business id")
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "serp: rate limit wait")
	}

	body, err := json.Marshal(searchRequest{
		Lat:    req.Lat,
		Lng:    req.Lng,
		Query:  req.Term,
		Device: req.Device,
		Depth:  c.depth,
	})
	if err != nil {
		return nil, eris.Wrap(err, "serp: marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/local-search", bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "serp: create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		// Network-level failures are retry candidates for the caller.
		return nil, resilience.NewTransientError(eris.Wrap(err, "serp: send request"), 0)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "serp: read response"), resp.StatusCode)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to decode

	case resp.StatusCode == http.StatusPaymentRequired || resp.StatusCode == http.StatusForbidden:
		// Provider-side credit exhaustion. Non-retryable, surfaced as-is.
		return nil, resilience.NewQuotaError("serp",
			eris.Errorf("status %d: %s", resp.StatusCode, string(respBody)))

	case resilience.IsTransientHTTPStatus(resp.StatusCode):
		return nil, resilience.NewTransientError(
			eris.Errorf("serp: status %d: %s", resp.StatusCode, string(respBody)), resp.StatusCode)

	default:
		return nil, eris.Errorf("serp: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var sr searchResponse
	if err := json.Unmarshal(respBody, &sr); err != nil {
		return nil, eris.Wrap(err, "serp: unmarshal response")
	}

	return normalize(sr, req.BusinessID), nil
}

// normalize finds the target business in the ranked entries. Absence is a
// valid observation (MyPosition nil).
func normalize(sr searchResponse, businessID string) *CheckResponse {
	out := &CheckResponse{
		RankedEntries: sr.Results,
		RawRef:        sr.RequestID,
	}
	for _, e := range sr.Results {
		if e.PlaceID == businessID {
			pos := e.Position
			out.MyPosition = &pos
			break
		}
	}
	return out
}
