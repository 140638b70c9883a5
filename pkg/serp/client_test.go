package serp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/rank-tracker/internal/resilience"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient("test-key", WithBaseURL(srv.URL), WithRateLimit(1000))
}

func rankRequest() CheckRequest {
	return CheckRequest{
		Lat: 45.0, Lng: -122.0,
		Term:       "coffee shop",
		BusinessID: "place-123",
		Device:     "desktop",
	}
}

func TestCheckRank_TargetFound(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/local-search", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req searchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "coffee shop", req.Query)
		assert.Equal(t, 20, req.Depth)

		json.NewEncoder(w).Encode(searchResponse{
			RequestID: "req-9",
			Results: []Entry{
				{Position: 1, Name: "Competitor A", PlaceID: "place-999"},
				{Position: 2, Name: "My Shop", PlaceID: "place-123"},
				{Position: 3, Name: "Competitor B", PlaceID: "place-888"},
			},
		})
	})

	resp, err := client.CheckRank(context.Background(), rankRequest())
	require.NoError(t, err)
	require.NotNil(t, resp.MyPosition)
	assert.Equal(t, 2, *resp.MyPosition)
	assert.Len(t, resp.RankedEntries, 3)
	assert.Equal(t, "req-9", resp.RawRef)
}

func TestCheckRank_NotFoundIsNormalOutcome(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(searchResponse{
			RequestID: "req-10",
			Results:   []Entry{{Position: 1, Name: "Someone Else", PlaceID: "place-777"}},
		})
	})

	resp, err := client.CheckRank(context.Background(), rankRequest())
	require.NoError(t, err)
	assert.Nil(t, resp.MyPosition)
	assert.Len(t, resp.RankedEntries, 1)
}

func TestCheckRank_TransientStatus(t *testing.T) {
	t.Parallel()

	for _, code := range []int{500, 502, 503, 429} {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "upstream sad", code)
		})

		_, err := client.CheckRank(context.Background(), rankRequest())
		require.Error(t, err)
		assert.True(t, resilience.IsTransient(err), "status %d should be transient", code)
		assert.False(t, resilience.IsQuota(err), "status %d should not be quota", code)
	}
}

func TestCheckRank_QuotaExhaustion(t *testing.T) {
	t.Parallel()

	for _, code := range []int{402, 403} {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "credits exhausted", code)
		})

		_, err := client.CheckRank(context.Background(), rankRequest())
		require.Error(t, err)
		assert.True(t, resilience.IsQuota(err), "status %d should be quota", code)
		assert.False(t, resilience.IsTransient(err), "quota must never be retryable")
	}
}

func TestCheckRank_UnexpectedStatusIsPermanent(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad request", http.StatusBadRequest)
	})

	_, err := client.CheckRank(context.Background(), rankRequest())
	require.Error(t, err)
	assert.False(t, resilience.IsTransient(err))
	assert.False(t, resilience.IsQuota(err))
}

func TestCheckRank_NetworkErrorIsTransient(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	client := NewClient("k", WithBaseURL(srv.URL), WithRateLimit(1000))
	_, err := client.CheckRank(context.Background(), rankRequest())
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
}

func TestCheckRank_Validation(t *testing.T) {
	t.Parallel()

	client := NewClient("k", WithRateLimit(1000))

	req := rankRequest()
	req.Term = ""
	_, err := client.CheckRank(context.Background(), req)
	require.Error(t, err)

	req = rankRequest()
	req.BusinessID = ""
	_, err = client.CheckRank(context.Background(), req)
	require.Error(t, err)
}

func TestCheckRank_DepthOption(t *testing.T) {
	t.Parallel()

	var gotDepth int
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req searchRequest
		json.NewDecoder(r.Body).Decode(&req)
		gotDepth = req.Depth
		json.NewEncoder(w).Encode(searchResponse{})
	})

	// Re-wrap with the depth option on the same server.
	hc, ok := client.(*httpClient)
	require.True(t, ok)
	deep := NewClient("k", WithBaseURL(hc.baseURL), WithRateLimit(1000), WithDepth(50))

	_, err := deep.CheckRank(context.Background(), rankRequest())
	require.NoError(t, err)
	assert.Equal(t, 50, gotDepth)
}
