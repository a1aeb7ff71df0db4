package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLexicalReranker_Score(t *testing.T) {
	rr := NewLexicalReranker()
	docs := []string{
		"Contact person for Shanti Gaushala is Ramesh, phone number 9876543210.",
		"Shanti Gaushala is located in Rampur, Ambala.",
		"Krishna Gaushala has registration number GSA-4314.",
	}

	tests := []struct {
		name  string
		query string
		want  []float64
	}{
		{name: "full and partial coverage", query: "who is the contact for Ramesh", want: []float64{5, -5, -5}},
		{name: "half coverage", query: "shanti rampur", want: []float64{0, 5, -5}},
		{name: "only stop words", query: "who is the", want: []float64{-5, -5, -5}},
		{name: "leading zeros", query: "GSA 04314", want: []float64{-5, -5, 5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := rr.Score(context.Background(), tt.query, docs)
			require.NoError(t, err)
			assert.InDeltaSlice(t, tt.want, got, 1e-9)
		})
	}
}

func TestLexicalReranker_Closed(t *testing.T) {
	rr := NewLexicalReranker()
	require.NoError(t, rr.Close())

	_, err := rr.Score(context.Background(), "q", []string{"doc"})
	assert.ErrorIs(t, err, errRerankerClosed)
}

func TestDefaultThreshold(t *testing.T) {
	assert.Equal(t, -4.0, DefaultThreshold(RerankerONNX))
	assert.Equal(t, 0.0, DefaultThreshold(RerankerLexical))
	assert.Equal(t, 0.0, DefaultThreshold(RerankerHTTP))
}

// fakeRerankServer answers /health and scores each document by its length,
// returning results in reverse order.
func fakeRerankServer(t *testing.T, mutate func(resp *rerankResponse)) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/rerank", func(w http.ResponseWriter, r *http.Request) {
		var req rerankRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var resp rerankResponse
		for i := len(req.Documents) - 1; i >= 0; i-- {
			resp.Results = append(resp.Results, struct {
				Index int     `json:"index"`
				Score float64 `json:"score"`
			}{Index: i, Score: float64(len(req.Documents[i]))})
		}
		if mutate != nil {
			mutate(&resp)
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPReranker_Score(t *testing.T) {
	// Given
	srv := fakeRerankServer(t, nil)
	rr, err := NewHTTPReranker(context.Background(), HTTPRerankerConfig{Endpoint: srv.URL + "/", Model: "bge"})
	require.NoError(t, err)
	defer rr.Close()

	// When
	scores, err := rr.Score(context.Background(), "q", []string{"a", "bbb", "cc"})

	// Then: scores are mapped back to input order
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 3, 2}, scores)
	assert.Equal(t, "http:bge", rr.Name())
}

func TestHTTPReranker_InvalidResponses(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*rerankResponse)
	}{
		{name: "missing result", mutate: func(r *rerankResponse) { r.Results = r.Results[1:] }},
		{name: "duplicate index", mutate: func(r *rerankResponse) { r.Results[0].Index = r.Results[1].Index }},
		{name: "out of range", mutate: func(r *rerankResponse) { r.Results[0].Index = 99 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := fakeRerankServer(t, tt.mutate)
			rr, err := NewHTTPReranker(context.Background(), HTTPRerankerConfig{Endpoint: srv.URL})
			require.NoError(t, err)
			defer rr.Close()

			_, err = rr.Score(context.Background(), "q", []string{"a", "bb", "ccc"})
			assert.Error(t, err)
		})
	}
}

func TestHTTPReranker_HealthCheckFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "loading", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewHTTPReranker(context.Background(), HTTPRerankerConfig{Endpoint: srv.URL})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "health check")
}

func TestHTTPReranker_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	rr, err := NewHTTPReranker(context.Background(), HTTPRerankerConfig{Endpoint: srv.URL, SkipHealthCheck: true})
	require.NoError(t, err)
	defer rr.Close()

	_, err = rr.Score(context.Background(), "q", []string{"doc"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")

	empty, err := rr.Score(context.Background(), "q", nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestRender(t *testing.T) {
	hits := []Hit{{FullInfo: "Gaushala: A"}, {FullInfo: "Gaushala: B"}}

	tests := []struct {
		name string
		res  *Result
		want string
	}{
		{name: "nil", res: nil, want: ""},
		{name: "empty", res: &Result{Mode: ModeEmpty}, want: ""},
		{name: "exact", res: &Result{Mode: ModeExact, Hits: hits[:1]}, want: "EXACT MATCH\nGaushala: A"},
		{name: "ranked", res: &Result{Mode: ModeRanked, Hits: hits}, want: "[Result 1]\nGaushala: A\n\n[Result 2]\nGaushala: B"},
		{name: "fallback", res: &Result{Mode: ModeFallback, Hits: hits[:1]}, want: "[Best available match]\nGaushala: A"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Render(tt.res))
		})
	}
}
