package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// HTTP reranker configuration defaults
const (
	DefaultRerankerEndpoint = "http://localhost:9659"
	DefaultRerankerTimeout  = 30 * time.Second
)

// HTTPRerankerConfig holds configuration for a remote cross-encoder.
type HTTPRerankerConfig struct {
	// Endpoint is the server URL; requests go to <Endpoint>/rerank.
	Endpoint string

	// Model is passed through to the server (optional).
	Model string

	// Timeout is the request timeout (default: 30s)
	Timeout time.Duration

	// SkipHealthCheck skips the /health probe during creation (for testing)
	SkipHealthCheck bool
}

// HTTPReranker scores pairs through a remote /rerank endpoint that
// returns {results: [{index, score}]}.
type HTTPReranker struct {
	client *http.Client
	config HTTPRerankerConfig
	mu     sync.RWMutex
	closed bool
}

// Verify interface implementation at compile time
var _ Reranker = (*HTTPReranker)(nil)

// NewHTTPReranker creates a reranker client and, unless skipped, checks
// that the server answers /health.
func NewHTTPReranker(ctx context.Context, cfg HTTPRerankerConfig) (*HTTPReranker, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultRerankerEndpoint
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRerankerTimeout
	}

	r := &HTTPReranker{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     30 * time.Second,
			},
		},
		config: cfg,
	}

	if !cfg.SkipHealthCheck {
		checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		if err := r.healthCheck(checkCtx); err != nil {
			return nil, fmt.Errorf("reranker health check failed: %w", err)
		}
	}

	slog.Debug("http_reranker_created",
		slog.String("endpoint", cfg.Endpoint),
		slog.String("model", cfg.Model),
		slog.Duration("timeout", cfg.Timeout))

	return r, nil
}

func (r *HTTPReranker) healthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.config.Endpoint+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to reranker: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("reranker unhealthy (status %d): %s", resp.StatusCode, string(body))
	}
	return nil
}

// rerankRequest is the JSON request to /rerank endpoint
type rerankRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	Model     string   `json:"model,omitempty"`
}

// rerankResponse is the JSON response from /rerank endpoint
type rerankResponse struct {
	Results []struct {
		Index int     `json:"index"`
		Score float64 `json:"score"`
	} `json:"results"`
}

// Score posts all documents in one request and maps the returned results
// back to input order. Every input index must be scored exactly once.
func (r *HTTPReranker) Score(ctx context.Context, query string, docs []string) ([]float64, error) {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return nil, errRerankerClosed
	}
	r.mu.RUnlock()

	if len(docs) == 0 {
		return []float64{}, nil
	}
	start := time.Now()

	payload, err := json.Marshal(rerankRequest{Query: query, Documents: docs, Model: r.config.Model})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rerank request: %w", err)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(timeoutCtx, http.MethodPost, r.config.Endpoint+"/rerank", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("rerank failed (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var result rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode rerank response: %w", err)
	}
	if len(result.Results) != len(docs) {
		return nil, fmt.Errorf("reranker returned %d scores for %d documents", len(result.Results), len(docs))
	}

	scores := make([]float64, len(docs))
	seen := make([]bool, len(docs))
	for _, res := range result.Results {
		if res.Index < 0 || res.Index >= len(docs) || seen[res.Index] {
			return nil, fmt.Errorf("reranker returned invalid index %d", res.Index)
		}
		seen[res.Index] = true
		scores[res.Index] = res.Score
	}

	slog.Debug("reranker_http_timing",
		slog.Int("doc_count", len(docs)),
		slog.Int("payload_bytes", len(payload)),
		slog.Duration("total", time.Since(start)))

	return scores, nil
}

// Name implements Reranker.
func (r *HTTPReranker) Name() string {
	if r.config.Model != "" {
		return RerankerHTTP + ":" + r.config.Model
	}
	return RerankerHTTP
}

// Close releases resources
func (r *HTTPReranker) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	if transport, ok := r.client.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
	return nil
}
