package search

import (
	"fmt"
	"log/slog"

	"github.com/Aman-CERP/tablerag/internal/errors"
	"github.com/Aman-CERP/tablerag/internal/store"
	"github.com/Aman-CERP/tablerag/internal/telemetry"
)

// EngineOption configures the retrieval engine.
type EngineOption func(*Engine)

// WithLogger sets the logger; the default is slog.Default().
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *telemetry.Metrics) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithQueryStats sets the in-process query statistics collector.
func WithQueryStats(s *telemetry.QueryStats) EngineOption {
	return func(e *Engine) {
		e.queryStats = s
	}
}

// WithLexicalBackend selects the lexical index implementation
// ("bleve" or "sqlite") used for builds and loads.
func WithLexicalBackend(backend string) EngineOption {
	return func(e *Engine) {
		if backend != "" {
			e.lexicalBackend = backend
		}
	}
}

// WithProgress sets a build progress callback.
func WithProgress(fn ProgressFunc) EngineOption {
	return func(e *Engine) {
		e.progress = fn
	}
}

// Validate checks the retrieval settings.
func (c EngineConfig) Validate() error {
	switch {
	case c.LexicalK <= 0:
		return errors.ValidationError(fmt.Sprintf("lexical_k must be positive, got %d", c.LexicalK), nil)
	case c.SemanticK <= 0:
		return errors.ValidationError(fmt.Sprintf("semantic_k must be positive, got %d", c.SemanticK), nil)
	case c.MaxResults <= 0:
		return errors.ValidationError(fmt.Sprintf("max_results must be positive, got %d", c.MaxResults), nil)
	case c.FallbackCount < 1 || c.FallbackCount > 2:
		return errors.ValidationError(fmt.Sprintf("fallback_count must be 1 or 2, got %d", c.FallbackCount), nil)
	}
	return nil
}

func validBackend(backend string) bool {
	return backend == store.LexicalBackendBleve || backend == store.LexicalBackendSQLite
}
