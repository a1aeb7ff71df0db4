package search

import (
	"context"
	stderrors "errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/tablerag/internal/embed"
	"github.com/Aman-CERP/tablerag/internal/errors"
	"github.com/Aman-CERP/tablerag/internal/record"
	"github.com/Aman-CERP/tablerag/internal/telemetry"
)

// countingEmbedder wraps the static embedder and counts query embeddings.
type countingEmbedder struct {
	*embed.StaticEmbedder
	queries atomic.Int64
	model   string
}

func newCountingEmbedder() *countingEmbedder {
	return &countingEmbedder{StaticEmbedder: embed.NewStaticEmbedder()}
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.queries.Add(1)
	return c.StaticEmbedder.Embed(ctx, text)
}

func (c *countingEmbedder) ModelName() string {
	if c.model != "" {
		return c.model
	}
	return c.StaticEmbedder.ModelName()
}

// countingReranker wraps the lexical reranker and counts Score calls.
type countingReranker struct {
	*LexicalReranker
	calls atomic.Int64
}

func newCountingReranker() *countingReranker {
	return &countingReranker{LexicalReranker: NewLexicalReranker()}
}

func (c *countingReranker) Score(ctx context.Context, query string, docs []string) ([]float64, error) {
	c.calls.Add(1)
	return c.LexicalReranker.Score(ctx, query, docs)
}

// stubReranker returns a fixed result for every call.
type stubReranker struct {
	scores func(n int) []float64
	err    error
}

func (s *stubReranker) Score(_ context.Context, _ string, docs []string) ([]float64, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.scores(len(docs)), nil
}

func (s *stubReranker) Name() string { return "stub" }
func (s *stubReranker) Close() error { return nil }

func shantiRow() record.Row {
	return record.Row{
		ID:           1,
		Name:         "Shanti Gaushala",
		Village:      "Rampur",
		District:     "Ambala",
		Registration: "GSA-014",
		Count:        "42",
		Status:       "Active",
		Contact:      "Ramesh",
		Phone:        "9876543210",
	}
}

func sampleRows() []record.Row {
	return []record.Row{
		shantiRow(),
		{ID: 2, Name: "Krishna Gaushala", Village: "Barara", District: "Ambala", Registration: "GSA-4314", Count: "120", Contact: "Suresh Kumar", Phone: "98123-45678"},
		{ID: 3, Name: "Gopal Seva Sadan", Village: "Kharar", District: "Mohali", Registration: "GSA/77", Count: "35", Status: "closed"},
		{ID: 4, Name: "Nandi Dham", District: "Karnal", Registration: "unknown", Count: "n/a"},
	}
}

func newTestEngine(t *testing.T, opts ...EngineOption) (*Engine, *countingEmbedder, *countingReranker) {
	t.Helper()
	emb := newCountingEmbedder()
	rr := newCountingReranker()
	e, err := NewEngine(emb, rr, DefaultConfig(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e, emb, rr
}

func buildEngine(t *testing.T, rows []record.Row, opts ...EngineOption) (*Engine, *countingEmbedder, *countingReranker) {
	t.Helper()
	e, emb, rr := newTestEngine(t, opts...)
	require.NoError(t, e.Build(context.Background(), rows))
	require.Equal(t, StateReady, e.State())
	return e, emb, rr
}

func TestNewEngine_Validation(t *testing.T) {
	emb := embed.NewStaticEmbedder()
	rr := NewLexicalReranker()

	tests := []struct {
		name    string
		emb     embed.Embedder
		rr      Reranker
		mutate  func(*EngineConfig)
		opts    []EngineOption
		wantErr bool
	}{
		{name: "defaults", emb: emb, rr: rr},
		{name: "nil embedder", rr: rr, wantErr: true},
		{name: "nil reranker", emb: emb, wantErr: true},
		{name: "zero max results", emb: emb, rr: rr, mutate: func(c *EngineConfig) { c.MaxResults = 0 }, wantErr: true},
		{name: "fallback of three", emb: emb, rr: rr, mutate: func(c *EngineConfig) { c.FallbackCount = 3 }, wantErr: true},
		{name: "unknown backend", emb: emb, rr: rr, opts: []EngineOption{WithLexicalBackend("lucene")}, wantErr: true},
		{name: "sqlite backend", emb: emb, rr: rr, opts: []EngineOption{WithLexicalBackend("sqlite")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			if tt.mutate != nil {
				tt.mutate(&cfg)
			}
			e, err := NewEngine(tt.emb, tt.rr, cfg, tt.opts...)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, StateUninitialized, e.State())
		})
	}
}

func TestEngine_FastPathBypassesSubIndexes(t *testing.T) {
	// Given: a ready engine
	e, emb, rr := buildEngine(t, sampleRows())

	queries := []string{"GSA-14", "gsa 014", "G.S.A.-0014", "14", "details of GSA-14 please"}
	for _, q := range queries {
		t.Run(q, func(t *testing.T) {
			before := e.Stats()

			// When: searching by registration code
			res, err := e.Retrieve(context.Background(), q)

			// Then: the record comes back without touching either index or the reranker
			require.NoError(t, err)
			assert.Equal(t, ModeExact, res.Mode)
			require.Len(t, res.Hits, 1)
			assert.Equal(t, 1, res.Hits[0].RecordID)

			after := e.Stats()
			assert.Equal(t, before.LexicalQueries, after.LexicalQueries)
			assert.Equal(t, before.SemanticQueries, after.SemanticQueries)
			assert.Equal(t, before.RerankCalls, after.RerankCalls)
			assert.Equal(t, before.FastPathHits+1, after.FastPathHits)
		})
	}
	assert.Zero(t, emb.queries.Load())
	assert.Zero(t, rr.calls.Load())
}

func TestEngine_ShantiGaushalaByCode(t *testing.T) {
	// Given: the Shanti Gaushala record indexed alone
	e, _, _ := buildEngine(t, []record.Row{shantiRow()})

	// When
	out, err := e.Search(context.Background(), "GSA-14")

	// Then
	require.NoError(t, err)
	assert.Contains(t, out, "EXACT MATCH")
	assert.Contains(t, out, "Shanti Gaushala")
	assert.Contains(t, out, "GSA-14")
}

func TestEngine_ContactQueryUsesHybridPath(t *testing.T) {
	// Given: the Shanti Gaushala record indexed alone
	e, emb, rr := buildEngine(t, []record.Row{shantiRow()})

	// When
	res, err := e.Retrieve(context.Background(), "who is the contact for Ramesh")

	// Then: both indexes and the reranker ran and the phone is shown
	require.NoError(t, err)
	assert.Equal(t, ModeRanked, res.Mode)
	require.Len(t, res.Hits, 1)
	assert.Contains(t, res.Hits[0].FullInfo, "9876543210")
	assert.Equal(t, int64(1), emb.queries.Load())
	assert.Equal(t, int64(1), rr.calls.Load())

	stats := e.Stats()
	assert.Equal(t, int64(1), stats.LexicalQueries)
	assert.Equal(t, int64(1), stats.SemanticQueries)
	assert.Zero(t, stats.FastPathHits)
}

func TestEngine_CodeIsNotASubstringMatch(t *testing.T) {
	// Given: two Ambala records with codes 14 and 4314
	e, _, _ := buildEngine(t, sampleRows()[:2])

	// When
	res, err := e.Retrieve(context.Background(), "14")

	// Then: only code 14 comes back
	require.NoError(t, err)
	assert.Equal(t, ModeExact, res.Mode)
	require.Len(t, res.Hits, 1)
	assert.Contains(t, res.Hits[0].FullInfo, "GSA-14")
	assert.NotContains(t, res.Hits[0].FullInfo, "4314")
}

func TestEngine_UnknownCodeFallsThroughToHybrid(t *testing.T) {
	// Given
	e, _, rr := buildEngine(t, sampleRows())

	// When: the code is well formed but not in the registry
	res, err := e.Retrieve(context.Background(), "GSA-999")

	// Then: the hybrid path answers instead
	require.NoError(t, err)
	assert.NotEqual(t, ModeExact, res.Mode)
	assert.Equal(t, int64(1), rr.calls.Load())
}

func TestEngine_EmptyQuery(t *testing.T) {
	e, emb, rr := buildEngine(t, sampleRows())

	for _, q := range []string{"", "   ", "\t\n"} {
		res, err := e.Retrieve(context.Background(), q)
		require.NoError(t, err)
		assert.Equal(t, ModeEmpty, res.Mode)
		assert.Empty(t, res.Hits)

		out, err := e.Search(context.Background(), q)
		require.NoError(t, err)
		assert.Empty(t, out)
	}
	assert.Zero(t, emb.queries.Load())
	assert.Zero(t, rr.calls.Load())
	assert.Zero(t, e.Stats().LexicalQueries)
}

func TestEngine_DedupByRecord(t *testing.T) {
	// Given: a query matching both the identity and location facets
	e, _, _ := buildEngine(t, sampleRows())

	// When
	res, err := e.Retrieve(context.Background(), "Shanti Gaushala Rampur Ambala")

	// Then: each record appears at most once
	require.NoError(t, err)
	require.NotEmpty(t, res.Hits)
	assert.Greater(t, res.Candidates, len(res.Hits))
	seen := map[int]bool{}
	for _, h := range res.Hits {
		assert.False(t, seen[h.RecordID], "record %d returned twice", h.RecordID)
		seen[h.RecordID] = true
	}
	assert.Equal(t, 1, res.Hits[0].RecordID)
}

func TestEngine_RankedOrderAndCap(t *testing.T) {
	// Given: a reranker preferring later candidates and a cap of two
	emb := embed.NewStaticEmbedder()
	rr := &stubReranker{scores: func(n int) []float64 {
		s := make([]float64, n)
		for i := range s {
			s[i] = float64(i + 1)
		}
		return s
	}}
	cfg := DefaultConfig()
	cfg.MaxResults = 2
	e, err := NewEngine(emb, rr, cfg)
	require.NoError(t, err)
	require.NoError(t, e.Build(context.Background(), sampleRows()))

	// When
	res, err := e.Retrieve(context.Background(), "gaushala ambala")

	// Then
	require.NoError(t, err)
	assert.Equal(t, ModeRanked, res.Mode)
	require.Len(t, res.Hits, 2)
	assert.Greater(t, res.Hits[0].Score, res.Hits[1].Score)
	assert.NotEqual(t, res.Hits[0].RecordID, res.Hits[1].RecordID)
}

func TestEngine_FallbackWhenNothingClearsThreshold(t *testing.T) {
	tests := []struct {
		name          string
		fallbackCount int
	}{
		{name: "single", fallbackCount: 1},
		{name: "pair", fallbackCount: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Given: every candidate scores below the threshold
			rr := &stubReranker{scores: func(n int) []float64 {
				s := make([]float64, n)
				for i := range s {
					s[i] = -10 - float64(i)
				}
				return s
			}}
			cfg := DefaultConfig()
			cfg.FallbackCount = tt.fallbackCount
			e, err := NewEngine(embed.NewStaticEmbedder(), rr, cfg)
			require.NoError(t, err)
			require.NoError(t, e.Build(context.Background(), sampleRows()))

			// When
			res, err := e.Retrieve(context.Background(), "gaushala cattle count")

			// Then: the best candidates come back, marked as fallback
			require.NoError(t, err)
			assert.Equal(t, ModeFallback, res.Mode)
			assert.Len(t, res.Hits, tt.fallbackCount)
			assert.Equal(t, -10.0, res.Hits[0].Score)
			assert.Contains(t, Render(res), "[Best available match]")
		})
	}
}

func TestEngine_FallbackWithLexicalReranker(t *testing.T) {
	// Given
	e, _, _ := buildEngine(t, sampleRows())

	// When: no query term appears in any record
	out, err := e.Search(context.Background(), "zebra elephant")

	// Then: an under-threshold best guess rather than silence
	require.NoError(t, err)
	assert.Contains(t, out, "[Best available match]")
}

func TestEngine_ScoringFailure(t *testing.T) {
	tests := []struct {
		name string
		rr   Reranker
	}{
		{name: "reranker error", rr: &stubReranker{err: stderrors.New("model crashed")}},
		{name: "short result", rr: &stubReranker{scores: func(n int) []float64 { return make([]float64, n-1) }}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Given
			e, err := NewEngine(embed.NewStaticEmbedder(), tt.rr, DefaultConfig())
			require.NoError(t, err)
			require.NoError(t, e.Build(context.Background(), sampleRows()))

			// When
			_, err = e.Search(context.Background(), "gaushala in ambala")

			// Then
			require.Error(t, err)
			assert.True(t, stderrors.Is(err, errors.ErrScoringFailed))
			assert.Equal(t, StateReady, e.State())
		})
	}
}

func TestEngine_NotReady(t *testing.T) {
	// Given: an engine that was never built
	e, _, _ := newTestEngine(t)

	// When / Then
	_, err := e.Search(context.Background(), "GSA-14")
	assert.True(t, stderrors.Is(err, errors.ErrNotReady))

	err = e.Save(context.Background(), t.TempDir())
	assert.True(t, stderrors.Is(err, errors.ErrNotReady))
}

func TestEngine_EmptyCorpus(t *testing.T) {
	// Given
	e, _, _ := newTestEngine(t)

	// When
	err := e.Build(context.Background(), nil)

	// Then
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrEmptyCorpus))
	assert.Equal(t, StateUninitialized, e.State())
}

func TestEngine_ZeroBasedIDsKeepEveryRecordReachable(t *testing.T) {
	ctx := context.Background()

	// Given: an export numbered from 0, so row 0 has no usable serial
	rows := []record.Row{
		{ID: 0, Name: "Shanti Gaushala", Village: "Rampur", District: "Ambala", Registration: "GSA-014"},
		{ID: 1, Name: "Krishna Gaushala", Village: "Barara", District: "Ambala", Registration: "GSA-77"},
	}
	e, _, _ := buildEngine(t, rows, WithLexicalBackend("bleve"))

	// When: searching by the first record's name
	res, err := e.Retrieve(ctx, "Shanti Gaushala Rampur")

	// Then: both records are indexed and the first one is found
	require.NoError(t, err)
	assert.Equal(t, 2, e.Info().Records)
	require.NotEmpty(t, res.Hits)
	assert.Contains(t, res.Hits[0].FullInfo, "Shanti Gaushala")

	// And: the bundle saves without unit id collisions
	require.NoError(t, e.Save(ctx, filepath.Join(t.TempDir(), "index")))
}

func TestEngine_DuplicateIDsRejected(t *testing.T) {
	// Given
	e, _, _ := newTestEngine(t)
	rows := sampleRows()
	rows[1].ID = rows[0].ID

	// When
	err := e.Build(context.Background(), rows)

	// Then: the build fails before anything is indexed
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrInvalidInput))
	assert.ErrorContains(t, err, "duplicate record id 1")
	assert.Equal(t, StateUninitialized, e.State())
}

func TestEngine_FailedRebuildDropsIndex(t *testing.T) {
	// Given: a ready engine
	e, _, _ := buildEngine(t, sampleRows())

	// When: a rebuild fails validation
	err := e.Build(context.Background(), []record.Row{{ID: 1, Registration: "GSA-1"}})

	// Then: the engine no longer serves the old index
	require.Error(t, err)
	assert.Equal(t, StateUninitialized, e.State())
	_, err = e.Search(context.Background(), "GSA-14")
	assert.True(t, stderrors.Is(err, errors.ErrNotReady))
	assert.Empty(t, e.Info().BuildID)
}

func TestEngine_SaveLoadRoundTrip(t *testing.T) {
	queries := []string{
		"GSA-14",
		"who is the contact for Ramesh",
		"gaushalas in ambala",
		"closed gaushala mohali",
		"zebra elephant",
		"Nandi Dham Karnal",
	}

	for _, backend := range []string{"bleve", "sqlite"} {
		t.Run(backend, func(t *testing.T) {
			ctx := context.Background()
			dir := filepath.Join(t.TempDir(), "index")

			// Given: a built and saved engine
			built, _, _ := buildEngine(t, sampleRows(), WithLexicalBackend(backend))
			require.NoError(t, built.Save(ctx, dir))

			// When: a fresh engine loads the bundle
			loaded, _, _ := newTestEngine(t, WithLexicalBackend(backend))
			require.NoError(t, loaded.Load(ctx, dir))

			// Then: it answers every query identically
			assert.Equal(t, StateReady, loaded.State())
			assert.Equal(t, built.Info().BuildID, loaded.Info().BuildID)
			for _, q := range queries {
				want, err := built.Search(ctx, q)
				require.NoError(t, err)
				got, err := loaded.Search(ctx, q)
				require.NoError(t, err)
				assert.Equal(t, want, got, "query %q", q)
			}
		})
	}
}

func TestEngine_LoadRejectsDifferentEmbedder(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "index")

	// Given: a bundle built with the static embedder
	built, _, _ := buildEngine(t, sampleRows())
	require.NoError(t, built.Save(ctx, dir))

	// When: an engine with another model loads it
	emb := newCountingEmbedder()
	emb.model = "other-model"
	e, err := NewEngine(emb, NewLexicalReranker(), DefaultConfig())
	require.NoError(t, err)
	err = e.Load(ctx, dir)

	// Then
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrCorruptIndex))
	assert.Equal(t, errors.ReasonMismatch, errors.GetDetail(err, "reason"))
	assert.Equal(t, StateUninitialized, e.State())
}

func TestEngine_LoadMissingBundle(t *testing.T) {
	// Given
	e, _, _ := newTestEngine(t)

	// When
	err := e.Load(context.Background(), filepath.Join(t.TempDir(), "missing"))

	// Then
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrCorruptIndex))
	assert.Equal(t, StateUninitialized, e.State())
}

func TestEngine_SearchIsIdempotent(t *testing.T) {
	// Given
	e, _, _ := buildEngine(t, sampleRows())
	ctx := context.Background()

	for _, q := range []string{"gaushala ambala", "Suresh phone", "GSA 77"} {
		// When
		first, err := e.Search(ctx, q)
		require.NoError(t, err)
		second, err := e.Search(ctx, q)
		require.NoError(t, err)

		// Then
		assert.Equal(t, first, second)
	}
}

func TestEngine_ConcurrentSearches(t *testing.T) {
	// Given
	e, _, _ := buildEngine(t, sampleRows())
	ctx := context.Background()
	want, err := e.Search(ctx, "gaushala ambala")
	require.NoError(t, err)

	// When: many goroutines search at once
	var wg sync.WaitGroup
	results := make([]string, 16)
	errs := make([]error, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = e.Search(ctx, "gaushala ambala")
		}(i)
	}
	wg.Wait()

	// Then
	for i := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, want, results[i])
	}
}

func TestEngine_CancelledContext(t *testing.T) {
	// Given
	e, _, _ := buildEngine(t, sampleRows())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// When
	_, err := e.Search(ctx, "gaushala ambala")

	// Then
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, context.Canceled))
}

func TestEngine_InfoAndProgress(t *testing.T) {
	// Given: a progress recorder
	var mu sync.Mutex
	stages := map[string]int{}
	progress := WithProgress(func(stage string, done, total int) {
		mu.Lock()
		defer mu.Unlock()
		if done == total {
			stages[stage]++
		}
	})
	stats := telemetry.NewQueryStats(telemetry.QueryStatsConfig{})

	// When
	e, _, _ := buildEngine(t, sampleRows(), progress, WithMetrics(telemetry.NewMetrics()), WithQueryStats(stats))
	_, err := e.Search(context.Background(), "GSA-14")
	require.NoError(t, err)

	// Then
	info := e.Info()
	assert.Equal(t, "ready", info.StateName)
	assert.NotEmpty(t, info.BuildID)
	assert.Equal(t, 4, info.Records)
	assert.GreaterOrEqual(t, info.Units, 4)
	assert.Equal(t, embed.StaticModelName, info.EmbedderModel)
	assert.Equal(t, "bleve", info.LexicalBackend)
	assert.Equal(t, RerankerLexical, info.Reranker)

	for _, stage := range []string{"normalize", "embed", "index"} {
		assert.Positive(t, stages[stage], "stage %s", stage)
	}
	assert.Equal(t, int64(1), stats.Snapshot().TotalQueries)
}
