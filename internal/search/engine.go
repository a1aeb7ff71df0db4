package search

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/tablerag/internal/embed"
	"github.com/Aman-CERP/tablerag/internal/errors"
	"github.com/Aman-CERP/tablerag/internal/narrative"
	"github.com/Aman-CERP/tablerag/internal/record"
	"github.com/Aman-CERP/tablerag/internal/store"
	"github.com/Aman-CERP/tablerag/internal/telemetry"
)

// ErrNilDependency is returned when a required dependency is nil.
var ErrNilDependency = stderrors.New("nil dependency")

// Engine owns one lexical + semantic index pair and answers queries over
// it. Searches may run concurrently; Build, Load and Save are serialised.
// A failed Build or Load leaves the engine Uninitialized with no index.
//
// The engine does not own its embedder or reranker; closing them is the
// caller's job.
type Engine struct {
	embedder embed.Embedder
	reranker Reranker
	config   EngineConfig
	matcher  *IdentifierMatcher

	logger         *slog.Logger
	metrics        *telemetry.Metrics
	queryStats     *telemetry.QueryStats
	progress       ProgressFunc
	lexicalBackend string

	lifecycle sync.Mutex
	mu        sync.RWMutex // guards state and idx
	state     State
	idx       *indexSet

	searches        atomic.Int64
	fastPathHits    atomic.Int64
	lexicalQueries  atomic.Int64
	semanticQueries atomic.Int64
	rerankCalls     atomic.Int64
}

// indexSet is one immutable build: the units and both indexes over them.
type indexSet struct {
	manifest store.Manifest
	units    []*store.TextUnit
	byID     map[string]*store.TextUnit
	byCode   map[int][]*store.TextUnit
	backend  string
	lexical  store.LexicalIndex
	vectors  *store.HNSWStore
}

func (s *indexSet) close() error {
	return stderrors.Join(s.lexical.Close(), s.vectors.Close())
}

// NewEngine creates an Uninitialized engine.
func NewEngine(embedder embed.Embedder, reranker Reranker, config EngineConfig, opts ...EngineOption) (*Engine, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrNilDependency)
	}
	if reranker == nil {
		return nil, fmt.Errorf("%w: reranker is required", ErrNilDependency)
	}
	if config.EmbedBatchSize <= 0 {
		config.EmbedBatchSize = embed.DefaultBatchSize
	}
	if config.IdentifierPrefix == "" {
		config.IdentifierPrefix = record.DefaultPrefix
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		embedder:       embedder,
		reranker:       reranker,
		config:         config,
		matcher:        NewIdentifierMatcher(config.IdentifierPrefix),
		logger:         slog.Default(),
		lexicalBackend: store.LexicalBackendBleve,
	}
	for _, opt := range opts {
		opt(e)
	}
	if !validBackend(e.lexicalBackend) {
		return nil, errors.ValidationError(fmt.Sprintf("unknown lexical backend %q", e.lexicalBackend), nil)
	}
	return e, nil
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Build normalises rows, renders their text units and indexes them. On
// success the new index replaces the old one.
func (e *Engine) Build(ctx context.Context, rows []record.Row) error {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()

	start := time.Now()
	e.setState(StateBuilding)
	idx, err := e.build(ctx, rows)
	e.finish("build", idx, err, start)
	return err
}

func (e *Engine) build(ctx context.Context, rows []record.Row) (*indexSet, error) {
	if len(rows) == 0 {
		return nil, errors.EmptyCorpus("no records to index")
	}

	e.report("normalize", 0, len(rows))
	records := record.NormalizeAll(rows, e.config.IdentifierPrefix)
	if err := record.Validate(records); err != nil {
		return nil, err
	}
	units := narrative.Build(records)
	if len(units) == 0 {
		return nil, errors.EmptyCorpus("records produced no text units")
	}
	e.report("normalize", len(rows), len(rows))

	vectors, err := e.embedUnits(ctx, units)
	if err != nil {
		return nil, err
	}

	buildID := store.NewBuildID()
	vectors.SetBuildID(buildID)
	manifest := store.Manifest{
		SchemaVersion:  store.SchemaVersion,
		BuildID:        buildID,
		UnitCount:      len(units),
		RecordCount:    len(records),
		Checksum:       store.Checksum(units),
		EmbedderModel:  e.embedder.ModelName(),
		Dimensions:     e.embedder.Dimensions(),
		LexicalBackend: e.lexicalBackend,
		CreatedAt:      time.Now().UTC(),
	}

	idx, err := e.newIndexSet(ctx, manifest, units, vectors, e.lexicalBackend)
	if err != nil {
		_ = vectors.Close()
		return nil, err
	}
	return idx, nil
}

// embedUnits embeds every unit body in batches and loads the vectors into
// a fresh HNSW graph in unit order.
func (e *Engine) embedUnits(ctx context.Context, units []*store.TextUnit) (*store.HNSWStore, error) {
	vectors, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(e.embedder.Dimensions()))
	if err != nil {
		return nil, errors.New(errors.ErrCodeIndexFailed, "create vector store", err)
	}
	vectors.EnsureEfSearch(e.config.SemanticK)

	batch := e.config.EmbedBatchSize
	for start := 0; start < len(units); start += batch {
		end := min(start+batch, len(units))
		ids := make([]string, 0, end-start)
		bodies := make([]string, 0, end-start)
		for _, u := range units[start:end] {
			ids = append(ids, u.ID)
			bodies = append(bodies, u.Body)
		}

		vecs, err := e.embedder.EmbedBatch(ctx, bodies)
		if err == nil && len(vecs) != len(bodies) {
			err = fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(bodies))
		}
		if err != nil {
			_ = vectors.Close()
			return nil, errors.New(errors.ErrCodeEmbeddingFailed, "embed text units", err).
				WithDetail("model", e.embedder.ModelName())
		}
		if err := vectors.Add(ctx, ids, vecs); err != nil {
			_ = vectors.Close()
			return nil, errors.New(errors.ErrCodeIndexFailed, "add vectors", err)
		}
		e.report("embed", end, len(units))
	}
	return vectors, nil
}

// newIndexSet builds the lexical index and lookup maps over units.
func (e *Engine) newIndexSet(ctx context.Context, m store.Manifest, units []*store.TextUnit, vectors *store.HNSWStore, backend string) (*indexSet, error) {
	lexical, err := store.NewLexicalIndex(backend, store.DefaultLexicalConfig())
	if err != nil {
		return nil, errors.New(errors.ErrCodeIndexFailed, "create lexical index", err)
	}
	e.report("index", 0, len(units))
	if err := lexical.Index(ctx, units); err != nil {
		_ = lexical.Close()
		return nil, errors.New(errors.ErrCodeIndexFailed, "build lexical index", err)
	}
	e.report("index", len(units), len(units))

	idx := &indexSet{
		manifest: m,
		units:    units,
		byID:     make(map[string]*store.TextUnit, len(units)),
		byCode:   make(map[int][]*store.TextUnit),
		backend:  backend,
		lexical:  lexical,
		vectors:  vectors,
	}
	for _, u := range units {
		idx.byID[u.ID] = u
		if u.HasRegCode() {
			idx.byCode[u.RegCode] = append(idx.byCode[u.RegCode], u)
		}
	}
	return idx, nil
}

// Load replaces the current index with the bundle at dir. The bundle must
// have been built with the same embedding model.
func (e *Engine) Load(ctx context.Context, dir string) error {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()

	start := time.Now()
	e.setState(StateLoading)
	idx, err := e.load(ctx, dir)
	e.finish("load", idx, err, start)
	return err
}

func (e *Engine) load(ctx context.Context, dir string) (*indexSet, error) {
	bundle, err := store.LoadBundle(ctx, dir)
	if err != nil {
		return nil, err
	}
	m := bundle.Manifest

	if m.EmbedderModel != e.embedder.ModelName() || m.Dimensions != e.embedder.Dimensions() {
		_ = bundle.Vectors.Close()
		return nil, errors.IndexMismatch(fmt.Sprintf("index was built with %s (%d dims), engine uses %s (%d dims)",
			m.EmbedderModel, m.Dimensions, e.embedder.ModelName(), e.embedder.Dimensions())).
			WithDetail("path", dir)
	}

	// The lexical index is rebuilt from the persisted units with the
	// backend the bundle was built with, so scores match the original build.
	backend := m.LexicalBackend
	if !validBackend(backend) {
		backend = e.lexicalBackend
	}
	if backend != e.lexicalBackend {
		e.logger.Warn("bundle_lexical_backend_differs",
			slog.String("bundle", backend),
			slog.String("configured", e.lexicalBackend))
	}

	bundle.Vectors.EnsureEfSearch(e.config.SemanticK)
	idx, err := e.newIndexSet(ctx, *m, bundle.Units, bundle.Vectors, backend)
	if err != nil {
		_ = bundle.Vectors.Close()
		return nil, err
	}
	return idx, nil
}

// Save persists the current index to dir.
func (e *Engine) Save(ctx context.Context, dir string) error {
	if st := e.State(); st != StateReady {
		return errors.NotReady("save", st.String())
	}

	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()

	e.mu.RLock()
	st, idx := e.state, e.idx
	e.mu.RUnlock()
	if st != StateReady {
		return errors.NotReady("save", st.String())
	}

	start := time.Now()
	m := idx.manifest
	if err := store.SaveBundle(ctx, dir, &m, idx.units, idx.vectors); err != nil {
		e.logger.Error("bundle_save_failed", errors.LogAttrs(err)...)
		return err
	}
	e.logger.Info("bundle_saved",
		slog.String("path", dir),
		slog.String("build_id", m.BuildID),
		slog.Int("units", m.UnitCount),
		slog.Duration("duration", time.Since(start)))
	return nil
}

// Close drops the index and returns the engine to Uninitialized.
func (e *Engine) Close() error {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()

	e.mu.Lock()
	old := e.idx
	e.idx = nil
	e.state = StateUninitialized
	e.mu.Unlock()

	if old != nil {
		return old.close()
	}
	return nil
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// finish installs idx after a successful build or load. On failure the
// engine drops whatever index it had.
func (e *Engine) finish(op string, idx *indexSet, err error, start time.Time) {
	e.mu.Lock()
	old := e.idx
	if err != nil {
		e.idx = nil
		e.state = StateUninitialized
	} else {
		e.idx = idx
		e.state = StateReady
	}
	e.mu.Unlock()

	if old != nil && old != idx {
		if cerr := old.close(); cerr != nil {
			e.logger.Warn("index_close_failed", slog.String("error", cerr.Error()))
		}
	}

	if err != nil {
		e.metrics.ObserveBuild(telemetry.OutcomeFailure, 0)
		attrs := append([]any{slog.String("op", op), slog.Duration("duration", time.Since(start))}, errors.LogAttrs(err)...)
		e.logger.Error("engine_"+op+"_failed", attrs...)
		return
	}

	e.metrics.ObserveBuild(telemetry.OutcomeSuccess, len(idx.units))
	e.logger.Info("engine_"+op+"_complete",
		slog.String("build_id", idx.manifest.BuildID),
		slog.Int("units", len(idx.units)),
		slog.Int("records", idx.manifest.RecordCount),
		slog.String("lexical_backend", idx.backend),
		slog.Duration("duration", time.Since(start)))
}

func (e *Engine) report(stage string, done, total int) {
	if e.progress != nil {
		e.progress(stage, done, total)
	}
}

// Search answers query with rendered text. See Render for the format.
func (e *Engine) Search(ctx context.Context, query string) (string, error) {
	res, err := e.Retrieve(ctx, query)
	if err != nil {
		return "", err
	}
	return Render(res), nil
}

// Retrieve answers query with a structured result.
func (e *Engine) Retrieve(ctx context.Context, query string) (*Result, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.state != StateReady {
		return nil, errors.NotReady("search", e.state.String())
	}

	start := time.Now()
	e.searches.Add(1)
	res, err := e.retrieve(ctx, e.idx, query)
	elapsed := time.Since(start)

	if err != nil {
		e.metrics.ObserveSearch("error", elapsed)
		e.logger.Warn("search_failed", append([]any{slog.Duration("duration", elapsed)}, errors.LogAttrs(err)...)...)
		return nil, err
	}

	e.metrics.ObserveSearch(string(res.Mode), elapsed)
	e.queryStats.Record(telemetry.QueryEvent{
		Query:       res.Query,
		Mode:        string(res.Mode),
		ResultCount: len(res.Hits),
		Latency:     elapsed,
	})
	e.logger.Debug("search_complete",
		slog.String("query", res.Query),
		slog.String("mode", string(res.Mode)),
		slog.Int("candidates", res.Candidates),
		slog.Int("hits", len(res.Hits)),
		slog.Duration("duration", elapsed))
	return res, nil
}

func (e *Engine) retrieve(ctx context.Context, idx *indexSet, query string) (*Result, error) {
	query = strings.TrimSpace(query)
	res := &Result{Query: query, Mode: ModeEmpty, Hits: []Hit{}}
	if query == "" {
		return res, nil
	}

	if code, ok := e.matcher.Match(query); ok {
		if units := idx.byCode[code]; len(units) > 0 {
			e.fastPathHits.Add(1)
			e.logger.Debug("fast_path_hit", slog.Int("code", code), slog.Int("units", len(units)))
			res.Mode = ModeExact
			res.Hits = exactHits(units)
			return res, nil
		}
		e.logger.Debug("fast_path_miss", slog.Int("code", code))
	}

	candidates, err := e.hybridCandidates(ctx, idx, query)
	if err != nil {
		return nil, err
	}
	res.Candidates = len(candidates)
	if len(candidates) == 0 {
		return res, nil
	}

	bodies := make([]string, len(candidates))
	for i, u := range candidates {
		bodies[i] = u.Body
	}
	e.rerankCalls.Add(1)
	scores, err := e.reranker.Score(ctx, query, bodies)
	if err != nil {
		return nil, scoringError(ctx, "rerank", err)
	}
	if len(scores) != len(candidates) {
		return nil, errors.ScoringFailure("rerank",
			fmt.Errorf("%s returned %d scores for %d candidates", e.reranker.Name(), len(scores), len(candidates)))
	}
	for i, s := range scores {
		if math.IsNaN(s) {
			return nil, errors.ScoringFailure("rerank", fmt.Errorf("%s returned NaN for candidate %d", e.reranker.Name(), i))
		}
	}

	res.Mode, res.Hits = e.selectHits(candidates, scores)
	return res, nil
}

// exactHits returns one hit per record, keeping the first unit of each.
func exactHits(units []*store.TextUnit) []Hit {
	seen := make(map[int]struct{})
	hits := make([]Hit, 0, len(units))
	for _, u := range units {
		if _, dup := seen[u.RecordID]; dup {
			continue
		}
		seen[u.RecordID] = struct{}{}
		hits = append(hits, newHit(u, 0))
	}
	return hits
}

// hybridCandidates queries both indexes concurrently and returns the union,
// lexical hits first, with duplicate bodies removed. Any failure fails the
// search; there is no single-index degraded mode.
func (e *Engine) hybridCandidates(ctx context.Context, idx *indexSet, query string) ([]*store.TextUnit, error) {
	var (
		lexHits []*store.LexicalResult
		vecHits []*store.VectorResult
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		e.lexicalQueries.Add(1)
		hits, err := idx.lexical.Search(gctx, query, e.config.LexicalK)
		if err != nil {
			return scoringError(gctx, "lexical search", err)
		}
		lexHits = hits
		return nil
	})
	g.Go(func() error {
		e.semanticQueries.Add(1)
		vec, err := e.embedder.Embed(gctx, query)
		if err != nil {
			return scoringError(gctx, "embed query", err)
		}
		if isZeroVector(vec) {
			// Nothing embeddable (e.g. punctuation only): no semantic neighbours.
			return nil
		}
		hits, err := idx.vectors.Search(gctx, vec, e.config.SemanticK)
		if err != nil {
			return scoringError(gctx, "semantic search", err)
		}
		vecHits = hits
		return nil
	})
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}

	seen := make(map[string]struct{}, len(lexHits)+len(vecHits))
	union := make([]*store.TextUnit, 0, len(lexHits)+len(vecHits))
	add := func(id string) {
		u, ok := idx.byID[id]
		if !ok {
			return
		}
		if _, dup := seen[u.Body]; dup {
			return
		}
		seen[u.Body] = struct{}{}
		union = append(union, u)
	}
	for _, h := range lexHits {
		add(h.ID)
	}
	for _, h := range vecHits {
		add(h.ID)
	}
	return union, nil
}

// selectHits orders candidates by score and keeps one hit per record above
// the threshold, up to MaxResults. If none clears the threshold the best
// FallbackCount records are returned instead.
func (e *Engine) selectHits(candidates []*store.TextUnit, scores []float64) (Mode, []Hit) {
	order := make([]int, len(candidates))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})

	pick := func(limit int, keep func(score float64) bool) []Hit {
		seen := make(map[int]struct{})
		hits := make([]Hit, 0, limit)
		for _, i := range order {
			if len(hits) == limit {
				break
			}
			u := candidates[i]
			if !keep(scores[i]) {
				continue
			}
			if _, dup := seen[u.RecordID]; dup {
				continue
			}
			seen[u.RecordID] = struct{}{}
			hits = append(hits, newHit(u, scores[i]))
		}
		return hits
	}

	if hits := pick(e.config.MaxResults, func(s float64) bool { return s > e.config.Threshold }); len(hits) > 0 {
		return ModeRanked, hits
	}
	return ModeFallback, pick(e.config.FallbackCount, func(float64) bool { return true })
}

func newHit(u *store.TextUnit, score float64) Hit {
	return Hit{
		UnitID:   u.ID,
		RecordID: u.RecordID,
		Facet:    u.Facet,
		Score:    score,
		FullInfo: u.FullInfo,
	}
}

// scoringError wraps a sub-index or model failure. Cancellation is passed
// through unchanged.
func scoringError(ctx context.Context, stage string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if stderrors.Is(err, errors.ErrScoringFailed) {
		return err
	}
	return errors.ScoringFailure(stage, err)
}

func isZeroVector(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

// Stats returns invocation counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Searches:        e.searches.Load(),
		FastPathHits:    e.fastPathHits.Load(),
		LexicalQueries:  e.lexicalQueries.Load(),
		SemanticQueries: e.semanticQueries.Load(),
		RerankCalls:     e.rerankCalls.Load(),
	}
}

// Info describes the served index.
func (e *Engine) Info() Info {
	e.mu.RLock()
	defer e.mu.RUnlock()

	info := Info{
		State:     e.state,
		StateName: e.state.String(),
		Reranker:  e.reranker.Name(),
	}
	if e.idx != nil {
		m := e.idx.manifest
		info.BuildID = m.BuildID
		info.Units = m.UnitCount
		info.Records = m.RecordCount
		info.EmbedderModel = m.EmbedderModel
		info.Dimensions = m.Dimensions
		info.LexicalBackend = e.idx.backend
		info.CreatedAt = m.CreatedAt
	}
	return info
}
