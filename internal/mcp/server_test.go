package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/tablerag/internal/embed"
	apperrors "github.com/Aman-CERP/tablerag/internal/errors"
	"github.com/Aman-CERP/tablerag/internal/record"
	"github.com/Aman-CERP/tablerag/internal/search"
	"github.com/Aman-CERP/tablerag/internal/telemetry"
)

// MockSearcher implements Searcher for testing.
type MockSearcher struct {
	RetrieveFn func(ctx context.Context, query string) (*search.Result, error)
	InfoFn     func() search.Info
	closed     atomic.Bool
}

func (m *MockSearcher) Retrieve(ctx context.Context, query string) (*search.Result, error) {
	if m.RetrieveFn != nil {
		return m.RetrieveFn(ctx, query)
	}
	return &search.Result{Query: query, Mode: search.ModeEmpty, Hits: []search.Hit{}}, nil
}

func (m *MockSearcher) Info() search.Info {
	if m.InfoFn != nil {
		return m.InfoFn()
	}
	return search.Info{State: search.StateReady, StateName: "ready"}
}

func (m *MockSearcher) Close() error {
	m.closed.Store(true)
	return nil
}

var _ Searcher = (*MockSearcher)(nil)

func registryRows() []record.Row {
	return []record.Row{
		{ID: 1, Name: "Shanti Gaushala", Village: "Rampur", District: "Jaipur", Registration: "GSA/14", Count: "120", Status: "Active", Contact: "Ramesh", Phone: "9876543210"},
		{ID: 2, Name: "Gopal Seva Sadan", Village: "Kishangarh", District: "Ajmer", Registration: "GSA-4314", Count: "80", Status: "Active", Contact: "Suresh", Phone: "9123456780"},
	}
}

func readyEngine(t *testing.T, stats *telemetry.QueryStats) *search.Engine {
	t.Helper()
	e, err := search.NewEngine(embed.NewStaticEmbedder(), search.NewLexicalReranker(), search.DefaultConfig(),
		search.WithQueryStats(stats))
	require.NoError(t, err)
	require.NoError(t, e.Build(context.Background(), registryRows()))
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestServer_ListTools(t *testing.T) {
	s := NewServer(nil)

	tools := s.ListTools()

	require.Len(t, tools, 2)
	assert.Equal(t, ToolSearchRecords, tools[0].Name)
	assert.Equal(t, ToolIndexStatus, tools[1].Name)
	name, _ := s.Info()
	assert.Equal(t, "tablerag", name)
	assert.NotNil(t, s.MCPServer())
}

func TestServer_SearchRecords_ExactMatch(t *testing.T) {
	// Given: a server over a ready engine
	s := NewServer(readyEngine(t, nil))

	// When: the agent asks for a registration number
	_, out, err := s.mcpSearchRecordsHandler(context.Background(), nil, SearchRecordsInput{Query: "GSA-14"})

	// Then: the exact record comes back in text and structured form
	require.NoError(t, err)
	assert.Equal(t, "exact", out.Mode)
	assert.Contains(t, out.Text, "EXACT MATCH")
	require.Len(t, out.Results, 1)
	assert.Equal(t, 1, out.Results[0].RecordID)
	assert.Contains(t, out.Results[0].FullInfo, "Shanti Gaushala")
}

func TestServer_SearchRecords_HybridQuery(t *testing.T) {
	s := NewServer(readyEngine(t, nil))

	out, err := s.SearchRecords(context.Background(), "who is the contact for gopal seva sadan in ajmer")

	require.NoError(t, err)
	assert.Contains(t, []string{"ranked", "fallback"}, out.Mode)
	require.NotEmpty(t, out.Results)
	assert.Contains(t, out.Text, "Gopal Seva Sadan")
}

func TestServer_SearchRecords_Errors(t *testing.T) {
	tests := []struct {
		name     string
		engine   Searcher
		wantCode int
		wantMsg  string
	}{
		{
			name:     "no engine installed",
			engine:   nil,
			wantCode: ErrCodeIndexNotReady,
			wantMsg:  apperrors.MsgNoKnowledgeBase,
		},
		{
			name:     "engine not ready",
			engine:   &MockSearcher{RetrieveFn: func(context.Context, string) (*search.Result, error) { return nil, apperrors.NotReady("search", "building") }},
			wantCode: ErrCodeIndexNotReady,
			wantMsg:  apperrors.MsgNoKnowledgeBase,
		},
		{
			name: "scoring failure hides the cause",
			engine: &MockSearcher{RetrieveFn: func(context.Context, string) (*search.Result, error) {
				return nil, apperrors.ScoringFailure("rerank", errors.New("onnx session: out of memory"))
			}},
			wantCode: ErrCodeScoringFailed,
			wantMsg:  apperrors.MsgSearchDown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer(tt.engine)

			_, err := s.SearchRecords(context.Background(), "shanti")

			var mcpErr *MCPError
			require.ErrorAs(t, err, &mcpErr)
			assert.Equal(t, tt.wantCode, mcpErr.Code)
			assert.Equal(t, tt.wantMsg, mcpErr.Message)
			assert.NotContains(t, err.Error(), "onnx")
		})
	}
}

func TestServer_CallTool(t *testing.T) {
	s := NewServer(readyEngine(t, nil))

	got, err := s.CallTool(context.Background(), ToolSearchRecords, map[string]any{"query": "GSA 4314"})
	require.NoError(t, err)
	out, ok := got.(*SearchRecordsOutput)
	require.True(t, ok)
	assert.Equal(t, 2, out.Results[0].RecordID)

	_, err = s.CallTool(context.Background(), ToolSearchRecords, map[string]any{"query": 14})
	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeInvalidParams, mcpErr.Code)

	_, err = s.CallTool(context.Background(), "search_code", nil)
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeMethodNotFound, mcpErr.Code)

	status, err := s.CallTool(context.Background(), ToolIndexStatus, nil)
	require.NoError(t, err)
	assert.True(t, status.(*IndexStatusOutput).Ready)
}

func TestServer_IndexStatus(t *testing.T) {
	// Given: an engine that has answered one query
	stats := telemetry.NewQueryStats(telemetry.QueryStatsConfig{})
	s := NewServer(readyEngine(t, stats), WithQueryStats(stats))
	_, err := s.SearchRecords(context.Background(), "GSA-14")
	require.NoError(t, err)

	// When
	_, out, err := s.mcpIndexStatusHandler(context.Background(), nil, IndexStatusInput{})

	// Then
	require.NoError(t, err)
	assert.True(t, out.Ready)
	assert.Equal(t, "ready", out.State)
	assert.NotEmpty(t, out.BuildID)
	assert.Equal(t, 2, out.Records)
	assert.Greater(t, out.Units, 2)
	assert.Equal(t, embed.StaticModelName, out.EmbedderModel)
	assert.Equal(t, search.RerankerLexical, out.Reranker)
	require.NotNil(t, out.Queries)
	assert.Equal(t, int64(1), out.Queries.Total)
	assert.Equal(t, int64(1), out.Queries.ModeCounts["exact"])
}

func TestServer_IndexStatus_NoEngine(t *testing.T) {
	out := NewServer(nil).IndexStatus()

	assert.False(t, out.Ready)
	assert.Equal(t, "uninitialized", out.State)
	assert.Nil(t, out.Queries)
}

func TestServer_Rebuild_SwapsAndClosesPrevious(t *testing.T) {
	// Given: a server serving an old engine
	old := &MockSearcher{InfoFn: func() search.Info { return search.Info{State: search.StateReady, StateName: "ready", BuildID: "old"} }}
	s := NewServer(old)

	// When: a rebuild produces a new engine
	fresh := &MockSearcher{InfoFn: func() search.Info { return search.Info{State: search.StateReady, StateName: "ready", BuildID: "new"} }}
	err := s.Rebuild(context.Background(), func(context.Context) (Searcher, error) { return fresh, nil })

	// Then: the new engine serves and the old one is released
	require.NoError(t, err)
	assert.Equal(t, "new", s.IndexStatus().BuildID)
	assert.True(t, old.closed.Load())
	assert.False(t, fresh.closed.Load())
}

func TestServer_Rebuild_FailureKeepsServing(t *testing.T) {
	old := &MockSearcher{InfoFn: func() search.Info { return search.Info{State: search.StateReady, StateName: "ready", BuildID: "old"} }}
	s := NewServer(old)

	err := s.Rebuild(context.Background(), func(context.Context) (Searcher, error) {
		return nil, apperrors.EmptyCorpus("no records in upload")
	})

	require.Error(t, err)
	status := s.IndexStatus()
	assert.Equal(t, "old", status.BuildID)
	assert.True(t, status.Ready)
	assert.Equal(t, apperrors.MsgNoKnowledgeBase, status.LastError)
	assert.False(t, old.closed.Load())
}

func TestServer_Rebuild_SearchesContinueDuringBuild(t *testing.T) {
	// Given: a build that blocks until released
	s := NewServer(readyEngine(t, nil))
	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- s.Rebuild(context.Background(), func(context.Context) (Searcher, error) {
			close(started)
			<-release
			return &MockSearcher{}, nil
		})
	}()
	<-started

	// When: searching while the build runs
	out, err := s.SearchRecords(context.Background(), "GSA-14")

	// Then: the previous engine answers and status reports the rebuild
	require.NoError(t, err)
	assert.Equal(t, "exact", out.Mode)
	assert.True(t, s.IndexStatus().Rebuilding)

	close(release)
	require.NoError(t, <-done)
	assert.False(t, s.IndexStatus().Rebuilding)
}

func TestServer_Rebuild_Coalesces(t *testing.T) {
	s := NewServer(nil)
	var builds atomic.Int32
	release := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Rebuild(context.Background(), func(context.Context) (Searcher, error) {
				builds.Add(1)
				<-release
				return &MockSearcher{}, nil
			})
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.GreaterOrEqual(t, builds.Load(), int32(1))
	assert.Less(t, builds.Load(), int32(4))
}

func TestServer_StatusResource(t *testing.T) {
	s := NewServer(readyEngine(t, nil))

	res, err := s.handleStatusResource(context.Background(), &gomcp.ReadResourceRequest{
		Params: &gomcp.ReadResourceParams{URI: StatusResourceURI},
	})

	require.NoError(t, err)
	require.Len(t, res.Contents, 1)
	assert.Equal(t, "application/json", res.Contents[0].MIMEType)

	var status IndexStatusOutput
	require.NoError(t, json.Unmarshal([]byte(res.Contents[0].Text), &status))
	assert.True(t, status.Ready)
	assert.Equal(t, 2, status.Records)
}

func TestServer_Close(t *testing.T) {
	m := &MockSearcher{}
	s := NewServer(m)

	require.NoError(t, s.Close())

	assert.True(t, m.closed.Load())
	assert.False(t, s.IndexStatus().Ready)
	require.NoError(t, s.Close())
}

func TestServer_Serve_UnknownTransport(t *testing.T) {
	err := NewServer(nil).Serve(context.Background(), "sse", "")
	assert.ErrorContains(t, err, "unknown transport")
}
