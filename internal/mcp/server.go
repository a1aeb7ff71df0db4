package mcp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/singleflight"

	"github.com/Aman-CERP/tablerag/internal/search"
	"github.com/Aman-CERP/tablerag/internal/telemetry"
	"github.com/Aman-CERP/tablerag/pkg/version"
)

// ServerName is reported to MCP clients.
const ServerName = "tablerag"

// Searcher is the engine surface the server needs. *search.Engine
// implements it.
type Searcher interface {
	Retrieve(ctx context.Context, query string) (*search.Result, error)
	Info() search.Info
	Close() error
}

var _ Searcher = (*search.Engine)(nil)

// BuildFunc produces a fresh, Ready engine.
type BuildFunc func(ctx context.Context) (Searcher, error)

// Server is the MCP server for tablerag. It bridges AI clients with the
// retrieval engine and can swap that engine for a rebuilt one while
// serving.
type Server struct {
	mcp        *mcp.Server
	logger     *slog.Logger
	queryStats *telemetry.QueryStats

	// mu is held for reading for the whole of a search, so a swapped-out
	// engine is never closed under an in-flight query.
	mu         sync.RWMutex
	engine     Searcher
	rebuilding bool
	lastErr    error

	rebuilds singleflight.Group
}

// ToolInfo contains information about a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger; the default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithQueryStats reports the given statistics from index_status and the
// query stats resource.
func WithQueryStats(qs *telemetry.QueryStats) Option {
	return func(s *Server) { s.queryStats = qs }
}

const (
	searchRecordsDescription = "Look up gaushala (cattle shelter) registry records. Pass a registration number such as GSA-14 for an exact record, or a question mentioning a name, village, district or contact person. Returns the full record details of the best matches."
	indexStatusDescription   = "Check whether the gaushala registry index is loaded, which models serve it, and how many records it holds."
)

// NewServer creates a server. engine may be nil; searches then report that
// no knowledge base is available until SetEngine or Rebuild installs one.
func NewServer(engine Searcher, opts ...Option) *Server {
	s := &Server{
		engine: engine,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    ServerName,
			Version: version.Version,
		},
		nil,
	)
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// Info returns the server name and version.
func (s *Server) Info() (name, ver string) {
	return ServerName, version.Version
}

// SetEngine installs engine and returns the previous one, which the
// caller owns. It waits for in-flight searches on the previous engine.
func (s *Server) SetEngine(engine Searcher) Searcher {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.engine
	s.engine = engine
	return prev
}

// Rebuild runs build and, on success, swaps the result in and closes the
// previous engine. Searches keep using the previous engine while build
// runs. A failed build leaves the previous engine serving and is reported
// by index_status. Concurrent calls share one build.
func (s *Server) Rebuild(ctx context.Context, build BuildFunc) error {
	_, err, shared := s.rebuilds.Do("rebuild", func() (any, error) {
		s.setRebuilding(true)
		defer s.setRebuilding(false)

		start := time.Now()
		engine, err := build(ctx)

		s.mu.Lock()
		s.lastErr = err
		var prev Searcher
		if err == nil {
			prev = s.engine
			s.engine = engine
		}
		s.mu.Unlock()

		if err != nil {
			s.logger.Error("rebuild_failed",
				slog.Duration("duration", time.Since(start)),
				slog.String("error", err.Error()))
			return nil, err
		}
		if prev != nil {
			if cerr := prev.Close(); cerr != nil {
				s.logger.Warn("previous_engine_close_failed", slog.String("error", cerr.Error()))
			}
		}
		info := engine.Info()
		s.logger.Info("engine_swapped",
			slog.String("build_id", info.BuildID),
			slog.Int("records", info.Records),
			slog.Duration("duration", time.Since(start)))
		return nil, nil
	})
	if shared {
		s.logger.Debug("rebuild_coalesced")
	}
	return err
}

func (s *Server) setRebuilding(v bool) {
	s.mu.Lock()
	s.rebuilding = v
	s.mu.Unlock()
}

// ListTools returns all registered tools.
func (s *Server) ListTools() []ToolInfo {
	return []ToolInfo{
		{Name: ToolSearchRecords, Description: searchRecordsDescription},
		{Name: ToolIndexStatus, Description: indexStatusDescription},
	}
}

// CallTool invokes a tool by name with the given arguments.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	switch name {
	case ToolSearchRecords:
		query, ok := args["query"].(string)
		if !ok {
			return nil, NewInvalidParamsError("query parameter is required and must be a string")
		}
		return s.SearchRecords(ctx, query)
	case ToolIndexStatus:
		return s.IndexStatus(), nil
	default:
		return nil, NewMethodNotFoundError(name)
	}
}

// SearchRecords answers a query with the current engine. Errors are
// MCPErrors carrying end-user text.
func (s *Server) SearchRecords(ctx context.Context, query string) (*SearchRecordsOutput, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.engine == nil {
		return nil, MapError(errNoEngine)
	}

	start := time.Now()
	requestID := generateRequestID()
	s.logger.Debug("search_records_started",
		slog.String("request_id", requestID),
		slog.String("query", query))

	res, err := s.engine.Retrieve(ctx, query)
	duration := time.Since(start)
	if err != nil {
		s.logger.Error("search_records_failed",
			slog.String("request_id", requestID),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()))
		return nil, MapError(err)
	}

	s.logger.Info("search_records_completed",
		slog.String("request_id", requestID),
		slog.String("mode", string(res.Mode)),
		slog.Int("result_count", len(res.Hits)),
		slog.Duration("duration", duration))
	return toSearchRecordsOutput(res), nil
}

// IndexStatus describes the engine currently served.
func (s *Server) IndexStatus() *IndexStatusOutput {
	s.mu.RLock()
	engine, rebuilding, lastErr := s.engine, s.rebuilding, s.lastErr
	s.mu.RUnlock()

	out := &IndexStatusOutput{State: search.StateUninitialized.String(), Rebuilding: rebuilding}
	if engine != nil {
		fillStatus(out, engine.Info())
	}
	if lastErr != nil {
		out.LastError = MapError(lastErr).Message
	}
	out.Queries = toQueryStatsOutput(s.queryStats)
	return out
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        ToolSearchRecords,
		Description: searchRecordsDescription,
	}, s.mcpSearchRecordsHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        ToolIndexStatus,
		Description: indexStatusDescription,
	}, s.mcpIndexStatusHandler)

	s.logger.Debug("mcp_tools_registered", slog.Int("count", 2))
}

func (s *Server) mcpSearchRecordsHandler(ctx context.Context, _ *mcp.CallToolRequest, input SearchRecordsInput) (
	*mcp.CallToolResult,
	SearchRecordsOutput,
	error,
) {
	out, err := s.SearchRecords(ctx, input.Query)
	if err != nil {
		return nil, SearchRecordsOutput{}, err
	}
	return nil, *out, nil
}

func (s *Server) mcpIndexStatusHandler(_ context.Context, _ *mcp.CallToolRequest, _ IndexStatusInput) (
	*mcp.CallToolResult,
	*IndexStatusOutput,
	error,
) {
	return nil, s.IndexStatus(), nil
}

// Serve runs the server on the given transport until ctx is cancelled.
// Transport is "stdio" or "http"; addr is used by http only.
func (s *Server) Serve(ctx context.Context, transport, addr string) error {
	s.logger.Info("mcp_server_starting",
		slog.String("transport", transport),
		slog.String("addr", addr))

	var err error
	switch transport {
	case "stdio", "":
		err = s.mcp.Run(ctx, &mcp.StdioTransport{})
	case "http":
		err = s.serveHTTP(ctx, addr)
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio, http)", transport)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("mcp_server_stopped", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("mcp_server_stopped")
	return nil
}

func (s *Server) serveHTTP(ctx context.Context, addr string) error {
	handler := mcp.NewStreamableHTTPHandler(func(_ *http.Request) *mcp.Server {
		return s.mcp
	}, nil)

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		_ = httpServer.Shutdown(context.Background())
	}()

	err := httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Close releases the served engine.
func (s *Server) Close() error {
	prev := s.SetEngine(nil)
	if prev == nil {
		return nil
	}
	return prev.Close()
}

// generateRequestID creates a short unique request ID for log correlation.
func generateRequestID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
