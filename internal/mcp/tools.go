package mcp

// Tool names.
const (
	ToolSearchRecords = "search_records"
	ToolIndexStatus   = "index_status"
)

// SearchRecordsInput defines the input schema for the search_records tool.
type SearchRecordsInput struct {
	Query string `json:"query" jsonschema:"a question about a gaushala: a registration number like GSA-14, a name, a village, a district or a contact person"`
}

// SearchRecordsOutput defines the output schema for the search_records tool.
type SearchRecordsOutput struct {
	// Mode is exact, ranked, fallback or empty.
	Mode    string         `json:"mode" jsonschema:"how the answer was produced: exact, ranked, fallback or empty"`
	Text    string         `json:"text" jsonschema:"the answer rendered as text blocks"`
	Results []RecordOutput `json:"results" jsonschema:"the selected records, best first"`
}

// RecordOutput is one selected record.
type RecordOutput struct {
	RecordID int     `json:"record_id" jsonschema:"record identifier"`
	Facet    string  `json:"facet" jsonschema:"the narrative facet that matched: identity, location or contact"`
	Score    float64 `json:"score" jsonschema:"re-ranker score, zero for exact matches"`
	FullInfo string  `json:"full_info" jsonschema:"every display field of the record"`
}

// IndexStatusInput defines the input schema for the index_status tool (no parameters).
type IndexStatusInput struct{}

// IndexStatusOutput defines the output schema for the index_status tool.
type IndexStatusOutput struct {
	Ready          bool              `json:"ready"`
	State          string            `json:"state"`
	BuildID        string            `json:"build_id,omitempty"`
	Units          int               `json:"units"`
	Records        int               `json:"records"`
	EmbedderModel  string            `json:"embedder_model,omitempty"`
	Dimensions     int               `json:"dimensions,omitempty"`
	LexicalBackend string            `json:"lexical_backend,omitempty"`
	Reranker       string            `json:"reranker,omitempty"`
	CreatedAt      string            `json:"created_at,omitempty"`
	Rebuilding     bool              `json:"rebuilding,omitempty"`
	LastError      string            `json:"last_error,omitempty"`
	Queries        *QueryStatsOutput `json:"queries,omitempty"`
}

// QueryStatsOutput summarises searches served since the process started.
type QueryStatsOutput struct {
	Total               int64            `json:"total"`
	ModeCounts          map[string]int64 `json:"mode_counts"`
	LatencyDistribution map[string]int64 `json:"latency_distribution"`
	ZeroResultQueries   []string         `json:"zero_result_queries,omitempty"`
	TopTerms            []TermOutput     `json:"top_terms,omitempty"`
	Since               string           `json:"since"`
}

// TermOutput is a query term and how often it was searched.
type TermOutput struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}
