package mcp

import (
	"sort"
	"time"

	apperrors "github.com/Aman-CERP/tablerag/internal/errors"
	"github.com/Aman-CERP/tablerag/internal/search"
	"github.com/Aman-CERP/tablerag/internal/telemetry"
)

// errNoEngine is reported while no engine has been installed.
var errNoEngine = apperrors.NotReady("search", search.StateUninitialized.String())

func toSearchRecordsOutput(res *search.Result) *SearchRecordsOutput {
	out := &SearchRecordsOutput{
		Mode:    string(res.Mode),
		Text:    search.Render(res),
		Results: make([]RecordOutput, 0, len(res.Hits)),
	}
	for _, h := range res.Hits {
		out.Results = append(out.Results, RecordOutput{
			RecordID: h.RecordID,
			Facet:    string(h.Facet),
			Score:    h.Score,
			FullInfo: h.FullInfo,
		})
	}
	return out
}

func fillStatus(out *IndexStatusOutput, info search.Info) {
	out.Ready = info.State == search.StateReady
	out.State = info.StateName
	out.BuildID = info.BuildID
	out.Units = info.Units
	out.Records = info.Records
	out.EmbedderModel = info.EmbedderModel
	out.Dimensions = info.Dimensions
	out.LexicalBackend = info.LexicalBackend
	out.Reranker = info.Reranker
	if !info.CreatedAt.IsZero() {
		out.CreatedAt = info.CreatedAt.UTC().Format(time.RFC3339)
	}
}

// toQueryStatsOutput converts a snapshot; nil stats give nil.
func toQueryStatsOutput(qs *telemetry.QueryStats) *QueryStatsOutput {
	if qs == nil {
		return nil
	}
	snap := qs.Snapshot()

	out := &QueryStatsOutput{
		Total:               snap.TotalQueries,
		ModeCounts:          make(map[string]int64, len(snap.ModeCounts)),
		LatencyDistribution: make(map[string]int64, len(snap.LatencyDistribution)),
		ZeroResultQueries:   snap.ZeroResultQueries,
		TopTerms:            make([]TermOutput, 0, len(snap.TopTerms)),
		Since:               snap.Since.UTC().Format(time.RFC3339),
	}
	for mode, n := range snap.ModeCounts {
		out.ModeCounts[mode] = n
	}
	for bucket, n := range snap.LatencyDistribution {
		out.LatencyDistribution[string(bucket)] = n
	}
	for _, tc := range snap.TopTerms {
		out.TopTerms = append(out.TopTerms, TermOutput{Term: tc.Term, Count: tc.Count})
	}
	sort.SliceStable(out.TopTerms, func(i, j int) bool {
		return out.TopTerms[i].Count > out.TopTerms[j].Count
	})
	return out
}
