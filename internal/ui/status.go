package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// StatusInfo describes a persisted index bundle.
type StatusInfo struct {
	Bundle         string    `json:"bundle"`
	BuildID        string    `json:"build_id"`
	SchemaVersion  int       `json:"schema_version"`
	Records        int       `json:"records"`
	Units          int       `json:"units"`
	CreatedAt      time.Time `json:"created_at"`
	EmbedderModel  string    `json:"embedder_model"`
	Dimensions     int       `json:"dimensions"`
	LexicalBackend string    `json:"lexical_backend"`
	Checksum       string    `json:"checksum"`

	UnitsSize   int64 `json:"units_size"`
	VectorsSize int64 `json:"vectors_size"`

	// ModelStatus is "match", "mismatch" or empty when not checked.
	ModelStatus     string `json:"model_status,omitempty"`
	ConfiguredModel string `json:"configured_model,omitempty"`
}

// StatusRenderer displays bundle status.
type StatusRenderer struct {
	out    io.Writer
	styles Styles
}

// NewStatusRenderer creates a status renderer.
func NewStatusRenderer(out io.Writer, noColor bool) *StatusRenderer {
	return &StatusRenderer{out: out, styles: GetStyles(noColor)}
}

// Render writes the status as text.
func (r *StatusRenderer) Render(info StatusInfo) error {
	_, _ = fmt.Fprintf(r.out, "%s\n\n", r.styles.Header.Render("Index: "+info.Bundle))

	_, _ = fmt.Fprintf(r.out, "  Build:     %s\n", info.BuildID)
	_, _ = fmt.Fprintf(r.out, "  Records:   %d\n", info.Records)
	_, _ = fmt.Fprintf(r.out, "  Units:     %d\n", info.Units)
	if !info.CreatedAt.IsZero() {
		_, _ = fmt.Fprintf(r.out, "  Built:     %s\n", formatTime(info.CreatedAt))
	}
	_, _ = fmt.Fprintln(r.out)

	_, _ = fmt.Fprintln(r.out, "  Storage:")
	_, _ = fmt.Fprintf(r.out, "    Units:   %s\n", FormatBytes(info.UnitsSize))
	_, _ = fmt.Fprintf(r.out, "    Vectors: %s\n", FormatBytes(info.VectorsSize))
	_, _ = fmt.Fprintf(r.out, "    Lexical: %s\n", info.LexicalBackend)
	_, _ = fmt.Fprintln(r.out)

	_, _ = fmt.Fprintln(r.out, "  Embedder:")
	_, _ = fmt.Fprintf(r.out, "    Model:   %s (%d dims)\n", info.EmbedderModel, info.Dimensions)
	if info.ModelStatus != "" {
		_, _ = fmt.Fprintf(r.out, "    Config:  %s\n", r.renderModelStatus(info))
	}
	return nil
}

// RenderJSON writes the status as JSON.
func (r *StatusRenderer) RenderJSON(info StatusInfo) error {
	encoder := json.NewEncoder(r.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(info)
}

func (r *StatusRenderer) renderModelStatus(info StatusInfo) string {
	if info.ModelStatus == "match" {
		return r.styles.Success.Render("match")
	}
	return r.styles.Warning.Render(fmt.Sprintf("mismatch (configured %s, rebuild required)", info.ConfiguredModel))
}

func formatTime(t time.Time) string {
	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return plural(int(diff.Minutes()), "minute") + " ago"
	case diff < 24*time.Hour:
		return plural(int(diff.Hours()), "hour") + " ago"
	case diff < 7*24*time.Hour:
		return plural(int(diff.Hours()/24), "day") + " ago"
	default:
		return t.Format("2006-01-02 15:04")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

// FormatBytes formats bytes to human-readable format.
func FormatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
