package cmd

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/tablerag/internal/config"
	"github.com/Aman-CERP/tablerag/internal/embed"
	"github.com/Aman-CERP/tablerag/internal/store"
	"github.com/Aman-CERP/tablerag/internal/ui"
)

func newStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the saved index",
		Long: `Show the manifest of the saved index bundle without loading it:
build id, record and unit counts, the embedding model it was built with
and whether that model matches the current configuration.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd.Context(), cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runStatus(ctx context.Context, cmd *cobra.Command, jsonOutput bool) error {
	p, err := loadProject()
	if err != nil {
		return err
	}
	dir := p.indexDir()

	m, err := store.ReadManifest(ctx, dir)
	if err != nil {
		return err
	}

	info := ui.StatusInfo{
		Bundle:         dir,
		BuildID:        m.BuildID,
		SchemaVersion:  m.SchemaVersion,
		Records:        m.RecordCount,
		Units:          m.UnitCount,
		CreatedAt:      m.CreatedAt,
		EmbedderModel:  m.EmbedderModel,
		Dimensions:     m.Dimensions,
		LexicalBackend: m.LexicalBackend,
		Checksum:       m.Checksum,
		UnitsSize:      fileSize(filepath.Join(dir, store.UnitsFile)),
		VectorsSize:    fileSize(filepath.Join(dir, store.VectorsFile)),
	}
	if configured := configuredModel(p.cfg); configured != "" {
		info.ConfiguredModel = configured
		info.ModelStatus = "match"
		if configured != m.EmbedderModel {
			info.ModelStatus = "mismatch"
		}
	}

	r := ui.NewStatusRenderer(cmd.OutOrStdout(), ui.DetectNoColor() || !ui.IsTTY(cmd.OutOrStdout()))
	if jsonOutput {
		return r.RenderJSON(info)
	}
	return r.Render(info)
}

// configuredModel predicts the model name the configured embedder will
// record, or "" when it is only known after loading.
func configuredModel(cfg *config.Config) string {
	provider := strings.ToLower(cfg.Embeddings.Provider)
	switch {
	case provider == "" || provider == "static":
		return embed.StaticModelName
	case cfg.Embeddings.Model != "":
		return provider + ":" + cfg.Embeddings.Model
	default:
		return ""
	}
}

func fileSize(path string) int64 {
	fi, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return fi.Size()
}
