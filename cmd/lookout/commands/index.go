package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/moolen/lookout/internal/agent/retriever"
	"github.com/moolen/lookout/internal/logging"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Rebuild the documentation index",
	Long: `Read every markdown file under retriever.rules_dir, split it into chunks,
embed them and replace the index at retriever.index_path.

The index is also built on first start when it is missing or was built with
another embedder; run this after editing the rules.`,
	RunE: runIndex,
}

func runIndex(cmd *cobra.Command, args []string) error {
	if err := setupLog(logLevelFlags); err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	logger := logging.GetLogger("index")

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	embedder, err := retriever.NewEmbedder(ctx, cfg.Retriever.Embedder, cfg.Retriever.EmbeddingModel, cfg.Env.GeminiAPIKey)
	if err != nil {
		return err
	}
	r, err := retriever.New(retriever.Config{
		RulesDir:     cfg.Retriever.RulesDir,
		IndexPath:    cfg.Retriever.IndexPath,
		TopK:         cfg.Retriever.TopK,
		ChunkSize:    cfg.Retriever.ChunkSize,
		ChunkOverlap: cfg.Retriever.ChunkOverlap,
	}, embedder)
	if err != nil {
		return err
	}
	defer func() { _ = r.Stop(context.Background()) }()

	start := time.Now()
	logger.Info("Indexing %s with %s", cfg.Retriever.RulesDir, embedder.Name())
	n, err := r.Rebuild(ctx)
	if err != nil {
		return fmt.Errorf("failed to rebuild index: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d chunks from %s into %s in %s\n",
		n, cfg.Retriever.RulesDir, cfg.Retriever.IndexPath, time.Since(start).Round(time.Millisecond))
	return nil
}
