package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/fusesearch/internal/index"
	"github.com/Aman-CERP/fusesearch/internal/output"
	"github.com/Aman-CERP/fusesearch/internal/store"
)

func newIndexCmd(g *globalOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "index [path]",
		Short: "Index a directory for searching",
		Long: `Index a directory to enable hybrid search over its contents.

Files are added to the keyword index, embedded into the vector index and
stored in the item store. Unchanged files are skipped on later runs and
files that disappeared are removed.

Use --force to clear existing index data and rebuild from scratch. A
rebuild is required after changing embeddings.dimensions.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := g.dir
			if len(args) > 0 {
				dir = args[0]
			}
			p, err := loadProject(dir)
			if err != nil {
				return err
			}
			res, err := indexProject(cmd.Context(), p, force, output.IsTTY(cmd.OutOrStdout()), output.New(cmd.OutOrStdout()), slog.Default())
			if err != nil {
				return err
			}
			output.New(cmd.OutOrStdout()).Successf("Indexed %d files in %s (%d updated, %d unchanged, %d removed)",
				res.Files, res.Duration.Round(time.Millisecond), res.Indexed, res.Unchanged, res.Deleted)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Clear existing index and rebuild from scratch")
	return cmd
}

// indexProject runs one full indexing pass under the project's index lock.
// With progress, a progress bar is drawn on out while embedding.
func indexProject(ctx context.Context, p *project, force, progress bool, out *output.Writer, logger *slog.Logger) (*index.Result, error) {
	lock := index.NewLock(p.paths.DataDir)
	if err := lock.TryLock(); err != nil {
		return nil, err
	}
	defer func() { _ = lock.Unlock() }()

	if force {
		if err := clearIndexData(p.paths); err != nil {
			return nil, fmt.Errorf("clear index data: %w", err)
		}
		out.Status("", "Cleared existing index data, starting fresh...")
		logger.Info("index_force_clear", slog.String("data_dir", p.paths.DataDir))
	}

	e, err := openEngine(ctx, p, force, logger)
	if err != nil {
		return nil, err
	}
	defer func() { _ = e.Close() }()

	var onProgress func(done, total int)
	if progress {
		onProgress = func(done, total int) { out.Progress(done, total, "embedding files") }
	}
	ix, _, err := e.newIndexer(p, onProgress)
	if err != nil {
		return nil, err
	}

	rebuild := force
	prev, err := e.items.GetState(ctx, store.StateKeyLexical)
	if err != nil {
		return nil, err
	}
	if prev != "" && prev != string(e.backend) {
		out.Warningf("lexical backend changed from %s to %s, re-indexing every file", prev, e.backend)
		rebuild = true
	}
	return ix.Run(ctx, rebuild)
}

// clearIndexData removes every store file, leaving the lock file alone.
func clearIndexData(paths store.Paths) error {
	targets := []string{
		paths.Items(), paths.Items() + "-wal", paths.Items() + "-shm",
		paths.Vectors(), paths.Vectors() + ".meta",
		paths.Lexical(store.LexicalBleve),
		paths.Lexical(store.LexicalSQLite), paths.Lexical(store.LexicalSQLite) + "-wal", paths.Lexical(store.LexicalSQLite) + "-shm",
	}
	for _, t := range targets {
		if err := os.RemoveAll(t); err != nil {
			return err
		}
	}
	return nil
}
