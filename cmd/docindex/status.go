package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dshills/docindex-mcp/internal/storage"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show what is indexed for each configured folder",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openStore(cfgStore.Config())
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		out := cmd.OutOrStdout()
		folders := cfgStore.Folders()
		if len(folders) == 0 {
			fmt.Fprintln(out, "No folders configured.")
			return nil
		}

		for _, f := range folders {
			fmt.Fprintf(out, "%s (%s)\n", f.Path, f.EmbeddingModel)

			stats, err := store.FolderStats(ctx, f.Path)
			switch {
			case errors.Is(err, storage.ErrNotFound):
				fmt.Fprintln(out, "  not indexed yet")
				continue
			case err != nil:
				return err
			}
			fmt.Fprintf(out, "  documents: %d  chunks: %d  size: %.1f MB\n",
				stats.DocumentCount, stats.ChunkCount, float64(stats.TotalBytes)/(1024*1024))
			if !stats.LastIndexedAt.IsZero() {
				fmt.Fprintf(out, "  last indexed: %s\n", stats.LastIndexedAt.Format("2006-01-02 15:04:05"))
			}

			cp, err := store.LoadCheckpoint(ctx, f.Path)
			if err == nil && !cp.Complete() {
				fmt.Fprintf(out, "  interrupted scan: %d of %d files done\n", cp.NextIndex(), cp.TotalFilesAtScanStart)
			}
			if !f.Enabled {
				fmt.Fprintln(out, "  paused")
			}
		}
		return nil
	},
}
