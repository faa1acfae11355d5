package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dshills/docindex-mcp/internal/orchestrator"
	"github.com/dshills/docindex-mcp/internal/storage"
	"github.com/dshills/docindex-mcp/pkg/types"
)

var (
	folderModel string
	purgeIndex  bool
)

var foldersCmd = &cobra.Command{
	Use:   "folders",
	Short: "Manage the configured folder list",
	Long: `Edit the folders stored in the config file.

Changes take effect the next time serve starts. While serve is running,
manage folders through its MCP tools instead.

Examples:
  docindex folders add ~/notes --model text-embedding-3-small
  docindex folders list
  docindex folders remove ~/notes --purge`,
}

var foldersAddCmd = &cobra.Command{
	Use:   "add <path>",
	Short: "Add a folder",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		abs, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}
		configured := make([]string, 0)
		for _, f := range cfgStore.Folders() {
			configured = append(configured, f.Path)
		}
		abs, err = orchestrator.CheckFolder(abs, configured)
		if err != nil {
			return err
		}

		model := folderModel
		if model == "" {
			model = cfgStore.Config().Embedding.Model
		}
		if err := cfgStore.UpsertFolder(types.FolderConfig{Path: abs, EmbeddingModel: model, Enabled: true}); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Added %s (model %s)\n", abs, model)
		return nil
	},
}

var foldersRemoveCmd = &cobra.Command{
	Use:   "remove <path>",
	Short: "Remove a folder",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		abs, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}
		resolved := abs
		if r, err := filepath.EvalSymlinks(abs); err == nil {
			resolved = r
		}
		found := false
		for _, f := range cfgStore.Folders() {
			if f.Path == abs || f.Path == resolved {
				abs, found = f.Path, true
				break
			}
		}
		if !found {
			return fmt.Errorf("%w: %s", orchestrator.ErrFolderNotFound, abs)
		}
		if err := cfgStore.RemoveFolder(abs); err != nil {
			return err
		}

		if purgeIndex {
			if err := purgeFolder(cmd.Context(), abs); err != nil {
				return err
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", abs)
		return nil
	},
}

var foldersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured folders",
	RunE: func(cmd *cobra.Command, args []string) error {
		folders := cfgStore.Folders()
		if len(folders) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No folders configured.")
			return nil
		}
		for _, f := range folders {
			state := "enabled"
			if !f.Enabled {
				state = "paused"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", f.Path, f.EmbeddingModel, state)
		}
		return nil
	},
}

// purgeFolder deletes a folder's documents and checkpoint from the index
func purgeFolder(ctx context.Context, path string) error {
	store, err := openStore(cfgStore.Config())
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if err := store.DeleteCheckpoint(ctx, path); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	if err := store.DeleteFolder(ctx, path); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	return nil
}

func init() {
	foldersAddCmd.Flags().StringVarP(&folderModel, "model", "m", "", "embedding model (default embedding.model from config)")
	foldersRemoveCmd.Flags().BoolVar(&purgeIndex, "purge", false, "also delete the folder's indexed documents")
	foldersCmd.AddCommand(foldersAddCmd, foldersRemoveCmd, foldersListCmd)
}
