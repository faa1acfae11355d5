package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/dshills/docindex-mcp/internal/config"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

var (
	configPath string
	cfgStore   *config.Store
	logger     zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "docindex",
	Short: "Index folders of documents for semantic search over MCP",
	Long: `docindex keeps a set of folders indexed for semantic and keyword search.

Folders are scanned in the background under a resource budget. The serve
command exposes folder management and search to MCP clients over stdio.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip initialization for help commands
		if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "version" {
			return nil
		}
		if configPath == "" {
			p, err := config.DefaultPath()
			if err != nil {
				return err
			}
			configPath = p
		}
		store, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfgStore = store
		logger = newLogger(store.Config().LogLevel)
		return nil
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default $DOCINDEX_CONFIG or ~/.docindex/config.yaml)")
	rootCmd.AddCommand(serveCmd, foldersCmd, statusCmd, versionCmd)
}

// newLogger writes to stderr; stdout belongs to the MCP protocol
func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger()
}

func main() {
	Execute()
}
