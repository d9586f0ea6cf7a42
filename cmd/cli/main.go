package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wadjakorntonsri/fusly/pkg/app"
	"github.com/wadjakorntonsri/fusly/pkg/config"
	"github.com/wadjakorntonsri/fusly/pkg/logging"
)

var (
	application *app.App
	logger      *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:           "fusly",
	Short:         "Operate a fusly link directory",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		var err error
		logger, err = logging.New(cfg.AppEnv, cfg.LogLevel)
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		application, err = app.New(cmd.Context(), cfg, logger)
		return err
	},
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write every mapping, deleted ones included, as JSON to stdout",
	RunE: func(cmd *cobra.Command, args []string) error {
		return exportMappings(cmd.Context(), application.Store, cmd.OutOrStdout())
	},
}

var importFile string

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Recreate mappings from an export file",
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(importFile)
		if err != nil {
			return err
		}
		defer f.Close()

		imported, skipped, err := importMappings(cmd.Context(), application.Store, f)
		if err != nil {
			return err
		}
		logger.Info("import finished", zap.Int("imported", imported), zap.Int("skipped", skipped))
		return nil
	},
}

var limit int

var recentCmd = &cobra.Command{
	Use:   "recent",
	Short: "List the most recently created mappings",
	RunE: func(cmd *cobra.Command, args []string) error {
		details, err := application.Links.Recent(cmd.Context(), limit)
		if err != nil {
			return err
		}
		return printJSON(cmd, details)
	},
}

var popularCmd = &cobra.Command{
	Use:   "popular",
	Short: "List mappings by visit count",
	RunE: func(cmd *cobra.Command, args []string) error {
		details, err := application.Links.Popular(cmd.Context(), limit)
		if err != nil {
			return err
		}
		return printJSON(cmd, details)
	},
}

var influentialCmd = &cobra.Command{
	Use:   "influential",
	Short: "List registered owners by total visits",
	RunE: func(cmd *cobra.Command, args []string) error {
		owners, err := application.Links.InfluentialOwners(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd, owners)
	},
}

func init() {
	importCmd.Flags().StringVar(&importFile, "file", "", "JSON file to import")
	_ = importCmd.MarkFlagRequired("file")
	recentCmd.Flags().IntVar(&limit, "limit", 10, "maximum number of mappings")
	popularCmd.Flags().IntVar(&limit, "limit", 10, "maximum number of mappings")

	rootCmd.AddCommand(exportCmd, importCmd, recentCmd, popularCmd, influentialCmd)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// run executes one command and closes the app afterwards. PersistentPostRun
// hooks are skipped when a command fails, so the close happens here.
func run(args []string) error {
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	if application != nil {
		_ = logger.Sync()
		err = errors.Join(err, application.Close())
	}
	return err
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
