package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"defgen/internal/classify"
	"defgen/internal/config"
	"defgen/internal/generation"
	"defgen/internal/logging"
	"defgen/internal/rules"
)

var (
	// Global flags
	verbose     bool
	configPath  string
	catalogPath string
	timeout     time.Duration

	// Context flags shared by assemble, validate and generate
	orgContext    []string
	legalContext  []string
	sourceContext []string
	docContext    []string

	// Loaded in PersistentPreRunE
	cfg    *config.Config
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "defgen",
	Short: "defgen - rule-driven definition generator",
	Long: `defgen assembles instructions for writing Dutch government term
definitions, checks the instruction set for contradictions, and scores
candidate definitions against the formal rule catalog.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if catalogPath != "" {
			loaded.Catalog.Path = catalogPath
		}
		if err := loaded.Validate(); err != nil {
			return err
		}
		cfg = loaded

		logger, err = buildLogger(cfg.Logging, verbose)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		logging.InitializeWith(logger, cfg.Logging.Categories)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "defgen.yaml", "Configuration file")
	rootCmd.PersistentFlags().StringVar(&catalogPath, "catalog", "", "Rule catalog file (overrides config, default: embedded catalog)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 2*time.Minute, "Operation timeout")

	for _, cmd := range []*cobra.Command{assembleCmd, validateCmd, generateCmd} {
		cmd.Flags().StringP("term", "t", "", "Term to define (required)")
		_ = cmd.MarkFlagRequired("term")
		cmd.Flags().StringArrayVar(&orgContext, "org", nil, "Organizational context (repeatable)")
		cmd.Flags().StringArrayVar(&legalContext, "legal", nil, "Legal context (repeatable)")
		cmd.Flags().StringArrayVar(&sourceContext, "source", nil, "Source context (repeatable)")
		cmd.Flags().StringArrayVar(&docContext, "doc", nil, "Document excerpt (repeatable)")
	}
	assembleCmd.Flags().Bool("render", false, "Render the instruction as formatted markdown")
	assembleCmd.Flags().Bool("manifest", false, "Print the assembly manifest")
	validateCmd.Flags().String("candidate", "", "Candidate definition (or - to read stdin)")
	_ = validateCmd.MarkFlagRequired("candidate")
	validateCmd.Flags().Bool("json", false, "Print the report as JSON")
	generateCmd.Flags().Bool("json", false, "Print the result as JSON")
	catalogCmd.Flags().String("category", "", "Only list rules of this category")

	rootCmd.AddCommand(validateSetCmd)
	rootCmd.AddCommand(catalogCmd)
	rootCmd.AddCommand(assembleCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildLogger creates the CLI logger from the logging section. Verbose
// forces debug level.
func buildLogger(lc config.LoggingConfig, verbose bool) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if lc.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	if lc.Level != "" {
		lvl, err := zapcore.ParseLevel(lc.Level)
		if err != nil {
			return nil, err
		}
		zc.Level = zap.NewAtomicLevelAt(lvl)
	}
	if verbose {
		zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	zc.OutputPaths = lc.OutputPaths()
	return zc.Build()
}

// commandContext returns a context bounded by --timeout that is also
// cancelled on SIGINT or SIGTERM.
func commandContext(d time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			if logger != nil {
				logger.Info("Received shutdown signal")
			}
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, func() {
		signal.Stop(sigCh)
		cancel()
	}
}

// loadStore loads the configured catalog into a fresh store.
func loadStore() (*rules.Store, error) {
	catalog, err := generation.LoadCatalog(cfg)
	if err != nil {
		return nil, err
	}
	logger.Debug("Catalog loaded",
		zap.String("version", catalog.Version()),
		zap.Int("rules", catalog.Len()),
		zap.String("path", cfg.Catalog.Path))
	return rules.NewStore(catalog), nil
}

// requestFromFlags reads --term and the context flags of cmd.
func requestFromFlags(cmd *cobra.Command) (string, classify.Fields) {
	term, _ := cmd.Flags().GetString("term")
	return strings.TrimSpace(term), classify.Fields{
		Organizational: orgContext,
		Legal:          legalContext,
		Source:         sourceContext,
		Documents:      docContext,
	}
}

