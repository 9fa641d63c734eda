// prism is a lens-driven, multi-source entity harmonization engine. A lens
// document declares the domain (canonical values, mapping rules, connector
// policy); the engine plans connector execution, extracts universal
// primitives, maps them through the lens, deduplicates across sources, and
// optionally persists one canonical entity per real-world thing.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"prism/internal/config"
)

// Exit codes. Partial failures with at least one successful entity still
// exit zero; callers read errors[] from the run summary.
const (
	exitOK      = 0
	exitConfig  = 1
	exitRuntime = 2
)

var (
	cfgPath string
	verbose bool

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "prism",
	Short: "prism - lens-driven multi-source entity harmonization",
	Long: `prism harmonizes entity records from heterogeneous sources into one
canonical record per real-world thing.

A lens document supplies all domain knowledge: vocabulary, canonical values,
mapping rules, modules, and connector selection policy. The engine itself
knows only structure: phases, primitives, the four canonical dimensions, and
trust-weighted merging.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		zcfg := zap.NewProductionConfig()
		if cfg.Logging.Format == "console" {
			zcfg = zap.NewDevelopmentConfig()
		}
		if level, err := zapcore.ParseLevel(cfg.Logging.Level); err == nil {
			zcfg.Level = zap.NewAtomicLevelAt(level)
		}
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// exitCodeError carries a specific process exit code up to main.
type exitCodeError struct {
	code int
	err  error
}

func (e *exitCodeError) Error() string { return e.err.Error() }
func (e *exitCodeError) Unwrap() error { return e.err }

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "prism.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(lensCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		var coded *exitCodeError
		if errors.As(err, &coded) {
			os.Exit(coded.code)
		}
		os.Exit(exitConfig)
	}
	os.Exit(exitOK)
}
