package main

import (
	"fmt"
	"os"

	"kiln/internal/config"
	"kiln/internal/logging"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	workspace string
	debugMode bool
	apiKey    string
	model     string
)

// cfg is loaded once in PersistentPreRunE and shared by all commands.
var cfg *config.Config

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "kiln",
	Short: "kiln - quality-convergence build orchestrator",
	Long: `kiln turns a goal into tested code by iterating generate -> test -> review
loops until quality scores converge, scheduling independent tasks in
parallel under a resource governor.

A run moves through phases: planning sprints, converging each task, and
writing the final build report. Every phase transition is checkpointed,
so an interrupted run can be resumed.

Examples:
  kiln run "Build a URL shortener with an HTTP API"
  kiln status
  kiln pause
  kiln resume`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(workspace)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if debugMode {
			cfg.Logging.DebugMode = true
			cfg.Logging.Level = "debug"
		}
		if apiKey != "" {
			cfg.Chat.APIKey = apiKey
		}
		if model != "" {
			cfg.Chat.Model = model
		}
		return logging.Initialize(workspace, logging.Config{
			DebugMode:  cfg.Logging.DebugMode,
			Level:      cfg.Logging.Level,
			Categories: cfg.Logging.Categories,
		})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", ".", "Workspace directory")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "Chat API key (overrides config and env)")
	rootCmd.PersistentFlags().StringVar(&model, "model", "", "Chat model (overrides config)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(initCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
