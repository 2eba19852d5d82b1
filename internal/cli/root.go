package cli

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	logLevel   string

	successColor = color.New(color.FgGreen, color.Bold)
	failureColor = color.New(color.FgRed, color.Bold)
	promptColor  = color.New(color.FgCyan)
)

// rootCmd is the root command for clinicflow.
var rootCmd = &cobra.Command{
	Use:     "clinicflow",
	Version: "dev",
	Short:   "Natural-language clinical workflow orchestrator",
	Long: `clinicflow turns a free-text scheduling request into a plan of backend calls
(patient lookup, insurance check, slot search, booking), validates it and runs it,
returning an audit log of every executed step.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
}

func SetVersion(v string) {
	if v == "" {
		return
	}
	rootCmd.Version = v
	rootCmd.SetVersionTemplate("{{.Version}}\n")
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file (default: $CLINICFLOW_CONFIG or ./clinicflow.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override logging.level (debug, info, warn, error)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(replCmd)
	rootCmd.AddCommand(pingCmd)
}

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}
