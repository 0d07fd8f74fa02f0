// Package cmd implements the costscope CLI.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/costscope/costscope/internal/observability"
)

// versionInfo carries the build identity stamped in by the linker.
var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "HEAD",
	BuildDate: "unknown",
}

// SetVersionInfo is called from main with ldflags-injected values.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

var (
	flagConfig     string
	flagLogLevel   string
	flagLogProfile string
)

var rootCmd = &cobra.Command{
	Use:   "costscope",
	Short: "Terraform cost estimation pipeline",
	Long: `costscope runs Terraform projects through a staged cost estimation
pipeline: plan, parse, enrich, cost. Jobs move through an explicit state
machine and every stage attempt is recorded for audit.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return observability.Init(flagLogLevel, flagLogProfile)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		observability.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to config file")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&flagLogProfile, "log-profile", "console", "Log profile: console or structured")

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("costscope %s (commit %s, built %s)\n",
			versionInfo.Version, versionInfo.Commit, versionInfo.BuildDate)
	},
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

// exitError creates an error that will cause the CLI to exit with the given code.
func exitError(code int, message string, err error) error {
	return fmt.Errorf("%s: %w (exit code %d)", message, err, code)
}

// configOverrides translates persistent flags into a config override map.
func configOverrides() map[string]any {
	o := map[string]any{}
	if flagLogLevel != "" {
		o["logging"] = map[string]any{"level": flagLogLevel, "profile": flagLogProfile}
	}
	return o
}
