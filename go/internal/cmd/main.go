package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mcdev12/tandem/go/internal/config"
)

var (
	cfgFile  string
	envFile  string
	logLevel string
	cfg      *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "tandem",
	Short: "Tandem device client",
	Long: `Tandem keeps a device in step with the shared countdown, reports
approximate presence for its city and relays local state to the UI.`,
	PersistentPreRunE: setupApp,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "path to a .env file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level")

	rootCmd.AddCommand(runCmd, locateCmd, citiesCmd, serveFakeCmd)
}
