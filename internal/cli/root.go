// Package cli provides the threadmail operator commands.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/threadmail/threadmail/internal/config"
	"github.com/threadmail/threadmail/internal/logging"
	"github.com/threadmail/threadmail/internal/settings"
)

var (
	flagConfigFile string
	flagJSON       bool

	loadedConfig *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "threadmail",
	Short: "Operate a threadmail bridge",
	Long: "threadmail inspects and adjusts a running bridge's data: runtime\n" +
		"settings, pending closures and conversation logs.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if flagConfigFile != "" {
			loadedConfig, err = config.LoadFromFile(flagConfigFile)
		} else {
			loadedConfig, err = config.LoadDefault()
		}
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfigFile, "config", "", "config file path")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "machine-readable JSON output")
}

// Execute runs the operator command tree.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// IsJSONOutput reports whether --json was requested.
func IsJSONOutput() bool {
	return flagJSON
}

// WriteOutput serializes v as indented JSON.
func WriteOutput(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// openSettings opens the settings store the daemon uses. The caller
// closes it.
func openSettings() (*settings.Store, error) {
	logger := logging.Component("cli")
	st, err := settings.Open(loadedConfig.SettingsDBPath(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open settings store: %w", err)
	}
	return st, nil
}
