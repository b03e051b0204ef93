// Root command for the fieldsync CLI.
package main

import (
	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "0.1.0"

// Global flag values.
var (
	flagConfigFile string
	flagDataDir    string
	flagSession    string
	flagJSON       bool
)

// cfg holds the configuration loaded by PersistentPreRunE so all
// subcommands can use it.
var cfg *Config

var rootCmd = &cobra.Command{
	Use:     "fieldsync",
	Short:   "FieldSync offline mutation queue daemon and tooling",
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = loadConfig(flagConfigFile)
		if err != nil {
			return err
		}
		if flagDataDir != "" {
			cfg.DataDir = flagDataDir
		}
		if flagSession != "" {
			cfg.SessionKey = flagSession
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfigFile, "config", "", "config file (default: $(CWD)/fieldsync.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "data directory override")
	rootCmd.PersistentFlags().StringVar(&flagSession, "session", "", "session key override")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output as JSON")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the fieldsync version",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("fieldsync v%s\n", Version)
	},
}
