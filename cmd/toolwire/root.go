package main

import (
	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

var (
	cfgFile  string
	rootDir  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:           "toolwire",
	Short:         "Tool invocation over JSON-RPC",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML config file (TOOLWIRE_* variables override it)")
	rootCmd.PersistentFlags().StringVar(&rootDir, "root", "", "sandbox root; overrides sandbox.root")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error); overrides logging.level")
}
