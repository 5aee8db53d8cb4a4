package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tendwatch/tendwatch/internal/config"
)

// Version is set at build time via -ldflags "-X github.com/tendwatch/tendwatch/cmd.Version=v1.0.0"
var Version = "dev"

var (
	cfgFile string
	dataDir string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "tendwatch",
	Short: "tendwatch — a persistent AI assistant with forward-looking memory",
	Long:  "tendwatch: a chat-native assistant that remembers what matters, keeps commitments about the future, and surfaces them at the right moment.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (default: <data-dir>/config.yml)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory (default: ~/.tendwatch)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(memoryCmd())
	rootCmd.AddCommand(reflectCmd())
	rootCmd.AddCommand(archiveFactCmd())
	rootCmd.AddCommand(configureCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("tendwatch %s\n", Version)
		},
	}
}

// resolveDataDir returns the configured data directory, expanding ~.
func resolveDataDir() string {
	if dataDir != "" {
		return config.ExpandHome(dataDir)
	}
	if v := os.Getenv("TENDWATCH_DATA_DIR"); v != "" {
		return config.ExpandHome(v)
	}
	return config.ExpandHome("~/.tendwatch")
}

// resolveConfigPath returns the configured config file path, defaulting to
// config.yml inside the resolved data directory.
func resolveConfigPath(root string) string {
	if cfgFile != "" {
		return cfgFile
	}
	if v := os.Getenv("TENDWATCH_CONFIG"); v != "" {
		return v
	}
	return root + "/config.yml"
}

// Execute runs the root cobra command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
