// Package cli implements the apguard command line.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ChrisB0-2/apguard/internal/config"
)

var (
	configPath string
	apiAddr    string
	apiKey     string
	jsonOutput bool

	buildVersion = "dev"
)

var rootCmd = &cobra.Command{
	Use:   "apguard",
	Short: "Keep Wi-Fi from auto-joining look-alike networks",
	Long: "apguard enables a saved Wi-Fi network only while an access point you trust is " +
		"broadcasting its name. Unknown access points are held back until you decide.",
	SilenceUsage: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "path to YAML configuration file")
	pf.StringVar(&apiAddr, "addr", "", "daemon API address (default: daemon.http_addr)")
	pf.StringVar(&apiKey, "api-key", "", "daemon API key (default: $APGUARD_API_KEY)")
	pf.BoolVar(&jsonOutput, "json", false, "print machine-readable JSON")
}

// Execute runs the root command.
func Execute(version string) {
	if version != "" {
		buildVersion = version
	}
	rootCmd.Version = buildVersion
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads --config, or the first config file found in the
// standard locations, falling back to defaults.
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.FindConfigFile()
	}

	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// resolvedConfigPath returns the file loadConfig read, or "".
func resolvedConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.FindConfigFile()
}
