// ABOUTME: Admin CLI for bridge-gateway registrations and roster
// ABOUTME: Talks straight to the registry database for recovery and ops

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jmandel/banterop-bridge/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "bridge-admin",
	Short: "Inspect and repair bridge-gateway state",
	Long: `bridge-admin reads the same config as bridge-gateway and operates
directly on the registration database. Use it to inspect which agents are
registered per conversation and to clear stale registrations after a crash.`,
	SilenceUsage: true,
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to gateway config (default: bridge-gateway's lookup)")
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig resolves the gateway config the same way bridge-gateway does.
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = gatewayConfigPath()
	}
	return config.Load(path)
}

func gatewayConfigPath() string {
	if envPath := os.Getenv("BRIDGE_CONFIG"); envPath != "" {
		return envPath
	}
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml"
		}
		configDir = homeDir + "/.config"
	}
	return configDir + "/bridge/gateway.yaml"
}
