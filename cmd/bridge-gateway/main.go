// ABOUTME: Entry point for the bridge-gateway supervisor
// ABOUTME: Resumes registered agent workers and supervises conversation bridges

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"

	"github.com/jmandel/banterop-bridge/internal/config"
	"github.com/jmandel/banterop-bridge/internal/events"
	"github.com/jmandel/banterop-bridge/internal/host"
	"github.com/jmandel/banterop-bridge/internal/lifecycle"
	"github.com/jmandel/banterop-bridge/internal/registry"
	"github.com/jmandel/banterop-bridge/internal/taskbridge"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
  _          _     _
 | |__  _ __(_) __| | __ _  ___        __ _  __ _| |_ _____      ____ _ _   _
 | '_ \| '__| |/ _' |/ _' |/ _ \_____ / _' |/ _' | __/ _ \ \ /\ / / _' | | | |
 | |_) | |  | | (_| | (_| |  __/_____| (_| | (_| | ||  __/\ V  V / (_| | |_| |
 |_.__/|_|  |_|\__,_|\__, |\___|      \__, |\__,_|\__\___| \_/\_/ \__,_|\__, |
                     |___/            |___/                             |___/
`

// getConfigPath returns the path to the gateway config file.
// Priority: BRIDGE_CONFIG env var > XDG_CONFIG_HOME/bridge/gateway.yaml > ~/.config/bridge/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("BRIDGE_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "bridge", "gateway.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: bridge-gateway <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve     Start the gateway supervisor")
		fmt.Println("  check     Validate config, roster, and remote endpoints")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "check":
		err = runCheck(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	roster, err := config.LoadRoster(cfg.Roster.Path)
	if err != nil {
		return fmt.Errorf("loading roster: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Registry: %s\n", cfg.Database.Path)
	green.Print("    ▶ ")
	fmt.Printf("Roster:   %s (%d agents)\n", cfg.Roster.Path, len(roster.Agents))
	fmt.Println()

	logger.Info("starting bridge-gateway",
		"config", configPath,
		"database", cfg.Database.Path,
		"agents", len(roster.Agents),
	)

	reg, err := registry.NewSQLiteRegistry(cfg.Database.Path, logger)
	if err != nil {
		return fmt.Errorf("opening registry: %w", err)
	}
	defer reg.Close()

	bus := events.NewBus(logger)
	defer bus.Close()

	runner := newConversationRunner(roster, cfg.Bridge, bus, logger)
	h := host.New(runner, logger)
	defer h.Close()

	mgr := lifecycle.New(reg, h, logger)
	if err := mgr.Initialize(bus); err != nil {
		return fmt.Errorf("initializing lifecycle: %w", err)
	}
	defer mgr.Shutdown()

	// The registry, not the host, decides what should be running.
	if err := mgr.ResumeAll(ctx); err != nil {
		return fmt.Errorf("resuming registered agents: %w", err)
	}

	logger.Info("bridge-gateway ready")
	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

// runCheck validates local configuration and probes each task-protocol
// endpoint for its agent card.
func runCheck(ctx context.Context) error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	roster, err := config.LoadRoster(cfg.Roster.Path)
	if err != nil {
		return fmt.Errorf("loading roster: %w", err)
	}

	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	gray := color.New(color.FgHiBlack)

	fmt.Printf("config: %s\n", configPath)
	fmt.Printf("roster: %s\n\n", cfg.Roster.Path)

	for _, agent := range roster.Agents {
		fmt.Printf("%-16s %-5s %s ", agent.ID, agent.Protocol, agent.Endpoint)
		if agent.Protocol != config.ProtocolTask {
			gray.Println("(no card endpoint)")
			continue
		}
		client := taskbridge.NewHTTPClient(taskbridge.HTTPConfig{Endpoint: agent.Endpoint}, nil)
		card, err := client.FetchAgentCard(ctx)
		if err != nil {
			red.Printf("unreachable: %v\n", err)
			continue
		}
		green.Printf("ok")
		gray.Printf(" (%s %s)\n", card.Name, card.Version)
	}
	return nil
}
