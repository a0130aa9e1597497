// ABOUTME: Entry point for the skyhook agent.
// ABOUTME: Dials out to the manager and fronts a local HTTP service.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/skyhook-io/skyhook/internal/agent"
	"github.com/skyhook-io/skyhook/internal/config"
	"github.com/skyhook-io/skyhook/internal/logging"
)

// Version is set by goreleaser at build time.
var version = "dev"

// getConfigPath returns the path to the agent config file.
// Priority: SKYHOOK_AGENT_CONFIG env var > XDG_CONFIG_HOME/skyhook/agent.yaml >
// ~/.config/skyhook/agent.yaml
func getConfigPath() string {
	if envPath := os.Getenv("SKYHOOK_AGENT_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "agent.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "skyhook", "agent.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: skyhook-agent <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  run       Connect to the manager and serve tunneled requests")
		fmt.Println("  version   Print the version")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "run":
		err = runAgent(ctx)
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runAgent(ctx context.Context) error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.ValidateAgent(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	logger := logging.Setup(cfg.Logging)

	target, err := agent.NewTarget(cfg.Agent.LocalURL, cfg.Agent.LocalTimeout, logger)
	if err != nil {
		return fmt.Errorf("configuring local target: %w", err)
	}

	logger.Info("starting skyhook agent",
		"config", configPath,
		"agent_id", cfg.Agent.ID,
		"manager", cfg.Agent.ManagerURL,
		"local", cfg.Agent.LocalURL,
	)

	client := agent.NewClient(cfg.Agent.ManagerURL, cfg.Agent.ID, cfg.Agent.AuthToken, target, logger)
	return client.Run(ctx)
}
