// ABOUTME: Entry point for the skyhook manager.
// ABOUTME: Accepts agent tunnels and proxies HTTP requests over them.

package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"

	"github.com/skyhook-io/skyhook/internal/config"
	"github.com/skyhook-io/skyhook/internal/logging"
	"github.com/skyhook-io/skyhook/internal/server"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
      _          _                 _
  ___| | ___   _| |__   ___   ___ | | __
 / __| |/ / | | | '_ \ / _ \ / _ \| |/ /
 \__ \   <| |_| | | | | (_) | (_) |   <
 |___/_|\_\\__, |_| |_|\___/ \___/|_|\_\
           |___/
`

// getConfigPath returns the path to the manager config file.
// Priority: SKYHOOK_CONFIG env var > XDG_CONFIG_HOME/skyhook/manager.yaml >
// ~/.config/skyhook/manager.yaml
func getConfigPath() string {
	if envPath := os.Getenv("SKYHOOK_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "manager.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "skyhook", "manager.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: skyhook <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve     Start the manager")
		fmt.Println("  health    Check manager health")
		fmt.Println("  agents    List connected agents")
		fmt.Println("  version   Print the version")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "health":
		err = runHealth(ctx)
	case "agents":
		err = runAgents(ctx)
	case "version":
		fmt.Println(version)
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
	if err := cfg.ValidateServer(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	logger := logging.Setup(cfg.Logging)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config: %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:   %s\n", cfg.Server.HTTPAddr)
	fmt.Println()

	logger.Info("starting skyhook manager",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
	)

	return server.New(cfg, logger).Run(ctx)
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/healthz", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

func runAgents(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/api/agents", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("listing agents failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	fmt.Println(string(body))
	return nil
}
