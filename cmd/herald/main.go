// ABOUTME: Entry point for herald, the Matrix bot that drafts and publishes LinkedIn posts
// ABOUTME: Dispatches the serve, init, check, health, and version commands

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/herald/internal/config"
)

// version is set at build time with -ldflags.
var version = "dev"

const banner = `
  _                    _     _
 | |__   ___ _ __ __ _| | __| |
 | '_ \ / _ \ '__/ _' | |/ _' |
 | | | |  __/ | | (_| | | (_| |
 |_| |_|\___|_|  \__,_|_|\__,_|
`

// getConfigPath returns the path to the config file.
// Priority: HERALD_CONFIG env var > XDG_CONFIG_HOME/herald/config.yaml > ~/.config/herald/config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("HERALD_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "herald", "config.yaml")
}

// getDataPath returns the path to the herald data directory.
// Priority: XDG_DATA_HOME/herald > ~/.local/share/herald
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "herald")
}

func usage() {
	fmt.Println("Usage: herald <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve     Start the bot and its HTTP server")
	fmt.Println("  init      Create a new config file interactively")
	fmt.Println("  check     Load and validate the config file")
	fmt.Println("  health    Check a running bot's health endpoint")
	fmt.Println("  version   Print the version")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit(os.Stdin)
	case "check":
		err = runCheck()
	case "health":
		err = runHealth(ctx)
	case "version", "--version", "-v":
		fmt.Println(version)
	case "help", "--help", "-h":
		usage()
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

	logger := setupLogger(cfg.Logging)
	printSummary(configPath, cfg)

	logger.Info("starting herald",
		"config", configPath,
		"authorized_user", cfg.Bot.AuthorizedUser,
		"storage", cfg.Storage.Backend,
		"publish", cfg.Publish.Backend,
	)

	app, err := build(ctx, cfg, getDataPath(), logger)
	if err != nil {
		return err
	}
	return app.run(ctx)
}

// printSummary prints the startup status lines.
func printSummary(configPath string, cfg *config.Config) {
	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)
	gray := color.New(color.FgHiBlack)

	line := func(label, value string) {
		green.Print("    ▶ ")
		fmt.Printf("%-10s %s\n", label+":", value)
	}

	line("Config", configPath)
	line("Matrix", cfg.Matrix.UserID+" on "+cfg.Matrix.Homeserver)
	line("Owner", cfg.Bot.AuthorizedUser)
	line("Generator", cfg.Generator.Backend+" ("+cfg.Generator.Model+")")
	line("Publish", cfg.Publish.Backend+" via "+cfg.Login.Flow+" login")
	line("Storage", cfg.Storage.Backend)
	if cfg.Server.HTTPAddr != "" {
		line("HTTP", cfg.Server.HTTPAddr)
	}

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("%-10s ", "Tailscale:")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Funnel {
			yellow.Print(" [funnel]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}
	if cfg.Matrix.Encryption {
		green.Print("    ▶ ")
		fmt.Printf("%-10s ", "E2EE:")
		cyan.Println("enabled")
	}

	fmt.Println()
}

func runCheck() error {
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	printSummary(configPath, cfg)
	color.New(color.FgGreen).Println("  ✓ Config is valid")
	return nil
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is not set (tailscale-only deployments are checked over the tailnet)")
	}

	url := fmt.Sprintf("http://%s/health", cfg.Server.HTTPAddr)
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
