// ABOUTME: Entry point for the auth-server binary
// ABOUTME: Serves account registration, login, and token refresh

package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	_ "go.uber.org/automaxprocs"

	"github.com/AlexStMEfan/chatplatphorm/internal/accounts"
	"github.com/AlexStMEfan/chatplatphorm/internal/authserver"
	"github.com/AlexStMEfan/chatplatphorm/internal/config"
	"github.com/AlexStMEfan/chatplatphorm/internal/logging"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
               _   _
    __ _ _   _| |_| |__        ___  ___ _ ____   _____ _ __
   / _' | | | | __| '_ \ _____/ __|/ _ \ '__\ \ / / _ \ '__|
  | (_| | |_| | |_| | | |_____\__ \  __/ |   \ V /  __/ |
   \__,_|\__,_|\__|_| |_|     |___/\___|_|    \_/ \___|_|
`

// redactURL hides any password embedded in a connection URL before printing.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.Redacted()
}

// getConfigPath returns the path to the platform config file.
// Priority: CHAT_CONFIG env var > XDG_CONFIG_HOME/chatplatphorm/config.yaml >
// ~/.config/chatplatphorm/config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("CHAT_CONFIG"); envPath != "" {
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

	return filepath.Join(configDir, "chatplatphorm", "config.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: auth-server <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve    Start the auth server")
		fmt.Println("  init     Create the users table")
		fmt.Println("  health   Check auth server health")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit(ctx)
	case "health":
		err = runHealth(ctx)
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

	logger := logging.New(cfg.Logging)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.AuthAddr)
	green.Print("    ▶ ")
	fmt.Printf("Postgres:  %s\n", redactURL(cfg.Postgres.URL))
	green.Print("    ▶ ")
	fmt.Printf("Redis:     %s\n", redactURL(cfg.Redis.URL))
	fmt.Println()

	logger.Info("starting auth-server",
		"config", configPath,
		"auth_addr", cfg.Server.AuthAddr,
	)

	srv, err := authserver.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	return srv.Run(ctx)
}

func runInit(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	users, err := accounts.NewPGUserStore(ctx, cfg.Postgres.URL)
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	defer users.Close()

	fmt.Println("Creating users table")
	if err := users.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}

	fmt.Println("Schema ready.")
	return nil
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/health", cfg.Server.AuthAddr)
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
