package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	wetty "github.com/wetty-chat/wetty-go"
)

var (
	flagBaseURL string
	flagUID     int
	flagVerbose bool
)

var rootCmd = &cobra.Command{
	Use:   "wetty",
	Short: "Command-line client for the wetty chat backend",
	Long: `wetty is a command-line client for the wetty chat backend.

Configuration is read from ~/.wetty/config.toml, overridable through
WETTY_BASE_URL / WETTY_UID environment variables (a .env file in the working
directory is honored) and the --base-url / --uid flags.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagBaseURL, "base-url", "", "backend base URL")
	rootCmd.PersistentFlags().IntVar(&flagUID, "uid", 0, "local user id")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
}

// newLogger builds the CLI logger: colorized tint output on a terminal-bound
// run, JSON when WETTY_LOG_FORMAT=json is set.
func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	if os.Getenv("WETTY_LOG_FORMAT") == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.RFC3339,
	}))
}

// newClient resolves configuration (flags > env > config file) and builds the
// API client.
func newClient() (*wetty.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	baseURL := cfg.Default.BaseURL
	if v := os.Getenv("WETTY_BASE_URL"); v != "" {
		baseURL = v
	}
	if flagBaseURL != "" {
		baseURL = flagBaseURL
	}
	if baseURL == "" {
		return nil, fmt.Errorf("no base URL configured; run 'wetty config set default.base_url <url>' or pass --base-url")
	}

	uid := cfg.Default.UID
	if v := os.Getenv("WETTY_UID"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid WETTY_UID: %w", err)
		}
		uid = n
	}
	if flagUID != 0 {
		uid = flagUID
	}
	if uid == 0 {
		return nil, fmt.Errorf("no user id configured; run 'wetty config set default.uid <uid>' or pass --uid")
	}

	return wetty.NewClient(baseURL,
		wetty.WithUID(uid),
		wetty.WithLogger(newLogger(flagVerbose)),
	), nil
}

func main() {
	godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
