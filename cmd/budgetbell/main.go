// Command budgetbell runs the notification service and its maintenance tasks.
package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/dukerupert/budgetbell/internal/config"
	"github.com/dukerupert/budgetbell/internal/database"
	"github.com/dukerupert/budgetbell/internal/logging"
	"github.com/dukerupert/budgetbell/internal/server"
)

var (
	configPath string
	version    = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "budgetbell",
	Short: "Budget notification service",
	Long: `budgetbell queues and delivers budget alerts, recurring bill reminders
and weekly digests over web push, email and an in-app notification feed.

Configuration comes from BUDGETBELL_* environment variables and an optional
YAML/TOML/JSON file passed with --config.`,
	Version:      version,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a config file")
	rootCmd.AddCommand(serveCmd, processCmd, recurringCmd, digestCmd, purgeCmd, vapidKeysCmd, tokenCmd, hashSecretCmd)
}

// app bundles what every command that touches the database needs.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	db     *sql.DB
	srv    *server.Server
}

func loadApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger := logging.Setup(cfg.Log.Level, cfg.Log.Format)

	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	srv, err := server.New(db, cfg, reg, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &app{cfg: cfg, logger: logger, db: db, srv: srv}, nil
}

func (a *app) Close() {
	if err := a.srv.Close(); err != nil {
		a.logger.Warn("close server", "error", err)
	}
	a.db.Close()
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
