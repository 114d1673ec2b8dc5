package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/oriys/courier/internal/config"
	"github.com/oriys/courier/internal/domain"
)

var (
	pgDSN      string
	configFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "courier",
		Short: "PostgreSQL command bus",
		Long:  "Courier is a command bus on PostgreSQL and PGMQ: transactional sends, worker retries, batches and operator tooling",
	}

	rootCmd.PersistentFlags().StringVar(&pgDSN, "pg-dsn", "", "Postgres DSN")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file")
	rootCmd.AddCommand(daemonCmd())
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(sendCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(tsqCmd())
	rootCmd.AddCommand(batchCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig resolves the effective configuration: file, then env, then
// the --pg-dsn override.
func loadConfig() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if configFile != "" {
		var err error
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}
	config.LoadFromEnv(cfg)
	if pgDSN != "" {
		cfg.Postgres.DSN = pgDSN
	}
	if cfg.Postgres.DSN == "" {
		return nil, fmt.Errorf("postgres DSN is required (--pg-dsn, COURIER_PG_DSN or config file)")
	}
	if err := domain.ConfigureQueueSuffixes(cfg.Queue.CommandSuffix, cfg.Queue.ReplySuffix); err != nil {
		return nil, err
	}
	return cfg, nil
}
