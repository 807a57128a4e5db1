package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ILiedAboutCake/Rustla2/internal/config"
	"github.com/ILiedAboutCake/Rustla2/internal/logging"
)

var (
	configPath string
	prettyLogs bool
)

func main() {
	root := &cobra.Command{
		Use:           "rustla",
		Short:         "Live-stream registry for Rustla2",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "Optional config file path (YAML); else use env")
	root.PersistentFlags().BoolVar(&prettyLogs, "pretty", true, "Human readable console logs instead of JSON")

	root.AddCommand(
		migrateCommand(),
		dumpCommand(),
		validateCommand(),
		ingestCommand(),
		workerCommand(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errInvalidDocument) {
			fmt.Fprintf(os.Stderr, "rustla: %v\n", err)
		}
		stop()
		os.Exit(1)
	}
}

// loadConfig reads config and configures the global logger from it.
func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFromFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	logging.Setup(cfg.LogLevel, prettyLogs)
	return cfg, nil
}
