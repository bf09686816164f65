// Command simgym runs the reference simulator server or drives a built-in
// task against a simulator with random actions.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"simgym/config"
	"simgym/logger"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "simgym",
		Short:         "Reinforcement learning environments backed by a remote simulator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "simgym.yaml", "path to the YAML config file")

	rootCmd.AddCommand(newServeCmd(&configPath), newRunCmd(&configPath))

	for _, envFile := range []string{".env", "../../.env"} {
		if err := godotenv.Load(envFile); err == nil {
			break
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "simgym:", err)
		os.Exit(1)
	}
}

// setup loads the config and builds the logger for a subcommand.
func setup(configPath string) (*config.Config, *zap.Logger, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, err
	}
	log, closer, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, log, func() { _ = closer() }, nil
}
