package cli

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"quizroom-service/internal/config"
	"quizroom-service/internal/logging"
)

var (
	port       string
	configPath string
)

// Execute runs the CLI.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	envConfig := os.Getenv("CONFIG_PATH")
	if envConfig == "" {
		envConfig = "config/config.yaml"
	}

	cmd := &cobra.Command{
		Use:          "quizroom",
		Short:        "Multiplayer quiz rooms over REST and WebSocket",
		SilenceUsage: true,
	}

	// an empty port defers to server.port in the config file
	cmd.PersistentFlags().StringVar(&port, "port", os.Getenv("PORT"), "port to listen on")
	cmd.PersistentFlags().StringVar(&configPath, "config", envConfig, "path to YAML config")
	cmd.AddCommand(NewStartCmd(&configPath, &port))
	cmd.AddCommand(NewMigrateCmd(&configPath))
	cmd.AddCommand(NewSweepCmd(&configPath))
	cmd.AddCommand(NewWatchCmd(&configPath))
	return cmd
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	return logging.New(cfg.Log.Level, cfg.Log.Development)
}
