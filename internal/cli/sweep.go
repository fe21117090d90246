package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"quizroom-service/internal/app"
	"quizroom-service/internal/realtime"
)

// NewSweepCmd marks idle rooms inactive once; meant for an external cron against Postgres.
func NewSweepCmd(configPath *string) *cobra.Command {
	var threshold string
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Mark rooms without recent activity inactive",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSweep(cmd.Context(), *configPath, threshold)
		},
	}
	cmd.Flags().StringVar(&threshold, "threshold", "", "inactivity threshold (defaults to rooms.inactivity_threshold)")
	return cmd
}

func runSweep(ctx context.Context, configPath, rawThreshold string) error {
	b, err := openBackend(ctx, configPath)
	if err != nil {
		return err
	}
	defer b.Close()
	if b.pool == nil {
		return fmt.Errorf("sweep needs postgres: in-memory rooms live inside the server process")
	}

	threshold := b.cfg.InactivityThreshold()
	if rawThreshold != "" {
		if threshold, err = parsePositiveDuration(rawThreshold); err != nil {
			return err
		}
	}

	quizzes, err := b.quizzes(ctx)
	if err != nil {
		return err
	}
	hub := realtime.NewHub(realtime.Options{}, nil, b.logger)
	service := app.NewService(b.store(quizzes), hub, b.cfg.Service(), b.logger)
	defer service.Close()

	n, err := service.SweepStaleRooms(ctx, threshold)
	if err != nil {
		return err
	}
	b.logger.Info("sweep finished", zap.Int("rooms", n), zap.Duration("threshold", threshold))
	return nil
}

func parsePositiveDuration(raw string) (time.Duration, error) {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid duration %q", raw)
	}
	return d, nil
}
