package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"quizroom-service/internal/app"
	"quizroom-service/internal/config"
	"quizroom-service/internal/infra/memory"
	pgstore "quizroom-service/internal/infra/postgres"
	redisinfra "quizroom-service/internal/infra/redis"
	"quizroom-service/internal/realtime"
	"quizroom-service/internal/scheduler"
	transport "quizroom-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz room server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

// backend holds the connections shared by the server and the maintenance commands.
type backend struct {
	cfg    config.Config
	logger *zap.Logger
	pool   *pgxpool.Pool
	redis  *redis.Client
}

func openBackend(ctx context.Context, configPath string) (*backend, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}
	b := &backend{cfg: cfg, logger: logger}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg, logger); err != nil {
			return nil, err
		}
		b.pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return nil, err
		}
	}
	if cfg.Redis.Addr != "" {
		b.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}
	return b, nil
}

func (b *backend) Close() {
	if b.pool != nil {
		b.pool.Close()
	}
	if b.redis != nil {
		_ = b.redis.Close()
	}
	_ = b.logger.Sync()
}

// quizzes returns the quiz content source. A configured database is seeded with the
// built-in and file quizzes so a fresh deployment has something to play.
func (b *backend) quizzes(ctx context.Context) (app.QuizRepository, error) {
	content := memory.SampleQuizzes()
	if b.cfg.Quiz.File != "" {
		fromFile, err := memory.LoadQuizFile(b.cfg.Quiz.File)
		if err != nil {
			return nil, err
		}
		for id, quiz := range fromFile {
			content[id] = quiz
		}
	}

	var loader memory.QuizLoader = memory.NewStaticQuizLoader(content)
	if b.pool != nil {
		pgLoader := pgstore.NewQuizLoader(b.pool)
		for _, quiz := range content {
			if err := pgLoader.SaveQuiz(ctx, quiz); err != nil {
				return nil, err
			}
		}
		loader = pgLoader
	}

	quizTTL := config.TTLDuration(b.cfg.Quiz.TTL, 10*time.Minute)
	if b.redis != nil {
		return redisinfra.NewQuizRepository(b.redis, loader, quizTTL), nil
	}
	return memory.NewQuizRepository(loader, quizTTL), nil
}

func (b *backend) store(quizzes app.QuizRepository) app.Store {
	if b.pool != nil {
		return pgstore.NewStore(b.pool).Repositories(quizzes)
	}
	return memory.NewStore().Repositories(quizzes)
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := openBackend(ctx, configPath)
	if err != nil {
		return err
	}
	defer b.Close()
	logger := b.logger

	finalPort := portFlag
	if finalPort == "" {
		finalPort = b.cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	quizzes, err := b.quizzes(ctx)
	if err != nil {
		return err
	}

	var (
		relay    *redisinfra.Relay
		hubRelay realtime.Relay
	)
	if b.redis != nil {
		relay = redisinfra.NewRelay(b.redis, uuid.NewString(), logger)
		hubRelay = relay
	}
	hub := realtime.NewHub(realtime.Options{
		SubscriberBuffer: 64,
		ReplayBuffer:     b.cfg.ReplayBuffer(),
		RelayTimeout:     2 * time.Second,
	}, hubRelay, logger)

	service := app.NewService(b.store(quizzes), hub, b.cfg.Service(), logger)
	defer service.Close()

	server := &http.Server{
		Addr: ":" + finalPort,
		Handler: transport.NewRouter(service, transport.RouterConfig{
			SweepThreshold: b.cfg.InactivityThreshold(),
		}, logger),
		ReadTimeout: 15 * time.Second,
	}

	var sweep *scheduler.SweepJob
	if schedule := b.cfg.Rooms.SweepSchedule; schedule != "" {
		sweep, err = scheduler.NewSweepJob(service, schedule, b.cfg.InactivityThreshold(), logger)
		if err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return service.Run(gctx) })
	if relay != nil {
		g.Go(func() error { return relay.Run(gctx, hub) })
	}
	if sweep != nil {
		g.Go(func() error { return sweep.Run(gctx) })
	}
	g.Go(func() error {
		logger.Info("starting quiz room service",
			zap.String("addr", server.Addr),
			zap.Bool("postgres", b.pool != nil),
			zap.Bool("redis", b.redis != nil))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
