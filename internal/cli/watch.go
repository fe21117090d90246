package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"quizroom-service/internal/config"
	"quizroom-service/internal/domain"
	"quizroom-service/internal/infra/memory"
	redisinfra "quizroom-service/internal/infra/redis"
	"quizroom-service/internal/reconcile"
	transport "quizroom-service/internal/transport/http"
)

type watchOptions struct {
	server string
	room   string
	player string
}

// NewWatchCmd runs a terminal client: it follows a room over the websocket, keeps a
// reconciled local view with polling as fallback, and reads answers and chat from stdin.
func NewWatchCmd(configPath *string) *cobra.Command {
	opts := watchOptions{}
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow a room as a player from the terminal",
		Long: "Follow a room as a player. Type `answer <option>` to answer the open question " +
			"or `say <text>` to chat.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd.Context(), *configPath, opts, os.Stdin)
		},
	}
	cmd.Flags().StringVar(&opts.server, "server", "http://localhost:8080", "quizroom server base url")
	cmd.Flags().StringVar(&opts.room, "room", "", "room id")
	cmd.Flags().StringVar(&opts.player, "player", "", "player id (must already be seated)")
	_ = cmd.MarkFlagRequired("room")
	_ = cmd.MarkFlagRequired("player")
	return cmd
}

func runWatch(ctx context.Context, configPath string, opts watchOptions, in io.Reader) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	logger = logger.With(zap.String("room_id", opts.room), zap.String("player_id", opts.player))

	var store reconcile.ProgressStore = memory.NewProgressStore()
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer client.Close()
		store = redisinfra.NewProgressStore(client, config.TTLDuration(cfg.Redis.TTL, 24*time.Hour))
	}
	saver := reconcile.NewProgressSaver(store, time.Second, logger)
	if p, err := saver.Restore(ctx, opts.room, opts.player); err == nil {
		logger.Info("resuming session",
			zap.String("phase", string(p.Phase)),
			zap.Int("question_index", p.QuestionIndex),
			zap.Int64("version", p.Version))
	} else if !errors.Is(err, domain.ErrNotFound) {
		logger.Warn("progress restore failed", zap.Error(err))
	}

	syncer := reconcile.NewSyncer(
		transport.NewSnapshotClient(opts.server, opts.player, nil),
		opts.room, opts.player, cfg.Syncer(), logger,
		reconcile.WithProgressSaver(saver))
	var (
		printMu   sync.Mutex
		lastPhase domain.Phase
		lastIndex = -1
	)
	syncer.OnChange(func(local reconcile.Local) {
		view := reconcile.Derive(local, time.Now())
		printMu.Lock()
		defer printMu.Unlock()
		if view.Phase == lastPhase && view.QuestionIndex == lastIndex {
			return
		}
		lastPhase, lastIndex = view.Phase, view.QuestionIndex
		printView(view)
	})

	stream, err := transport.DialEvents(ctx, opts.server, opts.room, opts.player, 0)
	if err != nil {
		return err
	}
	defer stream.Close()

	pushes := make(chan domain.Snapshot, 8)
	go pumpFrames(ctx, stream, pushes, logger)
	go readCommands(ctx, in, syncer, stream, logger)

	if err := syncer.Run(ctx, pushes); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func pumpFrames(ctx context.Context, stream *transport.EventStream, pushes chan<- domain.Snapshot, logger *zap.Logger) {
	defer close(pushes)
	for {
		frame, err := stream.Next()
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn("event stream closed, falling back to polling", zap.Error(err))
			}
			return
		}
		switch frame.Type {
		case "snapshot":
			var snap domain.Snapshot
			if err := json.Unmarshal(frame.Payload, &snap); err != nil {
				logger.Warn("bad snapshot frame", zap.Error(err))
				continue
			}
			select {
			case pushes <- snap:
			case <-ctx.Done():
				return
			}
		case "message":
			var msg domain.Message
			if err := json.Unmarshal(frame.Payload, &msg); err == nil {
				fmt.Printf("[%s] %s: %s\n", msg.Kind, msg.SenderName, msg.Body)
			}
		case "leaderboard":
			var board []domain.LeaderboardEntry
			if err := json.Unmarshal(frame.Payload, &board); err == nil {
				for _, row := range board {
					fmt.Printf("  #%d %-16s %5d pts  %3.0f%%\n", row.Rank, row.DisplayName, row.Score, row.Accuracy)
				}
			}
		case "answerResult":
			var res struct {
				Recorded bool                    `json:"recorded"`
				Response domain.QuestionResponse `json:"response"`
			}
			if err := json.Unmarshal(frame.Payload, &res); err == nil {
				fmt.Printf("answer %q recorded=%v correct=%v\n", res.Response.Answer, res.Recorded, res.Response.IsCorrect)
			}
		case "error":
			fmt.Printf("error: %s\n", frame.Payload)
		}
	}
}

func readCommands(ctx context.Context, in io.Reader, syncer *reconcile.Syncer, stream *transport.EventStream, logger *zap.Logger) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		verb, arg, _ := strings.Cut(strings.TrimSpace(scanner.Text()), " ")
		switch verb {
		case "answer":
			view := syncer.View()
			if view.Question == nil {
				fmt.Println("no open question")
				continue
			}
			if _, err := syncer.Submit(ctx, view.Question.ID, arg); err != nil {
				fmt.Printf("cannot answer: %v\n", err)
				continue
			}
			var elapsed time.Duration
			if snap := syncer.Local().Snapshot; snap != nil {
				elapsed = snap.Timing.QuestionTimeout - view.Remaining
			}
			if err := stream.SendAnswer(view.Question.ID, arg, elapsed); err != nil {
				logger.Warn("send answer failed", zap.Error(err))
			}
		case "say":
			if err := stream.SendChat(arg); err != nil {
				logger.Warn("send chat failed", zap.Error(err))
			}
		case "":
		default:
			fmt.Println("commands: answer <option> | say <text>")
		}
	}
}

func printView(view reconcile.View) {
	switch view.Phase {
	case domain.PhaseQuestion:
		if view.Question == nil {
			return
		}
		fmt.Printf("\nQ%d: %s (%s left)\n", view.QuestionIndex+1, view.Question.Prompt, view.Remaining.Round(time.Second))
		for _, opt := range view.Question.Options {
			fmt.Printf("  %s) %s\n", opt.ID, opt.Text)
		}
	case domain.PhaseFeedback:
		if view.Question != nil {
			fmt.Printf("correct answer: %s\n", view.Question.Correct)
		}
	default:
		fmt.Printf("phase: %s [%s]\n", view.Phase, view.Status)
	}
}
