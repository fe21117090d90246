package app_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"quizroom-service/internal/app"
	"quizroom-service/internal/domain"
	"quizroom-service/internal/infra/memory"
	"quizroom-service/internal/realtime"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// fakeClock fires timers only from Advance, on the calling goroutine.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) app.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	pending := !t.stopped && !t.fired
	t.stopped = true
	return pending
}

// Advance moves time forward, firing due timers in deadline order, including timers
// scheduled by callbacks that fall inside the window.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()
	for {
		c.mu.Lock()
		var next *fakeTimer
		for _, t := range c.timers {
			if t.stopped || t.fired || t.at.After(target) {
				continue
			}
			if next == nil || t.at.Before(next.at) {
				next = t
			}
		}
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		if next.at.After(c.now) {
			c.now = next.at
		}
		next.fired = true
		c.mu.Unlock()
		next.f()
	}
}

type harness struct {
	t     *testing.T
	svc   *app.Service
	store *memory.Store
	hub   *realtime.Hub
	clock *fakeClock
	ctx   context.Context
}

type harnessSettings struct {
	cfg   app.Config
	opts  []app.Option
	store func(app.Store) app.Store
}

type harnessOption func(*harnessSettings)

func withConfig(fn func(*app.Config)) harnessOption {
	return func(hs *harnessSettings) { fn(&hs.cfg) }
}

func withServiceOption(opt app.Option) harnessOption {
	return func(hs *harnessSettings) { hs.opts = append(hs.opts, opt) }
}

// withStore lets a test decorate the repositories the service sees.
func withStore(wrap func(app.Store) app.Store) harnessOption {
	return func(hs *harnessSettings) { hs.store = wrap }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	clock := newFakeClock(t0)
	store := memory.NewStore()
	quizzes := memory.NewQuizRepository(memory.NewStaticQuizLoader(map[string]domain.Quiz{"quiz-1": testQuiz()}), time.Hour)
	hub := realtime.NewHub(realtime.Options{SubscriberBuffer: 512, ReplayBuffer: 50}, nil, zaptest.NewLogger(t))

	cfg := app.DefaultConfig()
	cfg.Rules.Timing = domain.Timing{Countdown: 5 * time.Second, QuestionTimeout: 20 * time.Second, Reveal: 4 * time.Second}
	cfg.ResyncInterval = 0

	var ids int64
	hs := harnessSettings{
		cfg: cfg,
		opts: []app.Option{
			app.WithClock(clock),
			app.WithCodeGenerator(func() string { return "abcd1234" }),
			app.WithIDGenerator(func() string { return fmt.Sprintf("R%d", atomic.AddInt64(&ids, 1)) }),
		},
	}
	for _, opt := range opts {
		opt(&hs)
	}

	repos := store.Repositories(quizzes)
	if hs.store != nil {
		repos = hs.store(repos)
	}
	svc := app.NewService(repos, hub, hs.cfg, zaptest.NewLogger(t), hs.opts...)
	t.Cleanup(svc.Close)
	return &harness{t: t, svc: svc, store: store, hub: hub, clock: clock, ctx: context.Background()}
}

func testQuiz() domain.Quiz {
	return domain.Quiz{
		ID:    "quiz-1",
		Title: "Capitals",
		Questions: []domain.Question{
			{
				ID:     "q1",
				Prompt: "Capital of France?",
				Options: []domain.Option{
					{ID: "a", Text: "Paris", Correct: true},
					{ID: "b", Text: "Lyon"},
					{ID: "c", Text: "Nice"},
				},
			},
			{
				ID:     "q2",
				Prompt: "Capital of Italy?",
				Options: []domain.Option{
					{ID: "a", Text: "Milan"},
					{ID: "b", Text: "Rome", Correct: true},
				},
			},
		},
	}
}

// room creates R1 (code ABCD1234) hosted by A and seats the extra players.
func (h *harness) room(capacity int, others ...string) domain.Room {
	h.t.Helper()
	room, err := h.svc.CreateRoom(h.ctx, app.CreateRoomRequest{
		Host:     app.PlayerInfo{ID: "A", DisplayName: "Alice"},
		Capacity: capacity,
		QuizID:   "quiz-1",
	})
	require.NoError(h.t, err)
	for i, id := range others {
		h.clock.Advance(time.Millisecond * time.Duration(i+1))
		_, _, err := h.svc.JoinRoom(h.ctx, room.Code, app.PlayerInfo{ID: id, DisplayName: id})
		require.NoError(h.t, err)
	}
	return room
}

func (h *harness) state(roomID string) domain.GameState {
	h.t.Helper()
	snap, err := h.svc.Snapshot(h.ctx, roomID)
	require.NoError(h.t, err)
	return snap.State
}

func (h *harness) answer(roomID, playerID, questionID, option string) (app.SubmitResult, error) {
	return h.svc.SubmitAnswer(h.ctx, app.Submission{RoomID: roomID, PlayerID: playerID, QuestionID: questionID, Answer: option})
}

// flakyStates fails the next conflicts compare-and-swap calls once armed.
type flakyStates struct {
	app.StateRepository
	mu        sync.Mutex
	conflicts int
}

func (f *flakyStates) arm(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conflicts = n
}

func (f *flakyStates) CompareAndSwap(ctx context.Context, expectedVersion int64, next domain.GameState) error {
	f.mu.Lock()
	if f.conflicts > 0 {
		f.conflicts--
		f.mu.Unlock()
		return domain.ErrStateConflict
	}
	f.mu.Unlock()
	return f.StateRepository.CompareAndSwap(ctx, expectedVersion, next)
}
