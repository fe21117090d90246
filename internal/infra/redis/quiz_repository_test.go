package redis

import (
	"context"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quizroom-service/internal/domain"
	"quizroom-service/internal/infra/memory"
)

func TestQuizRepositoryCachesInRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := newClient(mr)

	loader := &countingLoader{QuizLoader: memory.NewStaticQuizLoader(map[string]domain.Quiz{"quiz-1": sampleQuiz()})}
	repo := NewQuizRepository(client, loader, time.Minute)

	quiz, err := repo.GetQuiz(context.Background(), "quiz-1")
	require.NoError(t, err)
	assert.Equal(t, 1, loader.count())
	assert.True(t, mr.Exists("quiz:quiz-1"))

	// a second repository simulates another instance sharing the cache
	other := NewQuizRepository(client, loader, time.Minute)
	cached, err := other.GetQuiz(context.Background(), "quiz-1")
	require.NoError(t, err)
	assert.Equal(t, 1, loader.count())
	assert.Equal(t, quiz, cached, "order and option text survive the cache")

	require.NoError(t, repo.Invalidate(context.Background(), "quiz-1"))
	_, err = repo.GetQuiz(context.Background(), "quiz-1")
	require.NoError(t, err)
	assert.Equal(t, 2, loader.count())
}

func TestQuizRepositoryExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	loader := &countingLoader{QuizLoader: memory.NewStaticQuizLoader(map[string]domain.Quiz{"quiz-1": sampleQuiz()})}
	repo := NewQuizRepository(newClient(mr), loader, time.Minute)

	_, err := repo.GetQuiz(context.Background(), "quiz-1")
	require.NoError(t, err)
	mr.FastForward(2 * time.Minute)
	_, err = repo.GetQuiz(context.Background(), "quiz-1")
	require.NoError(t, err)
	assert.Equal(t, 2, loader.count())
}

func TestQuizRepositoryMissingQuiz(t *testing.T) {
	mr := miniredis.RunT(t)
	repo := NewQuizRepository(newClient(mr), memory.NewStaticQuizLoader(nil), time.Minute)
	_, err := repo.GetQuiz(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrQuizNotFound)
	assert.False(t, mr.Exists("quiz:nope"))
}

type countingLoader struct {
	memory.QuizLoader
	mu    sync.Mutex
	calls int
}

func (l *countingLoader) LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	l.mu.Lock()
	l.calls++
	l.mu.Unlock()
	return l.QuizLoader.LoadQuiz(ctx, quizID)
}

func (l *countingLoader) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

func sampleQuiz() domain.Quiz {
	return domain.Quiz{
		ID:    "quiz-1",
		Title: "Arithmetic",
		Questions: []domain.Question{
			{
				ID:     "q1",
				Prompt: "What is 2 + 2?",
				Options: []domain.Option{
					{ID: "o1", Text: "3"},
					{ID: "o2", Text: "4", Correct: true},
				},
			},
			{
				ID:     "q0",
				Prompt: "What is 1 + 0?",
				Options: []domain.Option{
					{ID: "o1", Text: "1", Correct: true},
					{ID: "o2", Text: "0"},
				},
			},
		},
	}
}

func newClient(mr *miniredis.Miniredis) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}
