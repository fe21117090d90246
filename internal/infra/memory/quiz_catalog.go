package memory

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"quizroom-service/internal/domain"
)

// StaticQuizLoader is a loader backed by an in-memory map (fixtures, demos, quiz files).
type StaticQuizLoader struct {
	quizzes map[string]domain.Quiz
}

func NewStaticQuizLoader(quizzes map[string]domain.Quiz) *StaticQuizLoader {
	return &StaticQuizLoader{quizzes: quizzes}
}

func (l *StaticQuizLoader) LoadQuiz(_ context.Context, quizID string) (domain.Quiz, error) {
	if quiz, ok := l.quizzes[quizID]; ok {
		return quiz, nil
	}
	return domain.Quiz{}, domain.ErrQuizNotFound
}

type quizFile struct {
	Quizzes []domain.Quiz `yaml:"quizzes"`
}

// LoadQuizFile reads quizzes from a YAML document of the form
// `quizzes: [{id, title, questions: [{id, prompt, options: [{id, text, correct}]}]}]`.
func LoadQuizFile(path string) (map[string]domain.Quiz, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc quizFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse quiz file %s: %w", path, err)
	}
	out := make(map[string]domain.Quiz, len(doc.Quizzes))
	for _, quiz := range doc.Quizzes {
		if err := validateQuiz(quiz); err != nil {
			return nil, fmt.Errorf("quiz %q: %w", quiz.ID, err)
		}
		out[quiz.ID] = quiz
	}
	return out, nil
}

func validateQuiz(quiz domain.Quiz) error {
	if quiz.ID == "" {
		return fmt.Errorf("missing id")
	}
	for _, q := range quiz.Questions {
		correct := 0
		for _, opt := range q.Options {
			if opt.Correct {
				correct++
			}
		}
		if correct != 1 {
			return fmt.Errorf("question %q must have exactly one correct option, has %d", q.ID, correct)
		}
	}
	return nil
}

// SampleQuizzes is the built-in content used when no quiz file or database is configured.
func SampleQuizzes() map[string]domain.Quiz {
	return map[string]domain.Quiz{
		"civics-101": {
			ID:    "civics-101",
			Title: "Civics warm-up",
			Questions: []domain.Question{
				{
					ID:     "q1",
					Prompt: "How many branches of government does the U.S. Constitution establish?",
					Options: []domain.Option{
						{ID: "a", Text: "Two"},
						{ID: "b", Text: "Three", Correct: true},
						{ID: "c", Text: "Four"},
					},
				},
				{
					ID:     "q2",
					Prompt: "How many amendments make up the Bill of Rights?",
					Options: []domain.Option{
						{ID: "a", Text: "10", Correct: true},
						{ID: "b", Text: "12"},
						{ID: "c", Text: "27"},
					},
				},
				{
					ID:     "q3",
					Prompt: "How long is a U.S. Senator's term?",
					Options: []domain.Option{
						{ID: "a", Text: "2 years"},
						{ID: "b", Text: "4 years"},
						{ID: "c", Text: "6 years", Correct: true},
					},
				},
			},
		},
	}
}
