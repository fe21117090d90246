package config

import (
	"os"
	"time"

	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"quizroom-service/internal/app"
	"quizroom-service/internal/reconcile"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Quiz struct {
		TTL  string `yaml:"ttl"`
		File string `yaml:"file"`
	} `yaml:"quiz"`
	Game struct {
		Countdown              string `yaml:"countdown"`
		QuestionTimeout        string `yaml:"question_timeout"`
		Reveal                 string `yaml:"reveal"`
		InterQuestionCountdown *bool  `yaml:"inter_question_countdown"`
		MinPlayers             int    `yaml:"min_players"`
		PointsPerCorrect       int    `yaml:"points_per_correct"`
		DefaultCapacity        int    `yaml:"default_capacity"`
		MaxCapacity            int    `yaml:"max_capacity"`
	} `yaml:"game"`
	Rooms struct {
		InactivityThreshold string `yaml:"inactivity_threshold"`
		SweepSchedule       string `yaml:"sweep_schedule"`
	} `yaml:"rooms"`
	Chat struct {
		Rate         float64 `yaml:"rate"`
		Burst        int     `yaml:"burst"`
		ReplayBuffer int     `yaml:"replay_buffer"`
		MaxLength    int     `yaml:"max_length"`
	} `yaml:"chat"`
	Sync struct {
		PollInterval   string `yaml:"poll_interval"`
		MaxFailures    int    `yaml:"max_failures"`
		ResyncInterval string `yaml:"resync_interval"`
	} `yaml:"sync"`
	Log struct {
		Level       string `yaml:"level"`
		Development bool   `yaml:"development"`
	} `yaml:"log"`
}

// Load reads YAML config from path.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}

func positive(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

// Service overlays the configured game and chat settings on app.DefaultConfig.
func (c Config) Service() app.Config {
	out := app.DefaultConfig()
	t := &out.Rules.Timing
	t.Countdown = TTLDuration(c.Game.Countdown, t.Countdown)
	t.QuestionTimeout = TTLDuration(c.Game.QuestionTimeout, t.QuestionTimeout)
	t.Reveal = TTLDuration(c.Game.Reveal, t.Reveal)
	if c.Game.InterQuestionCountdown != nil {
		out.Rules.InterQuestionCountdown = *c.Game.InterQuestionCountdown
	}
	if c.Game.MinPlayers > 0 {
		out.Rules.MinPlayers = c.Game.MinPlayers
	}
	out.Rules.PointsPerCorrect = positive(c.Game.PointsPerCorrect, out.Rules.PointsPerCorrect)
	out.DefaultCapacity = positive(c.Game.DefaultCapacity, out.DefaultCapacity)
	out.MaxCapacity = positive(c.Game.MaxCapacity, out.MaxCapacity)
	out.ResyncInterval = TTLDuration(c.Sync.ResyncInterval, out.ResyncInterval)
	if c.Chat.Rate > 0 {
		out.ChatRate = rate.Limit(c.Chat.Rate)
	}
	out.ChatBurst = positive(c.Chat.Burst, out.ChatBurst)
	out.ChatMaxLength = positive(c.Chat.MaxLength, out.ChatMaxLength)
	return out
}

// Syncer returns the client reconciliation settings.
func (c Config) Syncer() reconcile.SyncerConfig {
	out := reconcile.DefaultSyncerConfig()
	out.PollInterval = TTLDuration(c.Sync.PollInterval, out.PollInterval)
	out.MaxFailures = positive(c.Sync.MaxFailures, out.MaxFailures)
	return out
}

// InactivityThreshold is how long a room may sit idle before the sweep reclaims it.
func (c Config) InactivityThreshold() time.Duration {
	return TTLDuration(c.Rooms.InactivityThreshold, 30*time.Minute)
}

// ReplayBuffer is the number of chat messages kept per room for reconnecting clients.
func (c Config) ReplayBuffer() int {
	return positive(c.Chat.ReplayBuffer, 100)
}
