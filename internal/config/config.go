// Package config loads process settings from the environment, after an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

var ErrInvalidConfig = errors.New("invalid config")

// Collector holds the settings of the trajectory collector.
type Collector struct {
	GroupSize            int
	MaxTokenLength       int
	Temperature          float64
	TopP                 float64
	MaxTurns             int
	ThinkingActive       bool
	MaxThinkCharsHistory int
	MaxTrajectoryTokens  int
	EvalEpisodes         int
}

type Inference struct {
	ModelName          string
	BaseURL            string
	APIKey             string
	TokenizerURL       string
	Timeout            time.Duration
	NumRequestsForEval int
	MaxNumWorkers      int
}

type Worker struct {
	WorkerID      string
	BufferURL     string
	BatchEpisodes int
	StepsPerEval  int
	Backoff       time.Duration
	Seed          int64
}

type Buffer struct {
	Port     string
	Capacity int
	Policy   string
	Backend  string
	RedisURL string
	RedisKey string
}

type Config struct {
	Collector   Collector
	Inference   Inference
	Worker      Worker
	Buffer      Buffer
	DatabaseDSN string
	DebugMode   bool
	LogPath     string
}

// Load reads .env (when present) and the environment. Unparseable values fall
// back to their defaults.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	cfg := FromEnv()
	return cfg, cfg.Validate()
}

func FromEnv() Config {
	return Config{
		Collector: Collector{
			GroupSize:            getenvInt("GROUP_SIZE", 16),
			MaxTokenLength:       getenvInt("MAX_TOKEN_LENGTH", 16384),
			Temperature:          getenvFloat("TEMPERATURE", 0.7),
			TopP:                 getenvFloat("TOP_P", 0.9),
			MaxTurns:             getenvInt("MAX_TURNS", 5),
			ThinkingActive:       getenvBool("THINKING_ACTIVE", true),
			MaxThinkCharsHistory: getenvInt("MAX_THINK_CHARS_HISTORY", 3000),
			MaxTrajectoryTokens:  getenvInt("MAX_TRAJECTORY_TOKENS", 24576),
			EvalEpisodes:         getenvInt("EVAL_EPISODES", 100),
		},
		Inference: Inference{
			ModelName:          getenv("MODEL_NAME", "NousResearch/DeepHermes-3-Llama-3-8B-Preview"),
			BaseURL:            getenv("INFERENCE_URL", "http://localhost:9004/v1"),
			APIKey:             getenv("API_KEY", "x"),
			TokenizerURL:       getenv("TOKENIZER_URL", "http://localhost:9004"),
			Timeout:            time.Duration(getenvInt("INFERENCE_TIMEOUT_SEC", 600)) * time.Second,
			NumRequestsForEval: getenvInt("NUM_REQUESTS_FOR_EVAL", 256),
			MaxNumWorkers:      getenvInt("MAX_NUM_WORKERS", 128),
		},
		Worker: Worker{
			WorkerID:      getenv("WORKER_ID", ""),
			BufferURL:     getenv("BUFFER_URL", "http://localhost:9001"),
			BatchEpisodes: getenvInt("BATCH_EPISODES", 8),
			StepsPerEval:  getenvInt("STEPS_PER_EVAL", 20),
			Backoff:       time.Duration(getenvInt("BACKOFF_MS", 500)) * time.Millisecond,
			Seed:          getenvInt64("SEED", time.Now().UnixNano()),
		},
		Buffer: Buffer{
			Port:     getenv("PORT", "9001"),
			Capacity: getenvInt("BUFFER_CAPACITY", 2048),
			Policy:   getenv("BUFFER_POLICY", "fifo"),
			Backend:  getenv("BUFFER_BACKEND", "memory"),
			RedisURL: getenv("REDIS_URL", "redis://localhost:6379/0"),
			RedisKey: getenv("REDIS_KEY", "blackjack:trajectories"),
		},
		DatabaseDSN: getenv("DATABASE_DSN", ""),
		DebugMode:   getenvBool("DEBUG_MODE", false),
		LogPath:     getenv("LOG_PATH", ""),
	}
}

func (c Config) Validate() error {
	var problems []string
	col := c.Collector
	if col.GroupSize <= 0 {
		problems = append(problems, "GROUP_SIZE must be positive")
	}
	if col.MaxTurns <= 0 {
		problems = append(problems, "MAX_TURNS must be positive")
	}
	if col.MaxTokenLength <= 0 || col.MaxTrajectoryTokens <= 0 {
		problems = append(problems, "token limits must be positive")
	}
	if col.MaxThinkCharsHistory <= 0 {
		problems = append(problems, "MAX_THINK_CHARS_HISTORY must be positive")
	}
	if col.Temperature < 0 {
		problems = append(problems, "TEMPERATURE must not be negative")
	}
	if col.TopP <= 0 || col.TopP > 1 {
		problems = append(problems, "TOP_P must be in (0, 1]")
	}
	if c.Inference.MaxNumWorkers <= 0 || c.Inference.NumRequestsForEval <= 0 {
		problems = append(problems, "request limits must be positive")
	}
	if c.Worker.BatchEpisodes <= 0 {
		problems = append(problems, "BATCH_EPISODES must be positive")
	}
	if c.Buffer.Capacity <= 0 {
		problems = append(problems, "BUFFER_CAPACITY must be positive")
	}
	if c.Buffer.Backend != "memory" && c.Buffer.Backend != "redis" {
		problems = append(problems, "BUFFER_BACKEND must be memory or redis")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvInt64(key string, fallback int64) int64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
