package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// DefaultPath is where Load looks when no path is given.
const DefaultPath = "config.yaml"

// Providers for embedding and generation backends.
const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

// Config represents configuration loaded from YAML with environment
// overrides.
type Config struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"logLevel"`

	CorpusDir   string `yaml:"corpusDir"`
	CorpusName  string `yaml:"corpusName"`
	WatchCorpus bool   `yaml:"watchCorpus"`
	StaticDir   string `yaml:"staticDir"`

	DatabaseURL string `yaml:"databaseURL"`

	Provider        string `yaml:"provider"`
	OllamaBaseURL   string `yaml:"ollamaBaseURL"`
	OpenAIAPIKey    string `yaml:"openaiAPIKey"`
	OpenAIBaseURL   string `yaml:"openaiBaseURL"`
	GenerationModel string `yaml:"generationModel"`
	EmbeddingModel  string `yaml:"embeddingModel"`
	EmbeddingDim    int    `yaml:"embeddingDim"`

	ChunkSize    int `yaml:"chunkSize"`
	ChunkOverlap int `yaml:"chunkOverlap"`

	QueryTopK       int `yaml:"topK"`
	ChatTopK        int `yaml:"chatTopK"`
	HistoryLimit    int `yaml:"historyLimit"`
	MinAnswerLength int `yaml:"minAnswerLength"`

	RetryBaseDelaySeconds int `yaml:"retryBaseDelaySeconds"`
	RequestTimeoutSeconds int `yaml:"requestTimeoutSeconds"`

	Minio MinioConfig `yaml:"minio"`
}

// MinioConfig is the optional object-store corpus source. An empty
// endpoint disables the mirror step.
type MinioConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"useSSL"`
}

// Load reads config from path (defaults to config.yaml). A missing
// default file is fine and yields the built-in defaults; an explicitly
// named file must exist.
func Load(path string) (Config, error) {
	cfg := defaults()
	explicit := path != ""
	if path == "" {
		path = DefaultPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && os.IsNotExist(err) {
			data = nil
		} else {
			return cfg, fmt.Errorf("read config: %w", err)
		}
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}
	applyEnv(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func defaults() Config {
	return Config{
		Port:                  "8000",
		LogLevel:              "info",
		CorpusDir:             "pdfs",
		CorpusName:            "library",
		Provider:              ProviderOllama,
		OllamaBaseURL:         "http://localhost:11434",
		GenerationModel:       "qwen2.5:1.5b",
		EmbeddingModel:        "nomic-embed-text",
		EmbeddingDim:          768,
		ChunkSize:             512,
		ChunkOverlap:          50,
		QueryTopK:             5,
		ChatTopK:              12,
		HistoryLimit:          20,
		MinAnswerLength:       10,
		RetryBaseDelaySeconds: 10,
		RequestTimeoutSeconds: 120,
	}
}

// Override with environment variables
func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("CORPUS_DIR"); v != "" {
		cfg.CorpusDir = v
	}
	if v := os.Getenv("AI_PROVIDER"); v != "" {
		cfg.Provider = v
	}
	if v := os.Getenv("OLLAMA_BASE_URL"); v != "" {
		cfg.OllamaBaseURL = v
	}
	if v := os.Getenv("OLLAMA_MODEL"); v != "" {
		cfg.GenerationModel = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.OpenAIAPIKey = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		cfg.OpenAIBaseURL = v
	}
	if v := os.Getenv("EMBEDDING_MODEL"); v != "" {
		cfg.EmbeddingModel = v
	}
	if v := os.Getenv("EMBEDDING_DIM"); v != "" {
		if dim, err := strconv.Atoi(v); err == nil {
			cfg.EmbeddingDim = dim
		}
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.Minio.Endpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.Minio.AccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.Minio.SecretKey = v
	}
	if v := os.Getenv("MINIO_BUCKET"); v != "" {
		cfg.Minio.Bucket = v
	}
}

func validate(cfg Config) error {
	if cfg.Port == "" {
		return errors.New("config: port is required")
	}
	if cfg.CorpusDir == "" {
		return errors.New("config: corpusDir is required")
	}
	if cfg.CorpusName == "" {
		return errors.New("config: corpusName is required")
	}
	switch cfg.Provider {
	case ProviderOllama:
		if cfg.OllamaBaseURL == "" {
			return errors.New("config: ollamaBaseURL is required for the ollama provider")
		}
	case ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return errors.New("config: openaiAPIKey is required for the openai provider (set OPENAI_API_KEY)")
		}
	default:
		return fmt.Errorf("config: unknown provider %q", cfg.Provider)
	}
	if cfg.GenerationModel == "" {
		return errors.New("config: generationModel is required")
	}
	if cfg.EmbeddingModel == "" {
		return errors.New("config: embeddingModel is required")
	}
	if cfg.EmbeddingDim <= 0 {
		return errors.New("config: embeddingDim must be positive")
	}
	if cfg.ChunkSize <= 0 {
		return errors.New("config: chunkSize must be positive")
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.ChunkSize {
		return errors.New("config: chunkOverlap must be non-negative and smaller than chunkSize")
	}
	if cfg.Minio.Endpoint != "" && cfg.Minio.Bucket == "" {
		return errors.New("config: minio.bucket is required when minio.endpoint is set")
	}
	return nil
}
