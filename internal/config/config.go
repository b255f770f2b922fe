package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/xxxsen/common/logger"
)

type Config struct {
	Port            int                  `json:"port"`
	SessionSecret   string               `json:"session_secret"`
	SessionTTLHours int                  `json:"session_ttl_hours"`
	MaxSessions     int                  `json:"max_sessions"`
	RateLimitMillis int                  `json:"rate_limit_millis"`
	CORSAllowlist   []string             `json:"cors_allowlist"`
	LogConfig       logger.LogConfig     `json:"log_config"`
	Database        DatabaseConfig       `json:"database"`
	FileStore       FileStoreConfig      `json:"file_store"`
	AI              AIConfig             `json:"ai"`
	Ingest          IngestConfig         `json:"ingest"`
	Retrieval       RetrievalConfig      `json:"retrieval"`
	EmbeddingCache  EmbeddingCacheConfig `json:"embedding_cache"`
	Jobs            JobsConfig           `json:"jobs"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"dbname"`
	SSLMode  string `json:"sslmode"`
}

type FileStoreConfig struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type ProviderConfig struct {
	Name     string                 `json:"name"`
	Provider string                 `json:"provider"`
	Model    string                 `json:"model"`
	Data     map[string]interface{} `json:"data"`
}

type AIConfig struct {
	Generators    []ProviderConfig `json:"generators"`
	Embedders     []ProviderConfig `json:"embedders"`
	Timeout       int              `json:"timeout"`
	MaxInputChars int              `json:"max_input_chars"`
	SummarizeCode bool             `json:"summarize_code"`
}

type IngestConfig struct {
	MaxUploadBytes   int64 `json:"max_upload_bytes"`
	MaxDownloadBytes int64 `json:"max_download_bytes"`
	HTTPTimeout      int   `json:"http_timeout"`
	WebsiteMaxLinks  int   `json:"website_max_links"`
	ChunkSize        int   `json:"chunk_size"`
	ChunkOverlap     int   `json:"chunk_overlap"`
}

type RetrievalConfig struct {
	TopK            int `json:"top_k"`
	HistoryMessages int `json:"history_messages"`
	MaxSnippetChars int `json:"max_snippet_chars"`
}

type EmbeddingCacheConfig struct {
	LRUSize       int  `json:"lru_size"`
	LRUTTLMinutes int  `json:"lru_ttl_minutes"`
	DBEnabled     bool `json:"db_enabled"`
	MaxAgeDays    int  `json:"max_age_days"`
}

type JobsConfig struct {
	EmbeddingCacheCleanup string `json:"embedding_cache_cleanup"`
	CollectionCleanup     string `json:"collection_cleanup"`
}

var envAPIKeys = map[string]string{
	"groq":       "GROQ_API_KEY",
	"gemini":     "GOOGLE_API_KEY",
	"openai":     "OPENAI_API_KEY",
	"openrouter": "OPENROUTER_API_KEY",
}

var ErrMissingAPIKeys = errors.New("missing api keys, check your .env file")

// Load reads the json config at path (optional) and applies .env / environment overrides.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()
	cfg := Default()
	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()
		if err := json.NewDecoder(file).Decode(cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	}
	applyProviderDefaults(cfg)
	applyEnv(cfg)
	if err := normalize(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Default() *Config {
	return &Config{
		Port:            8080,
		SessionTTLHours: 24,
		MaxSessions:     1024,
		RateLimitMillis: 500,
		FileStore: FileStoreConfig{
			Type: "local",
			Data: map[string]interface{}{"dir": os.TempDir() + "/kbassist"},
		},
		AI: AIConfig{
			Timeout: 60,
		},
		Ingest: IngestConfig{
			WebsiteMaxLinks: 10,
			ChunkSize:       1000,
			ChunkOverlap:    200,
		},
		Retrieval: RetrievalConfig{
			TopK:            5,
			HistoryMessages: 10,
		},
		EmbeddingCache: EmbeddingCacheConfig{
			LRUSize:       4096,
			LRUTTLMinutes: 120,
			DBEnabled:     true,
			MaxAgeDays:    30,
		},
		Jobs: JobsConfig{
			EmbeddingCacheCleanup: "0 3 * * *",
			CollectionCleanup:     "*/30 * * * *",
		},
	}
}

// applyProviderDefaults mirrors the stock setup: groq llama3 for answers, gemini for embeddings.
func applyProviderDefaults(cfg *Config) {
	if len(cfg.AI.Generators) == 0 {
		cfg.AI.Generators = []ProviderConfig{{
			Provider: "groq",
			Model:    "llama3-70b-8192",
			Data:     map[string]interface{}{"max_tokens": 5000},
		}}
	}
	if len(cfg.AI.Embedders) == 0 {
		cfg.AI.Embedders = []ProviderConfig{{Provider: "gemini", Model: "text-embedding-004"}}
	}
}

func applyEnv(cfg *Config) {
	if dsn := strings.TrimSpace(os.Getenv("DATABASE_URL")); dsn != "" {
		cfg.Database.DSN = dsn
	}
	if secret := strings.TrimSpace(os.Getenv("KBASSIST_SESSION_SECRET")); secret != "" {
		cfg.SessionSecret = secret
	}
	if port, err := strconv.Atoi(os.Getenv("KBASSIST_PORT")); err == nil && port > 0 {
		cfg.Port = port
	}
	inject := func(items []ProviderConfig) {
		for i := range items {
			env := envAPIKeys[strings.ToLower(strings.TrimSpace(items[i].Provider))]
			if env == "" {
				continue
			}
			if items[i].Data == nil {
				items[i].Data = map[string]interface{}{}
			}
			if key, _ := items[i].Data["api_key"].(string); strings.TrimSpace(key) != "" {
				continue
			}
			if value := strings.TrimSpace(os.Getenv(env)); value != "" {
				items[i].Data["api_key"] = value
			}
		}
	}
	inject(cfg.AI.Generators)
	inject(cfg.AI.Embedders)
}

func normalize(cfg *Config) error {
	if cfg.Port <= 0 {
		return fmt.Errorf("port is required")
	}
	if cfg.SessionSecret == "" {
		return fmt.Errorf("session_secret is required")
	}
	if cfg.Database.DSN == "" && cfg.Database.Host == "" {
		return fmt.Errorf("database.dsn or database.host is required")
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.SessionTTLHours <= 0 {
		cfg.SessionTTLHours = 24
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 1024
	}
	if cfg.LogConfig.Level == "" {
		cfg.LogConfig.Level = "info"
	}
	if cfg.FileStore.Type == "" {
		cfg.FileStore.Type = "local"
	}
	for _, items := range [][]ProviderConfig{cfg.AI.Generators, cfg.AI.Embedders} {
		for _, item := range items {
			if strings.TrimSpace(item.Provider) == "" || strings.TrimSpace(item.Model) == "" {
				return fmt.Errorf("ai provider and model are required")
			}
			if key, _ := item.Data["api_key"].(string); strings.TrimSpace(key) == "" {
				return fmt.Errorf("%w: %s", ErrMissingAPIKeys, item.Provider)
			}
		}
	}
	if cfg.AI.Timeout <= 0 {
		cfg.AI.Timeout = 60
	}
	if cfg.Ingest.MaxUploadBytes <= 0 {
		cfg.Ingest.MaxUploadBytes = 20 * 1024 * 1024
	}
	if cfg.Ingest.MaxDownloadBytes <= 0 {
		cfg.Ingest.MaxDownloadBytes = 50 * 1024 * 1024
	}
	if cfg.Ingest.HTTPTimeout <= 0 {
		cfg.Ingest.HTTPTimeout = 30
	}
	if cfg.Ingest.WebsiteMaxLinks <= 0 {
		cfg.Ingest.WebsiteMaxLinks = 10
	}
	if cfg.Ingest.ChunkSize <= 0 {
		cfg.Ingest.ChunkSize = 1000
	}
	if cfg.Ingest.ChunkOverlap < 0 || cfg.Ingest.ChunkOverlap >= cfg.Ingest.ChunkSize {
		cfg.Ingest.ChunkOverlap = cfg.Ingest.ChunkSize / 5
	}
	if cfg.Retrieval.TopK <= 0 {
		cfg.Retrieval.TopK = 5
	}
	if cfg.Retrieval.HistoryMessages < 0 {
		cfg.Retrieval.HistoryMessages = 0
	}
	if cfg.Retrieval.MaxSnippetChars <= 0 {
		cfg.Retrieval.MaxSnippetChars = 1500
	}
	return nil
}
