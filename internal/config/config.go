package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/xxxsen/common/logger"
	"gopkg.in/yaml.v3"
)

type Config struct {
	EnvFile      string            `json:"env_file"`
	DBPath       string            `json:"db_path"`
	Port         int               `json:"port"`
	LogConfig    logger.LogConfig  `json:"log_config"`
	StagingDir   string            `json:"staging_dir"`
	MaxUploadMB  int64             `json:"max_upload_mb"`
	PDFToText    string            `json:"pdftotext"`
	ChunkSize    int               `json:"chunk_size"`
	ChunkOverlap int               `json:"chunk_overlap"`
	TopK         int               `json:"top_k"`
	AskTimeout   int64             `json:"ask_timeout"`
	VectorStore  VectorStoreConfig `json:"vector_store"`
	Embedding    EmbeddingConfig   `json:"embedding"`
	Generation   GenerationConfig  `json:"generation"`
	FileStore    FileStoreConfig   `json:"file_store"`
	CORS         []string          `json:"cors_allow_origins"`
	AskRateLimit int64             `json:"ask_rate_limit_ms"`
	Jobs         JobsConfig        `json:"jobs"`
}

type VectorStoreConfig struct {
	Type string                 `json:"type"`
	Data map[string]interface{} `json:"data"`
}

type EmbeddingConfig struct {
	Provider        string                 `json:"provider"`
	Model           string                 `json:"model"`
	Data            map[string]interface{} `json:"data"`
	RateLimit       float64                `json:"rate_limit"`
	Burst           int                    `json:"burst"`
	CacheSize       int                    `json:"cache_size"`
	CacheTTL        int64                  `json:"cache_ttl"`
	PersistentCache bool                   `json:"persistent_cache"`
}

type GeneratorConfig struct {
	Name     string                 `json:"name"`
	Provider string                 `json:"provider"`
	Model    string                 `json:"model"`
	Data     map[string]interface{} `json:"data"`
}

type GenerationConfig struct {
	Items     []GeneratorConfig `json:"items"`
	RateLimit float64           `json:"rate_limit"`
	Burst     int               `json:"burst"`
}

type FileStoreConfig struct {
	Type string                 `json:"type"`
	Data map[string]interface{} `json:"data"`
}

type JobsConfig struct {
	StagingCleanupCron     string `json:"staging_cleanup_cron"`
	StagingMaxAge          int64  `json:"staging_max_age"`
	EmbeddingCacheCron     string `json:"embedding_cache_cleanup_cron"`
	EmbeddingCacheKeepDays int    `json:"embedding_cache_keep_days"`
}

const (
	DefaultVectorStoreDir = "./chroma_db"
	DefaultEmbedModel     = "text-embedding-004"
	DefaultGenerateModel  = "gemini-2.5-flash"
)

// providerEnvKeys maps provider names to the environment variable holding
// their api key.
var providerEnvKeys = map[string]string{
	"gemini":     "GOOGLE_API_KEY",
	"openai":     "OPENAI_API_KEY",
	"openrouter": "OPENROUTER_API_KEY",
}

// Load reads a json or yaml config file. Yaml is decoded into a generic
// document and normalized through json so one set of tags serves both.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var doc map[string]interface{}
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
		if raw, err = json.Marshal(doc); err != nil {
			return nil, fmt.Errorf("normalize config: %w", err)
		}
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.EnvFile != "" {
		envFile := cfg.EnvFile
		if !filepath.IsAbs(envFile) {
			envFile = filepath.Join(filepath.Dir(path), envFile)
		}
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("load env file: %w", err)
		}
	}
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) applyDefaults() error {
	if cfg.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}
	if cfg.LogConfig.Level == "" {
		cfg.LogConfig.Level = "info"
	}
	if cfg.Port == 0 {
		cfg.Port = 8000
	}
	if cfg.StagingDir == "" {
		cfg.StagingDir = filepath.Join(os.TempDir(), "pdfqa-staging")
	}
	if cfg.MaxUploadMB <= 0 {
		cfg.MaxUploadMB = 50
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = 1000
	}
	if cfg.ChunkOverlap == 0 {
		cfg.ChunkOverlap = 200
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.AskTimeout <= 0 {
		cfg.AskTimeout = 60
	}
	if cfg.VectorStore.Type == "" {
		cfg.VectorStore.Type = "badger"
	}
	if cfg.VectorStore.Data == nil {
		cfg.VectorStore.Data = map[string]interface{}{}
	}
	if cfg.VectorStore.Type == "badger" {
		if dir, _ := cfg.VectorStore.Data["dir"].(string); dir == "" {
			cfg.VectorStore.Data["dir"] = DefaultVectorStoreDir
		}
	}

	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "gemini"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = DefaultEmbedModel
	}
	cfg.Embedding.Data = withEnvKey(cfg.Embedding.Provider, cfg.Embedding.Data)
	if len(cfg.Generation.Items) == 0 {
		cfg.Generation.Items = []GeneratorConfig{{Provider: "gemini", Model: DefaultGenerateModel}}
	}
	for i := range cfg.Generation.Items {
		item := &cfg.Generation.Items[i]
		if item.Provider == "" {
			return fmt.Errorf("generation.items[%d].provider is required", i)
		}
		if item.Model == "" {
			return fmt.Errorf("generation.items[%d].model is required", i)
		}
		if item.Name == "" {
			item.Name = item.Provider + "/" + item.Model
		}
		item.Data = withEnvKey(item.Provider, item.Data)
	}

	if cfg.FileStore.Type == "" {
		cfg.FileStore.Type = "local"
	}
	switch cfg.FileStore.Type {
	case "local":
		if cfg.FileStore.Data == nil {
			cfg.FileStore.Data = map[string]interface{}{}
		}
		if dir, _ := cfg.FileStore.Data["dir"].(string); dir == "" {
			cfg.FileStore.Data["dir"] = "./documents"
		}
	case "s3":
		if cfg.FileStore.Data == nil {
			return fmt.Errorf("file_store.data is required for s3 store")
		}
	default:
		return fmt.Errorf("file_store.type must be local or s3")
	}

	if cfg.Jobs.StagingCleanupCron == "" {
		cfg.Jobs.StagingCleanupCron = "*/30 * * * *"
	}
	if cfg.Jobs.StagingMaxAge <= 0 {
		cfg.Jobs.StagingMaxAge = 3600
	}
	if cfg.Jobs.EmbeddingCacheCron == "" {
		cfg.Jobs.EmbeddingCacheCron = "0 3 * * *"
	}
	if cfg.Jobs.EmbeddingCacheKeepDays <= 0 {
		cfg.Jobs.EmbeddingCacheKeepDays = 30
	}
	return nil
}

// withEnvKey fills an empty api_key from the provider's environment variable.
func withEnvKey(provider string, data map[string]interface{}) map[string]interface{} {
	env, ok := providerEnvKeys[strings.ToLower(provider)]
	if !ok {
		return data
	}
	if data == nil {
		data = map[string]interface{}{}
	}
	if key, _ := data["api_key"].(string); key == "" {
		if v := os.Getenv(env); v != "" {
			data["api_key"] = v
		}
	}
	return data
}
