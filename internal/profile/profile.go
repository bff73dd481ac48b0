package profile

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Profile is configuration to start the engine.
type Profile struct {
	// Embedding configuration (OpenAI-compatible protocol).
	// All providers (openai, siliconflow, ollama, dashscope) use the same config.
	EmbeddingProvider   string // Provider identifier: openai, siliconflow, ollama, dashscope
	EmbeddingModel      string // Model name, also recorded per tag entry for migration detection
	EmbeddingAPIKey     string // API key; empty disables semantic features (lexical-only mode)
	EmbeddingBaseURL    string // Base URL (optional, has default per provider)
	EmbeddingDimensions int    // Vector dimension requested from the provider
	EmbeddingTimeout    int    // Request timeout in seconds (default: 30)

	// Tag intelligence tuning.
	SuggestMinSimilarity     float64 // Similarity floor for storage-side tag suggestion (default: 0.7)
	ConsolidateMinSimilarity float64 // Similarity floor for tag consolidation (default: 0.8)
	QueryExpandMinSimilarity float64 // Lower floor used by query-side expansion (default: 0.5)
	MaxTagsPerMemory         int     // Cap applied by smart tag mapping (default: 3)

	// Retrieval tuning.
	MinRelevance      float64 // Default relevance cutoff for search results (default: 0.3)
	RecencyHalfLife   int     // Recency decay half-life in days (default: 30)
	ContentCacheSize  int     // LRU capacity for content embedding cache (default: 512)
	MigrateBatchSize  int     // Tags re-embedded per batch by the migration sentinel (default: 20)
	MigrateBatchDelay int     // Milliseconds between migration batches (rate limiting)

	Mode    string // dev, demo, prod
	Addr    string
	Port    int
	Data    string
	Driver  string // sqlite, postgres
	DSN     string
	Version string
}

// Provider default configurations for embeddings.
// Used when EMBEDDING_BASE_URL is not explicitly set.
var embeddingProviderDefaults = map[string]struct {
	BaseURL string
	Model   string
}{
	"openai": {
		BaseURL: "https://api.openai.com/v1",
		Model:   "text-embedding-3-small",
	},
	"siliconflow": {
		BaseURL: "https://api.siliconflow.cn/v1",
		Model:   "BAAI/bge-m3",
	},
	"dashscope": {
		BaseURL: "https://dashscope.aliyuncs.com/compatible-mode/v1",
		Model:   "text-embedding-v3",
	},
	"ollama": {
		BaseURL: "http://localhost:11434/v1",
		Model:   "nomic-embed-text",
	},
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsEmbeddingEnabled returns true if an embedding API key is configured.
// Without it the engine degrades to lexical-only scoring.
func (p *Profile) IsEmbeddingEnabled() bool {
	return p.EmbeddingAPIKey != ""
}

// getEnvOrDefault returns environment variable value or default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOrDefaultInt returns environment variable value as int or default value.
func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvOrDefaultFloat returns environment variable value as float64 or default value.
func getEnvOrDefaultFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

// FromEnv loads configuration from environment variables.
func (p *Profile) FromEnv() {
	p.EmbeddingProvider = getEnvOrDefault("MNEMORA_EMBEDDING_PROVIDER", "siliconflow")
	p.EmbeddingModel = getEnvOrDefault("MNEMORA_EMBEDDING_MODEL", "")
	p.EmbeddingAPIKey = getEnvOrDefault("MNEMORA_EMBEDDING_API_KEY", "")
	p.EmbeddingBaseURL = getEnvOrDefault("MNEMORA_EMBEDDING_BASE_URL", "")
	p.EmbeddingDimensions = getEnvOrDefaultInt("MNEMORA_EMBEDDING_DIMENSIONS", 1024)
	p.EmbeddingTimeout = getEnvOrDefaultInt("MNEMORA_EMBEDDING_TIMEOUT_SECONDS", 30)

	if p.EmbeddingProvider != "" {
		if _, ok := embeddingProviderDefaults[p.EmbeddingProvider]; !ok {
			slog.Warn("unknown embedding provider, using default: siliconflow", "provider", p.EmbeddingProvider)
			p.EmbeddingProvider = "siliconflow"
		}
	}
	if p.EmbeddingBaseURL == "" || p.EmbeddingModel == "" {
		if defaults, ok := embeddingProviderDefaults[p.EmbeddingProvider]; ok {
			if p.EmbeddingBaseURL == "" {
				p.EmbeddingBaseURL = defaults.BaseURL
			}
			if p.EmbeddingModel == "" {
				p.EmbeddingModel = defaults.Model
			}
		}
	}

	p.SuggestMinSimilarity = getEnvOrDefaultFloat("MNEMORA_TAG_SUGGEST_MIN_SIMILARITY", 0.7)
	p.ConsolidateMinSimilarity = getEnvOrDefaultFloat("MNEMORA_TAG_CONSOLIDATE_MIN_SIMILARITY", 0.8)
	p.QueryExpandMinSimilarity = getEnvOrDefaultFloat("MNEMORA_QUERY_EXPAND_MIN_SIMILARITY", 0.5)
	p.MaxTagsPerMemory = getEnvOrDefaultInt("MNEMORA_MAX_TAGS_PER_MEMORY", 3)

	p.MinRelevance = getEnvOrDefaultFloat("MNEMORA_SEARCH_MIN_RELEVANCE", 0.3)
	p.RecencyHalfLife = getEnvOrDefaultInt("MNEMORA_RECENCY_HALF_LIFE_DAYS", 30)
	p.ContentCacheSize = getEnvOrDefaultInt("MNEMORA_CONTENT_CACHE_SIZE", 512)
	p.MigrateBatchSize = getEnvOrDefaultInt("MNEMORA_MIGRATE_BATCH_SIZE", 20)
	p.MigrateBatchDelay = getEnvOrDefaultInt("MNEMORA_MIGRATE_BATCH_DELAY_MS", 500)
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		relativeDir := filepath.Join(filepath.Dir(os.Args[0]), dataDir)
		absDir, err := filepath.Abs(relativeDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing "/" in the path.
	dataDir = strings.TrimRight(dataDir, "/")

	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}

	return dataDir, nil
}

// Validate normalizes the profile and rejects unusable configurations.
func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}

	if p.Mode == "prod" && p.Data == "" {
		p.Data = "/var/opt/mnemora"
	}

	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		return err
	}
	p.Data = dataDir

	switch p.Driver {
	case "sqlite":
		if p.DSN == "" {
			p.DSN = filepath.Join(dataDir, "mnemora_"+p.Mode+".db")
		}
	case "postgres":
		if p.DSN == "" {
			return errors.New("dsn is required for postgres driver")
		}
	case "memory":
		// Nothing to configure; data lives and dies with the process.
	default:
		return errors.Errorf("unsupported driver %q, expected sqlite, postgres or memory", p.Driver)
	}

	if p.EmbeddingDimensions <= 0 {
		return errors.Errorf("invalid embedding dimensions: %d", p.EmbeddingDimensions)
	}

	return nil
}
