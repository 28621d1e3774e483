package profile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Profile is the configuration to start the main server.
type Profile struct {
	// Mode can be "prod" or "dev" or "demo"
	Mode string
	// Addr is the binding address for server
	Addr string
	// Port is the binding port for server
	Port int
	// Data is the data directory
	Data string
	// DSN points to where recall stores its own data
	DSN string
	// Driver is the database driver (sqlite or postgres)
	Driver string
	// Version is the current version of server
	Version string
	// Secret signs and verifies access tokens
	Secret string

	// AI Configuration
	AIEnabled            bool   // RECALL_AI_ENABLED
	AIProvider           string // RECALL_AI_PROVIDER (default: openai)
	AIEmbeddingProvider  string // RECALL_AI_EMBEDDING_PROVIDER (default: follows AIProvider)
	AIOpenAIAPIKey       string // RECALL_AI_OPENAI_API_KEY
	AIOpenAIBaseURL      string // RECALL_AI_OPENAI_BASE_URL (default: https://api.openai.com/v1)
	AIDeepSeekAPIKey     string // RECALL_AI_DEEPSEEK_API_KEY
	AIDeepSeekBaseURL    string // RECALL_AI_DEEPSEEK_BASE_URL (default: https://api.deepseek.com)
	AISiliconFlowAPIKey  string // RECALL_AI_SILICONFLOW_API_KEY
	AISiliconFlowBaseURL string // RECALL_AI_SILICONFLOW_BASE_URL (default: https://api.siliconflow.cn/v1)
	AIOllamaBaseURL      string // RECALL_AI_OLLAMA_BASE_URL (default: http://localhost:11434)
	AIChatModel          string // RECALL_AI_CHAT_MODEL (default: gpt-4o-mini)
	AIEmbeddingModel     string // RECALL_AI_EMBEDDING_MODEL (default: text-embedding-3-small)
	AIEmbeddingDims      int    // RECALL_AI_EMBEDDING_DIMENSIONS (default: 1536)
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsAIEnabled returns true if AI is enabled and at least one backend is configured.
func (p *Profile) IsAIEnabled() bool {
	return p.AIEnabled && (p.AIOpenAIAPIKey != "" || p.AIDeepSeekAPIKey != "" || p.AISiliconFlowAPIKey != "" || p.AIOllamaBaseURL != "")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// FromEnv loads configuration from RECALL_* environment variables.
func (p *Profile) FromEnv() {
	p.AIEnabled = os.Getenv("RECALL_AI_ENABLED") == "true"
	p.AIProvider = getEnvOrDefault("RECALL_AI_PROVIDER", "openai")
	p.AIEmbeddingProvider = getEnvOrDefault("RECALL_AI_EMBEDDING_PROVIDER", p.AIProvider)
	p.AIOpenAIAPIKey = os.Getenv("RECALL_AI_OPENAI_API_KEY")
	p.AIOpenAIBaseURL = getEnvOrDefault("RECALL_AI_OPENAI_BASE_URL", "https://api.openai.com/v1")
	p.AIDeepSeekAPIKey = os.Getenv("RECALL_AI_DEEPSEEK_API_KEY")
	p.AIDeepSeekBaseURL = getEnvOrDefault("RECALL_AI_DEEPSEEK_BASE_URL", "https://api.deepseek.com")
	p.AISiliconFlowAPIKey = os.Getenv("RECALL_AI_SILICONFLOW_API_KEY")
	p.AISiliconFlowBaseURL = getEnvOrDefault("RECALL_AI_SILICONFLOW_BASE_URL", "https://api.siliconflow.cn/v1")
	p.AIOllamaBaseURL = getEnvOrDefault("RECALL_AI_OLLAMA_BASE_URL", "http://localhost:11434")
	p.AIChatModel = getEnvOrDefault("RECALL_AI_CHAT_MODEL", "gpt-4o-mini")
	p.AIEmbeddingModel = getEnvOrDefault("RECALL_AI_EMBEDDING_MODEL", "text-embedding-3-small")
	if v := os.Getenv("RECALL_AI_EMBEDDING_DIMENSIONS"); v != "" {
		dims, err := strconv.Atoi(v)
		if err != nil {
			slog.Warn("invalid RECALL_AI_EMBEDDING_DIMENSIONS, using default", slog.String("value", v))
		} else {
			p.AIEmbeddingDims = dims
		}
	}
	if p.AIEmbeddingDims == 0 {
		p.AIEmbeddingDims = 1536
	}
	if v := os.Getenv("RECALL_SECRET"); v != "" {
		p.Secret = v
	}
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

	// Trim trailing \ or / in case user supplies
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}

	if p.Mode == "prod" && p.Data == "" {
		p.Data = "/var/opt/recall"
		if _, err := os.Stat(p.Data); os.IsNotExist(err) {
			if err := os.MkdirAll(p.Data, 0770); err != nil {
				slog.Error("failed to create data directory", slog.String("data", p.Data), slog.String("error", err.Error()))
				return err
			}
		}
	}

	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		slog.Error("failed to check data dir", slog.String("data", dataDir), slog.String("error", err.Error()))
		return err
	}

	p.Data = dataDir
	if p.Driver == "sqlite" && p.DSN == "" {
		dbFile := fmt.Sprintf("recall_%s.db", p.Mode)
		p.DSN = filepath.Join(dataDir, dbFile)
	}

	return nil
}
