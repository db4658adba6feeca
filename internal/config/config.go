package config

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/viper"
)

type Config struct {
	Server          ServerConfig              `json:"server"`
	Database        DatabaseConfig            `json:"database"`
	Providers       map[string]ProviderConfig `json:"providers"`
	DefaultProvider string                    `json:"default_provider"`
	Memory          MemoryConfig              `json:"memory"`
	JWTSecret       string                    `json:"jwt_secret"`
}

type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"sslmode"`
}

type ProviderConfig struct {
	Type           string `json:"type"`
	Name           string `json:"name"`
	BaseURL        string `json:"base_url,omitempty"`
	APIKey         string `json:"api_key,omitempty"`
	ChatModel      string `json:"chat_model"`
	SummaryModel   string `json:"summary_model"`
	EmbeddingModel string `json:"embedding_model"`
}

// MemoryConfig tunes the conversational memory subsystem.
type MemoryConfig struct {
	RetrievalLimit       int    `json:"retrieval_limit"`
	ContextCharBudget    int    `json:"context_char_budget"`
	TranscriptCharBudget int    `json:"transcript_char_budget"`
	EmbeddingDimensions  int    `json:"embedding_dimensions"`
	SystemPrompt         string `json:"system_prompt"`
}

// DefaultSystemPrompt seeds every new conversation context.
const DefaultSystemPrompt = "You are a helpful, friendly assistant. Keep your answers concise and conversational."

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("json")

	// Add config paths
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Check for user config directory
	homeDir, err := os.UserHomeDir()
	if err == nil {
		viper.AddConfigPath(filepath.Join(homeDir, ".recall"))
	}

	// Set defaults
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.host", "localhost")
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "recall")
	viper.SetDefault("database.database", "recall")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("default_provider", "openai")
	viper.SetDefault("memory.retrieval_limit", 1)
	viper.SetDefault("memory.context_char_budget", 2500)
	viper.SetDefault("memory.transcript_char_budget", 12000)
	viper.SetDefault("memory.embedding_dimensions", 1536)
	viper.SetDefault("memory.system_prompt", DefaultSystemPrompt)

	// Read config
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			cfg := createDefaultConfig()
			loadEnvOverrides(cfg)
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	applyMemoryDefaults(&cfg.Memory)

	// Load environment variables
	loadEnvOverrides(&cfg)

	return &cfg, nil
}

func createDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "localhost",
			Port: 8080,
		},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "recall",
			Password: "",
			Database: "recall",
			SSLMode:  "disable",
		},
		Providers: map[string]ProviderConfig{
			"openai": {
				Type:           "openai",
				Name:           "OpenAI",
				ChatModel:      "gpt-4o-mini",
				SummaryModel:   "gpt-4o-mini",
				EmbeddingModel: "text-embedding-3-small",
			},
		},
		DefaultProvider: "openai",
		Memory: MemoryConfig{
			RetrievalLimit:       1,
			ContextCharBudget:    2500,
			TranscriptCharBudget: 12000,
			EmbeddingDimensions:  1536,
			SystemPrompt:         DefaultSystemPrompt,
		},
	}
}

func applyMemoryDefaults(m *MemoryConfig) {
	if m.RetrievalLimit <= 0 {
		m.RetrievalLimit = 1
	}
	if m.ContextCharBudget <= 0 {
		m.ContextCharBudget = 2500
	}
	if m.TranscriptCharBudget <= 0 {
		m.TranscriptCharBudget = 12000
	}
	if m.EmbeddingDimensions <= 0 {
		m.EmbeddingDimensions = 1536
	}
	if m.SystemPrompt == "" {
		m.SystemPrompt = DefaultSystemPrompt
	}
}

func loadEnvOverrides(cfg *Config) {
	if host := os.Getenv("RECALL_DB_HOST"); host != "" {
		cfg.Database.Host = host
	}
	if port := os.Getenv("RECALL_DB_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Database.Port = p
		}
	}
	if user := os.Getenv("RECALL_DB_USER"); user != "" {
		cfg.Database.User = user
	}
	if password := os.Getenv("RECALL_DB_PASSWORD"); password != "" {
		cfg.Database.Password = password
	}
	if database := os.Getenv("RECALL_DB_NAME"); database != "" {
		cfg.Database.Database = database
	}
	if secret := os.Getenv("RECALL_JWT_SECRET"); secret != "" {
		cfg.JWTSecret = secret
	}
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		if cfg.Providers == nil {
			cfg.Providers = map[string]ProviderConfig{}
		}
		provider := cfg.Providers["openai"]
		provider.Type = "openai"
		if provider.Name == "" {
			provider.Name = "OpenAI"
		}
		if provider.ChatModel == "" {
			provider.ChatModel = "gpt-4o-mini"
		}
		if provider.SummaryModel == "" {
			provider.SummaryModel = "gpt-4o-mini"
		}
		if provider.EmbeddingModel == "" {
			provider.EmbeddingModel = "text-embedding-3-small"
		}
		provider.APIKey = apiKey
		cfg.Providers["openai"] = provider
	}
}
