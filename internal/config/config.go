package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	LLM       LLMConfig       `toml:"llm"`
	Embedding EmbeddingConfig `toml:"embedding"`
	Database  DatabaseConfig  `toml:"database"`
	Agent     AgentConfig     `toml:"agent"`
	Observer  ObserverConfig  `toml:"observer"`
}

type LLMConfig struct {
	Provider    string   `toml:"provider"`
	Model       string   `toml:"model"`
	APIKey      string   `toml:"api_key"`
	BaseURL     string   `toml:"base_url"`
	Temperature *float64 `toml:"temperature"`
	MaxTokens   int      `toml:"max_tokens"`
	// TextTools makes OpenAI-compatible providers describe tools in the
	// prompt instead of using native function calling.
	TextTools bool `toml:"text_tools"`
	Retries   int  `toml:"retries"`
	// RPM and TPM cap requests and tokens per minute. Zero disables.
	RPM int `toml:"rpm"`
	TPM int `toml:"tpm"`
}

type EmbeddingConfig struct {
	Provider   string `toml:"provider"`
	Model      string `toml:"model"`
	Dimensions int    `toml:"dimensions"`
	APIKey     string `toml:"api_key"`
	BaseURL    string `toml:"base_url"`
}

type DatabaseConfig struct {
	Driver     string `toml:"driver"` // "postgres", "sqlite" or "duckdb"
	DSN        string `toml:"dsn"`    // postgres connection string; built from Host etc. when empty
	Path       string `toml:"path"`   // sqlite or duckdb file
	DocsPath   string `toml:"docs_path"` // sqlite file holding documents when driver is duckdb
	Host       string `toml:"host"`
	Port       int    `toml:"port"`
	User       string `toml:"user"`
	Password   string `toml:"password"`
	Name       string `toml:"name"`
	Collection string `toml:"collection"`
}

type AgentConfig struct {
	MaxSteps     int           `toml:"max_steps"`
	MaxMalformed int           `toml:"max_malformed"`
	CallTimeout  time.Duration `toml:"call_timeout"`
	TopK         int           `toml:"top_k"`
	RowLimit     int           `toml:"row_limit"`
}

type ObserverConfig struct {
	Enabled     bool                       `toml:"enabled"`
	ServiceName string                     `toml:"service_name"`
	Pricing     map[string]ObserverPricing `toml:"pricing"`
}

type ObserverPricing struct {
	Input  float64 `toml:"input"`
	Output float64 `toml:"output"`
}

// Default returns a Config with all defaults applied. The defaults point at
// a local Ollama server and an embedded SQLite database.
func Default() Config {
	return Config{
		LLM:       LLMConfig{Provider: "ollama", Model: "llama3.1", Retries: 2},
		Embedding: EmbeddingConfig{Provider: "ollama", Model: "nomic-embed-text", Dimensions: 768},
		Database:  DatabaseConfig{Driver: "sqlite", Path: "comprice.db", DocsPath: "comprice-docs.db", Port: 5432, Collection: "comprice_docs"},
		Agent:     AgentConfig{MaxSteps: 10, MaxMalformed: 3, CallTimeout: 60 * time.Second, TopK: 3, RowLimit: 20},
		Observer:  ObserverConfig{ServiceName: "comprice"},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins).
// A missing file is not an error; a malformed one is.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("COMPRICE_CONFIG")
	}
	if path == "" {
		path = "comprice.toml"
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	case !errors.Is(err, fs.ErrNotExist):
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}

	applyEnv(&cfg)

	// Fallbacks
	if cfg.Embedding.APIKey == "" && cfg.Embedding.Provider == cfg.LLM.Provider {
		cfg.Embedding.APIKey = cfg.LLM.APIKey
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	str("COMPRICE_LLM_PROVIDER", &cfg.LLM.Provider)
	str("COMPRICE_LLM_MODEL", &cfg.LLM.Model)
	str("COMPRICE_LLM_API_KEY", &cfg.LLM.APIKey)
	str("COMPRICE_LLM_BASE_URL", &cfg.LLM.BaseURL)
	num("COMPRICE_LLM_RPM", &cfg.LLM.RPM)
	str("COMPRICE_EMBEDDING_PROVIDER", &cfg.Embedding.Provider)
	str("COMPRICE_EMBEDDING_MODEL", &cfg.Embedding.Model)
	str("COMPRICE_EMBEDDING_API_KEY", &cfg.Embedding.APIKey)
	str("COMPRICE_EMBEDDING_BASE_URL", &cfg.Embedding.BaseURL)
	num("COMPRICE_EMBEDDING_DIMENSIONS", &cfg.Embedding.Dimensions)
	str("COMPRICE_DB_DRIVER", &cfg.Database.Driver)
	str("COMPRICE_DB_DSN", &cfg.Database.DSN)
	str("COMPRICE_DB_PATH", &cfg.Database.Path)
	num("COMPRICE_MAX_STEPS", &cfg.Agent.MaxSteps)
	if v := os.Getenv("COMPRICE_CALL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Agent.CallTimeout = d
		}
	}
	if v := os.Getenv("COMPRICE_OBSERVER_ENABLED"); v == "true" || v == "1" {
		cfg.Observer.Enabled = true
	}

	// Legacy deployment variables.
	str("DB_HOST", &cfg.Database.Host)
	num("DB_PORT", &cfg.Database.Port)
	str("DB_USER", &cfg.Database.User)
	str("DB_PASSWORD", &cfg.Database.Password)
	str("DB_NAME", &cfg.Database.Name)
	if cfg.Database.Host != "" && os.Getenv("COMPRICE_DB_DRIVER") == "" {
		cfg.Database.Driver = "postgres"
	}

	if host := os.Getenv("OLLAMA_HOST"); host != "" {
		port := os.Getenv("OLLAMA_PORT")
		if port == "" {
			port = "11434"
		}
		base := "http://" + net.JoinHostPort(host, port) + "/v1"
		if cfg.LLM.Provider == "ollama" {
			cfg.LLM.BaseURL = base
		}
		if cfg.Embedding.Provider == "ollama" {
			cfg.Embedding.BaseURL = base
		}
	}
	if m := os.Getenv("OLLAMA_MODEL"); m != "" {
		if cfg.LLM.Provider == "ollama" {
			cfg.LLM.Model = m
		}
		if cfg.Embedding.Provider == "ollama" {
			cfg.Embedding.Model = m
		}
	}
}

// PostgresDSN returns Database.DSN, or a URL assembled from the individual
// connection fields when DSN is empty.
func (c DatabaseConfig) PostgresDSN() string {
	if c.DSN != "" {
		return c.DSN
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:   "/" + c.Name,
	}
	return u.String()
}

// Validate reports configuration that cannot produce a working agent.
func (c Config) Validate() error {
	var problems []string
	switch c.Database.Driver {
	case "postgres":
		if c.Database.DSN == "" {
			var missing []string
			for _, f := range []struct{ name, val string }{
				{"DB_HOST", c.Database.Host},
				{"DB_USER", c.Database.User},
				{"DB_PASSWORD", c.Database.Password},
				{"DB_NAME", c.Database.Name},
			} {
				if f.val == "" {
					missing = append(missing, f.name)
				}
			}
			if len(missing) > 0 {
				problems = append(problems, "missing required DB credentials: "+strings.Join(missing, ", "))
			}
		}
	case "sqlite", "duckdb":
		if c.Database.Path == "" {
			problems = append(problems, "database.path is required for driver "+c.Database.Driver)
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown database driver %q", c.Database.Driver))
	}
	if c.LLM.Provider == "" || c.LLM.Model == "" {
		problems = append(problems, "llm.provider and llm.model are required")
	}
	if c.Agent.MaxSteps <= 0 {
		problems = append(problems, "agent.max_steps must be positive")
	}
	if c.Agent.TopK < 1 || c.Agent.TopK > 20 {
		problems = append(problems, "agent.top_k must be between 1 and 20")
	}
	if len(problems) > 0 {
		return errors.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}
