package config

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the apollo tool.
type Config struct {
	Data      DataConfig      `yaml:"data"`
	Store     StoreConfig     `yaml:"store"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Generator GeneratorConfig `yaml:"generator"`
	Enrich    EnrichConfig    `yaml:"enrich"`
	Retrieve  RetrieveConfig  `yaml:"retrieve"`
	Cache     CacheConfig     `yaml:"cache"`
	Noise     NoiseConfig     `yaml:"noise"`
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// DataConfig locates the raw row files.
type DataConfig struct {
	Dir         string   `yaml:"dir"`
	Utterances  []string `yaml:"utterances"`  // doublestar patterns relative to Dir
	TOC         []string `yaml:"toc"`
	Photographs []string `yaml:"photographs"`
	ImagesDir   string   `yaml:"images_dir"` // static root that photograph paths resolve against
}

// StoreConfig holds persistence configuration.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// EmbeddingConfig holds the default embedding provider and per-field overrides.
type EmbeddingConfig struct {
	Provider  string                    `yaml:"provider"` // "openai", "jina", "ollama", "http", "mock"
	Model     string                    `yaml:"model"`
	APIKeyEnv string                    `yaml:"api_key_env"`
	BaseURL   string                    `yaml:"base_url"`
	Dimension int                       `yaml:"dimension"`
	BatchSize int                       `yaml:"batch_size"`
	Fields    map[string]EmbeddingField `yaml:"fields"`
}

// EmbeddingField overrides the default embedder for one vector field.
// Zero values inherit from the parent EmbeddingConfig.
type EmbeddingField struct {
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	APIKeyEnv string `yaml:"api_key_env"`
	BaseURL   string `yaml:"base_url"`
	Dimension int    `yaml:"dimension"`
}

// GeneratorConfig holds text generation configuration.
type GeneratorConfig struct {
	Provider  string        `yaml:"provider"` // "openai", "anthropic", "openrouter", "http", "mock"
	Model     string        `yaml:"model"`
	APIKeyEnv string        `yaml:"api_key_env"`
	BaseURL   string        `yaml:"base_url"`
	Timeout   time.Duration `yaml:"timeout"`
}

// EnrichConfig holds batch enrichment configuration.
type EnrichConfig struct {
	BatchSize int `yaml:"batch_size"`
	Workers   int `yaml:"workers"` // 0 means one worker per batch item
}

// RetrieveConfig holds retrieval configuration.
type RetrieveConfig struct {
	TopK      int `yaml:"top_k"`
	ImageTopK int `yaml:"image_top_k"`
}

// CacheConfig holds semantic cache configuration.
type CacheConfig struct {
	Enabled           bool    `yaml:"enabled"`
	DistanceThreshold float64 `yaml:"distance_threshold"`
}

// NoiseConfig controls the repeated-utterance filter.
type NoiseConfig struct {
	Backend        string `yaml:"backend"` // "store" or "redis"
	MinRepetitions int    `yaml:"min_repetitions"`
	RedisAddr      string `yaml:"redis_addr"`
	RedisKey       string `yaml:"redis_key"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Data: DataConfig{
			Dir:         "data",
			Utterances:  []string{"Apollo11_Data/gUtteranceData*.json"},
			TOC:         []string{"Apollo11_Data/gTOCData*.json"},
			Photographs: []string{"Apollo11_Data/gPhotoData*.json"},
			ImagesDir:   "static",
		},
		Store: StoreConfig{
			Path: filepath.Join(".apollo", "apollo.db"),
		},
		Embedding: EmbeddingConfig{
			Provider:  "openai",
			Model:     "text-embedding-3-large",
			APIKeyEnv: "OPENAI_API_KEY",
			Dimension: 3072,
			BatchSize: 100,
			Fields: map[string]EmbeddingField{
				"image": {
					Provider:  "jina",
					Model:     "jina-clip-v2",
					APIKeyEnv: "JINA_API_KEY",
					Dimension: 1024,
				},
			},
		},
		Generator: GeneratorConfig{
			Provider:  "openai",
			Model:     "gpt-4o",
			APIKeyEnv: "OPENAI_API_KEY",
			Timeout:   120 * time.Second,
		},
		Enrich: EnrichConfig{
			BatchSize: 300,
		},
		Retrieve: RetrieveConfig{
			TopK:      3,
			ImageTopK: 20,
		},
		Cache: CacheConfig{
			Enabled:           true,
			DistanceThreshold: 0.1,
		},
		Noise: NoiseConfig{
			Backend:        "store",
			MinRepetitions: 2,
			RedisAddr:      "localhost:6379",
			RedisKey:       "apollo:utterance:frequency",
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil // Return defaults if no config file
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	return cfg, nil
}

// LoadFromDir loads configuration from a directory (looks for apollo.yaml).
func LoadFromDir(dir string) (*Config, error) {
	path := filepath.Join(dir, "apollo.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	path = filepath.Join(dir, ".apollo", "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	return DefaultConfig(), nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// applyDefaults fills values a partial YAML file zeroed out.
func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.Enrich.BatchSize <= 0 {
		c.Enrich.BatchSize = def.Enrich.BatchSize
	}
	if c.Retrieve.TopK <= 0 {
		c.Retrieve.TopK = def.Retrieve.TopK
	}
	if c.Retrieve.ImageTopK <= 0 {
		c.Retrieve.ImageTopK = def.Retrieve.ImageTopK
	}
	// 0 is kept: it disables cache hits while answers are still stored.
	if c.Cache.DistanceThreshold < 0 {
		c.Cache.DistanceThreshold = def.Cache.DistanceThreshold
	}
	if c.Noise.MinRepetitions <= 0 {
		c.Noise.MinRepetitions = def.Noise.MinRepetitions
	}
	if c.Embedding.BatchSize <= 0 {
		c.Embedding.BatchSize = def.Embedding.BatchSize
	}
	if c.Store.Path == "" {
		c.Store.Path = def.Store.Path
	}
	if c.Server.Addr == "" {
		c.Server.Addr = def.Server.Addr
	}
}

// ResolveField returns the embedding settings used for a vector field,
// layering the field override on top of the defaults.
func (e EmbeddingConfig) ResolveField(field string) EmbeddingField {
	out := EmbeddingField{
		Provider:  e.Provider,
		Model:     e.Model,
		APIKeyEnv: e.APIKeyEnv,
		BaseURL:   e.BaseURL,
		Dimension: e.Dimension,
	}
	o, ok := e.Fields[field]
	if !ok {
		return out
	}
	if o.Provider != "" {
		out.Provider = o.Provider
	}
	if o.Model != "" {
		out.Model = o.Model
	}
	if o.APIKeyEnv != "" {
		out.APIKeyEnv = o.APIKeyEnv
	}
	if o.BaseURL != "" {
		out.BaseURL = o.BaseURL
	}
	if o.Dimension > 0 {
		out.Dimension = o.Dimension
	}
	return out
}

// StorePath resolves the database path against dir.
func (c *Config) StorePath(dir string) string {
	if filepath.IsAbs(c.Store.Path) {
		return c.Store.Path
	}
	return filepath.Join(dir, c.Store.Path)
}

// EnsureStoreDir ensures the directory holding the database exists.
func (c *Config) EnsureStoreDir(dir string) error {
	return os.MkdirAll(filepath.Dir(c.StorePath(dir)), 0755)
}
