package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// MaxRetries bounds pipeline.retries.
const MaxRetries = 10

const (
	EnvAPIKey         = "DEIFIND_ANNOTATOR_API_KEY"
	EnvEndpoint       = "DEIFIND_ANNOTATOR_ENDPOINT"
	EnvEmbeddingsPath = "DEIFIND_EMBEDDINGS_PATH"
)

type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file,omitempty"`
}

type AnnotatorConfig struct {
	Provider string        `yaml:"provider"`
	Endpoint string        `yaml:"endpoint,omitempty"`
	APIKey   string        `yaml:"api_key,omitempty"`
	Model    string        `yaml:"model,omitempty"`
	Timeout  time.Duration `yaml:"timeout"`
}

type PipelineConfig struct {
	RatePerSecond float64       `yaml:"rate_per_second"`
	Burst         int           `yaml:"burst"`
	Concurrency   int           `yaml:"concurrency"`
	TopLabels     int           `yaml:"top_labels"`
	CaptionWeight float32       `yaml:"caption_weight"`
	MinSide       int           `yaml:"min_side"`
	MaxSide       int           `yaml:"max_side"`
	Retries       int           `yaml:"retries"`
	RetryBackoff  time.Duration `yaml:"retry_backoff"`
}

// SearchConfig tunes query embedding. SplitSeparators reads "-", "_" and "/"
// as word breaks instead of dropping them.
type SearchConfig struct {
	TopK            int           `yaml:"top_k"`
	QueryCacheSize  int           `yaml:"query_cache_size"`
	QueryCacheTTL   time.Duration `yaml:"query_cache_ttl"`
	Stemming        bool          `yaml:"stemming"`
	SplitSeparators bool          `yaml:"split_separators"`
}

type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type ScheduleConfig struct {
	Reindex string   `yaml:"reindex,omitempty"`
	Roots   []string `yaml:"roots,omitempty"`
}

type Config struct {
	DataDir        string          `yaml:"data_dir"`
	IndexFile      string          `yaml:"index_file"`
	DBFile         string          `yaml:"db_file"`
	EmbeddingsPath string          `yaml:"embeddings_path"`
	Workers        int             `yaml:"workers"`
	WatchDebounce  time.Duration   `yaml:"watch_debounce"`
	Log            LogConfig       `yaml:"log"`
	Annotator      AnnotatorConfig `yaml:"annotator"`
	Pipeline       PipelineConfig  `yaml:"pipeline"`
	Search         SearchConfig    `yaml:"search"`
	Server         ServerConfig    `yaml:"server"`
	Schedule       ScheduleConfig  `yaml:"schedule"`
}

func Default() *Config {
	return &Config{
		DataDir:        "~/.deifind",
		IndexFile:      "filenames.gob",
		DBFile:         "images.db",
		EmbeddingsPath: "glove.6B.100d.txt",
		WatchDebounce:  2 * time.Second,
		Log: LogConfig{
			Level: "info",
		},
		Annotator: AnnotatorConfig{
			Provider: "azure",
			Model:    "gemini-2.5-flash",
			Timeout:  10 * time.Second,
		},
		Pipeline: PipelineConfig{
			RatePerSecond: 10,
			Burst:         1,
			Concurrency:   32,
			TopLabels:     10,
			CaptionWeight: 0.5,
			MinSide:       50,
			MaxSide:       16000,
			RetryBackoff:  500 * time.Millisecond,
		},
		Search: SearchConfig{
			TopK:           10,
			QueryCacheSize: 256,
			QueryCacheTTL:  10 * time.Minute,
			Stemming:       true,
		},
		Server: ServerConfig{
			Addr:         "127.0.0.1:7420",
			WriteTimeout: 10 * time.Minute,
		},
	}
}

// Load reads the YAML file at path over the defaults. A missing file is not an
// error. Environment overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(expandHome(path))
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	cfg.applyEnv()
	cfg.DataDir = expandHome(cfg.DataDir)
	cfg.EmbeddingsPath = expandHome(cfg.EmbeddingsPath)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvAPIKey); v != "" {
		c.Annotator.APIKey = v
	}
	if v := os.Getenv(EnvEndpoint); v != "" {
		c.Annotator.Endpoint = v
	}
	if v := os.Getenv(EnvEmbeddingsPath); v != "" {
		c.EmbeddingsPath = v
	}
}

func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("config: data_dir is required")
	}
	if c.Workers < 0 {
		return fmt.Errorf("config: workers must not be negative")
	}
	if c.Pipeline.CaptionWeight <= 0 || c.Pipeline.CaptionWeight > 1 {
		return fmt.Errorf("config: pipeline.caption_weight must be within (0, 1], got %v", c.Pipeline.CaptionWeight)
	}
	if c.Pipeline.MinSide <= 0 || c.Pipeline.MaxSide < c.Pipeline.MinSide {
		return fmt.Errorf("config: invalid image side bounds [%d, %d]", c.Pipeline.MinSide, c.Pipeline.MaxSide)
	}
	if c.Pipeline.RatePerSecond < 0 {
		return fmt.Errorf("config: pipeline.rate_per_second must not be negative")
	}
	if c.Pipeline.Retries < 0 || c.Pipeline.Retries > MaxRetries {
		return fmt.Errorf("config: pipeline.retries must be within [0, %d], got %d", MaxRetries, c.Pipeline.Retries)
	}
	if c.Pipeline.TopLabels <= 0 {
		return fmt.Errorf("config: pipeline.top_labels must be positive")
	}
	if c.Search.TopK <= 0 {
		return fmt.Errorf("config: search.top_k must be positive")
	}
	return nil
}

// IndexPath is where the filename index is persisted.
func (c *Config) IndexPath() string {
	return c.resolve(c.IndexFile)
}

func (c *Config) DBPath() string {
	return c.resolve(c.DBFile)
}

func (c *Config) resolve(name string) string {
	name = expandHome(name)
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.DataDir, name)
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
