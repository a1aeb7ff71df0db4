// Package config loads tablerag settings from defaults, the user config
// file, the project .tablerag.yaml and TABLERAG_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ProjectConfigName is the per-directory config file.
const ProjectConfigName = ".tablerag.yaml"

// Config is the complete tablerag configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	Index      IndexConfig      `yaml:"index" json:"index"`
	Retrieval  RetrievalConfig  `yaml:"retrieval" json:"retrieval"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Reranker   RerankerConfig   `yaml:"reranker" json:"reranker"`
	Runtime    RuntimeConfig    `yaml:"runtime" json:"runtime"`
	Server     ServerConfig     `yaml:"server" json:"server"`
}

// IndexConfig locates the persisted bundle.
type IndexConfig struct {
	// Dir is the bundle directory. Relative paths resolve against the
	// project root (default: .tablerag/index).
	Dir string `yaml:"dir" json:"dir"`

	// LexicalBackend is "bleve" (default) or "sqlite".
	LexicalBackend string `yaml:"lexical_backend" json:"lexical_backend"`
}

// RetrievalConfig bounds the hybrid search.
type RetrievalConfig struct {
	LexicalK         int    `yaml:"lexical_k" json:"lexical_k"`
	SemanticK        int    `yaml:"semantic_k" json:"semantic_k"`
	MaxResults       int    `yaml:"max_results" json:"max_results"`
	FallbackCount    int    `yaml:"fallback_count" json:"fallback_count"`
	IdentifierPrefix string `yaml:"identifier_prefix" json:"identifier_prefix"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider is "static" (default), "onnx" or "ollama".
	Provider      string `yaml:"provider" json:"provider"`
	Model         string `yaml:"model" json:"model"`
	ModelPath     string `yaml:"model_path" json:"model_path"`
	TokenizerPath string `yaml:"tokenizer_path" json:"tokenizer_path"`
	Dimensions    int    `yaml:"dimensions" json:"dimensions"`
	MaxSeqLen     int    `yaml:"max_seq_len" json:"max_seq_len"`
	BatchSize     int    `yaml:"batch_size" json:"batch_size"`
	// CacheSize is the query embedding LRU size; negative disables it.
	CacheSize  int    `yaml:"cache_size" json:"cache_size"`
	OllamaHost string `yaml:"ollama_host" json:"ollama_host"`
	// Timeout bounds one embedding request (e.g. "60s").
	Timeout string `yaml:"timeout" json:"timeout"`
}

// RerankerConfig configures the relevance scorer.
type RerankerConfig struct {
	// Provider is "lexical" (default), "onnx" or "http".
	Provider      string `yaml:"provider" json:"provider"`
	ModelPath     string `yaml:"model_path" json:"model_path"`
	TokenizerPath string `yaml:"tokenizer_path" json:"tokenizer_path"`
	Endpoint      string `yaml:"endpoint" json:"endpoint"`
	Model         string `yaml:"model" json:"model"`
	MaxSeqLen     int    `yaml:"max_seq_len" json:"max_seq_len"`

	// Threshold is the exclusive score cut-off. Nil selects the value
	// calibrated for the provider.
	Threshold *float64 `yaml:"threshold,omitempty" json:"threshold,omitempty"`
}

// RuntimeConfig locates native libraries.
type RuntimeConfig struct {
	// ONNXLibrary is the onnxruntime shared library path.
	ONNXLibrary string `yaml:"onnx_library" json:"onnx_library"`
}

// ServerConfig configures the MCP server.
type ServerConfig struct {
	LogLevel    string `yaml:"log_level" json:"log_level"`
	MetricsAddr string `yaml:"metrics_addr" json:"metrics_addr"`
	// Watch rebuilds the index when the records file changes.
	Watch         bool   `yaml:"watch" json:"watch"`
	WatchDebounce string `yaml:"watch_debounce" json:"watch_debounce"`
}

// Valid provider and backend names.
var (
	validEmbedders = map[string]bool{"static": true, "onnx": true, "ollama": true}
	validRerankers = map[string]bool{"lexical": true, "onnx": true, "http": true}
	validBackends  = map[string]bool{"bleve": true, "sqlite": true}
	validLevels    = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
)

// NewConfig creates a Config with defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Index: IndexConfig{
			Dir:            filepath.Join(".tablerag", "index"),
			LexicalBackend: "bleve",
		},
		Retrieval: RetrievalConfig{
			LexicalK:         30,
			SemanticK:        30,
			MaxResults:       5,
			FallbackCount:    1,
			IdentifierPrefix: "GSA",
		},
		Embeddings: EmbeddingsConfig{
			Provider:   "static",
			MaxSeqLen:  256,
			BatchSize:  32,
			CacheSize:  1000,
			OllamaHost: "", // Empty uses default http://localhost:11434
			Timeout:    "60s",
		},
		Reranker: RerankerConfig{
			Provider:  "lexical",
			MaxSeqLen: 512,
		},
		Server: ServerConfig{
			LogLevel:      "info",
			WatchDebounce: "500ms",
		},
	}
}

// GetUserConfigPath returns the path to the user configuration file:
//   - $XDG_CONFIG_HOME/tablerag/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/tablerag/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "tablerag", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "tablerag", "config.yaml")
	}
	return filepath.Join(home, ".config", "tablerag", "config.yaml")
}

// GetUserConfigDir returns the directory containing the user configuration.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// LoadUserConfig loads the user configuration file. It returns nil and no
// error when the file doesn't exist.
func LoadUserConfig() (*Config, error) {
	configPath := GetUserConfigPath()
	if !fileExists(configPath) {
		return nil, nil
	}

	parsed, err := parseYAML(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", configPath, err)
	}
	return parsed, nil
}

// Load loads configuration for the project in dir. Sources in increasing
// precedence:
//  1. Hardcoded defaults
//  2. User config (~/.config/tablerag/config.yaml)
//  3. Project config (.tablerag.yaml in dir)
//  4. Environment variables (TABLERAG_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	userCfg, err := LoadUserConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	}
	if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadFromFile merges .tablerag.yaml, or .tablerag.yml as a fallback.
func (c *Config) loadFromFile(dir string) error {
	for _, name := range []string{ProjectConfigName, ".tablerag.yml"} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		parsed, err := parseYAML(path)
		if err != nil {
			return err
		}
		c.mergeWith(parsed)
		return nil
	}
	return nil
}

func parseYAML(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return &parsed, nil
}

// mergeWith copies the non-zero values of other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	mergeString(&c.Index.Dir, other.Index.Dir)
	mergeString(&c.Index.LexicalBackend, other.Index.LexicalBackend)

	mergeInt(&c.Retrieval.LexicalK, other.Retrieval.LexicalK)
	mergeInt(&c.Retrieval.SemanticK, other.Retrieval.SemanticK)
	mergeInt(&c.Retrieval.MaxResults, other.Retrieval.MaxResults)
	mergeInt(&c.Retrieval.FallbackCount, other.Retrieval.FallbackCount)
	mergeString(&c.Retrieval.IdentifierPrefix, other.Retrieval.IdentifierPrefix)

	e, oe := &c.Embeddings, other.Embeddings
	mergeString(&e.Provider, oe.Provider)
	mergeString(&e.Model, oe.Model)
	mergeString(&e.ModelPath, oe.ModelPath)
	mergeString(&e.TokenizerPath, oe.TokenizerPath)
	mergeInt(&e.Dimensions, oe.Dimensions)
	mergeInt(&e.MaxSeqLen, oe.MaxSeqLen)
	mergeInt(&e.BatchSize, oe.BatchSize)
	mergeInt(&e.CacheSize, oe.CacheSize)
	mergeString(&e.OllamaHost, oe.OllamaHost)
	mergeString(&e.Timeout, oe.Timeout)

	r, or := &c.Reranker, other.Reranker
	mergeString(&r.Provider, or.Provider)
	mergeString(&r.ModelPath, or.ModelPath)
	mergeString(&r.TokenizerPath, or.TokenizerPath)
	mergeString(&r.Endpoint, or.Endpoint)
	mergeString(&r.Model, or.Model)
	mergeInt(&r.MaxSeqLen, or.MaxSeqLen)
	if or.Threshold != nil {
		t := *or.Threshold
		r.Threshold = &t
	}

	mergeString(&c.Runtime.ONNXLibrary, other.Runtime.ONNXLibrary)

	mergeString(&c.Server.LogLevel, other.Server.LogLevel)
	mergeString(&c.Server.MetricsAddr, other.Server.MetricsAddr)
	mergeString(&c.Server.WatchDebounce, other.Server.WatchDebounce)
	// false cannot be told apart from unset, so a file can only turn watch on.
	if other.Server.Watch {
		c.Server.Watch = true
	}
}

func mergeString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func mergeInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

// applyEnvOverrides applies TABLERAG_* environment variables. Unparseable
// numeric values are ignored.
func (c *Config) applyEnvOverrides() {
	envString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				*dst = n
			}
		}
	}

	envString("TABLERAG_INDEX_DIR", &c.Index.Dir)
	envString("TABLERAG_LEXICAL_BACKEND", &c.Index.LexicalBackend)

	envString("TABLERAG_EMBEDDER", &c.Embeddings.Provider)
	envString("TABLERAG_EMBED_MODEL", &c.Embeddings.Model)
	envString("TABLERAG_EMBED_MODEL_PATH", &c.Embeddings.ModelPath)
	envString("TABLERAG_TOKENIZER_PATH", &c.Embeddings.TokenizerPath)
	envString("TABLERAG_OLLAMA_HOST", &c.Embeddings.OllamaHost)

	envString("TABLERAG_RERANKER", &c.Reranker.Provider)
	envString("TABLERAG_RERANK_MODEL_PATH", &c.Reranker.ModelPath)
	envString("TABLERAG_RERANK_ENDPOINT", &c.Reranker.Endpoint)
	if v := os.Getenv("TABLERAG_RERANK_THRESHOLD"); v != "" {
		if t, err := parseFloat64(v); err == nil {
			c.Reranker.Threshold = &t
		}
	}

	envInt("TABLERAG_MAX_RESULTS", &c.Retrieval.MaxResults)
	envString("TABLERAG_ONNX_LIBRARY", &c.Runtime.ONNXLibrary)
	envString("TABLERAG_LOG_LEVEL", &c.Server.LogLevel)
	envString("TABLERAG_METRICS_ADDR", &c.Server.MetricsAddr)
}

// parseFloat64 parses a string to float64, used for config parsing.
func parseFloat64(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if !validBackends[strings.ToLower(c.Index.LexicalBackend)] {
		return fmt.Errorf("index.lexical_backend must be 'bleve' or 'sqlite', got %s", c.Index.LexicalBackend)
	}

	r := c.Retrieval
	for name, v := range map[string]int{"lexical_k": r.LexicalK, "semantic_k": r.SemanticK, "max_results": r.MaxResults} {
		if v <= 0 {
			return fmt.Errorf("retrieval.%s must be positive, got %d", name, v)
		}
	}
	if r.FallbackCount < 1 || r.FallbackCount > 2 {
		return fmt.Errorf("retrieval.fallback_count must be 1 or 2, got %d", r.FallbackCount)
	}
	if strings.TrimSpace(r.IdentifierPrefix) == "" {
		return fmt.Errorf("retrieval.identifier_prefix must not be empty")
	}

	if !validEmbedders[strings.ToLower(c.Embeddings.Provider)] {
		return fmt.Errorf("embeddings.provider must be 'static', 'onnx' or 'ollama', got %s", c.Embeddings.Provider)
	}
	if c.Embeddings.Dimensions < 0 {
		return fmt.Errorf("embeddings.dimensions must be non-negative, got %d", c.Embeddings.Dimensions)
	}
	if c.Embeddings.BatchSize < 0 {
		return fmt.Errorf("embeddings.batch_size must be non-negative, got %d", c.Embeddings.BatchSize)
	}
	if _, err := c.EmbedTimeout(); err != nil {
		return err
	}

	if !validRerankers[strings.ToLower(c.Reranker.Provider)] {
		return fmt.Errorf("reranker.provider must be 'lexical', 'onnx' or 'http', got %s", c.Reranker.Provider)
	}

	if !validLevels[strings.ToLower(c.Server.LogLevel)] {
		return fmt.Errorf("server.log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.Server.LogLevel)
	}
	if _, err := c.WatchDebounce(); err != nil {
		return err
	}
	return nil
}

// EmbedTimeout parses embeddings.timeout; empty means no override.
func (c *Config) EmbedTimeout() (time.Duration, error) {
	return parseDuration("embeddings.timeout", c.Embeddings.Timeout)
}

// WatchDebounce parses server.watch_debounce; empty means no override.
func (c *Config) WatchDebounce() (time.Duration, error) {
	return parseDuration("server.watch_debounce", c.Server.WatchDebounce)
}

func parseDuration(field, v string) (time.Duration, error) {
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("%s must be a non-negative duration, got %q", field, v)
	}
	return d, nil
}

// IndexDir returns the bundle directory, resolving a relative
// index.dir against root.
func (c *Config) IndexDir(root string) string {
	if filepath.IsAbs(c.Index.Dir) {
		return c.Index.Dir
	}
	return filepath.Join(root, c.Index.Dir)
}

// FindProjectRoot walks up from startDir to the first directory holding
// .git or .tablerag.yaml/.yml. It returns the absolute startDir when none
// is found.
func FindProjectRoot(startDir string) (string, error) {
	absDir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	currentDir := absDir
	for {
		if dirExists(filepath.Join(currentDir, ".git")) ||
			fileExists(filepath.Join(currentDir, ProjectConfigName)) ||
			fileExists(filepath.Join(currentDir, ".tablerag.yml")) {
			return currentDir, nil
		}

		parentDir := filepath.Dir(currentDir)
		if parentDir == currentDir {
			return absDir, nil
		}
		currentDir = parentDir
	}
}

// WriteYAML writes the configuration to a YAML file, creating its directory.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// MergeNewDefaults fills fields an older config file left unset and
// returns their dotted names.
func (c *Config) MergeNewDefaults() []string {
	defaults := NewConfig()
	var added []string

	fill := func(name string, dst *string, v string) {
		if *dst == "" {
			*dst = v
			added = append(added, name)
		}
	}
	fillInt := func(name string, dst *int, v int) {
		if *dst == 0 {
			*dst = v
			added = append(added, name)
		}
	}

	fill("index.lexical_backend", &c.Index.LexicalBackend, defaults.Index.LexicalBackend)
	fillInt("retrieval.fallback_count", &c.Retrieval.FallbackCount, defaults.Retrieval.FallbackCount)
	fill("retrieval.identifier_prefix", &c.Retrieval.IdentifierPrefix, defaults.Retrieval.IdentifierPrefix)
	fillInt("embeddings.max_seq_len", &c.Embeddings.MaxSeqLen, defaults.Embeddings.MaxSeqLen)
	fill("embeddings.timeout", &c.Embeddings.Timeout, defaults.Embeddings.Timeout)
	fill("reranker.provider", &c.Reranker.Provider, defaults.Reranker.Provider)
	fillInt("reranker.max_seq_len", &c.Reranker.MaxSeqLen, defaults.Reranker.MaxSeqLen)
	fill("server.watch_debounce", &c.Server.WatchDebounce, defaults.Server.WatchDebounce)
	return added
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}
