package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrConfig marks a missing or malformed configuration. It is always returned
// before any request reaches the cluster.
var ErrConfig = errors.New("config error")

// Config is the Elasticsearch connection file shared by both importers.
type Config struct {
	Endpoint  string            `yaml:"endpoint"`
	User      string            `yaml:"user"`
	Password  string            `yaml:"password"`
	APIKey    string            `yaml:"api_key"`
	Headers   map[string]string `yaml:"headers"`
	SSLVerify bool              `yaml:"ssl_verify"`
	CAFile    string            `yaml:"ca_file"`
	KibanaEP  string            `yaml:"kibana_endpoint"`

	ObjectStore ObjectStore `yaml:"object_store"`
}

// ObjectStore configures fetching s3:// inputs.
type ObjectStore struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
	Region    string `yaml:"region"`
	CacheDir  string `yaml:"cache_dir"`
}

// Environment variables that override values from the YAML file.
const (
	EnvEndpoint  = "ES_ENDPOINT"
	EnvUser      = "ES_USER"
	EnvPassword  = "ES_PASSWORD"
	EnvAPIKey    = "ES_API_KEY"
	EnvSSLVerify = "ES_SSL_VERIFY"
)

// Load reads the YAML config at path (resolved with ResolvePath), applies a
// local .env file if one exists and then the ES_* environment overrides.
func Load(path string) (Config, error) {
	resolvedPath := ResolvePath(path)
	data, err := os.ReadFile(resolvedPath)
	if err != nil {
		return Config{}, fmt.Errorf("%w: config file not found: %s (tried: %s)", ErrConfig, path, resolvedPath)
	}

	cfg, err := Parse(data)
	if err != nil {
		return Config{}, err
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("%w: failed to read .env: %v", ErrConfig, err)
	}
	if err := ApplyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes a YAML document. ssl_verify defaults to true when absent.
func Parse(data []byte) (Config, error) {
	cfg := Config{SSLVerify: true}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: failed to parse config: %v", ErrConfig, err)
	}
	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	return cfg, nil
}

// ApplyEnv overlays ES_* variables found through lookup.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvEndpoint); ok && v != "" {
		cfg.Endpoint = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvUser); ok && v != "" {
		cfg.User = v
	}
	if v, ok := lookup(EnvPassword); ok && v != "" {
		cfg.Password = v
	}
	if v, ok := lookup(EnvAPIKey); ok && v != "" {
		cfg.APIKey = v
	}
	if v, ok := lookup(EnvSSLVerify); ok && v != "" {
		verify, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: %s must be a boolean, got %q", ErrConfig, EnvSSLVerify, v)
		}
		cfg.SSLVerify = verify
	}
	return nil
}

func (c Config) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("%w: endpoint is required in the Elasticsearch config", ErrConfig)
	}
	if !strings.HasPrefix(c.Endpoint, "http://") && !strings.HasPrefix(c.Endpoint, "https://") {
		return fmt.Errorf("%w: invalid Elasticsearch endpoint: %s", ErrConfig, c.Endpoint)
	}
	return nil
}

// LoadMapping reads an index mapping (or any JSON object) from disk.
func LoadMapping(path string) (map[string]any, error) {
	resolvedPath := ResolvePath(path)
	data, err := os.ReadFile(resolvedPath)
	if err != nil {
		return nil, fmt.Errorf("%w: mapping file not found: %s (tried: %s)", ErrConfig, path, resolvedPath)
	}

	var mapping map[string]any
	if err := json.Unmarshal(data, &mapping); err != nil {
		return nil, fmt.Errorf("%w: failed to parse mapping: %v", ErrConfig, err)
	}
	return mapping, nil
}
