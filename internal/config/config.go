package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"shipline/internal/blob"
	"shipline/internal/store"
)

// Config models shipline.yml.
type Config struct {
	Store struct {
		Driver string `yaml:"driver"`
		DSN    string `yaml:"dsn"`
		Dir    string `yaml:"dir"`
	} `yaml:"store"`
	Blob blob.Config `yaml:"blob"`
	Mail struct {
		Delay time.Duration `yaml:"delay"`
	} `yaml:"mail"`
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
		// FileURLExpiry bounds presigned download links.
		FileURLExpiry time.Duration `yaml:"file_url_expiry"`
	} `yaml:"server"`
	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
		// DevLogin enables the token minting route for local testing.
		DevLogin bool `yaml:"dev_login"`
	} `yaml:"auth"`
	Log struct {
		Level   string `yaml:"level"`
		Console bool   `yaml:"console"`
	} `yaml:"log"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with sl config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	switch store.Driver(c.Store.Driver) {
	case store.DriverMemory, store.DriverFile, store.DriverSQLite:
	case store.DriverPostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("config.store.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("config.store.driver must be one of memory, file, sqlite, postgres")
	}
	switch c.Blob.Driver {
	case blob.DriverMemory, blob.DriverFilesystem:
	case blob.DriverS3:
		if c.Blob.S3.Bucket == "" {
			return fmt.Errorf("config.blob.s3.bucket is required for s3")
		}
	default:
		return fmt.Errorf("config.blob.driver must be one of memory, fs, s3")
	}
	if c.Mail.Delay < 0 {
		return fmt.Errorf("config.mail.delay cannot be negative")
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("config.server.addr is required")
	}
	if !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config.log.level must be one of debug, info, warn, error")
	}
	return nil
}

// StoreConfig resolves the slot backend settings relative to workspace.
func (c *Config) StoreConfig(workspace string) store.Config {
	return store.Config{
		Driver:    store.Driver(c.Store.Driver),
		Workspace: workspace,
		DSN:       c.Store.DSN,
		Dir:       resolve(workspace, c.Store.Dir),
	}
}

// BlobConfig resolves the attachment store settings relative to workspace.
func (c *Config) BlobConfig(workspace string) blob.Config {
	bc := c.Blob
	bc.Root = resolve(workspace, bc.Root)
	return bc
}

func resolve(workspace, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, p)
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "shipline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// LoadOptional returns the defaults if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Missing keys keep
// their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `store:
  # memory | file | sqlite | postgres
  driver: sqlite
  # postgres connection string, or an explicit sqlite file path
  dsn: ""
  # slot directory for the file driver
  dir: ""

blob:
  # memory | fs | s3
  driver: fs
  root: .shipline/blobs
  s3:
    bucket: ""
    region: us-east-1
    endpoint: ""
    path_style: false

mail:
  delay: 500ms

server:
  addr: 127.0.0.1:8080
  base_path: /v1
  file_url_expiry: 15m

auth:
  jwt_secret: ""
  # exposes POST /v1/auth/dev/login (never mints admin tokens)
  dev_login: false

log:
  level: info
  console: false
`
