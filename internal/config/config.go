package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for pqi.
type Config struct {
	UserID   string          `toml:"user_id"`
	BaseDir  string          `toml:"base_dir"`
	LogDir   string          `toml:"log_dir"`
	API      APIConfig       `toml:"api"`
	Auth     AuthConfig      `toml:"auth"`
	Store    StoreConfig     `toml:"store"`
	Archives []ArchiveConfig `toml:"archives"`
}

// APIConfig holds the remote inspection API settings.
type APIConfig struct {
	BaseURL        string `toml:"base_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"` // transport timeout; defaults to 30
}

// AuthConfig holds token-provider settings and the age key pair used to
// encrypt the cached token at rest.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type AuthConfig struct {
	Type string `toml:"type"` // "oauth" (default) or "static"

	// OAuth-specific fields (only used when Type == "oauth")
	TokenURL         string `toml:"token_url,omitempty"`
	ClientID         string `toml:"client_id,omitempty"`
	ClientSecretPath string `toml:"client_secret_path,omitempty"`

	// Static token (only used when Type == "static"; tests and dev)
	StaticToken string `toml:"static_token,omitempty"`

	TokenCachePath string `toml:"token_cache_path"`
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// StoreConfig represents configuration for the durable local store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type StoreConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// ArchiveConfig represents configuration for a tour-export archive backend.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type ArchiveConfig struct {
	Type string `toml:"type"` // "memory", "s3", or "filesystem"
	Name string `toml:"name"`

	// S3-specific fields (only used when Type == "s3"). Credentials are
	// optional; when absent the SDK default chain applies.
	S3Bucket          string `toml:"s3_bucket,omitempty"`
	S3Prefix          string `toml:"s3_prefix,omitempty"`
	S3Region          string `toml:"s3_region,omitempty"`
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSArchiveRoot string `toml:"fs_archive_root,omitempty"`
}

// NewConfig creates a new Config with the provided values and default paths.
func NewConfig(userID, baseDir string) *Config {
	return &Config{
		UserID:  userID,
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		API: APIConfig{
			TimeoutSeconds: 30,
		},
		Auth: AuthConfig{
			Type:           "oauth",
			TokenCachePath: filepath.Join(baseDir, "token.cache"),
			PublicKeyPath:  filepath.Join(baseDir, "keys", "pqi.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "pqi.key"),
		},
		Store: StoreConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "data"),
		},
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
// This is an internal helper and should not be exported.
func writeToFile(path string, cfg *Config) error {
	// Ensure the directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	// Check if config already exists
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
