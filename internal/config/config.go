package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Defaults applied by NewConfig and ApplyDefaults.
const (
	DefaultMaxEntrySize = 1 << 30
	DefaultPhotoWorkers = 4
	DefaultBatchSize    = 50
	DefaultRefreshEvery = 5
)

// Config represents the main configuration for checkin.
type Config struct {
	DataDir    string         `toml:"data_dir"`
	LogDir     string         `toml:"log_dir"`
	AppVersion string         `toml:"app_version,omitempty"`
	Database   DatabaseConfig `toml:"database"`
	Assets     AssetsConfig   `toml:"assets"`
	Archive    ArchiveConfig  `toml:"archive"`
	Import     ImportConfig   `toml:"import"`
	Vaults     []VaultConfig  `toml:"vaults"`
}

// VaultConfig represents configuration for a vault backend.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type VaultConfig struct {
	Type string `toml:"type"` // "memory", "s3", or "filesystem"
	Name string `toml:"name"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket   string `toml:"s3_bucket,omitempty"`
	S3Prefix   string `toml:"s3_prefix,omitempty"`
	S3Region   string `toml:"s3_region,omitempty"`
	S3Endpoint string `toml:"s3_endpoint,omitempty"` // S3-compatible services; enables path-style addressing
	// Static credentials. When empty the default AWS credential chain is used.
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSVaultRoot string `toml:"fs_vault_root,omitempty"`
}

// DatabaseConfig represents configuration for the visit store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// AssetsConfig locates the live photo store.
type AssetsConfig struct {
	Dir string `toml:"dir"`
}

// ArchiveConfig holds export and extraction settings.
type ArchiveConfig struct {
	OutputDir    string `toml:"output_dir"`
	MaxEntrySize int64  `toml:"max_entry_size"` // per-entry extraction cap in bytes
	PhotoWorkers int    `toml:"photo_workers"`
}

// ImportConfig holds the restore batch cadence.
type ImportConfig struct {
	BatchSize    int `toml:"batch_size"`
	RefreshEvery int `toml:"refresh_every"` // refresh the store cache every N failed visits
}

// NewConfig creates a new Config rooted at dataDir with default settings.
func NewConfig(dataDir string) *Config {
	cfg := &Config{
		DataDir:  dataDir,
		LogDir:   filepath.Join(dataDir, "log"),
		Database: DatabaseConfig{Type: "sqlite", DataDir: filepath.Join(dataDir, "db")},
		Assets:   AssetsConfig{Dir: filepath.Join(dataDir, "photos")},
		Archive:  ArchiveConfig{OutputDir: filepath.Join(dataDir, "backups")},
	}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero-valued tunables. Paths are left alone.
func (c *Config) ApplyDefaults() {
	if c.Archive.MaxEntrySize <= 0 {
		c.Archive.MaxEntrySize = DefaultMaxEntrySize
	}
	if c.Archive.PhotoWorkers <= 0 {
		c.Archive.PhotoWorkers = DefaultPhotoWorkers
	}
	if c.Import.BatchSize <= 0 {
		c.Import.BatchSize = DefaultBatchSize
	}
	if c.Import.RefreshEvery <= 0 {
		c.Import.RefreshEvery = DefaultRefreshEvery
	}
}

// FindVault returns the vault config with the given name.
func (c *Config) FindVault(name string) (VaultConfig, bool) {
	for _, v := range c.Vaults {
		if v.Name == name {
			return v, true
		}
	}
	return VaultConfig{}, false
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.ApplyDefaults()
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
func writeToFile(path string, cfg *Config) error {
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
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
