package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestManager_ReadWrite_RoundTrip(t *testing.T) {
	original := &Config{
		DataDir:    "/home/user/.local/share/checkin",
		LogDir:     "/home/user/.local/share/checkin/log",
		AppVersion: "2.3.0",
		Vaults: []VaultConfig{
			{Type: "filesystem", Name: "local", FSVaultRoot: "/backup/vault"},
			{Type: "s3", Name: "offsite", S3Bucket: "b", S3Region: "eu-west-1", S3Endpoint: "http://minio:9000"},
		},
		Database: DatabaseConfig{Type: "sqlite", DataDir: "/home/user/.local/share/checkin/db"},
		Assets:   AssetsConfig{Dir: "/home/user/.local/share/checkin/photos"},
		Archive:  ArchiveConfig{OutputDir: "/tmp/out", MaxEntrySize: 2048, PhotoWorkers: 8},
		Import:   ImportConfig{BatchSize: 25, RefreshEvery: 3},
	}

	var buf bytes.Buffer
	m := &Manager{}

	if err := m.Write(&buf, original); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got, err := m.Read(&buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if got.DataDir != original.DataDir {
		t.Errorf("DataDir = %q, want %q", got.DataDir, original.DataDir)
	}
	if got.LogDir != original.LogDir {
		t.Errorf("LogDir = %q, want %q", got.LogDir, original.LogDir)
	}
	if got.AppVersion != "2.3.0" {
		t.Errorf("AppVersion = %q, want %q", got.AppVersion, "2.3.0")
	}
	if len(got.Vaults) != 2 {
		t.Fatalf("len(Vaults) = %d, want 2", len(got.Vaults))
	}
	if got.Vaults[0].FSVaultRoot != "/backup/vault" {
		t.Errorf("Vault.FSVaultRoot = %q, want %q", got.Vaults[0].FSVaultRoot, "/backup/vault")
	}
	if got.Vaults[1].S3Endpoint != "http://minio:9000" {
		t.Errorf("Vault.S3Endpoint = %q, want %q", got.Vaults[1].S3Endpoint, "http://minio:9000")
	}
	if got.Database != original.Database {
		t.Errorf("Database = %+v, want %+v", got.Database, original.Database)
	}
	if got.Assets != original.Assets {
		t.Errorf("Assets = %+v, want %+v", got.Assets, original.Assets)
	}
	if got.Archive != original.Archive {
		t.Errorf("Archive = %+v, want %+v", got.Archive, original.Archive)
	}
	if got.Import != original.Import {
		t.Errorf("Import = %+v, want %+v", got.Import, original.Import)
	}
}

func TestManager_Read_AppliesDefaults(t *testing.T) {
	src := `
data_dir = "/data"

[database]
type = "memory"
`
	got, err := (&Manager{}).Read(strings.NewReader(src))
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if got.Import.BatchSize != DefaultBatchSize {
		t.Errorf("Import.BatchSize = %d, want %d", got.Import.BatchSize, DefaultBatchSize)
	}
	if got.Import.RefreshEvery != DefaultRefreshEvery {
		t.Errorf("Import.RefreshEvery = %d, want %d", got.Import.RefreshEvery, DefaultRefreshEvery)
	}
	if got.Archive.MaxEntrySize != DefaultMaxEntrySize {
		t.Errorf("Archive.MaxEntrySize = %d, want %d", got.Archive.MaxEntrySize, DefaultMaxEntrySize)
	}
	if got.Archive.PhotoWorkers != DefaultPhotoWorkers {
		t.Errorf("Archive.PhotoWorkers = %d, want %d", got.Archive.PhotoWorkers, DefaultPhotoWorkers)
	}
}

func TestNewConfig(t *testing.T) {
	cfg := NewConfig("/data/checkin")

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"DataDir", cfg.DataDir, "/data/checkin"},
		{"LogDir", cfg.LogDir, "/data/checkin/log"},
		{"Database.Type", cfg.Database.Type, "sqlite"},
		{"Database.DataDir", cfg.Database.DataDir, "/data/checkin/db"},
		{"Assets.Dir", cfg.Assets.Dir, "/data/checkin/photos"},
		{"Archive.OutputDir", cfg.Archive.OutputDir, "/data/checkin/backups"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.want)
			}
		})
	}
	if cfg.Import.BatchSize != DefaultBatchSize {
		t.Errorf("Import.BatchSize = %d, want %d", cfg.Import.BatchSize, DefaultBatchSize)
	}
}

func TestConfig_FindVault(t *testing.T) {
	cfg := &Config{Vaults: []VaultConfig{{Type: "memory", Name: "a"}, {Type: "memory", Name: "b"}}}

	if v, ok := cfg.FindVault("b"); !ok || v.Name != "b" {
		t.Errorf("FindVault(b) = %+v, %v", v, ok)
	}
	if _, ok := cfg.FindVault("c"); ok {
		t.Error("FindVault(c) should not find anything")
	}
}

func TestInit(t *testing.T) {
	t.Run("creates config file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "checkin.toml")

		if err := Init(path, NewConfig(dir)); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		if _, err := os.Stat(path); err != nil {
			t.Fatalf("config file not created: %v", err)
		}
	})

	t.Run("fails if file already exists", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "checkin.toml")
		cfg := NewConfig(dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("first Init() error = %v", err)
		}

		if err := Init(path, cfg); err == nil {
			t.Fatal("second Init() expected error")
		}
	})
}

func TestReadFromFile(t *testing.T) {
	t.Run("reads valid config", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "checkin.toml")
		cfg := NewConfig(dir)
		cfg.Database = DatabaseConfig{Type: "memory"}

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		got, err := ReadFromFile(path)
		if err != nil {
			t.Fatalf("ReadFromFile() error = %v", err)
		}
		if got.DataDir != dir {
			t.Errorf("DataDir = %q, want %q", got.DataDir, dir)
		}
		if got.Database.Type != "memory" {
			t.Errorf("Database.Type = %q, want %q", got.Database.Type, "memory")
		}
	})

	t.Run("returns error for missing file", func(t *testing.T) {
		if _, err := ReadFromFile("/nonexistent/path/checkin.toml"); err == nil {
			t.Fatal("ReadFromFile() expected error for missing file")
		}
	})
}
