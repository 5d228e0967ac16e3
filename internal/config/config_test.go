package config

import (
	"os"
	"path/filepath"
	"testing"
)

const testYAML = `
server:
  host: "127.0.0.1"
  port: 8080
admin:
  username: "yaml-admin"
`

func writeTestConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "shoalgate.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("writing test config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTestConfig(t, testYAML)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q (from YAML)", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want %d (from YAML)", cfg.Server.Port, 8080)
	}
	if cfg.Server.Region != "us-east-1" {
		t.Errorf("Server.Region = %q, want default %q", cfg.Server.Region, "us-east-1")
	}
	if cfg.Admin.Username != "yaml-admin" {
		t.Errorf("Admin.Username = %q, want %q (from YAML)", cfg.Admin.Username, "yaml-admin")
	}
	if cfg.Admin.Password != "shoalgate-admin" {
		t.Errorf("Admin.Password = %q, want default %q", cfg.Admin.Password, "shoalgate-admin")
	}
	if cfg.Storage.Backend != "local" {
		t.Errorf("Storage.Backend = %q, want default %q", cfg.Storage.Backend, "local")
	}
}

func TestEnvOverridesTakePrecedence(t *testing.T) {
	path := writeTestConfig(t, testYAML)

	for k, v := range map[string]string{
		"PORT":           "9999",
		"HOST":           "0.0.0.0",
		"STORAGE_PATH":   "/data/objects",
		"DB_HOST":        "db.internal",
		"DB_PORT":        "5432",
		"DB_USER":        "dbuser",
		"DB_PASSWORD":    "dbpass",
		"DB_NAME":        "shoalgate",
		"ADMIN_USERNAME": "env-admin",
		"ADMIN_PASSWORD": "env-pass",
		"JWT_SECRET":     "env-secret",
		"S3_REGION":      "eu-west-1",
		"CORS_ORIGIN":    "https://example.com",
		"S3_PUBLIC_HOST": "s3.example.com",
	} {
		t.Setenv(k, v)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	checks := []struct {
		name string
		got  interface{}
		want interface{}
	}{
		{"Server.Port", cfg.Server.Port, 9999},
		{"Server.Host", cfg.Server.Host, "0.0.0.0"},
		{"Storage.Local.RootDir", cfg.Storage.Local.RootDir, "/data/objects"},
		{"Metadata.DBHost", cfg.Metadata.DBHost, "db.internal"},
		{"Metadata.DBPort", cfg.Metadata.DBPort, 5432},
		{"Metadata.DBUser", cfg.Metadata.DBUser, "dbuser"},
		{"Metadata.DBPassword", cfg.Metadata.DBPassword, "dbpass"},
		{"Metadata.DBName", cfg.Metadata.DBName, "shoalgate"},
		{"Admin.Username", cfg.Admin.Username, "env-admin"},
		{"Admin.Password", cfg.Admin.Password, "env-pass"},
		{"Admin.TokenSecret", cfg.Admin.TokenSecret, "env-secret"},
		{"Server.Region", cfg.Server.Region, "eu-west-1"},
		{"Server.CORSOrigin", cfg.Server.CORSOrigin, "https://example.com"},
		{"Server.PublicHost", cfg.Server.PublicHost, "s3.example.com"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestEnvOverridesIgnoreEmptyValues(t *testing.T) {
	path := writeTestConfig(t, testYAML)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Region != "us-east-1" {
		t.Errorf("Server.Region = %q, want default %q when S3_REGION is unset", cfg.Server.Region, "us-east-1")
	}
}
