// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v, want nil", err)
	}
	if got, want := len(cfg.Server.Models), 3; got != want {
		t.Errorf("len(Server.Models) = %d, want %d", got, want)
	}
}

func TestLoad_TOMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.toml", `
[client]
backend_url = "http://chat.internal:9000/"
request_timeout = "5s"
storage = "SQLite"

[server]
models = ["m1", "m2"]
export_ttl = "2h"

[log]
level = "debug"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Client.BackendURL != "http://chat.internal:9000" {
		t.Errorf("BackendURL = %q, want trailing slash trimmed", cfg.Client.BackendURL)
	}
	if cfg.Client.RequestTimeout != 5*time.Second {
		t.Errorf("RequestTimeout = %v, want 5s", cfg.Client.RequestTimeout)
	}
	if cfg.Client.Storage != "sqlite" {
		t.Errorf("Storage = %q, want sqlite", cfg.Client.Storage)
	}
	if strings.Join(cfg.Server.Models, ",") != "m1,m2" {
		t.Errorf("Models = %v, want [m1 m2]", cfg.Server.Models)
	}
	if cfg.Server.ExportTTL != 2*time.Hour {
		t.Errorf("ExportTTL = %v, want 2h", cfg.Server.ExportTTL)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug", cfg.Log.Level)
	}
	// Untouched sections keep defaults.
	if cfg.Server.Addr != ":8000" {
		t.Errorf("Server.Addr = %q, want default", cfg.Server.Addr)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 && runtime.GOOS != "windows" {
		t.Errorf("config permissions = %o, want 0600", perm)
	}
}

func TestLoad_EnvOverridesTOML(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.toml", `
[client]
backend_url = "http://from-file:8000"
[server]
models = ["file-model"]
`)
	t.Setenv("STREAMCHAT_BACKEND_URL", "http://from-env:8000")
	t.Setenv("STREAMCHAT_MODELS", "a,b,c")
	t.Setenv("STREAMCHAT_UPSTREAM_KEY", "sk-test")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Client.BackendURL != "http://from-env:8000" {
		t.Errorf("BackendURL = %q, want env value", cfg.Client.BackendURL)
	}
	if strings.Join(cfg.Server.Models, ",") != "a,b,c" {
		t.Errorf("Models = %v, want [a b c]", cfg.Server.Models)
	}
	if cfg.Server.UpstreamKey != "sk-test" {
		t.Errorf("UpstreamKey = %q, want sk-test", cfg.Server.UpstreamKey)
	}
}

func TestLoad_ExplicitMissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Error("Load(missing) error = nil, want error")
	}
}

func TestLoad_InvalidTOML(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.toml", "[client\nbroken")
	if _, err := Load(path); err == nil {
		t.Error("Load(broken) error = nil, want error")
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, ".env", "STREAMCHAT_LOG_LEVEL=warn\n")

	// An existing variable wins over the file.
	t.Setenv("STREAMCHAT_STORAGE", "memory")
	writeFile(t, dir, ".env2", "STREAMCHAT_STORAGE=sqlite\n")

	// Registers restoration, then clears so the file can set it.
	t.Setenv("STREAMCHAT_LOG_LEVEL", "")
	os.Unsetenv("STREAMCHAT_LOG_LEVEL")

	if err := loadDotEnv(path); err != nil {
		t.Fatalf("loadDotEnv() error = %v", err)
	}
	if err := loadDotEnv(filepath.Join(dir, ".env2")); err != nil {
		t.Fatalf("loadDotEnv() error = %v", err)
	}
	if err := loadDotEnv(filepath.Join(dir, "missing.env")); err != nil {
		t.Errorf("loadDotEnv(missing) error = %v, want nil", err)
	}

	cfg := Default()
	if err := cfg.ApplyEnvOverrides(); err != nil {
		t.Fatal(err)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want warn", cfg.Log.Level)
	}
	if cfg.Client.Storage != "memory" {
		t.Errorf("Storage = %q, want memory", cfg.Client.Storage)
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Client.BackendURL = "ftp://example.com"
	cfg.Client.Storage = "redis"
	cfg.Server.PruneSchedule = "every now and then"
	cfg.Server.RateBurst = 0
	cfg.Log.Level = "loud"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() = nil, want errors")
	}

	var merr *multierror.Error
	if !errors.As(err, &merr) {
		t.Fatalf("Validate() error type = %T, want *multierror.Error", err)
	}
	want := []string{"client.backend_url", "client.storage", "server.prune_schedule", "server.rate_burst", "log.level"}
	if len(merr.Errors) != len(want) {
		t.Fatalf("got %d errors, want %d: %v", len(merr.Errors), len(want), err)
	}
	for i, e := range merr.Errors {
		var ve ValidationError
		if !errors.As(e, &ve) {
			t.Fatalf("error %d type = %T, want ValidationError", i, e)
		}
		if ve.Field != want[i] {
			t.Errorf("error %d field = %q, want %q", i, ve.Field, want[i])
		}
	}
}

func TestSaveTOML_RoundTripWithoutSecrets(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.toml")

	cfg := Default()
	cfg.Server.UpstreamKey = "sk-secret"
	cfg.Server.Models = []string{"x"}
	cfg.Client.RequestTimeout = 12 * time.Second

	if err := SaveTOML(cfg, path); err != nil {
		t.Fatalf("SaveTOML() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "sk-secret") {
		t.Error("saved config contains the upstream key")
	}
	if !strings.HasPrefix(string(data), "# streamchat configuration file") {
		t.Error("saved config is missing the header comment")
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Client.RequestTimeout != 12*time.Second {
		t.Errorf("RequestTimeout = %v, want 12s", loaded.Client.RequestTimeout)
	}
	if strings.Join(loaded.Server.Models, ",") != "x" {
		t.Errorf("Models = %v, want [x]", loaded.Server.Models)
	}
	if cfg.Server.UpstreamKey != "sk-secret" {
		t.Error("SaveTOML mutated the caller's config")
	}
}

func TestString_RedactsKey(t *testing.T) {
	cfg := Default()
	cfg.Server.UpstreamKey = "sk-secret"
	if s := cfg.String(); strings.Contains(s, "sk-secret") || !strings.Contains(s, "[REDACTED]") {
		t.Errorf("String() = %s, want key redacted", s)
	}
}

func TestDataDir(t *testing.T) {
	cfg := Default()
	cfg.Client.DataDir = "/tmp/sc"
	if dir, _ := cfg.DataDir(); dir != "/tmp/sc" {
		t.Errorf("DataDir() = %q, want /tmp/sc", dir)
	}

	cfg.Client.DataDir = ""
	dir, err := cfg.DataDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if filepath.Base(dir) != "data" || filepath.Base(filepath.Dir(dir)) != ".streamchat" {
		t.Errorf("DataDir() = %q, want ~/.streamchat/data", dir)
	}
}

// TestConfig_ConcurrentAccess checks Global and SetGlobal under -race.
func TestConfig_ConcurrentAccess(t *testing.T) {
	ResetGlobalForTesting()
	t.Cleanup(ResetGlobalForTesting)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			SetGlobal(Default())
		}()
		go func() {
			defer wg.Done()
			if Global() == nil {
				t.Error("Global() returned nil")
			}
		}()
	}
	wg.Wait()
}
