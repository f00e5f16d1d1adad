package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const baseYAML = `
port: "8080"
databaseURL: "postgres://localhost/codemorph"
redisAddr: "localhost:6379"
githubAppID: 123
githubPrivateKeySecret: "GITHUB_APP_PRIVATE_KEY"
githubWebhookSecret: "GITHUB_WEBHOOK_SECRET"
llmProvider: anthropic
llmModel: test-model
`

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, baseYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MaxFileSizeBytes != 10000 || cfg.MaxFilesPerRepo != 50 {
		t.Fatalf("file limits defaults: %+v", cfg)
	}
	if cfg.MaxRunningJobsPerUser != 10 || cfg.FileFanout != 5 || cfg.WorkerCount != 3 {
		t.Fatalf("concurrency defaults: %+v", cfg)
	}
	if cfg.SecretsBackend != "env" || cfg.GitHubAPIBaseURL != "https://api.github.com" {
		t.Fatalf("backend defaults: %+v", cfg)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CODEMORPH_PORT", "9090")
	t.Setenv("DATABASE_URL", "postgres://db/override")
	t.Setenv("GITHUB_APP_ID", "777")
	t.Setenv("CODEMORPH_WORKER_COUNT", "8")
	cfg, err := Load(writeConfig(t, baseYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "9090" || cfg.DatabaseURL != "postgres://db/override" {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.GitHubAppID != 777 || cfg.WorkerCount != 8 {
		t.Fatalf("numeric overrides not applied: %+v", cfg)
	}
}

func TestLoadValidation(t *testing.T) {
	cases := []struct {
		name    string
		mangle  func(string) string
		wantErr string
	}{
		{"missing app id", func(y string) string { return strings.Replace(y, "githubAppID: 123", "githubAppID: 0", 1) }, "githubAppID"},
		{"missing database", func(y string) string { return strings.Replace(y, `databaseURL: "postgres://localhost/codemorph"`, "", 1) }, "databaseURL"},
		{"bad provider", func(y string) string { return strings.Replace(y, "llmProvider: anthropic", "llmProvider: bard", 1) }, "llmProvider"},
		{"openai without base url", func(y string) string { return strings.Replace(y, "llmProvider: anthropic", "llmProvider: openai-compat", 1) }, "llmBaseURL"},
		{"bad secrets backend", func(y string) string { return y + "\nsecretsBackend: vault\n" }, "secretsBackend"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.mangle(baseYAML)))
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("got %v, want mention of %s", err, tc.wantErr)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
