package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default configuration file location.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"logLevel"`

	DatabaseURL string `yaml:"databaseURL"`

	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`

	// GitHub App credentials. Values are secret names resolved through the
	// credential provider, not the secrets themselves.
	GitHubAppID            int64  `yaml:"githubAppID"`
	GitHubPrivateKeySecret string `yaml:"githubPrivateKeySecret"`
	GitHubWebhookSecret    string `yaml:"githubWebhookSecret"`
	GitHubClientSecret     string `yaml:"githubClientSecret"`
	GitHubAPIBaseURL       string `yaml:"githubAPIBaseURL"`

	LLMProvider     string `yaml:"llmProvider"`
	LLMModel        string `yaml:"llmModel"`
	LLMBaseURL      string `yaml:"llmBaseURL"`
	LLMAPIKeySecret string `yaml:"llmAPIKeySecret"`

	SecretsBackend string `yaml:"secretsBackend"`
	AWSRegion      string `yaml:"awsRegion"`

	MaxFileSizeBytes         int64 `yaml:"maxFileSizeBytes"`
	MaxFilesPerRepo          int   `yaml:"maxFilesPerRepo"`
	MaxRunningJobsPerUser    int   `yaml:"maxRunningJobsPerUser"`
	FileFanout               int   `yaml:"fileFanout"`
	WorkerCount              int   `yaml:"workerCount"`
	RegisterRateLimitPerMin  int   `yaml:"registerRateLimitPerMinute"`
	ConvertRateLimitPerMin   int   `yaml:"convertRateLimitPerMinute"`
}

// Load reads config from path (defaults to config.yaml), applies env-var
// overrides, and validates required fields.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if v := os.Getenv("CODEMORPH_PORT"); v != "" {
		cfg.Port = strings.TrimSpace(v)
	}
	if v := os.Getenv("CODEMORPH_LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.TrimSpace(v)
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("GITHUB_APP_ID"); v != "" {
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			cfg.GitHubAppID = n
		}
	}
	if v := os.Getenv("GITHUB_PRIVATE_KEY_SECRET"); v != "" {
		cfg.GitHubPrivateKeySecret = strings.TrimSpace(v)
	}
	if v := os.Getenv("GITHUB_WEBHOOK_SECRET_NAME"); v != "" {
		cfg.GitHubWebhookSecret = strings.TrimSpace(v)
	}
	if v := os.Getenv("GITHUB_API_BASE_URL"); v != "" {
		cfg.GitHubAPIBaseURL = strings.TrimSpace(v)
	}
	if v := os.Getenv("CODEMORPH_LLM_PROVIDER"); v != "" {
		cfg.LLMProvider = strings.TrimSpace(v)
	}
	if v := os.Getenv("CODEMORPH_LLM_MODEL"); v != "" {
		cfg.LLMModel = strings.TrimSpace(v)
	}
	if v := os.Getenv("CODEMORPH_LLM_BASE_URL"); v != "" {
		cfg.LLMBaseURL = strings.TrimSpace(v)
	}
	if v := os.Getenv("CODEMORPH_SECRETS_BACKEND"); v != "" {
		cfg.SecretsBackend = strings.TrimSpace(v)
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.AWSRegion = strings.TrimSpace(v)
	}
	if v := os.Getenv("CODEMORPH_WORKER_COUNT"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.WorkerCount = n
		}
	}
	if v := os.Getenv("CODEMORPH_MAX_RUNNING_JOBS_PER_USER"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.MaxRunningJobsPerUser = n
		}
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *FileConfig) {
	if cfg.GitHubAPIBaseURL == "" {
		cfg.GitHubAPIBaseURL = "https://api.github.com"
	}
	if cfg.LLMProvider == "" {
		cfg.LLMProvider = "anthropic"
	}
	if cfg.MaxFileSizeBytes <= 0 {
		cfg.MaxFileSizeBytes = 10000
	}
	if cfg.MaxFilesPerRepo <= 0 {
		cfg.MaxFilesPerRepo = 50
	}
	if cfg.MaxRunningJobsPerUser <= 0 {
		cfg.MaxRunningJobsPerUser = 10
	}
	if cfg.FileFanout <= 0 {
		cfg.FileFanout = 5
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 3
	}
	if cfg.SecretsBackend == "" {
		cfg.SecretsBackend = "env"
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return errors.New("config: redisAddr is required for job dispatch and rate limiting")
	}
	if cfg.GitHubAppID <= 0 {
		return errors.New("config: githubAppID is required")
	}
	if strings.TrimSpace(cfg.GitHubPrivateKeySecret) == "" {
		return errors.New("config: githubPrivateKeySecret is required")
	}
	if strings.TrimSpace(cfg.GitHubWebhookSecret) == "" {
		return errors.New("config: githubWebhookSecret is required")
	}
	switch cfg.LLMProvider {
	case "anthropic", "openai-compat":
	default:
		return fmt.Errorf("config: unknown llmProvider %q", cfg.LLMProvider)
	}
	if cfg.LLMProvider == "openai-compat" && strings.TrimSpace(cfg.LLMBaseURL) == "" {
		return errors.New("config: llmBaseURL is required for the openai-compat provider")
	}
	switch cfg.SecretsBackend {
	case "env", "aws":
	default:
		return fmt.Errorf("config: unknown secretsBackend %q", cfg.SecretsBackend)
	}
	if cfg.RegisterRateLimitPerMin < 0 || cfg.ConvertRateLimitPerMin < 0 {
		return errors.New("config: rate limits must be >= 0")
	}
	return nil
}
