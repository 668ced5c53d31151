package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port        string   `yaml:"port"`
	Env         string   `yaml:"env"`
	InputPath   string   `yaml:"input_path"`
	CORSOrigins []string `yaml:"cors_origins"`
	// Schedule is an optional cron spec for unattended runs under serve.
	Schedule string `yaml:"schedule"`

	Summarizer SummarizerConfig `yaml:"summarizer"`
	Artifact   ArtifactConfig   `yaml:"artifact"`
	Audit      AuditConfig      `yaml:"audit"`
	Manifest   ManifestConfig   `yaml:"manifest"`
}

type SummarizerConfig struct {
	// Provider is beam (local), gemini, groq or fake.
	Provider        string        `yaml:"provider"`
	Model           string        `yaml:"model"`
	APIKey          string        `yaml:"api_key"`
	Policy          string        `yaml:"policy"`
	Concurrency     int           `yaml:"concurrency"`
	ItemTimeout     time.Duration `yaml:"item_timeout"`
	MaxInputTokens  int           `yaml:"max_input_tokens"`
	MaxOutputTokens int           `yaml:"max_output_tokens"`
	MinOutputTokens int           `yaml:"min_output_tokens"`
	NumBeams        int           `yaml:"num_beams"`
	LengthPenalty   float64       `yaml:"length_penalty"`
}

type ArtifactConfig struct {
	Dir    string   `yaml:"dir"`
	Prefix string   `yaml:"prefix"`
	Title  string   `yaml:"title"`
	Mirror S3Config `yaml:"mirror"`
}

// S3Config describes the optional artifact mirror bucket.
type S3Config struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type AuditConfig struct {
	Path        string `yaml:"path"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

type ManifestConfig struct {
	Path        string `yaml:"path"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// Path returns the YAML config location from ISSUEDIGEST_CONFIG.
func Path() string {
	return strings.TrimSpace(os.Getenv("ISSUEDIGEST_CONFIG"))
}

// Load reads .env, then the optional YAML file at path, then lets
// environment variables override both. A missing YAML file is not an
// error; a malformed one is.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if path = strings.TrimSpace(path); path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config yaml: %w", err)
			}
		}
	}

	applyEnvironmentOverrides(cfg)
	applyDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func applyEnvironmentOverrides(cfg *Config) {
	if envPort := strings.TrimSpace(os.Getenv("PORT")); envPort != "" {
		cfg.Port = envPort
	}
	cfg.Env = firstNonEmpty(env("APP_ENV"), cfg.Env)
	cfg.InputPath = firstNonEmpty(env("ISSUES_INPUT"), cfg.InputPath)
	cfg.Schedule = firstNonEmpty(env("RUN_SCHEDULE"), cfg.Schedule)
	if raw := env("CORS_ORIGINS"); raw != "" {
		cfg.CORSOrigins = splitList(raw)
	}

	s := &cfg.Summarizer
	s.Provider = firstNonEmpty(env("SUMMARIZER_PROVIDER"), s.Provider)
	s.Model = firstNonEmpty(env("SUMMARIZER_MODEL"), s.Model)
	s.APIKey = firstNonEmpty(env("SUMMARIZER_API_KEY"), s.APIKey)
	s.Policy = firstNonEmpty(env("SUMMARIZER_POLICY"), s.Policy)
	s.Concurrency = envInt("SUMMARIZER_CONCURRENCY", s.Concurrency)
	s.ItemTimeout = envDuration("SUMMARIZER_ITEM_TIMEOUT", s.ItemTimeout)
	s.MaxInputTokens = envInt("SUMMARIZER_MAX_INPUT_TOKENS", s.MaxInputTokens)
	s.MaxOutputTokens = envInt("SUMMARIZER_MAX_OUTPUT_TOKENS", s.MaxOutputTokens)
	s.MinOutputTokens = envInt("SUMMARIZER_MIN_OUTPUT_TOKENS", s.MinOutputTokens)
	s.NumBeams = envInt("SUMMARIZER_NUM_BEAMS", s.NumBeams)
	if raw := env("SUMMARIZER_LENGTH_PENALTY"); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			s.LengthPenalty = v
		}
	}
	switch strings.ToLower(s.Provider) {
	case "gemini":
		s.APIKey = firstNonEmpty(s.APIKey, env("GEMINI_API_KEY"))
	case "groq":
		s.APIKey = firstNonEmpty(s.APIKey, env("GROQ_API_KEY"))
	}

	a := &cfg.Artifact
	a.Dir = firstNonEmpty(env("ARTIFACT_DIR"), a.Dir)
	a.Prefix = firstNonEmpty(env("ARTIFACT_PREFIX"), a.Prefix)
	a.Title = firstNonEmpty(env("ARTIFACT_TITLE"), a.Title)
	loadMirrorConfig(&a.Mirror, cfg.Env)

	cfg.Audit.Path = firstNonEmpty(env("AUDIT_LOG_PATH"), cfg.Audit.Path)
	cfg.Audit.PostgresDSN = firstNonEmpty(env("AUDIT_PG_DSN"), cfg.Audit.PostgresDSN)
	cfg.Manifest.Path = firstNonEmpty(env("MANIFEST_PATH"), cfg.Manifest.Path)
	cfg.Manifest.PostgresDSN = firstNonEmpty(env("MANIFEST_PG_DSN"), cfg.Manifest.PostgresDSN)
}

func loadMirrorConfig(m *S3Config, appEnv string) {
	m.Endpoint = firstNonEmpty(resolveArtifactEndpoint(appEnv), m.Endpoint)
	m.Region = firstNonEmpty(env("ARTIFACT_S3_REGION"), m.Region, "us-east-1")
	m.AccessKey = firstNonEmpty(env("ARTIFACT_S3_ACCESS_KEY"), env("MINIO_ROOT_USER"), m.AccessKey)
	m.SecretKey = firstNonEmpty(env("ARTIFACT_S3_SECRET_KEY"), env("MINIO_ROOT_PASSWORD"), m.SecretKey)
	m.Bucket = firstNonEmpty(env("ARTIFACT_S3_BUCKET"), m.Bucket, "issuedigest-artifacts")
	m.Prefix = firstNonEmpty(env("ARTIFACT_S3_PREFIX"), m.Prefix)
	m.UseSSL = resolveArtifactUseSSL(appEnv, m.UseSSL)
	m.Enabled = m.Enabled || m.Endpoint != ""
}

func resolveArtifactEndpoint(appEnv string) string {
	if strings.EqualFold(strings.TrimSpace(appEnv), "local") {
		return env("ARTIFACT_MINIO_ENDPOINT")
	}
	return env("ARTIFACT_S3_ENDPOINT")
}

func resolveArtifactUseSSL(appEnv string, fallback bool) bool {
	if strings.EqualFold(strings.TrimSpace(appEnv), "local") {
		return false
	}
	raw := env("ARTIFACT_S3_USE_SSL")
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return true
	}
	return v
}

func applyDefaults(cfg *Config) {
	cfg.Port = normalizePort(firstNonEmpty(cfg.Port, ":8081"))
	cfg.Env = firstNonEmpty(cfg.Env, "local")
	cfg.InputPath = firstNonEmpty(cfg.InputPath, "data/labeled_issues.json")
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"http://localhost:3000"}
	}

	s := &cfg.Summarizer
	s.Provider = strings.ToLower(firstNonEmpty(s.Provider, "beam"))
	switch s.Provider {
	case "gemini":
		s.Model = firstNonEmpty(s.Model, "gemini-2.0-flash-lite")
	case "groq":
		s.Model = firstNonEmpty(s.Model, "llama-3.1-8b-instant")
	}
	s.Policy = firstNonEmpty(s.Policy, "fail-fast")
	if s.Concurrency <= 0 {
		s.Concurrency = 1
	}

	cfg.Artifact.Dir = firstNonEmpty(cfg.Artifact.Dir, "downloads")
	cfg.Artifact.Prefix = firstNonEmpty(cfg.Artifact.Prefix, "summary")
	cfg.Audit.Path = firstNonEmpty(cfg.Audit.Path, "download_log.csv")
	cfg.Manifest.Path = firstNonEmpty(cfg.Manifest.Path, "data/manifest.db")
}

func validate(cfg *Config) error {
	switch cfg.Summarizer.Provider {
	case "beam", "fake":
	case "gemini", "groq":
		if cfg.Summarizer.APIKey == "" {
			return fmt.Errorf("summarizer provider %s needs an api key", cfg.Summarizer.Provider)
		}
	default:
		return fmt.Errorf("unknown summarizer provider %q", cfg.Summarizer.Provider)
	}
	if strings.ContainsAny(cfg.Artifact.Prefix, `/\.`) {
		return fmt.Errorf("artifact prefix %q must be a plain name", cfg.Artifact.Prefix)
	}
	if cfg.Schedule != "" {
		if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
			return fmt.Errorf("invalid schedule %q: %w", cfg.Schedule, err)
		}
	}
	return nil
}

func normalizePort(port string) string {
	if strings.HasPrefix(port, ":") || strings.Contains(port, ":") {
		return port
	}
	return ":" + port
}

func env(key string) string { return strings.TrimSpace(os.Getenv(key)) }

func envInt(key string, fallback int) int {
	raw := env(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func envDuration(key string, fallback time.Duration) time.Duration {
	raw := env(key)
	if raw == "" {
		return fallback
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return v
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
