// Package config loads service configuration from YAML with environment
// overrides for secrets and deployment-specific values.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default configuration file location.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"logLevel"`

	DatabaseURL string `yaml:"databaseURL"`

	MinioEndpoint      string `yaml:"minioEndpoint"`
	MinioAccessKey     string `yaml:"minioAccessKey"`
	MinioSecretKey     string `yaml:"minioSecretKey"`
	MinioStagingBucket string `yaml:"minioStagingBucket"`
	MinioVaultBucket   string `yaml:"minioVaultBucket"`
	MinioUseSSL        bool   `yaml:"minioUseSSL"`

	RedisAddr         string   `yaml:"redisAddr"`
	RedisPassword     string   `yaml:"redisPassword"`
	UploadRateLimit   int      `yaml:"uploadRateLimit"`
	UploadRateWindow  string   `yaml:"uploadRateWindow"`
	TrustedProxyCIDRs []string `yaml:"trustedProxyCIDRs"`

	JWKSURL     string `yaml:"jwksURL"`
	JWTIssuer   string `yaml:"jwtIssuer"`
	JWTAudience string `yaml:"jwtAudience"`
	DevAuth     bool   `yaml:"devAuth"`

	GCPProjectID     string `yaml:"gcpProjectID"`
	GCPLocation      string `yaml:"gcpLocation"`
	DocAIProcessorID string `yaml:"docaiProcessorID"`
	GCPAccessToken   string `yaml:"gcpAccessToken"`
	LocalAdapters    bool   `yaml:"localAdapters"`

	GeminiAPIKey string `yaml:"geminiAPIKey"`
	GeminiModel  string `yaml:"geminiModel"`

	RasterDPI          int    `yaml:"rasterDPI"`
	PipelineTimeout    string `yaml:"pipelineTimeout"`
	ExtractionTimeout  string `yaml:"extractionTimeout"`
	UpstreamRetries    int    `yaml:"upstreamRetries"`
	UpstreamRetryDelay string `yaml:"upstreamRetryDelay"`
}

// Load reads config from path (defaults to config.yaml).
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
	// Override with environment variables.
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.MinioEndpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.MinioAccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.MinioSecretKey = v
	}
	if v := os.Getenv("MINIO_USE_SSL"); v == "true" {
		cfg.MinioUseSSL = true
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("JWKS_URL"); v != "" {
		cfg.JWKSURL = v
	}
	if v := os.Getenv("GCP_ACCESS_TOKEN"); v != "" {
		cfg.GCPAccessToken = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		cfg.GeminiAPIKey = v
	}
	if v := os.Getenv("UPLOAD_RATE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.UploadRateLimit = n
		}
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if cfg.MinioEndpoint == "" {
		return errors.New("config: minioEndpoint is required (set in config.yaml)")
	}
	if cfg.MinioAccessKey == "" || cfg.MinioSecretKey == "" {
		return errors.New("config: minio credentials are required (set in config.yaml or MINIO_ACCESS_KEY/MINIO_SECRET_KEY)")
	}
	if cfg.MinioStagingBucket == "" || cfg.MinioVaultBucket == "" {
		return errors.New("config: minioStagingBucket and minioVaultBucket are required (set in config.yaml)")
	}
	if cfg.MinioStagingBucket == cfg.MinioVaultBucket {
		return errors.New("config: staging and vault buckets must differ")
	}
	if !cfg.DevAuth && cfg.JWKSURL == "" {
		return errors.New("config: jwksURL is required unless devAuth is enabled")
	}
	if !cfg.LocalAdapters {
		if cfg.GCPProjectID == "" || cfg.DocAIProcessorID == "" {
			return errors.New("config: gcpProjectID and docaiProcessorID are required unless localAdapters is enabled")
		}
		if cfg.GCPAccessToken == "" {
			return errors.New("config: gcpAccessToken is required unless localAdapters is enabled (set GCP_ACCESS_TOKEN)")
		}
	}
	if cfg.GeminiAPIKey == "" && !cfg.LocalAdapters {
		return errors.New("config: geminiAPIKey is required unless localAdapters is enabled (set GEMINI_API_KEY)")
	}
	return nil
}

// Duration parses a duration field, falling back when empty or invalid.
func Duration(value string, fallback time.Duration) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
