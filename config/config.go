// Package config loads the process settings once at startup. The resulting
// Settings value is immutable and handed explicitly to every component.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Preview failure policies applied after the collection has been committed.
const (
	PreviewFailureKeep     = "keep"
	PreviewFailureRollback = "rollback"
)

// Settings holds every tunable of the service.
type Settings struct {
	Port  string
	UIURL string

	DatabaseDriver string
	DatabaseDSN    string

	DataDir    string
	StagingDir string
	SourcesDir string
	PreviewDir string

	ParserPath           string
	ParserTimeout        time.Duration
	ParserMaxConcurrency int64

	PreviewFrameDelay    time.Duration
	PreviewFramePrefix   string
	PreviewMaxDimension  int
	PreviewFailurePolicy string

	KeycloakRealmURL string
	HS256Secret      string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
	MinioPublicURL string

	LogLevel string
	LogFile  string
	LogJSON  bool

	MaxUploadBytes int64
	StagingMaxAge  time.Duration
}

func defaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("ui_url", "http://localhost:3000")
	v.SetDefault("database_dsn", "data/caff.db")
	v.SetDefault("data_dir", "./data")
	v.SetDefault("parser_path", "/caff/parser/caff_parser")
	v.SetDefault("parser_timeout", "30s")
	v.SetDefault("parser_max_concurrency", 4)
	v.SetDefault("preview_frame_delay", "40ms")
	v.SetDefault("preview_frame_prefix", "preview")
	v.SetDefault("preview_max_dimension", 512)
	v.SetDefault("preview_failure_policy", PreviewFailureKeep)
	v.SetDefault("redis_db", 0)
	v.SetDefault("log_level", "info")
	v.SetDefault("max_upload_bytes", 64*1024*1024)
	v.SetDefault("staging_max_age", "24h")
}

// Load reads .env (when present), an optional CONFIG_FILE and the process
// environment, in increasing order of precedence.
func Load() (Settings, error) {
	_ = godotenv.Load()

	v := viper.New()
	defaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file := strings.TrimSpace(v.GetString("config_file")); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Settings{}, fmt.Errorf("config: read %s: %w", file, err)
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (Settings, error) {
	dataDir := strings.TrimSpace(v.GetString("data_dir"))
	s := Settings{
		Port:  strings.TrimSpace(v.GetString("port")),
		UIURL: strings.TrimSpace(v.GetString("ui_url")),

		DatabaseDriver: strings.TrimSpace(v.GetString("database_driver")),
		DatabaseDSN:    strings.TrimSpace(v.GetString("database_dsn")),

		DataDir:    dataDir,
		StagingDir: dirOr(v.GetString("staging_dir"), filepath.Join(dataDir, "out")),
		SourcesDir: dirOr(v.GetString("sources_dir"), filepath.Join(dataDir, "sources")),
		PreviewDir: dirOr(v.GetString("preview_dir"), filepath.Join(dataDir, "preview")),

		ParserPath:           strings.TrimSpace(v.GetString("parser_path")),
		ParserTimeout:        v.GetDuration("parser_timeout"),
		ParserMaxConcurrency: v.GetInt64("parser_max_concurrency"),

		PreviewFrameDelay:    v.GetDuration("preview_frame_delay"),
		PreviewFramePrefix:   strings.TrimSpace(v.GetString("preview_frame_prefix")),
		PreviewMaxDimension:  v.GetInt("preview_max_dimension"),
		PreviewFailurePolicy: strings.ToLower(strings.TrimSpace(v.GetString("preview_failure_policy"))),

		KeycloakRealmURL: strings.TrimSuffix(strings.TrimSpace(v.GetString("keycloak_realm_url")), "/"),
		HS256Secret:      v.GetString("auth_hs256_secret"),

		RedisAddr:     strings.TrimSpace(v.GetString("redis_addr")),
		RedisPassword: v.GetString("redis_password"),
		RedisDB:       v.GetInt("redis_db"),

		MinioEndpoint:  strings.TrimSpace(v.GetString("minio_endpoint")),
		MinioAccessKey: strings.TrimSpace(v.GetString("minio_access_key")),
		MinioSecretKey: strings.TrimSpace(v.GetString("minio_secret_key")),
		MinioBucket:    strings.TrimSpace(v.GetString("minio_bucket")),
		MinioUseSSL:    v.GetBool("minio_use_ssl"),
		MinioPublicURL: strings.TrimSpace(v.GetString("minio_public_url")),

		LogLevel: strings.TrimSpace(v.GetString("log_level")),
		LogFile:  strings.TrimSpace(v.GetString("log_file")),
		LogJSON:  v.GetBool("log_json"),

		MaxUploadBytes: v.GetInt64("max_upload_bytes"),
		StagingMaxAge:  v.GetDuration("staging_max_age"),
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func dirOr(value, fallback string) string {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		return trimmed
	}
	return fallback
}

// Validate rejects settings the service cannot run with.
func (s Settings) Validate() error {
	var errs []error
	if s.DatabaseDSN == "" {
		errs = append(errs, errors.New("config: DATABASE_DSN is required"))
	}
	if s.DataDir == "" {
		errs = append(errs, errors.New("config: DATA_DIR is required"))
	}
	if s.ParserPath == "" {
		errs = append(errs, errors.New("config: PARSER_PATH is required"))
	}
	if s.ParserTimeout < 0 {
		errs = append(errs, fmt.Errorf("config: PARSER_TIMEOUT must not be negative, got %s", s.ParserTimeout))
	}
	if s.ParserMaxConcurrency < 1 {
		errs = append(errs, fmt.Errorf("config: PARSER_MAX_CONCURRENCY must be at least 1, got %d", s.ParserMaxConcurrency))
	}
	if s.PreviewFrameDelay <= 0 {
		errs = append(errs, fmt.Errorf("config: PREVIEW_FRAME_DELAY must be positive, got %s", s.PreviewFrameDelay))
	}
	if s.PreviewFramePrefix == "" {
		errs = append(errs, errors.New("config: PREVIEW_FRAME_PREFIX is required"))
	}
	if s.PreviewMaxDimension < 0 {
		errs = append(errs, fmt.Errorf("config: PREVIEW_MAX_DIMENSION must not be negative, got %d", s.PreviewMaxDimension))
	}
	switch s.PreviewFailurePolicy {
	case PreviewFailureKeep, PreviewFailureRollback:
	default:
		errs = append(errs, fmt.Errorf("config: PREVIEW_FAILURE_POLICY must be %q or %q, got %q", PreviewFailureKeep, PreviewFailureRollback, s.PreviewFailurePolicy))
	}
	if s.MaxUploadBytes <= 0 {
		errs = append(errs, fmt.Errorf("config: MAX_UPLOAD_BYTES must be positive, got %d", s.MaxUploadBytes))
	}
	return errors.Join(errs...)
}

// RedisEnabled reports whether a Redis address is configured.
func (s Settings) RedisEnabled() bool {
	return s.RedisAddr != ""
}

// MinioEnabled reports whether the preview mirror has a complete configuration.
func (s Settings) MinioEnabled() bool {
	return s.MinioEndpoint != "" && s.MinioAccessKey != "" && s.MinioSecretKey != "" && s.MinioBucket != ""
}
