// Package config loads RivetDB's configuration from flags and environment
// variables, following the flag.*Var(&field, name, os.Getenv(ENV_X), help)
// convention in JC1738-BemiDB's src/server/config.go and the nested
// per-concern config structs in src/common/common_config.go.
package config

import (
	"encoding/base64"
	"flag"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/hotdata-dev/rivetdb/internal/rlog"
)

const (
	ENV_LOG_LEVEL       = "RIVETDB_LOG_LEVEL"
	ENV_SECRET_KEY      = "RIVETDB_SECRET_KEY"
	ENV_CATALOG_URL     = "CATALOG_DATABASE_URL"
	ENV_BLOB_ROOT       = "RIVETDB_BLOB_ROOT"
	ENV_AWS_REGION      = "AWS_REGION"
	ENV_AWS_S3_ENDPOINT = "AWS_S3_ENDPOINT"
	ENV_AWS_S3_BUCKET   = "AWS_S3_BUCKET"
	ENV_HTTP_ADDR       = "RIVETDB_HTTP_ADDR"

	ENV_FETCH_TIMEOUT  = "RIVETDB_DEFAULT_FETCH_TIMEOUT"
	ENV_GRACE_PERIOD   = "RIVETDB_REFRESH_GRACE_PERIOD"
	ENV_JOB_RETENTION  = "RIVETDB_JOB_RETENTION"
	ENV_REFRESH_PARLLM = "RIVETDB_REFRESH_PARALLELISM"

	DefaultLogLevel          = rlog.LevelInfo
	DefaultHTTPAddr          = "0.0.0.0:8090"
	DefaultFetchTimeoutSecs  = 300
	DefaultGracePeriodSecs   = 60
	DefaultJobRetentionSecs  = 3600
	DefaultRefreshConcurrent = 5
)

// RuntimeEnvPrefix overrides config fields from RUNTIMEDB_* environment
// variables, per spec.md §6 ("RUNTIMEDB_* prefix overrides config file
// fields"). Applied last, after flags/defaults, so it always wins.
const RuntimeEnvPrefix = "RUNTIMEDB_"

type AwsConfig struct {
	Region     string
	S3Endpoint string
	S3Bucket   string
}

type Config struct {
	LogLevel   string
	SecretKey  []byte // decoded 32 bytes, nil if RIVETDB_SECRET_KEY unset
	CatalogURL string // "sqlite://path" or "postgres://..."
	BlobRoot   string // local staging root, also default file:// root
	Aws        AwsConfig
	HTTPAddr   string

	DefaultFetchTimeoutSecs int
	GracePeriodSecs         int
	JobRetentionSecs        int
	RefreshParallelism      int
}

func (c *Config) GetLogLevel() string { return c.LogLevel }

// Load parses flags/env into a Config. It validates neither cross-field
// requirements nor catalog URL presence (catalog.Open reports a missing
// URL) — callers (e.g. secret routes)
// decide what's fatal for them, matching spec.md §6's "core still operates
// for non-secret-bearing connections" requirement.
func Load(args []string) (*Config, error) {
	fs := flag.NewFlagSet("rivetdbd", flag.ContinueOnError)
	cfg := &Config{}

	fs.StringVar(&cfg.LogLevel, "log-level", os.Getenv(ENV_LOG_LEVEL), "Log level: ERROR, WARN, INFO, DEBUG, TRACE")
	fs.StringVar(&cfg.CatalogURL, "catalog-database-url", os.Getenv(ENV_CATALOG_URL), "Catalog store URL (sqlite://path or postgres://...)")
	fs.StringVar(&cfg.BlobRoot, "blob-root", os.Getenv(ENV_BLOB_ROOT), "Root directory for local blob staging/storage")
	fs.StringVar(&cfg.Aws.Region, "aws-region", os.Getenv(ENV_AWS_REGION), "AWS region for S3 blob backend")
	fs.StringVar(&cfg.Aws.S3Endpoint, "aws-s3-endpoint", os.Getenv(ENV_AWS_S3_ENDPOINT), "AWS S3 endpoint")
	fs.StringVar(&cfg.Aws.S3Bucket, "aws-s3-bucket", os.Getenv(ENV_AWS_S3_BUCKET), "AWS S3 bucket for blob backend")
	fs.StringVar(&cfg.HTTPAddr, "http-addr", os.Getenv(ENV_HTTP_ADDR), "Address for the HTTP adapter to listen on")
	fs.IntVar(&cfg.DefaultFetchTimeoutSecs, "fetch-timeout", 0, "Default per-connection fetch timeout in seconds")
	fs.IntVar(&cfg.GracePeriodSecs, "grace-period", 0, "Grace period before deleting a replaced artifact, in seconds")
	fs.IntVar(&cfg.JobRetentionSecs, "job-retention", 0, "Retention window for terminal async refresh jobs, in seconds")
	fs.IntVar(&cfg.RefreshParallelism, "refresh-parallelism", 0, "Default bounded parallelism for connection-wide refresh")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	applyRuntimeEnvOverrides(cfg, fs)

	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	} else if !slices.Contains(rlog.Levels, cfg.LogLevel) {
		return nil, fmt.Errorf("invalid log level %q, must be one of %s", cfg.LogLevel, strings.Join(rlog.Levels, ", "))
	}

	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = DefaultHTTPAddr
	}
	if cfg.DefaultFetchTimeoutSecs == 0 {
		cfg.DefaultFetchTimeoutSecs = envInt(ENV_FETCH_TIMEOUT, DefaultFetchTimeoutSecs)
	}
	if cfg.GracePeriodSecs == 0 {
		cfg.GracePeriodSecs = envInt(ENV_GRACE_PERIOD, DefaultGracePeriodSecs)
	}
	if cfg.JobRetentionSecs == 0 {
		cfg.JobRetentionSecs = envInt(ENV_JOB_RETENTION, DefaultJobRetentionSecs)
	}
	if cfg.RefreshParallelism == 0 {
		cfg.RefreshParallelism = envInt(ENV_REFRESH_PARLLM, DefaultRefreshConcurrent)
	}

	if keyB64 := os.Getenv(ENV_SECRET_KEY); keyB64 != "" {
		key, err := base64.StdEncoding.DecodeString(keyB64)
		if err != nil {
			return nil, fmt.Errorf("%s is not valid base64: %w", ENV_SECRET_KEY, err)
		}
		if len(key) != 32 {
			return nil, fmt.Errorf("%s must decode to 32 bytes, got %d", ENV_SECRET_KEY, len(key))
		}
		cfg.SecretKey = key
	}

	return cfg, nil
}

func envInt(name string, def int) int {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// applyRuntimeEnvOverrides scans RUNTIMEDB_* variables and overrides the
// matching flag-set string/int fields by name, per spec.md §6.
func applyRuntimeEnvOverrides(cfg *Config, fs *flag.FlagSet) {
	for _, e := range os.Environ() {
		parts := strings.SplitN(e, "=", 2)
		if len(parts) != 2 || !strings.HasPrefix(parts[0], RuntimeEnvPrefix) {
			continue
		}
		flagName := strings.ToLower(strings.ReplaceAll(strings.TrimPrefix(parts[0], RuntimeEnvPrefix), "_", "-"))
		if f := fs.Lookup(flagName); f != nil {
			_ = f.Value.Set(parts[1])
		}
	}
}
