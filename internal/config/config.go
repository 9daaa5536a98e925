// Package config resolves the runtime configuration for animate-cli.
//
// Values come from the process environment, optionally seeded from a .env
// file. The resolved Config is built once at startup and handed by pointer
// to every component constructor; nothing in this package keeps global state.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/fpang/animate-mix-cli/internal/pricing"
)

// Defaults mirror the published limits of the animate-mix service.
const (
	DefaultBaseURL        = "https://dashscope.aliyuncs.com/api/v1"
	DefaultRegion         = "cn-beijing"
	DefaultModel          = "wan2.2-animate-mix"
	DefaultPollInterval   = 15 * time.Second
	DefaultMaxWait        = 600 * time.Second
	DefaultUnknownGrace   = 15 * time.Second
	DefaultMaxRetries     = 3
	DefaultBackoffFactor  = 2.0
	DefaultMaxRPS         = 5
	DefaultMaxConcurrent  = 1
	DefaultBucketName     = "wan22-videos"
	DefaultBucketEndpoint = "oss-cn-beijing.aliyuncs.com"
	DefaultBucketPrefix   = "wan22/"
	DefaultFaceMinQuality = 5.0
)

// BucketConfig holds credentials and addressing for the direct-bucket
// upload strategy.
type BucketConfig struct {
	AccessKeyID     string
	SecretAccessKey string
	Name            string
	Endpoint        string
	Region          string
	Prefix          string
	// SignURLExpiry > 0 makes uploads return presigned URLs instead of
	// public object URLs.
	SignURLExpiry time.Duration
}

// Config is the fully resolved configuration.
type Config struct {
	APIKey string
	// APIKeySource records where the key came from ("env", "flag", "ssm").
	APIKeySource   string
	SSMAPIKeyParam string

	BaseURL string
	Region  string
	Model   string

	DefaultMode pricing.Mode

	PollInterval time.Duration
	MaxWait      time.Duration
	UnknownGrace time.Duration

	MaxRetries    int
	BackoffFactor float64

	MaxRPS            float64
	MaxConcurrentJobs int

	UseBucket bool
	Bucket    BucketConfig

	FaceDetection   bool
	FaceCascadePath string
	FaceMinQuality  float64

	OutputDir string
	TempDir   string
	LogDir    string
	LogLevel  string
}

// Load reads the given .env files (".env" when none are named) and then
// the environment. A missing .env file is not an error.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				log.Debug().Str("file", f).Msg("No .env file found, using process environment")
				continue
			}
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
		log.Debug().Str("file", f).Msg("Loaded .env file")
	}
	return FromEnv()
}

// FromEnv builds a Config from environment variables only.
func FromEnv() (*Config, error) {
	p := &envParser{}

	cfg := &Config{
		APIKey:         os.Getenv("DASHSCOPE_API_KEY"),
		SSMAPIKeyParam: os.Getenv("SSM_API_KEY_PARAM"),
		BaseURL:        strings.TrimRight(envOrDefault("DASHSCOPE_BASE_URL", DefaultBaseURL), "/"),
		Region:         envOrDefault("DASHSCOPE_REGION", DefaultRegion),
		Model:          envOrDefault("DASHSCOPE_MODEL", DefaultModel),

		PollInterval: p.duration("POLLING_INTERVAL", DefaultPollInterval),
		MaxWait:      p.duration("MAX_WAIT_TIME", DefaultMaxWait),
		UnknownGrace: p.duration("UNKNOWN_STATUS_GRACE", DefaultUnknownGrace),

		MaxRetries:    p.int("MAX_RETRIES", DefaultMaxRetries),
		BackoffFactor: p.float("RETRY_BACKOFF_FACTOR", DefaultBackoffFactor),

		MaxRPS:            p.float("MAX_RPS", DefaultMaxRPS),
		MaxConcurrentJobs: p.int("MAX_CONCURRENT_TASKS", DefaultMaxConcurrent),

		UseBucket: p.bool("USE_OSS", false),
		Bucket: BucketConfig{
			AccessKeyID:     os.Getenv("OSS_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("OSS_ACCESS_KEY_SECRET"),
			Name:            envOrDefault("OSS_BUCKET", DefaultBucketName),
			Endpoint:        envOrDefault("OSS_ENDPOINT", DefaultBucketEndpoint),
			Region:          envOrDefault("OSS_REGION", DefaultRegion),
			Prefix:          envOrDefault("OSS_PREFIX", DefaultBucketPrefix),
			SignURLExpiry:   time.Duration(p.float("OSS_SIGN_URL_HOURS", 0) * float64(time.Hour)),
		},

		FaceDetection:   p.bool("ENABLE_FACE_DETECTION", true),
		FaceCascadePath: os.Getenv("FACE_CASCADE_PATH"),
		FaceMinQuality:  p.float("FACE_DETECTION_CONFIDENCE", DefaultFaceMinQuality),

		OutputDir: envOrDefault("OUTPUT_DIR", "output"),
		TempDir:   envOrDefault("TEMP_DIR", "temp"),
		LogDir:    envOrDefault("LOG_DIR", "logs"),
		LogLevel:  envOrDefault("LOG_LEVEL", "info"),
	}
	if cfg.APIKey != "" {
		cfg.APIKeySource = "env"
	}

	mode, err := pricing.ParseMode(envOrDefault("DEFAULT_MODE", string(pricing.Standard)))
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("DEFAULT_MODE: %w", err))
	}
	cfg.DefaultMode = mode

	if len(p.errs) > 0 {
		return nil, errors.Join(p.errs...)
	}
	return cfg, nil
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []error
	if c.APIKey == "" {
		errs = append(errs, errors.New("DASHSCOPE_API_KEY is not set"))
	}
	if !c.DefaultMode.Valid() {
		errs = append(errs, fmt.Errorf("invalid default mode %q", c.DefaultMode))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, errors.New("POLLING_INTERVAL must be positive"))
	}
	if c.MaxWait <= 0 {
		errs = append(errs, errors.New("MAX_WAIT_TIME must be positive"))
	}
	if c.UnknownGrace < 0 {
		errs = append(errs, errors.New("UNKNOWN_STATUS_GRACE must not be negative"))
	}
	if c.MaxRetries < 1 {
		errs = append(errs, errors.New("MAX_RETRIES must be at least 1"))
	}
	if c.BackoffFactor < 1 {
		errs = append(errs, errors.New("RETRY_BACKOFF_FACTOR must be at least 1"))
	}
	if c.MaxRPS <= 0 {
		errs = append(errs, errors.New("MAX_RPS must be positive"))
	}
	if c.MaxConcurrentJobs < 1 {
		errs = append(errs, errors.New("MAX_CONCURRENT_TASKS must be at least 1"))
	}
	if c.UseBucket {
		if c.Bucket.AccessKeyID == "" || c.Bucket.SecretAccessKey == "" {
			errs = append(errs, errors.New("USE_OSS is enabled but OSS_ACCESS_KEY_ID/OSS_ACCESS_KEY_SECRET are not set"))
		}
		if c.Bucket.Name == "" || c.Bucket.Endpoint == "" {
			errs = append(errs, errors.New("USE_OSS is enabled but OSS_BUCKET/OSS_ENDPOINT are empty"))
		}
	}
	return errors.Join(errs...)
}

// EnsureDirs creates the output, temp, and log directories.
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.OutputDir, c.TempDir, c.LogDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// LogFile returns the path of the persistent log file, or "" when file
// logging is disabled.
func (c *Config) LogFile() string {
	if c.LogDir == "" {
		return ""
	}
	return filepath.Join(c.LogDir, "animate-cli.log")
}

// UploadStrategy names the configured upload strategy.
func (c *Config) UploadStrategy() string {
	if c.UseBucket {
		return "bucket"
	}
	return "broker"
}

// MaskedAPIKey shows only enough of the key to tell keys apart.
func (c *Config) MaskedAPIKey() string {
	return MaskSecret(c.APIKey)
}

// MaskSecret keeps the first and last four characters of s.
func MaskSecret(s string) string {
	switch {
	case s == "":
		return "(not set)"
	case len(s) <= 8:
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}

// Print writes a human-readable dump of the configuration. Secrets are masked.
func (c *Config) Print(w io.Writer) {
	fmt.Fprintln(w, "Configuration:")
	fmt.Fprintf(w, "  API key:              %s", c.MaskedAPIKey())
	if c.APIKeySource != "" {
		fmt.Fprintf(w, " (from %s)", c.APIKeySource)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  API base URL:         %s\n", c.BaseURL)
	fmt.Fprintf(w, "  Region:               %s\n", c.Region)
	fmt.Fprintf(w, "  Model:                %s\n", c.Model)
	fmt.Fprintf(w, "  Default mode:         %s\n", c.DefaultMode)
	fmt.Fprintf(w, "  Polling interval:     %s\n", c.PollInterval)
	fmt.Fprintf(w, "  Max wait time:        %s\n", c.MaxWait)
	fmt.Fprintf(w, "  Unknown status grace: %s\n", c.UnknownGrace)
	fmt.Fprintf(w, "  Max retries:          %d\n", c.MaxRetries)
	fmt.Fprintf(w, "  Backoff factor:       %.1f\n", c.BackoffFactor)
	fmt.Fprintf(w, "  Max requests/sec:     %.1f\n", c.MaxRPS)
	fmt.Fprintf(w, "  Max concurrent jobs:  %d\n", c.MaxConcurrentJobs)
	fmt.Fprintf(w, "  Upload strategy:      %s\n", c.UploadStrategy())
	if c.UseBucket {
		fmt.Fprintf(w, "  Bucket:               %s (%s)\n", c.Bucket.Name, c.Bucket.Endpoint)
		fmt.Fprintf(w, "  Bucket access key:    %s\n", MaskSecret(c.Bucket.AccessKeyID))
		fmt.Fprintf(w, "  Bucket prefix:        %s\n", c.Bucket.Prefix)
	}
	fmt.Fprintf(w, "  Face detection:       %t\n", c.FaceDetection)
	fmt.Fprintf(w, "  Output directory:     %s\n", c.OutputDir)
	fmt.Fprintf(w, "  Temp directory:       %s\n", c.TempDir)
	fmt.Fprintf(w, "  Log directory:        %s\n", c.LogDir)
	fmt.Fprintf(w, "  Log level:            %s\n", c.LogLevel)
}

func envOrDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// envParser accumulates parse errors so Load can report them together.
type envParser struct {
	errs []error
}

func (p *envParser) int(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func (p *envParser) float(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return f
}

func (p *envParser) bool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return b
}

// duration accepts plain seconds ("15", "2.5") or a Go duration ("90s", "10m").
func (p *envParser) duration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}
