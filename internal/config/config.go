package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ErrConfig marks configuration that cannot drive a run.
var ErrConfig = errors.New("invalid configuration")

// Inpainting engines.
const (
	EngineIOPaint     = "iopaint"
	EnginePassthrough = "passthrough"
)

// Config holds the main configuration for the application.
// It is loaded once and passed around by value; components copy the section they need.
type Config struct {
	Paths   Paths   `mapstructure:"paths"`
	Mask    Mask    `mapstructure:"mask"`
	Inpaint Inpaint `mapstructure:"inpaint"`
	Enhance Enhance `mapstructure:"enhance"`
	Market  Market  `mapstructure:"market"`
	Storage Storage `mapstructure:"storage"`
	Kafka   Kafka   `mapstructure:"kafka"`
	Retry   Retry   `mapstructure:"retry"`
}

// Paths holds the stage directories and the mask artifact location.
type Paths struct {
	Input    string `mapstructure:"input"`    // raw photos
	Clean    string `mapstructure:"clean"`    // watermark removed
	Enhanced string `mapstructure:"enhanced"` // upscaled
	Ready    string `mapstructure:"ready"`    // marketplace-ready JPEGs
	Mask     string `mapstructure:"mask"`     // generated mask PNG
}

// Mask holds the fixed watermark geometry of the deployment.
type Mask struct {
	Width        int `mapstructure:"width"`
	Height       int `mapstructure:"height"`
	MarkWidth    int `mapstructure:"mark_width"`
	MarkHeight   int `mapstructure:"mark_height"`
	MarginRight  int `mapstructure:"margin_right"`
	MarginBottom int `mapstructure:"margin_bottom"`
}

// Inpaint configures the external watermark removal tool.
type Inpaint struct {
	Engine  string        `mapstructure:"engine"` // iopaint / passthrough
	Binary  string        `mapstructure:"binary"`
	Model   string        `mapstructure:"model"`
	Device  string        `mapstructure:"device"` // cpu / cuda / mps
	Timeout time.Duration `mapstructure:"timeout"`
}

// Enhance configures the remote upscaling service and its retry policy.
type Enhance struct {
	Model          string        `mapstructure:"model"`
	APIToken       string        `mapstructure:"api_token"`
	BaseURL        string        `mapstructure:"base_url"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	Prefix         string        `mapstructure:"prefix"`     // added to every enhanced filename
	Extensions     []string      `mapstructure:"extensions"` // files picked up from the clean directory

	Attempts       int           `mapstructure:"attempts"`         // total attempts per image
	RetryDelay     time.Duration `mapstructure:"retry_delay"`      // wait after a network failure
	RateLimitDelay time.Duration `mapstructure:"rate_limit_delay"` // wait after a 429
	Pace           time.Duration `mapstructure:"pace"`             // pause between images
}

// Market holds the marketplace output format.
type Market struct {
	Width     int  `mapstructure:"width"`
	Height    int  `mapstructure:"height"`
	Quality   int  `mapstructure:"quality"`
	Overwrite bool `mapstructure:"overwrite"`
}

// Storage holds configuration for the optional S3-compatible publishing bucket.
type Storage struct {
	Enabled    bool   `mapstructure:"enabled"`
	Endpoint   string `mapstructure:"endpoint"`
	AccessKey  string `mapstructure:"access_key"`
	SecretKey  string `mapstructure:"secret_key"`
	BucketName string `mapstructure:"bucket_name"`
	Prefix     string `mapstructure:"prefix"`
	UseSSL     bool   `mapstructure:"use_ssl"`
}

// Kafka holds configuration for the optional event stream.
type Kafka struct {
	Enabled bool     `mapstructure:"enabled"`
	Topic   string   `mapstructure:"topic"`   // Kafka topic name
	Brokers []string `mapstructure:"brokers"` // List of Kafka broker addresses
}

// Retry defines the retry policy for infrastructure calls (bucket, Kafka).
type Retry struct {
	Attempts int           `mapstructure:"attempts"` // Number of retry attempts
	Delay    time.Duration `mapstructure:"delay"`    // Initial delay between retries
	Backoff  float64       `mapstructure:"backoff"`  // Backoff multiplier for delays
}

// envBindings maps secret keys to the environment variables that carry them.
var envBindings = map[string]string{
	"enhance.api_token":  "REPLICATE_API_TOKEN",
	"storage.access_key": "S3_ACCESS_KEY",
	"storage.secret_key": "S3_SECRET_KEY",
}

// Load reads the configuration from path. An empty path yields the defaults
// merged with the environment. A .env file in the working directory is loaded
// first when present.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind env %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}
