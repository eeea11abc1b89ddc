package config

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Validate rejects values no run could succeed with. Watermark geometry is
// checked by the mask generator, which owns its rules.
func (c *Config) Validate() error {
	var problems []string

	dirs := map[string]string{
		"paths.input":    c.Paths.Input,
		"paths.clean":    c.Paths.Clean,
		"paths.enhanced": c.Paths.Enhanced,
		"paths.ready":    c.Paths.Ready,
	}
	seen := make(map[string]string, len(dirs))
	for _, key := range []string{"paths.input", "paths.clean", "paths.enhanced", "paths.ready"} {
		dir := strings.TrimSpace(dirs[key])
		if dir == "" {
			problems = append(problems, key+" is required")
			continue
		}
		clean := filepath.Clean(dir)
		if other, ok := seen[clean]; ok {
			problems = append(problems, fmt.Sprintf("%s and %s point to the same directory", other, key))
		}
		seen[clean] = key
	}
	if strings.TrimSpace(c.Paths.Mask) == "" {
		problems = append(problems, "paths.mask is required")
	}

	switch c.Inpaint.Engine {
	case EngineIOPaint:
		if strings.TrimSpace(c.Inpaint.Binary) == "" {
			problems = append(problems, "inpaint.binary is required")
		}
	case EnginePassthrough:
	default:
		problems = append(problems, fmt.Sprintf("inpaint.engine %q is not supported", c.Inpaint.Engine))
	}

	if c.Enhance.Attempts < 1 {
		problems = append(problems, "enhance.attempts must be at least 1")
	}
	if c.Enhance.RetryDelay < 0 || c.Enhance.RateLimitDelay < 0 || c.Enhance.Pace < 0 {
		problems = append(problems, "enhance delays must not be negative")
	}
	if c.Enhance.ConnectTimeout <= 0 || c.Enhance.RequestTimeout <= 0 {
		problems = append(problems, "enhance timeouts must be positive")
	}
	if len(c.Enhance.Extensions) == 0 {
		problems = append(problems, "enhance.extensions must not be empty")
	}

	if c.Market.Width <= 0 || c.Market.Height <= 0 {
		problems = append(problems, "market dimensions must be positive")
	}
	if c.Market.Quality < 1 || c.Market.Quality > 100 {
		problems = append(problems, "market.quality must be within 1..100")
	}

	if c.Storage.Enabled && (c.Storage.Endpoint == "" || c.Storage.BucketName == "") {
		problems = append(problems, "storage.endpoint and storage.bucket_name are required when storage is enabled")
	}
	if c.Kafka.Enabled && (c.Kafka.Topic == "" || len(c.Kafka.Brokers) == 0) {
		problems = append(problems, "kafka.topic and kafka.brokers are required when kafka is enabled")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrConfig, strings.Join(problems, "; "))
	}
	return nil
}
