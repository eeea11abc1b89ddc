package config

import (
	"time"

	"github.com/spf13/viper"
)

// Defaults reproduce the calibration of the original deployment:
// 832x1248 photos with a 100x100 mark in the bottom-right corner,
// upscaled and packaged as 900x1200 JPEGs.
func setDefaults(v *viper.Viper) {
	v.SetDefault("paths.input", "input")
	v.SetDefault("paths.clean", "output")
	v.SetDefault("paths.enhanced", "final_upscaled")
	v.SetDefault("paths.ready", "ready_for_wb")
	v.SetDefault("paths.mask", "mask_auto.png")

	v.SetDefault("mask.width", 832)
	v.SetDefault("mask.height", 1248)
	v.SetDefault("mask.mark_width", 100)
	v.SetDefault("mask.mark_height", 100)
	v.SetDefault("mask.margin_right", 0)
	v.SetDefault("mask.margin_bottom", 0)

	v.SetDefault("inpaint.engine", EngineIOPaint)
	v.SetDefault("inpaint.binary", "iopaint")
	v.SetDefault("inpaint.model", "lama")
	v.SetDefault("inpaint.device", "cpu")
	v.SetDefault("inpaint.timeout", time.Duration(0))

	v.SetDefault("enhance.model", "recraft-ai/recraft-crisp-upscale")
	v.SetDefault("enhance.base_url", "https://api.replicate.com/v1")
	v.SetDefault("enhance.connect_timeout", 60*time.Second)
	v.SetDefault("enhance.request_timeout", 300*time.Second)
	v.SetDefault("enhance.poll_interval", time.Second)
	v.SetDefault("enhance.prefix", "upscaled_")
	v.SetDefault("enhance.extensions", []string{".jpg", ".jpeg", ".png", ".webp"})
	v.SetDefault("enhance.attempts", 2)
	v.SetDefault("enhance.retry_delay", 5*time.Second)
	v.SetDefault("enhance.rate_limit_delay", 10*time.Second)
	v.SetDefault("enhance.pace", 500*time.Millisecond)

	v.SetDefault("market.width", 900)
	v.SetDefault("market.height", 1200)
	v.SetDefault("market.quality", 95)
	v.SetDefault("market.overwrite", false)

	v.SetDefault("storage.enabled", false)
	v.SetDefault("storage.bucket_name", "ready-for-wb")
	v.SetDefault("storage.use_ssl", false)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.topic", "photoprep.events")

	v.SetDefault("retry.attempts", 3)
	v.SetDefault("retry.delay", 500*time.Millisecond)
	v.SetDefault("retry.backoff", 2.0)
}
