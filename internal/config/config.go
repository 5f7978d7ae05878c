// Package config loads server configuration from environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"

	"github.com/logreach/logreach/internal/logging"
)

// Bounds for clamped options. Out-of-range values fold to these instead of
// failing startup.
const (
	MaxFileSizeCap     = 100 * 1024 * 1024
	MaxPreviewLinesCap = 1000
	ChunkSizeCap       = 10 * 1024 * 1024
	CacheSizeCap       = 1024 * 1024 * 1024
	TimeoutCap         = 5 * time.Minute
)

// Options holds all server configuration. Size and timeout fields are
// clamped to documented bounds by Clamp, never rejected.
type Options struct {
	// Server
	ListenAddr  string `envconfig:"LISTEN_ADDR" default:":8080"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`

	// Logging
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`

	// Remote identity
	SSHHost     string `envconfig:"SSH_HOST"`
	SSHPort     int    `envconfig:"SSH_PORT" default:"22"`
	SSHUsername string `envconfig:"SSH_USERNAME"`
	SSHPassword string `envconfig:"SSH_PASSWORD"`

	// Engine defaults
	DefaultLogPath  string `envconfig:"DEFAULT_LOG_PATH" default:"/var/log"`
	MaxFileSize     int64  `envconfig:"MAX_FILE_SIZE" default:"1048576"`
	MaxPreviewLines int    `envconfig:"MAX_PREVIEW_LINES" default:"50"`
	ChunkSize       int64  `envconfig:"CHUNK_SIZE" default:"0"` // 0 = pick by file size
	CacheSize       int64  `envconfig:"CACHE_SIZE" default:"104857600"`

	// Session timeouts
	ConnectTimeout time.Duration `envconfig:"CONNECT_TIMEOUT" default:"30s"`
	CommandTimeout time.Duration `envconfig:"COMMAND_TIMEOUT" default:"60s"`
}

// Load reads configuration from LOGREACH_* environment variables, applies
// bounds, and validates that a remote identity is present.
func Load() (*Options, error) {
	var opts Options
	if err := envconfig.Process("LOGREACH", &opts); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}
	opts.Clamp()

	if opts.SSHHost == "" {
		return nil, fmt.Errorf("LOGREACH_SSH_HOST is required")
	}
	if opts.SSHUsername == "" {
		return nil, fmt.Errorf("LOGREACH_SSH_USERNAME is required")
	}
	if opts.SSHPassword == "" {
		return nil, fmt.Errorf("LOGREACH_SSH_PASSWORD is required")
	}
	return &opts, nil
}

// Clamp folds out-of-range option values to their documented bounds and
// logs each adjustment.
func (o *Options) Clamp() {
	o.MaxFileSize = clampInt64("max_file_size", o.MaxFileSize, 1, MaxFileSizeCap)
	o.MaxPreviewLines = int(clampInt64("max_preview_lines", int64(o.MaxPreviewLines), 1, MaxPreviewLinesCap))
	if o.ChunkSize != 0 {
		o.ChunkSize = clampInt64("chunk_size", o.ChunkSize, 1, ChunkSizeCap)
	}
	o.CacheSize = clampInt64("cache_size", o.CacheSize, 1024, CacheSizeCap)
	o.ConnectTimeout = clampDuration("connect_timeout", o.ConnectTimeout, time.Second, TimeoutCap)
	o.CommandTimeout = clampDuration("command_timeout", o.CommandTimeout, time.Second, TimeoutCap)
	if o.SSHPort < 1 || o.SSHPort > 65535 {
		logging.L().Warn("option clamped",
			zap.String("option", "ssh_port"),
			zap.Int("value", o.SSHPort),
			zap.Int("clamped_to", 22))
		o.SSHPort = 22
	}
}

func clampInt64(name string, v, lo, hi int64) int64 {
	c := v
	if c < lo {
		c = lo
	}
	if c > hi {
		c = hi
	}
	if c != v {
		logging.L().Warn("option clamped",
			zap.String("option", name),
			zap.Int64("value", v),
			zap.Int64("clamped_to", c))
	}
	return c
}

func clampDuration(name string, v, lo, hi time.Duration) time.Duration {
	c := v
	if c < lo {
		c = lo
	}
	if c > hi {
		c = hi
	}
	if c != v {
		logging.L().Warn("option clamped",
			zap.String("option", name),
			zap.Duration("value", v),
			zap.Duration("clamped_to", c))
	}
	return c
}
