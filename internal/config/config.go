// Package config assembles the worker configuration from its positional
// arguments (`[width] [height] [codec]`) and ENCBRIDGE_* environment
// variables.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/zsiec/encbridge/internal/channel"
	"github.com/zsiec/encbridge/internal/codec"
	"github.com/zsiec/encbridge/internal/encode"
	"github.com/zsiec/encbridge/internal/layout"
	"github.com/zsiec/encbridge/internal/worker"
)

const (
	DefaultWidth  = 1920
	DefaultHeight = 1080
)

// Config holds the worker configuration.
type Config struct {
	// Encoder
	Width     int
	Height    int
	Codec     codec.Kind
	BitRate   int64
	FrameRate int
	// Scaler names the colour converter: "sws" or "go".
	Scaler string

	// Transport
	Name              string
	ShmDir            string
	Acknowledge       bool
	AckTimeout        time.Duration
	StrictPixelFormat bool
	RetryBackoff      time.Duration
	Layout            layout.Layout

	// Process
	AdminAddr string
	AdminTLS  bool
	Debug     bool

	// Warnings lists inputs that were ignored or replaced by defaults.
	Warnings []string
}

// Load parses args (without the program name) and reads the environment
// through getenv, typically os.Getenv.
func Load(args []string, getenv func(string) string) (*Config, error) {
	if len(args) > 3 {
		return nil, fmt.Errorf("config: too many arguments: usage: encbridge [width] [height] [codec]")
	}
	e := env{getenv: getenv}
	c := &Config{
		Width:     DefaultWidth,
		Height:    DefaultHeight,
		Codec:     codec.H264,
		BitRate:   e.int64("ENCBRIDGE_BITRATE", encode.DefaultBitRate),
		FrameRate: e.int("ENCBRIDGE_FRAMERATE", encode.DefaultFrameRate),
		Scaler:    e.str("ENCBRIDGE_SCALER", "sws"),

		Name:              e.str("ENCBRIDGE_NAME", channel.DefaultName),
		ShmDir:            e.str("ENCBRIDGE_SHM_DIR", ""),
		Acknowledge:       e.bool("ENCBRIDGE_ACK", false),
		AckTimeout:        e.duration("ENCBRIDGE_ACK_TIMEOUT", channel.DefaultAckTimeout),
		StrictPixelFormat: e.bool("ENCBRIDGE_STRICT_PIXFMT", true),
		RetryBackoff:      e.duration("ENCBRIDGE_RETRY_BACKOFF", worker.DefaultRetryBackoff),

		Layout: layout.Layout{
			FrameCapacity:  e.int("ENCBRIDGE_FRAME_CAPACITY", layout.DefaultFrameCapacity),
			PacketCapacity: e.int("ENCBRIDGE_PACKET_CAPACITY", layout.DefaultPacketCapacity),
		},

		AdminAddr: e.str("ADMIN_ADDR", ""),
		AdminTLS:  e.bool("ADMIN_TLS", false),
		Debug:     e.str("DEBUG", "") != "",
	}
	c.Warnings = e.warnings

	if len(args) > 0 {
		w, err := dimension("width", args[0])
		if err != nil {
			return nil, err
		}
		c.Width = w
	}
	if len(args) > 1 {
		h, err := dimension("height", args[1])
		if err != nil {
			return nil, err
		}
		c.Height = h
	}
	if len(args) > 2 {
		k, ok := codec.ParseKind(args[2])
		if !ok {
			c.Warnings = append(c.Warnings, fmt.Sprintf("unknown codec %q, using h264", args[2]))
		}
		c.Codec = k
	}

	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) validate() error {
	if c.BitRate <= 0 {
		return fmt.Errorf("config: ENCBRIDGE_BITRATE must be positive, got %d", c.BitRate)
	}
	if c.FrameRate <= 0 {
		return fmt.Errorf("config: ENCBRIDGE_FRAMERATE must be positive, got %d", c.FrameRate)
	}
	if c.Scaler != "sws" && c.Scaler != "go" {
		return fmt.Errorf("config: ENCBRIDGE_SCALER must be sws or go, got %q", c.Scaler)
	}
	if err := c.Layout.Validate(); err != nil {
		return fmt.Errorf("config: ENCBRIDGE_FRAME_CAPACITY/ENCBRIDGE_PACKET_CAPACITY: %w", err)
	}
	return nil
}

// ChannelConfig returns the transport settings.
func (c *Config) ChannelConfig() channel.Config {
	return channel.Config{
		Name:              c.Name,
		Dir:               c.ShmDir,
		Acknowledge:       c.Acknowledge,
		AckTimeout:        c.AckTimeout,
		StrictPixelFormat: c.StrictPixelFormat,
		Layout:            c.Layout,
	}
}

// EncodeConfig returns the pipeline settings.
func (c *Config) EncodeConfig() encode.Config {
	return encode.Config{
		Kind:      c.Codec,
		Width:     c.Width,
		Height:    c.Height,
		BitRate:   c.BitRate,
		FrameRate: c.FrameRate,
	}
}

func dimension(name, s string) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("config: %s must be a positive integer, got %q", name, s)
	}
	return v, nil
}

// env reads typed variables with defaults, recording values it could not
// parse.
type env struct {
	getenv   func(string) string
	warnings []string
}

func (e *env) str(key, fallback string) string {
	if v := strings.TrimSpace(e.getenv(key)); v != "" {
		return v
	}
	return fallback
}

func (e *env) int(key string, fallback int) int {
	return int(e.int64(key, int64(fallback)))
}

func (e *env) int64(key string, fallback int64) int64 {
	v := e.str(key, "")
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		e.warn(key, v)
		return fallback
	}
	return n
}

func (e *env) bool(key string, fallback bool) bool {
	v := e.str(key, "")
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.warn(key, v)
		return fallback
	}
	return b
}

func (e *env) duration(key string, fallback time.Duration) time.Duration {
	v := e.str(key, "")
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		e.warn(key, v)
		return fallback
	}
	return d
}

func (e *env) warn(key, value string) {
	e.warnings = append(e.warnings, fmt.Sprintf("ignoring %s=%q", key, value))
}
