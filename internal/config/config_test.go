package config

import (
	"strings"
	"testing"
	"time"

	"github.com/zsiec/encbridge/internal/channel"
	"github.com/zsiec/encbridge/internal/codec"
	"github.com/zsiec/encbridge/internal/encode"
	"github.com/zsiec/encbridge/internal/layout"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()
	c, err := Load(nil, envMap(nil))
	if err != nil {
		t.Fatal(err)
	}
	if c.Width != 1920 || c.Height != 1080 || c.Codec != codec.H264 {
		t.Errorf("geometry: got %dx%d %s", c.Width, c.Height, c.Codec)
	}
	if c.BitRate != encode.DefaultBitRate || c.FrameRate != encode.DefaultFrameRate {
		t.Errorf("rate: got %d bps %d fps", c.BitRate, c.FrameRate)
	}
	if c.Name != channel.DefaultName || c.Acknowledge || !c.StrictPixelFormat {
		t.Errorf("transport: got %+v", c)
	}
	if c.ChannelConfig().Layout != layout.Default {
		t.Errorf("layout: got %+v, want default", c.ChannelConfig().Layout)
	}
	if c.Scaler != "sws" || c.AdminAddr != "" || c.Debug {
		t.Errorf("process: got %+v", c)
	}
	if len(c.Warnings) != 0 {
		t.Errorf("unexpected warnings: %v", c.Warnings)
	}
}

func TestLoadPositional(t *testing.T) {
	t.Parallel()
	tests := []struct {
		args          []string
		width, height int
		kind          codec.Kind
		warn          bool
	}{
		{[]string{"1280"}, 1280, 1080, codec.H264, false},
		{[]string{"1280", "720"}, 1280, 720, codec.H264, false},
		{[]string{"3840", "2160", "hevc"}, 3840, 2160, codec.HEVC, false},
		{[]string{"3840", "2160", "H265"}, 3840, 2160, codec.HEVC, false},
		{[]string{"640", "480", "av1"}, 640, 480, codec.H264, true},
	}
	for _, tt := range tests {
		t.Run(strings.Join(tt.args, "_"), func(t *testing.T) {
			t.Parallel()
			c, err := Load(tt.args, envMap(nil))
			if err != nil {
				t.Fatal(err)
			}
			if c.Width != tt.width || c.Height != tt.height || c.Codec != tt.kind {
				t.Errorf("got %dx%d %s", c.Width, c.Height, c.Codec)
			}
			if got := len(c.Warnings) > 0; got != tt.warn {
				t.Errorf("warnings %v, want warn=%v", c.Warnings, tt.warn)
			}
		})
	}
}

func TestLoadRejects(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		args []string
		env  map[string]string
	}{
		{"width not a number", []string{"wide"}, nil},
		{"zero height", []string{"1920", "0"}, nil},
		{"negative width", []string{"-2"}, nil},
		{"too many args", []string{"1", "2", "h264", "extra"}, nil},
		{"negative bitrate", nil, map[string]string{"ENCBRIDGE_BITRATE": "-5"}},
		{"zero framerate", nil, map[string]string{"ENCBRIDGE_FRAMERATE": "0"}},
		{"unknown scaler", nil, map[string]string{"ENCBRIDGE_SCALER": "gpu"}},
		{"zero frame capacity", nil, map[string]string{"ENCBRIDGE_FRAME_CAPACITY": "0"}},
		{"negative packet capacity", nil, map[string]string{"ENCBRIDGE_PACKET_CAPACITY": "-1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := Load(tt.args, envMap(tt.env)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoadEnv(t *testing.T) {
	t.Parallel()
	c, err := Load(nil, envMap(map[string]string{
		"ENCBRIDGE_NAME":            "CAM_A",
		"ENCBRIDGE_SHM_DIR":         "/tmp/enc",
		"ENCBRIDGE_BITRATE":         "12000000",
		"ENCBRIDGE_FRAMERATE":       "60",
		"ENCBRIDGE_ACK":             "true",
		"ENCBRIDGE_ACK_TIMEOUT":     "250ms",
		"ENCBRIDGE_STRICT_PIXFMT":   "false",
		"ENCBRIDGE_SCALER":          "go",
		"ENCBRIDGE_RETRY_BACKOFF":   "5ms",
		"ENCBRIDGE_FRAME_CAPACITY":  "65536",
		"ENCBRIDGE_PACKET_CAPACITY": "4096",
		"ADMIN_ADDR":                ":9100",
		"ADMIN_TLS":                 "1",
		"DEBUG":                     "1",
	}))
	if err != nil {
		t.Fatal(err)
	}

	cc := c.ChannelConfig()
	if cc.Name != "CAM_A" || cc.Dir != "/tmp/enc" || !cc.Acknowledge ||
		cc.AckTimeout != 250*time.Millisecond || cc.StrictPixelFormat ||
		cc.Layout != (layout.Layout{FrameCapacity: 65536, PacketCapacity: 4096}) {
		t.Errorf("channel config: %+v", cc)
	}
	ec := c.EncodeConfig()
	if ec.BitRate != 12_000_000 || ec.FrameRate != 60 || ec.Width != 1920 {
		t.Errorf("encode config: %+v", ec)
	}
	if c.Scaler != "go" || c.RetryBackoff != 5*time.Millisecond ||
		c.AdminAddr != ":9100" || !c.AdminTLS || !c.Debug {
		t.Errorf("config: %+v", c)
	}
}

func TestLoadIgnoresMalformedEnv(t *testing.T) {
	t.Parallel()
	c, err := Load(nil, envMap(map[string]string{
		"ENCBRIDGE_BITRATE":     "fast",
		"ENCBRIDGE_ACK":         "maybe",
		"ENCBRIDGE_ACK_TIMEOUT": "-1s",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if c.BitRate != encode.DefaultBitRate || c.Acknowledge || c.AckTimeout != channel.DefaultAckTimeout {
		t.Errorf("defaults not kept: %+v", c)
	}
	if len(c.Warnings) != 3 {
		t.Errorf("warnings: got %v, want 3", c.Warnings)
	}
}
