package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"

	"github.com/chronologos/godesk/internal/transport"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "godesk.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultsValid(t *testing.T) {
	c := Default()
	if err := c.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	if c.Host.Port != 8888 || c.Host.ScreenInterval != 100*time.Millisecond ||
		c.Host.ClipboardInterval != 500*time.Millisecond || c.Grace != 2*time.Second {
		t.Fatalf("unexpected defaults: %+v", c)
	}
	if c.Mode() != transport.ModeTCP {
		t.Fatalf("Mode = %q", c.Mode())
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
transport: quic
grace: 500ms
host:
  port: 9000
  screen: testpattern
  screen_interval: 50ms
viewer:
  display: 1280x720
log:
  level: debug
limits:
  max_clipboard: 4096
`)
	c, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Validate(); err != nil {
		t.Fatal(err)
	}
	if c.Mode() != transport.ModeQUIC || c.Grace != 500*time.Millisecond {
		t.Fatalf("top level not loaded: %+v", c)
	}
	if c.Host.Port != 9000 || c.Host.Screen != "testpattern" || c.Host.ScreenInterval != 50*time.Millisecond {
		t.Fatalf("host section not loaded: %+v", c.Host)
	}
	// Unset keys keep their defaults.
	if c.Host.ClipboardInterval != 500*time.Millisecond {
		t.Fatalf("default lost: %v", c.Host.ClipboardInterval)
	}
	if w, h, _ := c.DisplaySize(); w != 1280 || h != 720 {
		t.Fatalf("DisplaySize = %dx%d", w, h)
	}
	if got := c.ProtocolLimits().MaxClipboard; got != 4096 {
		t.Fatalf("MaxClipboard = %d", got)
	}
}

func TestLoadFileRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, "host:\n  prot: 9000\n")
	if _, err := LoadFile(path); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestLoadFileEmpty(t *testing.T) {
	c, err := LoadFile(writeConfig(t, ""))
	if err != nil {
		t.Fatal(err)
	}
	if c.Host.Port != 8888 {
		t.Fatalf("Port = %d", c.Host.Port)
	}
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("err = %v", err)
	}
}

func TestPath(t *testing.T) {
	t.Setenv(EnvVar, "/from/env.yaml")
	tests := []struct {
		args []string
		want string
	}{
		{[]string{"--port", "1", "--config", "a.yaml"}, "a.yaml"},
		{[]string{"--config=b.yaml"}, "b.yaml"},
		{[]string{"--", "--config", "c.yaml"}, "/from/env.yaml"},
		{nil, "/from/env.yaml"},
	}
	for _, tt := range tests {
		if got := Path(tt.args); got != tt.want {
			t.Errorf("Path(%q) = %q, want %q", tt.args, got, tt.want)
		}
	}
}

func TestFlagsOverrideFile(t *testing.T) {
	path := writeConfig(t, "host:\n  port: 9000\n  input: log\n")
	args := []string{"--config", path, "--port", "9100", "--transport", "ws"}

	c, err := Load(args)
	if err != nil {
		t.Fatal(err)
	}
	fs := pflag.NewFlagSet("host", pflag.ContinueOnError)
	c.AddHostFlags(fs)
	if err := fs.Parse(args); err != nil {
		t.Fatal(err)
	}
	if c.Host.Port != 9100 {
		t.Fatalf("flag did not override file: port %d", c.Host.Port)
	}
	if c.Host.Input != "log" {
		t.Fatalf("file value lost: input %q", c.Host.Input)
	}
	if c.Mode() != transport.ModeWS {
		t.Fatalf("Mode = %q", c.Mode())
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"transport", func(c *Config) { c.Transport = "carrier-pigeon" }},
		{"log level", func(c *Config) { c.Log.Level = "loud" }},
		{"log format", func(c *Config) { c.Log.Format = "xml" }},
		{"grace", func(c *Config) { c.Grace = 0 }},
		{"host port", func(c *Config) { c.Host.Port = 70000 }},
		{"viewer port", func(c *Config) { c.Viewer.Port = 0 }},
		{"screen interval", func(c *Config) { c.Host.ScreenInterval = -time.Second }},
		{"clipboard interval", func(c *Config) { c.Viewer.ClipboardInterval = 0 }},
		{"input", func(c *Config) { c.Host.Input = "telepathy" }},
		{"clipboard", func(c *Config) { c.Viewer.Clipboard = "xclip" }},
		{"display", func(c *Config) { c.Viewer.Display = "big" }},
		{"display zero", func(c *Config) { c.Viewer.Display = "0x10" }},
		{"max screen", func(c *Config) { c.Limits.MaxScreen = 0 }},
		{"max clipboard", func(c *Config) { c.Limits.MaxClipboard = 1 << 33 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			if err := c.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
