// Package config loads godesk configuration.
//
// Values come from, in increasing precedence: built-in defaults, a YAML
// file named by --config or GODESK_CONFIG, and command-line flags.
// Unknown keys in the file are an error.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/chronologos/godesk/internal/logging"
	"github.com/chronologos/godesk/internal/protocol"
	"github.com/chronologos/godesk/internal/transport"
)

// EnvVar names the config file when --config is not given.
const EnvVar = "GODESK_CONFIG"

// Config is the complete godesk configuration.
type Config struct {
	// Transport is tcp, quic, ws or dual (host only).
	Transport string `yaml:"transport"`

	// Grace bounds each teardown wait when a session ends.
	Grace time.Duration `yaml:"grace"`

	Host    HostConfig    `yaml:"host"`
	Viewer  ViewerConfig  `yaml:"viewer"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
	Limits  LimitsConfig  `yaml:"limits"`
}

// HostConfig configures `godesk host`.
type HostConfig struct {
	Port int `yaml:"port"`

	// Screen is a capture command line writing one image to stdout,
	// "auto" to detect one, or "testpattern".
	Screen         string        `yaml:"screen"`
	ScreenInterval time.Duration `yaml:"screen_interval"`

	// Input is "xdotool" or "log" (dry run).
	Input string `yaml:"input"`

	// Clipboard is "auto", "osc52", "memory" or "none".
	Clipboard         string        `yaml:"clipboard"`
	ClipboardInterval time.Duration `yaml:"clipboard_interval"`
}

// ViewerConfig configures `godesk view`.
type ViewerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// Display is the local display size as WxH; empty means the host's.
	Display string `yaml:"display"`

	// Output is the file the latest screen image is written to; empty
	// discards images.
	Output string `yaml:"output"`

	Clipboard         string        `yaml:"clipboard"`
	ClipboardInterval time.Duration `yaml:"clipboard_interval"`
	CoalesceDelay     time.Duration `yaml:"coalesce_delay"`

	// Console reads line commands from stdin as local input.
	Console bool `yaml:"console"`
	Profile bool `yaml:"profile"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Addr is the listen address for /metrics; empty disables it.
	Addr string `yaml:"addr"`
}

// LimitsConfig bounds inbound payload sizes, in bytes.
type LimitsConfig struct {
	MaxScreen    uint64 `yaml:"max_screen"`
	MaxClipboard uint64 `yaml:"max_clipboard"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Transport: string(transport.ModeTCP),
		Grace:     2 * time.Second,
		Host: HostConfig{
			Port:              8888,
			Screen:            "auto",
			ScreenInterval:    100 * time.Millisecond,
			Input:             "xdotool",
			Clipboard:         "auto",
			ClipboardInterval: 500 * time.Millisecond,
		},
		Viewer: ViewerConfig{
			Port:              8888,
			Clipboard:         "none",
			ClipboardInterval: 500 * time.Millisecond,
			Console:           true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: string(logging.FormatAuto),
		},
		Limits: LimitsConfig{
			MaxScreen:    protocol.DefaultMaxScreenSize,
			MaxClipboard: protocol.DefaultMaxClipboardSize,
		},
	}
}

// LoadFile reads a YAML config file over the defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("cannot read config file %q: %w", path, err)
	}
	cfg := Default()
	if err := decode(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid YAML in %s: %w", path, err)
	}
	return cfg, nil
}

func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Path returns the config file named on the command line (--config PATH
// or --config=PATH) or, failing that, by GODESK_CONFIG. It runs before
// flag parsing so that flags can override file values.
func Path(args []string) string {
	for i, arg := range args {
		if arg == "--" {
			break
		}
		if v, ok := strings.CutPrefix(arg, "--config="); ok {
			return v
		}
		if arg == "--config" && i+1 < len(args) {
			return args[i+1]
		}
	}
	return os.Getenv(EnvVar)
}

// Load returns the defaults overlaid with the config file named by args
// or the environment, if any.
func Load(args []string) (*Config, error) {
	if path := Path(args); path != "" {
		return LoadFile(path)
	}
	return Default(), nil
}

// AddCommonFlags registers flags shared by every subcommand.
func (c *Config) AddCommonFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "YAML config file (also $"+EnvVar+")")
	fs.StringVarP(&c.Transport, "transport", "t", c.Transport, "transport: tcp, quic, ws, or dual (host only)")
	fs.DurationVar(&c.Grace, "grace", c.Grace, "teardown grace period per step")
	fs.StringVar(&c.Log.Level, "log-level", c.Log.Level, "log level: debug, info, warn, error")
	fs.StringVar(&c.Log.Format, "log-format", c.Log.Format, "log format: auto, json, console")
	fs.StringVar(&c.Metrics.Addr, "metrics-addr", c.Metrics.Addr, "serve Prometheus metrics on this address (e.g. :9090)")
	fs.Uint64Var(&c.Limits.MaxScreen, "max-screen", c.Limits.MaxScreen, "largest accepted screen image in bytes")
	fs.Uint64Var(&c.Limits.MaxClipboard, "max-clipboard", c.Limits.MaxClipboard, "largest accepted clipboard text in bytes")
}

// AddHostFlags registers `godesk host` flags.
func (c *Config) AddHostFlags(fs *pflag.FlagSet) {
	c.AddCommonFlags(fs)
	fs.IntVarP(&c.Host.Port, "port", "p", c.Host.Port, "port to listen on")
	fs.StringVar(&c.Host.Screen, "screen", c.Host.Screen, `capture command, "auto" or "testpattern"`)
	fs.DurationVar(&c.Host.ScreenInterval, "screen-interval", c.Host.ScreenInterval, "delay between screen frames")
	fs.StringVar(&c.Host.Input, "input", c.Host.Input, `input backend: "xdotool" or "log"`)
	fs.StringVar(&c.Host.Clipboard, "clipboard", c.Host.Clipboard, `clipboard backend: "auto", "osc52", "memory" or "none"`)
	fs.DurationVar(&c.Host.ClipboardInterval, "clipboard-interval", c.Host.ClipboardInterval, "clipboard poll interval")
}

// AddViewerFlags registers `godesk view` flags.
func (c *Config) AddViewerFlags(fs *pflag.FlagSet) {
	c.AddCommonFlags(fs)
	fs.IntVarP(&c.Viewer.Port, "port", "p", c.Viewer.Port, "host port")
	fs.StringVar(&c.Viewer.Display, "display", c.Viewer.Display, "local display size WxH (default: host size)")
	fs.StringVarP(&c.Viewer.Output, "output", "o", c.Viewer.Output, "write the latest screen image to this file")
	fs.StringVar(&c.Viewer.Clipboard, "clipboard", c.Viewer.Clipboard, `clipboard backend: "auto", "osc52", "memory" or "none"`)
	fs.DurationVar(&c.Viewer.ClipboardInterval, "clipboard-interval", c.Viewer.ClipboardInterval, "clipboard poll interval")
	fs.DurationVar(&c.Viewer.CoalesceDelay, "coalesce", c.Viewer.CoalesceDelay, "pointer move coalescing deadline (0: default)")
	fs.BoolVar(&c.Viewer.Console, "console", c.Viewer.Console, "read input commands from stdin (--console=false to only watch)")
	fs.BoolVar(&c.Viewer.Profile, "profile", c.Viewer.Profile, "log traffic and RTT stats when the session ends")
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	var errs []error
	if _, err := transport.ParseMode(c.Transport); err != nil {
		errs = append(errs, err)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch logging.Format(c.Log.Format) {
	case logging.FormatAuto, logging.FormatJSON, logging.FormatConsole:
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.Log.Format))
	}
	if c.Grace <= 0 {
		errs = append(errs, errors.New("grace must be positive"))
	}
	if c.Host.Port < 0 || c.Host.Port > 65535 {
		errs = append(errs, fmt.Errorf("host port %d out of range", c.Host.Port))
	}
	if c.Viewer.Port <= 0 || c.Viewer.Port > 65535 {
		errs = append(errs, fmt.Errorf("viewer port %d out of range", c.Viewer.Port))
	}
	if c.Host.ScreenInterval <= 0 {
		errs = append(errs, errors.New("screen interval must be positive"))
	}
	if c.Host.ClipboardInterval <= 0 || c.Viewer.ClipboardInterval <= 0 {
		errs = append(errs, errors.New("clipboard interval must be positive"))
	}
	if c.Viewer.CoalesceDelay < 0 {
		errs = append(errs, errors.New("coalesce delay must not be negative"))
	}
	switch c.Host.Input {
	case "xdotool", "log":
	default:
		errs = append(errs, fmt.Errorf("unknown input backend %q", c.Host.Input))
	}
	for _, b := range []string{c.Host.Clipboard, c.Viewer.Clipboard} {
		switch b {
		case "auto", "osc52", "memory", "none":
		default:
			errs = append(errs, fmt.Errorf("unknown clipboard backend %q", b))
		}
	}
	if _, _, err := c.DisplaySize(); err != nil {
		errs = append(errs, err)
	}
	for name, v := range map[string]uint64{"max_screen": c.Limits.MaxScreen, "max_clipboard": c.Limits.MaxClipboard} {
		if v == 0 || v > math.MaxUint32 {
			errs = append(errs, fmt.Errorf("%s must be between 1 and %d bytes", name, uint64(math.MaxUint32)))
		}
	}
	return errors.Join(errs...)
}

// Mode returns the parsed transport mode. Call after Validate.
func (c *Config) Mode() transport.Mode {
	return transport.Mode(c.Transport)
}

// ProtocolLimits converts the configured limits.
func (c *Config) ProtocolLimits() protocol.Limits {
	return protocol.Limits{
		MaxScreen:    uint32(min(c.Limits.MaxScreen, math.MaxUint32)),
		MaxClipboard: uint32(min(c.Limits.MaxClipboard, math.MaxUint32)),
	}
}

// DisplaySize parses Viewer.Display. An empty value returns 0, 0.
func (c *Config) DisplaySize() (int, int, error) {
	if c.Viewer.Display == "" {
		return 0, 0, nil
	}
	ws, hs, ok := strings.Cut(strings.ToLower(c.Viewer.Display), "x")
	if !ok {
		return 0, 0, fmt.Errorf("display %q is not WxH", c.Viewer.Display)
	}
	w, err1 := strconv.Atoi(ws)
	h, err2 := strconv.Atoi(hs)
	if err1 != nil || err2 != nil || w <= 0 || h <= 0 {
		return 0, 0, fmt.Errorf("display %q is not WxH", c.Viewer.Display)
	}
	return w, h, nil
}
