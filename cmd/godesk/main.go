package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/chronologos/godesk/internal/config"
	"github.com/chronologos/godesk/internal/desktop"
	"github.com/chronologos/godesk/internal/desktop/clipboard"
	"github.com/chronologos/godesk/internal/desktop/input"
	"github.com/chronologos/godesk/internal/desktop/screen"
	"github.com/chronologos/godesk/internal/host"
	"github.com/chronologos/godesk/internal/logging"
	"github.com/chronologos/godesk/internal/metrics"
	"github.com/chronologos/godesk/internal/transport"
	"github.com/chronologos/godesk/internal/version"
	"github.com/chronologos/godesk/internal/viewer"
)

const usage = `usage: godesk host [flags]          share this desktop
       godesk view [flags] <host>   control a shared desktop
       godesk version

Run "godesk host --help" or "godesk view --help" for flags.`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(1)
	}

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "host":
		err = runHost(args)
	case "view", "viewer":
		err = runView(args)
	case "version", "--version":
		fmt.Println(version.String())
		return
	case "help", "-h", "--help":
		fmt.Println(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s\n", cmd, usage)
		os.Exit(1)
	}

	switch {
	case err == nil:
	case errors.Is(err, pflag.ErrHelp):
	case errors.Is(err, viewer.ErrHostDisconnected):
		fmt.Fprintf(os.Stderr, "godesk: %v\n", err)
		os.Exit(2)
	default:
		fmt.Fprintf(os.Stderr, "godesk: %v\n", err)
		os.Exit(1)
	}
}

// setup loads config for a subcommand, parses its flags and builds the
// logger. addFlags registers the subcommand's flags.
func setup(name string, args []string, addFlags func(*config.Config, *pflag.FlagSet)) (*config.Config, *pflag.FlagSet, *zap.Logger, error) {
	cfg, err := config.Load(args)
	if err != nil {
		return nil, nil, nil, err
	}
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	addFlags(cfg, fs)
	if err := fs.Parse(args); err != nil {
		return nil, nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, nil, fmt.Errorf("config: %w", err)
	}
	log, err := logging.New(logging.Options{
		Level:  cfg.Log.Level,
		Format: logging.Format(cfg.Log.Format),
	})
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, fs, log, nil
}

// serveMetrics starts the metrics endpoint when an address is configured.
func serveMetrics(ctx context.Context, cfg *config.Config, m *metrics.Metrics, log *zap.Logger) {
	if cfg.Metrics.Addr == "" {
		return
	}
	go func() {
		log.Info("serving metrics", zap.String("addr", cfg.Metrics.Addr))
		if err := m.Serve(ctx, cfg.Metrics.Addr); err != nil {
			log.Error("metrics server", zap.Error(err))
		}
	}()
}

func runHost(args []string) error {
	cfg, fs, log, err := setup("host", args, (*config.Config).AddHostFlags)
	if err != nil {
		return err
	}
	defer log.Sync()
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected argument %q", fs.Arg(0))
	}

	src, err := screenSource(cfg.Host.Screen)
	if err != nil {
		return err
	}
	sink := inputSink(cfg.Host.Input, log)
	clip, closeClip, err := clipboardBackend(cfg.Host.Clipboard)
	if err != nil {
		return err
	}
	defer closeClip()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	serveMetrics(ctx, cfg, m, log)

	srv := host.New(host.Config{
		Mode:              cfg.Mode(),
		Port:              cfg.Host.Port,
		Screen:            src,
		Input:             sink,
		Clipboard:         clip,
		ScreenInterval:    cfg.Host.ScreenInterval,
		ClipboardInterval: cfg.Host.ClipboardInterval,
		Grace:             cfg.Grace,
		Limits:            cfg.ProtocolLimits(),
		Log:               log,
		Metrics:           m,
	})
	return srv.Run(ctx)
}

func runView(args []string) error {
	cfg, fs, log, err := setup("view", args, (*config.Config).AddViewerFlags)
	if err != nil {
		return err
	}
	defer log.Sync()

	switch {
	case fs.NArg() == 1:
		cfg.Viewer.Host = fs.Arg(0)
	case fs.NArg() > 1:
		return fmt.Errorf("unexpected argument %q", fs.Arg(1))
	case cfg.Viewer.Host == "":
		return errors.New("view needs a host address")
	}
	mode := cfg.Mode()
	if mode == transport.ModeDual {
		return errors.New("dual is a listener mode; view with tcp or quic")
	}
	w, h, _ := cfg.DisplaySize()

	clip, closeClip, err := clipboardBackend(cfg.Viewer.Clipboard)
	if err != nil {
		return err
	}
	defer closeClip()

	var sink viewer.FrameSink = viewer.DiscardSink{}
	if cfg.Viewer.Output != "" {
		sink = &viewer.FileSink{Path: cfg.Viewer.Output}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	serveMetrics(ctx, cfg, m, log)

	var events chan any
	if cfg.Viewer.Console {
		events = make(chan any, 16)
		console := &viewer.Console{In: os.Stdin, Out: os.Stderr}
		go func() {
			if err := console.Run(ctx, events); err != nil {
				log.Warn("console", zap.Error(err))
			}
		}()
	}

	v := viewer.New(viewer.Config{
		Mode:              mode,
		Host:              cfg.Viewer.Host,
		Port:              cfg.Viewer.Port,
		Sink:              sink,
		Clipboard:         clip,
		Display:           viewer.Size{W: w, H: h},
		Events:            events,
		ClipboardInterval: cfg.Viewer.ClipboardInterval,
		CoalesceDelay:     cfg.Viewer.CoalesceDelay,
		Grace:             cfg.Grace,
		Limits:            cfg.ProtocolLimits(),
		Profile:           cfg.Viewer.Profile,
		Log:               log,
		Metrics:           m,
	})
	return v.Run(ctx)
}

func screenSource(cmdline string) (desktop.ScreenSource, error) {
	switch cmdline {
	case "testpattern":
		return &screen.TestPattern{Width: 1280, Height: 720}, nil
	case "auto", "":
		return screen.DetectCommand()
	default:
		return screen.ParseCommand(cmdline)
	}
}

func inputSink(name string, log *zap.Logger) desktop.InputSink {
	l := &input.Logger{Log: log.With(zap.String("component", "input"))}
	if name == "xdotool" {
		l.Next = &input.Xdotool{}
	}
	return l
}

// clipboardBackend builds the named clipboard. The returned func releases
// it. "none" returns a nil Clipboard, which disables clipboard sync.
func clipboardBackend(name string) (desktop.Clipboard, func(), error) {
	nop := func() {}
	switch name {
	case "none":
		return nil, nop, nil
	case "memory":
		return clipboard.NewMemory(""), nop, nil
	case "osc52":
		return &clipboard.OSC52{Out: os.Stdout, Tmux: os.Getenv("TMUX") != ""}, nop, nil
	default:
		cmd, err := clipboard.DetectCommand()
		if err != nil {
			return nil, nop, err
		}
		// One thread runs every tool invocation, so the dispatcher's
		// SetText and the poller's GetText never overlap.
		p := clipboard.NewPinned(cmd)
		return p, func() { p.Close() }, nil
	}
}
