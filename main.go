package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Version is set at build time via -ldflags
var Version = "dev"

// AppOptions holds the parsed command line.
type AppOptions struct {
	ConfigFile   string
	StorePath    string
	InputFile    string
	OutputFile   string
	RenderFormat string
	RasterSize   int
	Exaggerate   float64
	Simplify     float64
	Inverse      bool
	MaxAge       time.Duration
	HttpPort     int
	MqttMode     bool
	HttpMode     bool
	Debug        bool

	FitOnly  bool
	StatusOn bool
	ApplyID  string
	RenderID string
}

// AppRunner is the set of modes the command dispatches to.
type AppRunner interface {
	ApplyOptions(opts AppOptions)
	RunFit(ctx context.Context) error
	RunApply(ctx context.Context, id string) error
	RunRender(id string) error
	RunStatus() error
	RunService(ctx context.Context) error
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := NewApp(os.Stdout)
	err := runContext(ctx, os.Args[1:], os.Stdout, app)
	if app.Logger != nil {
		_ = app.Logger.Sync()
	}
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "trfit: %v\n", err)
		os.Exit(1)
	}
}

// run parses args and dispatches to the selected mode of app.
func run(args []string, out io.Writer, app AppRunner) error {
	return runContext(context.Background(), args, out, app)
}

func runContext(ctx context.Context, args []string, out io.Writer, app AppRunner) error {
	fs := flag.NewFlagSet("trfit", flag.ContinueOnError)
	fs.SetOutput(out)

	var opts AppOptions
	fs.StringVar(&opts.ConfigFile, "config", "config.yaml", "Path to configuration file")
	fs.StringVar(&opts.StorePath, "store", "", "Path to fitted transform store (default: from config or .trfit-store.json)")
	fs.BoolVar(&opts.FitOnly, "fit", false, "Fit every configured job, update the store and exit")
	fs.BoolVar(&opts.StatusOn, "status", false, "Show which configured jobs have a fitted transform and exit")
	fs.StringVar(&opts.ApplyID, "apply", "", "Apply the stored transform JOB_ID to --input and exit")
	fs.StringVar(&opts.RenderID, "render", "", "Render the residuals of JOB_ID and exit")
	fs.StringVar(&opts.InputFile, "input", "", "Input file for --apply (GeoJSON, or JSON [x,y,z] rows for 3D transforms)")
	fs.StringVar(&opts.OutputFile, "output", "", "Output file for --apply and --render (default: stdout / JOB_ID-residuals.EXT)")
	fs.BoolVar(&opts.Inverse, "inverse", false, "Apply the inverse mapping in --apply mode")
	fs.Float64Var(&opts.Simplify, "simplify", 0, "Douglas-Peucker tolerance for transformed GeoJSON lines (0 disables)")
	fs.StringVar(&opts.RenderFormat, "format", "svg", "Render format: svg, png or raster")
	fs.IntVar(&opts.RasterSize, "raster-size", 800, "Width in pixels of --format raster output")
	fs.Float64Var(&opts.Exaggerate, "exaggerate", 1, "Scale factor for drawn residual vectors")
	fs.DurationVar(&opts.MaxAge, "max-age", 0, "Flag stored transforms older than this in --status mode (0 disables)")
	fs.BoolVar(&opts.MqttMode, "mqtt", false, "Run MQTT service mode answering fit requests (with --fit: publish results)")
	fs.BoolVar(&opts.HttpMode, "http", false, "Enable HTTP server for stored transforms")
	fs.IntVar(&opts.HttpPort, "http-port", 8080, "HTTP server port (default 8080)")
	fs.BoolVar(&opts.Debug, "debug", false, "Enable debug logging")

	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage of trfit:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return err
	}

	app.ApplyOptions(opts)

	fmt.Fprintf(out, "trfit version: %s\n", Version)

	switch {
	case opts.FitOnly:
		return app.RunFit(ctx)
	case opts.StatusOn:
		return app.RunStatus()
	case opts.ApplyID != "":
		return app.RunApply(ctx, opts.ApplyID)
	case opts.RenderID != "":
		return app.RunRender(opts.RenderID)
	case opts.MqttMode || opts.HttpMode:
		return app.RunService(ctx)
	}

	fmt.Fprintln(out, "trfit fits geometric transforms from control points.")
	fmt.Fprintln(out, "Use --fit to fit every job in the config file")
	fmt.Fprintln(out, "Use --status to list fitted and missing transforms")
	fmt.Fprintln(out, "Use --apply=JOB_ID --input=FILE to transform GeoJSON or 3D points")
	fmt.Fprintln(out, "Use --render=JOB_ID to draw the residuals of a fit")
	fmt.Fprintln(out, "Use --mqtt to answer fit requests over MQTT")
	fmt.Fprintln(out, "Use --http to serve stored transforms over HTTP")
	fmt.Fprintln(out, "\nConfiguration:")
	fmt.Fprintln(out, "  config.yaml - jobs, solver and MQTT settings")
	fmt.Fprintln(out, "  .trfit-store.json - fitted transforms (written by --fit)")
	return nil
}

// newLogger builds the console logger used by every mode.
func newLogger(debug bool) *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableStacktrace = true
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
