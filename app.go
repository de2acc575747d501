package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/kwv/trfit/trf"
	"github.com/paulmach/orb/geojson"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// App encapsulates the application state and dependencies
type App struct {
	Config     *trf.Config
	Store      *transformStore
	Logger     *zap.Logger
	MQTTClient mqtt.Client
	Publisher  *trf.Publisher
	Out        io.Writer

	// CLI Flags (effectively dependencies)
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

	// connect dials the broker; replaced in tests.
	connect func(trf.MQTTConfig, *zap.Logger) (mqtt.Client, error)
}

// NewApp creates a new App instance writing its reports to out
func NewApp(out io.Writer) *App {
	return &App{
		Out:     out,
		Logger:  zap.NewNop(),
		connect: trf.Connect,
	}
}

// ApplyOptions applies CLI options to the App instance
func (a *App) ApplyOptions(opts AppOptions) {
	a.ConfigFile = opts.ConfigFile
	a.StorePath = opts.StorePath
	a.InputFile = opts.InputFile
	a.OutputFile = opts.OutputFile
	a.RenderFormat = opts.RenderFormat
	a.RasterSize = opts.RasterSize
	a.Exaggerate = opts.Exaggerate
	a.Simplify = opts.Simplify
	a.Inverse = opts.Inverse
	a.MaxAge = opts.MaxAge
	a.HttpPort = opts.HttpPort
	a.MqttMode = opts.MqttMode
	a.HttpMode = opts.HttpMode
	a.Logger = newLogger(opts.Debug)
}

// transformStore guards a trf.Store shared by the MQTT callbacks and the
// HTTP handlers.
type transformStore struct {
	mu    sync.RWMutex
	path  string
	store *trf.Store
}

func loadTransformStore(path string) (*transformStore, error) {
	s, err := trf.LoadStore(path)
	if err != nil {
		return nil, err
	}
	if s == nil {
		s = &trf.Store{}
	}
	return &transformStore{path: path, store: s}, nil
}

// put records a successful result and writes the store to disk.
func (ts *transformStore) put(res trf.JobResult) error {
	if res.Status != trf.Success || res.Record == nil {
		return nil
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.store.Put(res.ID, *res.Record, res.Fit())
	return trf.SaveStore(ts.path, ts.store)
}

func (ts *transformStore) lookup(id string) (trf.StoredTransform, error) {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.store.Lookup(id)
}

func (ts *transformStore) get2D(id string) (trf.Transform2D, error) {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.store.Get2D(id)
}

func (ts *transformStore) get3D(id string) (trf.Transform3D, error) {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.store.Get3D(id)
}

func (ts *transformStore) ids() []string {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.store.IDs()
}

func (ts *transformStore) status(expected []string) trf.StoreStatus {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.store.Status(expected)
}

func (ts *transformStore) needsRefit(id string, maxAge time.Duration) bool {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.store.NeedsRefit(id, maxAge)
}

// load reads the config file and the transform store it names.
func (a *App) load() error {
	config, err := trf.LoadConfig(a.ConfigFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	config.MQTT.ApplyEnv()
	a.Config = config
	a.Logger.Debug("loaded config", zap.String("path", a.ConfigFile), zap.Int("jobs", len(config.Jobs)))

	storePath := a.StorePath
	if storePath == "" {
		storePath = config.Store
	}
	if storePath == "" {
		storePath = filepath.Join(filepath.Dir(a.ConfigFile), trf.DefaultStorePath)
	}
	store, err := loadTransformStore(storePath)
	if err != nil {
		return fmt.Errorf("loading store: %w", err)
	}
	a.Store = store
	a.Logger.Debug("loaded store", zap.String("path", storePath), zap.Strings("transforms", store.ids()))
	return nil
}

func (a *App) solver() trf.Solver {
	s, err := a.Config.SolverChoice()
	if err != nil {
		// Validated by LoadConfig.
		return trf.SolveNormal
	}
	return s
}

// connectMQTT dials the configured broker and creates the result publisher.
func (a *App) connectMQTT() error {
	client, err := a.connect(a.Config.MQTT, a.Logger)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	a.MQTTClient = client
	a.Publisher = trf.NewPublisher(client, a.Config.MQTT.PublishPrefix, a.Logger)
	return nil
}

// RunFit fits every configured job, stores the successful fits and, in MQTT
// mode, publishes the results of jobs marked for publishing. It fails when
// any job fails.
func (a *App) RunFit(ctx context.Context) error {
	if err := a.load(); err != nil {
		return err
	}
	if a.MqttMode {
		if err := a.connectMQTT(); err != nil {
			return err
		}
		defer a.MQTTClient.Disconnect(250)
	}

	results := trf.RunJobs(ctx, a.Config.Jobs, a.solver(), a.Config.Workers, a.Logger)

	var errs error
	for i, res := range results {
		fmt.Fprintln(a.Out, formatResult(res))
		if res.Status == trf.Failure {
			errs = multierr.Append(errs, fmt.Errorf("job %s: %w", res.ID, res.Err()))
			continue
		}
		if err := a.Store.put(res); err != nil {
			return fmt.Errorf("saving store: %w", err)
		}
		if a.Publisher != nil && a.Config.Jobs[i].Publish {
			if err := a.Publisher.PublishResult(res); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("job %s: %w", res.ID, err))
			}
		}
	}
	a.Logger.Info("fit complete",
		zap.Int("jobs", len(results)),
		zap.Int("failed", len(multierr.Errors(errs))),
		zap.String("store", a.Store.path),
	)
	return errs
}

func formatResult(res trf.JobResult) string {
	line := fmt.Sprintf("%-20s %-12s %-8s points=%-4d rmse=%.6g", res.ID, res.Kind, res.Status, res.Points, res.RMSE)
	if res.Status == trf.Failure {
		line += fmt.Sprintf(" reason=%s (%s)", res.Reason, res.Error)
	}
	return line
}

// RunStatus prints which configured jobs have a stored transform.
func (a *App) RunStatus() error {
	if err := a.load(); err != nil {
		return err
	}
	status := a.Store.status(a.Config.JobIDs())

	fmt.Fprintf(a.Out, "Store: %s\n", a.Store.path)
	fmt.Fprintf(a.Out, "Fitted (%d):\n", len(status.Fitted))
	for _, id := range status.Fitted {
		st, err := a.Store.lookup(id)
		if err != nil {
			continue
		}
		line := fmt.Sprintf("  %-20s %-12s points=%-4d rmse=%.6g", id, st.Record.Kind, st.Points, st.RMSE)
		if a.MaxAge > 0 && a.Store.needsRefit(id, a.MaxAge) {
			line += " (stale)"
		}
		fmt.Fprintln(a.Out, line)
	}
	fmt.Fprintf(a.Out, "Missing (%d):\n", len(status.Missing))
	for _, id := range status.Missing {
		fmt.Fprintf(a.Out, "  %s\n", id)
	}
	return nil
}

func (a *App) order() trf.Order {
	if a.Inverse {
		return trf.Inverse
	}
	return trf.Direct
}

// RunApply maps the input file through the stored transform id. Planar
// transforms read and write a GeoJSON FeatureCollection; spatial transforms
// read and write a JSON array of [x, y, z] rows.
func (a *App) RunApply(ctx context.Context, id string) error {
	if err := a.load(); err != nil {
		return err
	}
	if a.InputFile == "" {
		return fmt.Errorf("--apply requires --input")
	}
	st, err := a.Store.lookup(id)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(a.InputFile)
	if err != nil {
		return fmt.Errorf("reading input: %w", err)
	}

	var out []byte
	if st.Record.Dimensions == 3 {
		out, err = a.apply3D(ctx, id, data)
	} else {
		out, err = a.apply2D(id, data)
	}
	if err != nil {
		return err
	}
	return a.writeOutput(out)
}

func (a *App) apply2D(id string, data []byte) ([]byte, error) {
	t, err := a.Store.get2D(id)
	if err != nil {
		return nil, err
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("parsing GeoJSON: %w", err)
	}
	mapped, err := trf.ApplyFeatureCollection(t, fc, trf.GeoOptions{Order: a.order(), Simplify: a.Simplify})
	for _, e := range multierr.Errors(err) {
		a.Logger.Warn("feature left untransformed", zap.String("transform", id), zap.Error(e))
	}
	return mapped.MarshalJSON()
}

func (a *App) apply3D(ctx context.Context, id string, data []byte) ([]byte, error) {
	t, err := a.Store.get3D(id)
	if err != nil {
		return nil, err
	}
	var rows [][]float64
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("parsing points: %w", err)
	}
	pts, err := trf.Points3D(rows)
	if err != nil {
		return nil, err
	}
	mapped, err := trf.ApplyParallel[trf.Point3D](ctx, t, pts, a.order(), trf.BatchOptions{Workers: a.Config.Workers, Logger: a.Logger})
	if err != nil {
		return nil, err
	}
	out := make([][]float64, len(mapped))
	for i, p := range mapped {
		out[i] = []float64{p.X, p.Y, p.Z}
	}
	return json.Marshal(out)
}

func (a *App) writeOutput(data []byte) error {
	if a.OutputFile == "" {
		_, err := fmt.Fprintln(a.Out, string(data))
		return err
	}
	if err := os.WriteFile(a.OutputFile, data, 0644); err != nil {
		return fmt.Errorf("writing output: %w", err)
	}
	a.Logger.Info("wrote output", zap.String("path", a.OutputFile), zap.Int("bytes", len(data)))
	return nil
}

// residualPlot builds the residual plot of job id from its control points
// and its stored transform, fitting the job when nothing is stored yet.
func residualPlot(cfg *trf.Config, store *transformStore, id string, solver trf.Solver) (*trf.ResidualPlot, error) {
	job := cfg.Job(id)
	if job == nil {
		return nil, fmt.Errorf("%w: job %q is not configured", trf.ErrNotFound, id)
	}
	if job.Kind.Dimensions() != 2 {
		return nil, fmt.Errorf("%w: residual plots need a planar transform, %s is %s", trf.ErrNotSupported, id, job.Kind)
	}
	src, err := trf.Points2D(job.Source)
	if err != nil {
		return nil, err
	}
	dst, err := trf.Points2D(job.Destination)
	if err != nil {
		return nil, err
	}

	t, err := store.get2D(id)
	if errors.Is(err, trf.ErrNotFound) {
		res := trf.RunJob(*job, solver)
		if res.Record == nil {
			return nil, res.Err()
		}
		t, err = trf.Decode2D(*res.Record)
	}
	if err != nil {
		return nil, err
	}
	return trf.NewResidualPlot(t, src, dst)
}

// RunRender draws the residuals of job id in the selected format.
func (a *App) RunRender(id string) error {
	if err := a.load(); err != nil {
		return err
	}
	plot, err := residualPlot(a.Config, a.Store, id, a.solver())
	if err != nil {
		return err
	}
	if a.Exaggerate > 0 {
		plot.Exaggerate = a.Exaggerate
	}

	format := strings.ToLower(a.RenderFormat)
	ext := format
	if format == "raster" {
		ext = "png"
	}
	output := a.OutputFile
	if output == "" {
		output = fmt.Sprintf("%s-residuals.%s", id, ext)
	}

	f, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("creating output: %w", err)
	}
	defer f.Close()

	switch format {
	case "svg":
		err = plot.RenderSVG(f)
	case "png":
		err = plot.RenderPNG(f)
	case "raster":
		err = trf.RenderResidualRaster(f, plot, a.RasterSize)
	default:
		err = fmt.Errorf("unknown render format %q (want svg, png or raster)", a.RenderFormat)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(a.Out, "Rendered %s residuals to %s (rmse=%.6g)\n", id, output, plot.Fit.RMSE)
	return nil
}

// RunService answers fit requests over MQTT and serves stored transforms
// over HTTP until ctx is cancelled.
func (a *App) RunService(ctx context.Context) error {
	fmt.Fprintln(a.Out, "Starting trfit service...")
	if err := a.load(); err != nil {
		return err
	}

	var service *trf.FitService
	if a.MqttMode {
		if err := a.connectMQTT(); err != nil {
			return err
		}
		defer a.MQTTClient.Disconnect(250)

		service = trf.NewFitService(a.MQTTClient, a.Publisher, a.solver(), a.Logger)
		service.OnResult = func(res trf.JobResult) {
			if err := a.Store.put(res); err != nil {
				a.Logger.Error("saving store", zap.String("job", res.ID), zap.Error(err))
			}
		}
		if err := service.Start(); err != nil {
			return err
		}
		defer service.Stop()
	}

	var server *http.Server
	if a.HttpMode {
		server = &http.Server{
			Addr:              fmt.Sprintf("0.0.0.0:%d", a.HttpPort),
			Handler:           newHTTPServer(a.Config, a.Store, a.solver(), a.Logger),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			a.Logger.Info("starting HTTP server", zap.String("addr", server.Addr))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.Logger.Error("HTTP server error", zap.Error(err))
			}
		}()
	}

	fmt.Fprintln(a.Out, "\nService Running")
	fmt.Fprintln(a.Out, "===============")
	if service != nil {
		fmt.Fprintln(a.Out, "\nMQTT:")
		fmt.Fprintf(a.Out, "  Fit requests: %s\n", service.Topic())
		fmt.Fprintf(a.Out, "  Publishing to: %s/{jobID}\n", a.Publisher.Prefix())
		fmt.Fprintf(a.Out, "  Combined results: %s/transforms\n", a.Publisher.Prefix())
	}
	if server != nil {
		fmt.Fprintf(a.Out, "\nHTTP endpoints (port %d):\n", a.HttpPort)
		fmt.Fprintln(a.Out, "  GET  /health                        - Health check")
		fmt.Fprintln(a.Out, "  GET  /transforms                    - Fitted and missing transforms")
		fmt.Fprintln(a.Out, "  GET  /transforms/{id}               - Stored transform")
		fmt.Fprintln(a.Out, "  POST /transforms/{id}/apply         - Transform GeoJSON or 3D points")
		fmt.Fprintln(a.Out, "  GET  /transforms/{id}/residuals.svg - Residual plot")
		fmt.Fprintln(a.Out, "  POST /fit                           - Fit one job")
	}
	fmt.Fprintln(a.Out, "\nPress Ctrl+C to stop")

	<-ctx.Done()

	fmt.Fprintln(a.Out, "\nShutting down service...")
	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			a.Logger.Warn("HTTP shutdown", zap.Error(err))
		}
	}
	fmt.Fprintln(a.Out, "Service stopped")
	return nil
}
