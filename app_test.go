package main

import (
	"bytes"
	"context"
	"encoding/json"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/kwv/trfit/trf"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

// testConfigYAML has a quarter turn about (5, 5) and a unit shift in 3D.
const testConfigYAML = `jobs:
  - id: quarter
    kind: similarity
    source: [[0, 0], [1, 0], [0, 1], [1, 1]]
    destination: [[5, 5], [5, 6], [4, 5], [4, 6]]
    publish: true
  - id: lidar
    kind: rigid3d
    source: [[0, 0, 0], [1, 0, 0], [0, 1, 0], [0, 0, 1]]
    destination: [[1, 1, 1], [2, 1, 1], [1, 2, 1], [1, 1, 2]]
`

func newTestApp(t *testing.T, configYAML string) (*App, *bytes.Buffer) {
	t.Helper()
	t.Setenv("MQTT_PUBLISH_PREFIX", "")
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(configYAML), 0644); err != nil {
		t.Fatalf("write config fixture: %v", err)
	}

	var out bytes.Buffer
	app := NewApp(&out)
	app.ConfigFile = path
	app.Logger = zaptest.NewLogger(t)
	app.RenderFormat = "svg"
	app.RasterSize = 200
	app.Exaggerate = 1
	return app, &out
}

func storePath(app *App) string {
	return filepath.Join(filepath.Dir(app.ConfigFile), trf.DefaultStorePath)
}

func mockConnect(client *trf.MockClient) func(trf.MQTTConfig, *zap.Logger) (mqtt.Client, error) {
	return func(trf.MQTTConfig, *zap.Logger) (mqtt.Client, error) {
		return client, nil
	}
}

func fitTestApp(t *testing.T) (*App, *bytes.Buffer) {
	t.Helper()
	app, out := newTestApp(t, testConfigYAML)
	require.NoError(t, app.RunFit(context.Background()))
	out.Reset()
	return app, out
}

// ---------------------------------------------------------------------------
// RunFit
// ---------------------------------------------------------------------------

func TestApp_RunFit(t *testing.T) {
	app, out := newTestApp(t, testConfigYAML)
	require.NoError(t, app.RunFit(context.Background()))

	assert.Contains(t, out.String(), "quarter")
	assert.Contains(t, out.String(), "lidar")

	store, err := trf.LoadStore(storePath(app))
	require.NoError(t, err)
	require.NotNil(t, store)
	assert.Equal(t, []string{"lidar", "quarter"}, store.IDs())

	quarter, err := store.Get2D("quarter")
	require.NoError(t, err)
	p, err := quarter.Apply(trf.Point{X: 1, Y: 0}, trf.Direct)
	require.NoError(t, err)
	assert.InDelta(t, 5, p.X, 1e-9)
	assert.InDelta(t, 6, p.Y, 1e-9)

	lidar, err := store.Get3D("lidar")
	require.NoError(t, err)
	q, err := lidar.Apply(trf.Point3D{X: 2, Y: 3, Z: 4}, trf.Direct)
	require.NoError(t, err)
	assert.InDelta(t, 3, q.X, 1e-9)
	assert.InDelta(t, 4, q.Y, 1e-9)
	assert.InDelta(t, 5, q.Z, 1e-9)
}

func TestApp_RunFit_ReportsFailedJobs(t *testing.T) {
	app, out := newTestApp(t, testConfigYAML+`  - id: sparse
    kind: affine
    source: [[0, 0], [1, 0]]
    destination: [[0, 0], [1, 0]]
`)
	err := app.RunFit(context.Background())
	require.Error(t, err)
	errs := multierr.Errors(err)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], trf.ErrInsufficientPoints)
	assert.Contains(t, errs[0].Error(), "sparse")
	assert.Contains(t, out.String(), "reason=insufficient_points")

	// The good jobs are still stored.
	store, err := trf.LoadStore(storePath(app))
	require.NoError(t, err)
	assert.Equal(t, []string{"lidar", "quarter"}, store.IDs())
}

func TestApp_RunFit_PublishesMarkedJobs(t *testing.T) {
	app, _ := newTestApp(t, testConfigYAML)
	client := trf.NewMockClient()
	client.SetConnected(true)
	app.MqttMode = true
	app.connect = mockConnect(client)

	require.NoError(t, app.RunFit(context.Background()))

	msgs := client.Published("trfit/quarter")
	require.Len(t, msgs, 1)
	var res trf.JobResult
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &res))
	assert.Equal(t, "quarter", res.ID)
	assert.Equal(t, trf.Success, res.Status)

	assert.Empty(t, client.Published("trfit/lidar"))
	assert.Len(t, client.Published("trfit/transforms"), 1)
}

func TestApp_RunFit_MissingConfig(t *testing.T) {
	app := NewApp(&bytes.Buffer{})
	app.ConfigFile = filepath.Join(t.TempDir(), "nope.yaml")
	err := app.RunFit(context.Background())
	assert.ErrorContains(t, err, "config file not found")
}

// ---------------------------------------------------------------------------
// RunStatus
// ---------------------------------------------------------------------------

func TestApp_RunStatus(t *testing.T) {
	app, out := newTestApp(t, testConfigYAML)
	require.NoError(t, app.RunStatus())
	assert.Contains(t, out.String(), "Fitted (0)")
	assert.Contains(t, out.String(), "Missing (2)")

	require.NoError(t, app.RunFit(context.Background()))
	out.Reset()
	app.MaxAge = time.Nanosecond
	require.NoError(t, app.RunStatus())
	assert.Contains(t, out.String(), "Fitted (2)")
	assert.Contains(t, out.String(), "Missing (0)")
	assert.Contains(t, out.String(), "(stale)")
}

// ---------------------------------------------------------------------------
// RunApply
// ---------------------------------------------------------------------------

func TestApp_RunApply_GeoJSON(t *testing.T) {
	app, _ := fitTestApp(t)
	dir := t.TempDir()

	fc := geojson.NewFeatureCollection()
	fc.Append(geojson.NewFeature(orb.Point{1, 0}))
	fc.Append(geojson.NewFeature(orb.LineString{{0, 0}, {0, 1}}))
	data, err := fc.MarshalJSON()
	require.NoError(t, err)
	app.InputFile = filepath.Join(dir, "in.geojson")
	require.NoError(t, os.WriteFile(app.InputFile, data, 0644))

	tests := []struct {
		name    string
		inverse bool
		point   orb.Point
		line    orb.LineString
	}{
		{"direct", false, orb.Point{5, 6}, orb.LineString{{5, 5}, {4, 5}}},
		{"inverse", true, orb.Point{-5, 4}, orb.LineString{{-5, 5}, {-4, 5}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app.Inverse = tt.inverse
			app.OutputFile = filepath.Join(dir, tt.name+".geojson")
			require.NoError(t, app.RunApply(context.Background(), "quarter"))

			data, err := os.ReadFile(app.OutputFile)
			require.NoError(t, err)
			got, err := geojson.UnmarshalFeatureCollection(data)
			require.NoError(t, err)
			require.Len(t, got.Features, 2)

			p := got.Features[0].Geometry.(orb.Point)
			assert.InDelta(t, tt.point[0], p[0], 1e-9)
			assert.InDelta(t, tt.point[1], p[1], 1e-9)
			ls := got.Features[1].Geometry.(orb.LineString)
			require.Len(t, ls, 2)
			for i := range ls {
				assert.InDelta(t, tt.line[i][0], ls[i][0], 1e-9)
				assert.InDelta(t, tt.line[i][1], ls[i][1], 1e-9)
			}
		})
	}
}

func TestApp_RunApply_Points3D(t *testing.T) {
	app, out := fitTestApp(t)
	app.InputFile = filepath.Join(t.TempDir(), "points.json")
	require.NoError(t, os.WriteFile(app.InputFile, []byte(`[[0, 0, 0], [2, 3, 4]]`), 0644))

	require.NoError(t, app.RunApply(context.Background(), "lidar"))

	var rows [][]float64
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(out.Bytes()), &rows))
	require.Len(t, rows, 2)
	assert.InDeltaSlice(t, []float64{1, 1, 1}, rows[0], 1e-9)
	assert.InDeltaSlice(t, []float64{3, 4, 5}, rows[1], 1e-9)
}

func TestApp_RunApply_Errors(t *testing.T) {
	app, _ := fitTestApp(t)

	err := app.RunApply(context.Background(), "quarter")
	assert.ErrorContains(t, err, "--input")

	app.InputFile = filepath.Join(t.TempDir(), "in.geojson")
	require.NoError(t, os.WriteFile(app.InputFile, []byte(`not json`), 0644))
	err = app.RunApply(context.Background(), "missing")
	assert.ErrorIs(t, err, trf.ErrNotFound)

	err = app.RunApply(context.Background(), "quarter")
	assert.ErrorContains(t, err, "parsing GeoJSON")
}

// ---------------------------------------------------------------------------
// RunRender
// ---------------------------------------------------------------------------

func TestApp_RunRender(t *testing.T) {
	// Nothing stored yet: the job is fitted on the fly.
	app, out := newTestApp(t, testConfigYAML)
	dir := t.TempDir()

	for _, format := range []string{"svg", "png", "raster"} {
		t.Run(format, func(t *testing.T) {
			app.RenderFormat = format
			app.OutputFile = filepath.Join(dir, "quarter."+format)
			require.NoError(t, app.RunRender("quarter"))

			data, err := os.ReadFile(app.OutputFile)
			require.NoError(t, err)
			if format == "svg" {
				assert.True(t, strings.Contains(string(data), "<svg"))
				return
			}
			img, err := png.Decode(bytes.NewReader(data))
			require.NoError(t, err)
			if format == "raster" {
				assert.Equal(t, 200, img.Bounds().Dx())
			}
		})
	}
	assert.Contains(t, out.String(), "Rendered quarter residuals")
}

func TestApp_RunRender_DefaultOutput(t *testing.T) {
	app, _ := fitTestApp(t)
	dir := t.TempDir()
	t.Chdir(dir)

	app.RenderFormat = "raster"
	require.NoError(t, app.RunRender("quarter"))
	_, err := os.Stat(filepath.Join(dir, "quarter-residuals.png"))
	assert.NoError(t, err)
}

func TestApp_RunRender_Errors(t *testing.T) {
	app, _ := newTestApp(t, testConfigYAML)
	app.OutputFile = filepath.Join(t.TempDir(), "out")

	assert.ErrorIs(t, app.RunRender("missing"), trf.ErrNotFound)
	assert.ErrorIs(t, app.RunRender("lidar"), trf.ErrNotSupported)

	app.RenderFormat = "gif"
	assert.ErrorContains(t, app.RunRender("quarter"), "unknown render format")
}

// ---------------------------------------------------------------------------
// RunService
// ---------------------------------------------------------------------------

func TestApp_RunService_AnswersFitRequests(t *testing.T) {
	app, out := newTestApp(t, testConfigYAML)
	client := trf.NewMockClient()
	client.SetConnected(true)
	app.MqttMode = true
	app.connect = mockConnect(client)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- app.RunService(ctx) }()

	payload, err := json.Marshal(trf.JobConfig{
		ID:          "remote",
		Kind:        trf.KindTranslation,
		Source:      [][]float64{{0, 0}, {1, 1}},
		Destination: [][]float64{{2, 3}, {3, 4}},
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return client.Deliver("trfit/fit", payload)
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("service did not stop")
	}

	assert.Len(t, client.Published("trfit/remote"), 1)
	assert.Contains(t, out.String(), "trfit/fit")
	assert.Contains(t, out.String(), "Service stopped")

	store, err := trf.LoadStore(storePath(app))
	require.NoError(t, err)
	st, err := store.Lookup("remote")
	require.NoError(t, err)
	assert.Equal(t, trf.KindTranslation, st.Record.Kind)
	assert.InDeltaSlice(t, []float64{2, 3}, st.Record.Params, 1e-9)
}

func TestApp_RunService_SubscribeError(t *testing.T) {
	app, _ := newTestApp(t, testConfigYAML)
	client := trf.NewMockClient()
	client.SetConnected(true)
	client.SetSubscribeError(assert.AnError)
	app.MqttMode = true
	app.connect = mockConnect(client)

	err := app.RunService(context.Background())
	assert.ErrorIs(t, err, assert.AnError)
}
