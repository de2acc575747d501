package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/kwv/trfit/trf"
	"github.com/paulmach/orb/geojson"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// maxBodyBytes bounds request bodies of the apply and fit endpoints.
const maxBodyBytes = 32 << 20

type transformSummary struct {
	ID          string  `json:"id"`
	Kind        string  `json:"kind"`
	Dimensions  int     `json:"dimensions"`
	RMSE        float64 `json:"rmse"`
	Points      int     `json:"points"`
	LastUpdated int64   `json:"lastUpdated"`
}

// newHTTPServer creates an HTTP server with all endpoints
func newHTTPServer(config *trf.Config, store *transformStore, solver trf.Solver, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		logger.Debug("health request", zap.String("remote", r.RemoteAddr))
		writeJSON(w, logger, http.StatusOK, struct {
			Status     string    `json:"status"`
			Timestamp  time.Time `json:"timestamp"`
			Transforms int       `json:"transforms"`
		}{
			Status:     "ok",
			Timestamp:  time.Now(),
			Transforms: len(store.ids()),
		})
	})

	mux.HandleFunc("GET /transforms", func(w http.ResponseWriter, r *http.Request) {
		status := store.status(config.JobIDs())
		list := make([]transformSummary, 0, len(status.Fitted))
		for _, id := range status.Fitted {
			st, err := store.lookup(id)
			if err != nil {
				continue
			}
			list = append(list, transformSummary{
				ID:          id,
				Kind:        st.Record.Kind.String(),
				Dimensions:  st.Record.Dimensions,
				RMSE:        st.RMSE,
				Points:      st.Points,
				LastUpdated: st.LastUpdated,
			})
		}
		writeJSON(w, logger, http.StatusOK, struct {
			Transforms []transformSummary `json:"transforms"`
			Missing    []string           `json:"missing"`
		}{list, status.Missing})
	})

	mux.HandleFunc("GET /transforms/{id}", func(w http.ResponseWriter, r *http.Request) {
		st, err := store.lookup(r.PathValue("id"))
		if err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, logger, http.StatusOK, st)
	})

	// Applies the stored transform to the request body: a GeoJSON
	// FeatureCollection for planar transforms, [x, y, z] rows otherwise.
	mux.HandleFunc("POST /transforms/{id}/apply", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		st, err := store.lookup(id)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		order := trf.Direct
		if r.URL.Query().Get("order") == "inverse" {
			order = trf.Inverse
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			http.Error(w, "reading body", http.StatusBadRequest)
			return
		}

		if st.Record.Dimensions == 3 {
			applyPoints3D(w, r, logger, store, id, order, body)
			return
		}

		t, err := store.get2D(id)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		fc, err := geojson.UnmarshalFeatureCollection(body)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid GeoJSON: %v", err), http.StatusBadRequest)
			return
		}
		opts := trf.GeoOptions{Order: order}
		if s := r.URL.Query().Get("simplify"); s != "" {
			opts.Simplify, err = strconv.ParseFloat(s, 64)
			if err != nil {
				http.Error(w, "invalid simplify tolerance", http.StatusBadRequest)
				return
			}
		}
		mapped, err := trf.ApplyFeatureCollection(t, fc, opts)
		if errs := multierr.Errors(err); len(errs) > 0 {
			logger.Warn("features left untransformed", zap.String("transform", id), zap.Int("count", len(errs)), zap.Error(err))
			w.Header().Set("X-Untransformed-Features", strconv.Itoa(len(errs)))
		}
		w.Header().Set("Content-Type", "application/geo+json")
		data, err := mapped.MarshalJSON()
		if err != nil {
			logger.Error("encoding GeoJSON", zap.Error(err))
			http.Error(w, "encoding GeoJSON", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write(data)
	})

	mux.HandleFunc("GET /transforms/{id}/residuals.svg", func(w http.ResponseWriter, r *http.Request) {
		plot, err := residualPlot(config, store, r.PathValue("id"), solver)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		w.Header().Set("Content-Type", "image/svg+xml")
		w.Header().Set("Cache-Control", "no-cache")
		if err := plot.RenderSVG(w); err != nil {
			logger.Error("rendering residual plot", zap.Error(err))
		}
	})

	// Fits one job given as JSON and stores it on success.
	mux.HandleFunc("POST /fit", func(w http.ResponseWriter, r *http.Request) {
		var job trf.JobConfig
		if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&job); err != nil {
			http.Error(w, fmt.Sprintf("invalid job: %v", err), http.StatusBadRequest)
			return
		}
		if err := (&trf.Config{Jobs: []trf.JobConfig{job}}).Validate(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		res := trf.RunJob(job, solver)
		if err := store.put(res); err != nil {
			logger.Error("saving store", zap.String("job", res.ID), zap.Error(err))
		}
		code := http.StatusOK
		if res.Status == trf.Failure {
			code = http.StatusUnprocessableEntity
		}
		writeJSON(w, logger, code, res)
	})

	return mux
}

func applyPoints3D(w http.ResponseWriter, r *http.Request, logger *zap.Logger, store *transformStore, id string, order trf.Order, body []byte) {
	t, err := store.get3D(id)
	if err != nil {
		writeError(w, logger, err)
		return
	}
	var rows [][]float64
	if err := json.Unmarshal(body, &rows); err != nil {
		http.Error(w, fmt.Sprintf("invalid points: %v", err), http.StatusBadRequest)
		return
	}
	pts, err := trf.Points3D(rows)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	mapped, err := trf.ApplyParallel[trf.Point3D](r.Context(), t, pts, order, trf.BatchOptions{Logger: logger})
	if err != nil {
		writeError(w, logger, err)
		return
	}
	out := make([][]float64, len(mapped))
	for i, p := range mapped {
		out[i] = []float64{p.X, p.Y, p.Z}
	}
	writeJSON(w, logger, http.StatusOK, out)
}

// writeError maps a trf failure onto an HTTP status.
func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, trf.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, trf.ErrNotSupported):
		code = http.StatusBadRequest
	case errors.Is(err, trf.ErrSingular), errors.Is(err, trf.ErrInsufficientPoints), errors.Is(err, trf.ErrSizeMismatch):
		code = http.StatusUnprocessableEntity
	case errors.Is(err, trf.ErrCancelled):
		code = http.StatusServiceUnavailable
	}
	if code == http.StatusInternalServerError {
		logger.Error("request failed", zap.Error(err))
	}
	http.Error(w, err.Error(), code)
}

func writeJSON(w http.ResponseWriter, logger *zap.Logger, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("encoding response", zap.Error(err))
	}
}
