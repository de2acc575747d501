package trf

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// JobResult is the outcome of fitting one configured job.
type JobResult struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Status    Status    `json:"status"`
	Reason    string    `json:"reason,omitempty"`
	Error     string    `json:"error,omitempty"`
	Points    int       `json:"points"`
	RMSE      float64   `json:"rmse"`
	Residuals []float64 `json:"residuals,omitempty"`
	Record    *Record   `json:"record,omitempty"`
	Timestamp int64     `json:"timestamp"`

	err error
}

// Err returns the failure behind a Failure status, or nil.
func (r JobResult) Err() error { return r.err }

// Fit returns the residuals and RMSE of the result.
func (r JobResult) Fit() Fit { return Fit{Residuals: r.Residuals, RMSE: r.RMSE} }

func failedJob(job JobConfig, err error) JobResult {
	return JobResult{
		ID:        job.ID,
		Kind:      job.Kind,
		Status:    Failure,
		Reason:    Reason(err),
		Error:     err.Error(),
		Points:    len(job.Source),
		Timestamp: time.Now().Unix(),
		err:       err,
	}
}

// RunJob fits the transform a job describes. A fit whose RMSE exceeds the
// job's MaxRMSE fails with ErrRMSEExceeded but still reports its residuals.
func RunJob(job JobConfig, solver Solver) JobResult {
	var (
		fit Fit
		rec Record
		err error
	)
	if job.Kind.Dimensions() == 3 {
		fit, rec, err = fitJob3D(job, solver)
	} else {
		fit, rec, err = fitJob2D(job, solver)
	}
	if err != nil {
		return failedJob(job, err)
	}

	res := JobResult{
		ID:        job.ID,
		Kind:      job.Kind,
		Status:    Success,
		Points:    len(fit.Residuals),
		RMSE:      fit.RMSE,
		Residuals: fit.Residuals,
		Record:    &rec,
		Timestamp: time.Now().Unix(),
	}
	if job.MaxRMSE > 0 && fit.RMSE > job.MaxRMSE {
		res.err = fmt.Errorf("%w: %g > %g", ErrRMSEExceeded, fit.RMSE, job.MaxRMSE)
		res.Status = Failure
		res.Reason = Reason(res.err)
		res.Error = res.err.Error()
		res.Record = nil
	}
	return res
}

func fitJob2D(job JobConfig, solver Solver) (Fit, Record, error) {
	src, err := Points2D(job.Source)
	if err != nil {
		return Fit{}, Record{}, fmt.Errorf("source: %w", err)
	}
	dst, err := Points2D(job.Destination)
	if err != nil {
		return Fit{}, Record{}, fmt.Errorf("destination: %w", err)
	}

	var t Transform2D
	if job.Kind == KindPolynomial && job.Degree != 0 {
		t, err = NewPolynomial(job.Degree)
	} else {
		t, err = New2D(job.Kind)
	}
	if err != nil {
		return Fit{}, Record{}, err
	}
	return fitEstimator(t, src, dst, solver)
}

func fitJob3D(job JobConfig, solver Solver) (Fit, Record, error) {
	src, err := Points3D(job.Source)
	if err != nil {
		return Fit{}, Record{}, fmt.Errorf("source: %w", err)
	}
	dst, err := Points3D(job.Destination)
	if err != nil {
		return Fit{}, Record{}, fmt.Errorf("destination: %w", err)
	}
	t, err := New3D(job.Kind)
	if err != nil {
		return Fit{}, Record{}, err
	}
	return fitEstimator(t, src, dst, solver)
}

func fitEstimator[P Coord](t Estimator[P], src, dst []P, solver Solver) (Fit, Record, error) {
	if s, ok := t.(SolverSetter); ok {
		s.SetSolver(solver)
	}
	fit, err := t.Compute(src, dst)
	if err != nil {
		return Fit{}, Record{}, err
	}
	rec, err := Encode(t)
	if err != nil {
		return Fit{}, Record{}, err
	}
	return fit, rec, nil
}

// RunJobs fits jobs concurrently on at most workers goroutines. Results are
// in job order. Jobs not started before ctx is cancelled fail with
// ErrCancelled.
func RunJobs(ctx context.Context, jobs []JobConfig, solver Solver, workers int, logger *zap.Logger) []JobResult {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := BatchOptions{Workers: workers}.normalize(len(jobs))
	results := make([]JobResult, len(jobs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	for i := range jobs {
		g.Go(func() error {
			job := jobs[i]
			if err := gctx.Err(); err != nil {
				results[i] = failedJob(job, fmt.Errorf("%w: %w", ErrCancelled, err))
				return nil
			}
			start := time.Now()
			res := RunJob(job, solver)
			results[i] = res
			if res.Status == Failure {
				logger.Warn("fit failed",
					zap.String("job", job.ID),
					zap.Stringer("kind", job.Kind),
					zap.String("reason", res.Reason),
					zap.Error(res.err),
				)
				return nil
			}
			logger.Info("fitted transform",
				zap.String("job", job.ID),
				zap.Stringer("kind", job.Kind),
				zap.Int("points", res.Points),
				zap.Float64("rmse", res.RMSE),
				zap.Duration("elapsed", time.Since(start)),
			)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		logger.Error("fitting jobs", zap.Error(err))
	}
	return results
}
