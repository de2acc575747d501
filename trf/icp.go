package trf

import (
	"fmt"
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"gonum.org/v1/gonum/stat"
)

// ICPConfig holds configuration for AlignClouds.
// Distances are in the units of the destination cloud.
type ICPConfig struct {
	MaxIterations     int         // Maximum number of iterations
	ConvergenceThresh float64     // Stop when the mean distance improves by less than this
	MaxCorrespondDist float64     // Ignore nearest neighbours further than this (0 means no limit)
	OutlierPercentile float64     // Keep correspondences up to this distance percentile (0-1)
	AllowScale        bool        // Estimate a similarity instead of a rigid motion
	Initial           *Similarity // Starting estimate (default identity)
}

// DefaultICPConfig returns a rigid alignment with 80% outlier trimming.
func DefaultICPConfig() ICPConfig {
	return ICPConfig{
		MaxIterations:     50,
		ConvergenceThresh: 1e-9,
		OutlierPercentile: 0.8,
	}
}

// ICPResult contains the result of AlignClouds.
type ICPResult struct {
	Transform  *Similarity // Maps the source cloud onto the destination cloud
	Error      float64     // Mean distance over the final correspondences
	Iterations int
	Converged  bool
	// Src and Dst are the final correspondences, ready to fit another kind.
	Src, Dst []Point
}

// AlignClouds registers src onto dst without known correspondences by
// alternating nearest-neighbour matching with a closed-form Umeyama fit.
func AlignClouds(src, dst []Point, cfg ICPConfig) (ICPResult, error) {
	if len(src) < KindSimilarity.MinPoints() || len(dst) < KindSimilarity.MinPoints() {
		return ICPResult{}, &PointCountError{Kind: KindSimilarity, Have: min(len(src), len(dst)), Need: KindSimilarity.MinPoints()}
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultICPConfig().MaxIterations
	}

	current := NewSimilarity(0, 0, 1, 0)
	if cfg.Initial != nil {
		current = cfg.Initial.Clone().(*Similarity)
	}
	target := make([]orb.Point, len(dst))
	for i, p := range dst {
		target[i] = orb.Point{p.X, p.Y}
	}

	result := ICPResult{Transform: current, Error: math.MaxFloat64}
	for iter := 0; iter < cfg.MaxIterations; iter++ {
		result.Iterations = iter + 1

		moved, err := ApplyAll[Point](current, src, Direct)
		if err != nil {
			return result, err
		}
		srcCorr, dstCorr, dists := nearestNeighbours(src, moved, target, cfg.MaxCorrespondDist)
		srcCorr, dstCorr, dists = trimCorrespondences(srcCorr, dstCorr, dists, cfg.OutlierPercentile)
		if len(srcCorr) < KindSimilarity.MinPoints() {
			return result, fmt.Errorf("icp iteration %d: %w", iter, &PointCountError{Kind: KindSimilarity, Have: len(srcCorr), Need: KindSimilarity.MinPoints()})
		}

		meanDist := stat.Mean(dists, nil)
		improvement := result.Error - meanDist
		result.Error = meanDist
		result.Src, result.Dst = srcCorr, dstCorr
		if improvement < cfg.ConvergenceThresh {
			result.Converged = true
			break
		}

		est, err := UmeyamaPoints2D(srcCorr, dstCorr, !cfg.AllowScale)
		if err != nil {
			return result, fmt.Errorf("icp iteration %d: %w", iter, err)
		}
		next, err := est.Similarity2D()
		if err != nil {
			return result, err
		}
		current = next
		result.Transform = current
	}
	return result, nil
}

// nearestNeighbours pairs every original source point with the destination
// point closest to its mapped position.
func nearestNeighbours(src, moved []Point, target []orb.Point, maxDist float64) (srcCorr, dstCorr []Point, dists []float64) {
	limit := math.Inf(1)
	if maxDist > 0 {
		limit = maxDist * maxDist
	}
	for i, m := range moved {
		mp := orb.Point{m.X, m.Y}
		best, bestD := -1, math.Inf(1)
		for j, tp := range target {
			if d := planar.DistanceSquared(mp, tp); d < bestD {
				best, bestD = j, d
			}
		}
		if best < 0 || bestD > limit {
			continue
		}
		srcCorr = append(srcCorr, src[i])
		dstCorr = append(dstCorr, Point{X: target[best][0], Y: target[best][1]})
		dists = append(dists, math.Sqrt(bestD))
	}
	return srcCorr, dstCorr, dists
}

// trimCorrespondences keeps the pairs whose distance is at or below the
// given percentile.
func trimCorrespondences(srcCorr, dstCorr []Point, dists []float64, percentile float64) ([]Point, []Point, []float64) {
	if len(dists) == 0 || percentile <= 0 || percentile >= 1 {
		return srcCorr, dstCorr, dists
	}
	sorted := append([]float64(nil), dists...)
	sort.Float64s(sorted)
	idx := min(int(float64(len(sorted))*percentile), len(sorted)-1)
	threshold := sorted[idx]

	var s, d []Point
	var kept []float64
	for i, dist := range dists {
		if dist <= threshold {
			s = append(s, srcCorr[i])
			d = append(d, dstCorr[i])
			kept = append(kept, dist)
		}
	}
	return s, d, kept
}
