// Copyright (C) The WebGWAS Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package webgwas

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// anonymize clusters the rows of y into groups of at least k and
// replaces every row with its cluster centroid, so each released row
// is indistinguishable from at least k-1 others. Clustering follows
// the maximum-distance-to-average-vector scheme: repeatedly take the
// most extreme pair of remaining points, cluster the k nearest points
// around each, and substitute centroids; when fewer than 2k points
// remain they form one final cluster, or, if fewer than k, join their
// nearest existing cluster. The output has the same shape and row
// order as the input.
func anonymize(y *mat.Dense, k int) (*mat.Dense, error) {
	n, p := y.Dims()
	if k > n {
		return nil, fmt.Errorf("cannot anonymize %d subjects with k=%d", n, k)
	}
	remaining := make([]int, n)
	for i := range remaining {
		remaining[i] = i
	}
	assign := make([]int, n)
	var centroids [][]float64

	addCluster := func(members []int) {
		c := centroidOf(y, members)
		for _, i := range members {
			assign[i] = len(centroids)
		}
		centroids = append(centroids, c)
	}

	for len(remaining) >= 2*k {
		center := centroidOf(y, remaining)
		xr := mat.Row(nil, remaining[farthestFrom(y, remaining, center)], y)
		cluster := nearestK(y, remaining, xr, k)
		remaining = without(remaining, cluster)
		addCluster(cluster)

		xs := mat.Row(nil, remaining[farthestFrom(y, remaining, xr)], y)
		cluster = nearestK(y, remaining, xs, k)
		remaining = without(remaining, cluster)
		addCluster(cluster)
	}
	if len(remaining) >= k {
		addCluster(remaining)
	} else if len(remaining) > 0 {
		// too few for a cluster of their own: each joins the nearest
		// existing cluster, keeping every cluster at size >= k
		for _, i := range remaining {
			row := mat.Row(nil, i, y)
			best, bestd := 0, floats.Distance(row, centroids[0], 2)
			for ci := 1; ci < len(centroids); ci++ {
				if d := floats.Distance(row, centroids[ci], 2); d < bestd {
					best, bestd = ci, d
				}
			}
			assign[i] = best
		}
	}

	out := mat.NewDense(n, p, nil)
	for i := 0; i < n; i++ {
		out.SetRow(i, centroids[assign[i]])
	}
	return out, nil
}

func centroidOf(y *mat.Dense, idx []int) []float64 {
	_, p := y.Dims()
	c := make([]float64, p)
	for _, i := range idx {
		for j := 0; j < p; j++ {
			c[j] += y.At(i, j)
		}
	}
	for j := range c {
		c[j] /= float64(len(idx))
	}
	return c
}

// farthestFrom returns the position in idx of the row farthest from
// the given point.
func farthestFrom(y *mat.Dense, idx []int, from []float64) int {
	best, bestd := 0, -1.0
	row := make([]float64, len(from))
	for pos, i := range idx {
		mat.Row(row, i, y)
		if d := floats.Distance(row, from, 2); d > bestd {
			best, bestd = pos, d
		}
	}
	return best
}

// nearestK returns the k row indices from idx closest to the given
// point.
func nearestK(y *mat.Dense, idx []int, from []float64, k int) []int {
	type cand struct {
		i int
		d float64
	}
	cands := make([]cand, len(idx))
	row := make([]float64, len(from))
	for pos, i := range idx {
		mat.Row(row, i, y)
		cands[pos] = cand{i: i, d: floats.Distance(row, from, 2)}
	}
	sort.Slice(cands, func(a, b int) bool { return cands[a].d < cands[b].d })
	out := make([]int, k)
	for i := 0; i < k; i++ {
		out[i] = cands[i].i
	}
	return out
}

func without(idx, drop []int) []int {
	dropset := map[int]bool{}
	for _, i := range drop {
		dropset[i] = true
	}
	out := idx[:0]
	for _, i := range idx {
		if !dropset[i] {
			out = append(out, i)
		}
	}
	return out
}
