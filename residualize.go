// Copyright (C) The WebGWAS Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package webgwas

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// residualize projects every column of y onto the orthogonal
// complement of the column space of x, simultaneously for all
// columns. x must already include an intercept column; each residual
// column is then numerically orthogonal to every column of x and has
// mean approximately zero.
func residualize(y, x *mat.Dense) (*mat.Dense, error) {
	var beta mat.Dense
	if err := beta.Solve(x, y); err != nil {
		return nil, err
	}
	var fitted mat.Dense
	fitted.Mul(x, &beta)
	var resid mat.Dense
	resid.Sub(y, &fitted)
	return &resid, nil
}

// leftInverse returns the Moore-Penrose pseudo-inverse of y. For a
// subjects x features matrix with at least as many independent rows
// as columns, leftInverse(y) * y is approximately the identity on the
// feature dimension.
func leftInverse(y *mat.Dense) (*mat.Dense, error) {
	var svd mat.SVD
	if ok := svd.Factorize(y, mat.SVDThin); !ok {
		return nil, errors.New("SVD failed to converge")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	s := svd.Values(nil)
	if len(s) == 0 {
		return nil, errors.New("empty matrix")
	}
	rows, cols := y.Dims()
	eps := math.Nextafter(1, 2) - 1
	tol := float64(max(rows, cols)) * s[0] * eps
	sinv := make([]float64, len(s))
	for i, sv := range s {
		if sv > tol {
			sinv[i] = 1 / sv
		}
	}
	d := mat.NewDiagDense(len(s), sinv)
	var pinv mat.Dense
	pinv.Product(&v, d, u.T())
	return &pinv, nil
}

// covarianceMatrix returns the sample covariance of the columns of y.
// Symmetric and positive semi-definite by construction.
func covarianceMatrix(y *mat.Dense) *mat.SymDense {
	_, p := y.Dims()
	cov := mat.NewSymDense(p, nil)
	stat.CovarianceMatrix(cov, y, nil)
	return cov
}
