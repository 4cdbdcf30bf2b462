// Package model implements the regression model trained by the pipeline and
// the artifact format the prediction service loads.
package model

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// rcond is the relative cutoff for singular values treated as zero.
const rcond = 1e-10

// ErrNotFitted is returned when predicting with an untrained model.
var ErrNotFitted = errors.New("model is not fitted")

// LinearRegression is ordinary least squares with an intercept.
//
// The system is centered before solving and solved through an SVD, so
// collinear or constant features yield the minimum-norm solution instead of
// an error.
type LinearRegression struct {
	Coefficients []float64
	Intercept    float64
}

// NewLinearRegression creates an unfitted model.
func NewLinearRegression() *LinearRegression {
	return &LinearRegression{}
}

// Fit estimates coefficients from the rows of x and targets y.
func (m *LinearRegression) Fit(x [][]float64, y []float64) error {
	n := len(x)
	if n == 0 {
		return errors.New("cannot fit on empty data")
	}
	if len(y) != n {
		return fmt.Errorf("x has %d rows, y has %d values", n, len(y))
	}
	p := len(x[0])
	if p == 0 {
		return errors.New("cannot fit without features")
	}

	xMean := make([]float64, p)
	for _, row := range x {
		if len(row) != p {
			return fmt.Errorf("ragged input: expected %d features, got %d", p, len(row))
		}
		for j, v := range row {
			xMean[j] += v
		}
	}
	var yMean float64
	for _, v := range y {
		yMean += v
	}
	for j := range xMean {
		xMean[j] /= float64(n)
	}
	yMean /= float64(n)

	xc := mat.NewDense(n, p, nil)
	yc := mat.NewVecDense(n, nil)
	for i, row := range x {
		for j, v := range row {
			xc.Set(i, j, v-xMean[j])
		}
		yc.SetVec(i, y[i]-yMean)
	}

	var svd mat.SVD
	if ok := svd.Factorize(xc, mat.SVDThin); !ok {
		return errors.New("svd factorization failed")
	}
	rank := svd.Rank(rcond)

	coef := make([]float64, p)
	if rank > 0 {
		var beta mat.VecDense
		svd.SolveVecTo(&beta, yc, rank)
		for j := range coef {
			coef[j] = beta.AtVec(j)
		}
	}

	intercept := yMean
	for j, c := range coef {
		intercept -= c * xMean[j]
	}

	m.Coefficients = coef
	m.Intercept = intercept
	return nil
}

// PredictOne returns the prediction for a single feature vector.
func (m *LinearRegression) PredictOne(features []float64) (float64, error) {
	if m.Coefficients == nil {
		return 0, ErrNotFitted
	}
	if len(features) != len(m.Coefficients) {
		return 0, fmt.Errorf("expected %d features, got %d", len(m.Coefficients), len(features))
	}
	y := m.Intercept
	for j, v := range features {
		y += m.Coefficients[j] * v
	}
	return y, nil
}

// Predict returns one prediction per row.
func (m *LinearRegression) Predict(x [][]float64) ([]float64, error) {
	out := make([]float64, len(x))
	for i, row := range x {
		y, err := m.PredictOne(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out[i] = y
	}
	return out, nil
}
