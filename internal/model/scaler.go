package model

import (
	"errors"
	"fmt"
	"math"
)

// StandardScaler removes the mean and scales to unit variance, using the
// population standard deviation. Constant columns get a scale of 1.
type StandardScaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// Fit computes per-column mean and scale.
func (s *StandardScaler) Fit(x [][]float64) error {
	if len(x) == 0 {
		return errors.New("cannot fit scaler on empty data")
	}
	p := len(x[0])
	mean := make([]float64, p)
	for _, row := range x {
		if len(row) != p {
			return fmt.Errorf("ragged input: expected %d features, got %d", p, len(row))
		}
		for j, v := range row {
			mean[j] += v
		}
	}
	n := float64(len(x))
	for j := range mean {
		mean[j] /= n
	}

	scale := make([]float64, p)
	for _, row := range x {
		for j, v := range row {
			d := v - mean[j]
			scale[j] += d * d
		}
	}
	for j := range scale {
		scale[j] = math.Sqrt(scale[j] / n)
		if scale[j] == 0 {
			scale[j] = 1
		}
	}

	s.Mean = mean
	s.Scale = scale
	return nil
}

// TransformOne scales a single feature vector.
func (s *StandardScaler) TransformOne(features []float64) ([]float64, error) {
	if s.Mean == nil {
		return nil, errors.New("scaler is not fitted")
	}
	if len(features) != len(s.Mean) {
		return nil, fmt.Errorf("expected %d features, got %d", len(s.Mean), len(features))
	}
	out := make([]float64, len(features))
	for j, v := range features {
		out[j] = (v - s.Mean[j]) / s.Scale[j]
	}
	return out, nil
}

// Transform scales every row.
func (s *StandardScaler) Transform(x [][]float64) ([][]float64, error) {
	out := make([][]float64, len(x))
	for i, row := range x {
		r, err := s.TransformOne(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out[i] = r
	}
	return out, nil
}

// FitTransform fits the scaler on x and returns the scaled rows.
func (s *StandardScaler) FitTransform(x [][]float64) ([][]float64, error) {
	if err := s.Fit(x); err != nil {
		return nil, err
	}
	return s.Transform(x)
}
