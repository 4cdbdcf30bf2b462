package model

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// Metrics summarises model quality on the held-out split.
type Metrics struct {
	R2        float64 `json:"r2"`
	MSE       float64 `json:"mse"`
	TrainRows int     `json:"train_rows"`
	TestRows  int     `json:"test_rows"`
}

// MSE returns the mean squared error.
func MSE(yTrue, yPred []float64) (float64, error) {
	if err := sameLength(yTrue, yPred); err != nil {
		return 0, err
	}
	var sum float64
	for i := range yTrue {
		d := yTrue[i] - yPred[i]
		sum += d * d
	}
	return sum / float64(len(yTrue)), nil
}

// R2 returns the coefficient of determination. A constant target that is
// predicted exactly scores 1, otherwise 0.
func R2(yTrue, yPred []float64) (float64, error) {
	if err := sameLength(yTrue, yPred); err != nil {
		return 0, err
	}
	r2 := stat.RSquaredFrom(yPred, yTrue, nil)
	if math.IsNaN(r2) || math.IsInf(r2, 0) { // zero total variance
		mse, _ := MSE(yTrue, yPred)
		if mse == 0 {
			return 1, nil
		}
		return 0, nil
	}
	return r2, nil
}

func sameLength(a, b []float64) error {
	if len(a) == 0 {
		return fmt.Errorf("no values to score")
	}
	if len(a) != len(b) {
		return fmt.Errorf("length mismatch: %d true values, %d predictions", len(a), len(b))
	}
	return nil
}
