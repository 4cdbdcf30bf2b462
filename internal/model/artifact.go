package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// FeatureColumns is the order in which features are fed to the model, both
// at training time and by every prediction endpoint.
var FeatureColumns = []string{"Open", "High", "Low", "Adj_Close", "Volume", "year", "month", "day"}

// TargetColumn is the value being predicted.
const TargetColumn = "Close"

// Artifact is the persisted form of a trained model: the regression, the
// scaler it was trained behind, and its evaluation.
type Artifact struct {
	Name         string         `json:"name"`
	Version      string         `json:"version"`
	Features     []string       `json:"features"`
	Target       string         `json:"target"`
	Coefficients []float64      `json:"coefficients"`
	Intercept    float64        `json:"intercept"`
	Scaler       StandardScaler `json:"scaler"`
	Metrics      Metrics        `json:"metrics"`
	TrainedAt    time.Time      `json:"trained_at"`
}

// NewArtifact packages a fitted model and scaler.
func NewArtifact(name, version string, lr *LinearRegression, scaler *StandardScaler, metrics Metrics) *Artifact {
	return &Artifact{
		Name:         name,
		Version:      version,
		Features:     FeatureColumns,
		Target:       TargetColumn,
		Coefficients: lr.Coefficients,
		Intercept:    lr.Intercept,
		Scaler:       *scaler,
		Metrics:      metrics,
		TrainedAt:    time.Now().UTC(),
	}
}

// Validate checks the artifact is internally consistent.
func (a *Artifact) Validate() error {
	p := len(a.Features)
	switch {
	case p == 0:
		return errors.New("artifact has no features")
	case len(a.Coefficients) != p:
		return fmt.Errorf("artifact has %d coefficients for %d features", len(a.Coefficients), p)
	case len(a.Scaler.Mean) != p || len(a.Scaler.Scale) != p:
		return fmt.Errorf("artifact scaler does not match %d features", p)
	}
	return nil
}

// Predict scales the raw feature vector and applies the regression.
func (a *Artifact) Predict(features []float64) (float64, error) {
	scaled, err := a.Scaler.TransformOne(features)
	if err != nil {
		return 0, err
	}
	lr := LinearRegression{Coefficients: a.Coefficients, Intercept: a.Intercept}
	return lr.PredictOne(scaled)
}

// Encode writes the artifact as indented JSON.
func (a *Artifact) Encode(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(a)
}

// Save writes the artifact to path, creating parent directories.
func (a *Artifact) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("failed to create model directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create model file: %w", err)
	}
	if err := a.Encode(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to encode model: %w", err)
	}
	return f.Close()
}

// Decode reads and validates an artifact.
func Decode(r io.Reader) (*Artifact, error) {
	var a Artifact
	if err := json.NewDecoder(r).Decode(&a); err != nil {
		return nil, fmt.Errorf("failed to decode model: %w", err)
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return &a, nil
}

// Load reads an artifact from a file.
func Load(path string) (*Artifact, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open model: %w", err)
	}
	defer func() { _ = f.Close() }()
	return Decode(f)
}
