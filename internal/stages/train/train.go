// Package train fits the stock price regressor on the split data and
// publishes the model artifact.
package train

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/leapstack-labs/leapml/internal/dataset"
	"github.com/leapstack-labs/leapml/internal/model"
	"github.com/leapstack-labs/leapml/internal/objectstore"
	"github.com/leapstack-labs/leapml/internal/pipeline"
)

// Config configures the train stage.
type Config struct {
	SplitDir  string `koanf:"split_dir"`
	ModelPath string `koanf:"model_path"`
	Prefix    string `koanf:"prefix"`
	ModelName string `koanf:"model_name"`
	KeepLocal bool   `koanf:"keep_local"`
}

// Stage implements pipeline.Stage for the train step.
type Stage struct {
	cfg    Config
	store  objectstore.Store
	logger *slog.Logger
	now    func() time.Time
}

var _ pipeline.Stage = (*Stage)(nil)

// New creates the train stage.
func New(cfg Config, store objectstore.Store, logger *slog.Logger) *Stage {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.ModelName == "" {
		cfg.ModelName = "stock-regressor"
	}
	return &Stage{
		cfg:    cfg,
		store:  store,
		logger: logger.With(slog.String("stage", pipeline.StageTrain)),
		now:    time.Now,
	}
}

// Name returns the stage name.
func (s *Stage) Name() string { return pipeline.StageTrain }

// ModelKey is the object key the artifact is published under.
func (s *Stage) ModelKey() string {
	return objectstore.Join(s.cfg.Prefix, filepath.Base(s.cfg.ModelPath))
}

// Run trains, evaluates and publishes the model.
func (s *Stage) Run(ctx context.Context) (pipeline.Result, error) {
	artifact, err := s.Train()
	if err != nil {
		return pipeline.Result{}, err
	}

	if err := artifact.Save(s.cfg.ModelPath); err != nil {
		return pipeline.Result{}, err
	}
	key := s.ModelKey()
	if err := objectstore.PutFile(ctx, s.store, key, s.cfg.ModelPath); err != nil {
		return pipeline.Result{}, err
	}
	s.logger.Info("model published", slog.String("uri", s.store.URI(key)))

	if !s.cfg.KeepLocal {
		if err := os.Remove(s.cfg.ModelPath); err != nil {
			return pipeline.Result{}, fmt.Errorf("failed to remove local model: %w", err)
		}
	}

	return pipeline.Result{Detail: s.store.URI(key), Count: artifact.Metrics.TrainRows}, nil
}

// Train fits a scaler and linear regression on the training split and
// scores it on the test split.
func (s *Stage) Train() (*model.Artifact, error) {
	xTrain, err := s.read(dataset.XTrainFile, model.FeatureColumns)
	if err != nil {
		return nil, err
	}
	xTest, err := s.read(dataset.XTestFile, model.FeatureColumns)
	if err != nil {
		return nil, err
	}
	yTrain, err := s.read(dataset.YTrainFile, []string{model.TargetColumn})
	if err != nil {
		return nil, err
	}
	yTest, err := s.read(dataset.YTestFile, []string{model.TargetColumn})
	if err != nil {
		return nil, err
	}
	if xTrain.Len() != yTrain.Len() || xTest.Len() != yTest.Len() {
		return nil, fmt.Errorf("split sizes disagree: X_train %d / y_train %d, X_test %d / y_test %d",
			xTrain.Len(), yTrain.Len(), xTest.Len(), yTest.Len())
	}

	scaler := &model.StandardScaler{}
	xTrainScaled, err := scaler.FitTransform(xTrain.Rows)
	if err != nil {
		return nil, fmt.Errorf("failed to fit scaler: %w", err)
	}
	xTestScaled, err := scaler.Transform(xTest.Rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scale test set: %w", err)
	}

	yTrainValues, _ := yTrain.Column(model.TargetColumn)
	yTestValues, _ := yTest.Column(model.TargetColumn)

	lr := model.NewLinearRegression()
	if err := lr.Fit(xTrainScaled, yTrainValues); err != nil {
		return nil, fmt.Errorf("failed to fit model: %w", err)
	}

	pred, err := lr.Predict(xTestScaled)
	if err != nil {
		return nil, err
	}
	r2, err := model.R2(yTestValues, pred)
	if err != nil {
		return nil, err
	}
	mse, err := model.MSE(yTestValues, pred)
	if err != nil {
		return nil, err
	}

	metrics := model.Metrics{R2: r2, MSE: mse, TrainRows: xTrain.Len(), TestRows: xTest.Len()}
	s.logger.Info("model trained",
		slog.Float64("r2", r2),
		slog.Float64("mse", mse),
		slog.Int("train_rows", metrics.TrainRows),
		slog.Int("test_rows", metrics.TestRows),
	)

	now := s.now().UTC()
	artifact := model.NewArtifact(s.cfg.ModelName, now.Format("20060102T150405Z"), lr, scaler, metrics)
	artifact.TrainedAt = now
	return artifact, nil
}

func (s *Stage) read(name string, want []string) (*dataset.Frame, error) {
	path := filepath.Join(s.cfg.SplitDir, name)
	f, err := dataset.ReadCSV(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	if !slices.Equal(f.Columns, want) {
		return nil, fmt.Errorf("%s has columns %v, want %v", name, f.Columns, want)
	}
	if f.Len() == 0 {
		return nil, fmt.Errorf("%s has no rows", name)
	}
	return f, nil
}
