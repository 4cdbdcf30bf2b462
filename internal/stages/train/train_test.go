package train

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapml/internal/dataset"
	"github.com/leapstack-labs/leapml/internal/model"
	"github.com/leapstack-labs/leapml/internal/objectstore"
	"github.com/leapstack-labs/leapml/internal/testutil"
)

// writeSplits writes split files whose target is an exact linear function
// of the features.
func writeSplits(t *testing.T, dir string, nTrain, nTest int) {
	t.Helper()
	build := func(n, offset int) (*dataset.Frame, *dataset.Frame) {
		x := dataset.NewFrame(model.FeatureColumns...)
		y := dataset.NewFrame(model.TargetColumn)
		for i := 0; i < n; i++ {
			k := float64(i + offset)
			row := []float64{
				100 + k, 104 + 2*k, 96 + math.Mod(k*7, 5), 99 + k*0.5, 1000 + math.Mod(k*13, 17),
				2020, 1 + math.Mod(k, 12), 1 + math.Mod(k*3, 28),
			}
			require.NoError(t, x.Append(row))
			require.NoError(t, y.Append([]float64{0.5*row[0] + 0.25*row[1] + 0.25*row[2]}))
		}
		return x, y
	}

	xTrain, yTrain := build(nTrain, 0)
	xTest, yTest := build(nTest, nTrain)
	require.NoError(t, xTrain.WriteCSV(filepath.Join(dir, dataset.XTrainFile)))
	require.NoError(t, yTrain.WriteCSV(filepath.Join(dir, dataset.YTrainFile)))
	require.NoError(t, xTest.WriteCSV(filepath.Join(dir, dataset.XTestFile)))
	require.NoError(t, yTest.WriteCSV(filepath.Join(dir, dataset.YTestFile)))
}

func newStage(t *testing.T, keepLocal bool) (*Stage, objectstore.Store) {
	t.Helper()
	dir := t.TempDir()
	store, err := objectstore.NewLocal(filepath.Join(dir, "bucket"), nil)
	require.NoError(t, err)

	cfg := Config{
		SplitDir:  filepath.Join(dir, "artifacts", "split"),
		ModelPath: filepath.Join(dir, "artifacts", "trained_model", "model.json"),
		Prefix:    "models",
		KeepLocal: keepLocal,
	}
	s := New(cfg, store, testutil.NewTestLogger(t))
	s.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	return s, store
}

func TestTrain_ExactFit(t *testing.T) {
	stage, _ := newStage(t, false)
	writeSplits(t, stage.cfg.SplitDir, 40, 10)

	artifact, err := stage.Train()
	require.NoError(t, err)

	assert.InDelta(t, 1.0, artifact.Metrics.R2, 1e-9)
	assert.InDelta(t, 0.0, artifact.Metrics.MSE, 1e-9)
	assert.Equal(t, 40, artifact.Metrics.TrainRows)
	assert.Equal(t, 10, artifact.Metrics.TestRows)
	assert.Equal(t, "stock-regressor", artifact.Name)
	assert.Equal(t, "20240501T120000Z", artifact.Version)
	assert.Len(t, artifact.Coefficients, len(model.FeatureColumns))
}

func TestRun_PublishesAndRemovesLocalCopy(t *testing.T) {
	ctx := context.Background()
	stage, store := newStage(t, false)
	writeSplits(t, stage.cfg.SplitDir, 30, 8)

	res, err := stage.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, store.URI("models/model.json"), res.Detail)
	assert.NoFileExists(t, stage.cfg.ModelPath)

	rc, err := store.Get(ctx, "models/model.json")
	require.NoError(t, err)
	defer func() { _ = rc.Close() }()
	artifact, err := model.Decode(rc)
	require.NoError(t, err)

	// Open, High and Adj_Close move together in the fixture, so the probe
	// keeps that relation.
	got, err := artifact.Predict([]float64{120, 144, 97, 109, 1005, 2020, 3, 4})
	require.NoError(t, err)
	assert.InDelta(t, 0.5*120+0.25*144+0.25*97, got, 1e-6)
}

func TestRun_KeepLocal(t *testing.T) {
	stage, _ := newStage(t, true)
	writeSplits(t, stage.cfg.SplitDir, 30, 8)

	_, err := stage.Run(context.Background())
	require.NoError(t, err)
	assert.FileExists(t, stage.cfg.ModelPath)
}

func TestTrain_PricesFixture(t *testing.T) {
	stage, _ := newStage(t, true)

	raw := testutil.WriteFile(t, t.TempDir(), "processed.csv",
		"Open,High,Low,Close,Adj_Close,Volume,year,month,day\n"+
			"100,104,96,100,99.5,1000,2020,1,2\n"+
			"102,106,100,102.5,102,1100,2020,1,3\n"+
			"101,103,97,100.5,100,1050,2020,1,6\n"+
			"105,110,101,105.25,104.75,1300,2020,1,7\n"+
			"107,111,105,107.5,107,1250,2020,1,8\n"+
			"110,112,106,109.5,109,1400,2020,1,9\n"+
			"108,109,104,107.25,106.75,1200,2020,1,10\n"+
			"111,115,109,111.5,111,1500,2020,2,3\n")
	frame, err := dataset.ReadCSV(raw)
	require.NoError(t, err)
	train, test, err := frame.Split(0.25, 42)
	require.NoError(t, err)
	for name, part := range map[string]struct {
		src  *dataset.Frame
		cols []string
	}{
		dataset.XTrainFile: {train, model.FeatureColumns},
		dataset.XTestFile:  {test, model.FeatureColumns},
		dataset.YTrainFile: {train, []string{model.TargetColumn}},
		dataset.YTestFile:  {test, []string{model.TargetColumn}},
	} {
		sel, err := part.src.Select(part.cols...)
		require.NoError(t, err)
		require.NoError(t, sel.WriteCSV(filepath.Join(stage.cfg.SplitDir, name)))
	}

	artifact, err := stage.Train()
	require.NoError(t, err)
	assert.Len(t, artifact.Coefficients, 8)
	assert.False(t, math.IsNaN(artifact.Metrics.MSE))
	assert.False(t, math.IsNaN(artifact.Metrics.R2))
	assert.Equal(t, 6, artifact.Metrics.TrainRows)
}

func TestTrain_Errors(t *testing.T) {
	stage, _ := newStage(t, false)

	_, err := stage.Train()
	assert.ErrorContains(t, err, dataset.XTrainFile)

	writeSplits(t, stage.cfg.SplitDir, 5, 2)
	testutil.WriteFile(t, stage.cfg.SplitDir, dataset.YTestFile, "Open\n1\n2\n")
	_, err = stage.Train()
	assert.ErrorContains(t, err, "want [Close]")
}
