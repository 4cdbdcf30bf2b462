package commands

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapml/internal/model"
)

func TestCalculateHealthScore(t *testing.T) {
	tests := []struct {
		name   string
		checks []HealthCheck
		want   int
	}{
		{name: "no checks returns 100", checks: nil, want: 100},
		{
			name: "all passing returns 100",
			checks: []HealthCheck{
				{ID: "CF01", Status: checkPass},
				{ID: "PL01", Status: checkPass},
			},
			want: 100,
		},
		{
			name: "warnings reduce score",
			checks: []HealthCheck{
				{ID: "CF01", Status: checkPass},
				{ID: "ST02", Status: checkWarn},
				{ID: "MD01", Status: checkWarn},
			},
			want: 80,
		},
		{
			name: "errors reduce score more",
			checks: []HealthCheck{
				{ID: "PL01", Status: checkError},
				{ID: "MD01", Status: checkWarn},
			},
			want: 65,
		},
		{
			name: "score never goes negative",
			checks: []HealthCheck{
				{Status: checkError}, {Status: checkError}, {Status: checkError},
				{Status: checkError}, {Status: checkError},
			},
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, calculateHealthScore(tt.checks))
		})
	}
}

func TestGenerateRecommendations(t *testing.T) {
	recs := generateRecommendations([]HealthCheck{
		{ID: "CF01", Status: checkPass},
		{ID: "ST02", Status: checkWarn},
		{ID: "XX99", Status: checkError},
	})
	require.Len(t, recs, 1)
	assert.Contains(t, recs[0], "leapml stage upload")
}

func runDoctorJSON(t *testing.T) DoctorOutput {
	t.Helper()
	cmd := NewDoctorCommand()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{})
	require.NoError(t, cmd.Execute())

	var out DoctorOutput
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	return out
}

func statusByID(out DoctorOutput) map[string]string {
	statuses := make(map[string]string, len(out.HealthChecks))
	for _, c := range out.HealthChecks {
		statuses[c.ID] = c.Status
	}
	return statuses
}

func TestDoctor_FreshProject(t *testing.T) {
	setupProject(t, "output: json\n")

	out := runDoctorJSON(t)
	assert.Equal(t, map[string]string{
		"CF01": checkPass,
		"CF02": checkPass,
		"PL01": checkPass,
		"ST01": checkPass,
		"ST02": checkWarn,
		"RS01": checkPass,
		"RS02": checkWarn,
		"MD01": checkWarn,
	}, statusByID(out))
	assert.Equal(t, 3, out.IssueCount)
	assert.Equal(t, 70, out.Score)
	assert.Len(t, out.Recommendations, 3)
}

func TestDoctor_BrokenPipeline(t *testing.T) {
	dir := setupProject(t, "output: json\n")
	writeProjectFile(t, dir, "pipeline.star", `
pipeline(name = "broken")
stage("upload")
stage("forecast", after = ["upload"])
`)

	out := runDoctorJSON(t)
	assert.Equal(t, checkError, statusByID(out)["PL01"])
}

func TestDoctor_ModelAvailable(t *testing.T) {
	tests := []struct {
		name  string
		place func(t *testing.T, dir string, artifact *model.Artifact)
	}{
		{
			name: "in storage",
			place: func(t *testing.T, dir string, artifact *model.Artifact) {
				require.NoError(t, artifact.Save(filepath.Join(dir, "artifacts", "bucket", "models", "model.json")))
			},
		},
		{
			name: "on disk",
			place: func(t *testing.T, dir string, artifact *model.Artifact) {
				require.NoError(t, artifact.Save(filepath.Join(dir, "artifacts", "trained_model", "model.json")))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := setupProject(t, "output: json\n")
			tt.place(t, dir, testArtifact())

			out := runDoctorJSON(t)
			assert.Equal(t, checkPass, statusByID(out)["MD01"])
		})
	}
}
