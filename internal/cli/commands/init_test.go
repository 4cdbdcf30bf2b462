package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapml/internal/cli/config"
	"github.com/leapstack-labs/leapml/internal/pipeline"
)

func TestNewInitCommand(t *testing.T) {
	tests := []struct {
		name      string
		setupDir  func(t *testing.T, dir string)
		args      []string
		wantErr   bool
		wantFiles []string
	}{
		{
			name:      "init empty directory",
			args:      []string{},
			wantFiles: []string{"leapml.yaml", "pipeline.star", ".gitignore", ".env.example"},
		},
		{
			name:      "init named directory",
			args:      []string{"stock-model"},
			wantFiles: []string{"stock-model/leapml.yaml", "stock-model/pipeline.star"},
		},
		{
			name: "init existing config without force",
			setupDir: func(t *testing.T, dir string) {
				require.NoError(t, os.WriteFile(filepath.Join(dir, "leapml.yaml"), []byte("existing"), 0o600))
			},
			args:    []string{},
			wantErr: true,
		},
		{
			name: "init existing config with force",
			setupDir: func(t *testing.T, dir string) {
				require.NoError(t, os.WriteFile(filepath.Join(dir, "leapml.yaml"), []byte("existing"), 0o600))
			},
			args:      []string{"--force"},
			wantFiles: []string{"leapml.yaml", "pipeline.star"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config.ResetConfig()
			tmpDir := t.TempDir()
			t.Chdir(tmpDir)

			if tt.setupDir != nil {
				tt.setupDir(t, tmpDir)
			}

			cmd := NewInitCommand()
			buf := new(bytes.Buffer)
			cmd.SetOut(buf)
			cmd.SetErr(buf)
			cmd.SetArgs(tt.args)

			err := cmd.Execute()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)

			for _, f := range tt.wantFiles {
				_, err := os.Stat(filepath.Join(tmpDir, f))
				assert.NoError(t, err, "expected %q to exist", f)
			}
		})
	}
}

func TestInitCommandMetadata(t *testing.T) {
	cmd := NewInitCommand()

	assert.Equal(t, "init [directory]", cmd.Use)
	assert.NotEmpty(t, cmd.Short, "Short should not be empty")
	assert.NotNil(t, cmd.Flags().Lookup("force"), "--force flag should exist")
}

func TestInitCreatesLoadableProject(t *testing.T) {
	config.ResetConfig()
	tmpDir := t.TempDir()
	t.Chdir(tmpDir)

	cmd := NewInitCommand()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	require.NoError(t, cmd.Execute())

	config.ResetConfig()
	cfg, err := config.LoadConfig(filepath.Join(tmpDir, "leapml.yaml"), nil)
	require.NoError(t, err)
	assert.Equal(t, "local", cfg.Storage.Backend)
	assert.Equal(t, filepath.Join(tmpDir, "pipeline.star"), cfg.PipelineFile)

	def, err := pipeline.LoadDefinition(cfg.PipelineFile)
	require.NoError(t, err)
	assert.Equal(t, pipeline.DefaultName, def.Name)
	assert.Equal(t, []string{"upload", "ingest", "preprocess", "train"}, def.StepNames())
	require.NoError(t, def.Validate(nil))
}

func TestRenameSpecialFiles(t *testing.T) {
	assert.Equal(t, ".gitignore", renameSpecialFiles("gitignore"))
	assert.Equal(t, "sub/.env.example", renameSpecialFiles("sub/env.example"))
	assert.Equal(t, "leapml.yaml", renameSpecialFiles("leapml.yaml"))
}
