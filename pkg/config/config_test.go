package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Default()
	cfg.InputFile = "graph.bin"
	return cfg
}

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 300, cfg.K)
	assert.Equal(t, 0.01, cfg.Alpha)
	assert.Equal(t, 1.0, cfg.Eta0)
	assert.Equal(t, 1.0, cfg.Eta1)
	assert.Equal(t, 0.05, cfg.Epsilon)
	assert.Equal(t, 50, cfg.MiniBatchSize)
	assert.Equal(t, 0.01, cfg.A)
	assert.Equal(t, 1024.0, cfg.B)
	assert.Equal(t, 0.55, cfg.C)
	assert.Equal(t, 0.1, cfg.HoldOutRatio)
	assert.Equal(t, "stratified-random-node", cfg.Strategy)
	assert.Equal(t, 10, cfg.NumPieces)
	assert.Equal(t, 10, cfg.Interval)
}

func TestValidateAcceptsDefaults(t *testing.T) {
	cfg := validConfig()
	assert.NoError(t, cfg.Validate())
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := validConfig()
	cfg.K = 0
	cfg.Epsilon = 1.5
	cfg.C = 0.3
	cfg.InputFile = ""

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "config.k")
	assert.Contains(t, msg, "config.epsilon")
	assert.Contains(t, msg, "config.c")
	assert.Contains(t, msg, "config.input_file")
}

func TestValidateHoldOutRatio(t *testing.T) {
	cfg := validConfig()
	cfg.HoldOutRatio = 1.0
	assert.Error(t, cfg.Validate())

	cfg.HoldOutRatio = 0.0
	assert.NoError(t, cfg.Validate())
}

func TestValidateCohort(t *testing.T) {
	cfg := validConfig()
	cfg.Cohort.Type = CohortNNG
	cfg.Cohort.Size = 4
	cfg.Cohort.Rank = 2
	cfg.Cohort.MasterHost = ""
	assert.Error(t, cfg.Validate(), "nng worker needs a master host")

	cfg.Cohort.MasterHost = "head-node"
	assert.NoError(t, cfg.Validate())

	cfg.Cohort.Rank = 4
	assert.Error(t, cfg.Validate(), "rank beyond size")
}

func TestLoadFileOverlays(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte("k: 25\nepsilon: 0.01\ninput_file: web.graph\n"), 0o644))

	cfg := Default()
	require.NoError(t, cfg.LoadFile(path))

	assert.Equal(t, 25, cfg.K)
	assert.Equal(t, 0.01, cfg.Epsilon)
	assert.Equal(t, "web.graph", cfg.InputFile)
	// untouched keys keep their defaults
	assert.Equal(t, 0.01, cfg.Alpha)
}

func TestLoadFileMissing(t *testing.T) {
	cfg := Default()
	assert.Error(t, cfg.LoadFile(filepath.Join(t.TempDir(), "absent.yaml")))
}
