// Package config holds the run configuration: model priors, sampler
// controls, cohort geometry and DKV transport sub-options.
package config

import (
	"fmt"
	"os"
	"runtime"

	"gopkg.in/yaml.v3"

	"github.com/dd0wney/sparsebm/pkg/dkv"
)

// CohortType selects the cohort transport.
type CohortType string

const (
	// CohortLocal is the in-process cohort for single-binary runs.
	CohortLocal CohortType = "local"
	// CohortNNG is the mangos star cohort for real clusters.
	CohortNNG CohortType = "nng"
)

// CohortConfig describes this member's place in the worker group.
type CohortConfig struct {
	Type       CohortType `yaml:"type"`
	Size       int        `yaml:"size"`
	Rank       int        `yaml:"rank"`
	MasterHost string     `yaml:"master_host"`
	BasePort   int        `yaml:"base_port"`
}

// Config is the full run configuration.
type Config struct {
	// Model priors
	K       int     `yaml:"k"`
	Alpha   float64 `yaml:"alpha"`
	Eta0    float64 `yaml:"eta0"`
	Eta1    float64 `yaml:"eta1"`
	Epsilon float64 `yaml:"epsilon"`

	// Robbins-Monro step size parameters
	A float64 `yaml:"a"`
	B float64 `yaml:"b"`
	C float64 `yaml:"c"`

	// Sampler controls
	MiniBatchSize int    `yaml:"mini_batch_size"`
	MaxIteration  int    `yaml:"max_iteration"`
	HoldOutRatio  float64 `yaml:"hold_out_prob"`
	NumNodeSample int    `yaml:"num_node_sample"`
	Strategy      string `yaml:"strategy"`
	NumPieces     int    `yaml:"num_pieces"`
	Interval      int    `yaml:"interval"`
	RandomSeed    uint64 `yaml:"random_seed"`

	// Deployment
	ReplicatedGraph      bool `yaml:"replicated_graph"`
	ForcedMasterIsWorker bool `yaml:"forced_master_is_worker"`
	MaxPiCacheEntries    int  `yaml:"max_pi_cache_entries"`
	Threads              int  `yaml:"threads"`

	// Dataset
	InputFile string `yaml:"input_file"`
	DumpFile  string `yaml:"dump_file"`

	Cohort CohortConfig `yaml:"cohort"`
	DKV    dkv.Options  `yaml:"dkv"`
}

// Default returns the configuration with every knob at its documented
// default.
func Default() Config {
	return Config{
		K:             300,
		Alpha:         0.01,
		Eta0:          1.0,
		Eta1:          1.0,
		Epsilon:       0.05,
		A:             0.01,
		B:             1024,
		C:             0.55,
		MiniBatchSize: 50,
		MaxIteration:  10000000,
		HoldOutRatio:  0.1,
		NumNodeSample: 0,
		Strategy:      "stratified-random-node",
		NumPieces:     10,
		Interval:      10,
		RandomSeed:    42,

		ReplicatedGraph: true,
		Threads:         runtime.NumCPU(),

		Cohort: CohortConfig{
			Type:     CohortLocal,
			Size:     1,
			Rank:     0,
			BasePort: 9750,
		},
		DKV: dkv.Options{
			Type: dkv.TypeFile,
			File: dkv.FileOptions{Dir: "./dkv-data"},
		},
	}
}

// LoadFile overlays a YAML file onto cfg.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}
