package config

import (
	"errors"
	"fmt"
)

// Validator collects configuration errors rather than failing on the first
// one, so a bad invocation reports everything wrong at once.
type Validator struct {
	errors []error
	name   string
}

// NewValidator creates a validator for the named config struct.
func NewValidator(configName string) *Validator {
	return &Validator{
		name:   configName,
		errors: make([]error, 0),
	}
}

// Positive requires value > 0.
func (v *Validator) Positive(field string, value int) *Validator {
	if value <= 0 {
		v.errors = append(v.errors, fmt.Errorf("%s.%s: value %d must be positive", v.name, field, value))
	}
	return v
}

// NonNegative requires value >= 0.
func (v *Validator) NonNegative(field string, value int) *Validator {
	if value < 0 {
		v.errors = append(v.errors, fmt.Errorf("%s.%s: value %d must be non-negative", v.name, field, value))
	}
	return v
}

// PositiveFloat requires value > 0.
func (v *Validator) PositiveFloat(field string, value float64) *Validator {
	if value <= 0 {
		v.errors = append(v.errors, fmt.Errorf("%s.%s: value %g must be positive", v.name, field, value))
	}
	return v
}

// Ratio requires value in [0, 1).
func (v *Validator) Ratio(field string, value float64) *Validator {
	if value < 0 || value >= 1 {
		v.errors = append(v.errors, fmt.Errorf("%s.%s: value %g is outside [0, 1)", v.name, field, value))
	}
	return v
}

// OpenUnit requires value in (0, 1).
func (v *Validator) OpenUnit(field string, value float64) *Validator {
	if value <= 0 || value >= 1 {
		v.errors = append(v.errors, fmt.Errorf("%s.%s: value %g is outside (0, 1)", v.name, field, value))
	}
	return v
}

// RangeInt requires value in [min, max].
func (v *Validator) RangeInt(field string, value, min, max int) *Validator {
	if value < min || value > max {
		v.errors = append(v.errors, fmt.Errorf("%s.%s: value %d is outside range [%d, %d]", v.name, field, value, min, max))
	}
	return v
}

// Required requires a non-empty string.
func (v *Validator) Required(field, value string) *Validator {
	if value == "" {
		v.errors = append(v.errors, fmt.Errorf("%s.%s: required field is empty", v.name, field))
	}
	return v
}

// Check adds err if non-nil.
func (v *Validator) Check(field string, err error) *Validator {
	if err != nil {
		v.errors = append(v.errors, fmt.Errorf("%s.%s: %w", v.name, field, err))
	}
	return v
}

// Err returns all collected errors joined, or nil.
func (v *Validator) Err() error {
	if len(v.errors) == 0 {
		return nil
	}
	return errors.Join(v.errors...)
}

// Validate checks the whole configuration.
func (c *Config) Validate() error {
	v := NewValidator("config")

	v.Positive("k", c.K)
	v.PositiveFloat("alpha", c.Alpha)
	v.PositiveFloat("eta0", c.Eta0)
	v.PositiveFloat("eta1", c.Eta1)
	v.OpenUnit("epsilon", c.Epsilon)
	v.PositiveFloat("a", c.A)
	v.PositiveFloat("b", c.B)
	// Robbins-Monro needs 0.5 < c <= 1 for convergence
	if c.C <= 0.5 || c.C > 1 {
		v.Check("c", fmt.Errorf("value %g is outside (0.5, 1]", c.C))
	}
	v.NonNegative("mini_batch_size", c.MiniBatchSize)
	v.Positive("max_iteration", c.MaxIteration)
	v.Ratio("hold_out_prob", c.HoldOutRatio)
	v.NonNegative("num_node_sample", c.NumNodeSample)
	v.Positive("num_pieces", c.NumPieces)
	v.Positive("interval", c.Interval)
	v.NonNegative("max_pi_cache_entries", c.MaxPiCacheEntries)
	v.Positive("threads", c.Threads)
	v.Required("input_file", c.InputFile)

	v.Positive("cohort.size", c.Cohort.Size)
	v.RangeInt("cohort.rank", c.Cohort.Rank, 0, max(c.Cohort.Size-1, 0))
	if c.Cohort.Type != CohortLocal && c.Cohort.Type != CohortNNG {
		v.Check("cohort.type", fmt.Errorf("unknown type %q", c.Cohort.Type))
	}
	if c.Cohort.Type == CohortNNG && c.Cohort.Rank != 0 {
		v.Required("cohort.master_host", c.Cohort.MasterHost)
	}

	return v.Err()
}
