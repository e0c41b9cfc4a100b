package ivfhnsw

import (
	"fmt"

	"github.com/wzb1005/ivf-hnsw/internal/obs"
)

// Config holds IVF-ADC index parameters.
type Config struct {
	Dim        int // vector dimension
	NCentroids int // number of coarse centroids / posting lists
	CodeBytes  int // bytes per residual PQ code
	Nbits      int // bits per codeword index, normally 8

	NProbe   int // posting lists probed per query
	MaxCodes int // soft cap on codes scanned per query, 0 = unlimited

	RandomSeed int64

	// Metrics is optional; a nil value disables instrumentation.
	Metrics *obs.Metrics
}

// DefaultConfig returns a configuration with the usual probe and scan
// budgets for the given shape.
func DefaultConfig(dim, ncentroids, codeBytes int) *Config {
	return &Config{
		Dim:        dim,
		NCentroids: ncentroids,
		CodeBytes:  codeBytes,
		Nbits:      8,
		NProbe:     16,
		MaxCodes:   10000,
	}
}

func (c *Config) validate() error {
	if c.Dim <= 0 {
		return fmt.Errorf("dimension must be positive, got %d", c.Dim)
	}
	if c.NCentroids <= 0 {
		return fmt.Errorf("number of centroids must be positive, got %d", c.NCentroids)
	}
	if c.CodeBytes <= 0 {
		return fmt.Errorf("code bytes must be positive, got %d", c.CodeBytes)
	}
	if c.Dim%c.CodeBytes != 0 {
		return fmt.Errorf("dimension %d must be divisible by code bytes %d", c.Dim, c.CodeBytes)
	}
	if c.Nbits < 1 || c.Nbits > 8 {
		return fmt.Errorf("nbits must be between 1 and 8, got %d", c.Nbits)
	}
	if c.NProbe <= 0 {
		return fmt.Errorf("nprobe must be positive, got %d", c.NProbe)
	}
	if c.NProbe > c.NCentroids {
		return fmt.Errorf("nprobe %d cannot exceed %d centroids", c.NProbe, c.NCentroids)
	}
	if c.MaxCodes < 0 {
		return fmt.Errorf("max codes must be non-negative, got %d", c.MaxCodes)
	}
	return nil
}
