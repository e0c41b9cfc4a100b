// Package config loads the YAML run descriptions the CLI operates on: a
// dataset block naming the vector files and an index block with the
// build and search parameters.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is one run description.
type Config struct {
	Dataset Dataset `yaml:"dataset"`
	Index   Index   `yaml:"index"`
	Paths   Paths   `yaml:"paths"`
}

// Dataset names the input vector files.
type Dataset struct {
	Dim         int    `yaml:"dim"`
	Base        string `yaml:"base"`        // fvecs, database vectors
	Learn       string `yaml:"learn"`       // fvecs, PQ training vectors
	Query       string `yaml:"query"`       // fvecs
	Groundtruth string `yaml:"groundtruth"` // ivecs
	Centroids   string `yaml:"centroids"`   // fvecs, nc records
	GtDim       int    `yaml:"gt_dim"`      // groundtruth record width, default 1000
}

// Index holds build and search parameters.
type Index struct {
	NCentroids     int `yaml:"ncentroids"`
	CodeBytes      int `yaml:"code_bytes"`
	M              int `yaml:"m"`
	EfConstruction int `yaml:"ef_construction"`
	NProbe         int `yaml:"nprobe"`
	MaxCodes       int `yaml:"max_codes"`
	EfSearch       int `yaml:"ef_search"`
}

// Paths names the persisted artifacts.
type Paths struct {
	Info   string `yaml:"info"`
	Edges  string `yaml:"edges"`
	PQ     string `yaml:"pq"`
	NormPQ string `yaml:"norm_pq"`
	Index  string `yaml:"index"`
}

// Load reads and validates a run description.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Dataset.Dim <= 0 {
		return fmt.Errorf("dataset.dim must be positive")
	}
	if c.Dataset.Centroids == "" {
		return fmt.Errorf("dataset.centroids is required")
	}
	if c.Index.NCentroids <= 0 {
		return fmt.Errorf("index.ncentroids must be positive")
	}
	if c.Index.CodeBytes <= 0 {
		return fmt.Errorf("index.code_bytes must be positive")
	}
	if c.Index.M <= 1 {
		return fmt.Errorf("index.m must be greater than 1")
	}
	if c.Index.EfConstruction <= 0 {
		return fmt.Errorf("index.ef_construction must be positive")
	}
	if c.Paths.Info == "" || c.Paths.Edges == "" {
		return fmt.Errorf("paths.info and paths.edges are required")
	}
	if c.Dataset.GtDim == 0 {
		c.Dataset.GtDim = 1000
	}
	if c.Index.NProbe == 0 {
		c.Index.NProbe = 16
	}
	if c.Index.EfSearch == 0 {
		c.Index.EfSearch = c.Index.EfConstruction
	}
	return nil
}
