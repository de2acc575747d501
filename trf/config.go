package trf

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the job file of the trfit command.
type Config struct {
	MQTT    MQTTConfig  `yaml:"mqtt" json:"mqtt"`
	Workers int         `yaml:"workers,omitempty" json:"workers,omitempty"` // Batch worker pool size (default GOMAXPROCS)
	Solver  string      `yaml:"solver,omitempty" json:"solver,omitempty"`   // "normal" (default) or "svd"
	Store   string      `yaml:"store,omitempty" json:"store,omitempty"`     // Fitted transform cache (default .trfit-store.json)
	Jobs    []JobConfig `yaml:"jobs" json:"jobs"`
}

// MQTTConfig holds MQTT connection settings
type MQTTConfig struct {
	Broker        string `yaml:"broker" json:"broker"`
	PublishPrefix string `yaml:"publishPrefix" json:"publishPrefix"`
	ClientID      string `yaml:"clientId" json:"clientId"`
	Username      string `yaml:"username,omitempty" json:"username,omitempty"`
	Password      string `yaml:"password,omitempty" json:"password,omitempty"`
}

// JobConfig describes one transform to fit from control points.
type JobConfig struct {
	ID          string      `yaml:"id" json:"id"`
	Kind        Kind        `yaml:"kind" json:"kind"`
	Degree      int         `yaml:"degree,omitempty" json:"degree,omitempty"` // Polynomial only (default 2)
	Source      [][]float64 `yaml:"source" json:"source"`
	Destination [][]float64 `yaml:"destination" json:"destination"`
	MaxRMSE     float64     `yaml:"maxRmse,omitempty" json:"maxRmse,omitempty"` // Reject fits above this RMSE (0 accepts all)
	Publish     bool        `yaml:"publish,omitempty" json:"publish,omitempty"` // Publish the result over MQTT
}

// Job returns the job with id, or nil.
func (c *Config) Job(id string) *JobConfig {
	for i := range c.Jobs {
		if c.Jobs[i].ID == id {
			return &c.Jobs[i]
		}
	}
	return nil
}

// JobIDs returns the configured job ids in file order.
func (c *Config) JobIDs() []string {
	ids := make([]string, len(c.Jobs))
	for i, j := range c.Jobs {
		ids[i] = j.ID
	}
	return ids
}

// SolverChoice parses the configured solver.
func (c *Config) SolverChoice() (Solver, error) {
	return ParseSolver(c.Solver)
}

// LoadConfig loads a job file from YAML
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate checks the structure of every job. Point counts are not checked
// here; a job with too few or unpaired points fails when it is fitted.
func (c *Config) Validate() error {
	if c.Workers < 0 {
		return fmt.Errorf("workers must not be negative")
	}
	if _, err := c.SolverChoice(); err != nil {
		return fmt.Errorf("solver: %w", err)
	}

	seen := make(map[string]bool)
	for i, job := range c.Jobs {
		if job.ID == "" {
			return fmt.Errorf("jobs[%d].id is required", i)
		}
		if seen[job.ID] {
			return fmt.Errorf("jobs[%d].id %q is duplicated", i, job.ID)
		}
		seen[job.ID] = true

		if job.Kind == KindMultiple {
			return fmt.Errorf("jobs[%d] (%s): kind multiple cannot be fitted", i, job.ID)
		}
		if job.Degree != 0 && job.Kind != KindPolynomial {
			return fmt.Errorf("jobs[%d] (%s): degree only applies to polynomial", i, job.ID)
		}
		if job.Degree < 0 || job.Degree > MaxPolynomialDegree {
			return fmt.Errorf("jobs[%d] (%s): degree %d outside 1..%d", i, job.ID, job.Degree, MaxPolynomialDegree)
		}

		dims := job.Kind.Dimensions()
		sets := []struct {
			name string
			pts  [][]float64
		}{{"source", job.Source}, {"destination", job.Destination}}
		for _, set := range sets {
			for k, p := range set.pts {
				if len(p) != dims {
					return fmt.Errorf("jobs[%d] (%s): %s[%d] has %d coordinates, %s needs %d",
						i, job.ID, set.name, k, len(p), job.Kind, dims)
				}
			}
		}
	}
	return nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// ApplyEnv overrides MQTT settings from MQTT_BROKER, MQTT_CLIENT_ID,
// MQTT_USERNAME, MQTT_PASSWORD and MQTT_PUBLISH_PREFIX when they are set.
func (c *MQTTConfig) ApplyEnv() {
	override := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	override(&c.Broker, "MQTT_BROKER")
	override(&c.ClientID, "MQTT_CLIENT_ID")
	override(&c.Username, "MQTT_USERNAME")
	override(&c.Password, "MQTT_PASSWORD")
	override(&c.PublishPrefix, "MQTT_PUBLISH_PREFIX")
	if c.ClientID == "" {
		c.ClientID = "trfit"
	}
	if c.PublishPrefix == "" {
		c.PublishPrefix = "trfit"
	}
}

// Points2D converts [x, y] rows to points.
func Points2D(rows [][]float64) ([]Point, error) {
	out := make([]Point, len(rows))
	for i, r := range rows {
		if len(r) != 2 {
			return nil, fmt.Errorf("%w: point %d has %d coordinates, want 2", ErrDimensionMismatch, i, len(r))
		}
		out[i] = Point{X: r[0], Y: r[1]}
	}
	return out, nil
}

// Points3D converts [x, y, z] rows to points.
func Points3D(rows [][]float64) ([]Point3D, error) {
	out := make([]Point3D, len(rows))
	for i, r := range rows {
		if len(r) != 3 {
			return nil, fmt.Errorf("%w: point %d has %d coordinates, want 3", ErrDimensionMismatch, i, len(r))
		}
		out[i] = Point3D{X: r[0], Y: r[1], Z: r[2]}
	}
	return out, nil
}
