// Package config loads the export configuration from YAML, validated with CUE.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"patrol-export/internal/patrol"
)

// Output formats understood by the export writers.
const (
	FormatGeoJSON  = "geojson"
	FormatCSV      = "csv"
	FormatJSONL    = "jsonl"
	FormatStdout   = "stdout"
	FormatGreptime = "greptime"
)

// DateLayout is the day format of since/until.
const DateLayout = "2006-01-02"

// Output controls where and how results are written.
type Output struct {
	Dir     string   `yaml:"dir"`
	Formats []string `yaml:"formats"`
	Zip     bool     `yaml:"zip"`
	// FieldLimit caps column names for limited formats (CSV track tables).
	FieldLimit int `yaml:"field_limit"`
}

// Greptime holds the GreptimeDB sink settings.
type Greptime struct {
	Endpoint string `yaml:"endpoint"`
	Database string `yaml:"database"`
}

// ExportConfig is the root configuration of an export run.
type ExportConfig struct {
	Server            string        `yaml:"server"`
	Token             string        `yaml:"token"`
	PatrolType        string        `yaml:"patrol_type"`
	Leader            string        `yaml:"leader"`
	Since             string        `yaml:"since"`
	Until             string        `yaml:"until"`
	Statuses          []string      `yaml:"statuses"`
	Events            bool          `yaml:"events"`
	Workers           int           `yaml:"workers"`
	FetchTimeout      time.Duration `yaml:"fetch_timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Output            Output        `yaml:"output"`
	Greptime          Greptime      `yaml:"greptime"`
	SnapshotDir       string        `yaml:"snapshot_dir"`
	RecordDir         string        `yaml:"record_dir"`
}

// Default returns the configuration used when no file is given.
func Default() *ExportConfig {
	return &ExportConfig{
		Statuses:          append([]string(nil), patrol.DefaultStatuses...),
		Workers:           4,
		FetchTimeout:      30 * time.Second,
		RequestsPerSecond: 5,
		Output: Output{
			Dir:        ".",
			Formats:    []string{FormatGeoJSON},
			FieldLimit: 10,
		},
		Greptime: Greptime{Database: "public"},
	}
}

// Load reads a YAML config, validates it against a CUE schema and applies
// environment overrides. An empty schemaPath uses the embedded schema.
func Load(configPath, schemaPath string) (*ExportConfig, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("cannot read config: %w", err)
	}
	schema := defaultSchema
	if schemaPath != "" {
		if schema, err = os.ReadFile(schemaPath); err != nil {
			return nil, fmt.Errorf("cannot read CUE schema: %w", err)
		}
	}
	if err := Validate(configPath, data, schema); err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot unmarshal YAML config: %w", err)
	}
	cfg.ApplyEnv()
	return cfg, nil
}

// ApplyEnv overrides settings from the environment.
func (c *ExportConfig) ApplyEnv() {
	if v := os.Getenv("ER_SERVER"); v != "" {
		c.Server = v
	}
	if v := os.Getenv("ER_TOKEN"); v != "" {
		c.Token = v
	}
	if v := os.Getenv("GREPTIMEDB_ENDPOINT"); v != "" {
		c.Greptime.Endpoint = v
	}
	if v := os.Getenv("GREPTIMEDB_DATABASE"); v != "" {
		c.Greptime.Database = v
	}
}

// Window expands since/until to whole UTC days: since starts at 00:00:00 and
// until ends at 23:59:59.999999. Unset ends stay zero.
func (c *ExportConfig) Window() (since, until time.Time, err error) {
	if c.Since != "" {
		if since, err = time.ParseInLocation(DateLayout, c.Since, time.UTC); err != nil {
			return since, until, fmt.Errorf("since: %w", err)
		}
	}
	if c.Until != "" {
		if until, err = time.ParseInLocation(DateLayout, c.Until, time.UTC); err != nil {
			return since, until, fmt.Errorf("until: %w", err)
		}
		until = until.Add(24*time.Hour - time.Microsecond)
	}
	if !since.IsZero() && !until.IsZero() && until.Before(since) {
		return since, until, fmt.Errorf("until %s is before since %s", c.Until, c.Since)
	}
	return since, until, nil
}

// Filter builds the upstream patrol filter.
func (c *ExportConfig) Filter() (patrol.PatrolFilter, error) {
	since, until, err := c.Window()
	if err != nil {
		return patrol.PatrolFilter{}, err
	}
	statuses := c.Statuses
	if len(statuses) == 0 {
		statuses = patrol.DefaultStatuses
	}
	return patrol.PatrolFilter{
		Since:      since,
		Until:      until,
		PatrolType: strings.TrimSpace(c.PatrolType),
		Statuses:   statuses,
	}, nil
}

// HasFormat reports whether the output formats include f.
func (c *ExportConfig) HasFormat(f string) bool {
	for _, x := range c.Output.Formats {
		if strings.EqualFold(x, f) {
			return true
		}
	}
	return false
}
