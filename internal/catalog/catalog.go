// Package catalog loads report definitions and groups them by cadence.
package catalog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Cadence says how often a definition runs.
type Cadence string

const (
	Daily  Cadence = "DAILY"
	Weekly Cadence = "WEEKLY"
)

// Definition describes one scheduled query-to-email report.
type Definition struct {
	Cadence  Cadence    `json:"type" yaml:"type"`
	Query    []string   `json:"query" yaml:"query"`
	Headers  []string   `json:"headers" yaml:"headers"`
	Subject  string     `json:"subject" yaml:"subject"`
	Filename string     `json:"filename" yaml:"filename"`
	To       Recipients `json:"to" yaml:"to"`
	Body     string     `json:"body,omitempty" yaml:"body,omitempty"`
}

// QueryString joins the query fragments with single spaces.
func (d Definition) QueryString() string {
	return strings.Join(d.Query, " ")
}

// Catalog holds the definitions of a run, split by cadence.
type Catalog struct {
	Daily  []Definition
	Weekly []Definition

	// Skipped counts entries with an unrecognised cadence tag.
	Skipped int
}

// Bucket returns the definitions for c, or nil for an unknown cadence.
func (c *Catalog) Bucket(cadence Cadence) []Definition {
	switch cadence {
	case Daily:
		return c.Daily
	case Weekly:
		return c.Weekly
	default:
		return nil
	}
}

// Len returns the number of definitions in both buckets.
func (c *Catalog) Len() int {
	return len(c.Daily) + len(c.Weekly)
}

// Load reads the catalog file at path. Files ending in .yaml or .yml are
// decoded as YAML, anything else as JSON. A malformed file fails the whole
// load.
func Load(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog %s: %w", path, err)
	}

	var defs []Definition
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(raw, &defs)
	default:
		err = json.Unmarshal(raw, &defs)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing catalog %s: %w", path, err)
	}

	return Partition(defs), nil
}

// Partition places each definition in the bucket matching its cadence.
// Definitions with any other tag are logged and dropped.
func Partition(defs []Definition) *Catalog {
	c := &Catalog{}
	for i, d := range defs {
		switch d.Cadence {
		case Daily:
			c.Daily = append(c.Daily, d)
		case Weekly:
			c.Weekly = append(c.Weekly, d)
		default:
			c.Skipped++
			slog.Warn("catalog: skipping definition with unknown cadence",
				"index", i, "type", string(d.Cadence), "filename", d.Filename)
		}
	}
	return c
}
