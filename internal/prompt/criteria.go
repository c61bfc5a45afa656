package prompt

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Criteria narrows a review to a named set of focus areas. SeverityFloor
// is the least-severe finding worth reporting (for example "minor",
// "major", "critical").
type Criteria struct {
	Name          string   `yaml:"name"`
	FocusAreas    []string `yaml:"focus_areas"`
	SeverityFloor string   `yaml:"severity_floor"`
}

// LoadCriteria reads a review criteria file.
func LoadCriteria(path string) (*Criteria, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read criteria file: %w", err)
	}

	var c Criteria
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse criteria file %s: %w", path, err)
	}
	if c.Name == "" && len(c.FocusAreas) == 0 {
		return nil, fmt.Errorf("criteria file %s has neither a name nor focus areas", path)
	}
	return &c, nil
}
