// Package rubric scores free-text answers against a fixed list of criteria.
//
// The criteria are not evaluated locally. They are sent to the language
// model as instructions and the model reports the score, an explanation
// and the ids of the criteria it considers met.
package rubric

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/pavelanni/examgrader/internal/model"
)

//go:embed default.yaml
var defaultRubric []byte

// Rubric is an ordered, immutable list of criteria.
type Rubric struct {
	criteria []model.Criterion
	byID     map[string]model.Criterion
}

type rubricFile struct {
	Criteria []model.Criterion `yaml:"criteria"`
}

// Default returns the built-in general rubric.
func Default() (*Rubric, error) {
	return Parse(defaultRubric)
}

// LoadFile reads a rubric from a YAML file. An empty path returns Default.
func LoadFile(path string) (*Rubric, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rubric %s: %w", path, err)
	}
	r, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse rubric %s: %w", path, err)
	}
	return r, nil
}

// Parse decodes and validates a YAML rubric.
func Parse(data []byte) (*Rubric, error) {
	var f rubricFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	if len(f.Criteria) == 0 {
		return nil, errors.New("rubric has no criteria")
	}

	r := &Rubric{byID: make(map[string]model.Criterion, len(f.Criteria))}
	for i, c := range f.Criteria {
		switch {
		case c.ID == "":
			return nil, fmt.Errorf("criterion %d: missing id", i+1)
		case c.Description == "":
			return nil, fmt.Errorf("criterion %s: missing description", c.ID)
		case c.Points == 0:
			return nil, fmt.Errorf("criterion %s: points must be non-zero", c.ID)
		}
		if _, dup := r.byID[c.ID]; dup {
			return nil, fmt.Errorf("criterion %s: duplicate id", c.ID)
		}
		if c.Message == "" {
			c.Message = c.Description
		}
		r.byID[c.ID] = c
		r.criteria = append(r.criteria, c)
	}
	return r, nil
}

// Criteria returns a copy of the criteria in configured order.
func (r *Rubric) Criteria() []model.Criterion {
	out := make([]model.Criterion, len(r.criteria))
	copy(out, r.criteria)
	return out
}

// Lookup returns the criterion with the given id.
func (r *Rubric) Lookup(id string) (model.Criterion, bool) {
	c, ok := r.byID[id]
	return c, ok
}

// MaxPoints is the sum of all positive point values.
func (r *Rubric) MaxPoints() int {
	total := 0
	for _, c := range r.criteria {
		if c.Points > 0 {
			total += c.Points
		}
	}
	return total
}
