// Package fields holds the field metadata of a downloaded model and turns
// caller-supplied rows into id-keyed rows of normalized values.
package fields

import (
	"github.com/YuminosukeSato/localml/core"
)

// OpType is the declared type of a field.
type OpType string

const (
	Categorical OpType = "categorical"
	Numeric     OpType = "numeric"
	Text        OpType = "text"
	Items       OpType = "items"
	Datetime    OpType = "datetime"
)

// Valid reports whether t is one of the known optypes.
func (t OpType) Valid() bool {
	switch t {
	case Categorical, Numeric, Text, Items, Datetime:
		return true
	}
	return false
}

// Summary carries the training-time statistics needed for local evaluation.
type Summary struct {
	Mean       *float64      `json:"mean,omitempty"`
	Categories []core.Bucket `json:"categories,omitempty"`
}

// Mode returns the most frequent category. Ties go to the earliest category.
func (s Summary) Mode() (string, bool) {
	best := -1
	for i, c := range s.Categories {
		if best < 0 || c.Count > s.Categories[best].Count {
			best = i
		}
	}
	if best < 0 {
		return "", false
	}
	return s.Categories[best].Value, true
}

// Field is one column of a model's input schema.
type Field struct {
	ID           string  `json:"-"`
	Name         string  `json:"name"`
	OpType       OpType  `json:"optype"`
	ColumnNumber int     `json:"column_number"`
	Summary      Summary `json:"summary"`
}

// Schema is the JSON form of a field catalog: an object keyed by field id.
type Schema map[string]Field
