package tree

import (
	"encoding/json"
	"strings"

	"github.com/YuminosukeSato/localml/core"
	"github.com/YuminosukeSato/localml/pkg/errors"
)

// Operator is a split comparison.
type Operator string

const (
	OpEqual        Operator = "="
	OpNotEqual     Operator = "!="
	OpLess         Operator = "<"
	OpLessEqual    Operator = "<="
	OpGreater      Operator = ">"
	OpGreaterEqual Operator = ">="
	OpIn           Operator = "in"
)

func (o Operator) ordered() bool {
	switch o {
	case OpLess, OpLessEqual, OpGreater, OpGreaterEqual:
		return true
	}
	return false
}

func (o Operator) valid() bool {
	switch o {
	case OpEqual, OpNotEqual, OpIn:
		return true
	}
	return o.ordered()
}

// MissingStrategy selects how descent continues when a split's field is missing.
type MissingStrategy int

const (
	// LastPrediction follows the majority branch, or stops at the split and
	// returns the aggregate of everything below it.
	LastPrediction MissingStrategy = iota
	// Proportional descends into every branch, weighted by instance count,
	// and merges the leaves reached.
	Proportional
)

func (s MissingStrategy) String() string {
	switch s {
	case LastPrediction:
		return "last_prediction"
	case Proportional:
		return "proportional"
	default:
		return "unknown"
	}
}

// ParseMissingStrategy accepts the names used in configuration files and the
// numeric codes used by the remote service (0 and 1).
func ParseMissingStrategy(s string) (MissingStrategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "0", "last_prediction", "last-prediction", "last":
		return LastPrediction, nil
	case "1", "proportional":
		return Proportional, nil
	}
	return LastPrediction, errors.NewValidationError("missing_strategy", "expected last_prediction or proportional", s)
}

// NodeDescription is one entry of a flat node list. A node with children is
// a split; children are indices into the list, ordered [true, false].
type NodeDescription struct {
	// split
	Field         string   `json:"field,omitempty"`
	Operator      Operator `json:"operator,omitempty"`
	Value         any      `json:"value,omitempty"`
	Children      []int    `json:"children,omitempty"`
	MissingChild  *int     `json:"missing_child,omitempty"`
	MajorityChild *int     `json:"majority_child,omitempty"`

	// leaf
	Output       any           `json:"output,omitempty"`
	Count        int           `json:"count,omitempty"`
	Confidence   *float64      `json:"confidence,omitempty"`
	Error        *float64      `json:"error,omitempty"`
	Distribution []core.Bucket `json:"distribution,omitempty"`
}

// IsSplit reports whether the node branches.
func (n NodeDescription) IsSplit() bool {
	return n.Field != "" || len(n.Children) > 0
}

// Description is the serialized form of a decision tree.
type Description struct {
	Root      int               `json:"root"`
	Objective string            `json:"objective_field,omitempty"`
	Nodes     []NodeDescription `json:"nodes"`
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	}
	return 0, false
}
