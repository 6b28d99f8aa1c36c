// Package vote combines the predictions of several trees or models for the
// same row into one.
//
// Categorical votes can be combined by plurality, by summed confidence, by
// summed class distributions, or by a single-class threshold. Numeric votes
// are always averaged (or, on request, reduced to their weighted median).
// Combine is a pure function and safe for concurrent use.
package vote

import (
	"strconv"
	"strings"

	"github.com/YuminosukeSato/localml/core"
	"github.com/YuminosukeSato/localml/pkg/errors"
)

// Method selects how categorical votes are combined.
type Method int

const (
	// Plurality picks the most frequent prediction.
	Plurality Method = iota
	// ConfidenceWeighted picks the prediction with the largest summed confidence.
	ConfidenceWeighted
	// ProbabilityWeighted sums the leaf class distributions and picks the most probable class.
	ProbabilityWeighted
	// Threshold forces one class when enough votes predict it.
	Threshold
)

func (m Method) String() string {
	switch m {
	case Plurality:
		return "plurality"
	case ConfidenceWeighted:
		return "confidence"
	case ProbabilityWeighted:
		return "probability"
	case Threshold:
		return "threshold"
	default:
		return "Method(" + strconv.Itoa(int(m)) + ")"
	}
}

// ParseMethod accepts method names and the numeric codes 0 to 3.
func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "0", "plurality":
		return Plurality, nil
	case "1", "confidence", "confidence_weighted":
		return ConfidenceWeighted, nil
	case "2", "probability", "probability_weighted":
		return ProbabilityWeighted, nil
	case "3", "threshold":
		return Threshold, nil
	}
	return Plurality, errors.NewValidationError("method", "expected plurality, confidence, probability or threshold", s)
}

// Vote is one member's prediction for a row.
type Vote struct {
	// Prediction is a string for categorical votes and a float64 for numeric ones.
	Prediction   any
	Confidence   float64
	Error        float64
	Count        int
	Distribution []core.Bucket
	// Order is the member position, used only to break ties.
	Order int
	// Weight scales the vote in probability and numeric combinations. Zero
	// means 1; use WithWeights to give a vote no weight at all.
	Weight float64
}

// Combined is the result of combining votes. For categorical votes
// Distribution holds class probabilities summing to 1.
type Combined struct {
	Prediction   any
	Confidence   float64
	Distribution []core.Bucket
	Count        int
}

type options struct {
	weights        []float64
	thresholdClass string
	thresholdK     int
	fallback       Method
	median         bool
}

// Option configures Combine.
type Option func(*options)

// WithWeights overrides the per-vote weights; weights[i] applies to votes[i].
func WithWeights(weights []float64) Option {
	return func(o *options) { o.weights = weights }
}

// WithThreshold sets the class and minimum vote count for the Threshold method.
func WithThreshold(class string, k int) Option {
	return func(o *options) {
		o.thresholdClass = class
		o.thresholdK = k
	}
}

// WithFallback sets the method used when a threshold is not met. Plurality by default.
func WithFallback(m Method) Option {
	return func(o *options) { o.fallback = m }
}

// WithMedian combines numeric votes by weighted median instead of weighted mean.
func WithMedian() Option {
	return func(o *options) { o.median = true }
}
