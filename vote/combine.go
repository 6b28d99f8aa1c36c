package vote

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/YuminosukeSato/localml/core"
	"github.com/YuminosukeSato/localml/pkg/errors"
)

// Combine merges votes for one row. It fails with ErrEmptyVoteSet for no
// votes, and with a ValueError when categorical and numeric votes are mixed
// or the Threshold method is used on numeric votes.
func Combine(votes []Vote, method Method, opts ...Option) (Combined, error) {
	if len(votes) == 0 {
		return Combined{}, errors.WithStack(errors.ErrEmptyVoteSet)
	}
	o := options{fallback: Plurality}
	for _, opt := range opts {
		opt(&o)
	}
	if o.weights != nil && len(o.weights) != len(votes) {
		return Combined{}, errors.NewValueError("vote.combine", "weights and votes differ in length")
	}

	numeric, err := classify(votes)
	if err != nil {
		return Combined{}, err
	}
	if numeric {
		if method == Threshold {
			return Combined{}, errors.NewValueError("vote.combine", "threshold method needs categorical votes")
		}
		return combineNumeric(votes, method, o), nil
	}
	return combineCategorical(votes, method, o)
}

func classify(votes []Vote) (numeric bool, err error) {
	var strs, nums int
	for _, v := range votes {
		switch v.Prediction.(type) {
		case string:
			strs++
		case float64:
			nums++
		default:
			return false, errors.NewValueError("vote.combine", "prediction must be a string or a float64")
		}
	}
	if strs > 0 && nums > 0 {
		return false, errors.NewValueError("vote.combine", "cannot combine categorical and numeric votes")
	}
	return nums > 0, nil
}

func weightOf(votes []Vote, o options, i int) float64 {
	if o.weights != nil {
		return o.weights[i]
	}
	if votes[i].Weight > 0 {
		return votes[i].Weight
	}
	return 1
}

func combineNumeric(votes []Vote, method Method, o options) Combined {
	values := make([]float64, len(votes))
	weights := make([]float64, len(votes))
	errs := make([]float64, len(votes))
	count := 0
	for i, v := range votes {
		values[i] = v.Prediction.(float64)
		weights[i] = weightOf(votes, o, i)
		errs[i] = v.Error
		count += v.Count
	}
	valueWeights := weights
	if method == ConfidenceWeighted {
		valueWeights = make([]float64, len(votes))
		for i, v := range votes {
			valueWeights[i] = v.Confidence
		}
		if floats.Sum(valueWeights) <= 0 {
			valueWeights = weights
		}
	}
	if floats.Sum(valueWeights) <= 0 {
		valueWeights = nil
	}

	var value float64
	if o.median {
		value = weightedMedian(values, valueWeights)
	} else {
		value = stat.Mean(values, valueWeights)
	}

	errWeights := weights
	if floats.Sum(errWeights) <= 0 {
		errWeights = nil
	}
	return Combined{
		Prediction: value,
		Confidence: stat.Mean(errs, errWeights),
		Count:      count,
	}
}

// weightedMedian returns the smallest value whose cumulative weight reaches half.
func weightedMedian(values, weights []float64) float64 {
	x := make([]float64, len(values))
	copy(x, values)
	idx := make([]int, len(x))
	floats.Argsort(x, idx)

	var w []float64
	if weights != nil {
		w = make([]float64, len(x))
		for i, j := range idx {
			w[i] = weights[j]
		}
	}
	return stat.Quantile(0.5, stat.Empirical, x, w)
}

// tally accumulates a score per class and remembers the first member order
// that predicted (or mentioned) each class.
type tally struct {
	classes []string
	index   map[string]int
	order   []int
	score   []float64
}

func newTally() *tally {
	return &tally{index: make(map[string]int)}
}

func (t *tally) add(class string, order int, score float64) {
	j, ok := t.index[class]
	if !ok {
		j = len(t.classes)
		t.index[class] = j
		t.classes = append(t.classes, class)
		t.order = append(t.order, order)
		t.score = append(t.score, 0)
	}
	if order < t.order[j] {
		t.order[j] = order
	}
	t.score[j] += score
}

// winner returns the class with the highest score; ties go to the lowest order.
func (t *tally) winner() int {
	best := 0
	for j := 1; j < len(t.classes); j++ {
		if t.score[j] > t.score[best] || (t.score[j] == t.score[best] && t.order[j] < t.order[best]) {
			best = j
		}
	}
	return best
}

func (t *tally) total() float64 {
	return floats.Sum(t.score)
}

// result normalizes the scores into a probability distribution.
func (t *tally) result(count int) Combined {
	w := t.winner()
	total := t.total()
	dist := make([]core.Bucket, len(t.classes))
	for j, c := range t.classes {
		dist[j] = core.Bucket{Value: c, Count: t.score[j] / total}
	}
	return Combined{
		Prediction:   t.classes[w],
		Confidence:   t.score[w] / total,
		Distribution: dist,
		Count:        count,
	}
}

func combineCategorical(votes []Vote, method Method, o options) (Combined, error) {
	count := 0
	counts := newTally()
	for _, v := range votes {
		counts.add(v.Prediction.(string), v.Order, 1)
		count += v.Count
	}

	switch method {
	case Plurality:
		return counts.result(count), nil

	case ConfidenceWeighted:
		t := newTally()
		for _, v := range votes {
			t.add(v.Prediction.(string), v.Order, math.Max(v.Confidence, 0))
		}
		if t.total() <= 0 {
			return counts.result(count), nil
		}
		return t.result(count), nil

	case ProbabilityWeighted:
		t := newTally()
		for i, v := range votes {
			w := weightOf(votes, o, i)
			if len(v.Distribution) == 0 {
				n := float64(v.Count)
				if n <= 0 {
					n = 1
				}
				t.add(v.Prediction.(string), v.Order, w*n)
				continue
			}
			for _, b := range v.Distribution {
				t.add(b.Value, v.Order, w*b.Count)
			}
		}
		if t.total() <= 0 {
			return counts.result(count), nil
		}
		return t.result(count), nil

	case Threshold:
		if o.thresholdK < 1 || o.thresholdClass == "" {
			return Combined{}, errors.NewValueError("vote.combine", "threshold method needs a class and k >= 1")
		}
		if o.fallback == Threshold {
			return Combined{}, errors.NewValueError("vote.combine", "threshold fallback cannot be threshold")
		}
		if j, ok := counts.index[o.thresholdClass]; ok && int(counts.score[j]) >= o.thresholdK {
			out := counts.result(count)
			out.Prediction = o.thresholdClass
			out.Confidence = counts.score[j] / counts.total()
			return out, nil
		}
		return combineCategorical(votes, o.fallback, o)
	}
	return Combined{}, errors.NewValueError("vote.combine", "unknown combination method "+method.String())
}
