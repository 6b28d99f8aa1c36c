package tree

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/YuminosukeSato/localml/core"
)

// wilsonZ is the two-sided 95% normal quantile.
var wilsonZ = distuv.UnitNormal.Quantile(0.975)

// WilsonLowerBound returns the lower bound of the Wilson score interval for
// positive successes out of n trials.
func WilsonLowerBound(positive, n float64) float64 {
	if n <= 0 {
		return 0
	}
	p := positive / n
	z2 := wilsonZ * wilsonZ
	centre := p + z2/(2*n)
	spread := wilsonZ * math.Sqrt((p*(1-p)+z2/(4*n))/n)
	return (centre - spread) / (1 + z2/n)
}

func leafWilsonScore(output string, nd NodeDescription) float64 {
	if len(nd.Distribution) == 0 {
		n := float64(nd.Count)
		return WilsonLowerBound(n, n)
	}
	positive := 0.0
	for _, b := range nd.Distribution {
		if b.Value == output {
			positive = b.Count
		}
	}
	return WilsonLowerBound(positive, core.TotalCount(nd.Distribution))
}

// merge combines weighted leaves into one synthetic leaf. The confidence is the
// weighted mean of the leaf confidences; the output is the weighted mean for
// regression and the class with the largest weighted probability otherwise.
func merge(reached []WeightedLeaf, regression bool) Leaf {
	weights := make([]float64, len(reached))
	confidences := make([]float64, len(reached))
	count := 0
	for i, wl := range reached {
		weights[i] = wl.Weight
		confidences[i] = wl.Leaf.Confidence
		count += wl.Leaf.Count
	}
	total := floats.Sum(weights)
	if total <= 0 {
		for i := range weights {
			weights[i] = 1
		}
		total = float64(len(weights))
	}

	out := Leaf{
		Count:      count,
		Confidence: floats.Dot(weights, confidences) / total,
	}

	if regression {
		values := make([]float64, len(reached))
		errs := make([]float64, len(reached))
		for i, wl := range reached {
			values[i] = wl.Leaf.Output.(float64)
			errs[i] = wl.Leaf.Error
		}
		out.Output = floats.Dot(weights, values) / total
		out.Error = floats.Dot(weights, errs) / total
		return out
	}

	var classes []string
	index := make(map[string]int)
	var mass []float64
	for i, wl := range reached {
		dist := wl.Leaf.Distribution
		if len(dist) == 0 {
			dist = []core.Bucket{{Value: wl.Leaf.Output.(string), Count: 1}}
		}
		size := core.TotalCount(dist)
		if size <= 0 {
			continue
		}
		for _, b := range dist {
			j, ok := index[b.Value]
			if !ok {
				j = len(classes)
				index[b.Value] = j
				classes = append(classes, b.Value)
				mass = append(mass, 0)
			}
			mass[j] += weights[i] * b.Count / size
		}
	}
	if len(classes) == 0 {
		out.Output = reached[0].Leaf.Output
		return out
	}

	out.Output = classes[floats.MaxIdx(mass)]
	scale := float64(count) / floats.Sum(mass)
	if count == 0 {
		scale = 1 / floats.Sum(mass)
	}
	out.Distribution = make([]core.Bucket, len(classes))
	for j, c := range classes {
		out.Distribution[j] = core.Bucket{Value: c, Count: mass[j] * scale}
	}
	return out
}
