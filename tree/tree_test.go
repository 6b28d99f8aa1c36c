package tree

import (
	"encoding/json"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/localml/core"
	"github.com/YuminosukeSato/localml/fields"
	"github.com/YuminosukeSato/localml/pkg/errors"
)

func ptr[T any](v T) *T { return &v }

func testCatalog(t *testing.T) *fields.Catalog {
	t.Helper()
	c, err := fields.NewCatalog([]fields.Field{
		{ID: "000000", Name: "sepal length", OpType: fields.Numeric},
		{ID: "000002", Name: "petal length", OpType: fields.Numeric},
		{ID: "000003", Name: "color", OpType: fields.Categorical},
		{ID: "000004", Name: "species", OpType: fields.Categorical},
		{ID: "000005", Name: "price", OpType: fields.Numeric},
	})
	require.NoError(t, err)
	return c
}

// irisDescription: petal length < 2.45 -> setosa, else sepal length <= 6 -> versicolor / virginica
func irisDescription() Description {
	return Description{
		Root:      0,
		Objective: "000004",
		Nodes: []NodeDescription{
			{Field: "000002", Operator: OpLess, Value: 2.45, Children: []int{1, 2}},
			{Output: "Iris-setosa", Count: 50, Confidence: ptr(1.0),
				Distribution: []core.Bucket{{"Iris-setosa", 50}}},
			{Field: "000000", Operator: OpLessEqual, Value: 6.0, Children: []int{3, 4}, MajorityChild: ptr(4)},
			{Output: "Iris-versicolor", Count: 30, Confidence: ptr(0.9),
				Distribution: []core.Bucket{{"Iris-versicolor", 27}, {"Iris-virginica", 3}}},
			{Output: "Iris-virginica", Count: 70, Confidence: ptr(0.5),
				Distribution: []core.Bucket{{"Iris-versicolor", 20}, {"Iris-virginica", 50}}},
		},
	}
}

func buildIris(t *testing.T) *Tree {
	t.Helper()
	tr, err := Build(irisDescription(), testCatalog(t))
	require.NoError(t, err)
	return tr
}

func TestEvaluateIrisScenario(t *testing.T) {
	tr := buildIris(t)
	assert.False(t, tr.Regression())
	assert.True(t, tr.RootIsSplit())
	assert.Equal(t, 5, tr.Len())

	for _, strategy := range []MissingStrategy{LastPrediction, Proportional} {
		leaf := tr.Evaluate(core.Row{"000002": 1.4}, strategy)
		assert.Equal(t, "Iris-setosa", leaf.Output)
		assert.Equal(t, 1.0, leaf.Confidence)
		assert.Equal(t, 50, leaf.Count)
	}
}

func TestEvaluateComparisons(t *testing.T) {
	tr := buildIris(t)
	tests := []struct {
		name string
		row  core.Row
		want string
	}{
		{"below threshold", core.Row{"000002": 2.44}, "Iris-setosa"},
		{"at threshold goes false", core.Row{"000002": 2.45, "000000": 5.0}, "Iris-versicolor"},
		{"second split true", core.Row{"000002": 4.0, "000000": 6.0}, "Iris-versicolor"},
		{"second split false", core.Row{"000002": 4.0, "000000": 6.5}, "Iris-virginica"},
		{"unknown ids ignored", core.Row{"000002": 1.0, "zzz": "x"}, "Iris-setosa"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tr.Evaluate(tt.row, LastPrediction).Output)
		})
	}
}

func TestEvaluateDeterministic(t *testing.T) {
	tr := buildIris(t)
	row := core.Row{"000002": 3.3, "000000": 5.9}
	first := tr.Evaluate(row, Proportional)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, tr.Evaluate(row, Proportional))
		assert.Equal(t, tr.Evaluate(row, LastPrediction), tr.Evaluate(row, LastPrediction))
	}
}

func TestLastPredictionMissing(t *testing.T) {
	tr := buildIris(t)

	t.Run("follows majority child", func(t *testing.T) {
		leaf := tr.Evaluate(core.Row{"000002": 5.0}, LastPrediction)
		assert.Equal(t, "Iris-virginica", leaf.Output)
		assert.Equal(t, 0.5, leaf.Confidence)
	})

	t.Run("wrong type counts as missing", func(t *testing.T) {
		leaf := tr.Evaluate(core.Row{"000002": 5.0, "000000": "six"}, LastPrediction)
		assert.Equal(t, "Iris-virginica", leaf.Output)
	})

	t.Run("stops at root without majority child", func(t *testing.T) {
		leaf := tr.Evaluate(core.Row{}, LastPrediction)
		// 50 setosa, 30 versicolor-leaf, 70 virginica-leaf weighted by count
		assert.Equal(t, 150, leaf.Count)
		assert.InDelta(t, (50*1.0+30*0.9+70*0.5)/150, leaf.Confidence, 1e-12)
		// class mass: setosa 50, versicolor 27+20, virginica 3+50
		assert.Equal(t, "Iris-virginica", leaf.Output)
		assert.InDelta(t, 150.0, core.TotalCount(leaf.Distribution), 1e-9)
	})
}

func TestProportionalMissing(t *testing.T) {
	tr := buildIris(t)

	reached := tr.Reach(core.Row{"000002": 5.0})
	require.Len(t, reached, 2)
	assert.InDelta(t, 0.3, reached[0].Weight, 1e-12)
	assert.InDelta(t, 0.7, reached[1].Weight, 1e-12)

	leaf := tr.Evaluate(core.Row{"000002": 5.0}, Proportional)
	assert.InDelta(t, 0.3*0.9+0.7*0.5, leaf.Confidence, 1e-12)
	assert.Equal(t, 100, leaf.Count)
	// versicolor: .3*.9 + .7*20/70 = .47, virginica: .3*.1 + .7*50/70 = .53
	assert.Equal(t, "Iris-virginica", leaf.Output)
	assert.InDelta(t, 100.0, core.TotalCount(leaf.Distribution), 1e-9)

	all := tr.Reach(core.Row{})
	require.Len(t, all, 3)
	assert.InDelta(t, 50.0/150, all[0].Weight, 1e-12)
}

func TestExplicitMissingBranch(t *testing.T) {
	desc := Description{
		Nodes: []NodeDescription{
			{Field: "000003", Operator: OpIn, Value: []any{"red", "blue"}, Children: []int{1, 2}, MissingChild: ptr(3)},
			{Output: "a", Count: 10},
			{Output: "b", Count: 10},
			{Output: "c", Count: 1, Confidence: ptr(0.2)},
		},
	}
	tr, err := Build(desc, testCatalog(t))
	require.NoError(t, err)

	for _, s := range []MissingStrategy{LastPrediction, Proportional} {
		assert.Equal(t, "c", tr.Evaluate(core.Row{}, s).Output)
		assert.Equal(t, "a", tr.Evaluate(core.Row{"000003": "blue"}, s).Output)
		assert.Equal(t, "b", tr.Evaluate(core.Row{"000003": "Blue"}, s).Output)
		assert.Equal(t, "c", tr.Evaluate(core.Row{"000003": 3.0}, s).Output)
	}
}

func TestRegressionTree(t *testing.T) {
	desc := Description{
		Objective: "000005",
		Nodes: []NodeDescription{
			{Field: "000000", Operator: OpGreater, Value: 10, Children: []int{1, 2}},
			{Output: 100.0, Count: 30, Error: ptr(4.0)},
			{Output: 20.0, Count: 10, Error: ptr(1.0), Confidence: ptr(0.7)},
		},
	}
	tr, err := Build(desc, testCatalog(t))
	require.NoError(t, err)
	assert.True(t, tr.Regression())

	leaf := tr.Evaluate(core.Row{"000000": 11.0}, LastPrediction)
	assert.Equal(t, 100.0, leaf.Output)
	assert.InDelta(t, 0.2, leaf.Confidence, 1e-12)

	merged := tr.Evaluate(core.Row{}, Proportional)
	assert.InDelta(t, 0.75*100+0.25*20, merged.Output.(float64), 1e-12)
	assert.InDelta(t, 0.75*4+0.25*1, merged.Error, 1e-12)
	assert.InDelta(t, 0.75*0.2+0.25*0.7, merged.Confidence, 1e-12)

	agg := tr.Evaluate(core.Row{}, LastPrediction)
	assert.Equal(t, merged.Output, agg.Output)
}

func TestRegressionInferredFromLeaves(t *testing.T) {
	desc := Description{Nodes: []NodeDescription{{Output: json.Number("3.5"), Count: 2}}}
	tr, err := Build(desc, testCatalog(t))
	require.NoError(t, err)
	assert.True(t, tr.Regression())
	assert.False(t, tr.RootIsSplit())
	assert.Equal(t, 3.5, tr.Evaluate(nil, LastPrediction).Output)
}

func TestWilsonConfidence(t *testing.T) {
	assert.InDelta(t, 0.92865, WilsonLowerBound(50, 50), 1e-5)
	assert.Equal(t, 0.0, WilsonLowerBound(0, 0))

	desc := Description{
		Nodes: []NodeDescription{
			{Output: "yes", Count: 10, Distribution: []core.Bucket{{"yes", 8}, {"no", 2}}},
		},
	}
	tr, err := Build(desc, testCatalog(t))
	require.NoError(t, err)
	leaf := tr.Evaluate(core.Row{}, LastPrediction)
	assert.InDelta(t, WilsonLowerBound(8, 10), leaf.Confidence, 1e-12)
	assert.Less(t, leaf.Confidence, 0.8)
}

func TestBuildRejectsMalformedTrees(t *testing.T) {
	leaf := NodeDescription{Output: "a", Count: 1}
	tests := []struct {
		name string
		desc Description
	}{
		{"no nodes", Description{}},
		{"root out of range", Description{Root: 3, Nodes: []NodeDescription{leaf}}},
		{"self cycle", Description{Nodes: []NodeDescription{
			{Field: "000002", Operator: OpLess, Value: 1.0, Children: []int{0, 1}}, leaf}}},
		{"two node cycle", Description{Nodes: []NodeDescription{
			{Field: "000002", Operator: OpLess, Value: 1.0, Children: []int{1, 2}},
			{Field: "000000", Operator: OpLess, Value: 1.0, Children: []int{0, 2}},
			leaf}}},
		{"unreachable cycle", Description{Nodes: []NodeDescription{
			leaf,
			{Field: "000002", Operator: OpLess, Value: 1.0, Children: []int{2, 0}},
			{Field: "000000", Operator: OpLess, Value: 1.0, Children: []int{1, 0}}}}},
		{"cycle through missing child", Description{Nodes: []NodeDescription{
			{Field: "000002", Operator: OpLess, Value: 1.0, Children: []int{1, 2}, MissingChild: ptr(0)},
			leaf, leaf}}},
		{"unknown field", Description{Nodes: []NodeDescription{
			{Field: "zzz", Operator: OpLess, Value: 1.0, Children: []int{1, 2}}, leaf, leaf}}},
		{"one child", Description{Nodes: []NodeDescription{
			{Field: "000002", Operator: OpLess, Value: 1.0, Children: []int{1}}, leaf}}},
		{"child out of range", Description{Nodes: []NodeDescription{
			{Field: "000002", Operator: OpLess, Value: 1.0, Children: []int{1, 9}}, leaf}}},
		{"unknown operator", Description{Nodes: []NodeDescription{
			{Field: "000002", Operator: "~", Value: 1.0, Children: []int{1, 2}}, leaf, leaf}}},
		{"ordered operator on categorical", Description{Nodes: []NodeDescription{
			{Field: "000003", Operator: OpLess, Value: "red", Children: []int{1, 2}}, leaf, leaf}}},
		{"string threshold on numeric", Description{Nodes: []NodeDescription{
			{Field: "000002", Operator: OpLess, Value: "2.45", Children: []int{1, 2}}, leaf, leaf}}},
		{"empty set", Description{Nodes: []NodeDescription{
			{Field: "000003", Operator: OpIn, Value: []any{}, Children: []int{1, 2}}, leaf, leaf}}},
		{"majority not a child", Description{Nodes: []NodeDescription{
			{Field: "000002", Operator: OpLess, Value: 1.0, Children: []int{1, 2}, MajorityChild: ptr(0)}, leaf, leaf}}},
		{"missing child out of range", Description{Nodes: []NodeDescription{
			{Field: "000002", Operator: OpLess, Value: 1.0, Children: []int{1, 2}, MissingChild: ptr(7)}, leaf, leaf}}},
		{"leaf without output", Description{Nodes: []NodeDescription{{Count: 3}}}},
		{"numeric output in classification", Description{Objective: "000004", Nodes: []NodeDescription{{Output: 1.0}}}},
		{"string output in regression", Description{Objective: "000005", Nodes: []NodeDescription{{Output: "a"}}}},
		{"negative count", Description{Nodes: []NodeDescription{{Output: "a", Count: -1}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, err := Build(tt.desc, testCatalog(t))
			require.Error(t, err)
			assert.Nil(t, tr)
			var mt *errors.MalformedTreeError
			assert.True(t, errors.As(err, &mt), "got %v", err)
		})
	}

	t.Run("nil catalog", func(t *testing.T) {
		_, err := Build(irisDescription(), nil)
		var ve *errors.ValidationError
		assert.True(t, errors.As(err, &ve))
	})
}

func TestSharedSubtreeIsNotACycle(t *testing.T) {
	desc := Description{Nodes: []NodeDescription{
		{Field: "000002", Operator: OpLess, Value: 1.0, Children: []int{1, 2}},
		{Field: "000000", Operator: OpLess, Value: 1.0, Children: []int{2, 3}},
		{Output: "a", Count: 4},
		{Output: "b", Count: 4},
	}}
	tr, err := Build(desc, testCatalog(t))
	require.NoError(t, err)
	assert.Equal(t, "a", tr.Evaluate(core.Row{"000002": 0.0}, LastPrediction).Output)
}

func TestDescriptionJSON(t *testing.T) {
	var desc Description
	require.NoError(t, json.Unmarshal([]byte(`{
		"root": 0,
		"objective_field": "000004",
		"nodes": [
			{"field": "000002", "operator": "<", "value": 2.45, "children": [1, 2], "majority_child": 2},
			{"output": "Iris-setosa", "count": 50, "confidence": 0.92865, "distribution": [["Iris-setosa", 50]]},
			{"output": "Iris-versicolor", "count": 100, "distribution": [["Iris-versicolor", 50], ["Iris-virginica", 50]]}
		]
	}`), &desc))
	tr, err := Build(desc, testCatalog(t))
	require.NoError(t, err)

	leaf := tr.Evaluate(core.Row{}, LastPrediction)
	assert.Equal(t, "Iris-versicolor", leaf.Output)
	assert.InDelta(t, WilsonLowerBound(50, 100), leaf.Confidence, 1e-12)
}

func TestParseMissingStrategy(t *testing.T) {
	tests := []struct {
		in   string
		want MissingStrategy
		ok   bool
	}{
		{"", LastPrediction, true},
		{"0", LastPrediction, true},
		{"last_prediction", LastPrediction, true},
		{"Last-Prediction", LastPrediction, true},
		{"1", Proportional, true},
		{"proportional", Proportional, true},
		{"random", LastPrediction, false},
	}
	for _, tt := range tests {
		got, err := ParseMissingStrategy(tt.in)
		assert.Equal(t, tt.want, got, tt.in)
		assert.Equal(t, tt.ok, err == nil, tt.in)
	}
	assert.Equal(t, "proportional", Proportional.String())
	assert.Equal(t, "last_prediction", LastPrediction.String())
}

// randomTree builds a complete binary tree of the given depth splitting on the
// two numeric fields with random counts and confidences.
func randomTree(t *testing.T, rng *rand.Rand, depth int) *Tree {
	var nodes []NodeDescription
	var grow func(d int) int
	grow = func(d int) int {
		i := len(nodes)
		nodes = append(nodes, NodeDescription{})
		if d == depth {
			cls := []string{"a", "b", "c"}[rng.Intn(3)]
			nodes[i] = NodeDescription{
				Output:     cls,
				Count:      1 + rng.Intn(50),
				Confidence: ptr(rng.Float64()),
			}
			return i
		}
		field := []string{"000000", "000002"}[d%2]
		left := grow(d + 1)
		right := grow(d + 1)
		nodes[i] = NodeDescription{Field: field, Operator: OpLess, Value: rng.Float64(), Children: []int{left, right}}
		return i
	}
	grow(0)
	tr, err := Build(Description{Nodes: nodes}, testCatalog(t))
	require.NoError(t, err)
	return tr
}

func TestProportionalConfidenceIsConvex(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 200; trial++ {
		tr := randomTree(t, rng, 1+rng.Intn(4))
		row := core.Row{}
		if rng.Intn(2) == 0 {
			row["000000"] = rng.Float64()
		}

		reached := tr.Reach(row)
		require.NotEmpty(t, reached)
		lo, hi, sum := 1.0, 0.0, 0.0
		for _, wl := range reached {
			lo = min(lo, wl.Leaf.Confidence)
			hi = max(hi, wl.Leaf.Confidence)
			sum += wl.Weight
		}
		assert.InDelta(t, 1.0, sum, 1e-9)

		conf := tr.Evaluate(row, Proportional).Confidence
		assert.GreaterOrEqual(t, conf, lo-1e-12)
		assert.LessOrEqual(t, conf, hi+1e-12)
	}
}
