package ensemble

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/localml/core"
	"github.com/YuminosukeSato/localml/fields"
	"github.com/YuminosukeSato/localml/model"
	"github.com/YuminosukeSato/localml/pkg/errors"
	"github.com/YuminosukeSato/localml/pkg/log"
	"github.com/YuminosukeSato/localml/tree"
	"github.com/YuminosukeSato/localml/vote"
)

func ptr[T any](v T) *T { return &v }

func loadYesNo(t *testing.T, opts ...Option) *Ensemble {
	t.Helper()
	e, err := LoadFile("testdata/yesno.json", opts...)
	require.NoError(t, err)
	return e
}

func splitMember(id string, field string, yes, no any) model.Description {
	return model.Description{
		Resource: id,
		Tree: tree.Description{Nodes: []tree.NodeDescription{
			{Field: field, Operator: tree.OpGreater, Value: 0.0, Children: []int{1, 2}},
			{Output: yes, Count: 5, Confidence: ptr(0.9)},
			{Output: no, Count: 5, Confidence: ptr(0.8)},
		}},
	}
}

func schema() fields.Schema {
	return fields.Schema{
		"000000": {Name: "score", OpType: fields.Numeric},
		"000001": {Name: "answer", OpType: fields.Categorical, ColumnNumber: 1},
		"000002": {Name: "amount", OpType: fields.Numeric, ColumnNumber: 2},
	}
}

func TestFiveMemberPlurality(t *testing.T) {
	e := loadYesNo(t)
	assert.Equal(t, 5, e.Len())
	assert.Equal(t, "ensemble/5a0b7e5e9252736f5e000001", e.ID())
	assert.Equal(t, "yes-no", e.Name())
	assert.False(t, e.Regression())
	require.NotNil(t, e.Catalog())

	got, err := e.Predict(core.Row{"score": 1}, true, tree.LastPrediction, vote.Plurality)
	require.NoError(t, err)
	assert.Equal(t, "yes", got.Prediction)
	assert.InDelta(t, 0.6, got.Confidence, 1e-12)
	assert.Equal(t, 6+5+7+4+8, got.Count)
}

func TestVotesPreserveMemberOrder(t *testing.T) {
	e := loadYesNo(t)
	votes, errs := e.Votes(core.Row{"000000": 1.0}, false, tree.LastPrediction)
	require.Empty(t, errs)
	require.Len(t, votes, 5)

	var preds []any
	for i, v := range votes {
		assert.Equal(t, i, v.Order)
		assert.Equal(t, 1.0, v.Weight)
		preds = append(preds, v.Prediction)
	}
	assert.Equal(t, []any{"yes", "no", "yes", "yes", "no"}, preds)
}

func TestCombinationMethods(t *testing.T) {
	e := loadYesNo(t)
	row := core.Row{"score": 0.5}

	tests := []struct {
		name   string
		method vote.Method
		opts   []vote.Option
		want   string
		conf   float64
	}{
		// yes: .8+.6+.55 = 1.95, no: .9+.95 = 1.85
		{"confidence", vote.ConfidenceWeighted, nil, "yes", 1.95 / 3.8},
		// yes: 5+0+5+3+0 = 13, no: 1+5+2+1+8 = 17
		{"probability", vote.ProbabilityWeighted, nil, "no", 17.0 / 30},
		{"threshold met", vote.Threshold, []vote.Option{vote.WithThreshold("no", 2)}, "no", 0.4},
		{"threshold not met", vote.Threshold, []vote.Option{vote.WithThreshold("no", 3)}, "yes", 0.6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Predict(row, true, tree.LastPrediction, tt.method, tt.opts...)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Prediction)
			assert.InDelta(t, tt.conf, got.Confidence, 1e-12)
		})
	}
}

func TestBoostedWeightsScaleConfidence(t *testing.T) {
	desc := Description{
		Resource: "ensemble/boosted",
		Fields:   schema(),
		Boosted:  true,
		Weights:  []float64{1, 3, 1, 1, 3},
		Models: []model.Description{
			splitMember("model/0", "000000", "yes", "no"),
			splitMember("model/1", "000000", "no", "yes"),
			splitMember("model/2", "000000", "yes", "no"),
			splitMember("model/3", "000000", "yes", "no"),
			splitMember("model/4", "000000", "no", "yes"),
		},
	}
	e, err := New(desc)
	require.NoError(t, err)

	votes, errs := e.Votes(core.Row{"000000": 1.0}, false, tree.LastPrediction)
	require.Empty(t, errs)
	assert.InDelta(t, 2.7, votes[1].Confidence, 1e-12)
	assert.Equal(t, 3.0, votes[1].Weight)

	plural, err := e.Predict(core.Row{"000000": 1.0}, false, tree.LastPrediction, vote.Plurality)
	require.NoError(t, err)
	assert.Equal(t, "yes", plural.Prediction)

	// yes: 3 * .9 = 2.7, no: 2 * 2.7 = 5.4
	weighted, err := e.Predict(core.Row{"000000": 1.0}, false, tree.LastPrediction, vote.ConfidenceWeighted)
	require.NoError(t, err)
	assert.Equal(t, "no", weighted.Prediction)
	assert.InDelta(t, 5.4/8.1, weighted.Confidence, 1e-12)
}

func TestRegressionEnsemble(t *testing.T) {
	desc := Description{
		Resource:  "ensemble/reg",
		Fields:    schema(),
		Objective: "000002",
		Models: []model.Description{
			splitMember("model/0", "000000", 10.0, 0.0),
			splitMember("model/1", "000000", 20.0, 0.0),
			splitMember("model/2", "000000", 60.0, 0.0),
		},
	}
	e, err := New(desc)
	require.NoError(t, err)
	assert.True(t, e.Regression())

	got, err := e.Predict(core.Row{"000000": 1.0}, false, tree.LastPrediction, vote.Plurality)
	require.NoError(t, err)
	assert.InDelta(t, 30.0, got.Prediction.(float64), 1e-12)

	median, err := e.Predict(core.Row{"000000": 1.0}, false, tree.LastPrediction, vote.Plurality, vote.WithMedian())
	require.NoError(t, err)
	assert.Equal(t, 20.0, median.Prediction)
}

func TestZeroWeightMemberIsIgnored(t *testing.T) {
	desc := Description{
		Resource:  "ensemble/zero",
		Fields:    schema(),
		Objective: "000002",
		Weights:   []float64{0, 1},
		Models: []model.Description{
			splitMember("model/0", "000000", 10.0, 0.0),
			splitMember("model/1", "000000", 20.0, 0.0),
		},
	}
	e, err := New(desc)
	require.NoError(t, err)

	row := core.Row{"000000": 1.0}
	got, err := e.Predict(row, false, tree.LastPrediction, vote.Plurality)
	require.NoError(t, err)
	assert.InDelta(t, 20.0, got.Prediction.(float64), 1e-12)

	median, err := e.Predict(row, false, tree.LastPrediction, vote.Plurality, vote.WithMedian())
	require.NoError(t, err)
	assert.Equal(t, 20.0, median.Prediction)

	t.Run("multi model", func(t *testing.T) {
		m1, err := model.New(model.Description{Resource: "model/a", Fields: schema(),
			Tree: splitMember("", "000000", "yes", "no").Tree})
		require.NoError(t, err)
		m2, err := model.New(model.Description{Resource: "model/b", Fields: schema(),
			Tree: splitMember("", "000000", "no", "yes").Tree})
		require.NoError(t, err)

		mm, err := NewMultiModel([]*model.Model{m1, m2}, []float64{0, 1})
		require.NoError(t, err)
		got, err := mm.Predict(core.Row{"score": 1}, true, tree.LastPrediction, vote.Plurality)
		require.NoError(t, err)
		assert.Equal(t, "no", got.Prediction)
	})
}

func TestLoadRejectsInvalidEnsembles(t *testing.T) {
	malformed := splitMember("model/bad", "000009", "yes", "no")
	tests := []struct {
		name  string
		desc  Description
		check func(t *testing.T, err error)
	}{
		{
			name: "malformed member",
			desc: Description{Resource: "ensemble/x", Fields: schema(), Models: []model.Description{
				splitMember("model/0", "000000", "yes", "no"),
				malformed,
			}},
			check: func(t *testing.T, err error) {
				var mt *errors.MalformedTreeError
				assert.True(t, errors.As(err, &mt))
				assert.Contains(t, err.Error(), "member 1")
			},
		},
		{
			name: "no members",
			desc: Description{Resource: "ensemble/empty", Fields: schema()},
			check: func(t *testing.T, err error) {
				var ve *errors.ValidationError
				assert.True(t, errors.As(err, &ve))
			},
		},
		{
			name: "weights length",
			desc: Description{Resource: "ensemble/w", Fields: schema(), Weights: []float64{1, 2},
				Models: []model.Description{splitMember("model/0", "000000", "yes", "no")}},
			check: func(t *testing.T, err error) {
				var ve *errors.ValidationError
				assert.True(t, errors.As(err, &ve))
			},
		},
		{
			name: "negative weight",
			desc: Description{Resource: "ensemble/w", Fields: schema(), Weights: []float64{-1},
				Models: []model.Description{splitMember("model/0", "000000", "yes", "no")}},
			check: func(t *testing.T, err error) {
				var ve *errors.ValidationError
				assert.True(t, errors.As(err, &ve))
			},
		},
		{
			name: "NaN weight",
			desc: Description{Resource: "ensemble/w", Fields: schema(), Weights: []float64{math.NaN()},
				Models: []model.Description{splitMember("model/0", "000000", "yes", "no")}},
			check: func(t *testing.T, err error) {
				var ve *errors.ValidationError
				assert.True(t, errors.As(err, &ve))
			},
		},
		{
			name: "mixed objectives",
			desc: Description{Resource: "ensemble/mix", Fields: schema(), Models: []model.Description{
				splitMember("model/0", "000000", "yes", "no"),
				splitMember("model/1", "000000", 1.0, 2.0),
			}},
			check: func(t *testing.T, err error) {
				var ve *errors.ValidationError
				assert.True(t, errors.As(err, &ve))
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := New(tt.desc)
			require.Error(t, err)
			assert.Nil(t, e)
			tt.check(t, err)
		})
	}

	_, err := Load(strings.NewReader(`[`))
	assert.Error(t, err)
	_, err = LoadFile("testdata/missing.json")
	assert.Error(t, err)
}

func TestInvalidInputWhenEveryMemberNeedsInput(t *testing.T) {
	e := loadYesNo(t)
	_, err := e.Predict(core.Row{"000000": ""}, false, tree.LastPrediction, vote.Plurality)
	var ie *errors.InvalidInputError
	assert.True(t, errors.As(err, &ie))
}

func TestFailingMembersAreExcluded(t *testing.T) {
	leafOnly := model.Description{
		Resource: "model/leaf",
		Tree:     tree.Description{Nodes: []tree.NodeDescription{{Output: "maybe", Count: 3, Confidence: ptr(0.3)}}},
	}
	logger, _ := log.NewTestLogger(log.LevelDebug)
	e, err := New(Description{
		Resource: "ensemble/partial",
		Fields:   schema(),
		Models: []model.Description{
			splitMember("model/0", "000000", "yes", "no"),
			leafOnly,
			splitMember("model/2", "000000", "yes", "no"),
		},
	}, WithLogger(logger))
	require.NoError(t, err)

	votes, errs := e.Votes(core.Row{}, false, tree.LastPrediction)
	require.Len(t, votes, 1)
	require.Len(t, errs, 2)
	assert.Equal(t, 1, votes[0].Order)
	var ie *errors.InvalidInputError
	assert.True(t, errors.As(errs[0], &ie))

	got, err := e.Predict(core.Row{}, false, tree.LastPrediction, vote.Plurality)
	require.NoError(t, err)
	assert.Equal(t, "maybe", got.Prediction)
	assert.True(t, logger.ContainsMessage("members excluded from vote"))
	assert.True(t, logger.ContainsField(log.FailedMembersKey, 2.0))
}

func TestMultiModel(t *testing.T) {
	m1, err := model.New(model.Description{Resource: "model/a", Fields: schema(),
		Tree: splitMember("", "000000", "yes", "no").Tree})
	require.NoError(t, err)
	m2, err := model.New(model.Description{Resource: "model/b", Fields: schema(),
		Tree: splitMember("", "000002", "no", "yes").Tree})
	require.NoError(t, err)

	mm, err := NewMultiModel([]*model.Model{m1, m2}, []float64{1, 2})
	require.NoError(t, err)
	assert.Nil(t, mm.Catalog())

	got, err := mm.Predict(core.Row{"score": 1, "amount": 1}, true, tree.LastPrediction, vote.ConfidenceWeighted)
	require.NoError(t, err)
	assert.Equal(t, "no", got.Prediction)

	t.Run("all members fail", func(t *testing.T) {
		_, err := mm.Predict(core.Row{}, true, tree.LastPrediction, vote.Plurality)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrNoVotesProduced))
		assert.Contains(t, err.Error(), "2 of 2 members failed")
	})

	t.Run("invalid construction", func(t *testing.T) {
		_, err := NewMultiModel(nil, nil)
		assert.Error(t, err)
		_, err = NewMultiModel([]*model.Model{m1}, []float64{1, 1})
		assert.Error(t, err)
		_, err = NewMultiModel([]*model.Model{m1, m2}, []float64{1, math.NaN()})
		assert.Error(t, err)
	})
}

func TestRowPredictor(t *testing.T) {
	e := loadYesNo(t)
	rp := e.RowPredictor(true, tree.Proportional, vote.ProbabilityWeighted)

	rec, err := rp.PredictRow(core.Row{"score": -1})
	require.NoError(t, err)
	// members answer no, yes, no, no, yes; summed distributions favour no
	assert.Equal(t, "no", rec.Prediction)
	assert.InDelta(t, 1.0, core.TotalCount(rec.Distribution), 1e-9)

	_, err = rp.PredictRow(core.Row{})
	assert.Error(t, err)
}
