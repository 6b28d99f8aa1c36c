package ensemble

import (
	"context"
	"fmt"

	"github.com/YuminosukeSato/localml/core"
	"github.com/YuminosukeSato/localml/model"
	"github.com/YuminosukeSato/localml/pkg/errors"
	"github.com/YuminosukeSato/localml/pkg/log"
	"github.com/YuminosukeSato/localml/tree"
	"github.com/YuminosukeSato/localml/vote"
)

// Votes evaluates every member against the row, in member order. A member
// that fails (or panics) contributes no vote; its error is returned in errs.
// Member confidences are scaled by the member weight.
func (e *Ensemble) Votes(row core.Row, byName bool, strategy tree.MissingStrategy) (votes []vote.Vote, errs []error) {
	return e.collect(row, e.translate(row, byName), byName, strategy)
}

// translate maps the row once through the shared catalog, if there is one.
func (e *Ensemble) translate(row core.Row, byName bool) core.Row {
	if e.catalog == nil {
		return nil
	}
	input, _ := e.catalog.Translate(row, byName)
	return input
}

func (e *Ensemble) collect(row, shared core.Row, byName bool, strategy tree.MissingStrategy) ([]vote.Vote, []error) {
	votes := make([]vote.Vote, 0, len(e.members))
	var errs []error
	for i, m := range e.members {
		var p model.Prediction
		err := errors.SafeExecute(fmt.Sprintf("ensemble member %d", i), func() error {
			var err error
			if shared != nil {
				p, err = m.Evaluate(shared, strategy)
			} else {
				p, err = m.Predict(row, byName, strategy)
			}
			return err
		})
		if err != nil {
			errs = append(errs, errors.Wrapf(err, "member %d (%s)", i, m.ID()))
			continue
		}

		w := e.weight(i)
		votes = append(votes, vote.Vote{
			Prediction:   p.Value,
			Confidence:   p.Confidence * w,
			Error:        p.Error,
			Count:        p.Count,
			Distribution: p.Distribution,
			Order:        i,
			Weight:       w,
		})
	}
	return votes, errs
}

// Predict combines the member votes for one row. It fails with
// InvalidInputError when the row has no usable value and every member needs
// one, and with ErrNoVotesProduced when every member fails.
func (e *Ensemble) Predict(row core.Row, byName bool, strategy tree.MissingStrategy, method vote.Method, opts ...vote.Option) (vote.Combined, error) {
	shared := e.translate(row, byName)
	if shared != nil && len(shared) == 0 && e.needsInput() {
		return vote.Combined{}, errors.NewInvalidInputError("ensemble.predict", "no usable input fields")
	}

	votes, errs := e.collect(row, shared, byName, strategy)
	if len(errs) > 0 && e.logger.Enabled(context.Background(), log.LevelDebug) {
		e.logger.Debug("members excluded from vote",
			errs[0],
			log.OperationKey, log.OperationCombine,
			log.FailedMembersKey, len(errs),
		)
	}
	if len(votes) == 0 {
		return vote.Combined{}, errors.Wrapf(errors.ErrNoVotesProduced, "%d of %d members failed, first: %v",
			len(errs), len(e.members), errs[0])
	}
	if e.weights != nil {
		ws := make([]float64, len(votes))
		for i, v := range votes {
			ws[i] = e.weight(v.Order)
		}
		opts = append([]vote.Option{vote.WithWeights(ws)}, opts...)
	}
	return vote.Combine(votes, method, opts...)
}

func (e *Ensemble) needsInput() bool {
	for _, m := range e.members {
		if !m.Tree().RootIsSplit() {
			return false
		}
	}
	return true
}

// RowPredictor adapts the ensemble for the batch driver.
func (e *Ensemble) RowPredictor(byName bool, strategy tree.MissingStrategy, method vote.Method, opts ...vote.Option) core.RowPredictor {
	return core.RowPredictorFunc(func(row core.Row) (core.Record, error) {
		c, err := e.Predict(row, byName, strategy, method, opts...)
		if err != nil {
			return core.Record{}, err
		}
		return core.Record{
			Prediction:   c.Prediction,
			Confidence:   c.Confidence,
			Distribution: c.Distribution,
		}, nil
	})
}
