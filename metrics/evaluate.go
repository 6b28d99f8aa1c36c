// Package metrics scores batch predictions against known objective values.
package metrics

import (
	"fmt"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/localml/core"
	"github.com/YuminosukeSato/localml/pkg/errors"
)

// Summary は予測レコードと正解値の比較結果。
// 分類では Accuracy、回帰では MSE/RMSE/MAE/R2 が設定される。
type Summary struct {
	Rows    int `json:"rows"`
	Scored  int `json:"scored"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`

	Accuracy *float64 `json:"accuracy,omitempty"`

	MSE  *float64 `json:"mse,omitempty"`
	RMSE *float64 `json:"rmse,omitempty"`
	MAE  *float64 `json:"mae,omitempty"`
	R2   *float64 `json:"r2,omitempty"`
}

// Evaluate は records を actual と比較する。actual[i] は Index が i の行の正解値で、
// 欠損値の行は Skipped として数えられる。
// 数値予測の行は回帰、文字列予測の行は分類として扱い、両者の混在はエラー。
func Evaluate(records []core.Record, actual []any) (Summary, error) {
	s := Summary{Rows: len(records)}

	var (
		labels, predicted []string
		yTrue, yPred      []float64
	)
	for _, rec := range records {
		if rec.Failed() {
			s.Failed++
			continue
		}
		if rec.Index < 0 || rec.Index >= len(actual) {
			return s, errors.NewValueError("metrics.Evaluate", fmt.Sprintf("record %d has no actual value", rec.Index))
		}
		truth := actual[rec.Index]

		switch p := rec.Prediction.(type) {
		case float64:
			y, ok := toFloat(truth)
			if !ok {
				s.Skipped++
				continue
			}
			yTrue = append(yTrue, y)
			yPred = append(yPred, p)
		case string:
			label, ok := toLabel(truth)
			if !ok {
				s.Skipped++
				continue
			}
			labels = append(labels, label)
			predicted = append(predicted, p)
		default:
			s.Skipped++
		}
	}
	if len(labels) > 0 && len(yTrue) > 0 {
		return s, errors.NewValueError("metrics.Evaluate", "mixed numeric and categorical predictions")
	}

	switch {
	case len(labels) > 0:
		s.Scored = len(labels)
		acc, err := Accuracy(labels, predicted)
		if err != nil {
			return s, err
		}
		s.Accuracy = &acc
	case len(yTrue) > 0:
		s.Scored = len(yTrue)
		if err := s.scoreRegression(yTrue, yPred); err != nil {
			return s, err
		}
	}
	return s, nil
}

func (s *Summary) scoreRegression(yTrue, yPred []float64) error {
	t := mat.NewVecDense(len(yTrue), yTrue)
	p := mat.NewVecDense(len(yPred), yPred)

	mse, err := MSE(t, p)
	if err != nil {
		return err
	}
	rmse, err := RMSE(t, p)
	if err != nil {
		return err
	}
	mae, err := MAE(t, p)
	if err != nil {
		return err
	}
	s.MSE, s.RMSE, s.MAE = &mse, &rmse, &mae

	// 正解値が一定の場合 R² は定義されない
	if r2, err := R2Score(t, p); err == nil {
		s.R2 = &r2
	}
	return nil
}

func toLabel(v any) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "", false
	case string:
		if strings.TrimSpace(x) == "" {
			return "", false
		}
		return x, true
	default:
		return fmt.Sprint(x), true
	}
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case fmt.Stringer:
		f, err := strconv.ParseFloat(strings.TrimSpace(x.String()), 64)
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
