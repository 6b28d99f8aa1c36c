package metrics

import (
	"github.com/YuminosukeSato/localml/pkg/errors"
)

// Accuracy は予測ラベルが正解ラベルと一致した割合を返す
func Accuracy(yTrue, yPred []string) (float64, error) {
	n := len(yTrue)
	if n == 0 {
		return 0, errors.NewValueError("Accuracy", "empty label set")
	}
	if len(yPred) != n {
		return 0, errors.NewValueError("Accuracy", "yTrue and yPred must have the same length")
	}

	correct := 0
	for i := range yTrue {
		if yTrue[i] == yPred[i] {
			correct++
		}
	}
	return float64(correct) / float64(n), nil
}

// ConfusionMatrix は正解ラベル→予測ラベル→件数の対応表を返す
func ConfusionMatrix(yTrue, yPred []string) (map[string]map[string]int, error) {
	if len(yPred) != len(yTrue) {
		return nil, errors.NewValueError("ConfusionMatrix", "yTrue and yPred must have the same length")
	}

	cm := make(map[string]map[string]int)
	for i := range yTrue {
		row, ok := cm[yTrue[i]]
		if !ok {
			row = make(map[string]int)
			cm[yTrue[i]] = row
		}
		row[yPred[i]]++
	}
	return cm, nil
}
