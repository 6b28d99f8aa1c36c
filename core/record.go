// Package core はローカル予測エンジン全体で共有される行・出力レコードの型と、
// 1行を評価する RowPredictor インターフェースを定義します。
package core

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/YuminosukeSato/localml/pkg/errors"
)

// Row は1行分の入力値。キーはフィールドIDまたはフィールド名。
// 値は string, float64（任意の数値型・json.Number も可）, bool, nil のいずれか。
type Row map[string]any

// Bucket は分布の1クラス分。JSON では ["Iris-setosa", 50] の2要素配列として表現される。
type Bucket struct {
	Value string
	Count float64
}

// MarshalJSON はバケットを2要素配列として書き出す
func (b Bucket) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{b.Value, b.Count})
}

// UnmarshalJSON は2要素配列からバケットを読み込む。
// クラス値が数値で書かれていた場合は文字列に変換する。
func (b *Bucket) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return errors.NewValueError("Bucket.UnmarshalJSON", "distribution bucket must have 2 elements, got "+strconv.Itoa(len(pair)))
	}

	var label any
	dec := json.NewDecoder(bytes.NewReader(pair[0]))
	dec.UseNumber()
	if err := dec.Decode(&label); err != nil {
		return err
	}
	switch v := label.(type) {
	case string:
		b.Value = v
	case json.Number:
		b.Value = v.String()
	case bool:
		b.Value = strconv.FormatBool(v)
	default:
		return errors.NewValueError("Bucket.UnmarshalJSON", "unsupported distribution class "+string(pair[0]))
	}

	return json.Unmarshal(pair[1], &b.Count)
}

// TotalCount は分布の合計インスタンス数を返す
func TotalCount(dist []Bucket) float64 {
	total := 0.0
	for _, b := range dist {
		total += b.Count
	}
	return total
}

// Record はバッチ出力の1行分。予測器の種類によって使われるフィールドが異なる。
// Err が設定されている場合、その行の評価は失敗している。
type Record struct {
	Index        int      `json:"index"`
	Prediction   any      `json:"prediction,omitempty"`
	Confidence   float64  `json:"confidence,omitempty"`
	Distribution []Bucket `json:"distribution,omitempty"`
	CentroidID   string   `json:"centroid_id,omitempty"`
	CentroidName string   `json:"centroid_name,omitempty"`
	Distance     *float64 `json:"distance,omitempty"`
	Err          error    `json:"-"`
	ErrorMessage string   `json:"error,omitempty"`
}

// Failed は行の評価が失敗したかどうかを返す
func (r Record) Failed() bool {
	return r.Err != nil
}

// ErrorRecord は位置 index の失敗レコードを作る
func ErrorRecord(index int, err error) Record {
	return Record{Index: index, Err: err, ErrorMessage: err.Error()}
}

// RowPredictor は1行を評価して出力レコードを返す予測器のインターフェース。
// 実装は読み取り専用の状態のみを参照し、複数のゴルーチンから同時に呼ばれても安全でなければならない。
type RowPredictor interface {
	// PredictRow は1行を評価する。Record.Index は呼び出し側が設定する。
	PredictRow(row Row) (Record, error)
}

// RowPredictorFunc は関数を RowPredictor として使うためのアダプタ
type RowPredictorFunc func(row Row) (Record, error)

// PredictRow は f(row) を呼び出す
func (f RowPredictorFunc) PredictRow(row Row) (Record, error) {
	return f(row)
}
