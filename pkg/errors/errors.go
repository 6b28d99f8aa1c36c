// Package errors はローカル予測エンジン全体のエラーハンドリングと警告システムを提供します。
// 行単位のエラー（InvalidInput など）とロード時の構造エラー（MalformedTree）を区別し、
// cockroachdb/errors によるスタックトレースを付与します。
package errors

import (
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
)

// ===========================================================================
//
//	グローバル警告ハンドリング
//
// ===========================================================================
var (
	warningMutex   sync.Mutex
	warningHandler = func(w error) {
		// デフォルトのハンドラは標準エラー出力にログを出す
		log.Printf("localml-warning: %v\n", w)
	}
	// zerologロガー（循環importを避けるため遅延初期化）
	zerologWarnFunc func(warning error)
)

// SetWarningHandler はライブラリ全体の警告ハンドラを設定します。
//
// 例:
//
//	errors.SetWarningHandler(func(w error) {
//	    // 警告を無視する
//	})
func SetWarningHandler(handler func(w error)) {
	warningMutex.Lock()
	defer warningMutex.Unlock()
	warningHandler = handler
}

// SetZerologWarnFunc はzerolog警告関数を設定します（循環importを避けるため）。
// nil を渡すと従来のハンドラに戻ります。
func SetZerologWarnFunc(warnFunc func(warning error)) {
	warningMutex.Lock()
	defer warningMutex.Unlock()
	zerologWarnFunc = warnFunc
}

// Warn は警告を発生させます。
// zerologが設定されている場合は構造化ログとして出力し、そうでなければ従来のハンドラを使用します。
func Warn(w error) {
	warningMutex.Lock()
	defer warningMutex.Unlock()

	if zerologWarnFunc != nil {
		zerologWarnFunc(w)
		return
	}

	if warningHandler != nil {
		warningHandler(w)
	}
}

// ===========================================================================
//
//	警告型
//
// ===========================================================================

// UnknownFieldWarning は名前指定の入力行にフィールドカタログに存在しない名前が含まれていた場合の警告です。
// 該当する値は予測に使われず破棄されます。
type UnknownFieldWarning struct {
	Names []string
}

func (w *UnknownFieldWarning) Error() string {
	return fmt.Sprintf("unknown input field names dropped: %s", strings.Join(w.Names, ", "))
}

// MarshalZerologObject はzerologのイベントに構造化された警告情報を追加します。
func (w *UnknownFieldWarning) MarshalZerologObject(e *zerolog.Event) {
	e.Strs("names", w.Names).
		Str("type", "UnknownFieldWarning")
}

// NewUnknownFieldWarning は新しいUnknownFieldWarningを作成します。
func NewUnknownFieldWarning(names []string) *UnknownFieldWarning {
	return &UnknownFieldWarning{Names: names}
}

// DuplicateFieldNameWarning は同じ名前を持つフィールドが複数存在する場合の警告です。
// 名前による参照は最初に登録されたフィールドに解決されます。
type DuplicateFieldNameWarning struct {
	Name    string
	KeptID  string
	OtherID string
}

func (w *DuplicateFieldNameWarning) Error() string {
	return fmt.Sprintf("field name %q is shared by %s and %s; lookups by name resolve to %s",
		w.Name, w.KeptID, w.OtherID, w.KeptID)
}

// NewDuplicateFieldNameWarning は新しいDuplicateFieldNameWarningを作成します。
func NewDuplicateFieldNameWarning(name, kept, other string) *DuplicateFieldNameWarning {
	return &DuplicateFieldNameWarning{Name: name, KeptID: kept, OtherID: other}
}

// ===========================================================================
//
//	構造化されたエラー型
//
// ===========================================================================

// InvalidInputError は入力行を翻訳した結果、評価に使えるフィールドが一つも残らなかった場合のエラーです。
type InvalidInputError struct {
	Op     string
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("localml: %s: invalid input: %s", e.Op, e.Reason)
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *InvalidInputError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("operation", e.Op).
		Str("reason", e.Reason).
		Str("type", "InvalidInputError")
}

// NewInvalidInputError は新しいInvalidInputErrorを作成し、スタックトレースを付与します。
func NewInvalidInputError(op, reason string) error {
	return errors.WithStack(&InvalidInputError{Op: op, Reason: reason})
}

// MalformedTreeError は木構造の不変条件（循環参照、カタログに無い分割フィールド等）が
// ロード時に破られていた場合のエラーです。評価中に発生することはありません。
type MalformedTreeError struct {
	Node   int // 問題のあるノードのインデックス（特定できない場合は -1）
	Reason string
}

func (e *MalformedTreeError) Error() string {
	if e.Node < 0 {
		return fmt.Sprintf("localml: malformed tree: %s", e.Reason)
	}
	return fmt.Sprintf("localml: malformed tree: node %d: %s", e.Node, e.Reason)
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *MalformedTreeError) MarshalZerologObject(event *zerolog.Event) {
	event.Int("node", e.Node).
		Str("reason", e.Reason).
		Str("type", "MalformedTreeError")
}

// NewMalformedTreeError は新しいMalformedTreeErrorを作成し、スタックトレースを付与します。
func NewMalformedTreeError(node int, format string, args ...interface{}) error {
	return errors.WithStack(&MalformedTreeError{Node: node, Reason: fmt.Sprintf(format, args...)})
}

// ValidationError はモデル記述やオプションの検証に失敗した場合のエラーです。
type ValidationError struct {
	ParamName string
	Reason    string
	Value     interface{}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("localml: validation failed for parameter '%s': %s (got: %v)", e.ParamName, e.Reason, e.Value)
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *ValidationError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("param_name", e.ParamName).
		Str("reason", e.Reason).
		Interface("value", e.Value).
		Str("type", "ValidationError")
}

// NewValidationError は新しいValidationErrorを作成し、スタックトレースを付与します。
func NewValidationError(param, reason string, value interface{}) error {
	return errors.WithStack(&ValidationError{ParamName: param, Reason: reason, Value: value})
}

// ValueError は引数の値が不適切な場合に発生するエラーです。
// 例えば、数値の投票集合にしきい値方式を指定した場合など。
type ValueError struct {
	Op      string
	Message string
}

func (e *ValueError) Error() string {
	return fmt.Sprintf("localml: %s: %s", e.Op, e.Message)
}

// NewValueError は新しいValueErrorを作成し、スタックトレースを付与します。
func NewValueError(op, message string) error {
	return errors.WithStack(&ValueError{Op: op, Message: message})
}

// ===========================================================================
//
//	cockroachdb/errors ラッパー関数
//
// ===========================================================================

// Is はエラーが特定のターゲットエラーかどうかを判定します。
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As はエラーが特定の型にキャスト可能かどうかを判定します。
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Wrap は既存のエラーをメッセージ付きでラップします。
func Wrap(err error, message string) error {
	return errors.Wrap(err, message)
}

// Wrapf は既存のエラーをフォーマット文字列でラップします。
func Wrapf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}

// New は新しいエラーを作成します。
func New(message string) error {
	return errors.New(message)
}

// Newf は新しいフォーマット済みエラーを作成します。
func Newf(format string, args ...interface{}) error {
	return errors.Newf(format, args...)
}

// WithStack はエラーにスタックトレースを付与します。
func WithStack(err error) error {
	return errors.WithStack(err)
}

// ===========================================================================
//
//	共通エラー変数
//
// ===========================================================================

var (
	// ErrEmptyVoteSet は投票が一つも無い状態で結合しようとした場合のエラーです。
	ErrEmptyVoteSet = New("empty vote set")

	// ErrNoVotesProduced はアンサンブルの全メンバーが投票に失敗した場合のエラーです。
	ErrNoVotesProduced = New("no votes produced")
)
