package services

import (
	"errors"
	"fmt"
)

// 分析パイプラインが呼び出し元に返すエラー種別。errors.Is で判定します。
var (
	ErrUnknownCategory = errors.New("unknown category")
	ErrInvalidInput    = errors.New("invalid input")
	ErrNetwork         = errors.New("network error")
	ErrDecode          = errors.New("decode error")

	// ErrSuperseded は後続のリクエストに置き換えられた結果であることを示します。
	// 失敗ではなく、表示状態には一切反映されません。
	ErrSuperseded      = errors.New("request superseded")
	ErrSessionClosed   = errors.New("session closed")
	ErrSessionNotFound = errors.New("session not found")
)

// AnalysisError は操作名とエラー種別を保持するエラーです。
type AnalysisError struct {
	Op   string
	Kind error
	Err  error
}

func (e *AnalysisError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Kind)
}

func (e *AnalysisError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(op string, kind error, err error) error {
	return &AnalysisError{Op: op, Kind: kind, Err: err}
}

// ErrorKind はAPIレスポンス用にエラー種別の名前を返します。
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnknownCategory):
		return "UnknownCategory"
	case errors.Is(err, ErrInvalidInput):
		return "InvalidInput"
	case errors.Is(err, ErrDecode):
		return "DecodeError"
	case errors.Is(err, ErrNetwork):
		return "NetworkError"
	case errors.Is(err, ErrSuperseded):
		return "Superseded"
	case errors.Is(err, ErrSessionClosed):
		return "SessionClosed"
	case errors.Is(err, ErrSessionNotFound):
		return "SessionNotFound"
	default:
		return "Internal"
	}
}
