package history

import (
	"errors"
	"fmt"
)

var (
	ErrSchemaMismatch  = errors.New("schema mismatch")
	ErrInvalidSchema   = errors.New("invalid schema")
	ErrInvalidDataType = errors.New("invalid data type")
	ErrInvalidDate     = errors.New("invalid date")
	ErrInvalidKey      = errors.New("invalid key literal")
	ErrUnknownField    = errors.New("unknown field")
)

// SchemaMismatchError 携带双方 schema 以便诊断。
type SchemaMismatchError struct {
	Left   Schema
	Right  Schema
	Reason string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("schema mismatch: %s (left levels=%v fields=%v, right levels=%v fields=%v)",
		e.Reason, e.Left.Levels, e.Left.Fields, e.Right.Levels, e.Right.Fields)
}

func (e *SchemaMismatchError) Is(target error) bool { return target == ErrSchemaMismatch }

// ResolutionError 表示 key 转换时某个层级的值无法解析。
type ResolutionError struct {
	Level Level
	Value any
	Err   error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve level %s value %v: %v", e.Level, e.Value, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// InvalidDataTypeError 说明哪个位置收到了什么类型。
type InvalidDataTypeError struct {
	Path string
	Got  string
	Want string
	Err  error
}

func (e *InvalidDataTypeError) Error() string {
	msg := fmt.Sprintf("invalid data type at %s: got %s", e.Path, e.Got)
	if e.Want != "" {
		msg += ", want " + e.Want
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *InvalidDataTypeError) Is(target error) bool { return target == ErrInvalidDataType }

func (e *InvalidDataTypeError) Unwrap() error { return e.Err }

func invalidType(path string, got any, want string) error {
	return &InvalidDataTypeError{Path: path, Got: fmt.Sprintf("%T", got), Want: want}
}
