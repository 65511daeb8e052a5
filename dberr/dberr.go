// Package dberr defines the coded error model shared by every layer of
// the engine. Errors carry a stable numeric code so that transport
// layers can translate them to protocol status codes without string
// matching.
package dberr

import (
	"github.com/cockroachdb/errors"
)

// Code identifies an error class.
type Code int

const (
	CodeOK Code = iota
	CodeParseJSON
	CodeParseSQL
	CodeParseDSL
	CodeParams
	CodeLogic
	CodeConflict
	CodeNotFound
	CodeForbidden
	CodeNamespaceInvalidated
	CodeStateInvalidated
	CodeCanceled
	CodeTagsMismatch
	CodeParseMsgPack
	CodeParseProtobuf
	CodeOutdatedWAL
)

// String returns a short name for the code.
func (c Code) String() string {
	switch c {
	case CodeOK:
		return "ok"
	case CodeParseJSON:
		return "parse_json"
	case CodeParseSQL:
		return "parse_sql"
	case CodeParseDSL:
		return "parse_dsl"
	case CodeParams:
		return "params"
	case CodeLogic:
		return "logic"
	case CodeConflict:
		return "conflict"
	case CodeNotFound:
		return "not_found"
	case CodeForbidden:
		return "forbidden"
	case CodeNamespaceInvalidated:
		return "namespace_invalidated"
	case CodeStateInvalidated:
		return "state_invalidated"
	case CodeCanceled:
		return "canceled"
	case CodeTagsMismatch:
		return "tags_mismatch"
	case CodeParseMsgPack:
		return "parse_msgpack"
	case CodeParseProtobuf:
		return "parse_protobuf"
	case CodeOutdatedWAL:
		return "outdated_wal"
	}
	return "unknown"
}

// Error is a coded error. Use New/Newf/Wrap to construct.
type Error struct {
	code  Code
	cause error
}

// Error implements the error interface.
func (e *Error) Error() string { return e.cause.Error() }

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *Error) Unwrap() error { return e.cause }

// Code returns the error class.
func (e *Error) Code() Code { return e.code }

// New creates a coded error with a fixed message.
func New(code Code, msg string) error {
	return &Error{code: code, cause: errors.NewWithDepth(1, msg)}
}

// Newf creates a coded error with a formatted message.
func Newf(code Code, format string, args ...interface{}) error {
	return &Error{code: code, cause: errors.NewWithDepthf(1, format, args...)}
}

// Wrap annotates err with msg and stamps the result with code; CodeOf
// on the result reports code even when err carried a different one.
func Wrap(code Code, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{code: code, cause: errors.Wrap(err, msg)}
}

// CodeOf extracts the code of err, unwrapping as needed. Errors that
// were not produced by this package report CodeLogic; nil reports
// CodeOK; context cancellation reports CodeCanceled.
func CodeOf(err error) Code {
	if err == nil {
		return CodeOK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.code
	}
	if errors.IsAny(err, errCtxCanceled, errCtxDeadline) {
		return CodeCanceled
	}
	return CodeLogic
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool { return CodeOf(err) == code }
