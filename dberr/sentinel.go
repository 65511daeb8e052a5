package dberr

import (
	"context"
)

var (
	errCtxCanceled = context.Canceled
	errCtxDeadline = context.DeadlineExceeded
)

// Common sentinel values. Prefer these over ad-hoc construction when no
// extra context is available.
var (
	ErrNotFound             = New(CodeNotFound, "not found")
	ErrCanceled             = New(CodeCanceled, "canceled")
	ErrNamespaceInvalidated = New(CodeNamespaceInvalidated, "namespace invalidated, possibly dropped or renamed")
	ErrStateInvalidated     = New(CodeStateInvalidated, "state invalidated, client should refetch")
	ErrTagsMismatch         = New(CodeTagsMismatch, "tags mismatch, item should be rebuilt with fresh tags")
)

// FromContext converts a context error to the coded form.
func FromContext(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return Wrap(CodeCanceled, err, "operation interrupted")
	}
	return nil
}
