package narwhal

import (
	"github.com/narwhaldb/narwhal/dberr"
)

// Re-exported sentinels so callers rarely need the dberr package
// directly.
var (
	// ErrNotFound is returned for missing namespaces, items and meta.
	ErrNotFound = dberr.ErrNotFound
	// ErrCanceled is returned when a context deadline or cancel fires.
	ErrCanceled = dberr.ErrCanceled
	// ErrNamespaceInvalidated is returned on access after a drop.
	ErrNamespaceInvalidated = dberr.ErrNamespaceInvalidated
	// ErrStateInvalidated asks the client to refetch its state token.
	ErrStateInvalidated = dberr.ErrStateInvalidated
)

// CodeOf exposes the error class of any engine error.
func CodeOf(err error) dberr.Code { return dberr.CodeOf(err) }
