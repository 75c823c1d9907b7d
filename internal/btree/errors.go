package btree

import "errors"

// ErrInvalidMaxSize is returned by Open when a requested max size does not
// fit within a single page.
var ErrInvalidMaxSize = errors.New("btree: max size exceeds page capacity")
