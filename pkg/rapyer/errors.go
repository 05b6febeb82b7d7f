package rapyer

import (
	"errors"

	"github.com/yedidyakfir/rapyer-sub000/pkg/schema"
	"github.com/yedidyakfir/rapyer-sub000/pkg/store"
)

var (
	// ErrValidation is returned when a value is rejected before any local or
	// remote effect. Alias of the schema package sentinel.
	ErrValidation = schema.ErrValidation
	// ErrNotFound is returned when a document is missing on load or get.
	// Alias of the store package sentinel.
	ErrNotFound = store.ErrNotFound
	// ErrEmptyCollection is returned when popping from an empty sequence or
	// mapping.
	ErrEmptyCollection = errors.New("rapyer: empty collection")
	// ErrKeyNotFound is returned when popping a missing mapping key without
	// a default.
	ErrKeyNotFound = errors.New("rapyer: key not found")
	// ErrNotTopLevel is returned when delete, duplicate, or pipeline
	// enrollment is attempted on a nested model.
	ErrNotTopLevel = errors.New("rapyer: not a top-level model")
	// ErrNotSupportedInPipeline is returned for operations whose result is
	// needed immediately and therefore cannot be queued into a batch.
	ErrNotSupportedInPipeline = errors.New("rapyer: operation not supported in pipeline")
	// ErrLockTimeout is returned when lock acquisition exhausts its wait.
	ErrLockTimeout = errors.New("rapyer: lock timeout")
	// ErrDetached is returned when a proxy is not reachable from any root
	// instance (for example a clone).
	ErrDetached = errors.New("rapyer: inner model detached")
)
