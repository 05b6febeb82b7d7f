package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a document or path is missing.
	ErrNotFound = errors.New("store: not found")
	// ErrEmpty is returned when popping from an empty array.
	ErrEmpty = errors.New("store: empty collection")
	// ErrTransport wraps connectivity and server-side failures.
	ErrTransport = errors.New("store: transport error")
)

// Op identifies a write command applied to a document path.
type Op int

const (
	// OpSet writes Args[0] at Path, creating the final key when absent.
	OpSet Op = iota
	// OpDel removes the value at Path.
	OpDel
	// OpDelDoc removes the whole document.
	OpDelDoc
	// OpArrAppend appends Args to the array at Path.
	OpArrAppend
	// OpArrInsert inserts Args before Index in the array at Path.
	OpArrInsert
	// OpClear empties the container at Path.
	OpClear
	// OpMerge merges the object Args[0] onto the object at Path.
	OpMerge
)

// Command is one write against a document, expressed so it can be applied
// immediately or queued into an atomic batch.
type Command struct {
	Op    Op
	Key   string
	Path  string
	Args  [][]byte // raw JSON values
	Index int      // OpArrInsert only
}

// Backend is the store transport. Implementations must be safe for
// concurrent use. Write commands go through Apply/Exec; the remaining
// methods are immediate reads or read-modify primitives that carry return
// values and therefore cannot participate in a batch.
type Backend interface {
	// GetDoc returns the whole document, or ErrNotFound.
	GetDoc(ctx context.Context, key string) ([]byte, error)
	// GetPath returns the raw JSON value at path, or ErrNotFound when the
	// document or the path is missing.
	GetPath(ctx context.Context, key, path string) ([]byte, error)
	// MGetDocs reads many documents at once; missing keys yield nil entries.
	MGetDocs(ctx context.Context, keys ...string) ([][]byte, error)
	// Keys enumerates document keys with the given prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)
	// ObjKeys lists the keys of the object at path.
	ObjKeys(ctx context.Context, key, path string) ([]string, error)
	// Exists reports whether the document exists.
	Exists(ctx context.Context, key string) (bool, error)
	// IncrBy atomically adds delta to the number at path and returns the
	// resulting value.
	IncrBy(ctx context.Context, key, path string, delta float64) (float64, error)
	// ArrPop atomically removes and returns the element at index of the
	// array at path. Negative indices count from the end. Popping an empty
	// array fails with ErrEmpty.
	ArrPop(ctx context.Context, key, path string, index int) ([]byte, error)
	// ObjPop atomically removes one entry of the object at path and returns
	// its field name and raw value. A non-empty field selects that entry,
	// failing with ErrNotFound when absent; an empty field selects an
	// arbitrary remaining entry, failing with ErrEmpty when the object has
	// none left.
	ObjPop(ctx context.Context, key, path, field string) (string, []byte, error)

	// Apply executes a single write command.
	Apply(ctx context.Context, cmd Command) error
	// Exec executes all commands as one atomic batch: either every command
	// applies or none does.
	Exec(ctx context.Context, cmds ...Command) error

	// AcquireLock sets lockKey to token with the given expiry if no holder
	// exists, reporting whether the caller now owns the lock.
	AcquireLock(ctx context.Context, lockKey, token string, ttl time.Duration) (bool, error)
	// ReleaseLock deletes lockKey only while it still stores token. Releasing
	// an expired or absent lock is not an error.
	ReleaseLock(ctx context.Context, lockKey, token string) error
}
