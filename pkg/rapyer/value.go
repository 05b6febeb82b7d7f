package rapyer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/yedidyakfir/rapyer-sub000/pkg/store"
)

// attachable is implemented by every proxy type; the model constructor
// assigns the binding while walking the struct.
type attachable interface {
	attach(*binding)
	resetLocal()
}

// localValuer exposes a proxy's current local value for validation.
type localValuer interface {
	localValue() any
}

type sequenceProxy interface{ isSequence() }
type mappingProxy interface{ isMapping() }

// Value is the primitive field proxy. Set mutates only the local copy;
// Assign also issues (or queues) the remote write. Two unlocked writers to
// the same field race at the store primitive: the last remote command wins.
type Value[T any] struct {
	v    T
	bind *binding
}

func (p *Value[T]) attach(b *binding) { p.bind = b }

func (p *Value[T]) resetLocal() {
	var zero T
	p.v = zero
}

func (p *Value[T]) localValue() any { return p.v }

// Get returns the local copy.
func (p *Value[T]) Get() T { return p.v }

// Set replaces the local copy without touching the store.
func (p *Value[T]) Set(v T) { p.v = v }

// Assign validates v, replaces the local copy, and writes the field
// remotely (queued when a pipeline is open).
func (p *Value[T]) Assign(ctx context.Context, v T) error {
	validated, err := p.bind.validate(v)
	if err != nil {
		return err
	}
	if vv, ok := validated.(T); ok {
		v = vv
	}
	key, pointer, err := p.bind.resolve()
	if err != nil {
		return err
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("rapyer: encode value: %w", err)
	}
	p.v = v
	return p.bind.submit(ctx, store.Command{
		Op:   store.OpSet,
		Key:  key,
		Path: pointer.String(),
		Args: [][]byte{raw},
	})
}

// Fetch reads the remote value and returns it, leaving the local copy
// untouched.
func (p *Value[T]) Fetch(ctx context.Context) (T, error) {
	var zero T
	key, pointer, err := p.bind.resolve()
	if err != nil {
		return zero, err
	}
	raw, err := p.bind.backend().GetPath(ctx, key, pointer.String())
	if err != nil {
		return zero, err
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return zero, fmt.Errorf("rapyer: decode value: %w", err)
	}
	return out, nil
}

// Clone returns a detached copy: path-less, not persistable.
func (p *Value[T]) Clone() Value[T] {
	return Value[T]{v: p.v}
}

// MarshalJSON implements json.Marshaler.
func (p Value[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.v)
}

// UnmarshalJSON implements json.Unmarshaler; the binding is preserved.
func (p *Value[T]) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &p.v)
}

// Int is a numeric primitive proxy with an atomic remote increment.
type Int struct {
	Value[int64]
}

// Increase atomically adds delta remotely and returns the resulting value
// without touching the local copy. The store represents JSON numbers as
// doubles, so deltas and results beyond 2^53 in magnitude lose precision.
// Needs an immediate round trip, so it is rejected inside a pipeline.
func (p *Int) Increase(ctx context.Context, delta int64) (int64, error) {
	if err := p.bind.immediateOnly(); err != nil {
		return 0, err
	}
	key, pointer, err := p.bind.resolve()
	if err != nil {
		return 0, err
	}
	n, err := p.bind.backend().IncrBy(ctx, key, pointer.String(), float64(delta))
	if err != nil {
		return 0, err
	}
	return int64(n), nil
}

// Float64 is a numeric primitive proxy with an atomic remote increment.
type Float64 struct {
	Value[float64]
}

// Increase atomically adds delta remotely and returns the resulting value
// without touching the local copy. Rejected inside a pipeline.
func (p *Float64) Increase(ctx context.Context, delta float64) (float64, error) {
	if err := p.bind.immediateOnly(); err != nil {
		return 0, err
	}
	key, pointer, err := p.bind.resolve()
	if err != nil {
		return 0, err
	}
	return p.bind.backend().IncrBy(ctx, key, pointer.String(), delta)
}
