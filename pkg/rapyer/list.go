package rapyer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/yedidyakfir/rapyer-sub000/pkg/store"
)

// List is the ordered-sequence field proxy. The *Local methods and SetAt
// mutate only the local copy, so native slice idioms stay free of network
// calls; Append/Extend/Insert/Pop/Clear also issue (or queue) the matching
// atomic remote command. Field validators run against individual elements.
type List[T any] struct {
	items []T
	bind  *binding
}

func (p *List[T]) attach(b *binding) { p.bind = b }
func (p *List[T]) resetLocal()       { p.items = nil }
func (p *List[T]) localValue() any   { return p.items }
func (p *List[T]) isSequence()       {}

// Len returns the local element count.
func (p *List[T]) Len() int { return len(p.items) }

// At returns the element at index; negative indices count from the end.
func (p *List[T]) At(index int) (T, bool) {
	var zero T
	i := normIndex(index, len(p.items))
	if i < 0 || i >= len(p.items) {
		return zero, false
	}
	return p.items[i], true
}

// Items returns a copy of the local elements.
func (p *List[T]) Items() []T {
	return append([]T(nil), p.items...)
}

// SetAt assigns the element at index locally, without a remote write.
func (p *List[T]) SetAt(index int, v T) error {
	i := normIndex(index, len(p.items))
	if i < 0 || i >= len(p.items) {
		return fmt.Errorf("rapyer: index %d out of range for length %d", index, len(p.items))
	}
	p.items[i] = v
	return nil
}

// AppendLocal appends locally, without a remote write.
func (p *List[T]) AppendLocal(vs ...T) {
	p.items = append(p.items, vs...)
}

// Replace swaps the whole local slice, without a remote write.
func (p *List[T]) Replace(items []T) {
	p.items = append([]T(nil), items...)
}

// Clone returns a detached copy: path-less, not persistable.
func (p *List[T]) Clone() List[T] {
	return List[T]{items: append([]T(nil), p.items...)}
}

// Append validates the elements, appends locally, and issues one atomic
// remote append (queued when a pipeline is open).
func (p *List[T]) Append(ctx context.Context, vs ...T) error {
	if len(vs) == 0 {
		return nil
	}
	norm, raws, err := p.encodeElems(vs)
	if err != nil {
		return err
	}
	key, pointer, err := p.bind.resolve()
	if err != nil {
		return err
	}
	p.items = append(p.items, norm...)
	return p.bind.submit(ctx, store.Command{
		Op:   store.OpArrAppend,
		Key:  key,
		Path: pointer.String(),
		Args: raws,
	})
}

// Extend is Append over a slice.
func (p *List[T]) Extend(ctx context.Context, vs []T) error {
	return p.Append(ctx, vs...)
}

// Insert validates v and places it before index locally and remotely in one
// atomic command. Negative indices count from the end.
func (p *List[T]) Insert(ctx context.Context, index int, v T) error {
	norm, raws, err := p.encodeElems([]T{v})
	if err != nil {
		return err
	}
	i := normIndex(index, len(p.items))
	if i < 0 || i > len(p.items) {
		return fmt.Errorf("rapyer: index %d out of range for length %d", index, len(p.items))
	}
	key, pointer, err := p.bind.resolve()
	if err != nil {
		return err
	}
	p.items = append(p.items[:i], append([]T{norm[0]}, p.items[i:]...)...)
	return p.bind.submit(ctx, store.Command{
		Op:    store.OpArrInsert,
		Key:   key,
		Path:  pointer.String(),
		Args:  raws,
		Index: index,
	})
}

// Pop atomically removes and returns the element at index remotely and
// mirrors the removal locally. Negative indices count from the end (-1 pops
// the last element). Popping an empty sequence fails ErrEmptyCollection.
// Needs an immediate round trip, so it is rejected inside a pipeline.
func (p *List[T]) Pop(ctx context.Context, index int) (T, error) {
	var zero T
	if err := p.bind.immediateOnly(); err != nil {
		return zero, err
	}
	if len(p.items) == 0 {
		return zero, ErrEmptyCollection
	}
	key, pointer, err := p.bind.resolve()
	if err != nil {
		return zero, err
	}
	raw, err := p.bind.backend().ArrPop(ctx, key, pointer.String(), index)
	if err != nil {
		if errors.Is(err, store.ErrEmpty) {
			return zero, ErrEmptyCollection
		}
		return zero, err
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return zero, fmt.Errorf("rapyer: decode popped element: %w", err)
	}
	if i := normIndex(index, len(p.items)); i >= 0 && i < len(p.items) {
		p.items = append(p.items[:i], p.items[i+1:]...)
	}
	return out, nil
}

// Clear empties the sequence locally and remotely (queued when a pipeline
// is open).
func (p *List[T]) Clear(ctx context.Context) error {
	key, pointer, err := p.bind.resolve()
	if err != nil {
		return err
	}
	p.items = p.items[:0]
	return p.bind.submit(ctx, store.Command{
		Op:   store.OpClear,
		Key:  key,
		Path: pointer.String(),
	})
}

// encodeElems validates and encodes the elements, returning the normalized
// copies alongside their encodings. The caller's slice is left untouched.
func (p *List[T]) encodeElems(vs []T) ([]T, [][]byte, error) {
	norm := make([]T, len(vs))
	raws := make([][]byte, len(vs))
	for i, v := range vs {
		validated, err := p.bind.validate(v)
		if err != nil {
			return nil, nil, err
		}
		norm[i] = v
		if vv, ok := validated.(T); ok {
			norm[i] = vv
		}
		raw, err := json.Marshal(norm[i])
		if err != nil {
			return nil, nil, fmt.Errorf("rapyer: encode element: %w", err)
		}
		raws[i] = raw
	}
	return norm, raws, nil
}

// MarshalJSON implements json.Marshaler; an empty list encodes as [].
func (p List[T]) MarshalJSON() ([]byte, error) {
	if p.items == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(p.items)
}

// UnmarshalJSON implements json.Unmarshaler; the binding is preserved.
func (p *List[T]) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &p.items)
}

func normIndex(i, n int) int {
	if i < 0 {
		return n + i
	}
	return i
}
