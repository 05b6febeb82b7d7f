package rapyer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/yedidyakfir/rapyer-sub000/pkg/store"
)

// Dict is the string-keyed mapping field proxy. The *Local methods mutate
// only the local copy; Set/Delete/Update/Pop/PopItem/Clear also issue (or
// queue) the matching atomic remote command. Field validators run against
// individual values.
type Dict[V any] struct {
	items map[string]V
	bind  *binding
}

func (p *Dict[V]) attach(b *binding) { p.bind = b }
func (p *Dict[V]) resetLocal()       { p.items = nil }
func (p *Dict[V]) localValue() any   { return p.items }
func (p *Dict[V]) isMapping()        {}

// Len returns the local entry count.
func (p *Dict[V]) Len() int { return len(p.items) }

// Get returns the local value for key.
func (p *Dict[V]) Get(key string) (V, bool) {
	v, ok := p.items[key]
	return v, ok
}

// Keys returns the local keys, sorted.
func (p *Dict[V]) Keys() []string {
	keys := make([]string, 0, len(p.items))
	for k := range p.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Items returns a copy of the local entries.
func (p *Dict[V]) Items() map[string]V {
	out := make(map[string]V, len(p.items))
	for k, v := range p.items {
		out[k] = v
	}
	return out
}

// SetLocal assigns an entry locally, without a remote write.
func (p *Dict[V]) SetLocal(key string, v V) {
	if p.items == nil {
		p.items = make(map[string]V)
	}
	p.items[key] = v
}

// DeleteLocal removes an entry locally, without a remote write.
func (p *Dict[V]) DeleteLocal(key string) {
	delete(p.items, key)
}

// Replace swaps the whole local mapping, without a remote write.
func (p *Dict[V]) Replace(items map[string]V) {
	p.items = make(map[string]V, len(items))
	for k, v := range items {
		p.items[k] = v
	}
}

// Clone returns a detached copy: path-less, not persistable.
func (p *Dict[V]) Clone() Dict[V] {
	out := Dict[V]{items: make(map[string]V, len(p.items))}
	for k, v := range p.items {
		out.items[k] = v
	}
	return out
}

// Set validates v and assigns the entry locally and remotely (queued when a
// pipeline is open).
func (p *Dict[V]) Set(ctx context.Context, key string, v V) error {
	validated, err := p.bind.validate(v)
	if err != nil {
		return err
	}
	if vv, ok := validated.(V); ok {
		v = vv
	}
	docKey, pointer, err := p.bind.resolve()
	if err != nil {
		return err
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("rapyer: encode value: %w", err)
	}
	p.SetLocal(key, v)
	return p.bind.submit(ctx, store.Command{
		Op:   store.OpSet,
		Key:  docKey,
		Path: pointer.Child(key).String(),
		Args: [][]byte{raw},
	})
}

// Delete removes the entry locally and remotely; removing a missing key is
// not an error.
func (p *Dict[V]) Delete(ctx context.Context, key string) error {
	docKey, pointer, err := p.bind.resolve()
	if err != nil {
		return err
	}
	delete(p.items, key)
	return p.bind.submit(ctx, store.Command{
		Op:   store.OpDel,
		Key:  docKey,
		Path: pointer.Child(key).String(),
	})
}

// Update validates every value first, then merges the entries locally and
// remotely as one atomic command.
func (p *Dict[V]) Update(ctx context.Context, entries map[string]V) error {
	if len(entries) == 0 {
		return nil
	}
	merged := make(map[string]V, len(entries))
	for k, v := range entries {
		validated, err := p.bind.validate(v)
		if err != nil {
			return err
		}
		if vv, ok := validated.(V); ok {
			v = vv
		}
		merged[k] = v
	}
	docKey, pointer, err := p.bind.resolve()
	if err != nil {
		return err
	}
	raw, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("rapyer: encode entries: %w", err)
	}
	for k, v := range merged {
		p.SetLocal(k, v)
	}
	return p.bind.submit(ctx, store.Command{
		Op:   store.OpMerge,
		Key:  docKey,
		Path: pointer.String(),
		Args: [][]byte{raw},
	})
}

// Pop removes and returns the remote value for key, mirroring the removal
// locally. Read and delete happen as one store operation, so a concurrent
// write to the key either survives untouched or is the value returned. A
// missing key returns *def when supplied and fails ErrKeyNotFound otherwise.
// Needs an immediate round trip, so it is rejected inside a pipeline.
func (p *Dict[V]) Pop(ctx context.Context, key string, def *V) (V, error) {
	var zero V
	if err := p.bind.immediateOnly(); err != nil {
		return zero, err
	}
	docKey, pointer, err := p.bind.resolve()
	if err != nil {
		return zero, err
	}
	_, raw, err := p.bind.backend().ObjPop(ctx, docKey, pointer.String(), key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			if def != nil {
				return *def, nil
			}
			return zero, ErrKeyNotFound
		}
		return zero, err
	}
	var out V
	if err := json.Unmarshal(raw, &out); err != nil {
		return zero, fmt.Errorf("rapyer: decode value: %w", err)
	}
	delete(p.items, key)
	return out, nil
}

// PopItem removes and returns an arbitrary remaining entry, mirroring the
// removal locally. Selection and removal happen as one store operation, so
// concurrent callers never receive the same entry. An empty mapping fails
// ErrEmptyCollection. Rejected inside a pipeline.
func (p *Dict[V]) PopItem(ctx context.Context) (string, V, error) {
	var zero V
	if err := p.bind.immediateOnly(); err != nil {
		return "", zero, err
	}
	docKey, pointer, err := p.bind.resolve()
	if err != nil {
		return "", zero, err
	}
	key, raw, err := p.bind.backend().ObjPop(ctx, docKey, pointer.String(), "")
	if err != nil {
		if errors.Is(err, store.ErrEmpty) || errors.Is(err, store.ErrNotFound) {
			return "", zero, ErrEmptyCollection
		}
		return "", zero, err
	}
	var v V
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", zero, fmt.Errorf("rapyer: decode value: %w", err)
	}
	delete(p.items, key)
	return key, v, nil
}

// Clear empties the mapping locally and remotely (queued when a pipeline is
// open).
func (p *Dict[V]) Clear(ctx context.Context) error {
	docKey, pointer, err := p.bind.resolve()
	if err != nil {
		return err
	}
	p.items = make(map[string]V)
	return p.bind.submit(ctx, store.Command{
		Op:   store.OpClear,
		Key:  docKey,
		Path: pointer.String(),
	})
}

// MarshalJSON implements json.Marshaler; an empty mapping encodes as {}.
func (p Dict[V]) MarshalJSON() ([]byte, error) {
	if p.items == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(p.items)
}

// UnmarshalJSON implements json.Unmarshaler; the binding is preserved.
func (p *Dict[V]) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &p.items)
}
