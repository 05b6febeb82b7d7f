// Package mock implements an in-memory Backend with the same semantics as
// the Redis implementation: per-path JSON operations, all-or-nothing Exec
// batches, and expiring locks. Intended for tests and local development.
package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/yedidyakfir/rapyer-sub000/internal/jsonpath"
	"github.com/yedidyakfir/rapyer-sub000/pkg/store"
)

type lockEntry struct {
	token     string
	expiresAt time.Time
}

func (l lockEntry) expired(now time.Time) bool {
	return !l.expiresAt.IsZero() && now.After(l.expiresAt)
}

// Mock is an in-memory document store.
type Mock struct {
	mu       sync.RWMutex
	docs     map[string]any
	locks    map[string]lockEntry
	now      func() time.Time
	failExec error
}

// Option configures the mock instance.
type Option func(*Mock)

// WithClock overrides the clock used for lock expiry (useful in tests).
func WithClock(fn func() time.Time) Option {
	return func(m *Mock) {
		if fn != nil {
			m.now = fn
		}
	}
}

// New creates an empty mock store.
func New(opts ...Option) *Mock {
	m := &Mock{
		docs:  make(map[string]any),
		locks: make(map[string]lockEntry),
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

var _ store.Backend = (*Mock)(nil)

// FailNextExec makes the next Exec or Apply call fail with err, applying
// nothing. Used to exercise batch atomicity.
func (m *Mock) FailNextExec(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failExec = err
}

func (m *Mock) clock() time.Time {
	if m.now == nil {
		return time.Now().UTC()
	}
	return m.now()
}

func (m *Mock) GetDoc(ctx context.Context, key string) ([]byte, error) {
	return m.GetPath(ctx, key, "$")
}

func (m *Mock) GetPath(ctx context.Context, key, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	steps, err := jsonpath.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("mock store: %w", err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.docs[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	node, err := jsonpath.Get(doc, steps)
	if err != nil {
		return nil, store.ErrNotFound
	}
	data, err := json.Marshal(node)
	if err != nil {
		return nil, fmt.Errorf("mock store: encode value: %w", err)
	}
	return data, nil
}

func (m *Mock) MGetDocs(ctx context.Context, keys ...string) ([][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([][]byte, len(keys))
	for i, key := range keys {
		doc, ok := m.docs[key]
		if !ok {
			continue
		}
		data, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("mock store: encode document %q: %w", key, err)
		}
		out[i] = data
	}
	return out, nil
}

func (m *Mock) Keys(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.docs))
	for key := range m.docs {
		if prefix == "" || strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *Mock) ObjKeys(ctx context.Context, key, path string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	steps, err := jsonpath.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("mock store: %w", err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.docs[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	keys, err := jsonpath.ObjKeys(doc, steps)
	if err != nil {
		return nil, store.ErrNotFound
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *Mock) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.docs[key]
	return ok, nil
}

func (m *Mock) IncrBy(ctx context.Context, key, path string, delta float64) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	steps, err := jsonpath.Parse(path)
	if err != nil {
		return 0, fmt.Errorf("mock store: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.docs[key]
	if !ok {
		return 0, store.ErrNotFound
	}
	root, n, err := jsonpath.IncrBy(doc, steps, delta)
	if err != nil {
		return 0, store.ErrNotFound
	}
	m.docs[key] = root
	return n, nil
}

func (m *Mock) ArrPop(ctx context.Context, key, path string, index int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	steps, err := jsonpath.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("mock store: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.docs[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	root, popped, nonEmpty, err := jsonpath.Pop(doc, steps, index)
	if err != nil {
		return nil, store.ErrNotFound
	}
	if !nonEmpty {
		return nil, store.ErrEmpty
	}
	m.docs[key] = root
	data, err := json.Marshal(popped)
	if err != nil {
		return nil, fmt.Errorf("mock store: encode popped value: %w", err)
	}
	return data, nil
}

func (m *Mock) ObjPop(ctx context.Context, key, path, field string) (string, []byte, error) {
	if err := ctx.Err(); err != nil {
		return "", nil, err
	}
	steps, err := jsonpath.Parse(path)
	if err != nil {
		return "", nil, fmt.Errorf("mock store: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.docs[key]
	if !ok {
		return "", nil, store.ErrNotFound
	}
	node, err := jsonpath.Get(doc, steps)
	if err != nil {
		return "", nil, store.ErrNotFound
	}
	obj, ok := node.(map[string]any)
	if !ok {
		return "", nil, store.ErrNotFound
	}
	if field == "" {
		if len(obj) == 0 {
			return "", nil, store.ErrEmpty
		}
		keys := make([]string, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		field = keys[0]
	}
	v, ok := obj[field]
	if !ok {
		return "", nil, store.ErrNotFound
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", nil, fmt.Errorf("mock store: encode popped value: %w", err)
	}
	delete(obj, field)
	return field, data, nil
}

func (m *Mock) Apply(ctx context.Context, cmd store.Command) error {
	return m.Exec(ctx, cmd)
}

// Exec stages every command against copies of the touched documents and
// swaps them in only when all commands apply, so a failing batch has zero
// effect.
func (m *Mock) Exec(ctx context.Context, cmds ...store.Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(cmds) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failExec != nil {
		err := m.failExec
		m.failExec = nil
		return fmt.Errorf("%w: %v", store.ErrTransport, err)
	}

	staged := make(map[string]any)
	deleted := make(map[string]bool)
	fetch := func(key string) (any, bool) {
		if deleted[key] {
			return nil, false
		}
		if doc, ok := staged[key]; ok {
			return doc, true
		}
		doc, ok := m.docs[key]
		if !ok {
			return nil, false
		}
		copied, err := deepCopy(doc)
		if err != nil {
			return nil, false
		}
		staged[key] = copied
		return copied, true
	}

	for _, cmd := range cmds {
		if err := applyStaged(cmd, fetch, staged, deleted); err != nil {
			return err
		}
	}

	for key, doc := range staged {
		if !deleted[key] {
			m.docs[key] = doc
		}
	}
	for key, gone := range deleted {
		if gone {
			delete(m.docs, key)
		}
	}
	return nil
}

func applyStaged(cmd store.Command, fetch func(string) (any, bool), staged map[string]any, deleted map[string]bool) error {
	// OpDelDoc addresses the whole document; its path, if any, is ignored.
	if cmd.Op == store.OpDelDoc {
		deleted[cmd.Key] = true
		delete(staged, cmd.Key)
		return nil
	}

	steps, err := jsonpath.Parse(cmd.Path)
	if err != nil {
		return fmt.Errorf("mock store: %w", err)
	}

	switch cmd.Op {
	case store.OpSet:
		var value any
		if err := json.Unmarshal(cmd.Args[0], &value); err != nil {
			return fmt.Errorf("mock store: decode value: %w", err)
		}
		doc, ok := fetch(cmd.Key)
		if !ok {
			if len(steps) > 0 {
				return store.ErrNotFound
			}
			staged[cmd.Key] = value
			delete(deleted, cmd.Key)
			return nil
		}
		root, err := jsonpath.Set(doc, steps, value)
		if err != nil {
			return store.ErrNotFound
		}
		staged[cmd.Key] = root
		delete(deleted, cmd.Key)
		return nil

	case store.OpDel:
		doc, ok := fetch(cmd.Key)
		if !ok {
			return nil
		}
		root, _ := jsonpath.Delete(doc, steps)
		if root == nil {
			deleted[cmd.Key] = true
			return nil
		}
		staged[cmd.Key] = root
		return nil

	case store.OpArrAppend, store.OpArrInsert:
		values, err := decodeArgs(cmd.Args)
		if err != nil {
			return err
		}
		doc, ok := fetch(cmd.Key)
		if !ok {
			return store.ErrNotFound
		}
		var root any
		if cmd.Op == store.OpArrAppend {
			root, err = jsonpath.Append(doc, steps, values...)
		} else {
			root, err = jsonpath.Insert(doc, steps, cmd.Index, values...)
		}
		if err != nil {
			return store.ErrNotFound
		}
		staged[cmd.Key] = root
		return nil

	case store.OpClear:
		doc, ok := fetch(cmd.Key)
		if !ok {
			return store.ErrNotFound
		}
		root, err := jsonpath.Clear(doc, steps)
		if err != nil {
			return store.ErrNotFound
		}
		staged[cmd.Key] = root
		return nil

	case store.OpMerge:
		var value map[string]any
		if err := json.Unmarshal(cmd.Args[0], &value); err != nil {
			return fmt.Errorf("mock store: decode merge value: %w", err)
		}
		doc, ok := fetch(cmd.Key)
		if !ok {
			return store.ErrNotFound
		}
		root, err := jsonpath.Merge(doc, steps, value)
		if err != nil {
			return store.ErrNotFound
		}
		staged[cmd.Key] = root
		return nil

	default:
		return fmt.Errorf("mock store: unknown op %d", cmd.Op)
	}
}

func decodeArgs(args [][]byte) ([]any, error) {
	values := make([]any, len(args))
	for i, a := range args {
		if err := json.Unmarshal(a, &values[i]); err != nil {
			return nil, fmt.Errorf("mock store: decode value: %w", err)
		}
	}
	return values, nil
}

func deepCopy(doc any) (any, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *Mock) AcquireLock(ctx context.Context, lockKey, token string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	if held, ok := m.locks[lockKey]; ok && !held.expired(now) {
		return false, nil
	}
	entry := lockEntry{token: token}
	if ttl > 0 {
		entry.expiresAt = now.Add(ttl)
	}
	m.locks[lockKey] = entry
	return true, nil
}

func (m *Mock) ReleaseLock(ctx context.Context, lockKey, token string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if held, ok := m.locks[lockKey]; ok && held.token == token {
		delete(m.locks, lockKey)
	}
	return nil
}
