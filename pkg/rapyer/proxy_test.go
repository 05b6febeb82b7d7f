package rapyer_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yedidyakfir/rapyer-sub000/pkg/rapyer"
	"github.com/yedidyakfir/rapyer-sub000/pkg/store"
	"github.com/yedidyakfir/rapyer-sub000/pkg/store/mock"
)

func TestValueAssignWritesThrough(t *testing.T) {
	cli, _ := newTestClient(t)
	ctx := context.Background()

	u := newSavedUser(t, cli, "u1")
	require.NoError(t, u.Name.Assign(ctx, "dana"))
	assert.Equal(t, "dana", u.Name.Get())

	got, err := rapyer.Get[User](ctx, cli, "u1")
	require.NoError(t, err)
	assert.Equal(t, "dana", got.Name.Get())
}

func TestValueFetchLeavesLocalUntouched(t *testing.T) {
	cli, _ := newTestClient(t)
	ctx := context.Background()

	u := newSavedUser(t, cli, "u1")
	require.NoError(t, u.Name.Assign(ctx, "old"))

	other, err := rapyer.Get[User](ctx, cli, "u1")
	require.NoError(t, err)
	require.NoError(t, other.Name.Assign(ctx, "new"))

	remote, err := u.Name.Fetch(ctx)
	require.NoError(t, err)
	assert.Equal(t, "new", remote)
	assert.Equal(t, "old", u.Name.Get(), "fetch must not mutate the local value")
}

func TestValueSetIsLocalOnly(t *testing.T) {
	cli, _ := newTestClient(t)
	ctx := context.Background()

	u := newSavedUser(t, cli, "u1")
	u.Name.Set("local")

	got, err := rapyer.Get[User](ctx, cli, "u1")
	require.NoError(t, err)
	assert.Empty(t, got.Name.Get())
}

func TestValueCloneDetached(t *testing.T) {
	cli, _ := newTestClient(t)
	ctx := context.Background()

	u := newSavedUser(t, cli, "u1")
	require.NoError(t, u.Name.Assign(ctx, "orig"))

	clone := u.Name.Clone()
	assert.Equal(t, "orig", clone.Get())
	clone.Set("changed")
	assert.Equal(t, "orig", u.Name.Get())

	err := clone.Assign(ctx, "x")
	assert.ErrorIs(t, err, rapyer.ErrDetached)
	_, err = clone.Fetch(ctx)
	assert.ErrorIs(t, err, rapyer.ErrDetached)
}

func TestIntIncrease(t *testing.T) {
	cli, _ := newTestClient(t)
	ctx := context.Background()

	u := newSavedUser(t, cli, "u1")
	require.NoError(t, u.Age.Assign(ctx, 10))

	got, err := u.Age.Increase(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(15), got)
	assert.Equal(t, int64(10), u.Age.Get(), "increase returns the remote result without touching the local value")

	require.NoError(t, u.Load(ctx))
	assert.Equal(t, int64(15), u.Age.Get())
}

func TestIntIncreaseExactWithinDoubleRange(t *testing.T) {
	cli, _ := newTestClient(t)
	ctx := context.Background()

	u := newSavedUser(t, cli, "u1")
	require.NoError(t, u.Age.Assign(ctx, 1))

	// Integers up to 2^53 survive the double representation exactly; the
	// documented contract promises no more than that.
	got, err := u.Age.Increase(ctx, int64(1)<<52)
	require.NoError(t, err)
	assert.Equal(t, int64(1)<<52+1, got)
}

func TestFloat64Increase(t *testing.T) {
	cli, _ := newTestClient(t)
	ctx := context.Background()

	u := newSavedUser(t, cli, "u1")
	require.NoError(t, u.Score.Assign(ctx, 1.5))

	got, err := u.Score.Increase(ctx, 0.25)
	require.NoError(t, err)
	assert.Equal(t, 1.75, got)
}

func TestListAppendReplay(t *testing.T) {
	cli, _ := newTestClient(t)
	ctx := context.Background()

	u := newSavedUser(t, cli, "u1")
	require.NoError(t, u.Tags.Append(ctx, "python"))
	require.NoError(t, u.Tags.Append(ctx, "redis"))
	assert.Equal(t, []string{"python", "redis"}, u.Tags.Items())

	fresh, err := rapyer.Get[User](ctx, cli, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"python", "redis"}, fresh.Tags.Items())
}

func TestListExtendAndInsert(t *testing.T) {
	cli, _ := newTestClient(t)
	ctx := context.Background()

	u := newSavedUser(t, cli, "u1")
	require.NoError(t, u.Tags.Extend(ctx, []string{"a", "c"}))
	require.NoError(t, u.Tags.Insert(ctx, 1, "b"))
	assert.Equal(t, []string{"a", "b", "c"}, u.Tags.Items())

	require.NoError(t, u.Load(ctx))
	assert.Equal(t, []string{"a", "b", "c"}, u.Tags.Items())
}

func TestListPop(t *testing.T) {
	cli, _ := newTestClient(t)
	ctx := context.Background()

	u := newSavedUser(t, cli, "u1")
	require.NoError(t, u.Tags.Extend(ctx, []string{"a", "b", "c"}))

	v, err := u.Tags.Pop(ctx, -1)
	require.NoError(t, err)
	assert.Equal(t, "c", v)

	v, err = u.Tags.Pop(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, "a", v)
	assert.Equal(t, []string{"b"}, u.Tags.Items())

	require.NoError(t, u.Load(ctx))
	assert.Equal(t, []string{"b"}, u.Tags.Items())
}

func TestListPopEmpty(t *testing.T) {
	cli, _ := newTestClient(t)

	u := newSavedUser(t, cli, "u1")
	_, err := u.Tags.Pop(context.Background(), -1)
	assert.ErrorIs(t, err, rapyer.ErrEmptyCollection)
}

func TestListClear(t *testing.T) {
	cli, _ := newTestClient(t)
	ctx := context.Background()

	u := newSavedUser(t, cli, "u1")
	require.NoError(t, u.Tags.Extend(ctx, []string{"a", "b"}))
	require.NoError(t, u.Tags.Clear(ctx))
	assert.Zero(t, u.Tags.Len())

	require.NoError(t, u.Load(ctx))
	assert.Zero(t, u.Tags.Len())
}

func TestListLocalHelpers(t *testing.T) {
	var l rapyer.List[int]
	l.Replace([]int{1, 2, 3})

	v, ok := l.At(-1)
	assert.True(t, ok)
	assert.Equal(t, 3, v)
	_, ok = l.At(5)
	assert.False(t, ok)

	require.NoError(t, l.SetAt(0, 10))
	assert.Equal(t, []int{10, 2, 3}, l.Items())
	assert.Error(t, l.SetAt(9, 0))

	c := l.Clone()
	c.AppendLocal(4)
	assert.Equal(t, 3, l.Len())
	assert.Equal(t, 4, c.Len())
}

func TestDictSetAndDelete(t *testing.T) {
	cli, _ := newTestClient(t)
	ctx := context.Background()

	u := newSavedUser(t, cli, "u1")
	require.NoError(t, u.Meta.Set(ctx, "tier", "pro"))
	require.NoError(t, u.Meta.Set(ctx, "region", "eu"))

	fresh, err := rapyer.Get[User](ctx, cli, "u1")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"tier": "pro", "region": "eu"}, fresh.Meta.Items())

	require.NoError(t, u.Meta.Delete(ctx, "region"))
	require.NoError(t, u.Load(ctx))
	assert.Equal(t, map[string]string{"tier": "pro"}, u.Meta.Items())
}

func TestDictUpdateMerges(t *testing.T) {
	cli, _ := newTestClient(t)
	ctx := context.Background()

	u := newSavedUser(t, cli, "u1")
	require.NoError(t, u.Meta.Set(ctx, "a", "1"))
	require.NoError(t, u.Meta.Update(ctx, map[string]string{"b": "2", "c": "3"}))

	require.NoError(t, u.Load(ctx))
	assert.Equal(t, map[string]string{"a": "1", "b": "2", "c": "3"}, u.Meta.Items())
}

func TestDictPop(t *testing.T) {
	cli, _ := newTestClient(t)
	ctx := context.Background()

	u := newSavedUser(t, cli, "u1")
	require.NoError(t, u.Meta.Set(ctx, "k", "v"))

	v, err := u.Meta.Pop(ctx, "k", nil)
	require.NoError(t, err)
	assert.Equal(t, "v", v)

	require.NoError(t, u.Load(ctx))
	_, ok := u.Meta.Get("k")
	assert.False(t, ok)
}

func TestDictPopMissing(t *testing.T) {
	cli, _ := newTestClient(t)
	ctx := context.Background()

	u := newSavedUser(t, cli, "u1")

	_, err := u.Meta.Pop(ctx, "absent", nil)
	assert.ErrorIs(t, err, rapyer.ErrKeyNotFound)

	def := "fallback"
	v, err := u.Meta.Pop(ctx, "absent", &def)
	require.NoError(t, err)
	assert.Equal(t, "fallback", v)
}

func TestDictPopItem(t *testing.T) {
	cli, _ := newTestClient(t)
	ctx := context.Background()

	u := newSavedUser(t, cli, "u1")
	require.NoError(t, u.Meta.Set(ctx, "only", "one"))

	k, v, err := u.Meta.PopItem(ctx)
	require.NoError(t, err)
	assert.Equal(t, "only", k)
	assert.Equal(t, "one", v)

	_, _, err = u.Meta.PopItem(ctx)
	assert.ErrorIs(t, err, rapyer.ErrEmptyCollection)
}

// tracingBackend counts the store calls the proxies make.
type tracingBackend struct {
	store.Backend
	mu      sync.Mutex
	getPath int
	apply   int
	objPop  int
}

func (b *tracingBackend) GetPath(ctx context.Context, key, path string) ([]byte, error) {
	b.mu.Lock()
	b.getPath++
	b.mu.Unlock()
	return b.Backend.GetPath(ctx, key, path)
}

func (b *tracingBackend) Apply(ctx context.Context, cmd store.Command) error {
	b.mu.Lock()
	b.apply++
	b.mu.Unlock()
	return b.Backend.Apply(ctx, cmd)
}

func (b *tracingBackend) ObjPop(ctx context.Context, key, path, field string) (string, []byte, error) {
	b.mu.Lock()
	b.objPop++
	b.mu.Unlock()
	return b.Backend.ObjPop(ctx, key, path, field)
}

func TestDictPopIsOneStoreOperation(t *testing.T) {
	tracing := &tracingBackend{Backend: mock.New()}
	cli := rapyer.NewClient(tracing)
	ctx := context.Background()

	u := newSavedUser(t, cli, "u1")
	require.NoError(t, u.Meta.Update(ctx, map[string]string{"k": "v", "other": "kept"}))

	tracing.mu.Lock()
	tracing.getPath, tracing.apply, tracing.objPop = 0, 0, 0
	tracing.mu.Unlock()

	v, err := u.Meta.Pop(ctx, "k", nil)
	require.NoError(t, err)
	assert.Equal(t, "v", v)

	// A separate read followed by a delete would leave a window where a
	// concurrent write to the key is silently destroyed.
	tracing.mu.Lock()
	defer tracing.mu.Unlock()
	assert.Equal(t, 1, tracing.objPop)
	assert.Zero(t, tracing.getPath)
	assert.Zero(t, tracing.apply)
}

func TestDictPopItemConcurrentCallersGetDistinctEntries(t *testing.T) {
	cli, _ := newTestClient(t)
	ctx := context.Background()

	u := newSavedUser(t, cli, "u1")
	require.NoError(t, u.Meta.Update(ctx, map[string]string{"a": "1", "b": "2"}))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = map[string]string{}
		errs []error
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			other, err := rapyer.Get[User](ctx, cli, "u1")
			if err == nil {
				var k, v string
				k, v, err = other.Meta.PopItem(ctx)
				if err == nil {
					mu.Lock()
					seen[k] = v
					mu.Unlock()
				}
			}
			if err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Empty(t, errs)
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, seen)

	require.NoError(t, u.Load(ctx))
	assert.Zero(t, u.Meta.Len())
}

func TestDictClear(t *testing.T) {
	cli, _ := newTestClient(t)
	ctx := context.Background()

	u := newSavedUser(t, cli, "u1")
	require.NoError(t, u.Meta.Update(ctx, map[string]string{"a": "1", "b": "2"}))
	require.NoError(t, u.Meta.Clear(ctx))

	require.NoError(t, u.Load(ctx))
	assert.Zero(t, u.Meta.Len())
}

func TestDetachedProxiesReject(t *testing.T) {
	ctx := context.Background()

	var v rapyer.Value[string]
	assert.ErrorIs(t, v.Assign(ctx, "x"), rapyer.ErrDetached)

	var l rapyer.List[string]
	assert.ErrorIs(t, l.Append(ctx, "x"), rapyer.ErrDetached)
	_, err := l.Pop(ctx, 0)
	assert.ErrorIs(t, err, rapyer.ErrDetached)

	var d rapyer.Dict[string]
	assert.ErrorIs(t, d.Set(ctx, "k", "v"), rapyer.ErrDetached)
	_, _, err = d.PopItem(ctx)
	assert.ErrorIs(t, err, rapyer.ErrDetached)
}
