package rapyer_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yedidyakfir/rapyer-sub000/pkg/rapyer"
)

func TestSaveLoadRoundtrip(t *testing.T) {
	cli, _ := newTestClient(t)
	ctx := context.Background()

	u, err := rapyer.NewWithKey[User](cli, "u1")
	require.NoError(t, err)
	assert.Equal(t, "User:u1", u.Key())

	u.Name.Set("alice")
	u.Age.Set(30)
	u.Tags.Replace([]string{"go"})
	u.Meta.Replace(map[string]string{"tier": "free"})
	u.Profile.City.Set("haifa")
	require.NoError(t, u.Save(ctx))

	got, err := rapyer.Get[User](ctx, cli, "u1")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Name.Get())
	assert.Equal(t, int64(30), got.Age.Get())
	assert.Equal(t, []string{"go"}, got.Tags.Items())
	assert.Equal(t, map[string]string{"tier": "free"}, got.Meta.Items())
	assert.Equal(t, "haifa", got.Profile.City.Get())
}

func TestGetMissing(t *testing.T) {
	cli, _ := newTestClient(t)

	_, err := rapyer.Get[User](context.Background(), cli, "nope")
	assert.ErrorIs(t, err, rapyer.ErrNotFound)
}

func TestLoadIdempotent(t *testing.T) {
	cli, _ := newTestClient(t)
	ctx := context.Background()

	u := newSavedUser(t, cli, "u1")
	require.NoError(t, u.Name.Assign(ctx, "bob"))
	require.NoError(t, u.Tags.Append(ctx, "a", "b"))

	require.NoError(t, u.Load(ctx))
	first := u.Tags.Items()
	name := u.Name.Get()

	require.NoError(t, u.Load(ctx))
	assert.Equal(t, first, u.Tags.Items())
	assert.Equal(t, name, u.Name.Get())
}

func TestLoadReplacesLocalState(t *testing.T) {
	cli, _ := newTestClient(t)
	ctx := context.Background()

	u := newSavedUser(t, cli, "u1")
	require.NoError(t, u.Tags.Append(ctx, "x"))

	// Local-only edits must not survive a reload.
	u.Tags.AppendLocal("local-only")
	u.Meta.SetLocal("k", "v")

	require.NoError(t, u.Load(ctx))
	assert.Equal(t, []string{"x"}, u.Tags.Items())
	assert.Zero(t, u.Meta.Len())
}

func TestGeneratedPrimaryKey(t *testing.T) {
	cli, _ := newTestClient(t)

	a, err := rapyer.New[User](cli)
	require.NoError(t, err)
	b, err := rapyer.New[User](cli)
	require.NoError(t, err)
	assert.NotEmpty(t, a.PK())
	assert.NotEqual(t, a.PK(), b.PK())
}

func TestDesignatedPrimaryKey(t *testing.T) {
	cli, _ := newTestClient(t)
	ctx := context.Background()

	o, err := rapyer.NewWithKey[Order](cli, "ord-7")
	require.NoError(t, err)
	o.Total.Set(9.5)
	require.NoError(t, o.Save(ctx))

	got, err := rapyer.Get[Order](ctx, cli, "ord-7")
	require.NoError(t, err)
	assert.Equal(t, "ord-7", got.ID.Get())
	assert.Equal(t, "ord-7", got.PK())
}

func TestDelete(t *testing.T) {
	cli, _ := newTestClient(t)
	ctx := context.Background()

	u := newSavedUser(t, cli, "u1")
	require.NoError(t, u.Delete(ctx))

	_, err := rapyer.Get[User](ctx, cli, "u1")
	assert.ErrorIs(t, err, rapyer.ErrNotFound)
}

func TestDeleteNestedRejected(t *testing.T) {
	cli, _ := newTestClient(t)
	ctx := context.Background()

	c, err := rapyer.NewWithKey[Customer](cli, "c1")
	require.NoError(t, err)
	require.NoError(t, c.Save(ctx))

	err = c.Addr.Delete(ctx)
	assert.ErrorIs(t, err, rapyer.ErrNotTopLevel)
}

func TestNestedModelSaveNarrowsToSubPath(t *testing.T) {
	cli, _ := newTestClient(t)
	ctx := context.Background()

	c, err := rapyer.NewWithKey[Customer](cli, "c1")
	require.NoError(t, err)
	c.Name.Set("acme")
	require.NoError(t, c.Save(ctx))

	require.NoError(t, c.Addr.City.Assign(ctx, "tlv"))
	require.NoError(t, c.Addr.Save(ctx))

	got, err := rapyer.Get[Customer](ctx, cli, "c1")
	require.NoError(t, err)
	assert.Equal(t, "acme", got.Name.Get(), "parent fields untouched by nested save")
	assert.Equal(t, "tlv", got.Addr.City.Get())

	// Nested Load refreshes only the sub-document.
	require.NoError(t, c.Addr.Load(ctx))
	assert.Equal(t, "tlv", c.Addr.City.Get())
}

func TestUpdateFields(t *testing.T) {
	cli, _ := newTestClient(t)
	ctx := context.Background()

	u := newSavedUser(t, cli, "u1")
	require.NoError(t, u.UpdateFields(ctx, map[string]any{
		"name": "carol",
		"age":  int64(41),
	}))

	assert.Equal(t, "carol", u.Name.Get())
	assert.Equal(t, int64(41), u.Age.Get())

	got, err := rapyer.Get[User](ctx, cli, "u1")
	require.NoError(t, err)
	assert.Equal(t, "carol", got.Name.Get())
	assert.Equal(t, int64(41), got.Age.Get())
}

func TestUpdateFieldsInvalidAbortsAll(t *testing.T) {
	cli, _ := newTestClient(t)
	ctx := context.Background()

	o, err := rapyer.NewWithKey[Order](cli, "ord-1")
	require.NoError(t, err)
	o.Total.Set(5)
	require.NoError(t, o.Save(ctx))

	// One invalid field aborts the whole set: the valid id update must not
	// land either.
	err = o.UpdateFields(ctx, map[string]any{
		"id":    "ord-renamed",
		"total": float64(-1),
	})
	assert.ErrorIs(t, err, rapyer.ErrValidation)

	got, err := rapyer.Get[Order](ctx, cli, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, float64(5), got.Total.Get(), "failed update must not apply partially")
	assert.Equal(t, "ord-1", got.ID.Get())
	assert.Equal(t, "ord-1", o.ID.Get(), "local state untouched on abort")
}

func TestUpdateFieldsUnknownField(t *testing.T) {
	cli, _ := newTestClient(t)
	u := newSavedUser(t, cli, "u1")

	err := u.UpdateFields(context.Background(), map[string]any{"bogus": 1})
	assert.ErrorIs(t, err, rapyer.ErrValidation)
}

func TestDuplicate(t *testing.T) {
	cli, _ := newTestClient(t)
	ctx := context.Background()

	u := newSavedUser(t, cli, "u1")
	require.NoError(t, u.Name.Assign(ctx, "orig"))
	require.NoError(t, u.Tags.Append(ctx, "a"))

	clone, err := rapyer.Duplicate[User](ctx, u)
	require.NoError(t, err)
	assert.NotEqual(t, u.PK(), clone.PK())
	assert.Equal(t, "orig", clone.Name.Get())
	assert.Equal(t, []string{"a"}, clone.Tags.Items())

	// The clone is persisted under its own key.
	got, err := rapyer.Get[User](ctx, cli, clone.PK())
	require.NoError(t, err)
	assert.Equal(t, "orig", got.Name.Get())
}

func TestDuplicateMany(t *testing.T) {
	cli, _ := newTestClient(t)
	ctx := context.Background()

	u := newSavedUser(t, cli, "u1")
	require.NoError(t, u.Name.Assign(ctx, "batch"))

	clones, err := rapyer.DuplicateMany[User](ctx, u, 3)
	require.NoError(t, err)
	require.Len(t, clones, 3)

	seen := map[string]bool{u.PK(): true}
	for _, c := range clones {
		assert.False(t, seen[c.PK()], "primary keys must be fresh")
		seen[c.PK()] = true
		assert.Equal(t, "batch", c.Name.Get())
	}
}

func TestGetManyAlignsMissing(t *testing.T) {
	cli, _ := newTestClient(t)
	ctx := context.Background()

	newSavedUser(t, cli, "u1")
	newSavedUser(t, cli, "u3")

	got, err := rapyer.GetMany[User](ctx, cli, "u1", "u2", "u3")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.NotNil(t, got[0])
	assert.Nil(t, got[1])
	assert.NotNil(t, got[2])
	assert.Equal(t, "u3", got[2].PK())
}

func TestAllKeysAndAll(t *testing.T) {
	cli, _ := newTestClient(t)
	ctx := context.Background()

	newSavedUser(t, cli, "u1")
	newSavedUser(t, cli, "u2")

	o, err := rapyer.NewWithKey[Order](cli, "ord-1")
	require.NoError(t, err)
	require.NoError(t, o.Save(ctx))

	keys, err := rapyer.AllKeys[User](ctx, cli)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"User:u1", "User:u2"}, keys)

	all, err := rapyer.All[User](ctx, cli)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestInsertManyAtomic(t *testing.T) {
	cli, backend := newTestClient(t)
	ctx := context.Background()

	u1, err := rapyer.NewWithKey[User](cli, "u1")
	require.NoError(t, err)
	u2, err := rapyer.NewWithKey[User](cli, "u2")
	require.NoError(t, err)

	backend.FailNextExec(assert.AnError)
	require.Error(t, rapyer.InsertMany(ctx, cli, u1, u2))

	_, err = rapyer.Get[User](ctx, cli, "u1")
	assert.ErrorIs(t, err, rapyer.ErrNotFound, "failed batch inserts nothing")

	require.NoError(t, rapyer.InsertMany(ctx, cli, u1, u2))
	got, err := rapyer.GetMany[User](ctx, cli, "u1", "u2")
	require.NoError(t, err)
	assert.NotNil(t, got[0])
	assert.NotNil(t, got[1])
}

func TestInsertManyValidates(t *testing.T) {
	cli, _ := newTestClient(t)

	a, err := rapyer.NewWithKey[Account](cli, "a1")
	require.NoError(t, err)
	// Owner carries a required validator and is still empty.
	err = rapyer.InsertMany(context.Background(), cli, a)
	assert.ErrorIs(t, err, rapyer.ErrValidation)
}

func TestDeleteMany(t *testing.T) {
	cli, _ := newTestClient(t)
	ctx := context.Background()

	u1 := newSavedUser(t, cli, "u1")
	u2 := newSavedUser(t, cli, "u2")

	require.NoError(t, rapyer.DeleteMany(ctx, cli, u1, u2))
	remaining, err := rapyer.AllKeys[User](ctx, cli)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}
