package rapyer

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"

	"github.com/google/uuid"

	"github.com/yedidyakfir/rapyer-sub000/pkg/store"
)

// Client binds models to a store backend.
type Client struct {
	backend store.Backend
}

// NewClient wraps a store backend.
func NewClient(b store.Backend) *Client {
	return &Client{backend: b}
}

// Backend exposes the underlying transport.
func (c *Client) Backend() store.Backend {
	return c.backend
}

// Model is implemented by every struct embedding Base.
type Model interface {
	base() *Base
}

// Base is embedded (value, with json:"-") in model structs. It carries the
// document identity and the non-owning links that make a struct instance a
// live model: client, parent pointer for nested models, and the open
// pipeline session, if any. A model instance is an unsynchronized private
// cache of its document; share documents between goroutines, not instances.
type Base struct {
	cli    *Client
	info   *modelInfo
	pk     string
	parent *Base
	path   Path
	pipe   *Pipeline
	self   any // pointer to the concrete struct
}

func (b *Base) base() *Base { return b }

func (b *Base) topmost() *Base {
	m := b
	for m.parent != nil {
		m = m.parent
	}
	return m
}

func (b *Base) structValue() reflect.Value {
	return reflect.ValueOf(b.self).Elem()
}

// PK returns the primary key: the designated key field's current value, or
// the identifier generated at construction.
func (b *Base) PK() string {
	if b.info != nil && b.info.pkPlan != nil {
		fv := b.structValue().FieldByIndex(b.info.pkPlan.index)
		if fv.Kind() == reflect.String {
			return fv.String()
		}
		if g, ok := fv.Addr().Interface().(interface{ Get() string }); ok {
			return g.Get()
		}
	}
	return b.pk
}

// Key returns the document key, "{TypeName}:{PrimaryKey}". For a nested
// model this is the nested record's own key, used for independent locking.
func (b *Base) Key() string {
	return b.info.name + ":" + b.PK()
}

// IsNested reports whether this model lives inside another document.
func (b *Base) IsNested() bool {
	return b.parent != nil
}

func (b *Base) client() *Client {
	return b.topmost().cli
}

// New constructs a model bound to cli with a generated primary key (or an
// empty designated key field, to be assigned by the caller).
func New[T any](cli *Client) (*T, error) {
	return NewWithKey[T](cli, "")
}

// NewWithKey constructs a model with an explicit primary key.
func NewWithKey[T any](cli *Client, pk string) (*T, error) {
	var zero T
	t := reflect.TypeOf(zero)
	if t == nil || t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("rapyer: model type must be a struct, got %T", zero)
	}
	info, err := infoOf(t)
	if err != nil {
		return nil, err
	}
	m, err := newModelValue(info, cli, pk)
	if err != nil {
		return nil, err
	}
	return any(m).(*T), nil
}

func newModelValue(info *modelInfo, cli *Client, pk string) (Model, error) {
	if cli == nil {
		return nil, fmt.Errorf("rapyer: client is nil")
	}
	pv := reflect.New(info.typ)
	m, ok := pv.Interface().(Model)
	if !ok {
		return nil, fmt.Errorf("rapyer: %s does not embed rapyer.Base", info.typ)
	}
	b := m.base()
	initModel(b, cli, info, pv.Interface(), pk)
	attachModel(b, pv.Elem(), info)
	return m, nil
}

func initModel(b *Base, cli *Client, info *modelInfo, self any, pk string) {
	b.cli = cli
	b.info = info
	b.self = self
	if info.pkPlan != nil {
		if pk != "" {
			setStringField(b.structValue().FieldByIndex(info.pkPlan.index), pk)
		}
		return
	}
	if pk == "" {
		pk = uuid.NewString()
	}
	b.pk = pk
}

func setStringField(fv reflect.Value, s string) {
	if fv.Kind() == reflect.String {
		fv.SetString(s)
		return
	}
	if setter, ok := fv.Addr().Interface().(interface{ Set(string) }); ok {
		setter.Set(s)
	}
}

// attachModel wires every proxy field to its binding and initialises nested
// models. Reassigning a proxy field wholesale detaches it; use the proxy's
// mutation methods instead.
func attachModel(b *Base, v reflect.Value, info *modelInfo) {
	for _, plan := range info.plans {
		fv := v.FieldByIndex(plan.index)
		switch plan.kind {
		case planProxy:
			fv.Addr().Interface().(attachable).attach(&binding{
				root: b,
				path: plan.path,
				spec: plan.spec,
			})
		case planModel:
			sub := fv.Addr().Interface().(Model).base()
			sub.cli = b.cli
			sub.info = plan.sub
			sub.parent = b
			sub.path = plan.path
			sub.self = fv.Addr().Interface()
			if plan.sub.pkPlan == nil && sub.pk == "" {
				sub.pk = uuid.NewString()
			}
			attachModel(sub, fv, plan.sub)
		}
	}
}

// validateAll runs every field's validator chain against its current local
// value; any rejection aborts with no effect.
func (b *Base) validateAll() error {
	v := b.structValue()
	for _, plan := range b.info.plans {
		if plan.spec == nil || len(plan.spec.Validators) == 0 {
			continue
		}
		fv := v.FieldByIndex(plan.index)
		var current any
		if lv, ok := fv.Addr().Interface().(localValuer); ok {
			current = lv.localValue()
		} else {
			current = fv.Interface()
		}
		if _, err := plan.spec.Validate(current); err != nil {
			return err
		}
	}
	return nil
}

// Save validates every field and writes the full local state as the
// document. On a nested model the write narrows to the model's own sub-path
// within the ancestor document. Inside a pipeline the write is queued.
func (b *Base) Save(ctx context.Context) error {
	if err := b.validateAll(); err != nil {
		return err
	}
	raw, err := json.Marshal(b.self)
	if err != nil {
		return fmt.Errorf("rapyer: encode %s: %w", b.Key(), err)
	}
	bind := &binding{root: b}
	key, pointer, err := bind.resolve()
	if err != nil {
		return err
	}
	return bind.submit(ctx, store.Command{
		Op:   store.OpSet,
		Key:  key,
		Path: pointer.String(),
		Args: [][]byte{raw},
	})
}

// Load overwrites all local fields from the stored document. Fails with
// ErrNotFound when the document (or, for nested models, the sub-path) is
// missing. Load is idempotent absent intervening remote writes.
func (b *Base) Load(ctx context.Context) error {
	bind := &binding{root: b}
	key, pointer, err := bind.resolve()
	if err != nil {
		return err
	}
	var raw []byte
	if b.parent == nil {
		raw, err = b.client().backend.GetDoc(ctx, key)
	} else {
		raw, err = b.client().backend.GetPath(ctx, key, pointer.String())
	}
	if err != nil {
		return err
	}
	b.resetLocal()
	if err := json.Unmarshal(raw, b.self); err != nil {
		return fmt.Errorf("rapyer: decode %s: %w", b.Key(), err)
	}
	return nil
}

func (b *Base) resetLocal() {
	v := b.structValue()
	for _, plan := range b.info.plans {
		fv := v.FieldByIndex(plan.index)
		switch plan.kind {
		case planProxy:
			fv.Addr().Interface().(attachable).resetLocal()
		case planModel:
			fv.Addr().Interface().(Model).base().resetLocal()
		case planStruct:
			// inner proxies reset through their own plans
		case planPlain:
			if b.info.pkPlan == plan {
				continue
			}
			fv.Set(reflect.Zero(fv.Type()))
		}
	}
}

// Delete removes the whole document. Permitted only on root instances.
// Inside a pipeline the delete is queued.
func (b *Base) Delete(ctx context.Context) error {
	if b.parent != nil {
		return ErrNotTopLevel
	}
	bind := &binding{root: b}
	return bind.submit(ctx, store.Command{Op: store.OpDelDoc, Key: b.Key(), Path: "$"})
}

// Duplicate writes a deep copy of the model under a fresh generated primary
// key and returns it. Root instances only.
func Duplicate[T any](ctx context.Context, m *T) (*T, error) {
	out, err := DuplicateMany(ctx, m, 1)
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// DuplicateMany writes n deep copies atomically, each under a fresh
// generated primary key.
func DuplicateMany[T any](ctx context.Context, m *T, n int) ([]*T, error) {
	mm, ok := any(m).(Model)
	if !ok {
		return nil, fmt.Errorf("rapyer: %T does not embed rapyer.Base", m)
	}
	b := mm.base()
	if b.parent != nil {
		return nil, ErrNotTopLevel
	}
	if n <= 0 {
		return nil, fmt.Errorf("rapyer: duplicate count must be positive, got %d", n)
	}
	raw, err := json.Marshal(b.self)
	if err != nil {
		return nil, fmt.Errorf("rapyer: encode %s: %w", b.Key(), err)
	}

	copies := make([]*T, 0, n)
	cmds := make([]store.Command, 0, n)
	for i := 0; i < n; i++ {
		pk := uuid.NewString()
		clone, err := NewWithKey[T](b.cli, pk)
		if err != nil {
			return nil, err
		}
		cb := any(clone).(Model).base()
		if err := json.Unmarshal(raw, clone); err != nil {
			return nil, fmt.Errorf("rapyer: decode duplicate of %s: %w", b.Key(), err)
		}
		// the unmarshal above restored the source pk; reassign the fresh one
		if b.info.pkPlan != nil {
			setStringField(cb.structValue().FieldByIndex(b.info.pkPlan.index), pk)
		}
		dup, err := json.Marshal(clone)
		if err != nil {
			return nil, fmt.Errorf("rapyer: encode duplicate of %s: %w", b.Key(), err)
		}
		copies = append(copies, clone)
		cmds = append(cmds, store.Command{Op: store.OpSet, Key: cb.Key(), Path: "$", Args: [][]byte{dup}})
	}
	if err := b.cli.backend.Exec(ctx, cmds...); err != nil {
		return nil, err
	}
	return copies, nil
}

// UpdateFields validates every supplied field first; any invalid field
// aborts the whole call with nothing written. Accepted sets are written as
// one atomic multi-path command and then applied to local state.
func (b *Base) UpdateFields(ctx context.Context, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	type staged struct {
		plan *fieldPlan
		raw  []byte
	}
	updates := make([]staged, 0, len(names))
	cmds := make([]store.Command, 0, len(names))
	for _, name := range names {
		plan, ok := b.info.byName[name]
		if !ok {
			return fmt.Errorf("%w: unknown field %q on %s", ErrValidation, name, b.info.name)
		}
		validated, err := plan.spec.Validate(fields[name])
		if err != nil {
			return err
		}
		raw, err := json.Marshal(validated)
		if err != nil {
			return fmt.Errorf("rapyer: encode field %q: %w", name, err)
		}
		bind := &binding{root: b, path: plan.path}
		key, pointer, err := bind.resolve()
		if err != nil {
			return err
		}
		updates = append(updates, staged{plan: plan, raw: raw})
		cmds = append(cmds, store.Command{Op: store.OpSet, Key: key, Path: pointer.String(), Args: [][]byte{raw}})
	}

	if p := b.topmost().pipe; p != nil {
		p.enqueue(cmds...)
	} else if err := b.client().backend.Exec(ctx, cmds...); err != nil {
		return err
	}

	v := b.structValue()
	for _, u := range updates {
		target := v.FieldByIndex(u.plan.index).Addr().Interface()
		if err := json.Unmarshal(u.raw, target); err != nil {
			return fmt.Errorf("rapyer: apply field %q locally: %w", u.plan.name, err)
		}
	}
	return nil
}

// Get loads the document with the given primary key into a fresh model.
func Get[T any](ctx context.Context, cli *Client, pk string) (*T, error) {
	m, err := NewWithKey[T](cli, pk)
	if err != nil {
		return nil, err
	}
	if err := any(m).(Model).base().Load(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

// GetMany batch-reads documents; the result aligns with pks, with nil
// entries for missing documents.
func GetMany[T any](ctx context.Context, cli *Client, pks ...string) ([]*T, error) {
	if len(pks) == 0 {
		return nil, nil
	}
	var zero T
	info, err := infoOf(reflect.TypeOf(zero))
	if err != nil {
		return nil, err
	}
	keys := make([]string, len(pks))
	for i, pk := range pks {
		keys[i] = info.name + ":" + pk
	}
	raws, err := cli.backend.MGetDocs(ctx, keys...)
	if err != nil {
		return nil, err
	}
	out := make([]*T, len(pks))
	for i, raw := range raws {
		if raw == nil {
			continue
		}
		m, err := NewWithKey[T](cli, pks[i])
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, m); err != nil {
			return nil, fmt.Errorf("rapyer: decode %s: %w", keys[i], err)
		}
		out[i] = m
	}
	return out, nil
}

// AllKeys enumerates every stored document key for the model type.
func AllKeys[T any](ctx context.Context, cli *Client) ([]string, error) {
	var zero T
	info, err := infoOf(reflect.TypeOf(zero))
	if err != nil {
		return nil, err
	}
	return cli.backend.Keys(ctx, info.name+":")
}

// All loads every stored instance of the model type.
func All[T any](ctx context.Context, cli *Client) ([]*T, error) {
	keys, err := AllKeys[T](ctx, cli)
	if err != nil {
		return nil, err
	}
	pks := make([]string, 0, len(keys))
	for _, key := range keys {
		_, pk, err := SplitKey(key)
		if err != nil {
			continue
		}
		pks = append(pks, pk)
	}
	models, err := GetMany[T](ctx, cli, pks...)
	if err != nil {
		return nil, err
	}
	out := models[:0]
	for _, m := range models {
		if m != nil {
			out = append(out, m)
		}
	}
	return out, nil
}

// InsertMany writes many, possibly heterogeneous, root models as one atomic
// batch. Every model is validated before anything is written.
func InsertMany(ctx context.Context, cli *Client, models ...Model) error {
	if len(models) == 0 {
		return nil
	}
	cmds := make([]store.Command, 0, len(models))
	for _, m := range models {
		b := m.base()
		if b.parent != nil {
			return ErrNotTopLevel
		}
		if err := b.validateAll(); err != nil {
			return err
		}
		raw, err := json.Marshal(b.self)
		if err != nil {
			return fmt.Errorf("rapyer: encode %s: %w", b.Key(), err)
		}
		cmds = append(cmds, store.Command{Op: store.OpSet, Key: b.Key(), Path: "$", Args: [][]byte{raw}})
	}
	return cli.backend.Exec(ctx, cmds...)
}

// DeleteMany removes many root models' documents as one atomic batch.
func DeleteMany(ctx context.Context, cli *Client, models ...Model) error {
	if len(models) == 0 {
		return nil
	}
	cmds := make([]store.Command, 0, len(models))
	for _, m := range models {
		b := m.base()
		if b.parent != nil {
			return ErrNotTopLevel
		}
		cmds = append(cmds, store.Command{Op: store.OpDelDoc, Key: b.Key(), Path: "$"})
	}
	return cli.backend.Exec(ctx, cmds...)
}
