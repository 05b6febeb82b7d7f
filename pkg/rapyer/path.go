package rapyer

import (
	"context"

	"github.com/yedidyakfir/rapyer-sub000/internal/jsonpath"
	"github.com/yedidyakfir/rapyer-sub000/pkg/schema"
	"github.com/yedidyakfir/rapyer-sub000/pkg/store"
)

// Path locates a field within its root document as an ordered list of steps.
type Path []jsonpath.Step

// Child extends the path with an object key.
func (p Path) Child(name string) Path {
	out := make(Path, len(p), len(p)+1)
	copy(out, p)
	return append(out, jsonpath.Step{Key: name})
}

// At extends the path with an array index.
func (p Path) At(index int) Path {
	out := make(Path, len(p), len(p)+1)
	copy(out, p)
	return append(out, jsonpath.Step{Index: index, IsIndex: true})
}

// String renders the JSONPath pointer form ("$", "$.profile.tags[2]").
func (p Path) String() string {
	return jsonpath.Render(p)
}

// binding is a proxy's non-owning back-reference to its root instance,
// assigned at attachment time. A nil binding (or nil root) marks a detached
// copy that cannot be persisted.
type binding struct {
	root *Base
	path Path
	spec *schema.Field
}

// resolve computes the owning document key and the field path from the
// proxy's live position: parent pointers are followed from the enclosing
// model up to the topmost instance, whose key owns the document. Paths of
// intermediate nested models contribute pointer segments.
func (b *binding) resolve() (key string, pointer Path, err error) {
	if !b.attached() {
		return "", nil, ErrDetached
	}
	var chain []*Base
	for m := b.root; m != nil; m = m.parent {
		chain = append(chain, m)
	}
	full := Path{}
	for i := len(chain) - 1; i >= 0; i-- {
		full = append(full, chain[i].path...)
	}
	full = append(full, b.path...)
	return chain[len(chain)-1].Key(), full, nil
}

func (b *binding) attached() bool {
	return b != nil && b.root != nil
}

// submit routes a write command: enqueued when the root has an open
// pipeline session, applied immediately otherwise.
func (b *binding) submit(ctx context.Context, cmd store.Command) error {
	top := b.root.topmost()
	if p := top.pipe; p != nil {
		p.enqueue(cmd)
		return nil
	}
	return top.cli.backend.Apply(ctx, cmd)
}

// immediateOnly rejects operations that need a round-trip result while a
// pipeline session is open.
func (b *binding) immediateOnly() error {
	if !b.attached() {
		return ErrDetached
	}
	if b.root.topmost().pipe != nil {
		return ErrNotSupportedInPipeline
	}
	return nil
}

func (b *binding) backend() store.Backend {
	return b.root.topmost().cli.backend
}

// validate runs the field's validator chain against a candidate value.
func (b *binding) validate(value any) (any, error) {
	if b == nil || b.spec == nil {
		return value, nil
	}
	return b.spec.Validate(value)
}
