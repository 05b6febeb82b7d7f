package rapyer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/yedidyakfir/rapyer-sub000/pkg/schema"
)

type planKind int

const (
	planProxy planKind = iota
	planModel
	planStruct // plain struct descended into for inner proxies
	planPlain
)

// fieldPlan is the attach/marshal plan for one reachable field of a model
// struct, computed once per type.
type fieldPlan struct {
	name     string // JSON name
	index    []int  // reflect field index chain from the model struct
	path     Path   // path from the model root
	kind     planKind
	topLevel bool
	spec     *schema.Field
	sub      *modelInfo // planModel only
}

// modelInfo is the registry entry for a model type.
type modelInfo struct {
	name      string
	typ       reflect.Type
	baseIndex []int
	plans     []*fieldPlan
	byName    map[string]*fieldPlan // top-level JSON name -> plan
	schema    *schema.Model
	pkPlan    *fieldPlan // nil means generated primary keys
}

var registry = struct {
	mu     sync.RWMutex
	byName map[string]*modelInfo
	byType map[reflect.Type]*modelInfo
}{
	byName: make(map[string]*modelInfo),
	byType: make(map[reflect.Type]*modelInfo),
}

var (
	baseType       = reflect.TypeOf(Base{})
	attachableType = reflect.TypeOf((*attachable)(nil)).Elem()
	rawMessageType = reflect.TypeOf(json.RawMessage(nil))
)

// Register installs T in the process-wide registry under the struct's own
// name, enabling type-erased access by document key.
func Register[T any]() error {
	var zero T
	t := reflect.TypeOf(zero)
	if t == nil || t.Kind() != reflect.Struct {
		return fmt.Errorf("rapyer: Register requires a struct type, got %T", zero)
	}
	return RegisterAs[T](t.Name())
}

// RegisterAs installs T under an explicit type name.
func RegisterAs[T any](name string) error {
	var zero T
	t := reflect.TypeOf(zero)
	if t == nil || t.Kind() != reflect.Struct {
		return fmt.Errorf("rapyer: Register requires a struct type, got %T", zero)
	}
	_, err := register(t, name)
	return err
}

// MustRegister is Register that panics on error, for package init blocks.
func MustRegister[T any]() {
	if err := Register[T](); err != nil {
		panic(err)
	}
}

func register(t reflect.Type, name string) (*modelInfo, error) {
	registry.mu.RLock()
	if info, ok := registry.byType[t]; ok {
		registry.mu.RUnlock()
		return info, nil
	}
	registry.mu.RUnlock()

	info, err := buildInfo(t, name)
	if err != nil {
		return nil, err
	}

	registry.mu.Lock()
	defer registry.mu.Unlock()
	if existing, ok := registry.byType[t]; ok {
		return existing, nil
	}
	if other, ok := registry.byName[info.name]; ok && other.typ != t {
		return nil, fmt.Errorf("rapyer: model name %q already registered for %s", info.name, other.typ)
	}
	registry.byName[info.name] = info
	registry.byType[t] = info
	return info, nil
}

// infoOf returns the registry entry for t, registering it under the struct
// name on first use.
func infoOf(t reflect.Type) (*modelInfo, error) {
	registry.mu.RLock()
	info, ok := registry.byType[t]
	registry.mu.RUnlock()
	if ok {
		return info, nil
	}
	return register(t, t.Name())
}

func lookupName(name string) (*modelInfo, bool) {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	info, ok := registry.byName[name]
	return info, ok
}

func buildInfo(t reflect.Type, name string) (*modelInfo, error) {
	if name == "" {
		return nil, fmt.Errorf("rapyer: model type %s needs a name", t)
	}
	if strings.Contains(name, ":") {
		return nil, fmt.Errorf("rapyer: model name %q must not contain ':'", name)
	}
	info := &modelInfo{
		name:   name,
		typ:    t,
		byName: make(map[string]*fieldPlan),
	}

	if err := collectPlans(info, t, nil, Path{}, true); err != nil {
		return nil, err
	}
	if info.baseIndex == nil {
		return nil, fmt.Errorf("rapyer: model %s must embed rapyer.Base", t)
	}

	fields := make([]*schema.Field, 0, len(info.plans))
	for _, p := range info.plans {
		if p.topLevel {
			fields = append(fields, p.spec)
		}
	}
	info.schema = schema.NewModel(name, fields)
	return info, nil
}

func collectPlans(info *modelInfo, t reflect.Type, prefix []int, base Path, topLevel bool) error {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		index := append(append([]int{}, prefix...), i)

		if f.Anonymous && f.Type == baseType {
			if !topLevel {
				continue
			}
			if f.Tag.Get("json") != "-" {
				return fmt.Errorf("rapyer: model %s must tag the embedded rapyer.Base with json:\"-\"", t)
			}
			info.baseIndex = index
			continue
		}
		if f.PkgPath != "" { // unexported
			continue
		}
		if jsonTag, _, _ := strings.Cut(f.Tag.Get("json"), ","); jsonTag == "-" {
			continue
		}

		tag, err := schema.ParseTag(f.Tag.Get("rapyer"))
		if err != nil {
			return fmt.Errorf("rapyer: model %s field %s: %w", info.typ, f.Name, err)
		}
		name := tag.Name
		if name == "" {
			name, _, _ = strings.Cut(f.Tag.Get("json"), ",")
		}
		if name == "" {
			name = f.Name
		}

		plan := &fieldPlan{
			name:     name,
			index:    index,
			path:     base.Child(name),
			topLevel: topLevel,
		}

		switch {
		case reflect.PointerTo(f.Type).Implements(attachableType):
			plan.kind = planProxy
			plan.spec = &schema.Field{
				Name:       name,
				Kind:       proxyKind(f.Type),
				PK:         tag.PK,
				Validators: tag.Validators,
			}

		case f.Type.Kind() == reflect.Struct && hasBase(f.Type):
			sub, err := register(f.Type, f.Type.Name())
			if err != nil {
				return err
			}
			plan.kind = planModel
			plan.sub = sub
			plan.spec = &schema.Field{Name: name, Kind: schema.KindRecord, Validators: tag.Validators}

		case f.Type.Kind() == reflect.Struct && f.Type != rawMessageType && !tag.Opaque && containsProxies(f.Type):
			plan.kind = planStruct
			plan.spec = &schema.Field{Name: name, Kind: schema.KindRecord, Validators: tag.Validators}
			info.plans = append(info.plans, plan)
			if topLevel {
				info.byName[name] = plan
			}
			// descend so proxies inside plain structs get attached
			if err := collectPlans(info, f.Type, index, plan.path, false); err != nil {
				return err
			}
			continue

		default:
			plan.kind = planPlain
			kind := schema.KindPrimitive
			if tag.Opaque || f.Type == rawMessageType {
				kind = schema.KindOpaque
			}
			plan.spec = &schema.Field{Name: name, Kind: kind, PK: tag.PK, Validators: tag.Validators}
		}

		if tag.PK {
			if info.pkPlan != nil {
				return fmt.Errorf("rapyer: model %s declares more than one pk field", info.typ)
			}
			if !isStringPK(f.Type) {
				return fmt.Errorf("rapyer: model %s pk field %s must be string or Value[string]", info.typ, f.Name)
			}
			info.pkPlan = plan
		}

		info.plans = append(info.plans, plan)
		if topLevel {
			info.byName[name] = plan
		}
	}
	return nil
}

func proxyKind(t reflect.Type) schema.Kind {
	p := reflect.New(t).Interface()
	switch p.(type) {
	case sequenceProxy:
		return schema.KindSequence
	case mappingProxy:
		return schema.KindMapping
	default:
		return schema.KindPrimitive
	}
}

// containsProxies reports whether a plain struct type holds proxy or nested
// model fields anywhere below it and therefore needs descending.
func containsProxies(t reflect.Type) bool {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.PkgPath != "" {
			continue
		}
		if reflect.PointerTo(f.Type).Implements(attachableType) {
			return true
		}
		if f.Type.Kind() == reflect.Struct {
			if hasBase(f.Type) || containsProxies(f.Type) {
				return true
			}
		}
	}
	return false
}

func hasBase(t reflect.Type) bool {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.Anonymous && f.Type == baseType {
			return true
		}
	}
	return false
}

func isStringPK(t reflect.Type) bool {
	if t.Kind() == reflect.String {
		return true
	}
	_, ok := reflect.New(t).Interface().(interface{ Get() string })
	return ok
}

// SplitKey breaks a document key into its type name and primary key.
func SplitKey(key string) (typeName, pk string, err error) {
	typeName, pk, found := strings.Cut(key, ":")
	if !found || typeName == "" || pk == "" {
		return "", "", fmt.Errorf("rapyer: malformed document key %q", key)
	}
	return typeName, pk, nil
}

// GetByKey loads a document given only its key, using the TypeName prefix to
// find the registered model type. A missing document is reported by the
// boolean result rather than an error.
func GetByKey(ctx context.Context, cli *Client, key string) (Model, bool, error) {
	typeName, pk, err := SplitKey(key)
	if err != nil {
		return nil, false, err
	}
	info, ok := lookupName(typeName)
	if !ok {
		return nil, false, fmt.Errorf("rapyer: model type %q is not registered", typeName)
	}
	m, err := newModelValue(info, cli, pk)
	if err != nil {
		return nil, false, err
	}
	if err := m.base().Load(ctx); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return m, true, nil
}

// DeleteByKey removes a document given only its key. Deleting a missing
// document is not an error.
func DeleteByKey(ctx context.Context, cli *Client, key string) error {
	typeName, pk, err := SplitKey(key)
	if err != nil {
		return err
	}
	info, ok := lookupName(typeName)
	if !ok {
		return fmt.Errorf("rapyer: model type %q is not registered", typeName)
	}
	m, err := newModelValue(info, cli, pk)
	if err != nil {
		return err
	}
	return m.base().Delete(ctx)
}
