// Package schema carries the per-field metadata the model engine consults
// before any write: a semantic kind tag and a validator chain. Field specs
// are derived once per model type from `rapyer` struct tags, with `json`
// tag names as the fallback naming source.
package schema

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrValidation is returned when a value is rejected before any effect.
var ErrValidation = errors.New("schema: validation failed")

// Kind classifies a field for the engine.
type Kind int

const (
	// KindPrimitive is a scalar value.
	KindPrimitive Kind = iota
	// KindSequence is an ordered list of elements.
	KindSequence
	// KindMapping is a string-keyed mapping.
	KindMapping
	// KindRecord is a nested structured value.
	KindRecord
	// KindOpaque is an already-serialized blob; round-trip fidelity is the
	// caller's responsibility.
	KindOpaque
)

func (k Kind) String() string {
	switch k {
	case KindPrimitive:
		return "primitive"
	case KindSequence:
		return "sequence"
	case KindMapping:
		return "mapping"
	case KindRecord:
		return "record"
	case KindOpaque:
		return "opaque"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Validator checks (and may normalise) a candidate value.
type Validator interface {
	Validate(value any) (any, error)
}

// Field describes one model field.
type Field struct {
	Name       string // JSON name
	Kind       Kind
	PK         bool
	Validators []Validator
}

// Validate runs the field's validator chain. For sequence and mapping
// fields the engine passes individual elements through here.
func (f *Field) Validate(value any) (any, error) {
	if f == nil {
		return value, nil
	}
	var err error
	for _, v := range f.Validators {
		value, err = v.Validate(value)
		if err != nil {
			return nil, fmt.Errorf("%w: field %q: %v", ErrValidation, f.Name, err)
		}
	}
	return value, nil
}

// Model is the schema of one model type.
type Model struct {
	Type   string
	Fields []*Field

	byName map[string]*Field
}

// NewModel indexes the supplied fields.
func NewModel(typeName string, fields []*Field) *Model {
	m := &Model{Type: typeName, Fields: fields, byName: make(map[string]*Field, len(fields))}
	for _, f := range fields {
		m.byName[f.Name] = f
	}
	return m
}

// Field returns the spec for a JSON field name.
func (m *Model) Field(name string) (*Field, bool) {
	f, ok := m.byName[name]
	return f, ok
}

// Tag is the parsed form of a `rapyer:"..."` struct tag.
type Tag struct {
	Name       string
	PK         bool
	Opaque     bool
	Validators []Validator
}

// ParseTag decodes a `rapyer` struct tag value. The first element is the
// field name (empty keeps the fallback); the rest are options:
// pk, opaque, required, min=N, max=N, minlen=N, maxlen=N.
func ParseTag(tag string) (Tag, error) {
	var out Tag
	parts := strings.Split(tag, ",")
	out.Name = strings.TrimSpace(parts[0])
	for _, opt := range parts[1:] {
		opt = strings.TrimSpace(opt)
		switch {
		case opt == "":
		case opt == "pk":
			out.PK = true
		case opt == "opaque":
			out.Opaque = true
		case opt == "required":
			out.Validators = append(out.Validators, Required{})
		case strings.HasPrefix(opt, "min="):
			n, err := parseBound(opt)
			if err != nil {
				return Tag{}, err
			}
			out.Validators = append(out.Validators, Min{Bound: n})
		case strings.HasPrefix(opt, "max="):
			n, err := parseBound(opt)
			if err != nil {
				return Tag{}, err
			}
			out.Validators = append(out.Validators, Max{Bound: n})
		case strings.HasPrefix(opt, "minlen="):
			n, err := parseBound(opt)
			if err != nil {
				return Tag{}, err
			}
			out.Validators = append(out.Validators, MinLen{N: int(n)})
		case strings.HasPrefix(opt, "maxlen="):
			n, err := parseBound(opt)
			if err != nil {
				return Tag{}, err
			}
			out.Validators = append(out.Validators, MaxLen{N: int(n)})
		default:
			return Tag{}, fmt.Errorf("schema: unknown tag option %q", opt)
		}
	}
	return out, nil
}

func parseBound(opt string) (float64, error) {
	_, raw, _ := strings.Cut(opt, "=")
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("schema: bad bound in tag option %q: %w", opt, err)
	}
	return n, nil
}
