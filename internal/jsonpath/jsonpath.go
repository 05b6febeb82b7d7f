// Package jsonpath parses and applies the restricted JSONPath subset emitted
// by the SDK ("$", "$.field", "$.a.b[2]", `$["key with spaces"]`) against
// decoded JSON trees (map[string]any / []any). It backs the in-memory mock
// backend; the Redis backend hands paths to the server untouched.
package jsonpath

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Step is one path segment: an object key or an array index.
type Step struct {
	Key     string
	Index   int
	IsIndex bool
}

// ErrNoSuchPath is returned when a path does not exist in the target tree.
var ErrNoSuchPath = errors.New("jsonpath: no such path")

// ErrTypeMismatch is returned when a step cannot apply to the node it reaches.
var ErrTypeMismatch = errors.New("jsonpath: type mismatch")

// Parse splits a path into steps. The root path "$" yields an empty slice.
func Parse(path string) ([]Step, error) {
	if path == "" || path[0] != '$' {
		return nil, fmt.Errorf("jsonpath: path must start with $: %q", path)
	}
	rest := path[1:]
	var steps []Step
	for len(rest) > 0 {
		switch rest[0] {
		case '.':
			rest = rest[1:]
			end := 0
			for end < len(rest) && rest[end] != '.' && rest[end] != '[' {
				end++
			}
			if end == 0 {
				return nil, fmt.Errorf("jsonpath: empty key in %q", path)
			}
			steps = append(steps, Step{Key: rest[:end]})
			rest = rest[end:]
		case '[':
			close := strings.IndexByte(rest, ']')
			if close < 0 {
				return nil, fmt.Errorf("jsonpath: unterminated bracket in %q", path)
			}
			inner := rest[1:close]
			rest = rest[close+1:]
			if len(inner) >= 2 && (inner[0] == '"' || inner[0] == '\'') {
				key, err := unquote(inner)
				if err != nil {
					return nil, fmt.Errorf("jsonpath: bad quoted key in %q: %w", path, err)
				}
				steps = append(steps, Step{Key: key})
				continue
			}
			idx, err := strconv.Atoi(inner)
			if err != nil {
				return nil, fmt.Errorf("jsonpath: bad index %q in %q", inner, path)
			}
			steps = append(steps, Step{Index: idx, IsIndex: true})
		default:
			return nil, fmt.Errorf("jsonpath: unexpected character %q in %q", rest[0], path)
		}
	}
	return steps, nil
}

func unquote(s string) (string, error) {
	q := s[0]
	if s[len(s)-1] != q {
		return "", fmt.Errorf("mismatched quotes in %q", s)
	}
	body := s[1 : len(s)-1]
	if q == '\'' {
		body = strings.ReplaceAll(body, `\'`, `'`)
		return body, nil
	}
	return strconv.Unquote(s)
}

// Render builds the canonical string form of a step list.
func Render(steps []Step) string {
	var b strings.Builder
	b.WriteByte('$')
	for _, s := range steps {
		if s.IsIndex {
			fmt.Fprintf(&b, "[%d]", s.Index)
			continue
		}
		if identifierSafe(s.Key) {
			b.WriteByte('.')
			b.WriteString(s.Key)
		} else {
			fmt.Fprintf(&b, "[%s]", strconv.Quote(s.Key))
		}
	}
	return b.String()
}

func identifierSafe(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if r == '_' || unicode.IsLetter(r) || (i > 0 && unicode.IsDigit(r)) {
			continue
		}
		return false
	}
	return true
}

// Get resolves steps against doc.
func Get(doc any, steps []Step) (any, error) {
	cur := doc
	for _, s := range steps {
		var ok bool
		cur, ok = child(cur, s)
		if !ok {
			return nil, ErrNoSuchPath
		}
	}
	return cur, nil
}

func child(node any, s Step) (any, bool) {
	if s.IsIndex {
		arr, ok := node.([]any)
		if !ok {
			return nil, false
		}
		i := normIndex(s.Index, len(arr))
		if i < 0 || i >= len(arr) {
			return nil, false
		}
		return arr[i], true
	}
	obj, ok := node.(map[string]any)
	if !ok {
		return nil, false
	}
	v, ok := obj[s.Key]
	return v, ok
}

func normIndex(i, n int) int {
	if i < 0 {
		return n + i
	}
	return i
}

// Set writes value at steps, creating the final object key when absent, and
// returns the (possibly replaced) root. Intermediate steps must exist.
func Set(doc any, steps []Step, value any) (any, error) {
	if len(steps) == 0 {
		return value, nil
	}
	parent, err := Get(doc, steps[:len(steps)-1])
	if err != nil {
		return nil, err
	}
	last := steps[len(steps)-1]
	if last.IsIndex {
		arr, ok := parent.([]any)
		if !ok {
			return nil, ErrTypeMismatch
		}
		i := normIndex(last.Index, len(arr))
		if i < 0 || i >= len(arr) {
			return nil, ErrNoSuchPath
		}
		arr[i] = value
		return doc, nil
	}
	obj, ok := parent.(map[string]any)
	if !ok {
		return nil, ErrTypeMismatch
	}
	obj[last.Key] = value
	return doc, nil
}

// Delete removes the node at steps and returns the new root. Deleting the
// root yields nil. A missing path is reported via the second result.
func Delete(doc any, steps []Step) (any, bool) {
	if len(steps) == 0 {
		return nil, true
	}
	parent, err := Get(doc, steps[:len(steps)-1])
	if err != nil {
		return doc, false
	}
	last := steps[len(steps)-1]
	if last.IsIndex {
		arr, ok := parent.([]any)
		if !ok {
			return doc, false
		}
		i := normIndex(last.Index, len(arr))
		if i < 0 || i >= len(arr) {
			return doc, false
		}
		arr = append(arr[:i], arr[i+1:]...)
		root, err := Set(doc, steps[:len(steps)-1], arr)
		if err != nil {
			return doc, false
		}
		return root, true
	}
	obj, ok := parent.(map[string]any)
	if !ok {
		return doc, false
	}
	if _, present := obj[last.Key]; !present {
		return doc, false
	}
	delete(obj, last.Key)
	return doc, true
}

// Append adds values to the end of the array at steps.
func Append(doc any, steps []Step, values ...any) (any, error) {
	node, err := Get(doc, steps)
	if err != nil {
		return nil, err
	}
	arr, ok := node.([]any)
	if !ok {
		return nil, ErrTypeMismatch
	}
	arr = append(arr, values...)
	return Set(doc, steps, arr)
}

// Insert places values before index in the array at steps. Negative indices
// count from the end; an index equal to the length appends.
func Insert(doc any, steps []Step, index int, values ...any) (any, error) {
	node, err := Get(doc, steps)
	if err != nil {
		return nil, err
	}
	arr, ok := node.([]any)
	if !ok {
		return nil, ErrTypeMismatch
	}
	i := normIndex(index, len(arr))
	if i < 0 || i > len(arr) {
		return nil, ErrNoSuchPath
	}
	out := make([]any, 0, len(arr)+len(values))
	out = append(out, arr[:i]...)
	out = append(out, values...)
	out = append(out, arr[i:]...)
	return Set(doc, steps, out)
}

// Pop removes and returns the element at index of the array at steps.
// The boolean result is false when the array is empty.
func Pop(doc any, steps []Step, index int) (any, any, bool, error) {
	node, err := Get(doc, steps)
	if err != nil {
		return nil, nil, false, err
	}
	arr, ok := node.([]any)
	if !ok {
		return nil, nil, false, ErrTypeMismatch
	}
	if len(arr) == 0 {
		return doc, nil, false, nil
	}
	i := normIndex(index, len(arr))
	if i < 0 || i >= len(arr) {
		return nil, nil, false, ErrNoSuchPath
	}
	popped := arr[i]
	arr = append(append([]any{}, arr[:i]...), arr[i+1:]...)
	root, err := Set(doc, steps, arr)
	if err != nil {
		return nil, nil, false, err
	}
	return root, popped, true, nil
}

// IncrBy adds delta to the number at steps and returns the new root and value.
func IncrBy(doc any, steps []Step, delta float64) (any, float64, error) {
	node, err := Get(doc, steps)
	if err != nil {
		return nil, 0, err
	}
	n, ok := node.(float64)
	if !ok {
		return nil, 0, ErrTypeMismatch
	}
	n += delta
	root, err := Set(doc, steps, n)
	if err != nil {
		return nil, 0, err
	}
	return root, n, nil
}

// Merge applies the keys of value onto the object at steps (RFC 7386 style:
// null removes a key, objects merge recursively, anything else replaces).
func Merge(doc any, steps []Step, value map[string]any) (any, error) {
	node, err := Get(doc, steps)
	if err != nil {
		return nil, err
	}
	obj, ok := node.(map[string]any)
	if !ok {
		return nil, ErrTypeMismatch
	}
	mergeInto(obj, value)
	return doc, nil
}

func mergeInto(dst, src map[string]any) {
	for k, v := range src {
		if v == nil {
			delete(dst, k)
			continue
		}
		if sub, ok := v.(map[string]any); ok {
			if cur, ok := dst[k].(map[string]any); ok {
				mergeInto(cur, sub)
				continue
			}
		}
		dst[k] = v
	}
}

// Clear empties the container at steps: arrays become empty arrays, objects
// empty objects, numbers zero.
func Clear(doc any, steps []Step) (any, error) {
	node, err := Get(doc, steps)
	if err != nil {
		return nil, err
	}
	switch node.(type) {
	case []any:
		return Set(doc, steps, []any{})
	case map[string]any:
		return Set(doc, steps, map[string]any{})
	case float64:
		return Set(doc, steps, float64(0))
	default:
		return nil, ErrTypeMismatch
	}
}

// ObjKeys lists the keys of the object at steps.
func ObjKeys(doc any, steps []Step) ([]string, error) {
	node, err := Get(doc, steps)
	if err != nil {
		return nil, err
	}
	obj, ok := node.(map[string]any)
	if !ok {
		return nil, ErrTypeMismatch
	}
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	return keys, nil
}
