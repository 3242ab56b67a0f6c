package docstore

import (
	"fmt"
)

// Update sets one field path of a document. Value is a plain value or one of
// the transforms below.
type Update struct {
	Path  string
	Value any
}

// ArrayUnionValue appends elements not already present in the array field.
type ArrayUnionValue struct {
	Elements []any
}

// ArrayRemoveValue removes every occurrence of the elements.
type ArrayRemoveValue struct {
	Elements []any
}

// IncrementValue adds By (int64 or float64) to a numeric field.
type IncrementValue struct {
	By any
}

type deleteFieldValue struct{}

// DeleteField removes the field at the update path.
var DeleteField = deleteFieldValue{}

func ArrayUnion(elements ...any) ArrayUnionValue {
	return ArrayUnionValue{Elements: elements}
}

func ArrayRemove(elements ...any) ArrayRemoveValue {
	return ArrayRemoveValue{Elements: elements}
}

func Increment(by any) IncrementValue {
	return IncrementValue{By: by}
}

// IsDeleteField reports whether v is the DeleteField sentinel.
func IsDeleteField(v any) bool {
	_, ok := v.(deleteFieldValue)
	return ok
}

// NormalizeUpdates validates paths and normalizes values and transform
// operands.
func NormalizeUpdates(updates []Update) ([]Update, error) {
	if len(updates) == 0 {
		return nil, fmt.Errorf("%w: no fields to update", ErrInvalidValue)
	}
	out := make([]Update, len(updates))
	for i, u := range updates {
		if !validPath(u.Path) {
			return nil, fmt.Errorf("%w: bad field path %q", ErrInvalidValue, u.Path)
		}
		switch v := u.Value.(type) {
		case ArrayUnionValue:
			elems, err := normalizeElements(v.Elements)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", u.Path, err)
			}
			out[i] = Update{Path: u.Path, Value: ArrayUnionValue{Elements: elems}}
		case ArrayRemoveValue:
			elems, err := normalizeElements(v.Elements)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", u.Path, err)
			}
			out[i] = Update{Path: u.Path, Value: ArrayRemoveValue{Elements: elems}}
		case IncrementValue:
			by, err := Normalize(v.By)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", u.Path, err)
			}
			switch by.(type) {
			case int64, float64:
			default:
				return nil, fmt.Errorf("%w: increment of %q by %T", ErrInvalidValue, u.Path, v.By)
			}
			out[i] = Update{Path: u.Path, Value: IncrementValue{By: by}}
		case deleteFieldValue:
			out[i] = u
		default:
			n, err := Normalize(u.Value)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", u.Path, err)
			}
			out[i] = Update{Path: u.Path, Value: n}
		}
	}
	return out, nil
}

func normalizeElements(elems []any) ([]any, error) {
	out := make([]any, len(elems))
	for i, e := range elems {
		n, err := Normalize(e)
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}

// ApplyUpdates returns a copy of data with normalized updates applied.
func ApplyUpdates(data map[string]any, updates []Update) map[string]any {
	out := CloneMap(data)
	if out == nil {
		out = map[string]any{}
	}
	for _, u := range updates {
		current, _ := Lookup(out, u.Path)
		switch v := u.Value.(type) {
		case ArrayUnionValue:
			arr, _ := current.([]any)
			next := append([]any(nil), arr...)
			for _, e := range v.Elements {
				if !containsValue(next, e) {
					next = append(next, Clone(e))
				}
			}
			setPath(out, u.Path, next)
		case ArrayRemoveValue:
			arr, _ := current.([]any)
			next := make([]any, 0, len(arr))
			for _, e := range arr {
				if !containsValue(v.Elements, e) {
					next = append(next, e)
				}
			}
			setPath(out, u.Path, next)
		case IncrementValue:
			setPath(out, u.Path, addNumbers(current, v.By))
		case deleteFieldValue:
			deletePath(out, u.Path)
		default:
			setPath(out, u.Path, Clone(v))
		}
	}
	return out
}

func containsValue(arr []any, v any) bool {
	for _, e := range arr {
		if Equal(e, v) {
			return true
		}
	}
	return false
}

func addNumbers(current, by any) any {
	switch c := current.(type) {
	case int64:
		if b, ok := by.(int64); ok {
			return c + b
		}
		return float64(c) + by.(float64)
	case float64:
		if b, ok := by.(int64); ok {
			return c + float64(b)
		}
		return c + by.(float64)
	default:
		return by
	}
}
