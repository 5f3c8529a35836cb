package reviewable

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
)

// Validate coerces value to the field's declared type and evaluates its constraint.
func (f *FieldSpec) Validate(path string, value interface{}) (interface{}, *FieldError) {
	v, ok := coerce(f.Type, value)
	if !ok {
		return nil, &FieldError{Field: path, Code: CodeInvalidType, Message: "expected " + f.Type.String()}
	}
	if f.program == nil {
		return v, nil
	}
	out, err := expr.Run(f.program, constraintEnv(v))
	if err != nil {
		return nil, &FieldError{Field: path, Code: CodeConstraint, Message: err.Error()}
	}
	if passed, _ := out.(bool); !passed {
		return nil, &FieldError{Field: path, Code: CodeConstraint, Message: f.Constraint}
	}
	return v, nil
}

func coerce(t FieldType, value interface{}) (interface{}, bool) {
	switch t {
	case FieldString:
		s, ok := value.(string)
		return s, ok
	case FieldInt:
		return coerceInt(value)
	case FieldFloat:
		switch n := value.(type) {
		case float64:
			return n, true
		case int:
			return float64(n), true
		case int64:
			return float64(n), true
		}
		return nil, false
	case FieldBool:
		b, ok := value.(bool)
		return b, ok
	case FieldStringList:
		switch l := value.(type) {
		case []string:
			return append([]string(nil), l...), true
		case []interface{}:
			out := make([]string, 0, len(l))
			for _, e := range l {
				s, ok := e.(string)
				if !ok {
					return nil, false
				}
				out = append(out, s)
			}
			return out, true
		}
	}
	return nil, false
}

func coerceInt(value interface{}) (interface{}, bool) {
	switch n := value.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n != math.Trunc(n) || n >= 1<<63 || n < -(1<<63) {
			return nil, false
		}
		return int64(n), true
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		if err != nil {
			return nil, false
		}
		return i, true
	}
	return nil, false
}

// EditableSet is the set of field paths a viewer may write on an item.
type EditableSet struct {
	fields []*FieldSpec
}

// Empty reports whether nothing is editable.
func (e EditableSet) Empty() bool {
	return len(e.fields) == 0
}

// Lookup returns the field declaration addressing path. An exact declaration
// wins over a wildcard parent.
func (e EditableSet) Lookup(path string) (*FieldSpec, bool) {
	var wildcard *FieldSpec
	for _, f := range e.fields {
		if f.Path == path {
			return f, true
		}
		if wildcard == nil && f.Matches(path) {
			wildcard = f
		}
	}
	return wildcard, wildcard != nil
}

// Has reports whether path is editable.
func (e EditableSet) Has(path string) bool {
	_, ok := e.Lookup(path)
	return ok
}

// Paths lists the declared editable paths in lexical order.
func (e EditableSet) Paths() []string {
	out := make([]string, len(e.fields))
	for i, f := range e.fields {
		out[i] = f.Path
	}
	sort.Strings(out)
	return out
}

// FlattenEdits turns a nested edit map into dotted paths. Nested maps are
// descended; every other value is a leaf.
func FlattenEdits(edits map[string]interface{}) map[string]interface{} {
	out := map[string]interface{}{}
	flattenInto(out, "", edits)
	return out
}

func flattenInto(out map[string]interface{}, prefix string, m map[string]interface{}) {
	for k, v := range m {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		if nested, ok := v.(map[string]interface{}); ok {
			flattenInto(out, path, nested)
			continue
		}
		out[path] = v
	}
}

// applyEdit writes a validated value at path.
func applyEdit(item *Item, path string, value interface{}) {
	switch path {
	case "category_id":
		item.CategoryID = Int64(value.(int64))
		return
	case "topic_id":
		item.TopicID = Int64(value.(int64))
		return
	}
	if list, ok := value.([]string); ok {
		items := make([]interface{}, len(list))
		for i, s := range list {
			items[i] = s
		}
		value = items
	}
	if item.Payload == nil {
		item.Payload = map[string]interface{}{}
	}
	keys := strings.Split(strings.TrimPrefix(path, PayloadPrefix), ".")
	node := item.Payload
	for _, k := range keys[:len(keys)-1] {
		next, ok := node[k].(map[string]interface{})
		if !ok {
			next = map[string]interface{}{}
			node[k] = next
		}
		node = next
	}
	node[keys[len(keys)-1]] = value
}
