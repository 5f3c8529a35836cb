package reviewable

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// FieldType is the declared type of an editable field.
type FieldType int

const (
	FieldString FieldType = iota
	FieldInt
	FieldFloat
	FieldBool
	FieldStringList
)

func (t FieldType) String() string {
	switch t {
	case FieldString:
		return "string"
	case FieldInt:
		return "int"
	case FieldFloat:
		return "float"
	case FieldBool:
		return "bool"
	case FieldStringList:
		return "string_list"
	default:
		return fmt.Sprintf("field_type(%d)", int(t))
	}
}

// PayloadPrefix marks paths that address the item payload.
const PayloadPrefix = "payload."

// itemColumns are the top-level item fields a kind may declare editable.
var itemColumns = map[string]FieldType{
	"category_id": FieldInt,
	"topic_id":    FieldInt,
}

// FieldSpec declares one editable field of a kind. A Path ending in ".*" covers
// every nested path under its parent.
type FieldSpec struct {
	Path string
	Type FieldType
	// Constraint is an expression over `value` that must evaluate to true.
	Constraint string
	EditableBy []Capability

	program *vm.Program
}

// Matches reports whether path is addressed by this field.
func (f *FieldSpec) Matches(path string) bool {
	if parent, ok := strings.CutSuffix(f.Path, ".*"); ok {
		return strings.HasPrefix(path, parent+".")
	}
	return f.Path == path
}

// ActionHandler runs a kind's side effects for an action inside the item's
// transaction. Returning a *BusinessRuleError aborts the transition.
type ActionHandler func(ctx context.Context, ac *ActionContext) error

// ActionSpec declares one action of a kind.
type ActionSpec struct {
	ID           string
	From         []Status
	To           Status
	RequiredCaps []Capability
	Handler      ActionHandler
	// Notify is the notification type sent to the target's author; empty disables it.
	Notify string
}

// AvailableFrom reports whether the action applies to an item in status s.
func (a *ActionSpec) AvailableFrom(s Status) bool {
	from := a.From
	if len(from) == 0 {
		from = []Status{StatusPending}
	}
	for _, f := range from {
		if f == s {
			return true
		}
	}
	return false
}

// KindSpec declares the editable fields and actions of one kind.
type KindSpec struct {
	Kind    Kind
	Fields  []FieldSpec
	Actions []ActionSpec
}

type kindEntry struct {
	fields  []*FieldSpec
	actions []*ActionSpec
}

// Registry holds the immutable kind declarations consulted by the engine.
type Registry struct {
	kinds map[Kind]*kindEntry
}

// NewRegistry validates specs and compiles their field constraints.
func NewRegistry(specs ...KindSpec) (*Registry, error) {
	r := &Registry{kinds: make(map[Kind]*kindEntry, len(specs))}
	for _, spec := range specs {
		if spec.Kind == "" {
			return nil, fmt.Errorf("reviewable kind must be named")
		}
		if _, dup := r.kinds[spec.Kind]; dup {
			return nil, fmt.Errorf("reviewable kind %q registered twice", spec.Kind)
		}
		entry := &kindEntry{}
		seenFields := map[string]bool{}
		for i := range spec.Fields {
			f := spec.Fields[i]
			if seenFields[f.Path] {
				return nil, fmt.Errorf("%s: field %q declared twice", spec.Kind, f.Path)
			}
			seenFields[f.Path] = true
			if err := compileField(&f); err != nil {
				return nil, fmt.Errorf("%s: %w", spec.Kind, err)
			}
			f.EditableBy = append([]Capability(nil), f.EditableBy...)
			entry.fields = append(entry.fields, &f)
		}
		seenActions := map[string]bool{}
		for i := range spec.Actions {
			a := spec.Actions[i]
			if a.ID == "" {
				return nil, fmt.Errorf("%s: action must be named", spec.Kind)
			}
			if seenActions[a.ID] {
				return nil, fmt.Errorf("%s: action %q declared twice", spec.Kind, a.ID)
			}
			seenActions[a.ID] = true
			if !a.To.Valid() {
				return nil, fmt.Errorf("%s: action %q targets unknown status %d", spec.Kind, a.ID, int(a.To))
			}
			a.From = append([]Status(nil), a.From...)
			a.RequiredCaps = append([]Capability(nil), a.RequiredCaps...)
			entry.actions = append(entry.actions, &a)
		}
		r.kinds[spec.Kind] = entry
	}
	return r, nil
}

func compileField(f *FieldSpec) error {
	if col, ok := itemColumns[f.Path]; ok {
		if col != f.Type {
			return fmt.Errorf("field %q must be %s", f.Path, col)
		}
	} else if !strings.HasPrefix(f.Path, PayloadPrefix) || len(f.Path) == len(PayloadPrefix) {
		return fmt.Errorf("field %q is neither an item column nor a payload path", f.Path)
	}
	if f.Constraint == "" {
		return nil
	}
	program, err := expr.Compile(f.Constraint, expr.Env(constraintEnv(zeroValue(f.Type))), expr.AsBool())
	if err != nil {
		return fmt.Errorf("field %q constraint: %w", f.Path, err)
	}
	f.program = program
	return nil
}

func constraintEnv(value interface{}) map[string]interface{} {
	return map[string]interface{}{"value": value}
}

func zeroValue(t FieldType) interface{} {
	switch t {
	case FieldInt:
		return int64(0)
	case FieldFloat:
		return float64(0)
	case FieldBool:
		return false
	case FieldStringList:
		return []string{}
	default:
		return ""
	}
}

// Recognized reports whether kind is registered.
func (r *Registry) Recognized(kind Kind) bool {
	_, ok := r.kinds[kind]
	return ok
}

// Kinds returns the registered kinds in lexical order.
func (r *Registry) Kinds() []Kind {
	out := make([]Kind, 0, len(r.kinds))
	for k := range r.kinds {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Fields returns the declared fields of kind in declaration order.
func (r *Registry) Fields(kind Kind) []*FieldSpec {
	if e, ok := r.kinds[kind]; ok {
		return e.fields
	}
	return nil
}

// Actions returns the declared actions of kind in declaration order.
func (r *Registry) Actions(kind Kind) []*ActionSpec {
	if e, ok := r.kinds[kind]; ok {
		return e.actions
	}
	return nil
}
