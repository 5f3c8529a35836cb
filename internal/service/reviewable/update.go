package reviewable

import (
	"context"
	"sort"
)

// UpdateResult is the outcome of a successful field update.
type UpdateResult struct {
	Item    *Item
	Changed []string
}

// FieldUpdateEngine applies viewer edits to an item's editable fields.
type FieldUpdateEngine struct {
	matrix *PermissionMatrix
	guard  *VersionGuard
}

func NewFieldUpdateEngine(matrix *PermissionMatrix, guard *VersionGuard) *FieldUpdateEngine {
	return &FieldUpdateEngine{matrix: matrix, guard: guard}
}

// Update validates every edit before writing any of them. A path outside the
// viewer's editable set fails the whole update with NotEditableError; type or
// constraint failures are collected into one ValidationError.
func (e *FieldUpdateEngine) Update(ctx context.Context, item *Item, caps CapabilitySet, edits map[string]interface{}, expected int64) (*UpdateResult, error) {
	flat := FlattenEdits(edits)
	if len(flat) == 0 {
		return nil, &ValidationError{Errors: []FieldError{{Field: "reviewable", Code: CodeEmpty}}}
	}
	paths := make([]string, 0, len(flat))
	for p := range flat {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	editable := e.matrix.EditableFor(item, caps)
	specs := make([]*FieldSpec, len(paths))
	for i, p := range paths {
		f, ok := editable.Lookup(p)
		if !ok {
			return nil, &NotEditableError{Field: p}
		}
		specs[i] = f
	}

	values := make([]interface{}, len(paths))
	var failures []FieldError
	for i, p := range paths {
		v, ferr := specs[i].Validate(p, flat[p])
		if ferr != nil {
			failures = append(failures, *ferr)
			continue
		}
		values[i] = v
	}
	if len(failures) > 0 {
		return nil, &ValidationError{Errors: failures}
	}

	updated, err := e.guard.Guard(ctx, item.ID, expected, func(ctx context.Context, _ Effects, locked *Item) error {
		// The editable set was derived from a snapshot; the lock must see the same state.
		if locked.Status != StatusPending {
			return &NotEditableError{Field: paths[0]}
		}
		for i, p := range paths {
			applyEdit(locked, p, values[i])
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &UpdateResult{Item: updated, Changed: paths}, nil
}
