package reviewable

// PermissionMatrix answers which fields and actions a capability set has on an
// item. It holds no state beyond the registry and is safe for concurrent use.
type PermissionMatrix struct {
	registry *Registry
}

func NewPermissionMatrix(registry *Registry) *PermissionMatrix {
	return &PermissionMatrix{registry: registry}
}

// EditableFor returns the fields caps may edit on item. Resolved items have no
// editable fields.
func (m *PermissionMatrix) EditableFor(item *Item, caps CapabilitySet) EditableSet {
	if item.Status != StatusPending {
		return EditableSet{}
	}
	var set EditableSet
	for _, f := range m.registry.Fields(item.Kind) {
		if len(f.EditableBy) > 0 && caps.Any(f.EditableBy) {
			set.fields = append(set.fields, f)
		}
	}
	return set
}

// ActionsFor returns the actions caps may perform on item, in declaration order.
func (m *PermissionMatrix) ActionsFor(item *Item, caps CapabilitySet) []*ActionSpec {
	var out []*ActionSpec
	for _, a := range m.registry.Actions(item.Kind) {
		if a.AvailableFrom(item.Status) && caps.Any(a.RequiredCaps) {
			out = append(out, a)
		}
	}
	return out
}

// ActionIDs is ActionsFor reduced to identifiers.
func (m *PermissionMatrix) ActionIDs(item *Item, caps CapabilitySet) []string {
	actions := m.ActionsFor(item, caps)
	out := make([]string, len(actions))
	for i, a := range actions {
		out[i] = a.ID
	}
	return out
}

// Action resolves id among the actions available to caps.
func (m *PermissionMatrix) Action(item *Item, caps CapabilitySet, id string) (*ActionSpec, error) {
	for _, a := range m.ActionsFor(item, caps) {
		if a.ID == id {
			return a, nil
		}
	}
	return nil, &InvalidActionError{Action: id, Status: item.Status}
}
