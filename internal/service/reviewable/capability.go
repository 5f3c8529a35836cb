package reviewable

import (
	"sort"
	"strconv"
	"strings"
)

// Capability is a role or permission tag held by a viewer.
type Capability string

const (
	CapUser      Capability = "user"
	CapReviewer  Capability = "reviewer"
	CapModerator Capability = "moderator"
	CapAdmin     Capability = "admin"
)

// implied maps a capability to those it grants.
var implied = map[Capability][]Capability{
	CapAdmin:     {CapModerator},
	CapModerator: {CapReviewer},
}

// CapabilitySet is the closed set of capabilities a viewer holds, implications expanded.
type CapabilitySet map[Capability]struct{}

// NewCapabilitySet builds a set from caps, adding implied capabilities. Every
// signed-in viewer holds CapUser.
func NewCapabilitySet(caps ...Capability) CapabilitySet {
	set := CapabilitySet{}
	var add func(c Capability)
	add = func(c Capability) {
		if c == "" {
			return
		}
		if _, ok := set[c]; ok {
			return
		}
		set[c] = struct{}{}
		for _, next := range implied[c] {
			add(next)
		}
	}
	add(CapUser)
	for _, c := range caps {
		add(c)
	}
	return set
}

// Has reports whether c is in the set.
func (s CapabilitySet) Has(c Capability) bool {
	_, ok := s[c]
	return ok
}

// Any reports whether the set holds any of required. An empty requirement is satisfied.
func (s CapabilitySet) Any(required []Capability) bool {
	if len(required) == 0 {
		return true
	}
	for _, c := range required {
		if s.Has(c) {
			return true
		}
	}
	return false
}

// Sorted returns the capabilities in lexical order.
func (s CapabilitySet) Sorted() []Capability {
	out := make([]Capability, 0, len(s))
	for c := range s {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Viewer is the signed-in user acting on the queue.
type Viewer struct {
	UserID            int64
	Capabilities      CapabilitySet
	ReviewCategoryIDs []int64
}

// NewViewer builds a viewer. A viewer granted review access to any category holds
// CapReviewer for items in those categories.
func NewViewer(userID int64, caps []Capability, reviewCategoryIDs []int64) *Viewer {
	if len(reviewCategoryIDs) > 0 {
		caps = append(append([]Capability(nil), caps...), CapReviewer)
	}
	return &Viewer{
		UserID:            userID,
		Capabilities:      NewCapabilitySet(caps...),
		ReviewCategoryIDs: append([]int64(nil), reviewCategoryIDs...),
	}
}

// Visibility derives the row filter for this viewer.
func (v *Viewer) Visibility() Visibility {
	if v.Capabilities.Has(CapModerator) {
		return Visibility{All: true}
	}
	ids := append([]int64(nil), v.ReviewCategoryIDs...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return Visibility{CategoryIDs: ids}
}

// Visibility restricts which items a viewer may see.
type Visibility struct {
	All         bool
	CategoryIDs []int64
}

// Allows reports whether the item passes the visibility filter.
func (v Visibility) Allows(item *Item) bool {
	if v.All {
		return true
	}
	if item.CategoryID == nil {
		return false
	}
	for _, id := range v.CategoryIDs {
		if id == *item.CategoryID {
			return true
		}
	}
	return false
}

// Fingerprint is a stable key for caching results computed under this filter.
func (v Visibility) Fingerprint() string {
	if v.All {
		return "all"
	}
	ids := append([]int64(nil), v.CategoryIDs...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return "c" + strings.Join(parts, ",")
}
