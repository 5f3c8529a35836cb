package reviewable

import (
	"context"
	"strconv"
)

// ListParams are the raw listing filters supplied by a caller.
type ListParams struct {
	Status     string
	Kind       string
	CategoryID *int64
	TopicID    *int64
	MinScore   float64
	Limit      int
	Offset     int
}

// QueryEngine lists and counts items visible to a viewer.
type QueryEngine struct {
	repo     Repository
	registry *Registry
}

func NewQueryEngine(repo Repository, registry *Registry) *QueryEngine {
	return &QueryEngine{repo: repo, registry: registry}
}

// Build resolves params into a Query scoped to the viewer. An empty status means
// pending.
func (e *QueryEngine) Build(viewer *Viewer, p ListParams) (Query, error) {
	q := Query{
		Visibility: viewer.Visibility(),
		Status:     StatusPending,
		CategoryID: p.CategoryID,
		TopicID:    p.TopicID,
		MinScore:   p.MinScore,
		Limit:      p.Limit,
		Offset:     p.Offset,
	}
	if p.Status != "" {
		s, err := ParseStatus(p.Status)
		if err != nil {
			return Query{}, err
		}
		q.Status = s
	}
	if p.Kind != "" {
		if !e.registry.Recognized(Kind(p.Kind)) {
			return Query{}, &InvalidFilterError{Param: "type", Value: p.Kind}
		}
		q.Kind = Kind(p.Kind)
	}
	if p.Limit < 0 {
		return Query{}, &InvalidFilterError{Param: "limit", Value: strconv.Itoa(p.Limit)}
	}
	if p.Offset < 0 {
		return Query{}, &InvalidFilterError{Param: "offset", Value: strconv.Itoa(p.Offset)}
	}
	return q, nil
}

// List returns one page of matching items in queue order.
func (e *QueryEngine) List(ctx context.Context, viewer *Viewer, p ListParams) ([]*Item, error) {
	q, err := e.Build(viewer, p)
	if err != nil {
		return nil, err
	}
	return e.repo.List(ctx, q)
}

// Count returns the number of items matching the same predicate as List.
func (e *QueryEngine) Count(ctx context.Context, viewer *Viewer, p ListParams) (int, error) {
	q, err := e.Build(viewer, p)
	if err != nil {
		return 0, err
	}
	return e.repo.Count(ctx, q.Unpaged())
}
