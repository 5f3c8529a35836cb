package reviewable

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	pkgerrors "github.com/nmxmxh/reviewqueue/pkg/errors"
	"github.com/nmxmxh/reviewqueue/pkg/metrics"
	"github.com/nmxmxh/reviewqueue/pkg/tracing"
)

// Detail is an item together with what the viewer may do with it.
type Detail struct {
	Item     *Item    `json:"reviewable"`
	Actions  []string `json:"actions"`
	Editable []string `json:"editable_fields"`
	Scores   []Score  `json:"scores"`
}

// Service is the review queue facade used by the request layer.
type Service struct {
	log      *zap.Logger
	repo     Repository
	registry *Registry
	matrix   *PermissionMatrix
	updater  *FieldUpdateEngine
	executor *ActionExecutor
	queries  *QueryEngine
	topics   *TopicAggregator
	tracer   trace.Tracer
}

type serviceOptions struct {
	cache    StatsCache
	cacheTTL time.Duration
	tracer   trace.Tracer
}

// Option configures a Service.
type Option func(*serviceOptions)

// WithStatsCache caches topic statistics for ttl.
func WithStatsCache(cache StatsCache, ttl time.Duration) Option {
	return func(o *serviceOptions) {
		o.cache = cache
		o.cacheTTL = ttl
	}
}

// WithTracer overrides the tracer used for service spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *serviceOptions) { o.tracer = t }
}

// NewService wires the review engine over repo and registry.
func NewService(log *zap.Logger, repo Repository, registry *Registry, opts ...Option) *Service {
	o := serviceOptions{tracer: tracing.Tracer("reviewable")}
	for _, opt := range opts {
		opt(&o)
	}
	log = log.With(zap.String("module", "reviewable"))
	matrix := NewPermissionMatrix(registry)
	guard := NewVersionGuard(repo)
	return &Service{
		log:      log,
		repo:     repo,
		registry: registry,
		matrix:   matrix,
		updater:  NewFieldUpdateEngine(matrix, guard),
		executor: NewActionExecutor(matrix, guard),
		queries:  NewQueryEngine(repo, registry),
		topics:   NewTopicAggregator(repo, o.cache, o.cacheTTL, log),
		tracer:   o.tracer,
	}
}

// Registry returns the kind registry.
func (s *Service) Registry() *Registry { return s.registry }

// Matrix returns the permission matrix.
func (s *Service) Matrix() *PermissionMatrix { return s.matrix }

func (s *Service) span(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "reviewable."+name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Get returns the item if the viewer can see it. Invisible items are reported
// as ErrNotFound.
func (s *Service) Get(ctx context.Context, viewer *Viewer, id int64) (*Item, error) {
	item, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !viewer.Visibility().Allows(item) {
		return nil, ErrNotFound
	}
	return item, nil
}

// Show returns the item with the viewer's available actions and editable fields.
func (s *Service) Show(ctx context.Context, viewer *Viewer, id int64) (_ *Detail, err error) {
	ctx, span := s.span(ctx, "show", attribute.Int64("reviewable.id", id))
	defer func() { endSpan(span, err) }()

	item, err := s.Get(ctx, viewer, id)
	if err != nil {
		return nil, err
	}
	scores, err := s.repo.Scores(ctx, []int64{id})
	if err != nil {
		return nil, pkgerrors.LogWithError(ctx, s.log, "failed to load scores", err, zap.Int64("reviewable_id", id))
	}
	return &Detail{
		Item:     item,
		Actions:  s.matrix.ActionIDs(item, viewer.Capabilities),
		Editable: s.matrix.EditableFor(item, viewer.Capabilities).Paths(),
		Scores:   scores[id],
	}, nil
}

// List returns one page of the viewer's queue.
func (s *Service) List(ctx context.Context, viewer *Viewer, p ListParams) (_ []*Item, err error) {
	ctx, span := s.span(ctx, "list", attribute.String("status", p.Status), attribute.String("type", p.Kind))
	defer func() { endSpan(span, err) }()
	defer metrics.ObserveQuery("list", time.Now())

	return s.queries.List(ctx, viewer, p)
}

// Count returns the number of items matching the same filter as List.
func (s *Service) Count(ctx context.Context, viewer *Viewer, p ListParams) (_ int, err error) {
	ctx, span := s.span(ctx, "count", attribute.String("status", p.Status), attribute.String("type", p.Kind))
	defer func() { endSpan(span, err) }()
	defer metrics.ObserveQuery("count", time.Now())

	return s.queries.Count(ctx, viewer, p)
}

// Topics returns per-topic statistics of the viewer's pending queue.
func (s *Service) Topics(ctx context.Context, viewer *Viewer) (_ []TopicStats, err error) {
	ctx, span := s.span(ctx, "topics")
	defer func() { endSpan(span, err) }()
	defer metrics.ObserveQuery("topics", time.Now())

	return s.topics.Topics(ctx, viewer)
}

// Update applies field edits on behalf of the viewer.
func (s *Service) Update(ctx context.Context, viewer *Viewer, id int64, edits map[string]interface{}, expected int64) (_ *UpdateResult, err error) {
	ctx, span := s.span(ctx, "update", attribute.Int64("reviewable.id", id), attribute.Int64("reviewable.version", expected))
	defer func() { endSpan(span, err) }()

	item, err := s.Get(ctx, viewer, id)
	if err != nil {
		return nil, err
	}
	res, err := s.updater.Update(ctx, item, viewer.Capabilities, edits, expected)
	outcome := outcomeOf(err)
	metrics.ReviewableUpdates.WithLabelValues(string(item.Kind), outcome).Inc()
	switch outcome {
	case metrics.OutcomeSuccess:
		s.topics.Invalidate(ctx)
		s.log.Info("reviewable updated",
			zap.Int64("reviewable_id", id),
			zap.Int64("user_id", viewer.UserID),
			zap.Strings("fields", res.Changed),
			zap.Int64("version", res.Item.Version))
	case metrics.OutcomeConflict:
		metrics.UpdateConflicts.WithLabelValues("update").Inc()
	case metrics.OutcomeError:
		return nil, pkgerrors.LogWithError(ctx, s.log, "failed to update reviewable", err, zap.Int64("reviewable_id", id))
	}
	return res, err
}

// Perform runs an action on behalf of the viewer.
func (s *Service) Perform(ctx context.Context, viewer *Viewer, id int64, action string, expected int64) (_ *ActionResult, err error) {
	ctx, span := s.span(ctx, "perform",
		attribute.Int64("reviewable.id", id),
		attribute.String("reviewable.action", action),
		attribute.Int64("reviewable.version", expected))
	defer func() { endSpan(span, err) }()

	item, err := s.Get(ctx, viewer, id)
	if err != nil {
		return nil, err
	}
	res, err := s.executor.Perform(ctx, item, viewer, action, expected)
	outcome := outcomeOf(err)
	if err == nil && !res.Success {
		outcome = metrics.OutcomeRejected
	}
	metrics.ReviewableActions.WithLabelValues(string(item.Kind), action, outcome).Inc()
	switch outcome {
	case metrics.OutcomeSuccess:
		s.topics.Invalidate(ctx)
		s.log.Info("reviewable action performed",
			zap.Int64("reviewable_id", id),
			zap.String("action", action),
			zap.Int64("user_id", viewer.UserID),
			zap.Stringer("from", res.Transition.From),
			zap.Stringer("to", res.Transition.To))
	case metrics.OutcomeRejected:
		s.log.Info("reviewable action rejected",
			zap.Int64("reviewable_id", id),
			zap.String("action", action),
			zap.Any("errors", res.Errors))
	case metrics.OutcomeConflict:
		metrics.UpdateConflicts.WithLabelValues("perform").Inc()
	case metrics.OutcomeError:
		return nil, pkgerrors.LogWithError(ctx, s.log, "failed to perform action", err,
			zap.Int64("reviewable_id", id), zap.String("action", action))
	}
	return res, err
}

// NeedsReview queues a target for review, reusing its pending item if one exists.
func (s *Service) NeedsReview(ctx context.Context, in NewItem) (_ *Item, created bool, err error) {
	ctx, span := s.span(ctx, "needs_review", attribute.String("reviewable.type", string(in.Kind)))
	defer func() { endSpan(span, err) }()

	if !s.registry.Recognized(in.Kind) {
		return nil, false, fmt.Errorf("%w: %q", ErrUnknownKind, in.Kind)
	}
	if in.Target.IsZero() {
		return nil, false, &ValidationError{Errors: []FieldError{{Field: "target", Code: CodeEmpty}}}
	}
	if in.CreatedBy == 0 {
		return nil, false, &ValidationError{Errors: []FieldError{{Field: "created_by_id", Code: CodeEmpty}}}
	}
	item := &Item{
		Kind:            in.Kind,
		Status:          StatusPending,
		Payload:         ClonePayload(in.Payload),
		Target:          in.Target,
		TopicID:         cloneInt64(in.TopicID),
		CategoryID:      cloneInt64(in.CategoryID),
		CreatedBy:       in.CreatedBy,
		TargetCreatedBy: cloneInt64(in.TargetCreatedBy),
	}
	out, created, err := s.repo.FindOrCreatePending(ctx, item)
	if err != nil {
		return nil, false, pkgerrors.LogWithError(ctx, s.log, "failed to queue reviewable", err,
			zap.String("type", string(in.Kind)), zap.Stringer("target", in.Target))
	}
	if created {
		s.topics.Invalidate(ctx)
		s.log.Info("reviewable queued", zap.Int64("reviewable_id", out.ID), zap.String("type", string(out.Kind)))
	}
	return out, created, nil
}

// AddScore records the viewer's score on a visible item.
func (s *Service) AddScore(ctx context.Context, viewer *Viewer, id int64, weight float64, reason string) (_ *Item, err error) {
	ctx, span := s.span(ctx, "add_score", attribute.Int64("reviewable.id", id))
	defer func() { endSpan(span, err) }()

	if _, err := s.Get(ctx, viewer, id); err != nil {
		return nil, err
	}
	item, err := s.repo.AddScore(ctx, Score{ItemID: id, UserID: viewer.UserID, Weight: weight, Reason: reason})
	if err != nil {
		if errors.Is(err, ErrDuplicateScore) || errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, pkgerrors.LogWithError(ctx, s.log, "failed to add score", err, zap.Int64("reviewable_id", id))
	}
	s.topics.Invalidate(ctx)
	return item, nil
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.Is(err, ErrUpdateConflict):
		return metrics.OutcomeConflict
	case errors.Is(err, ErrNotEditable), errors.Is(err, ErrValidationFailed),
		errors.Is(err, ErrInvalidAction), errors.Is(err, ErrNotFound):
		return metrics.OutcomeFailed
	default:
		return metrics.OutcomeError
	}
}
