package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"

	"github.com/nmxmxh/reviewqueue/internal/server/httputil"
	"github.com/nmxmxh/reviewqueue/internal/service/reviewable"
	"github.com/nmxmxh/reviewqueue/pkg/auth"
	pkgerrors "github.com/nmxmxh/reviewqueue/pkg/errors"
	"github.com/nmxmxh/reviewqueue/pkg/json"
	"github.com/nmxmxh/reviewqueue/pkg/logger"
	"github.com/nmxmxh/reviewqueue/pkg/metrics"
)

// ReviewableHandler serves the review queue over HTTP.
type ReviewableHandler struct {
	log             *zap.Logger
	svc             *reviewable.Service
	perPage         int
	minScoreDefault float64
}

// NewReviewableHandler creates the handler. perPage fixes the page size of the
// queue listing; minScoreDefault applies when a request omits min_score.
func NewReviewableHandler(log *zap.Logger, svc *reviewable.Service, perPage int, minScoreDefault float64) *ReviewableHandler {
	return &ReviewableHandler{
		log:             log.With(zap.String("module", "reviewable_http")),
		svc:             svc,
		perPage:         perPage,
		minScoreDefault: minScoreDefault,
	}
}

// Register mounts the review routes on mux.
func (h *ReviewableHandler) Register(mux *http.ServeMux) {
	routes := []struct {
		pattern string
		fn      http.HandlerFunc
	}{
		{"GET /review", h.index},
		{"GET /review/topics", h.topics},
		{"GET /review/{id}", h.show},
		{"PUT /review/{id}", h.update},
		{"PUT /review/{id}/perform/{action}", h.perform},
		{"POST /review", h.create},
		{"POST /review/{id}/scores", h.addScore},
	}
	for _, rt := range routes {
		mux.Handle(rt.pattern, metrics.Instrument(rt.pattern, rt.fn))
	}
}

type listEntry struct {
	Reviewable *reviewable.Item `json:"reviewable"`
	Actions    []string         `json:"actions"`
}

type listMeta struct {
	TotalRows  int                    `json:"total_rows_reviewables"`
	NextOffset *int                   `json:"load_more_offset,omitempty"`
	MinScore   float64                `json:"min_score"`
	Status     string                 `json:"status"`
	Filters    map[string]interface{} `json:"filters"`
	Types      map[string]string      `json:"types"`
}

type listResponse struct {
	Reviewables []listEntry `json:"reviewables"`
	Meta        listMeta    `json:"meta"`
}

func (h *ReviewableHandler) index(w http.ResponseWriter, r *http.Request) {
	viewer, err := viewerFromRequest(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	params, err := h.listParams(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	items, err := h.svc.List(r.Context(), viewer, params)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	total, err := h.svc.Count(r.Context(), viewer, params)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := listResponse{
		Reviewables: make([]listEntry, len(items)),
		Meta: listMeta{
			TotalRows: total,
			MinScore:  params.MinScore,
			Status:    params.Status,
			Filters:   map[string]interface{}{},
			Types:     map[string]string{"created_by": "user", "target_created_by": "user"},
		},
	}
	for i, item := range items {
		resp.Reviewables[i] = listEntry{Reviewable: item, Actions: h.svc.Matrix().ActionIDs(item, viewer.Capabilities)}
	}
	if next := params.Offset + h.perPage; next < total {
		resp.Meta.NextOffset = &next
	}
	if params.Kind != "" {
		resp.Meta.Filters["type"] = params.Kind
	}
	if params.CategoryID != nil {
		resp.Meta.Filters["category_id"] = *params.CategoryID
	}
	if params.TopicID != nil {
		resp.Meta.Filters["topic_id"] = *params.TopicID
	}
	httputil.WriteJSONResponse(w, h.log, resp)
}

func (h *ReviewableHandler) listParams(r *http.Request) (reviewable.ListParams, error) {
	q := r.URL.Query()
	p := reviewable.ListParams{
		Status:   q.Get("status"),
		Kind:     q.Get("type"),
		MinScore: h.minScoreDefault,
		Limit:    h.perPage,
	}
	if p.Status == "" {
		p.Status = reviewable.StatusPending.String()
	}
	var err error
	if p.CategoryID, err = optionalInt64(q.Get("category_id"), "category_id"); err != nil {
		return p, err
	}
	if p.TopicID, err = optionalInt64(q.Get("topic_id"), "topic_id"); err != nil {
		return p, err
	}
	if v := q.Get("min_score"); v != "" {
		if p.MinScore, err = strconv.ParseFloat(v, 64); err != nil {
			return p, &reviewable.InvalidFilterError{Param: "min_score", Value: v}
		}
	}
	if v := q.Get("offset"); v != "" {
		if p.Offset, err = strconv.Atoi(v); err != nil {
			return p, &reviewable.InvalidFilterError{Param: "offset", Value: v}
		}
	}
	return p, nil
}

func optionalInt64(v, param string) (*int64, error) {
	if v == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil, &reviewable.InvalidFilterError{Param: param, Value: v}
	}
	return &n, nil
}

func (h *ReviewableHandler) topics(w http.ResponseWriter, r *http.Request) {
	viewer, err := viewerFromRequest(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	stats, err := h.svc.Topics(r.Context(), viewer)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSONResponse(w, h.log, map[string]interface{}{"reviewable_topics": stats})
}

func (h *ReviewableHandler) show(w http.ResponseWriter, r *http.Request) {
	viewer, id, err := h.viewerAndID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	detail, err := h.svc.Show(r.Context(), viewer, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSONResponse(w, h.log, detail)
}

func (h *ReviewableHandler) update(w http.ResponseWriter, r *http.Request) {
	viewer, id, err := h.viewerAndID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	body, err := json.DecodeObject(r.Body)
	if err != nil {
		h.writeError(w, r, pkgerrors.Wrap(pkgerrors.ErrInvalidParameter, "request body"))
		return
	}
	version, err := versionFrom(body["version"], "")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	edits, _ := body["reviewable"].(map[string]interface{})
	res, err := h.svc.Update(r.Context(), viewer, id, edits, version)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make(map[string]interface{}, len(edits)+1)
	for k, v := range edits {
		out[k] = v
	}
	out["version"] = res.Item.Version
	httputil.WriteJSONResponse(w, h.log, map[string]interface{}{"reviewable": out})
}

type performResponse struct {
	Success           bool    `json:"success"`
	Action            string  `json:"action"`
	Version           int64   `json:"version"`
	TransitionTo      string  `json:"transition_to"`
	RemoveReviewables []int64 `json:"remove_reviewable_ids"`
}

func (h *ReviewableHandler) perform(w http.ResponseWriter, r *http.Request) {
	viewer, id, err := h.viewerAndID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	action := r.PathValue("action")
	var raw interface{}
	if r.ContentLength != 0 {
		body, err := json.DecodeObject(r.Body)
		if err != nil {
			h.writeError(w, r, pkgerrors.Wrap(pkgerrors.ErrInvalidParameter, "request body"))
			return
		}
		raw = body["version"]
	}
	version, err := versionFrom(raw, r.URL.Query().Get("version"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.svc.Perform(r.Context(), viewer, id, action, version)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !res.Success {
		httputil.WriteErrorResponse(w, h.log, http.StatusUnprocessableEntity, httputil.ErrorResponse{
			Error:     "action failed",
			ErrorType: "business_rule",
			Errors:    res.Errors,
		}, nil, zap.Int64("reviewable_id", id), zap.String("action", action))
		return
	}
	resp := performResponse{
		Success:           true,
		Action:            res.Action,
		Version:           res.Version,
		TransitionTo:      res.Transition.To.String(),
		RemoveReviewables: []int64{},
	}
	if res.RemovedFromQueue() {
		resp.RemoveReviewables = append(resp.RemoveReviewables, id)
	}
	httputil.WriteJSONResponse(w, h.log, map[string]interface{}{"reviewable_perform_result": resp})
}

type createRequest struct {
	Type              string                 `json:"type"`
	TargetType        string                 `json:"target_type"`
	TargetID          int64                  `json:"target_id"`
	TopicID           *int64                 `json:"topic_id"`
	CategoryID        *int64                 `json:"category_id"`
	TargetCreatedByID *int64                 `json:"target_created_by_id"`
	Payload           map[string]interface{} `json:"payload"`
}

func (h *ReviewableHandler) create(w http.ResponseWriter, r *http.Request) {
	viewer, err := viewerFromRequest(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !viewer.Capabilities.Has(reviewable.CapModerator) {
		h.writeError(w, r, pkgerrors.ErrInvalidAccess)
		return
	}
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, pkgerrors.Wrap(pkgerrors.ErrInvalidParameter, "request body"))
		return
	}
	item, created, err := h.svc.NeedsReview(r.Context(), reviewable.NewItem{
		Kind:            reviewable.Kind(req.Type),
		Target:          reviewable.TargetRef{Type: req.TargetType, ID: req.TargetID},
		Payload:         req.Payload,
		TopicID:         req.TopicID,
		CategoryID:      req.CategoryID,
		CreatedBy:       viewer.UserID,
		TargetCreatedBy: req.TargetCreatedByID,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	httputil.WriteJSONStatus(w, h.log, status, map[string]interface{}{"reviewable": item, "created": created})
}

type scoreRequest struct {
	Score  *float64 `json:"score"`
	Reason string   `json:"reason"`
}

func (h *ReviewableHandler) addScore(w http.ResponseWriter, r *http.Request) {
	viewer, id, err := h.viewerAndID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req scoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, pkgerrors.Wrap(pkgerrors.ErrInvalidParameter, "request body"))
		return
	}
	weight := 1.0
	if req.Score != nil {
		weight = *req.Score
	}
	item, err := h.svc.AddScore(r.Context(), viewer, id, weight, req.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSONResponse(w, h.log, map[string]interface{}{"reviewable": item})
}

func (h *ReviewableHandler) viewerAndID(r *http.Request) (*reviewable.Viewer, int64, error) {
	viewer, err := viewerFromRequest(r)
	if err != nil {
		return nil, 0, err
	}
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		return nil, 0, reviewable.ErrNotFound
	}
	return viewer, id, nil
}

// viewerFromRequest maps the authenticated caller onto a review viewer. Roles
// and scopes both become capabilities.
func viewerFromRequest(r *http.Request) (*reviewable.Viewer, error) {
	authCtx := auth.FromContext(r.Context())
	if authCtx.IsGuest() {
		return nil, pkgerrors.ErrNotLoggedIn
	}
	userID, err := strconv.ParseInt(authCtx.UserID, 10, 64)
	if err != nil {
		return nil, pkgerrors.ErrInvalidAccess
	}
	caps := make([]reviewable.Capability, 0, len(authCtx.Roles)+len(authCtx.Scopes))
	for _, role := range authCtx.Roles {
		caps = append(caps, reviewable.Capability(role))
	}
	for _, scope := range authCtx.Scopes {
		caps = append(caps, reviewable.Capability(scope))
	}
	return reviewable.NewViewer(userID, caps, authCtx.ReviewCategoryIDs), nil
}

// versionFrom reads the expected version from a decoded JSON value, falling
// back to a query string value.
func versionFrom(raw interface{}, query string) (int64, error) {
	switch v := raw.(type) {
	case float64:
		if v == float64(int64(v)) {
			return int64(v), nil
		}
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n, nil
		}
	case nil:
		if query == "" {
			return 0, pkgerrors.ErrMissingVersion
		}
		if n, err := strconv.ParseInt(query, 10, 64); err == nil {
			return n, nil
		}
	}
	return 0, pkgerrors.ErrMissingVersion
}

// ErrorCode classifies err for the response status.
func ErrorCode(err error) (codes.Code, string) {
	switch {
	case errors.Is(err, pkgerrors.ErrNotLoggedIn):
		return codes.PermissionDenied, "not_logged_in"
	case errors.Is(err, reviewable.ErrUpdateConflict):
		return codes.Aborted, "update_conflict"
	case errors.Is(err, reviewable.ErrNotEditable):
		return codes.PermissionDenied, "not_editable"
	case errors.Is(err, reviewable.ErrInvalidAction), errors.Is(err, pkgerrors.ErrInvalidAccess):
		return codes.PermissionDenied, "invalid_access"
	case errors.Is(err, reviewable.ErrNotFound):
		return codes.NotFound, "not_found"
	case errors.Is(err, reviewable.ErrInvalidFilter):
		return codes.InvalidArgument, "invalid_filter"
	case errors.Is(err, reviewable.ErrUnknownKind):
		return codes.InvalidArgument, "unknown_type"
	case errors.Is(err, pkgerrors.ErrInvalidParameter):
		return codes.InvalidArgument, "invalid_parameters"
	case errors.Is(err, reviewable.ErrValidationFailed):
		return codes.FailedPrecondition, "validation_failed"
	case errors.Is(err, pkgerrors.ErrMissingVersion):
		return codes.FailedPrecondition, "missing_version"
	case errors.Is(err, reviewable.ErrBusinessRule):
		return codes.FailedPrecondition, "business_rule"
	case errors.Is(err, reviewable.ErrDuplicateScore):
		return codes.FailedPrecondition, "duplicate_score"
	default:
		return codes.Internal, "internal"
	}
}

func (h *ReviewableHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code, errType := ErrorCode(err)
	status := httputil.GRPCStatusToHTTPStatus(code)
	body := httputil.ErrorResponse{Error: err.Error(), ErrorType: errType}
	switch {
	case code == codes.Internal:
		body.Error = "internal server error"
	case errType == "invalid_access":
		// Unavailable actions read exactly like any other access denial.
		body.Error = pkgerrors.ErrInvalidAccess.Error()
	}
	var (
		validation  *reviewable.ValidationError
		notEditable *reviewable.NotEditableError
		rule        *reviewable.BusinessRuleError
	)
	switch {
	case errors.As(err, &validation):
		body.Errors = validation.Errors
	case errors.As(err, &notEditable):
		body.Errors = []reviewable.FieldError{{Field: notEditable.Field, Code: "not_editable"}}
	case errors.As(err, &rule):
		body.Errors = rule.Errors
	}
	fields := []zap.Field{zap.String("path", r.URL.Path)}
	if reqID := logger.RequestID(r.Context()); reqID != "" {
		fields = append(fields, zap.String("request_id", reqID))
	}
	httputil.WriteErrorResponse(w, h.log, status, body, err, fields...)
}
