package handlers_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc/codes"

	reviewablerepo "github.com/nmxmxh/reviewqueue/internal/repository/reviewable"
	"github.com/nmxmxh/reviewqueue/internal/server/handlers"
	"github.com/nmxmxh/reviewqueue/internal/service/reviewable"
	"github.com/nmxmxh/reviewqueue/internal/service/reviewable/kinds"
	"github.com/nmxmxh/reviewqueue/pkg/auth"
	pkgerrors "github.com/nmxmxh/reviewqueue/pkg/errors"
	"github.com/nmxmxh/reviewqueue/pkg/json"
)

const secret = "test-secret"

type api struct {
	t       *testing.T
	handler http.Handler
	svc     *reviewable.Service
	repo    *reviewablerepo.MemoryRepository
}

func newAPI(t *testing.T, perPage int) *api {
	t.Helper()
	registry, err := kinds.Default(kinds.Options{})
	require.NoError(t, err)
	repo := reviewablerepo.NewMemoryRepository()
	log := zaptest.NewLogger(t)
	svc := reviewable.NewService(log, repo, registry)
	mux := http.NewServeMux()
	handlers.NewReviewableHandler(log, svc, perPage, 0).Register(mux)
	return &api{t: t, handler: auth.JWTMiddleware(secret, mux), svc: svc, repo: repo}
}

func token(t *testing.T, userID int64, roles []string, categories []int64) string {
	t.Helper()
	tok, err := auth.IssueToken(secret, userID, roles, categories, time.Hour)
	require.NoError(t, err)
	return tok
}

func (a *api) do(method, path, tok string, body interface{}) (int, map[string]interface{}) {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	out := map[string]interface{}{}
	if rec.Body.Len() > 0 {
		require.NoError(a.t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec.Code, out
}

func (a *api) queue(kind reviewable.Kind, targetID, category int64, payload map[string]interface{}) *reviewable.Item {
	a.t.Helper()
	item, _, err := a.svc.NeedsReview(context.Background(), reviewable.NewItem{
		Kind:            kind,
		Target:          reviewable.TargetRef{Type: "post", ID: targetID},
		CategoryID:      reviewable.Int64(category),
		CreatedBy:       99,
		TargetCreatedBy: reviewable.Int64(50),
		Payload:         payload,
	})
	require.NoError(a.t, err)
	return item
}

func TestIndexRequiresLogin(t *testing.T) {
	a := newAPI(t, 10)
	status, body := a.do(http.MethodGet, "/review", "", nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "not_logged_in", body["error_type"])
}

func TestIndexListsQueue(t *testing.T) {
	a := newAPI(t, 2)
	for i := int64(1); i <= 3; i++ {
		a.queue(kinds.FlaggedPost, i, 10, nil)
	}
	mod := token(t, 1, []string{"moderator"}, nil)

	status, body := a.do(http.MethodGet, "/review", mod, nil)
	require.Equal(t, http.StatusOK, status)
	entries := body["reviewables"].([]interface{})
	assert.Len(t, entries, 2)
	first := entries[0].(map[string]interface{})
	assert.Equal(t, []interface{}{"approve", "reject", "ignore", "delete"}, first["actions"])
	assert.Equal(t, "pending", first["reviewable"].(map[string]interface{})["status"])
	meta := body["meta"].(map[string]interface{})
	assert.Equal(t, float64(3), meta["total_rows_reviewables"])
	assert.Equal(t, float64(2), meta["load_more_offset"])
	assert.Equal(t, "pending", meta["status"])

	status, body = a.do(http.MethodGet, "/review?offset=2", mod, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["reviewables"], 1)
	assert.NotContains(t, body["meta"], "load_more_offset")

	status, body = a.do(http.MethodGet, "/review?type=flagged_post&category_id=10", token(t, 3, nil, []int64{10}), nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["reviewables"], 2)
	assert.Equal(t, "flagged_post", body["meta"].(map[string]interface{})["filters"].(map[string]interface{})["type"])
}

func TestIndexRejectsBadFilters(t *testing.T) {
	a := newAPI(t, 10)
	mod := token(t, 1, []string{"moderator"}, nil)
	for _, q := range []string{"status=all", "type=flagged_topic", "min_score=high", "offset=-1", "category_id=x"} {
		status, body := a.do(http.MethodGet, "/review?"+q, mod, nil)
		assert.Equal(t, http.StatusBadRequest, status, q)
		assert.Equal(t, "invalid_filter", body["error_type"], q)
	}
}

func TestShow(t *testing.T) {
	a := newAPI(t, 10)
	item := a.queue(kinds.FlaggedPost, 1, 10, nil)
	path := fmt.Sprintf("/review/%d", item.ID)

	status, body := a.do(http.MethodGet, path, token(t, 1, []string{"moderator"}, nil), nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []interface{}{"payload.moderator_note"}, body["editable_fields"])
	assert.Equal(t, float64(item.ID), body["reviewable"].(map[string]interface{})["id"])

	status, _ = a.do(http.MethodGet, path, token(t, 3, nil, []int64{11}), nil)
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = a.do(http.MethodGet, "/review/abc", token(t, 1, []string{"moderator"}, nil), nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestUpdate(t *testing.T) {
	a := newAPI(t, 10)
	item := a.queue(kinds.QueuedPost, 1, 10, map[string]interface{}{"raw": "body"})
	path := fmt.Sprintf("/review/%d", item.ID)
	mod := token(t, 1, []string{"moderator"}, nil)

	status, body := a.do(http.MethodPut, path, mod, map[string]interface{}{
		"reviewable": map[string]interface{}{"payload": map[string]interface{}{"raw": "edited"}},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "missing_version", body["error_type"])

	status, body = a.do(http.MethodPut, path, mod, map[string]interface{}{
		"version":    0,
		"reviewable": map[string]interface{}{"payload": map[string]interface{}{"raw": "edited", "title": "T"}},
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(1), body["reviewable"].(map[string]interface{})["version"])

	status, body = a.do(http.MethodPut, path, mod, map[string]interface{}{
		"version":    0,
		"reviewable": map[string]interface{}{"payload": map[string]interface{}{"raw": "stale"}},
	})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "update_conflict", body["error_type"])

	status, body = a.do(http.MethodPut, path, token(t, 3, nil, []int64{10}), map[string]interface{}{
		"version":    1,
		"reviewable": map[string]interface{}{"category_id": 12},
	})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "not_editable", body["error_type"])
	errs := body["errors"].([]interface{})
	assert.Equal(t, "category_id", errs[0].(map[string]interface{})["field"])

	status, body = a.do(http.MethodPut, path, mod, map[string]interface{}{
		"version":    1,
		"reviewable": map[string]interface{}{"payload": map[string]interface{}{"raw": ""}},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "validation_failed", body["error_type"])
	assert.Len(t, body["errors"], 1)
}

func TestPerform(t *testing.T) {
	a := newAPI(t, 10)
	mod := token(t, 1, []string{"moderator"}, nil)
	item := a.queue(kinds.FlaggedPost, 1, 10, nil)
	path := fmt.Sprintf("/review/%d/perform/approve", item.ID)

	status, body := a.do(http.MethodPut, path, mod, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "missing_version", body["error_type"])

	status, body = a.do(http.MethodPut, fmt.Sprintf("/review/%d/perform/delete", item.ID), token(t, 3, nil, []int64{10}), map[string]interface{}{"version": 0})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "invalid_access", body["error_type"])

	status, body = a.do(http.MethodPut, path+"?version=0", mod, nil)
	require.Equal(t, http.StatusOK, status)
	result := body["reviewable_perform_result"].(map[string]interface{})
	assert.Equal(t, true, result["success"])
	assert.Equal(t, "approved", result["transition_to"])
	assert.Equal(t, float64(1), result["version"])
	assert.Equal(t, []interface{}{float64(item.ID)}, result["remove_reviewable_ids"])

	status, body = a.do(http.MethodPut, path, mod, map[string]interface{}{"version": 0})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "update_conflict", body["error_type"])
	assert.Len(t, a.repo.Notifications(), 1)
}

func TestUnavailableActionLooksLikeAccessDenied(t *testing.T) {
	a := newAPI(t, 10)
	item := a.queue(kinds.FlaggedPost, 1, 10, nil)
	reviewer := token(t, 3, nil, []int64{10})

	actionStatus, actionBody := a.do(http.MethodPut, fmt.Sprintf("/review/%d/perform/delete", item.ID), reviewer,
		map[string]interface{}{"version": 0})
	accessStatus, accessBody := a.do(http.MethodPost, "/review", reviewer, map[string]interface{}{
		"type": "flagged_post", "target_type": "post", "target_id": 2, "category_id": 10,
	})

	assert.Equal(t, http.StatusForbidden, actionStatus)
	assert.Equal(t, accessStatus, actionStatus)
	assert.Equal(t, accessBody, actionBody)
}

func TestPerformBusinessFailure(t *testing.T) {
	a := newAPI(t, 10)
	item := a.queue(kinds.FlaggedPost, 1, 10, nil)
	a.repo.SeedTargetState(item.Target, reviewable.TargetDeleted)

	status, body := a.do(http.MethodPut, fmt.Sprintf("/review/%d/perform/approve", item.ID),
		token(t, 1, []string{"moderator"}, nil), map[string]interface{}{"version": 0})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "business_rule", body["error_type"])
	errs := body["errors"].([]interface{})
	require.Len(t, errs, 1)
	assert.Equal(t, "target_deleted", errs[0].(map[string]interface{})["code"])
}

func TestCreate(t *testing.T) {
	a := newAPI(t, 10)
	req := map[string]interface{}{
		"type":        "flagged_post",
		"target_type": "post",
		"target_id":   44,
		"category_id": 10,
	}

	status, _ := a.do(http.MethodPost, "/review", token(t, 3, nil, []int64{10}), req)
	assert.Equal(t, http.StatusForbidden, status)

	mod := token(t, 1, []string{"moderator"}, nil)
	status, body := a.do(http.MethodPost, "/review", mod, req)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, true, body["created"])
	status, body = a.do(http.MethodPost, "/review", mod, req)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["created"])

	req["type"] = "flagged_topic"
	status, body = a.do(http.MethodPost, "/review", mod, req)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "unknown_type", body["error_type"])
}

func TestAddScoreAndTopics(t *testing.T) {
	a := newAPI(t, 10)
	item, _, err := a.svc.NeedsReview(context.Background(), reviewable.NewItem{
		Kind:       kinds.FlaggedPost,
		Target:     reviewable.TargetRef{Type: "post", ID: 1},
		CategoryID: reviewable.Int64(10),
		TopicID:    reviewable.Int64(5),
		CreatedBy:  99,
	})
	require.NoError(t, err)
	path := fmt.Sprintf("/review/%d/scores", item.ID)
	reviewer := token(t, 3, nil, []int64{10})

	status, body := a.do(http.MethodPost, path, reviewer, map[string]interface{}{"reason": "spam"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(1), body["reviewable"].(map[string]interface{})["score"])

	status, body = a.do(http.MethodPost, path, reviewer, map[string]interface{}{"score": 3})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "duplicate_score", body["error_type"])

	status, body = a.do(http.MethodGet, "/review/topics", reviewer, nil)
	require.Equal(t, http.StatusOK, status)
	topics := body["reviewable_topics"].([]interface{})
	require.Len(t, topics, 1)
	topic := topics[0].(map[string]interface{})
	assert.Equal(t, float64(5), topic["id"])
	assert.Equal(t, float64(1), topic["reviewable_count"])
	assert.Equal(t, float64(1), topic["unique_users"])
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		code codes.Code
		typ  string
	}{
		{pkgerrors.ErrNotLoggedIn, codes.PermissionDenied, "not_logged_in"},
		{reviewable.ErrUpdateConflict, codes.Aborted, "update_conflict"},
		{&reviewable.InvalidActionError{Action: "x"}, codes.PermissionDenied, "invalid_access"},
		{pkgerrors.ErrInvalidAccess, codes.PermissionDenied, "invalid_access"},
		{&reviewable.NotEditableError{Field: "f"}, codes.PermissionDenied, "not_editable"},
		{fmt.Errorf("wrapped: %w", reviewable.ErrNotFound), codes.NotFound, "not_found"},
		{&reviewable.InvalidFilterError{Param: "status"}, codes.InvalidArgument, "invalid_filter"},
		{&reviewable.ValidationError{}, codes.FailedPrecondition, "validation_failed"},
		{reviewable.ErrDuplicateScore, codes.FailedPrecondition, "duplicate_score"},
		{errors.New("boom"), codes.Internal, "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			code, typ := handlers.ErrorCode(tt.err)
			assert.Equal(t, tt.code, code)
			assert.Equal(t, tt.typ, typ)
		})
	}
}
