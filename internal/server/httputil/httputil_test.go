package httputil

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc/codes"

	"github.com/nmxmxh/reviewqueue/pkg/json"
)

func TestGRPCStatusToHTTPStatus(t *testing.T) {
	tests := []struct {
		code codes.Code
		want int
	}{
		{codes.OK, http.StatusOK},
		{codes.Aborted, http.StatusConflict},
		{codes.PermissionDenied, http.StatusForbidden},
		{codes.NotFound, http.StatusNotFound},
		{codes.InvalidArgument, http.StatusBadRequest},
		{codes.FailedPrecondition, http.StatusUnprocessableEntity},
		{codes.Internal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.code.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, GRPCStatusToHTTPStatus(tt.code))
		})
	}
}

func TestWriteErrorResponse(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteErrorResponse(rec, zaptest.NewLogger(t), http.StatusBadRequest,
		ErrorResponse{Error: "bad filter", ErrorType: "invalid_filter"}, errors.New("status"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "bad filter", body.Error)
	assert.Equal(t, "invalid_filter", body.ErrorType)
}

func TestWriteJSONStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSONStatus(rec, zaptest.NewLogger(t), http.StatusCreated, map[string]int{"id": 3})

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"id":3}`, rec.Body.String())
}
