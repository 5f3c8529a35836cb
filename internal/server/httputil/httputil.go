package httputil

import (
	"net/http"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"

	"github.com/nmxmxh/reviewqueue/pkg/json"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error     string      `json:"error"`
	ErrorType string      `json:"error_type,omitempty"`
	Details   string      `json:"details,omitempty"`
	Errors    interface{} `json:"errors,omitempty"`
}

// WriteErrorResponse writes body with status. Server errors are logged at error
// level, client errors at debug.
func WriteErrorResponse(w http.ResponseWriter, log *zap.Logger, status int, body ErrorResponse, err error, contextFields ...zap.Field) {
	fields := append(contextFields, zap.Int("status", status))
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	if status >= http.StatusInternalServerError {
		log.Error(body.Error, fields...)
	} else {
		log.Debug(body.Error, fields...)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if encErr := json.NewEncoder(w).Encode(body); encErr != nil {
		log.Error("Failed to write error response", zap.Error(encErr))
	}
}

// WriteJSONResponse writes a JSON response and logs on error.
func WriteJSONResponse(w http.ResponseWriter, log *zap.Logger, v interface{}) {
	WriteJSONStatus(w, log, http.StatusOK, v)
}

// WriteJSONStatus writes v with an explicit status code.
func WriteJSONStatus(w http.ResponseWriter, log *zap.Logger, status int, v interface{}) {
	body, err := json.Marshal(v)
	if err != nil {
		log.Error("Failed to write JSON response", zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(append(body, '\n')); err != nil {
		log.Debug("Failed to write response body", zap.Error(err))
	}
}

// GRPCStatusToHTTPStatus converts a gRPC status code to an appropriate HTTP status code.
func GRPCStatusToHTTPStatus(code codes.Code) int {
	switch code {
	case codes.OK:
		return http.StatusOK
	case codes.Canceled:
		return 499 // Client Closed Request
	case codes.Unknown:
		return http.StatusInternalServerError
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	case codes.NotFound:
		return http.StatusNotFound
	case codes.AlreadyExists:
		return http.StatusConflict
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	case codes.FailedPrecondition:
		return http.StatusUnprocessableEntity
	case codes.Aborted:
		return http.StatusConflict
	case codes.OutOfRange:
		return http.StatusBadRequest
	case codes.Unimplemented:
		return http.StatusNotImplemented
	case codes.Internal:
		return http.StatusInternalServerError
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	case codes.DataLoss:
		return http.StatusInternalServerError
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
