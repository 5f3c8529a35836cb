package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func TestIssueAndParse(t *testing.T) {
	token, err := IssueToken(testSecret, 42, []string{"moderator"}, []int64{3, 4}, time.Hour)
	require.NoError(t, err)

	authCtx, err := ParseAndExtractAuthContext(token, testSecret)
	require.NoError(t, err)
	assert.Equal(t, "42", authCtx.UserID)
	assert.Equal(t, []string{"moderator"}, authCtx.Roles)
	assert.Equal(t, []int64{3, 4}, authCtx.ReviewCategoryIDs)
	assert.False(t, authCtx.IsGuest())
}

func TestParseRejectsBadTokens(t *testing.T) {
	token, err := IssueToken(testSecret, 1, nil, nil, time.Hour)
	require.NoError(t, err)

	_, err = ParseAndExtractAuthContext(token, "other-secret")
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired, err := IssueToken(testSecret, 1, nil, nil, -time.Minute)
	require.NoError(t, err)
	_, err = ParseAndExtractAuthContext(expired, testSecret)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTMiddleware(t *testing.T) {
	token, err := IssueToken(testSecret, 7, []string{"admin"}, nil, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name      string
		header    string
		wantGuest bool
	}{
		{name: "no header", header: "", wantGuest: true},
		{name: "not bearer", header: "Basic abc", wantGuest: true},
		{name: "garbage token", header: "Bearer nope", wantGuest: true},
		{name: "valid token", header: "Bearer " + token, wantGuest: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got *Context
			h := JWTMiddleware(testSecret, http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
				got = FromContext(r.Context())
			}))
			req := httptest.NewRequest(http.MethodGet, "/review", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)
			require.NotNil(t, got)
			assert.Equal(t, tt.wantGuest, got.IsGuest())
		})
	}
}

func TestFromContextDefaultsToGuest(t *testing.T) {
	got := FromContext(context.Background())
	assert.True(t, got.IsGuest())
	assert.Equal(t, []string{"guest"}, got.Roles)
}
