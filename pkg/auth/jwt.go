package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for tokens that fail signature or claim validation.
var ErrInvalidToken = errors.New("invalid token")

// Claims are the token claims understood by the review queue.
type Claims struct {
	Roles            []string `json:"roles,omitempty"`
	Scopes           []string `json:"scopes,omitempty"`
	ReviewCategories []int64  `json:"review_categories,omitempty"`
	jwt.RegisteredClaims
}

// ParseAndExtractAuthContext parses an HS256 JWT and returns the caller it describes.
func ParseAndExtractAuthContext(tokenStr, secret string) (*Context, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(_ *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	authCtx := &Context{
		UserID:            claims.Subject,
		Roles:             claims.Roles,
		Scopes:            claims.Scopes,
		JWTID:             claims.ID,
		ReviewCategoryIDs: claims.ReviewCategories,
	}
	if claims.IssuedAt != nil {
		authCtx.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		authCtx.ExpiresAt = claims.ExpiresAt.Time
	}
	return authCtx, nil
}

// IssueToken signs a token for userID. Used by tooling and tests.
func IssueToken(secret string, userID int64, roles []string, reviewCategories []int64, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Roles:            roles,
		ReviewCategories: reviewCategories,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
