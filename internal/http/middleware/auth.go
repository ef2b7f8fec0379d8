package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/wolfman30/careflow-scheduling/internal/actor"
	"github.com/wolfman30/careflow-scheduling/internal/http/respond"
)

type contextKey string

const staffClaimsKey contextKey = "staffClaims"

const actorHeader = "X-Actor-ID"

// Staff token failures. The messages are safe to return to callers.
var (
	ErrMissingToken = errors.New("missing authorization header")
	ErrInvalidToken = errors.New("invalid token")
)

// ParseStaffToken verifies the Authorization header value "Bearer <jwt>"
// against secret and returns the token claims.
func ParseStaffToken(secret, authorization string) (jwt.RegisteredClaims, error) {
	claims := jwt.RegisteredClaims{}
	if authorization == "" || !strings.HasPrefix(authorization, "Bearer ") {
		return claims, ErrMissingToken
	}
	tokenString := strings.TrimPrefix(authorization, "Bearer ")
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return claims, ErrInvalidToken
	}
	return claims, nil
}

// StaffJWT enforces an HMAC-signed bearer token issued by the identity
// service. The token subject becomes the actor recorded on every change.
func StaffJWT(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				unauthorized(w, "staff auth disabled")
				return
			}
			claims, err := ParseStaffToken(secret, r.Header.Get("Authorization"))
			if err != nil {
				unauthorized(w, err.Error())
				return
			}
			ctx := context.WithValue(r.Context(), staffClaimsKey, claims)
			if claims.Subject != "" {
				ctx = actor.WithID(ctx, claims.Subject)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// StaffClaimsFromContext returns the verified token claims if present.
func StaffClaimsFromContext(ctx context.Context) (jwt.RegisteredClaims, bool) {
	claims, ok := ctx.Value(staffClaimsKey).(jwt.RegisteredClaims)
	return claims, ok
}

// ActorFromHeader records the X-Actor-ID header as the actor unless a
// verified token already set one.
func ActorFromHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := actor.IDFromContext(r.Context()); !ok {
			if id := strings.TrimSpace(r.Header.Get(actorHeader)); id != "" {
				r = r.WithContext(actor.WithID(r.Context(), id))
			}
		}
		next.ServeHTTP(w, r)
	})
}

func unauthorized(w http.ResponseWriter, msg string) {
	respond.JSON(w, http.StatusUnauthorized, map[string]string{"error": msg})
}
