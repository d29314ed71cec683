package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"

	actorContextKey = "auth.actor"
)

var ErrInvalidToken = errors.New("invalid or expired token")

// Actor is the authenticated caller of a client-initiated operation.
type Actor struct {
	ID   string
	Role string
}

func (a Actor) Admin() bool {
	return a.Role == RoleAdmin
}

type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// GenerateToken issues an HS256 bearer token for an actor.
func GenerateToken(secret []byte, actor Actor, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("jwt secret is not configured")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	role := actor.Role
	if role == "" {
		role = RoleUser
	}

	now := time.Now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    "payments-service",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// ParseToken validates a bearer token and returns the actor it names.
func ParseToken(secret []byte, tokenString string) (Actor, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return secret, nil
	})
	if err != nil || !token.Valid {
		return Actor{}, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return Actor{}, ErrInvalidToken
	}

	role := claims.Role
	if role == "" {
		role = RoleUser
	}
	return Actor{ID: claims.Subject, Role: role}, nil
}

// RequireActor rejects requests without a valid bearer token and stores the
// actor on the echo context for handlers.
func RequireActor(secret []byte) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			header := strings.TrimSpace(ctx.Request().Header.Get(echo.HeaderAuthorization))
			if header == "" || !strings.HasPrefix(header, "Bearer ") {
				return ctx.JSON(http.StatusUnauthorized, map[string]string{"error": "authorization bearer token is required"})
			}

			actor, err := ParseToken(secret, strings.TrimSpace(strings.TrimPrefix(header, "Bearer ")))
			if err != nil {
				return ctx.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid or expired token"})
			}

			SetActor(ctx, actor)
			return next(ctx)
		}
	}
}

// SetActor stores the actor on the echo context.
func SetActor(ctx echo.Context, actor Actor) {
	ctx.Set(actorContextKey, actor)
}

// ActorFromContext returns the actor stored by RequireActor.
func ActorFromContext(ctx echo.Context) (Actor, bool) {
	actor, ok := ctx.Get(actorContextKey).(Actor)
	return actor, ok
}
