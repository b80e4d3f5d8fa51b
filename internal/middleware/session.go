package middleware

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/jwalitptl/diagnosis-api/internal/handler"
	"github.com/jwalitptl/diagnosis-api/internal/model"
	apperrors "github.com/jwalitptl/diagnosis-api/pkg/errors"
)

const (
	HeaderSessionID = "X-Session-ID"

	ContextSessionRef = "session_ref"
	ContextClaims     = "session_claims"

	maxSessionRefLen = 128
)

var errInvalidToken = errors.New("invalid token")

// SessionMiddleware resolves the chat session of a request. A bearer token
// signed with the configured secret wins; otherwise the X-Session-ID header
// is used. Anonymous requests proceed with an empty session reference.
type SessionMiddleware struct {
	secret []byte
	parser *jwt.Parser
}

func NewSessionMiddleware(secret string) *SessionMiddleware {
	return &SessionMiddleware{
		secret: []byte(secret),
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})),
	}
}

func (m *SessionMiddleware) Session() gin.HandlerFunc {
	return func(c *gin.Context) {
		if token, ok := bearerToken(c.GetHeader("Authorization")); ok {
			claims, err := m.parse(token)
			if err != nil {
				handler.RespondError(c, apperrors.Unauthorized(err))
				return
			}
			c.Set(ContextClaims, claims)
			c.Set(ContextSessionRef, truncate(claims.Subject, maxSessionRefLen))
			c.Next()
			return
		}

		c.Set(ContextSessionRef, truncate(strings.TrimSpace(c.GetHeader(HeaderSessionID)), maxSessionRefLen))
		c.Next()
	}
}

// RequireRole only lets through requests whose verified token carries role.
func (m *SessionMiddleware) RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := Claims(c)
		if !ok {
			handler.RespondError(c, apperrors.Unauthorized(errors.New("missing bearer token")))
			return
		}
		if !claims.HasRole(role) {
			handler.RespondError(c, &apperrors.AppError{
				Code:    apperrors.ErrForbidden,
				Message: "forbidden",
			})
			return
		}
		c.Next()
	}
}

func (m *SessionMiddleware) parse(token string) (*model.SessionClaims, error) {
	if len(m.secret) == 0 {
		return nil, errInvalidToken
	}
	claims := &model.SessionClaims{}
	parsed, err := m.parser.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return m.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, errInvalidToken
	}
	return claims, nil
}

// SessionRef returns the session reference resolved for the request.
func SessionRef(c *gin.Context) string {
	return c.GetString(ContextSessionRef)
}

func Claims(c *gin.Context) (*model.SessionClaims, bool) {
	v, ok := c.Get(ContextClaims)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*model.SessionClaims)
	return claims, ok
}

func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
