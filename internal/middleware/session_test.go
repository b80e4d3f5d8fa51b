package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/diagnosis-api/internal/model"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret, subject string, roles []string, expires time.Time) string {
	t.Helper()
	claims := model.SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		Roles: roles,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func sessionRouter(m *SessionMiddleware, extra ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handlers := append([]gin.HandlerFunc{m.Session()}, extra...)
	handlers = append(handlers, func(c *gin.Context) {
		c.String(http.StatusOK, SessionRef(c))
	})
	r.GET("/", handlers...)
	return r
}

func TestSessionResolution(t *testing.T) {
	m := NewSessionMiddleware(testSecret)
	hour := time.Now().Add(time.Hour)

	tests := []struct {
		name       string
		header     map[string]string
		wantStatus int
		wantRef    string
	}{
		{
			name:       "anonymous",
			wantStatus: http.StatusOK,
			wantRef:    "",
		},
		{
			name:       "session header",
			header:     map[string]string{HeaderSessionID: " chat-42 "},
			wantStatus: http.StatusOK,
			wantRef:    "chat-42",
		},
		{
			name: "token subject wins over header",
			header: map[string]string{
				"Authorization": "Bearer " + signToken(t, testSecret, "user-7", nil, hour),
				HeaderSessionID: "chat-42",
			},
			wantStatus: http.StatusOK,
			wantRef:    "user-7",
		},
		{
			name:       "wrong signature",
			header:     map[string]string{"Authorization": "Bearer " + signToken(t, "other", "user-7", nil, hour)},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "expired token",
			header:     map[string]string{"Authorization": "Bearer " + signToken(t, testSecret, "user-7", nil, time.Now().Add(-time.Minute))},
			wantStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			w := httptest.NewRecorder()
			sessionRouter(m).ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, tt.wantRef, w.Body.String())
			}
		})
	}
}

func TestSessionWithoutSecretRejectsTokens(t *testing.T) {
	m := NewSessionMiddleware("")
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, "user-7", nil, time.Now().Add(time.Hour)))
	w := httptest.NewRecorder()

	sessionRouter(m).ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireRole(t *testing.T) {
	m := NewSessionMiddleware(testSecret)
	r := sessionRouter(m, m.RequireRole(model.RoleAdmin))
	hour := time.Now().Add(time.Hour)

	tests := []struct {
		name       string
		auth       string
		wantStatus int
	}{
		{"no token", "", http.StatusUnauthorized},
		{"missing role", "Bearer " + signToken(t, testSecret, "u", []string{"patient"}, hour), http.StatusForbidden},
		{"admin", "Bearer " + signToken(t, testSecret, "u", []string{model.RoleAdmin}, hour), http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}
