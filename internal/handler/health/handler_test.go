package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pinger struct{ err error }

func (p pinger) PingContext(context.Context) error { return p.err }

type version string

func (v version) Version() string { return string(v) }

func setup(db Pinger, m ModelVersioner) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHandler(db, m).RegisterRoutes(r.Group("/api/v1"))
	return r
}

func get(r *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	r.ServeHTTP(w, req)
	return w
}

func TestLiveness(t *testing.T) {
	w := get(setup(pinger{}, nil), "/api/v1/health/live")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"UP"}`, w.Body.String())
}

func TestReadiness(t *testing.T) {
	tests := []struct {
		name       string
		db         Pinger
		model      ModelVersioner
		wantStatus int
		wantModel  interface{}
	}{
		{"database down", pinger{err: errors.New("refused")}, version("v1"), http.StatusServiceUnavailable, nil},
		{"model loaded", pinger{}, version("v20240101T000000"), http.StatusOK, "v20240101T000000"},
		{"no model yet", pinger{}, version(""), http.StatusOK, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := get(setup(tt.db, tt.model), "/api/v1/health/ready")
			require.Equal(t, tt.wantStatus, w.Code)

			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, "UP", body["status"])
				assert.Equal(t, tt.wantModel, body["model_version"])
			} else {
				assert.Equal(t, "DOWN", body["status"])
			}
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	w := get(setup(pinger{}, nil), "/api/v1/health/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}
