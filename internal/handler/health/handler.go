package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const pingTimeout = 2 * time.Second

// Pinger is satisfied by *sqlx.DB and *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// ModelVersioner reports the version of the model currently served.
type ModelVersioner interface {
	Version() string
}

type Handler struct {
	db    Pinger
	model ModelVersioner
}

func NewHandler(db Pinger, model ModelVersioner) *Handler {
	return &Handler{
		db:    db,
		model: model,
	}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	health := r.Group("/health")
	{
		health.GET("/live", h.LivenessCheck)
		health.GET("/ready", h.ReadinessCheck)
		health.GET("/metrics", h.Metrics)
	}
}

func (h *Handler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "UP"})
}

// ReadinessCheck fails only on the database. A missing model is reported
// but does not take the instance out of rotation: predictions degrade to an
// empty result until one is trained.
func (h *Handler) ReadinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), pingTimeout)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "DOWN",
			"reason": "Database connection failed",
		})
		return
	}

	body := gin.H{"status": "UP"}
	if h.model != nil {
		if v := h.model.Version(); v != "" {
			body["model_version"] = v
		} else {
			body["model_version"] = nil
		}
	}
	c.JSON(http.StatusOK, body)
}

func (h *Handler) Metrics(c *gin.Context) {
	promhttp.Handler().ServeHTTP(c.Writer, c.Request)
}
