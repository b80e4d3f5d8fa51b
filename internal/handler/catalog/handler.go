package catalog

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/diagnosis-api/internal/handler"
	"github.com/jwalitptl/diagnosis-api/internal/model"
	catalogService "github.com/jwalitptl/diagnosis-api/internal/service/catalog"
	apperrors "github.com/jwalitptl/diagnosis-api/pkg/errors"
)

// Explainer looks up the descriptive metadata of a disease.
type Explainer interface {
	Explain(ctx context.Context, disease string) (*model.DiseaseInfo, bool)
}

type Handler struct {
	service   catalogService.CatalogServicer
	explainer Explainer
}

func NewHandler(service catalogService.CatalogServicer, explainer Explainer) *Handler {
	return &Handler{service: service, explainer: explainer}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/symptoms", h.ListSymptoms)
	r.GET("/diseases/:name", h.GetDisease)
	r.GET("/catalog/stats", h.GetStats)
}

func (h *Handler) ListSymptoms(c *gin.Context) {
	groups, err := h.service.AvailableSymptoms(c.Request.Context())
	if err != nil {
		handler.RespondError(c, apperrors.Internal(err))
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(groups))
}

func (h *Handler) GetDisease(c *gin.Context) {
	info, ok := h.explainer.Explain(c.Request.Context(), c.Param("name"))
	if !ok {
		handler.RespondError(c, apperrors.NotFound("disease", nil))
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(info))
}

func (h *Handler) GetStats(c *gin.Context) {
	stats, err := h.service.Stats(c.Request.Context())
	if err != nil {
		handler.RespondError(c, apperrors.Internal(err))
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(stats))
}
