package training

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/diagnosis-api/internal/handler"
	"github.com/jwalitptl/diagnosis-api/internal/ml"
	predictionService "github.com/jwalitptl/diagnosis-api/internal/service/prediction"
	apperrors "github.com/jwalitptl/diagnosis-api/pkg/errors"
)

type Handler struct {
	service predictionService.PredictionServicer
}

func NewHandler(service predictionService.PredictionServicer) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	models := r.Group("/model")
	{
		models.GET("", h.GetModel)
		models.GET("/accuracy", h.GetAccuracy)
		models.POST("/train", h.Train)
	}
}

func (h *Handler) GetModel(c *gin.Context) {
	manifest, ok := h.service.Manifest(c.Request.Context())
	if !ok {
		handler.RespondError(c, apperrors.Unavailable("no model available", nil))
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(manifest))
}

func (h *Handler) GetAccuracy(c *gin.Context) {
	accuracy := h.service.Accuracy(c.Request.Context())
	c.JSON(http.StatusOK, handler.NewSuccessResponse(gin.H{"accuracy": accuracy}))
}

// Train refits the model from the current catalog. A catalog that cannot
// yield a model is a conflict, not a server fault.
func (h *Handler) Train(c *gin.Context) {
	report, err := h.service.Train(c.Request.Context())
	if err != nil {
		if errors.Is(err, ml.ErrNoTrainingData) || errors.Is(err, ml.ErrInsufficientClasses) {
			handler.RespondError(c, apperrors.NewConflict(err.Error(), err))
			return
		}
		handler.RespondError(c, apperrors.Internal(err))
		return
	}
	c.JSON(http.StatusCreated, handler.NewSuccessResponse(report))
}
