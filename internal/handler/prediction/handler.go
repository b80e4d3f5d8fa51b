package prediction

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/diagnosis-api/internal/handler"
	"github.com/jwalitptl/diagnosis-api/internal/middleware"
	"github.com/jwalitptl/diagnosis-api/internal/model"
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
	predictions := r.Group("/predictions")
	{
		predictions.POST("", h.CreatePrediction)
		predictions.POST("/preview", h.PreviewPrediction)
		predictions.PUT("/:id/feedback", h.SubmitFeedback)
	}
}

// RegisterReviewRoutes mounts the clinician endpoints. The caller guards
// the group.
func (h *Handler) RegisterReviewRoutes(r *gin.RouterGroup) {
	predictions := r.Group("/predictions")
	{
		predictions.GET("", h.ListPredictions)
		predictions.GET("/:id", h.GetPrediction)
		predictions.PUT("/:id/verify", h.VerifyPrediction)
	}
}

// CreatePrediction runs the recorded flow. A result without a prediction is
// still a 200: the message tells the user what to do next.
func (h *Handler) CreatePrediction(c *gin.Context) {
	var req model.PredictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handler.RespondError(c, apperrors.BadRequest(err.Error(), err))
		return
	}

	result := h.service.PredictAndRecord(c.Request.Context(), middleware.SessionRef(c), req.Symptoms)
	status := http.StatusOK
	if result.Success {
		status = http.StatusCreated
	}
	c.JSON(status, handler.NewSuccessResponse(result))
}

// PreviewPrediction ranks diseases without storing anything.
func (h *Handler) PreviewPrediction(c *gin.Context) {
	var req model.PredictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handler.RespondError(c, apperrors.BadRequest(err.Error(), err))
		return
	}

	preds := h.service.Predict(c.Request.Context(), req.Symptoms)
	c.JSON(http.StatusOK, handler.NewSuccessResponse(gin.H{"predictions": preds}))
}

func (h *Handler) GetPrediction(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	record, err := h.service.GetPrediction(c.Request.Context(), id)
	if err != nil {
		handler.RespondError(c, handler.FromRepository("prediction", err))
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(record))
}

func (h *Handler) ListPredictions(c *gin.Context) {
	var filters model.PredictionFilters
	if err := c.ShouldBindQuery(&filters); err != nil {
		handler.RespondError(c, apperrors.BadRequest("invalid query parameters", err))
		return
	}
	if filters.Feedback != nil && !filters.Feedback.Valid() {
		handler.RespondError(c, apperrors.BadRequest("invalid feedback filter", nil))
		return
	}

	records, total, err := h.service.ListPredictions(c.Request.Context(), &filters)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(handler.Pagination{
		Items:    records,
		Total:    total,
		Page:     max(filters.Page, 1),
		PageSize: filters.Limit(),
	}))
}

func (h *Handler) SubmitFeedback(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var req model.FeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handler.RespondError(c, apperrors.BadRequest(err.Error(), err))
		return
	}

	if !h.service.RecordFeedback(c.Request.Context(), id, req.Feedback, req.Comment, req.AccuracyRating) {
		handler.RespondError(c, apperrors.NotFound("prediction", nil))
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(gin.H{
		"prediction_id": id,
		"feedback":      req.Feedback,
	}))
}

func (h *Handler) VerifyPrediction(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var req model.VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handler.RespondError(c, apperrors.BadRequest(err.Error(), err))
		return
	}

	if err := h.service.VerifyPrediction(c.Request.Context(), id, &req); err != nil {
		handler.RespondError(c, handler.FromRepository("prediction", err))
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(gin.H{
		"prediction_id":   id,
		"doctor_verified": req.Verified,
	}))
}

func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		handler.RespondError(c, apperrors.BadRequest("invalid prediction ID", err))
		return uuid.Nil, false
	}
	return id, true
}
