package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/diagnosis-api/internal/repository"
	apperrors "github.com/jwalitptl/diagnosis-api/pkg/errors"
)

type Response struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func NewSuccessResponse(data interface{}) *Response {
	return &Response{
		Status: "success",
		Data:   data,
	}
}

func NewErrorResponse(message string) *Response {
	return &Response{
		Status:  "error",
		Message: message,
	}
}

// RespondError records err on the context for the error middleware and
// writes the error envelope with the status its AppError code maps to.
// Internal errors never leak their cause to the client.
func RespondError(c *gin.Context, err error) {
	appErr := apperrors.As(err)
	_ = c.Error(err)
	c.AbortWithStatusJSON(appErr.HTTPStatus(), NewErrorResponse(appErr.Message))
}

// Pagination is the envelope payload of list endpoints.
type Pagination struct {
	Items    interface{} `json:"items"`
	Total    int         `json:"total"`
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
}

// FromRepository turns a repository miss into a 404 for resource.
func FromRepository(resource string, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.NotFound(resource, err)
	}
	return err
}
