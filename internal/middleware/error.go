package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/diagnosis-api/internal/handler"
	apperrors "github.com/jwalitptl/diagnosis-api/pkg/errors"
	"github.com/jwalitptl/diagnosis-api/pkg/logger"
)

// ErrorHandler logs the errors handlers attached with c.Error and writes
// the envelope for the last one if the handler did not respond itself.
func ErrorHandler(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		for _, e := range c.Errors {
			appErr := apperrors.As(e.Err)
			fields := []interface{}{
				"request_id", GetRequestID(c),
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
				"code", int(appErr.Code),
			}
			if appErr.HTTPStatus() >= 500 {
				log.Error(e.Err, "Request error", fields...)
			} else {
				log.Debug("Request rejected", append(fields, "error", e.Error())...)
			}
		}

		if c.Writer.Written() {
			return
		}
		appErr := apperrors.As(c.Errors.Last().Err)
		c.JSON(appErr.HTTPStatus(), handler.NewErrorResponse(appErr.Message))
	}
}
