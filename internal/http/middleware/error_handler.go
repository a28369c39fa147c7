package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/yodo-backend/internal/logger"
	"github.com/ignatzorin/yodo-backend/internal/pkg/apperror"
)

// ErrorHandler отдаёт клиенту последнюю ошибку из c.Errors.
// AppError отображается в свой HTTP статус и код, остальные ошибки
// маскируются как внутренние.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() || len(c.Errors) == 0 {
			return
		}

		err := c.Errors.Last().Err
		status := http.StatusInternalServerError
		body := gin.H{"error": "внутренняя ошибка сервера", "code": apperror.ErrCodeInternal}

		var appErr *apperror.AppError
		if errors.As(err, &appErr) {
			status = appErr.HTTPStatus
			body = gin.H{"error": appErr.Message, "code": appErr.Code}
		}

		fields := logrus.Fields{
			"error":  err.Error(),
			"path":   c.Request.URL.Path,
			"method": c.Request.Method,
			"status": status,
		}
		if status >= http.StatusInternalServerError {
			logger.Log.WithFields(fields).Error("request failed")
		} else {
			logger.Log.WithFields(fields).Debug("request rejected")
		}

		c.JSON(status, body)
	}
}
