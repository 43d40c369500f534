package api

import (
	"errors"
	"net/http"

	"marketplace-service/internal/apperror"
	"marketplace-service/internal/service"
	"marketplace-service/internal/util"
	"marketplace-service/internal/validation"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

var kindStatus = map[apperror.Kind]int{
	apperror.KindValidation:       http.StatusBadRequest,
	apperror.KindNotFound:         http.StatusNotFound,
	apperror.KindConflict:         http.StatusConflict,
	apperror.KindPermissionDenied: http.StatusForbidden,
	apperror.KindUnavailable:      http.StatusServiceUnavailable,
}

// respondError maps a service error to a status code and {error, details}
func respondError(c *gin.Context, err error) {
	var verr *service.ValidationError
	if errors.As(err, &verr) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   verr.Error(),
			"details": verr.Field,
		})
		return
	}

	kind := apperror.KindOf(err)
	status, ok := kindStatus[kind]
	if !ok {
		status = http.StatusInternalServerError
		util.GetLogger().Error("Unhandled request error",
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}

	c.JSON(status, gin.H{
		"error":   apperror.Message(err),
		"details": string(kind),
	})
}

// respondBindError reports a malformed or invalid request body
func respondBindError(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": validation.FieldErrors(verrs),
		})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "Invalid request body",
		"details": err.Error(),
	})
}
