package handlers

import (
	"errors"
	"log/slog"

	"github.com/AfshinJalili/libris/libs/apperr"
	"github.com/gin-gonic/gin"
)

type errorResponse struct {
	Code    string              `json:"code"`
	Message string              `json:"message"`
	Fields  []apperr.FieldError `json:"fields,omitempty"`
}

func writeError(c *gin.Context, logger *slog.Logger, err error) {
	kind := apperr.KindOf(err)
	resp := errorResponse{Code: apperr.Code(kind), Message: "internal error"}

	var e *apperr.Error
	if kind == apperr.KindInternal {
		logger.Error("request failed", "path", c.FullPath(), "error", err)
	} else if errors.As(err, &e) {
		resp.Message = e.Message
		resp.Fields = e.Fields
	}
	c.AbortWithStatusJSON(apperr.HTTPStatus(kind), resp)
}

func invalidPayload(c *gin.Context, err error) {
	c.AbortWithStatusJSON(apperr.HTTPStatus(apperr.KindInvalidInput), errorResponse{
		Code:    apperr.Code(apperr.KindInvalidInput),
		Message: "invalid payload: " + err.Error(),
	})
}
