package server

import (
	"errors"
	"net/http"

	"github.com/MarcoPoloResearchLab/medify/internal/export"
	"github.com/MarcoPoloResearchLab/medify/internal/healthcard"
	"github.com/MarcoPoloResearchLab/medify/internal/reconciler"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type codedError interface {
	Code() string
}

// respondError maps domain errors onto HTTP responses. Server-side failures
// are logged with the failing operation; client mistakes are not.
func (h *httpHandler) respondError(c *gin.Context, operation string, err error) {
	var fieldErrs healthcard.FieldErrors
	if errors.As(err, &fieldErrs) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "validation_failed", "fields": fieldErrorsOf(fieldErrs)})
		return
	}
	var blocked *export.BlockedError
	if errors.As(err, &blocked) {
		c.JSON(http.StatusConflict, gin.H{"error": "export_blocked", "reason": blocked.Reason})
		return
	}

	status, code := classify(err)
	body := gin.H{"error": code}
	var coded codedError
	if errors.As(err, &coded) {
		body["code"] = coded.Code()
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("operation", operation), zap.Int("status", status), zap.Error(err))
	} else {
		h.logger.Debug("request rejected", zap.String("operation", operation), zap.Int("status", status), zap.Error(err))
	}
	c.JSON(status, body)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, reconciler.ErrSessionNotFound):
		return http.StatusNotFound, "session_not_found"
	case errors.Is(err, reconciler.ErrSessionClosed):
		return http.StatusGone, "session_closed"
	case errors.Is(err, reconciler.ErrSaveInProgress):
		return http.StatusConflict, "save_in_progress"
	case errors.Is(err, reconciler.ErrNotLoaded):
		return http.StatusConflict, "session_not_loaded"
	case errors.Is(err, reconciler.ErrAttachmentNotFound):
		return http.StatusNotFound, "attachment_not_found"
	case errors.Is(err, reconciler.ErrInvalidAttachment):
		return http.StatusBadRequest, "invalid_attachment"
	case errors.Is(err, reconciler.ErrAttachmentsFailed):
		return http.StatusBadGateway, "attachment_failed"
	case errors.Is(err, reconciler.ErrPersistenceFailed):
		return http.StatusServiceUnavailable, "persistence_failed"
	case errors.Is(err, healthcard.ErrUnknownField):
		return http.StatusBadRequest, "unknown_field"
	case errors.Is(err, healthcard.ErrAttachmentTooLarge):
		return http.StatusRequestEntityTooLarge, "attachment_too_large"
	case errors.Is(err, healthcard.ErrAttachmentType):
		return http.StatusUnsupportedMediaType, "unsupported_attachment_type"
	case errors.Is(err, healthcard.ErrAttachmentEmpty):
		return http.StatusBadRequest, "empty_attachment"
	case errors.Is(err, healthcard.ErrInvalidAccountID):
		return http.StatusNotFound, "card_not_found"
	case errors.Is(err, export.ErrRenderFailed):
		return http.StatusInternalServerError, "render_failed"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
