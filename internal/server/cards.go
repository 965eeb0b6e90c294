package server

import (
	"errors"
	"net/http"

	"github.com/MarcoPoloResearchLab/medify/internal/healthcard"
	"github.com/MarcoPoloResearchLab/medify/internal/preview"
	"github.com/MarcoPoloResearchLab/medify/internal/records"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const contentTypePNG = "image/png"

func (h *httpHandler) handlePublicCard(c *gin.Context) {
	frame, ok := h.publicFrame(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, frameResponseOf(frame))
}

func (h *httpHandler) handlePublicCode(c *gin.Context) {
	frame, ok := h.publicFrame(c)
	if !ok {
		return
	}
	if len(frame.CodePNG) == 0 {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "render_failed", "notice": frame.Notice})
		return
	}
	c.Header("Cache-Control", "no-cache")
	c.Data(http.StatusOK, contentTypePNG, frame.CodePNG)
}

func (h *httpHandler) handleGuestCard(c *gin.Context) {
	frame := h.frames.BuildFrame(c.Request.Context(), healthcard.GuestView(), nil)
	c.JSON(http.StatusOK, frameResponseOf(frame))
}

func (h *httpHandler) handleGuestExport(c *gin.Context) {
	artifact, err := h.exporter.Export(c.Request.Context(), healthcard.GuestView())
	if err != nil {
		h.respondError(c, "cards.guest_export", err)
		return
	}
	writeArtifact(c, artifact.FileName, artifact.ContentType, artifact.Data)
}

func (h *httpHandler) publicFrame(c *gin.Context) (preview.Frame, bool) {
	account, err := healthcard.NewAccountID(c.Param("accountID"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "card_not_found"})
		return preview.Frame{}, false
	}
	record, err := h.records.Fetch(c.Request.Context(), account)
	if err != nil {
		if errors.Is(err, records.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "card_not_found"})
			return preview.Frame{}, false
		}
		h.logger.Error("public card lookup failed", zap.String("user_id", account.String()), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "card_unavailable"})
		return preview.Frame{}, false
	}
	return h.frames.BuildFrame(c.Request.Context(), healthcard.PublicView(record), nil), true
}
