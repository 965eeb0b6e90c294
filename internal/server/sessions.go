package server

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"sort"
	"time"

	"github.com/MarcoPoloResearchLab/medify/internal/healthcard"
	"github.com/MarcoPoloResearchLab/medify/internal/reconciler"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	avatarFormField    = "file"
	documentsFormField = "files"
)

var errMissingUpload = errors.New("no file uploaded")

type editFieldsRequest struct {
	Fields map[string]string `json:"fields"`
}

func (h *httpHandler) handleOpenSession(c *gin.Context) {
	account := accountFrom(c)
	session, err := h.sessions.Open(c.Request.Context(), account)
	if session == nil {
		h.respondError(c, "sessions.open", err)
		return
	}
	response := h.sessionResponseOf(session.Snapshot())
	if err != nil {
		h.logger.Warn("edit session opened without stored record", zap.String("user_id", account.String()), zap.Error(err))
		warning := warningResponse{Code: "record_load_failed", Message: err.Error()}
		var coded codedError
		if errors.As(err, &coded) {
			warning.Code = coded.Code()
		}
		response.Warnings = []warningResponse{warning}
	}
	c.JSON(http.StatusCreated, response)
}

func (h *httpHandler) handleGetSession(c *gin.Context) {
	session, ok := h.lookupSession(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.sessionResponseOf(session.Snapshot()))
}

func (h *httpHandler) handleCloseSession(c *gin.Context) {
	if err := h.sessions.Close(c.Param("id"), accountFrom(c)); err != nil {
		h.respondError(c, "sessions.close", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleEditFields(c *gin.Context) {
	session, ok := h.lookupSession(c)
	if !ok {
		return
	}
	var request editFieldsRequest
	if err := c.ShouldBindJSON(&request); err != nil || len(request.Fields) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	names := make([]string, 0, len(request.Fields))
	for name := range request.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	fields := make([]healthcard.Field, 0, len(names))
	for _, name := range names {
		field, err := healthcard.ParseField(name)
		if err != nil {
			h.respondError(c, "sessions.edit", err)
			return
		}
		fields = append(fields, field)
	}

	invalid := healthcard.FieldErrors{}
	for index, field := range fields {
		err := session.Edit(field, request.Fields[names[index]])
		var fieldErrs healthcard.FieldErrors
		switch {
		case err == nil:
		case errors.As(err, &fieldErrs):
			for invalidField, message := range fieldErrs {
				invalid[invalidField] = message
			}
		default:
			h.respondError(c, "sessions.edit", err)
			return
		}
	}
	if len(invalid) > 0 {
		h.respondError(c, "sessions.edit", invalid)
		return
	}
	c.JSON(http.StatusOK, h.sessionResponseOf(session.Snapshot()))
}

func (h *httpHandler) handleSelectAvatar(c *gin.Context) {
	session, ok := h.lookupSession(c)
	if !ok {
		return
	}
	header, err := c.FormFile(avatarFormField)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file_required"})
		return
	}
	name, data, err := readUpload(header, healthcard.MaxAvatarBytes)
	if err != nil {
		h.respondError(c, "sessions.avatar", err)
		return
	}
	avatar, err := healthcard.SelectAvatar(name, data)
	if err != nil {
		h.respondError(c, "sessions.avatar", err)
		return
	}
	if err := session.SelectAvatar(avatar); err != nil {
		h.respondError(c, "sessions.avatar", err)
		return
	}
	c.JSON(http.StatusOK, h.sessionResponseOf(session.Snapshot()))
}

func (h *httpHandler) handleRemoveAvatar(c *gin.Context) {
	session, ok := h.lookupSession(c)
	if !ok {
		return
	}
	if err := session.RemoveAvatar(); err != nil {
		h.respondError(c, "sessions.avatar", err)
		return
	}
	c.JSON(http.StatusOK, h.sessionResponseOf(session.Snapshot()))
}

// handleAddDocuments accepts every uploaded file or none of them.
func (h *httpHandler) handleAddDocuments(c *gin.Context) {
	session, ok := h.lookupSession(c)
	if !ok {
		return
	}
	form, err := c.MultipartForm()
	if err != nil || len(form.File[documentsFormField]) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file_required"})
		return
	}
	documents := make([]healthcard.Attachment, 0, len(form.File[documentsFormField]))
	for _, header := range form.File[documentsFormField] {
		name, data, err := readUpload(header, healthcard.MaxDocumentBytes)
		if err != nil {
			h.respondError(c, "sessions.documents", err)
			return
		}
		document, err := healthcard.SelectDocument(name, data)
		if err != nil {
			h.respondError(c, "sessions.documents", fmt.Errorf("%s: %w", name, err))
			return
		}
		documents = append(documents, document)
	}
	if err := session.AddDocuments(documents...); err != nil {
		h.respondError(c, "sessions.documents", err)
		return
	}
	c.JSON(http.StatusOK, h.sessionResponseOf(session.Snapshot()))
}

func (h *httpHandler) handleRemoveDocument(c *gin.Context) {
	session, ok := h.lookupSession(c)
	if !ok {
		return
	}
	if err := session.RemoveDocument(c.Param("documentID")); err != nil {
		h.respondError(c, "sessions.documents", err)
		return
	}
	c.JSON(http.StatusOK, h.sessionResponseOf(session.Snapshot()))
}

func (h *httpHandler) handleSave(c *gin.Context) {
	session, ok := h.lookupSession(c)
	if !ok {
		return
	}
	result, err := session.Save(c.Request.Context())
	if err != nil {
		h.respondError(c, "sessions.save", err)
		return
	}
	if result.Discarded {
		h.respondError(c, "sessions.save", reconciler.ErrSessionClosed)
		return
	}
	response := h.sessionResponseOf(session.Snapshot())
	if len(result.Failures) > 0 {
		response.Warnings = warningsOf(result.Failures)
	}
	c.JSON(http.StatusOK, response)
}

// handleReset reports a remote clear failure as a warning: the local buffer
// has already been reset.
func (h *httpHandler) handleReset(c *gin.Context) {
	session, ok := h.lookupSession(c)
	if !ok {
		return
	}
	err := session.Reset(c.Request.Context())
	if err != nil && !errors.Is(err, reconciler.ErrPersistenceFailed) {
		h.respondError(c, "sessions.reset", err)
		return
	}
	response := h.sessionResponseOf(session.Snapshot())
	if err != nil {
		warning := warningResponse{Code: "reset_failed", Message: err.Error()}
		var coded codedError
		if errors.As(err, &coded) {
			warning.Code = coded.Code()
		}
		response.Warnings = []warningResponse{warning}
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handlePreview(c *gin.Context) {
	session, ok := h.lookupSession(c)
	if !ok {
		return
	}
	revision := session.Snapshot().Revision
	frame := h.frames.BuildFrame(c.Request.Context(), session.View(), h.previews.latest(session.ID()))
	frame.Revision = revision
	c.JSON(http.StatusOK, frameResponseOf(frame))
}

// handlePreviewStream pushes a frame event after every coalesced burst of edits.
func (h *httpHandler) handlePreviewStream(c *gin.Context) {
	session, ok := h.lookupSession(c)
	if !ok {
		return
	}
	renderer, err := h.previews.rendererFor(session)
	if err != nil {
		h.respondError(c, "sessions.preview", err)
		return
	}
	frames, cleanup := renderer.Frames()
	defer cleanup()

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	ctx := c.Request.Context()
	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case frame, open := <-frames:
			if !open {
				return false
			}
			c.SSEvent("frame", frameResponseOf(frame))
			return true
		case <-heartbeat.C:
			c.SSEvent("heartbeat", gin.H{"at": time.Now().UTC()})
			return true
		}
	})
}

func (h *httpHandler) handleExport(c *gin.Context) {
	session, ok := h.lookupSession(c)
	if !ok {
		return
	}
	artifact, err := h.exporter.Export(c.Request.Context(), session.View())
	if err != nil {
		h.respondError(c, "sessions.export", err)
		return
	}
	writeArtifact(c, artifact.FileName, artifact.ContentType, artifact.Data)
}

func (h *httpHandler) lookupSession(c *gin.Context) (*reconciler.Session, bool) {
	session, err := h.sessions.Get(c.Param("id"), accountFrom(c))
	if err != nil {
		h.respondError(c, "sessions.lookup", err)
		return nil, false
	}
	return session, true
}

func readUpload(header *multipart.FileHeader, limit int) (string, []byte, error) {
	if header == nil {
		return "", nil, errMissingUpload
	}
	file, err := header.Open()
	if err != nil {
		return "", nil, err
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, int64(limit)+1))
	if err != nil {
		return "", nil, err
	}
	return header.Filename, data, nil
}

func writeArtifact(c *gin.Context, fileName, contentType string, data []byte) {
	c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": fileName}))
	c.Data(http.StatusOK, contentType, data)
}
