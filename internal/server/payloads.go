package server

import (
	"encoding/base64"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/medify/internal/attachments"
	"github.com/MarcoPoloResearchLab/medify/internal/healthcard"
	"github.com/MarcoPoloResearchLab/medify/internal/preview"
	"github.com/MarcoPoloResearchLab/medify/internal/reconciler"
)

type documentResponse struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

type recordResponse struct {
	AccountID         string             `json:"accountId"`
	Name              string             `json:"name"`
	Age               string             `json:"age"`
	BloodGroup        string             `json:"bloodGroup"`
	EmergencyContact  string             `json:"emergencyContact"`
	Allergies         string             `json:"allergies"`
	MedicalConditions string             `json:"medicalConditions"`
	Medications       string             `json:"medications"`
	AdditionalNotes   string             `json:"additionalNotes"`
	HealthReportLinks []string           `json:"healthReportLinks"`
	AvatarURL         string             `json:"avatarUrl,omitempty"`
	Documents         []documentResponse `json:"documents"`
	PublicPath        string             `json:"publicPath,omitempty"`
	UpdatedAt         *time.Time         `json:"updatedAt,omitempty"`
}

type attachmentResponse struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	State       string `json:"state"`
	Name        string `json:"name"`
	URL         string `json:"url,omitempty"`
	ContentType string `json:"contentType,omitempty"`
	Size        int    `json:"size,omitempty"`
}

type sessionResponse struct {
	SessionID          string               `json:"sessionId"`
	State              string               `json:"state"`
	Saved              bool                 `json:"saved"`
	ShowingPlaceholder bool                 `json:"showingPlaceholder"`
	Revision           uint64               `json:"revision"`
	Record             recordResponse       `json:"record"`
	Attachments        []attachmentResponse `json:"attachments"`
	FieldErrors        map[string]string    `json:"fieldErrors"`
	PublicURL          string               `json:"publicUrl,omitempty"`
	Warnings           []warningResponse    `json:"warnings,omitempty"`
}

type warningResponse struct {
	Code         string `json:"code"`
	AttachmentID string `json:"attachmentId,omitempty"`
	Kind         string `json:"kind,omitempty"`
	Name         string `json:"name,omitempty"`
	Message      string `json:"message"`
}

type frameResponse struct {
	View              string         `json:"view"`
	Record            recordResponse `json:"record"`
	Payload           string         `json:"payload"`
	PayloadMode       string         `json:"payloadMode"`
	CodeImage         string         `json:"codeImage,omitempty"`
	Caption           string         `json:"caption"`
	ShowDemoIndicator bool           `json:"showDemoIndicator"`
	Notice            string         `json:"notice,omitempty"`
	Revision          uint64         `json:"revision"`
	RenderedAt        time.Time      `json:"renderedAt"`
}

func recordResponseOf(record healthcard.Record) recordResponse {
	response := recordResponse{
		AccountID:         record.AccountID.String(),
		Name:              record.Name,
		BloodGroup:        record.BloodGroup.String(),
		EmergencyContact:  record.EmergencyContact,
		Allergies:         record.Allergies,
		MedicalConditions: record.MedicalConditions,
		Medications:       record.Medications,
		AdditionalNotes:   record.AdditionalNotes,
		HealthReportLinks: append([]string{}, record.HealthReportLinks...),
		AvatarURL:         record.AvatarURL,
		Documents:         make([]documentResponse, 0, len(record.Documents)),
		PublicPath:        record.PublicPath,
	}
	if record.Age > 0 {
		response.Age = strconv.Itoa(record.Age)
	}
	for _, document := range record.Documents {
		response.Documents = append(response.Documents, documentResponse{Name: document.Name, URL: document.URL})
	}
	if !record.UpdatedAt.IsZero() {
		updatedAt := record.UpdatedAt.UTC()
		response.UpdatedAt = &updatedAt
	}
	return response
}

func attachmentResponseOf(attachment healthcard.Attachment) attachmentResponse {
	return attachmentResponse{
		ID:          attachment.ID,
		Kind:        string(attachment.Kind),
		State:       string(attachment.State),
		Name:        attachment.Name,
		URL:         attachment.URL,
		ContentType: attachment.ContentType,
		Size:        len(attachment.Data),
	}
}

func (h *httpHandler) sessionResponseOf(snapshot reconciler.Snapshot) sessionResponse {
	response := sessionResponse{
		SessionID:          snapshot.SessionID,
		State:              string(snapshot.State),
		Saved:              snapshot.Buffer.Saved,
		ShowingPlaceholder: snapshot.Buffer.ShowingPlaceholder,
		Revision:           snapshot.Revision,
		Record:             recordResponseOf(snapshot.Buffer.Record),
		Attachments:        make([]attachmentResponse, 0, len(snapshot.Buffer.Attachments)),
		FieldErrors:        fieldErrorsOf(snapshot.FieldErrors),
		PublicURL:          h.publicURL(snapshot.Buffer.Record.PublicPath),
	}
	for _, attachment := range snapshot.Buffer.Attachments {
		response.Attachments = append(response.Attachments, attachmentResponseOf(attachment))
	}
	return response
}

func fieldErrorsOf(errs healthcard.FieldErrors) map[string]string {
	converted := make(map[string]string, len(errs))
	for field, message := range errs {
		converted[string(field)] = message
	}
	return converted
}

func warningsOf(failures []attachments.Failure) []warningResponse {
	warnings := make([]warningResponse, 0, len(failures))
	for _, failure := range failures {
		warnings = append(warnings, warningResponse{
			Code:         "attachment_" + failure.Operation + "_failed",
			AttachmentID: failure.AttachmentID,
			Kind:         string(failure.Kind),
			Name:         failure.Name,
			Message:      failure.Error(),
		})
	}
	return warnings
}

func frameResponseOf(frame preview.Frame) frameResponse {
	response := frameResponse{
		View:              string(frame.View.Kind),
		Record:            recordResponseOf(frame.Display),
		Payload:           frame.Payload,
		PayloadMode:       string(frame.Mode),
		Caption:           frame.Caption,
		ShowDemoIndicator: frame.ShowDemoIndicator,
		Notice:            frame.Notice,
		Revision:          frame.Revision,
		RenderedAt:        frame.RenderedAt,
	}
	if len(frame.CodePNG) > 0 {
		response.CodeImage = "data:image/png;base64," + base64.StdEncoding.EncodeToString(frame.CodePNG)
	}
	return response
}

func (h *httpHandler) publicURL(publicPath string) string {
	if publicPath == "" {
		return ""
	}
	return h.frames.BaseURL() + "/" + strings.TrimLeft(publicPath, "/")
}
