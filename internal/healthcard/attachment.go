package healthcard

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

// AttachmentKind distinguishes the avatar from medical documents.
type AttachmentKind string

const (
	AttachmentAvatar   AttachmentKind = "avatar"
	AttachmentDocument AttachmentKind = "document"
)

// AttachmentState tracks where an attachment is in its upload lifecycle.
type AttachmentState string

const (
	// AttachmentExisting references a blob the record store already knows about.
	AttachmentExisting AttachmentState = "existing"
	// AttachmentPendingUpload holds local bytes that are uploaded on the next save.
	AttachmentPendingUpload AttachmentState = "pending_upload"
	// AttachmentPendingRemoval marks a remote blob for deletion on the next save.
	AttachmentPendingRemoval AttachmentState = "pending_removal"
)

const (
	MaxAvatarBytes   = 2 << 20
	MaxDocumentBytes = 5 << 20
)

var (
	// ErrAttachmentTooLarge indicates a selected file exceeds its size cap.
	ErrAttachmentTooLarge = errors.New("healthcard: attachment too large")
	// ErrAttachmentType indicates a selected file has an unsupported content type.
	ErrAttachmentType = errors.New("healthcard: unsupported attachment type")
	// ErrAttachmentEmpty indicates a selected file has no content.
	ErrAttachmentEmpty = errors.New("healthcard: empty attachment")
)

var (
	avatarContentTypes   = []string{"image/jpeg", "image/png", "image/webp"}
	documentContentTypes = []string{"application/pdf"}
)

// Attachment is a blob reference in exactly one lifecycle state.
type Attachment struct {
	ID          string
	Kind        AttachmentKind
	State       AttachmentState
	Name        string
	URL         string
	ContentType string
	Data        []byte
}

// ExistingAttachmentID is the stable id of the stored attachment at url.
func ExistingAttachmentID(url string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(url)).String()
}

// ExistingAttachment wraps a blob already referenced by a saved record.
func ExistingAttachment(kind AttachmentKind, name, url string) Attachment {
	return Attachment{
		ID:    ExistingAttachmentID(url),
		Kind:  kind,
		State: AttachmentExisting,
		Name:  name,
		URL:   url,
	}
}

// Live reports whether the attachment has a remote URL that is not flagged for removal.
func (a Attachment) Live() bool {
	return a.URL != "" && a.State != AttachmentPendingRemoval
}

// MarkedForRemoval returns a copy of the attachment flagged for deletion.
func (a Attachment) MarkedForRemoval() Attachment {
	a.State = AttachmentPendingRemoval
	a.Data = nil
	return a
}

// Extension returns the file extension matching the sniffed content type.
func (a Attachment) Extension() string {
	switch a.ContentType {
	case "image/jpeg":
		return "jpg"
	case "image/png":
		return "png"
	case "image/webp":
		return "webp"
	case "application/pdf":
		return "pdf"
	}
	return "bin"
}

// SelectAvatar validates a picked avatar image and wraps it as a pending upload.
func SelectAvatar(name string, data []byte) (Attachment, error) {
	return selectAttachment(AttachmentAvatar, name, data, MaxAvatarBytes, avatarContentTypes)
}

// SelectDocument validates a picked medical document and wraps it as a pending upload.
func SelectDocument(name string, data []byte) (Attachment, error) {
	return selectAttachment(AttachmentDocument, name, data, MaxDocumentBytes, documentContentTypes)
}

func selectAttachment(kind AttachmentKind, name string, data []byte, limit int, allowed []string) (Attachment, error) {
	if len(data) == 0 {
		return Attachment{}, ErrAttachmentEmpty
	}
	if len(data) > limit {
		return Attachment{}, fmt.Errorf("%w: %d bytes exceeds %d", ErrAttachmentTooLarge, len(data), limit)
	}
	detected := mimetype.Detect(data)
	contentType := ""
	for _, candidate := range allowed {
		if detected.Is(candidate) {
			contentType = candidate
			break
		}
	}
	if contentType == "" {
		return Attachment{}, fmt.Errorf("%w: %s", ErrAttachmentType, detected.String())
	}
	trimmedName := strings.TrimSpace(name)
	if trimmedName == "" {
		trimmedName = string(kind)
	}
	return Attachment{
		ID:          uuid.NewString(),
		Kind:        kind,
		State:       AttachmentPendingUpload,
		Name:        trimmedName,
		ContentType: contentType,
		Data:        append([]byte(nil), data...),
	}, nil
}

// AttachmentsOf lists the attachments a saved record references, all in the existing state.
func AttachmentsOf(record Record) []Attachment {
	attachments := make([]Attachment, 0, len(record.Documents)+1)
	if record.AvatarURL != "" {
		attachments = append(attachments, ExistingAttachment(AttachmentAvatar, "avatar", record.AvatarURL))
	}
	for _, document := range record.Documents {
		attachments = append(attachments, ExistingAttachment(AttachmentDocument, document.Name, document.URL))
	}
	return attachments
}
