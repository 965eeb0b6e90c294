package reconciler

import (
	"github.com/MarcoPoloResearchLab/medify/internal/healthcard"
)

// EditBuffer is the locally edited candidate record of a session.
type EditBuffer struct {
	Record             healthcard.Record
	Attachments        []healthcard.Attachment
	Saved              bool
	ShowingPlaceholder bool
}

func demoBuffer(account healthcard.AccountID, publicPath string) EditBuffer {
	record := healthcard.EmptyRecord(account)
	if publicPath != "" {
		record.PublicPath = publicPath
	}
	return EditBuffer{
		Record:             record,
		Attachments:        []healthcard.Attachment{},
		ShowingPlaceholder: true,
	}
}

func savedBuffer(record healthcard.Record) EditBuffer {
	return EditBuffer{
		Record:      record.Clone(),
		Attachments: healthcard.AttachmentsOf(record),
		Saved:       true,
	}
}

func (b EditBuffer) clone() EditBuffer {
	cloned := b
	cloned.Record = b.Record.Clone()
	cloned.Attachments = make([]healthcard.Attachment, len(b.Attachments))
	for index, attachment := range b.Attachments {
		if attachment.Data != nil {
			attachment.Data = append([]byte(nil), attachment.Data...)
		}
		cloned.Attachments[index] = attachment
	}
	return cloned
}

// Avatar returns the live or pending avatar, if any.
func (b EditBuffer) Avatar() (healthcard.Attachment, bool) {
	for _, attachment := range b.Attachments {
		if attachment.Kind == healthcard.AttachmentAvatar && attachment.State != healthcard.AttachmentPendingRemoval {
			return attachment, true
		}
	}
	return healthcard.Attachment{}, false
}

// Documents returns the documents that are not flagged for removal, in order.
func (b EditBuffer) Documents() []healthcard.Attachment {
	documents := make([]healthcard.Attachment, 0, len(b.Attachments))
	for _, attachment := range b.Attachments {
		if attachment.Kind == healthcard.AttachmentDocument && attachment.State != healthcard.AttachmentPendingRemoval {
			documents = append(documents, attachment)
		}
	}
	return documents
}

// setAvatar replaces the current avatar. A live avatar is flagged for removal,
// a pending one is discarded.
func (b *EditBuffer) setAvatar(avatar healthcard.Attachment) {
	b.dropAvatar()
	b.Attachments = append(b.Attachments, avatar)
}

func (b *EditBuffer) dropAvatar() bool {
	dropped := false
	kept := b.Attachments[:0]
	for _, attachment := range b.Attachments {
		if attachment.Kind == healthcard.AttachmentAvatar && attachment.State != healthcard.AttachmentPendingRemoval {
			dropped = true
			if attachment.Live() {
				kept = append(kept, attachment.MarkedForRemoval())
			}
			continue
		}
		kept = append(kept, attachment)
	}
	b.Attachments = kept
	return dropped
}

func (b *EditBuffer) addDocuments(documents ...healthcard.Attachment) {
	b.Attachments = append(b.Attachments, documents...)
}

func (b *EditBuffer) removeDocument(id string) bool {
	for index, attachment := range b.Attachments {
		if attachment.Kind != healthcard.AttachmentDocument || attachment.ID != id || attachment.State == healthcard.AttachmentPendingRemoval {
			continue
		}
		if attachment.Live() {
			b.Attachments[index] = attachment.MarkedForRemoval()
		} else {
			b.Attachments = append(b.Attachments[:index], b.Attachments[index+1:]...)
		}
		return true
	}
	return false
}

// displayRecord is the buffer record with attachment URLs reflecting the current selection.
func (b EditBuffer) displayRecord() healthcard.Record {
	record := b.Record.Clone()
	record.AvatarURL = ""
	if avatar, ok := b.Avatar(); ok {
		record.AvatarURL = avatar.URL
	}
	record.Documents = nil
	for _, document := range b.Documents() {
		if document.URL != "" {
			record.Documents = append(record.Documents, healthcard.Document{Name: document.Name, URL: document.URL})
		}
	}
	return record
}
