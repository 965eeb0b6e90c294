package records

import (
	"time"

	"github.com/MarcoPoloResearchLab/medify/internal/healthcard"
)

// Card is the persisted row of one account's health record.
type Card struct {
	UserID            string                `gorm:"column:user_id;primaryKey;size:190;not null"`
	Name              *string               `gorm:"column:name;size:320"`
	Age               *int                  `gorm:"column:age"`
	BloodGroup        *string               `gorm:"column:blood_group;size:3"`
	Allergies         *string               `gorm:"column:allergies;type:text"`
	MedicalConditions *string               `gorm:"column:medical_conditions;type:text"`
	Medications       *string               `gorm:"column:medications;type:text"`
	EmergencyContact  *string               `gorm:"column:emergency_contact;size:64"`
	AdditionalNotes   *string               `gorm:"column:additional_notes;type:text"`
	HealthReportLinks []string              `gorm:"column:health_report_links;type:text;serializer:json"`
	ProfilePictureURL *string               `gorm:"column:profile_picture_url;size:1024"`
	MedicalDocuments  []healthcard.Document `gorm:"column:medical_document_urls;type:text;serializer:json"`
	QRCodeURL         string                `gorm:"column:qr_code_url;size:255;not null;default:''"`
	CreatedAt         time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Card) TableName() string {
	return "health_cards"
}

// clearableColumns lists every column a reset sets to NULL. qr_code_url is never cleared.
var clearableColumns = []string{
	"name",
	"age",
	"blood_group",
	"allergies",
	"medical_conditions",
	"medications",
	"emergency_contact",
	"additional_notes",
	"health_report_links",
	"profile_picture_url",
	"medical_document_urls",
}

func cardFromRecord(record healthcard.Record) Card {
	card := Card{
		UserID:            record.AccountID.String(),
		Name:              nullableString(record.Name),
		BloodGroup:        nullableString(record.BloodGroup.String()),
		Allergies:         nullableString(record.Allergies),
		MedicalConditions: nullableString(record.MedicalConditions),
		Medications:       nullableString(record.Medications),
		EmergencyContact:  nullableString(record.EmergencyContact),
		AdditionalNotes:   nullableString(record.AdditionalNotes),
		HealthReportLinks: healthcard.NormalizeLinks(record.HealthReportLinks),
		ProfilePictureURL: nullableString(record.AvatarURL),
		QRCodeURL:         record.PublicPath,
	}
	if record.Age > 0 {
		age := record.Age
		card.Age = &age
	}
	if len(record.Documents) > 0 {
		card.MedicalDocuments = append([]healthcard.Document(nil), record.Documents...)
	}
	return card
}

func (c Card) toRecord() healthcard.Record {
	record := healthcard.Record{
		AccountID:         healthcard.AccountID(c.UserID),
		Name:              derefString(c.Name),
		BloodGroup:        healthcard.BloodGroup(derefString(c.BloodGroup)),
		Allergies:         derefString(c.Allergies),
		MedicalConditions: derefString(c.MedicalConditions),
		Medications:       derefString(c.Medications),
		EmergencyContact:  derefString(c.EmergencyContact),
		AdditionalNotes:   derefString(c.AdditionalNotes),
		AvatarURL:         derefString(c.ProfilePictureURL),
		PublicPath:        c.QRCodeURL,
		UpdatedAt:         c.UpdatedAt.UTC(),
	}
	if c.Age != nil {
		record.Age = *c.Age
	}
	if len(c.HealthReportLinks) > 0 {
		record.HealthReportLinks = append([]string(nil), c.HealthReportLinks...)
	}
	if len(c.MedicalDocuments) > 0 {
		record.Documents = append([]healthcard.Document(nil), c.MedicalDocuments...)
	}
	if record.PublicPath == "" {
		record.PublicPath = healthcard.PublicPathFor(record.AccountID)
	}
	return record
}

func nullableString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
