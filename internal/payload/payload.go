// Package payload turns a health record into the text carried by a card's code image.
package payload

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/medify/internal/healthcard"
)

// Mode selects what the code image carries.
type Mode string

const (
	// ModeEmbedded carries a JSON snapshot of the record.
	ModeEmbedded Mode = "embedded"
	// ModePointer carries only the absolute URL of the public view.
	ModePointer Mode = "pointer"
	// ModeAuto picks pointer mode whenever the record has a public path.
	ModeAuto Mode = "auto"
)

const generatedAtLayout = "2006-01-02T15:04:05.000Z07:00"

// ErrInvalidMode indicates an unsupported payload mode.
var ErrInvalidMode = errors.New("payload: invalid mode")

// ParseMode validates a configured mode. Empty input selects ModeAuto.
func ParseMode(raw string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ModeAuto:
		return ModeAuto, nil
	case ModeEmbedded:
		return ModeEmbedded, nil
	case ModePointer:
		return ModePointer, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidMode, raw)
}

// Snapshot is the embedded-mode document. Field order is the wire order.
type Snapshot struct {
	Name                string                `json:"name"`
	Age                 string                `json:"age"`
	BloodGroup          string                `json:"bloodGroup"`
	Allergies           string                `json:"allergies"`
	MedicalConditions   string                `json:"medicalConditions"`
	Medications         string                `json:"medications"`
	EmergencyContact    string                `json:"emergencyContact"`
	AdditionalNotes     string                `json:"additionalNotes"`
	HealthReportLinks   []string              `json:"healthReportLinks"`
	MedicalDocumentUrls []healthcard.Document `json:"medicalDocumentUrls"`
	GeneratedAt         string                `json:"generatedAt"`
}

// Encode renders the payload of record in the given mode. It never fails:
// missing values degrade to empty strings and empty lists.
func Encode(record healthcard.Record, mode Mode, baseURL string, generatedAt time.Time) string {
	if Resolve(mode, record) == ModePointer {
		return strings.TrimRight(baseURL, "/") + record.PublicPath
	}
	encoded, err := json.MarshalIndent(snapshotOf(record, generatedAt), "", "  ")
	if err != nil {
		return "{}"
	}
	return string(encoded)
}

// Resolve reduces ModeAuto to the concrete mode used for record.
func Resolve(mode Mode, record healthcard.Record) Mode {
	switch mode {
	case ModeEmbedded:
		return ModeEmbedded
	case ModePointer:
		if record.PublicPath == "" {
			return ModeEmbedded
		}
		return ModePointer
	}
	if record.PublicPath != "" {
		return ModePointer
	}
	return ModeEmbedded
}

// DecodeEmbedded parses an embedded-mode payload.
func DecodeEmbedded(encoded string) (Snapshot, error) {
	var snapshot Snapshot
	if err := json.Unmarshal([]byte(encoded), &snapshot); err != nil {
		return Snapshot{}, fmt.Errorf("payload: decode snapshot: %w", err)
	}
	return snapshot, nil
}

func snapshotOf(record healthcard.Record, generatedAt time.Time) Snapshot {
	snapshot := Snapshot{
		Name:                record.Name,
		BloodGroup:          record.BloodGroup.String(),
		Allergies:           record.Allergies,
		MedicalConditions:   record.MedicalConditions,
		Medications:         record.Medications,
		EmergencyContact:    record.EmergencyContact,
		AdditionalNotes:     record.AdditionalNotes,
		HealthReportLinks:   []string{},
		MedicalDocumentUrls: []healthcard.Document{},
		GeneratedAt:         generatedAt.UTC().Format(generatedAtLayout),
	}
	if record.Age > 0 {
		snapshot.Age = strconv.Itoa(record.Age)
	}
	if links := healthcard.NormalizeLinks(record.HealthReportLinks); len(links) > 0 {
		snapshot.HealthReportLinks = links
	}
	if len(record.Documents) > 0 {
		snapshot.MedicalDocumentUrls = append(snapshot.MedicalDocumentUrls, record.Documents...)
	}
	return snapshot
}
