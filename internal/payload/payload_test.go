package payload

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/medify/internal/healthcard"
)

var fixedInstant = time.Date(2026, 3, 14, 15, 9, 26, 535000000, time.UTC)

func TestEncodeEmbeddedIsDeterministic(t *testing.T) {
	record := healthcard.DemoRecord()
	first := Encode(record, ModeEmbedded, "https://medify.example", fixedInstant)
	second := Encode(record.Clone(), ModeEmbedded, "https://medify.example", fixedInstant)
	if first != second {
		t.Fatalf("expected identical payloads")
	}
	if !strings.HasPrefix(first, "{\n  \"name\": \"Jane Doe\",\n  \"age\": \"34\",\n  \"bloodGroup\": \"O+\"") {
		t.Fatalf("unexpected payload layout:\n%s", first)
	}
	if !strings.Contains(first, `"generatedAt": "2026-03-14T15:09:26.535Z"`) {
		t.Fatalf("expected millisecond timestamp, got:\n%s", first)
	}
}

func TestEncodeEmbeddedRoundTrips(t *testing.T) {
	record := healthcard.DemoRecord()
	record.HealthReportLinks = []string{"https://reports.example/a", " "}
	record.Documents = []healthcard.Document{{Name: "labs.pdf", URL: "https://blobs.example/documents/labs.pdf"}}

	snapshot, err := DecodeEmbedded(Encode(record, ModeEmbedded, "", fixedInstant))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if snapshot.Name != record.Name || snapshot.Medications != record.Medications || snapshot.Age != "34" {
		t.Fatalf("unexpected snapshot %+v", snapshot)
	}
	if len(snapshot.HealthReportLinks) != 1 || len(snapshot.MedicalDocumentUrls) != 1 {
		t.Fatalf("unexpected lists %+v", snapshot)
	}
}

func TestEncodeEmbeddedDegradesMissingValues(t *testing.T) {
	encoded := Encode(healthcard.Record{}, ModeEmbedded, "", fixedInstant)
	if !strings.Contains(encoded, `"healthReportLinks": []`) || !strings.Contains(encoded, `"medicalDocumentUrls": []`) {
		t.Fatalf("expected empty lists, got:\n%s", encoded)
	}
	if !strings.Contains(encoded, `"age": ""`) {
		t.Fatalf("expected empty age, got:\n%s", encoded)
	}
}

func TestEncodePointerCarriesNoMedicalData(t *testing.T) {
	record := healthcard.DemoRecord()
	record.AccountID = "user-1"
	record.PublicPath = healthcard.PublicPathFor(record.AccountID)

	encoded := Encode(record, ModePointer, "https://medify.example/", fixedInstant)
	if encoded != "https://medify.example/card/user-1" {
		t.Fatalf("unexpected pointer payload %q", encoded)
	}
	if strings.Contains(encoded, "Penicillin") {
		t.Fatalf("pointer payload must not embed medical data")
	}
}

func TestResolveAutoMode(t *testing.T) {
	if Resolve(ModeAuto, healthcard.Record{}) != ModeEmbedded {
		t.Fatalf("expected embedded mode without a public path")
	}
	if Resolve(ModeAuto, healthcard.Record{PublicPath: "/card/x"}) != ModePointer {
		t.Fatalf("expected pointer mode with a public path")
	}
	if Resolve(ModePointer, healthcard.Record{}) != ModeEmbedded {
		t.Fatalf("expected pointer mode to fall back without a public path")
	}
}

func TestParseMode(t *testing.T) {
	if mode, err := ParseMode(""); err != nil || mode != ModeAuto {
		t.Fatalf("expected auto default, got %q %v", mode, err)
	}
	if mode, err := ParseMode("Pointer"); err != nil || mode != ModePointer {
		t.Fatalf("expected pointer, got %q %v", mode, err)
	}
	if _, err := ParseMode("barcode"); !errors.Is(err, ErrInvalidMode) {
		t.Fatalf("expected invalid mode error, got %v", err)
	}
}
