package records

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/medify/internal/healthcard"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

const testAccount = healthcard.AccountID("user-1")

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "records.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Card{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	service, err := NewService(ServiceConfig{
		Database: db,
		Clock: func() time.Time {
			return time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
		},
	})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return service, db
}

func sampleRecord() healthcard.Record {
	record := healthcard.DemoRecord()
	record.AccountID = testAccount
	record.PublicPath = healthcard.PublicPathFor(testAccount)
	record.HealthReportLinks = []string{"https://reports.example/1", "  "}
	record.AvatarURL = "https://blobs.example/avatar/user-1/avatar-1.png"
	record.Documents = []healthcard.Document{{Name: "labs.pdf", URL: "https://blobs.example/documents/user-1/document-1-0.pdf"}}
	return record
}

func TestFetchReturnsNotFoundForUnknownAccount(t *testing.T) {
	service, _ := newTestService(t)
	if _, err := service.Fetch(context.Background(), testAccount); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpsertIsIdempotent(t *testing.T) {
	service, db := newTestService(t)
	ctx := context.Background()

	first, err := service.Upsert(ctx, sampleRecord())
	if err != nil {
		t.Fatalf("first upsert failed: %v", err)
	}
	second, err := service.Upsert(ctx, sampleRecord())
	if err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}

	var count int64
	if err := db.Model(&Card{}).Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected a single row, got %d", count)
	}
	if first.Name != second.Name || first.PublicPath != second.PublicPath {
		t.Fatalf("expected identical stored records, got %+v and %+v", first, second)
	}
	if len(second.HealthReportLinks) != 1 {
		t.Fatalf("expected blank report links to be filtered, got %v", second.HealthReportLinks)
	}
	if len(second.Documents) != 1 || second.Documents[0].Name != "labs.pdf" {
		t.Fatalf("unexpected documents %v", second.Documents)
	}
}

func TestUpsertNeverRewritesPublicPath(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	if _, err := service.Upsert(ctx, sampleRecord()); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	tampered := sampleRecord()
	tampered.PublicPath = "/card/somebody-else"
	stored, err := service.Upsert(ctx, tampered)
	if err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if stored.PublicPath != "/card/user-1" {
		t.Fatalf("expected public path to be preserved, got %q", stored.PublicPath)
	}
}

func TestClearNullsFieldsAndKeepsPublicPath(t *testing.T) {
	service, db := newTestService(t)
	ctx := context.Background()

	if _, err := service.Upsert(ctx, sampleRecord()); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if err := service.Clear(ctx, testAccount); err != nil {
		t.Fatalf("clear failed: %v", err)
	}

	var card Card
	if err := db.Where("user_id = ?", testAccount.String()).Take(&card).Error; err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if card.Name != nil || card.Age != nil || card.ProfilePictureURL != nil || card.HealthReportLinks != nil {
		t.Fatalf("expected cleared columns, got %+v", card)
	}
	if card.QRCodeURL != "/card/user-1" {
		t.Fatalf("expected qr_code_url to survive reset, got %q", card.QRCodeURL)
	}

	record, err := service.Fetch(ctx, testAccount)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if record.Name != "" || record.AvatarURL != "" || len(record.Documents) != 0 {
		t.Fatalf("expected empty record after clear, got %+v", record)
	}
	if record.PublicPath != "/card/user-1" {
		t.Fatalf("unexpected public path %q", record.PublicPath)
	}
}

func TestClearWithoutRecordIsNoop(t *testing.T) {
	service, _ := newTestService(t)
	if err := service.Clear(context.Background(), testAccount); err != nil {
		t.Fatalf("expected clear of missing record to succeed, got %v", err)
	}
}

func TestFetchLogsQueryFailures(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "broken.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	core, logs := observer.New(zapcore.DebugLevel)
	service, err := NewService(ServiceConfig{Database: db, Logger: zap.New(core)})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}

	_, err = service.Fetch(context.Background(), testAccount)
	var serviceErr *ServiceError
	if !errors.As(err, &serviceErr) || serviceErr.Code() != "records.fetch.query_failed" {
		t.Fatalf("expected query_failed service error, got %v", err)
	}
	if logs.FilterMessage("records service error").Len() != 1 {
		t.Fatalf("expected one logged service error, got %d", logs.Len())
	}
}

func TestNewServiceRequiresDatabase(t *testing.T) {
	_, err := NewService(ServiceConfig{})
	var serviceErr *ServiceError
	if !errors.As(err, &serviceErr) || serviceErr.Code() != "records.service.new.missing_database" {
		t.Fatalf("expected missing database error, got %v", err)
	}
}
