package users

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/medify/internal/auth"
	sqlite "github.com/glebarez/sqlite"
	"github.com/golang-jwt/jwt/v5"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "users.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Identity{}); err != nil {
		t.Fatalf("failed to migrate identity schema: %v", err)
	}
	service, err := NewService(ServiceConfig{
		Database: db,
		Clock: func() time.Time {
			return time.Unix(1, 0)
		},
	})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return service, db
}

func TestResolveAccountQualifiesProviderLogins(t *testing.T) {
	service, db := newTestService(t)

	claims := auth.SessionClaims{
		UserID:          "google:12345",
		UserEmail:       "user@example.com",
		UserDisplayName: "Example User",
	}
	account, err := service.ResolveAccount(context.Background(), claims)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if account != "google:12345" {
		t.Fatalf("expected provider-qualified account id, got %q", account)
	}

	// second call should hit cache and not create a duplicate record.
	account, err = service.ResolveAccount(context.Background(), claims)
	if err != nil {
		t.Fatalf("second resolve failed: %v", err)
	}
	if account != "google:12345" {
		t.Fatalf("expected account id to remain stable, got %q", account)
	}

	var count int64
	if err := db.Model(&Identity{}).Count(&count).Error; err != nil || count != 1 {
		t.Fatalf("expected a single identity row, got %d (%v)", count, err)
	}
}

func TestResolveAccountFallsBackToSubjectAndEmail(t *testing.T) {
	service, _ := newTestService(t)

	claims := auth.SessionClaims{UserEmail: "only@example.com"}
	account, err := service.ResolveAccount(context.Background(), claims)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if account != "only@example.com" {
		t.Fatalf("expected email fallback, got %q", account)
	}

	if _, err := service.ResolveAccount(context.Background(), auth.SessionClaims{}); !errors.Is(err, ErrInvalidIdentity) {
		t.Fatalf("expected ErrInvalidIdentity, got %v", err)
	}
}

func TestNewServiceRequiresDatabase(t *testing.T) {
	if _, err := NewService(ServiceConfig{}); err == nil {
		t.Fatalf("expected error without database")
	}
}

func TestResolveAccountRefreshesLoginDetails(t *testing.T) {
	first, db := newTestService(t)
	claims := auth.SessionClaims{UserID: "google:777", UserEmail: "old@example.com", UserDisplayName: "Old Name"}
	if _, err := first.ResolveAccount(context.Background(), claims); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	// a fresh service skips the in-memory cache and reaches the stored row.
	second, err := NewService(ServiceConfig{Database: db, Clock: func() time.Time { return time.Unix(50, 0) }})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	account, err := second.ResolveAccount(context.Background(), auth.SessionClaims{UserID: "google:777", UserEmail: "new@example.com"})
	if err != nil {
		t.Fatalf("second resolve failed: %v", err)
	}
	if account != "google:777" {
		t.Fatalf("expected stable account id, got %q", account)
	}

	var stored Identity
	if err := db.Where("provider = ? AND subject = ?", "google", "777").Take(&stored).Error; err != nil {
		t.Fatalf("failed to load identity: %v", err)
	}
	if stored.Email != "new@example.com" {
		t.Fatalf("expected refreshed email, got %q", stored.Email)
	}
	if stored.DisplayName != "Old Name" {
		t.Fatalf("expected blank display name to keep stored value, got %q", stored.DisplayName)
	}
	if stored.LastSeenAt.Unix() != 50 {
		t.Fatalf("expected last seen to advance, got %v", stored.LastSeenAt)
	}
}

func TestResolveAccountSeparatesProvidersWithEqualSubjects(t *testing.T) {
	service, db := newTestService(t)

	google, err := service.ResolveAccount(context.Background(), auth.SessionClaims{UserID: "google:123"})
	if err != nil {
		t.Fatalf("google resolve failed: %v", err)
	}
	github, err := service.ResolveAccount(context.Background(), auth.SessionClaims{UserID: "github:123"})
	if err != nil {
		t.Fatalf("github resolve failed: %v", err)
	}
	if google == github {
		t.Fatalf("expected distinct accounts per provider, both resolved to %q", google)
	}

	bare, err := service.ResolveAccount(context.Background(), auth.SessionClaims{RegisteredClaims: jwt.RegisteredClaims{Subject: "123"}})
	if err != nil {
		t.Fatalf("bare resolve failed: %v", err)
	}
	if bare != "123" || bare == google || bare == github {
		t.Fatalf("expected unprefixed subject to keep its own account, got %q", bare)
	}

	var count int64
	if err := db.Model(&Identity{}).Count(&count).Error; err != nil || count != 3 {
		t.Fatalf("expected three identity rows, got %d (%v)", count, err)
	}
}
