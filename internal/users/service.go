// Package users resolves session claims to the account that owns a card.
package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/medify/internal/auth"
	"github.com/MarcoPoloResearchLab/medify/internal/healthcard"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrInvalidIdentity indicates the claims did not contain a usable identifier.
var ErrInvalidIdentity = errors.New("users: invalid identity")

// ServiceConfig describes the dependencies required for account resolution.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service maps provider identities onto stable account ids.
type Service struct {
	db     *gorm.DB
	now    func() time.Time
	logger *zap.Logger
	cache  sync.Map
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: cfg.Database, now: clock, logger: logger}, nil
}

// ResolveAccount returns the account id for the session claims. The first
// sighting of a provider+subject pair records a new identity whose account id
// is the provider-local subject.
func (s *Service) ResolveAccount(ctx context.Context, claims auth.SessionClaims) (healthcard.AccountID, error) {
	provider, subject := deriveProviderSubject(claims)
	if subject == "" {
		return "", ErrInvalidIdentity
	}

	cacheKey := provider + ":" + subject
	if cached, ok := s.cache.Load(cacheKey); ok {
		if account, ok := cached.(healthcard.AccountID); ok {
			return account, nil
		}
	}

	db := s.db.WithContext(ctx)
	var identity Identity
	err := db.Where("provider = ? AND subject = ?", provider, subject).First(&identity).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		identity = newIdentity(provider, subject, claims, s.now().UTC())
		if err := db.Create(&identity).Error; err != nil {
			s.logger.Error("identity create failed", zap.String("provider", provider), zap.Error(err))
			return "", err
		}
	case err != nil:
		s.logger.Error("identity lookup failed", zap.String("provider", provider), zap.Error(err))
		return "", err
	default:
		updates := identity.refreshFrom(claims, s.now().UTC())
		if err := db.Model(&Identity{}).
			Where("provider = ? AND subject = ?", provider, subject).
			Updates(updates).Error; err != nil {
			s.logger.Warn("identity refresh failed", zap.String("provider", provider), zap.Error(err))
		}
	}

	account, err := identity.Account()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}
	s.cache.Store(cacheKey, account)
	return account, nil
}

func deriveProviderSubject(claims auth.SessionClaims) (string, string) {
	for _, candidate := range []string{claims.UserID, claims.Subject} {
		prefix, rest, found := strings.Cut(normalize(candidate), ":")
		if found && normalize(prefix) != "" && normalize(rest) != "" {
			return normalize(prefix), normalize(rest)
		}
	}

	subject := normalize(claims.Subject)
	if subject == "" {
		subject = normalize(claims.UserID)
	}
	if subject == "" {
		subject = normalize(claims.UserEmail)
	}
	return defaultProvider, subject
}
