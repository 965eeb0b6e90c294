package records

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/medify/internal/healthcard"
	"github.com/MarcoPoloResearchLab/medify/internal/metrics"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrNotFound indicates that the account has no stored record.
	ErrNotFound = errors.New("records: record not found")

	errMissingDatabase  = errors.New("database handle is required")
	errMissingAccountID = errors.New("account identifier is required")
	noOpLogger          = zap.NewNop()
)

// ServiceError carries a stable code describing which store operation failed.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew = "records.service.new"
	opFetch      = "records.fetch"
	opUpsert     = "records.upsert"
	opClear      = "records.clear"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// ServiceConfig describes the dependencies of the record store.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
	Metrics  *metrics.Collector
}

// Service persists health records keyed by account.
type Service struct {
	db      *gorm.DB
	clock   func() time.Time
	logger  *zap.Logger
	metrics *metrics.Collector
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:      cfg.Database,
		clock:   clock,
		logger:  logger,
		metrics: cfg.Metrics,
	}, nil
}

// Fetch returns the stored record of the account, or ErrNotFound.
func (s *Service) Fetch(ctx context.Context, account healthcard.AccountID) (healthcard.Record, error) {
	if account == "" {
		return healthcard.Record{}, newServiceError(opFetch, "missing_account_id", errMissingAccountID)
	}
	defer s.observe(opFetch, s.clock())

	var card Card
	err := s.db.WithContext(ctx).
		Where("user_id = ?", account.String()).
		Take(&card).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return healthcard.Record{}, ErrNotFound
	}
	if err != nil {
		s.logError(opFetch, "query_failed", err, zap.String("user_id", account.String()))
		return healthcard.Record{}, newServiceError(opFetch, "query_failed", err)
	}
	return card.toRecord(), nil
}

// Upsert writes the full record keyed by account and returns the stored state.
// An already stored public path is never overwritten.
func (s *Service) Upsert(ctx context.Context, record healthcard.Record) (healthcard.Record, error) {
	if record.AccountID == "" {
		return healthcard.Record{}, newServiceError(opUpsert, "missing_account_id", errMissingAccountID)
	}
	defer s.observe(opUpsert, s.clock())

	if record.PublicPath == "" {
		record.PublicPath = healthcard.PublicPathFor(record.AccountID)
	}
	card := cardFromRecord(record)
	now := s.clock().UTC()
	card.CreatedAt = now
	card.UpdatedAt = now

	var stored Card
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updateColumns := append(append([]string(nil), clearableColumns...), "updated_at")
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns(updateColumns),
		}).Create(&card).Error; err != nil {
			s.logError(opUpsert, "write_failed", err, zap.String("user_id", card.UserID))
			return newServiceError(opUpsert, "write_failed", err)
		}
		if err := tx.Where("user_id = ?", card.UserID).Take(&stored).Error; err != nil {
			s.logError(opUpsert, "reload_failed", err, zap.String("user_id", card.UserID))
			return newServiceError(opUpsert, "reload_failed", err)
		}
		return nil
	})
	if txErr != nil {
		return healthcard.Record{}, txErr
	}
	return stored.toRecord(), nil
}

// Clear sets every field of the account's record to NULL, keeping its public path.
// Clearing an account without a stored record is a no-op.
func (s *Service) Clear(ctx context.Context, account healthcard.AccountID) error {
	if account == "" {
		return newServiceError(opClear, "missing_account_id", errMissingAccountID)
	}
	defer s.observe(opClear, s.clock())

	updates := make(map[string]interface{}, len(clearableColumns)+1)
	for _, column := range clearableColumns {
		updates[column] = nil
	}
	updates["updated_at"] = s.clock().UTC()

	if err := s.db.WithContext(ctx).
		Model(&Card{}).
		Where("user_id = ?", account.String()).
		Updates(updates).Error; err != nil {
		s.logError(opClear, "write_failed", err, zap.String("user_id", account.String()))
		return newServiceError(opClear, "write_failed", err)
	}
	return nil
}

func (s *Service) observe(operation string, startedAt time.Time) {
	s.metrics.ObserveStoreQuery(operation, s.clock().Sub(startedAt).Seconds())
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("records service error", attrs...)
}
