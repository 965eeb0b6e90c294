package reconciler

import (
	"context"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/medify/internal/healthcard"
	"github.com/MarcoPoloResearchLab/medify/internal/metrics"
	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

const defaultIdleTimeout = 30 * time.Minute

// ErrSessionNotFound indicates an unknown, expired, or foreign session id.
var ErrSessionNotFound = errors.New("reconciler: session not found")

// RegistryConfig describes the dependencies shared by every session.
type RegistryConfig struct {
	Records     RecordStore
	Attachments AttachmentResolver
	IdleTimeout time.Duration
	Clock       func() time.Time
	Logger      *zap.Logger
	Metrics     *metrics.Collector
}

// Registry tracks open sessions and closes the ones left idle.
type Registry struct {
	sessions *cache.Cache
	config   RegistryConfig
	logger   *zap.Logger
}

func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if cfg.Records == nil {
		return nil, errMissingRecords
	}
	if cfg.Attachments == nil {
		return nil, errMissingAttachments
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	cfg.Logger = logger

	registry := &Registry{
		sessions: cache.New(cfg.IdleTimeout, cfg.IdleTimeout/2),
		config:   cfg,
		logger:   logger,
	}
	registry.sessions.OnEvicted(func(id string, value interface{}) {
		session, ok := value.(*Session)
		if !ok {
			return
		}
		session.Close()
		cfg.Metrics.SessionClosed()
		logger.Debug("edit session closed", zap.String("session_id", id))
	})
	return registry, nil
}

// Open starts a session for account and loads its record. The session is
// returned together with any load error so callers can show the empty buffer.
func (r *Registry) Open(ctx context.Context, account healthcard.AccountID) (*Session, error) {
	session, err := NewSession(SessionConfig{
		ID:          uuid.NewString(),
		Account:     account,
		Records:     r.config.Records,
		Attachments: r.config.Attachments,
		Clock:       r.config.Clock,
		Logger:      r.logger,
		Metrics:     r.config.Metrics,
	})
	if err != nil {
		return nil, err
	}
	r.sessions.Set(session.ID(), session, cache.DefaultExpiration)
	r.config.Metrics.SessionOpened()
	return session, session.Load(ctx)
}

// Get returns the session with id when it belongs to account, extending its idle deadline.
func (r *Registry) Get(id string, account healthcard.AccountID) (*Session, error) {
	value, found := r.sessions.Get(id)
	if !found {
		return nil, ErrSessionNotFound
	}
	session, ok := value.(*Session)
	if !ok || session.Account() != account {
		return nil, ErrSessionNotFound
	}
	r.sessions.Set(id, session, cache.DefaultExpiration)
	return session, nil
}

// Close ends the session with id when it belongs to account.
func (r *Registry) Close(id string, account healthcard.AccountID) error {
	if _, err := r.Get(id, account); err != nil {
		return err
	}
	r.sessions.Delete(id)
	return nil
}

// Shutdown closes every open session.
func (r *Registry) Shutdown() {
	for id := range r.sessions.Items() {
		r.sessions.Delete(id)
	}
}
