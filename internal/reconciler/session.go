// Package reconciler keeps an account's edit buffer consistent with the record
// store and the blob store across load, edit, save, and reset.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/medify/internal/attachments"
	"github.com/MarcoPoloResearchLab/medify/internal/healthcard"
	"github.com/MarcoPoloResearchLab/medify/internal/metrics"
	"github.com/MarcoPoloResearchLab/medify/internal/records"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// State is the lifecycle state of a session's buffer.
type State string

const (
	StateEmpty       State = "empty"
	StateLoadedDemo  State = "loaded-demo"
	StateLoadedSaved State = "loaded-saved"
	StateEditing     State = "editing"
	StateSaving      State = "saving"
)

var (
	// ErrSaveInProgress rejects operations while a save or reset is outstanding.
	ErrSaveInProgress = errors.New("reconciler: save in progress")
	// ErrSessionClosed rejects operations on a closed session.
	ErrSessionClosed = errors.New("reconciler: session closed")
	// ErrNotLoaded rejects edits before the buffer has been loaded.
	ErrNotLoaded = errors.New("reconciler: buffer not loaded")
	// ErrAttachmentNotFound indicates an attachment id that is not in the buffer.
	ErrAttachmentNotFound = errors.New("reconciler: attachment not found")
	// ErrInvalidAttachment rejects attachments that are not pending uploads of the expected kind.
	ErrInvalidAttachment = errors.New("reconciler: invalid attachment")
	// ErrAttachmentsFailed marks a save aborted by a fatal attachment failure.
	ErrAttachmentsFailed = errors.New("reconciler: attachment resolution failed")
	// ErrPersistenceFailed marks a record store failure.
	ErrPersistenceFailed = errors.New("reconciler: persistence failed")

	noOpLogger = zap.NewNop()
	tracer     = otel.Tracer("github.com/MarcoPoloResearchLab/medify/internal/reconciler")
)

const (
	opLoad  = "reconciler.load"
	opSave  = "reconciler.save"
	opReset = "reconciler.reset"
)

// ServiceError carries a stable code describing which reconciler step failed.
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

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// RecordStore is the record store boundary.
type RecordStore interface {
	Fetch(ctx context.Context, account healthcard.AccountID) (healthcard.Record, error)
	Upsert(ctx context.Context, record healthcard.Record) (healthcard.Record, error)
	Clear(ctx context.Context, account healthcard.AccountID) error
}

// AttachmentResolver reconciles buffered attachments with the blob store.
type AttachmentResolver interface {
	Resolve(ctx context.Context, account healthcard.AccountID, buffered []healthcard.Attachment, remote healthcard.Record) (attachments.Resolution, error)
}

// SaveResult reports a completed save.
type SaveResult struct {
	Record   healthcard.Record
	Failures []attachments.Failure
	// Discarded is set when the session closed before the save finished.
	// The record was persisted but the session was left untouched.
	Discarded bool
}

// Snapshot is a consistent copy of a session's state.
type Snapshot struct {
	SessionID   string
	Account     healthcard.AccountID
	State       State
	Buffer      EditBuffer
	FieldErrors healthcard.FieldErrors
	Revision    uint64
}

// Session owns one account's edit buffer. All methods are safe for concurrent use;
// at most one save or reset is outstanding at a time.
type Session struct {
	id          string
	account     healthcard.AccountID
	records     RecordStore
	attachments AttachmentResolver
	clock       func() time.Time
	logger      *zap.Logger
	metrics     *metrics.Collector
	feed        *ChangeFeed
	done        chan struct{}

	mu          sync.Mutex
	state       State
	buffer      EditBuffer
	remote      *healthcard.Record
	fieldErrors healthcard.FieldErrors
	revision    uint64
	generation  uint64
	closed      bool
}

// SessionConfig describes the dependencies of a session.
type SessionConfig struct {
	ID          string
	Account     healthcard.AccountID
	Records     RecordStore
	Attachments AttachmentResolver
	Clock       func() time.Time
	Logger      *zap.Logger
	Metrics     *metrics.Collector
}

var (
	errMissingRecords     = errors.New("record store is required")
	errMissingAttachments = errors.New("attachment resolver is required")
)

func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.Account == "" {
		return nil, healthcard.ErrInvalidAccountID
	}
	if cfg.Records == nil {
		return nil, errMissingRecords
	}
	if cfg.Attachments == nil {
		return nil, errMissingAttachments
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Session{
		id:          cfg.ID,
		account:     cfg.Account,
		records:     cfg.Records,
		attachments: cfg.Attachments,
		clock:       clock,
		logger:      logger.With(zap.String("session_id", cfg.ID), zap.String("user_id", cfg.Account.String())),
		metrics:     cfg.Metrics,
		feed:        NewChangeFeed(),
		done:        make(chan struct{}),
		state:       StateEmpty,
		fieldErrors: healthcard.FieldErrors{},
	}, nil
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Account() healthcard.AccountID {
	return s.account
}

// Done is closed when the session closes.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Subscribe streams buffer change notifications until ctx ends or the session closes.
func (s *Session) Subscribe(ctx context.Context) (<-chan Change, func()) {
	return s.feed.Subscribe(ctx)
}

// Snapshot returns a copy of the session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	fieldErrors := make(healthcard.FieldErrors, len(s.fieldErrors))
	for field, message := range s.fieldErrors {
		fieldErrors[field] = message
	}
	return Snapshot{
		SessionID:   s.id,
		Account:     s.account,
		State:       s.state,
		Buffer:      s.buffer.clone(),
		FieldErrors: fieldErrors,
		Revision:    s.revision,
	}
}

// View returns the owner's card view of the current buffer.
func (s *Session) View() healthcard.CardView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return healthcard.OwnerView(s.buffer.displayRecord(), s.buffer.Saved)
}

// Load fetches the stored record into the buffer. A missing record leaves an
// empty buffer in the demo state. Any other failure does the same and is returned.
func (s *Session) Load(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, opLoad)
	defer span.End()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.state == StateSaving {
		s.mu.Unlock()
		return ErrSaveInProgress
	}
	generation := s.generation
	s.mu.Unlock()

	record, err := s.records.Fetch(ctx, s.account)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.generation != generation {
		return ErrSessionClosed
	}
	s.fieldErrors = healthcard.FieldErrors{}
	switch {
	case err == nil:
		s.remote = &record
		s.buffer = savedBuffer(record)
		s.state = StateLoadedSaved
	case errors.Is(err, records.ErrNotFound):
		s.remote = nil
		s.buffer = demoBuffer(s.account, "")
		s.state = StateLoadedDemo
	default:
		s.remote = nil
		s.buffer = demoBuffer(s.account, "")
		s.state = StateLoadedDemo
		s.touchLocked(ChangeLoaded)
		s.logger.Warn("record load failed, showing empty buffer", zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		return newServiceError(opLoad, "fetch_failed", fmt.Errorf("%w: %w", ErrPersistenceFailed, err))
	}
	s.touchLocked(ChangeLoaded)
	return nil
}

// Edit sets one buffer field from its form representation and clears that
// field's validation error. The store is not touched.
func (s *Session) Edit(field healthcard.Field, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.editableLocked(); err != nil {
		return err
	}
	delete(s.fieldErrors, field)
	if err := healthcard.ApplyEdit(&s.buffer.Record, field, value); err != nil {
		var fieldErrs healthcard.FieldErrors
		if errors.As(err, &fieldErrs) {
			for invalidField, message := range fieldErrs {
				s.fieldErrors[invalidField] = message
			}
			s.touchLocked(ChangeEdited)
		}
		return err
	}
	s.markEditingLocked()
	s.touchLocked(ChangeEdited)
	return nil
}

// SelectAvatar stages a validated avatar for upload, replacing the current one.
func (s *Session) SelectAvatar(avatar healthcard.Attachment) error {
	if avatar.Kind != healthcard.AttachmentAvatar || avatar.State != healthcard.AttachmentPendingUpload {
		return ErrInvalidAttachment
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.editableLocked(); err != nil {
		return err
	}
	s.buffer.setAvatar(avatar)
	s.markEditingLocked()
	s.touchLocked(ChangeAttachment)
	return nil
}

// RemoveAvatar clears the avatar. A stored avatar is deleted on the next save.
func (s *Session) RemoveAvatar() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.editableLocked(); err != nil {
		return err
	}
	if !s.buffer.dropAvatar() {
		return ErrAttachmentNotFound
	}
	s.markEditingLocked()
	s.touchLocked(ChangeAttachment)
	return nil
}

// AddDocuments stages validated documents for upload.
func (s *Session) AddDocuments(documents ...healthcard.Attachment) error {
	for _, document := range documents {
		if document.Kind != healthcard.AttachmentDocument || document.State != healthcard.AttachmentPendingUpload {
			return ErrInvalidAttachment
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.editableLocked(); err != nil {
		return err
	}
	s.buffer.addDocuments(documents...)
	s.markEditingLocked()
	s.touchLocked(ChangeAttachment)
	return nil
}

// RemoveDocument drops a pending document or flags a stored one for deletion.
func (s *Session) RemoveDocument(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.editableLocked(); err != nil {
		return err
	}
	if !s.buffer.removeDocument(id) {
		return ErrAttachmentNotFound
	}
	s.markEditingLocked()
	s.touchLocked(ChangeAttachment)
	return nil
}

// Save validates the buffer, resolves attachments, and upserts the merged record.
// Validation failures are returned as healthcard.FieldErrors without touching
// either store. Failures after validation leave the buffer intact.
func (s *Session) Save(ctx context.Context) (SaveResult, error) {
	ctx, span := tracer.Start(ctx, opSave)
	defer span.End()
	span.SetAttributes(attribute.String("account", s.account.String()))

	s.mu.Lock()
	if err := s.editableLocked(); err != nil {
		s.mu.Unlock()
		return SaveResult{}, err
	}
	if errs := healthcard.Validate(s.buffer.Record); errs != nil {
		s.fieldErrors = healthcard.FieldErrors{}
		for field, message := range errs {
			s.fieldErrors[field] = message
		}
		s.touchLocked(ChangeState)
		s.mu.Unlock()
		s.metrics.ObserveSave("invalid")
		return SaveResult{}, errs
	}
	snapshot := s.buffer.clone()
	remote := healthcard.Record{}
	if s.remote != nil {
		remote = s.remote.Clone()
	}
	generation := s.generation
	s.state = StateSaving
	s.touchLocked(ChangeState)
	s.mu.Unlock()

	resolution, err := s.attachments.Resolve(ctx, s.account, snapshot.Attachments, remote)
	if err != nil {
		s.finishFailedSave(generation)
		s.metrics.ObserveSave("attachment_failed")
		span.RecordError(err)
		span.SetStatus(codes.Error, "attachment resolution failed")
		return SaveResult{}, newServiceError(opSave, "attachment_failed", fmt.Errorf("%w: %w", ErrAttachmentsFailed, err))
	}

	merged := snapshot.Record.Clone()
	merged.AccountID = s.account
	merged.HealthReportLinks = healthcard.NormalizeLinks(merged.HealthReportLinks)
	merged.AvatarURL = resolution.AvatarURL
	merged.Documents = resolution.Documents
	switch {
	case remote.PublicPath != "":
		merged.PublicPath = remote.PublicPath
	case merged.PublicPath == "":
		merged.PublicPath = healthcard.PublicPathFor(s.account)
	}

	stored, err := s.records.Upsert(ctx, merged)
	if err != nil {
		s.finishFailedSave(generation)
		s.metrics.ObserveSave("persist_failed")
		span.RecordError(err)
		span.SetStatus(codes.Error, "upsert failed")
		return SaveResult{}, newServiceError(opSave, "persist_failed", fmt.Errorf("%w: %w", ErrPersistenceFailed, err))
	}

	result := SaveResult{Record: stored, Failures: resolution.Failures}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.generation != generation {
		s.logger.Info("discarding save result for closed session")
		s.metrics.ObserveSave("discarded")
		result.Discarded = true
		return result, nil
	}
	s.remote = &stored
	s.buffer = savedBuffer(stored)
	s.fieldErrors = healthcard.FieldErrors{}
	s.state = StateLoadedSaved
	s.touchLocked(ChangeSaved)
	s.metrics.ObserveSave("success")
	return result, nil
}

// Reset clears the buffer to the empty demo state and nulls every stored field
// except the public path. The local reset stands even when the remote clear fails.
func (s *Session) Reset(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, opReset)
	defer span.End()

	s.mu.Lock()
	if err := s.editableLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	publicPath := s.buffer.Record.PublicPath
	if s.remote != nil && s.remote.PublicPath != "" {
		publicPath = s.remote.PublicPath
	}
	s.buffer = demoBuffer(s.account, publicPath)
	s.fieldErrors = healthcard.FieldErrors{}
	s.state = StateSaving
	s.generation++
	generation := s.generation
	s.touchLocked(ChangeReset)
	s.mu.Unlock()

	err := s.records.Clear(ctx, s.account)

	s.mu.Lock()
	if !s.closed && s.generation == generation {
		s.state = StateLoadedDemo
		if err == nil && s.remote != nil {
			cleared := s.remote.Cleared()
			s.remote = &cleared
		}
		s.touchLocked(ChangeState)
	}
	s.mu.Unlock()

	if err != nil {
		s.metrics.ObserveReset("failure")
		s.logger.Warn("remote reset failed, local buffer already cleared", zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "clear failed")
		return newServiceError(opReset, "clear_failed", fmt.Errorf("%w: %w", ErrPersistenceFailed, err))
	}
	s.metrics.ObserveReset("success")
	return nil
}

// Close ends the session. Results of operations still in flight are discarded.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.generation++
	s.mu.Unlock()
	s.feed.Close()
	close(s.done)
}

func (s *Session) editableLocked() error {
	switch {
	case s.closed:
		return ErrSessionClosed
	case s.state == StateSaving:
		return ErrSaveInProgress
	case s.state == StateEmpty:
		return ErrNotLoaded
	}
	return nil
}

func (s *Session) markEditingLocked() {
	if s.state == StateLoadedDemo || s.state == StateLoadedSaved {
		s.state = StateEditing
	}
}

func (s *Session) finishFailedSave(generation uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.generation != generation {
		return
	}
	s.state = StateEditing
	s.touchLocked(ChangeState)
}

func (s *Session) touchLocked(kind ChangeKind) {
	s.revision++
	s.feed.Publish(Change{
		SessionID: s.id,
		Kind:      kind,
		Revision:  s.revision,
		Timestamp: s.clock().UTC(),
	})
}
