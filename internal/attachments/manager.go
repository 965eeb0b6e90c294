// Package attachments reconciles the buffered avatar and document attachments of
// a health record with the blob store before the record itself is persisted.
package attachments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/medify/internal/blobstore"
	"github.com/MarcoPoloResearchLab/medify/internal/healthcard"
	"github.com/MarcoPoloResearchLab/medify/internal/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	errMissingStore = errors.New("blob store is required")
	noOpLogger      = zap.NewNop()
	tracer          = otel.Tracer("github.com/MarcoPoloResearchLab/medify/internal/attachments")
)

const (
	opManagerNew = "attachments.manager.new"
	opResolve    = "attachments.resolve"

	maxParallelUploads = 4
)

// ServiceError carries a stable code describing which resolution step failed.
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

// ManagerConfig describes the dependencies of the lifecycle manager.
type ManagerConfig struct {
	Store   blobstore.Store
	Clock   func() time.Time
	Logger  *zap.Logger
	Metrics *metrics.Collector
}

// Manager uploads pending attachments and deletes removed ones.
type Manager struct {
	store   blobstore.Store
	clock   func() time.Time
	logger  *zap.Logger
	metrics *metrics.Collector
}

func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Store == nil {
		return nil, newServiceError(opManagerNew, "missing_store", errMissingStore)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Manager{store: cfg.Store, clock: clock, logger: logger, metrics: cfg.Metrics}, nil
}

// Failure describes a non-fatal attachment problem reported alongside a successful resolution.
type Failure struct {
	AttachmentID string
	Kind         healthcard.AttachmentKind
	Name         string
	Operation    string
	Err          error
}

func (f Failure) Error() string {
	return fmt.Sprintf("%s %s %q: %v", f.Operation, f.Kind, f.Name, f.Err)
}

// Resolution is the outcome of reconciling attachments with the blob store.
type Resolution struct {
	AvatarURL string
	Documents []healthcard.Document
	Failures  []Failure
}

// Resolve uploads pending attachments, deletes removed ones, and returns the
// avatar URL and document list the record should reference.
//
// An avatar upload failure is fatal and returned as an error before any
// document upload or delete runs. Document upload failures and delete failures
// are reported in Resolution.Failures; failed documents are left out.
func (m *Manager) Resolve(ctx context.Context, account healthcard.AccountID, buffered []healthcard.Attachment, remote healthcard.Record) (Resolution, error) {
	ctx, span := tracer.Start(ctx, opResolve)
	defer span.End()
	span.SetAttributes(attribute.String("account", account.String()), attribute.Int("attachments", len(buffered)))

	stamp := m.clock().UTC().UnixMilli()
	resolution := Resolution{}

	var avatar *healthcard.Attachment
	documents := make([]*healthcard.Attachment, 0, len(buffered))
	removals := make([]healthcard.Attachment, 0)
	for index := range buffered {
		attachment := buffered[index]
		if attachment.State == healthcard.AttachmentPendingRemoval {
			removals = append(removals, attachment)
			continue
		}
		switch attachment.Kind {
		case healthcard.AttachmentAvatar:
			avatar = &attachment
		case healthcard.AttachmentDocument:
			documents = append(documents, &attachment)
		}
	}

	if avatar != nil {
		switch avatar.State {
		case healthcard.AttachmentPendingUpload:
			objectPath := fmt.Sprintf("%s/avatar-%d.%s", account, stamp, avatar.Extension())
			if err := m.upload(ctx, blobstore.NamespaceAvatar, objectPath, *avatar); err != nil {
				m.logError(opResolve, "avatar_upload_failed", err, zap.String("user_id", account.String()))
				span.RecordError(err)
				span.SetStatus(codes.Error, "avatar upload failed")
				return Resolution{}, newServiceError(opResolve, "avatar_upload_failed", err)
			}
			resolution.AvatarURL = m.store.PublicURL(blobstore.NamespaceAvatar, objectPath)
		default:
			resolution.AvatarURL = avatar.URL
		}
	}

	uploaded := make([]string, len(documents))
	uploadErrs := make([]error, len(documents))
	var group errgroup.Group
	group.SetLimit(maxParallelUploads)
	for index, document := range documents {
		if document.State != healthcard.AttachmentPendingUpload {
			uploaded[index] = document.URL
			continue
		}
		group.Go(func() error {
			objectPath := fmt.Sprintf("%s/document-%d-%d.%s", account, stamp, index, document.Extension())
			if err := m.upload(ctx, blobstore.NamespaceDocuments, objectPath, *document); err != nil {
				uploadErrs[index] = err
				return nil
			}
			uploaded[index] = m.store.PublicURL(blobstore.NamespaceDocuments, objectPath)
			return nil
		})
	}
	_ = group.Wait()

	resolution.Documents = make([]healthcard.Document, 0, len(documents))
	for index, document := range documents {
		if uploadErrs[index] != nil {
			m.logger.Warn("document upload failed",
				zap.String("user_id", account.String()),
				zap.String("document", document.Name),
				zap.Error(uploadErrs[index]))
			resolution.Failures = append(resolution.Failures, Failure{
				AttachmentID: document.ID,
				Kind:         document.Kind,
				Name:         document.Name,
				Operation:    "upload",
				Err:          uploadErrs[index],
			})
			continue
		}
		resolution.Documents = append(resolution.Documents, healthcard.Document{Name: document.Name, URL: uploaded[index]})
	}

	referenced := referencedURLs(remote)
	for _, removal := range removals {
		if removal.URL == "" || !referenced[removal.URL] {
			continue
		}
		if err := m.remove(ctx, removal); err != nil {
			m.logger.Warn("attachment delete failed",
				zap.String("user_id", account.String()),
				zap.String("url", removal.URL),
				zap.Error(err))
			resolution.Failures = append(resolution.Failures, Failure{
				AttachmentID: removal.ID,
				Kind:         removal.Kind,
				Name:         removal.Name,
				Operation:    "delete",
				Err:          err,
			})
		}
	}

	span.SetAttributes(attribute.Int("failures", len(resolution.Failures)))
	return resolution, nil
}

func (m *Manager) upload(ctx context.Context, namespace blobstore.Namespace, objectPath string, attachment healthcard.Attachment) error {
	err := m.store.Upload(ctx, namespace, objectPath, attachment.Data, attachment.ContentType)
	m.metrics.ObserveBlob("upload", string(namespace), outcomeOf(err))
	return err
}

func (m *Manager) remove(ctx context.Context, attachment healthcard.Attachment) error {
	namespace := namespaceOf(attachment.Kind)
	objectPath, err := m.store.ObjectPath(namespace, attachment.URL)
	if err != nil {
		m.metrics.ObserveBlob("delete", string(namespace), "failure")
		return err
	}
	err = m.store.Delete(ctx, namespace, objectPath)
	m.metrics.ObserveBlob("delete", string(namespace), outcomeOf(err))
	return err
}

func namespaceOf(kind healthcard.AttachmentKind) blobstore.Namespace {
	if kind == healthcard.AttachmentAvatar {
		return blobstore.NamespaceAvatar
	}
	return blobstore.NamespaceDocuments
}

func referencedURLs(remote healthcard.Record) map[string]bool {
	referenced := make(map[string]bool, len(remote.Documents)+1)
	if remote.AvatarURL != "" {
		referenced[remote.AvatarURL] = true
	}
	for _, document := range remote.Documents {
		referenced[document.URL] = true
	}
	return referenced
}

func outcomeOf(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

func (m *Manager) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	m.logger.Error("attachments service error", attrs...)
}
