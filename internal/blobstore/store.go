// Package blobstore stores avatar images and medical documents behind a small
// namespace/object-path interface with filesystem and S3 backends.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Namespace partitions the blob store by attachment kind.
type Namespace string

const (
	NamespaceAvatar    Namespace = "avatar"
	NamespaceDocuments Namespace = "documents"
)

var (
	// ErrInvalidObjectPath indicates an object path that is empty or escapes its namespace.
	ErrInvalidObjectPath = errors.New("blobstore: invalid object path")
	// ErrForeignURL indicates a URL that does not belong to the store.
	ErrForeignURL = errors.New("blobstore: url not served by this store")
)

// Store is the blob store boundary used by the attachment lifecycle manager.
type Store interface {
	// Upload writes data at namespace/objectPath, overwriting any existing object.
	Upload(ctx context.Context, namespace Namespace, objectPath string, data []byte, contentType string) error
	// PublicURL resolves the public URL of an object.
	PublicURL(namespace Namespace, objectPath string) string
	// ObjectPath maps a public URL back to its object path within the namespace.
	ObjectPath(namespace Namespace, publicURL string) (string, error)
	// Delete removes an object. Deleting a missing object succeeds.
	Delete(ctx context.Context, namespace Namespace, objectPath string) error
}

func validateObjectPath(objectPath string) error {
	trimmed := strings.TrimSpace(objectPath)
	if trimmed == "" || trimmed != objectPath {
		return fmt.Errorf("%w: %q", ErrInvalidObjectPath, objectPath)
	}
	if strings.HasPrefix(objectPath, "/") {
		return fmt.Errorf("%w: %q", ErrInvalidObjectPath, objectPath)
	}
	for _, segment := range strings.Split(objectPath, "/") {
		if segment == "" || segment == "." || segment == ".." {
			return fmt.Errorf("%w: %q", ErrInvalidObjectPath, objectPath)
		}
	}
	return nil
}

func joinPublicURL(baseURL string, namespace Namespace, objectPath string) string {
	segments := strings.Split(objectPath, "/")
	for index, segment := range segments {
		segments[index] = url.PathEscape(segment)
	}
	return strings.TrimRight(baseURL, "/") + "/" + string(namespace) + "/" + strings.Join(segments, "/")
}

func splitPublicURL(baseURL string, namespace Namespace, publicURL string) (string, error) {
	prefix := strings.TrimRight(baseURL, "/") + "/" + string(namespace) + "/"
	if !strings.HasPrefix(publicURL, prefix) {
		return "", fmt.Errorf("%w: %s", ErrForeignURL, publicURL)
	}
	escaped := strings.TrimPrefix(publicURL, prefix)
	if index := strings.IndexAny(escaped, "?#"); index >= 0 {
		escaped = escaped[:index]
	}
	objectPath, err := url.PathUnescape(escaped)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrForeignURL, err)
	}
	if err := validateObjectPath(objectPath); err != nil {
		return "", err
	}
	return objectPath, nil
}
