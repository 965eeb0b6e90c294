package export

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"time"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

const (
	defaultAvatarTimeout  = 10 * time.Second
	defaultAvatarMaxBytes = 4 << 20
)

// ErrAvatarUnavailable indicates the avatar could not be fetched or decoded.
var ErrAvatarUnavailable = errors.New("export: avatar unavailable")

// AvatarLoader fetches and decodes an avatar image.
type AvatarLoader interface {
	Load(ctx context.Context, url string) (image.Image, error)
}

// HTTPAvatarLoader loads avatars from their public URL.
type HTTPAvatarLoader struct {
	client   *http.Client
	maxBytes int64
}

// NewHTTPAvatarLoader builds a loader. A nil client gets a default with a timeout.
func NewHTTPAvatarLoader(client *http.Client) *HTTPAvatarLoader {
	if client == nil {
		client = &http.Client{Timeout: defaultAvatarTimeout}
	}
	return &HTTPAvatarLoader{client: client, maxBytes: defaultAvatarMaxBytes}
}

func (l *HTTPAvatarLoader) Load(ctx context.Context, url string) (image.Image, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAvatarUnavailable, err)
	}
	response, err := l.client.Do(request)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAvatarUnavailable, err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrAvatarUnavailable, response.StatusCode)
	}
	decoded, err := imaging.Decode(io.LimitReader(response.Body, l.maxBytes), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAvatarUnavailable, err)
	}
	return decoded, nil
}
