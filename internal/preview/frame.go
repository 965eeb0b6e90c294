// Package preview turns card views into rendered frames and keeps a live frame
// current for an editing session.
package preview

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/medify/internal/codeimage"
	"github.com/MarcoPoloResearchLab/medify/internal/healthcard"
	"github.com/MarcoPoloResearchLab/medify/internal/payload"
	"go.uber.org/zap"
)

const (
	// CaptionPointer labels codes that carry the public profile link.
	CaptionPointer = "Scan for online profile"
	// CaptionEmbedded labels codes that carry the record itself.
	CaptionEmbedded = "Scan QR for full medical profile"
	// NoticeCodeFailed is raised when the code image cannot be regenerated.
	NoticeCodeFailed = "Could not generate QR code."
)

var errMissingGenerator = errors.New("code image generator is required")

// Frame is one rendered state of a card.
type Frame struct {
	View              healthcard.CardView
	Display           healthcard.Record
	Payload           string
	Mode              payload.Mode
	CodePNG           []byte
	Caption           string
	ShowDemoIndicator bool
	Notice            string
	Revision          uint64
	RenderedAt        time.Time
}

// Caption returns the code caption for a resolved payload mode.
func Caption(mode payload.Mode) string {
	if mode == payload.ModePointer {
		return CaptionPointer
	}
	return CaptionEmbedded
}

// BuilderConfig configures a Builder.
type BuilderConfig struct {
	Generator *codeimage.Generator
	Mode      payload.Mode
	BaseURL   string
	Clock     func() time.Time
	Logger    *zap.Logger
}

// Builder renders frames from card views.
type Builder struct {
	generator *codeimage.Generator
	mode      payload.Mode
	baseURL   string
	clock     func() time.Time
	logger    *zap.Logger
}

func NewBuilder(cfg BuilderConfig) (*Builder, error) {
	if cfg.Generator == nil {
		return nil, errMissingGenerator
	}
	mode := cfg.Mode
	if mode == "" {
		mode = payload.ModeAuto
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{
		generator: cfg.Generator,
		mode:      mode,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		clock:     clock,
		logger:    logger,
	}, nil
}

// Mode returns the configured payload mode.
func (b *Builder) Mode() payload.Mode {
	return b.mode
}

// BaseURL returns the absolute origin used for pointer payloads.
func (b *Builder) BaseURL() string {
	return b.baseURL
}

// Payload encodes the payload of view the way frames and exports carry it.
func (b *Builder) Payload(view healthcard.CardView) (string, payload.Mode) {
	display := view.Display()
	mode := payload.Resolve(b.mode, display)
	return payload.Encode(display, mode, b.baseURL, b.clock()), mode
}

// BuildFrame renders view. When the code image cannot be generated the frame
// keeps the image of previous and carries NoticeCodeFailed.
func (b *Builder) BuildFrame(ctx context.Context, view healthcard.CardView, previous *Frame) Frame {
	encoded, mode := b.Payload(view)
	frame := Frame{
		View:              view,
		Display:           view.Display(),
		Payload:           encoded,
		Mode:              mode,
		Caption:           Caption(mode),
		ShowDemoIndicator: view.IsPlaceholder(),
		RenderedAt:        b.clock().UTC(),
	}
	if previous != nil {
		frame.Revision = previous.Revision
	}

	img, err := b.generator.Render(ctx, encoded, codeimage.PreviewTarget)
	if err == nil {
		frame.CodePNG, err = codeimage.EncodePNG(img)
	}
	if err != nil {
		b.logger.Warn("preview code image unavailable", zap.String("view", string(view.Kind)), zap.Error(err))
		frame.Notice = NoticeCodeFailed
		if previous != nil {
			frame.CodePNG = previous.CodePNG
		}
	}
	return frame
}
