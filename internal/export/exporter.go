// Package export composites the printable card image.
package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"regexp"
	"strconv"
	"strings"

	"github.com/MarcoPoloResearchLab/medify/internal/codeimage"
	"github.com/MarcoPoloResearchLab/medify/internal/healthcard"
	"github.com/MarcoPoloResearchLab/medify/internal/metrics"
	"github.com/MarcoPoloResearchLab/medify/internal/preview"
	"github.com/disintegration/imaging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// Card geometry in layout units. Pixels are units times Scale.
const (
	Scale      = 3
	cardWidth  = 337
	cardHeight = 212
	codeSize   = 70
	margin     = 15
)

const (
	contentTypePNG = "image/png"
	footerNote     = "Details can be updated by revisiting the site."
)

var (
	// ErrRenderFailed indicates the composite could not be produced.
	ErrRenderFailed = errors.New("export: render failed")

	errMissingBuilder   = errors.New("frame builder is required")
	errMissingGenerator = errors.New("code image generator is required")

	whitespaceRun = regexp.MustCompile(`\s+`)
	tracer        = otel.Tracer("github.com/MarcoPoloResearchLab/medify/internal/export")

	gradientStart  = hexColor(0xE0F2F1)
	gradientEnd    = hexColor(0xE8F5E9)
	borderColor    = hexColor(0xB2DFDB)
	brandColor     = hexColor(0x004D40)
	accentColor    = hexColor(0x00796B)
	alertColor     = hexColor(0xD32F2F)
	mutedColor     = hexColor(0x757575)
	textColor      = hexColor(0x212121)
	secondaryColor = hexColor(0x424242)
	avatarBack     = hexColor(0xE0E0E0)
	avatarGlyph    = hexColor(0xA0A0A0)
)

// Artifact is a finished download.
type Artifact struct {
	FileName    string
	ContentType string
	Data        []byte
}

// Config configures an Exporter.
type Config struct {
	Builder   *preview.Builder
	Generator *codeimage.Generator
	Avatars   AvatarLoader
	Logger    *zap.Logger
	Metrics   *metrics.Collector
}

// Exporter renders printable cards. It is safe for concurrent use.
type Exporter struct {
	builder   *preview.Builder
	generator *codeimage.Generator
	avatars   AvatarLoader
	fonts     *fontSet
	logger    *zap.Logger
	metrics   *metrics.Collector
}

func NewExporter(cfg Config) (*Exporter, error) {
	if cfg.Builder == nil {
		return nil, errMissingBuilder
	}
	if cfg.Generator == nil {
		return nil, errMissingGenerator
	}
	avatars := cfg.Avatars
	if avatars == nil {
		avatars = NewHTTPAvatarLoader(nil)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	fonts, err := loadFonts()
	if err != nil {
		return nil, err
	}
	return &Exporter{
		builder:   cfg.Builder,
		generator: cfg.Generator,
		avatars:   avatars,
		fonts:     fonts,
		logger:    logger,
		metrics:   cfg.Metrics,
	}, nil
}

// FileName derives the download name from the display name.
func FileName(record healthcard.Record) string {
	name := strings.TrimSpace(record.Name)
	if name == "" {
		name = "Medify"
	}
	return whitespaceRun.ReplaceAllString(name, "_") + "_Medify_Card.png"
}

// Export checks eligibility and composites view into a PNG. Blocked views
// return a *BlockedError.
func (e *Exporter) Export(ctx context.Context, view healthcard.CardView) (Artifact, error) {
	ctx, span := tracer.Start(ctx, "export.render")
	defer span.End()
	span.SetAttributes(attribute.String("view", string(view.Kind)))

	if err := CheckEligibility(view); err != nil {
		e.metrics.ObserveExport("blocked")
		return Artifact{}, err
	}

	record := view.Display()
	encoded, mode := e.builder.Payload(view)
	canvas, err := e.composite(ctx, record, encoded, preview.Caption(mode))
	if err != nil {
		e.metrics.ObserveExport("failure")
		span.RecordError(err)
		span.SetStatus(codes.Error, "composite failed")
		e.logger.Error("card export failed", zap.String("user_id", record.AccountID.String()), zap.Error(err))
		return Artifact{}, err
	}

	var buffer bytes.Buffer
	if err := imaging.Encode(&buffer, canvas, imaging.PNG); err != nil {
		e.metrics.ObserveExport("failure")
		return Artifact{}, fmt.Errorf("%w: encode: %v", ErrRenderFailed, err)
	}
	e.metrics.ObserveExport("success")
	return Artifact{FileName: FileName(record), ContentType: contentTypePNG, Data: buffer.Bytes()}, nil
}

func (e *Exporter) composite(ctx context.Context, record healthcard.Record, encoded, caption string) (*image.NRGBA, error) {
	const s = Scale
	width, height := cardWidth*s, cardHeight*s

	canvas := imaging.New(width, height, color.NRGBA{R: 0xFF, G: 0xFF, B: 0xFF, A: 0xFF})
	fillDiagonalGradient(canvas, gradientStart, gradientEnd)
	strokeRect(canvas, image.Rect(1*s, 1*s, width-1*s, height-1*s), 2*s, borderColor)

	pen := &painter{canvas: canvas, faces: e.fonts.newFaceCache()}
	defer pen.faces.close()

	bloodGroup := record.BloodGroup.String()
	if bloodGroup == "" {
		bloodGroup = "--"
	}
	pen.text(true, 10, "Medify", margin*s, 25*s, alignLeft, brandColor)
	pen.text(false, 8, "Essential Health Card", margin*s, 35*s, alignLeft, accentColor)
	pen.text(true, 18, bloodGroup, width-margin*s, 30*s, alignRight, alertColor)
	pen.text(false, 8, "Blood Type", width-margin*s, 40*s, alignRight, mutedColor)

	e.drawAvatar(ctx, canvas, record.AvatarURL)

	name := record.Name
	if name == "" {
		name = "Your Name"
	}
	age := "Your Age"
	if record.Age > 0 {
		age = strconv.Itoa(record.Age) + " Years"
	}
	contact := record.EmergencyContact
	if contact == "" {
		contact = "Contact No."
	}
	pen.text(true, 14, name, 75*s, 70*s, alignLeft, textColor)
	pen.text(false, 10, age, 75*s, 85*s, alignLeft, secondaryColor)
	pen.text(true, 10, "Emergency Contact:", margin*s, 125*s, alignLeft, alertColor)
	pen.text(false, 10, contact, margin*s, 140*s, alignLeft, textColor)
	if pen.err != nil {
		return nil, pen.err
	}

	code, err := e.generator.Render(ctx, encoded, codeimage.ExportTarget)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRenderFailed, err)
	}
	codeOrigin := image.Pt(width-margin*s-codeSize*s, height-margin*s-codeSize*s-10*s)
	draw.Draw(canvas, code.Bounds().Sub(code.Bounds().Min).Add(codeOrigin), code, code.Bounds().Min, draw.Over)

	pen.text(false, 7, caption, width/2, height-20*s, alignCenter, mutedColor)
	pen.text(false, 6, footerNote, width/2, height-10*s, alignCenter, accentColor)
	if pen.err != nil {
		return nil, pen.err
	}
	return canvas, nil
}

// painter draws text onto a canvas and keeps the first face error.
type painter struct {
	canvas *image.NRGBA
	faces  *faceCache
	err    error
}

func (p *painter) text(bold bool, size int, value string, x, y int, align textAlign, c color.Color) {
	if p.err != nil {
		return
	}
	face, err := p.faces.face(bold, float64(size*Scale))
	if err != nil {
		p.err = fmt.Errorf("%w: %v", ErrRenderFailed, err)
		return
	}
	drawText(p.canvas, face, value, x, y, align, c)
}

// drawAvatar waits for the avatar to load and draws it clipped to a circle.
// A missing or undecodable avatar falls back to the silhouette.
func (e *Exporter) drawAvatar(ctx context.Context, canvas *image.NRGBA, url string) {
	const s = Scale
	frame := circle{center: image.Pt(40*s, 75*s), radius: 25 * s}
	if url != "" {
		photo, err := e.avatars.Load(ctx, url)
		if err == nil {
			fitted := imaging.Fill(photo, 50*s, 50*s, imaging.Center, imaging.Lanczos)
			target := image.Rect(15*s, 50*s, 65*s, 100*s)
			draw.DrawMask(canvas, target, fitted, image.Point{}, frame, target.Min, draw.Over)
			return
		}
		e.logger.Warn("avatar unavailable, drawing silhouette", zap.String("avatar_url", url), zap.Error(err))
	}
	fillMask(canvas, frame, avatarBack)
	fillMask(canvas, circle{center: image.Pt(40*s, 68*s), radius: 8 * s}, avatarGlyph)
	fillMask(canvas, clipped{shape: circle{center: image.Pt(40*s, 93*s), radius: 14 * s}, clip: frame}, avatarGlyph)
}
