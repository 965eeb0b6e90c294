// Package codeimage renders payload strings into two-dimensional code images.
package codeimage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"

	"github.com/MarcoPoloResearchLab/medify/internal/metrics"
	"github.com/disintegration/imaging"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"
)

// ErrGenerationFailed indicates the payload could not be encoded, usually because it exceeds capacity.
var ErrGenerationFailed = errors.New("codeimage: generation failed")

// Target names a rendering destination and its pixel size.
type Target struct {
	Name string
	Size int
}

var (
	// PreviewTarget is the on-screen preview size.
	PreviewTarget = Target{Name: "preview", Size: 120}
	// ExportTarget is the printable composite size: 70 layout units at scale 3.
	ExportTarget = Target{Name: "export", Size: 210}
)

var (
	// DarkModule is the brand green used for dark modules.
	DarkModule  = color.NRGBA{R: 0x10, G: 0x7C, B: 0x41, A: 0xFF}
	lightModule = color.NRGBA{}
)

// Generator renders code images. It is safe for concurrent use.
type Generator struct {
	level   qrcode.RecoveryLevel
	logger  *zap.Logger
	metrics *metrics.Collector
}

// GeneratorConfig configures a Generator.
type GeneratorConfig struct {
	Logger  *zap.Logger
	Metrics *metrics.Collector
}

func NewGenerator(cfg GeneratorConfig) *Generator {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{level: qrcode.Medium, logger: logger, metrics: cfg.Metrics}
}

// Render encodes payload into a square image of exactly target.Size pixels.
// Every module is drawn with the same whole number of pixels and the symbol is
// centred on a transparent canvas. A symbol that needs more modules than the
// target has pixels is reported as ErrGenerationFailed.
func (g *Generator) Render(ctx context.Context, payload string, target Target) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if target.Size <= 0 {
		return nil, fmt.Errorf("%w: invalid target size %d", ErrGenerationFailed, target.Size)
	}
	code, err := qrcode.New(payload, g.level)
	if err != nil {
		return nil, g.fail(target, len(payload), err)
	}

	bitmap := code.Bitmap()
	modules := len(bitmap)
	pixelsPerModule := target.Size / modules
	if pixelsPerModule < 1 {
		return nil, g.fail(target, len(payload),
			fmt.Errorf("symbol needs %d modules, target has %d pixels", modules, target.Size))
	}

	canvas := imaging.New(target.Size, target.Size, lightModule)
	offset := (target.Size - modules*pixelsPerModule) / 2
	for row, cells := range bitmap {
		for column, dark := range cells {
			if !dark {
				continue
			}
			x := offset + column*pixelsPerModule
			y := offset + row*pixelsPerModule
			for dy := 0; dy < pixelsPerModule; dy++ {
				for dx := 0; dx < pixelsPerModule; dx++ {
					canvas.SetNRGBA(x+dx, y+dy, DarkModule)
				}
			}
		}
	}
	g.metrics.ObserveCodeRender(target.Name, "success")
	return canvas, nil
}

func (g *Generator) fail(target Target, payloadBytes int, cause error) error {
	g.metrics.ObserveCodeRender(target.Name, "failure")
	g.logger.Warn("code image generation failed",
		zap.String("target", target.Name),
		zap.Int("payload_bytes", payloadBytes),
		zap.Error(cause))
	return fmt.Errorf("%w: %v", ErrGenerationFailed, cause)
}

// EncodePNG serializes a rendered image.
func EncodePNG(img image.Image) ([]byte, error) {
	var buffer bytes.Buffer
	if err := imaging.Encode(&buffer, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("codeimage: encode png: %w", err)
	}
	return buffer.Bytes(), nil
}
