package export

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/medify/internal/codeimage"
	"github.com/MarcoPoloResearchLab/medify/internal/healthcard"
	"github.com/MarcoPoloResearchLab/medify/internal/payload"
	"github.com/MarcoPoloResearchLab/medify/internal/preview"
	"github.com/disintegration/imaging"
	"github.com/makiuchi-d/gozxing"
	gozxingqr "github.com/makiuchi-d/gozxing/qrcode"
)

func newTestExporter(t *testing.T, client *http.Client) *Exporter {
	t.Helper()
	generator := codeimage.NewGenerator(codeimage.GeneratorConfig{})
	builder, err := preview.NewBuilder(preview.BuilderConfig{
		Generator: generator,
		Mode:      payload.ModeAuto,
		BaseURL:   "https://medify.test",
		Clock: func() time.Time {
			return time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)
		},
	})
	if err != nil {
		t.Fatalf("failed to create builder: %v", err)
	}
	exporter, err := NewExporter(Config{
		Builder:   builder,
		Generator: generator,
		Avatars:   NewHTTPAvatarLoader(client),
	})
	if err != nil {
		t.Fatalf("failed to create exporter: %v", err)
	}
	return exporter
}

func savedView(avatarURL string) healthcard.CardView {
	record := healthcard.DemoRecord()
	record.AccountID = "user-9"
	record.Name = "Ada  King Lovelace"
	record.PublicPath = healthcard.PublicPathFor("user-9")
	record.AvatarURL = avatarURL
	return healthcard.OwnerView(record, true)
}

func TestCheckEligibility(t *testing.T) {
	named := healthcard.DemoRecord()
	testCases := []struct {
		name   string
		view   healthcard.CardView
		reason string
	}{
		{name: "guest", view: healthcard.GuestView(), reason: ReasonLoginRequired},
		{name: "anonymous public viewer", view: healthcard.PublicView(named), reason: ReasonLoginRequired},
		{name: "owner without details", view: healthcard.OwnerView(healthcard.EmptyRecord("u"), false), reason: ReasonFillDetails},
		{name: "owner never saved", view: healthcard.OwnerView(named, false), reason: ReasonSaveFirst},
		{name: "owner saved", view: healthcard.OwnerView(named, true)},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			err := CheckEligibility(testCase.view)
			if testCase.reason == "" {
				if err != nil {
					t.Fatalf("expected export to be allowed, got %v", err)
				}
				return
			}
			var blocked *BlockedError
			if !errors.As(err, &blocked) || blocked.Reason != testCase.reason {
				t.Fatalf("expected reason %q, got %v", testCase.reason, err)
			}
		})
	}
}

func TestFileName(t *testing.T) {
	if name := FileName(healthcard.Record{Name: "Ada  King\tLovelace"}); name != "Ada_King_Lovelace_Medify_Card.png" {
		t.Fatalf("unexpected file name %q", name)
	}
	if name := FileName(healthcard.Record{}); name != "Medify_Medify_Card.png" {
		t.Fatalf("unexpected fallback file name %q", name)
	}
}

func TestExportBlockedGuest(t *testing.T) {
	exporter := newTestExporter(t, nil)
	_, err := exporter.Export(context.Background(), healthcard.GuestView())
	var blocked *BlockedError
	if !errors.As(err, &blocked) {
		t.Fatalf("expected blocked export, got %v", err)
	}
}

func TestExportCompositesCard(t *testing.T) {
	exporter := newTestExporter(t, nil)
	artifact, err := exporter.Export(context.Background(), savedView(""))
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	if artifact.FileName != "Ada_King_Lovelace_Medify_Card.png" || artifact.ContentType != "image/png" {
		t.Fatalf("unexpected artifact metadata %+v", artifact)
	}
	card := decodeArtifact(t, artifact)
	if bounds := card.Bounds(); bounds.Dx() != 1011 || bounds.Dy() != 636 {
		t.Fatalf("unexpected canvas size %v", bounds)
	}

	assertPixel(t, card, 3, 3, hexColor(0xB2DFDB), 0)
	assertPixel(t, card, 500, 300, color.NRGBA{R: 228, G: 243, B: 237, A: 255}, 2)
	assertPixel(t, card, 100, 170, hexColor(0xE0E0E0), 0)

	decoded := decodeRegion(t, card, image.Rect(756, 333, 966, 543))
	if decoded != "https://medify.test/card/user-9" {
		t.Fatalf("unexpected code payload %q", decoded)
	}
}

func TestExportDrawsLoadedAvatar(t *testing.T) {
	avatar := imaging.New(64, 64, color.NRGBA{R: 0xFF, A: 0xFF})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/avatar.png" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_ = png.Encode(w, avatar)
	}))
	defer server.Close()

	exporter := newTestExporter(t, server.Client())
	artifact, err := exporter.Export(context.Background(), savedView(server.URL+"/avatar.png"))
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	card := decodeArtifact(t, artifact)
	assertPixel(t, card, 120, 225, color.NRGBA{R: 0xFF, A: 0xFF}, 0)
	// outside the circle, inside the avatar square
	assertPixel(t, card, 48, 153, color.NRGBA{R: 0xFF, A: 0xFF}, -1)

	fallback, err := exporter.Export(context.Background(), savedView(server.URL+"/missing.png"))
	if err != nil {
		t.Fatalf("export with missing avatar failed: %v", err)
	}
	assertPixel(t, decodeArtifact(t, fallback), 100, 170, hexColor(0xE0E0E0), 0)
}

func decodeArtifact(t *testing.T, artifact Artifact) image.Image {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(artifact.Data))
	if err != nil {
		t.Fatalf("artifact is not a png: %v", err)
	}
	return img
}

// assertPixel compares channels within tolerance. A negative tolerance asserts the pixel differs.
func assertPixel(t *testing.T, img image.Image, x, y int, want color.NRGBA, tolerance int) {
	t.Helper()
	got := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
	within := func(a, b uint8, limit int) bool {
		diff := int(a) - int(b)
		if diff < 0 {
			diff = -diff
		}
		return diff <= limit
	}
	if tolerance < 0 {
		if got == want {
			t.Fatalf("expected pixel at %d,%d to differ from %v", x, y, want)
		}
		return
	}
	if !within(got.R, want.R, tolerance) || !within(got.G, want.G, tolerance) || !within(got.B, want.B, tolerance) || !within(got.A, want.A, tolerance) {
		t.Fatalf("pixel at %d,%d: expected %v, got %v", x, y, want, got)
	}
}

func decodeRegion(t *testing.T, img image.Image, region image.Rectangle) string {
	t.Helper()
	cropped := imaging.Crop(img, region.Inset(-12))
	enlarged := imaging.Resize(cropped, cropped.Bounds().Dx()*2, 0, imaging.NearestNeighbor)
	bitmap, err := gozxing.NewBinaryBitmapFromImage(enlarged)
	if err != nil {
		t.Fatalf("failed to build bitmap: %v", err)
	}
	result, err := gozxingqr.NewQRCodeReader().Decode(bitmap, nil)
	if err != nil {
		t.Fatalf("failed to decode code image: %v", err)
	}
	return result.GetText()
}
