package preview

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/medify/internal/codeimage"
	"github.com/MarcoPoloResearchLab/medify/internal/healthcard"
	"github.com/MarcoPoloResearchLab/medify/internal/payload"
	"github.com/MarcoPoloResearchLab/medify/internal/reconciler"
)

func newTestBuilder(t *testing.T, mode payload.Mode) *Builder {
	t.Helper()
	builder, err := NewBuilder(BuilderConfig{
		Generator: codeimage.NewGenerator(codeimage.GeneratorConfig{}),
		Mode:      mode,
		BaseURL:   "https://medify.test/",
		Clock: func() time.Time {
			return time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
		},
	})
	if err != nil {
		t.Fatalf("failed to create builder: %v", err)
	}
	return builder
}

func savedRecord() healthcard.Record {
	record := healthcard.DemoRecord()
	record.AccountID = "user-7"
	record.Name = "Ada Lovelace"
	record.PublicPath = healthcard.PublicPathFor("user-7")
	return record
}

func TestBuildFrameForPlaceholderOwner(t *testing.T) {
	builder := newTestBuilder(t, payload.ModeAuto)
	view := healthcard.OwnerView(healthcard.EmptyRecord("user-7"), false)

	frame := builder.BuildFrame(context.Background(), view, nil)
	if !frame.ShowDemoIndicator {
		t.Fatalf("expected demo indicator for an unsaved owner")
	}
	if frame.Display.Name != "Jane Doe" {
		t.Fatalf("expected demo content, got %q", frame.Display.Name)
	}
	if frame.Mode != payload.ModePointer || frame.Payload != "https://medify.test/card/user-7" {
		t.Fatalf("unexpected payload %s %q", frame.Mode, frame.Payload)
	}
	if frame.Caption != CaptionPointer {
		t.Fatalf("unexpected caption %q", frame.Caption)
	}
	if len(frame.CodePNG) == 0 || frame.Notice != "" {
		t.Fatalf("expected rendered code image without notice")
	}
}

func TestBuildFrameForGuestEmbedsDemoRecord(t *testing.T) {
	builder := newTestBuilder(t, payload.ModeAuto)
	frame := builder.BuildFrame(context.Background(), healthcard.GuestView(), nil)

	if frame.Mode != payload.ModeEmbedded || frame.Caption != CaptionEmbedded {
		t.Fatalf("expected embedded guest frame, got %s %q", frame.Mode, frame.Caption)
	}
	snapshot, err := payload.DecodeEmbedded(frame.Payload)
	if err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if snapshot.Name != "Jane Doe" || snapshot.GeneratedAt != "2026-03-04T05:06:07.000Z" {
		t.Fatalf("unexpected snapshot %+v", snapshot)
	}
	if !frame.ShowDemoIndicator {
		t.Fatalf("expected demo indicator for guests")
	}
}

func TestBuildFramePublicViewHidesDemoIndicator(t *testing.T) {
	builder := newTestBuilder(t, payload.ModeAuto)
	cleared := savedRecord().Cleared()
	frame := builder.BuildFrame(context.Background(), healthcard.PublicView(cleared), nil)
	if frame.ShowDemoIndicator {
		t.Fatalf("public view must not show the demo indicator")
	}
	if frame.Display.Name != "" {
		t.Fatalf("expected reset record to render empty, got %q", frame.Display.Name)
	}
}

func TestBuildFrameKeepsPreviousImageOnFailure(t *testing.T) {
	builder := newTestBuilder(t, payload.ModeEmbedded)
	record := savedRecord()
	record.AdditionalNotes = strings.Repeat("x", 5000)
	previous := &Frame{CodePNG: []byte{1, 2, 3}, Revision: 4}

	frame := builder.BuildFrame(context.Background(), healthcard.OwnerView(record, true), previous)
	if frame.Notice != NoticeCodeFailed {
		t.Fatalf("expected failure notice, got %q", frame.Notice)
	}
	if string(frame.CodePNG) != string(previous.CodePNG) {
		t.Fatalf("expected previous image to stay in place")
	}
	if frame.Revision != 4 {
		t.Fatalf("expected revision to carry over, got %d", frame.Revision)
	}
}

type fakeSource struct {
	mu      sync.Mutex
	record  healthcard.Record
	changes chan reconciler.Change
}

func (s *fakeSource) Subscribe(context.Context) (<-chan reconciler.Change, func()) {
	return s.changes, func() {}
}

func (s *fakeSource) View() healthcard.CardView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return healthcard.OwnerView(s.record, true)
}

func (s *fakeSource) setName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record.Name = name
}

func TestRendererCoalescesBursts(t *testing.T) {
	source := &fakeSource{record: savedRecord(), changes: make(chan reconciler.Change, 32)}
	renderer, err := NewRenderer(RendererConfig{
		Builder:  newTestBuilder(t, payload.ModeAuto),
		Source:   source,
		Interval: 40 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("failed to create renderer: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		renderer.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for {
		if _, ok := renderer.Current(); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("expected initial frame")
		}
		time.Sleep(5 * time.Millisecond)
	}

	frames, cleanup := renderer.Frames()
	defer cleanup()
	<-frames

	for revision := uint64(1); revision <= 10; revision++ {
		source.setName("Ada " + strings.Repeat("I", int(revision)))
		source.changes <- reconciler.Change{Kind: reconciler.ChangeEdited, Revision: revision}
	}

	select {
	case frame := <-frames:
		if frame.Revision != 10 {
			t.Fatalf("expected coalesced frame at revision 10, got %d", frame.Revision)
		}
		if frame.Display.Name != "Ada IIIIIIIIII" {
			t.Fatalf("expected latest buffer content, got %q", frame.Display.Name)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a frame after the burst")
	}

	select {
	case frame := <-frames:
		t.Fatalf("expected a single redraw per burst, got extra frame %d", frame.Revision)
	case <-time.After(120 * time.Millisecond):
	}

	close(source.changes)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected renderer to stop when the source closes")
	}
	if _, open := <-frames; open {
		t.Fatalf("expected frame stream to close")
	}
}
