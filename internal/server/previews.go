package server

import (
	"context"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/medify/internal/preview"
	"github.com/MarcoPoloResearchLab/medify/internal/reconciler"
	"go.uber.org/zap"
)

// previewHub runs one renderer per edit session and shares it between the
// stream subscribers of that session. A renderer stops with its session.
type previewHub struct {
	builder  *preview.Builder
	interval time.Duration
	logger   *zap.Logger

	mu        sync.Mutex
	renderers map[string]*preview.Renderer
}

func newPreviewHub(builder *preview.Builder, interval time.Duration, logger *zap.Logger) *previewHub {
	return &previewHub{
		builder:   builder,
		interval:  interval,
		logger:    logger,
		renderers: make(map[string]*preview.Renderer),
	}
}

func (h *previewHub) rendererFor(session *reconciler.Session) (*preview.Renderer, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if renderer, ok := h.renderers[session.ID()]; ok {
		return renderer, nil
	}
	renderer, err := preview.NewRenderer(preview.RendererConfig{
		Builder:  h.builder,
		Source:   session,
		Interval: h.interval,
		Logger:   h.logger,
	})
	if err != nil {
		return nil, err
	}
	h.renderers[session.ID()] = renderer

	go func(id string) {
		renderer.Run(context.Background())
		h.mu.Lock()
		if h.renderers[id] == renderer {
			delete(h.renderers, id)
		}
		h.mu.Unlock()
		h.logger.Debug("preview renderer stopped", zap.String("session_id", id))
	}(session.ID())

	return renderer, nil
}

// latest returns the most recent streamed frame of the session, if any.
func (h *previewHub) latest(sessionID string) *preview.Frame {
	h.mu.Lock()
	renderer, ok := h.renderers[sessionID]
	h.mu.Unlock()
	if !ok {
		return nil
	}
	frame, rendered := renderer.Current()
	if !rendered {
		return nil
	}
	return &frame
}
