package preview

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/medify/internal/healthcard"
	"github.com/MarcoPoloResearchLab/medify/internal/reconciler"
	"go.uber.org/zap"
)

const defaultFrameInterval = 50 * time.Millisecond

var errMissingSource = errors.New("preview source is required")

// Source is a session whose buffer changes drive the renderer.
type Source interface {
	Subscribe(ctx context.Context) (<-chan reconciler.Change, func())
	View() healthcard.CardView
}

// RendererConfig configures a Renderer.
type RendererConfig struct {
	Builder  *Builder
	Source   Source
	Interval time.Duration
	Logger   *zap.Logger
}

// Renderer keeps the latest frame of a session. Change notifications arriving
// between frame ticks are coalesced into a single redraw.
type Renderer struct {
	builder  *Builder
	source   Source
	interval time.Duration
	logger   *zap.Logger

	mu        sync.RWMutex
	current   Frame
	rendered  bool
	listeners map[int64]chan Frame
	nextID    int64
	stopped   bool
}

func NewRenderer(cfg RendererConfig) (*Renderer, error) {
	if cfg.Builder == nil {
		return nil, errMissingGenerator
	}
	if cfg.Source == nil {
		return nil, errMissingSource
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultFrameInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Renderer{
		builder:   cfg.Builder,
		source:    cfg.Source,
		interval:  interval,
		logger:    logger,
		listeners: make(map[int64]chan Frame),
	}, nil
}

// Run renders the initial frame and then redraws on the next tick after each
// burst of changes. It returns when ctx ends or the source stops publishing.
func (r *Renderer) Run(ctx context.Context) {
	changes, cleanup := r.source.Subscribe(ctx)
	defer cleanup()
	defer r.stop()

	r.render(ctx, 0)

	var (
		tick    <-chan time.Time
		timer   *time.Timer
		pending uint64
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-changes:
			if !ok {
				return
			}
			if change.Revision > pending {
				pending = change.Revision
			}
			if tick == nil {
				timer = time.NewTimer(r.interval)
				tick = timer.C
			}
		case <-tick:
			tick = nil
			r.render(ctx, pending)
		}
	}
}

// Current returns the latest frame, if one has been rendered.
func (r *Renderer) Current() (Frame, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current, r.rendered
}

// Frames streams rendered frames. A slow receiver only ever sees the newest frame.
// The stream closes when the renderer stops or cleanup runs.
func (r *Renderer) Frames() (<-chan Frame, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stream := make(chan Frame, 1)
	if r.stopped {
		close(stream)
		return stream, func() {}
	}
	r.nextID++
	id := r.nextID
	r.listeners[id] = stream
	if r.rendered {
		stream <- r.current
	}
	var once sync.Once
	return stream, func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if listener, ok := r.listeners[id]; ok {
				close(listener)
				delete(r.listeners, id)
			}
		})
	}
}

func (r *Renderer) render(ctx context.Context, revision uint64) {
	r.mu.RLock()
	var previous *Frame
	if r.rendered {
		last := r.current
		previous = &last
	}
	r.mu.RUnlock()

	frame := r.builder.BuildFrame(ctx, r.source.View(), previous)
	if revision > frame.Revision {
		frame.Revision = revision
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = frame
	r.rendered = true
	for _, listener := range r.listeners {
		select {
		case <-listener:
		default:
		}
		listener <- frame
	}
}

func (r *Renderer) stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	r.stopped = true
	for id, listener := range r.listeners {
		close(listener)
		delete(r.listeners, id)
	}
	r.logger.Debug("preview renderer stopped")
}
