package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/MarcoPoloResearchLab/medify/internal/auth"
	"github.com/MarcoPoloResearchLab/medify/internal/export"
	"github.com/MarcoPoloResearchLab/medify/internal/healthcard"
	"github.com/MarcoPoloResearchLab/medify/internal/metrics"
	"github.com/MarcoPoloResearchLab/medify/internal/preview"
	"github.com/MarcoPoloResearchLab/medify/internal/reconciler"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	accountContextKey        = "medify_account_id"
	defaultHeartbeatInterval = 25 * time.Second
)

var (
	errMissingSessionValidator = errors.New("session validator dependency required")
	errMissingAccountResolver  = errors.New("account resolver dependency required")
	errMissingRecordReader     = errors.New("record reader dependency required")
	errMissingSessionRegistry  = errors.New("session registry dependency required")
	errMissingFrameBuilder     = errors.New("frame builder dependency required")
	errMissingExporter         = errors.New("exporter dependency required")

	tracer = otel.Tracer("github.com/MarcoPoloResearchLab/medify/internal/server")
)

// SessionValidator authenticates a request from its session token.
type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
}

// AccountResolver maps session claims to the account that owns a card.
type AccountResolver interface {
	ResolveAccount(ctx context.Context, claims auth.SessionClaims) (healthcard.AccountID, error)
}

// RecordReader fetches saved records for the public view.
type RecordReader interface {
	Fetch(ctx context.Context, account healthcard.AccountID) (healthcard.Record, error)
}

// Dependencies wires the HTTP surface to the card services.
type Dependencies struct {
	SessionValidator  SessionValidator
	Accounts          AccountResolver
	Records           RecordReader
	Sessions          *reconciler.Registry
	Frames            *preview.Builder
	Exporter          *export.Exporter
	Blobs             http.Handler
	Metrics           *metrics.Collector
	Logger            *zap.Logger
	FrameInterval     time.Duration
	HeartbeatInterval time.Duration
	// AllowedOrigins lists the browser origins trusted with credentialed
	// requests. When empty, any origin may call the API without credentials.
	AllowedOrigins    []string
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.SessionValidator == nil {
		return nil, errMissingSessionValidator
	}
	if deps.Accounts == nil {
		return nil, errMissingAccountResolver
	}
	if deps.Records == nil {
		return nil, errMissingRecordReader
	}
	if deps.Sessions == nil {
		return nil, errMissingSessionRegistry
	}
	if deps.Frames == nil {
		return nil, errMissingFrameBuilder
	}
	if deps.Exporter == nil {
		return nil, errMissingExporter
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	handler := &httpHandler{
		validator: deps.SessionValidator,
		accounts:  deps.Accounts,
		records:   deps.Records,
		sessions:  deps.Sessions,
		frames:    deps.Frames,
		exporter:  deps.Exporter,
		previews:  newPreviewHub(deps.Frames, deps.FrameInterval, logger),
		metrics:   deps.Metrics,
		logger:    logger,
		heartbeat: heartbeat,
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(handler.traceRequest)
	router.Use(handler.observeRequest)
	router.Use(corsMiddleware(deps.AllowedOrigins))

	router.GET("/healthz", handler.handleHealth)
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}
	if deps.Blobs != nil {
		router.GET("/blobs/*filepath", gin.WrapH(http.StripPrefix("/blobs", deps.Blobs)))
	}

	router.GET("/card/:accountID", handler.handlePublicCard)
	router.GET("/card/:accountID/code.png", handler.handlePublicCode)
	router.GET("/guest/card", handler.handleGuestCard)
	router.GET("/guest/card/export", handler.handleGuestExport)

	protected := router.Group("/api")
	protected.Use(handler.authorizeRequest)
	protected.POST("/sessions", handler.handleOpenSession)
	protected.GET("/sessions/:id", handler.handleGetSession)
	protected.DELETE("/sessions/:id", handler.handleCloseSession)
	protected.PATCH("/sessions/:id/fields", handler.handleEditFields)
	protected.PUT("/sessions/:id/avatar", handler.handleSelectAvatar)
	protected.DELETE("/sessions/:id/avatar", handler.handleRemoveAvatar)
	protected.POST("/sessions/:id/documents", handler.handleAddDocuments)
	protected.DELETE("/sessions/:id/documents/:documentID", handler.handleRemoveDocument)
	protected.POST("/sessions/:id/save", handler.handleSave)
	protected.POST("/sessions/:id/reset", handler.handleReset)
	protected.GET("/sessions/:id/preview", handler.handlePreview)
	protected.GET("/sessions/:id/preview/stream", handler.handlePreviewStream)
	protected.GET("/sessions/:id/export", handler.handleExport)

	return router, nil
}

type httpHandler struct {
	validator SessionValidator
	accounts  AccountResolver
	records   RecordReader
	sessions  *reconciler.Registry
	frames    *preview.Builder
	exporter  *export.Exporter
	previews  *previewHub
	metrics   *metrics.Collector
	logger    *zap.Logger
	heartbeat time.Duration
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodPatch,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowHeaders:  []string{"Authorization", "Content-Type", "Last-Event-ID"},
		ExposeHeaders: []string{"Content-Disposition"},
		MaxAge:        12 * time.Hour,
	}
	if len(allowedOrigins) > 0 {
		config.AllowOrigins = append([]string(nil), allowedOrigins...)
		config.AllowCredentials = true
	}
	return cors.New(config)
}

func (h *httpHandler) observeRequest(c *gin.Context) {
	started := time.Now()
	c.Next()
	path := c.FullPath()
	if path == "" {
		path = "unmatched"
	}
	h.metrics.ObserveRequest(c.Request.Method, path, strconv.Itoa(c.Writer.Status()), time.Since(started).Seconds())
}

// traceRequest continues the caller's trace and names the span after the route.
func (h *httpHandler) traceRequest(c *gin.Context) {
	route := c.FullPath()
	if route == "" {
		route = "unmatched"
	}
	ctx := otel.GetTextMapPropagator().Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
	ctx, span := tracer.Start(ctx, c.Request.Method+" "+route,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("http.route", route)))
	defer span.End()

	c.Request = c.Request.WithContext(ctx)
	c.Next()

	status := c.Writer.Status()
	span.SetAttributes(attribute.Int("http.status_code", status))
	if status >= http.StatusInternalServerError {
		span.SetStatus(codes.Error, http.StatusText(status))
	}
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.validator.ValidateRequest(c.Request)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredSessionToken) || errors.Is(err, auth.ErrMissingSessionToken) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	account, err := h.accounts.ResolveAccount(c.Request.Context(), claims)
	if err != nil {
		h.logger.Error("account resolution failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	trace.SpanFromContext(c.Request.Context()).SetAttributes(attribute.String("account", account.String()))
	c.Set(accountContextKey, account)
	c.Next()
}

func accountFrom(c *gin.Context) healthcard.AccountID {
	value, _ := c.Get(accountContextKey)
	account, _ := value.(healthcard.AccountID)
	return account
}
