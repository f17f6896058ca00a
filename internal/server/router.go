// Package server exposes the portal session over HTTP: the rendered page, a
// JSON API for the session operations and a websocket snapshot feed.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/metalinked/metalinked/internal/observability"
	"github.com/metalinked/metalinked/internal/page"
	"github.com/metalinked/metalinked/internal/portal"
)

const (
	pageRoutePath     = "/"
	healthRoutePath   = "/healthz"
	metricsRoutePath  = "/metrics"
	staticRoutePath   = "/static"
	stateRoutePath    = "/api/state"
	connectRoutePath  = "/api/connect"
	refreshRoutePath  = "/api/refresh"
	draftRoutePath    = "/api/draft"
	profilesRoutePath = "/api/profiles"
	postRoutePath     = "/api/posts/:id"
	feedRoutePath     = "/ws"
	postIDParameter   = "id"
	unmatchedRoute    = "unmatched"
	requestIDHeader   = "X-Request-ID"
	htmlContentType   = "text/html; charset=utf-8"
	ginModeRelease    = "release"
	healthStatusKey   = "status"
	healthStatusOK    = "ok"

	errMessageMissingSession  = "portal session is required"
	errorMessageRenderFailure = "portal page rendering failed"

	logMessageRenderFailure = "portal render failure"
	logMessageRequestServed = "request served"
	logFieldRequestID       = "request_id"
	logFieldMethod          = "method"
	logFieldRoute           = "route"
	logFieldStatus          = "status"
	logFieldLatency         = "latency"
)

var errMissingSession = errors.New(errMessageMissingSession)

// Portal is the session surface driven by the HTTP layer. *portal.Session
// satisfies it.
type Portal interface {
	Snapshot() portal.Snapshot
	HasWallet() bool
	Subscribe(buffer int) *portal.Subscription
	RequestConnection(ctx context.Context) (portal.Account, error)
	RefreshProfiles(ctx context.Context) error
	SetDraft(draft portal.ProfileDraft) bool
	BeginPost(draft portal.ProfileDraft) (*portal.ClaimedPost, error)
}

// PageRenderer renders the portal page.
type PageRenderer interface {
	Render(pageData page.Data) (string, error)
}

// EmbeddedPageRenderer implements PageRenderer by delegating to the page package.
type EmbeddedPageRenderer struct{}

// Render uses page.Render to produce the HTML output.
func (EmbeddedPageRenderer) Render(pageData page.Data) (string, error) {
	return page.Render(pageData)
}

// RouterConfig configures the HTTP routing for the portal.
type RouterConfig struct {
	Session  Portal
	Renderer PageRenderer
	Metrics  *observability.Metrics
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

// NewRouter constructs a Gin engine serving the page, the JSON API, the
// snapshot feed and the health and metrics endpoints.
func NewRouter(configuration RouterConfig) (*gin.Engine, error) {
	if configuration.Session == nil {
		return nil, errMissingSession
	}
	renderer := configuration.Renderer
	if renderer == nil {
		renderer = EmbeddedPageRenderer{}
	}
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	staticAssets, err := page.StaticAssets()
	if err != nil {
		return nil, err
	}

	gin.SetMode(ginModeRelease)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestMiddleware(logger, configuration.Metrics))

	handler := portalHandler{
		session:  configuration.Session,
		renderer: renderer,
		posts:    newPostTracker(),
		metrics:  configuration.Metrics,
		logger:   logger,
	}

	engine.GET(pageRoutePath, handler.servePage)
	engine.GET(healthRoutePath, handler.healthStatus)
	engine.StaticFS(staticRoutePath, http.FS(staticAssets))
	engine.GET(stateRoutePath, handler.serveState)
	engine.POST(connectRoutePath, handler.connect)
	engine.POST(refreshRoutePath, handler.refresh)
	engine.PUT(draftRoutePath, handler.updateDraft)
	engine.POST(profilesRoutePath, handler.submitProfile)
	engine.GET(postRoutePath, handler.postStatus)
	engine.GET(feedRoutePath, handler.serveFeed)
	if configuration.Gatherer != nil {
		engine.GET(metricsRoutePath, gin.WrapH(promhttp.HandlerFor(configuration.Gatherer, promhttp.HandlerOpts{})))
	}

	return engine, nil
}

func requestMiddleware(logger *zap.Logger, metrics *observability.Metrics) gin.HandlerFunc {
	return func(ginContext *gin.Context) {
		requestID := ginContext.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ginContext.Header(requestIDHeader, requestID)

		startedAt := time.Now()
		ginContext.Next()
		latency := time.Since(startedAt)

		route := ginContext.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		status := ginContext.Writer.Status()
		if metrics != nil {
			metrics.ObserveRequest(ginContext.Request.Method, route, status, latency.Seconds())
		}
		logger.Debug(logMessageRequestServed,
			zap.String(logFieldRequestID, requestID),
			zap.String(logFieldMethod, ginContext.Request.Method),
			zap.String(logFieldRoute, route),
			zap.Int(logFieldStatus, status),
			zap.Duration(logFieldLatency, latency),
		)
	}
}

type portalHandler struct {
	session  Portal
	renderer PageRenderer
	posts    *postTracker
	metrics  *observability.Metrics
	logger   *zap.Logger
}

func (handler portalHandler) servePage(ginContext *gin.Context) {
	pageHTML, err := handler.renderer.Render(page.Data{
		Snapshot:  handler.session.Snapshot(),
		HasWallet: handler.session.HasWallet(),
	})
	if err != nil {
		handler.logger.Error(logMessageRenderFailure, zap.Error(err))
		ginContext.String(http.StatusInternalServerError, errorMessageRenderFailure)
		return
	}
	ginContext.Data(http.StatusOK, htmlContentType, []byte(pageHTML))
}

func (handler portalHandler) healthStatus(ginContext *gin.Context) {
	ginContext.JSON(http.StatusOK, map[string]string{healthStatusKey: healthStatusOK})
}
