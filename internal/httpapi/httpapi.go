// Package httpapi wires the boundary's seven components onto a single
// gin.Engine, mirroring the teacher's services/orchestrator/routes
// style: one plain group for unauthenticated routes, one group guarded
// by the signed-request verifier for runtime traffic, and one guarded
// by admin session enforcement (with a per-route CSRF requirement)
// for the admin surface.
package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dhannusch/pincer/internal/adminsession"
	"github.com/dhannusch/pincer/internal/metrics"
	"github.com/dhannusch/pincer/internal/pairing"
	"github.com/dhannusch/pincer/internal/proxy"
	"github.com/dhannusch/pincer/internal/registry"
	"github.com/dhannusch/pincer/internal/runtimekey"
	"github.com/dhannusch/pincer/internal/signedauth"
	"github.com/dhannusch/pincer/internal/vault"
)

// Deps bundles every component the router dispatches into. Router does
// not check the fields at construction; a nil Logger is replaced with
// slog.Default(), and a nil component panics only when a handler first
// calls into it, which gin.Recovery turns into a 500 response.
type Deps struct {
	Registry    *registry.Registry
	Vault       *vault.Vault
	RuntimeKeys *runtimekey.Store
	Admin       *adminsession.Store
	Pairing     *pairing.Store
	Proxy       *proxy.Proxy
	Metrics     *metrics.Metrics
	Verifier    *signedauth.Verifier

	ServiceName   string
	Version       string
	ConfigVersion string

	Logger *slog.Logger
}

// Router builds the boundary's gin.Engine with every route group from
// §6's HTTP surface table wired to its middleware and handler.
func Router(deps Deps) *gin.Engine {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(deps.Logger))
	r.Use(noStoreHeaders())

	h := &handlers{deps: deps}

	r.GET("/v1/health", h.health)
	r.POST("/v1/connect", h.connect)
	r.GET("/v1/admin/bootstrap", h.bootstrapStatus)
	r.POST("/v1/admin/bootstrap", h.bootstrap)
	r.POST("/v1/admin/session/login", h.login)
	r.POST("/v1/admin/session/logout", h.logout)
	r.GET("/v1/admin/session/me", h.me)
	r.GET("/admin", h.adminUI)
	r.GET("/admin/bootstrap", h.adminBootstrapUI)

	runtimeGroup := r.Group("/v1")
	runtimeGroup.Use(signedAuthMiddleware(deps.Verifier))
	{
		runtimeGroup.POST("/adapters/proposals", h.submitProposal)
		runtimeGroup.GET("/adapters", h.listActiveAdapters)
		runtimeGroup.POST("/adapter/:adapter/:action", h.callAdapter)
	}

	adminGroup := r.Group("/v1/admin")
	adminGroup.Use(adminSessionMiddleware(deps.Admin, false))
	{
		adminGroup.GET("/doctor", h.doctor)
		adminGroup.GET("/metrics", h.metricsSnapshot)
		adminGroup.GET("/secrets", h.listSecrets)
		adminGroup.GET("/adapters", h.listAdaptersAdmin)
		adminGroup.GET("/adapters/proposals", h.listProposals)
		adminGroup.GET("/adapters/proposals/:id", h.getProposal)
		adminGroup.GET("/audit", h.listAudit)
	}

	adminWriteGroup := r.Group("/v1/admin")
	adminWriteGroup.Use(adminSessionMiddleware(deps.Admin, true))
	{
		adminWriteGroup.PUT("/secrets/:binding", h.putSecret)
		adminWriteGroup.DELETE("/secrets/:binding", h.deleteSecret)
		adminWriteGroup.POST("/runtime/rotate", h.rotateRuntimeKey)
		adminWriteGroup.POST("/pairing/generate", h.generatePairingCode)
		adminWriteGroup.POST("/adapters/proposals/:id/reject", h.rejectProposal)
		adminWriteGroup.POST("/adapters/apply", h.applyProposal)
		adminWriteGroup.POST("/adapters/:id/enable", h.enableAdapter)
		adminWriteGroup.POST("/adapters/:id/disable", h.disableAdapter)
	}

	return r
}

// noStoreHeaders sets cache-control: no-store on every response, success
// or failure, per §6.
func noStoreHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", "no-store")
		c.Next()
	}
}

// requestLogger attaches a request-scoped child logger carrying
// requestId and route, and logs one line per request at Info level
// with status and latency — never body contents, headers, or secrets.
func requestLogger(base *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := c.GetHeader("x-request-id")
		if requestID == "" {
			requestID = newRequestID()
		}
		logger := base.With("requestId", requestID, "route", c.FullPath())
		c.Set("logger", logger)
		c.Header("x-request-id", requestID)

		c.Next()

		logger.Info("request",
			"method", c.Request.Method,
			"status", c.Writer.Status(),
			"latencyMs", time.Since(start).Milliseconds(),
		)
	}
}

func loggerFrom(c *gin.Context) *slog.Logger {
	if v, ok := c.Get("logger"); ok {
		if l, ok := v.(*slog.Logger); ok {
			return l
		}
	}
	return slog.Default()
}

func (h *handlers) adminUI(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(adminIndexHTML))
}

func (h *handlers) adminBootstrapUI(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(adminBootstrapHTML))
}
