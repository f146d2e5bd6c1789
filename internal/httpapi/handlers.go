package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dhannusch/pincer/internal/adminsession"
	"github.com/dhannusch/pincer/internal/apierr"
	"github.com/dhannusch/pincer/internal/pairing"
	"github.com/dhannusch/pincer/internal/proxy"
	"github.com/dhannusch/pincer/internal/registry"
	"github.com/dhannusch/pincer/internal/runtimekey"
)

type handlers struct {
	deps Deps
}

func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		apierr.Respond(c, apierr.ErrInvalidPayload.WithDetails(err.Error()))
		return false
	}
	if err := validate.Struct(dst); err != nil {
		apierr.Respond(c, apierr.ErrInvalidPayload.WithDetails(err.Error()))
		return false
	}
	return true
}

// GET /v1/health
func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"ok":            true,
		"service":       h.deps.ServiceName,
		"version":       h.deps.Version,
		"configVersion": h.deps.ConfigVersion,
	})
}

// POST /v1/connect
func (h *handlers) connect(c *gin.Context) {
	var req connectRequest
	if !bindJSON(c, &req) {
		return
	}
	rec, err := h.deps.Pairing.Consume(c.Request.Context(), req.Code)
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":         true,
		"workerUrl":  rec.WorkerURL,
		"runtimeKey": rec.RuntimeKey,
		"hmacSecret": rec.HMACSecret,
	})
}

// GET /v1/admin/bootstrap
func (h *handlers) bootstrapStatus(c *gin.Context) {
	needsBootstrap := h.deps.Admin.NeedsBootstrap(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"ok": true, "needsBootstrap": needsBootstrap})
}

// POST /v1/admin/bootstrap
func (h *handlers) bootstrap(c *gin.Context) {
	var req bootstrapRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.deps.Admin.Bootstrap(c.Request.Context(), req.Token, req.Username, req.Password); err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "username": req.Username})
}

// POST /v1/admin/session/login
func (h *handlers) login(c *gin.Context) {
	var req loginRequest
	if !bindJSON(c, &req) {
		return
	}
	clientID := adminsession.ClientID(c.GetHeader("cf-connecting-ip"))
	session, retryAfter, err := h.deps.Admin.Login(c.Request.Context(), req.Username, req.Password, clientID)
	if h.deps.Metrics != nil {
		outcome := "success"
		if err != nil {
			outcome = "failure"
		}
		h.deps.Metrics.ObserveLoginAttempt(outcome)
	}
	if err != nil {
		if retryAfter > 0 {
			c.Set("retryAfterSeconds", retryAfter)
		}
		apierr.Respond(c, err)
		return
	}
	setSessionCookie(c, session.SessionID, session.AbsoluteExpiry)
	c.JSON(http.StatusOK, gin.H{
		"ok":            true,
		"username":      session.Username,
		"csrfToken":     session.CSRFToken,
		"expiresAt":     session.AbsoluteExpiry,
		"idleExpiresAt": session.IdleExpiry,
	})
}

// POST /v1/admin/session/logout
func (h *handlers) logout(c *gin.Context) {
	cookie, _ := c.Cookie(sessionCookieName)
	if cookie != "" {
		_ = h.deps.Admin.Logout(c.Request.Context(), cookie)
	}
	clearSessionCookie(c)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// GET /v1/admin/session/me
func (h *handlers) me(c *gin.Context) {
	cookie, _ := c.Cookie(sessionCookieName)
	result, err := h.deps.Admin.EnforceSession(c.Request.Context(), cookie, false, "")
	if err != nil {
		clearSessionCookie(c)
		apierr.Respond(c, err)
		return
	}
	if result.Rotated {
		setSessionCookie(c, result.Session.SessionID, result.Session.AbsoluteExpiry)
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":             true,
		"username":       result.Session.Username,
		"csrfToken":      result.Session.CSRFToken,
		"absoluteExpiry": result.Session.AbsoluteExpiry,
		"idleExpiry":     result.Session.IdleExpiry,
	})
}

// --- runtime surface ---

// POST /v1/adapters/proposals
func (h *handlers) submitProposal(c *gin.Context) {
	var req proposalSubmitRequest
	if !bindJSON(c, &req) {
		return
	}
	keyID, _ := c.Get("keyId")
	summary, err := h.deps.Registry.SubmitProposal(c.Request.Context(), req.Manifest, keyIDString(keyID), req.ClientNote)
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"ok": true, "proposal": summary})
}

// GET /v1/adapters
func (h *handlers) listActiveAdapters(c *gin.Context) {
	adapters, err := listEnabledAdapters(c.Request.Context(), h.deps.Registry)
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "adapters": adapters})
}

// POST /v1/adapter/:adapter/:action
func (h *handlers) callAdapter(c *gin.Context) {
	var rawBody []byte
	if v, ok := c.Get("rawBody"); ok {
		rawBody, _ = v.([]byte)
	}
	keyID, _ := c.Get("keyId")

	result, err := h.deps.Proxy.Execute(c.Request.Context(), proxy.ExecuteInput{
		KeyID:      keyIDString(keyID),
		AdapterID:  c.Param("adapter"),
		ActionName: c.Param("action"),
		RawBody:    rawBody,
	})
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	if result.IsRawText {
		c.Data(result.StatusCode, "text/plain; charset=utf-8", []byte(result.RawTextBody))
		return
	}
	c.JSON(result.StatusCode, result.Body)
}

func keyIDString(v any) string {
	s, _ := v.(string)
	return s
}

// --- admin read surface ---

// GET /v1/admin/doctor
func (h *handlers) doctor(c *gin.Context) {
	checks := runDoctorChecks(c.Request.Context(), h.deps)
	ok := true
	for _, chk := range checks {
		if !chk["ok"].(bool) {
			ok = false
		}
	}
	c.JSON(http.StatusOK, gin.H{"ok": ok, "checks": checks})
}

// GET /v1/admin/metrics
func (h *handlers) metricsSnapshot(c *gin.Context) {
	snap, err := h.deps.Metrics.Snapshot()
	if err != nil {
		apierr.Respond(c, apierr.Internalf("gather metrics: %v", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "metrics": snap})
}

// GET /v1/admin/secrets
func (h *handlers) listSecrets(c *gin.Context) {
	meta, err := h.deps.Vault.ListMetadata(c.Request.Context(), []string{
		runtimekey.DefaultHMACSecretBinding,
		runtimekey.DefaultKeySecretBinding,
	})
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "secrets": meta})
}

// PUT /v1/admin/secrets/:binding
func (h *handlers) putSecret(c *gin.Context) {
	var req secretPutRequest
	if !bindJSON(c, &req) {
		return
	}
	session, _ := sessionFrom(c)
	if err := h.deps.Vault.Put(c.Request.Context(), c.Param("binding"), req.Value, session.Username); err != nil {
		apierr.Respond(c, apierr.ErrInvalidSecretValue.WithDetails(err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// DELETE /v1/admin/secrets/:binding
func (h *handlers) deleteSecret(c *gin.Context) {
	if err := h.deps.Vault.Delete(c.Request.Context(), c.Param("binding")); err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// POST /v1/admin/runtime/rotate
func (h *handlers) rotateRuntimeKey(c *gin.Context) {
	rec, hmacSecret, keySecret, err := rotateRuntimeKey(c.Request.Context(), h.deps)
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":         true,
		"keyId":      rec.ID,
		"keySecret":  keySecret,
		"hmacSecret": hmacSecret,
	})
}

// POST /v1/admin/pairing/generate
func (h *handlers) generatePairingCode(c *gin.Context) {
	var req pairingGenerateRequest
	if !bindJSON(c, &req) {
		return
	}
	result, err := h.deps.Pairing.Create(c.Request.Context(), pairing.Record{
		WorkerURL:  req.WorkerURL,
		RuntimeKey: req.RuntimeKey,
		HMACSecret: req.HMACSecret,
	})
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":               true,
		"code":             result.Code,
		"expiresInSeconds": int(result.TTL.Seconds()),
	})
}

// GET /v1/admin/adapters
func (h *handlers) listAdaptersAdmin(c *gin.Context) {
	adapters, err := listEnabledAdapters(c.Request.Context(), h.deps.Registry)
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "adapters": adapters})
}

// GET /v1/admin/adapters/proposals
func (h *handlers) listProposals(c *gin.Context) {
	proposals, err := h.deps.Registry.ListProposals(c.Request.Context())
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "proposals": proposals})
}

// GET /v1/admin/adapters/proposals/:id
func (h *handlers) getProposal(c *gin.Context) {
	proposal, err := h.deps.Registry.GetProposal(c.Request.Context(), c.Param("id"))
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "proposal": proposal})
}

// --- admin write surface ---

// POST /v1/admin/adapters/proposals/:id/reject
func (h *handlers) rejectProposal(c *gin.Context) {
	var req rejectRequest
	if !bindJSON(c, &req) {
		return
	}
	session, _ := sessionFrom(c)
	result, err := h.deps.Registry.RejectProposal(c.Request.Context(), c.Param("id"), req.Reason, session.Username)
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "result": result})
}

// POST /v1/admin/adapters/apply
func (h *handlers) applyProposal(c *gin.Context) {
	var req applyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierr.Respond(c, apierr.ErrInvalidPayload.WithDetails(err.Error()))
		return
	}
	session, _ := sessionFrom(c)
	result, err := h.deps.Registry.Apply(c.Request.Context(), registry.ApplyInput{
		ProposalID:  req.ProposalID,
		ManifestRaw: req.Manifest,
		Actor:       session.Username,
	})
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "result": result})
}

// POST /v1/admin/adapters/:id/enable
func (h *handlers) enableAdapter(c *gin.Context) {
	entry, err := h.deps.Registry.Enable(c.Request.Context(), c.Param("id"))
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "adapter": entry})
}

// POST /v1/admin/adapters/:id/disable
func (h *handlers) disableAdapter(c *gin.Context) {
	entry, err := h.deps.Registry.Disable(c.Request.Context(), c.Param("id"))
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "adapter": entry})
}

// GET /v1/admin/audit
func (h *handlers) listAudit(c *gin.Context) {
	opts := registry.ListAuditOptions{Since: c.Query("since")}
	if limitStr := c.Query("limit"); limitStr != "" {
		n, err := strconv.Atoi(limitStr)
		if err != nil || n <= 0 {
			apierr.Respond(c, apierr.ErrInvalidLimit)
			return
		}
		opts.Limit = n
	}
	events, err := h.deps.Registry.ListAuditEvents(c.Request.Context(), opts)
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "events": events})
}

func listEnabledAdapters(ctx context.Context, reg *registry.Registry) ([]registry.AdapterSummary, error) {
	return reg.ListEnabledAdapters(ctx)
}

func runDoctorChecks(ctx context.Context, deps Deps) []gin.H {
	checks := make([]gin.H, 0, 3)
	checks = append(checks, storeDoctorCheck(ctx, deps))
	checks = append(checks, vaultDoctorCheck(ctx, deps))
	checks = append(checks, runtimeKeyDoctorCheck(ctx, deps))
	return checks
}

func storeDoctorCheck(ctx context.Context, deps Deps) gin.H {
	if err := deps.Registry.Ping(ctx); err != nil {
		return gin.H{"name": "store", "ok": false, "detail": err.Error()}
	}
	return gin.H{"name": "store", "ok": true}
}

func vaultDoctorCheck(ctx context.Context, deps Deps) gin.H {
	const doctorBinding = "__doctor__"
	if err := deps.Vault.Put(ctx, doctorBinding, "ok", "doctor"); err != nil {
		return gin.H{"name": "vault", "ok": false, "detail": err.Error()}
	}
	v, err := deps.Vault.Get(ctx, doctorBinding)
	_ = deps.Vault.Delete(ctx, doctorBinding)
	if err != nil || v != "ok" {
		return gin.H{"name": "vault", "ok": false}
	}
	return gin.H{"name": "vault", "ok": true}
}

func runtimeKeyDoctorCheck(ctx context.Context, deps Deps) gin.H {
	rec, err := deps.RuntimeKeys.Get(ctx)
	if err != nil {
		return gin.H{"name": "runtime_key", "ok": false, "detail": "no runtime key record"}
	}
	hmacBinding, keyBinding := rec.ResolvedBindings()
	hmacSecret, err1 := deps.Vault.Resolve(ctx, hmacBinding)
	keySecret, err2 := deps.Vault.Resolve(ctx, keyBinding)
	if err1 != nil || err2 != nil || hmacSecret == "" || keySecret == "" {
		return gin.H{"name": "runtime_key", "ok": false, "detail": "one or more secret bindings resolved empty"}
	}
	return gin.H{"name": "runtime_key", "ok": true}
}

func rotateRuntimeKey(ctx context.Context, deps Deps) (runtimekey.Record, string, string, error) {
	keyID, err := randomToken(12)
	if err != nil {
		return runtimekey.Record{}, "", "", apierr.Internalf("generate key id: %v", err)
	}
	keySecret, err := randomToken(32)
	if err != nil {
		return runtimekey.Record{}, "", "", apierr.Internalf("generate key secret: %v", err)
	}
	hmacSecret, err := randomToken(32)
	if err != nil {
		return runtimekey.Record{}, "", "", apierr.Internalf("generate hmac secret: %v", err)
	}

	hmacBinding := runtimekey.DefaultHMACSecretBinding
	keyBinding := runtimekey.DefaultKeySecretBinding

	if err := deps.Vault.Put(ctx, hmacBinding, hmacSecret, "runtime-rotate"); err != nil {
		return runtimekey.Record{}, "", "", err
	}
	if err := deps.Vault.Put(ctx, keyBinding, keySecret, "runtime-rotate"); err != nil {
		return runtimekey.Record{}, "", "", err
	}

	keyHash := sha256Hex(keySecret)
	rec := runtimekey.Record{
		ID:                "key_" + keyID,
		KeyHash:           keyHash,
		HMACSecretBinding: hmacBinding,
		KeySecretBinding:  keyBinding,
		SkewSeconds:       runtimekey.DefaultSkewSeconds,
		UpdatedAt:         time.Now().UTC(),
	}
	if err := deps.RuntimeKeys.Put(ctx, rec); err != nil {
		return runtimekey.Record{}, "", "", err
	}
	return rec, hmacSecret, keySecret, nil
}
