package httpapi

import (
	"bytes"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/dhannusch/pincer/internal/adminsession"
	"github.com/dhannusch/pincer/internal/apierr"
	"github.com/dhannusch/pincer/internal/signedauth"
)

func newRequestID() string {
	return uuid.NewString()
}

const sessionCookieName = "pincer_session"
const csrfHeaderName = "x-pincer-csrf"

// signedAuthMiddleware runs the §4.1 signed-request verifier against
// every runtime route. The authenticated keyId is stashed in the gin
// context under "keyId" for handlers (and metrics) to read.
func signedAuthMiddleware(verifier *signedauth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			apierr.Respond(c, apierr.Internalf("read request body: %v", err))
			c.Abort()
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		result, err := verifier.Verify(c.Request.Context(), signedauth.Input{
			Method:           c.Request.Method,
			Path:             c.Request.URL.Path,
			Body:             body,
			AuthorizationHdr: c.GetHeader("authorization"),
			TimestampHdr:     c.GetHeader("x-pincer-timestamp"),
			BodySHA256Hdr:    c.GetHeader("x-pincer-body-sha256"),
			SignatureHdr:     c.GetHeader("x-pincer-signature"),
		})
		if err != nil {
			apierr.Respond(c, err)
			c.Abort()
			return
		}

		c.Set("keyId", result.KeyID)
		c.Set("rawBody", body)
		c.Next()
	}
}

// adminSessionMiddleware enforces §4.4 session rules on the admin
// surface. requireCsrf gates the header check for non-idempotent
// routes; rotation (when due) sets a fresh Set-Cookie transparently.
func adminSessionMiddleware(admin *adminsession.Store, requireCsrf bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		cookie, _ := c.Cookie(sessionCookieName)
		presentedCSRF := c.GetHeader(csrfHeaderName)

		result, err := admin.EnforceSession(c.Request.Context(), cookie, requireCsrf, presentedCSRF)
		if err != nil {
			clearSessionCookie(c)
			apierr.Respond(c, err)
			c.Abort()
			return
		}

		if result.Rotated {
			setSessionCookie(c, result.Session.SessionID, result.Session.AbsoluteExpiry)
		}

		c.Set("session", result.Session)
		c.Next()
	}
}

func setSessionCookie(c *gin.Context, sessionID string, expiry time.Time) {
	c.SetSameSite(http.SameSiteLaxMode)
	maxAge := int(time.Until(expiry).Seconds())
	c.SetCookie(sessionCookieName, sessionID, maxAge, "/", "", true, true)
}

func clearSessionCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(sessionCookieName, "", -1, "/", "", true, true)
}

func sessionFrom(c *gin.Context) (adminsession.Session, bool) {
	v, ok := c.Get("session")
	if !ok {
		return adminsession.Session{}, false
	}
	s, ok := v.(adminsession.Session)
	return s, ok
}
