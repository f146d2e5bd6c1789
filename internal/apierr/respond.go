package apierr

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Respond renders err as the JSON error envelope the boundary returns
// on every failure path, and sets cache-control: no-store on the
// response per §6 (applied to every response, success or failure, by
// the router's top-level middleware — Respond sets it again here so
// error paths that bypass that middleware still comply).
func Respond(c *gin.Context, err error) {
	c.Header("Cache-Control", "no-store")
	var ae *Error
	if !errors.As(err, &ae) {
		ae = Internalf("%v", err)
	}
	body := gin.H{"error": ae.Kind}
	if len(ae.Details) > 0 {
		body["details"] = ae.Details
	}
	if len(ae.Missing) > 0 {
		body["missingSecrets"] = ae.Missing
	}
	if ae.Upstream != 0 {
		body["upstreamStatus"] = ae.Upstream
	}
	if ae.Kind == ErrLoginLocked.Kind {
		// retryAfterSeconds is stashed in gin context by the caller.
		if ra, ok := c.Get("retryAfterSeconds"); ok {
			body["retryAfter"] = ra
			c.Header("Retry-After", intToString(ra))
		}
	}
	status := ae.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}
	c.JSON(status, body)
}

func intToString(v any) string {
	switch n := v.(type) {
	case int:
		return strconv.Itoa(n)
	case int64:
		return strconv.FormatInt(n, 10)
	default:
		return "0"
	}
}
