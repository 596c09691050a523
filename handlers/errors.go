package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/haiphandev/acadflow/authz"
)

// respondError maps the engine's error taxonomy to HTTP responses. The
// structured errors keep their fields: quota failures report the limit and
// current count, invite failures report the specific reason.
func respondError(c *gin.Context, err error) {
	var quotaErr *authz.QuotaExceededError
	if errors.As(err, &quotaErr) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "quota exceeded",
			"kind":    quotaErr.Kind,
			"limit":   quotaErr.Limit,
			"current": quotaErr.Current,
		})
		return
	}

	var inviteErr *authz.InviteInvalidError
	if errors.As(err, &inviteErr) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":  "invite code invalid",
			"reason": inviteErr.Reason,
		})
		return
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, authz.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, authz.ErrForbidden), errors.Is(err, authz.ErrNoTenant):
		status = http.StatusForbidden
	case errors.Is(err, authz.ErrConflict), errors.Is(err, authz.ErrInvalidState):
		status = http.StatusConflict
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
