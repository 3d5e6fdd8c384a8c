// Public health and authenticated identity endpoints.
package app

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Health is a public health check endpoint.
func (a *API) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// Me returns the authenticated user's profile, resolved benefits and
// today's quota usage.
func (a *API) Me(c *gin.Context) {
	user, ok := a.currentUser(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	benefits, err := a.membership.Benefits(ctx, user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve benefits"})
		return
	}

	used, _ := a.usage.DailyAnalysisCount(ctx, user.ID, dayKey(a.membership.now()))

	var remaining any
	if benefits.DailyAnalysisLimit >= 0 {
		left := benefits.DailyAnalysisLimit - used
		if left < 0 {
			left = 0
		}
		remaining = left
	}

	c.JSON(http.StatusOK, gin.H{
		"user": gin.H{
			"id":               user.ID,
			"email":            user.Email,
			"name":             user.Name,
			"total_analyses":   user.TotalAnalysisCount,
			"member_since":     user.CreatedAt,
			"membership_level": user.MembershipLevel,
		},
		"benefits":      benefits,
		"analyses_used": used,
		"remaining":     remaining,
	})
}
