// Route wiring for the public API, the authenticated surface and the
// admin surface.
package app

import (
	"time"

	"github.com/alvin-junjun/ai-guzhi-analysis/auth"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// NewRouter builds the HTTP router around the given API.
func NewRouter(api *API, users UserStore) (*gin.Engine, error) {
	router := gin.Default()
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))

	router.GET("/health", api.Health)
	router.POST("/api/stripe/webhook", api.StripeWebhook)
	router.GET("/api/plans", api.ListPlans)

	verifier, err := auth.NewVerifierFromEnv()
	if err != nil && !auth.AuthDisabled() {
		return nil, err
	}

	protected := router.Group("/")
	protected.Use(auth.Middleware(verifier, auth.MiddlewareConfig{
		OnAuthenticated: func(c *gin.Context, claims *auth.Claims) error {
			return users.UpsertUser(c.Request.Context(), claims.Subject, claims.Email(), claims.Name())
		},
	}))
	protected.GET("/me", api.Me)
	protected.POST("/api/analysis", api.SubmitAnalysis)
	protected.GET("/api/analysis", api.ListTasks)
	protected.GET("/api/analysis/:taskid", api.GetTaskStatus)
	protected.GET("/api/history", api.ListHistory)
	protected.POST("/api/orders", api.CreateOrder)
	protected.GET("/api/orders", api.ListOrders)
	protected.POST("/api/billing/create-checkout-session", api.CreateCheckoutSession)

	admin := router.Group("/api/admin")
	admin.Use(auth.Middleware(verifier, auth.MiddlewareConfig{
		RequireScopes: []string{"admin:memberships"},
	}))
	admin.POST("/memberships/activate", api.ManualActivate)
	admin.POST("/memberships/sweep", api.SweepMemberships)

	return router, nil
}
