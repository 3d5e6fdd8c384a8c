package app

import (
	"errors"
	"log"
	"net/http"

	"github.com/alvin-junjun/ai-guzhi-analysis/app/models"
	"github.com/alvin-junjun/ai-guzhi-analysis/auth"

	"github.com/gin-gonic/gin"
)

// API holds the handler dependencies. Handlers are methods so tests can
// build an API around the in-memory store without any process globals.
type API struct {
	tasks      *AnalysisService
	ledger     *Ledger
	membership *MembershipService
	users      UserStore
	usage      UsageStore
	history    TaskStore
	catalog    *Catalog
	billing    *Billing
}

func NewAPI(tasks *AnalysisService, ledger *Ledger, membership *MembershipService, store Store, catalog *Catalog, billing *Billing) *API {
	return &API{
		tasks:      tasks,
		ledger:     ledger,
		membership: membership,
		users:      store,
		usage:      store,
		history:    store,
		catalog:    catalog,
		billing:    billing,
	}
}

// currentUser resolves the authenticated user, provisioning the row on
// first sight of a new subject.
func (a *API) currentUser(c *gin.Context) (models.User, bool) {
	claims, ok := auth.ClaimsFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing auth context"})
		return models.User{}, false
	}

	ctx := c.Request.Context()
	user, err := a.users.UserBySubject(ctx, claims.Subject)
	if errors.Is(err, ErrUserNotFound) {
		if err := a.users.UpsertUser(ctx, claims.Subject, claims.Email(), claims.Name()); err != nil {
			log.Printf("user provisioning failed sub=%s: %v", claims.Subject, err)
		}
		user, err = a.users.UserBySubject(ctx, claims.Subject)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load user"})
		return models.User{}, false
	}
	return user, true
}

type submitAnalysisRequest struct {
	StockCode  string `json:"stock_code"`
	ReportType string `json:"report_type"`
}

// SubmitAnalysis admits one analysis task for the authenticated user and
// returns its id immediately; the work itself runs asynchronously.
func (a *API) SubmitAnalysis(c *gin.Context) {
	user, ok := a.currentUser(c)
	if !ok {
		return
	}

	var req submitAnalysisRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	used, limit, err := a.ledger.CheckLimit(c.Request.Context(), user.ID)
	if err != nil {
		if IsQuotaExceeded(err) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": err.Error(),
				"used":  used,
				"limit": limit,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to check quota"})
		return
	}

	taskID, err := a.tasks.Submit(c.Request.Context(), SubmitRequest{
		UserID:     user.ID,
		StockCode:  req.StockCode,
		ReportType: models.ReportTypeFromString(req.ReportType),
		SourceIP:   c.ClientIP(),
		UserAgent:  c.Request.UserAgent(),
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidStockCode):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, ErrQueueFull):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		case IsQuotaExceeded(err):
			c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
		default:
			log.Printf("submit failed user=%d stock=%s: %v", user.ID, req.StockCode, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to submit analysis"})
		}
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"task_id": taskID})
}

// GetTaskStatus returns the current view of one task. Tasks belonging to
// other users are reported as not found.
func (a *API) GetTaskStatus(c *gin.Context) {
	user, ok := a.currentUser(c)
	if !ok {
		return
	}

	taskID := c.Param("taskid")
	task, err := a.tasks.Task(c.Request.Context(), taskID)
	if err != nil {
		if errors.Is(err, ErrTaskNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if task.UserID != 0 && task.UserID != user.ID {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"task": task})
}

// ListTasks lists the authenticated user's tasks, newest first.
func (a *API) ListTasks(c *gin.Context) {
	user, ok := a.currentUser(c)
	if !ok {
		return
	}

	limit := 50
	if q := c.Query("limit"); q != "" {
		if v, err := parsePositiveInt(q); err == nil && v > 0 && v <= 200 {
			limit = v
		}
	}

	tasks, err := a.tasks.ListTasks(c.Request.Context(), user.ID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"count": len(tasks),
		"tasks": tasks,
	})
}

// ListHistory lists completed analyses for the user, optionally filtered
// by sentiment bucket (bullish/neutral/bearish).
func (a *API) ListHistory(c *gin.Context) {
	user, ok := a.currentUser(c)
	if !ok {
		return
	}

	var sentiment models.Sentiment
	switch models.Sentiment(c.Query("sentiment")) {
	case models.SentimentBullish:
		sentiment = models.SentimentBullish
	case models.SentimentNeutral:
		sentiment = models.SentimentNeutral
	case models.SentimentBearish:
		sentiment = models.SentimentBearish
	}

	limit := 50
	if q := c.Query("limit"); q != "" {
		if v, err := parsePositiveInt(q); err == nil && v > 0 && v <= 200 {
			limit = v
		}
	}

	records, err := a.history.ListAnalysisHistory(c.Request.Context(), user.ID, sentiment, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"count":   len(records),
		"history": records,
	})
}

// ListPlans is public: it returns the purchasable plan catalog.
func (a *API) ListPlans(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"plans": a.catalog.Plans()})
}

type createOrderRequest struct {
	PlanID string `json:"plan_id"`
}

// CreateOrder creates a pending order for the requested plan.
func (a *API) CreateOrder(c *gin.Context) {
	user, ok := a.currentUser(c)
	if !ok {
		return
	}

	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.PlanID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing plan_id"})
		return
	}

	order, err := a.membership.CreateOrder(c.Request.Context(), user.ID, req.PlanID, 0)
	if err != nil {
		if errors.Is(err, ErrPlanNotFound) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		log.Printf("create order failed user=%d plan=%s: %v", user.ID, req.PlanID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create order"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"order": order})
}

// ListOrders lists the user's orders, newest first.
func (a *API) ListOrders(c *gin.Context) {
	user, ok := a.currentUser(c)
	if !ok {
		return
	}

	limit := 50
	if q := c.Query("limit"); q != "" {
		if v, err := parsePositiveInt(q); err == nil && v > 0 && v <= 200 {
			limit = v
		}
	}

	orders, err := a.membership.Orders(c.Request.Context(), user.ID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"count":  len(orders),
		"orders": orders,
	})
}

type manualActivateRequest struct {
	UserID int64  `json:"user_id"`
	PlanID string `json:"plan_id"`
	Remark string `json:"remark"`
}

// ManualActivate grants a membership without payment. Admin only.
func (a *API) ManualActivate(c *gin.Context) {
	var req manualActivateRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID == 0 || req.PlanID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id and plan_id are required"})
		return
	}

	order, err := a.membership.ManualActivate(c.Request.Context(), req.UserID, req.PlanID, req.Remark)
	if err != nil {
		switch {
		case errors.Is(err, ErrPlanNotFound):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, ErrUserNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		default:
			log.Printf("manual activate failed user=%d plan=%s: %v", req.UserID, req.PlanID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to activate membership"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"order": order})
}

// SweepMemberships runs one expiry sweep pass immediately. Admin only;
// the background ticker runs the same pass on a schedule.
func (a *API) SweepMemberships(c *gin.Context) {
	count, err := a.membership.SweepExpired(c.Request.Context(), a.membership.now())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"expired": count})
}
