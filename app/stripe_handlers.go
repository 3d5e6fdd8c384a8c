package app

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/checkout/session"
	"github.com/stripe/stripe-go/v79/webhook"
)

type checkoutRequest struct {
	PlanID string `json:"plan_id"`
}

// CreateCheckoutSession creates a pending order for the requested plan and
// starts a Stripe Checkout Session for it. The order number rides in the
// session metadata so the webhook can settle the right order.
func (a *API) CreateCheckoutSession(c *gin.Context) {
	user, ok := a.currentUser(c)
	if !ok {
		return
	}
	if a.billing == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "billing not configured"})
		return
	}

	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.PlanID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing plan_id"})
		return
	}

	frontendURL := strings.TrimRight(a.billing.frontendURL, "/")
	if frontendURL == "" {
		log.Printf("missing Stripe config: frontend_url=false")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "billing not configured"})
		return
	}

	order, err := a.membership.CreateOrder(c.Request.Context(), user.ID, req.PlanID, 0)
	if err != nil {
		if errors.Is(err, ErrPlanNotFound) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		log.Printf("checkout order create failed user=%d plan=%s: %v", user.ID, req.PlanID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create order"})
		return
	}

	stripeCustomerID, err := a.billing.ensureStripeCustomer(c.Request.Context(), user)
	if err != nil {
		log.Printf("ensureStripeCustomer failed user=%d: %v", user.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to prepare billing"})
		return
	}

	params := &stripe.CheckoutSessionParams{
		Mode:     stripe.String(string(stripe.CheckoutSessionModePayment)),
		Customer: stripe.String(stripeCustomerID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(string(stripe.CurrencyCNY)),
					UnitAmount: stripe.Int64(int64(order.PayAmount * 100)),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(order.PlanName),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(frontendURL + "/billing/success"),
		CancelURL:  stripe.String(frontendURL + "/billing/cancel"),
		Metadata: map[string]string{
			"order_no": order.OrderNo,
		},
	}

	sess, err := session.New(params)
	if err != nil {
		log.Printf("stripe checkout session failed order=%s: %v", order.OrderNo, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create checkout session"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"url":      sess.URL,
		"order_no": order.OrderNo,
	})
}

// StripeWebhook handles payment events and settles the matching order.
func (a *API) StripeWebhook(c *gin.Context) {
	if a.billing == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "webhook not configured"})
		return
	}

	const maxBodyBytes = int64(65536)
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		log.Printf("stripe webhook read failed: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	endpointSecret := a.billing.webhookSecret
	if endpointSecret == "" {
		log.Printf("stripe webhook secret missing")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "webhook not configured"})
		return
	}

	event, err := webhook.ConstructEventWithOptions(
		body,
		c.GetHeader("Stripe-Signature"),
		endpointSecret,
		webhook.ConstructEventOptions{
			IgnoreAPIVersionMismatch: true,
		},
	)
	if err != nil {
		log.Printf("stripe webhook signature failed: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "signature verification failed"})
		return
	}

	switch event.Type {
	case "checkout.session.completed":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			log.Printf("stripe session unmarshal failed: %v", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session payload"})
			return
		}

		orderNo := sess.Metadata["order_no"]
		if orderNo == "" {
			log.Printf("stripe session %s missing order_no metadata", sess.ID)
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing order_no"})
			return
		}

		transactionID := sess.ID
		if sess.PaymentIntent != nil {
			transactionID = sess.PaymentIntent.ID
		}

		if err := a.membership.Settle(c.Request.Context(), orderNo, "stripe", transactionID); err != nil {
			log.Printf("stripe settle failed order=%s err=%v", orderNo, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to settle order"})
			return
		}
	default:
		// Intentionally ignore unhandled events.
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
