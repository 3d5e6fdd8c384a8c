package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/alvin-junjun/ai-guzhi-analysis/app/models"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/customer"
)

// InitStripe wires the Stripe API key.
func InitStripe(secretKey string) {
	stripe.Key = secretKey
}

// Billing bridges plan orders to Stripe Checkout. It is nil when Stripe is
// not configured; the order endpoints still work, payments just cannot
// complete.
type Billing struct {
	users         UserStore
	membership    *MembershipService
	webhookSecret string
	frontendURL   string
}

func NewBilling(users UserStore, membership *MembershipService, webhookSecret, frontendURL string) *Billing {
	return &Billing{
		users:         users,
		membership:    membership,
		webhookSecret: webhookSecret,
		frontendURL:   frontendURL,
	}
}

// ensureStripeCustomer finds or creates a Stripe Customer for the user.
// It uses users.stripe_customer_id when present, otherwise creates a new
// customer with metadata subject = <subject>, then stores the id.
func (b *Billing) ensureStripeCustomer(ctx context.Context, user models.User) (string, error) {
	if user.StripeCustomerID != "" {
		return user.StripeCustomerID, nil
	}
	if user.Subject == "" {
		return "", errors.New("missing user subject")
	}

	params := &stripe.CustomerParams{
		Metadata: map[string]string{
			"subject": user.Subject,
		},
	}
	if user.Email != "" {
		params.Email = stripe.String(user.Email)
	}
	cust, err := customer.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe customer create: %w", err)
	}

	if err := b.users.SetStripeCustomerID(ctx, user.ID, cust.ID); err != nil {
		return "", err
	}
	return cust.ID, nil
}
