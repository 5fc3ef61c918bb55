package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/checkout/session"
	"github.com/stripe/stripe-go/v84/customer"
	"github.com/stripe/stripe-go/v84/paymentmethod"
	"github.com/stripe/stripe-go/v84/subscription"
	"github.com/stripe/stripe-go/v84/webhook"
)

// StripeService handles Stripe API interactions
type StripeService struct {
	secretKey     string
	webhookSecret string
	publicURL     string
	logger        *slog.Logger
}

// NewStripeService creates a new Stripe service
func NewStripeService(secretKey, webhookSecret, publicURL string) *StripeService {
	stripe.Key = secretKey

	return &StripeService{
		secretKey:     secretKey,
		webhookSecret: webhookSecret,
		publicURL:     publicURL,
		logger:        slog.With("service", "StripeService"),
	}
}

// CreateCheckoutSessionForPrice creates a subscription-mode checkout
// session for a price identifier
func (s *StripeService) CreateCheckoutSessionForPrice(ctx context.Context, customerID, customerEmail, priceID string, metadata map[string]string) (*stripe.CheckoutSession, error) {
	if priceID == "" {
		return nil, fmt.Errorf("priceID is required for subscription mode")
	}

	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String("subscription"),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(s.publicURL + "/success?session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:  stripe.String(s.publicURL + "/cancel?session_id={CHECKOUT_SESSION_ID}"),
		Metadata:   metadata,
	}

	if customerID != "" {
		params.Customer = stripe.String(customerID)
	} else if customerEmail != "" {
		params.CustomerEmail = stripe.String(customerEmail)
	}

	sess, err := session.New(params)
	if err != nil {
		s.logger.Error("Failed to create checkout session", "error", err)
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}

	s.logger.Info("Created checkout session", "session_id", sess.ID, "price_id", priceID)
	return sess, nil
}

// GetCheckoutSession retrieves a checkout session with its line items and
// subscription expanded
func (s *StripeService) GetCheckoutSession(ctx context.Context, sessionID string) (*stripe.CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{}
	params.AddExpand("line_items")
	params.AddExpand("subscription")

	sess, err := session.Get(sessionID, params)
	if err != nil {
		s.logger.Error("Failed to retrieve checkout session", "error", err, "session_id", sessionID)
		return nil, fmt.Errorf("failed to retrieve checkout session: %w", err)
	}
	return sess, nil
}

// GetOrCreateCustomer retrieves an existing customer or creates a new one
func (s *StripeService) GetOrCreateCustomer(ctx context.Context, email, name string, metadata map[string]string) (*stripe.Customer, error) {
	searchParams := &stripe.CustomerSearchParams{
		SearchParams: stripe.SearchParams{
			Query: fmt.Sprintf("email:'%s'", email),
		},
	}
	iter := customer.Search(searchParams)

	if iter.Next() {
		cust := iter.Customer()
		s.logger.Info("Found existing Stripe customer", "customer_id", cust.ID, "email", email)
		return cust, nil
	}

	params := &stripe.CustomerParams{
		Email:    stripe.String(email),
		Name:     stripe.String(name),
		Metadata: metadata,
	}

	cust, err := customer.New(params)
	if err != nil {
		s.logger.Error("Failed to create Stripe customer", "error", err)
		return nil, fmt.Errorf("failed to create customer: %w", err)
	}

	s.logger.Info("Created new Stripe customer", "customer_id", cust.ID, "email", email)
	return cust, nil
}

// FetchSubscription retrieves a subscription with its latest invoice
// expanded. Implements billing.SubscriptionFetcher.
func (s *StripeService) FetchSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionParams{}
	params.AddExpand("latest_invoice")

	sub, err := subscription.Get(subscriptionID, params)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve subscription: %w", err)
	}
	return sub, nil
}

// CreateSubscription starts a new subscription for an existing customer
// using their stored payment method
func (s *StripeService) CreateSubscription(ctx context.Context, customerID, priceID, paymentMethodID string, metadata map[string]string) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionParams{
		Customer: stripe.String(customerID),
		Items: []*stripe.SubscriptionItemsParams{
			{Price: stripe.String(priceID)},
		},
		DefaultPaymentMethod: stripe.String(paymentMethodID),
		Metadata:             metadata,
	}

	sub, err := subscription.New(params)
	if err != nil {
		s.logger.Error("Failed to create subscription", "error", err, "customer_id", customerID)
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}

	s.logger.Info("Created subscription", "subscription_id", sub.ID, "price_id", priceID)
	return sub, nil
}

// UpdateSubscriptionPrice swaps the subscription's single item to a new
// price with prorations
func (s *StripeService) UpdateSubscriptionPrice(ctx context.Context, subscriptionID, priceID string) (*stripe.Subscription, error) {
	existing, err := subscription.Get(subscriptionID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve subscription: %w", err)
	}

	if len(existing.Items.Data) == 0 {
		return nil, fmt.Errorf("subscription %s has no items", subscriptionID)
	}

	params := &stripe.SubscriptionParams{
		Items: []*stripe.SubscriptionItemsParams{
			{
				ID:    stripe.String(existing.Items.Data[0].ID),
				Price: stripe.String(priceID),
			},
		},
		ProrationBehavior: stripe.String("create_prorations"),
	}

	sub, err := subscription.Update(subscriptionID, params)
	if err != nil {
		s.logger.Error("Failed to update subscription price", "error", err, "subscription_id", subscriptionID)
		return nil, fmt.Errorf("failed to update subscription: %w", err)
	}

	s.logger.Info("Updated subscription price", "subscription_id", subscriptionID, "price_id", priceID)
	return sub, nil
}

// CancelSubscription cancels a subscription, either at period end (grace
// period) or immediately
func (s *StripeService) CancelSubscription(ctx context.Context, subscriptionID string, cancelAtPeriodEnd bool) (*stripe.Subscription, error) {
	var sub *stripe.Subscription
	var err error

	if cancelAtPeriodEnd {
		params := &stripe.SubscriptionParams{
			CancelAtPeriodEnd: stripe.Bool(true),
		}
		sub, err = subscription.Update(subscriptionID, params)
	} else {
		sub, err = subscription.Cancel(subscriptionID, nil)
	}

	if err != nil {
		s.logger.Error("Failed to cancel subscription", "error", err, "subscription_id", subscriptionID)
		return nil, fmt.Errorf("failed to cancel subscription: %w", err)
	}

	s.logger.Info("Canceled subscription", "subscription_id", subscriptionID, "cancel_at_period_end", cancelAtPeriodEnd)
	return sub, nil
}

// ListCardPaymentMethods returns the customer's stored card payment methods
func (s *StripeService) ListCardPaymentMethods(ctx context.Context, customerID string) ([]*stripe.PaymentMethod, error) {
	params := &stripe.PaymentMethodListParams{
		Customer: stripe.String(customerID),
		Type:     stripe.String("card"),
	}

	var methods []*stripe.PaymentMethod
	iter := paymentmethod.List(params)
	for iter.Next() {
		methods = append(methods, iter.PaymentMethod())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to list payment methods: %w", err)
	}
	return methods, nil
}

// ConstructWebhookEvent constructs and validates a webhook event
func (s *StripeService) ConstructWebhookEvent(payload []byte, signature string) (stripe.Event, error) {
	options := &webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret, *options)
	if err != nil {
		s.logger.Error("Failed to verify webhook signature", "error", err)
		return stripe.Event{}, fmt.Errorf("failed to verify webhook: %w", err)
	}

	s.logger.Debug("Webhook event verified", "type", event.Type, "id", event.ID)
	return event, nil
}

// ParseWebhookData parses webhook data into a target struct
func (s *StripeService) ParseWebhookData(data *stripe.EventData, target interface{}) error {
	if err := json.Unmarshal(data.Raw, target); err != nil {
		s.logger.Error("Failed to parse webhook data", "error", err)
		return fmt.Errorf("failed to parse webhook data: %w", err)
	}
	return nil
}
