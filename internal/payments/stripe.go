// Package payments takes online gifts through Stripe Checkout.
package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
	checksession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/webhook"
)

// ErrInvalidSignature is returned for webhook payloads that fail verification.
var ErrInvalidSignature = errors.New("invalid webhook signature")

type Config struct {
	SecretKey     string
	WebhookSecret string
	// Currency is an ISO code in lower case, e.g. "usd".
	Currency   string
	SuccessURL string
	CancelURL  string
}

func (c Config) Enabled() bool {
	return c.SecretKey != "" && c.WebhookSecret != ""
}

type Client struct {
	cfg Config
}

func NewClient(cfg Config) *Client {
	stripe.Key = cfg.SecretKey
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}
	cfg.Currency = strings.ToLower(cfg.Currency)
	return &Client{cfg: cfg}
}

// Gift is an online offering before it is recorded.
type Gift struct {
	ChurchID    int64
	BranchID    int64
	UserID      int64
	MemberID    *int64
	Kind        string
	AmountCents int64
	Email       string
}

// Checkout is a hosted payment page.
type Checkout struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// CreateCheckout starts a one-off payment for g. The gift details travel in
// the session metadata and come back on the completion webhook.
func (c *Client) CreateCheckout(ctx context.Context, g Gift) (*Checkout, error) {
	meta := map[string]string{
		"church_id": strconv.FormatInt(g.ChurchID, 10),
		"branch_id": strconv.FormatInt(g.BranchID, 10),
		"user_id":   strconv.FormatInt(g.UserID, 10),
		"kind":      g.Kind,
	}
	if g.MemberID != nil {
		meta["member_id"] = strconv.FormatInt(*g.MemberID, 10)
	}

	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(c.cfg.Currency),
					UnitAmount: stripe.Int64(g.AmountCents),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(giftLabel(g.Kind)),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		ClientReferenceID: stripe.String(meta["church_id"]),
		Metadata:          meta,
		SuccessURL:        stripe.String(c.cfg.SuccessURL),
		CancelURL:         stripe.String(c.cfg.CancelURL),
	}
	if g.Email != "" {
		params.CustomerEmail = stripe.String(g.Email)
	}
	params.Context = ctx

	sess, err := checksession.New(params)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	return &Checkout{ID: sess.ID, URL: sess.URL}, nil
}

func giftLabel(kind string) string {
	if kind == "" {
		return "Gift"
	}
	return strings.ToUpper(kind[:1]) + kind[1:]
}

// Completed is a paid checkout session.
type Completed struct {
	SessionID string
	Gift      Gift
	PaidAt    time.Time
}

// ParseWebhook verifies the payload and returns the completed gift it
// describes. Events that record nothing return (nil, nil).
func (c *Client) ParseWebhook(payload []byte, sigHeader string) (*Completed, error) {
	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, c.cfg.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, ErrInvalidSignature
	}

	switch event.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
	default:
		return nil, nil
	}

	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return nil, fmt.Errorf("unmarshal checkout session: %w", err)
	}
	if sess.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		return nil, nil
	}

	g, err := giftFromMetadata(sess.Metadata)
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", sess.ID, err)
	}
	g.AmountCents = sess.AmountTotal
	if sess.CustomerDetails != nil {
		g.Email = sess.CustomerDetails.Email
	}
	return &Completed{SessionID: sess.ID, Gift: g, PaidAt: time.Unix(event.Created, 0).UTC()}, nil
}

func giftFromMetadata(meta map[string]string) (Gift, error) {
	var g Gift
	var err error
	id := func(key string) int64 {
		if err != nil {
			return 0
		}
		var n int64
		n, err = strconv.ParseInt(meta[key], 10, 64)
		if err != nil {
			err = fmt.Errorf("metadata %s: %w", key, err)
		}
		return n
	}
	g.ChurchID = id("church_id")
	g.BranchID = id("branch_id")
	g.UserID = id("user_id")
	if _, ok := meta["member_id"]; ok {
		m := id("member_id")
		g.MemberID = &m
	}
	g.Kind = meta["kind"]
	return g, err
}
