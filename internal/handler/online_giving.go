package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/dukerupert/flock/internal/auth"
	"github.com/dukerupert/flock/internal/envelope"
	"github.com/dukerupert/flock/internal/model"
	"github.com/dukerupert/flock/internal/payments"
	"github.com/dukerupert/flock/internal/store"
)

const maxWebhookBody = 64 << 10

// UserGetter looks up a login by id.
type UserGetter interface {
	GetByID(ctx context.Context, id int64) (*model.User, error)
}

type OnlineGivingHandler struct {
	payments *payments.Client
	giving   *store.GivingStore
	members  *store.MemberStore
	churches *store.ChurchStore
	users    UserGetter
	recorded func(kind string)
	logger   *slog.Logger
}

func NewOnlineGivingHandler(pc *payments.Client, gs *store.GivingStore, ms *store.MemberStore, cs *store.ChurchStore, users UserGetter, logger *slog.Logger) *OnlineGivingHandler {
	return &OnlineGivingHandler{payments: pc, giving: gs, members: ms, churches: cs, users: users, logger: logger}
}

// OnRecorded registers fn to be called for every offering the webhook records.
func (h *OnlineGivingHandler) OnRecorded(fn func(kind string)) {
	h.recorded = fn
}

type checkoutRequest struct {
	BranchID    int64  `json:"branch_id"`
	MemberID    *int64 `json:"member_id"`
	Kind        string `json:"kind"`
	AmountCents int64  `json:"amount_cents"`
}

// Checkout handles POST /api/offerings/checkout. Any member may give to any
// branch of their church.
func (h *OnlineGivingHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	switch {
	case req.BranchID <= 0:
		badRequest(w, "branch_id is required")
		return
	case !validOfferingKinds[req.Kind]:
		badRequest(w, "kind must be tithe, offering, donation, or other")
		return
	case req.AmountCents <= 0:
		badRequest(w, "amount_cents must be positive")
		return
	}

	ctx := r.Context()
	churchID := auth.ChurchID(ctx)
	b, err := h.churches.GetBranch(ctx, churchID, req.BranchID)
	if err != nil {
		respondInternal(w, r, h.logger, err)
		return
	}
	if b == nil {
		badRequest(w, "branch_id does not exist")
		return
	}
	if req.MemberID != nil {
		m, err := h.members.GetByID(ctx, churchID, *req.MemberID)
		if err != nil {
			respondInternal(w, r, h.logger, err)
			return
		}
		if m == nil {
			badRequest(w, "member_id does not exist")
			return
		}
	}

	gift := payments.Gift{
		ChurchID:    churchID,
		BranchID:    req.BranchID,
		UserID:      auth.UserID(ctx),
		MemberID:    req.MemberID,
		Kind:        req.Kind,
		AmountCents: req.AmountCents,
	}
	if u, err := h.users.GetByID(ctx, gift.UserID); err == nil && u != nil {
		gift.Email = u.Email
	}

	checkout, err := h.payments.CreateCheckout(ctx, gift)
	if err != nil {
		h.logger.Error("create checkout", "church_id", churchID, "error", err)
		envelope.Fail(w, http.StatusBadGateway, "payment provider unavailable")
		return
	}
	respondOK(w, http.StatusCreated, "Checkout created", checkout)
}

// Webhook handles POST /webhooks/stripe. A completed payment is recorded
// once as an offering; redelivered events are acknowledged without a second
// record.
func (h *OnlineGivingHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		badRequest(w, "could not read body")
		return
	}

	done, err := h.payments.ParseWebhook(body, r.Header.Get("Stripe-Signature"))
	switch {
	case errors.Is(err, payments.ErrInvalidSignature):
		badRequest(w, "invalid signature")
		return
	case err != nil:
		// malformed sessions will not improve on retry
		h.logger.Error("stripe webhook", "error", err)
		respondOK(w, http.StatusOK, "Ignored", nil)
		return
	case done == nil:
		respondOK(w, http.StatusOK, "Ignored", nil)
		return
	}

	g := done.Gift
	o, err := h.giving.CreateOffering(r.Context(), &model.Offering{
		ChurchID:    g.ChurchID,
		BranchID:    g.BranchID,
		MemberID:    g.MemberID,
		Kind:        g.Kind,
		AmountCents: g.AmountCents,
		GivenOn:     done.PaidAt.Format("2006-01-02"),
		Note:        "Online gift",
		RecordedBy:  g.UserID,
		ExternalRef: done.SessionID,
	})
	if errors.Is(err, store.ErrDuplicate) {
		respondOK(w, http.StatusOK, "Already recorded", nil)
		return
	}
	if err != nil {
		// a 5xx makes Stripe redeliver
		respondInternal(w, r, h.logger, err)
		return
	}

	h.logger.Info("online gift recorded", "church_id", o.ChurchID, "offering_id", o.ID, "session", done.SessionID)
	if h.recorded != nil {
		h.recorded(o.Kind)
	}
	respondOK(w, http.StatusOK, "Recorded", nil)
}
