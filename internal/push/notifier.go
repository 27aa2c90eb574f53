package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukerupert/flock/internal/model"
)

const notifyTimeout = 30 * time.Second

// Subscriptions is the part of the push store the notifier needs.
type Subscriptions interface {
	ListAudience(ctx context.Context, churchID int64, branchID *int64, excludeUserID int64) ([]model.PushSubscription, error)
	DeleteByEndpoint(ctx context.Context, endpoint string) error
}

type sender interface {
	Send(ctx context.Context, sub *model.PushSubscription, payload Payload) error
}

// Notifier fans church messages out to subscribed browsers.
type Notifier struct {
	sender  sender
	subs    Subscriptions
	logger  *slog.Logger
	observe func(error)
}

func NewNotifier(svc *Service, subs Subscriptions, logger *slog.Logger) *Notifier {
	return &Notifier{sender: svc, subs: subs, logger: logger}
}

// OnResult registers fn to be called with the outcome of every send.
func (n *Notifier) OnResult(fn func(error)) {
	n.observe = fn
}

// NotifyMessage sends msg to its audience in the background. The request
// that created the message does not wait for push services.
func (n *Notifier) NotifyMessage(ctx context.Context, msg *model.Message) {
	ctx = context.WithoutCancel(ctx)
	go func() {
		ctx, cancel := context.WithTimeout(ctx, notifyTimeout)
		defer cancel()
		if sent, err := n.deliver(ctx, msg); err != nil {
			n.logger.Error("push message", "message_id", msg.ID, "error", err)
		} else if sent > 0 {
			n.logger.Debug("pushed message", "message_id", msg.ID, "count", sent)
		}
	}()
}

// deliver sends synchronously and returns how many sends succeeded.
// Expired subscriptions are removed; other failures are logged.
func (n *Notifier) deliver(ctx context.Context, msg *model.Message) (int, error) {
	subs, err := n.subs.ListAudience(ctx, msg.ChurchID, msg.BranchID, msg.AuthorID)
	if err != nil {
		return 0, fmt.Errorf("list audience: %w", err)
	}

	payload := Payload{
		Title: msg.Subject,
		Body:  truncate(msg.Body, 140),
		URL:   fmt.Sprintf("/messages/%d", msg.ID),
		Tag:   fmt.Sprintf("message-%d", msg.ID),
	}

	sent := 0
	for i := range subs {
		err := n.sender.Send(ctx, &subs[i], payload)
		if n.observe != nil {
			n.observe(err)
		}
		switch {
		case err == nil:
			sent++
		case errors.Is(err, ErrExpired):
			if err := n.subs.DeleteByEndpoint(ctx, subs[i].Endpoint); err != nil {
				n.logger.Warn("remove expired push subscription", "id", subs[i].ID, "error", err)
			}
		default:
			n.logger.Warn("push send failed", "subscription_id", subs[i].ID, "error", err)
		}
	}
	return sent, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
