package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/flock/internal/account"
	"github.com/dukerupert/flock/internal/auth"
	"github.com/dukerupert/flock/internal/config"
	"github.com/dukerupert/flock/internal/email"
	"github.com/dukerupert/flock/internal/handler"
	"github.com/dukerupert/flock/internal/metrics"
	"github.com/dukerupert/flock/internal/middleware"
	"github.com/dukerupert/flock/internal/payments"
	"github.com/dukerupert/flock/internal/push"
	"github.com/dukerupert/flock/internal/store"
	ws "github.com/dukerupert/flock/internal/websocket"
)

// CredentialStore is where logins live: the SQLite users table by default,
// or MongoDB when configured.
type CredentialStore interface {
	account.Credentials
	handler.UserLister
	ClearExpiredResetTokens(ctx context.Context, cutoff time.Time) (int64, error)
}

type Server struct {
	db          *sql.DB
	hub         *ws.Hub
	codec       *auth.Codec
	metrics     *metrics.Metrics
	credentials CredentialStore
	rateLimiter *middleware.RateLimiter

	authH       *handler.AuthHandler
	churchH     *handler.ChurchHandler
	userH       *handler.UserHandler
	memberH     *handler.MemberHandler
	departmentH *handler.DepartmentHandler
	prayerH     *handler.PrayerRequestHandler
	givingH     *handler.GivingHandler
	messageH    *handler.MessageHandler
	// optional; nil when not configured
	pushH   *handler.PushHandler
	onlineH *handler.OnlineGivingHandler

	allowedOrigins []string
	authLimit      int
	authWindow     time.Duration
	logger         *slog.Logger
}

// New wires stores, services and handlers. creds may be nil, in which case
// logins are kept in db. emailClient may be nil or unconfigured; reset
// secrets are then only logged.
func New(db *sql.DB, creds CredentialStore, codec *auth.Codec, emailClient *email.Client, m *metrics.Metrics, cfg *config.Config, logger *slog.Logger) *Server {
	if creds == nil {
		creds = store.NewUserStore(db)
	}
	hub := ws.NewHub(logger.With("component", "websocket"), ws.WithCountObserver(func(n int) {
		m.WebsocketClients.Set(float64(n))
	}))

	churchStore := store.NewChurchStore(db)
	memberStore := store.NewMemberStore(db)
	departmentStore := store.NewDepartmentStore(db)
	prayerStore := store.NewPrayerRequestStore(db)
	givingStore := store.NewGivingStore(db)
	messageStore := store.NewMessageStore(db)

	opts := []account.Option{
		account.WithResetTTL(cfg.ResetTokenTTL),
		account.WithLogger(logger.With("component", "account")),
	}
	// A nil *email.Client must not reach the handlers as a non-nil interface.
	var welcomer handler.Welcomer
	if emailClient != nil && emailClient.Configured() {
		opts = append(opts, account.WithMailer(emailClient))
		welcomer = emailClient
	}
	svc := account.NewService(creds, churchStore, codec, auth.NewHasher(cfg.BcryptCost), opts...)

	s := &Server{
		db:          db,
		hub:         hub,
		codec:       codec,
		metrics:     m,
		credentials: creds,
		rateLimiter: middleware.NewRateLimiter(),

		authH:       handler.NewAuthHandler(svc, m, logger.With("component", "auth")),
		churchH:     handler.NewChurchHandler(churchStore, logger.With("component", "church")),
		userH:       handler.NewUserHandler(svc, creds, churchStore, welcomer, logger.With("component", "user")),
		memberH:     handler.NewMemberHandler(memberStore, churchStore, logger.With("component", "member")),
		departmentH: handler.NewDepartmentHandler(departmentStore, memberStore, logger.With("component", "department")),
		prayerH:     handler.NewPrayerRequestHandler(prayerStore, hub, logger.With("component", "prayer_request")),
		givingH:     handler.NewGivingHandler(givingStore, memberStore, churchStore, logger.With("component", "giving")),
		messageH:    handler.NewMessageHandler(messageStore, churchStore, hub, logger.With("component", "message")),

		allowedOrigins: cfg.AllowedOrigins,
		authLimit:      cfg.AuthRateLimit,
		authWindow:     cfg.AuthRateWindow,
		logger:         logger,
	}

	pushCfg := push.Config{VAPIDPublicKey: cfg.VAPIDPublicKey, VAPIDPrivateKey: cfg.VAPIDPrivateKey, Subscriber: cfg.VAPIDSubscriber}
	if pushCfg.Enabled() {
		pushStore := store.NewPushStore(db)
		pushSvc := push.NewService(pushCfg)
		notifier := push.NewNotifier(pushSvc, pushStore, logger.With("component", "push"))
		notifier.OnResult(m.PushResult)
		s.messageH.SetNotifier(notifier)
		s.pushH = handler.NewPushHandler(pushStore, pushSvc, logger.With("component", "push"))
	}

	payCfg := payments.Config{
		SecretKey:     cfg.StripeSecretKey,
		WebhookSecret: cfg.StripeWebhookSecret,
		Currency:      cfg.StripeCurrency,
		SuccessURL:    cfg.BaseURL + "/give/thanks",
		CancelURL:     cfg.BaseURL + "/give",
	}
	if payCfg.Enabled() {
		s.onlineH = handler.NewOnlineGivingHandler(payments.NewClient(payCfg), givingStore, memberStore, churchStore, creds, logger.With("component", "online_giving"))
		s.onlineH.OnRecorded(func(kind string) {
			m.OnlineGifts.WithLabelValues(kind).Inc()
		})
	}
	return s
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

// Credentials returns the login store for cleanup tasks.
func (s *Server) Credentials() CredentialStore {
	return s.credentials
}

// Hub returns the websocket hub.
func (s *Server) Hub() *ws.Hub {
	return s.hub
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	// Public routes (no auth required)
	mux.Handle("POST /auth/register", s.rateLimited(s.authH.Register))
	mux.Handle("POST /auth/login", s.rateLimited(s.authH.Login))
	mux.Handle("POST /auth/forgot-password", s.rateLimited(s.authH.ForgotPassword))
	mux.Handle("POST /auth/reset-password", s.rateLimited(s.authH.ResetPassword))
	mux.HandleFunc("GET /auth/verify", s.authH.Verify)
	mux.HandleFunc("GET /health", s.healthHandler)
	mux.Handle("GET /metrics", s.metrics.Handler())
	mux.HandleFunc("GET /ws", ws.HandleWebSocket(s.hub, s.codec, s.allowedOrigins, s.logger.With("component", "websocket")))
	if s.onlineH != nil {
		mux.HandleFunc("POST /webhooks/stripe", s.onlineH.Webhook)
	}

	s.registerProtectedRoutes(mux)

	// Metrics must sit directly on the mux to see the matched pattern.
	var h http.Handler = s.metrics.Middleware(mux)
	h = middleware.RequestLogger(s.logger.With("component", "http"))(h)
	return middleware.RequestID(h)
}

// healthHandler reports 503 when the database does not answer a ping.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status, body := http.StatusOK, map[string]string{"status": "ok"}
	if err := s.db.PingContext(ctx); err != nil {
		s.logger.Warn("health check: database unreachable", "error", err)
		status, body = http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "database": "unreachable"}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func (s *Server) rateLimited(h http.HandlerFunc) http.Handler {
	onLimited := func(r *http.Request) {
		s.metrics.RateLimited.WithLabelValues(r.URL.Path).Inc()
	}
	return middleware.RateLimit(s.rateLimiter, middleware.RealIP, s.authLimit, s.authWindow, onLimited)(h)
}

// Routes are protected one by one rather than behind a nested mux so the
// outer mux records the full pattern for metrics.

func (s *Server) member(h http.HandlerFunc) http.Handler {
	return middleware.RequireAuth(s.codec)(h)
}

func (s *Server) staff(h http.HandlerFunc) http.Handler {
	return middleware.RequireAuth(s.codec)(middleware.RequireStaff(h))
}

func (s *Server) admin(h http.HandlerFunc) http.Handler {
	return middleware.RequireAuth(s.codec)(middleware.RequireAdmin(h))
}

func (s *Server) registerProtectedRoutes(mux *http.ServeMux) {
	// Church and branches
	mux.Handle("GET /api/church", s.member(s.churchH.Get))
	mux.Handle("PUT /api/church", s.admin(s.churchH.Update))
	mux.Handle("GET /api/branches", s.member(s.churchH.ListBranches))
	mux.Handle("POST /api/branches", s.admin(s.churchH.CreateBranch))
	mux.Handle("PUT /api/branches/{id}", s.admin(s.churchH.UpdateBranch))
	mux.Handle("DELETE /api/branches/{id}", s.admin(s.churchH.DeleteBranch))

	// Users
	mux.Handle("GET /api/users", s.admin(s.userH.List))
	mux.Handle("POST /api/users", s.admin(s.userH.Create))

	// Members
	mux.Handle("GET /api/members", s.member(s.memberH.List))
	mux.Handle("POST /api/members", s.staff(s.memberH.Create))
	mux.Handle("GET /api/members/{id}", s.member(s.memberH.Get))
	mux.Handle("PUT /api/members/{id}", s.staff(s.memberH.Update))
	mux.Handle("DELETE /api/members/{id}", s.staff(s.memberH.Delete))

	// Departments
	mux.Handle("GET /api/departments", s.member(s.departmentH.List))
	mux.Handle("POST /api/departments", s.admin(s.departmentH.Create))
	mux.Handle("PUT /api/departments/{id}", s.admin(s.departmentH.Update))
	mux.Handle("DELETE /api/departments/{id}", s.admin(s.departmentH.Delete))
	mux.Handle("GET /api/departments/{id}/members", s.member(s.departmentH.ListMembers))
	mux.Handle("POST /api/departments/{id}/members/{member_id}", s.staff(s.departmentH.AddMember))
	mux.Handle("DELETE /api/departments/{id}/members/{member_id}", s.staff(s.departmentH.RemoveMember))

	// Prayer requests
	mux.Handle("GET /api/prayer-requests", s.member(s.prayerH.List))
	mux.Handle("POST /api/prayer-requests", s.member(s.prayerH.Create))
	mux.Handle("PUT /api/prayer-requests/{id}", s.member(s.prayerH.Update))
	mux.Handle("DELETE /api/prayer-requests/{id}", s.member(s.prayerH.Delete))
	mux.Handle("POST /api/prayer-requests/{id}/answered", s.member(s.prayerH.ToggleAnswered))

	// Offerings and pledges
	mux.Handle("GET /api/offerings", s.staff(s.givingH.ListOfferings))
	mux.Handle("POST /api/offerings", s.staff(s.givingH.CreateOffering))
	mux.Handle("GET /api/offerings/summary", s.staff(s.givingH.Summary))
	mux.Handle("DELETE /api/offerings/{id}", s.staff(s.givingH.DeleteOffering))
	mux.Handle("GET /api/pledges", s.staff(s.givingH.ListPledges))
	mux.Handle("POST /api/pledges", s.staff(s.givingH.CreatePledge))
	mux.Handle("PUT /api/pledges/{id}", s.staff(s.givingH.UpdatePledge))
	mux.Handle("DELETE /api/pledges/{id}", s.staff(s.givingH.DeletePledge))
	mux.Handle("POST /api/pledges/{id}/payments", s.staff(s.givingH.AddPayment))

	// Messages
	mux.Handle("GET /api/messages", s.member(s.messageH.List))
	mux.Handle("POST /api/messages", s.staff(s.messageH.Create))
	mux.Handle("DELETE /api/messages/{id}", s.member(s.messageH.Delete))

	if s.pushH != nil {
		mux.Handle("GET /api/push/vapid-key", s.member(s.pushH.VAPIDKey))
		mux.Handle("GET /api/push/subscriptions", s.member(s.pushH.List))
		mux.Handle("POST /api/push/subscriptions", s.member(s.pushH.Subscribe))
		mux.Handle("DELETE /api/push/subscriptions/{id}", s.member(s.pushH.Unsubscribe))
	}
	if s.onlineH != nil {
		mux.Handle("POST /api/offerings/checkout", s.member(s.onlineH.Checkout))
	}
}
