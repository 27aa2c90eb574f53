// Package account implements registration, login, password reset and token
// verification over a credential store. Every failure is one of the error
// kinds in errors.go or an opaque internal error.
package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukerupert/flock/internal/auth"
	"github.com/dukerupert/flock/internal/model"
	"github.com/dukerupert/flock/internal/store"
)

// DefaultResetTTL is how long a password-reset secret stays usable.
const DefaultResetTTL = time.Hour

const defaultBranchName = "Main"

// Credentials is the user store. Lookups return (nil, nil) when nothing matches.
type Credentials interface {
	Create(ctx context.Context, u *model.User) (*model.User, error)
	GetByID(ctx context.Context, id int64) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	GetByResetToken(ctx context.Context, digest string) (*model.User, error)
	SetResetToken(ctx context.Context, id int64, digest string, expires time.Time) error
	ConsumeResetToken(ctx context.Context, digest, passwordHash string) (bool, error)
}

// Tenants creates and removes churches during registration.
type Tenants interface {
	CreateWithBranch(ctx context.Context, name, address, branchName string) (*model.Church, *model.Branch, error)
	Delete(ctx context.Context, id int64) error
}

// Mailer delivers the reset secret out of band.
type Mailer interface {
	SendPasswordReset(ctx context.Context, toEmail, name, secret string) error
}

type Service struct {
	creds    Credentials
	tenants  Tenants
	codec    *auth.Codec
	hasher   *auth.Hasher
	mailer   Mailer
	resetTTL time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

type Option func(*Service)

func WithMailer(m Mailer) Option {
	return func(s *Service) {
		s.mailer = m
	}
}

func WithResetTTL(d time.Duration) Option {
	return func(s *Service) {
		s.resetTTL = d
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

func NewService(creds Credentials, tenants Tenants, codec *auth.Codec, hasher *auth.Hasher, opts ...Option) *Service {
	s := &Service{
		creds:    creds,
		tenants:  tenants,
		codec:    codec,
		hasher:   hasher,
		resetTTL: DefaultResetTTL,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Session is the result of a successful register or login.
type Session struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expires_at"`
	User      *model.User `json:"user"`
}

type RegisterInput struct {
	ChurchName    string `json:"church_name"`
	ChurchAddress string `json:"church_address"`
	BranchName    string `json:"branch_name"`
	Name          string `json:"name"`
	Email         string `json:"email"`
	Password      string `json:"password"`
}

// Register creates a church, its first branch and an admin login, and
// returns a token for that admin.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Session, error) {
	in.ChurchName = strings.TrimSpace(in.ChurchName)
	in.BranchName = strings.TrimSpace(in.BranchName)
	in.Name = strings.TrimSpace(in.Name)
	in.Email = normalizeEmail(in.Email)

	if in.ChurchName == "" {
		return nil, invalid("church name is required")
	}
	if in.Name == "" {
		return nil, invalid("name is required")
	}
	if err := validateEmail(in.Email); err != nil {
		return nil, err
	}
	if err := validatePassword(in.Password); err != nil {
		return nil, err
	}
	if in.BranchName == "" {
		in.BranchName = defaultBranchName
	}

	existing, err := s.creds.GetByEmail(ctx, in.Email)
	if err != nil {
		return nil, fmt.Errorf("register lookup: %w", err)
	}
	if existing != nil {
		return nil, ErrDuplicateEmail
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}

	church, branch, err := s.tenants.CreateWithBranch(ctx, in.ChurchName, strings.TrimSpace(in.ChurchAddress), in.BranchName)
	if err != nil {
		return nil, fmt.Errorf("register church: %w", err)
	}

	user, err := s.creds.Create(ctx, &model.User{
		ChurchID:     church.ID,
		BranchID:     &branch.ID,
		Email:        in.Email,
		Name:         in.Name,
		PasswordHash: hash,
		Role:         model.RoleAdmin,
	})
	if err != nil {
		// The church is useless without its admin.
		if delErr := s.tenants.Delete(ctx, church.ID); delErr != nil {
			s.logger.Error("remove orphaned church", "church_id", church.ID, "error", delErr)
		}
		if errors.Is(err, store.ErrDuplicate) {
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("register user: %w", err)
	}

	s.logger.Info("church registered", "church_id", church.ID, "user_id", user.ID)
	return s.issue(user)
}

// Login checks a password. Unknown email and wrong password fail the same way.
func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, invalid("email and password are required")
	}

	user, err := s.creds.GetByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("login lookup: %w", err)
	}
	if user == nil {
		s.hasher.Burn(password)
		return nil, ErrInvalidCredentials
	}

	ok, err := s.hasher.Check(user.PasswordHash, password)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}
	return s.issue(user)
}

// ForgotPassword starts a reset window for email. It returns nil for an
// unknown email so callers cannot probe for accounts.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if email == "" {
		return invalid("email is required")
	}

	user, err := s.creds.GetByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("forgot password lookup: %w", err)
	}
	if user == nil {
		s.logger.Debug("password reset for unknown email")
		return nil
	}

	secret, digest, err := auth.NewResetSecret()
	if err != nil {
		return err
	}
	expires := s.now().Add(s.resetTTL)
	if err := s.creds.SetResetToken(ctx, user.ID, digest, expires); err != nil {
		return err
	}

	if s.mailer == nil {
		s.logger.Warn("no mailer configured, reset secret logged instead", "user_id", user.ID, "secret", secret)
		return nil
	}
	if err := s.mailer.SendPasswordReset(ctx, user.Email, user.Name, secret); err != nil {
		return fmt.Errorf("send reset email: %w", err)
	}
	return nil
}

// ResetPassword consumes a reset secret and replaces the password. The
// secret works once and only before its expiry.
func (s *Service) ResetPassword(ctx context.Context, secret, newPassword string) error {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return invalid("token is required")
	}
	if err := validatePassword(newPassword); err != nil {
		return err
	}

	digest := auth.DigestResetSecret(secret)
	user, err := s.creds.GetByResetToken(ctx, digest)
	if err != nil {
		return fmt.Errorf("reset lookup: %w", err)
	}
	if user == nil || !user.HasPendingReset(s.now()) {
		return ErrExpiredOrInvalidToken
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	ok, err := s.creds.ConsumeResetToken(ctx, digest, hash)
	if err != nil {
		return err
	}
	if !ok {
		return ErrExpiredOrInvalidToken
	}

	s.logger.Info("password reset", "user_id", user.ID)
	return nil
}

// Verify checks a bearer token and returns the identity it carries.
func (s *Service) Verify(token string) (auth.Identity, error) {
	claims, err := s.codec.Verify(token)
	if err != nil {
		return auth.Identity{}, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	return claims.Identity(), nil
}

// CreateUser adds a login to an existing church.
func (s *Service) CreateUser(ctx context.Context, u *model.User, password string) (*model.User, error) {
	u.Email = normalizeEmail(u.Email)
	u.Name = strings.TrimSpace(u.Name)
	if err := validateEmail(u.Email); err != nil {
		return nil, err
	}
	if err := validatePassword(password); err != nil {
		return nil, err
	}
	if u.Role == "" {
		u.Role = model.RoleMember
	}
	if !model.ValidRole(u.Role) {
		return nil, invalid("role must be admin, branch_admin or member")
	}
	if u.Role == model.RoleBranchAdmin && u.BranchID == nil {
		return nil, invalid("branch_id is required for a branch admin")
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}
	u.PasswordHash = hash

	created, err := s.creds.Create(ctx, u)
	if errors.Is(err, store.ErrDuplicate) {
		return nil, ErrDuplicateEmail
	}
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return created, nil
}

func (s *Service) issue(u *model.User) (*Session, error) {
	id := auth.Identity{UserID: u.ID, ChurchID: u.ChurchID, Role: u.Role}
	if u.BranchID != nil {
		id.BranchID = *u.BranchID
	}
	token, err := s.codec.Issue(id)
	if err != nil {
		return nil, err
	}
	return &Session{
		Token:     token,
		ExpiresAt: s.now().Add(s.codec.TTL()),
		User:      u,
	}, nil
}
