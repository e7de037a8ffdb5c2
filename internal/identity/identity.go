// Package identity manages accounts and bearer sessions.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/LeventeLantos/gotta-go/internal/kv"
	mailer "github.com/LeventeLantos/gotta-go/internal/mail"
	"github.com/LeventeLantos/gotta-go/internal/model"
	"github.com/LeventeLantos/gotta-go/internal/repo"
)

const minPasswordLen = 6

var (
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrWeakPassword       = fmt.Errorf("password must be at least %d characters", minPasswordLen)
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = repo.ErrEmailTaken
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrInvalidResetToken  = errors.New("invalid or expired reset token")
	ErrGuestAccount       = errors.New("guest sessions have no account")
)

type Config struct {
	Secret     []byte
	TokenTTL   time.Duration
	ResetTTL   time.Duration
	AdminEmail string
	ResetURL   string
	BcryptCost int
}

// Session is an authenticated caller.
type Session struct {
	UID       string    `json:"uid"`
	Email     string    `json:"email,omitempty"`
	Guest     bool      `json:"guest"`
	Admin     bool      `json:"admin"`
	TokenID   string    `json:"-"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type claims struct {
	Email string `json:"email,omitempty"`
	Guest bool   `json:"guest,omitempty"`
	jwt.RegisteredClaims
}

type Service struct {
	users  repo.UserRepository
	tokens kv.TTLStore
	mail   mailer.Mailer
	cfg    Config
	now    func() time.Time
}

func NewService(users repo.UserRepository, tokens kv.TTLStore, m mailer.Mailer, cfg Config) *Service {
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	cfg.AdminEmail = normalizeEmail(cfg.AdminEmail)
	return &Service{users: users, tokens: tokens, mail: m, cfg: cfg, now: time.Now}
}

func (s *Service) Register(ctx context.Context, email, password, phone string) (string, Session, error) {
	email = normalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return "", Session{}, err
	}
	if len(password) < minPasswordLen {
		return "", Session{}, ErrWeakPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cfg.BcryptCost)
	if err != nil {
		return "", Session{}, fmt.Errorf("hash password: %w", err)
	}

	p := model.Profile{
		UID:          uuid.NewString(),
		Email:        email,
		PhoneNumber:  strings.TrimSpace(phone),
		CreatedAt:    s.now().UTC(),
		PasswordHash: string(hash),
	}
	if err := s.users.Create(ctx, p); err != nil {
		return "", Session{}, err
	}

	slog.Info("account registered", "uid", p.UID)
	return s.issue(p.UID, p.Email, false)
}

func (s *Service) Login(ctx context.Context, email, password string) (string, Session, error) {
	p, err := s.users.FindByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, repo.ErrNotFound) {
		return "", Session{}, ErrInvalidCredentials
	}
	if err != nil {
		return "", Session{}, err
	}
	if !checkPassword(p.PasswordHash, password) {
		return "", Session{}, ErrInvalidCredentials
	}
	return s.issue(p.UID, p.Email, false)
}

// Guest issues an anonymous session. Guests can browse but not schedule.
func (s *Service) Guest(ctx context.Context) (string, Session, error) {
	return s.issue("guest-"+uuid.NewString(), "", true)
}

// Logout revokes the token until it would have expired anyway.
func (s *Service) Logout(ctx context.Context, token string) error {
	c, err := s.parse(token)
	if err != nil {
		return err
	}
	ttl := c.ExpiresAt.Time.Sub(s.now())
	if ttl <= 0 {
		return nil
	}
	return s.tokens.SetTTL(ctx, revokedKey(c.ID), []byte("1"), ttl)
}

func (s *Service) Authenticate(ctx context.Context, token string) (Session, error) {
	c, err := s.parse(token)
	if err != nil {
		return Session{}, err
	}

	_, err = s.tokens.Get(ctx, revokedKey(c.ID))
	switch {
	case err == nil:
		return Session{}, ErrUnauthenticated
	case !errors.Is(err, kv.ErrNotFound):
		return Session{}, fmt.Errorf("check revocation: %w", err)
	}

	sess := Session{
		UID:       c.Subject,
		Guest:     c.Guest,
		TokenID:   c.ID,
		ExpiresAt: c.ExpiresAt.Time,
	}
	if c.Guest {
		return sess, nil
	}

	// Email and admin rights come from the account as it is now, so deleted
	// or renamed accounts lose access with their next request.
	p, err := s.users.FindByID(ctx, c.Subject)
	if errors.Is(err, repo.ErrNotFound) {
		return Session{}, ErrUnauthenticated
	}
	if err != nil {
		return Session{}, fmt.Errorf("load account: %w", err)
	}
	sess.Email = p.Email
	sess.Admin = s.IsAdmin(p.Email)
	return sess, nil
}

// ResetPassword mails a reset link. Unknown addresses succeed silently so
// the endpoint cannot be used to probe for accounts.
func (s *Service) ResetPassword(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return err
	}

	p, err := s.users.FindByEmail(ctx, email)
	if errors.Is(err, repo.ErrNotFound) {
		slog.Info("password reset requested for unknown email")
		return nil
	}
	if err != nil {
		return err
	}

	token := uuid.NewString()
	if err := s.tokens.SetTTL(ctx, resetKey(token), []byte(p.UID), s.cfg.ResetTTL); err != nil {
		return fmt.Errorf("store reset token: %w", err)
	}

	link := s.cfg.ResetURL + "?token=" + url.QueryEscape(token)
	if err := s.mail.SendPasswordReset(ctx, p.Email, link); err != nil {
		return fmt.Errorf("send reset email: %w", err)
	}
	return nil
}

// ConfirmReset sets a new password using a token from ResetPassword. Tokens
// are single use.
func (s *Service) ConfirmReset(ctx context.Context, token, newPassword string) error {
	if len(newPassword) < minPasswordLen {
		return ErrWeakPassword
	}

	uid, err := s.tokens.Get(ctx, resetKey(token))
	if errors.Is(err, kv.ErrNotFound) {
		return ErrInvalidResetToken
	}
	if err != nil {
		return err
	}

	if err := s.setPassword(ctx, string(uid), newPassword); err != nil {
		return err
	}
	if err := s.tokens.Delete(ctx, resetKey(token)); err != nil {
		slog.Error("deleting reset token failed", "err", err)
	}
	return nil
}

func (s *Service) Profile(ctx context.Context, sess Session) (model.Profile, error) {
	if sess.Guest {
		return model.Profile{}, ErrGuestAccount
	}
	p, err := s.users.FindByID(ctx, sess.UID)
	if err != nil {
		return model.Profile{}, err
	}
	p.IsAdmin = s.IsAdmin(p.Email)
	return p, nil
}

func (s *Service) UpdateEmail(ctx context.Context, uid, newEmail, currentPassword string) error {
	newEmail = normalizeEmail(newEmail)
	if err := validateEmail(newEmail); err != nil {
		return err
	}
	if _, err := s.reauthenticate(ctx, uid, currentPassword); err != nil {
		return err
	}
	return s.users.UpdateEmail(ctx, uid, newEmail)
}

func (s *Service) UpdatePassword(ctx context.Context, uid, currentPassword, newPassword string) error {
	if len(newPassword) < minPasswordLen {
		return ErrWeakPassword
	}
	if _, err := s.reauthenticate(ctx, uid, currentPassword); err != nil {
		return err
	}
	return s.setPassword(ctx, uid, newPassword)
}

func (s *Service) DeleteAccount(ctx context.Context, uid, password string) error {
	if _, err := s.reauthenticate(ctx, uid, password); err != nil {
		return err
	}
	if err := s.users.Delete(ctx, uid); err != nil {
		return err
	}
	slog.Info("account deleted", "uid", uid)
	return nil
}

func (s *Service) ListUsers(ctx context.Context) ([]model.Member, error) {
	return s.users.List(ctx)
}

func (s *Service) UserCount(ctx context.Context) (int, error) {
	return s.users.Count(ctx)
}

func (s *Service) IsAdmin(email string) bool {
	return s.cfg.AdminEmail != "" && normalizeEmail(email) == s.cfg.AdminEmail
}

func (s *Service) reauthenticate(ctx context.Context, uid, password string) (model.Profile, error) {
	p, err := s.users.FindByID(ctx, uid)
	if errors.Is(err, repo.ErrNotFound) {
		return model.Profile{}, ErrInvalidCredentials
	}
	if err != nil {
		return model.Profile{}, err
	}
	if !checkPassword(p.PasswordHash, password) {
		return model.Profile{}, ErrInvalidCredentials
	}
	return p, nil
}

func (s *Service) setPassword(ctx context.Context, uid, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cfg.BcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return s.users.UpdatePassword(ctx, uid, string(hash))
}

func (s *Service) issue(uid, email string, guest bool) (string, Session, error) {
	now := s.now()
	c := claims{
		Email: email,
		Guest: guest,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   uid,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.TokenTTL)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.cfg.Secret)
	if err != nil {
		return "", Session{}, fmt.Errorf("sign token: %w", err)
	}

	return token, Session{
		UID:       uid,
		Email:     email,
		Guest:     guest,
		Admin:     !guest && s.IsAdmin(email),
		TokenID:   c.ID,
		ExpiresAt: c.ExpiresAt.Time,
	}, nil
}

func (s *Service) parse(token string) (*claims, error) {
	var c claims
	_, err := jwt.ParseWithClaims(token, &c, func(*jwt.Token) (any, error) {
		return s.cfg.Secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if c.Subject == "" || c.ID == "" {
		return nil, ErrUnauthenticated
	}
	return &c, nil
}

func checkPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

func validateEmail(email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return ErrInvalidEmail
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func revokedKey(jti string) string { return "auth:revoked:" + jti }

func resetKey(token string) string { return "auth:reset:" + token }
