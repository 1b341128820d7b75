package auth

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator"

	"shalomjobs.org/internal/kv"
	"shalomjobs.org/internal/obs"
	"shalomjobs.org/internal/seclog"
)

const (
	DefaultMinPasswordLength = 6

	AdminLanding = "/admin/dashboard"
	UserLanding  = "/"
)

// Welcomer seeds first-contact data for newly registered accounts.
type Welcomer interface {
	Welcome(ctx context.Context, userID, name string) error
}

// LoginResult is returned on a successful sign-in or registration.
type LoginResult struct {
	Token     string    `json:"token"`
	Account   Account   `json:"user"`
	ExpiresAt time.Time `json:"expires_at"`
	Redirect  string    `json:"redirect"`
	Message   string    `json:"message"`
}

// RegisterInput is the registration form.
type RegisterInput struct {
	Email           string `json:"email" validate:"required,email,max=254"`
	Name            string `json:"name" validate:"required,max=100"`
	Password        string `json:"password" validate:"required"`
	ConfirmPassword string `json:"confirm_password" validate:"omitempty,eqfield=Password"`
}

// Service is the sign-in facade over accounts, the attempt tracker, the
// token codec and the security log.
type Service struct {
	store    kv.Store
	accounts *Accounts
	tracker  *Tracker
	codec    *Codec
	log      *seclog.Log
	welcome  Welcomer
	validate *validator.Validate
	now      func() time.Time
	minPass  int
}

// Option configures Service behavior.
type Option func(*Service)

// WithClock overrides time source of the service and its components (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn == nil {
			return
		}
		s.now = fn
		s.accounts.now = fn
		s.tracker.now = fn
		s.codec.now = fn
	}
}

// WithWelcomer sets the hook run after registration.
func WithWelcomer(w Welcomer) Option {
	return func(s *Service) {
		s.welcome = w
	}
}

// WithMinPasswordLength overrides the minimum accepted password length.
func WithMinPasswordLength(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.minPass = n
		}
	}
}

// NewService wires the facade. store holds session records.
func NewService(store kv.Store, accounts *Accounts, tracker *Tracker, codec *Codec, log *seclog.Log, opts ...Option) *Service {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	s := &Service{
		store:    store,
		accounts: accounts,
		tracker:  tracker,
		codec:    codec,
		log:      log,
		validate: v,
		now:      time.Now,
		minPass:  DefaultMinPasswordLength,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Accounts exposes the account store.
func (s *Service) Accounts() *Accounts { return s.accounts }

// Tracker exposes the attempt tracker.
func (s *Service) Tracker() *Tracker { return s.tracker }

// Login authenticates email and password. Errors are *ValidationError,
// *LockedError or *RejectedError for caller mistakes.
func (s *Service) Login(ctx context.Context, email, password string) (LoginResult, error) {
	email = normalizeEmail(email)
	if err := s.validate.Var(email, "required,email"); err != nil {
		obs.ObserveLogin("invalid")
		return LoginResult{}, invalid("email is invalid")
	}
	subject := seclog.Subject{Email: email}

	acc, findErr := s.accounts.FindByEmail(ctx, email)
	if findErr == nil {
		subject.UserID = acc.ID
	}

	if st := s.tracker.IsLocked(ctx, email); st.Locked {
		return LoginResult{}, s.blocked(ctx, subject, st.Until, "attempts")
	}
	if findErr == nil && acc.LockedAt(s.now()) {
		return LoginResult{}, s.blocked(ctx, subject, *acc.LockUntil, "administrator")
	}

	if reason := s.checkCredentials(ctx, acc, findErr, password); reason != "" {
		return LoginResult{}, s.fail(ctx, subject, reason)
	}

	if _, err := s.tracker.Update(ctx, email, false); err != nil {
		return LoginResult{}, err
	}
	now := s.now().UTC()
	acc, err := s.accounts.Update(ctx, acc.ID, func(a *Account) error {
		a.LastLoginAt = &now
		a.LoginCount++
		return nil
	})
	if err != nil {
		return LoginResult{}, err
	}
	res, err := s.signIn(ctx, acc)
	if err != nil {
		return LoginResult{}, err
	}

	s.log.Append(ctx, seclog.LoginSuccess, subject, map[string]any{"loginCount": acc.LoginCount})
	if acc.IsAdmin {
		s.log.Append(ctx, seclog.AdminLogin, subject, nil)
	}
	obs.ObserveLogin("success")
	return res, nil
}

func (s *Service) checkCredentials(ctx context.Context, acc Account, findErr error, password string) string {
	if findErr != nil {
		return "unknown_account"
	}
	if len(password) < s.minPass {
		return "password_too_short"
	}
	if acc.IsAdmin {
		// the credential bundle is authoritative for the administrator
		if !s.accounts.VerifyAdmin(ctx, password) {
			return "password_mismatch"
		}
	} else if ok, err := VerifyPassword(acc.PasswordHash, password); err != nil || !ok {
		return "password_mismatch"
	}
	if acc.SecurityLevel == LevelRestricted {
		return "account_restricted"
	}
	return ""
}

func (s *Service) blocked(ctx context.Context, subject seclog.Subject, until time.Time, source string) error {
	minutes := remainingMinutes(until.Sub(s.now()))
	s.log.Append(ctx, seclog.LoginBlocked, subject, map[string]any{
		"remainingMinutes": minutes,
		"source":           source,
	})
	obs.ObserveLogin("locked")
	return &LockedError{Until: until, RemainingMinutes: minutes}
}

func (s *Service) fail(ctx context.Context, subject seclog.Subject, reason string) error {
	st, err := s.tracker.Update(ctx, subject.Email, true)
	if err != nil {
		return err
	}
	remaining := s.tracker.MaxAttempts() - st.Count
	if remaining < 0 {
		remaining = 0
	}
	s.log.Append(ctx, seclog.LoginFailure, subject, map[string]any{
		"reason":            reason,
		"attempts":          st.Count,
		"remainingAttempts": remaining,
	})
	if st.LockUntil != nil && st.LockUntil.After(s.now()) {
		obs.ObserveLogin("locked")
		return &LockedError{Until: *st.LockUntil, RemainingMinutes: remainingMinutes(st.LockUntil.Sub(s.now()))}
	}
	obs.ObserveLogin("rejected")
	return &RejectedError{RemainingAttempts: remaining}
}

func (s *Service) signIn(ctx context.Context, acc Account) (LoginResult, error) {
	token, claims, err := s.codec.Issue(ctx, acc)
	if err != nil {
		return LoginResult{}, err
	}
	pub := acc.Public()
	sess := Session{
		ID:        claims.RegisteredClaims.ID,
		Token:     token,
		Account:   pub,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}
	if err := s.saveSession(ctx, sess); err != nil {
		return LoginResult{}, err
	}
	res := LoginResult{
		Token:     token,
		Account:   pub,
		ExpiresAt: sess.ExpiresAt,
		Redirect:  UserLanding,
		Message:   fmt.Sprintf("Welcome back, %s!", pub.Name),
	}
	if acc.IsAdmin {
		res.Redirect = AdminLanding
		res.Message = "Welcome to the administration console."
	}
	return res, nil
}

// Register creates a standard account and signs it in.
func (s *Service) Register(ctx context.Context, in RegisterInput) (LoginResult, error) {
	in.Email = normalizeEmail(in.Email)
	in.Name = strings.TrimSpace(in.Name)
	subject := seclog.Subject{Email: in.Email}

	if err := s.validateRegistration(in); err != nil {
		return LoginResult{}, err
	}
	if s.accounts.IsReserved(in.Email) {
		s.log.Append(ctx, seclog.RegistrationRejected, subject, map[string]any{"reason": "reserved_email"})
		return LoginResult{}, ErrReservedEmail
	}

	acc, err := s.accounts.Create(ctx, NewAccount{Email: in.Email, Name: in.Name, Password: in.Password})
	if err != nil {
		if errors.Is(err, ErrAlreadyExists) || errors.Is(err, ErrReservedEmail) {
			s.log.Append(ctx, seclog.RegistrationRejected, subject, map[string]any{"reason": err.Error()})
		}
		return LoginResult{}, err
	}
	subject.UserID = acc.ID

	if s.welcome != nil {
		if err := s.welcome.Welcome(ctx, acc.ID, acc.Name); err != nil {
			obs.Warn("welcome conversation failed", map[string]any{"user_id": acc.ID, "error": err})
		}
	}
	s.log.Append(ctx, seclog.UserRegistered, subject, map[string]any{"name": acc.Name})

	now := s.now().UTC()
	acc, err = s.accounts.Update(ctx, acc.ID, func(a *Account) error {
		a.LastLoginAt = &now
		a.LoginCount = 1
		return nil
	})
	if err != nil {
		return LoginResult{}, err
	}
	res, err := s.signIn(ctx, acc)
	if err != nil {
		return LoginResult{}, err
	}
	res.Message = fmt.Sprintf("Welcome to Shalom Job Center, %s!", acc.Name)
	return res, nil
}

func (s *Service) validateRegistration(in RegisterInput) error {
	var problems []string
	if err := s.validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return invalid(err.Error())
		}
		for _, fe := range verrs {
			problems = append(problems, fmt.Sprintf("%s is %s", fe.Field(), fe.Tag()))
		}
	}
	if in.Password != "" && len(in.Password) < s.minPass {
		problems = append(problems, fmt.Sprintf("password is shorter than %d characters", s.minPass))
	}
	if len(problems) > 0 {
		return invalid(problems...)
	}
	return nil
}

// Authenticate resolves a bearer token to its session. Revoked, expired or
// forged tokens yield ErrUnauthorized.
func (s *Service) Authenticate(ctx context.Context, token string) (Session, error) {
	claims, err := s.codec.Parse(ctx, token)
	if err != nil {
		if errors.Is(err, ErrTokenTampered) {
			s.log.Append(ctx, seclog.SuspiciousSession, seclog.Subject{}, map[string]any{"reason": "signature_mismatch"})
		}
		return Session{}, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	jti := claims.RegisteredClaims.ID
	stored, ok := s.sessionToken(ctx, jti)
	if !ok || stored != token {
		return Session{}, fmt.Errorf("%w: session revoked", ErrUnauthorized)
	}
	acc, err := s.accounts.Find(ctx, claims.Account.ID)
	if err != nil {
		_ = s.dropSession(ctx, jti)
		return Session{}, fmt.Errorf("%w: account gone", ErrUnauthorized)
	}
	if acc.SecurityLevel == LevelRestricted || acc.LockedAt(s.now()) {
		return Session{}, fmt.Errorf("%w: account suspended", ErrUnauthorized)
	}
	return Session{
		ID:        jti,
		Token:     token,
		Account:   acc.Public(),
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Logout revokes the session behind token.
func (s *Service) Logout(ctx context.Context, token string) error {
	sess, err := s.Authenticate(ctx, token)
	if err != nil {
		return err
	}
	if err := s.dropSession(ctx, sess.ID); err != nil {
		return fmt.Errorf("auth: drop session: %w", err)
	}
	s.log.Append(ctx, seclog.Logout, seclog.Subject{UserID: sess.Account.ID, Email: sess.Account.Email}, nil)
	return nil
}
