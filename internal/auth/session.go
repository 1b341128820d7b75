package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"shalomjobs.org/internal/kv"
)

const sessionsPrefix = "sessions/"

// Session is an authenticated sign-in.
type Session struct {
	ID        string
	Token     string
	Account   Account
	IssuedAt  time.Time
	ExpiresAt time.Time
}

func sessionKey(jti, name string) string {
	return sessionsPrefix + jti + "/" + name
}

func (s *Service) saveSession(ctx context.Context, sess Session) error {
	if err := kv.SetJSON(ctx, s.store, sessionKey(sess.ID, "user_data"), sess.Account.Public()); err != nil {
		return fmt.Errorf("auth: save session: %w", err)
	}
	if err := s.store.Set(ctx, sessionKey(sess.ID, "auth_token"), []byte(sess.Token)); err != nil {
		return fmt.Errorf("auth: save session: %w", err)
	}
	return nil
}

func (s *Service) sessionToken(ctx context.Context, jti string) (string, bool) {
	raw, err := s.store.Get(ctx, sessionKey(jti, "auth_token"))
	if err != nil {
		return "", false
	}
	return string(raw), true
}

func (s *Service) dropSession(ctx context.Context, jti string) error {
	var errs []error
	for _, name := range []string{"auth_token", "user_data"} {
		if err := s.store.Delete(ctx, sessionKey(jti, name)); err != nil && !errors.Is(err, kv.ErrNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// dropAccountSessions removes every stored session belonging to accountID.
func (s *Service) dropAccountSessions(ctx context.Context, accountID string) error {
	keys, err := s.store.Keys(ctx, sessionsPrefix)
	if err != nil {
		return fmt.Errorf("auth: list sessions: %w", err)
	}
	var errs []error
	for _, key := range keys {
		if !strings.HasSuffix(key, "/user_data") {
			continue
		}
		var acc Account
		if !kv.LoadJSON(ctx, s.store, key, &acc) || acc.ID != accountID {
			continue
		}
		jti := strings.TrimSuffix(strings.TrimPrefix(key, sessionsPrefix), "/user_data")
		if err := s.dropSession(ctx, jti); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
