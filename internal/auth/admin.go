package auth

import (
	"context"
	"time"

	"shalomjobs.org/internal/seclog"
)

// MaxLockDuration is the longest administrator lock.
const MaxLockDuration = 365 * 24 * time.Hour

// ListAccounts returns every account for the administrator console.
func (s *Service) ListAccounts(ctx context.Context, actor Account) ([]Account, error) {
	if !actor.IsAdmin {
		return nil, ErrForbidden
	}
	return s.accounts.List(ctx), nil
}

// IsLocked reports whether acc is currently barred from signing in, either
// by failed attempts or by an administrator lock.
func (s *Service) IsLocked(ctx context.Context, acc Account) bool {
	return acc.LockedAt(s.now()) || s.tracker.IsLocked(ctx, acc.Email).Locked
}

// UnlockAccount clears both the attempt counter and any administrator lock.
func (s *Service) UnlockAccount(ctx context.Context, actor Account, id string) (Account, error) {
	if !actor.IsAdmin {
		return Account{}, ErrForbidden
	}
	acc, err := s.accounts.Update(ctx, id, func(a *Account) error {
		a.LockUntil = nil
		return nil
	})
	if err != nil {
		return Account{}, err
	}
	if err := s.tracker.Reset(ctx, acc.Email); err != nil {
		return Account{}, err
	}
	subject := seclog.Subject{UserID: acc.ID, Email: acc.Email}
	s.log.Append(ctx, seclog.AccountUnlocked, subject, map[string]any{"by": actor.ID})
	s.adminAction(ctx, actor, "unlock_account", acc, nil)
	return acc.Public(), nil
}

// LockAccount suspends sign-in for d and revokes open sessions.
func (s *Service) LockAccount(ctx context.Context, actor Account, id string, d time.Duration) (Account, error) {
	if !actor.IsAdmin {
		return Account{}, ErrForbidden
	}
	if d <= 0 || d > MaxLockDuration {
		return Account{}, invalid("duration must be between one minute and one year")
	}
	until := s.now().UTC().Add(d)
	acc, err := s.accounts.Update(ctx, id, func(a *Account) error {
		if a.IsAdmin {
			return ErrForbidden
		}
		a.LockUntil = &until
		return nil
	})
	if err != nil {
		return Account{}, err
	}
	if err := s.dropAccountSessions(ctx, acc.ID); err != nil {
		return Account{}, err
	}
	s.log.Append(ctx, seclog.AccountLocked, seclog.Subject{UserID: acc.ID, Email: acc.Email}, map[string]any{
		"by":        actor.ID,
		"lockUntil": until.Format(time.RFC3339),
	})
	s.adminAction(ctx, actor, "lock_account", acc, map[string]any{"minutes": remainingMinutes(d)})
	return acc.Public(), nil
}

// SetSecurityLevel changes the security level of a non-admin account.
func (s *Service) SetSecurityLevel(ctx context.Context, actor Account, id string, level SecurityLevel) (Account, error) {
	if !actor.IsAdmin {
		return Account{}, ErrForbidden
	}
	if _, ok := ParseSecurityLevel(string(level)); !ok {
		return Account{}, invalid("securityLevel is invalid")
	}
	var previous SecurityLevel
	acc, err := s.accounts.Update(ctx, id, func(a *Account) error {
		if a.IsAdmin && level == LevelRestricted {
			return ErrForbidden
		}
		previous = a.SecurityLevel
		a.SecurityLevel = level
		return nil
	})
	if err != nil {
		return Account{}, err
	}
	if level == LevelRestricted {
		if err := s.dropAccountSessions(ctx, acc.ID); err != nil {
			return Account{}, err
		}
	}
	s.adminAction(ctx, actor, "set_security_level", acc, map[string]any{"from": previous, "to": level})
	return acc.Public(), nil
}

// DeleteAccount removes a non-admin account and its sessions.
func (s *Service) DeleteAccount(ctx context.Context, actor Account, id string) error {
	if !actor.IsAdmin {
		return ErrForbidden
	}
	acc, err := s.accounts.Delete(ctx, id)
	if err != nil {
		return err
	}
	if err := s.dropAccountSessions(ctx, acc.ID); err != nil {
		return err
	}
	s.adminAction(ctx, actor, "delete_account", acc, nil)
	return nil
}

func (s *Service) adminAction(ctx context.Context, actor Account, action string, target Account, extra map[string]any) {
	details := map[string]any{
		"action":      action,
		"targetId":    target.ID,
		"targetEmail": target.Email,
	}
	for k, v := range extra {
		details[k] = v
	}
	s.log.Append(ctx, seclog.AdminAction, seclog.Subject{UserID: actor.ID, Email: actor.Email}, details)
}
