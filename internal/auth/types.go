package auth

import (
	"strings"
	"time"
)

// Role of an account.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// SecurityLevel controls how strictly an account is treated at sign-in.
// Restricted accounts cannot sign in.
type SecurityLevel string

const (
	LevelStandard   SecurityLevel = "standard"
	LevelHigh       SecurityLevel = "high"
	LevelRestricted SecurityLevel = "restricted"
)

// ParseSecurityLevel validates s.
func ParseSecurityLevel(s string) (SecurityLevel, bool) {
	switch lvl := SecurityLevel(strings.ToLower(strings.TrimSpace(s))); lvl {
	case LevelStandard, LevelHigh, LevelRestricted:
		return lvl, true
	}
	return "", false
}

// Account is a registered user. PasswordHash is kept in storage only;
// use Public before handing an account to callers.
type Account struct {
	ID            string        `json:"id"`
	Email         string        `json:"email"`
	Name          string        `json:"name"`
	Role          Role          `json:"role"`
	IsAdmin       bool          `json:"isAdmin"`
	SecurityLevel SecurityLevel `json:"securityLevel"`
	CreatedAt     time.Time     `json:"createdAt"`
	LastLoginAt   *time.Time    `json:"lastLoginAt,omitempty"`
	LoginCount    int           `json:"loginCount"`
	LockUntil     *time.Time    `json:"lockUntil,omitempty"`
	PasswordHash  string        `json:"passwordHash,omitempty"`
}

// Public returns a copy without credential material.
func (a Account) Public() Account {
	a.PasswordHash = ""
	return a
}

// LockedAt reports whether an administrator lock is active at now.
func (a Account) LockedAt(now time.Time) bool {
	return a.LockUntil != nil && a.LockUntil.After(now)
}

// normalizeEmail is the canonical form used for lookups and keys.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// remainingMinutes rounds d up to whole minutes.
func remainingMinutes(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Minute - 1) / time.Minute)
}
