package auth

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"

	"shalomjobs.org/internal/ids"
	"shalomjobs.org/internal/kv"
	"shalomjobs.org/internal/obs"
)

const (
	accountsKey         = "all_users"
	adminCredentialsKey = "admin_credentials"

	AdminAccountID = "admin_001"
	DemoAccountID  = "user_001"
)

// AccountsConfig carries the bootstrap credentials.
type AccountsConfig struct {
	AdminEmail    string
	AdminPassword string
	// StoreAdminPlaintext keeps the admin password in the credential bundle.
	// Demo deployments only.
	StoreAdminPlaintext bool
	DemoEmail           string
	DemoPassword        string
}

// AdminCredentials is the stored administrator credential bundle.
type AdminCredentials struct {
	Email     string    `json:"email"`
	Salt      string    `json:"salt"`
	Hash      string    `json:"hash"`
	Password  string    `json:"password,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewAccount is the input to Accounts.Create.
type NewAccount struct {
	Email    string
	Name     string
	Password string
}

// Accounts persists the account list as one JSON array.
type Accounts struct {
	store kv.Store
	cfg   AccountsConfig
	now   func() time.Time
	mu    sync.Mutex
}

// NewAccounts builds the account store.
func NewAccounts(store kv.Store, cfg AccountsConfig) *Accounts {
	cfg.AdminEmail = normalizeEmail(cfg.AdminEmail)
	cfg.DemoEmail = normalizeEmail(cfg.DemoEmail)
	return &Accounts{store: store, cfg: cfg, now: time.Now}
}

// IsReserved reports whether email belongs to the administrator.
func (a *Accounts) IsReserved(email string) bool {
	return a.cfg.AdminEmail != "" && normalizeEmail(email) == a.cfg.AdminEmail
}

// EnsureAdminAccount seeds the administrator and the demo user when no
// account list exists, then regenerates the admin credential bundle.
func (a *Accounts) EnsureAdminAccount(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var list []Account
	if !kv.LoadJSON(ctx, a.store, accountsKey, &list) {
		seeded, err := a.seed()
		if err != nil {
			return err
		}
		if err := kv.SetJSON(ctx, a.store, accountsKey, seeded); err != nil {
			return fmt.Errorf("auth: seed accounts: %w", err)
		}
		obs.Info("accounts seeded", map[string]any{"admin": a.cfg.AdminEmail, "demo": a.cfg.DemoEmail})
	} else if err := a.syncAdmin(ctx, list); err != nil {
		return err
	}

	salt, err := newSalt()
	if err != nil {
		return err
	}
	bundle := AdminCredentials{
		Email:     a.cfg.AdminEmail,
		Salt:      base64.RawStdEncoding.EncodeToString(salt),
		Hash:      base64.RawStdEncoding.EncodeToString(deriveKey(a.cfg.AdminPassword, salt)),
		UpdatedAt: a.now().UTC(),
	}
	if a.cfg.StoreAdminPlaintext {
		bundle.Password = a.cfg.AdminPassword
	}
	if err := kv.SetJSON(ctx, a.store, adminCredentialsKey, bundle); err != nil {
		return fmt.Errorf("auth: write admin credentials: %w", err)
	}
	return nil
}

// syncAdmin brings the stored administrator record in line with the
// configured email and password. Callers hold a.mu.
func (a *Accounts) syncAdmin(ctx context.Context, list []Account) error {
	for i := range list {
		if list[i].ID != AdminAccountID {
			continue
		}
		acc := &list[i]
		changed := false
		if acc.Email != a.cfg.AdminEmail {
			acc.Email = a.cfg.AdminEmail
			changed = true
		}
		if ok, err := VerifyPassword(acc.PasswordHash, a.cfg.AdminPassword); err != nil || !ok {
			hash, err := HashPassword(a.cfg.AdminPassword)
			if err != nil {
				return fmt.Errorf("auth: hash admin password: %w", err)
			}
			acc.PasswordHash = hash
			changed = true
		}
		if !changed {
			return nil
		}
		if err := kv.SetJSON(ctx, a.store, accountsKey, list); err != nil {
			return fmt.Errorf("auth: update admin account: %w", err)
		}
		obs.Info("admin account updated from config", map[string]any{"admin": a.cfg.AdminEmail})
		return nil
	}
	return nil
}

func (a *Accounts) seed() ([]Account, error) {
	now := a.now().UTC()
	adminHash, err := HashPassword(a.cfg.AdminPassword)
	if err != nil {
		return nil, fmt.Errorf("auth: hash admin password: %w", err)
	}
	demoHash, err := HashPassword(a.cfg.DemoPassword)
	if err != nil {
		return nil, fmt.Errorf("auth: hash demo password: %w", err)
	}
	return []Account{
		{
			ID:            AdminAccountID,
			Email:         a.cfg.AdminEmail,
			Name:          "Administrator",
			Role:          RoleAdmin,
			IsAdmin:       true,
			SecurityLevel: LevelHigh,
			CreatedAt:     now,
			PasswordHash:  adminHash,
		},
		{
			ID:            DemoAccountID,
			Email:         a.cfg.DemoEmail,
			Name:          "Demo User",
			Role:          RoleUser,
			SecurityLevel: LevelStandard,
			CreatedAt:     now,
			PasswordHash:  demoHash,
		},
	}, nil
}

// AdminCredentials returns the stored bundle.
func (a *Accounts) AdminCredentials(ctx context.Context) (AdminCredentials, error) {
	var b AdminCredentials
	if !kv.LoadJSON(ctx, a.store, adminCredentialsKey, &b) {
		return b, ErrNotFound
	}
	return b, nil
}

// VerifyAdmin checks password against the admin credential bundle.
func (a *Accounts) VerifyAdmin(ctx context.Context, password string) bool {
	b, err := a.AdminCredentials(ctx)
	if err != nil {
		return false
	}
	salt, err := base64.RawStdEncoding.DecodeString(b.Salt)
	if err != nil {
		return false
	}
	want, err := base64.RawStdEncoding.DecodeString(b.Hash)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(deriveKey(password, salt), want) == 1
}

func (a *Accounts) list(ctx context.Context) []Account {
	var list []Account
	kv.LoadJSON(ctx, a.store, accountsKey, &list)
	return list
}

// List returns all accounts without credential material.
func (a *Accounts) List(ctx context.Context) []Account {
	list := a.list(ctx)
	out := make([]Account, len(list))
	for i, acc := range list {
		out[i] = acc.Public()
	}
	return out
}

// FindByEmail looks an account up case-insensitively. The returned account
// includes its password hash.
func (a *Accounts) FindByEmail(ctx context.Context, email string) (Account, error) {
	email = normalizeEmail(email)
	for _, acc := range a.list(ctx) {
		if normalizeEmail(acc.Email) == email {
			return acc, nil
		}
	}
	return Account{}, ErrNotFound
}

// Find looks an account up by id.
func (a *Accounts) Find(ctx context.Context, id string) (Account, error) {
	for _, acc := range a.list(ctx) {
		if acc.ID == id {
			return acc, nil
		}
	}
	return Account{}, ErrNotFound
}

// Create registers a standard user.
func (a *Accounts) Create(ctx context.Context, in NewAccount) (Account, error) {
	email := normalizeEmail(in.Email)
	if a.IsReserved(email) {
		return Account{}, ErrReservedEmail
	}
	hash, err := HashPassword(in.Password)
	if err != nil {
		return Account{}, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	list := a.list(ctx)
	for _, acc := range list {
		if normalizeEmail(acc.Email) == email {
			return Account{}, ErrAlreadyExists
		}
	}
	acc := Account{
		ID:            ids.Prefixed("usr"),
		Email:         email,
		Name:          strings.TrimSpace(in.Name),
		Role:          RoleUser,
		SecurityLevel: LevelStandard,
		CreatedAt:     a.now().UTC(),
		PasswordHash:  hash,
	}
	list = append(list, acc)
	if err := kv.SetJSON(ctx, a.store, accountsKey, list); err != nil {
		return Account{}, fmt.Errorf("auth: save accounts: %w", err)
	}
	return acc, nil
}

// Update applies fn to the account with id and persists the result.
func (a *Accounts) Update(ctx context.Context, id string, fn func(*Account) error) (Account, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	list := a.list(ctx)
	for i := range list {
		if list[i].ID != id {
			continue
		}
		acc := list[i]
		if err := fn(&acc); err != nil {
			return Account{}, err
		}
		acc.ID = id
		list[i] = acc
		if err := kv.SetJSON(ctx, a.store, accountsKey, list); err != nil {
			return Account{}, fmt.Errorf("auth: save accounts: %w", err)
		}
		return acc, nil
	}
	return Account{}, ErrNotFound
}

// Delete removes a non-administrator account.
func (a *Accounts) Delete(ctx context.Context, id string) (Account, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	list := a.list(ctx)
	for i, acc := range list {
		if acc.ID != id {
			continue
		}
		if acc.IsAdmin {
			return Account{}, ErrForbidden
		}
		list = append(list[:i], list[i+1:]...)
		if err := kv.SetJSON(ctx, a.store, accountsKey, list); err != nil {
			return Account{}, fmt.Errorf("auth: save accounts: %w", err)
		}
		return acc, nil
	}
	return Account{}, ErrNotFound
}
