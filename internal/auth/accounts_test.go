package auth

import (
	"context"
	"errors"
	"strings"
	"testing"

	"shalomjobs.org/internal/kv"
)

func TestEnsureAdminAccountSeedsFreshStore(t *testing.T) {
	store := kv.NewMemory()
	accounts := NewAccounts(store, AccountsConfig{
		AdminEmail:    "Admin@ShalomJobCenter.org",
		AdminPassword: testAdminPassword,
		DemoEmail:     testDemoEmail,
		DemoPassword:  testDemoPassword,
	})
	ctx := context.Background()
	if err := accounts.EnsureAdminAccount(ctx); err != nil {
		t.Fatalf("EnsureAdminAccount: %v", err)
	}

	list := accounts.List(ctx)
	if len(list) != 2 {
		t.Fatalf("expected 2 accounts, got %d", len(list))
	}
	admin, user := list[0], list[1]
	if admin.ID != AdminAccountID || admin.Email != testAdminEmail || admin.Role != RoleAdmin || !admin.IsAdmin || admin.SecurityLevel != LevelHigh {
		t.Fatalf("unexpected admin record: %+v", admin)
	}
	if user.ID != DemoAccountID || user.Email != testDemoEmail || user.Role != RoleUser || user.IsAdmin || user.SecurityLevel != LevelStandard {
		t.Fatalf("unexpected demo record: %+v", user)
	}
	if admin.PasswordHash != "" || user.PasswordHash != "" {
		t.Fatalf("List leaked password hashes")
	}
	if admin.LoginCount != 0 || admin.LastLoginAt != nil || admin.LockUntil != nil {
		t.Fatalf("seeded admin should be pristine: %+v", admin)
	}
}

func TestEnsureAdminAccountRotatesSaltOnly(t *testing.T) {
	store := kv.NewMemory()
	accounts := NewAccounts(store, AccountsConfig{
		AdminEmail:    testAdminEmail,
		AdminPassword: testAdminPassword,
		DemoEmail:     testDemoEmail,
		DemoPassword:  testDemoPassword,
	})
	ctx := context.Background()
	if err := accounts.EnsureAdminAccount(ctx); err != nil {
		t.Fatalf("first bootstrap: %v", err)
	}
	first, err := accounts.AdminCredentials(ctx)
	if err != nil {
		t.Fatalf("AdminCredentials: %v", err)
	}
	if _, err := accounts.Create(ctx, NewAccount{Email: "new@b.co", Name: "New", Password: "secret1"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := accounts.EnsureAdminAccount(ctx); err != nil {
		t.Fatalf("second bootstrap: %v", err)
	}
	second, _ := accounts.AdminCredentials(ctx)

	if first.Salt == second.Salt {
		t.Fatalf("expected a fresh salt on every bootstrap")
	}
	if second.Password != "" {
		t.Fatalf("plaintext stored without opt-in")
	}
	if !accounts.VerifyAdmin(ctx, testAdminPassword) || accounts.VerifyAdmin(ctx, "wrong") {
		t.Fatalf("admin bundle does not verify the configured password")
	}
	if n := len(accounts.List(ctx)); n != 3 {
		t.Fatalf("existing accounts must survive bootstrap, got %d", n)
	}
}

func TestEnsureAdminAccountPlaintextOptIn(t *testing.T) {
	store := kv.NewMemory()
	accounts := NewAccounts(store, AccountsConfig{
		AdminEmail:          testAdminEmail,
		AdminPassword:       testAdminPassword,
		StoreAdminPlaintext: true,
		DemoEmail:           testDemoEmail,
		DemoPassword:        testDemoPassword,
	})
	ctx := context.Background()
	if err := accounts.EnsureAdminAccount(ctx); err != nil {
		t.Fatalf("EnsureAdminAccount: %v", err)
	}
	b, _ := accounts.AdminCredentials(ctx)
	if b.Password != testAdminPassword {
		t.Fatalf("expected plaintext password with opt-in")
	}
}

func TestCreateRejectsDuplicatesAndReserved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	accounts := f.svc.Accounts()

	if _, err := accounts.Create(ctx, NewAccount{Email: "ADMIN@shalomjobcenter.org", Name: "x", Password: "secret1"}); !errors.Is(err, ErrReservedEmail) {
		t.Fatalf("expected ErrReservedEmail, got %v", err)
	}
	if _, err := accounts.Create(ctx, NewAccount{Email: " User@Example.com ", Name: "x", Password: "secret1"}); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestDeleteProtectsAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.Accounts().Delete(ctx, AdminAccountID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := f.svc.Accounts().Delete(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPasswordHashRoundTrip(t *testing.T) {
	hash, err := HashPassword("correct horse")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if ok, err := VerifyPassword(hash, "correct horse"); err != nil || !ok {
		t.Fatalf("expected match, got %v %v", ok, err)
	}
	if ok, _ := VerifyPassword(hash, "wrong"); ok {
		t.Fatalf("expected mismatch")
	}
	parts := strings.Split(hash, "$")
	for _, bad := range []string{
		"$bcrypt$nope",
		strings.Join(append(parts[:5:5], ""), "$"),
		strings.Join([]string{"", parts[1], parts[2], parts[3], "", parts[5]}, "$"),
	} {
		if ok, err := VerifyPassword(bad, "anything"); err == nil || ok {
			t.Fatalf("expected malformed hash error for %q, got %v %v", bad, ok, err)
		}
	}
}
