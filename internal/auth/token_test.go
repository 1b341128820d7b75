package auth

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"shalomjobs.org/internal/kv"
)

func testAccount() Account {
	return Account{ID: "usr_1", Email: "a@b.co", Name: "A", Role: RoleUser, SecurityLevel: LevelStandard, PasswordHash: "secret-hash"}
}

func TestCodecIssueVerify(t *testing.T) {
	store := kv.NewMemory()
	clock := newTestClock()
	c := NewCodec(store, "", 24*time.Hour)
	c.now = clock.Now
	ctx := context.Background()

	token, claims, err := c.Issue(ctx, testAccount())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if strings.Count(token, ".") != 2 {
		t.Fatalf("expected three segments: %s", token)
	}
	if !c.Verify(ctx, token) {
		t.Fatalf("fresh token should verify")
	}
	if claims.ExpiresAt.Sub(claims.IssuedAt.Time) != 24*time.Hour {
		t.Fatalf("expected 24h lifetime")
	}
	if claims.RegisteredClaims.ID == "" {
		t.Fatalf("missing nonce")
	}

	parsed, err := c.Parse(ctx, token)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed.Account.ID != "usr_1" || parsed.Account.PasswordHash != "" {
		t.Fatalf("unexpected account in claims: %+v", parsed.Account)
	}

	clock.Advance(24*time.Hour + time.Second)
	if c.Verify(ctx, token) {
		t.Fatalf("expired token should not verify")
	}
}

func TestCodecSecretPersistedServerSide(t *testing.T) {
	store := kv.NewMemory()
	ctx := context.Background()
	token, _, err := NewCodec(store, "", 0).Issue(ctx, testAccount())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := store.Get(ctx, secretKey); err != nil {
		t.Fatalf("secret not persisted: %v", err)
	}
	if !NewCodec(store, "", 0).Verify(ctx, token) {
		t.Fatalf("second codec on same store should verify")
	}
	if NewCodec(kv.NewMemory(), "", 0).Verify(ctx, token) {
		t.Fatalf("codec with another secret must reject")
	}
}

func TestCodecRejectsTampering(t *testing.T) {
	c := NewCodec(kv.NewMemory(), "configured-secret", 0)
	ctx := context.Background()
	token, _, err := c.Issue(ctx, testAccount())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	parts := strings.Split(token, ".")
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	forged := strings.Replace(string(payload), `"role":"user"`, `"role":"admin"`, 1)
	parts[1] = base64.RawURLEncoding.EncodeToString([]byte(forged))

	_, err = c.Parse(ctx, strings.Join(parts, "."))
	if !errors.Is(err, ErrTokenTampered) || !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected tampered token error, got %v", err)
	}
}

func TestCodecMalformedTokens(t *testing.T) {
	c := NewCodec(kv.NewMemory(), "s", 0)
	ctx := context.Background()
	for _, tok := range []string{"", "abc", "a.b", "a.b.c", "...."} {
		if c.Verify(ctx, tok) {
			t.Fatalf("token %q should not verify", tok)
		}
		if _, err := c.Parse(ctx, tok); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("token %q: expected ErrInvalidToken, got %v", tok, err)
		}
	}
}
