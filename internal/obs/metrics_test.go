package obs

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                       "/",
		"/metrics":                               "/metrics",
		"/v1/auth/login":                         "/v1/auth/login",
		"/v1/admin/users":                        "/v1/admin/users",
		"/v1/admin/users/abc":                    "/v1/admin/users/:id",
		"/v1/admin/users/abc/unlock":             "/v1/admin/users/:id/unlock",
		"/v1/admin/users/abc/security-level":     "/v1/admin/users/:id/security-level",
		"/v1/conversations/c1/messages":          "/v1/conversations/:id/messages",
		"/v1/conversations/c1/read?x=1":          "/v1/conversations/:id/read",
		"/v1/admin/conversations/u1/c1/messages": "/v1/admin/conversations/:id/:id/messages",
		"/v1/admin/security-logs?limit=10":       "/v1/admin/security-logs",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}

func TestLogJSONKeepsBaseKeys(t *testing.T) {
	l := Logger()
	orig := l.Writer()
	l.SetFlags(0)
	var buf bytes.Buffer
	l.SetOutput(&buf)
	defer l.SetOutput(orig)

	LogJSON("warn", "store degraded", map[string]any{"msg": "override", "err": errors.New("boom")})

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if entry["msg"] != "store degraded" || entry["level"] != "warn" {
		t.Fatalf("base keys overridden: %v", entry)
	}
	if entry["err"] != "boom" {
		t.Fatalf("error not stringified: %v", entry["err"])
	}
}
