// Package seclog is the append-only security event log.
//
// Entries are stored as JSON arrays in the key-value store, one key per
// stream, and trimmed oldest-first once a stream reaches its size limit.
package seclog

import (
	"context"
	"strings"
	"time"

	"shalomjobs.org/internal/ids"
	"shalomjobs.org/internal/kv"
	"shalomjobs.org/internal/obs"
)

// Stream names a log and doubles as its storage key.
type Stream string

const (
	StreamSecurity    Stream = "security_logs"
	StreamLogin       Stream = "login_logs"
	StreamAdminAccess Stream = "admin_access_logs"
	StreamSuspicious  Stream = "suspicious_activities"
)

// Streams lists every stream in display order.
var Streams = []Stream{StreamSecurity, StreamLogin, StreamAdminAccess, StreamSuspicious}

// ParseStream accepts a stream key or its short form ("login", "admin_access", ...).
func ParseStream(s string) (Stream, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || s == "security" {
		return StreamSecurity, true
	}
	for _, st := range Streams {
		if string(st) == s || strings.TrimSuffix(string(st), "_logs") == s || (st == StreamSuspicious && s == "suspicious") {
			return st, true
		}
	}
	return "", false
}

// Event types.
const (
	LoginSuccess         = "login_success"
	LoginFailure         = "login_failure"
	LoginBlocked         = "login_blocked"
	AccountLocked        = "account_locked"
	AccountUnlocked      = "account_unlocked"
	Logout               = "logout"
	UserRegistered       = "user_registered"
	RegistrationRejected = "registration_rejected"
	AdminLogin           = "admin_login"
	AdminAction          = "admin_action"
	SuspiciousSession    = "suspicious_session"
)

// every event lands in StreamSecurity; these are the additional streams.
var routes = map[string][]Stream{
	LoginSuccess:      {StreamLogin},
	LoginFailure:      {StreamLogin},
	LoginBlocked:      {StreamLogin},
	Logout:            {StreamLogin},
	AdminLogin:        {StreamAdminAccess, StreamLogin},
	AdminAction:       {StreamAdminAccess},
	SuspiciousSession: {StreamSuspicious},
}

// Subject identifies the account an event is about.
type Subject struct {
	UserID string
	Email  string
}

// Entry is one security log record.
type Entry struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	UserID    string         `json:"userId,omitempty"`
	Email     string         `json:"email,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	UserAgent string         `json:"userAgent,omitempty"`
	IP        string         `json:"ip,omitempty"`
	RequestID string         `json:"requestId,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// Sink receives every appended entry, e.g. a message broker.
type Sink interface {
	Publish(ctx context.Context, stream Stream, e Entry) error
}

// Archiver receives entries evicted by truncation.
type Archiver interface {
	Archive(ctx context.Context, stream Stream, entries []Entry) error
}

const (
	defaultMaxEntries  = 1000
	defaultKeepEntries = 900
)

// Log appends security events to their streams.
type Log struct {
	backend  kv.Store
	now      func() time.Time
	max      int
	keep     int
	sinks    []Sink
	archiver Archiver
	locks    kv.KeyedMutex
}

// Option configures Log.
type Option func(*Log)

// WithRetention sets the size limit and how many of the newest entries survive a trim.
func WithRetention(max, keep int) Option {
	return func(l *Log) {
		if max > 0 && keep > 0 && keep <= max {
			l.max = max
			l.keep = keep
		}
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(l *Log) {
		if fn != nil {
			l.now = fn
		}
	}
}

// WithSink adds a fan-out destination.
func WithSink(s Sink) Option {
	return func(l *Log) {
		if s != nil {
			l.sinks = append(l.sinks, s)
		}
	}
}

// WithArchiver sets where evicted entries go.
func WithArchiver(a Archiver) Option {
	return func(l *Log) {
		l.archiver = a
	}
}

// New constructs a Log on store.
func New(store kv.Store, opts ...Option) *Log {
	l := &Log{
		backend: store,
		now:     time.Now,
		max:     defaultMaxEntries,
		keep:    defaultKeepEntries,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append records an event in the security stream and in the streams routed
// for its type. It never fails: storage errors are logged and dropped.
func (l *Log) Append(ctx context.Context, eventType string, subject Subject, details map[string]any) Entry {
	client := ClientFromContext(ctx)
	now := l.now().UTC()
	e := Entry{
		ID:        ids.NewAt(now),
		Type:      eventType,
		UserID:    subject.UserID,
		Email:     subject.Email,
		Timestamp: now,
		UserAgent: client.UserAgent,
		IP:        client.IP,
		RequestID: RequestIDFromContext(ctx),
		Details:   copyDetails(details),
	}

	streams := append([]Stream{StreamSecurity}, routes[eventType]...)
	for _, st := range streams {
		l.appendTo(ctx, st, e)
	}

	obs.ObserveSecurityEvent(eventType)
	logAudit(e)
	return e
}

func (l *Log) appendTo(ctx context.Context, stream Stream, e Entry) {
	evicted, ok := l.write(ctx, stream, e)
	if !ok {
		return
	}
	// fan-out runs outside the stream lock
	if len(evicted) > 0 && l.archiver != nil {
		if err := l.archiver.Archive(ctx, stream, evicted); err != nil {
			obs.Warn("security log archive failed", map[string]any{"stream": string(stream), "evicted": len(evicted), "error": err})
		}
	}
	for _, s := range l.sinks {
		if err := s.Publish(ctx, stream, e); err != nil {
			obs.Warn("security log sink failed", map[string]any{"stream": string(stream), "error": err})
		}
	}
}

// write appends e under the stream lock and returns the entries trimmed to make room.
func (l *Log) write(ctx context.Context, stream Stream, e Entry) ([]Entry, bool) {
	key := string(stream)
	unlock := l.locks.Lock(key)
	defer unlock()

	var entries []Entry
	kv.LoadJSON(ctx, l.backend, key, &entries)

	var evicted []Entry
	if len(entries) >= l.max {
		cut := len(entries) - (l.keep - 1)
		evicted = append([]Entry(nil), entries[:cut]...)
		entries = entries[cut:]
	}
	entries = append(entries, e)

	if err := kv.SetJSON(ctx, l.backend, key, entries); err != nil {
		obs.Error("security log write failed", map[string]any{"stream": key, "type": e.Type, "error": err})
		return nil, false
	}
	return evicted, true
}

// List returns up to limit of the newest entries of stream, oldest first.
// limit <= 0 returns everything.
func (l *Log) List(ctx context.Context, stream Stream, limit int) []Entry {
	var entries []Entry
	kv.LoadJSON(ctx, l.backend, string(stream), &entries)
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries
}

func copyDetails(in map[string]any) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// logAudit mirrors the entry to the structured log.
func logAudit(e Entry) {
	entry := map[string]any{
		"ts":    e.Timestamp.Format(time.RFC3339Nano),
		"type":  "audit",
		"event": e.Type,
	}
	if e.RequestID != "" {
		entry["request_id"] = e.RequestID
	}
	if e.UserID != "" {
		entry["user_id"] = e.UserID
	}
	if e.Email != "" {
		entry["email"] = e.Email
	}
	if e.Details != nil {
		entry["fields"] = e.Details
	} else {
		entry["fields"] = map[string]any{}
	}
	obs.LogRequest(entry)
}
