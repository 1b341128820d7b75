// Package messaging keeps the support conversations between users and the
// administrator. Each user's conversations live under conversations_<userID>;
// every conversation is mirrored into the admin inbox.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"shalomjobs.org/internal/ids"
	"shalomjobs.org/internal/kv"
)

const (
	adminInboxKey      = "admin_conversations"
	userKeyPrefix      = "conversations_"
	maxContentLength   = 2000
	SupportCounterpart = "Shalom Job Center Support"
)

var (
	ErrNotFound     = errors.New("messaging: conversation not found")
	ErrInvalidInput = errors.New("messaging: invalid input")
)

// Sender tags who wrote a message.
type Sender string

const (
	SenderUser   Sender = "user"
	SenderAdmin  Sender = "admin"
	SenderSystem Sender = "system"
)

type Message struct {
	ID        string    `json:"id"`
	Sender    Sender    `json:"sender"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Read      bool      `json:"read"`
}

type Conversation struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	UserName    string    `json:"userName,omitempty"`
	Counterpart string    `json:"counterpart"`
	Messages    []Message `json:"messages"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Unread counts messages reader has not seen.
func (c Conversation) Unread(reader Sender) int {
	n := 0
	for _, m := range c.Messages {
		if m.Sender != reader && !m.Read {
			n++
		}
	}
	return n
}

// Service reads and mutates conversations.
type Service struct {
	store kv.Store
	now   func() time.Time
	locks kv.KeyedMutex
}

// New builds a Service on store.
func New(store kv.Store) *Service {
	return &Service{store: store, now: time.Now}
}

func userKey(userID string) string { return userKeyPrefix + userID }

func (s *Service) load(ctx context.Context, key string) []Conversation {
	var list []Conversation
	kv.LoadJSON(ctx, s.store, key, &list)
	return list
}

// mutate applies fn to conversation convID in both the user view and the
// admin inbox, under one lock per key.
func (s *Service) mutate(ctx context.Context, userID, convID string, fn func(*Conversation)) (Conversation, error) {
	uk := userKey(userID)
	unlockUser := s.locks.Lock(uk)
	defer unlockUser()
	unlockInbox := s.locks.Lock(adminInboxKey)
	defer unlockInbox()

	user := s.load(ctx, uk)
	idx := indexOf(user, convID)
	if idx < 0 {
		return Conversation{}, ErrNotFound
	}
	fn(&user[idx])
	updated := user[idx]

	inbox := s.load(ctx, adminInboxKey)
	if j := indexOf(inbox, convID); j >= 0 {
		inbox[j] = updated
	} else {
		inbox = append(inbox, updated)
	}

	if err := kv.SetJSON(ctx, s.store, uk, user); err != nil {
		return Conversation{}, fmt.Errorf("messaging: save %s: %w", uk, err)
	}
	if err := kv.SetJSON(ctx, s.store, adminInboxKey, inbox); err != nil {
		return Conversation{}, fmt.Errorf("messaging: save inbox: %w", err)
	}
	return updated, nil
}

func indexOf(list []Conversation, id string) int {
	for i := range list {
		if list[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Service) message(sender Sender, content string, read bool) Message {
	now := s.now().UTC()
	return Message{ID: ids.NewAt(now), Sender: sender, Content: content, Timestamp: now, Read: read}
}

// Welcome opens the support conversation for a newly registered user.
func (s *Service) Welcome(ctx context.Context, userID, name string) error {
	if strings.TrimSpace(userID) == "" {
		return ErrInvalidInput
	}
	greeting := "Welcome to Shalom Job Center!"
	if name = strings.TrimSpace(name); name != "" {
		greeting = fmt.Sprintf("Welcome to Shalom Job Center, %s!", name)
	}
	conv := Conversation{
		ID:          ids.Prefixed("conv"),
		UserID:      userID,
		UserName:    name,
		Counterpart: SupportCounterpart,
		Messages: []Message{
			s.message(SenderSystem, greeting, false),
			s.message(SenderAdmin, "Our team is here to help with your job search. Reply here any time.", false),
		},
	}
	conv.UpdatedAt = conv.Messages[len(conv.Messages)-1].Timestamp

	uk := userKey(userID)
	unlockUser := s.locks.Lock(uk)
	defer unlockUser()
	unlockInbox := s.locks.Lock(adminInboxKey)
	defer unlockInbox()

	user := append(s.load(ctx, uk), conv)
	if err := kv.SetJSON(ctx, s.store, uk, user); err != nil {
		return fmt.Errorf("messaging: save %s: %w", uk, err)
	}
	inbox := append(s.load(ctx, adminInboxKey), conv)
	if err := kv.SetJSON(ctx, s.store, adminInboxKey, inbox); err != nil {
		return fmt.Errorf("messaging: save inbox: %w", err)
	}
	return nil
}

// List returns the user's conversations, most recently active first.
func (s *Service) List(ctx context.Context, userID string) []Conversation {
	return sortByActivity(s.load(ctx, userKey(userID)))
}

// AdminInbox returns every conversation, most recently active first.
func (s *Service) AdminInbox(ctx context.Context) []Conversation {
	return sortByActivity(s.load(ctx, adminInboxKey))
}

func sortByActivity(list []Conversation) []Conversation {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].UpdatedAt.After(list[j].UpdatedAt)
	})
	return list
}

// Send appends a message from sender to the conversation.
func (s *Service) Send(ctx context.Context, userID, convID string, sender Sender, content string) (Message, error) {
	content = strings.TrimSpace(content)
	if content == "" || utf8.RuneCountInString(content) > maxContentLength {
		return Message{}, fmt.Errorf("%w: content must be 1-%d characters", ErrInvalidInput, maxContentLength)
	}
	switch sender {
	case SenderUser, SenderAdmin, SenderSystem:
	default:
		return Message{}, fmt.Errorf("%w: unknown sender %q", ErrInvalidInput, sender)
	}
	msg := s.message(sender, content, false)
	_, err := s.mutate(ctx, userID, convID, func(c *Conversation) {
		c.Messages = append(c.Messages, msg)
		c.UpdatedAt = msg.Timestamp
	})
	if err != nil {
		return Message{}, err
	}
	return msg, nil
}

// AdminReply sends content from the administrator.
func (s *Service) AdminReply(ctx context.Context, userID, convID, content string) (Message, error) {
	return s.Send(ctx, userID, convID, SenderAdmin, content)
}

// MarkRead flags every message not written by reader as read.
func (s *Service) MarkRead(ctx context.Context, userID, convID string, reader Sender) (Conversation, error) {
	return s.mutate(ctx, userID, convID, func(c *Conversation) {
		for i := range c.Messages {
			if c.Messages[i].Sender != reader {
				c.Messages[i].Read = true
			}
		}
	})
}
