// Package message models the Message entity — content, mentions, pins, and nonce-based
// duplicate suppression — and its persistence on top of the generic document Repository.
package message

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"

	"github.com/nocturnechat/nocturne-gateway/internal/snowflake"
	"github.com/nocturnechat/nocturne-gateway/internal/store"
)

// Collection is the store collection name messages are persisted under.
const Collection = "messages"

// Pagination defaults.
const (
	DefaultLimit = 50
	MaxLimit     = 100
)

const maxContentLength = 2000

// BulkDeleteMaxAge is the oldest a message may be and still be eligible for bulk delete.
const BulkDeleteMaxAge = 14 * 24 * time.Hour

// Type distinguishes a default chat message from a system-generated one (e.g. member join).
type Type int

const (
	TypeDefault Type = iota
	TypeGuildMemberJoin
)

// Sentinel errors for the message package.
var (
	ErrNotFound       = errors.New("message: not found")
	ErrContentTooLong = errors.New("message: content exceeds 2000 characters")
	ErrEmptyContent   = errors.New("message: content must not be empty unless an attachment is present")
	ErrNotAuthor      = errors.New("message: only the author may modify this message")
	ErrDuplicateNonce = errors.New("message: this author already sent a message with this nonce")
	ErrTooOldForBulk  = errors.New("message: one or more messages are older than 14 days")
)

var mentionPattern = regexp.MustCompile(`<@(\d+)>`)

// contentPolicy strips all markup from message content; chat messages are plain text, so
// nothing is allowed through beyond the surviving text nodes.
var contentPolicy = bluemonday.StrictPolicy()

// Message is a single chat message posted to a channel.
type Message struct {
	ID            snowflake.ID   `json:"id"`
	ChannelID     snowflake.ID   `json:"channel_id"`
	AuthorID      snowflake.ID   `json:"author_id"`
	Content       string         `json:"content"`
	EditedAt      *time.Time     `json:"edited_at,omitempty"`
	Pinned        bool           `json:"pinned,omitempty"`
	AttachmentIDs []string       `json:"attachment_ids,omitempty"`
	MentionIDs    []snowflake.ID `json:"mention_ids,omitempty"`
	Nonce         string         `json:"nonce,omitempty"`
	Type          Type           `json:"type"`
}

// CreatedAt derives the message's creation time from its snowflake id.
func (m *Message) CreatedAt() time.Time {
	return m.ID.Time()
}

// ValidateContent sanitizes content through bluemonday, trims it, and checks its length. An
// empty result after trimming is only valid when hasAttachment is true.
func ValidateContent(content string, hasAttachment bool) (string, error) {
	sanitized := contentPolicy.Sanitize(content)
	trimmed := strings.TrimSpace(sanitized)
	if trimmed == "" && !hasAttachment {
		return "", ErrEmptyContent
	}
	if n := utf8.RuneCountInString(trimmed); n > maxContentLength {
		return "", ErrContentTooLong
	}
	return trimmed, nil
}

// ParseMentions extracts the set of user ids mentioned in content via the <@id> syntax.
func ParseMentions(content string) []snowflake.ID {
	matches := mentionPattern.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[snowflake.ID]struct{}, len(matches))
	var out []snowflake.ID
	for _, m := range matches {
		id, err := snowflake.Parse(m[1])
		if err != nil {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// ClampLimit constrains a requested page size to [1, MaxLimit], defaulting to DefaultLimit when
// the input is zero or negative.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// Service provides message operations over the generic document Repository.
type Service struct {
	repo store.Repository
}

// NewService wraps a Repository for message operations.
func NewService(repo store.Repository) *Service {
	return &Service{repo: repo}
}

// Create persists a new message. hasAttachment relaxes the non-empty content requirement.
// A non-empty nonce is rejected if the author has already posted a message with the same
// nonce, per SPEC_FULL.md's client-supplied duplicate-suppression contract.
func (s *Service) Create(ctx context.Context, m Message, hasAttachment bool) (*Message, error) {
	content, err := ValidateContent(m.Content, hasAttachment)
	if err != nil {
		return nil, err
	}
	m.Content = content
	m.MentionIDs = ParseMentions(content)

	if m.Nonce != "" {
		existing, err := s.repo.Find(ctx, Collection, store.Query{
			"author_id": m.AuthorID.String(),
			"nonce":     m.Nonce,
		}, store.Sort{})
		if err != nil {
			return nil, fmt.Errorf("message: check nonce: %w", err)
		}
		if len(existing) > 0 {
			return nil, ErrDuplicateNonce
		}
	}

	if _, err := s.repo.InsertOne(ctx, Collection, m); err != nil {
		return nil, fmt.Errorf("message: insert: %w", err)
	}
	return &m, nil
}

// GetByID loads a message by id.
func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (*Message, error) {
	doc, err := s.repo.FindOne(ctx, Collection, store.Query{"id": id.String()})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("message: get: %w", err)
	}
	return decode(doc)
}

// ListByChannel returns up to limit messages in a channel, most recent first. before, when
// non-zero, restricts the page to messages older than that message id (snowflakes sort
// chronologically, so this is a simple id comparison). The descending sort is requested from
// the Repository as a hint but re-applied in Go, since not every Repository implementation
// (e.g. the in-memory test fake) honors Sort.
func (s *Service) ListByChannel(ctx context.Context, channelID snowflake.ID, before snowflake.ID, limit int) ([]Message, error) {
	docs, err := s.repo.Find(ctx, Collection, store.Query{"channel_id": channelID.String()}, store.Sort{Field: "id", Descending: true})
	if err != nil {
		return nil, fmt.Errorf("message: list: %w", err)
	}

	all := make([]Message, 0, len(docs))
	for _, doc := range docs {
		msg, err := decode(doc)
		if err != nil {
			return nil, err
		}
		all = append(all, *msg)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })

	limit = ClampLimit(limit)
	out := make([]Message, 0, limit)
	for _, msg := range all {
		if before != 0 && msg.ID >= before {
			continue
		}
		out = append(out, msg)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// Edit updates a message's content. Only the author may edit their own message.
func (s *Service) Edit(ctx context.Context, id, authorID snowflake.ID, content string) (*Message, error) {
	m, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.AuthorID != authorID {
		return nil, ErrNotAuthor
	}
	trimmed, err := ValidateContent(content, len(m.AttachmentIDs) > 0)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	if _, err := s.repo.UpdateOne(ctx, Collection, store.Query{"id": id.String()}, map[string]any{
		"content":     trimmed,
		"mention_ids": ParseMentions(trimmed),
		"edited_at":   now,
	}); err != nil {
		return nil, fmt.Errorf("message: edit: %w", err)
	}
	return s.GetByID(ctx, id)
}

// Delete removes a single message outright.
func (s *Service) Delete(ctx context.Context, id snowflake.ID) error {
	if _, err := s.repo.DeleteOne(ctx, Collection, store.Query{"id": id.String()}); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("message: delete: %w", err)
	}
	return nil
}

// BulkDelete removes every message in ids. The whole request is rejected, with no messages
// deleted, if any id is older than BulkDeleteMaxAge.
func (s *Service) BulkDelete(ctx context.Context, ids []snowflake.ID) error {
	now := time.Now()
	for _, id := range ids {
		if now.Sub(id.Time()) > BulkDeleteMaxAge {
			return ErrTooOldForBulk
		}
	}
	for _, id := range ids {
		if _, err := s.repo.DeleteOne(ctx, Collection, store.Query{"id": id.String()}); err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("message: bulk delete: %w", err)
		}
	}
	return nil
}

// SetPinned updates a message's pinned flag. Callers are expected to enforce the per-channel
// pin limit via channel.Service.Pin/Unpin before calling this.
func (s *Service) SetPinned(ctx context.Context, id snowflake.ID, pinned bool) (*Message, error) {
	if _, err := s.repo.UpdateOne(ctx, Collection, store.Query{"id": id.String()}, map[string]any{
		"pinned": pinned,
	}); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("message: set pinned: %w", err)
	}
	return s.GetByID(ctx, id)
}

func decode(doc store.Document) (*Message, error) {
	var m Message
	if err := json.Unmarshal(doc.Data, &m); err != nil {
		return nil, fmt.Errorf("message: decode: %w", err)
	}
	return &m, nil
}
