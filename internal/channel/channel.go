// Package channel models the Text and Voice channel variants and their persistence on top of
// the generic document Repository.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/nocturnechat/nocturne-gateway/internal/snowflake"
	"github.com/nocturnechat/nocturne-gateway/internal/store"
)

// Collection is the store collection name channels are persisted under.
const Collection = "channels"

// Type distinguishes the channel variants. It travels over JSON as the literal string used in
// the HTTP create/patch body ("text" or "voice").
type Type string

const (
	TypeText  Type = "text"
	TypeVoice Type = "voice"
)

const (
	maxPins           = 50
	minBitrate        = 8000
	maxBitrate        = 96000
	maxVoiceUserLimit = 99
)

// Sentinel errors for the channel package.
var (
	ErrNotFound        = errors.New("channel: not found")
	ErrNameLength      = errors.New("channel: name must be between 1 and 100 characters")
	ErrInvalidType     = errors.New("channel: type must be \"text\" or \"voice\"")
	ErrTopicLength     = errors.New("channel: topic must be 1024 characters or fewer")
	ErrInvalidPosition = errors.New("channel: position must be non-negative")
	ErrInvalidBitrate  = errors.New("channel: bitrate must be between 8000 and 96000")
	ErrInvalidUserLimit = errors.New("channel: user limit must be between 0 and 99")
	ErrPinLimitReached = errors.New("channel: pin limit reached")
	ErrWrongVariant    = errors.New("channel: operation does not apply to this channel's type")
)

// Channel is the interface common to both variants. A concrete value is always either a Text or
// a Voice; callers type-switch on the concrete type (or check ChannelType) to reach the
// variant-specific fields.
type Channel interface {
	ChannelID() snowflake.ID
	ChannelGuildID() snowflake.ID
	ChannelType() Type
}

// Base holds the fields shared by every channel variant.
type Base struct {
	ID       snowflake.ID `json:"id"`
	GuildID  snowflake.ID `json:"guild_id"`
	Name     string       `json:"name"`
	Position int          `json:"position"`
	Type     Type         `json:"type"`
}

func (b Base) ChannelID() snowflake.ID      { return b.ID }
func (b Base) ChannelGuildID() snowflake.ID { return b.GuildID }
func (b Base) ChannelType() Type            { return b.Type }

// Text is a text channel: messages, a topic, and a bounded pin set.
type Text struct {
	Base
	Topic         string         `json:"topic,omitempty"`
	LastMessageID *snowflake.ID  `json:"last_message_id,omitempty"`
	PinnedIDs     []snowflake.ID `json:"pinned_ids,omitempty"`
}

// Voice is a voice channel: no messages, but a bitrate and a user limit.
type Voice struct {
	Base
	Bitrate   int `json:"bitrate"`
	UserLimit int `json:"user_limit"`
}

// NewText returns a Text channel with the given fields, type set to TypeText.
func NewText(id, guildID snowflake.ID, name string) Text {
	return Text{Base: Base{ID: id, GuildID: guildID, Name: name, Type: TypeText}}
}

// NewVoice returns a Voice channel with the given fields and default bitrate/user-limit, type
// set to TypeVoice.
func NewVoice(id, guildID snowflake.ID, name string) Voice {
	return Voice{Base: Base{ID: id, GuildID: guildID, Name: name, Type: TypeVoice}, Bitrate: minBitrate}
}

// Decode inspects doc's "type" field and unmarshals it into the matching concrete variant,
// returned through the Channel interface.
func Decode(doc store.Document) (Channel, error) {
	var base Base
	if err := json.Unmarshal(doc.Data, &base); err != nil {
		return nil, fmt.Errorf("channel: decode base: %w", err)
	}
	switch base.Type {
	case TypeText:
		var t Text
		if err := json.Unmarshal(doc.Data, &t); err != nil {
			return nil, fmt.Errorf("channel: decode text: %w", err)
		}
		return t, nil
	case TypeVoice:
		var v Voice
		if err := json.Unmarshal(doc.Data, &v); err != nil {
			return nil, fmt.Errorf("channel: decode voice: %w", err)
		}
		return v, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidType, base.Type)
	}
}

// ValidateName checks that a non-nil name is between 1 and 100 characters (runes) after
// trimming whitespace. A nil pointer means "no change." On success the pointed-to value is
// replaced with the trimmed result.
func ValidateName(name *string) error {
	if name == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*name)
	if n := utf8.RuneCountInString(trimmed); n < 1 || n > 100 {
		return ErrNameLength
	}
	*name = trimmed
	return nil
}

// ValidateType checks that t is "text" or "voice".
func ValidateType(t Type) error {
	if t != TypeText && t != TypeVoice {
		return ErrInvalidType
	}
	return nil
}

// ValidateTopic checks that a non-nil topic is 1024 characters (runes) or fewer. A nil pointer
// means "no change."
func ValidateTopic(topic *string) error {
	if topic == nil {
		return nil
	}
	if utf8.RuneCountInString(*topic) > 1024 {
		return ErrTopicLength
	}
	return nil
}

// ValidatePosition checks that a non-nil position is non-negative. A nil pointer means "no
// change."
func ValidatePosition(pos *int) error {
	if pos == nil {
		return nil
	}
	if *pos < 0 {
		return ErrInvalidPosition
	}
	return nil
}

// ValidateBitrate checks that a non-nil bitrate is within [8000, 96000]. A nil pointer means "no
// change."
func ValidateBitrate(bitrate *int) error {
	if bitrate == nil {
		return nil
	}
	if *bitrate < minBitrate || *bitrate > maxBitrate {
		return ErrInvalidBitrate
	}
	return nil
}

// ValidateUserLimit checks that a non-nil user limit is within [0, 99]. A nil pointer means "no
// change."
func ValidateUserLimit(limit *int) error {
	if limit == nil {
		return nil
	}
	if *limit < 0 || *limit > maxVoiceUserLimit {
		return ErrInvalidUserLimit
	}
	return nil
}

// Service provides channel operations over the generic document Repository.
type Service struct {
	repo store.Repository
}

// NewService wraps a Repository for channel operations.
func NewService(repo store.Repository) *Service {
	return &Service{repo: repo}
}

// CreateText persists a new text channel.
func (s *Service) CreateText(ctx context.Context, ch Text) (*Text, error) {
	if err := ValidateName(&ch.Name); err != nil {
		return nil, err
	}
	if _, err := s.repo.InsertOne(ctx, Collection, ch); err != nil {
		return nil, fmt.Errorf("channel: insert: %w", err)
	}
	return &ch, nil
}

// CreateVoice persists a new voice channel.
func (s *Service) CreateVoice(ctx context.Context, ch Voice) (*Voice, error) {
	if err := ValidateName(&ch.Name); err != nil {
		return nil, err
	}
	if ch.Bitrate == 0 {
		ch.Bitrate = minBitrate
	}
	if err := ValidateBitrate(&ch.Bitrate); err != nil {
		return nil, err
	}
	if err := ValidateUserLimit(&ch.UserLimit); err != nil {
		return nil, err
	}
	if _, err := s.repo.InsertOne(ctx, Collection, ch); err != nil {
		return nil, fmt.Errorf("channel: insert: %w", err)
	}
	return &ch, nil
}

// GetByID loads a channel by id, returned through the Channel interface so the caller can
// type-switch to reach variant-specific fields.
func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (Channel, error) {
	doc, err := s.repo.FindOne(ctx, Collection, store.Query{"id": id.String()})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("channel: get: %w", err)
	}
	ch, err := Decode(doc)
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// SetLastMessage updates a text channel's last_message_id pointer. It is a no-op error on any
// other variant.
func (s *Service) SetLastMessage(ctx context.Context, id snowflake.ID, messageID snowflake.ID) error {
	ch, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if _, ok := ch.(Text); !ok {
		return ErrWrongVariant
	}
	_, err = s.repo.UpdateOne(ctx, Collection, store.Query{"id": id.String()}, map[string]any{
		"last_message_id": messageID,
	})
	if err != nil {
		return fmt.Errorf("channel: set last message: %w", err)
	}
	return nil
}

// Pin adds a message to a text channel's pin set, enforcing the 50-pin cap.
func (s *Service) Pin(ctx context.Context, id snowflake.ID, messageID snowflake.ID) error {
	ch, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	text, ok := ch.(Text)
	if !ok {
		return ErrWrongVariant
	}
	for _, pinned := range text.PinnedIDs {
		if pinned == messageID {
			return nil
		}
	}
	if len(text.PinnedIDs) >= maxPins {
		return ErrPinLimitReached
	}
	text.PinnedIDs = append(text.PinnedIDs, messageID)
	_, err = s.repo.UpdateOne(ctx, Collection, store.Query{"id": id.String()}, map[string]any{
		"pinned_ids": text.PinnedIDs,
	})
	if err != nil {
		return fmt.Errorf("channel: pin: %w", err)
	}
	return nil
}

// Unpin removes a message from a text channel's pin set.
func (s *Service) Unpin(ctx context.Context, id snowflake.ID, messageID snowflake.ID) error {
	ch, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	text, ok := ch.(Text)
	if !ok {
		return ErrWrongVariant
	}
	out := text.PinnedIDs[:0]
	for _, pinned := range text.PinnedIDs {
		if pinned != messageID {
			out = append(out, pinned)
		}
	}
	_, err = s.repo.UpdateOne(ctx, Collection, store.Query{"id": id.String()}, map[string]any{
		"pinned_ids": out,
	})
	if err != nil {
		return fmt.Errorf("channel: unpin: %w", err)
	}
	return nil
}

// Update applies a partial patch to a channel. Nil fields are left unchanged; non-nil fields
// are validated and, for bitrate/user_limit, rejected outright on a Text channel via
// ErrWrongVariant.
func (s *Service) Update(ctx context.Context, id snowflake.ID, name, topic *string, position, bitrate, userLimit *int) (Channel, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if err := ValidateTopic(topic); err != nil {
		return nil, err
	}
	if err := ValidatePosition(position); err != nil {
		return nil, err
	}
	if err := ValidateBitrate(bitrate); err != nil {
		return nil, err
	}
	if err := ValidateUserLimit(userLimit); err != nil {
		return nil, err
	}

	ch, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	patch := map[string]any{}
	if name != nil {
		patch["name"] = *name
	}
	if position != nil {
		patch["position"] = *position
	}

	switch ch.ChannelType() {
	case TypeText:
		if bitrate != nil || userLimit != nil {
			return nil, ErrWrongVariant
		}
		if topic != nil {
			patch["topic"] = *topic
		}
	case TypeVoice:
		if topic != nil {
			return nil, ErrWrongVariant
		}
		if bitrate != nil {
			patch["bitrate"] = *bitrate
		}
		if userLimit != nil {
			patch["user_limit"] = *userLimit
		}
	}

	if len(patch) == 0 {
		return ch, nil
	}
	if _, err := s.repo.UpdateOne(ctx, Collection, store.Query{"id": id.String()}, patch); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("channel: update: %w", err)
	}
	return s.GetByID(ctx, id)
}

// Delete removes a channel outright.
func (s *Service) Delete(ctx context.Context, id snowflake.ID) error {
	if _, err := s.repo.DeleteOne(ctx, Collection, store.Query{"id": id.String()}); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("channel: delete: %w", err)
	}
	return nil
}

// ListByGuild returns every channel belonging to a guild.
func (s *Service) ListByGuild(ctx context.Context, guildID snowflake.ID) ([]Channel, error) {
	docs, err := s.repo.Find(ctx, Collection, store.Query{"guild_id": guildID.String()}, store.Sort{Field: "position"})
	if err != nil {
		return nil, fmt.Errorf("channel: list: %w", err)
	}
	out := make([]Channel, 0, len(docs))
	for _, doc := range docs {
		ch, err := Decode(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, nil
}
