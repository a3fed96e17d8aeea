// Package user models the User entity and its persistence on top of the generic document
// Repository.
package user

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

// Collection is the store collection name users are persisted under.
const Collection = "users"

const maxDiscriminatorsPerUsername = 8000

// Sentinel errors for the user package.
var (
	ErrNotFound             = errors.New("user: not found")
	ErrUsernameLength       = errors.New("user: username must be between 2 and 32 characters")
	ErrDiscriminatorsFull   = errors.New("user: all discriminators for this username are taken")
	ErrDiscriminatorInvalid = errors.New("user: discriminator must be exactly 4 digits")
)

// User holds a user's public and private identity fields. PasswordHash/Salt are carried so the
// model matches what gets persisted, but this package never sets, reads, or verifies them —
// credential management belongs to a separate auth boundary.
type User struct {
	ID             snowflake.ID `json:"id"`
	Username       string       `json:"username"`
	Discriminator  string       `json:"discriminator"`
	AvatarHash     string       `json:"avatar_hash,omitempty"`
	Email          string       `json:"email,omitempty"`
	Bot            bool         `json:"bot,omitempty"`
	Verified       bool         `json:"verified,omitempty"`
	PasswordHash   string       `json:"password_hash,omitempty"`
	PasswordSalt   string       `json:"password_salt,omitempty"`
}

// Public strips the fields a user's own client should never forward to anyone but the user
// themself. It is what every other connection's READY/GUILD_CREATE/etc. payload should carry.
type Public struct {
	ID            snowflake.ID `json:"id"`
	Username      string       `json:"username"`
	Discriminator string       `json:"discriminator"`
	AvatarHash    string       `json:"avatar_hash,omitempty"`
	Bot           bool         `json:"bot,omitempty"`
}

// ToPublic strips private fields (email, credentials, verified flag) for broadcast to other users.
func (u *User) ToPublic() Public {
	return Public{
		ID:            u.ID,
		Username:      u.Username,
		Discriminator: u.Discriminator,
		AvatarHash:    u.AvatarHash,
		Bot:           u.Bot,
	}
}

// Tag returns "username#discriminator".
func (u *User) Tag() string {
	return u.Username + "#" + u.Discriminator
}

// ValidateUsername trims and checks that a username is between 2 and 32 Unicode characters.
func ValidateUsername(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if n := utf8.RuneCountInString(trimmed); n < 2 || n > 32 {
		return "", ErrUsernameLength
	}
	return trimmed, nil
}

// ValidateDiscriminator checks that a discriminator is exactly 4 ASCII digits.
func ValidateDiscriminator(d string) error {
	if len(d) != 4 {
		return ErrDiscriminatorInvalid
	}
	for _, r := range d {
		if r < '0' || r > '9' {
			return ErrDiscriminatorInvalid
		}
	}
	return nil
}

// Service provides user operations over the generic document Repository.
type Service struct {
	repo store.Repository
}

// NewService wraps a Repository for user operations.
func NewService(repo store.Repository) *Service {
	return &Service{repo: repo}
}

// NextDiscriminator picks an unused discriminator (as a 4-digit string) for the given username
// among the up to 8000 allowed. It scans existing users sharing the username and returns the
// first unused value in a deterministic order, so the search is reproducible under retry.
func (s *Service) NextDiscriminator(ctx context.Context, username string) (string, error) {
	existing, err := s.repo.Find(ctx, Collection, store.Query{"username": username}, store.Sort{})
	if err != nil {
		return "", fmt.Errorf("user: list existing discriminators: %w", err)
	}

	taken := make(map[string]bool, len(existing))
	for _, doc := range existing {
		var u User
		if err := json.Unmarshal(doc.Data, &u); err != nil {
			continue
		}
		taken[u.Discriminator] = true
	}
	if len(taken) >= maxDiscriminatorsPerUsername {
		return "", ErrDiscriminatorsFull
	}

	for i := 1; i <= maxDiscriminatorsPerUsername; i++ {
		candidate := fmt.Sprintf("%04d", i)
		if !taken[candidate] {
			return candidate, nil
		}
	}
	return "", ErrDiscriminatorsFull
}

// Create validates and inserts a new user, picking an unused discriminator for its username.
func (s *Service) Create(ctx context.Context, u User) (*User, error) {
	username, err := ValidateUsername(u.Username)
	if err != nil {
		return nil, err
	}
	u.Username = username

	disc, err := s.NextDiscriminator(ctx, u.Username)
	if err != nil {
		return nil, err
	}
	u.Discriminator = disc

	if _, err := s.repo.InsertOne(ctx, Collection, u); err != nil {
		return nil, fmt.Errorf("user: insert: %w", err)
	}
	return &u, nil
}

// GetByID loads a user by id.
func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (*User, error) {
	doc, err := s.repo.FindOne(ctx, Collection, store.Query{"id": id.String()})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("user: get by id: %w", err)
	}
	var u User
	if err := json.Unmarshal(doc.Data, &u); err != nil {
		return nil, fmt.Errorf("user: decode: %w", err)
	}
	return &u, nil
}

// SetUsername changes a user's username, regenerating their discriminator.
func (s *Service) SetUsername(ctx context.Context, id snowflake.ID, newUsername string) (*User, error) {
	username, err := ValidateUsername(newUsername)
	if err != nil {
		return nil, err
	}

	disc, err := s.NextDiscriminator(ctx, username)
	if err != nil {
		return nil, err
	}

	if _, err := s.repo.UpdateOne(ctx, Collection, store.Query{"id": id.String()}, map[string]any{
		"username":      username,
		"discriminator": disc,
	}); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("user: update username: %w", err)
	}

	return s.GetByID(ctx, id)
}
