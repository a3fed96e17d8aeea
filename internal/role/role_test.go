package role

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/nocturnechat/nocturne-gateway/internal/protocol"
	"github.com/nocturnechat/nocturne-gateway/internal/snowflake"
	"github.com/nocturnechat/nocturne-gateway/internal/store/storetest"
)

func TestValidateNameRequired(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"valid name", "Moderator", "Moderator", false},
		{"trims whitespace", "  Admin  ", "Admin", false},
		{"single char", "X", "X", false},
		{"100 chars", strings.Repeat("a", 100), strings.Repeat("a", 100), false},
		{"101 chars", strings.Repeat("a", 101), "", true},
		{"empty string", "", "", true},
		{"whitespace only", "   ", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ValidateNameRequired(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateNameRequired(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrNameLength) {
				t.Errorf("ValidateNameRequired(%q) error = %v, want ErrNameLength", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ValidateNameRequired(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestValidatePosition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   *int
		wantErr bool
	}{
		{"nil is valid", nil, false},
		{"zero", ptr(0), false},
		{"positive", ptr(42), false},
		{"negative one", ptr(-1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := ValidatePosition(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePosition() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidatePermissions(t *testing.T) {
	t.Parallel()

	all := protocol.AllPermissions

	tests := []struct {
		name    string
		input   *protocol.Permission
		wantErr bool
	}{
		{"nil is valid", nil, false},
		{"zero", ptr(protocol.Permission(0)), false},
		{"all permissions", ptr(all), false},
		{"single valid bit", ptr(protocol.PermissionViewChannels), false},
		{"combined valid bits", ptr(protocol.PermissionViewChannels | protocol.PermissionSendMessages), false},
		{"bit above all permissions", ptr(all + 1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := ValidatePermissions(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePermissions() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidPermissions) {
				t.Errorf("ValidatePermissions() error = %v, want ErrInvalidPermissions", err)
			}
		})
	}
}

func TestValidateColor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   *int
		wantErr bool
	}{
		{"nil is valid", nil, false},
		{"zero", ptr(0), false},
		{"max RGB", ptr(0xFFFFFF), false},
		{"one over max", ptr(0xFFFFFF + 1), true},
		{"negative", ptr(-1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := ValidateColor(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateColor() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestResolveUnionsHeldRoles(t *testing.T) {
	t.Parallel()

	everyone := Role{ID: 1, GuildID: 1, Permissions: protocol.PermissionViewChannels}
	mod := Role{ID: 2, GuildID: 1, Permissions: protocol.PermissionManageMessages}
	unused := Role{ID: 3, GuildID: 1, Permissions: protocol.PermissionBanMembers}

	held := map[snowflake.ID]struct{}{1: {}, 2: {}}
	got := Resolve([]Role{everyone, mod, unused}, held)

	if !got.Has(protocol.PermissionViewChannels) || !got.Has(protocol.PermissionManageMessages) {
		t.Errorf("Resolve() = %v, missing expected bits", got)
	}
	if got.Has(protocol.PermissionBanMembers) {
		t.Errorf("Resolve() = %v, included a role the member doesn't hold", got)
	}
}

func TestResolveAdministratorGrantsAll(t *testing.T) {
	t.Parallel()

	admin := Role{ID: 1, GuildID: 1, Permissions: protocol.PermissionAdministrator}
	held := map[snowflake.ID]struct{}{1: {}}

	got := Resolve([]Role{admin}, held)
	if got != protocol.AllPermissions {
		t.Errorf("Resolve() with administrator = %v, want AllPermissions", got)
	}
}

func TestServiceCreateEveryoneAndDeleteImmutable(t *testing.T) {
	t.Parallel()

	repo := storetest.New()
	svc := NewService(repo)
	ctx := context.Background()

	everyone, err := svc.CreateEveryone(ctx, 100)
	if err != nil {
		t.Fatalf("CreateEveryone() error: %v", err)
	}
	if !everyone.IsEveryone() {
		t.Error("expected IsEveryone() to be true for the created role")
	}

	if err := svc.Delete(ctx, everyone.ID); !errors.Is(err, ErrEveryoneImmutable) {
		t.Errorf("Delete(@everyone) error = %v, want ErrEveryoneImmutable", err)
	}
}

func TestServiceCreateAndListByGuild(t *testing.T) {
	t.Parallel()

	repo := storetest.New()
	svc := NewService(repo)
	ctx := context.Background()

	if _, err := svc.CreateEveryone(ctx, 100); err != nil {
		t.Fatalf("CreateEveryone() error: %v", err)
	}
	if _, err := svc.Create(ctx, Role{ID: 2, GuildID: 100, Name: "Moderator"}); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	roles, err := svc.ListByGuild(ctx, 100)
	if err != nil {
		t.Fatalf("ListByGuild() error: %v", err)
	}
	if len(roles) != 2 {
		t.Errorf("ListByGuild() returned %d roles, want 2", len(roles))
	}
}

func ptr[T any](v T) *T { return &v }
