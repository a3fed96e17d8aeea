package api

import (
	"io"
	"testing"

	"github.com/rs/zerolog"

	"github.com/nocturnechat/nocturne-gateway/internal/channel"
	"github.com/nocturnechat/nocturne-gateway/internal/config"
	"github.com/nocturnechat/nocturne-gateway/internal/gateway"
	"github.com/nocturnechat/nocturne-gateway/internal/guild"
	"github.com/nocturnechat/nocturne-gateway/internal/invite"
	"github.com/nocturnechat/nocturne-gateway/internal/member"
	"github.com/nocturnechat/nocturne-gateway/internal/message"
	"github.com/nocturnechat/nocturne-gateway/internal/role"
	"github.com/nocturnechat/nocturne-gateway/internal/snowflake"
	"github.com/nocturnechat/nocturne-gateway/internal/store/storetest"
	"github.com/nocturnechat/nocturne-gateway/internal/user"
)

// testServices bundles the full domain service graph over a single in-memory repository, the
// same dependency order cmd/nocturne-gateway wires in production.
type testServices struct {
	repo     *storetest.Repository
	ids      *snowflake.Generator
	users    *user.Service
	guilds   *guild.Service
	channels *channel.Service
	roles    *role.Service
	members  *member.Service
	messages *message.Service
	invites  *invite.Service
	authz    authorizer
	hub      *gateway.Hub
}

func newTestServices() *testServices {
	repo := storetest.New()
	ids := snowflake.NewGenerator()

	channels := channel.NewService(repo)
	roles := role.NewService(repo)
	guilds := guild.NewService(repo, channels, roles, ids)
	members := member.NewService(repo)
	users := user.NewService(repo)
	messages := message.NewService(repo)
	invites := invite.NewService(repo)

	hub := gateway.NewHub(&config.Config{}, zerolog.New(io.Discard), nil, nil, users, guilds, channels, roles, members)

	return &testServices{
		repo:     repo,
		ids:      ids,
		users:    users,
		guilds:   guilds,
		channels: channels,
		roles:    roles,
		members:  members,
		messages: messages,
		invites:  invites,
		authz:    NewAuthorizer(guilds, roles, members),
		hub:      hub,
	}
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

// mustCreateGuild creates a guild owned by ownerID and adds the owner as a member, mirroring
// what the guild-creation HTTP handler does on top of guild.Service.Create.
func mustCreateGuild(t *testing.T, svc *testServices, ownerID snowflake.ID, name string) *guild.Guild {
	t.Helper()
	g, err := svc.guilds.Create(t.Context(), svc.ids.Next(), ownerID, name)
	if err != nil {
		t.Fatalf("Create() guild error = %v", err)
	}
	if _, err := svc.members.Add(t.Context(), g.ID, ownerID); err != nil {
		t.Fatalf("Add() owner member error = %v", err)
	}
	return g
}

// mustJoinGuild adds userID as a member of g via both the guild and member services.
func mustJoinGuild(t *testing.T, svc *testServices, g *guild.Guild, userID snowflake.ID) {
	t.Helper()
	if _, err := svc.guilds.AddMember(t.Context(), g.ID, userID); err != nil {
		t.Fatalf("AddMember() error = %v", err)
	}
	if _, err := svc.members.Add(t.Context(), g.ID, userID); err != nil {
		t.Fatalf("Add() member error = %v", err)
	}
}
