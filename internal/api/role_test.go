package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v3"

	"github.com/nocturnechat/nocturne-gateway/internal/snowflake"
)

func newRoleApp(svc *testServices, userID snowflake.ID) *fiber.App {
	handler := NewRoleHandler(svc.roles, svc.guilds, svc.authz, svc.hub, svc.ids, testLogger())

	app := fiber.New()
	app.Use(func(c fiber.Ctx) error {
		if userID != 0 {
			c.Locals("userID", userID)
		}
		return c.Next()
	})
	app.Get("/api/guilds/:id/roles", handler.ListRoles)
	app.Post("/api/guilds/:id/roles", handler.CreateRole)
	app.Patch("/api/guilds/:id/roles/:roleID", handler.UpdateRole)
	app.Delete("/api/guilds/:id/roles/:roleID", handler.DeleteRole)
	return app
}

func TestListRolesIncludesEveryone(t *testing.T) {
	t.Parallel()

	svc := newTestServices()
	owner := snowflake.ID(1)
	g := mustCreateGuild(t, svc, owner, "Roles Guild")

	app := newRoleApp(svc, owner)
	req := httptest.NewRequest(http.MethodGet, "/api/guilds/"+g.ID.String()+"/roles", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
}

func TestCreateRoleRequiresManageRoles(t *testing.T) {
	t.Parallel()

	svc := newTestServices()
	owner := snowflake.ID(1)
	intruder := snowflake.ID(2)
	g := mustCreateGuild(t, svc, owner, "Roles Guild")
	mustJoinGuild(t, svc, g, intruder)

	app := newRoleApp(svc, intruder)
	body, _ := json.Marshal(map[string]any{"name": "new role"})
	req := httptest.NewRequest(http.MethodPost, "/api/guilds/"+g.ID.String()+"/roles", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusForbidden)
	}
}

func TestCreateRoleByOwner(t *testing.T) {
	t.Parallel()

	svc := newTestServices()
	owner := snowflake.ID(1)
	g := mustCreateGuild(t, svc, owner, "Roles Guild")

	app := newRoleApp(svc, owner)
	body, _ := json.Marshal(map[string]any{"name": "moderator", "color": 0xff0000, "hoist": true})
	req := httptest.NewRequest(http.MethodPost, "/api/guilds/"+g.ID.String()+"/roles", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusCreated {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusCreated)
	}

	updated, err := svc.guilds.GetByID(t.Context(), g.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if len(updated.RoleIDs) != 2 {
		t.Errorf("RoleIDs len = %d, want 2 (everyone + created)", len(updated.RoleIDs))
	}
}

func TestUpdateRoleCannotRenameEveryone(t *testing.T) {
	t.Parallel()

	svc := newTestServices()
	owner := snowflake.ID(1)
	g := mustCreateGuild(t, svc, owner, "Roles Guild")

	roles, err := svc.roles.ListByGuild(t.Context(), g.ID)
	if err != nil {
		t.Fatalf("ListByGuild() error = %v", err)
	}
	var everyoneID snowflake.ID
	for _, r := range roles {
		if r.IsEveryone() {
			everyoneID = r.ID
		}
	}

	app := newRoleApp(svc, owner)
	body, _ := json.Marshal(map[string]any{"name": "renamed"})
	req := httptest.NewRequest(http.MethodPatch, "/api/guilds/"+g.ID.String()+"/roles/"+everyoneID.String(), bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusForbidden)
	}
}

func TestDeleteRoleCannotDeleteEveryone(t *testing.T) {
	t.Parallel()

	svc := newTestServices()
	owner := snowflake.ID(1)
	g := mustCreateGuild(t, svc, owner, "Roles Guild")

	roles, err := svc.roles.ListByGuild(t.Context(), g.ID)
	if err != nil {
		t.Fatalf("ListByGuild() error = %v", err)
	}
	var everyoneID snowflake.ID
	for _, r := range roles {
		if r.IsEveryone() {
			everyoneID = r.ID
		}
	}

	app := newRoleApp(svc, owner)
	req := httptest.NewRequest(http.MethodDelete, "/api/guilds/"+g.ID.String()+"/roles/"+everyoneID.String(), nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusForbidden)
	}
}
