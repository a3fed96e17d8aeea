package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v3"

	"github.com/nocturnechat/nocturne-gateway/internal/channel"
	"github.com/nocturnechat/nocturne-gateway/internal/snowflake"
)

func newMessageApp(svc *testServices, userID snowflake.ID) *fiber.App {
	handler := NewMessageHandler(svc.messages, svc.channels, svc.hub, svc.ids, testLogger())

	app := fiber.New()
	app.Use(func(c fiber.Ctx) error {
		if userID != 0 {
			c.Locals("userID", userID)
		}
		return c.Next()
	})
	app.Get("/api/channels/:id/messages", handler.ListMessages)
	app.Post("/api/channels/:id/messages", handler.CreateMessage)
	app.Patch("/api/channels/:id/messages/:messageID", handler.EditMessage)
	app.Delete("/api/channels/:id/messages/:messageID", handler.DeleteMessage)
	app.Post("/api/channels/:id/messages/bulk-delete", handler.BulkDeleteMessages)
	app.Put("/api/channels/:id/messages/:messageID/pin", handler.PinMessage)
	app.Delete("/api/channels/:id/messages/:messageID/pin", handler.UnpinMessage)
	return app
}

func setupMessageChannel(t *testing.T, svc *testServices, owner snowflake.ID) *channel.Text {
	t.Helper()
	g := mustCreateGuild(t, svc, owner, "Messages Guild")
	ch, err := svc.channels.CreateText(t.Context(), channel.NewText(svc.ids.Next(), g.ID, "general"))
	if err != nil {
		t.Fatalf("CreateText() error = %v", err)
	}
	return ch
}

func TestCreateMessageAndList(t *testing.T) {
	t.Parallel()

	svc := newTestServices()
	author := snowflake.ID(1)
	ch := setupMessageChannel(t, svc, author)

	app := newMessageApp(svc, author)
	body, _ := json.Marshal(map[string]any{"content": "hello there"})
	req := httptest.NewRequest(http.MethodPost, "/api/channels/"+ch.ID.String()+"/messages", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want %d", resp.StatusCode, http.StatusCreated)
	}

	listReq := httptest.NewRequest(http.MethodGet, "/api/channels/"+ch.ID.String()+"/messages", nil)
	listResp, err := app.Test(listReq)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	defer func() { _ = listResp.Body.Close() }()
	if listResp.StatusCode != http.StatusOK {
		t.Errorf("list status = %d, want %d", listResp.StatusCode, http.StatusOK)
	}
}

func TestCreateMessageEmptyContentRejected(t *testing.T) {
	t.Parallel()

	svc := newTestServices()
	author := snowflake.ID(1)
	ch := setupMessageChannel(t, svc, author)

	app := newMessageApp(svc, author)
	body, _ := json.Marshal(map[string]any{"content": ""})
	req := httptest.NewRequest(http.MethodPost, "/api/channels/"+ch.ID.String()+"/messages", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
}

func TestEditMessageRequiresAuthor(t *testing.T) {
	t.Parallel()

	svc := newTestServices()
	author := snowflake.ID(1)
	other := snowflake.ID(2)
	ch := setupMessageChannel(t, svc, author)

	app := newMessageApp(svc, author)
	createBody, _ := json.Marshal(map[string]any{"content": "original"})
	createReq := httptest.NewRequest(http.MethodPost, "/api/channels/"+ch.ID.String()+"/messages", bytes.NewReader(createBody))
	createReq.Header.Set("Content-Type", "application/json")
	createResp, err := app.Test(createReq)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	var created struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(createResp.Body).Decode(&created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	_ = createResp.Body.Close()

	otherApp := newMessageApp(svc, other)
	editBody, _ := json.Marshal(map[string]any{"content": "hijacked"})
	editReq := httptest.NewRequest(http.MethodPatch, "/api/channels/"+ch.ID.String()+"/messages/"+created.Data.ID, bytes.NewReader(editBody))
	editReq.Header.Set("Content-Type", "application/json")
	editResp, err := otherApp.Test(editReq)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	defer func() { _ = editResp.Body.Close() }()

	if editResp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want %d", editResp.StatusCode, http.StatusForbidden)
	}
}

func TestPinAndUnpinMessage(t *testing.T) {
	t.Parallel()

	svc := newTestServices()
	author := snowflake.ID(1)
	ch := setupMessageChannel(t, svc, author)

	app := newMessageApp(svc, author)
	createBody, _ := json.Marshal(map[string]any{"content": "pin me"})
	createReq := httptest.NewRequest(http.MethodPost, "/api/channels/"+ch.ID.String()+"/messages", bytes.NewReader(createBody))
	createReq.Header.Set("Content-Type", "application/json")
	createResp, err := app.Test(createReq)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	var created struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(createResp.Body).Decode(&created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	_ = createResp.Body.Close()

	pinReq := httptest.NewRequest(http.MethodPut, "/api/channels/"+ch.ID.String()+"/messages/"+created.Data.ID+"/pin", nil)
	pinResp, err := app.Test(pinReq)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	_ = pinResp.Body.Close()
	if pinResp.StatusCode != http.StatusOK {
		t.Fatalf("pin status = %d, want %d", pinResp.StatusCode, http.StatusOK)
	}

	unpinReq := httptest.NewRequest(http.MethodDelete, "/api/channels/"+ch.ID.String()+"/messages/"+created.Data.ID+"/pin", nil)
	unpinResp, err := app.Test(unpinReq)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	defer func() { _ = unpinResp.Body.Close() }()
	if unpinResp.StatusCode != http.StatusOK {
		t.Errorf("unpin status = %d, want %d", unpinResp.StatusCode, http.StatusOK)
	}
}

func TestBulkDeleteMessages(t *testing.T) {
	t.Parallel()

	svc := newTestServices()
	author := snowflake.ID(1)
	ch := setupMessageChannel(t, svc, author)

	app := newMessageApp(svc, author)
	var ids []string
	for i := 0; i < 3; i++ {
		body, _ := json.Marshal(map[string]any{"content": "msg"})
		req := httptest.NewRequest(http.MethodPost, "/api/channels/"+ch.ID.String()+"/messages", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("app.Test() error = %v", err)
		}
		var created struct {
			Data struct {
				ID string `json:"id"`
			} `json:"data"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
			t.Fatalf("decode create response: %v", err)
		}
		_ = resp.Body.Close()
		ids = append(ids, created.Data.ID)
	}

	bulkBody, _ := json.Marshal(map[string]any{"ids": ids})
	bulkReq := httptest.NewRequest(http.MethodPost, "/api/channels/"+ch.ID.String()+"/messages/bulk-delete", bytes.NewReader(bulkBody))
	bulkReq.Header.Set("Content-Type", "application/json")
	bulkResp, err := app.Test(bulkReq)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	defer func() { _ = bulkResp.Body.Close() }()

	if bulkResp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want %d", bulkResp.StatusCode, http.StatusNoContent)
	}
}
