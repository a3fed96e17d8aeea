package auth

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/nocturnechat/nocturne-gateway/internal/snowflake"
)

// fakeValidator is a deterministic TokenValidator stub for middleware tests.
type fakeValidator struct {
	userID snowflake.ID
	err    error
}

func (f fakeValidator) Validate(context.Context, string) (snowflake.ID, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.userID, nil
}

func newTestApp(validator TokenValidator) *fiber.App {
	app := fiber.New()
	app.Use(RequireAuth(validator))
	app.Get("/test", func(c fiber.Ctx) error {
		id, ok := c.Locals("userID").(snowflake.ID)
		if !ok {
			return c.Status(fiber.StatusInternalServerError).SendString("userID not found in locals")
		}
		return c.SendString(id.String())
	})
	return app
}

func readErrorCode(t *testing.T, resp *http.Response) int {
	t.Helper()
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	var body struct {
		Error struct {
			Code int `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(bodyBytes, &body); err != nil {
		t.Fatalf("unmarshal body %q: %v", string(bodyBytes), err)
	}
	return body.Error.Code
}

func TestRequireAuthNoHeader(t *testing.T) {
	t.Parallel()
	app := newTestApp(fakeValidator{userID: 1})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Errorf("status = %d, want %d", resp.StatusCode, fiber.StatusUnauthorized)
	}
}

func TestRequireAuthBadFormat(t *testing.T) {
	t.Parallel()
	app := newTestApp(fakeValidator{userID: 1})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Errorf("status = %d, want %d", resp.StatusCode, fiber.StatusUnauthorized)
	}
}

func TestRequireAuthValidatorError(t *testing.T) {
	t.Parallel()
	app := newTestApp(fakeValidator{err: ErrInvalidToken})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Authorization", "Bearer whatever")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Errorf("status = %d, want %d", resp.StatusCode, fiber.StatusUnauthorized)
	}
	if code := readErrorCode(t, resp); code != 40001 {
		t.Errorf("error code = %d, want 40001", code)
	}
}

func TestRequireAuthValid(t *testing.T) {
	t.Parallel()
	userID := snowflake.ID(123456789)
	app := newTestApp(fakeValidator{userID: userID})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Authorization", "Bearer some-token")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != fiber.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, fiber.StatusOK)
	}

	bodyBytes, _ := io.ReadAll(resp.Body)
	if string(bodyBytes) != userID.String() {
		t.Errorf("body = %q, want %q", string(bodyBytes), userID.String())
	}
}

func TestJWTValidatorEndToEnd(t *testing.T) {
	t.Parallel()
	secret := "test-secret"
	userID := snowflake.ID(123456789)

	tokenStr, err := NewAccessToken(userID, secret, 15*time.Minute, testIssuer)
	if err != nil {
		t.Fatalf("NewAccessToken() error = %v", err)
	}

	validator := NewJWTValidator(secret, testIssuer)
	app := fiber.New()
	app.Use(RequireAuth(validator))
	app.Get("/test", func(c fiber.Ctx) error {
		id, _ := c.Locals("userID").(snowflake.ID)
		return c.SendString(id.String())
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != fiber.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, fiber.StatusOK)
	}
	bodyBytes, _ := io.ReadAll(resp.Body)
	if string(bodyBytes) != userID.String() {
		t.Errorf("body = %q, want %q", string(bodyBytes), userID.String())
	}
}

func TestJWTValidatorExpired(t *testing.T) {
	t.Parallel()
	secret := "test-secret"

	tokenStr, err := NewAccessToken(snowflake.ID(1), secret, -1*time.Second, testIssuer)
	if err != nil {
		t.Fatalf("NewAccessToken() error = %v", err)
	}

	validator := NewJWTValidator(secret, testIssuer)
	if _, err := validator.Validate(context.Background(), tokenStr); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Validate() error = %v, want ErrInvalidToken", err)
	}
}

func TestJWTValidatorWrongSecret(t *testing.T) {
	t.Parallel()
	tokenStr, err := NewAccessToken(snowflake.ID(1), "correct-secret", 15*time.Minute, testIssuer)
	if err != nil {
		t.Fatalf("NewAccessToken() error = %v", err)
	}

	validator := NewJWTValidator("wrong-secret", testIssuer)
	if _, err := validator.Validate(context.Background(), tokenStr); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Validate() error = %v, want ErrInvalidToken", err)
	}
}
