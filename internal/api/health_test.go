package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v3"
)

type fakePinger struct {
	err error
}

func (p fakePinger) Ping(context.Context) error { return p.err }

func getHealth(t *testing.T, handler *HealthHandler) (*http.Response, map[string]any) {
	t.Helper()

	app := fiber.New()
	app.Get("/healthz", handler.Health)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	var env struct {
		Data map[string]any `json:"data"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		t.Fatalf("decoding JSON: %v\nraw: %s", err, body)
	}
	return resp, env.Data
}

func TestHealthBrokerOK(t *testing.T) {
	t.Parallel()

	resp, data := getHealth(t, NewHealthHandler(fakePinger{}))

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if data["status"] != "ok" || data["broker"] != "ok" {
		t.Errorf("data = %v, want ok/ok", data)
	}
}

func TestHealthBrokerUnavailable(t *testing.T) {
	t.Parallel()

	resp, data := getHealth(t, NewHealthHandler(fakePinger{err: errors.New("connection refused")}))

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusServiceUnavailable)
	}
	if data["status"] != "degraded" || data["broker"] != "unavailable" {
		t.Errorf("data = %v, want degraded/unavailable", data)
	}
}

func TestHealthBrokerDisabled(t *testing.T) {
	t.Parallel()

	resp, data := getHealth(t, NewHealthHandler(nil))

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if data["status"] != "ok" || data["broker"] != "disabled" {
		t.Errorf("data = %v, want ok/disabled", data)
	}
}
