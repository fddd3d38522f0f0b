package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/livecap/livecap/internal/capture"
	"github.com/livecap/livecap/internal/config"
	"github.com/livecap/livecap/internal/controller"
	"github.com/livecap/livecap/internal/session"
	"github.com/livecap/livecap/internal/storage/sqlite"
	"github.com/livecap/livecap/internal/translation"
	"github.com/livecap/livecap/internal/websocket"
	"github.com/livecap/livecap/pkg/logger"
)

type noopTranslator struct{}

func (noopTranslator) Translate(ctx context.Context, text, sourceLang, targetLang string) (*translation.Result, error) {
	return nil, nil
}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	log := logger.NewNop()

	cfg := &config.Config{}
	cfg.Server.Port = 8080
	cfg.Recognition.Engine = "stub"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate failed: %v", err)
	}

	settings, err := sqlite.NewSettingsStorage(filepath.Join(t.TempDir(), "settings.db"), log)
	if err != nil {
		t.Fatalf("failed to create settings storage: %v", err)
	}
	t.Cleanup(func() { settings.Close() })

	sessions := session.NewManager(capture.StubFactory(), time.Second, log)
	t.Cleanup(sessions.Stop)
	wsServer := websocket.NewServer(log)
	ctrl := controller.New(sessions, noopTranslator{}, wsServer, settings, controller.Config{}, log)

	return NewRouter(ctrl, settings, wsServer, cfg, log).Routes()
}

func TestGetStatus(t *testing.T) {
	router := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var status controller.Status
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatalf("failed to decode status: %v", err)
	}
	if status.State != controller.StateIdle || status.Active {
		t.Fatalf("expected idle inactive status, got %+v", status)
	}
}

func TestGetSettingsReturnsDefaults(t *testing.T) {
	router := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/settings", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var payload struct {
		InputLang  string `json:"input_lang"`
		OutputLang string `json:"output_lang"`
		IsActive   bool   `json:"is_active"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("failed to decode settings: %v", err)
	}
	if payload.InputLang != "en-US" || payload.OutputLang != "es" || payload.IsActive {
		t.Fatalf("expected configured defaults, got %+v", payload)
	}
}

func TestPutSettingsPersists(t *testing.T) {
	router := newTestRouter(t)

	body := strings.NewReader(`{"input_lang":"fr-FR","output_lang":"de"}`)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/v1/settings", body))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/settings", nil))

	var payload struct {
		InputLang  string `json:"input_lang"`
		OutputLang string `json:"output_lang"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("failed to decode settings: %v", err)
	}
	if payload.InputLang != "fr-FR" || payload.OutputLang != "de" {
		t.Fatalf("expected persisted languages, got %+v", payload)
	}
}

func TestPutSettingsRejectsBadPayload(t *testing.T) {
	router := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/v1/settings", strings.NewReader("not json")))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
