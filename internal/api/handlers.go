package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/livecap/livecap/internal/config"
	"github.com/livecap/livecap/internal/controller"
	"github.com/livecap/livecap/internal/storage/sqlite"
	"github.com/livecap/livecap/internal/websocket"
	"github.com/livecap/livecap/pkg/logger"
)

// Router wires the HTTP surface: status and settings endpoints, the
// websocket upgrade and the static UI files.
type Router struct {
	controller *controller.Controller
	settings   *sqlite.SettingsStorage
	wsServer   *websocket.Server
	config     *config.Config
	logger     *logger.Logger
}

// NewRouter creates a new API router
func NewRouter(
	ctrl *controller.Controller,
	settings *sqlite.SettingsStorage,
	wsServer *websocket.Server,
	cfg *config.Config,
	log *logger.Logger,
) *Router {
	return &Router{
		controller: ctrl,
		settings:   settings,
		wsServer:   wsServer,
		config:     cfg,
		logger:     log.Named("api"),
	}
}

// Routes returns the HTTP handler for all endpoints
func (rt *Router) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", rt.GetStatus)
		r.Get("/settings", rt.GetSettings)
		r.Put("/settings", rt.PutSettings)
	})

	r.Get("/ws", rt.wsServer.HandleConnection)

	if rt.config.Server.StaticFilesDir != "" {
		r.NotFound(NewStaticFileHandler(rt.config.Server.StaticFilesDir, rt.logger).ServeHTTP)
	}

	return r
}

// GetStatus returns the controller session state
func (rt *Router) GetStatus(w http.ResponseWriter, r *http.Request) {
	rt.writeJSON(w, rt.controller.Status())
}

// settingsPayload is the settings API representation.
type settingsPayload struct {
	InputLang  string `json:"input_lang"`
	OutputLang string `json:"output_lang"`
	IsActive   bool   `json:"is_active"`
}

// GetSettings returns the persisted settings, falling back to configured
// defaults for keys never written.
func (rt *Router) GetSettings(w http.ResponseWriter, r *http.Request) {
	payload := settingsPayload{
		InputLang:  rt.config.Recognition.InputLang,
		OutputLang: rt.config.Recognition.OutputLang,
	}
	if v, ok, err := rt.settings.Get(controller.SettingInputLang); err == nil && ok {
		payload.InputLang = v
	}
	if v, ok, err := rt.settings.Get(controller.SettingOutputLang); err == nil && ok {
		payload.OutputLang = v
	}
	if v, ok, err := rt.settings.Get(controller.SettingIsActive); err == nil && ok {
		payload.IsActive = v == "true"
	}
	rt.writeJSON(w, payload)
}

// PutSettings persists language selections from the settings UI. A running
// session keeps its languages; the new values apply from the next start.
func (rt *Router) PutSettings(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		InputLang  string `json:"input_lang"`
		OutputLang string `json:"output_lang"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid settings payload", http.StatusBadRequest)
		return
	}

	if payload.InputLang != "" {
		if err := rt.settings.Set(controller.SettingInputLang, payload.InputLang); err != nil {
			rt.logger.Error("Failed to persist input language", logger.Error(err))
			http.Error(w, "failed to persist settings", http.StatusInternalServerError)
			return
		}
	}
	if payload.OutputLang != "" {
		if err := rt.settings.Set(controller.SettingOutputLang, payload.OutputLang); err != nil {
			rt.logger.Error("Failed to persist output language", logger.Error(err))
			http.Error(w, "failed to persist settings", http.StatusInternalServerError)
			return
		}
	}

	rt.logger.Info("Settings updated",
		logger.String("input_lang", payload.InputLang),
		logger.String("output_lang", payload.OutputLang))

	rt.writeJSON(w, map[string]string{"status": "ok"})
}

func (rt *Router) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		rt.logger.Error("Failed to encode response", logger.Error(err))
	}
}
