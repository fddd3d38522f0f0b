package controller

import (
	"github.com/livecap/livecap/internal/session"
	"github.com/livecap/livecap/internal/websocket"
	"github.com/livecap/livecap/pkg/logger"
)

// WebSocketHandler translates inbound UI messages into controller events.
type WebSocketHandler struct {
	controller *Controller
	logger     *logger.Logger
}

// NewWebSocketHandler creates a websocket message handler for the controller.
func NewWebSocketHandler(controller *Controller, log *logger.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		controller: controller,
		logger:     log.Named("controller-ws-handler"),
	}
}

// HandleMessage handles incoming WebSocket messages
func (h *WebSocketHandler) HandleMessage(client *websocket.Client, messageType string, data map[string]any) error {
	switch messageType {
	case websocket.MessageTypeStartRecognition:
		h.controller.Dispatch(CommandEvent{
			Kind:   CommandStart,
			Config: parseRecognitionConfig(data),
			Reply:  client,
		})

	case websocket.MessageTypeStopRecognition:
		h.controller.Dispatch(CommandEvent{Kind: CommandStop, Reply: client})

	case websocket.MessageTypeOverlayBulkRequest:
		h.controller.Dispatch(SnapshotRequestEvent{Client: client})

	case websocket.MessageTypePointerDown:
		x, y := pointerCoords(data)
		h.controller.Dispatch(PointerEvent{Kind: PointerDown, X: x, Y: y})

	case websocket.MessageTypePointerMove:
		x, y := pointerCoords(data)
		h.controller.Dispatch(PointerEvent{Kind: PointerMove, X: x, Y: y})

	case websocket.MessageTypePointerUp:
		h.controller.Dispatch(PointerEvent{Kind: PointerUp})

	case websocket.MessageTypeToggleCompact:
		h.controller.Dispatch(PointerEvent{Kind: PointerToggle})

	case websocket.MessageTypeViewport:
		w, _ := data["width"].(float64)
		ht, _ := data["height"].(float64)
		h.controller.Dispatch(PointerEvent{Kind: PointerView, Width: w, Height: ht})

	default:
		h.logger.Debug("Unhandled message type", logger.String("type", messageType))
	}
	return nil
}

// parseRecognitionConfig extracts the start payload; missing fields fall
// back to persisted settings inside the controller.
func parseRecognitionConfig(data map[string]any) session.RecognitionConfig {
	var cfg session.RecognitionConfig
	raw, ok := data["config"].(map[string]any)
	if !ok {
		return cfg
	}
	if v, ok := raw["input_lang"].(string); ok {
		cfg.InputLang = v
	}
	if v, ok := raw["output_lang"].(string); ok {
		cfg.OutputLang = v
	}
	return cfg
}

func pointerCoords(data map[string]any) (float64, float64) {
	x, _ := data["x"].(float64)
	y, _ := data["y"].(float64)
	return x, y
}
