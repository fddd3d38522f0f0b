package controller

import (
	"testing"
	"time"

	"github.com/livecap/livecap/internal/websocket"
	"github.com/livecap/livecap/pkg/logger"
)

func dispatched(t *testing.T, f *fixture) Event {
	t.Helper()
	select {
	case ev := <-f.ctrl.events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dispatched event")
		panic("unreachable")
	}
}

func TestHandleMessageStartCommand(t *testing.T) {
	f := newFixture(t, echoTranslator("es:"))
	h := NewWebSocketHandler(f.ctrl, logger.NewNop())

	err := h.HandleMessage(nil, websocket.MessageTypeStartRecognition, map[string]any{
		"config": map[string]any{
			"input_lang":  "ja-JP",
			"output_lang": "en",
		},
	})
	if err != nil {
		t.Fatalf("handle message failed: %v", err)
	}

	ev := dispatched(t, f)
	cmd, ok := ev.(CommandEvent)
	if !ok || cmd.Kind != CommandStart {
		t.Fatalf("expected start command, got %+v", ev)
	}
	if cmd.Config.InputLang != "ja-JP" || cmd.Config.OutputLang != "en" {
		t.Fatalf("config not parsed: %+v", cmd.Config)
	}
}

func TestHandleMessageStartWithoutConfig(t *testing.T) {
	f := newFixture(t, echoTranslator("es:"))
	h := NewWebSocketHandler(f.ctrl, logger.NewNop())

	if err := h.HandleMessage(nil, websocket.MessageTypeStartRecognition, map[string]any{}); err != nil {
		t.Fatalf("handle message failed: %v", err)
	}

	cmd := dispatched(t, f).(CommandEvent)
	if cmd.Config.InputLang != "" || cmd.Config.OutputLang != "" {
		t.Fatalf("missing config must stay empty for the persisted fallback, got %+v", cmd.Config)
	}
}

func TestHandleMessagePointerEvents(t *testing.T) {
	f := newFixture(t, echoTranslator("es:"))
	h := NewWebSocketHandler(f.ctrl, logger.NewNop())

	h.HandleMessage(nil, websocket.MessageTypePointerDown, map[string]any{"x": 5.0, "y": 6.0})
	ev := dispatched(t, f).(PointerEvent)
	if ev.Kind != PointerDown || ev.X != 5 || ev.Y != 6 {
		t.Fatalf("unexpected pointer event: %+v", ev)
	}

	h.HandleMessage(nil, websocket.MessageTypePointerMove, map[string]any{"x": 7.0, "y": 8.0})
	ev = dispatched(t, f).(PointerEvent)
	if ev.Kind != PointerMove || ev.X != 7 {
		t.Fatalf("unexpected pointer event: %+v", ev)
	}

	h.HandleMessage(nil, websocket.MessageTypePointerUp, map[string]any{})
	if ev = dispatched(t, f).(PointerEvent); ev.Kind != PointerUp {
		t.Fatalf("unexpected pointer event: %+v", ev)
	}

	h.HandleMessage(nil, websocket.MessageTypeToggleCompact, map[string]any{})
	if ev = dispatched(t, f).(PointerEvent); ev.Kind != PointerToggle {
		t.Fatalf("unexpected pointer event: %+v", ev)
	}

	h.HandleMessage(nil, websocket.MessageTypeViewport, map[string]any{"width": 640.0, "height": 480.0})
	ev = dispatched(t, f).(PointerEvent)
	if ev.Kind != PointerView || ev.Width != 640 || ev.Height != 480 {
		t.Fatalf("unexpected viewport event: %+v", ev)
	}
}

func TestHandleMessageStopAndSnapshot(t *testing.T) {
	f := newFixture(t, echoTranslator("es:"))
	h := NewWebSocketHandler(f.ctrl, logger.NewNop())

	h.HandleMessage(nil, websocket.MessageTypeStopRecognition, map[string]any{})
	if cmd := dispatched(t, f).(CommandEvent); cmd.Kind != CommandStop {
		t.Fatalf("expected stop command, got %+v", cmd)
	}

	h.HandleMessage(nil, websocket.MessageTypeOverlayBulkRequest, map[string]any{})
	if _, ok := dispatched(t, f).(SnapshotRequestEvent); !ok {
		t.Fatal("expected snapshot request event")
	}
}

func TestHandleMessageUnknownTypeIsIgnored(t *testing.T) {
	f := newFixture(t, echoTranslator("es:"))
	h := NewWebSocketHandler(f.ctrl, logger.NewNop())

	if err := h.HandleMessage(nil, "bogus", map[string]any{}); err != nil {
		t.Fatalf("unknown type must be ignored, got %v", err)
	}
	select {
	case ev := <-f.ctrl.events:
		t.Fatalf("unknown type must not dispatch, got %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}
