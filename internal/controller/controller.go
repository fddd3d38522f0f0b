package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/livecap/livecap/internal/capture"
	"github.com/livecap/livecap/internal/overlay"
	"github.com/livecap/livecap/internal/pipeline"
	"github.com/livecap/livecap/internal/session"
	"github.com/livecap/livecap/internal/translation"
	"github.com/livecap/livecap/internal/websocket"
	"github.com/livecap/livecap/pkg/logger"
)

// State is the controller-wide session state.
type State string

const (
	StateIdle        State = "idle"
	StateListening   State = "listening"
	StateTranslating State = "translating"
)

// Settings keys persisted across restarts.
const (
	SettingInputLang  = "input_lang"
	SettingOutputLang = "output_lang"
	SettingIsActive   = "is_active"
)

// SettingsStore persists key-value settings.
type SettingsStore interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
}

// Event is the uniform internal event union consumed by the dispatch loop.
// Capture, translation, command and pointer events all funnel through one
// channel so the whole state machine runs on a single goroutine and can be
// driven by synthetic events in tests.
type Event interface {
	isEvent()
}

// CommandKind identifies a command event.
type CommandKind string

const (
	CommandStart CommandKind = "start"
	CommandStop  CommandKind = "stop"
)

// CommandEvent is a start/stop command from the settings UI (or the resume
// path at boot). Reply, when set, receives the acknowledgment directly in
// addition to the broadcast status update.
type CommandEvent struct {
	Kind   CommandKind
	Config session.RecognitionConfig
	Reply  *websocket.Client
}

func (CommandEvent) isEvent() {}

// PointerKind identifies an overlay interaction event.
type PointerKind string

const (
	PointerDown   PointerKind = "down"
	PointerMove   PointerKind = "move"
	PointerUp     PointerKind = "up"
	PointerToggle PointerKind = "toggle"
	PointerView   PointerKind = "viewport"
)

// PointerEvent is an overlay interaction forwarded from a UI client.
type PointerEvent struct {
	Kind   PointerKind
	X, Y   float64
	Width  float64
	Height float64
}

func (PointerEvent) isEvent() {}

// CaptureEvent wraps a normalized session event.
type CaptureEvent struct {
	Event session.Event
}

func (CaptureEvent) isEvent() {}

// TranslationEvent wraps a completed translation call.
type TranslationEvent struct {
	Event pipeline.ResultEvent
}

func (TranslationEvent) isEvent() {}

// SnapshotRequestEvent asks for the current overlay state on behalf of a
// late-joining client.
type SnapshotRequestEvent struct {
	Client *websocket.Client
}

func (SnapshotRequestEvent) isEvent() {}

// Status is the externally visible controller state.
type Status struct {
	State         State  `json:"state"`
	Active        bool   `json:"active"`
	SessionID     string `json:"session_id,omitempty"`
	InputLang     string `json:"input_lang,omitempty"`
	OutputLang    string `json:"output_lang,omitempty"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// Config holds controller construction settings.
type Config struct {
	Overlay overlay.Config
}

// Controller is the transcription-to-overlay state machine. It is
// constructed once at process start and torn down deterministically; all
// mutation happens on the dispatch loop goroutine.
type Controller struct {
	sessions   *session.Manager
	translator translation.Translator
	wsServer   *websocket.Server
	settings   SettingsStore
	cfg        Config
	logger     *logger.Logger

	events chan Event

	// Dispatch-loop-owned state. The mutex only guards the snapshot reads
	// done by Status(); everything is written from the loop goroutine.
	mu       sync.Mutex
	state    State
	overlay  *overlay.Panel // nil when no session is rendering
	pipeline *pipeline.Pipeline
	inflight int

	rootCtx   context.Context
	done      chan struct{}
	startedAt time.Time
}

// New creates a controller.
func New(
	sessions *session.Manager,
	translator translation.Translator,
	wsServer *websocket.Server,
	settings SettingsStore,
	cfg Config,
	log *logger.Logger,
) *Controller {
	return &Controller{
		sessions:   sessions,
		translator: translator,
		wsServer:   wsServer,
		settings:   settings,
		cfg:        cfg,
		logger:     log.Named("controller"),
		events:     make(chan Event, 1024),
		state:      StateIdle,
		done:       make(chan struct{}),
		startedAt:  time.Now(),
	}
}

// Start runs the dispatch loop until ctx is cancelled.
func (c *Controller) Start(ctx context.Context) {
	c.rootCtx = ctx
	go c.run(ctx)
}

// Done is closed when the dispatch loop has exited.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Dispatch enqueues an event for the dispatch loop.
func (c *Controller) Dispatch(ev Event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

// Status returns a snapshot of the controller state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{
		State:         c.state,
		Active:        c.sessions.Active(),
		UptimeSeconds: int64(time.Since(c.startedAt).Seconds()),
	}
	if st.Active {
		st.SessionID = c.sessions.SessionID()
		cfg := c.sessions.Config()
		st.InputLang = cfg.InputLang
		st.OutputLang = cfg.OutputLang
	}
	return st
}

// ResumeFromSettings re-enters an active session persisted by a previous
// run. Called once at boot.
func (c *Controller) ResumeFromSettings() {
	active, _, err := c.settings.Get(SettingIsActive)
	if err != nil {
		c.logger.Warn("Failed to read persisted active flag", logger.Error(err))
		return
	}
	if active != "true" {
		return
	}
	cfg := c.persistedLangs()
	c.logger.Info("Resuming recognition session from persisted settings",
		logger.String("input_lang", cfg.InputLang),
		logger.String("output_lang", cfg.OutputLang))
	c.Dispatch(CommandEvent{Kind: CommandStart, Config: cfg})
}

func (c *Controller) run(ctx context.Context) {
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			// Process shutdown keeps is_active untouched so the next boot can
			// resume the session.
			c.stopSession(false)
			return
		case ev := <-c.events:
			c.handleEvent(ev)
		case sev := <-c.sessions.Events():
			c.handleEvent(CaptureEvent{Event: sev})
		}
	}
}

// handleEvent processes one event. Only ever called from the dispatch loop
// (tests call it directly, which is equivalent).
func (c *Controller) handleEvent(ev Event) {
	switch e := ev.(type) {
	case CommandEvent:
		c.handleCommand(e)
	case CaptureEvent:
		c.handleCapture(e.Event)
	case TranslationEvent:
		c.handleTranslation(e.Event)
	case PointerEvent:
		c.handlePointer(e)
	case SnapshotRequestEvent:
		c.handleSnapshotRequest(e.Client)
	}
}

func (c *Controller) handleCommand(cmd CommandEvent) {
	switch cmd.Kind {
	case CommandStart:
		c.startSession(cmd)
	case CommandStop:
		c.stopSession(true)
		c.acknowledge(cmd.Reply)
		c.broadcastStatus("Recognition stopped")
	default:
		c.replyError(cmd.Reply, fmt.Sprintf("unknown command: %s", cmd.Kind))
	}
}

func (c *Controller) startSession(cmd CommandEvent) {
	if c.sessions.Active() {
		c.acknowledge(cmd.Reply)
		c.broadcastStatus("Recognition already active")
		return
	}

	cfg := cmd.Config
	if cfg.InputLang == "" || cfg.OutputLang == "" {
		persisted := c.persistedLangs()
		if cfg.InputLang == "" {
			cfg.InputLang = persisted.InputLang
		}
		if cfg.OutputLang == "" {
			cfg.OutputLang = persisted.OutputLang
		}
	}

	// The overlay exists for exactly as long as the session; created before
	// capture starts so the first result always has a panel to land on.
	panel := overlay.NewPanel(c.cfg.Overlay, c.wsServer, c.logger)

	if err := c.sessions.Start(cfg); err != nil {
		panel.Remove()
		msg := fmt.Sprintf("Failed to start recognition: %v", err)
		if errors.Is(err, capture.ErrUnsupported) {
			msg = "Speech recognition is not supported on this host"
		}
		c.logger.Error("Session start failed", logger.Error(err))
		c.replyError(cmd.Reply, msg)
		c.broadcastError(msg)
		return
	}

	c.mu.Lock()
	c.overlay = panel
	c.pipeline = pipeline.New(c.translator, cfg, func(rev pipeline.ResultEvent) {
		c.Dispatch(TranslationEvent{Event: rev})
	}, c.logger)
	c.inflight = 0
	c.state = StateListening
	c.mu.Unlock()

	c.persist(SettingInputLang, cfg.InputLang)
	c.persist(SettingOutputLang, cfg.OutputLang)
	c.persist(SettingIsActive, "true")

	c.acknowledge(cmd.Reply)
	c.broadcastStatus("Listening")
}

// stopSession tears down the session, the overlay and the pipeline.
// Idempotent. In-flight translation calls are not cancelled; their late
// completions are dropped because the overlay is gone by then.
func (c *Controller) stopSession(persist bool) {
	c.sessions.Stop()

	c.mu.Lock()
	if c.overlay != nil {
		c.overlay.Remove()
		c.overlay = nil
	}
	c.pipeline = nil
	c.inflight = 0
	c.state = StateIdle
	c.mu.Unlock()

	if persist {
		c.persist(SettingIsActive, "false")
	}
}

func (c *Controller) handleCapture(ev session.Event) {
	switch ev.Type {
	case session.EventTranscript:
		c.mu.Lock()
		pl := c.pipeline
		c.mu.Unlock()
		if pl == nil || !c.sessions.Active() {
			return
		}
		if pl.Submit(c.rootCtx, ev.Unit) {
			c.mu.Lock()
			c.inflight++
			c.state = StateTranslating
			c.mu.Unlock()
		}

	case session.EventFatal:
		// The manager already released the engine; drop the overlay and
		// surface the error to the UI.
		c.stopSession(true)
		msg := fmt.Sprintf("Speech recognition error: %s", ev.Code)
		if ev.Message != "" {
			msg = fmt.Sprintf("Speech recognition error: %s (%s)", ev.Code, ev.Message)
		}
		c.broadcastError(msg)
		c.broadcastStatus("Recognition stopped")

	case session.EventEnded:
		// Unexpected natural end: full cleanup, status update, but no error
		// and no duplicate stop command upstream.
		c.stopSession(true)
		c.broadcastStatus("Recognition ended")
	}
}

func (c *Controller) handleTranslation(ev pipeline.ResultEvent) {
	c.mu.Lock()
	if c.inflight > 0 {
		c.inflight--
	}
	if c.inflight == 0 && c.state == StateTranslating {
		c.state = StateListening
	}
	panel := c.overlay
	c.mu.Unlock()

	if ev.Err != nil {
		// A transport that produced no response at all means the far side is
		// gone; force-stop the session quietly. Anything else is a transient
		// hiccup and is absorbed without interrupting the subtitle flow.
		if errors.Is(ev.Err, translation.ErrNoResponse) && c.sessions.Active() {
			c.logger.Warn("Translation transport unavailable, stopping session", logger.Error(ev.Err))
			c.stopSession(true)
			c.broadcastStatus("Recognition stopped")
		}
		return
	}
	if ev.Result == nil {
		return
	}
	if panel == nil || !c.sessions.Active() {
		// Late completion after stop.
		return
	}

	panel.Display(ev.Result.TranslatedText, ev.Result.OriginalText, ev.IsFinal, ev.Seq)
}

func (c *Controller) handlePointer(ev PointerEvent) {
	c.mu.Lock()
	panel := c.overlay
	c.mu.Unlock()
	if panel == nil {
		return
	}
	switch ev.Kind {
	case PointerDown:
		panel.PointerDown(ev.X, ev.Y)
	case PointerMove:
		panel.PointerMove(ev.X, ev.Y)
	case PointerUp:
		panel.PointerUp()
	case PointerToggle:
		panel.ToggleCompact()
	case PointerView:
		panel.SetViewport(ev.Width, ev.Height)
	}
}

func (c *Controller) handleSnapshotRequest(client *websocket.Client) {
	c.mu.Lock()
	panel := c.overlay
	c.mu.Unlock()

	if client == nil {
		return
	}
	if panel == nil {
		client.SendMessage(&websocket.Message{
			Type: websocket.MessageTypeOverlayRemoved,
			Data: map[string]any{},
		})
		return
	}
	client.SendMessage(&websocket.Message{
		Type: websocket.MessageTypeOverlayUpdate,
		Data: map[string]any{"panel": panel.Snapshot()},
	})
}

func (c *Controller) persistedLangs() session.RecognitionConfig {
	cfg := session.RecognitionConfig{InputLang: "en-US", OutputLang: "es"}
	if v, ok, err := c.settings.Get(SettingInputLang); err == nil && ok && v != "" {
		cfg.InputLang = v
	}
	if v, ok, err := c.settings.Get(SettingOutputLang); err == nil && ok && v != "" {
		cfg.OutputLang = v
	}
	return cfg
}

func (c *Controller) persist(key, value string) {
	if err := c.settings.Set(key, value); err != nil {
		c.logger.Warn("Failed to persist setting",
			logger.String("key", key),
			logger.Error(err))
	}
}

func (c *Controller) statusMessage(text string) *websocket.Message {
	return &websocket.Message{
		Type: websocket.MessageTypeStatusUpdate,
		Data: map[string]any{
			"status":    text,
			"is_active": c.sessions.Active(),
		},
	}
}

// acknowledge answers the commanding client so the UI never blocks waiting.
func (c *Controller) acknowledge(client *websocket.Client) {
	if client == nil {
		return
	}
	client.SendMessage(c.statusMessage(statusText(c.Status().State)))
}

func (c *Controller) replyError(client *websocket.Client, msg string) {
	if client == nil {
		return
	}
	client.SendMessage(&websocket.Message{
		Type: websocket.MessageTypeError,
		Data: map[string]any{"error": msg},
	})
}

func (c *Controller) broadcastStatus(text string) {
	c.wsServer.Broadcast(c.statusMessage(text))
}

func (c *Controller) broadcastError(msg string) {
	c.wsServer.Broadcast(&websocket.Message{
		Type: websocket.MessageTypeError,
		Data: map[string]any{"error": msg},
	})
}

func statusText(s State) string {
	switch s {
	case StateListening:
		return "Listening"
	case StateTranslating:
		return "Translating"
	default:
		return "Idle"
	}
}
