package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/livecap/livecap/internal/capture"
	"github.com/livecap/livecap/pkg/logger"
)

// Import logger functions
var (
	String = logger.String
	Error  = logger.Error
)

// RecognitionConfig is immutable for the duration of one session.
type RecognitionConfig struct {
	InputLang  string `json:"input_lang"`
	OutputLang string `json:"output_lang"`
}

// TranscriptUnit is the normalized recognition unit: the newest slot of the
// most recent raw engine result, tagged with a per-session sequence number.
type TranscriptUnit struct {
	Transcript string
	IsFinal    bool
	Seq        uint64
}

// EventType identifies the kind of a normalized session event.
type EventType string

const (
	// EventTranscript carries a normalized transcript unit.
	EventTranscript EventType = "transcript"
	// EventFatal reports an unrecoverable capture error; the session is
	// already torn down when this is delivered.
	EventFatal EventType = "fatal"
	// EventEnded reports that the engine stopped on its own while the
	// session was still active; cleanup has already happened.
	EventEnded EventType = "ended"
)

// Event is a normalized session event consumed by the controller.
type Event struct {
	Type    EventType
	Unit    TranscriptUnit
	Code    capture.ErrorCode
	Message string
}

// Manager owns the lifecycle of one active capture session: it configures
// and starts the engine, normalizes raw engine events, silently restarts the
// engine after recoverable errors, and tears everything down on stop or
// fatal error. The engine handle and the active flag are owned exclusively
// by the manager.
type Manager struct {
	factory      capture.Factory
	restartDelay time.Duration
	logger       *logger.Logger
	events       chan Event

	mu           sync.Mutex
	engine       capture.Engine
	active       bool
	config       RecognitionConfig
	sessionID    string
	seq          uint64
	restartTimer *time.Timer
}

// NewManager creates a session manager. restartDelay is the pause before a
// silent engine restart after a recoverable error (~1s in practice).
func NewManager(factory capture.Factory, restartDelay time.Duration, log *logger.Logger) *Manager {
	if restartDelay <= 0 {
		restartDelay = time.Second
	}
	return &Manager{
		factory:      factory,
		restartDelay: restartDelay,
		logger:       log.Named("session"),
		events:       make(chan Event, 256),
	}
}

// Events returns the normalized event stream. The channel persists across
// start/stop cycles.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// Start begins a capture session. It fails with capture.ErrUnsupported
// (wrapped) when the host has no speech-capture capability.
func (m *Manager) Start(config RecognitionConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active {
		return fmt.Errorf("recognition session already active")
	}

	engine, err := m.factory(m.logger)
	if err != nil {
		return fmt.Errorf("failed to create capture engine: %w", err)
	}

	if err := engine.Configure(capture.Config{
		Lang:            config.InputLang,
		Continuous:      true,
		InterimResults:  true,
		MaxAlternatives: 1,
	}); err != nil {
		return fmt.Errorf("failed to configure capture engine: %w", err)
	}

	if err := engine.Start(); err != nil {
		return fmt.Errorf("failed to start capture engine: %w", err)
	}

	m.engine = engine
	m.active = true
	m.config = config
	m.sessionID = uuid.NewString()
	m.seq = 0

	m.logger.Info("Recognition session started",
		String("session_id", m.sessionID),
		String("input_lang", config.InputLang),
		String("output_lang", config.OutputLang))

	go m.pump(engine)
	return nil
}

// Stop ends the session. Idempotent: stopping an inactive manager is a
// no-op. Any pending restart timer is cleared so a fresh Start begins with
// no residual state.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
}

func (m *Manager) stopLocked() {
	if m.restartTimer != nil {
		m.restartTimer.Stop()
		m.restartTimer = nil
	}
	if !m.active {
		return
	}
	m.active = false
	if m.engine != nil {
		m.engine.Stop()
		m.engine = nil
	}
	m.logger.Info("Recognition session stopped", String("session_id", m.sessionID))
}

// Active reports whether a session is currently running.
func (m *Manager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// SessionID returns the identifier of the current (or last) session.
func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

// Config returns the config supplied at the last Start.
func (m *Manager) Config() RecognitionConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.config
}

// pump normalizes raw engine events until the engine's channel closes. Each
// engine start gets its own pump; engine restarts close the old channel and
// spawn a new pump.
func (m *Manager) pump(engine capture.Engine) {
	for ev := range engine.Events() {
		switch ev.Type {
		case capture.EventStarted:
			m.logger.Debug("Capture engine reported start")

		case capture.EventResult:
			slot, ok := capture.LastResult(ev)
			if !ok {
				continue
			}
			m.mu.Lock()
			if !m.active {
				m.mu.Unlock()
				continue
			}
			m.seq++
			unit := TranscriptUnit{Transcript: slot.Transcript, IsFinal: slot.IsFinal, Seq: m.seq}
			m.mu.Unlock()
			m.emit(Event{Type: EventTranscript, Unit: unit})

		case capture.EventError:
			m.handleEngineError(engine, ev)

		case capture.EventEnded:
			m.handleEngineEnd()
		}
	}
}

// handleEngineError applies the error policy: recoverable errors trigger a
// delayed silent restart while the session is active; everything else tears
// the session down and reports upstream.
func (m *Manager) handleEngineError(engine capture.Engine, ev capture.Event) {
	m.mu.Lock()
	if !m.active || m.engine != engine {
		m.mu.Unlock()
		return
	}

	if ev.Code.Recoverable() {
		m.logger.Debug("Recoverable capture error, scheduling restart",
			String("code", string(ev.Code)),
			String("message", ev.Message))
		if m.restartTimer == nil {
			m.restartTimer = time.AfterFunc(m.restartDelay, m.restartEngine)
		}
		m.mu.Unlock()
		return
	}

	m.logger.Error("Fatal capture error",
		String("code", string(ev.Code)),
		String("message", ev.Message))
	m.stopLocked()
	m.mu.Unlock()

	m.emit(Event{Type: EventFatal, Code: ev.Code, Message: ev.Message})
}

// handleEngineEnd covers the engine stopping on its own. While the session
// is marked active this is unexpected: clean up fully, but do not emit a
// duplicate stop upstream — only an ended notification.
func (m *Manager) handleEngineEnd() {
	m.mu.Lock()
	if !m.active {
		m.mu.Unlock()
		return
	}
	m.logger.Warn("Capture engine ended unexpectedly, cleaning up",
		String("session_id", m.sessionID))
	m.stopLocked()
	m.mu.Unlock()

	m.emit(Event{Type: EventEnded})
}

// restartEngine performs the delayed silent restart. Invisible to the user:
// no event is emitted unless the restart itself fails, which is fatal.
func (m *Manager) restartEngine() {
	m.mu.Lock()
	m.restartTimer = nil
	if !m.active || m.engine == nil {
		m.mu.Unlock()
		return
	}
	engine := m.engine
	engine.Stop()
	if err := engine.Start(); err != nil {
		m.logger.Error("Failed to restart capture engine", Error(err))
		m.stopLocked()
		m.mu.Unlock()
		m.emit(Event{Type: EventFatal, Code: capture.ErrorAudioCapture, Message: err.Error()})
		return
	}
	m.logger.Debug("Capture engine restarted after recoverable error")
	m.mu.Unlock()

	go m.pump(engine)
}

func (m *Manager) emit(ev Event) {
	select {
	case m.events <- ev:
	default:
		m.logger.Warn("Session event buffer full, dropping event",
			String("type", string(ev.Type)))
	}
}
