package capture

import (
	"fmt"
	"sync"

	"github.com/livecap/livecap/pkg/logger"
)

// StubEngine is a scriptable in-memory engine. Tests (and the "stub"
// recognition backend) drive it by calling EmitResult, EmitError and EmitEnd;
// it honors the Engine start/stop contract including channel lifecycle.
type StubEngine struct {
	mu      sync.Mutex
	cfg     Config
	events  chan Event
	running bool
	starts  int
	logger  *logger.Logger
}

// NewStubEngine creates a stopped stub engine.
func NewStubEngine(log *logger.Logger) *StubEngine {
	return &StubEngine{logger: log.Named("stub-engine")}
}

// StubFactory returns a Factory producing a fresh stub engine.
func StubFactory() Factory {
	return func(log *logger.Logger) (Engine, error) {
		return NewStubEngine(log), nil
	}
}

// Configure stores the capture configuration.
func (e *StubEngine) Configure(cfg Config) error {
	if err := ValidateConfig(cfg); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg = cfg
	return nil
}

// Start opens the event channel and emits a started event.
func (e *StubEngine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return fmt.Errorf("stub engine already started")
	}
	if e.cfg.Lang == "" {
		return fmt.Errorf("stub engine not configured")
	}
	e.events = make(chan Event, 64)
	e.running = true
	e.starts++
	e.events <- Event{Type: EventStarted}
	return nil
}

// Stop closes the event channel. Safe to call repeatedly.
func (e *StubEngine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return
	}
	e.running = false
	close(e.events)
}

// Events returns the current event channel.
func (e *StubEngine) Events() <-chan Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.events
}

// Starts returns how many times the engine has been started.
func (e *StubEngine) Starts() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.starts
}

// Running reports whether the engine is currently capturing.
func (e *StubEngine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// EmitResult injects a result event carrying the given slots.
func (e *StubEngine) EmitResult(slots ...Result) {
	e.emit(Event{Type: EventResult, Results: slots})
}

// EmitError injects an error event.
func (e *StubEngine) EmitError(code ErrorCode, message string) {
	e.emit(Event{Type: EventError, Code: code, Message: message})
}

// EmitEnd injects a natural-end event without closing the channel; the
// session manager reacts by tearing the session down.
func (e *StubEngine) EmitEnd() {
	e.emit(Event{Type: EventEnded})
}

func (e *StubEngine) emit(ev Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return
	}
	select {
	case e.events <- ev:
	default:
		e.logger.Warn("stub engine event buffer full, dropping event",
			logger.String("type", string(ev.Type)))
	}
}
