package capture

import (
	"errors"
	"fmt"

	"github.com/livecap/livecap/pkg/logger"
)

// ErrUnsupported is returned by a Factory when the host has no usable
// speech-capture capability (no engine configured, missing model, no device).
var ErrUnsupported = errors.New("speech capture is not supported on this host")

// ErrorCode identifies a capture engine error condition. The codes mirror
// the conditions speech engines commonly report; the session manager
// classifies them into recoverable and fatal.
type ErrorCode string

const (
	ErrorNoSpeech     ErrorCode = "no-speech"     // no utterance detected before the engine gave up
	ErrorAborted      ErrorCode = "aborted"       // capture was aborted by the engine
	ErrorAudioCapture ErrorCode = "audio-capture" // microphone/device failure
	ErrorNotAllowed   ErrorCode = "not-allowed"   // permission denied
	ErrorNetwork      ErrorCode = "network"       // engine-side network failure
)

// Recoverable reports whether the session manager may silently restart the
// engine after this error. Everything not listed here is fatal.
func (c ErrorCode) Recoverable() bool {
	return c == ErrorNoSpeech || c == ErrorAborted
}

// Config configures one capture run.
type Config struct {
	Lang            string // BCP-47 tag, e.g. "en-US"
	Continuous      bool
	InterimResults  bool
	MaxAlternatives int
}

// Result is a single recognition result slot.
type Result struct {
	Transcript string
	Confidence float64
	IsFinal    bool
}

// EventType identifies the kind of a raw engine event.
type EventType string

const (
	EventStarted EventType = "started"
	EventResult  EventType = "result"
	EventError   EventType = "error"
	EventEnded   EventType = "ended"
)

// Event is a raw event emitted by a capture engine. A result event carries
// an ordered list of slots; later slots supersede earlier ones for the same
// utterance, so consumers normally use only the last slot.
type Event struct {
	Type    EventType
	Results []Result
	Code    ErrorCode
	Message string
}

// Engine is the boundary to a speech-capture implementation. Configure must
// be called before Start. Stop releases the device and closes the event
// channel; the engine may be restarted with Start afterwards.
type Engine interface {
	Configure(cfg Config) error
	Start() error
	Stop()
	Events() <-chan Event
}

// Factory creates an engine, or returns ErrUnsupported when the host cannot
// capture speech at all.
type Factory func(log *logger.Logger) (Engine, error)

// LastResult returns the newest slot of a result event, or false when the
// event carries no slots.
func LastResult(ev Event) (Result, bool) {
	if ev.Type != EventResult || len(ev.Results) == 0 {
		return Result{}, false
	}
	return ev.Results[len(ev.Results)-1], true
}

// ValidateConfig checks the fields every engine requires.
func ValidateConfig(cfg Config) error {
	if cfg.Lang == "" {
		return fmt.Errorf("capture config requires a language")
	}
	if cfg.MaxAlternatives < 1 {
		return fmt.Errorf("capture config requires max_alternatives >= 1, got %d", cfg.MaxAlternatives)
	}
	return nil
}
