package vosk

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	vosk "github.com/alphacep/vosk-api/go"
	"github.com/gen2brain/malgo"

	"github.com/livecap/livecap/internal/capture"
	"github.com/livecap/livecap/pkg/logger"
)

// Config holds the host-level settings for the Vosk capture engine. The
// per-session capture.Config arrives later through Configure.
type Config struct {
	ModelPath    string
	SampleRate   uint32
	Channels     uint32
	BufferFrames uint32
}

// Engine captures microphone audio through malgo and recognizes it with a
// Vosk model, emitting interim (partial) and final results.
type Engine struct {
	hostCfg Config
	cfg     capture.Config
	logger  *logger.Logger

	mu         sync.Mutex
	model      *vosk.VoskModel
	recognizer *vosk.VoskRecognizer
	malgoCtx   *malgo.AllocatedContext
	device     *malgo.Device
	events     chan capture.Event
	running    bool
}

// voskResult is the JSON shape Vosk returns for results and partials.
type voskResult struct {
	Text   string `json:"text"`
	Result []struct {
		Conf  float64 `json:"conf"`
		Word  string  `json:"word"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
	} `json:"result,omitempty"`
	Partial string `json:"partial,omitempty"`
}

// Factory returns a capture.Factory backed by Vosk. The factory reports
// capture.ErrUnsupported when no model is configured or the model directory
// does not exist, which surfaces as the capability-absent error at start.
func Factory(cfg Config) capture.Factory {
	return func(log *logger.Logger) (capture.Engine, error) {
		if cfg.ModelPath == "" {
			return nil, capture.ErrUnsupported
		}
		if _, err := os.Stat(cfg.ModelPath); err != nil {
			return nil, fmt.Errorf("%w: vosk model not found at %s", capture.ErrUnsupported, cfg.ModelPath)
		}
		if cfg.SampleRate == 0 {
			cfg.SampleRate = 16000
		}
		if cfg.Channels == 0 {
			cfg.Channels = 1
		}
		if cfg.BufferFrames == 0 {
			cfg.BufferFrames = 4096
		}
		return &Engine{hostCfg: cfg, logger: log.Named("vosk-engine")}, nil
	}
}

// Configure stores the session capture settings.
func (e *Engine) Configure(cfg capture.Config) error {
	if err := capture.ValidateConfig(cfg); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	// The loaded model dictates the actual recognition language; a mismatch
	// is not an error, only degraded accuracy.
	if primary := primarySubtag(cfg.Lang); primary != "" {
		e.logger.Debug("Configured capture language", logger.String("lang", cfg.Lang), logger.String("primary", primary))
	}
	e.cfg = cfg
	return nil
}

// Start loads the model (once), opens the capture device and begins emitting
// events.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return fmt.Errorf("vosk engine already started")
	}
	if e.cfg.Lang == "" {
		return fmt.Errorf("vosk engine not configured")
	}

	vosk.SetLogLevel(-1)

	if e.model == nil {
		model, err := vosk.NewModel(e.hostCfg.ModelPath)
		if err != nil {
			return fmt.Errorf("failed to load vosk model from %s: %w", e.hostCfg.ModelPath, err)
		}
		e.model = model
	}

	recognizer, err := vosk.NewRecognizer(e.model, float64(e.hostCfg.SampleRate))
	if err != nil {
		return fmt.Errorf("failed to create vosk recognizer: %w", err)
	}
	recognizer.SetWords(1)
	e.recognizer = recognizer

	malgoCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		recognizer.Free()
		e.recognizer = nil
		return fmt.Errorf("failed to initialize audio context: %w", err)
	}
	e.malgoCtx = malgoCtx

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = e.hostCfg.Channels
	deviceConfig.SampleRate = e.hostCfg.SampleRate
	deviceConfig.PeriodSizeInFrames = e.hostCfg.BufferFrames

	e.events = make(chan capture.Event, 64)

	var callbacks malgo.DeviceCallbacks
	callbacks.Data = func(pOutputSample, pInputSamples []byte, framecount uint32) {
		// Copy before handing off; malgo reuses the buffer.
		data := make([]byte, len(pInputSamples))
		copy(data, pInputSamples)
		e.processAudio(data)
	}

	device, err := malgo.InitDevice(malgoCtx.Context, deviceConfig, callbacks)
	if err != nil {
		e.teardownLocked()
		return fmt.Errorf("failed to initialize capture device: %w", err)
	}
	e.device = device

	if err := device.Start(); err != nil {
		device.Uninit()
		e.device = nil
		e.teardownLocked()
		return fmt.Errorf("failed to start capture device: %w", err)
	}

	e.running = true
	e.events <- capture.Event{Type: capture.EventStarted}
	e.logger.Info("Vosk capture started",
		logger.String("model", e.hostCfg.ModelPath),
		logger.String("lang", e.cfg.Lang))
	return nil
}

// Stop releases the device and recognizer and closes the event channel. The
// model stays loaded so a restart skips the expensive reload.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return
	}
	e.running = false

	if e.device != nil {
		if err := e.device.Stop(); err != nil {
			e.logger.Warn("Error stopping capture device", logger.Error(err))
		}
		e.device.Uninit()
		e.device = nil
	}
	e.teardownLocked()
	close(e.events)
	e.logger.Info("Vosk capture stopped")
}

// Events returns the current event channel.
func (e *Engine) Events() <-chan capture.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.events
}

// processAudio feeds PCM into the recognizer and converts its output into
// capture events. Called from the malgo data callback.
func (e *Engine) processAudio(data []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running || e.recognizer == nil {
		return
	}

	state := e.recognizer.AcceptWaveform(data)

	var parsed voskResult
	if state > 0 {
		if err := json.Unmarshal([]byte(e.recognizer.Result()), &parsed); err != nil {
			e.logger.Error("Failed to parse vosk result", logger.Error(err))
			return
		}
		// Silence yields empty finals; not worth an event.
		if strings.TrimSpace(parsed.Text) == "" {
			return
		}
		e.emitLocked(capture.Event{
			Type: capture.EventResult,
			Results: []capture.Result{{
				Transcript: parsed.Text,
				Confidence: averageConfidence(parsed),
				IsFinal:    true,
			}},
		})
		return
	}

	if !e.cfg.InterimResults {
		return
	}
	if err := json.Unmarshal([]byte(e.recognizer.PartialResult()), &parsed); err != nil {
		e.logger.Error("Failed to parse vosk partial result", logger.Error(err))
		return
	}
	if strings.TrimSpace(parsed.Partial) == "" {
		return
	}
	e.emitLocked(capture.Event{
		Type: capture.EventResult,
		Results: []capture.Result{{
			Transcript: parsed.Partial,
			IsFinal:    false,
		}},
	})
}

func (e *Engine) emitLocked(ev capture.Event) {
	select {
	case e.events <- ev:
	default:
		e.logger.Warn("Capture event buffer full, dropping event",
			logger.String("type", string(ev.Type)))
	}
}

// teardownLocked frees the recognizer and audio context. Caller holds e.mu.
func (e *Engine) teardownLocked() {
	if e.recognizer != nil {
		e.recognizer.Free()
		e.recognizer = nil
	}
	if e.malgoCtx != nil {
		e.malgoCtx.Uninit()
		e.malgoCtx.Free()
		e.malgoCtx = nil
	}
}

// averageConfidence averages per-word confidences from a final result.
func averageConfidence(result voskResult) float64 {
	if len(result.Result) == 0 {
		return 0.0
	}
	var sum float64
	for _, word := range result.Result {
		sum += word.Conf
	}
	return sum / float64(len(result.Result))
}

// primarySubtag extracts the language subtag before the first region or
// script separator ("en-US" -> "en").
func primarySubtag(tag string) string {
	if i := strings.IndexAny(tag, "-_"); i >= 0 {
		return tag[:i]
	}
	return tag
}
