package controller

import (
	"context"
	"testing"
	"time"

	"github.com/livecap/livecap/internal/capture"
	"github.com/livecap/livecap/internal/overlay"
	"github.com/livecap/livecap/internal/session"
	"github.com/livecap/livecap/internal/translation"
	"github.com/livecap/livecap/internal/websocket"
	"github.com/livecap/livecap/pkg/logger"
)

// fakeSettings is an in-memory SettingsStore.
type fakeSettings struct {
	values map[string]string
}

func newFakeSettings() *fakeSettings {
	return &fakeSettings{values: map[string]string{}}
}

func (s *fakeSettings) Get(key string) (string, bool, error) {
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *fakeSettings) Set(key, value string) error {
	s.values[key] = value
	return nil
}

// fakeTranslator returns a canned translation of the submitted text.
type fakeTranslator struct {
	translate func(text, sourceLang, targetLang string) (*translation.Result, error)
}

func (f *fakeTranslator) Translate(ctx context.Context, text, sourceLang, targetLang string) (*translation.Result, error) {
	return f.translate(text, sourceLang, targetLang)
}

func echoTranslator(prefix string) *fakeTranslator {
	return &fakeTranslator{translate: func(text, sourceLang, targetLang string) (*translation.Result, error) {
		return &translation.Result{
			OriginalText:   text,
			TranslatedText: prefix + text,
			SourceLang:     sourceLang,
			TargetLang:     targetLang,
			Timestamp:      time.Now().UTC(),
		}, nil
	}}
}

type fixture struct {
	ctrl     *Controller
	stub     *capture.StubEngine
	sessions *session.Manager
	settings *fakeSettings
}

func newFixture(t *testing.T, translator translation.Translator) *fixture {
	t.Helper()
	log := logger.NewNop()
	stub := capture.NewStubEngine(log)
	factory := func(l *logger.Logger) (capture.Engine, error) {
		return stub, nil
	}
	sessions := session.NewManager(factory, time.Second, log)
	settings := newFakeSettings()
	ctrl := New(sessions, translator, websocket.NewServer(log), settings, Config{
		Overlay: overlay.Config{
			ViewportWidth:  1920,
			ViewportHeight: 1080,
			CompactWidth:   400,
			ExpandedWidth:  800,
			Height:         180,
		},
	}, log)
	ctrl.rootCtx = context.Background()
	t.Cleanup(sessions.Stop)
	return &fixture{ctrl: ctrl, stub: stub, sessions: sessions, settings: settings}
}

// pumpCapture forwards one normalized session event into the controller.
func (f *fixture) pumpCapture(t *testing.T) {
	t.Helper()
	select {
	case ev := <-f.sessions.Events():
		f.ctrl.handleEvent(CaptureEvent{Event: ev})
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for session event")
	}
}

// pumpDispatched forwards one queued controller event (translation
// completions arrive this way) into the dispatcher.
func (f *fixture) pumpDispatched(t *testing.T) {
	t.Helper()
	select {
	case ev := <-f.ctrl.events:
		f.ctrl.handleEvent(ev)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dispatched event")
	}
}

func (f *fixture) start(t *testing.T, cfg session.RecognitionConfig) {
	t.Helper()
	f.ctrl.handleEvent(CommandEvent{Kind: CommandStart, Config: cfg})
	if !f.sessions.Active() {
		t.Fatal("session must be active after start command")
	}
}

func TestStartCommandActivatesSessionAndPersists(t *testing.T) {
	f := newFixture(t, echoTranslator("es:"))

	f.start(t, session.RecognitionConfig{InputLang: "en-US", OutputLang: "es"})

	st := f.ctrl.Status()
	if st.State != StateListening || !st.Active {
		t.Fatalf("expected listening active status, got %+v", st)
	}
	if st.InputLang != "en-US" || st.OutputLang != "es" {
		t.Fatalf("status must carry the session languages, got %+v", st)
	}
	if f.settings.values[SettingIsActive] != "true" {
		t.Fatal("start must persist is_active=true")
	}
	if f.settings.values[SettingInputLang] != "en-US" || f.settings.values[SettingOutputLang] != "es" {
		t.Fatalf("start must persist the languages, got %v", f.settings.values)
	}
	if f.ctrl.overlay == nil {
		t.Fatal("start must create the overlay panel")
	}
}

func TestStartCommandFallsBackToPersistedLanguages(t *testing.T) {
	f := newFixture(t, echoTranslator("es:"))
	f.settings.values[SettingInputLang] = "fr-FR"
	f.settings.values[SettingOutputLang] = "de"

	f.start(t, session.RecognitionConfig{})

	cfg := f.sessions.Config()
	if cfg.InputLang != "fr-FR" || cfg.OutputLang != "de" {
		t.Fatalf("expected persisted languages, got %+v", cfg)
	}
}

func TestStartWhileActiveIsIgnored(t *testing.T) {
	f := newFixture(t, echoTranslator("es:"))
	f.start(t, session.RecognitionConfig{InputLang: "en-US", OutputLang: "es"})
	firstID := f.sessions.SessionID()

	f.ctrl.handleEvent(CommandEvent{Kind: CommandStart, Config: session.RecognitionConfig{InputLang: "ja-JP", OutputLang: "en"}})

	if f.sessions.SessionID() != firstID {
		t.Fatal("start while active must not replace the session")
	}
}

func TestUnsupportedHostReportsAndStaysIdle(t *testing.T) {
	log := logger.NewNop()
	factory := func(l *logger.Logger) (capture.Engine, error) {
		return nil, capture.ErrUnsupported
	}
	sessions := session.NewManager(factory, time.Second, log)
	settings := newFakeSettings()
	ctrl := New(sessions, echoTranslator("es:"), websocket.NewServer(log), settings, Config{}, log)

	ctrl.handleEvent(CommandEvent{Kind: CommandStart, Config: session.RecognitionConfig{InputLang: "en-US", OutputLang: "es"}})

	if st := ctrl.Status(); st.State != StateIdle || st.Active {
		t.Fatalf("expected idle status, got %+v", st)
	}
	if ctrl.overlay != nil {
		t.Fatal("failed start must not leave an overlay behind")
	}
	if settings.values[SettingIsActive] == "true" {
		t.Fatal("failed start must not persist an active flag")
	}
}

func TestTranscriptFlowsToOverlay(t *testing.T) {
	f := newFixture(t, echoTranslator("es:"))
	f.start(t, session.RecognitionConfig{InputLang: "en-US", OutputLang: "es"})

	f.stub.EmitResult(capture.Result{Transcript: "Hello there", IsFinal: false})
	f.pumpCapture(t)

	if st := f.ctrl.Status(); st.State != StateTranslating {
		t.Fatalf("expected translating state while a call is in flight, got %s", st.State)
	}

	f.pumpDispatched(t) // translation completion

	snap := f.ctrl.overlay.Snapshot()
	if snap.Live == nil || snap.Live.Translated != "es:Hello there" {
		t.Fatalf("expected live block with translation, got %+v", snap.Live)
	}
	if len(snap.History) != 0 {
		t.Fatal("interim result must not reach history")
	}
	if st := f.ctrl.Status(); st.State != StateListening {
		t.Fatalf("expected listening state after completion, got %s", st.State)
	}

	f.stub.EmitResult(capture.Result{Transcript: "Hello there", IsFinal: true})
	f.pumpCapture(t)
	f.pumpDispatched(t)

	snap = f.ctrl.overlay.Snapshot()
	if len(snap.History) != 1 || snap.History[0].Translated != "es:Hello there" {
		t.Fatalf("expected one history entry, got %+v", snap.History)
	}
}

func TestDuplicateFinalsCommitOnce(t *testing.T) {
	f := newFixture(t, echoTranslator("es:"))
	f.start(t, session.RecognitionConfig{InputLang: "en-US", OutputLang: "es"})

	for i := 0; i < 2; i++ {
		f.stub.EmitResult(capture.Result{Transcript: "Hello there", IsFinal: true})
		f.pumpCapture(t)
		f.pumpDispatched(t)
	}

	if snap := f.ctrl.overlay.Snapshot(); len(snap.History) != 1 {
		t.Fatalf("duplicate finals must commit once, got %d entries", len(snap.History))
	}
}

func TestShortInterimFragmentsAreDropped(t *testing.T) {
	f := newFixture(t, echoTranslator("es:"))
	f.start(t, session.RecognitionConfig{InputLang: "en-US", OutputLang: "es"})

	f.stub.EmitResult(capture.Result{Transcript: "hi", IsFinal: false})
	f.pumpCapture(t)

	if st := f.ctrl.Status(); st.State != StateListening {
		t.Fatalf("dropped fragment must not enter translating state, got %s", st.State)
	}
	if snap := f.ctrl.overlay.Snapshot(); snap.Live != nil {
		t.Fatalf("dropped fragment must not render, got %+v", snap.Live)
	}
}

func TestStopCommandTearsDownAndPersists(t *testing.T) {
	f := newFixture(t, echoTranslator("es:"))
	f.start(t, session.RecognitionConfig{InputLang: "en-US", OutputLang: "es"})

	f.ctrl.handleEvent(CommandEvent{Kind: CommandStop})

	if f.sessions.Active() {
		t.Fatal("stop must deactivate the session")
	}
	if f.ctrl.overlay != nil {
		t.Fatal("stop must remove the overlay")
	}
	if f.settings.values[SettingIsActive] != "false" {
		t.Fatal("stop must persist is_active=false")
	}
	if st := f.ctrl.Status(); st.State != StateIdle {
		t.Fatalf("expected idle state after stop, got %s", st.State)
	}

	// Stop is idempotent.
	f.ctrl.handleEvent(CommandEvent{Kind: CommandStop})
}

func TestFatalCaptureErrorStopsSession(t *testing.T) {
	f := newFixture(t, echoTranslator("es:"))
	f.start(t, session.RecognitionConfig{InputLang: "en-US", OutputLang: "es"})

	f.stub.EmitError(capture.ErrorNotAllowed, "permission denied")
	f.pumpCapture(t)

	if f.sessions.Active() {
		t.Fatal("fatal capture error must deactivate the session")
	}
	if f.ctrl.overlay != nil {
		t.Fatal("fatal capture error must remove the overlay")
	}
	if f.settings.values[SettingIsActive] != "false" {
		t.Fatal("fatal capture error must persist is_active=false")
	}
}

func TestUnexpectedEngineEndStopsSession(t *testing.T) {
	f := newFixture(t, echoTranslator("es:"))
	f.start(t, session.RecognitionConfig{InputLang: "en-US", OutputLang: "es"})

	f.stub.EmitEnd()
	f.pumpCapture(t)

	if f.sessions.Active() || f.ctrl.overlay != nil {
		t.Fatal("unexpected engine end must tear the session down")
	}
}

func TestNoResponseFromTranslationForcesStop(t *testing.T) {
	failing := &fakeTranslator{translate: func(text, sourceLang, targetLang string) (*translation.Result, error) {
		return nil, translation.ErrNoResponse
	}}
	f := newFixture(t, failing)
	f.start(t, session.RecognitionConfig{InputLang: "en-US", OutputLang: "es"})

	f.stub.EmitResult(capture.Result{Transcript: "Hello there", IsFinal: true})
	f.pumpCapture(t)
	f.pumpDispatched(t)

	if f.sessions.Active() {
		t.Fatal("unreachable translation service must stop the session")
	}
	if f.ctrl.overlay != nil {
		t.Fatal("forced stop must remove the overlay")
	}
}

func TestSkippableTranslationResultIsDropped(t *testing.T) {
	skipping := &fakeTranslator{translate: func(text, sourceLang, targetLang string) (*translation.Result, error) {
		return nil, nil
	}}
	f := newFixture(t, skipping)
	f.start(t, session.RecognitionConfig{InputLang: "en-US", OutputLang: "es"})

	f.stub.EmitResult(capture.Result{Transcript: "Hello there", IsFinal: true})
	f.pumpCapture(t)
	f.pumpDispatched(t)

	if !f.sessions.Active() {
		t.Fatal("skippable result must not stop the session")
	}
	if snap := f.ctrl.overlay.Snapshot(); snap.Live != nil || len(snap.History) != 0 {
		t.Fatalf("skippable result must not render, got %+v", snap)
	}
}

func TestLateTranslationAfterStopIsDropped(t *testing.T) {
	f := newFixture(t, echoTranslator("es:"))
	f.start(t, session.RecognitionConfig{InputLang: "en-US", OutputLang: "es"})

	f.stub.EmitResult(capture.Result{Transcript: "Hello there", IsFinal: true})
	f.pumpCapture(t)
	f.ctrl.handleEvent(CommandEvent{Kind: CommandStop})

	f.pumpDispatched(t) // completion arrives after the session is gone

	if f.ctrl.overlay != nil {
		t.Fatal("late completion must not resurrect the overlay")
	}
	if st := f.ctrl.Status(); st.State != StateIdle {
		t.Fatalf("expected idle state, got %s", st.State)
	}
}

func TestPointerEventsDriveThePanel(t *testing.T) {
	f := newFixture(t, echoTranslator("es:"))
	f.start(t, session.RecognitionConfig{InputLang: "en-US", OutputLang: "es"})

	f.ctrl.handleEvent(PointerEvent{Kind: PointerDown, X: 10, Y: 10})
	f.ctrl.handleEvent(PointerEvent{Kind: PointerMove, X: 110, Y: 60})
	f.ctrl.handleEvent(PointerEvent{Kind: PointerUp})

	snap := f.ctrl.overlay.Snapshot()
	if snap.X != 100 || snap.Y != 50 {
		t.Fatalf("expected panel at (100, 50), got (%v, %v)", snap.X, snap.Y)
	}

	f.ctrl.handleEvent(PointerEvent{Kind: PointerToggle})
	if snap := f.ctrl.overlay.Snapshot(); !snap.Compact {
		t.Fatal("toggle event must switch to compact mode")
	}

	f.ctrl.handleEvent(PointerEvent{Kind: PointerView, Width: 640, Height: 480})
	if snap := f.ctrl.overlay.Snapshot(); snap.X > 640-snap.Width {
		t.Fatalf("viewport event must reclamp the panel, got %+v", snap)
	}
}

func TestPointerEventsWithoutPanelAreIgnored(t *testing.T) {
	f := newFixture(t, echoTranslator("es:"))

	// Must not panic with no overlay present.
	f.ctrl.handleEvent(PointerEvent{Kind: PointerDown, X: 1, Y: 1})
	f.ctrl.handleEvent(PointerEvent{Kind: PointerMove, X: 2, Y: 2})
	f.ctrl.handleEvent(PointerEvent{Kind: PointerToggle})
}

func TestResumeFromSettingsStartsPersistedSession(t *testing.T) {
	f := newFixture(t, echoTranslator("es:"))
	f.settings.values[SettingIsActive] = "true"
	f.settings.values[SettingInputLang] = "it-IT"
	f.settings.values[SettingOutputLang] = "en"

	f.ctrl.ResumeFromSettings()
	f.pumpDispatched(t) // the queued start command

	if !f.sessions.Active() {
		t.Fatal("resume must start the persisted session")
	}
	cfg := f.sessions.Config()
	if cfg.InputLang != "it-IT" || cfg.OutputLang != "en" {
		t.Fatalf("resume must use the persisted languages, got %+v", cfg)
	}
}

func TestResumeFromSettingsIgnoresInactiveFlag(t *testing.T) {
	f := newFixture(t, echoTranslator("es:"))
	f.settings.values[SettingIsActive] = "false"

	f.ctrl.ResumeFromSettings()

	select {
	case ev := <-f.ctrl.events:
		t.Fatalf("inactive flag must not queue a start, got %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}
