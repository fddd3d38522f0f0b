package pipeline

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/livecap/livecap/internal/session"
	"github.com/livecap/livecap/internal/translation"
	"github.com/livecap/livecap/pkg/logger"
)

// minInterimLength is the shortest trimmed interim transcript worth
// translating; shorter fragments are noise and would only flicker the
// overlay.
const minInterimLength = 5

// ResultEvent is the completion of one translation call. Result is nil when
// the call produced nothing usable; Err is non-nil only for transport-level
// failures (see translation.ErrNoResponse).
type ResultEvent struct {
	Seq     uint64
	IsFinal bool
	Result  *translation.Result
	Err     error
}

// Pipeline gates, translates and dispatches transcript units for one
// session. Translation calls for successive units are independent: they are
// not serialized, and their results complete in network order. Each unit's
// sequence number travels with the result so the renderer can reject stale
// completions.
type Pipeline struct {
	translator translation.Translator
	sourceLang string
	targetLang string
	emit       func(ResultEvent)
	logger     *logger.Logger
}

// New creates a pipeline for one session. The source language is reduced to
// its primary subtag ("en-US" -> "en") because the translation service
// expects bare language codes.
func New(translator translation.Translator, config session.RecognitionConfig, emit func(ResultEvent), log *logger.Logger) *Pipeline {
	return &Pipeline{
		translator: translator,
		sourceLang: translation.PrimarySubtag(config.InputLang),
		targetLang: config.OutputLang,
		emit:       emit,
		logger:     log.Named("pipeline"),
	}
}

// Submit applies the filtering policy to one transcript unit and, when it
// passes, issues an asynchronous translation call. It reports whether a call
// was issued so the caller can track the translating state.
func (p *Pipeline) Submit(ctx context.Context, unit session.TranscriptUnit) bool {
	if !unit.IsFinal && utf8.RuneCountInString(strings.TrimSpace(unit.Transcript)) < minInterimLength {
		p.logger.Debug("Dropping short interim fragment",
			logger.Uint64("seq", unit.Seq),
			logger.Int("length", utf8.RuneCountInString(strings.TrimSpace(unit.Transcript))))
		return false
	}

	go func() {
		result, err := p.translator.Translate(ctx, unit.Transcript, p.sourceLang, p.targetLang)
		if err != nil {
			p.logger.Debug("Translation call failed",
				logger.Uint64("seq", unit.Seq),
				logger.Error(err))
		}
		p.emit(ResultEvent{Seq: unit.Seq, IsFinal: unit.IsFinal, Result: result, Err: err})
	}()

	return true
}
