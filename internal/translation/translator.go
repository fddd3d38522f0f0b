package translation

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrNoResponse indicates the translation transport produced no response at
// all (connection failure, torn-down endpoint). Callers treat this as a
// signal to stop the session rather than a user-visible error.
var ErrNoResponse = errors.New("translation service produced no response")

// Result is one successful translation.
type Result struct {
	OriginalText   string    `json:"original_text"`
	TranslatedText string    `json:"translated_text"`
	SourceLang     string    `json:"source_lang"`
	TargetLang     string    `json:"target_lang"`
	Timestamp      time.Time `json:"timestamp"`
}

// Translator converts text between languages. A (nil, nil) return means the
// service answered but no translation could be extracted; that is a normal,
// silently skippable outcome, not a failure.
type Translator interface {
	Translate(ctx context.Context, text, sourceLang, targetLang string) (*Result, error)
}

// PrimarySubtag extracts the language subtag preceding the first region or
// script separator: "en-US" -> "en", "zh_Hant" -> "zh", "es" -> "es".
func PrimarySubtag(tag string) string {
	if i := strings.IndexAny(tag, "-_"); i >= 0 {
		return tag[:i]
	}
	return tag
}
