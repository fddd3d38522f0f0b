package translation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/livecap/livecap/pkg/logger"
)

// DefaultGoogleEndpoint is the unversioned web translation endpoint.
const DefaultGoogleEndpoint = "https://translate.googleapis.com/translate_a/single"

// GoogleClient translates text through the public Google web endpoint. The
// endpoint is best-effort and unversioned; the response has been observed in
// two shapes over time, both of which are handled here.
type GoogleClient struct {
	endpoint   string
	httpClient *http.Client
	logger     *logger.Logger
}

// NewGoogleClient creates a translation client against the given endpoint
// (empty string selects the default).
func NewGoogleClient(endpoint string, timeoutSeconds int, log *logger.Logger) *GoogleClient {
	if endpoint == "" {
		endpoint = DefaultGoogleEndpoint
	}
	if timeoutSeconds <= 0 {
		timeoutSeconds = 10
	}
	return &GoogleClient{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: time.Duration(timeoutSeconds) * time.Second,
		},
		logger: log.Named("translate-google"),
	}
}

// Translate requests a translation and parses whichever response shape the
// endpoint returns. An answered-but-unparseable response yields (nil, nil).
func (c *GoogleClient) Translate(ctx context.Context, text, sourceLang, targetLang string) (*Result, error) {
	params := url.Values{}
	params.Set("client", "gtx")
	params.Set("sl", sourceLang)
	params.Set("tl", targetLang)
	params.Set("dt", "t")
	params.Set("q", text)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build translation request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoResponse, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("Translation endpoint returned non-OK status",
			logger.Int("status_code", resp.StatusCode),
			logger.String("target_lang", targetLang))
		return nil, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", ErrNoResponse, err)
	}

	translated := parseResponse(body)
	if translated == "" {
		c.logger.Debug("No translation extracted from response",
			logger.Int("body_length", len(body)))
		return nil, nil
	}

	return &Result{
		OriginalText:   text,
		TranslatedText: translated,
		SourceLang:     sourceLang,
		TargetLang:     targetLang,
		Timestamp:      time.Now().UTC(),
	}, nil
}

// parseResponse extracts translated text from either historically-seen
// response shape:
//
//	(a) {"sentences":[{"trans":"..."}, ...]} — concatenate all trans values
//	(b) [[["translated","original",...], ...], ...] — concatenate the first
//	    element of each tuple in the first outer element
func parseResponse(body []byte) string {
	var obj struct {
		Sentences []struct {
			Trans string `json:"trans"`
		} `json:"sentences"`
	}
	if err := json.Unmarshal(body, &obj); err == nil && len(obj.Sentences) > 0 {
		var b strings.Builder
		for _, s := range obj.Sentences {
			b.WriteString(s.Trans)
		}
		if b.Len() > 0 {
			return b.String()
		}
	}

	var arr []any
	if err := json.Unmarshal(body, &arr); err == nil && len(arr) > 0 {
		tuples, ok := arr[0].([]any)
		if !ok {
			return ""
		}
		var b strings.Builder
		for _, t := range tuples {
			tuple, ok := t.([]any)
			if !ok || len(tuple) == 0 {
				continue
			}
			if s, ok := tuple[0].(string); ok {
				b.WriteString(s)
			}
		}
		return b.String()
	}

	return ""
}
