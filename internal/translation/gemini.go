package translation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/livecap/livecap/pkg/logger"
)

// DefaultGeminiModel is used when no model is configured.
const DefaultGeminiModel = "gemini-2.0-flash"

// GeminiClient translates text with a Gemini model. It is the alternative to
// the web endpoint for deployments that hold an API key.
type GeminiClient struct {
	client *genai.Client
	model  string
	logger *logger.Logger
}

// NewGeminiClient creates a Gemini-backed translator.
func NewGeminiClient(ctx context.Context, apiKey, model string, log *logger.Logger) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini translation requires an API key")
	}
	if model == "" {
		model = DefaultGeminiModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &GeminiClient{
		client: client,
		model:  model,
		logger: log.Named("translate-gemini"),
	}, nil
}

// Translate asks the model for a bare translation. Empty model output yields
// (nil, nil), matching the silently-skippable contract.
func (c *GeminiClient) Translate(ctx context.Context, text, sourceLang, targetLang string) (*Result, error) {
	prompt := fmt.Sprintf(
		"Translate the following text from %s to %s. Reply with the translation only, no explanations.\n\n%s",
		sourceLang, targetLang, text)

	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(prompt), nil)
	if err != nil {
		// The service answering with an error status (rate limit, bad
		// request) is not a dead transport; treat it like any other
		// unusable-but-answered response.
		if isAnsweredAPIError(err) {
			c.logger.Warn("Gemini returned an API error",
				logger.String("target_lang", targetLang),
				logger.Error(err))
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrNoResponse, err)
	}

	translated := strings.TrimSpace(resp.Text())
	if translated == "" {
		c.logger.Debug("Gemini returned empty translation",
			logger.String("target_lang", targetLang))
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

// isAnsweredAPIError reports whether the failure carries an HTTP-level error
// response from the Gemini API, as opposed to a transport failure that never
// reached the service.
func isAnsweredAPIError(err error) bool {
	var apiErr genai.APIError
	return errors.As(err, &apiErr)
}
