package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// HTTPTranslator calls a remote translation service over JSON.
type HTTPTranslator struct {
	endpoint string
	client   *http.Client
	log      *zap.Logger
}

// NewHTTPTranslator creates a client for the given endpoint.
func NewHTTPTranslator(endpoint string, timeout time.Duration, log *zap.Logger) *HTTPTranslator {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &HTTPTranslator{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		log:      log,
	}
}

type translateRequest struct {
	Text       string `json:"text"`
	SourceLang string `json:"source_lang"`
	TargetLang string `json:"target_lang"`
	Context    string `json:"context,omitempty"`
}

type translateResponse struct {
	Translation string `json:"translation"`
}

// Translate requests a single translation from the remote service.
func (t *HTTPTranslator) Translate(ctx context.Context, text, sourceLang, targetLang, context string) (string, error) {
	body, err := json.Marshal(translateRequest{
		Text:       text,
		SourceLang: sourceLang,
		TargetLang: targetLang,
		Context:    context,
	})
	if err != nil {
		return "", fmt.Errorf("cache: encode translate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("cache: build translate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("cache: translate %s->%s: %w", sourceLang, targetLang, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("cache: translate %s->%s: status %d", sourceLang, targetLang, resp.StatusCode)
	}

	var out translateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("cache: decode translate response: %w", err)
	}
	return out.Translation, nil
}
