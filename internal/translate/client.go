// Package translate is a client for a LibreTranslate-compatible translation
// service, used to map patient utterances to English.
package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	cache "github.com/patrickmn/go-cache"
)

const (
	requestTimeout = 15 * time.Second
	cacheTTL       = 10 * time.Minute
	cacheSweep     = 15 * time.Minute
)

// Client calls the /translate endpoint of a LibreTranslate server. The
// formatter issues one request per letter-run token plus one per non-English
// segment, so successful lookups are memoized for a short TTL.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	cache      *cache.Cache
}

// NewClient constructs a translation client for the given base URL. The API
// key may be empty for unauthenticated servers.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: requestTimeout},
		cache:      cache.New(cacheTTL, cacheSweep),
	}
}

type translateRequest struct {
	Q      string `json:"q"`
	Source string `json:"source"`
	Target string `json:"target"`
	APIKey string `json:"api_key,omitempty"`
}

type translateResponse struct {
	TranslatedText string `json:"translatedText"`
}

// languageCodes maps the language names used in patient profiles to ISO
// codes the server understands. Anything unlisted falls back to detection.
var languageCodes = map[string]string{
	"arabic":     "ar",
	"chinese":    "zh",
	"english":    "en",
	"french":     "fr",
	"german":     "de",
	"hindi":      "hi",
	"italian":    "it",
	"japanese":   "ja",
	"korean":     "ko",
	"persian":    "fa",
	"farsi":      "fa",
	"polish":     "pl",
	"portuguese": "pt",
	"russian":    "ru",
	"spanish":    "es",
	"tagalog":    "tl",
	"turkish":    "tr",
	"ukrainian":  "uk",
	"vietnamese": "vi",
}

func sourceCode(language string) string {
	if code, ok := languageCodes[strings.ToLower(strings.TrimSpace(language))]; ok {
		return code
	}
	return "auto"
}

// Translate maps text to English. The sourceLanguage hint is the patient's
// native language name; unknown names fall back to server-side detection.
// Errors mean the translation is unavailable and callers should degrade.
func (c *Client) Translate(ctx context.Context, text, sourceLanguage string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return text, nil
	}
	key := sourceLanguage + "\x00" + text
	if hit, ok := c.cache.Get(key); ok {
		return hit.(string), nil
	}

	payload, err := json.Marshal(translateRequest{
		Q:      text,
		Source: sourceCode(sourceLanguage),
		Target: "en",
		APIKey: c.apiKey,
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/translate", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("translate request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("translate: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out translateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("translate: decode response: %w", err)
	}
	c.cache.Set(key, out.TranslatedText, cache.DefaultExpiration)
	return out.TranslatedText, nil
}
