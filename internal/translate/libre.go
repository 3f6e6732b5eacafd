package translate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/text/language"

	logx "newsrelay/pkg/logx"
)

const (
	DefaultEndpoint = "https://libretranslate.de/translate"
	defaultTimeout  = 10 * time.Second
	maxResponseBody = 1 << 20
)

type LibreConfig struct {
	Endpoint  string
	APIKey    string
	Source    string // BCP 47 tag, e.g. "en"
	Target    string // BCP 47 tag, e.g. "ru"
	Timeout   time.Duration
	CacheSize int // 0 disables the cache
}

// Libre talks to a LibreTranslate-compatible endpoint.
type Libre struct {
	endpoint string
	apiKey   string
	source   string
	target   string
	timeout  time.Duration

	http  *http.Client
	cache *lru.Cache[string, string]
	log   logx.Logger
}

func NewLibre(cfg LibreConfig, log logx.Logger) (*Libre, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return nil, fmt.Errorf("translate endpoint: %w", err)
	}
	source, err := baseLanguage(cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("translate source: %w", err)
	}
	target, err := baseLanguage(cfg.Target)
	if err != nil {
		return nil, fmt.Errorf("translate target: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	l := &Libre{
		endpoint: endpoint,
		apiKey:   cfg.APIKey,
		source:   source,
		target:   target,
		timeout:  timeout,
		http:     &http.Client{Timeout: timeout},
		log:      log,
	}
	if cfg.CacheSize > 0 {
		c, err := lru.New[string, string](cfg.CacheSize)
		if err != nil {
			return nil, err
		}
		l.cache = c
	}
	return l, nil
}

// baseLanguage validates a BCP 47 tag and returns its ISO 639 base, which is
// what LibreTranslate expects ("en-US" -> "en").
func baseLanguage(tag string) (string, error) {
	tag = strings.TrimSpace(tag)
	if tag == "" || strings.EqualFold(tag, "auto") {
		return "auto", nil
	}
	t, err := language.Parse(tag)
	if err != nil {
		return "", err
	}
	base, _ := t.Base()
	return base.String(), nil
}

// Translate returns the translation of text, or text itself on any failure.
func (l *Libre) Translate(ctx context.Context, text string) string {
	if strings.TrimSpace(text) == "" || l.source == l.target {
		return text
	}
	if l.cache != nil {
		if v, ok := l.cache.Get(text); ok {
			return v
		}
	}
	out, err := l.translate(ctx, text)
	if err != nil {
		l.log.Warn("translation failed; using original text", logx.Err(err), logx.Int("len", len(text)))
		return text
	}
	if l.cache != nil {
		l.cache.Add(text, out)
	}
	return out
}

type libreResponse struct {
	TranslatedText string `json:"translatedText"`
	Error          string `json:"error"`
}

func (l *Libre) translate(ctx context.Context, text string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	form := url.Values{
		"q":      {text},
		"source": {l.source},
		"target": {l.target},
		"format": {"text"},
	}
	if l.apiKey != "" {
		form.Set("api_key", l.apiKey)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", &TranslationError{Endpoint: l.endpoint, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := l.http.Do(req)
	if err != nil {
		return "", &TranslationError{Endpoint: l.endpoint, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return "", &TranslationError{Endpoint: l.endpoint, Status: resp.StatusCode, Err: err}
	}
	var r libreResponse
	decodeErr := json.Unmarshal(body, &r)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(r.Error)
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return "", &TranslationError{Endpoint: l.endpoint, Status: resp.StatusCode, Err: errors.New(msg)}
	}
	if decodeErr != nil {
		return "", &TranslationError{Endpoint: l.endpoint, Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", decodeErr)}
	}
	out := strings.TrimSpace(r.TranslatedText)
	if out == "" {
		return "", &TranslationError{Endpoint: l.endpoint, Status: resp.StatusCode, Err: errors.New("empty translation")}
	}
	return out, nil
}
