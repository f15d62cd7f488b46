// Package loader fetches knowledge base source documents over HTTPS
// and converts them to raw page text.
package loader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/veramoney/assistant/internal/domain"
)

// maxDocumentBytes bounds a single source download.
const maxDocumentBytes = 20 << 20

// HTTPLoader fetches documents from allow-listed HTTPS URLs.
type HTTPLoader struct {
	client  *http.Client
	allow   *domain.AllowList
	retries uint64
	logger  *zap.Logger
}

// Config holds loader settings.
type Config struct {
	Allow *domain.AllowList
	// Timeout covers a single fetch attempt.
	Timeout time.Duration
	// Retries is the number of additional attempts on transient failures.
	Retries int
	Logger  *zap.Logger
	// HTTPClient overrides the default client. Timeout is ignored when set.
	HTTPClient *http.Client
}

// New creates an HTTP document loader.
func New(cfg Config) *HTTPLoader {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPLoader{
		client:  client,
		allow:   cfg.Allow,
		retries: uint64(max(cfg.Retries, 0)),
		logger:  logger,
	}
}

// Load fetches and parses one source document. The URL is validated
// against the allow list before any connection is opened.
func (l *HTTPLoader) Load(ctx context.Context, src domain.Source) (domain.RawDocument, error) {
	if err := l.allow.Validate(src.URL); err != nil {
		return domain.RawDocument{}, fmt.Errorf("source %s: %w", src.Key, err)
	}

	var body []byte
	var contentType string

	op := func() error {
		var err error
		body, contentType, err = l.fetch(ctx, src.URL)
		return err
	}

	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), l.retries), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return domain.RawDocument{}, fmt.Errorf("fetch %s: %w: %w", src.Key, domain.ErrTransport, err)
	}

	l.logger.Debug("source fetched",
		zap.String("source", src.Key),
		zap.Int("bytes", len(body)),
		zap.String("content_type", contentType))

	pages, err := parse(body, contentType, src.URL)
	if err != nil {
		return domain.RawDocument{}, fmt.Errorf("parse %s: %w", src.Key, err)
	}
	return domain.RawDocument{Source: src, Pages: pages}, nil
}

// fetch performs a single GET attempt. Server-side failures are
// retryable, client-side rejections are permanent.
func (l *HTTPLoader) fetch(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", backoff.Permanent(err)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return nil, "", fmt.Errorf("status %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, "", backoff.Permanent(fmt.Errorf("status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
	if err != nil {
		return nil, "", err
	}
	return body, resp.Header.Get("Content-Type"), nil
}

// parse converts a response body into pages. HTML is reduced to visible
// text, plain text and markdown pass through with form feeds treated as
// page breaks.
func parse(body []byte, contentType, url string) ([]domain.Page, error) {
	if isHTML(contentType, url) {
		text, err := htmlToText(body)
		if err != nil {
			return nil, err
		}
		return pagesFromText(text), nil
	}
	return pagesFromText(string(body)), nil
}

func isHTML(contentType, url string) bool {
	if strings.Contains(contentType, "text/html") {
		return true
	}
	u := strings.ToLower(url)
	return strings.HasSuffix(u, ".html") || strings.HasSuffix(u, ".htm")
}

// pagesFromText splits on form feed, the page-break convention of
// text-extracted documents. Blank pages are dropped but keep their
// position in the numbering.
func pagesFromText(text string) []domain.Page {
	parts := strings.Split(text, "\f")
	pages := make([]domain.Page, 0, len(parts))
	for i, part := range parts {
		if strings.TrimSpace(part) == "" {
			continue
		}
		pages = append(pages, domain.Page{Number: i + 1, Text: part})
	}
	return pages
}
