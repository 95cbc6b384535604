package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Fetcher returns the body of a page.
type Fetcher interface {
	Fetch(ctx context.Context, pageURL string) ([]byte, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, pageURL string) ([]byte, error)

func (f FetcherFunc) Fetch(ctx context.Context, pageURL string) ([]byte, error) {
	return f(ctx, pageURL)
}

// ErrInvalidURL is returned for non-http(s) or host-less URLs.
var ErrInvalidURL = errors.New("invalid url")

// StatusError reports a non-2xx response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

const (
	maxBodySize = 10 << 20

	// Browser-like agent; both storefronts serve a reduced page to bots.
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"
)

// Config selects and tunes the fetch driver.
type Config struct {
	// Driver is "http" (default), "webdriver" for a remote DevTools
	// endpoint or "chrome" for a locally launched browser.
	Driver    string
	UserAgent string
	Timeout   time.Duration

	// Browser settings. ChromeFlags only apply to a local launch.
	RemoteURL   string
	PageLoad    time.Duration
	ChromeFlags []string
}

// New builds the configured fetcher.
func New(cfg Config) (Fetcher, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "http":
		return NewHTTP(cfg), nil
	case "webdriver", "cdp", "chromedp":
		return NewWebDriver(cfg), nil
	case "chrome":
		return NewChrome(cfg), nil
	default:
		return nil, fmt.Errorf("unknown fetch driver: %s", cfg.Driver)
	}
}

func validateURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	return u, nil
}
