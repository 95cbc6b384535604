package fetch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/device"
)

const (
	// DevTools endpoint of a chromedp/headless-shell container.
	defaultRemoteURL = "ws://chrome:9222"
	defaultPageLoad  = 30 * time.Second
	selectorWait     = 10 * time.Second
)

// ErrSelectorTimeout is returned when the awaited selector never shows up.
var ErrSelectorTimeout = errors.New("selector wait timed out")

var defaultChromeFlags = []string{
	"--headless",
	"--disable-gpu",
	"--no-sandbox",
	"--disable-blink-features=AutomationControlled",
	"--disable-dev-shm-usage",
}

// SelectorFetcher can hold a page until a CSS selector is present.
type SelectorFetcher interface {
	FetchWhen(ctx context.Context, pageURL, selector string) ([]byte, error)
}

// FetchFor uses FetchWhen when f supports it and Fetch otherwise.
func FetchFor(ctx context.Context, f Fetcher, pageURL, selector string) ([]byte, error) {
	if sf, ok := f.(SelectorFetcher); ok && selector != "" {
		return sf.FetchWhen(ctx, pageURL, selector)
	}
	return f.Fetch(ctx, pageURL)
}

type allocFunc func(ctx context.Context) (context.Context, context.CancelFunc)

// WebDriver renders pages in headless Chrome over the DevTools protocol.
// Every fetch opens and closes its own tab.
type WebDriver struct {
	alloc     allocFunc
	userAgent string
	pageLoad  time.Duration
	wait      time.Duration
}

// NewWebDriver drives a remote browser at cfg.RemoteURL. Both ws:// debugger
// URLs and http:// DevTools endpoints are accepted.
func NewWebDriver(cfg Config) *WebDriver {
	remote := strings.TrimRight(strings.TrimSpace(cfg.RemoteURL), "/")
	if remote == "" {
		remote = defaultRemoteURL
	}
	w := newWebDriver(cfg)
	w.alloc = func(ctx context.Context) (context.Context, context.CancelFunc) {
		return chromedp.NewRemoteAllocator(ctx, remote)
	}
	return w
}

// NewChrome launches a local Chrome for every fetch using cfg.ChromeFlags.
func NewChrome(cfg Config) *WebDriver {
	w := newWebDriver(cfg)
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts, execFlags(cfg.ChromeFlags)...)
	opts = append(opts, chromedp.UserAgent(w.userAgent))
	w.alloc = func(ctx context.Context) (context.Context, context.CancelFunc) {
		return chromedp.NewExecAllocator(ctx, opts...)
	}
	return w
}

func newWebDriver(cfg Config) *WebDriver {
	ua := strings.TrimSpace(cfg.UserAgent)
	if ua == "" {
		ua = defaultUserAgent
	}
	pl := cfg.PageLoad
	if pl <= 0 {
		pl = defaultPageLoad
	}
	return &WebDriver{userAgent: ua, pageLoad: pl, wait: selectorWait}
}

// execFlags turns "--name=value" and "--name" into allocator flags.
func execFlags(flags []string) []chromedp.ExecAllocatorOption {
	if len(flags) == 0 {
		flags = defaultChromeFlags
	}
	out := make([]chromedp.ExecAllocatorOption, 0, len(flags))
	for _, f := range flags {
		name, value, hasValue := strings.Cut(strings.TrimLeft(strings.TrimSpace(f), "-"), "=")
		if name == "" {
			continue
		}
		if hasValue {
			out = append(out, chromedp.Flag(name, value))
		} else {
			out = append(out, chromedp.Flag(name, true))
		}
	}
	return out
}

func (w *WebDriver) Fetch(ctx context.Context, pageURL string) ([]byte, error) {
	return w.FetchWhen(ctx, pageURL, "")
}

func (w *WebDriver) FetchWhen(ctx context.Context, pageURL, selector string) ([]byte, error) {
	u, err := validateURL(pageURL)
	if err != nil {
		return nil, err
	}
	actx, cancelAlloc := w.alloc(ctx)
	defer cancelAlloc()
	tab, cancelTab := chromedp.NewContext(actx)
	defer cancelTab()

	// Open the tab before the page-load clock starts.
	if err := chromedp.Run(tab); err != nil {
		return nil, fmt.Errorf("browser: %w", err)
	}
	tab, cancel := context.WithTimeout(tab, w.pageLoad+w.wait)
	defer cancel()

	var html string
	tasks := chromedp.Tasks{
		chromedp.Emulate(device.Info{Name: "desktop", UserAgent: w.userAgent, Width: 1366, Height: 768, Scale: 1}),
		chromedp.Navigate(u.String()),
	}
	if selector != "" {
		tasks = append(tasks, w.waitFor(selector))
	}
	tasks = append(tasks, chromedp.OuterHTML("html", &html, chromedp.ByQuery))

	if err := chromedp.Run(tab, tasks); err != nil {
		if errors.Is(err, ErrSelectorTimeout) {
			return nil, fmt.Errorf("%s: %w", u.Redacted(), err)
		}
		return nil, fmt.Errorf("render %s: %w", u.Redacted(), err)
	}
	return []byte(html), nil
}

// waitFor blocks until selector matches a node in the page.
func (w *WebDriver) waitFor(selector string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		wctx, cancel := context.WithTimeout(ctx, w.wait)
		defer cancel()
		return selectorErr(ctx, selector, chromedp.WaitReady(selector, chromedp.ByQuery).Do(wctx))
	})
}

// selectorErr maps the wait's own deadline to ErrSelectorTimeout and leaves
// cancellation of the surrounding fetch untouched.
func selectorErr(parent context.Context, selector string, err error) error {
	if err == nil || parent.Err() != nil {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", ErrSelectorTimeout, selector)
	}
	return err
}
