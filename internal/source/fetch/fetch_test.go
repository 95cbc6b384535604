package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"
)

func TestHTTPFetch(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		if !strings.Contains(r.Header.Get("User-Agent"), "Chrome/131") {
			t.Errorf("unexpected user agent %q", r.Header.Get("User-Agent"))
		}
		_, _ = w.Write([]byte("<html>ok</html>"))
	}))
	defer srv.Close()

	f, err := New(Config{})
	if err != nil {
		t.Fatal(err)
	}
	body, err := f.Fetch(context.Background(), srv.URL+"/page")
	if err != nil || string(body) != "<html>ok</html>" {
		t.Fatalf("Fetch() = %q, %v", body, err)
	}

	_, err = f.Fetch(context.Background(), srv.URL+"/missing")
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusNotFound {
		t.Fatalf("Fetch(missing) = %v, want StatusError 404", err)
	}
}

func TestHTTPFetchRejectsInvalidURL(t *testing.T) {
	t.Parallel()
	f := NewHTTP(Config{})
	for _, u := range []string{"ftp://example.com", "https://", "::"} {
		if _, err := f.Fetch(context.Background(), u); !errors.Is(err, ErrInvalidURL) {
			t.Fatalf("Fetch(%q) = %v, want ErrInvalidURL", u, err)
		}
	}
}

func TestNewUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{Driver: "curl"}); err == nil {
		t.Fatal("expected error")
	}
	for _, driver := range []string{"webdriver", "cdp", "chrome"} {
		f, err := New(Config{Driver: driver})
		if err != nil {
			t.Fatalf("New(%q) = %v", driver, err)
		}
		if _, ok := f.(SelectorFetcher); !ok {
			t.Fatalf("%s should support selector waits", driver)
		}
	}
}

func TestExecFlags(t *testing.T) {
	t.Parallel()
	if got := len(execFlags(nil)); got != len(defaultChromeFlags) {
		t.Fatalf("default flags = %d, want %d", got, len(defaultChromeFlags))
	}
	if got := len(execFlags([]string{"--headless=new", "", "--", "--no-sandbox"})); got != 2 {
		t.Fatalf("flags = %d, want 2", got)
	}
}

func TestSelectorErr(t *testing.T) {
	t.Parallel()
	live := context.Background()
	gone, cancel := context.WithCancel(context.Background())
	cancel()
	other := errors.New("node detached")

	tests := []struct {
		name    string
		parent  context.Context
		err     error
		want    error
		timeout bool
	}{
		{"ok", live, nil, nil, false},
		{"wait expired", live, context.DeadlineExceeded, context.DeadlineExceeded, true},
		{"fetch canceled", gone, context.DeadlineExceeded, context.DeadlineExceeded, false},
		{"other", live, other, other, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := selectorErr(tt.parent, "section", tt.err)
			if tt.want == nil {
				if got != nil {
					t.Fatalf("selectorErr() = %v, want nil", got)
				}
				return
			}
			if !errors.Is(got, tt.want) {
				t.Fatalf("selectorErr() = %v, want %v", got, tt.want)
			}
			if errors.Is(got, ErrSelectorTimeout) != tt.timeout {
				t.Fatalf("selectorErr() = %v, timeout = %v", got, tt.timeout)
			}
		})
	}
}

func TestWebDriverRejectsInvalidURL(t *testing.T) {
	t.Parallel()
	w := NewWebDriver(Config{})
	w.alloc = func(ctx context.Context) (context.Context, context.CancelFunc) {
		t.Error("browser allocated for an invalid url")
		return context.WithCancel(ctx)
	}
	if _, err := w.FetchWhen(context.Background(), "file:///etc/passwd", "body"); !errors.Is(err, ErrInvalidURL) {
		t.Fatalf("FetchWhen() = %v, want ErrInvalidURL", err)
	}
}

func TestWebDriverUnreachableRemote(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no browser", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := NewWebDriver(Config{RemoteURL: srv.URL}).Fetch(ctx, "https://www.fab.com/"); err == nil {
		t.Fatal("expected an error from a remote without a browser")
	}
}

// Needs a local Chrome; set ASSETSY_TEST_CHROME=1 to run.
func TestChromeFetchWhen(t *testing.T) {
	if os.Getenv("ASSETSY_TEST_CHROME") == "" {
		t.Skip("ASSETSY_TEST_CHROME not set")
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><script>
setTimeout(function () {
  var s = document.createElement("section");
  s.setAttribute("data-type", "CalloutSlim");
  s.textContent = "late";
  document.body.appendChild(s);
}, 300);
</script></body></html>`)
	}))
	defer srv.Close()

	w := NewChrome(Config{})
	w.wait = 3 * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	body, err := FetchFor(ctx, w, srv.URL, `section[data-type="CalloutSlim"]`)
	if err != nil {
		t.Fatalf("FetchFor() = %v", err)
	}
	if !strings.Contains(string(body), "late") {
		t.Fatalf("rendered page misses the scripted section: %s", body)
	}

	if _, err := w.FetchWhen(ctx, srv.URL, "div.never"); !errors.Is(err, ErrSelectorTimeout) {
		t.Fatalf("FetchWhen(missing) = %v, want ErrSelectorTimeout", err)
	}
}
