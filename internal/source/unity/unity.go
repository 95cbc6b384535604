// Package unity scrapes the Unity Asset Store publisher sale page for the
// free asset of the week and its coupon code.
package unity

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"assetsy/internal/core"
	"assetsy/internal/source"
	"assetsy/internal/source/fetch"
	logx "assetsy/pkg/logx"
	"assetsy/pkg/tgui"
)

const (
	Name     core.Source = "unity"
	Title                = "Unity"
	PageURL              = "https://assetstore.unity.com/publisher-sale"
	selector             = `section[data-type="CalloutSlim"]`

	missing = "<error>"
)

var couponRe = regexp.MustCompile(`(?i)coupon code (\S+)`)

// ErrNoSections means the page held no callout section at all, which is a
// block page or a changed layout rather than an empty sale.
var ErrNoSections = errors.New("no callout sections on page")

// Asset is one promoted package.
type Asset struct {
	Name   string `json:"name"`
	URL    string `json:"url"`
	Coupon string `json:"coupon"`
}

// Data is the snapshot shape stored for this source.
type Data struct {
	Assets []Asset `json:"assets"`
}

type Extractor struct {
	fetcher fetch.Fetcher
	pageURL string
	log     logx.Logger
}

func New(f fetch.Fetcher, log logx.Logger) *Extractor {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Extractor{fetcher: f, pageURL: PageURL, log: log.With(logx.String("source", string(Name)))}
}

// WithURL points the extractor at another page, e.g. a test server.
func (e *Extractor) WithURL(u string) *Extractor {
	e.pageURL = u
	return e
}

func (e *Extractor) Name() core.Source { return Name }

func (e *Extractor) Extract(ctx context.Context) (core.Snapshot, error) {
	e.log.Debug("fetching unity assets")
	body, err := fetch.FetchFor(ctx, e.fetcher, e.pageURL, selector)
	if err != nil {
		return core.NoPriorData, core.NewExtractionError(Name, err)
	}
	data, err := Parse(body, e.pageURL)
	if err != nil {
		return core.NoPriorData, core.NewExtractionError(Name, err)
	}
	for _, a := range data.Assets {
		if a.Name == missing || a.URL == missing {
			e.log.Warn("incomplete asset section", logx.String("name", a.Name), logx.String("url", a.URL))
		}
	}
	e.log.Debug("unity assets parsed", logx.Int("count", len(data.Assets)))
	snap, err := core.NewSnapshot(data)
	if err != nil {
		return core.NoPriorData, core.NewExtractionError(Name, err)
	}
	return snap, nil
}

// Parse reads every callout section of the sale page. A page without any
// section yields ErrNoSections.
func Parse(body []byte, pageURL string) (Data, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Data{}, fmt.Errorf("parse html: %w", err)
	}
	sections := doc.Find(selector)
	if sections.Length() == 0 {
		return Data{}, ErrNoSections
	}
	base, _ := url.Parse(pageURL)

	out := Data{Assets: make([]Asset, 0, sections.Length())}
	sections.Each(func(_ int, s *goquery.Selection) {
		a := Asset{Name: missing, URL: missing}
		if h := s.Find("h2").First(); h.Length() > 0 {
			a.Name = strings.TrimSpace(h.Text())
		}
		if href, ok := s.Find("a[href]").First().Attr("href"); ok {
			a.URL = resolve(base, href)
		}
		if m := couponRe.FindStringSubmatch(s.Find("span.body").First().Text()); m != nil {
			a.Coupon = strings.TrimRight(m[1], ".,;!")
		}
		out.Assets = append(out.Assets, a)
	})
	return out, nil
}

func resolve(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	ref, err := url.Parse(href)
	if err != nil || base == nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

// Render formats the snapshot as Telegram HTML.
func Render(s core.Snapshot) string {
	var d Data
	if s.Present() {
		_ = s.Decode(&d)
	}
	lines := []tgui.H{tgui.Raw("🦭 " + tgui.B("Unity Free Assets").String() + ":")}
	for _, a := range d.Assets {
		coupon := a.Coupon
		if coupon == "" {
			coupon = "No coupon available"
		}
		lines = append(lines, tgui.Raw(" - "+tgui.B("[Coupon: "+coupon+"]").String()+" "+tgui.Link(a.Name, a.URL).String()))
	}
	if len(d.Assets) == 0 {
		lines = append(lines, tgui.Raw(" - ⚠️ No free items found"))
	}
	return tgui.JoinH("\n", lines...).String()
}

// Entry returns the registry entry for this source.
func Entry(f fetch.Fetcher, log logx.Logger) source.Entry {
	return source.Entry{Extractor: New(f, log), Renderer: core.RendererFunc(Render), Title: Title}
}
