// Package fab reads the limited-time free listings from the Fab marketplace
// home page. The page ships its data as HTML-escaped JSON inside a comment.
package fab

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
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
	Name    core.Source = "unreal_fab_marketplace"
	Title               = "UE Fab Marketplace"
	PageURL             = "https://www.fab.com/"

	dataElement   = "#js-dom-data-prefetched-data"
	homepageKey   = "/i/layouts/homepage"
	freeTitle     = "Limited-Time Free"
	listingPrefix = "https://fab.com/listings/"
)

var (
	ErrNoData = errors.New("prefetched data not found")

	parenDateRe = regexp.MustCompile(`\((.*?)\)`)
	untilDateRe = regexp.MustCompile(`Until\s+(.*)`)
)

// Item is one free listing, or the "ALL ITEMS" link.
type Item struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Data is the snapshot shape stored for this source.
type Data struct {
	EndDate string `json:"end_date"`
	Items   []Item `json:"items"`
}

type homepage struct {
	Carousel []struct {
		Title  string `json:"title"`
		CtaURL string `json:"ctaUrl"`
	} `json:"carousel"`
	Blades []struct {
		Title string `json:"title"`
		Tiles []struct {
			Listing struct {
				UID           string `json:"uid"`
				Title         string `json:"title"`
				StartingPrice struct {
					DiscountedPrice *float64 `json:"discountedPrice"`
				} `json:"startingPrice"`
			} `json:"listing"`
		} `json:"tiles"`
	} `json:"blades"`
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
	e.log.Debug("fetching fab listings")
	body, err := fetch.FetchFor(ctx, e.fetcher, e.pageURL, dataElement)
	if err != nil {
		return core.NoPriorData, core.NewExtractionError(Name, err)
	}
	data, err := Parse(body)
	if err != nil {
		return core.NoPriorData, core.NewExtractionError(Name, err)
	}
	e.log.Debug("fab listings parsed", logx.Int("count", len(data.Items)), logx.String("end_date", data.EndDate))
	snap, err := core.NewSnapshot(data)
	if err != nil {
		return core.NoPriorData, core.NewExtractionError(Name, err)
	}
	return snap, nil
}

// Parse extracts the free listings from the home page HTML.
func Parse(body []byte) (Data, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Data{}, fmt.Errorf("parse html: %w", err)
	}
	sel := doc.Find(dataElement).First()
	if sel.Length() == 0 {
		return Data{}, ErrNoData
	}
	inner, err := sel.Html()
	if err != nil {
		return Data{}, fmt.Errorf("read prefetched data: %w", err)
	}
	inner = strings.TrimSpace(inner)
	if !strings.HasPrefix(inner, "<!--") || !strings.HasSuffix(inner, "-->") {
		return Data{}, fmt.Errorf("%w: missing comment markers", ErrNoData)
	}
	raw := html.UnescapeString(inner[4 : len(inner)-3])

	var prefetched map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &prefetched); err != nil {
		return Data{}, fmt.Errorf("decode prefetched data: %w", err)
	}
	var hp homepage
	if b, ok := prefetched[homepageKey]; ok {
		if err := json.Unmarshal(b, &hp); err != nil {
			return Data{}, fmt.Errorf("decode homepage layout: %w", err)
		}
	}
	return collect(hp), nil
}

func collect(hp homepage) Data {
	out := Data{Items: []Item{}}
	for _, c := range hp.Carousel {
		if c.Title == freeTitle {
			out.Items = append(out.Items, Item{Title: "ALL ITEMS", URL: c.CtaURL})
			break
		}
	}
	for _, blade := range hp.Blades {
		if !strings.Contains(blade.Title, freeTitle) || !strings.Contains(blade.Title, "Until") {
			continue
		}
		if m := parenDateRe.FindStringSubmatch(blade.Title); m != nil {
			out.EndDate = m[1]
		} else if m := untilDateRe.FindStringSubmatch(blade.Title); m != nil {
			out.EndDate = m[1]
		}
		for _, tile := range blade.Tiles {
			l := tile.Listing
			if p := l.StartingPrice.DiscountedPrice; p == nil || *p != 0 {
				continue
			}
			if l.UID == "" || l.Title == "" {
				continue
			}
			out.Items = append(out.Items, Item{Title: l.Title, URL: listingPrefix + l.UID})
		}
		break
	}
	return out
}

// Render formats the snapshot as Telegram HTML.
func Render(s core.Snapshot) string {
	var d Data
	if s.Present() {
		_ = s.Decode(&d)
	}
	end := d.EndDate
	if end == "" {
		end = "<Unknown end date>"
	}
	lines := []tgui.H{tgui.Raw("🦭 " + tgui.B("UE Fab Marketplace Free Assets").String() + " (" + tgui.Esc(end).String() + "):")}
	for _, it := range d.Items {
		lines = append(lines, tgui.Raw(" - "+tgui.Link(it.Title, it.URL).String()))
	}
	if len(d.Items) == 0 {
		lines = append(lines, tgui.Raw(" - ⚠️ No free items found"))
	}
	return tgui.JoinH("\n", lines...).String()
}

// Entry returns the registry entry for this source.
func Entry(f fetch.Fetcher, log logx.Logger) source.Entry {
	return source.Entry{Extractor: New(f, log), Renderer: core.RendererFunc(Render), Title: Title}
}
