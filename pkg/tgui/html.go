package tgui

import (
	"html"
	"strings"
	"unicode/utf8"
)

// H is HTML already safe for ParseMode HTML.
type H string

func (h H) String() string { return string(h) }

func Esc(s string) H { return H(html.EscapeString(s)) }

// Raw trusts s as-is.
func Raw(s string) H { return H(s) }

func tag(name, text string) H {
	return H("<" + name + ">" + html.EscapeString(text) + "</" + name + ">")
}

func B(s string) H    { return tag("b", s) }
func Code(s string) H { return tag("code", s) }

// Link escapes both the label and the href attribute.
func Link(text, href string) H {
	return H(`<a href="` + html.EscapeString(href) + `">` + html.EscapeString(text) + `</a>`)
}

// JoinH joins the non-blank parts with sep.
func JoinH(sep string, parts ...H) H {
	var b strings.Builder
	for _, p := range parts {
		if strings.TrimSpace(string(p)) == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString(sep)
		}
		b.WriteString(string(p))
	}
	return H(b.String())
}

// TruncRunes cuts s to n runes, marking the cut with "…".
func TruncRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos] + "…"
		}
		i++
	}
	return s
}
