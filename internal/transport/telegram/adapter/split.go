package adapter

import "strings"

const textLimit = 4000

// splitText breaks s into chunks of at most limit runes. Lines are kept whole
// when they fit; an overlong line is cut hard, and in HTML mode never inside a
// tag.
func splitText(s string, limit int, html bool) []string {
	if limit <= 0 {
		limit = textLimit
	}
	if runeLen(s) <= limit {
		return []string{s}
	}

	var (
		out []string
		cur strings.Builder
		n   int
	)
	flush := func() {
		if chunk := strings.TrimRight(cur.String(), "\n"); chunk != "" {
			out = append(out, chunk)
		}
		cur.Reset()
		n = 0
	}

	for _, line := range strings.SplitAfter(s, "\n") {
		ln := runeLen(line)
		if n+ln <= limit {
			cur.WriteString(line)
			n += ln
			continue
		}
		flush()
		for _, part := range hardSplit(line, limit, html) {
			if pn := runeLen(part); pn < limit {
				cur.WriteString(part)
				n = pn
				continue
			}
			out = append(out, part)
		}
	}
	flush()
	return out
}

func hardSplit(line string, limit int, html bool) []string {
	rs := []rune(line)
	var out []string
	for len(rs) > limit {
		cut := limit
		if html {
			if open := lastIndex(rs[:cut], '<'); open > 0 && open > lastIndex(rs[:cut], '>') {
				cut = open
			}
		}
		out = append(out, string(rs[:cut]))
		rs = rs[cut:]
	}
	return append(out, string(rs))
}

func lastIndex(rs []rune, r rune) int {
	for i := len(rs) - 1; i >= 0; i-- {
		if rs[i] == r {
			return i
		}
	}
	return -1
}

func runeLen(s string) int { return len([]rune(s)) }
