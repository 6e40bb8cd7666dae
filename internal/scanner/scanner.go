// Package scanner locates stylesheet and script references in rendered HTML.
//
// Matching is lexical: tags are found with regular expressions and their
// attributes are read in any order. No DOM is built, so malformed markup never
// causes an error; it simply produces fewer matches.
package scanner

import (
	"iter"
	"regexp"
	"strings"
)

var (
	linkTag   = regexp.MustCompile(`(?is)<link\b[^>]*>`)
	scriptTag = regexp.MustCompile(`(?is)<script\b[^>]*>`)
	attribute = regexp.MustCompile(
		`([a-zA-Z_:][-a-zA-Z0-9_:.]*)\s*=\s*(?:"([^"]*)"|'([^']*)'|([^\s"'=<>` + "`" + `]+))`,
	)
)

// Match is one raw reference found in the document.
type Match struct {
	// URL is the raw href/src value with surrounding whitespace removed.
	URL string
	// Tag is the full matched opening tag.
	Tag string
	// Offset is the byte offset of the tag within the document.
	Offset int
}

// Stylesheets yields every <link> tag carrying an href and a rel containing
// the stylesheet token, in document order. Each iteration re-scans html.
func Stylesheets(html string) iter.Seq[Match] {
	return scan(html, linkTag, func(attrs map[string]string) (string, bool) {
		href, ok := attrs["href"]
		if !ok || !hasToken(attrs["rel"], "stylesheet") {
			return "", false
		}
		return href, true
	})
}

// Scripts yields every <script> tag carrying a src attribute, in document order.
func Scripts(html string) iter.Seq[Match] {
	return scan(html, scriptTag, func(attrs map[string]string) (string, bool) {
		src, ok := attrs["src"]
		return src, ok
	})
}

func scan(html string, tag *regexp.Regexp, pick func(map[string]string) (string, bool)) iter.Seq[Match] {
	return func(yield func(Match) bool) {
		if html == "" {
			return
		}
		for _, loc := range tag.FindAllStringIndex(html, -1) {
			raw := html[loc[0]:loc[1]]
			url, ok := pick(parseAttributes(raw))
			url = strings.TrimSpace(url)
			if !ok || url == "" {
				continue
			}
			if !yield(Match{URL: url, Tag: raw, Offset: loc[0]}) {
				return
			}
		}
	}
}

// parseAttributes returns lowercased attribute names mapped to their values.
// The first occurrence of a repeated attribute wins, as in browsers.
func parseAttributes(tag string) map[string]string {
	attrs := make(map[string]string)
	for _, m := range attribute.FindAllStringSubmatch(tag, -1) {
		name := strings.ToLower(m[1])
		if _, seen := attrs[name]; seen {
			continue
		}
		switch {
		case m[2] != "":
			attrs[name] = m[2]
		case m[3] != "":
			attrs[name] = m[3]
		default:
			attrs[name] = m[4]
		}
	}
	return attrs
}

func hasToken(value, token string) bool {
	for _, field := range strings.Fields(value) {
		if strings.EqualFold(field, token) {
			return true
		}
	}
	return false
}

// Collect drains a sequence into a slice.
func Collect(seq iter.Seq[Match]) []Match {
	var out []Match
	for m := range seq {
		out = append(out, m)
	}
	return out
}
