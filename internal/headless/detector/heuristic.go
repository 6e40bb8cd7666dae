// Package detector decides when a probed page must be re-rendered headlessly
// before its stylesheets and scripts can be discovered.
package detector

import (
	"bytes"
	"mime"
	"net/http"

	"github.com/JakeFAU/asset-warmup/internal/warmup"
)

const defaultThreshold = 2048

// Heuristic is a rule-based warmup.HeadlessDetector.
type Heuristic struct {
	// BodyLengthThreshold marks a page as "thin". Thin pages dominated by script
	// are promoted.
	BodyLengthThreshold int
}

// NewHeuristic creates a detector. A zero threshold uses the default.
func NewHeuristic(threshold int) *Heuristic {
	if threshold <= 0 {
		threshold = defaultThreshold
	}
	return &Heuristic{BodyLengthThreshold: threshold}
}

var spaMarkers = [][]byte{
	[]byte("__next"),
	[]byte("__nuxt"),
	[]byte(`id="root"`),
	[]byte(`id="app"`),
	[]byte("data-reactroot"),
	[]byte("ng-version"),
}

var (
	scriptOpen  = []byte("<script")
	scriptClose = []byte("</script>")
	linkOpen    = []byte("<link")
)

// ShouldPromote reports whether the static HTML is unlikely to reference every
// asset the browser would load.
func (h *Heuristic) ShouldPromote(probe warmup.FetchResponse) bool {
	if probe.StatusCode != http.StatusOK || probe.UsedHeadless {
		return false
	}
	if !isHTML(probe.Headers) {
		return false
	}
	body := bytes.ToLower(probe.Body)
	if len(body) == 0 {
		return true
	}
	for _, marker := range spaMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	if len(body) < h.BodyLengthThreshold && scriptCoverage(body) >= 25 {
		return true
	}
	// Scripts but no link tags at all usually means styles are injected at runtime.
	return bytes.Contains(body, scriptOpen) && !bytes.Contains(body, linkOpen)
}

func isHTML(headers http.Header) bool {
	ct := headers.Get("Content-Type")
	if ct == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return false
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}

// scriptCoverage returns the percentage of body bytes inside script elements.
// body must already be lower-cased.
func scriptCoverage(body []byte) int {
	total := len(body)
	covered := 0
	pos := 0
	for {
		rel := bytes.Index(body[pos:], scriptOpen)
		if rel == -1 {
			break
		}
		start := pos + rel
		tagEnd := bytes.IndexByte(body[start:], '>')
		if tagEnd == -1 {
			covered += total - start
			break
		}
		contentStart := start + tagEnd + 1
		end := bytes.Index(body[contentStart:], scriptClose)
		next := total
		if end != -1 {
			next = contentStart + end + len(scriptClose)
		}
		covered += next - start
		pos = next
	}
	if total == 0 {
		return 0
	}
	return covered * 100 / total
}
