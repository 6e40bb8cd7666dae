package detector

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/asset-warmup/internal/warmup"
)

var _ warmup.HeadlessDetector = (*Heuristic)(nil)

func htmlProbe(body string) warmup.FetchResponse {
	return warmup.FetchResponse{
		StatusCode: http.StatusOK,
		Headers:    http.Header{"Content-Type": {"text/html; charset=utf-8"}},
		Body:       []byte(body),
	}
}

func TestHeuristicShouldPromote(t *testing.T) {
	t.Parallel()

	staticPage := `<html><head><link rel="stylesheet" href="/a.css"><script src="/a.js"></script></head><body>` +
		strings.Repeat("<p>content</p>", 200) + `</body></html>`

	tests := []struct {
		name  string
		probe warmup.FetchResponse
		want  bool
	}{
		{name: "empty body", probe: htmlProbe(""), want: true},
		{name: "next marker", probe: htmlProbe(`<link rel="stylesheet" href="/a.css"><div id="__next"></div>`), want: true},
		{name: "uppercase marker", probe: htmlProbe(`<link href="/a.css"><DIV ID="ROOT"></DIV>`), want: true},
		{name: "script heavy thin page", probe: htmlProbe(`<link href="/a.css"><script>var a=1;</script><p>t</p>`), want: true},
		{name: "scripts without links", probe: htmlProbe(`<script src="/bundle.js"></script>` + strings.Repeat("<p>x</p>", 400)), want: true},
		{name: "static page", probe: htmlProbe(staticPage), want: false},
		{name: "non 200", probe: warmup.FetchResponse{StatusCode: http.StatusNotFound}, want: false},
		{
			name: "not html",
			probe: warmup.FetchResponse{
				StatusCode: http.StatusOK,
				Headers:    http.Header{"Content-Type": {"application/json"}},
			},
			want: false,
		},
		{
			name: "already rendered",
			probe: warmup.FetchResponse{
				StatusCode:   http.StatusOK,
				UsedHeadless: true,
			},
			want: false,
		},
		{
			name:  "missing content type is treated as html",
			probe: warmup.FetchResponse{StatusCode: http.StatusOK, Body: []byte(`<div id="app"></div>`)},
			want:  true,
		},
	}

	h := NewHeuristic(1000)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, h.ShouldPromote(tt.probe))
		})
	}
}

func TestNewHeuristicDefaultThreshold(t *testing.T) {
	t.Parallel()

	require.Equal(t, defaultThreshold, NewHeuristic(0).BodyLengthThreshold)
	require.Equal(t, 10, NewHeuristic(10).BodyLengthThreshold)
}

func TestScriptCoverage(t *testing.T) {
	t.Parallel()

	require.Zero(t, scriptCoverage([]byte("<p>plain</p>")))
	require.Equal(t, 100, scriptCoverage([]byte("<script>x</script>")))
	require.Equal(t, 100, scriptCoverage([]byte("<script src=a")))
	require.Equal(t, 50, scriptCoverage([]byte("<script></script>"+strings.Repeat("a", 17))))
}
