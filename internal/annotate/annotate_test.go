// internal/annotate/annotate_test.go
package annotate

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruxailab/accessiblity-testing-backend/api/schemas"
)

const page = `<!DOCTYPE html><html><head><title>T</title>
<script>window.track()</script></head><body>
<img id="hero" src="a.png">
<p id="intro" style="color: red; background: url(data:image/png;base64,AA==)">Hi</p>
<p class="note">one</p><p class="note">two</p>
<button onclick="buy()">Buy</button>
</body></html>`

func parse(t *testing.T, out string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(out))
	require.NoError(t, err)
	return doc
}

func TestAnnotate_MarksMatchedElements(t *testing.T) {
	findings := []schemas.Finding{
		{Code: "image-alt", Type: "error", Message: `Images must have "alt" text`, Selector: "#hero"},
		{Code: "document-title", Type: "error", Message: "No selector"},
		{Code: "color-contrast", Type: "warning", Message: "Low contrast", Selector: "#intro"},
		{Code: "region", Type: "notice", Message: "Landmarks", Selector: ".note"},
		{Code: "bad", Type: "error", Message: "Broken", Selector: "div[["},
		{Code: "gone", Type: "error", Message: "Missing", Selector: "#nope"},
	}

	doc := parse(t, Annotate(page, findings, nil))

	hero := doc.Find("#hero")
	assert.True(t, hero.HasClass(IssueClass))
	id, _ := hero.Attr(AttrIssueID)
	assert.Equal(t, "issue-0", id)
	msg, _ := hero.Attr(AttrIssueMsg)
	assert.Equal(t, `Images must have "alt" text`, msg)
	style, _ := hero.Attr("style")
	assert.Equal(t, "border: 2px dotted red; position: relative;", style)
	marker := hero.Next()
	assert.True(t, marker.HasClass(MarkerClass), "img markers follow the element")
	assert.Equal(t, "1", marker.Text())

	intro := doc.Find("#intro")
	id, _ = intro.Attr(AttrIssueID)
	assert.Equal(t, "issue-2", id)
	typ, _ := intro.Attr(AttrIssueType)
	assert.Equal(t, "warning", typ)
	code, _ := intro.Attr(AttrIssueCode)
	assert.Equal(t, "color-contrast", code)
	style, _ = intro.Attr("style")
	assert.Equal(t, "color: red; background: url(data:image/png;base64,AA==); border: 2px dotted orange; position: relative;", style)
	assert.Equal(t, "3", intro.Find("."+MarkerClass).Text())

	notes := doc.Find(".note")
	require.Equal(t, 2, notes.Length())
	notes.Each(func(_ int, s *goquery.Selection) {
		id, _ := s.Attr(AttrIssueID)
		assert.Equal(t, "issue-3", id)
		style, _ := s.Attr("style")
		assert.Contains(t, style, "2px dotted blue")
		assert.Equal(t, "4", s.Find("."+MarkerClass).Text())
	})

	assert.Equal(t, 4, doc.Find("."+MarkerClass).Length())
	assert.Equal(t, 3, doc.Find("p").Length(), "markers must not split paragraphs")
}

func TestAnnotate_MarkersStayInsidePhrasingContainers(t *testing.T) {
	const src = `<html><body><h2 id="title">Heading</h2><p id="lead">Text <em>here</em></p></body></html>`
	findings := []schemas.Finding{
		{Code: "heading-order", Type: "warning", Message: "Order", Selector: "#title"},
		{Code: "link-name", Type: "error", Message: "Name", Selector: "#lead"},
	}

	doc := parse(t, Annotate(src, findings, nil))

	for _, tc := range []struct {
		selector, number string
	}{
		{"#title", "1"},
		{"#lead", "2"},
	} {
		marker := doc.Find(tc.selector).Children().Last()
		assert.True(t, marker.Is("span."+MarkerClass), "marker of %s must be its last child", tc.selector)
		assert.Equal(t, tc.number, marker.Text())
	}
	assert.Equal(t, 1, doc.Find("p").Length())
	assert.Zero(t, doc.Find("div."+MarkerClass).Length())
}

func TestAnnotate_OnlyInspectionScriptRemains(t *testing.T) {
	out := Annotate(page, nil, nil)
	doc := parse(t, out)

	scripts := doc.Find("script")
	require.Equal(t, 1, scripts.Length())
	assert.Contains(t, scripts.Text(), "Accessibility Issue")
	assert.True(t, scripts.Parent().Is("body"))
	assert.NotContains(t, out, "window.track")

	_, ok := doc.Find("button").Attr("onclick")
	assert.False(t, ok)
}

func TestAnnotate_InlinesStylesheets(t *testing.T) {
	css := []Stylesheet{
		{URL: "https://example.com/a.css", Content: "body { margin: 0 }"},
		{URL: "https://example.com/b.css", Content: "p { color: #333 } </style><script>x()</script>"},
	}
	out := Annotate(page, nil, css)
	doc := parse(t, out)

	style := doc.Find("head style#" + styleElementID)
	require.Equal(t, 1, style.Length())
	text := style.Text()

	a := strings.Index(text, "/* From: https://example.com/a.css */")
	b := strings.Index(text, "/* From: https://example.com/b.css */")
	require.True(t, a >= 0 && b > a, "stylesheets keep their order")
	assert.Contains(t, text, "body { margin: 0 }")
	assert.Contains(t, text, ".a11y-issue-marker {")
	assert.Contains(t, text, "content: attr(data-issue-message);")
	assert.Equal(t, 1, doc.Find("script").Length(), "a stylesheet cannot smuggle markup")
}

func TestAnnotate_FragmentInput(t *testing.T) {
	out := Annotate(`<div id="x">bare</div>`, []schemas.Finding{{Type: "error", Selector: "#x"}}, nil)
	doc := parse(t, out)
	assert.Equal(t, 1, doc.Find("head style").Length())
	assert.True(t, doc.Find("#x").HasClass(IssueClass))
}

func TestBorderColor(t *testing.T) {
	assert.Equal(t, "red", BorderColor("error"))
	assert.Equal(t, "orange", BorderColor("warning"))
	assert.Equal(t, "blue", BorderColor("notice"))
	assert.Equal(t, "blue", BorderColor(""))
}

func TestMergeStyle(t *testing.T) {
	props := [][2]string{{"border", "2px dotted red"}, {"position", "relative"}}
	tests := []struct{ in, want string }{
		{"", "border: 2px dotted red; position: relative;"},
		{"POSITION: fixed; color:blue", "position: relative; color: blue; border: 2px dotted red;"},
		{"content: 'a;b'; ;garbage", "content: 'a;b'; border: 2px dotted red; position: relative;"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MergeStyle(tt.in, props), tt.in)
	}
}

func TestCombinedCSS_Empty(t *testing.T) {
	css := CombinedCSS(nil)
	assert.True(t, strings.HasPrefix(css, "\n/* Combined CSS */\n"))
	assert.NotContains(t, css, "From:")
}
