// Package annotate builds the overlay rendition of a scanned page: every
// element with a finding gets a colored outline and a numbered marker, and
// the page's stylesheets are inlined so the result renders on its own.
package annotate

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/ruxailab/accessiblity-testing-backend/api/schemas"
	"github.com/ruxailab/accessiblity-testing-backend/internal/sanitize"
)

// Class names and attributes written into the annotated document.
const (
	IssueClass     = "a11y-issue"
	MarkerClass    = "a11y-issue-marker"
	AttrIssueID    = "data-issue-id"
	AttrIssueType  = "data-issue-type"
	AttrIssueCode  = "data-issue-code"
	AttrIssueMsg   = "data-issue-message"
	styleElementID = "a11y-overlay-styles"
)

// Stylesheet is the fetched body of one external stylesheet.
type Stylesheet struct {
	URL     string
	Content string
}

const markerCSS = `
/* Accessibility issue highlighting styles */
.a11y-issue-marker {
	position: absolute;
	top: -5px;
	right: -5px;
	background-color: red;
	color: white;
	border-radius: 50%;
	width: 20px;
	height: 20px;
	display: flex;
	justify-content: center;
	align-items: center;
	font-size: 12px;
	z-index: 9999;
	cursor: pointer;
}
.a11y-issue[data-issue-type="warning"] .a11y-issue-marker {
	background-color: orange;
}
.a11y-issue[data-issue-type="notice"] .a11y-issue-marker {
	background-color: blue;
}
.a11y-issue:hover::after {
	content: attr(data-issue-message);
	position: absolute;
	top: 20px;
	left: 0;
	background: rgba(0, 0, 0, 0.8);
	color: white;
	padding: 5px 10px;
	border-radius: 3px;
	font-size: 14px;
	z-index: 10000;
	max-width: 300px;
	white-space: normal;
}
`

// inspectScript is the only executable content of an annotated page.
const inspectScript = `
document.addEventListener('DOMContentLoaded', function () {
	document.querySelectorAll('.a11y-issue').forEach(function (issue) {
		issue.addEventListener('click', function () {
			var type = this.getAttribute('data-issue-type') || '';
			alert('Accessibility Issue:\nType: ' + type.toUpperCase() +
				'\nMessage: ' + this.getAttribute('data-issue-message') +
				'\nCode: ' + this.getAttribute('data-issue-code'));
		});
	});
});
`

var voidElements = map[atom.Atom]bool{
	atom.Area: true, atom.Base: true, atom.Br: true, atom.Col: true, atom.Embed: true,
	atom.Hr: true, atom.Img: true, atom.Input: true, atom.Keygen: true, atom.Link: true,
	atom.Meta: true, atom.Param: true, atom.Source: true, atom.Track: true, atom.Wbr: true,
}

var closingStyleTag = regexp.MustCompile(`(?i)</style`)

// BorderColor returns the outline color for a finding type.
func BorderColor(typ string) string {
	switch typ {
	case schemas.TypeError:
		return "red"
	case schemas.TypeWarning:
		return "orange"
	default:
		return "blue"
	}
}

// Annotate marks every element matched by a finding's selector and returns
// the rendered document. Findings without a selector, with an invalid
// selector or without a match are skipped. The page's own scripts and
// handlers are removed. Annotate never fails; if the document cannot be
// processed the input is returned unchanged.
func Annotate(rawHTML string, findings []schemas.Finding, css []Stylesheet) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return rawHTML
	}
	sanitize.StripExecutable(doc)

	for i, f := range findings {
		if f.Selector == "" {
			continue
		}
		matcher, err := cascadia.Compile(f.Selector)
		if err != nil {
			continue
		}
		matched := doc.FindMatcher(matcher)
		if matched.Length() == 0 {
			continue
		}
		markElements(matched, i, f)
	}

	head := doc.Find("head").First()
	head.AppendNodes(textElement(atom.Style, CombinedCSS(css),
		html.Attribute{Key: "id", Val: styleElementID}))

	body := doc.Find("body").First()
	body.AppendNodes(textElement(atom.Script, inspectScript))

	out, err := doc.Html()
	if err != nil {
		return rawHTML
	}
	return out
}

func markElements(sel *goquery.Selection, index int, f schemas.Finding) {
	issueID := "issue-" + strconv.Itoa(index)
	sel.AddClass(IssueClass)
	sel.SetAttr(AttrIssueID, issueID)
	sel.SetAttr(AttrIssueType, f.Type)
	sel.SetAttr(AttrIssueCode, f.Code)
	sel.SetAttr(AttrIssueMsg, f.Message)

	sel.Each(func(_ int, s *goquery.Selection) {
		style, _ := s.Attr("style")
		s.SetAttr("style", MergeStyle(style, [][2]string{
			{"border", "2px dotted " + BorderColor(f.Type)},
			{"position", "relative"},
		}))
		marker := textElement(atom.Span, strconv.Itoa(index+1),
			html.Attribute{Key: "class", Val: MarkerClass},
			html.Attribute{Key: AttrIssueID, Val: issueID},
		)
		// Void elements cannot hold children; the marker follows them instead.
		if voidElements[s.Get(0).DataAtom] {
			s.AfterNodes(marker)
			return
		}
		s.AppendNodes(marker)
	})
}

// CombinedCSS concatenates the fetched stylesheets, in order, followed by
// the marker and tooltip rules.
func CombinedCSS(sheets []Stylesheet) string {
	var b strings.Builder
	b.WriteString("\n/* Combined CSS */\n")
	for _, sheet := range sheets {
		fmt.Fprintf(&b, "\n/* From: %s */\n%s\n",
			strings.ReplaceAll(sheet.URL, "*/", "*\\/"),
			closingStyleTag.ReplaceAllString(sheet.Content, `<\/style`))
	}
	b.WriteString(markerCSS)
	return b.String()
}

// MergeStyle sets props on an inline style declaration list, replacing
// existing values of the same properties and keeping everything else in
// order.
func MergeStyle(style string, props [][2]string) string {
	type decl struct{ name, value string }
	var decls []decl
	for _, part := range splitDeclarations(style) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, ok := strings.Cut(part, ":")
		if !ok {
			continue
		}
		decls = append(decls, decl{strings.ToLower(strings.TrimSpace(name)), strings.TrimSpace(value)})
	}

	for _, p := range props {
		replaced := false
		for i := range decls {
			if decls[i].name == p[0] {
				decls[i].value = p[1]
				replaced = true
			}
		}
		if !replaced {
			decls = append(decls, decl{p[0], p[1]})
		}
	}

	parts := make([]string, len(decls))
	for i, d := range decls {
		parts[i] = d.name + ": " + d.value
	}
	return strings.Join(parts, "; ") + ";"
}

// splitDeclarations splits on semicolons outside parentheses and quotes,
// so url(data:...;base64,...) values stay whole.
func splitDeclarations(style string) []string {
	var (
		parts []string
		depth int
		quote rune
		start int
	)
	for i, r := range style {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '"' || r == '\'':
			quote = r
		case r == '(':
			depth++
		case r == ')':
			if depth > 0 {
				depth--
			}
		case r == ';' && depth == 0:
			parts = append(parts, style[start:i])
			start = i + 1
		}
	}
	return append(parts, style[start:])
}

func textElement(a atom.Atom, text string, attrs ...html.Attribute) *html.Node {
	n := &html.Node{Type: html.ElementNode, DataAtom: a, Data: a.String(), Attr: attrs}
	n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	return n
}
