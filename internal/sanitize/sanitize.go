// Package sanitize turns rendered page HTML into a static, script-free
// snapshot whose resources still resolve when served from another origin.
package sanitize

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// SnapshotMetaName marks a document as a static snapshot.
const SnapshotMetaName = "a11y-snapshot"

const (
	disableAnimationsCSS = `*, *::before, *::after {
	animation-duration: 0s !important;
	animation-delay: 0s !important;
	transition-duration: 0s !important;
	transition-delay: 0s !important;
}`
	freezeFixedCSS = `[style*="position: fixed"],
[style*="position:fixed"],
[style*="position: sticky"],
[style*="position:sticky"] {
	position: absolute !important;
}`
)

// InlineHandlerAttributes are the event handler attributes stripped from
// every element. Any other attribute starting with "on" is stripped too.
var InlineHandlerAttributes = []string{
	"onclick", "ondblclick", "onmousedown", "onmouseup", "onmouseover",
	"onmousemove", "onmouseout", "onmouseenter", "onmouseleave",
	"onkeydown", "onkeypress", "onkeyup",
	"onfocus", "onblur", "onchange", "oninput", "onsubmit", "onreset",
	"onload", "onerror", "onabort", "onunload", "onbeforeunload",
	"onscroll", "onresize", "onhashchange", "onpopstate",
	"ondrag", "ondragstart", "ondragend", "ondragenter", "ondragleave", "ondragover", "ondrop",
	"oncopy", "oncut", "onpaste",
	"ontouchstart", "ontouchmove", "ontouchend", "ontouchcancel",
	"onanimationstart", "onanimationend", "onanimationiteration",
	"ontransitionend", "onwheel", "oncontextmenu",
}

// urlAttribute is one element attribute holding a URL (or a srcset list).
type urlAttribute struct {
	selector string
	attr     string
	srcset   bool
}

var urlAttributes = []urlAttribute{
	{"a", "href", false},
	{"img", "src", false},
	{"img", "srcset", true},
	{"link", "href", false},
	{"source", "src", false},
	{"source", "srcset", true},
	{"video", "src", false},
	{"video", "poster", false},
	{"audio", "src", false},
	{"object", "data", false},
	{"embed", "src", false},
	{"track", "src", false},
}

// passthroughPrefixes are never resolved against the page URL.
var passthroughPrefixes = []string{"data:", "javascript:", "mailto:", "tel:", "#", "//"}

var styleURLPattern = regexp.MustCompile(`(?i)url\(\s*['"]?([^'")]+?)['"]?\s*\)`)

// Options toggles the optional transformations. The zero value disables
// all of them; use DefaultOptions for the snapshot behaviour.
type Options struct {
	DisableAnimations       bool
	FreezeFixedElements     bool
	RemoveThirdPartyIframes bool
}

// DefaultOptions enables every optional transformation.
func DefaultOptions() Options {
	return Options{
		DisableAnimations:       true,
		FreezeFixedElements:     true,
		RemoveThirdPartyIframes: true,
	}
}

// ErrInvalidBaseURL is returned when the page URL cannot anchor resolution.
var ErrInvalidBaseURL = errors.New("invalid base URL")

// Sanitize removes every executable construct from rawHTML, makes relative
// URLs absolute against baseURL and marks the result as a static snapshot.
// Malformed markup is repaired by the HTML5 parser; it never makes Sanitize
// fail. No network access is performed.
func Sanitize(rawHTML, baseURL string, opts Options) (string, error) {
	base, err := url.Parse(baseURL)
	if err != nil || !base.IsAbs() || base.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidBaseURL, baseURL)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}

	StripExecutable(doc)
	neutralizeForms(doc)

	if opts.RemoveThirdPartyIframes {
		removeThirdPartyIframes(doc, base)
	}

	for _, ua := range urlAttributes {
		doc.Find(ua.selector + "[" + ua.attr + "]").Each(func(_ int, s *goquery.Selection) {
			value, _ := s.Attr(ua.attr)
			if value == "" {
				return
			}
			if ua.srcset {
				s.SetAttr(ua.attr, RewriteSrcset(value, base))
			} else {
				s.SetAttr(ua.attr, ResolveURL(value, base))
			}
		})
	}

	doc.Find("[style]").Each(func(_ int, s *goquery.Selection) {
		style, _ := s.Attr("style")
		if style != "" {
			s.SetAttr("style", RewriteStyleURLs(style, base))
		}
	})

	// The HTML5 parser always synthesizes a head element.
	head := doc.Find("head").First()

	if opts.DisableAnimations {
		head.AppendNodes(styleNode("a11y-snapshot-disable-animations", disableAnimationsCSS))
	}
	if opts.FreezeFixedElements {
		head.AppendNodes(styleNode("a11y-snapshot-freeze-fixed", freezeFixedCSS))
	}

	head.PrependNodes(elementNode(atom.Meta,
		html.Attribute{Key: "name", Val: SnapshotMetaName},
		html.Attribute{Key: "content", Val: "static-visual-snapshot"},
	))
	if head.Find("base").Length() == 0 {
		head.PrependNodes(elementNode(atom.Base, html.Attribute{Key: "href", Val: base.String()}))
	}

	out, err := doc.Html()
	if err != nil {
		return "", fmt.Errorf("failed to render sanitized HTML: %w", err)
	}
	return out, nil
}

// StripExecutable removes script and noscript elements, every inline event
// handler and javascript: links from doc.
func StripExecutable(doc *goquery.Document) {
	doc.Find("script, noscript").Remove()
	doc.Find("*").Each(func(_ int, s *goquery.Selection) {
		stripHandlers(s.Get(0))
		if href, ok := s.Attr("href"); ok && hasPrefixFold(strings.TrimSpace(href), "javascript:") {
			s.SetAttr("href", "#")
		}
	})
}

// stripHandlers drops every on* attribute from n.
func stripHandlers(n *html.Node) {
	if n == nil {
		return
	}
	kept := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Namespace == "" && len(a.Key) > 2 && strings.HasPrefix(strings.ToLower(a.Key), "on") {
			continue
		}
		kept = append(kept, a)
	}
	n.Attr = kept
}

// neutralizeForms keeps forms from submitting anywhere. A button without a
// type attribute submits by default, so it is converted as well.
func neutralizeForms(doc *goquery.Document) {
	doc.Find("form").SetAttr("action", "#")
	doc.Find("button[type], input[type]").Each(func(_ int, s *goquery.Selection) {
		if typ, _ := s.Attr("type"); strings.EqualFold(strings.TrimSpace(typ), "submit") {
			s.SetAttr("type", "button")
		}
	})
	doc.Find("form button:not([type])").SetAttr("type", "button")
}

// removeThirdPartyIframes drops iframes whose src resolves to another host
// or does not parse. Iframes without a src stay.
func removeThirdPartyIframes(doc *goquery.Document, base *url.URL) {
	doc.Find("iframe[src]").Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		if src == "" {
			return
		}
		u, err := base.Parse(strings.TrimSpace(src))
		if err != nil || !strings.EqualFold(u.Hostname(), base.Hostname()) {
			s.Remove()
		}
	})
}

// ResolveURL makes raw absolute against base. Data, script, mail, phone,
// fragment and protocol-relative URLs are returned unchanged, as is anything
// that fails to parse.
func ResolveURL(raw string, base *url.URL) string {
	if raw == "" || base == nil {
		return raw
	}
	trimmed := strings.TrimSpace(raw)
	for _, p := range passthroughPrefixes {
		if hasPrefixFold(trimmed, p) {
			return raw
		}
	}
	ref, err := url.Parse(trimmed)
	if err != nil {
		return raw
	}
	return base.ResolveReference(ref).String()
}

// RewriteSrcset resolves every candidate URL of a srcset value and keeps its
// width or density descriptor. Candidates are separated by commas; a comma
// inside a URL such as a data URL does not split it.
func RewriteSrcset(value string, base *url.URL) string {
	const spaces = " \t\n\r\f"
	var candidates []string
	rest := value
	for {
		rest = strings.TrimLeft(rest, spaces+",")
		if rest == "" {
			break
		}
		end := strings.IndexAny(rest, spaces)
		if end < 0 {
			end = len(rest)
		}
		candidateURL := rest[:end]
		rest = rest[end:]

		var descriptor string
		if strings.HasSuffix(candidateURL, ",") {
			candidateURL = strings.TrimRight(candidateURL, ",")
		} else {
			comma := strings.IndexByte(rest, ',')
			if comma < 0 {
				descriptor, rest = rest, ""
			} else {
				descriptor, rest = rest[:comma], rest[comma+1:]
			}
			descriptor = strings.Join(strings.Fields(descriptor), " ")
		}

		candidate := ResolveURL(candidateURL, base)
		if descriptor != "" {
			candidate += " " + descriptor
		}
		candidates = append(candidates, candidate)
	}
	return strings.Join(candidates, ", ")
}

// RewriteStyleURLs resolves the url(...) references of an inline style.
func RewriteStyleURLs(style string, base *url.URL) string {
	return styleURLPattern.ReplaceAllStringFunc(style, func(match string) string {
		sub := styleURLPattern.FindStringSubmatch(match)
		if len(sub) < 2 {
			return match
		}
		return `url("` + ResolveURL(strings.TrimSpace(sub[1]), base) + `")`
	})
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

func elementNode(a atom.Atom, attrs ...html.Attribute) *html.Node {
	return &html.Node{Type: html.ElementNode, DataAtom: a, Data: a.String(), Attr: attrs}
}

func styleNode(id, css string) *html.Node {
	n := elementNode(atom.Style, html.Attribute{Key: "id", Val: id})
	n.AppendChild(&html.Node{Type: html.TextNode, Data: "\n" + css + "\n"})
	return n
}
