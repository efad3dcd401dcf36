// internal/browser/dom/xpath.go
package dom

import (
	"fmt"
	"strings"

	"github.com/andybalholm/cascadia"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

// GenerateUniqueXPath builds an absolute XPath for node. The nearest
// ancestor with an id anchors the path, which keeps it short and stable
// across unrelated layout changes.
func GenerateUniqueXPath(node *html.Node) string {
	if node == nil {
		return ""
	}

	var path []string
	for n := node; n != nil && n.Type != html.DocumentNode; n = n.Parent {
		if n.Type != html.ElementNode {
			continue
		}
		tag := strings.ToLower(n.Data)
		if tag == "" {
			continue
		}

		if id := htmlquery.SelectAttr(n, "id"); id != "" && !strings.Contains(id, "'") {
			path = append(path, fmt.Sprintf(`//*[@id='%s']`, id))
			break
		}

		// XPath positions are 1-based and count same-tag siblings only.
		index := 1
		for prev := n.PrevSibling; prev != nil; prev = prev.PrevSibling {
			if prev.Type == html.ElementNode && strings.ToLower(prev.Data) == tag {
				index++
			}
		}
		path = append(path, fmt.Sprintf("%s[%d]", tag, index))
	}

	if len(path) == 0 {
		return "/"
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}

	xpath := strings.Join(path, "/")
	if !strings.HasPrefix(xpath, "//*[@id=") {
		xpath = "/" + xpath
	}
	return xpath
}

// Document is a parsed snapshot of a page used to name elements by XPath.
type Document struct {
	root *html.Node
}

// ParseDocument parses rawHTML. Malformed markup is repaired, not rejected.
func ParseDocument(rawHTML string) (*Document, error) {
	root, err := htmlquery.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}
	return &Document{root: root}, nil
}

// XPathFor returns the XPath of the first element matching the CSS
// selector. It reports false when the selector is invalid, matches nothing,
// or the generated path does not select that same element (duplicate ids).
func (d *Document) XPathFor(selector string) (string, bool) {
	if d == nil || d.root == nil || selector == "" {
		return "", false
	}
	sel, err := cascadia.Compile(selector)
	if err != nil {
		return "", false
	}
	node := sel.MatchFirst(d.root)
	if node == nil {
		return "", false
	}

	xpath := GenerateUniqueXPath(node)
	found, err := htmlquery.Query(d.root, xpath)
	if err != nil || found != node {
		return "", false
	}
	return xpath, true
}
