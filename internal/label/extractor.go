// Package label derives the best available human-readable context string for
// a DOM node. The extraction chain is a strict priority order; the first
// source that yields text wins, and a node with no usable source gets "".
package label

import (
	"strings"

	"golang.org/x/net/html"

	"github.com/xkilldash9x/pagemap/internal/dom"
)

const (
	// ancestorLevels bounds the upward walk for <label> wrapping and the
	// nearby-heading search.
	ancestorLevels = 5
	// maxOwnTextLen caps labels taken from an element's own text.
	maxOwnTextLen = 80
)

// Extractor resolves context strings against one document root. The root is
// needed for id-based association (label[for], aria-labelledby).
type Extractor struct {
	root *html.Node
}

// NewExtractor returns an extractor bound to the given document.
func NewExtractor(root *html.Node) *Extractor {
	return &Extractor{root: root}
}

// Context returns the best label for n, trying each source in priority
// order: explicit association, ARIA/title, placeholder, name/id, a nearby
// heading, then the element's own text for button-like elements.
func (e *Extractor) Context(n *html.Node) string {
	if n == nil {
		return ""
	}

	if s := e.explicitLabel(n); s != "" {
		return s
	}
	if s := dom.CollapseSpace(dom.Attr(n, "aria-label")); s != "" {
		return s
	}
	if s := dom.CollapseSpace(dom.Attr(n, "title")); s != "" {
		return s
	}
	if s := dom.CollapseSpace(dom.Attr(n, "placeholder")); s != "" {
		return s
	}
	if s := humanize(dom.Attr(n, "name")); meaningful(s) {
		return s
	}
	if s := humanize(dom.Attr(n, "id")); meaningful(s) {
		return s
	}
	if s := e.nearbyHeading(n); s != "" {
		return s
	}
	if isTextBearing(n) {
		return dom.TextCapped(n, maxOwnTextLen)
	}
	return ""
}

// explicitLabel resolves label[for], a wrapping <label> ancestor (with the
// control's own text stripped), and aria-labelledby, in that order.
func (e *Extractor) explicitLabel(n *html.Node) string {
	if id := dom.Attr(n, "id"); id != "" && e.root != nil {
		if lbl := e.findLabelFor(id); lbl != nil {
			if s := dom.Text(lbl); s != "" {
				return s
			}
		}
	}

	if wrap := dom.Ancestor(n, "label", ancestorLevels); wrap != nil {
		if s := dom.OwnText(wrap, n); s != "" {
			return s
		}
	}

	if ref := dom.Attr(n, "aria-labelledby"); ref != "" && e.root != nil {
		var parts []string
		for _, id := range strings.Fields(ref) {
			if target := dom.FindByID(e.root, id); target != nil {
				if s := dom.Text(target); s != "" {
					parts = append(parts, s)
				}
			}
		}
		if len(parts) > 0 {
			return strings.Join(parts, " ")
		}
	}
	return ""
}

func (e *Extractor) findLabelFor(id string) *html.Node {
	var found *html.Node
	dom.Walk(e.root, func(cur *html.Node) bool {
		if dom.Tag(cur) == "label" && dom.Attr(cur, "for") == id {
			found = cur
			return false
		}
		return true
	})
	return found
}

// nearbyHeading walks up a bounded number of ancestor levels looking for the
// closest heading that precedes the node in document order.
func (e *Extractor) nearbyHeading(n *html.Node) string {
	ancestor := n.Parent
	for level := 0; level < ancestorLevels && ancestor != nil; level++ {
		var last *html.Node
		dom.Walk(ancestor, func(cur *html.Node) bool {
			if cur == n {
				return false // only headings before the node count
			}
			if isHeading(cur) && !dom.Contains(cur, n) {
				last = cur
			}
			return true
		})
		if last != nil {
			if s := dom.Text(last); s != "" {
				return s
			}
		}
		ancestor = ancestor.Parent
	}
	return ""
}

func isHeading(n *html.Node) bool {
	switch dom.Tag(n) {
	case "h1", "h2", "h3", "h4", "h5", "h6":
		return true
	case "legend":
		return true
	}
	return false
}

// isTextBearing reports whether the element's own text is a sensible label
// (buttons, links, and their ARIA equivalents).
func isTextBearing(n *html.Node) bool {
	switch dom.Tag(n) {
	case "a", "button", "summary", "option":
		return true
	}
	switch dom.Attr(n, "role") {
	case "button", "link", "tab", "menuitem":
		return true
	}
	return false
}

// meaningful filters out attribute values too short to serve as a label,
// like the single-letter ids frameworks generate.
func meaningful(s string) bool {
	if len(s) < 3 {
		return false
	}
	return strings.ContainsFunc(s, func(r rune) bool {
		return r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z'
	})
}

// humanize turns attribute identifiers like "billing_zip-code" into
// "billing zip code" so they read as labels and slug cleanly.
func humanize(s string) string {
	if s == "" {
		return ""
	}
	repl := strings.NewReplacer("_", " ", "-", " ", ".", " ", "[", " ", "]", " ")
	return dom.CollapseSpace(repl.Replace(s))
}
