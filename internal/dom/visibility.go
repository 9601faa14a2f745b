package dom

import (
	"strings"

	"golang.org/x/net/html"
)

// Visibility here is attribute-level only: without a layout engine we cannot
// compute boxes or inherited styles, so we degrade to the checks that hold in
// every environment (hidden attribute, inline display/visibility/opacity
// patterns, aria-hidden) applied to the node and its ancestors. Backends with
// real style computation layer their own box check on top.

// IsVisible reports whether the node and all its element ancestors pass the
// attribute-level visibility checks.
func IsVisible(n *html.Node) bool {
	if n == nil || n.Type != html.ElementNode {
		return false
	}
	if Tag(n) == "input" && strings.EqualFold(Attr(n, "type"), "hidden") {
		return false
	}
	for p := n; p != nil; p = p.Parent {
		if p.Type != html.ElementNode {
			continue
		}
		if !nodeItselfVisible(p) {
			return false
		}
	}
	return true
}

func nodeItselfVisible(n *html.Node) bool {
	if HasAttr(n, "hidden") {
		return false
	}
	if strings.EqualFold(Attr(n, "aria-hidden"), "true") {
		return false
	}
	style := strings.ToLower(Attr(n, "style"))
	if style == "" {
		return true
	}
	style = strings.ReplaceAll(style, " ", "")
	if strings.Contains(style, "display:none") {
		return false
	}
	if strings.Contains(style, "visibility:hidden") {
		return false
	}
	if strings.Contains(style, "opacity:0;") || strings.HasSuffix(style, "opacity:0") {
		return false
	}
	return true
}

// IsDisabled reports whether the element is disabled directly, via
// aria-disabled, or through a disabled <fieldset>/<optgroup> ancestor.
func IsDisabled(n *html.Node) bool {
	if n == nil {
		return false
	}
	if HasAttr(n, "disabled") {
		return true
	}
	if strings.EqualFold(Attr(n, "aria-disabled"), "true") {
		return true
	}
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Type != html.ElementNode {
			continue
		}
		tag := Tag(p)
		if (tag == "fieldset" || tag == "optgroup") && HasAttr(p, "disabled") {
			return true
		}
	}
	return false
}
