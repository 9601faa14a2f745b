// Package dom holds pure helpers over the parsed HTML tree. Everything here
// is a function of a node and its parents so it stays testable without a
// rendering engine.
package dom

import (
	"strings"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

// Tag returns the lowercase element name, or "" for non-element nodes.
func Tag(n *html.Node) string {
	if n == nil || n.Type != html.ElementNode {
		return ""
	}
	return strings.ToLower(n.Data)
}

// Attr returns the value of the named attribute, or "" when absent.
func Attr(n *html.Node, key string) string {
	if n == nil {
		return ""
	}
	return htmlquery.SelectAttr(n, key)
}

// HasAttr reports whether the attribute is present, regardless of value.
func HasAttr(n *html.Node, key string) bool {
	if n == nil {
		return false
	}
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}

// SetAttr sets or replaces an attribute on the node.
func SetAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

// RemoveAttr deletes an attribute if present.
func RemoveAttr(n *html.Node, key string) {
	for i, a := range n.Attr {
		if a.Key == key {
			n.Attr = append(n.Attr[:i], n.Attr[i+1:]...)
			return
		}
	}
}

// Text returns the node's inner text with whitespace collapsed.
func Text(n *html.Node) string {
	if n == nil {
		return ""
	}
	return CollapseSpace(htmlquery.InnerText(n))
}

// TextCapped returns the collapsed inner text truncated to max runes, with an
// ellipsis when truncation occurred.
func TextCapped(n *html.Node, max int) string {
	t := Text(n)
	if max <= 0 || len(t) <= max {
		return t
	}
	r := []rune(t)
	if len(r) <= max {
		return t
	}
	return string(r[:max]) + "..."
}

// CollapseSpace trims a string and folds internal whitespace runs into
// single spaces.
func CollapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// AncestorForm returns the nearest <form> ancestor, or nil.
func AncestorForm(n *html.Node) *html.Node {
	return Ancestor(n, "form", -1)
}

// Ancestor walks up at most maxLevels parents (unbounded when maxLevels < 0)
// looking for an element with the given tag.
func Ancestor(n *html.Node, tag string, maxLevels int) *html.Node {
	if n == nil {
		return nil
	}
	levels := 0
	for p := n.Parent; p != nil; p = p.Parent {
		if maxLevels >= 0 && levels >= maxLevels {
			return nil
		}
		if p.Type == html.ElementNode && strings.EqualFold(p.Data, tag) {
			return p
		}
		levels++
	}
	return nil
}

// AncestorWhere walks up at most maxLevels parents returning the first
// element ancestor satisfying pred.
func AncestorWhere(n *html.Node, maxLevels int, pred func(*html.Node) bool) *html.Node {
	if n == nil {
		return nil
	}
	levels := 0
	for p := n.Parent; p != nil; p = p.Parent {
		if maxLevels >= 0 && levels >= maxLevels {
			return nil
		}
		if p.Type == html.ElementNode && pred(p) {
			return p
		}
		levels++
	}
	return nil
}

// Contains reports whether ancestor contains n (or is n itself).
func Contains(ancestor, n *html.Node) bool {
	for p := n; p != nil; p = p.Parent {
		if p == ancestor {
			return true
		}
	}
	return false
}

// FindByID returns the element with the given id attribute under root.
func FindByID(root *html.Node, id string) *html.Node {
	if root == nil || id == "" {
		return nil
	}
	var found *html.Node
	Walk(root, func(n *html.Node) bool {
		if n.Type == html.ElementNode && Attr(n, "id") == id {
			found = n
			return false
		}
		return true
	})
	return found
}

// FindByXPath returns the first match for the expression under root, or nil
// on no match or a bad expression.
func FindByXPath(root *html.Node, xpath string) *html.Node {
	if root == nil {
		return nil
	}
	n, err := htmlquery.Query(root, xpath)
	if err != nil {
		return nil
	}
	return n
}

// Walk visits root and its descendants in document order. The visitor
// returns false to stop the walk.
func Walk(root *html.Node, visit func(*html.Node) bool) {
	if root == nil {
		return
	}
	stop := false
	var rec func(*html.Node)
	rec = func(n *html.Node) {
		if stop {
			return
		}
		if !visit(n) {
			stop = true
			return
		}
		for c := n.FirstChild; c != nil && !stop; c = c.NextSibling {
			rec(c)
		}
	}
	rec(root)
}

// OwnText returns text belonging directly to n and to descendants that are
// not themselves form controls. Used to strip a control's own text when
// deriving a label from an ancestor <label>.
func OwnText(n *html.Node, exclude *html.Node) string {
	if n == nil {
		return ""
	}
	var sb strings.Builder
	var rec func(*html.Node)
	rec = func(cur *html.Node) {
		if cur == exclude {
			return
		}
		if cur.Type == html.TextNode {
			sb.WriteString(cur.Data)
			sb.WriteString(" ")
		}
		for c := cur.FirstChild; c != nil; c = c.NextSibling {
			rec(c)
		}
	}
	rec(n)
	return CollapseSpace(sb.String())
}
