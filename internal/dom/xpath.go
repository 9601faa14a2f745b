package dom

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// UniqueXPath builds a stable XPath address for a node. Elements with an id
// anchor the path there; otherwise each step carries a 1-based positional
// index among same-tag siblings, so the path stays valid as long as the
// document shape above the node does not change.
func UniqueXPath(n *html.Node) string {
	if n == nil {
		return ""
	}

	var steps []string
	anchored := false
	for cur := n; cur != nil && cur.Type != html.DocumentNode; cur = cur.Parent {
		if cur.Type != html.ElementNode {
			continue
		}
		tag := Tag(cur)
		if tag == "" {
			continue
		}

		if id := Attr(cur, "id"); id != "" && !strings.ContainsAny(id, `'"`) {
			steps = append(steps, fmt.Sprintf(`//*[@id='%s']`, id))
			anchored = true
			break
		}

		idx := 1
		for prev := cur.PrevSibling; prev != nil; prev = prev.PrevSibling {
			if prev.Type == html.ElementNode && strings.EqualFold(prev.Data, cur.Data) {
				idx++
			}
		}
		steps = append(steps, fmt.Sprintf("%s[%d]", tag, idx))
	}

	if len(steps) == 0 {
		return "/"
	}
	for i, j := 0, len(steps)-1; i < j; i, j = i+1, j-1 {
		steps[i], steps[j] = steps[j], steps[i]
	}

	path := strings.Join(steps, "/")
	if !anchored {
		path = "/" + path
	}
	return path
}
