// Package manifest assembles tagged elements into the structured page
// manifest: flat element list, form groups, navigation buckets and an
// at-a-glance summary line.
package manifest

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/xkilldash9x/pagemap/api/schemas"
	"github.com/xkilldash9x/pagemap/internal/dom"
	"github.com/xkilldash9x/pagemap/internal/identify"
)

// Item pairs a tagged element with the DOM node it was derived from. The
// node is needed for structural grouping (ancestor forms, nav landmarks)
// and never leaves this package.
type Item struct {
	Element schemas.TaggedElement
	Node    *html.Node
}

// Meta carries the pass-level fields of the manifest.
type Meta struct {
	PassID     string
	URL        string
	Title      string
	Pagination *schemas.PaginationInfo
	Generated  time.Time
}

// Build partitions items into form groups and navigation buckets and
// returns the assembled manifest. Items keep their input order; grouping
// never reorders elements, it only layers structure on top. Elements that
// belong to a form get their FormID back-filled so callers can propagate
// it to the correlation bridge.
func Build(items []Item, meta Meta) *schemas.Manifest {
	m := &schemas.Manifest{
		PassID:     meta.PassID,
		URL:        meta.URL,
		Title:      meta.Title,
		Pagination: meta.Pagination,
		Generated:  meta.Generated,
	}

	formIDs := assignForms(items)

	for i := range items {
		items[i].Element.FormID = formIDs[i]
		m.Elements = append(m.Elements, items[i].Element)
	}

	m.Forms = buildForms(items, formIDs)
	m.Navigation = buildNavigation(items, formIDs)
	m.Summary = summarize(m)
	return m
}

// assignForms maps each item index to its form group identifier. Groups
// are numbered in order of first appearance so unnamed forms still get
// stable identifiers within a pass.
func assignForms(items []Item) []string {
	ids := make([]string, len(items))
	byForm := map[*html.Node]string{}
	ordinal := 0

	for i, it := range items {
		form := dom.AncestorForm(it.Node)
		if form == nil {
			continue
		}
		id, ok := byForm[form]
		if !ok {
			ordinal++
			id = formIdentity(form, ordinal)
			byForm[form] = id
		}
		ids[i] = id
	}
	return ids
}

func formIdentity(form *html.Node, ordinal int) string {
	name := identify.Slugify(dom.Attr(form, "name"))
	if name == "" {
		name = identify.Slugify(dom.Attr(form, "id"))
	}
	if name == "" {
		return fmt.Sprintf("form-%d", ordinal)
	}
	return "form-" + name
}

func buildForms(items []Item, formIDs []string) []schemas.FormGroup {
	var out []schemas.FormGroup
	index := map[string]int{}

	for i, it := range items {
		id := formIDs[i]
		if id == "" {
			continue
		}
		gi, ok := index[id]
		if !ok {
			form := dom.AncestorForm(it.Node)
			name := dom.Attr(form, "name")
			if name == "" {
				name = dom.Attr(form, "id")
			}
			out = append(out, schemas.FormGroup{
				Identifier: id,
				Name:       name,
				Target:     dom.Attr(form, "action"),
			})
			gi = len(out) - 1
			index[id] = gi
		}

		el := it.Element
		el.FormID = id
		if el.Type == schemas.ElementSubmit && out[gi].Submit == nil {
			sub := el
			out[gi].Submit = &sub
			continue
		}
		out[gi].Fields = append(out[gi].Fields, el)
	}
	return out
}

// buildNavigation sorts link-like elements into the fixed bucket order
// main, breadcrumb, tabs, menu. An element lands in exactly one bucket;
// precedence follows that order. Empty buckets are omitted.
func buildNavigation(items []Item, formIDs []string) []schemas.NavigationGroup {
	buckets := map[schemas.NavigationBucket][]schemas.TaggedElement{}

	for i, it := range items {
		if formIDs[i] != "" {
			continue
		}
		bucket, ok := classifyNav(it)
		if !ok {
			continue
		}
		buckets[bucket] = append(buckets[bucket], it.Element)
	}

	var out []schemas.NavigationGroup
	for _, b := range []schemas.NavigationBucket{
		schemas.NavMain, schemas.NavBreadcrumb, schemas.NavTabs, schemas.NavMenu,
	} {
		if els := buckets[b]; len(els) > 0 {
			out = append(out, schemas.NavigationGroup{Bucket: b, Items: els})
		}
	}
	return out
}

func classifyNav(it Item) (schemas.NavigationBucket, bool) {
	switch it.Element.Type {
	case schemas.ElementTab:
		return schemas.NavTabs, true
	case schemas.ElementMenuItem:
		return schemas.NavMenu, true
	case schemas.ElementLink:
		// First match wins: a nav ancestor beats a breadcrumb container.
		if dom.AncestorWhere(it.Node, -1, func(a *html.Node) bool {
			return dom.Tag(a) == "nav" || strings.EqualFold(dom.Attr(a, "role"), "navigation")
		}) != nil {
			return schemas.NavMain, true
		}
		if inBreadcrumb(it.Node) {
			return schemas.NavBreadcrumb, true
		}
		return schemas.NavMenu, true
	}
	return "", false
}

func inBreadcrumb(n *html.Node) bool {
	return dom.AncestorWhere(n, -1, func(a *html.Node) bool {
		if strings.Contains(strings.ToLower(dom.Attr(a, "class")), "breadcrumb") {
			return true
		}
		return strings.Contains(strings.ToLower(dom.Attr(a, "aria-label")), "breadcrumb")
	}) != nil
}

// summarize produces the one-line overview: element count, form names and
// the navigation buckets present.
func summarize(m *schemas.Manifest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d interactive elements", len(m.Elements))

	if len(m.Forms) > 0 {
		names := make([]string, 0, len(m.Forms))
		for _, f := range m.Forms {
			if f.Name != "" {
				names = append(names, f.Name)
			} else {
				names = append(names, f.Identifier)
			}
		}
		fmt.Fprintf(&b, "; forms: %s", strings.Join(names, ", "))
	}
	if len(m.Navigation) > 0 {
		kinds := make([]string, 0, len(m.Navigation))
		for _, g := range m.Navigation {
			kinds = append(kinds, string(g.Bucket))
		}
		fmt.Fprintf(&b, "; navigation: %s", strings.Join(kinds, ", "))
	}
	return b.String()
}
