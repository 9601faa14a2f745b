package manifest

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/pagemap/api/schemas"
)

// Render produces the human-readable view of a manifest: page heading,
// summary, then FORMS, NAVIGATION and OTHER CONTROLS sections. Each element
// renders as "description → identifier (action)" with the follow-up
// expectation appended when present. A pagination notice closes the output
// when more elements remain beyond the current window.
func Render(m *schemas.Manifest) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Page: %s (%s)\n", m.Title, m.URL)
	fmt.Fprintf(&b, "%s\n", m.Summary)

	if len(m.Forms) > 0 {
		b.WriteString("\nFORMS\n")
		for _, f := range m.Forms {
			label := f.Identifier
			if f.Name != "" {
				label = fmt.Sprintf("%s [%s]", f.Identifier, f.Name)
			}
			if f.Target != "" {
				fmt.Fprintf(&b, "%s (submits to %s)\n", label, f.Target)
			} else {
				fmt.Fprintf(&b, "%s\n", label)
			}
			for _, el := range f.Fields {
				writeElement(&b, el)
			}
			if f.Submit != nil {
				writeElement(&b, *f.Submit)
			}
		}
	}

	if len(m.Navigation) > 0 {
		b.WriteString("\nNAVIGATION\n")
		for _, g := range m.Navigation {
			fmt.Fprintf(&b, "%s:\n", strings.ToUpper(string(g.Bucket)[:1])+string(g.Bucket)[1:])
			for _, el := range g.Items {
				writeElement(&b, el)
			}
		}
	}

	if other := otherControls(m); len(other) > 0 {
		b.WriteString("\nOTHER CONTROLS\n")
		for _, el := range other {
			writeElement(&b, el)
		}
	}

	if p := m.Pagination; p != nil && p.HasMore {
		fmt.Fprintf(&b, "\nShowing elements %d-%d of %d (page %d of %d). More elements are available.\n",
			p.StartIndex+1, p.EndIndex, p.TotalElements, p.CurrentPage, p.TotalPages)
	}

	return b.String()
}

// otherControls returns elements that belong to neither a form nor a
// navigation bucket, in manifest order.
func otherControls(m *schemas.Manifest) []schemas.TaggedElement {
	placed := map[string]bool{}
	for _, g := range m.Navigation {
		for _, el := range g.Items {
			placed[el.Identifier] = true
		}
	}

	var out []schemas.TaggedElement
	for _, el := range m.Elements {
		if el.FormID != "" || placed[el.Identifier] {
			continue
		}
		out = append(out, el)
	}
	return out
}

func writeElement(b *strings.Builder, el schemas.TaggedElement) {
	desc := el.Description
	if desc == "" {
		desc = string(el.Type)
	}
	fmt.Fprintf(b, "  %s → %s (%s", desc, el.Identifier, el.Action)
	if h := el.FollowUp; h != nil && h.Kind != schemas.FollowUpNone {
		fmt.Fprintf(b, ", expect %s in ~%s", h.Kind, h.SettleIn)
	}
	b.WriteString(")\n")
}
