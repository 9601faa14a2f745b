package identify

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"

	"github.com/xkilldash9x/pagemap/api/schemas"
	"github.com/xkilldash9x/pagemap/internal/dom"
)

// Registry is the set of identifiers already issued during one generation
// pass. It must be created fresh per pass and threaded through explicitly.
// Keeping it an object (never package state) is what stops concurrent
// sessions from leaking identifiers into each other.
type Registry struct {
	used map[string]bool
}

// NewRegistry returns an empty per-pass registry.
func NewRegistry() *Registry {
	return &Registry{used: make(map[string]bool)}
}

// Claim reserves candidate, appending the first free integer suffix >= 2
// when it is already taken. The returned identifier is never empty and is
// unique within this registry's lifetime.
func (r *Registry) Claim(candidate string) string {
	if candidate == "" {
		candidate = "element"
	}
	if !r.used[candidate] {
		r.used[candidate] = true
		return candidate
	}
	for i := 2; ; i++ {
		withSuffix := fmt.Sprintf("%s-%d", candidate, i)
		if !r.used[withSuffix] {
			r.used[withSuffix] = true
			return withSuffix
		}
	}
}

// Len returns how many identifiers have been issued.
func (r *Registry) Len() int { return len(r.used) }

// Assign builds the identifier for a node: optional form-scope prefix, then
// the best name source (name attr > id attr > first three context words),
// then a type suffix, slugged to [a-z0-9-]. index is the node's position in
// the pass, used for the positional fallback when nothing else names it.
func Assign(r *Registry, n *html.Node, elemType schemas.ElementType, context string, index int) string {
	var parts []string

	if form := dom.AncestorForm(n); form != nil {
		scope := Slugify(dom.Attr(form, "name"))
		if scope == "" {
			scope = Slugify(dom.Attr(form, "id"))
		}
		if scope == "" {
			parts = append(parts, "form")
		} else {
			parts = append(parts, "form", scope)
		}
	}

	name := Slugify(dom.Attr(n, "name"))
	if name == "" {
		name = Slugify(dom.Attr(n, "id"))
	}
	if name == "" {
		name = firstWords(context, 3)
	}

	suffix := Slugify(string(elemType))

	if name == "" {
		if len(parts) == 0 {
			// Nothing names this node at all: fall back to its position.
			return r.Claim(fmt.Sprintf("%s-element-%d", suffix, index))
		}
		parts = append(parts, "unnamed", suffix)
		return r.Claim(strings.Join(parts, "-"))
	}

	parts = append(parts, name)
	// Avoid stuttering identifiers like "email-email" or "login-submit-submit".
	if name != suffix && !strings.HasSuffix(name, "-"+suffix) {
		parts = append(parts, suffix)
	}
	return r.Claim(strings.Join(parts, "-"))
}

// Slugify lowercases s and collapses every run of non [a-z0-9] characters
// into single hyphens.
func Slugify(s string) string {
	s = strings.ToLower(s)
	var sb strings.Builder
	prevDash := true // suppress a leading dash
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			sb.WriteRune(r)
			prevDash = false
		default:
			if !prevDash {
				sb.WriteByte('-')
				prevDash = true
			}
		}
	}
	return strings.TrimRight(sb.String(), "-")
}

// firstWords slugs the first n whitespace-separated words of context.
func firstWords(context string, n int) string {
	fields := strings.Fields(context)
	if len(fields) > n {
		fields = fields[:n]
	}
	return Slugify(strings.Join(fields, " "))
}
