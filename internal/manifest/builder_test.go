package manifest

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/pagemap/api/schemas"
	"github.com/xkilldash9x/pagemap/internal/dom"
)

func parseDoc(t *testing.T, body string) *html.Node {
	t.Helper()
	doc, err := html.Parse(strings.NewReader("<html><head></head><body>" + body + "</body></html>"))
	require.NoError(t, err)
	return doc
}

func mustFind(t *testing.T, doc *html.Node, id string) *html.Node {
	t.Helper()
	n := dom.FindByID(doc, id)
	require.NotNil(t, n, "no element with id %q", id)
	return n
}

func item(el schemas.TaggedElement, n *html.Node) Item {
	return Item{Element: el, Node: n}
}

func TestBuildEmailForm(t *testing.T) {
	doc := parseDoc(t, `
		<form id="signup" action="/register">
			<input id="em" type="email" name="email" required>
			<button id="go" type="submit">Create account</button>
		</form>`)

	items := []Item{
		item(schemas.TaggedElement{
			Identifier: "form-signup-email", Type: schemas.ElementEmail,
			Action: schemas.ActionFill, Description: "Email",
		}, mustFind(t, doc, "em")),
		item(schemas.TaggedElement{
			Identifier: "form-signup-submit", Type: schemas.ElementSubmit,
			Action: schemas.ActionClick, Description: "Create account",
		}, mustFind(t, doc, "go")),
	}

	m := Build(items, Meta{PassID: "p1", URL: "https://x.test/", Title: "Sign up", Generated: time.Now()})

	require.Len(t, m.Forms, 1)
	f := m.Forms[0]
	assert.Equal(t, "form-signup", f.Identifier)
	assert.Equal(t, "/register", f.Target)
	require.Len(t, f.Fields, 1)
	assert.Equal(t, "form-signup-email", f.Fields[0].Identifier)
	assert.Equal(t, schemas.ActionFill, f.Fields[0].Action)
	require.NotNil(t, f.Submit)
	assert.Equal(t, "form-signup-submit", f.Submit.Identifier)

	// FormID is back-filled onto the flat element list too.
	for _, el := range m.Elements {
		assert.Equal(t, "form-signup", el.FormID)
	}
	assert.Empty(t, m.Navigation)
}

func TestBuildUnnamedFormsGetOrdinalIdentity(t *testing.T) {
	doc := parseDoc(t, `
		<form><input id="a" type="text"></form>
		<form><input id="b" type="text"></form>`)

	items := []Item{
		item(schemas.TaggedElement{Identifier: "a", Type: schemas.ElementText, Action: schemas.ActionFill}, mustFind(t, doc, "a")),
		item(schemas.TaggedElement{Identifier: "b", Type: schemas.ElementText, Action: schemas.ActionFill}, mustFind(t, doc, "b")),
	}

	m := Build(items, Meta{})
	require.Len(t, m.Forms, 2)
	assert.Equal(t, "form-1", m.Forms[0].Identifier)
	assert.Equal(t, "form-2", m.Forms[1].Identifier)
}

func TestBuildNavigationBuckets(t *testing.T) {
	doc := parseDoc(t, `
		<nav><a id="home" href="/">Home</a></nav>
		<ol class="breadcrumb"><li><a id="crumb" href="/docs">Docs</a></li></ol>
		<div role="tablist"><button id="tab1" role="tab">Overview</button></div>
		<a id="loose" href="/pricing">Pricing</a>`)

	items := []Item{
		item(schemas.TaggedElement{Identifier: "home", Type: schemas.ElementLink, Action: schemas.ActionClick}, mustFind(t, doc, "home")),
		item(schemas.TaggedElement{Identifier: "docs", Type: schemas.ElementLink, Action: schemas.ActionClick}, mustFind(t, doc, "crumb")),
		item(schemas.TaggedElement{Identifier: "overview-tab", Type: schemas.ElementTab, Action: schemas.ActionClick}, mustFind(t, doc, "tab1")),
		item(schemas.TaggedElement{Identifier: "pricing", Type: schemas.ElementLink, Action: schemas.ActionClick}, mustFind(t, doc, "loose")),
	}

	m := Build(items, Meta{})

	require.Len(t, m.Navigation, 4)
	assert.Equal(t, schemas.NavMain, m.Navigation[0].Bucket)
	assert.Equal(t, "home", m.Navigation[0].Items[0].Identifier)
	assert.Equal(t, schemas.NavBreadcrumb, m.Navigation[1].Bucket)
	assert.Equal(t, schemas.NavTabs, m.Navigation[2].Bucket)
	assert.Equal(t, schemas.NavMenu, m.Navigation[3].Bucket)
	assert.Equal(t, "pricing", m.Navigation[3].Items[0].Identifier)
}

func TestBuildNavAncestorWinsOverBreadcrumb(t *testing.T) {
	// A breadcrumb trail wrapped in a nav landmark still files under main;
	// the nav-ancestor rule matches first.
	doc := parseDoc(t, `<nav aria-label="Breadcrumb"><a id="c" href="/a">A</a></nav>`)

	items := []Item{
		item(schemas.TaggedElement{Identifier: "a", Type: schemas.ElementLink, Action: schemas.ActionClick}, mustFind(t, doc, "c")),
	}

	m := Build(items, Meta{})
	require.Len(t, m.Navigation, 1)
	assert.Equal(t, schemas.NavMain, m.Navigation[0].Bucket)
}

func TestBuildBreadcrumbOutsideNav(t *testing.T) {
	doc := parseDoc(t, `<div aria-label="breadcrumb"><a id="c" href="/a">A</a></div>`)

	items := []Item{
		item(schemas.TaggedElement{Identifier: "a", Type: schemas.ElementLink, Action: schemas.ActionClick}, mustFind(t, doc, "c")),
	}

	m := Build(items, Meta{})
	require.Len(t, m.Navigation, 1)
	assert.Equal(t, schemas.NavBreadcrumb, m.Navigation[0].Bucket)
}

func TestBuildEmptyBucketsOmitted(t *testing.T) {
	doc := parseDoc(t, `<button id="b">Go</button>`)
	items := []Item{
		item(schemas.TaggedElement{Identifier: "go-button", Type: schemas.ElementButton, Action: schemas.ActionClick}, mustFind(t, doc, "b")),
	}
	m := Build(items, Meta{})
	assert.Empty(t, m.Forms)
	assert.Empty(t, m.Navigation)
	require.Len(t, m.Elements, 1)
}

func TestSummaryLine(t *testing.T) {
	doc := parseDoc(t, `
		<form name="login"><input id="u" type="text"></form>
		<nav><a id="h" href="/">Home</a></nav>`)

	items := []Item{
		item(schemas.TaggedElement{Identifier: "form-login-u", Type: schemas.ElementText, Action: schemas.ActionFill}, mustFind(t, doc, "u")),
		item(schemas.TaggedElement{Identifier: "home", Type: schemas.ElementLink, Action: schemas.ActionClick}, mustFind(t, doc, "h")),
	}

	m := Build(items, Meta{})
	assert.Equal(t, "2 interactive elements; forms: login; navigation: main", m.Summary)
}

func TestRenderSections(t *testing.T) {
	doc := parseDoc(t, `
		<form id="login" action="/session">
			<input id="em" type="email" name="email">
			<button id="go" type="submit">Log in</button>
		</form>
		<nav><a id="home" href="/">Home</a></nav>
		<button id="cookie">Accept cookies</button>`)

	items := []Item{
		item(schemas.TaggedElement{
			Identifier: "form-login-email", Type: schemas.ElementEmail,
			Action: schemas.ActionFill, Description: "Email address",
		}, mustFind(t, doc, "em")),
		item(schemas.TaggedElement{
			Identifier: "form-login-submit", Type: schemas.ElementSubmit,
			Action: schemas.ActionClick, Description: "Log in",
			FollowUp: &schemas.FollowUpHint{Kind: schemas.FollowUpNavigation, SettleIn: 3 * time.Second},
		}, mustFind(t, doc, "go")),
		item(schemas.TaggedElement{
			Identifier: "home", Type: schemas.ElementLink,
			Action: schemas.ActionClick, Description: "Home",
		}, mustFind(t, doc, "home")),
		item(schemas.TaggedElement{
			Identifier: "accept-cookies-button", Type: schemas.ElementButton,
			Action: schemas.ActionClick, Description: "Accept cookies",
		}, mustFind(t, doc, "cookie")),
	}

	m := Build(items, Meta{URL: "https://x.test/login", Title: "Login"})
	out := Render(m)

	assert.Contains(t, out, "Page: Login (https://x.test/login)")
	assert.Contains(t, out, "FORMS\n")
	assert.Contains(t, out, "form-login (submits to /session)")
	assert.Contains(t, out, "Email address → form-login-email (fill)")
	assert.Contains(t, out, "Log in → form-login-submit (click, expect navigation in ~3s)")
	assert.Contains(t, out, "NAVIGATION\n")
	assert.Contains(t, out, "Home → home (click)")
	assert.Contains(t, out, "OTHER CONTROLS\n")
	assert.Contains(t, out, "Accept cookies → accept-cookies-button (click)")
	assert.NotContains(t, out, "More elements are available")
}

func TestRenderPaginationNotice(t *testing.T) {
	m := &schemas.Manifest{
		Title: "Big page", URL: "https://x.test/",
		Pagination: &schemas.PaginationInfo{
			TotalElements: 300, ReturnedElements: 150,
			StartIndex: 0, EndIndex: 150, HasMore: true,
			CurrentPage: 1, TotalPages: 2, WindowSize: 150,
		},
	}
	out := Render(m)
	assert.Contains(t, out, "Showing elements 1-150 of 300 (page 1 of 2)")
	assert.Contains(t, out, "More elements are available")
}
