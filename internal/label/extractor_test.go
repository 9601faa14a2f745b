package label

import (
	"strings"
	"testing"

	"github.com/antchfx/htmlquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/pagemap/internal/dom"
)

func parsePage(t *testing.T, body string) *html.Node {
	t.Helper()
	doc, err := htmlquery.Parse(strings.NewReader("<html><head></head><body>" + body + "</body></html>"))
	require.NoError(t, err)
	return doc
}

func contextFor(t *testing.T, body, id string) string {
	t.Helper()
	doc := parsePage(t, body)
	n := dom.FindByID(doc, id)
	require.NotNil(t, n, "element %q not found", id)
	return NewExtractor(doc).Context(n)
}

func TestContextPriorityChain(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{
			name: "label for beats everything",
			body: `<label for="e">Work Email</label>
			       <input id="e" aria-label="x" placeholder="y" name="z">`,
			want: "Work Email",
		},
		{
			name: "wrapping label strips control text",
			body: `<label>Remember me <input id="e" type="checkbox"></label>`,
			want: "Remember me",
		},
		{
			name: "aria-labelledby resolves targets in order",
			body: `<span id="a">Shipping</span><span id="b">Address</span>
			       <input id="e" aria-labelledby="a b">`,
			want: "Shipping Address",
		},
		{
			name: "aria-label",
			body: `<button id="e" aria-label="Close dialog">×</button>`,
			want: "Close dialog",
		},
		{
			name: "title",
			body: `<input id="e" title="Search terms">`,
			want: "Search terms",
		},
		{
			name: "placeholder",
			body: `<input id="e" placeholder="you@example.com">`,
			want: "you@example.com",
		},
		{
			name: "name attribute humanized",
			body: `<input id="e" name="billing_zip-code">`,
			want: "billing zip code",
		},
		{
			name: "id fallback humanized",
			body: `<div><input id="user-search"></div>`,
			want: "user search",
		},
		{
			name: "nearby heading",
			body: `<section><h2>Payment Details</h2><div><input id="e" type="text"></div></section>`,
			want: "Payment Details",
		},
		{
			name: "own text for buttons",
			body: `<div><button id="e" class="btn">  Add to cart  </button></div>`,
			want: "Add to cart",
		},
		{
			name: "no source yields empty",
			body: `<div><input id="e" type="text" class="x"></div>`,
			want: "",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := contextFor(t, tc.body, idIn(tc.body))
			assert.Equal(t, tc.want, got)
		})
	}
}

// idIn pulls out the test element id; every fixture tags it "e" except the
// id-fallback case.
func idIn(body string) string {
	if strings.Contains(body, `id="e"`) {
		return "e"
	}
	return "user-search"
}

func TestNearbyHeadingPicksClosestPreceding(t *testing.T) {
	body := `
		<section>
			<h2>Outer Section</h2>
			<div>
				<h3>Inner Group</h3>
				<input id="e" type="text">
				<h3>After (must not match)</h3>
			</div>
		</section>`
	assert.Equal(t, "Inner Group", contextFor(t, body, "e"))
}

func TestNearbyHeadingBounded(t *testing.T) {
	// Heading is seven ancestor levels up, beyond the bounded walk.
	body := `<section><h2>Too Far</h2>
		<div><div><div><div><div><div><div>
			<input id="e" type="text">
		</div></div></div></div></div></div></div></section>`
	assert.Equal(t, "", contextFor(t, body, "e"))
}

func TestLegendActsAsHeading(t *testing.T) {
	body := `<form><fieldset><legend>Delivery Options</legend>
		<input id="e" type="radio" value="express"></fieldset></form>`
	assert.Equal(t, "Delivery Options", contextFor(t, body, "e"))
}

func TestOwnTextCapped(t *testing.T) {
	long := strings.Repeat("word ", 40)
	body := `<button id="e">` + long + `</button>`
	got := contextFor(t, body, "e")
	assert.LessOrEqual(t, len(got), maxOwnTextLen+3)
	assert.True(t, strings.HasSuffix(got, "..."))
}

func TestLinkUsesOwnText(t *testing.T) {
	body := `<a id="e" href="/pricing">View pricing</a>`
	assert.Equal(t, "View pricing", contextFor(t, body, "e"))
}
