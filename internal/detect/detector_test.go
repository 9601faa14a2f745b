package detect

import (
	"fmt"
	"strings"
	"testing"

	"github.com/antchfx/htmlquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/pagemap/internal/dom"
)

func parsePage(t *testing.T, body string) *html.Node {
	t.Helper()
	doc, err := htmlquery.Parse(strings.NewReader("<html><head></head><body>" + body + "</body></html>"))
	require.NoError(t, err)
	return doc
}

func TestDetectFindsInteractiveSurface(t *testing.T) {
	doc := parsePage(t, `
		<form>
			<input type="text" name="q">
			<input type="hidden" name="csrf" value="tok">
			<select name="lang"><option>Go</option></select>
			<textarea name="notes"></textarea>
			<button type="submit">Search</button>
		</form>
		<a href="/docs">Docs</a>
		<a>no href, not a candidate</a>
		<div role="button" tabindex="0">Fake button</div>
		<span onclick="go()">click me</span>
		<p contenteditable="true">edit me</p>
		<input type="text" name="off" disabled>
		<input type="text" name="ro" readonly>
		<button hidden>ghost</button>`)

	d := NewDetector(zap.NewNop())
	nodes, skipped := d.Detect(doc)
	assert.Empty(t, skipped)

	var tags []string
	for _, n := range nodes {
		tags = append(tags, dom.Tag(n))
	}
	assert.Equal(t, []string{"input", "select", "textarea", "button", "a", "div", "span", "p"}, tags)
}

func TestDetectDedupesAcrossSelectors(t *testing.T) {
	// One element matching four different selectors must appear exactly once.
	doc := parsePage(t, `<a id="multi" href="/x" role="link" onclick="f()" tabindex="0">x</a>`)

	d := NewDetector(zap.NewNop())
	nodes, _ := d.Detect(doc)
	require.Len(t, nodes, 1)
	assert.Equal(t, "multi", dom.Attr(nodes[0], "id"))
}

func TestDetectIsDeterministic(t *testing.T) {
	doc := parsePage(t, `
		<nav><a href="/a">A</a><a href="/b">B</a></nav>
		<form><input name="x"><button>Go</button></form>
		<div role="tab">T1</div><div role="tab">T2</div>`)

	d := NewDetector(zap.NewNop())
	first, _ := d.Detect(doc)
	second, _ := d.Detect(doc)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Same(t, first[i], second[i], "position %d differs between passes", i)
	}
}

func TestDetectEmptyDocument(t *testing.T) {
	d := NewDetector(zap.NewNop())
	nodes, skipped := d.Detect(nil)
	assert.Nil(t, nodes)
	assert.Nil(t, skipped)

	doc := parsePage(t, `<p>nothing interactive here</p>`)
	nodes, _ = d.Detect(doc)
	assert.Empty(t, nodes)
}

func buildManyLinks(t *testing.T, n int) *html.Node {
	var sb strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&sb, `<a href="/item/%d">Item %d</a>`, i, i)
	}
	return parsePage(t, sb.String())
}

func TestWindowArithmetic(t *testing.T) {
	doc := buildManyLinks(t, 300)
	d := NewDetector(zap.NewNop())
	all, _ := d.Detect(doc)
	require.Len(t, all, 300)

	page1, info1 := Window(all, WindowOptions{Size: 150, Start: 0})
	require.NotNil(t, info1)
	assert.Len(t, page1, 150)
	assert.Equal(t, 0, info1.StartIndex)
	assert.Equal(t, 150, info1.EndIndex)
	assert.True(t, info1.HasMore)
	assert.Equal(t, 1, info1.CurrentPage)
	assert.Equal(t, 2, info1.TotalPages)

	page2, info2 := Window(all, WindowOptions{Size: 150, Start: 150})
	assert.Len(t, page2, 150)
	assert.Equal(t, 150, info2.StartIndex)
	assert.Equal(t, 300, info2.EndIndex)
	assert.False(t, info2.HasMore)
	assert.Equal(t, 2, info2.CurrentPage)
}

func TestWindowCompleteness(t *testing.T) {
	// The union of all pages must equal the full set, no dupes, no gaps.
	const total, size = 47, 10
	doc := buildManyLinks(t, total)
	d := NewDetector(zap.NewNop())
	all, _ := d.Detect(doc)
	require.Len(t, all, total)

	seen := make(map[*html.Node]int)
	var pages int
	for start := 0; ; start += size {
		window, info := Window(all, WindowOptions{Size: size, Start: start})
		pages++
		for _, n := range window {
			seen[n]++
		}
		require.NotNil(t, info)
		if !info.HasMore {
			assert.Equal(t, info.TotalPages, pages)
			break
		}
	}

	assert.Len(t, seen, total)
	for n, count := range seen {
		assert.Equal(t, 1, count, "node %s seen %d times", dom.Attr(n, "href"), count)
	}
}

func TestWindowUnbounded(t *testing.T) {
	doc := buildManyLinks(t, 5)
	d := NewDetector(zap.NewNop())
	all, _ := d.Detect(doc)

	window, info := Window(all, WindowOptions{})
	assert.Len(t, window, 5)
	assert.Nil(t, info, "no pagination info without a window size")
}

func TestWindowStartBeyondTotal(t *testing.T) {
	doc := buildManyLinks(t, 3)
	d := NewDetector(zap.NewNop())
	all, _ := d.Detect(doc)

	window, info := Window(all, WindowOptions{Size: 10, Start: 50})
	assert.Empty(t, window)
	require.NotNil(t, info)
	assert.False(t, info.HasMore)
	assert.Equal(t, 3, info.TotalElements)
	assert.Equal(t, 0, info.ReturnedElements)
}
