package bridge

import (
	"strings"
	"testing"

	"github.com/antchfx/htmlquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/pagemap/api/schemas"
)

func nodes(t *testing.T, body string, xpath string) []*html.Node {
	t.Helper()
	doc, err := htmlquery.Parse(strings.NewReader("<html><body>" + body + "</body></html>"))
	require.NoError(t, err)
	ns, err := htmlquery.QueryAll(doc, xpath)
	require.NoError(t, err)
	return ns
}

func TestTagAndResolve(t *testing.T) {
	ns := nodes(t, `<input name="a"><input name="b">`, "//input")
	require.Len(t, ns, 2)

	b := New(zap.NewNop())
	b.Reset("pass-1")
	b.Tag(Entry{Identifier: "a-text", Target: schemas.ActionTarget{Node: ns[0]}, Type: schemas.ElementText, Action: schemas.ActionFill})
	b.Tag(Entry{Identifier: "b-text", Target: schemas.ActionTarget{Node: ns[1]}, Type: schemas.ElementText, Action: schemas.ActionFill})

	e, ok := b.Resolve("a-text")
	require.True(t, ok)
	assert.Same(t, ns[0], e.Target.Node)

	id, ok := b.IdentifierOf(ns[1])
	require.True(t, ok)
	assert.Equal(t, "b-text", id)

	assert.Equal(t, 2, b.Len())
	assert.Equal(t, "pass-1", b.PassID())
}

func TestResetInvalidatesEverything(t *testing.T) {
	ns := nodes(t, `<button id="x">go</button>`, "//button")
	b := New(zap.NewNop())
	b.Reset("pass-1")
	b.Tag(Entry{Identifier: "x-button", Target: schemas.ActionTarget{Node: ns[0]}})

	b.Reset("pass-2")

	_, ok := b.Resolve("x-button")
	assert.False(t, ok, "identifiers from a previous pass must not resolve")
	_, ok = b.IdentifierOf(ns[0])
	assert.False(t, ok)
	assert.Zero(t, b.Len())
	assert.Equal(t, "pass-2", b.PassID())
}

func TestDuplicateIdentifierDropped(t *testing.T) {
	ns := nodes(t, `<input name="a"><input name="b">`, "//input")
	b := New(zap.NewNop())
	b.Reset("pass-1")
	b.Tag(Entry{Identifier: "dup", Target: schemas.ActionTarget{Node: ns[0]}})
	b.Tag(Entry{Identifier: "dup", Target: schemas.ActionTarget{Node: ns[1]}})

	assert.Equal(t, 1, b.Len())
	e, ok := b.Resolve("dup")
	require.True(t, ok)
	assert.Same(t, ns[0], e.Target.Node, "first tag wins")
}

func TestEntriesPreserveTagOrder(t *testing.T) {
	ns := nodes(t, `<a href="/1">1</a><a href="/2">2</a><a href="/3">3</a>`, "//a")
	b := New(zap.NewNop())
	b.Reset("p")
	for i, n := range ns {
		b.Tag(Entry{Identifier: string(rune('a' + i)), Target: schemas.ActionTarget{Node: n}})
	}

	var got []string
	for _, e := range b.Entries() {
		got = append(got, e.Identifier)
	}
	assert.Equal(t, []string{"a", "b", "c"}, got)
}
