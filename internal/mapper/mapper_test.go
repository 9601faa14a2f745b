package mapper

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/pagemap/api/schemas"
	"github.com/xkilldash9x/pagemap/internal/detect"
	"github.com/xkilldash9x/pagemap/internal/engine"
	"github.com/xkilldash9x/pagemap/internal/waiter"
)

const loginPage = `<html><head><title>Login</title></head><body>
	<nav><a href="/">Home</a><a href="/pricing">Pricing</a></nav>
	<form id="login" action="/session" method="post">
		<label for="em">Email address</label>
		<input id="em" type="email" name="email">
		<label for="pw">Password</label>
		<input id="pw" type="password" name="password">
		<button type="submit">Log in</button>
	</form>
</body></html>`

func testConfig() Config {
	return Config{
		Wait: waiter.Options{
			PollInterval: 5 * time.Millisecond,
			Grace:        50 * time.Millisecond,
			Settle:       25 * time.Millisecond,
			Max:          2 * time.Second,
		},
		HumanPollInterval: 10 * time.Millisecond,
	}
}

func newMapperFor(t *testing.T, srv *httptest.Server, path string) (*Mapper, *engine.Page) {
	t.Helper()
	page := engine.NewPage(context.Background(), nil, engine.Options{})
	t.Cleanup(page.Close)
	require.NoError(t, page.Navigate(context.Background(), srv.URL+path))
	return New(nil, page, testConfig()), page
}

func serve(t *testing.T, handler http.Handler) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func htmlHandler(pages map[string]string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := pages[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, body)
	})
}

func TestGenerateLoginManifest(t *testing.T) {
	srv := serve(t, htmlHandler(map[string]string{"/": loginPage}))
	m, _ := newMapperFor(t, srv, "/")

	man, err := m.Generate(context.Background(), detect.WindowOptions{})
	require.NoError(t, err)

	assert.Equal(t, "Login", man.Title)
	assert.NotEmpty(t, man.PassID)
	require.Len(t, man.Forms, 1)

	form := man.Forms[0]
	assert.Equal(t, "form-login", form.Identifier)
	require.Len(t, form.Fields, 2)
	assert.Equal(t, "form-login-email", form.Fields[0].Identifier)
	assert.Equal(t, schemas.ActionFill, form.Fields[0].Action)
	assert.Equal(t, "Email address", form.Fields[0].Description)
	require.NotNil(t, form.Submit)
	assert.Equal(t, schemas.ActionClick, form.Submit.Action)
	require.NotNil(t, form.Submit.FollowUp)
	assert.Equal(t, schemas.FollowUpNavigation, form.Submit.FollowUp.Kind)

	require.Len(t, man.Navigation, 1)
	assert.Equal(t, schemas.NavMain, man.Navigation[0].Bucket)
	assert.Len(t, man.Navigation[0].Items, 2)
}

func TestGenerateDeterministic(t *testing.T) {
	srv := serve(t, htmlHandler(map[string]string{"/": loginPage}))
	m, _ := newMapperFor(t, srv, "/")

	first, err := m.Generate(context.Background(), detect.WindowOptions{})
	require.NoError(t, err)
	second, err := m.Generate(context.Background(), detect.WindowOptions{})
	require.NoError(t, err)

	// Identical page state must yield identical manifests modulo pass
	// identity and timestamps.
	diff := cmp.Diff(first, second,
		cmpopts.IgnoreFields(schemas.Manifest{}, "PassID", "Generated"))
	assert.Empty(t, diff)
	assert.NotEqual(t, first.PassID, second.PassID)
}

func TestRegenerationInvalidatesIdentifiers(t *testing.T) {
	srv := serve(t, htmlHandler(map[string]string{"/": loginPage}))
	m, _ := newMapperFor(t, srv, "/")

	man, err := m.Generate(context.Background(), detect.WindowOptions{})
	require.NoError(t, err)
	id := man.Forms[0].Fields[0].Identifier

	// First pass: the identifier resolves and the fill succeeds.
	_, err = m.Execute(context.Background(), id, schemas.ActionParams{Value: "a@b.c"})
	require.NoError(t, err)

	// A new pass re-issues identifiers; the old bridge entries are gone even
	// though the slug happens to be reused.
	_, err = m.Generate(context.Background(), detect.WindowOptions{})
	require.NoError(t, err)
	_, ok := m.Bridge().Resolve(id)
	assert.True(t, ok, "same DOM reissues the same slug")

	_, gone := m.Bridge().Resolve(id + "-definitely-stale")
	assert.False(t, gone)
}

func TestExecuteFillReportsSettled(t *testing.T) {
	srv := serve(t, htmlHandler(map[string]string{"/": loginPage}))
	m, _ := newMapperFor(t, srv, "/")

	man, err := m.Generate(context.Background(), detect.WindowOptions{})
	require.NoError(t, err)
	id := man.Forms[0].Fields[0].Identifier

	res, err := m.Execute(context.Background(), id, schemas.ActionParams{Value: "a@b.c"})
	require.NoError(t, err)

	assert.True(t, res.Changed)
	assert.False(t, res.Navigated)
	assert.Equal(t, schemas.WaitSettled, res.Status)
	require.NotNil(t, res.Manifest, "a changed page yields a fresh manifest")
	assert.NotEqual(t, man.PassID, res.Manifest.PassID)
}

func TestExecuteSubmitNavigates(t *testing.T) {
	mux := http.NewServeMux()
	mux.Handle("/", htmlHandler(map[string]string{"/": loginPage}))
	mux.HandleFunc("/session", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><head><title>Dashboard</title></head><body>
			<a href="/reports">Reports</a></body></html>`)
	})
	srv := serve(t, mux)
	m, page := newMapperFor(t, srv, "/")

	man, err := m.Generate(context.Background(), detect.WindowOptions{})
	require.NoError(t, err)
	require.NotNil(t, man.Forms[0].Submit)

	res, err := m.Execute(context.Background(), man.Forms[0].Submit.Identifier, schemas.ActionParams{})
	require.NoError(t, err)

	assert.True(t, res.Navigated)
	assert.Equal(t, schemas.WaitNavigated, res.Status)
	assert.Equal(t, srv.URL+"/session", res.FinalURL)
	assert.Equal(t, "Dashboard", page.Title())
	require.NotNil(t, res.Manifest)
	assert.Equal(t, "Dashboard", res.Manifest.Title)
}

func TestExecuteUnknownIdentifier(t *testing.T) {
	srv := serve(t, htmlHandler(map[string]string{"/": loginPage}))
	m, _ := newMapperFor(t, srv, "/")

	_, err := m.Generate(context.Background(), detect.WindowOptions{})
	require.NoError(t, err)

	_, err = m.Execute(context.Background(), "no-such-element", schemas.ActionParams{})
	var nf *schemas.ElementNotFoundError
	require.ErrorAs(t, err, &nf)
}

func bigButtonPage(n int) string {
	var b strings.Builder
	b.WriteString(`<html><head><title>Big</title></head><body>`)
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, `<button id="b%d">Button %d</button>`, i, i)
	}
	b.WriteString(`</body></html>`)
	return b.String()
}

func TestGenerateWindowed(t *testing.T) {
	srv := serve(t, htmlHandler(map[string]string{"/": bigButtonPage(300)}))
	m, _ := newMapperFor(t, srv, "/")

	page1, err := m.Generate(context.Background(), detect.WindowOptions{Size: 150, Start: 0})
	require.NoError(t, err)
	require.NotNil(t, page1.Pagination)
	assert.Equal(t, 300, page1.Pagination.TotalElements)
	assert.True(t, page1.Pagination.HasMore)
	assert.Equal(t, 2, page1.Pagination.TotalPages)
	assert.Len(t, page1.Elements, 150)

	page2, err := m.Generate(context.Background(), detect.WindowOptions{Size: 150, Start: 150})
	require.NoError(t, err)
	assert.False(t, page2.Pagination.HasMore)
	assert.Equal(t, 2, page2.Pagination.CurrentPage)

	// Windows are disjoint and complete.
	seen := map[string]bool{}
	for _, el := range append(append([]schemas.TaggedElement{}, page1.Elements...), page2.Elements...) {
		assert.False(t, seen[el.Identifier], "identifier %q appears twice", el.Identifier)
		seen[el.Identifier] = true
	}
	assert.Len(t, seen, 300)
}

func TestConcurrentWindowsNeverMixPasses(t *testing.T) {
	// Passes over different windows must exclude each other: the bridge is
	// reset wholesale at the start of every pass, so after any pair of
	// passes it holds exactly one window's correlations, never a blend.
	srv := serve(t, htmlHandler(map[string]string{"/": bigButtonPage(300)}))
	m, _ := newMapperFor(t, srv, "/")

	for round := 0; round < 25; round++ {
		var wg sync.WaitGroup
		for _, start := range []int{0, 100} {
			wg.Add(1)
			go func(start int) {
				defer wg.Done()
				_, err := m.Generate(context.Background(), detect.WindowOptions{Size: 100, Start: start})
				assert.NoError(t, err)
			}(start)
		}
		wg.Wait()
		require.Equal(t, 100, m.Bridge().Len(),
			"bridge holds correlations from more than one pass")
	}
}

func TestGenerateBotBlocked(t *testing.T) {
	blocked := `<html><head><title>Just a moment...</title></head><body>
		<div class="g-recaptcha" data-sitekey="k"></div></body></html>`
	srv := serve(t, htmlHandler(map[string]string{"/": blocked}))
	m, _ := newMapperFor(t, srv, "/")

	_, err := m.Generate(context.Background(), detect.WindowOptions{})
	require.Error(t, err)
	assert.True(t, schemas.IsBotBlocked(err))
}

func TestWaitForChangeClearsAfterChallenge(t *testing.T) {
	var mu sync.Mutex
	blocked := true
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		b := blocked
		mu.Unlock()
		w.Header().Set("Content-Type", "text/html")
		if b {
			fmt.Fprint(w, `<html><head><title>Just a moment...</title></head><body></body></html>`)
			return
		}
		fmt.Fprint(w, loginPage)
	})
	srv := serve(t, mux)
	m, page := newMapperFor(t, srv, "/")

	_, err := m.Generate(context.Background(), detect.WindowOptions{})
	require.Error(t, err)
	require.True(t, schemas.IsBotBlocked(err))

	// Simulate the human finishing the challenge: the next reload serves the
	// real page.
	go func() {
		time.Sleep(30 * time.Millisecond)
		mu.Lock()
		blocked = false
		mu.Unlock()
		_ = page.Navigate(context.Background(), srv.URL+"/")
	}()

	man, err := m.WaitForChange(context.Background(), 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "Login", man.Title)
}

func TestWaitForChangeTimesOut(t *testing.T) {
	blocked := `<html><head><title>Just a moment...</title></head><body></body></html>`
	srv := serve(t, htmlHandler(map[string]string{"/": blocked}))
	m, _ := newMapperFor(t, srv, "/")

	_, err := m.WaitForChange(context.Background(), 50*time.Millisecond)
	assert.ErrorIs(t, err, schemas.ErrWaitTimeout)
}

// flakyPage is a Page stub whose Document tears down a set number of times
// after an action, the way a real tab behaves when the action races a
// navigation.
type flakyPage struct {
	mu      sync.Mutex
	doc     *html.Node
	url     string
	title   string
	seq     uint64
	pending int
	served  int
}

var _ schemas.Page = (*flakyPage)(nil)

func newFlakyPage(t *testing.T, body string) *flakyPage {
	t.Helper()
	doc, err := html.Parse(strings.NewReader(body))
	require.NoError(t, err)
	return &flakyPage{doc: doc, url: "https://stub.test/", title: "Stub"}
}

func (p *flakyPage) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *flakyPage) Title() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.title
}

func (p *flakyPage) Document(ctx context.Context) (*html.Node, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending > 0 {
		p.pending--
		p.served++
		return nil, &schemas.ContextDestroyedError{Err: errors.New("inspected target closed")}
	}
	return p.doc, nil
}

func (p *flakyPage) MutationSeq() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.seq
}

func (p *flakyPage) Navigate(ctx context.Context, target string) error { return nil }

func (p *flakyPage) touch() {
	p.mu.Lock()
	p.seq++
	p.mu.Unlock()
}

// Fill mutates the page and arranges for the next document read to fail,
// as if the action kicked off an in-place document replacement.
func (p *flakyPage) Fill(ctx context.Context, t schemas.ActionTarget, value string) error {
	p.mu.Lock()
	p.seq++
	p.pending = 1
	p.mu.Unlock()
	return nil
}

func (p *flakyPage) Toggle(ctx context.Context, t schemas.ActionTarget, checked *bool) error {
	p.touch()
	return nil
}

func (p *flakyPage) SelectOption(ctx context.Context, t schemas.ActionTarget, value string) error {
	p.touch()
	return nil
}

func (p *flakyPage) Click(ctx context.Context, t schemas.ActionTarget) error {
	p.touch()
	return nil
}

func (p *flakyPage) Upload(ctx context.Context, t schemas.ActionTarget, files []string) error {
	p.touch()
	return nil
}

func (p *flakyPage) failuresServed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.served
}

func TestExecuteRetriesWhenDocumentTornDown(t *testing.T) {
	page := newFlakyPage(t, loginPage)
	m := New(nil, page, testConfig())

	man, err := m.Generate(context.Background(), detect.WindowOptions{})
	require.NoError(t, err)
	id := man.Forms[0].Fields[0].Identifier

	res, err := m.Execute(context.Background(), id, schemas.ActionParams{Value: "a@b.c"})
	require.NoError(t, err)

	assert.True(t, res.Changed)
	require.NotNil(t, res.Manifest, "the retry must still produce a manifest")
	assert.Equal(t, 1, page.failuresServed(), "exactly one torn-down read, then the retry succeeds")
	assert.NotEqual(t, man.PassID, res.Manifest.PassID)
}
