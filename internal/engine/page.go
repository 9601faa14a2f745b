// Package engine is the pure-Go page backend: a stateful HTML document
// fetched over net/http, mutated in place by the action primitives. It has
// no script execution and no layout, which keeps it fast and deterministic;
// anything requiring a real renderer belongs to the CDP backend instead.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/antchfx/htmlquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/pagemap/api/schemas"
	"github.com/xkilldash9x/pagemap/internal/dom"
)

const defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"

// Options configure a page's network behavior.
type Options struct {
	UserAgent      string
	AcceptLanguage string
	Timeout        time.Duration
}

func (o Options) withDefaults() Options {
	if o.UserAgent == "" {
		o.UserAgent = defaultUserAgent
	}
	if o.Timeout <= 0 {
		o.Timeout = 60 * time.Second
	}
	return o
}

// Page holds one document at a time. The document is stateful across
// interactions until the next navigation replaces it wholesale; every state
// change advances the mutation counter the waiter polls.
type Page struct {
	logger *zap.Logger
	opts   Options
	client *http.Client

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	current *url.URL
	doc     *html.Node
	title   string

	seq       atomic.Uint64
	closeOnce sync.Once
}

var _ schemas.Page = (*Page)(nil)

// NewPage builds a page with its own cookie jar and a decompressing
// transport. The parent context bounds the page's whole lifetime.
func NewPage(parentCtx context.Context, logger *zap.Logger, opts Options) *Page {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	jar, _ := cookiejar.New(nil)

	opts = opts.withDefaults()
	return &Page{
		logger: logger.Named("engine"),
		opts:   opts,
		ctx:    ctx,
		cancel: cancel,
		client: &http.Client{
			Transport: newDecodingTransport(nil),
			Timeout:   opts.Timeout,
			Jar:       jar,
			// Redirects are walked manually so every hop updates page state.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Close releases the page. Safe to call more than once.
func (p *Page) Close() {
	p.closeOnce.Do(func() {
		p.cancel()
		p.client.CloseIdleConnections()
	})
}

func (p *Page) URL() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.current == nil {
		return ""
	}
	return p.current.String()
}

func (p *Page) Title() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.title
}

func (p *Page) Document(ctx context.Context) (*html.Node, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.doc == nil {
		return nil, schemas.ErrNoDocument
	}
	return p.doc, nil
}

// MutationSeq returns the monotonic mutation counter.
func (p *Page) MutationSeq() uint64 {
	return p.seq.Load()
}

// touch records one DOM state change.
func (p *Page) touch() {
	p.seq.Add(1)
}

// -- Navigation --

// Navigate loads target, following up to 10 redirects, and replaces the
// current document.
func (p *Page) Navigate(ctx context.Context, target string) error {
	navCtx, navCancel := combineContext(p.ctx, ctx)
	defer navCancel()

	resolved, err := p.resolveURL(target)
	if err != nil {
		return fmt.Errorf("resolve %q: %w", target, err)
	}

	p.logger.Debug("Navigating.", zap.String("url", resolved.String()))

	req, err := http.NewRequestWithContext(navCtx, http.MethodGet, resolved.String(), nil)
	if err != nil {
		return err
	}
	p.prepareHeaders(req)
	return p.executeRequest(navCtx, req)
}

func (p *Page) executeRequest(ctx context.Context, req *http.Request) error {
	const maxRedirects = 10
	current := req

	for i := 0; i < maxRedirects; i++ {
		resp, err := p.client.Do(current)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		if resp.StatusCode >= 300 && resp.StatusCode < 400 {
			next, err := p.nextRedirectRequest(ctx, resp, current)
			resp.Body.Close()
			if err != nil {
				return fmt.Errorf("redirect: %w", err)
			}
			current = next
			continue
		}
		return p.processResponse(resp)
	}
	return fmt.Errorf("more than %d redirects from %q", maxRedirects, req.URL)
}

func (p *Page) nextRedirectRequest(ctx context.Context, resp *http.Response, prev *http.Request) (*http.Request, error) {
	location := resp.Header.Get("Location")
	if location == "" {
		return nil, errors.New("redirect response missing Location header")
	}
	nextURL, err := prev.URL.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("bad Location %q: %w", location, err)
	}

	// 301/302/303 demote non-HEAD methods to GET and drop the body. 307 and
	// 308 replay the original method and body.
	method := prev.Method
	var body io.ReadCloser = http.NoBody
	switch resp.StatusCode {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther:
		if method != http.MethodHead {
			method = http.MethodGet
		}
	default:
		if prev.GetBody != nil {
			b, err := prev.GetBody()
			if err != nil {
				return nil, fmt.Errorf("replay body: %w", err)
			}
			body = b
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, nextURL.String(), body)
	if err != nil {
		return nil, err
	}
	p.prepareHeaders(req)
	req.Header.Set("Referer", prev.URL.String())
	if method == http.MethodPost && prev.Header.Get("Content-Type") != "" && body != http.NoBody {
		req.Header.Set("Content-Type", prev.Header.Get("Content-Type"))
	}
	return req, nil
}

func (p *Page) processResponse(resp *http.Response) error {
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		p.logger.Warn("Navigation returned error status.",
			zap.Int("status", resp.StatusCode), zap.String("url", resp.Request.URL.String()))
	}

	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	if contentType != "" && !strings.Contains(contentType, "text/html") {
		p.logger.Debug("Non-HTML response, document cleared.",
			zap.String("content_type", contentType))
		p.updateState(resp.Request.URL, nil)
		return nil
	}

	doc, err := htmlquery.Parse(resp.Body)
	if err != nil {
		p.updateState(resp.Request.URL, nil)
		return fmt.Errorf("parse response from %q: %w", resp.Request.URL, err)
	}
	p.updateState(resp.Request.URL, doc)
	return nil
}

// updateState swaps the document wholesale and advances the mutation counter.
func (p *Page) updateState(newURL *url.URL, doc *html.Node) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.current = newURL
	p.doc = doc
	p.title = ""
	if doc != nil {
		if t := htmlquery.FindOne(doc, "//title"); t != nil {
			p.title = strings.TrimSpace(htmlquery.InnerText(t))
		}
	}
	p.seq.Add(1)

	p.logger.Debug("Page state replaced.",
		zap.String("url", newURL.String()), zap.String("title", p.title))
}

func (p *Page) resolveURL(target string) (*url.URL, error) {
	p.mu.RLock()
	base := p.current
	p.mu.RUnlock()

	parsed, err := url.Parse(target)
	if err != nil {
		return nil, err
	}
	if parsed.IsAbs() {
		return parsed, nil
	}
	if base == nil {
		return nil, fmt.Errorf("relative target %q needs a loaded page", target)
	}
	return base.ResolveReference(parsed), nil
}

func (p *Page) prepareHeaders(req *http.Request) {
	req.Header.Set("User-Agent", p.opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	if p.opts.AcceptLanguage != "" {
		req.Header.Set("Accept-Language", p.opts.AcceptLanguage)
	}
	p.mu.RLock()
	if p.current != nil && req.Header.Get("Referer") == "" {
		req.Header.Set("Referer", p.current.String())
	}
	p.mu.RUnlock()
}

// -- Action Primitives --

// resolveTarget turns an action target into a node in the current document.
// A node handle from a previous document resolves to ContextDestroyedError
// since the document it belonged to is gone.
func (p *Page) resolveTarget(t schemas.ActionTarget) (*html.Node, error) {
	p.mu.RLock()
	doc := p.doc
	p.mu.RUnlock()

	if doc == nil {
		return nil, schemas.ErrNoDocument
	}
	if t.Node != nil {
		if !dom.Contains(doc, t.Node) {
			return nil, &schemas.ContextDestroyedError{
				Err: errors.New("node is not attached to the current document"),
			}
		}
		return t.Node, nil
	}
	if t.XPath == "" {
		return nil, errors.New("empty action target")
	}
	n, err := htmlquery.Query(doc, t.XPath)
	if err != nil {
		return nil, &schemas.SelectorError{Selector: t.XPath, Err: err}
	}
	if n == nil {
		return nil, &schemas.SelectorError{Selector: t.XPath, Err: errors.New("no match")}
	}
	return n, nil
}

// Fill writes value into a text-bearing control.
func (p *Page) Fill(ctx context.Context, t schemas.ActionTarget, value string) error {
	n, err := p.resolveTarget(t)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case dom.Tag(n) == "input":
		dom.SetAttr(n, "value", value)
	case dom.Tag(n) == "textarea", dom.Attr(n, "contenteditable") != "":
		replaceText(n, value)
	default:
		return fmt.Errorf("<%s> is not a fillable element", dom.Tag(n))
	}
	p.touch()
	return nil
}

// Toggle flips or sets a checkbox or radio. checked=nil flips a checkbox;
// radios are always selected and their group siblings cleared.
func (p *Page) Toggle(ctx context.Context, t schemas.ActionTarget, checked *bool) error {
	n, err := p.resolveTarget(t)
	if err != nil {
		return err
	}
	if dom.Tag(n) != "input" {
		return fmt.Errorf("<%s> is not a toggleable element", dom.Tag(n))
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	switch strings.ToLower(dom.Attr(n, "type")) {
	case "checkbox":
		want := !dom.HasAttr(n, "checked")
		if checked != nil {
			want = *checked
		}
		if want {
			dom.SetAttr(n, "checked", "checked")
		} else {
			dom.RemoveAttr(n, "checked")
		}
	case "radio":
		if checked != nil && !*checked {
			dom.RemoveAttr(n, "checked")
		} else {
			p.selectRadio(n)
		}
	default:
		return fmt.Errorf("input type %q is not toggleable", dom.Attr(n, "type"))
	}
	p.touch()
	return nil
}

// selectRadio checks n and clears every other radio sharing its name. The
// group is scoped to the ancestor form when one exists, the whole document
// otherwise. Caller holds the write lock.
func (p *Page) selectRadio(n *html.Node) {
	name := dom.Attr(n, "name")
	if name == "" {
		dom.SetAttr(n, "checked", "checked")
		return
	}

	root := dom.AncestorForm(n)
	if root == nil {
		root = n
		for root.Parent != nil {
			root = root.Parent
		}
	}
	group := htmlquery.Find(root, fmt.Sprintf(".//input[@type='radio' and @name=%s]", xpathString(name)))
	for _, radio := range group {
		if radio == n {
			dom.SetAttr(radio, "checked", "checked")
		} else {
			dom.RemoveAttr(radio, "checked")
		}
	}
}

// SelectOption marks the option whose value (or text, for valueless options)
// equals value as selected and clears the rest.
func (p *Page) SelectOption(ctx context.Context, t schemas.ActionTarget, value string) error {
	n, err := p.resolveTarget(t)
	if err != nil {
		return err
	}
	if dom.Tag(n) != "select" {
		return fmt.Errorf("<%s> is not a select element", dom.Tag(n))
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	options, err := htmlquery.QueryAll(n, ".//option")
	if err != nil {
		return fmt.Errorf("query options: %w", err)
	}

	found := false
	var available []string
	for _, opt := range options {
		optValue := dom.Attr(opt, "value")
		text := dom.CollapseSpace(dom.Text(opt))
		if !dom.HasAttr(opt, "value") {
			optValue = text
		}
		available = append(available, text)

		if optValue == value {
			found = true
			dom.SetAttr(opt, "selected", "selected")
		} else {
			dom.RemoveAttr(opt, "selected")
		}
	}
	if !found {
		id := t.XPath
		return &schemas.OptionNotFoundError{Identifier: id, Requested: value, Available: available}
	}
	p.touch()
	return nil
}

// Click dispatches the element's default behavior: anchors navigate, submit
// controls submit their form, checkboxes and radios toggle, summaries open
// or close their details. Clicks that would only matter to script handlers
// are no-ops here.
func (p *Page) Click(ctx context.Context, t schemas.ActionTarget) error {
	n, err := p.resolveTarget(t)
	if err != nil {
		return err
	}
	clickCtx, clickCancel := combineContext(p.ctx, ctx)
	defer clickCancel()

	tag := dom.Tag(n)
	inputType := strings.ToLower(dom.Attr(n, "type"))

	if tag == "a" {
		href := dom.Attr(n, "href")
		if href != "" && !strings.HasPrefix(strings.ToLower(href), "javascript:") && !strings.HasPrefix(href, "#") {
			return p.Navigate(clickCtx, href)
		}
		return nil
	}

	isSubmit := (tag == "button" && (inputType == "submit" || inputType == "")) ||
		(tag == "input" && inputType == "submit")
	if isSubmit {
		if form := dom.AncestorForm(n); form != nil {
			return p.submitForm(clickCtx, form, n)
		}
	}

	if tag == "input" && (inputType == "checkbox" || inputType == "radio") {
		return p.Toggle(clickCtx, t, nil)
	}

	if tag == "summary" {
		p.mu.Lock()
		if details := dom.Ancestor(n, "details", 1); details != nil {
			if dom.HasAttr(details, "open") {
				dom.RemoveAttr(details, "open")
			} else {
				dom.SetAttr(details, "open", "open")
			}
			p.touch()
		}
		p.mu.Unlock()
		return nil
	}

	p.logger.Debug("Click had no modeled consequence.", zap.String("tag", tag))
	return nil
}

// Upload records the chosen files on a file input. Browsers expose only the
// base name through value; the engine does the same.
func (p *Page) Upload(ctx context.Context, t schemas.ActionTarget, files []string) error {
	n, err := p.resolveTarget(t)
	if err != nil {
		return err
	}
	if dom.Tag(n) != "input" || strings.ToLower(dom.Attr(n, "type")) != "file" {
		return fmt.Errorf("<%s> is not a file input", dom.Tag(n))
	}
	if len(files) == 0 {
		return errors.New("no files given")
	}

	p.mu.Lock()
	names := make([]string, len(files))
	for i, f := range files {
		names[i] = filepath.Base(f)
	}
	dom.SetAttr(n, "value", strings.Join(names, ","))
	p.mu.Unlock()
	p.touch()
	return nil
}

// -- Form Submission --

// submitForm serializes the form and navigates to its action. submitter, if
// non-nil and named, contributes its own value pair the way a clicked submit
// button does in a real browser.
func (p *Page) submitForm(ctx context.Context, form, submitter *html.Node) error {
	method := strings.ToUpper(dom.Attr(form, "method"))
	if method != http.MethodPost {
		method = http.MethodGet
	}

	action := dom.Attr(form, "action")
	target, err := p.resolveURL(action)
	if err != nil || action == "" {
		target, err = p.resolveURL("")
		if err != nil {
			return fmt.Errorf("form submission URL: %w", err)
		}
	}

	p.mu.RLock()
	data := serializeForm(form, submitter)
	p.mu.RUnlock()

	var req *http.Request
	if method == http.MethodPost {
		encoded := data.Encode()
		req, err = http.NewRequestWithContext(ctx, method, target.String(), strings.NewReader(encoded))
		if err != nil {
			return err
		}
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(encoded)), nil
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		// GET submissions replace the action's query string wholesale, the
		// same way a browser does.
		submitURL := *target
		submitURL.RawQuery = data.Encode()
		req, err = http.NewRequestWithContext(ctx, method, submitURL.String(), nil)
		if err != nil {
			return err
		}
	}

	p.prepareHeaders(req)
	req.Header.Set("Referer", p.URL())
	return p.executeRequest(ctx, req)
}

// serializeForm walks the form's controls in document order and collects
// submittable name/value pairs per standard HTML form semantics.
func serializeForm(form, submitter *html.Node) url.Values {
	data := url.Values{}
	controls, err := htmlquery.QueryAll(form, ".//input | .//textarea | .//select")
	if err != nil {
		return data
	}

	for _, c := range controls {
		name := dom.Attr(c, "name")
		if name == "" || dom.IsDisabled(c) {
			continue
		}

		switch dom.Tag(c) {
		case "input":
			switch strings.ToLower(dom.Attr(c, "type")) {
			case "checkbox", "radio":
				if dom.HasAttr(c, "checked") {
					value := dom.Attr(c, "value")
					if value == "" {
						value = "on"
					}
					data.Add(name, value)
				}
			case "submit", "button", "image", "reset", "file":
				// Only the clicked submitter contributes, handled below.
			default:
				data.Add(name, dom.Attr(c, "value"))
			}
		case "textarea":
			data.Add(name, dom.Text(c))
		case "select":
			selected, _ := htmlquery.QueryAll(c, ".//option[@selected]")
			for _, opt := range selected {
				value := dom.Attr(opt, "value")
				if !dom.HasAttr(opt, "value") {
					value = dom.CollapseSpace(dom.Text(opt))
				}
				data.Add(name, value)
			}
		}
	}

	if submitter != nil {
		if name := dom.Attr(submitter, "name"); name != "" {
			data.Add(name, dom.Attr(submitter, "value"))
		}
	}
	return data
}

// -- Helpers --

// replaceText swaps n's children for a single text node.
func replaceText(n *html.Node, text string) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		c = next
	}
	n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
}

// xpathString quotes s as an XPath string literal, falling back to concat()
// when s holds both quote kinds.
func xpathString(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	parts := strings.Split(s, "'")
	quoted := make([]string, 0, len(parts)*2)
	for i, part := range parts {
		if i > 0 {
			quoted = append(quoted, `"'"`)
		}
		quoted = append(quoted, "'"+part+"'")
	}
	return "concat(" + strings.Join(quoted, ",") + ")"
}

// combineContext derives a context canceled when either input is canceled.
func combineContext(parent, secondary context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-secondary.Done():
			cancel()
		case <-combined.Done():
		}
	}()
	return combined, cancel
}
