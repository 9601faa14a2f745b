// Package browser is the CDP-backed page implementation, driving a real
// Chrome tab over chromedp. Unlike the pure-Go engine it cannot hand out
// stable node identity, so action targets are addressed by XPath against
// the live document; Document returns a parsed snapshot for the pipeline
// to analyze.
package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/pagemap/api/schemas"
)

// mutationCounterScript installs a counter the waiter can poll. It is
// re-evaluated on every new document, so a navigation restarts it at zero.
const mutationCounterScript = `(() => {
	window.__pagemapMutations = 0;
	const observer = new MutationObserver((records) => {
		window.__pagemapMutations += records.length;
	});
	const arm = () => observer.observe(document.documentElement, {
		childList: true, subtree: true, attributes: true, characterData: true,
	});
	if (document.documentElement) { arm(); }
	else { document.addEventListener('DOMContentLoaded', arm); }
})();`

// Options configure the launched browser.
type Options struct {
	Headless          bool
	ExecPath          string
	UserAgent         string
	NavigationTimeout time.Duration
	ActionTimeout     time.Duration
}

func (o Options) withDefaults() Options {
	if o.NavigationTimeout <= 0 {
		o.NavigationTimeout = 60 * time.Second
	}
	if o.ActionTimeout <= 0 {
		o.ActionTimeout = 10 * time.Second
	}
	return o
}

// Page is one live Chrome tab.
type Page struct {
	logger *zap.Logger
	opts   Options

	ctx         context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc

	// navGen separates mutation counts across documents: the injected
	// counter restarts at zero on navigation, so the generation is folded
	// into the sequence to keep it monotonic for the waiter.
	navGen  atomic.Uint64
	lastSeq atomic.Uint64

	closeOnce sync.Once
}

var _ schemas.Page = (*Page)(nil)

// NewPage launches a browser tab and injects the mutation counter.
func NewPage(parentCtx context.Context, logger *zap.Logger, opts Options) (*Page, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = opts.withDefaults()

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}
	if opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(opts.UserAgent))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(parentCtx, allocOpts...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)

	p := &Page{
		logger:      logger.Named("browser"),
		opts:        opts,
		ctx:         tabCtx,
		cancelTab:   cancelTab,
		cancelAlloc: cancelAlloc,
	}

	if err := chromedp.Run(tabCtx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(mutationCounterScript).Do(ctx)
			return err
		}),
	); err != nil {
		cancelTab()
		cancelAlloc()
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	return p, nil
}

// Close tears the tab and the browser process down.
func (p *Page) Close() {
	p.closeOnce.Do(func() {
		p.cancelTab()
		p.cancelAlloc()
	})
}

func (p *Page) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(p.ctx, timeout)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- chromedp.Run(runCtx, actions...) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		cancel()
		<-done
		return ctx.Err()
	}
}

func (p *Page) URL() string {
	var url string
	if err := p.run(context.Background(), 2*time.Second, chromedp.Location(&url)); err != nil {
		p.logger.Debug("URL read failed.", zap.Error(err))
		return ""
	}
	return url
}

func (p *Page) Title() string {
	var title string
	if err := p.run(context.Background(), 2*time.Second, chromedp.Title(&title)); err != nil {
		return ""
	}
	return title
}

// Document snapshots the live DOM and parses it. Node identity is only
// valid within one snapshot; callers address actions by XPath instead.
func (p *Page) Document(ctx context.Context) (*html.Node, error) {
	var outer string
	if err := p.run(ctx, p.opts.ActionTimeout,
		chromedp.OuterHTML("html", &outer, chromedp.ByQuery)); err != nil {
		return nil, fmt.Errorf("snapshot document: %w", err)
	}
	doc, err := html.Parse(strings.NewReader(outer))
	if err != nil {
		return nil, fmt.Errorf("parse snapshot: %w", err)
	}
	return doc, nil
}

// MutationSeq folds the injected per-document counter with a navigation
// generation so the value never repeats across documents.
func (p *Page) MutationSeq() uint64 {
	var count uint64
	if err := p.run(context.Background(), 2*time.Second,
		chromedp.Evaluate(`window.__pagemapMutations || 0`, &count)); err != nil {
		return p.lastSeq.Load()
	}
	seq := p.navGen.Load()<<32 | count
	p.lastSeq.Store(seq)
	return seq
}

func (p *Page) Navigate(ctx context.Context, target string) error {
	p.logger.Debug("Navigating.", zap.String("url", target))
	err := p.run(ctx, p.opts.NavigationTimeout,
		chromedp.Navigate(target),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("navigate to %q: %w", target, err)
	}
	p.navGen.Add(1)
	return nil
}

// -- Action Primitives --

func (p *Page) xpathOf(t schemas.ActionTarget) (string, error) {
	if t.XPath == "" {
		return "", fmt.Errorf("browser backend needs an xpath action target")
	}
	return t.XPath, nil
}

func (p *Page) Fill(ctx context.Context, t schemas.ActionTarget, value string) error {
	xpath, err := p.xpathOf(t)
	if err != nil {
		return err
	}
	err = p.run(ctx, p.opts.ActionTimeout,
		chromedp.WaitVisible(xpath, chromedp.BySearch),
		chromedp.SetValue(xpath, value, chromedp.BySearch),
		dispatchEvents(xpath, "input", "change"),
	)
	return p.wrapActionErr("fill", xpath, err)
}

func (p *Page) Toggle(ctx context.Context, t schemas.ActionTarget, checked *bool) error {
	xpath, err := p.xpathOf(t)
	if err != nil {
		return err
	}
	js := fmt.Sprintf(`(() => {
		const el = %s;
		if (!el) return false;
		el.checked = %s;
		el.dispatchEvent(new Event('change', {bubbles: true}));
		return true;
	})()`, xpathLookup(xpath), toggleExpr(checked))

	var ok bool
	if err := p.run(ctx, p.opts.ActionTimeout, chromedp.Evaluate(js, &ok)); err != nil {
		return p.wrapActionErr("toggle", xpath, err)
	}
	if !ok {
		return &schemas.SelectorError{Selector: xpath, Err: fmt.Errorf("no match")}
	}
	return nil
}

func toggleExpr(checked *bool) string {
	if checked == nil {
		return "!el.checked"
	}
	return fmt.Sprintf("%t", *checked)
}

func (p *Page) SelectOption(ctx context.Context, t schemas.ActionTarget, value string) error {
	xpath, err := p.xpathOf(t)
	if err != nil {
		return err
	}
	err = p.run(ctx, p.opts.ActionTimeout,
		chromedp.SetValue(xpath, value, chromedp.BySearch),
		dispatchEvents(xpath, "input", "change"),
	)
	return p.wrapActionErr("select", xpath, err)
}

func (p *Page) Click(ctx context.Context, t schemas.ActionTarget) error {
	xpath, err := p.xpathOf(t)
	if err != nil {
		return err
	}
	err = p.run(ctx, p.opts.ActionTimeout,
		chromedp.WaitVisible(xpath, chromedp.BySearch),
		chromedp.Click(xpath, chromedp.BySearch),
	)
	return p.wrapActionErr("click", xpath, err)
}

func (p *Page) Upload(ctx context.Context, t schemas.ActionTarget, files []string) error {
	xpath, err := p.xpathOf(t)
	if err != nil {
		return err
	}
	err = p.run(ctx, p.opts.ActionTimeout,
		chromedp.SetUploadFiles(xpath, files, chromedp.BySearch),
		dispatchEvents(xpath, "change"),
	)
	return p.wrapActionErr("upload", xpath, err)
}

// wrapActionErr classifies chromedp failures. A dead tab context means the
// document went away mid-action; everything else is reported against the
// selector.
func (p *Page) wrapActionErr(op, xpath string, err error) error {
	if err == nil {
		return nil
	}
	if p.ctx.Err() != nil {
		return &schemas.ContextDestroyedError{Err: err}
	}
	return &schemas.SelectorError{Selector: xpath, Err: fmt.Errorf("%s: %w", op, err)}
}

// xpathLookup returns a JS expression resolving an XPath to its first match.
func xpathLookup(xpath string) string {
	return fmt.Sprintf(
		`document.evaluate(%q, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue`,
		xpath)
}

// dispatchEvents fires bubbling DOM events on the matched element so
// delegated listeners observe the programmatic change.
func dispatchEvents(xpath string, events ...string) chromedp.Action {
	var fires []string
	for _, ev := range events {
		fires = append(fires, fmt.Sprintf(`el.dispatchEvent(new Event(%q, {bubbles: true}));`, ev))
	}
	js := fmt.Sprintf(`(() => {
		const el = %s;
		if (!el) return false;
		%s
		return true;
	})()`, xpathLookup(xpath), strings.Join(fires, "\n\t\t"))

	var ok bool
	return chromedp.Evaluate(js, &ok)
}
