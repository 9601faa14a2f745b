// Package mapper orchestrates the full pipeline: detection, labeling,
// identification, bridging, manifest assembly, action execution and the
// post-action wait cycle. It is the only package callers need; everything
// below it is plumbing.
package mapper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/pagemap/api/schemas"
	"github.com/xkilldash9x/pagemap/internal/action"
	"github.com/xkilldash9x/pagemap/internal/bridge"
	"github.com/xkilldash9x/pagemap/internal/detect"
	"github.com/xkilldash9x/pagemap/internal/dom"
	"github.com/xkilldash9x/pagemap/internal/identify"
	"github.com/xkilldash9x/pagemap/internal/label"
	"github.com/xkilldash9x/pagemap/internal/manifest"
	"github.com/xkilldash9x/pagemap/internal/sentinel"
	"github.com/xkilldash9x/pagemap/internal/waiter"
)

// regenRetryDelay is the pause before the single retry when regeneration
// hits a document torn down mid-navigation.
const regenRetryDelay = 250 * time.Millisecond

// Config tunes a mapper.
type Config struct {
	// Wait configures the post-action settle cycle.
	Wait waiter.Options
	// HumanPollInterval bounds how often WaitForChange re-runs the sentinel.
	HumanPollInterval time.Duration
}

// Mapper binds one page to the pipeline. All public methods are safe for
// concurrent use: overlapping Generate calls for the same window collapse
// into one pass, and passes for different windows run strictly one at a
// time so the bridge always holds exactly one pass's correlations.
type Mapper struct {
	logger     *zap.Logger
	page       schemas.Page
	classifier sentinel.Classifier

	detector *detect.Detector
	bridge   *bridge.Bridge
	executor *action.Executor
	waiter   *waiter.Waiter

	regen     singleflight.Group
	genMu     sync.Mutex
	humanPoll *rate.Limiter
}

// New wires a mapper around a page backend.
func New(logger *zap.Logger, page schemas.Page, cfg Config) *Mapper {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("mapper")

	if cfg.HumanPollInterval <= 0 {
		cfg.HumanPollInterval = 2 * time.Second
	}

	br := bridge.New(logger)
	return &Mapper{
		logger:     logger,
		page:       page,
		classifier: sentinel.New(logger),
		detector:   detect.NewDetector(logger),
		bridge:     br,
		executor:   action.NewExecutor(logger, page, br),
		waiter:     waiter.New(logger, page, cfg.Wait),
		humanPoll:  rate.NewLimiter(rate.Every(cfg.HumanPollInterval), 1),
	}
}

// SetClassifier swaps the bot-block rules. Intended for callers with
// site-specific knowledge; the default covers the major hosted providers.
func (m *Mapper) SetClassifier(c sentinel.Classifier) {
	if c != nil {
		m.classifier = c
	}
}

// Bridge exposes the correlation bridge for collaborators that need to map
// identifiers to targets, such as element-bounded screenshot capture.
func (m *Mapper) Bridge() *bridge.Bridge { return m.bridge }

// -- Generation --

// Generate runs a full pass over the current document and returns a fresh
// manifest. Concurrent calls with the same window are collapsed into a
// single pass. Every pass invalidates all previously issued identifiers,
// including passes over a different pagination window.
func (m *Mapper) Generate(ctx context.Context, win detect.WindowOptions) (*schemas.Manifest, error) {
	key := fmt.Sprintf("generate:%d:%d", win.Size, win.Start)
	v, err, _ := m.regen.Do(key, func() (interface{}, error) {
		return m.generate(ctx, win)
	})
	if err != nil {
		return nil, err
	}
	return v.(*schemas.Manifest), nil
}

func (m *Mapper) generate(ctx context.Context, win detect.WindowOptions) (*schemas.Manifest, error) {
	// Passes are mutually exclusive regardless of window: the reset-then-tag
	// sequence below must never interleave with another pass's, or the
	// bridge ends up holding correlations from two passes at once.
	m.genMu.Lock()
	defer m.genMu.Unlock()

	doc, err := m.page.Document(ctx)
	if err != nil {
		return nil, err
	}
	url, title := m.page.URL(), m.page.Title()

	if err := m.guard(url, title, doc); err != nil {
		return nil, err
	}

	candidates, selErrs := m.detector.Detect(doc)
	for _, se := range selErrs {
		m.logger.Warn("Detection selector skipped.", zap.Error(se))
	}
	windowed, pagination := detect.Window(candidates, win)

	extractor := label.NewExtractor(doc)
	registry := identify.NewRegistry()
	passID := uuid.New().String()

	items := make([]manifest.Item, 0, len(windowed))
	type tagged struct {
		el schemas.TaggedElement
		n  *html.Node
	}
	start := 0
	if pagination != nil {
		start = pagination.StartIndex
	}

	var entries []tagged
	for i, n := range windowed {
		elemType, actionKind := identify.Classify(n)
		ctxText := extractor.Context(n)
		id := identify.Assign(registry, n, elemType, ctxText, start+i)

		el := schemas.TaggedElement{
			Identifier:  id,
			Type:        elemType,
			Action:      actionKind,
			Description: describe(ctxText, elemType),
			Context:     ctxText,
			FollowUp:    identify.FollowUp(elemType),
		}
		entries = append(entries, tagged{el: el, n: n})
		items = append(items, manifest.Item{Element: el, Node: n})
	}

	man := manifest.Build(items, manifest.Meta{
		PassID:     passID,
		URL:        url,
		Title:      title,
		Pagination: pagination,
		Generated:  time.Now(),
	})

	// Retag wholesale: the reset is what invalidates every identifier from
	// the previous pass.
	m.bridge.Reset(passID)
	for i, e := range entries {
		m.bridge.Tag(bridge.Entry{
			Identifier: e.el.Identifier,
			Target:     schemas.ActionTarget{Node: e.n, XPath: dom.UniqueXPath(e.n)},
			Type:       e.el.Type,
			Action:     e.el.Action,
			FormID:     man.Elements[i].FormID,
			FollowUp:   e.el.FollowUp,
		})
	}

	m.logger.Info("Manifest generated.",
		zap.String("pass_id", passID),
		zap.Int("elements", len(man.Elements)),
		zap.Int("forms", len(man.Forms)))
	return man, nil
}

func describe(ctxText string, t schemas.ElementType) string {
	if ctxText != "" {
		return ctxText
	}
	return "unlabeled " + string(t)
}

// guard runs the layered sentinel checks and the robot probe.
func (m *Mapper) guard(url, title string, doc *html.Node) error {
	if v := m.classifier.Classify(url, title, doc); v.Blocked {
		return v.Err()
	}
	if v := sentinel.DetectRobotCheck(url, doc); v.Blocked {
		return v.Err()
	}
	return nil
}

// -- Execution --

// Execute performs the identified element's action, waits for the page to
// settle, regenerates the manifest when anything changed, and reports the
// outcome. The returned manifest, when present, supersedes all previous
// identifiers.
func (m *Mapper) Execute(ctx context.Context, identifier string, params schemas.ActionParams) (*schemas.ActionResult, error) {
	doc, err := m.page.Document(ctx)
	if err != nil {
		return nil, err
	}
	if err := m.guard(m.page.URL(), m.page.Title(), doc); err != nil {
		return nil, err
	}

	obs := m.waiter.Arm()
	entry, err := m.executor.Do(ctx, identifier, params)
	if err != nil {
		return nil, err
	}

	out := m.waiter.Observe(ctx, obs)

	result := &schemas.ActionResult{
		Identifier: identifier,
		Action:     entry.Action,
		Changed:    out.Changed,
		Navigated:  out.Navigated,
		Status:     out.Status,
		FinalURL:   out.FinalURL,
	}

	if out.Changed {
		man, err := m.regenerateAfterChange(ctx, out.Navigated)
		if err != nil {
			if schemas.IsBotBlocked(err) {
				result.Status = schemas.WaitBlocked
				return result, err
			}
			return result, fmt.Errorf("regenerate after action: %w", err)
		}
		result.Manifest = man
	}
	return result, nil
}

// regenerateAfterChange runs a fresh pass, retrying once when the document
// was torn down mid-navigation.
func (m *Mapper) regenerateAfterChange(ctx context.Context, navigated bool) (*schemas.Manifest, error) {
	man, err := m.Generate(ctx, detect.WindowOptions{})
	if err == nil {
		return man, nil
	}

	var cde *schemas.ContextDestroyedError
	if !errors.As(err, &cde) && !errors.Is(err, schemas.ErrNoDocument) {
		return nil, err
	}
	m.logger.Debug("Document replaced mid-regeneration, retrying once.",
		zap.Bool("navigated", navigated), zap.Error(err))

	select {
	case <-time.After(regenRetryDelay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return m.Generate(ctx, detect.WindowOptions{})
}

// -- Human Handoff --

// WaitForChange re-polls a bot-blocked page until the challenge clears or
// the page navigates away, then regenerates. Polling is rate-limited so a
// long human pause does not hammer the page. Returns ErrWaitTimeout when
// the context expires first.
func (m *Mapper) WaitForChange(ctx context.Context, timeout time.Duration) (*schemas.Manifest, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	startURL := m.page.URL()

	for {
		if err := m.humanPoll.Wait(ctx); err != nil {
			return nil, schemas.ErrWaitTimeout
		}

		doc, err := m.page.Document(ctx)
		if err != nil && !errors.Is(err, schemas.ErrNoDocument) {
			return nil, err
		}
		url, title := m.page.URL(), m.page.Title()

		if m.guard(url, title, doc) == nil || url != startURL {
			m.logger.Info("Challenge cleared, regenerating.", zap.String("url", url))
			return m.regenerateAfterChange(ctx, url != startURL)
		}
	}
}
