// Package detect finds the visible interactive candidates on a page. It is
// the first stage of a generation pass; everything downstream (labeling,
// identification, tagging) consumes its document-ordered output.
package detect

import (
	"github.com/antchfx/htmlquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/pagemap/api/schemas"
	"github.com/xkilldash9x/pagemap/internal/dom"
)

// detectionSelectors is the fixed, ordered union of candidate queries. Order
// matters: de-duplication keeps the first sighting, so repeated scans and
// windowed pagination see a stable sequence. Hidden inputs are excluded at
// the query level; everything else is filtered by the visibility checks.
var detectionSelectors = []string{
	`//input[not(@type='hidden')]`,
	`//textarea`,
	`//select`,
	`//button`,
	`//a[@href]`,
	`//summary`,
	`//*[@role='button' or @role='link' or @role='tab' or @role='menuitem' or @role='checkbox' or @role='radio' or @role='textbox' or @role='searchbox' or @role='combobox' or @role='switch']`,
	`//*[normalize-space(@contenteditable)='true' or (@contenteditable and normalize-space(@contenteditable)='')]`,
	`//*[@onclick]`,
	`//*[@tabindex and not(@tabindex='-1')]`,
}

// Detector scans a parsed document for interactive elements.
type Detector struct {
	logger *zap.Logger
}

// NewDetector returns a detector logging through the given logger.
func NewDetector(logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{logger: logger.Named("detector")}
}

// Detect runs the selector union against doc and returns the de-duplicated,
// document-ordered, visible, enabled candidates. A selector that fails at
// runtime is skipped, not fatal; the failures are returned for diagnostics.
func (d *Detector) Detect(doc *html.Node) ([]*html.Node, []*schemas.SelectorError) {
	if doc == nil {
		return nil, nil
	}

	seen := make(map[*html.Node]bool)
	var skipped []*schemas.SelectorError

	for _, sel := range detectionSelectors {
		nodes, err := htmlquery.QueryAll(doc, sel)
		if err != nil {
			d.logger.Warn("Detection selector failed, skipping.",
				zap.String("selector", sel), zap.Error(err))
			skipped = append(skipped, &schemas.SelectorError{Selector: sel, Err: err})
			continue
		}
		for _, n := range nodes {
			seen[n] = true
		}
	}

	if len(seen) == 0 {
		return nil, skipped
	}

	// A single document-order walk restores first-seen ordering regardless of
	// which selector matched a node, and applies the shared filters once.
	var candidates []*html.Node
	dom.Walk(doc, func(n *html.Node) bool {
		if !seen[n] {
			return true
		}
		if !d.keep(n) {
			return true
		}
		candidates = append(candidates, n)
		return true
	})

	d.logger.Debug("Detection pass complete.",
		zap.Int("candidates", len(candidates)),
		zap.Int("selectors_skipped", len(skipped)))
	return candidates, skipped
}

// keep applies the per-node filters shared by every selector: structural
// tags, disabled state, and attribute-level visibility.
func (d *Detector) keep(n *html.Node) bool {
	switch dom.Tag(n) {
	case "", "html", "body", "head", "script", "style", "template":
		return false
	}
	if dom.IsDisabled(n) {
		return false
	}
	if dom.Tag(n) == "input" && dom.HasAttr(n, "readonly") {
		return false
	}
	return dom.IsVisible(n)
}
