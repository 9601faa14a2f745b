// Package action executes manifest actions against a page. The executor is
// the only component that turns an identifier back into a DOM operation; it
// resolves through the correlation bridge, validates the request against the
// element's classified action, and dispatches the matching page primitive.
package action

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/pagemap/api/schemas"
	"github.com/xkilldash9x/pagemap/internal/bridge"
	"github.com/xkilldash9x/pagemap/internal/dom"
)

// Executor dispatches identifier-addressed actions onto a live page.
type Executor struct {
	logger *zap.Logger
	page   schemas.Page
	bridge *bridge.Bridge
}

// NewExecutor wires an executor to a page and its correlation bridge.
func NewExecutor(logger *zap.Logger, page schemas.Page, br *bridge.Bridge) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		logger: logger.Named("action"),
		page:   page,
		bridge: br,
	}
}

// Do resolves identifier and performs the element's action with the given
// parameters. Identifiers from earlier passes fail with ElementNotFoundError;
// the remediation is always a fresh generation pass, never a retry.
func (e *Executor) Do(ctx context.Context, identifier string, params schemas.ActionParams) (*bridge.Entry, error) {
	entry, ok := e.bridge.Resolve(identifier)
	if !ok {
		e.logger.Warn("Identifier not present in current pass.",
			zap.String("identifier", identifier), zap.String("pass_id", e.bridge.PassID()))
		return nil, &schemas.ElementNotFoundError{Identifier: identifier}
	}

	e.logger.Debug("Executing action.",
		zap.String("identifier", identifier), zap.String("action", string(entry.Action)))

	var err error
	switch entry.Action {
	case schemas.ActionFill:
		err = e.page.Fill(ctx, entry.Target, params.Value)
	case schemas.ActionToggle:
		err = e.page.Toggle(ctx, entry.Target, params.Checked)
	case schemas.ActionSelect:
		err = e.doSelect(ctx, entry, params.Value)
	case schemas.ActionClick:
		err = e.page.Click(ctx, entry.Target)
	case schemas.ActionUpload:
		err = e.page.Upload(ctx, entry.Target, params.Files)
	default:
		err = fmt.Errorf("identifier %q has unsupported action %q", identifier, entry.Action)
	}
	if err != nil {
		return entry, err
	}
	return entry, nil
}

// doSelect matches the requested value against the element's options before
// touching the page, so a miss surfaces the full option list instead of a
// silent no-op. Matching is tiered: exact option value, exact visible text,
// then case-insensitive or substring text.
func (e *Executor) doSelect(ctx context.Context, entry *bridge.Entry, requested string) error {
	opts := selectOptions(entry.Target.Node)

	value, ok := matchOption(opts, requested)
	if !ok {
		labels := make([]string, 0, len(opts))
		for _, o := range opts {
			labels = append(labels, o.text)
		}
		return &schemas.OptionNotFoundError{
			Identifier: entry.Identifier,
			Requested:  requested,
			Available:  labels,
		}
	}
	return e.page.SelectOption(ctx, entry.Target, value)
}

type option struct {
	value string
	text  string
}

// selectOptions lists a <select> node's options in document order. The value
// submitted for an option without a value attribute is its text, matching
// browser behavior.
func selectOptions(sel *html.Node) []option {
	var out []option
	if sel == nil {
		return out
	}
	dom.Walk(sel, func(n *html.Node) bool {
		if dom.Tag(n) != "option" {
			return true
		}
		text := dom.CollapseSpace(dom.Text(n))
		value := text
		if dom.HasAttr(n, "value") {
			value = dom.Attr(n, "value")
		}
		out = append(out, option{value: value, text: text})
		return true
	})
	return out
}

func matchOption(opts []option, requested string) (string, bool) {
	for _, o := range opts {
		if o.value == requested {
			return o.value, true
		}
	}
	for _, o := range opts {
		if o.text == requested {
			return o.value, true
		}
	}
	req := strings.ToLower(requested)
	for _, o := range opts {
		if strings.ToLower(o.text) == req {
			return o.value, true
		}
	}
	if req != "" {
		for _, o := range opts {
			if strings.Contains(strings.ToLower(o.text), req) {
				return o.value, true
			}
		}
	}
	return "", false
}
