package schemas

import (
	"context"

	"golang.org/x/net/html"
)

// ActionTarget addresses one element on a page for an action primitive. The
// Node is identity within the backend's current document; the XPath is a
// document-order address that survives serialization, used by backends that
// cannot hold node identity across the wire.
type ActionTarget struct {
	Node  *html.Node `json:"-"`
	XPath string     `json:"xpath"`
}

// Page is the contract between the manifest pipeline and a browser backend.
// A Page hosts exactly one document at a time; Document returns the current
// one and MutationSeq is a monotonic counter that advances on every DOM
// change, which is what the waiter polls to detect settlement.
//
// Implementations: the pure-Go engine (internal/engine) and the CDP-backed
// live browser page (internal/browser).
type Page interface {
	// URL returns the current document URL, or "" before the first navigation.
	URL() string
	// Title returns the current document title.
	Title() string
	// Document returns the root of the current parsed document.
	Document(ctx context.Context) (*html.Node, error)
	// MutationSeq returns the page's monotonic mutation counter.
	MutationSeq() uint64
	// Navigate loads target, replacing the current document wholesale.
	Navigate(ctx context.Context, target string) error

	// Action primitives. Each dispatches the synthetic events a real browser
	// would fire so page-level delegated listeners observe the change.
	Fill(ctx context.Context, t ActionTarget, value string) error
	Toggle(ctx context.Context, t ActionTarget, checked *bool) error
	SelectOption(ctx context.Context, t ActionTarget, value string) error
	Click(ctx context.Context, t ActionTarget) error
	Upload(ctx context.Context, t ActionTarget, files []string) error
}
