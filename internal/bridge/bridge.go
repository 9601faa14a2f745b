// Package bridge owns the only link between issued identifiers and live
// nodes. It is an explicit bidirectional map rebuilt wholesale on every
// generation pass: Reset runs before any retag, which is the mechanism that
// makes identifiers from a previous pass (or a previous pagination window)
// unresolvable the instant a new pass runs.
package bridge

import (
	"sync"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/pagemap/api/schemas"
)

// Entry is one identifier's correlation record: the action target plus the
// metadata the executor and renderer need without re-deriving it.
type Entry struct {
	Identifier string
	Target     schemas.ActionTarget
	Type       schemas.ElementType
	Action     schemas.ActionKind
	FormID     string
	FollowUp   *schemas.FollowUpHint
}

// Bridge maps identifier ↔ node for the current generation pass only.
type Bridge struct {
	mu      sync.RWMutex
	logger  *zap.Logger
	byID    map[string]*Entry
	byNode  map[*html.Node]string
	ordered []*Entry
	passID  string
}

// New returns an empty bridge.
func New(logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{
		logger: logger.Named("bridge"),
		byID:   make(map[string]*Entry),
		byNode: make(map[*html.Node]string),
	}
}

// Reset erases every correlation and records the pass now being tagged.
// Every regeneration must call this before its first Tag.
func (b *Bridge) Reset(passID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.byID) > 0 {
		b.logger.Debug("Clearing correlation markers.",
			zap.Int("previous", len(b.byID)), zap.String("pass_id", passID))
	}
	b.byID = make(map[string]*Entry)
	b.byNode = make(map[*html.Node]string)
	b.ordered = nil
	b.passID = passID
}

// Tag records an identifier → node correlation. Duplicate identifiers within
// a pass indicate an assigner bug and are dropped with a log rather than
// silently overwriting.
func (b *Bridge) Tag(e Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, dup := b.byID[e.Identifier]; dup {
		b.logger.Error("Duplicate identifier within one pass, dropping.",
			zap.String("identifier", e.Identifier))
		return
	}
	stored := e
	b.byID[e.Identifier] = &stored
	if e.Target.Node != nil {
		b.byNode[e.Target.Node] = e.Identifier
	}
	b.ordered = append(b.ordered, &stored)
}

// Resolve returns the entry for an identifier issued in the current pass.
func (b *Bridge) Resolve(id string) (*Entry, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.byID[id]
	return e, ok
}

// IdentifierOf does the reverse lookup from a live node.
func (b *Bridge) IdentifierOf(n *html.Node) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	id, ok := b.byNode[n]
	return id, ok
}

// Entries returns the correlations in tag order.
func (b *Bridge) Entries() []*Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*Entry, len(b.ordered))
	copy(out, b.ordered)
	return out
}

// Len returns the number of live correlations.
func (b *Bridge) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.byID)
}

// PassID returns the identifier of the pass currently tagged.
func (b *Bridge) PassID() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.passID
}
