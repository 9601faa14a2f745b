package schemas

import (
	"fmt"
	"time"
)

// -- Element Classification --

// ElementType is the classified kind of an interactive element. The set is
// closed; anything the classifier cannot place falls back to ElementGeneric.
type ElementType string

const (
	ElementText     ElementType = "text"
	ElementEmail    ElementType = "email"
	ElementPassword ElementType = "password"
	ElementNumber   ElementType = "number"
	ElementPhone    ElementType = "phone"
	ElementURL      ElementType = "url"
	ElementSearch   ElementType = "search"
	ElementCheckbox ElementType = "checkbox"
	ElementRadio    ElementType = "radio"
	ElementSubmit   ElementType = "submit"
	ElementButton   ElementType = "button"
	ElementFile     ElementType = "file"
	ElementSelect   ElementType = "select"
	ElementLink     ElementType = "link"
	ElementTab      ElementType = "tab"
	ElementMenuItem ElementType = "menu-item"
	ElementAnchor   ElementType = "anchor"
	ElementGeneric  ElementType = "element"
)

// ActionKind is the interaction verb an element supports.
type ActionKind string

const (
	ActionFill   ActionKind = "fill"
	ActionToggle ActionKind = "toggle"
	ActionSelect ActionKind = "select"
	ActionClick  ActionKind = "click"
	ActionUpload ActionKind = "upload"
)

// FollowUpKind describes what a caller should expect to happen after acting
// on an element.
type FollowUpKind string

const (
	FollowUpNavigation FollowUpKind = "navigation"
	FollowUpDOMUpdate  FollowUpKind = "dom-update"
	FollowUpNone       FollowUpKind = "none"
)

// FollowUpHint pairs the expected consequence of an action with a rough
// settle time. It is advisory only; the waiter remains authoritative.
type FollowUpHint struct {
	Kind     FollowUpKind  `json:"kind"`
	SettleIn time.Duration `json:"settleInMs"`
}

// -- Manifest Shapes --

// TaggedElement is one interactive element discovered during a generation
// pass. Its Identifier is unique only within that pass; a new pass (including
// a new pagination window) invalidates it.
type TaggedElement struct {
	Identifier  string        `json:"identifier"`
	Type        ElementType   `json:"type"`
	Action      ActionKind    `json:"action"`
	Description string        `json:"description"`
	Context     string        `json:"context,omitempty"`
	FormID      string        `json:"formId,omitempty"`
	FollowUp    *FollowUpHint `json:"followUp,omitempty"`
}

// FormGroup collects the tagged fields belonging to one <form> ancestor.
// Submit carries the form's dedicated submit control when one was tagged;
// button-typed controls that are not submits remain ordinary Fields.
type FormGroup struct {
	Identifier string          `json:"identifier"`
	Name       string          `json:"name,omitempty"`
	Target     string          `json:"target,omitempty"`
	Fields     []TaggedElement `json:"fields"`
	Submit     *TaggedElement  `json:"submit,omitempty"`
}

// NavigationBucket is the fixed-precedence category a link-like element
// lands in. Each element belongs to at most one bucket.
type NavigationBucket string

const (
	NavMain       NavigationBucket = "main"
	NavBreadcrumb NavigationBucket = "breadcrumb"
	NavTabs       NavigationBucket = "tabs"
	NavMenu       NavigationBucket = "menu"
)

// NavigationGroup is an ordered list of navigation elements under one bucket.
type NavigationGroup struct {
	Bucket NavigationBucket `json:"bucket"`
	Items  []TaggedElement  `json:"items"`
}

// PaginationInfo describes the window a manifest covers when the full
// candidate set exceeds the requested window size.
type PaginationInfo struct {
	TotalElements    int  `json:"totalElements"`
	ReturnedElements int  `json:"returnedElements"`
	StartIndex       int  `json:"startIndex"`
	EndIndex         int  `json:"endIndex"`
	HasMore          bool `json:"hasMore"`
	CurrentPage      int  `json:"currentPage"`
	TotalPages       int  `json:"totalPages"`
	WindowSize       int  `json:"windowSize"`
}

// Manifest is the structured description of a page's interactive surface as
// of one generation pass. Manifests are replaced wholesale, never merged.
type Manifest struct {
	PassID     string            `json:"passId"`
	URL        string            `json:"url"`
	Title      string            `json:"title,omitempty"`
	Elements   []TaggedElement   `json:"elements"`
	Summary    string            `json:"summary"`
	Forms      []FormGroup       `json:"forms"`
	Navigation []NavigationGroup `json:"navigation"`
	Pagination *PaginationInfo   `json:"pagination,omitempty"`
	Generated  time.Time         `json:"generatedAt"`
}

// ElementByID returns the tagged element carrying the given identifier, or
// nil if the manifest does not contain it.
func (m *Manifest) ElementByID(id string) *TaggedElement {
	for i := range m.Elements {
		if m.Elements[i].Identifier == id {
			return &m.Elements[i]
		}
	}
	return nil
}

// -- Action Inputs and Results --

// ActionParams is the parameter bag for Execute. Semantics depend on the
// action kind: Value for fill/select, Checked for toggle, Files for upload.
// Click takes no parameters.
type ActionParams struct {
	Value   string   `json:"value,omitempty"`
	Checked *bool    `json:"checked,omitempty"`
	Files   []string `json:"files,omitempty"`
}

// WaitStatus is the terminal disposition of a wait cycle.
type WaitStatus string

const (
	WaitSettled   WaitStatus = "settled"
	WaitNoChange  WaitStatus = "no-change"
	WaitNavigated WaitStatus = "navigated"
	WaitTimedOut  WaitStatus = "timed-out"
	WaitBlocked   WaitStatus = "bot-blocked"
)

// ActionResult reports what an executed action did to the page, including
// the regenerated manifest when one could be produced.
type ActionResult struct {
	Identifier string     `json:"identifier"`
	Action     ActionKind `json:"action"`
	Changed    bool       `json:"changed"`
	Navigated  bool       `json:"navigated"`
	Status     WaitStatus `json:"status"`
	FinalURL   string     `json:"finalUrl,omitempty"`
	Manifest   *Manifest  `json:"manifest,omitempty"`
}

// String renders a compact human-readable form for logs.
func (r *ActionResult) String() string {
	return fmt.Sprintf("%s(%s): status=%s changed=%t navigated=%t",
		r.Action, r.Identifier, r.Status, r.Changed, r.Navigated)
}
