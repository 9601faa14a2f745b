// Package identify turns detected nodes into classified, uniquely identified
// elements. Classification is a deterministic, total lookup: every node gets
// a (type, action) pair, with the generic element/click fallback for anything
// the table does not recognize.
package identify

import (
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/xkilldash9x/pagemap/api/schemas"
	"github.com/xkilldash9x/pagemap/internal/dom"
)

// inputTypes maps the input type attribute to its classification. Input
// types not listed (date, time, color, range, ...) fall through to text.
var inputTypes = map[string]struct {
	elem   schemas.ElementType
	action schemas.ActionKind
}{
	"text":     {schemas.ElementText, schemas.ActionFill},
	"email":    {schemas.ElementEmail, schemas.ActionFill},
	"password": {schemas.ElementPassword, schemas.ActionFill},
	"number":   {schemas.ElementNumber, schemas.ActionFill},
	"tel":      {schemas.ElementPhone, schemas.ActionFill},
	"url":      {schemas.ElementURL, schemas.ActionFill},
	"search":   {schemas.ElementSearch, schemas.ActionFill},
	"checkbox": {schemas.ElementCheckbox, schemas.ActionToggle},
	"radio":    {schemas.ElementRadio, schemas.ActionToggle},
	"submit":   {schemas.ElementSubmit, schemas.ActionClick},
	"image":    {schemas.ElementSubmit, schemas.ActionClick},
	"button":   {schemas.ElementButton, schemas.ActionClick},
	"reset":    {schemas.ElementButton, schemas.ActionClick},
	"file":     {schemas.ElementFile, schemas.ActionUpload},
}

// roleTypes classifies by ARIA role when the tag alone is not conclusive.
var roleTypes = map[string]struct {
	elem   schemas.ElementType
	action schemas.ActionKind
}{
	"button":    {schemas.ElementButton, schemas.ActionClick},
	"link":      {schemas.ElementLink, schemas.ActionClick},
	"tab":       {schemas.ElementTab, schemas.ActionClick},
	"menuitem":  {schemas.ElementMenuItem, schemas.ActionClick},
	"checkbox":  {schemas.ElementCheckbox, schemas.ActionToggle},
	"radio":     {schemas.ElementRadio, schemas.ActionToggle},
	"switch":    {schemas.ElementCheckbox, schemas.ActionToggle},
	"textbox":   {schemas.ElementText, schemas.ActionFill},
	"searchbox": {schemas.ElementSearch, schemas.ActionFill},
}

// Classify returns the element type and supported action for a node.
func Classify(n *html.Node) (schemas.ElementType, schemas.ActionKind) {
	switch dom.Tag(n) {
	case "input":
		t := strings.ToLower(dom.Attr(n, "type"))
		if c, ok := inputTypes[t]; ok {
			return c.elem, c.action
		}
		return schemas.ElementText, schemas.ActionFill

	case "textarea":
		return schemas.ElementText, schemas.ActionFill

	case "select":
		return schemas.ElementSelect, schemas.ActionSelect

	case "button":
		t := strings.ToLower(dom.Attr(n, "type"))
		// An untyped button inside a form submits it.
		if t == "submit" || (t == "" && dom.AncestorForm(n) != nil) {
			return schemas.ElementSubmit, schemas.ActionClick
		}
		return schemas.ElementButton, schemas.ActionClick

	case "a":
		if href := dom.Attr(n, "href"); strings.HasPrefix(href, "#") {
			return schemas.ElementAnchor, schemas.ActionClick
		}
		return schemas.ElementLink, schemas.ActionClick

	case "summary":
		return schemas.ElementButton, schemas.ActionClick
	}

	if c, ok := roleTypes[strings.ToLower(dom.Attr(n, "role"))]; ok {
		return c.elem, c.action
	}

	if v := strings.ToLower(strings.TrimSpace(dom.Attr(n, "contenteditable"))); v == "true" || (v == "" && dom.HasAttr(n, "contenteditable")) {
		return schemas.ElementText, schemas.ActionFill
	}

	return schemas.ElementGeneric, schemas.ActionClick
}

// FollowUp returns the expected consequence of acting on an element of the
// given type, or nil when nothing in particular should be expected.
func FollowUp(t schemas.ElementType) *schemas.FollowUpHint {
	switch t {
	case schemas.ElementSubmit:
		return &schemas.FollowUpHint{Kind: schemas.FollowUpNavigation, SettleIn: 3 * time.Second}
	case schemas.ElementLink:
		return &schemas.FollowUpHint{Kind: schemas.FollowUpNavigation, SettleIn: 3 * time.Second}
	case schemas.ElementTab, schemas.ElementMenuItem:
		return &schemas.FollowUpHint{Kind: schemas.FollowUpDOMUpdate, SettleIn: time.Second}
	case schemas.ElementButton:
		return &schemas.FollowUpHint{Kind: schemas.FollowUpDOMUpdate, SettleIn: 1500 * time.Millisecond}
	case schemas.ElementAnchor:
		return &schemas.FollowUpHint{Kind: schemas.FollowUpNone}
	}
	return nil
}
