package schemas

import (
	"errors"
	"fmt"
	"strings"
)

// -- Error Taxonomy --

// ErrNoDocument indicates an operation ran before any page was loaded.
var ErrNoDocument = errors.New("no document loaded")

// ErrWaitTimeout indicates a wait cycle exhausted its bound before the page
// settled. It is reported, not fatal; callers may retry or force a remap.
var ErrWaitTimeout = errors.New("wait timed out before page settled")

// SelectorError records one detection selector failing at runtime. Detection
// skips the selector and continues; the error is only surfaced in logs and
// diagnostics.
type SelectorError struct {
	Selector string
	Err      error
}

func (e *SelectorError) Error() string {
	return fmt.Sprintf("selector %q failed: %v", e.Selector, e.Err)
}

func (e *SelectorError) Unwrap() error { return e.Err }

// ElementNotFoundError means an identifier did not resolve to a live node,
// usually because a regeneration pass has run since it was issued.
type ElementNotFoundError struct {
	Identifier string
}

func (e *ElementNotFoundError) Error() string {
	return fmt.Sprintf("element %q not found: identifiers are only valid for the latest generation pass; regenerate the manifest and retry", e.Identifier)
}

// OptionNotFoundError means a select action matched none of the element's
// options by value, exact text, or substring text.
type OptionNotFoundError struct {
	Identifier string
	Requested  string
	Available  []string
}

func (e *OptionNotFoundError) Error() string {
	return fmt.Sprintf("option %q not found in %q; available options: [%s]",
		e.Requested, e.Identifier, strings.Join(e.Available, ", "))
}

// ContextDestroyedError means the document was torn down mid-operation,
// typically by a navigation. Navigated distinguishes a URL change from an
// in-place document replacement.
type ContextDestroyedError struct {
	Navigated bool
	Err       error
}

func (e *ContextDestroyedError) Error() string {
	cause := "in-place document replacement"
	if e.Navigated {
		cause = "navigation"
	}
	return fmt.Sprintf("execution context destroyed (%s): %v", cause, e.Err)
}

func (e *ContextDestroyedError) Unwrap() error { return e.Err }

// BotBlockedError is a suspended state, not a failure: the sentinel decided
// the page is an anti-automation challenge and a human must complete it
// before normal flow can resume.
type BotBlockedError struct {
	Provider string
	Signal   string
}

func (e *BotBlockedError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("page blocked by %s (%s): human challenge completion required", e.Provider, e.Signal)
	}
	return fmt.Sprintf("page blocked by anti-bot protection (%s): human challenge completion required", e.Signal)
}

// IsBotBlocked reports whether err is (or wraps) a BotBlockedError.
func IsBotBlocked(err error) bool {
	var be *BotBlockedError
	return errors.As(err, &be)
}
