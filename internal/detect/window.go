package detect

import (
	"golang.org/x/net/html"

	"github.com/xkilldash9x/pagemap/api/schemas"
)

// WindowOptions selects a bounded slice of the full candidate set. A zero
// Size means no windowing: the whole set is returned and no pagination info
// is produced.
type WindowOptions struct {
	Size  int
	Start int
}

// Window restricts candidates to [Start, Start+Size) and reports the window
// arithmetic. The caller recomputes the full set from scratch on every call;
// this function only slices, it never caches.
func Window(candidates []*html.Node, opts WindowOptions) ([]*html.Node, *schemas.PaginationInfo) {
	total := len(candidates)
	if opts.Size <= 0 {
		return candidates, nil
	}

	start := opts.Start
	if start < 0 {
		start = 0
	}
	if start > total {
		start = total
	}
	end := start + opts.Size
	if end > total {
		end = total
	}

	window := candidates[start:end]
	info := &schemas.PaginationInfo{
		TotalElements:    total,
		ReturnedElements: len(window),
		StartIndex:       start,
		EndIndex:         end,
		HasMore:          end < total,
		CurrentPage:      start/opts.Size + 1,
		TotalPages:       (total + opts.Size - 1) / opts.Size,
		WindowSize:       opts.Size,
	}
	return window, info
}
