// Package waiter decides when a page has settled after an action. It is a
// small state machine driven by two signals from the page: the URL and a
// monotonic mutation counter. Arm snapshots both before the action; Observe
// then polls at a fixed interval until the page navigates, goes quiet after
// mutating, stays silent through the grace period, or the bound expires.
package waiter

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/pagemap/api/schemas"
)

type state int

const (
	stateObserverArmed state = iota
	stateNavigationSeen
	stateTimedOut
	stateSettling
	stateDone
)

// Options tune one wait cycle. Zero values take the defaults.
type Options struct {
	// PollInterval is how often the page is sampled.
	PollInterval time.Duration
	// Grace is how long a page gets to produce its first signal before the
	// wait concludes nothing changed.
	Grace time.Duration
	// Settle is the mutation silence required after the last observed change.
	Settle time.Duration
	// Max bounds the whole cycle. The caller's context can cut it shorter.
	Max time.Duration
}

const (
	defaultPollInterval = 100 * time.Millisecond
	defaultGrace        = 2 * time.Second
	defaultSettle       = 500 * time.Millisecond
	defaultMax          = 30 * time.Second
)

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = defaultPollInterval
	}
	if o.Grace <= 0 {
		o.Grace = defaultGrace
	}
	if o.Settle <= 0 {
		o.Settle = defaultSettle
	}
	if o.Max <= 0 {
		o.Max = defaultMax
	}
	return o
}

// Observation is the pre-action snapshot Observe compares against.
type Observation struct {
	URL         string
	MutationSeq uint64
	ArmedAt     time.Time
}

// Outcome is the terminal result of one wait cycle.
type Outcome struct {
	Changed   bool
	Navigated bool
	Status    schemas.WaitStatus
	FinalURL  string
}

// Waiter observes one page. It holds no background goroutines; each Observe
// call runs the entire machine inline and releases its ticker on every exit
// path, so nothing outlives the call.
type Waiter struct {
	logger *zap.Logger
	page   schemas.Page
	opts   Options
}

func New(logger *zap.Logger, page schemas.Page, opts Options) *Waiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Waiter{
		logger: logger.Named("waiter"),
		page:   page,
		opts:   opts.withDefaults(),
	}
}

// Arm records the page's URL and mutation counter. Call it before the
// action whose effects Observe will wait for.
func (w *Waiter) Arm() Observation {
	return Observation{
		URL:         w.page.URL(),
		MutationSeq: w.page.MutationSeq(),
		ArmedAt:     time.Now(),
	}
}

// Observe runs the machine until a terminal state. A URL change wins over
// everything and returns immediately; a mutation starts (or restarts) the
// settle countdown; silence through the grace period concludes no change;
// hitting the bound or the context deadline reports a timeout with
// changed=false so the caller can retry or force a remap.
func (w *Waiter) Observe(ctx context.Context, obs Observation) Outcome {
	st := stateObserverArmed
	lastSeq := obs.MutationSeq
	graceEnd := time.Now().Add(w.opts.Grace)
	maxEnd := time.Now().Add(w.opts.Max)
	var settleEnd time.Time

	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			st = stateTimedOut
		case <-ticker.C:
		}

		now := time.Now()
		if st != stateTimedOut && now.After(maxEnd) {
			st = stateTimedOut
		}

		if st == stateTimedOut {
			w.logger.Debug("Wait timed out.", zap.String("url", obs.URL))
			return Outcome{Status: schemas.WaitTimedOut, FinalURL: w.page.URL()}
		}

		if url := w.page.URL(); url != obs.URL {
			st = stateNavigationSeen
			w.logger.Debug("Navigation observed.",
				zap.String("from", obs.URL), zap.String("to", url))
			return Outcome{Changed: true, Navigated: true, Status: schemas.WaitNavigated, FinalURL: url}
		}

		if seq := w.page.MutationSeq(); seq != lastSeq {
			lastSeq = seq
			st = stateSettling
			settleEnd = now.Add(w.opts.Settle)
			continue
		}

		switch st {
		case stateSettling:
			if now.After(settleEnd) {
				st = stateDone
				return Outcome{Changed: true, Status: schemas.WaitSettled, FinalURL: obs.URL}
			}
		case stateObserverArmed:
			if now.After(graceEnd) {
				st = stateDone
				return Outcome{Status: schemas.WaitNoChange, FinalURL: obs.URL}
			}
		}
	}
}
