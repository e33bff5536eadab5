// Package selector resolves UI elements from ordered lists of candidate
// selectors. Order is a preference, most specific first: candidates are tried
// one at a time and the first visible match wins even if a later one would
// also match.
package selector

import (
	"errors"
	"time"

	"github.com/yourusername/linkedin-messenger/internal/browser"
	"github.com/yourusername/linkedin-messenger/internal/logger"
)

// ErrNotFound reports that no candidate became visible.
var ErrNotFound = errors.New("no candidate selector matched")

// Waiter reports whether a selector becomes visible within a timeout.
// browser.Page satisfies it.
type Waiter interface {
	WaitVisible(selector string, timeout time.Duration) (browser.Element, error)
}

// Match is the winning candidate.
type Match struct {
	Element  browser.Element
	Selector string
	// Index is the candidate's position in the list.
	Index int
	// Pass is 1 for the direct pass and 2 for the retry after recovery.
	Pass int
}

// FirstVisible tries each candidate in order, giving each its own timeout
// window, and returns the first that becomes visible. Waiter errors count as
// "not visible"; the only error returned is ErrNotFound.
func FirstVisible(w Waiter, candidates []string, timeout time.Duration) (*Match, error) {
	return scan(w, candidates, timeout, 1)
}

// FirstVisibleWithRetry runs FirstVisible, and if nothing matched, runs the
// recovery action (typically a scroll) and scans the same list once more.
// A failing recovery is logged and the second pass still runs.
func FirstVisibleWithRetry(w Waiter, candidates []string, timeout time.Duration, recover func() error) (*Match, error) {
	m, err := scan(w, candidates, timeout, 1)
	if err == nil {
		return m, nil
	}

	if recover != nil {
		if rerr := recover(); rerr != nil {
			logger.Warn("Selector recovery action failed", "error", rerr)
		}
	}

	return scan(w, candidates, timeout, 2)
}

func scan(w Waiter, candidates []string, timeout time.Duration, pass int) (*Match, error) {
	for i, sel := range candidates {
		el, err := w.WaitVisible(sel, timeout)
		if err != nil || el == nil {
			logger.Debug("Selector candidate not visible", "selector", sel, "pass", pass)
			continue
		}
		logger.Debug("Selector candidate matched", "selector", sel, "index", i, "pass", pass)
		return &Match{Element: el, Selector: sel, Index: i, Pass: pass}, nil
	}
	return nil, ErrNotFound
}
