// Package browser wraps the Chromium engine behind small Page and Element
// interfaces so the messaging flows can run against a fake in tests.
package browser

import (
	"context"
	"time"

	"github.com/yourusername/linkedin-messenger/internal/session"
)

// Element is a located DOM node.
type Element interface {
	Click() error
	// Input inserts text at the element's caret, focusing it first.
	Input(text string) error
	Text() (string, error)
	// Attribute returns the attribute value and whether it is present.
	Attribute(name string) (string, bool, error)
	// Center returns the element's center in viewport coordinates.
	Center() (x, y float64, err error)
}

// Page is one browser tab.
type Page interface {
	// Navigate loads url and waits for the load event within timeout.
	Navigate(url string, timeout time.Duration) error
	URL() (string, error)
	// Has reports whether selector currently matches, without waiting.
	Has(selector string) (bool, error)
	// WaitVisible waits up to timeout for selector to match a visible element.
	WaitVisible(selector string, timeout time.Duration) (Element, error)
	// Find waits up to timeout for selector to match, visible or not.
	Find(selector string, timeout time.Duration) (Element, error)
	// All returns every current match of selector, without waiting.
	All(selector string) ([]Element, error)
	ScrollBy(dy int) error
	MoveMouse(x, y float64) error
}

// Handle is one launched browser with its page. It owns the process.
type Handle interface {
	Page() Page
	// StorageState captures cookies and the current origin's localStorage.
	StorageState() (*session.State, error)
	Close() error
}

// Driver launches browsers.
type Driver interface {
	// Open launches a browser with the fingerprint profile applied and, when
	// state is non-nil, the session restored into it.
	Open(ctx context.Context, state *session.State) (Handle, error)
}

// Fingerprint is the fixed set of environment characteristics presented to
// the site.
type Fingerprint struct {
	UserAgent      string
	AcceptLanguage string
	Locale         string
	Timezone       string
	ViewportWidth  int
	ViewportHeight int
}

// DefaultFingerprint is a desktop Chrome on Windows in a French locale.
func DefaultFingerprint() Fingerprint {
	return Fingerprint{
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		AcceptLanguage: "fr-FR,fr;q=0.9,en-US;q=0.8,en;q=0.7",
		Locale:         "fr-FR",
		Timezone:       "Europe/Paris",
		ViewportWidth:  1920,
		ViewportHeight: 1080,
	}
}
