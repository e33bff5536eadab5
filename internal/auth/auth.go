package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/yourusername/linkedin-messenger/internal/browser"
	"github.com/yourusername/linkedin-messenger/internal/logger"
	"github.com/yourusername/linkedin-messenger/internal/session"
)

// ErrLoginTimeout is returned when no logged-in page was seen in time.
var ErrLoginTimeout = errors.New("login not detected before the deadline")

// ChallengeType represents the type of security challenge detected
type ChallengeType string

const (
	ChallengeNone ChallengeType = "none"
	Challenge2FA  ChallengeType = "2fa"
)

// Options configures a manual login.
type Options struct {
	BaseURL string
	// Wait bounds how long the user has to log in.
	Wait time.Duration
	// Poll is the interval between logged-in checks.
	Poll time.Duration
	// LoggedIn lists landmark selectors present only when logged in.
	LoggedIn []string
	// Countdown, when set, is called on each poll with the time left.
	Countdown func(left time.Duration)
}

// Login opens the site's login page in the browser the driver launches and
// waits for the user to sign in by hand. Once a logged-in page is seen, the
// session is saved to store.
func Login(ctx context.Context, driver browser.Driver, store *session.Store, opts Options) (*session.State, error) {
	if opts.Poll <= 0 {
		opts.Poll = time.Second
	}
	logger.Info("Starting manual LinkedIn login", "wait", opts.Wait)

	// An existing artifact is reused so a still-valid session skips the form.
	prior, err := store.Load()
	if err != nil && !errors.Is(err, session.ErrNotFound) {
		logger.Warn("Ignoring unreadable session file", "error", err)
		prior = nil
	}

	h, err := driver.Open(ctx, prior)
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	defer h.Close()
	page := h.Page()

	loginURL := strings.TrimRight(opts.BaseURL, "/") + "/login"
	logger.Debug("Navigating to LinkedIn login page", "url", loginURL)
	if err := page.Navigate(loginURL, 45*time.Second); err != nil {
		return nil, fmt.Errorf("failed to navigate to login page: %w", err)
	}

	if err := waitForLogin(ctx, page, opts); err != nil {
		return nil, err
	}

	st, err := h.StorageState()
	if err != nil {
		return nil, fmt.Errorf("failed to capture session: %w", err)
	}
	if err := store.Save(st); err != nil {
		return nil, err
	}

	logger.Info("Session saved", "path", store.Path(), "cookies", len(st.Cookies))
	return st, nil
}

func waitForLogin(ctx context.Context, page browser.Page, opts Options) error {
	deadline := time.Now().Add(opts.Wait)
	warned := false

	ticker := time.NewTicker(opts.Poll)
	defer ticker.Stop()

	for {
		if isLoggedIn(page, opts.LoggedIn) {
			logger.Info("Login detected")
			return nil
		}

		if !warned {
			if c, found := DetectSecurityChallenge(page); found {
				logger.Warn("Security challenge detected, complete it in the browser window", "type", c)
				warned = true
			}
		}

		left := time.Until(deadline)
		if left <= 0 {
			return ErrLoginTimeout
		}
		if opts.Countdown != nil {
			opts.Countdown(left)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// DetectSecurityChallenge checks if a security challenge is present
func DetectSecurityChallenge(page browser.Page) (ChallengeType, bool) {
	// Common 2FA selectors
	selectors := []string{
		"#input__phone_verification_pin",
		"input[name='pin']",
		"#two-step-challenge",
	}

	for _, selector := range selectors {
		if has, _ := page.Has(selector); has {
			return Challenge2FA, true
		}
	}

	return ChallengeNone, false
}

// isLoggedIn checks the URL first, then the landmark selectors.
func isLoggedIn(page browser.Page, landmarks []string) bool {
	if u, err := page.URL(); err == nil {
		if strings.Contains(u, "/feed") || strings.Contains(u, "/mynetwork") {
			return true
		}
	}

	for _, selector := range landmarks {
		if has, _ := page.Has(selector); has {
			return true
		}
	}

	return false
}
