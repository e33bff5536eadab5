package auth

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/yourusername/linkedin-messenger/internal/browser"
	"github.com/yourusername/linkedin-messenger/internal/logger"
	"github.com/yourusername/linkedin-messenger/internal/session"
)

func TestMain(m *testing.M) {
	logger.SetForTest(zap.NewNop())
	os.Exit(m.Run())
}

// loginPage reports the login form until polls reaches loggedInAfter.
type loginPage struct {
	polls         int
	loggedInAfter int
	challenge     bool
	nav           string
}

func (p *loginPage) Navigate(url string, timeout time.Duration) error {
	p.nav = url
	return nil
}

func (p *loginPage) URL() (string, error) {
	p.polls++
	if p.loggedInAfter > 0 && p.polls >= p.loggedInAfter {
		return "https://www.linkedin.com/feed/", nil
	}
	return p.nav, nil
}

func (p *loginPage) Has(sel string) (bool, error) {
	return p.challenge && sel == "#two-step-challenge", nil
}

func (p *loginPage) WaitVisible(string, time.Duration) (browser.Element, error) {
	return nil, browser.ErrTimeout
}
func (p *loginPage) Find(string, time.Duration) (browser.Element, error) { return nil, browser.ErrTimeout }
func (p *loginPage) All(string) ([]browser.Element, error)               { return nil, nil }
func (p *loginPage) ScrollBy(int) error                                  { return nil }
func (p *loginPage) MoveMouse(float64, float64) error                    { return nil }

type handle struct {
	page   *loginPage
	closed bool
}

func (h *handle) Page() browser.Page { return h.page }
func (h *handle) StorageState() (*session.State, error) {
	return &session.State{Cookies: []session.Cookie{{Name: "li_at", Value: "fresh", Domain: ".linkedin.com", Path: "/"}}}, nil
}
func (h *handle) Close() error { h.closed = true; return nil }

type driver struct{ h *handle }

func (d *driver) Open(ctx context.Context, st *session.State) (browser.Handle, error) {
	return d.h, nil
}

func TestLogin_SavesSessionOnceLoggedIn(t *testing.T) {
	store := session.NewStore(filepath.Join(t.TempDir(), "linkedin-session.json"))
	h := &handle{page: &loginPage{loggedInAfter: 3, challenge: true}}

	var ticks int
	st, err := Login(context.Background(), &driver{h: h}, store, Options{
		BaseURL:   "https://www.linkedin.com",
		Wait:      5 * time.Second,
		Poll:      time.Millisecond,
		Countdown: func(time.Duration) { ticks++ },
	})
	if err != nil {
		t.Fatal(err)
	}
	if st.Cookies[0].Value != "fresh" {
		t.Errorf("state = %+v", st)
	}
	if h.page.nav != "https://www.linkedin.com/login" {
		t.Errorf("navigated to %q", h.page.nav)
	}
	if !h.closed {
		t.Error("browser left open")
	}
	if ticks != 2 {
		t.Errorf("countdown called %d times, want 2", ticks)
	}

	saved, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if saved.Cookies[0].Value != "fresh" {
		t.Errorf("saved = %+v", saved)
	}
}

func TestLogin_Timeout(t *testing.T) {
	store := session.NewStore(filepath.Join(t.TempDir(), "linkedin-session.json"))
	h := &handle{page: &loginPage{}}

	_, err := Login(context.Background(), &driver{h: h}, store, Options{
		BaseURL: "https://www.linkedin.com",
		Wait:    20 * time.Millisecond,
		Poll:    time.Millisecond,
	})
	if !errors.Is(err, ErrLoginTimeout) {
		t.Fatalf("expected ErrLoginTimeout, got %v", err)
	}
	if store.Exists() {
		t.Error("session saved without a login")
	}
}

func TestIsLoggedIn_Landmark(t *testing.T) {
	p := &loginPage{challenge: true}
	if !isLoggedIn(p, []string{"#two-step-challenge"}) {
		t.Error("landmark match should count as logged in")
	}
	if isLoggedIn(&loginPage{}, []string{"#global-nav"}) {
		t.Error("login page reported as logged in")
	}
}
