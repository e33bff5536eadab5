package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/yourusername/linkedin-messenger/internal/browser"
	"github.com/yourusername/linkedin-messenger/internal/session"
)

type fakeElement struct {
	text     string
	attrs    map[string]string
	typed    strings.Builder
	clicks   int
	clickErr error
	onClick  func()
	panics   bool
}

func (e *fakeElement) Click() error {
	if e.panics {
		panic("node detached")
	}
	if e.clickErr != nil {
		return e.clickErr
	}
	e.clicks++
	if e.onClick != nil {
		e.onClick()
	}
	return nil
}

func (e *fakeElement) Input(text string) error {
	e.typed.WriteString(text)
	return nil
}

func (e *fakeElement) Text() (string, error) {
	if e.text != "" {
		return e.text, nil
	}
	return e.typed.String(), nil
}

func (e *fakeElement) Attribute(name string) (string, bool, error) {
	v, ok := e.attrs[name]
	return v, ok, nil
}

func (e *fakeElement) Center() (float64, float64, error) {
	return 400, 300, nil
}

type thread struct {
	link   *fakeElement
	events []*fakeElement
}

type fakePage struct {
	navErr   error
	navURLs  []string
	landmark string

	visible     map[string]*fakeElement
	afterScroll map[string]*fakeElement
	scrolled    int
	waits       []string
	waitTotal   time.Duration

	unread         []*fakeElement
	threads        []thread
	active         int
	unreadSelector string
	linkSelector   string
	eventSelector  string
}

func (p *fakePage) Navigate(url string, timeout time.Duration) error {
	p.navURLs = append(p.navURLs, url)
	return p.navErr
}

func (p *fakePage) URL() (string, error) {
	if len(p.navURLs) == 0 {
		return "about:blank", nil
	}
	return p.navURLs[len(p.navURLs)-1], nil
}

func (p *fakePage) Has(sel string) (bool, error) {
	return sel == p.landmark, nil
}

func (p *fakePage) WaitVisible(sel string, timeout time.Duration) (browser.Element, error) {
	p.waits = append(p.waits, sel)
	p.waitTotal += timeout
	if el, ok := p.visible[sel]; ok {
		return el, nil
	}
	if el, ok := p.afterScroll[sel]; ok && p.scrolled > 0 {
		return el, nil
	}
	return nil, browser.ErrTimeout
}

func (p *fakePage) Find(sel string, timeout time.Duration) (browser.Element, error) {
	if sel == p.linkSelector && p.active >= 0 && p.active < len(p.threads) {
		if l := p.threads[p.active].link; l != nil {
			return l, nil
		}
	}
	return nil, browser.ErrTimeout
}

func (p *fakePage) All(sel string) ([]browser.Element, error) {
	var out []browser.Element
	switch sel {
	case p.unreadSelector:
		for _, e := range p.unread {
			out = append(out, e)
		}
	case p.eventSelector:
		if p.active >= 0 && p.active < len(p.threads) {
			for _, e := range p.threads[p.active].events {
				out = append(out, e)
			}
		}
	}
	return out, nil
}

func (p *fakePage) ScrollBy(dy int) error {
	p.scrolled++
	return nil
}

func (p *fakePage) MoveMouse(x, y float64) error {
	return nil
}

type fakeHandle struct {
	page   *fakePage
	state  *session.State
	closed int
}

func (h *fakeHandle) Page() browser.Page { return h.page }

func (h *fakeHandle) StorageState() (*session.State, error) {
	if h.state == nil {
		return nil, errors.New("no state")
	}
	return h.state, nil
}

func (h *fakeHandle) Close() error {
	h.closed++
	return nil
}

type fakeDriver struct {
	handle  *fakeHandle
	opened  int
	openErr error
	got     *session.State
}

func (d *fakeDriver) Open(ctx context.Context, state *session.State) (browser.Handle, error) {
	d.opened++
	d.got = state
	if d.openErr != nil {
		return nil, d.openErr
	}
	return d.handle, nil
}

// memStore is an in-memory SessionStore.
type memStore struct {
	state *session.State
	saved int
}

func (m *memStore) Load() (*session.State, error) {
	if m.state == nil {
		return nil, session.ErrNotFound
	}
	return m.state, nil
}

func (m *memStore) Save(st *session.State) error {
	m.state = st
	m.saved++
	return nil
}

func testState(value string) *session.State {
	return &session.State{
		Cookies: []session.Cookie{{Name: "li_at", Value: value, Domain: ".linkedin.com", Path: "/"}},
	}
}

// fakeClock advances only when the pacer sleeps.
type fakeClock struct {
	t     time.Time
	slept []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Sleep(d time.Duration) {
	c.slept = append(c.slept, d)
	c.t = c.t.Add(d)
}

func inboxPage(sel Selectors, n int) *fakePage {
	p := &fakePage{
		landmark:       sel.LoggedIn[0],
		active:         -1,
		unreadSelector: sel.UnreadConversation,
		linkSelector:   sel.ThreadProfileLink,
		eventSelector:  sel.MessageEvent,
	}
	for i := 0; i < n; i++ {
		i := i
		p.unread = append(p.unread, &fakeElement{onClick: func() { p.active = i }})
		p.threads = append(p.threads, thread{
			link: &fakeElement{
				text:  fmt.Sprintf("  Contact %d ", i),
				attrs: map[string]string{"href": fmt.Sprintf("/in/contact-%d/", i)},
			},
			events: []*fakeElement{
				{text: "older"},
				{text: fmt.Sprintf("latest from %d", i)},
			},
		})
	}
	return p
}
