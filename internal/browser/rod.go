package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/yourusername/linkedin-messenger/internal/logger"
	"github.com/yourusername/linkedin-messenger/internal/session"
)

// ErrTimeout wraps engine errors caused by an expired wait.
var ErrTimeout = errors.New("timed out")

// Options configures the rod-backed driver.
type Options struct {
	Headless    bool
	BinPath     string
	Fingerprint Fingerprint
}

// RodDriver launches Chromium through go-rod.
type RodDriver struct {
	opts Options
}

// NewRodDriver returns a driver with the given launch options.
func NewRodDriver(opts Options) *RodDriver {
	if opts.Fingerprint.UserAgent == "" {
		opts.Fingerprint = DefaultFingerprint()
	}
	return &RodDriver{opts: opts}
}

// Open launches Chromium, opens an incognito context with the fingerprint
// profile applied and restores state into it. The returned handle must be
// closed by the caller on every path.
func (d *RodDriver) Open(ctx context.Context, state *session.State) (Handle, error) {
	fp := d.opts.Fingerprint

	l := launcher.New()
	if d.opts.BinPath != "" {
		l = l.Bin(d.opts.BinPath)
	} else if path, exists := launcher.LookPath(); exists {
		logger.Debug("Using system Chrome browser", "path", path)
		l = l.Bin(path)
	}

	l = l.Headless(d.opts.Headless).
		NoSandbox(true).
		Devtools(false).
		Leakless(false).
		Set("disable-blink-features", "AutomationControlled").
		Set("disable-dev-shm-usage").
		Set("disable-setuid-sandbox").
		Set("lang", fp.Locale).
		Set("window-size", fmt.Sprintf("%d,%d", fp.ViewportWidth, fp.ViewportHeight))

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	h := &rodHandle{launcher: l, prior: state}

	root := rod.New().ControlURL(controlURL).Context(ctx)
	if err := root.Connect(); err != nil {
		h.Close()
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}
	h.root = root

	incognito, err := root.Incognito()
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}
	h.browser = incognito

	if state != nil && len(state.Cookies) > 0 {
		if err := incognito.SetCookies(toCookieParams(state.Cookies)); err != nil {
			h.Close()
			return nil, fmt.Errorf("failed to set cookies: %w", err)
		}
	}

	page, err := stealth.Page(incognito)
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("failed to apply stealth: %w", err)
	}

	if err := applyFingerprint(page, fp); err != nil {
		h.Close()
		return nil, err
	}

	if state != nil && len(state.Origins) > 0 {
		if err := restoreLocalStorage(page, state); err != nil {
			h.Close()
			return nil, err
		}
	}

	h.page = &rodPage{page: page}

	logger.Info("Browser launched successfully",
		"headless", d.opts.Headless,
		"locale", fp.Locale,
		"timezone", fp.Timezone,
		"session_restored", state != nil,
	)
	return h, nil
}

func applyFingerprint(page *rod.Page, fp Fingerprint) error {
	err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
		UserAgent:      fp.UserAgent,
		AcceptLanguage: fp.AcceptLanguage,
	})
	if err != nil {
		return fmt.Errorf("failed to set user agent: %w", err)
	}

	err = page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             fp.ViewportWidth,
		Height:            fp.ViewportHeight,
		DeviceScaleFactor: 1,
	})
	if err != nil {
		return fmt.Errorf("failed to set viewport: %w", err)
	}

	if err := (proto.EmulationSetTimezoneOverride{TimezoneID: fp.Timezone}).Call(page); err != nil {
		return fmt.Errorf("failed to set timezone: %w", err)
	}
	if err := (proto.EmulationSetLocaleOverride{Locale: fp.Locale}).Call(page); err != nil {
		return fmt.Errorf("failed to set locale: %w", err)
	}

	// Runs before any site script on every navigation
	_, err = page.EvalOnNewDocument(`Object.defineProperty(navigator, 'webdriver', { get: () => undefined });`)
	if err != nil {
		return fmt.Errorf("failed to disable webdriver flag: %w", err)
	}

	return nil
}

// restoreLocalStorage seeds localStorage for each stored origin the first time
// a document of that origin loads.
func restoreLocalStorage(page *rod.Page, state *session.State) error {
	byOrigin := make(map[string][][2]string)
	for origin, entries := range state.LocalStorageByOrigin() {
		pairs := make([][2]string, 0, len(entries))
		for _, e := range entries {
			pairs = append(pairs, [2]string{e.Name, e.Value})
		}
		byOrigin[origin] = pairs
	}

	data, err := json.Marshal(byOrigin)
	if err != nil {
		return fmt.Errorf("failed to encode local storage: %w", err)
	}

	js := fmt.Sprintf(`(() => {
		const entries = (%s)[location.origin];
		if (!entries || sessionStorage.getItem('__ls_restored')) return;
		try {
			for (const [k, v] of entries) localStorage.setItem(k, v);
			sessionStorage.setItem('__ls_restored', '1');
		} catch (e) {}
	})();`, data)

	if _, err := page.EvalOnNewDocument(js); err != nil {
		return fmt.Errorf("failed to restore local storage: %w", err)
	}
	return nil
}

func toCookieParams(cookies []session.Cookie) []*proto.NetworkCookieParam {
	params := make([]*proto.NetworkCookieParam, 0, len(cookies))
	for _, c := range cookies {
		p := &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
			SameSite: proto.NetworkCookieSameSite(c.SameSite),
		}
		if c.Expires > 0 {
			p.Expires = proto.TimeSinceEpoch(c.Expires)
		}
		params = append(params, p)
	}
	return params
}

func fromCookies(cookies []*proto.NetworkCookie) []session.Cookie {
	out := make([]session.Cookie, 0, len(cookies))
	for _, c := range cookies {
		expires := float64(c.Expires)
		if c.Session {
			expires = -1
		}
		out = append(out, session.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  expires,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: string(c.SameSite),
		})
	}
	return out
}

type rodHandle struct {
	launcher *launcher.Launcher
	root     *rod.Browser
	browser  *rod.Browser
	page     *rodPage
	// prior is the state the browser was seeded with.
	prior *session.State

	closeOnce sync.Once
}

func (h *rodHandle) Page() Page {
	return h.page
}

func (h *rodHandle) StorageState() (*session.State, error) {
	cookies, err := h.browser.GetCookies()
	if err != nil {
		return nil, fmt.Errorf("failed to get cookies: %w", err)
	}

	live := fromCookies(cookies)

	res, err := h.page.page.Eval(`() => JSON.stringify({
		origin: location.origin,
		items: Object.entries(localStorage),
	})`)
	if err != nil {
		logger.Warn("Failed to read local storage", "error", err)
		return newStorageState(h.prior, live, "", nil), nil
	}

	var snapshot struct {
		Origin string      `json:"origin"`
		Items  [][2]string `json:"items"`
	}
	if err := json.Unmarshal([]byte(res.Value.Str()), &snapshot); err != nil {
		logger.Warn("Failed to decode local storage", "error", err)
		return newStorageState(h.prior, live, "", nil), nil
	}

	if !strings.HasPrefix(snapshot.Origin, "http") {
		return newStorageState(h.prior, live, "", nil), nil
	}
	entries := make([]session.StorageEntry, 0, len(snapshot.Items))
	for _, kv := range snapshot.Items {
		entries = append(entries, session.StorageEntry{Name: kv[0], Value: kv[1]})
	}
	return newStorageState(h.prior, live, snapshot.Origin, entries), nil
}

// newStorageState builds the state to save: the live cookies, every origin
// carried over from prior, and the current origin's entries replacing its
// stored ones. An empty origin keeps prior's origins untouched.
func newStorageState(prior *session.State, cookies []session.Cookie, origin string, entries []session.StorageEntry) *session.State {
	st := &session.State{Cookies: cookies}
	if prior != nil {
		for _, o := range prior.Origins {
			st.Origins = append(st.Origins, session.Origin{
				Origin:       o.Origin,
				LocalStorage: append([]session.StorageEntry(nil), o.LocalStorage...),
			})
		}
	}
	if origin != "" {
		st.SetOrigin(origin, entries)
	}
	return st
}

func (h *rodHandle) Close() error {
	var err error
	h.closeOnce.Do(func() {
		logger.Debug("Closing browser...")
		if h.root != nil {
			err = h.root.Close()
		}
		if h.launcher != nil {
			h.launcher.Kill()
			h.launcher.Cleanup()
		}
	})
	return err
}

type rodPage struct {
	page *rod.Page
}

func (p *rodPage) Navigate(url string, timeout time.Duration) error {
	tp := p.page.Timeout(timeout)
	defer tp.CancelTimeout()

	if err := tp.Navigate(url); err != nil {
		return wrapTimeout(fmt.Errorf("failed to navigate to %s: %w", url, err))
	}
	if err := tp.WaitLoad(); err != nil {
		return wrapTimeout(fmt.Errorf("failed to wait for page load: %w", err))
	}
	return nil
}

func (p *rodPage) URL() (string, error) {
	info, err := p.page.Info()
	if err != nil {
		return "", err
	}
	return info.URL, nil
}

func (p *rodPage) Has(selector string) (bool, error) {
	q := parseQuery(selector)
	if q.hasText() {
		has, _, err := p.page.HasR(q.CSS, q.textPattern())
		return has, err
	}
	has, _, err := p.page.Has(q.CSS)
	return has, err
}

func (p *rodPage) find(tp *rod.Page, selector string) (*rod.Element, error) {
	q := parseQuery(selector)
	if q.hasText() {
		return tp.ElementR(q.CSS, q.textPattern())
	}
	return tp.Element(q.CSS)
}

func (p *rodPage) WaitVisible(selector string, timeout time.Duration) (Element, error) {
	tp := p.page.Timeout(timeout)
	defer tp.CancelTimeout()

	el, err := p.find(tp, selector)
	if err != nil {
		return nil, wrapTimeout(err)
	}
	if err := el.WaitVisible(); err != nil {
		return nil, wrapTimeout(err)
	}
	return &rodElement{el: el.Context(p.page.GetContext()), page: p.page}, nil
}

func (p *rodPage) Find(selector string, timeout time.Duration) (Element, error) {
	tp := p.page.Timeout(timeout)
	defer tp.CancelTimeout()

	el, err := p.find(tp, selector)
	if err != nil {
		return nil, wrapTimeout(err)
	}
	return &rodElement{el: el.Context(p.page.GetContext()), page: p.page}, nil
}

func (p *rodPage) All(selector string) ([]Element, error) {
	q := parseQuery(selector)
	els, err := p.page.Elements(q.CSS)
	if err != nil {
		return nil, err
	}

	out := make([]Element, 0, len(els))
	for _, el := range els {
		if q.hasText() {
			text, err := el.Text()
			if err != nil || !q.matchesText(text) {
				continue
			}
		}
		out = append(out, &rodElement{el: el, page: p.page})
	}
	return out, nil
}

func (p *rodPage) ScrollBy(dy int) error {
	_, err := p.page.Eval(fmt.Sprintf(`() => window.scrollBy(0, %d)`, dy))
	if err != nil {
		return fmt.Errorf("failed to scroll: %w", err)
	}
	return nil
}

func (p *rodPage) MoveMouse(x, y float64) error {
	return proto.InputDispatchMouseEvent{
		Type: proto.InputDispatchMouseEventTypeMouseMoved,
		X:    x,
		Y:    y,
	}.Call(p.page)
}

type rodElement struct {
	el   *rod.Element
	page *rod.Page
}

func (e *rodElement) Click() error {
	return e.el.Click(proto.InputMouseButtonLeft, 1)
}

func (e *rodElement) Input(text string) error {
	return e.el.Input(text)
}

func (e *rodElement) Text() (string, error) {
	return e.el.Text()
}

func (e *rodElement) Attribute(name string) (string, bool, error) {
	v, err := e.el.Attribute(name)
	if err != nil {
		return "", false, err
	}
	if v == nil {
		return "", false, nil
	}
	return *v, true, nil
}

func (e *rodElement) Center() (float64, float64, error) {
	shape, err := e.el.Shape()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to get element shape: %w", err)
	}
	box := shape.Box()
	return box.X + box.Width/2, box.Y + box.Height/2, nil
}

func wrapTimeout(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}
