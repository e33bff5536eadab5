package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/yourusername/linkedin-messenger/internal/browser"
	"github.com/yourusername/linkedin-messenger/internal/logger"
	"github.com/yourusername/linkedin-messenger/internal/stealth"
)

// DefaultMaxUnread caps how many unread conversations one check reads.
const DefaultMaxUnread = 5

// Summary is one unread conversation.
type Summary struct {
	Name       string    `json:"name"`
	Message    string    `json:"message"`
	ProfileURL string    `json:"profileUrl"`
	Timestamp  time.Time `json:"timestamp"`
}

// CheckResult is the outcome of one inbox check.
type CheckResult struct {
	Success   bool
	Count     int
	Messages  []Summary
	Error     string
	ErrorKind Kind
}

// MarshalJSON renders {success, count, messages} or {success, error, errorKind}.
func (r CheckResult) MarshalJSON() ([]byte, error) {
	if !r.Success {
		return json.Marshal(struct {
			Success   bool   `json:"success"`
			Error     string `json:"error"`
			ErrorKind Kind   `json:"errorKind,omitempty"`
		}{r.Success, r.Error, r.ErrorKind})
	}
	msgs := r.Messages
	if msgs == nil {
		msgs = []Summary{}
	}
	return json.Marshal(struct {
		Success  bool      `json:"success"`
		Count    int       `json:"count"`
		Messages []Summary `json:"messages"`
	}{r.Success, r.Count, msgs})
}

// Reader lists unread inbox conversations.
type Reader struct {
	store  SessionStore
	driver browser.Driver
	pacer  *stealth.Pacer
	opts   Options
	now    func() time.Time
}

// NewReader creates a Reader. A nil pacer uses production randomness.
func NewReader(store SessionStore, driver browser.Driver, pacer *stealth.Pacer, opts Options) *Reader {
	if pacer == nil {
		pacer = stealth.NewPacer()
	}
	if opts.MaxUnread <= 0 {
		opts.MaxUnread = DefaultMaxUnread
	}
	return &Reader{store: store, driver: driver, pacer: pacer, opts: opts, now: time.Now}
}

// SetClock replaces the clock used for summary timestamps.
func (r *Reader) SetClock(now func() time.Time) {
	r.now = now
}

// Check reads up to MaxUnread unread conversations. A conversation that
// cannot be read is skipped with a warning.
func (r *Reader) Check(ctx context.Context) CheckResult {
	logger.Info("Checking inbox")

	msgs, err := r.check(ctx)
	if err != nil {
		logger.Error("Inbox check failed", "kind", KindOf(err), "error", err)
		return CheckResult{Error: err.Error(), ErrorKind: KindOf(err)}
	}

	logger.Info("Inbox checked", "unread", len(msgs))
	return CheckResult{Success: true, Count: len(msgs), Messages: msgs}
}

func (r *Reader) check(ctx context.Context) (msgs []Summary, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = Wrap(ErrAutomation, fmt.Errorf("panic: %v", p))
		}
	}()

	state, err := loadSession(r.store)
	if err != nil {
		return nil, err
	}

	h, err := r.driver.Open(ctx, state)
	if err != nil {
		return nil, Wrap(ErrAutomation, fmt.Errorf("failed to launch browser: %w", err))
	}
	defer closeHandle(h)
	// Refreshed cookies are worth keeping even when the listing fails.
	defer persistSession(h, r.store)
	page := h.Page()

	if err := navigate(page, r.opts.BaseURL+"/messaging/", r.opts.Timings.Inbox); err != nil {
		return nil, err
	}
	r.pacer.Pause(r.opts.Timings.InboxSettle)

	if err := verifyLoggedIn(page, r.opts.Selectors.LoggedIn); err != nil {
		return nil, err
	}
	if err := r.pacer.ScrollPage(page, "down"); err != nil {
		logger.Debug("Inbox scroll failed", "error", err)
	}

	convos, err := page.All(r.opts.Selectors.UnreadConversation)
	if err != nil {
		return nil, Wrap(ErrAutomation, fmt.Errorf("failed to list conversations: %w", err))
	}
	logger.Debug("Unread conversations found", "count", len(convos))

	n := len(convos)
	if n > r.opts.MaxUnread {
		n = r.opts.MaxUnread
	}

	msgs = make([]Summary, 0, n)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			logger.Warn("Inbox check interrupted", "read", len(msgs), "error", err)
			break
		}
		if i > 0 {
			r.pacer.ThinkPause()
		}
		sum, err := r.readConversation(page, convos[i])
		if err != nil {
			logger.Warn("Failed to read conversation", "index", i, "error", err)
			continue
		}
		msgs = append(msgs, sum)
	}
	return msgs, nil
}

func (r *Reader) readConversation(page browser.Page, convo browser.Element) (sum Summary, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()

	if err := convo.Click(); err != nil {
		return sum, fmt.Errorf("failed to open conversation: %w", err)
	}
	r.pacer.Pause(r.opts.Timings.ConversationOpen)

	link, err := page.Find(r.opts.Selectors.ThreadProfileLink, r.opts.Timings.ThreadLookup)
	if err != nil {
		return sum, fmt.Errorf("profile link not found: %w", err)
	}
	name, err := link.Text()
	if err != nil {
		return sum, fmt.Errorf("failed to read name: %w", err)
	}
	href, _, err := link.Attribute("href")
	if err != nil {
		return sum, fmt.Errorf("failed to read profile link: %w", err)
	}

	events, err := page.All(r.opts.Selectors.MessageEvent)
	if err != nil {
		return sum, fmt.Errorf("failed to list messages: %w", err)
	}
	if len(events) == 0 {
		return sum, errors.New("conversation has no messages")
	}
	last, err := events[len(events)-1].Text()
	if err != nil {
		return sum, fmt.Errorf("failed to read last message: %w", err)
	}

	last = strings.TrimSpace(last)
	read := r.pacer.ReadingDelay(utf8.RuneCountInString(last))
	if read > r.opts.Timings.ReadingMax {
		read = r.opts.Timings.ReadingMax
	}
	r.pacer.Pause(read)

	return Summary{
		Name:       strings.TrimSpace(name),
		Message:    last,
		ProfileURL: absoluteURL(r.opts.BaseURL, href),
		Timestamp:  r.now(),
	}, nil
}

// absoluteURL resolves a site-relative href against base.
func absoluteURL(base, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	b, err := url.Parse(base + "/")
	if err != nil {
		return base + href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return base + href
	}
	return b.ResolveReference(ref).String()
}
