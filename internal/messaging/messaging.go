package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/yourusername/linkedin-messenger/internal/browser"
	"github.com/yourusername/linkedin-messenger/internal/config"
	"github.com/yourusername/linkedin-messenger/internal/logger"
	"github.com/yourusername/linkedin-messenger/internal/selector"
	"github.com/yourusername/linkedin-messenger/internal/session"
	"github.com/yourusername/linkedin-messenger/internal/stealth"
)

// State is a step of the send flow.
type State string

const (
	StateInit               State = "init"
	StateSessionLoaded      State = "session_loaded"
	StateNavigated          State = "navigated"
	StateLoggedInVerified   State = "logged_in_verified"
	StateMessageButtonFound State = "message_button_found"
	StateComposerOpen       State = "composer_open"
	StateTextEntered        State = "text_entered"
	StateSent               State = "sent"
	StateSessionPersisted   State = "session_persisted"
	StateDone               State = "done"
)

// ResidualThreshold is the composer length above which a message is
// suspected unsent.
const ResidualThreshold = 10

// SessionStore is the part of session.Store the flows use.
type SessionStore interface {
	Load() (*session.State, error)
	Save(st *session.State) error
}

// Timings are the waits of the send and inbox flows.
type Timings struct {
	Navigation       time.Duration
	SettleMin        time.Duration
	SettleMax        time.Duration
	MessageButton    time.Duration
	AfterOpenMin     time.Duration
	AfterOpenMax     time.Duration
	HoverMin         time.Duration
	HoverMax         time.Duration
	Composer         time.Duration
	ComposerFocus    time.Duration
	BeforeSendMin    time.Duration
	BeforeSendMax    time.Duration
	SendButton       time.Duration
	AfterSend        time.Duration
	ScrollRecovery   int
	ScrollSettle     time.Duration
	Inbox            time.Duration
	InboxSettle      time.Duration
	ConversationOpen time.Duration
	ThreadLookup     time.Duration
	ReadingMax       time.Duration
}

// DefaultTimings returns the production waits.
func DefaultTimings() Timings {
	return Timings{
		Navigation:       45 * time.Second,
		SettleMin:        2 * time.Second,
		SettleMax:        5 * time.Second,
		MessageButton:    2 * time.Second,
		AfterOpenMin:     1500 * time.Millisecond,
		AfterOpenMax:     3 * time.Second,
		HoverMin:         300 * time.Millisecond,
		HoverMax:         800 * time.Millisecond,
		Composer:         5 * time.Second,
		ComposerFocus:    500 * time.Millisecond,
		BeforeSendMin:    1 * time.Second,
		BeforeSendMax:    3 * time.Second,
		SendButton:       2 * time.Second,
		AfterSend:        2 * time.Second,
		ScrollRecovery:   300,
		ScrollSettle:     1 * time.Second,
		Inbox:            30 * time.Second,
		InboxSettle:      3 * time.Second,
		ConversationOpen: 1500 * time.Millisecond,
		ThreadLookup:     5 * time.Second,
		ReadingMax:       8 * time.Second,
	}
}

// Options configures a Sender or Reader.
type Options struct {
	BaseURL   string
	MaxUnread int
	Selectors Selectors
	Timings   Timings
}

// OptionsFromConfig builds Options from the messaging section.
func OptionsFromConfig(cfg *config.Config) Options {
	t := DefaultTimings()
	t.Navigation = cfg.GetNavigationTimeout()
	t.Inbox = cfg.GetInboxTimeout()
	return Options{
		BaseURL:   strings.TrimRight(cfg.Messaging.BaseURL, "/"),
		MaxUnread: cfg.Messaging.MaxUnread,
		Selectors: SelectorsFromConfig(cfg.Messaging.Selectors),
		Timings:   t,
	}
}

// Result is the outcome of one send.
type Result struct {
	Success    bool      `json:"success"`
	ProfileURL string    `json:"profileUrl"`
	Timestamp  time.Time `json:"timestamp"`
	Duration   int64     `json:"duration"`
	Message    string    `json:"message,omitempty"`
	Warning    string    `json:"warning,omitempty"`
	Error      string    `json:"error,omitempty"`
	ErrorKind  Kind      `json:"errorKind,omitempty"`
	FailedAt   State     `json:"failedAt,omitempty"`
	RequestID  string    `json:"requestId,omitempty"`
}

// Sender delivers one direct message per call.
type Sender struct {
	store  SessionStore
	driver browser.Driver
	pacer  *stealth.Pacer
	opts   Options
	now    func() time.Time
}

// NewSender creates a Sender. A nil pacer uses production randomness.
func NewSender(store SessionStore, driver browser.Driver, pacer *stealth.Pacer, opts Options) *Sender {
	if pacer == nil {
		pacer = stealth.NewPacer()
	}
	return &Sender{store: store, driver: driver, pacer: pacer, opts: opts, now: time.Now}
}

// SetClock replaces the clock used for timestamps and durations.
func (s *Sender) SetClock(now func() time.Time) {
	s.now = now
}

type sendRun struct {
	profileURL string
	state      State
	warning    string
}

func (r *sendRun) enter(st State) {
	r.state = st
	logger.Debug("Send state", "profile_url", r.profileURL, "state", st)
}

// Send runs the whole flow for one profile. It never returns an error: every
// failure is folded into the Result.
func (s *Sender) Send(ctx context.Context, profileURL, message string) Result {
	start := s.now()
	run := &sendRun{profileURL: profileURL, state: StateInit}

	logger.Info("Sending message", "profile_url", profileURL)
	err := s.send(ctx, run, profileURL, message)

	end := s.now()
	res := Result{
		ProfileURL: profileURL,
		Timestamp:  end,
		Duration:   end.Sub(start).Milliseconds(),
		Warning:    run.warning,
	}
	if err != nil {
		res.Error = err.Error()
		res.ErrorKind = KindOf(err)
		res.FailedAt = run.state
		logger.Error("Message send failed", "profile_url", profileURL, "state", run.state, "kind", res.ErrorKind, "error", err)
		return res
	}

	res.Success = true
	res.Message = "Message envoyé avec succès"
	logger.Info("Message sent successfully", "profile_url", profileURL, "duration_ms", res.Duration)
	return res
}

func (s *Sender) send(ctx context.Context, run *sendRun, profileURL, message string) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = Wrap(ErrAutomation, fmt.Errorf("panic: %v", p))
		}
	}()

	state, err := loadSession(s.store)
	if err != nil {
		return err
	}
	run.enter(StateSessionLoaded)

	h, err := s.driver.Open(ctx, state)
	if err != nil {
		return Wrap(ErrAutomation, fmt.Errorf("failed to launch browser: %w", err))
	}
	defer closeHandle(h)
	page := h.Page()

	if err := navigate(page, profileURL, s.opts.Timings.Navigation); err != nil {
		return err
	}
	run.enter(StateNavigated)

	s.pacer.RandomDelay(s.opts.Timings.SettleMin, s.opts.Timings.SettleMax)

	if err := verifyLoggedIn(page, s.opts.Selectors.LoggedIn); err != nil {
		return err
	}
	run.enter(StateLoggedInVerified)

	if err := ctx.Err(); err != nil {
		return Wrap(ErrAutomation, err)
	}

	if err := s.openComposer(page); err != nil {
		return err
	}
	run.enter(StateMessageButtonFound)

	composer, err := selector.FirstVisible(page, s.opts.Selectors.TextBox, s.opts.Timings.Composer)
	if err != nil {
		return ErrComposerNotFound
	}
	logger.Debug("Composer found", "selector", composer.Selector)
	if err := composer.Element.Click(); err != nil {
		return Wrap(ErrAutomation, fmt.Errorf("failed to focus composer: %w", err))
	}
	s.pacer.Pause(s.opts.Timings.ComposerFocus)
	run.enter(StateComposerOpen)

	if err := s.pacer.TypeWithCadence(composer.Element, message); err != nil {
		return Wrap(ErrAutomation, fmt.Errorf("failed to type message: %w", err))
	}
	run.enter(StateTextEntered)

	s.pacer.RandomDelay(s.opts.Timings.BeforeSendMin, s.opts.Timings.BeforeSendMax)

	sendBtn, err := selector.FirstVisible(page, s.opts.Selectors.SendButton, s.opts.Timings.SendButton)
	if err != nil {
		return ErrSendButtonNotFound
	}
	if err := sendBtn.Element.Click(); err != nil {
		return Wrap(ErrAutomation, fmt.Errorf("failed to click send button: %w", err))
	}
	s.pacer.Pause(s.opts.Timings.AfterSend)
	run.enter(StateSent)

	// Text left in the composer suggests the send did not go through, but
	// the outcome stays a success.
	if residual, err := composer.Element.Text(); err == nil && utf8.RuneCountInString(strings.TrimSpace(residual)) > ResidualThreshold {
		run.warning = "le message semble toujours présent dans la zone de texte"
		logger.Warn("Composer still holds text after send", "profile_url", profileURL, "length", utf8.RuneCountInString(residual))
	}

	persistSession(h, s.store)
	run.enter(StateSessionPersisted)
	run.enter(StateDone)
	return nil
}

// openComposer finds the profile's Message button, scrolling once if the
// first pass misses, then hovers and clicks it.
func (s *Sender) openComposer(page browser.Page) error {
	t := s.opts.Timings
	m, err := selector.FirstVisibleWithRetry(page, s.opts.Selectors.MessageButton, t.MessageButton, func() error {
		logger.Debug("Message button not visible, scrolling")
		if err := page.ScrollBy(t.ScrollRecovery); err != nil {
			return err
		}
		s.pacer.Pause(t.ScrollSettle)
		return nil
	})
	if err != nil {
		return ErrMessageButtonNotFound
	}
	logger.Debug("Message button found", "selector", m.Selector, "pass", m.Pass)

	if x, y, err := m.Element.Center(); err == nil {
		if err := s.pacer.MoveMouse(page, x, y); err != nil {
			logger.Warn("Failed to move mouse to button", "error", err)
		}
		s.pacer.RandomDelay(t.HoverMin, t.HoverMax)
	}

	if err := m.Element.Click(); err != nil {
		return Wrap(ErrAutomation, fmt.Errorf("failed to click message button: %w", err))
	}
	s.pacer.RandomDelay(t.AfterOpenMin, t.AfterOpenMax)
	return nil
}

func loadSession(store SessionStore) (*session.State, error) {
	st, err := store.Load()
	if errors.Is(err, session.ErrNotFound) {
		return nil, ErrSessionMissing
	}
	if err != nil {
		return nil, Wrap(ErrAutomation, fmt.Errorf("failed to load session: %w", err))
	}
	return st, nil
}

func navigate(page browser.Page, url string, timeout time.Duration) error {
	logger.Debug("Navigating", "url", url)
	err := page.Navigate(url, timeout)
	if err == nil {
		return nil
	}
	if errors.Is(err, browser.ErrTimeout) {
		return Wrap(ErrNavigationTimeout, err)
	}
	return Wrap(ErrAutomation, fmt.Errorf("failed to navigate: %w", err))
}

// verifyLoggedIn probes the logged-in landmarks without waiting. An empty
// probe list skips the check.
func verifyLoggedIn(page browser.Page, probes []string) error {
	if len(probes) == 0 {
		return nil
	}
	for _, sel := range probes {
		ok, err := page.Has(sel)
		if err != nil {
			logger.Debug("Logged-in probe failed", "selector", sel, "error", err)
			continue
		}
		if ok {
			return nil
		}
	}
	return ErrSessionExpired
}

// persistSession writes the browser's current state back. A failure is only
// logged: the page action already happened.
func persistSession(h browser.Handle, store SessionStore) {
	st, err := h.StorageState()
	if err != nil {
		logger.Warn("Failed to capture session state", "error", err)
		return
	}
	if err := store.Save(st); err != nil {
		logger.Warn("Failed to persist session", "error", err)
		return
	}
	logger.Debug("Session persisted", "cookies", len(st.Cookies))
}

func closeHandle(h browser.Handle) {
	if err := h.Close(); err != nil {
		logger.Warn("Failed to close browser", "error", err)
	}
}
