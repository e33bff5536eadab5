// Package scheduler polls the inbox on a cron schedule and forwards unread
// messages not seen before to a webhook.
package scheduler

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/yourusername/linkedin-messenger/internal/callback"
	"github.com/yourusername/linkedin-messenger/internal/logger"
	"github.com/yourusername/linkedin-messenger/internal/messaging"
	"github.com/yourusername/linkedin-messenger/internal/storage"
)

// Checker runs one inbox check and returns the summaries never seen before.
type Checker interface {
	Check(ctx context.Context) (messaging.CheckResult, []storage.InboxMessage)
}

// Event is the webhook payload.
type Event struct {
	Event     string                 `json:"event"`
	Count     int                    `json:"count"`
	Messages  []storage.InboxMessage `json:"messages"`
	Timestamp time.Time              `json:"timestamp"`
}

// Window is a recurring period in which scheduled checks may run.
type Window interface {
	Contains(t time.Time) bool
	Until(t time.Time) time.Duration
}

// Poller runs inbox checks on a schedule.
type Poller struct {
	checker    Checker
	webhookURL string
	client     *http.Client
	cron       *cron.Cron
	window     Window
	now        func() time.Time

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Poller for a standard five-field cron expression.
func New(schedule string, checker Checker, webhookURL string, timeout time.Duration) (*Poller, error) {
	p := &Poller{
		checker:    checker,
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: timeout},
		now:        time.Now,
	}
	p.ctx, p.cancel = context.WithCancel(context.Background())

	cl := cronLogger{}
	p.cron = cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))
	if _, err := p.cron.AddFunc(schedule, p.tick); err != nil {
		p.cancel()
		return nil, fmt.Errorf("invalid inbox schedule %q: %w", schedule, err)
	}
	return p, nil
}

// Start begins polling in the background.
func (p *Poller) Start() {
	p.cron.Start()
	for _, e := range p.cron.Entries() {
		logger.Info("Inbox polling scheduled", "next_run", e.Next)
	}
}

// Stop cancels a running check and waits for it to return.
func (p *Poller) Stop() {
	p.cancel()
	<-p.cron.Stop().Done()
}

// SetWindow restricts scheduled checks to w. RunOnce ignores it.
func (p *Poller) SetWindow(w Window) {
	p.window = w
}

func (p *Poller) tick() {
	if p.window != nil {
		now := p.now()
		if !p.window.Contains(now) {
			logger.Info("Outside business hours, inbox check skipped", "resumes_in", p.window.Until(now))
			return
		}
	}
	if _, err := p.RunOnce(p.ctx); err != nil {
		logger.Error("Scheduled inbox check failed", "error", err)
	}
}

// RunOnce checks the inbox and posts fresh messages to the webhook. It
// returns how many fresh messages were found.
func (p *Poller) RunOnce(ctx context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	res, fresh := p.checker.Check(ctx)
	if !res.Success {
		return 0, fmt.Errorf("inbox check: %s", res.Error)
	}
	logger.Info("Scheduled inbox check done", "unread", res.Count, "new", len(fresh))

	if len(fresh) == 0 || p.webhookURL == "" {
		return len(fresh), nil
	}

	ev := Event{
		Event:     "inbox.unread",
		Count:     len(fresh),
		Messages:  fresh,
		Timestamp: time.Now(),
	}
	if err := callback.PostJSON(ctx, p.client, p.webhookURL, ev); err != nil {
		return len(fresh), fmt.Errorf("failed to post inbox webhook: %w", err)
	}
	logger.Info("Inbox webhook delivered", "url", p.webhookURL, "count", len(fresh))
	return len(fresh), nil
}

// cronLogger routes cron's own logging to zap.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logger.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
