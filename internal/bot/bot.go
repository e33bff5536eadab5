// Package bot coordinates browser runs: it bounds how many run at once,
// enforces the message limits and pacing, and records every outcome.
package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/yourusername/linkedin-messenger/internal/logger"
	"github.com/yourusername/linkedin-messenger/internal/messaging"
	"github.com/yourusername/linkedin-messenger/internal/stealth"
	"github.com/yourusername/linkedin-messenger/internal/storage"
)

// Sender sends one message.
type Sender interface {
	Send(ctx context.Context, profileURL, message string) messaging.Result
}

// Reader lists unread conversations.
type Reader interface {
	Check(ctx context.Context) messaging.CheckResult
}

// History is the part of the history database the bot writes to.
type History interface {
	RecordSendAttempt(a storage.SendAttempt) error
	RecordAction(actionType string) error
	GetActionsToday(actionType string) (int, error)
	GetActionsInLastHour(actionType string) (int, error)
	RecordInboxMessages(msgs []storage.InboxMessage) ([]storage.InboxMessage, error)
}

// Pacing throttles sends on top of the daily limit. The zero value turns
// every part of it off.
type Pacing struct {
	// HourlyLimit caps successful sends over the last hour; 0 disables it.
	HourlyLimit int
	// Cooldown makes the next send wait 2–10 min after a success, longer as
	// the hour fills up.
	Cooldown bool
	// Breaks adds a 10–30 min break, now and then, every 25 sends of the day.
	Breaks bool
	// Hours, when set, refuses sends outside business hours.
	Hours *stealth.BusinessHours
	// Pacer draws the random waits. Nil uses a time-seeded one.
	Pacer *stealth.Pacer
}

// Bot serializes browser runs and keeps the history.
type Bot struct {
	sender     Sender
	reader     Reader
	history    History
	sem        *semaphore.Weighted
	dailyLimit int
	pacing     Pacing
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	nextSend time.Time
}

// New creates a Bot allowing maxRuns concurrent browser runs. A dailyLimit of
// zero disables the limit. history may be nil.
func New(sender Sender, reader Reader, history History, maxRuns int64, dailyLimit int) *Bot {
	if maxRuns <= 0 {
		maxRuns = 1
	}
	return &Bot{
		sender:     sender,
		reader:     reader,
		history:    history,
		sem:        semaphore.NewWeighted(maxRuns),
		dailyLimit: dailyLimit,
		now:        time.Now,
		sleep:      sleepContext,
	}
}

// SetPacing configures the hourly limit, cooldowns, breaks and business
// hours. Call it before the first run.
func (b *Bot) SetPacing(p Pacing) {
	if p.Pacer == nil {
		p.Pacer = stealth.NewPacer()
	}
	b.pacing = p
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// CheckDailyLimit reports whether another message may be sent today and how
// many remain.
func (b *Bot) CheckDailyLimit() (bool, int, error) {
	if b.dailyLimit <= 0 || b.history == nil {
		return true, -1, nil
	}
	sentToday, err := b.history.GetActionsToday(storage.ActionMessageSent)
	if err != nil {
		return false, 0, fmt.Errorf("failed to check daily limit: %w", err)
	}

	allowed, remaining := stealth.CheckDailyLimit(sentToday, b.dailyLimit)
	return allowed, remaining, nil
}

// CheckHourlyLimit reports whether another message may be sent this hour and
// how many remain. Without a limit it returns (true, -1).
func (b *Bot) CheckHourlyLimit() (bool, int, error) {
	if b.pacing.HourlyLimit <= 0 || b.history == nil {
		return true, -1, nil
	}
	sentThisHour, err := b.history.GetActionsInLastHour(storage.ActionMessageSent)
	if err != nil {
		return false, 0, fmt.Errorf("failed to check hourly limit: %w", err)
	}

	allowed, remaining := stealth.CheckHourlyLimit(sentThisHour, b.pacing.HourlyLimit)
	return allowed, remaining, nil
}

// Admit returns a refusal error when a send may not start now: outside
// business hours, or with the daily or hourly limit reached. Failing limit
// lookups are logged and do not refuse.
func (b *Bot) Admit() error {
	if h := b.pacing.Hours; h != nil {
		now := b.now()
		if !h.Contains(now) {
			wait := h.Until(now)
			logger.Warn("Outside business hours", "resumes_in", wait)
			return messaging.Wrap(messaging.ErrOutsideHours, fmt.Errorf("reprise dans %s", wait.Round(time.Minute)))
		}
	}

	allowed, remaining, err := b.CheckDailyLimit()
	if err != nil {
		logger.Warn("Daily limit check failed, sending anyway", "error", err)
	} else if !allowed {
		logger.Warn("Daily message limit reached", "limit", b.dailyLimit)
		return messaging.ErrDailyLimit
	}
	logger.Debug("Daily limit ok", "remaining", remaining)

	allowed, remaining, err = b.CheckHourlyLimit()
	if err != nil {
		logger.Warn("Hourly limit check failed, sending anyway", "error", err)
	} else if !allowed {
		logger.Warn("Hourly message limit reached", "limit", b.pacing.HourlyLimit)
		return messaging.ErrHourlyLimit
	}
	logger.Debug("Hourly limit ok", "remaining", remaining)

	return nil
}

// Send runs one send once a run slot is free and any cooldown has passed,
// then records the outcome.
func (b *Bot) Send(ctx context.Context, requestID, profileURL, message string) messaging.Result {
	if err := b.Admit(); err != nil {
		res := b.failure(profileURL, err)
		res.RequestID = requestID
		return res
	}

	if err := b.sem.Acquire(ctx, 1); err != nil {
		res := b.failure(profileURL, fmt.Errorf("%s: %w", messaging.ErrAutomation.Msg, err))
		res.RequestID = requestID
		return res
	}
	defer b.sem.Release(1)

	if err := b.waitCooldown(ctx); err != nil {
		res := b.failure(profileURL, fmt.Errorf("%s: %w", messaging.ErrAutomation.Msg, err))
		res.RequestID = requestID
		return res
	}

	res := b.sender.Send(ctx, profileURL, message)
	res.RequestID = requestID
	b.recordSend(res, message)
	if res.Success {
		b.scheduleNext()
	}
	return res
}

// waitCooldown blocks until the pause set by the previous send is over.
func (b *Bot) waitCooldown(ctx context.Context) error {
	b.mu.Lock()
	wait := b.nextSend.Sub(b.now())
	b.mu.Unlock()
	if wait <= 0 {
		return nil
	}

	logger.Info("Cooling down before next send", "wait", wait)
	return b.sleep(ctx, wait)
}

// scheduleNext sets when the next send may start after a success.
func (b *Bot) scheduleNext() {
	if !b.pacing.Cooldown && !b.pacing.Breaks {
		return
	}

	var wait time.Duration
	if b.pacing.Cooldown {
		thisHour := 0
		if b.history != nil {
			n, err := b.history.GetActionsInLastHour(storage.ActionMessageSent)
			if err != nil {
				logger.Warn("Failed to count this hour's sends", "error", err)
			}
			thisHour = n
		}
		wait = b.pacing.Pacer.CooldownDuration(thisHour)
	}

	if b.pacing.Breaks && b.history != nil {
		today, err := b.history.GetActionsToday(storage.ActionMessageSent)
		if err != nil {
			logger.Warn("Failed to count today's sends", "error", err)
		} else if b.pacing.Pacer.ShouldTakeBreak(today) {
			brk := b.pacing.Pacer.BreakDuration()
			logger.Info("Taking a break", "duration", brk, "sends_today", today)
			wait += brk
		}
	}

	if wait <= 0 {
		return
	}
	b.mu.Lock()
	b.nextSend = b.now().Add(wait)
	b.mu.Unlock()
	logger.Debug("Next send delayed", "wait", wait)
}

// Check runs one inbox check once a run slot is free. Returned summaries are
// stored; the second value holds the ones never seen before.
func (b *Bot) Check(ctx context.Context) (messaging.CheckResult, []storage.InboxMessage) {
	if err := b.sem.Acquire(ctx, 1); err != nil {
		return messaging.CheckResult{
			Error:     fmt.Sprintf("%s: %v", messaging.ErrAutomation.Msg, err),
			ErrorKind: messaging.KindAutomation,
		}, nil
	}
	res := b.reader.Check(ctx)
	b.sem.Release(1)

	if !res.Success || b.history == nil || len(res.Messages) == 0 {
		return res, nil
	}

	msgs := make([]storage.InboxMessage, 0, len(res.Messages))
	for _, m := range res.Messages {
		msgs = append(msgs, storage.InboxMessage{
			Name:       m.Name,
			ProfileURL: m.ProfileURL,
			Message:    m.Message,
			SeenAt:     m.Timestamp,
		})
	}
	fresh, err := b.history.RecordInboxMessages(msgs)
	if err != nil {
		logger.Error("Failed to record inbox messages", "error", err)
	}
	return res, fresh
}

func (b *Bot) failure(profileURL string, err error) messaging.Result {
	return messaging.Result{
		ProfileURL: profileURL,
		Timestamp:  b.now(),
		Error:      err.Error(),
		ErrorKind:  messaging.KindOf(err),
	}
}

func (b *Bot) recordSend(res messaging.Result, message string) {
	if b.history == nil {
		return
	}

	err := b.history.RecordSendAttempt(storage.SendAttempt{
		RequestID:  res.RequestID,
		ProfileURL: res.ProfileURL,
		Message:    message,
		Success:    res.Success,
		ErrorKind:  string(res.ErrorKind),
		Error:      res.Error,
		DurationMS: res.Duration,
		CreatedAt:  res.Timestamp,
	})
	if err != nil {
		logger.Error("Failed to record send attempt", "error", err)
	}

	if !res.Success {
		return
	}
	// Record action for rate limiting
	if err := b.history.RecordAction(storage.ActionMessageSent); err != nil {
		logger.Error("Failed to record action", "error", err)
	}
}
