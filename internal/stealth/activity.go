package stealth

import (
	"fmt"
	"time"
)

// Scroller scrolls the viewport vertically by dy pixels.
type Scroller interface {
	ScrollBy(dy int) error
}

// ThinkPause sleeps for 2–8 s, the time spent deciding on the next action.
func (p *Pacer) ThinkPause() time.Duration {
	return p.RandomDelay(2*time.Second, 8*time.Second)
}

// ReadingDelay returns the time needed to read contentLength characters at
// about 225 words per minute (5 characters per word), varied by ±30%.
func (p *Pacer) ReadingDelay(contentLength int) time.Duration {
	words := contentLength / 5
	readingTimeMs := float64(words) * (60000.0 / 225.0)

	variation := 0.3
	randomFactor := 1.0 + (p.float64()*2-1)*variation

	return time.Duration(readingTimeMs*randomFactor) * time.Millisecond
}

// ScrollPage scrolls 50–200 px in one to three steps, "up" or "down", and
// sometimes scrolls back a little as a correction.
func (p *Pacer) ScrollPage(s Scroller, direction string) error {
	scrollAmount := 50 + p.intn(150)
	if direction == "up" {
		scrollAmount = -scrollAmount
	}

	steps := 1 + p.intn(3)
	stepAmount := scrollAmount / steps

	for i := 0; i < steps; i++ {
		if err := s.ScrollBy(stepAmount); err != nil {
			return fmt.Errorf("failed to scroll: %w", err)
		}
		p.RandomDelay(50*time.Millisecond, 150*time.Millisecond)
	}

	if p.float64() < 0.15 {
		correction := p.intn(30)
		if direction == "up" {
			correction = -correction
		}
		if err := s.ScrollBy(-correction); err != nil {
			return fmt.Errorf("failed to scroll: %w", err)
		}
		p.RandomDelay(100*time.Millisecond, 500*time.Millisecond)
	}

	return nil
}

// ============================================================================
// Rate limiting & throttling
// ============================================================================

// CheckDailyLimit checks if daily limit has been reached
func CheckDailyLimit(currentCount, limit int) (allowed bool, remaining int) {
	if currentCount >= limit {
		return false, 0
	}
	return true, limit - currentCount
}

// CheckHourlyLimit checks if hourly limit has been reached
func CheckHourlyLimit(currentCount, limit int) (allowed bool, remaining int) {
	if currentCount >= limit {
		return false, 0
	}
	return true, limit - currentCount
}

// CooldownDuration returns the wait after an action. The base grows with the
// hour's activity: 2 min, 3 min above 10 actions, 5 min above 15. The result
// lies in [base, 2*base).
func (p *Pacer) CooldownDuration(actionsThisHour int) time.Duration {
	baseCooldown := 2 * time.Minute

	if actionsThisHour > 15 {
		baseCooldown = 5 * time.Minute
	} else if actionsThisHour > 10 {
		baseCooldown = 3 * time.Minute
	}

	return p.Duration(baseCooldown, baseCooldown*2)
}

// ShouldTakeBreak reports, with 70% probability, a break every 25 actions.
func (p *Pacer) ShouldTakeBreak(actionCount int) bool {
	if actionCount > 0 && actionCount%25 == 0 {
		return p.float64() < 0.7
	}
	return false
}

// BreakDuration returns how long to break for: 10–30 min.
func (p *Pacer) BreakDuration() time.Duration {
	return p.Duration(10*time.Minute, 30*time.Minute)
}

// ============================================================================
// Activity scheduling
// ============================================================================

// BusinessHours is a daily window [Start, End) in hours of the local clock,
// on the named weekdays ("Monday" ... "Sunday"). No WorkDays means every day.
type BusinessHours struct {
	Start    int
	End      int
	WorkDays []string
}

func (b BusinessHours) isWorkDay(day time.Weekday) bool {
	if len(b.WorkDays) == 0 {
		return true
	}
	for _, d := range b.WorkDays {
		if d == day.String() {
			return true
		}
	}
	return false
}

// Contains reports whether t falls within business hours.
func (b BusinessHours) Contains(t time.Time) bool {
	if !b.isWorkDay(t.Weekday()) {
		return false
	}
	return t.Hour() >= b.Start && t.Hour() < b.End
}

// Until returns how long until business hours next open, zero when t is
// already inside them.
func (b BusinessHours) Until(t time.Time) time.Duration {
	if b.Contains(t) {
		return 0
	}

	for i := 0; i <= 7; i++ {
		day := t.AddDate(0, 0, i)
		if !b.isWorkDay(day.Weekday()) {
			continue
		}
		open := time.Date(day.Year(), day.Month(), day.Day(), b.Start, 0, 0, 0, t.Location())
		if open.After(t) {
			return open.Sub(t)
		}
	}

	// Fallback: 1 hour
	return 1 * time.Hour
}
