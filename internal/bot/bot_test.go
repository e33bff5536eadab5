package bot

import (
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/yourusername/linkedin-messenger/internal/logger"
	"github.com/yourusername/linkedin-messenger/internal/messaging"
	"github.com/yourusername/linkedin-messenger/internal/stealth"
	"github.com/yourusername/linkedin-messenger/internal/storage"
)

func TestMain(m *testing.M) {
	logger.SetForTest(zap.NewNop())
	os.Exit(m.Run())
}

type fakeSender struct {
	calls   int32
	active  int32
	peak    int32
	hold    time.Duration
	success bool
}

func (f *fakeSender) Send(ctx context.Context, profileURL, message string) messaging.Result {
	atomic.AddInt32(&f.calls, 1)
	n := atomic.AddInt32(&f.active, 1)
	for {
		p := atomic.LoadInt32(&f.peak)
		if n <= p || atomic.CompareAndSwapInt32(&f.peak, p, n) {
			break
		}
	}
	time.Sleep(f.hold)
	atomic.AddInt32(&f.active, -1)

	res := messaging.Result{Success: f.success, ProfileURL: profileURL, Timestamp: time.Now(), Duration: 42}
	if !f.success {
		res.Error = messaging.ErrComposerNotFound.Error()
		res.ErrorKind = messaging.KindComposerNotFound
	}
	return res
}

type fakeReader struct {
	res messaging.CheckResult
}

func (f *fakeReader) Check(ctx context.Context) messaging.CheckResult {
	return f.res
}

func openHistory(t *testing.T) *storage.DB {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSend_RecordsAttemptAndAction(t *testing.T) {
	db := openHistory(t)
	b := New(&fakeSender{success: true}, &fakeReader{}, db, 1, 10)

	res := b.Send(context.Background(), "req-1", "https://www.linkedin.com/in/a/", "Bonjour")
	if !res.Success || res.RequestID != "req-1" {
		t.Fatalf("res = %+v", res)
	}

	attempts, err := db.RecentSendAttempts(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(attempts) != 1 || attempts[0].RequestID != "req-1" || attempts[0].Message != "Bonjour" {
		t.Errorf("attempts = %+v", attempts)
	}
	if n, _ := db.GetActionsToday(storage.ActionMessageSent); n != 1 {
		t.Errorf("actions today = %d", n)
	}
}

func TestSend_FailureIsRecordedWithoutAction(t *testing.T) {
	db := openHistory(t)
	b := New(&fakeSender{}, &fakeReader{}, db, 1, 10)

	res := b.Send(context.Background(), "", "p", "m")
	if res.Success {
		t.Fatal("expected failure")
	}
	attempts, _ := db.RecentSendAttempts(10)
	if len(attempts) != 1 || attempts[0].ErrorKind != string(messaging.KindComposerNotFound) {
		t.Errorf("attempts = %+v", attempts)
	}
	if n, _ := db.GetActionsToday(storage.ActionMessageSent); n != 0 {
		t.Errorf("failed sends must not count against the limit, got %d", n)
	}
}

func TestSend_DailyLimit(t *testing.T) {
	db := openHistory(t)
	sender := &fakeSender{success: true}
	b := New(sender, &fakeReader{}, db, 1, 2)

	for i := 0; i < 2; i++ {
		if res := b.Send(context.Background(), "", "p", "m"); !res.Success {
			t.Fatalf("send %d: %+v", i, res)
		}
	}

	allowed, remaining, err := b.CheckDailyLimit()
	if err != nil {
		t.Fatal(err)
	}
	if allowed || remaining != 0 {
		t.Errorf("allowed=%v remaining=%d", allowed, remaining)
	}

	res := b.Send(context.Background(), "req-3", "p", "m")
	if res.Success || res.ErrorKind != messaging.KindDailyLimit || res.RequestID != "req-3" {
		t.Errorf("res = %+v", res)
	}
	if sender.calls != 2 {
		t.Errorf("sender called %d times", sender.calls)
	}
}

func TestSend_NoLimitWithoutHistory(t *testing.T) {
	b := New(&fakeSender{success: true}, &fakeReader{}, nil, 1, 1)
	for i := 0; i < 3; i++ {
		if res := b.Send(context.Background(), "", "p", "m"); !res.Success {
			t.Fatalf("send %d failed: %+v", i, res)
		}
	}
}

func TestSend_RunsAreSerialized(t *testing.T) {
	sender := &fakeSender{success: true, hold: 20 * time.Millisecond}
	b := New(sender, &fakeReader{}, nil, 1, 0)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Send(context.Background(), "", "p", "m")
		}()
	}
	wg.Wait()

	if sender.peak != 1 {
		t.Errorf("peak concurrency = %d, want 1", sender.peak)
	}
	if sender.calls != 4 {
		t.Errorf("calls = %d", sender.calls)
	}
}

func TestSend_CancelledWhileWaiting(t *testing.T) {
	sender := &fakeSender{success: true, hold: 200 * time.Millisecond}
	b := New(sender, &fakeReader{}, nil, 1, 0)

	go b.Send(context.Background(), "", "p", "m")
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	res := b.Send(ctx, "", "p", "m")
	if res.Success || res.ErrorKind != messaging.KindAutomation {
		t.Errorf("res = %+v", res)
	}
}

func TestCheck_RecordsAndReturnsFresh(t *testing.T) {
	db := openHistory(t)
	now := time.Now()
	reader := &fakeReader{res: messaging.CheckResult{
		Success: true,
		Count:   2,
		Messages: []messaging.Summary{
			{Name: "Jean", Message: "Bonjour", ProfileURL: "https://www.linkedin.com/in/jean/", Timestamp: now},
			{Name: "Marie", Message: "Merci", ProfileURL: "https://www.linkedin.com/in/marie/", Timestamp: now},
		},
	}}
	b := New(&fakeSender{}, reader, db, 1, 0)

	res, fresh := b.Check(context.Background())
	if !res.Success || len(fresh) != 2 {
		t.Fatalf("res=%+v fresh=%d", res, len(fresh))
	}

	res, fresh = b.Check(context.Background())
	if res.Count != 2 {
		t.Errorf("result must still report every unread conversation, got %d", res.Count)
	}
	if len(fresh) != 0 {
		t.Errorf("already seen messages returned as fresh: %+v", fresh)
	}
}

type sleepRecorder struct {
	waits []time.Duration
	err   error
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.waits = append(s.waits, d)
	return s.err
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestSend_HourlyLimit(t *testing.T) {
	db := openHistory(t)
	sender := &fakeSender{success: true}
	b := New(sender, &fakeReader{}, db, 1, 0)
	b.SetPacing(Pacing{HourlyLimit: 2})

	for i := 0; i < 2; i++ {
		if res := b.Send(context.Background(), "", "p", "m"); !res.Success {
			t.Fatalf("send %d: %+v", i, res)
		}
	}

	res := b.Send(context.Background(), "req-3", "p", "m")
	if res.Success || res.ErrorKind != messaging.KindHourlyLimit {
		t.Errorf("res = %+v", res)
	}
	if sender.calls != 2 {
		t.Errorf("sender called %d times", sender.calls)
	}
	if !messaging.IsRefusal(b.Admit()) {
		t.Error("Admit should refuse once the hour is full")
	}
}

func TestSend_OutsideBusinessHours(t *testing.T) {
	sender := &fakeSender{success: true}
	b := New(sender, &fakeReader{}, nil, 1, 0)
	b.SetPacing(Pacing{Hours: &stealth.BusinessHours{Start: 9, End: 18}})
	b.now = fixedClock(time.Date(2024, 3, 4, 20, 0, 0, 0, time.UTC))

	res := b.Send(context.Background(), "", "p", "m")
	if res.Success || res.ErrorKind != messaging.KindOutsideHours {
		t.Fatalf("res = %+v", res)
	}
	if !strings.Contains(res.Error, "reprise dans 13h0m0s") {
		t.Errorf("error = %q", res.Error)
	}
	if sender.calls != 0 {
		t.Error("sender called outside business hours")
	}

	b.now = fixedClock(time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC))
	if res := b.Send(context.Background(), "", "p", "m"); !res.Success {
		t.Errorf("send within hours failed: %+v", res)
	}
}

func TestSend_CooldownBetweenSends(t *testing.T) {
	db := openHistory(t)
	sender := &fakeSender{success: true}
	b := New(sender, &fakeReader{}, db, 1, 0)
	b.SetPacing(Pacing{Cooldown: true, Pacer: stealth.NewPacerWith(rand.NewSource(9), func(time.Duration) {})})
	b.now = fixedClock(time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC))
	rec := &sleepRecorder{}
	b.sleep = rec.sleep

	// same seed, same draws
	twin := stealth.NewPacerWith(rand.NewSource(9), func(time.Duration) {})
	want := twin.CooldownDuration(1)

	for i := 0; i < 2; i++ {
		if res := b.Send(context.Background(), "", "p", "m"); !res.Success {
			t.Fatalf("send %d: %+v", i, res)
		}
	}

	if len(rec.waits) != 1 || rec.waits[0] != want {
		t.Fatalf("waits = %v, want [%v]", rec.waits, want)
	}
	if want < 2*time.Minute || want >= 4*time.Minute {
		t.Errorf("cooldown %v out of range", want)
	}
}

func TestSend_CooldownInterrupted(t *testing.T) {
	sender := &fakeSender{success: true}
	b := New(sender, &fakeReader{}, nil, 1, 0)
	b.SetPacing(Pacing{Cooldown: true, Pacer: stealth.NewPacerWith(rand.NewSource(1), func(time.Duration) {})})
	b.now = fixedClock(time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC))
	b.sleep = (&sleepRecorder{err: context.Canceled}).sleep

	b.Send(context.Background(), "", "p", "m")
	res := b.Send(context.Background(), "", "p", "m")
	if res.Success || res.ErrorKind != messaging.KindAutomation {
		t.Errorf("res = %+v", res)
	}
	if sender.calls != 1 {
		t.Errorf("sender called %d times, want 1", sender.calls)
	}
}

func TestSend_BreakAfterTwentyFiveSends(t *testing.T) {
	db := openHistory(t)
	for i := 0; i < 24; i++ {
		if err := db.RecordAction(storage.ActionMessageSent); err != nil {
			t.Fatal(err)
		}
	}

	b := New(&fakeSender{success: true}, &fakeReader{}, db, 1, 0)
	b.SetPacing(Pacing{Breaks: true, Pacer: stealth.NewPacerWith(rand.NewSource(11), func(time.Duration) {})})
	now := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	b.now = fixedClock(now)

	twin := stealth.NewPacerWith(rand.NewSource(11), func(time.Duration) {})
	var want time.Time
	if twin.ShouldTakeBreak(25) {
		want = now.Add(twin.BreakDuration())
	}

	if res := b.Send(context.Background(), "", "p", "m"); !res.Success {
		t.Fatalf("res = %+v", res)
	}
	if !b.nextSend.Equal(want) {
		t.Errorf("next send at %v, want %v", b.nextSend, want)
	}
}

func TestSend_NoPacingNoWait(t *testing.T) {
	b := New(&fakeSender{success: true}, &fakeReader{}, nil, 1, 0)
	rec := &sleepRecorder{}
	b.sleep = rec.sleep

	for i := 0; i < 3; i++ {
		b.Send(context.Background(), "", "p", "m")
	}
	if len(rec.waits) != 0 {
		t.Errorf("unexpected waits %v", rec.waits)
	}
}
