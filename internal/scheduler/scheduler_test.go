package scheduler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
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

type fakeChecker struct {
	res   messaging.CheckResult
	fresh []storage.InboxMessage
	calls int
}

func (f *fakeChecker) Check(ctx context.Context) (messaging.CheckResult, []storage.InboxMessage) {
	f.calls++
	return f.res, f.fresh
}

func TestNew_InvalidSchedule(t *testing.T) {
	if _, err := New("not a cron", &fakeChecker{}, "", time.Second); err == nil {
		t.Fatal("expected error for invalid schedule")
	}
}

func TestRunOnce_PostsFreshMessages(t *testing.T) {
	got := make(chan Event, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ev Event
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			t.Errorf("decode: %v", err)
		}
		got <- ev
	}))
	defer srv.Close()

	checker := &fakeChecker{
		res:   messaging.CheckResult{Success: true, Count: 3},
		fresh: []storage.InboxMessage{{Name: "Jean", ProfileURL: "https://www.linkedin.com/in/jean/", Message: "Bonjour"}},
	}
	p, err := New("*/30 9-18 * * 1-5", checker, srv.URL, time.Second)
	if err != nil {
		t.Fatal(err)
	}

	n, err := p.RunOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("fresh = %d", n)
	}

	select {
	case ev := <-got:
		if ev.Event != "inbox.unread" || ev.Count != 1 || ev.Messages[0].Name != "Jean" {
			t.Errorf("event = %+v", ev)
		}
	default:
		t.Fatal("webhook not called")
	}
}

func TestRunOnce_NothingNewSkipsWebhook(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	p, err := New("@every 1h", &fakeChecker{res: messaging.CheckResult{Success: true, Count: 2}}, srv.URL, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if called {
		t.Error("webhook called with nothing new")
	}
}

func TestRunOnce_CheckFailure(t *testing.T) {
	checker := &fakeChecker{res: messaging.CheckResult{Error: "session LinkedIn expirée ou invalide", ErrorKind: messaging.KindSessionExpired}}
	p, err := New("@every 1h", checker, "", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.RunOnce(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestStartStop(t *testing.T) {
	p, err := New("@every 1h", &fakeChecker{res: messaging.CheckResult{Success: true}}, "", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	p.Start()
	p.Stop()
}

func TestTick_SkipsOutsideBusinessHours(t *testing.T) {
	checker := &fakeChecker{res: messaging.CheckResult{Success: true}}
	p, err := New("@every 1h", checker, "", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	p.SetWindow(stealth.BusinessHours{Start: 9, End: 18, WorkDays: []string{"Monday"}})

	// 2024-03-04 is a Monday.
	p.now = func() time.Time { return time.Date(2024, 3, 4, 20, 0, 0, 0, time.UTC) }
	p.tick()
	if checker.calls != 0 {
		t.Fatalf("checked outside business hours")
	}

	p.now = func() time.Time { return time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC) }
	p.tick()
	if checker.calls != 1 {
		t.Errorf("calls = %d, want 1", checker.calls)
	}

	// a manual run is not gated
	p.now = func() time.Time { return time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC) }
	if _, err := p.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if checker.calls != 2 {
		t.Errorf("calls = %d, want 2", checker.calls)
	}
}
