package selector

import (
	"errors"
	"os"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/yourusername/linkedin-messenger/internal/browser"
	"github.com/yourusername/linkedin-messenger/internal/logger"
)

func TestMain(m *testing.M) {
	logger.SetForTest(zap.NewNop())
	os.Exit(m.Run())
}

type stubElement struct{ name string }

func (stubElement) Click() error                           { return nil }
func (stubElement) Input(string) error                     { return nil }
func (stubElement) Text() (string, error)                  { return "", nil }
func (stubElement) Attribute(string) (string, bool, error) { return "", false, nil }
func (stubElement) Center() (float64, float64, error)      { return 0, 0, nil }

// oracle is a fake visibility oracle. visible holds the selectors that match;
// afterRecover holds the ones that only match once recovered is true.
type oracle struct {
	visible      map[string]bool
	afterRecover map[string]bool
	errors       map[string]bool
	recovered    bool
	calls        []string
	timeouts     []time.Duration
}

func (o *oracle) WaitVisible(sel string, timeout time.Duration) (browser.Element, error) {
	o.calls = append(o.calls, sel)
	o.timeouts = append(o.timeouts, timeout)
	if o.errors[sel] {
		return nil, errors.New("engine failure")
	}
	if o.visible[sel] || (o.recovered && o.afterRecover[sel]) {
		return stubElement{name: sel}, nil
	}
	return nil, errors.New("timed out")
}

func TestFirstVisible_PrefersEarliestCandidate(t *testing.T) {
	o := &oracle{visible: map[string]bool{"b": true, "c": true}}

	m, err := FirstVisible(o, []string{"a", "b", "c"}, 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if m.Selector != "b" || m.Index != 1 || m.Pass != 1 {
		t.Errorf("match = %+v", m)
	}
	if len(o.calls) != 2 {
		t.Errorf("candidates after the winner must not be probed, calls = %v", o.calls)
	}
	for _, d := range o.timeouts {
		if d != 2*time.Second {
			t.Errorf("each candidate gets its own timeout, got %v", d)
		}
	}
}

func TestFirstVisible_OrderDeterminism(t *testing.T) {
	candidates := []string{"s0", "s1", "s2", "s3", "s4"}
	// every subset of visible candidates resolves to the lowest index
	for mask := 1; mask < 1<<len(candidates); mask++ {
		o := &oracle{visible: map[string]bool{}}
		want := -1
		for i, c := range candidates {
			if mask&(1<<i) != 0 {
				o.visible[c] = true
				if want < 0 {
					want = i
				}
			}
		}

		m, err := FirstVisible(o, candidates, time.Millisecond)
		if err != nil {
			t.Fatalf("mask %b: %v", mask, err)
		}
		if m.Index != want {
			t.Fatalf("mask %b: got index %d, want %d", mask, m.Index, want)
		}
	}
}

func TestFirstVisible_ErrorsCountAsMisses(t *testing.T) {
	o := &oracle{
		visible: map[string]bool{"b": true},
		errors:  map[string]bool{"a": true},
	}
	m, err := FirstVisible(o, []string{"a", "b"}, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if m.Selector != "b" {
		t.Errorf("got %q", m.Selector)
	}
}

func TestFirstVisible_NotFound(t *testing.T) {
	o := &oracle{}
	_, err := FirstVisible(o, []string{"a", "b"}, time.Second)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	_, err = FirstVisible(o, nil, time.Second)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("empty list: expected ErrNotFound, got %v", err)
	}
}

func TestFirstVisibleWithRetry_DirectHitSkipsRecovery(t *testing.T) {
	o := &oracle{visible: map[string]bool{"a": true}}
	recovered := 0

	m, err := FirstVisibleWithRetry(o, []string{"a"}, time.Second, func() error {
		recovered++
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if recovered != 0 || m.Pass != 1 {
		t.Errorf("recovered=%d pass=%d", recovered, m.Pass)
	}
}

func TestFirstVisibleWithRetry_SecondPass(t *testing.T) {
	o := &oracle{afterRecover: map[string]bool{"c": true, "b": true}}
	recovered := 0

	m, err := FirstVisibleWithRetry(o, []string{"a", "b", "c"}, time.Second, func() error {
		recovered++
		o.recovered = true
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if recovered != 1 {
		t.Errorf("recovery should run once, ran %d", recovered)
	}
	if m.Selector != "b" || m.Pass != 2 {
		t.Errorf("match = %+v", m)
	}
	want := []string{"a", "b", "c", "a", "b"}
	if len(o.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", o.calls, want)
	}
	for i := range want {
		if o.calls[i] != want[i] {
			t.Fatalf("calls = %v, want %v", o.calls, want)
		}
	}
}

func TestFirstVisibleWithRetry_NotFound(t *testing.T) {
	o := &oracle{}
	recovered := 0

	_, err := FirstVisibleWithRetry(o, []string{"a", "b"}, time.Second, func() error {
		recovered++
		return errors.New("scroll failed")
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if recovered != 1 {
		t.Errorf("recovery should run exactly once, ran %d", recovered)
	}
	if len(o.calls) != 4 {
		t.Errorf("expected two full passes, calls = %v", o.calls)
	}
}
