package balancer

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kbukum/meshgate/discovery"
)

type staticSource map[string][]discovery.ServiceInstance

func (s staticSource) Get(name string) []discovery.ServiceInstance { return s[name] }

func instances(ids ...string) []discovery.ServiceInstance {
	out := make([]discovery.ServiceInstance, len(ids))
	for i, id := range ids {
		out[i] = discovery.ServiceInstance{ID: id, Name: "orders", Address: "10.0.0." + fmt.Sprint(i+1), Port: 80, Healthy: true}
	}
	return out
}

func TestSelectEmpty(t *testing.T) {
	b := New(staticSource{})
	for _, p := range []Policy{RoundRobin, Random, LeastFailed} {
		if _, err := b.Select("orders", p); !errors.Is(err, ErrNoHealthyInstances) {
			t.Errorf("%s: expected ErrNoHealthyInstances, got %v", p, err)
		}
	}
}

func TestRoundRobinOrder(t *testing.T) {
	b := New(staticSource{"orders": instances("a", "b")})
	var got []string
	for i := 0; i < 4; i++ {
		inst, err := b.Select("orders", RoundRobin)
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, inst.ID)
	}
	if fmt.Sprint(got) != "[a b a b]" {
		t.Errorf("expected [a b a b], got %v", got)
	}
}

func TestRoundRobinFairness(t *testing.T) {
	tests := []struct {
		n, k int
	}{
		{1, 5},
		{2, 7},
		{3, 10},
		{5, 5},
		{4, 1001},
	}
	for _, tc := range tests {
		t.Run(fmt.Sprintf("n=%d,k=%d", tc.n, tc.k), func(t *testing.T) {
			ids := make([]string, tc.n)
			for i := range ids {
				ids[i] = fmt.Sprintf("i%d", i)
			}
			b := New(staticSource{"orders": instances(ids...)})

			counts := make(map[string]int)
			var mu sync.Mutex
			var wg sync.WaitGroup
			for i := 0; i < tc.k; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					inst, err := b.Select("orders", RoundRobin)
					if err != nil {
						t.Error(err)
						return
					}
					mu.Lock()
					counts[inst.ID]++
					mu.Unlock()
				}()
			}
			wg.Wait()

			lo, hi := tc.k/tc.n, (tc.k+tc.n-1)/tc.n
			for _, id := range ids {
				if c := counts[id]; c < lo || c > hi {
					t.Errorf("instance %s selected %d times, expected between %d and %d", id, c, lo, hi)
				}
			}
		})
	}
}

func TestRoundRobinCountersArePerService(t *testing.T) {
	b := New(staticSource{"orders": instances("a", "b"), "billing": instances("x", "y")})
	first, _ := b.Select("orders", RoundRobin)
	other, _ := b.Select("billing", RoundRobin)
	if first.ID != "a" || other.ID != "x" {
		t.Errorf("expected independent counters, got %s and %s", first.ID, other.ID)
	}
}

func TestRandomUsesSource(t *testing.T) {
	b := New(staticSource{"orders": instances("a", "b", "c")}, WithIntN(func(n int) int { return n - 1 }))
	inst, err := b.Select("orders", Random)
	if err != nil {
		t.Fatal(err)
	}
	if inst.ID != "c" {
		t.Errorf("expected c, got %s", inst.ID)
	}
}

func TestLeastFailed(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	b := New(staticSource{"orders": instances("a", "b", "c")}, WithClock(clock), WithFailureWindow(10*time.Second))

	b.MarkFailure("a")
	for i := 0; i < 4; i++ {
		inst, _ := b.Select("orders", LeastFailed)
		if inst.ID == "a" {
			t.Fatal("expected recently failed instance to be skipped")
		}
	}

	now = now.Add(5 * time.Second)
	b.MarkFailure("b")
	b.MarkFailure("c")
	if _, err := b.Select("orders", LeastFailed); !errors.Is(err, ErrNoHealthyInstances) {
		t.Errorf("expected ErrNoHealthyInstances when all failed recently, got %v", err)
	}

	// a's failure leaves the window first.
	now = now.Add(6 * time.Second)
	for i := 0; i < 3; i++ {
		inst, err := b.Select("orders", LeastFailed)
		if err != nil {
			t.Fatal(err)
		}
		if inst.ID != "a" {
			t.Errorf("expected a (failure expired), got %s", inst.ID)
		}
	}

	b.MarkSuccess("b")
	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		inst, _ := b.Select("orders", LeastFailed)
		seen[inst.ID] = true
	}
	if !seen["a"] || !seen["b"] {
		t.Errorf("expected a and b in rotation, got %v", seen)
	}
}

func TestLeastFailed_ReturnsToRotationAfterWindow(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := New(staticSource{"orders": instances("a", "b")}, WithClock(func() time.Time { return now }))

	b.MarkFailure("a")
	now = now.Add(time.Hour)

	counts := map[string]int{}
	for i := 0; i < 100; i++ {
		inst, err := b.Select("orders", LeastFailed)
		if err != nil {
			t.Fatal(err)
		}
		counts[inst.ID]++
	}
	if counts["a"] != 50 || counts["b"] != 50 {
		t.Errorf("expected an even split once the failure expired, got %v", counts)
	}
}

func TestLeastFailed_WindowPerCall(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := New(staticSource{"orders": instances("a")}, WithClock(func() time.Time { return now }))

	b.MarkFailure("a")
	now = now.Add(45 * time.Second)

	if _, err := b.SelectWithin("orders", LeastFailed, time.Minute); !errors.Is(err, ErrNoHealthyInstances) {
		t.Errorf("expected a to stay out within a one minute window, got %v", err)
	}
	inst, err := b.SelectWithin("orders", LeastFailed, 30*time.Second)
	if err != nil || inst.ID != "a" {
		t.Errorf("expected a back after a 30s window, got %v %v", inst.ID, err)
	}
	if inst, err := b.SelectWithin("orders", LeastFailed, 0); err != nil || inst.ID != "a" {
		t.Errorf("expected the default window to apply for 0, got %v %v", inst.ID, err)
	}
}

func TestMarkFailurePrunesExpired(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := New(staticSource{"orders": instances("a", "b")}, WithClock(func() time.Time { return now }),
		WithFailureWindow(10*time.Second))

	b.MarkFailure("a")
	now = now.Add(time.Minute)
	b.MarkFailure("b")

	b.mu.RLock()
	_, kept := b.failures["a"]
	n := len(b.failures)
	b.mu.RUnlock()
	if kept || n != 1 {
		t.Errorf("expected the expired record of a to be pruned, got %d records", n)
	}
}

func TestPolicyValid(t *testing.T) {
	tests := []struct {
		p    Policy
		want bool
	}{
		{"", true},
		{RoundRobin, true},
		{Random, true},
		{LeastFailed, true},
		{"weighted", false},
	}
	for _, tc := range tests {
		if got := tc.p.Valid(); got != tc.want {
			t.Errorf("Policy(%q).Valid() = %v, expected %v", tc.p, got, tc.want)
		}
	}
}
