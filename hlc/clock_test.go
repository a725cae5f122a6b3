package hlc

import (
	"sync"
	"testing"
	"time"

	"github.com/maxpert/ripple/notification"
)

func TestClock_Now(t *testing.T) {
	clock := NewClock(1)

	ts1 := clock.Now()
	if ts1.NodeID != 1 {
		t.Errorf("Expected node ID 1, got %d", ts1.NodeID)
	}
	if ts1.WallMS == 0 {
		t.Error("Wall time should not be zero")
	}

	ts2 := clock.Now()
	if ts2.WallMS == ts1.WallMS && ts2.Counter != ts1.Counter+1 {
		t.Errorf("Expected counter %d, got %d", ts1.Counter+1, ts2.Counter)
	}
}

func TestClock_MonotonicLogical(t *testing.T) {
	clock := NewClock(1)

	prev := clock.Now().ToLogical()
	for i := 0; i < 10000; i++ {
		next := clock.Now().ToLogical()
		if next <= prev {
			t.Fatalf("Logical time %d not after %d", next, prev)
		}
		prev = next
	}
}

func TestClock_CounterOverflowBorrowsNextMillisecond(t *testing.T) {
	clock := NewClock(1)
	clock.lastMS = time.Now().UnixMilli() + 60_000 // ahead of physical time
	clock.counter = CounterMask - 1

	a := clock.Now()
	b := clock.Now()
	if Compare(b, a) <= 0 {
		t.Fatalf("Expected %v after %v", b, a)
	}
	if b.WallMS != a.WallMS+1 || b.Counter != 1 {
		t.Errorf("Expected borrow into next millisecond, got %+v", b)
	}
}

func TestClock_Observe(t *testing.T) {
	clock1 := NewClock(1)
	clock2 := NewClock(2)

	// Push clock1 far ahead, then hand its time to clock2
	clock1.lastMS += 60_000
	remote := clock1.Now()
	clock2.Observe(remote.ToLogical())

	local := clock2.Now()
	if local.ToLogical() <= remote.ToLogical() {
		t.Errorf("Expected %d after observed %d", local.ToLogical(), remote.ToLogical())
	}

	// Observing the past changes nothing
	clock2.Observe(1)
	if next := clock2.Now(); Compare(next, local) <= 0 {
		t.Errorf("Clock moved backwards: %v then %v", local, next)
	}
}

func TestLogicalRoundTrip(t *testing.T) {
	ts := Timestamp{WallMS: 1_760_000_000_000, Counter: 513, NodeID: 42}
	v := ts.ToLogical()

	if v > notification.MaxLogical {
		t.Fatalf("Logical time %d exceeds notification range", v)
	}
	if got := FromLogical(v); got != ts {
		t.Errorf("Expected %+v, got %+v", ts, got)
	}
}

func TestNodeIDMasked(t *testing.T) {
	clock := NewClock(64 + 5)
	if ts := clock.Now(); ts.NodeID != 5 {
		t.Errorf("Expected node ID masked to 5, got %d", ts.NodeID)
	}
}

func TestCompare(t *testing.T) {
	base := Timestamp{WallMS: 100, Counter: 5, NodeID: 1}

	tests := []struct {
		name string
		a, b Timestamp
		want int
	}{
		{"equal", base, base, 0},
		{"earlier wall", Timestamp{WallMS: 99, Counter: 9, NodeID: 9}, base, -1},
		{"later counter", Timestamp{WallMS: 100, Counter: 6, NodeID: 0}, base, 1},
		{"node tiebreak", Timestamp{WallMS: 100, Counter: 5, NodeID: 2}, base, 1},
	}
	for _, tc := range tests {
		if got := Compare(tc.a, tc.b); got != tc.want {
			t.Errorf("%s: expected %d, got %d", tc.name, tc.want, got)
		}
	}
}

func TestTimestamp_PhysicalTime(t *testing.T) {
	now := time.Now()
	ts := Timestamp{WallMS: now.UnixMilli()}
	if !ts.PhysicalTime().Equal(time.UnixMilli(now.UnixMilli())) {
		t.Errorf("Unexpected physical time %v", ts.PhysicalTime())
	}
}

func TestClock_ConcurrentAccess(t *testing.T) {
	clock := NewClock(1)

	var mu sync.Mutex
	seen := make(map[uint64]bool)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				v := clock.Now().ToLogical()
				mu.Lock()
				if seen[v] {
					t.Errorf("Duplicate logical time %d", v)
				}
				seen[v] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
}

func BenchmarkClock_Now(b *testing.B) {
	clock := NewClock(1)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		clock.Now()
	}
}
