package registry

import (
	"math"
	"testing"
	"time"
)

func TestRenewalWindowCount(t *testing.T) {
	w := newRenewalWindow(time.Minute)
	start := time.Unix(1_700_000_000, 0)

	for i := 0; i < 10; i++ {
		w.Add(start.Add(time.Duration(i) * time.Second))
	}
	if got := w.Count(start.Add(10 * time.Second)); got != 10 {
		t.Errorf("expected 10 renewals, got %d", got)
	}

	// Two minutes later the old buckets no longer count.
	later := start.Add(2 * time.Minute)
	w.Add(later)
	if got := w.Count(later); got != 1 {
		t.Errorf("expected 1 renewal, got %d", got)
	}
}

func TestRenewalWindowReusesBuckets(t *testing.T) {
	w := newRenewalWindow(time.Minute)
	start := time.Unix(1_700_000_000, 0)

	// 3 minutes of one renewal per second wraps the ring several times.
	for i := 0; i < 180; i++ {
		w.Add(start.Add(time.Duration(i) * time.Second))
	}
	got := w.Count(start.Add(179 * time.Second))
	if got < 55 || got > 65 {
		t.Errorf("expected about 60 renewals, got %d", got)
	}
}

func TestExpectedRenewals(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	tests := []struct {
		name       string
		registered time.Time
		lease      time.Duration
		want       float64
	}{
		{"registered long ago", now.Add(-time.Hour), 10 * time.Second, 6},
		{"registered within window", now.Add(-20 * time.Second), 10 * time.Second, 2},
		{"registered now", now, 10 * time.Second, 0},
		{"zero lease", now.Add(-time.Hour), 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := expectedRenewals(now, tt.registered, tt.lease, time.Minute)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestLeasePeriod(t *testing.T) {
	reg := time.Unix(1_700_000_000, 0)
	inst := Instance{RegisteredAt: reg, LeaseDurationSeconds: 30}
	tests := []struct {
		at   time.Duration
		want int64
	}{
		{0, 1},
		{29 * time.Second, 1},
		{30 * time.Second, 2},
		{95 * time.Second, 4},
		{-time.Second, 1},
	}
	for _, tt := range tests {
		if got := inst.leasePeriod(reg.Add(tt.at)); got != tt.want {
			t.Errorf("leasePeriod(+%v) = %d, want %d", tt.at, got, tt.want)
		}
	}
}
