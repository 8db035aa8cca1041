package retry

import (
	"testing"
	"time"
)

func TestDelayGrowsAndCaps(t *testing.T) {
	cfg := Config{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Factor: 2.0}

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second},
		{9, time.Second},
	}
	for _, tc := range cases {
		if got := cfg.delaySampled(tc.attempt, 0); got != tc.want {
			t.Errorf("delay(attempt=%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestDelayJitterSpread(t *testing.T) {
	cfg := Config{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Factor: 2.0, Jitter: true}

	if got := cfg.delaySampled(1, 0); got != 50*time.Millisecond {
		t.Errorf("low sample delay = %v, want 50ms", got)
	}
	if got := cfg.delaySampled(1, 0.5); got != 100*time.Millisecond {
		t.Errorf("mid sample delay = %v, want 100ms", got)
	}
}

func TestDelayClampsAttempt(t *testing.T) {
	cfg := Config{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Factor: 2.0}
	if got := cfg.delaySampled(0, 0); got != 100*time.Millisecond {
		t.Errorf("delay(attempt=0) = %v, want the first-attempt delay", got)
	}
}
