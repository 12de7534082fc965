package backoff

import "testing"

func referenceSquares(limit int) map[int]bool {
	squares := make(map[int]bool)
	for n := 1; n*n <= limit; n++ {
		squares[n*n] = true
	}
	return squares
}

func TestShouldSkipRequestAllowsOnlyPerfectSquares(t *testing.T) {
	squares := referenceSquares(100)
	strategy := New()

	allowed := 0
	for cycle := 1; cycle <= 100; cycle++ {
		skipped := strategy.ShouldSkipRequest()
		if squares[cycle] && skipped {
			t.Fatalf("cycle %d is a perfect square but the request was skipped", cycle)
		}
		if !squares[cycle] && !skipped {
			t.Fatalf("cycle %d is not a perfect square but the request was allowed", cycle)
		}
		if !skipped {
			allowed++
		}
		if strategy.AttemptCount() != allowed {
			t.Fatalf("attempt count %d after cycle %d, want %d", strategy.AttemptCount(), cycle, allowed)
		}
	}

	if strategy.CycleCount() != 100 {
		t.Fatalf("cycle count %d, want 100", strategy.CycleCount())
	}
}

func TestRequestLimitResetsAfterCap(t *testing.T) {
	strategy := New()

	attempts := 0
	for cycle := 0; attempts < MaxAttempts; cycle++ {
		if cycle > 20 {
			t.Fatalf("needed more than 20 cycles to reach %d attempts", MaxAttempts)
		}
		if strategy.IsRequestLimitReached() {
			t.Fatalf("limit reached after only %d attempts", attempts)
		}
		if !strategy.ShouldSkipRequest() {
			attempts++
		}
	}

	if !strategy.IsRequestLimitReached() {
		t.Fatalf("expected limit after %d allowed attempts", MaxAttempts)
	}
	if strategy.CycleCount() != 0 || strategy.AttemptCount() != 0 {
		t.Fatalf("expected full reset, got cycles=%d attempts=%d", strategy.CycleCount(), strategy.AttemptCount())
	}
	if strategy.Submitting() {
		t.Fatalf("expected submitting cleared after reset")
	}
}

func TestOnSuccessResetsCounters(t *testing.T) {
	strategy := New()
	strategy.ShouldSkipRequest()
	strategy.ShouldSkipRequest()
	strategy.MarkSubmitting(true)

	strategy.OnSuccess()

	if strategy.CycleCount() != 0 || strategy.AttemptCount() != 0 {
		t.Fatalf("expected counters reset, got cycles=%d attempts=%d", strategy.CycleCount(), strategy.AttemptCount())
	}
	if strategy.Submitting() {
		t.Fatalf("expected submitting cleared")
	}
}

func TestIsPerfectSquare(t *testing.T) {
	tests := []struct {
		value int
		want  bool
	}{
		{value: -4, want: false},
		{value: 0, want: true},
		{value: 1, want: true},
		{value: 2, want: false},
		{value: 3, want: false},
		{value: 4, want: true},
		{value: 9, want: true},
		{value: 15, want: false},
		{value: 16, want: true},
		{value: 24, want: false},
		{value: 25, want: true},
		{value: 10000, want: true},
		{value: 10001, want: false},
	}

	for _, tt := range tests {
		if got := isPerfectSquare(tt.value); got != tt.want {
			t.Fatalf("isPerfectSquare(%d) = %v, want %v", tt.value, got, tt.want)
		}
	}
}
