// Package backoff implements the counter-based gate that paces submission
// attempts. The gate is independent of wall-clock time: it counts checks,
// allowing a request only when the running check count is a perfect
// square, which spaces consecutive allowed attempts quadratically.
package backoff

// MaxAttempts is the number of allowed (non-skipped) attempts before the
// strategy gives up on the current submission episode.
const MaxAttempts = 3

// Strategy gates submission attempts for one submission episode. It is a
// pure state machine; the caller drives it from its own serial context,
// so no locking happens here.
type Strategy struct {
	cycleCount   int
	attemptCount int
	submitting   bool
}

// New returns a zeroed Strategy.
func New() *Strategy {
	return &Strategy{}
}

// ShouldSkipRequest records one gate check and reports whether the caller
// must skip this attempt. A check is allowed exactly when the running
// cycle count is a perfect square (1, 4, 9, 16, ...). Allowed checks
// consume one attempt.
func (s *Strategy) ShouldSkipRequest() bool {
	s.cycleCount++
	if !isPerfectSquare(s.cycleCount) {
		s.submitting = false
		return true
	}
	s.attemptCount++
	return false
}

// IsRequestLimitReached reports whether the attempt cap has been reached.
// When it has, all counters reset and the caller must drop the pending
// state for this episode rather than retry indefinitely.
func (s *Strategy) IsRequestLimitReached() bool {
	if s.attemptCount >= MaxAttempts {
		s.Reset()
		return true
	}
	return false
}

// OnSuccess resets the strategy after a confirmed submission. The
// strategy exists per submission episode, so both counters reset.
func (s *Strategy) OnSuccess() {
	s.Reset()
}

// Reset returns the strategy to its initial state.
func (s *Strategy) Reset() {
	s.cycleCount = 0
	s.attemptCount = 0
	s.submitting = false
}

// MarkSubmitting records that a request is in flight.
func (s *Strategy) MarkSubmitting(inFlight bool) {
	s.submitting = inFlight
}

// Submitting reports whether a request is currently in flight.
func (s *Strategy) Submitting() bool {
	return s.submitting
}

// AttemptCount exposes the number of allowed attempts this episode.
func (s *Strategy) AttemptCount() int {
	return s.attemptCount
}

// CycleCount exposes the number of gate checks this episode.
func (s *Strategy) CycleCount() int {
	return s.cycleCount
}

// isPerfectSquare tests n via integer square root; the formula is an
// exact contract, so no floating point is involved.
func isPerfectSquare(n int) bool {
	if n < 0 {
		return false
	}
	root := 0
	for (root+1)*(root+1) <= n {
		root++
	}
	return root*root == n
}
