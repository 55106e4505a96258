package core

import "time"

// Bucket holds the window state for a single identity.
// It is a plain value; callers serialize access to it.
type Bucket struct {
	WindowStart time.Time
	WindowEnd   time.Time
	Count       int
	Credits     int
}

// AdvanceWithinWindow counts one more request against the hard limit.
// The caller has already checked Count < MaxRequests.
func (b *Bucket) AdvanceWithinWindow() {
	b.Count++
}

// ConsumeCredit spends one unit of the soft overflow allowance.
// The caller has already checked Credits > 0.
func (b *Bucket) ConsumeCredit() {
	b.Credits--
}

// ResetForNewWindow starts a fresh window. The request that triggered the
// reset is counted, and credits are refilled in full.
func (b *Bucket) ResetForNewWindow(start, end time.Time, maxCredits int) {
	b.WindowStart = start
	b.WindowEnd = end
	b.Count = 1
	b.Credits = maxCredits
}

// Expired reports whether the window has fully elapsed at now
func (b *Bucket) Expired(now time.Time) bool {
	return !now.Before(b.WindowEnd)
}

// FixedWindow implements the count plus credit fixed window algorithm
type FixedWindow struct {
	policy Policy
}

// NewFixedWindow creates the algorithm for the given policy
func NewFixedWindow(policy Policy) *FixedWindow {
	return &FixedWindow{policy: policy}
}

// Policy returns the policy the algorithm enforces
func (fw *FixedWindow) Policy() Policy {
	return fw.policy
}

// Open initializes a bucket that did not exist yet. The first request of a
// window is always admitted.
func (fw *FixedWindow) Open(b *Bucket, now time.Time) CheckResult {
	b.ResetForNewWindow(now, now.Add(fw.policy.Window), fw.policy.MaxCredits)
	return fw.result(b, true, TierWindowOpened, now)
}

// Check applies one request to an existing bucket and returns the verdict.
// A denied request leaves the bucket untouched.
func (fw *FixedWindow) Check(b *Bucket, now time.Time) CheckResult {
	// Window elapsed: roll over regardless of previous state
	if b.Expired(now) {
		return fw.Open(b, now)
	}

	if b.Count < fw.policy.MaxRequests {
		b.AdvanceWithinWindow()
		return fw.result(b, true, TierCount, now)
	}

	if b.Credits > 0 {
		b.ConsumeCredit()
		return fw.result(b, true, TierCredit, now)
	}

	return fw.result(b, false, TierDenied, now)
}

func (fw *FixedWindow) result(b *Bucket, allowed bool, tier Tier, now time.Time) CheckResult {
	res := CheckResult{
		Allowed:     allowed,
		Tier:        tier,
		Count:       b.Count,
		Credits:     b.Credits,
		WindowStart: b.WindowStart,
		WindowEnd:   b.WindowEnd,
	}
	if !allowed {
		res.RetryAfter = b.WindowEnd.Sub(now)
	}
	return res
}
