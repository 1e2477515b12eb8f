// Package cooldown implements the vote eligibility policy and the local-first
// cooldown marker persistence backing it.
package cooldown

import "time"

// Period is the mandatory waiting time between votes on the same item by the
// same user. Eligibility is computed at whole-day granularity.
const Period = 7 * 24 * time.Hour

const day = 24 * time.Hour

// Eligible reports whether a user may vote given their last vote timestamp.
// A zero lastVoteAt means no prior vote. Elapsed whole days must reach 7:
// 6 days 23 hours is still ineligible, exactly 7 days is eligible.
func Eligible(lastVoteAt, now time.Time) bool {
	if lastVoteAt.IsZero() {
		return true
	}
	elapsedDays := now.Sub(lastVoteAt) / day
	return elapsedDays >= 7
}

// Remaining returns the time left until the user becomes eligible again.
// Zero when already eligible.
func Remaining(lastVoteAt, now time.Time) time.Duration {
	if lastVoteAt.IsZero() {
		return 0
	}
	left := Period - now.Sub(lastVoteAt)
	if left < 0 {
		return 0
	}
	return left
}
