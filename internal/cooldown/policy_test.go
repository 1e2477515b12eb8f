package cooldown

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEligible(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		lastVoteAt time.Time
		now        time.Time
		want       bool
	}{
		{
			name:       "never voted",
			lastVoteAt: time.Time{},
			now:        base,
			want:       true,
		},
		{
			name:       "immediately after voting",
			lastVoteAt: base,
			now:        base,
			want:       false,
		},
		{
			name:       "six days later",
			lastVoteAt: base,
			now:        base.Add(6 * 24 * time.Hour),
			want:       false,
		},
		{
			name:       "one minute short of seven days",
			lastVoteAt: base,
			now:        base.Add(7*24*time.Hour - time.Minute),
			want:       false,
		},
		{
			name:       "exactly seven days",
			lastVoteAt: base,
			now:        base.Add(7 * 24 * time.Hour),
			want:       true,
		},
		{
			name:       "well past the window",
			lastVoteAt: base,
			now:        base.Add(30 * 24 * time.Hour),
			want:       true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Eligible(tt.lastVoteAt, tt.now))
		})
	}
}

func TestRemaining(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, time.Duration(0), Remaining(time.Time{}, base), "never voted")
	assert.Equal(t, Period, Remaining(base, base), "full window right after voting")
	assert.Equal(t, time.Hour, Remaining(base, base.Add(Period-time.Hour)))
	assert.Equal(t, time.Duration(0), Remaining(base, base.Add(Period)))
	assert.Equal(t, time.Duration(0), Remaining(base, base.Add(2*Period)), "never negative")
}
