package identity

import (
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// AttemptWindow is the period failed logins are counted in. A failure older
// than the window no longer counts towards the throttle.
type AttemptWindow struct {
	Period time.Duration
}

// ParseAttemptWindow parses a duration such as "24h".
func ParseAttemptWindow(pattern string) (AttemptWindow, error) {
	period, err := time.ParseDuration(pattern)
	if err != nil {
		return AttemptWindow{}, goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid login cool down period").
			WithMetadata(map[string]any{"cool_down": pattern})
	}
	if period <= 0 {
		return AttemptWindow{}, goerrors.New("login cool down period must be positive", goerrors.CategoryBadInput).
			WithMetadata(map[string]any{"cool_down": pattern})
	}
	return AttemptWindow{Period: period}, nil
}

// Counts reports whether a failure recorded at last still counts at now.
func (w AttemptWindow) Counts(now, last time.Time) bool {
	return last.After(now.Add(-w.Period))
}

// ResetAt is when a failure recorded at last stops counting.
func (w AttemptWindow) ResetAt(last time.Time) time.Time {
	return last.Add(w.Period)
}

// Effective returns the failures that still count at now.
func (w AttemptWindow) Effective(now time.Time, attempts int, last *time.Time) int {
	if attempts == 0 || last == nil {
		return attempts
	}
	if !w.Counts(now, *last) {
		return 0
	}
	return attempts
}
