package door

// DefaultAlarmThreshold is the number of consecutive failures that raises an alarm.
const DefaultAlarmThreshold = 5

// FailedAttemptCounter counts consecutive failed authentications.
// It performs no I/O and is not safe for concurrent use; Service guards it.
type FailedAttemptCounter struct {
	count     int
	threshold int
}

// NewFailedAttemptCounter creates a counter. A non-positive threshold
// falls back to DefaultAlarmThreshold.
func NewFailedAttemptCounter(threshold int) *FailedAttemptCounter {
	if threshold <= 0 {
		threshold = DefaultAlarmThreshold
	}
	return &FailedAttemptCounter{threshold: threshold}
}

// RecordAttempt resets the count on success and increments it on failure.
// It returns the new count.
func (c *FailedAttemptCounter) RecordAttempt(success bool) int {
	if success {
		c.count = 0
	} else {
		c.count++
	}
	return c.count
}

// ShouldTriggerAlarm reports whether the count has reached the threshold.
func (c *FailedAttemptCounter) ShouldTriggerAlarm() bool {
	return c.count >= c.threshold
}

// Count returns the current consecutive-failure count.
func (c *FailedAttemptCounter) Count() int { return c.count }

// Threshold returns the alarm threshold.
func (c *FailedAttemptCounter) Threshold() int { return c.threshold }

// Reset sets the count to zero.
func (c *FailedAttemptCounter) Reset() { c.count = 0 }
