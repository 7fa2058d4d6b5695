package ports

import "time"

// Scheduler abstracts wall-clock time so backoff and probing can run on a
// fake clock in tests.
type Scheduler interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) (stop func() bool)
}
