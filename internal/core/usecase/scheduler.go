package usecase

import (
	"time"

	"github.com/atvirokodosprendimai/surveysync/internal/core/ports"
)

// WallClock is the production scheduler backed by time.AfterFunc.
type WallClock struct{}

var _ ports.Scheduler = WallClock{}

func (WallClock) Now() time.Time {
	return time.Now().UTC()
}

func (WallClock) AfterFunc(d time.Duration, fn func()) func() bool {
	return time.AfterFunc(d, fn).Stop
}
