package clock

import (
	"time"

	"go.uber.org/fx"
)

// Clock abstracts wall-clock time so date arithmetic is testable.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// Today truncates the clock's current time to UTC midnight.
func Today(c Clock) time.Time {
	now := c.Now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

var Module = fx.Module("clock",
	fx.Provide(func() Clock { return SystemClock{} }),
)
