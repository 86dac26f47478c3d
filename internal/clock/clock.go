package clock

import (
	"time"

	"go.uber.org/fx"
)

// Clock reports the current time. Services take it as a dependency so trial
// expiry and period rollover can be tested.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func System() Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

var Module = fx.Module("clock",
	fx.Provide(System),
)
