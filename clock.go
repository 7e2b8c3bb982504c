package msgrate

import (
	"fmt"
	"time"

	"github.com/beevik/ntp"
	"github.com/parkerroan/msgrate/limiter"
)

// NTPClock queries server once and returns a clock that reads the local clock corrected
// by the measured offset. The local monotonic reading is kept, so elapsed times stay
// monotonic even though the wall time is shifted.
func NTPClock(server string) (limiter.Clock, error) {
	resp, err := ntp.Query(server)
	if err != nil {
		return nil, fmt.Errorf("query ntp server %s: %w", server, err)
	}
	if err := resp.Validate(); err != nil {
		return nil, fmt.Errorf("invalid ntp response from %s: %w", server, err)
	}

	return offsetClock(time.Now, resp.ClockOffset), nil
}

func offsetClock(base limiter.Clock, offset time.Duration) limiter.Clock {
	return func() time.Time {
		return base().Add(offset)
	}
}
