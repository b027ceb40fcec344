package collateral

import (
	"math"
	"time"
)

// Status classifies a collateral token's health.
type Status int

const (
	// StatusSound means the token is fit for the backing basket.
	StatusSound Status = iota
	// StatusIffy means a soft-default condition is in effect; unless it
	// clears before the scheduled deadline the token becomes disabled.
	StatusIffy
	// StatusDisabled is terminal. No sequence of refreshes reverses it.
	StatusDisabled
)

func (s Status) String() string {
	switch s {
	case StatusSound:
		return "SOUND"
	case StatusIffy:
		return "IFFY"
	case StatusDisabled:
		return "DISABLED"
	default:
		return "UNKNOWN"
	}
}

// neverDefault is the whenDefault sentinel for a sound collateral.
const neverDefault int64 = math.MaxInt64

// statusAt derives the status from the stored default deadline and the
// current time. Status is never cached separately; it cannot drift out of
// sync with the timestamp.
func statusAt(whenDefault int64, now time.Time) Status {
	switch {
	case whenDefault == neverDefault:
		return StatusSound
	case whenDefault > now.Unix():
		return StatusIffy
	default:
		return StatusDisabled
	}
}
