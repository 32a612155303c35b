package catalog

import "math"

const (
	// GaiaEpochJD is the Julian date of the Gaia mission time origin,
	// J2010.0 TCB.
	GaiaEpochJD = 2455197.5

	// UnixEpochJD is the Julian date of 1970-01-01T00:00:00.
	UnixEpochJD = 2440587.5

	msPerDay = 86400000
)

// Epoch converts mission-relative day offsets to timestamps and Julian
// dates.
type Epoch struct {
	MissionJD float64
}

// DefaultEpoch is the Gaia mission epoch.
var DefaultEpoch = Epoch{MissionJD: GaiaEpochJD}

// Timestamp returns the millisecond Unix timestamp of the instant days after
// the mission origin. The result is truncated toward zero.
func (e Epoch) Timestamp(days float64) int64 {
	return int64(math.Trunc((e.missionJD() + days - UnixEpochJD) * msPerDay))
}

// JulianDate returns the Julian date of the instant days after the mission
// origin.
func (e Epoch) JulianDate(days float64) float64 {
	return e.missionJD() + days
}

func (e Epoch) missionJD() float64 {
	if e.MissionJD == 0 {
		return GaiaEpochJD
	}
	return e.MissionJD
}
