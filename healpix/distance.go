package healpix

import "math"

// AngularDistance returns the great-circle distance in degrees between two
// positions given in degrees, using the spherical law of cosines.
func AngularDistance(ra1, dec1, ra2, dec2 float64) float64 {
	d1 := dec1 * deg2rad
	d2 := dec2 * deg2rad
	dra := (ra2 - ra1) * deg2rad
	c := math.Sin(d1)*math.Sin(d2) + math.Cos(d1)*math.Cos(d2)*math.Cos(dra)
	if c > 1 {
		c = 1
	}
	if c < -1 {
		c = -1
	}
	return math.Acos(c) * rad2deg
}

// NormalizeRA wraps ra into [0, 360).
func NormalizeRA(ra float64) float64 {
	ra = math.Mod(ra, 360)
	if ra < 0 {
		ra += 360
	}
	if ra >= 360 {
		ra = 0
	}
	return ra
}

// ClampDec clamps dec into [-90, 90].
func ClampDec(dec float64) float64 {
	if dec > 90 {
		return 90
	}
	if dec < -90 {
		return -90
	}
	return dec
}
