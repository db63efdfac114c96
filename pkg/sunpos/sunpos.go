// Package sunpos computes an approximate apparent position of the sun.
//
// The ephemeris is a low precision one, good for years 1901 to 2099.
package sunpos

import (
	"math"
	"time"
)

// Position returns azimuth in [0,360) and refraction corrected elevation,
// both in degrees, as seen from latitude/longitude (degrees) at time t.
func Position(t time.Time, latitude, longitude float32) (azimuth, elevation float64) {
	t = t.UTC()
	year := float64(t.Year())
	month := float64(t.Month())
	day := float64(t.Day())
	greenwichTime := float64(t.Hour()) + float64(t.Minute())/60 + float64(t.Second())/3600

	rlat := degToRad(float64(latitude))
	rlon := degToRad(float64(longitude))

	dayNum := DaysSinceJ2000(year, month, day, greenwichTime)

	meanLong := dayNum*0.01720279239 + 4.894967873
	meanAnom := dayNum*0.01720197034 + 6.240040768

	eclipLong := meanLong +
		0.03342305518*math.Sin(meanAnom) +
		0.0003490658504*math.Sin(2*meanAnom)

	obliquity := 0.4090877234 - 6.981317008e-9*dayNum

	rasc := math.Atan2(math.Cos(obliquity)*math.Sin(eclipLong), math.Cos(eclipLong))
	decl := math.Asin(math.Sin(obliquity) * math.Sin(eclipLong))

	sidereal := 4.894961213 + 6.300388099*dayNum + rlon
	hourAng := sidereal - rasc

	elev := math.Asin(math.Sin(decl)*math.Sin(rlat) + math.Cos(decl)*math.Cos(rlat)*math.Cos(hourAng))
	azim := math.Atan2(
		-math.Cos(decl)*math.Cos(rlat)*math.Sin(hourAng),
		math.Sin(decl)-math.Sin(rlat)*math.Sin(elev),
	)

	azimuth = WrapRange(radToDeg(azim), 0, 360)
	elevation = Refract(WrapRange(radToDeg(elev), -180, 180))
	return azimuth, elevation
}

// DaysSinceJ2000 is the civil to julian day approximation used by Position.
func DaysSinceJ2000(year, month, day, greenwichTime float64) float64 {
	return 367*year -
		7*math.Floor((year+math.Floor((month+9)/12))/4) +
		math.Floor(275*month/9) +
		day -
		730531.5 +
		greenwichTime/24
}

// Refract applies the empirical atmospheric refraction correction to a
// geometric elevation in degrees. The correction is singular at -5.11°;
// when it does not produce a finite value the elevation is returned as is.
func Refract(elevation float64) float64 {
	target := degToRad(elevation + 10.3/(elevation+5.11))
	corrected := elevation + (1.02/math.Tan(target))/60
	if math.IsNaN(corrected) || math.IsInf(corrected, 0) {
		return elevation
	}
	return corrected
}

// WrapRange maps x into [min, max) with a floored modulo.
func WrapRange(x, min, max float64) float64 {
	delta := max - min
	r := math.Mod(x-min, delta)
	if r < 0 {
		r += delta
	}
	if r >= delta {
		// r was a tiny negative number swallowed by the addition
		r = 0
	}
	return r + min
}

func degToRad(d float64) float64 {
	return d * math.Pi / 180
}

func radToDeg(r float64) float64 {
	return r * 180 / math.Pi
}
