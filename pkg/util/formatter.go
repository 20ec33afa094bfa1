package util

import (
	"fmt"
	"math"
	"math/cmplx"
	"time"
)

func FormatValueFactor(value float64, unit string) string {
	absValue := math.Abs(value)
	switch {
	case absValue >= 1:
		return fmt.Sprintf("%.3f %s", value, unit)
	case absValue >= 1e-3:
		return fmt.Sprintf("%.3f m%s", value*1e3, unit)
	case absValue >= 1e-6:
		return fmt.Sprintf("%.3f u%s", value*1e6, unit)
	case absValue >= 1e-9:
		return fmt.Sprintf("%.3f n%s", value*1e9, unit)
	case absValue >= 1e-12:
		return fmt.Sprintf("%.3f p%s", value*1e12, unit)
	default:
		return fmt.Sprintf("%.3e %s", value, unit)
	}
}

func FormatDuration(d time.Duration) string {
	return FormatValueFactor(d.Seconds(), "s")
}

func FormatMagnitude(value float64) string {
	if math.Abs(value) >= 1000 || (math.Abs(value) < 0.001 && value != 0) {
		return fmt.Sprintf("%9.2e", value) // "1.00e+03" or "5.43e-05"
	}
	return fmt.Sprintf("%9.6f", value) // " 0.977124"
}

// FormatPhase prints an angle in degrees.
func FormatPhase(value float64) string {
	return fmt.Sprintf("%8.3f", value) // "-120.000"
}

func Degrees(v complex128) float64 {
	return cmplx.Phase(v) * 180.0 / math.Pi
}

// FormatPolar prints v as magnitude<angle in degrees.
func FormatPolar(v complex128) string {
	return fmt.Sprintf("%s<%sdeg", FormatMagnitude(cmplx.Abs(v)), FormatPhase(Degrees(v)))
}

func FormatComplex(v complex128) string {
	return fmt.Sprintf("%+.6f%+.6fj", real(v), imag(v))
}
